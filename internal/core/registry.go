package core

import (
	"fmt"
	"sort"
	"sync"
)

// Fact is one accepted transactional row ready for bulk insert.
// Values must match the order of the definition's FactColumns.
type Fact interface {
	Values() []any
}

// FactMapperFunc binds a row mapper to an immutable reference snapshot and
// the period being imported.
type FactMapperFunc func(lookup ReferenceLookup, p Period) RowMapper[Fact]

// DatasetInfo describes a dataset for listings and logs.
type DatasetInfo struct {
	Type        DatasetType `json:"type"`
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	Charset     string      `json:"charset,omitempty"`   // overrides the configured default
	Delimiter   rune        `json:"delimiter,omitempty"` // overrides the configured default
}

// DatasetDefinition is everything the service needs to process one dataset type.
// Reference datasets set MapReference and Material; transactional datasets set
// MapFact, FactTable and FactColumns.
type DatasetDefinition struct {
	Info    DatasetInfo
	Columns []ColumnSpec

	MapReference RowMapper[IncomingRecord]
	Material     []string

	MapFact     FactMapperFunc
	FactTable   string
	FactColumns []string
}

// IsReference reports whether the definition reconciles a catalog.
func (d DatasetDefinition) IsReference() bool {
	return d.MapReference != nil
}

// ImportOptions returns the definition's overrides on top of defaults.
func (d DatasetDefinition) ImportOptions(defaults ImportOptions) ImportOptions {
	opts := defaults
	if d.Info.Charset != "" {
		opts.Charset = d.Info.Charset
	}
	if d.Info.Delimiter != 0 {
		opts.Delimiter = d.Info.Delimiter
	}
	return opts
}

func (d DatasetDefinition) validate() error {
	t := d.Info.Type
	if !t.Valid() {
		return fmt.Errorf("unknown dataset type %q", t)
	}
	if err := validateSpecs(d.Columns); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	if t.IsReference() {
		if d.MapReference == nil {
			return fmt.Errorf("%s: reference dataset needs MapReference", t)
		}
		return nil
	}
	if d.MapFact == nil || d.FactTable == "" || len(d.FactColumns) == 0 {
		return fmt.Errorf("%s: transactional dataset needs MapFact, FactTable and FactColumns", t)
	}
	return nil
}

var (
	registry   = make(map[DatasetType]DatasetDefinition)
	registryMu sync.RWMutex
)

// Register adds a dataset definition to the registry.
// Panics if the definition is inconsistent or the type is already registered.
func Register(def DatasetDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if err := def.validate(); err != nil {
		panic(fmt.Sprintf("invalid dataset definition: %v", err))
	}
	if _, exists := registry[def.Info.Type]; exists {
		panic(fmt.Sprintf("dataset already registered: %s", def.Info.Type))
	}
	if def.Info.Label == "" {
		def.Info.Label = string(def.Info.Type)
	}

	registry[def.Info.Type] = def
}

// Get returns a dataset definition by type.
func Get(t DatasetType) (DatasetDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[t]
	return def, ok
}

// All returns all registered definitions sorted by type.
func All() []DatasetDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DatasetDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Type < result[j].Info.Type
	})

	return result
}

// DatasetCount returns the number of registered datasets.
func DatasetCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}
