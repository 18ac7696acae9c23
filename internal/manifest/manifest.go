// Package manifest reads YAML lists of published files.
//
//	base: https://opendata.example.org/files
//	datasets:
//	  - type: REFERENCE
//	    period: 2024-03
//	    location: lek-2024-03.csv
//	  - type: DISTRIBUTION_MONTHLY
//	    from: 2024-01
//	    to: 2024-03
//	    location: dis-{PERIOD}.csv
//
// Range entries expand to one descriptor per month (or year), with {PERIOD},
// {YYYY} and {MM} substituted in the location.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/sukl/internal/core"
)

// maxExpansion bounds a single range entry.
const maxExpansion = 1200

// Manifest is the YAML document.
type Manifest struct {
	Base     string  `yaml:"base"`
	Datasets []Entry `yaml:"datasets"`
}

// Entry is one dataset line. Either Period or From/To is set.
type Entry struct {
	Type     string `yaml:"type"`
	Period   string `yaml:"period,omitempty"`
	From     string `yaml:"from,omitempty"`
	To       string `yaml:"to,omitempty"`
	Location string `yaml:"location"`
}

// Parse decodes a manifest and expands it into descriptors.
func Parse(data []byte) ([]core.Descriptor, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return m.Descriptors()
}

// Load reads and parses the manifest at path. Relative file locations
// resolve against the manifest's directory unless base is set.
func Load(path string) ([]core.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.Base == "" {
		m.Base = filepath.Dir(path)
	}
	return m.Descriptors()
}

// Loader adapts Load to core.ScheduleConfig.Load. The file is re-read on
// every call so edits are picked up by the next cycle.
func Loader(path string) func(ctx context.Context) ([]core.Descriptor, error) {
	return func(ctx context.Context) ([]core.Descriptor, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Load(path)
	}
}

// Descriptors validates and expands every entry. All entry errors are
// reported together.
func (m Manifest) Descriptors() ([]core.Descriptor, error) {
	var out []core.Descriptor
	var errs []error

	for i, e := range m.Datasets {
		ds, err := e.expand()
		if err != nil {
			errs = append(errs, fmt.Errorf("dataset %d: %w", i+1, err))
			continue
		}
		for _, d := range ds {
			d.Location = join(m.Base, d.Location)
			out = append(out, d)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (e Entry) expand() ([]core.Descriptor, error) {
	t, err := core.ParseDatasetType(e.Type)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(e.Location) == "" {
		return nil, errors.New("location is required")
	}

	if e.Period != "" {
		if e.From != "" || e.To != "" {
			return nil, errors.New("use either period or from/to")
		}
		p, err := core.ParsePeriod(e.Period)
		if err != nil {
			return nil, err
		}
		return []core.Descriptor{{Type: t, Period: p, Location: substitute(e.Location, p)}}, nil
	}

	if e.From == "" || e.To == "" {
		return nil, errors.New("period or from/to is required")
	}
	from, err := core.ParsePeriod(e.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := core.ParsePeriod(e.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if from.IsYearly() != to.IsYearly() {
		return nil, errors.New("from and to must have the same granularity")
	}
	if to.Before(from) {
		return nil, fmt.Errorf("from %s is after to %s", from, to)
	}

	var out []core.Descriptor
	for p := from; !to.Before(p); p = next(p) {
		if len(out) == maxExpansion {
			return nil, fmt.Errorf("range %s..%s expands to more than %d periods", from, to, maxExpansion)
		}
		out = append(out, core.Descriptor{Type: t, Period: p, Location: substitute(e.Location, p)})
	}
	return out, nil
}

func next(p core.Period) core.Period {
	if p.IsYearly() {
		return core.YearlyPeriod(p.Year + 1)
	}
	if p.Month == 12 {
		return core.MonthlyPeriod(p.Year+1, 1)
	}
	return core.MonthlyPeriod(p.Year, p.Month+1)
}

func substitute(location string, p core.Period) string {
	month := ""
	if !p.IsYearly() {
		month = fmt.Sprintf("%02d", p.Month)
	}
	r := strings.NewReplacer(
		"{PERIOD}", p.String(),
		"{YYYY}", fmt.Sprintf("%04d", p.Year),
		"{MM}", month,
	)
	return r.Replace(location)
}

// join resolves location against base. Absolute paths and URLs are kept.
func join(base, location string) string {
	if base == "" || strings.Contains(location, "://") || filepath.IsAbs(location) {
		return location
	}
	if strings.Contains(base, "://") {
		return strings.TrimSuffix(base, "/") + "/" + path.Clean(strings.TrimPrefix(location, "/"))
	}
	return filepath.Join(base, location)
}
