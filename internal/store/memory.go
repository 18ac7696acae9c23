package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sukl/internal/core"
)

// Memory is an in-process core.Store. Period transactions are serialized and
// staged, so a failed callback leaves no trace. It backs dry runs and tests.
type Memory struct {
	txMu sync.Mutex // held for the whole of WithinPeriod

	mu       sync.RWMutex
	periods  []core.ProcessedPeriod
	versions []core.ReferenceEntity
	runs     []core.ImportRun
	failures map[uuid.UUID][]core.RowFailure
	facts    map[string][]core.Fact
}

var _ core.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		failures: make(map[uuid.UUID][]core.RowFailure),
		facts:    make(map[string][]core.Fact),
	}
}

// SeedReference stores entity versions directly, bypassing the ledger.
func (m *Memory) SeedReference(versions []core.ReferenceEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, versions...)
}

// SeedLedger records processed periods directly.
func (m *Memory) SeedLedger(periods ...core.ProcessedPeriod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods = append(m.periods, periods...)
}

// Facts returns the facts stored in table.
func (m *Memory) Facts(table string) []core.Fact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Fact(nil), m.facts[table]...)
}

// Versions returns every stored reference version.
func (m *Memory) Versions() []core.ReferenceEntity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.ReferenceEntity(nil), m.versions...)
}

func (m *Memory) LoadLedger(context.Context) (*core.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return core.NewLedger(m.periods), nil
}

func (m *Memory) LoadReference(context.Context) ([]core.ReferenceEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return latestVersions(m.versions), nil
}

func (m *Memory) WithinPeriod(ctx context.Context, pp core.ProcessedPeriod, fn func(context.Context, core.PeriodTx) error) (bool, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	claimed := core.NewLedger(m.periods).ExistsPeriod(pp.Type, pp.Period)
	m.mu.RUnlock()
	if claimed {
		return false, nil
	}

	tx := &memoryTx{store: m, claim: pp, facts: make(map[string][]core.Fact)}
	if err := fn(ctx, tx); err != nil {
		return true, err
	}
	if err := ctx.Err(); err != nil {
		return true, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods = append(m.periods, pp)
	m.versions = append(m.versions, tx.versions...)
	for table, facts := range tx.facts {
		m.facts[table] = append(m.facts[table], facts...)
	}
	for _, staged := range tx.runs {
		m.runs = append(m.runs, staged.run)
		m.failures[staged.run.ID] = staged.failures
	}
	return true, nil
}

func (m *Memory) RecordRun(_ context.Context, run core.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, filter core.RunFilter) ([]core.ImportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.ImportRun, 0)
	for _, run := range m.runs {
		if filter.Type != "" && run.Type != filter.Type {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Year != 0 && run.Period.Year != filter.Year {
			continue
		}
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RunFailures(_ context.Context, runID uuid.UUID, limit int) ([]core.RowFailure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failures := m.failures[runID]
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	if len(failures) > limit {
		failures = failures[:limit]
	}
	return append([]core.RowFailure{}, failures...), nil
}

type stagedRun struct {
	run      core.ImportRun
	failures []core.RowFailure
}

// memoryTx stages writes until WithinPeriod commits them.
type memoryTx struct {
	store    *Memory
	claim    core.ProcessedPeriod
	versions []core.ReferenceEntity
	facts    map[string][]core.Fact
	runs     []stagedRun
}

func (t *memoryTx) Ledger(context.Context) (*core.Ledger, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	periods := append(append([]core.ProcessedPeriod(nil), t.store.periods...), t.claim)
	return core.NewLedger(periods), nil
}

func (t *memoryTx) LoadReference(context.Context) ([]core.ReferenceEntity, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	all := append(append([]core.ReferenceEntity(nil), t.store.versions...), t.versions...)
	return latestVersions(all), nil
}

func (t *memoryTx) PersistReference(_ context.Context, versions []core.ReferenceEntity) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	seen := make(map[uuid.UUID]map[int]bool)
	for _, v := range append(append([]core.ReferenceEntity(nil), t.store.versions...), t.versions...) {
		if seen[v.StorageID] == nil {
			seen[v.StorageID] = make(map[int]bool)
		}
		seen[v.StorageID][v.Version] = true
	}
	for _, v := range versions {
		if seen[v.StorageID][v.Version] {
			return fmt.Errorf("duplicate key: reference version %s/%d already exists", v.StorageID, v.Version)
		}
	}
	t.versions = append(t.versions, versions...)
	return nil
}

func (t *memoryTx) InsertFacts(_ context.Context, def core.DatasetDefinition, _ uuid.UUID, _ core.Period, facts []core.Fact) (int64, error) {
	for i, f := range facts {
		if n := len(f.Values()); n != len(def.FactColumns) {
			return 0, fmt.Errorf("fact %d has %d values, table %s expects %d", i, n, def.FactTable, len(def.FactColumns))
		}
	}
	t.facts[def.FactTable] = append(t.facts[def.FactTable], facts...)
	return int64(len(facts)), nil
}

func (t *memoryTx) RecordRun(_ context.Context, run core.ImportRun, failures []core.RowFailure) error {
	t.runs = append(t.runs, stagedRun{run: run, failures: append([]core.RowFailure(nil), failures...)})
	return nil
}

// latestVersions keeps the highest version per business key.
func latestVersions(versions []core.ReferenceEntity) []core.ReferenceEntity {
	latest := make(map[core.BusinessKey]core.ReferenceEntity)
	for _, v := range versions {
		if cur, ok := latest[v.Key]; !ok || v.Version > cur.Version {
			latest[v.Key] = v
		}
	}
	out := make([]core.ReferenceEntity, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
