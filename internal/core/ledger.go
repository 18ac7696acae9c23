package core

import (
	"sort"
	"time"
)

type ledgerKey struct {
	t DatasetType
	p Period
}

// Ledger is an in-memory snapshot of processed periods.
// It is immutable once built and safe for concurrent reads.
type Ledger struct {
	entries map[ledgerKey]ProcessedPeriod
	years   map[DatasetType]map[int][]int
}

// NewLedger builds a snapshot from ledger rows. Later duplicates are ignored.
func NewLedger(periods []ProcessedPeriod) *Ledger {
	l := &Ledger{
		entries: make(map[ledgerKey]ProcessedPeriod, len(periods)),
		years:   make(map[DatasetType]map[int][]int),
	}
	for _, pp := range periods {
		key := ledgerKey{pp.Type, pp.Period}
		if _, dup := l.entries[key]; dup {
			continue
		}
		l.entries[key] = pp

		byYear, ok := l.years[pp.Type]
		if !ok {
			byYear = make(map[int][]int)
			l.years[pp.Type] = byYear
		}
		byYear[pp.Period.Year] = append(byYear[pp.Period.Year], pp.Period.Month)
	}
	for _, byYear := range l.years {
		for _, months := range byYear {
			sort.Ints(months)
		}
	}
	return l
}

// ExistsPeriod reports whether (t, p) is recorded.
func (l *Ledger) ExistsPeriod(t DatasetType, p Period) bool {
	_, ok := l.entries[ledgerKey{t, p}]
	return ok
}

// ExistsAny reports whether any period of t is recorded.
func (l *Ledger) ExistsAny(t DatasetType) bool {
	return len(l.years[t]) > 0
}

// PeriodsInYear returns the recorded months of t in year, ascending. 0 marks a yearly entry.
func (l *Ledger) PeriodsInYear(t DatasetType, year int) []int {
	months := l.years[t][year]
	out := make([]int, len(months))
	copy(out, months)
	return out
}

// CompletedAt returns when (t, p) was recorded.
func (l *Ledger) CompletedAt(t DatasetType, p Period) (time.Time, bool) {
	pp, ok := l.entries[ledgerKey{t, p}]
	return pp.CompletedAt, ok
}

// Entries returns all recorded periods ordered by type, then period.
func (l *Ledger) Entries() []ProcessedPeriod {
	out := make([]ProcessedPeriod, 0, len(l.entries))
	for _, pp := range l.entries {
		out = append(out, pp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out
}

// Latest returns the most recent period recorded for t.
func (l *Ledger) Latest(t DatasetType) (Period, bool) {
	var latest Period
	found := false
	for key := range l.entries {
		if key.t == t && (!found || latest.Before(key.p)) {
			latest = key.p
			found = true
		}
	}
	return latest, found
}

// Without returns a copy of the snapshot that excludes (t, p).
// Used to re-evaluate eligibility after claiming the period.
func (l *Ledger) Without(t DatasetType, p Period) *Ledger {
	periods := make([]ProcessedPeriod, 0, len(l.entries))
	for key, pp := range l.entries {
		if key.t == t && key.p == p {
			continue
		}
		periods = append(periods, pp)
	}
	return NewLedger(periods)
}

// Len returns the number of recorded periods.
func (l *Ledger) Len() int {
	return len(l.entries)
}
