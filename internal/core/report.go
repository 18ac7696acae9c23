package core

import (
	"fmt"
	"slices"
	"sort"
)

// ImportReport is the immutable result of one Import call.
type ImportReport[T any] struct {
	successes []T
	failures  []RowFailure
	totalRows int
}

// Successes returns accepted records in input order.
func (r *ImportReport[T]) Successes() []T {
	return slices.Clone(r.successes)
}

// Failures returns rejected rows in input order.
func (r *ImportReport[T]) Failures() []RowFailure {
	return slices.Clone(r.failures)
}

// TotalRows counts non-blank data lines, excluding the header.
func (r *ImportReport[T]) TotalRows() int {
	return r.totalRows
}

// SuccessCount returns the number of accepted rows.
func (r *ImportReport[T]) SuccessCount() int {
	return len(r.successes)
}

// FailureCount returns the number of rejected rows.
func (r *ImportReport[T]) FailureCount() int {
	return len(r.failures)
}

// SuccessRate is successes / total, or 1.0 for an empty import.
func (r *ImportReport[T]) SuccessRate() float64 {
	if r.totalRows == 0 {
		return 1.0
	}
	return float64(len(r.successes)) / float64(r.totalRows)
}

// FailuresByReason counts failures per reason.
func (r *ImportReport[T]) FailuresByReason() map[FailureReason]int {
	return countByReason(r.failures)
}

// FailureKey groups failures by reason and column. Column is empty when the
// failure has none.
type FailureKey struct {
	Reason FailureReason `json:"reason"`
	Column ColumnKey     `json:"column,omitempty"`
}

func (k FailureKey) String() string {
	if k.Column == "" {
		return string(k.Reason)
	}
	return fmt.Sprintf("%s/%s", k.Reason, k.Column)
}

// FailuresByReasonAndColumn counts failures per (reason, column) pair.
func (r *ImportReport[T]) FailuresByReasonAndColumn() map[FailureKey]int {
	return countByReasonAndColumn(r.failures)
}

// Summary returns the type-independent counters of the report.
func (r *ImportReport[T]) Summary() ReportSummary {
	return summarize(r.totalRows, len(r.successes), r.failures)
}

// ReportSummary carries report counters without the records.
type ReportSummary struct {
	TotalRows      int            `json:"totalRows"`
	Accepted       int            `json:"accepted"`
	Rejected       int            `json:"rejected"`
	SuccessRate    float64        `json:"successRate"`
	ByReason       map[string]int `json:"byReason,omitempty"`
	ByReasonColumn map[string]int `json:"byReasonColumn,omitempty"`
}

// TopFailures returns up to n reason/column groups, largest first.
func (s ReportSummary) TopFailures(n int) []string {
	keys := make([]string, 0, len(s.ByReasonColumn))
	for k := range s.ByReasonColumn {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := s.ByReasonColumn[keys[i]], s.ByReasonColumn[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s=%d", k, s.ByReasonColumn[k])
	}
	return out
}

func summarize(total, accepted int, failures []RowFailure) ReportSummary {
	s := ReportSummary{
		TotalRows:   total,
		Accepted:    accepted,
		Rejected:    len(failures),
		SuccessRate: 1.0,
	}
	if total > 0 {
		s.SuccessRate = float64(accepted) / float64(total)
	}
	if len(failures) == 0 {
		return s
	}
	s.ByReason = make(map[string]int)
	for reason, n := range countByReason(failures) {
		s.ByReason[string(reason)] = n
	}
	s.ByReasonColumn = make(map[string]int)
	for key, n := range countByReasonAndColumn(failures) {
		s.ByReasonColumn[key.String()] = n
	}
	return s
}

func countByReason(failures []RowFailure) map[FailureReason]int {
	counts := make(map[FailureReason]int)
	for _, f := range failures {
		counts[f.Reason]++
	}
	return counts
}

func countByReasonAndColumn(failures []RowFailure) map[FailureKey]int {
	counts := make(map[FailureKey]int)
	for _, f := range failures {
		counts[FailureKey{Reason: f.Reason, Column: f.Column}]++
	}
	return counts
}
