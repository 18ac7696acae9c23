package store

import (
	"fmt"
	"strings"
)

// whereBuilder assembles a parameterized WHERE clause. Zero values are
// skipped so optional filters can be added unconditionally.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// Add appends "column = $n" when value is non-empty.
func (wb *whereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.add(column, value)
}

// AddInt appends "column = $n" when value is non-zero.
func (wb *whereBuilder) AddInt(column string, value int) {
	if value == 0 {
		return
	}
	wb.add(column, value)
}

func (wb *whereBuilder) add(column string, value any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = $%d", column, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// NextArgIndex returns the placeholder number for the next argument.
func (wb *whereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns the clause with a leading space, or "" when empty.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}
