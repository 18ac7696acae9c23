package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/sukl/internal/core"
)

// factPrefix is prepended to every fact table's own columns.
var factPrefix = []string{"import_run_id", "period_year", "period_month"}

// insertFacts bulk loads facts into def.FactTable with COPY.
func insertFacts(ctx context.Context, q querier, def core.DatasetDefinition, runID uuid.UUID, p core.Period, facts []core.Fact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	columns := make([]string, 0, len(factPrefix)+len(def.FactColumns))
	columns = append(columns, factPrefix...)
	columns = append(columns, def.FactColumns...)

	prefix := []any{runID, int32(p.Year), int16(p.Month)}
	width := len(def.FactColumns)

	n, err := q.CopyFrom(ctx, pgx.Identifier{def.FactTable}, columns,
		pgx.CopyFromSlice(len(facts), func(i int) ([]any, error) {
			values := facts[i].Values()
			if len(values) != width {
				return nil, fmt.Errorf("fact %d has %d values, table %s expects %d", i, len(values), def.FactTable, width)
			}
			row := make([]any, 0, len(columns))
			row = append(row, prefix...)
			return append(row, values...), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", def.FactTable, err)
	}
	return n, nil
}
