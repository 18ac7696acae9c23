package store

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/sukl/internal/core"
)

func loadLedger(ctx context.Context, q querier) (*core.Ledger, error) {
	rows, err := q.Query(ctx, `
		SELECT dataset_type, period_year, period_month, completed_at
		FROM processed_periods
		ORDER BY dataset_type, period_year, period_month`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var periods []core.ProcessedPeriod
	for rows.Next() {
		var (
			datasetType string
			year        int
			month       int16
			completedAt time.Time
		)
		if err := rows.Scan(&datasetType, &year, &month, &completedAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		periods = append(periods, core.ProcessedPeriod{
			Type:        core.DatasetType(datasetType),
			Period:      core.Period{Year: year, Month: int(month)},
			CompletedAt: completedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	return core.NewLedger(periods), nil
}

// claimPeriod inserts the ledger row for pp. It reports false when the row
// already exists, which includes rows committed by a concurrent claim this
// insert waited on.
func claimPeriod(ctx context.Context, q querier, pp core.ProcessedPeriod) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO processed_periods (dataset_type, period_year, period_month, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_type, period_year, period_month) DO NOTHING`,
		string(pp.Type), pp.Period.Year, int16(pp.Period.Month), pp.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("claim %s %s: %w", pp.Type, pp.Period, err)
	}
	return tag.RowsAffected() == 1, nil
}
