package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/sukl/internal/core"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 500
	defaultFailureLimit = 1000
)

var failureColumns = []string{"run_id", "line", "reason", "column_key", "raw_line", "detail"}

func insertRun(ctx context.Context, q querier, run core.ImportRun) error {
	byReason := run.Summary.ByReason
	if byReason == nil {
		byReason = map[string]int{}
	}
	byReasonColumn := run.Summary.ByReasonColumn
	if byReasonColumn == nil {
		byReasonColumn = map[string]int{}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO import_runs (
			id, dataset_type, period_year, period_month, location, status,
			total_rows, accepted, rejected, success_rate, by_reason, by_reason_column,
			persisted, retired, message, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		run.ID, string(run.Type), run.Period.Year, int16(run.Period.Month), run.Location, string(run.Status),
		run.Summary.TotalRows, run.Summary.Accepted, run.Summary.Rejected, run.Summary.SuccessRate,
		byReason, byReasonColumn,
		run.Persisted, run.Retired, run.Message, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

func insertFailures(ctx context.Context, q querier, runID uuid.UUID, failures []core.RowFailure) error {
	if len(failures) == 0 {
		return nil
	}

	_, err := q.CopyFrom(ctx, pgx.Identifier{"import_failures"}, failureColumns,
		pgx.CopyFromSlice(len(failures), func(i int) ([]any, error) {
			f := failures[i]
			return []any{runID, int32(f.Line), string(f.Reason), string(f.Column), f.RawLine, f.Detail}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy import failures: %w", err)
	}
	return nil
}

func listRuns(ctx context.Context, q querier, filter core.RunFilter) ([]core.ImportRun, error) {
	wb := newWhereBuilder()
	wb.Add("dataset_type", string(filter.Type))
	wb.Add("status", string(filter.Status))
	wb.AddInt("period_year", filter.Year)
	whereClause, args := wb.Build()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	query := `SELECT id, dataset_type, period_year, period_month, location, status,
		total_rows, accepted, rejected, success_rate, by_reason, by_reason_column,
		persisted, retired, message, started_at, finished_at
		FROM import_runs` + whereClause +
		fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", wb.NextArgIndex())
	args = append(args, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	defer rows.Close()

	runs := make([]core.ImportRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read import runs: %w", err)
	}
	return runs, nil
}

func scanRun(rows pgx.Rows) (core.ImportRun, error) {
	var (
		run         core.ImportRun
		datasetType string
		month       int16
		status      string
	)
	err := rows.Scan(
		&run.ID, &datasetType, &run.Period.Year, &month, &run.Location, &status,
		&run.Summary.TotalRows, &run.Summary.Accepted, &run.Summary.Rejected, &run.Summary.SuccessRate,
		&run.Summary.ByReason, &run.Summary.ByReasonColumn,
		&run.Persisted, &run.Retired, &run.Message, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return core.ImportRun{}, fmt.Errorf("scan import run: %w", err)
	}
	run.Type = core.DatasetType(datasetType)
	run.Period.Month = int(month)
	run.Status = core.RunStatus(status)
	return run, nil
}

func runFailures(ctx context.Context, q querier, runID uuid.UUID, limit int) ([]core.RowFailure, error) {
	if limit <= 0 {
		limit = defaultFailureLimit
	}

	rows, err := q.Query(ctx, `
		SELECT line, reason, column_key, raw_line, detail
		FROM import_failures
		WHERE run_id = $1
		ORDER BY line
		LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query import failures: %w", err)
	}
	defer rows.Close()

	failures := make([]core.RowFailure, 0)
	for rows.Next() {
		var (
			f      core.RowFailure
			reason string
			column string
		)
		if err := rows.Scan(&f.Line, &reason, &column, &f.RawLine, &f.Detail); err != nil {
			return nil, fmt.Errorf("scan import failure: %w", err)
		}
		f.Reason = core.FailureReason(reason)
		f.Column = core.ColumnKey(column)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read import failures: %w", err)
	}
	return failures, nil
}
