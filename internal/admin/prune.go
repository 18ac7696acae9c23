// Package admin provides maintenance operations on the ingestion database.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PruneTimeout is the maximum duration for one prune.
const PruneTimeout = 5 * time.Minute

// execer runs one statement. pgx.Tx satisfies it.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// beginner opens a transaction. *pgxpool.Pool satisfies it.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// pruneStep is one DELETE in a prune.
type pruneStep struct {
	name string
	sql  string
}

// PruneResult counts deleted rows per step.
type PruneResult struct {
	Cutoff  time.Time
	Deleted map[string]int64
}

// Total returns the number of rows deleted by all steps.
func (r PruneResult) Total() int64 {
	var n int64
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// pruneSteps deletes stored row failures of runs finished before the cutoff
// and failed runs themselves. Completed runs stay: facts reference them.
// The ledger is never touched.
var pruneSteps = []pruneStep{
	{
		name: "import_failures",
		sql: `DELETE FROM import_failures
			WHERE run_id IN (SELECT id FROM import_runs WHERE finished_at < $1)`,
	},
	{
		name: "failed_runs",
		sql:  `DELETE FROM import_runs WHERE status = 'failed' AND finished_at < $1`,
	},
}

// Prune removes diagnostic history older than cutoff in one transaction.
func Prune(ctx context.Context, db beginner, cutoff time.Time) (PruneResult, error) {
	ctx, cancel := context.WithTimeout(ctx, PruneTimeout)
	defer cancel()

	tx, err := db.Begin(ctx)
	if err != nil {
		return PruneResult{}, fmt.Errorf("begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := runSteps(ctx, tx, pruneSteps, cutoff)
	if err != nil {
		return PruneResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PruneResult{}, fmt.Errorf("commit prune: %w", err)
	}

	slog.Info("history pruned", "cutoff", cutoff.Format(time.RFC3339), "deleted", res.Total())
	return res, nil
}

func runSteps(ctx context.Context, exec execer, steps []pruneStep, cutoff time.Time) (PruneResult, error) {
	res := PruneResult{Cutoff: cutoff, Deleted: make(map[string]int64, len(steps))}
	for _, step := range steps {
		tag, err := exec.Exec(ctx, step.sql, cutoff)
		if err != nil {
			return PruneResult{}, fmt.Errorf("prune %s: %w", step.name, err)
		}
		res.Deleted[step.name] = tag.RowsAffected()
	}
	return res, nil
}
