// Package store implements core.Store on PostgreSQL with pgx.
//
// The processed_periods primary key doubles as the per-period lease: a period
// is claimed by inserting its ledger row first inside the data transaction.
// A concurrent claim blocks on the uncommitted row and then either conflicts
// (the first transaction committed) or succeeds (it rolled back).
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/core"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Store is the Postgres implementation of core.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadLedger returns every processed period.
func (s *Store) LoadLedger(ctx context.Context) (*core.Ledger, error) {
	return loadLedger(ctx, s.pool)
}

// LoadReference returns the latest version of every reference entity.
func (s *Store) LoadReference(ctx context.Context) ([]core.ReferenceEntity, error) {
	return loadReference(ctx, s.pool)
}

// WithinPeriod claims pp and runs fn in the same transaction.
func (s *Store) WithinPeriod(ctx context.Context, pp core.ProcessedPeriod, fn func(context.Context, core.PeriodTx) error) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	claimed, err := claimPeriod(ctx, tx, pp)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if err := fn(ctx, &periodTx{tx: tx}); err != nil {
		return true, err
	}

	if err := tx.Commit(ctx); err != nil {
		return true, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// RecordRun stores a run outside any period transaction.
func (s *Store) RecordRun(ctx context.Context, run core.ImportRun) error {
	return insertRun(ctx, s.pool, run)
}

// ListRuns returns import runs matching filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.ImportRun, error) {
	return listRuns(ctx, s.pool, filter)
}

// RunFailures returns the rejected rows stored for a run in line order.
func (s *Store) RunFailures(ctx context.Context, runID uuid.UUID, limit int) ([]core.RowFailure, error) {
	return runFailures(ctx, s.pool, runID, limit)
}

// periodTx is the core.PeriodTx handed to WithinPeriod callbacks.
type periodTx struct {
	tx pgx.Tx
}

func (t *periodTx) Ledger(ctx context.Context) (*core.Ledger, error) {
	return loadLedger(ctx, t.tx)
}

func (t *periodTx) LoadReference(ctx context.Context) ([]core.ReferenceEntity, error) {
	return loadReference(ctx, t.tx)
}

func (t *periodTx) PersistReference(ctx context.Context, versions []core.ReferenceEntity) error {
	return persistReference(ctx, t.tx, versions)
}

func (t *periodTx) InsertFacts(ctx context.Context, def core.DatasetDefinition, runID uuid.UUID, p core.Period, facts []core.Fact) (int64, error) {
	return insertFacts(ctx, t.tx, def, runID, p, facts)
}

func (t *periodTx) RecordRun(ctx context.Context, run core.ImportRun, failures []core.RowFailure) error {
	if err := insertRun(ctx, t.tx, run); err != nil {
		return err
	}
	return insertFailures(ctx, t.tx, run.ID, failures)
}
