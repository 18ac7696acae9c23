// Package application wires configuration, storage and the ingestion
// service together for the server and the CLI.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/core"
	_ "github.com/JonMunkholm/sukl/internal/core/datasets" // register dataset definitions
	"github.com/JonMunkholm/sukl/internal/source"
	"github.com/JonMunkholm/sukl/internal/store"
)

// ImportOptions converts the import section into importer defaults.
func ImportOptions(cfg config.ImportConfig) core.ImportOptions {
	return core.ImportOptions{
		Charset:   cfg.Charset,
		Delimiter: cfg.DelimiterRune(),
	}
}

// NewFetcher builds the file and HTTP source from the import section.
func NewFetcher(cfg config.ImportConfig) *source.Fetcher {
	return source.New(source.Options{
		BaseDir: cfg.SourceDir,
		MaxSize: cfg.MaxFileSize,
		Timeout: cfg.FetchTimeout,
	})
}

// NewService builds the ingestion service on top of st.
func NewService(st core.Store, src core.Source, imp config.ImportConfig, firstReference core.Period) (*core.Service, error) {
	svc, err := core.NewService(core.ServiceOptions{
		Store:     st,
		Source:    src,
		Evaluator: core.NewEvaluator(firstReference),
		Limiter:   core.NewImportLimiter(imp.MaxConcurrent, imp.MaxWaitTime),
		Import:    ImportOptions(imp),
		Timeout:   imp.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}

// App is a database-backed service and the pool it owns.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Store   *store.Store
	Service *core.Service
}

// Open connects to the database, applies migrations when configured and
// builds the service.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	st := store.New(pool)
	svc, err := NewService(st, NewFetcher(cfg.Import), cfg.Import, cfg.FirstReferencePeriod())
	if err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("datasets registered", "count", core.DatasetCount())
	return &App{Config: cfg, Pool: pool, Store: st, Service: svc}, nil
}

// Close releases the pool.
func (a *App) Close() {
	a.Pool.Close()
}
