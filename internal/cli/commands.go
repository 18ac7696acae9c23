package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sukl/internal/admin"
	"github.com/JonMunkholm/sukl/internal/application"
	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/core"
	"github.com/JonMunkholm/sukl/internal/logging"
	"github.com/JonMunkholm/sukl/internal/manifest"
	"github.com/JonMunkholm/sukl/internal/store"
)

func newDatasetsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the registered dataset types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs := core.All()
			infos := make([]core.DatasetInfo, len(defs))
			for i, def := range defs {
				infos[i] = def.Info
			}
			return opts.render(infos, func(w io.Writer) { renderDatasets(w, infos) })
		},
	}
}

// parseTarget parses the TYPE PERIOD positional arguments.
func parseTarget(args []string) (core.DatasetType, core.Period, error) {
	t, err := core.ParseDatasetType(args[0])
	if err != nil {
		return "", core.Period{}, err
	}
	p, err := core.ParsePeriod(args[1])
	if err != nil {
		return "", core.Period{}, err
	}
	return t, p, nil
}

func newInspectCommand(opts *options) *cobra.Command {
	var (
		referenceFile string
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "inspect TYPE PERIOD FILE",
		Short: "Parse a file and report row failures without storing anything",
		Long: `inspect runs the importer on a local file and prints the report.

Transactional files resolve product codes against --reference, a catalog file
for the same period. Without it every code is reported as UNKNOWN_REFERENCE.`,
		Example: `  ingest inspect REFERENCE 2024-03 lek-2024-03.csv
  ingest inspect DISTRIBUTION_MONTHLY 2024-03 dis-2024-03.csv --reference lek-2024-03.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.offline()
			if err != nil {
				return err
			}
			t, p, err := parseTarget(args)
			if err != nil {
				return err
			}
			def, ok := core.Get(t)
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownDataset, t)
			}

			importOpts := application.ImportOptions(cfg.Import)
			data, err := readLocal(args[2], cfg.Import.MaxFileSize)
			if err != nil {
				return err
			}

			var lookup core.ReferenceLookup
			if referenceFile != "" && !def.IsReference() {
				refData, err := readLocal(referenceFile, cfg.Import.MaxFileSize)
				if err != nil {
					return err
				}
				catalog, err := core.SnapshotCatalog(refData, importOpts, p)
				if err != nil {
					return fmt.Errorf("reference %s: %w", referenceFile, err)
				}
				logging.WithFields(cmd.Context(), "entities", catalog.Len()).Info("reference catalog loaded")
				lookup = catalog
			}

			summary, failures, err := core.Inspect(def, p, data, importOpts, lookup)
			if err != nil {
				return err
			}

			report := struct {
				Summary  core.ReportSummary `json:"summary"`
				Failures []core.RowFailure  `json:"failures"`
			}{summary, failures}
			return opts.render(report, func(w io.Writer) {
				renderSummary(w, fmt.Sprintf("%s %s", t, p), summary)
				renderFailures(w, failures, limit)
			})
		},
	}

	cmd.Flags().StringVar(&referenceFile, "reference", "", "catalog file used to resolve product codes")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum failures to print (0 for all)")
	return cmd
}

// readLocal reads a file through the same size checks as the service.
func readLocal(path string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", core.ErrFileTooLarge, path, info.Size())
	}
	return os.ReadFile(path)
}

func newProcessCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "process TYPE PERIOD LOCATION",
		Short:   "Process one published file",
		Example: `  ingest process REFERENCE 2024-03 https://example.org/lek-2024-03.csv`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, p, err := parseTarget(args)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Service.Process(cmd.Context(), core.Descriptor{Type: t, Period: p, Location: args[2]})
			if err != nil {
				msg := core.MapError(err)
				return fmt.Errorf("%s (%s): %w", msg.Message, msg.Code, err)
			}
			results := []*core.ProcessResult{result}
			return opts.render(result, func(w io.Writer) { renderResults(w, results) })
		},
	}
}

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check TYPE PERIOD",
		Short: "Evaluate eligibility against the stored ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, p, err := parseTarget(args)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			d, err := app.Service.Evaluate(cmd.Context(), t, p)
			if err != nil {
				return err
			}
			return opts.render(d, func(w io.Writer) { renderDecision(w, t, p, d) })
		},
	}
}

func newManifestCommand(opts *options) *cobra.Command {
	var (
		dryRun   bool
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "manifest FILE",
		Short: "Process every file a manifest announces, in dependency order",
		Long: `manifest expands a YAML manifest into descriptors and processes them:
the reference chain first, one month at a time, then the monthly feeds and
the yearly feeds with up to --parallel imports at once.

With --dry-run the manifest runs against an empty in-memory store. Files are
fetched and parsed but nothing is written to the database, which shows what
a fresh install would accept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			var svc *core.Service
			if dryRun {
				cfg, err := opts.offline()
				if err != nil {
					return err
				}
				svc, err = application.NewService(store.NewMemory(), application.NewFetcher(cfg.Import), cfg.Import, cfg.FirstReferencePeriod())
				if err != nil {
					return err
				}
			} else {
				app, err := opts.open(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				svc = app.Service
			}

			items := svc.ProcessAll(cmd.Context(), descriptors, parallel)
			results := batchResults(items)
			if err := opts.render(results, func(w io.Writer) { renderResults(w, results) }); err != nil {
				return err
			}
			if failed := countFailed(items); failed > 0 {
				return fmt.Errorf("%d of %d imports failed", failed, len(items))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-memory store")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 2, "concurrent imports for transactional feeds")
	return cmd
}

// batchResults turns failed items into results with status failed and the
// mapped message so every descriptor gets a row.
func batchResults(items []core.BatchItem) []*core.ProcessResult {
	results := make([]*core.ProcessResult, len(items))
	for i, item := range items {
		if item.Err == nil {
			results[i] = item.Result
			continue
		}
		msg := core.MapError(item.Err)
		results[i] = &core.ProcessResult{
			Descriptor: item.Descriptor,
			Status:     core.RunFailed,
			Decision:   core.Decision{Reason: fmt.Sprintf("%s (%s)", msg.Message, msg.Code)},
		}
	}
	return results
}

func countFailed(items []core.BatchItem) int {
	n := 0
	for _, item := range items {
		if item.Err != nil {
			n++
		}
	}
	return n
}

func newLedgerCommand(opts *options) *cobra.Command {
	var typeFilter string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List processed periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter core.DatasetType
			if typeFilter != "" {
				t, err := core.ParseDatasetType(typeFilter)
				if err != nil {
					return err
				}
				filter = t
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ledger, err := app.Service.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			var entries []core.ProcessedPeriod
			for _, e := range ledger.Entries() {
				if filter == "" || e.Type == filter {
					entries = append(entries, e)
				}
			}
			return opts.render(entries, func(w io.Writer) { renderLedger(w, entries) })
		},
	}

	cmd.Flags().StringVar(&typeFilter, "type", "", "only this dataset type")
	return cmd
}

func newRunsCommand(opts *options) *cobra.Command {
	var (
		typeFilter string
		status     string
		year       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List import history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := core.RunFilter{Status: core.RunStatus(status), Year: year, Limit: limit}
			if typeFilter != "" {
				t, err := core.ParseDatasetType(typeFilter)
				if err != nil {
					return err
				}
				filter.Type = t
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			runs, err := app.Service.Runs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return opts.render(runs, func(w io.Writer) { renderRuns(w, runs) })
		},
	}

	cmd.Flags().StringVar(&typeFilter, "type", "", "only this dataset type")
	cmd.Flags().StringVar(&status, "status", "", "completed or failed")
	cmd.Flags().IntVar(&year, "year", 0, "only this period year")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs")
	return cmd
}

func newFailuresCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failures RUN_ID",
		Short: "Show the rejected rows stored for one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			failures, err := app.Service.RunFailures(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			return opts.render(failures, func(w io.Writer) { renderFailures(w, failures, 0) })
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum failures")
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(apply bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.SetupTo(opts.stderr, cfg.Logging.Level, cfg.Logging.Format)

			pool, err := store.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if apply {
				if err := store.Migrate(pool); err != nil {
					return err
				}
			}
			version, err := store.MigrationVersion(pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "schema version %d\n", version)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply pending migrations", Args: cobra.NoArgs, RunE: run(true)},
		&cobra.Command{Use: "version", Short: "Print the current schema version", Args: cobra.NoArgs, RunE: run(false)},
	)
	return cmd
}

func newPruneCommand(opts *options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored row failures and failed runs older than a cutoff",
		Long: `prune removes diagnostic history. Completed runs, facts, reference
versions and the ledger are never deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := admin.Prune(cmd.Context(), app.Pool, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "deleted %d failures and %d failed runs finished before %s\n",
				res.Deleted["import_failures"], res.Deleted["failed_runs"], res.Cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age of history to delete")
	return cmd
}
