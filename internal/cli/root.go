// Package cli implements the ingest command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sukl/internal/application"
	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	envFile string
	output  string

	stdout io.Writer
	stderr io.Writer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest medicinal product open-data feeds",
		Long: `ingest fetches published catalog and transactional files, checks them
against the processing ledger and loads accepted rows into PostgreSQL.

Commands that only read files (inspect, datasets, manifest --dry-run) run
without a database.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			opts.stdout = cmd.OutOrStdout()
			opts.stderr = cmd.ErrOrStderr()

			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			switch opts.output {
			case outputTable, outputJSON:
			default:
				return fmt.Errorf("unknown output format %q: use table or json", opts.output)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "environment file to load if present")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "output format (table|json)")
	_ = root.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{outputTable, outputJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newDatasetsCommand(opts),
		newInspectCommand(opts),
		newProcessCommand(opts),
		newCheckCommand(opts),
		newManifestCommand(opts),
		newLedgerCommand(opts),
		newRunsCommand(opts),
		newFailuresCommand(opts),
		newMigrateCommand(opts),
		newPruneCommand(opts),
	)
	return root
}

// Execute runs the root command and prints the error, if any, to stderr.
// An interrupt cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadEnvFile overlays path onto the environment. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Overload(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// offline loads the configuration for commands without a database.
// Logs go to stderr so stdout stays parseable.
func (o *options) offline() (*config.Offline, error) {
	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, err
	}
	logging.SetupTo(o.stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// open loads the full configuration and connects to the database.
func (o *options) open(cmd *cobra.Command) (*application.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.SetupTo(o.stderr, cfg.Logging.Level, cfg.Logging.Format)
	return application.Open(cmd.Context(), cfg)
}
