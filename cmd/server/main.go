package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sukl/internal/application"
	"github.com/JonMunkholm/sukl/internal/config"
	"github.com/JonMunkholm/sukl/internal/core"
	"github.com/JonMunkholm/sukl/internal/logging"
	"github.com/JonMunkholm/sukl/internal/manifest"
	"github.com/JonMunkholm/sukl/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	app, err := application.Open(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	service := app.Service

	server := web.NewServer(service, cfg)

	// Background jobs stop before the HTTP server drains.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Schedule.Enabled() {
		go service.StartScheduler(jobCtx, core.ScheduleConfig{
			Interval: cfg.Schedule.Interval,
			Parallel: cfg.Import.MaxConcurrent,
			Load:     manifest.Loader(cfg.Schedule.Manifest),
		})
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		slog.Info("waiting for imports to complete",
			"jobs", service.ActiveJobs(),
			"active", service.LimiterStatus().Active,
		)
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else {
			slog.Info("all imports completed")
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
