// Package logging configures log/slog for both binaries and derives
// loggers that carry request and import context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup installs the default logger on stdout. Level is one of debug, info,
// warn or error (info otherwise); format is text or json.
func Setup(level, format string) {
	SetupTo(os.Stdout, level, format)
}

// SetupTo is Setup with an explicit destination. The CLI logs to stderr so
// that tables on stdout stay machine-readable.
func SetupTo(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger, tagged with request_id when ctx
// went through chi's RequestID middleware.
func FromContext(ctx context.Context) *slog.Logger {
	if id := middleware.GetReqID(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

// WithFields is FromContext plus extra attributes.
//
//	log := logging.WithFields(ctx, "run_id", runID)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// ForPeriod returns a logger carrying the dataset type and period being
// processed. Month 0 marks a yearly period and is omitted.
func ForPeriod(ctx context.Context, datasetType string, year, month int) *slog.Logger {
	logger := FromContext(ctx).With("dataset_type", datasetType, "year", year)
	if month != 0 {
		logger = logger.With("month", month)
	}
	return logger
}
