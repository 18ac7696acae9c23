package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// captureJSON routes the default logger to a buffer for the duration of the test.
func captureJSON(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupTo(&buf, level, "json")
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var out map[string]any
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		t.Fatalf("log line %q is not JSON: %v", line, err)
	}
	return out
}

func TestSetupTo_FiltersBelowLevel(t *testing.T) {
	buf := captureJSON(t, "warn")

	slog.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	slog.Warn("shown")
	if got := decodeLine(t, buf)["msg"]; got != "shown" {
		t.Errorf("msg = %v", got)
	}
}

func TestFromContext_AddsRequestID(t *testing.T) {
	buf := captureJSON(t, "info")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	FromContext(ctx).Info("hello")

	if got := decodeLine(t, buf)["request_id"]; got != "req-7" {
		t.Errorf("request_id = %v, want req-7", got)
	}
}

func TestForPeriod(t *testing.T) {
	t.Run("monthly", func(t *testing.T) {
		buf := captureJSON(t, "info")
		ForPeriod(context.Background(), "DISPENSE_MONTHLY", 2024, 3).Info("run")

		entry := decodeLine(t, buf)
		if entry["dataset_type"] != "DISPENSE_MONTHLY" || entry["year"] != float64(2024) || entry["month"] != float64(3) {
			t.Errorf("entry = %v", entry)
		}
	})

	t.Run("yearly omits month", func(t *testing.T) {
		buf := captureJSON(t, "info")
		ForPeriod(context.Background(), "DISTRIBUTION_YEARLY", 2015, 0).Info("run")

		entry := decodeLine(t, buf)
		if _, ok := entry["month"]; ok {
			t.Errorf("yearly entry carries month: %v", entry)
		}
	})
}
