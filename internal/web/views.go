package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/sukl/internal/core"
	"github.com/JonMunkholm/sukl/internal/logging"
)

// statusRow is one dataset line on the status page.
type statusRow struct {
	Info      core.DatasetInfo
	Latest    string
	Processed int
}

// statusPage is the data rendered by statusView.
type statusPage struct {
	Rows    []statusRow
	Runs    []core.ImportRun
	Imports core.LimiterStatus
}

// handleStatusPage renders the ledger overview.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ledger, err := s.service.Ledger(ctx)
	if err != nil {
		respondError(w, r, err)
		return
	}

	page := statusPage{Imports: s.service.LimiterStatus()}
	counts := make(map[core.DatasetType]int)
	for _, e := range ledger.Entries() {
		counts[e.Type]++
	}
	for _, info := range s.service.Datasets() {
		row := statusRow{Info: info, Latest: "-", Processed: counts[info.Type]}
		if p, ok := ledger.Latest(info.Type); ok {
			row.Latest = p.String()
		}
		page.Rows = append(page.Rows, row)
	}

	// History is optional on this page.
	if runs, err := s.service.Runs(ctx, core.RunFilter{Limit: 10}); err == nil {
		page.Runs = runs
	} else {
		logging.FromContext(ctx).Warn("status page without history", "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusView(page).Render(ctx, w); err != nil {
		logging.FromContext(ctx).Warn("render status page", "error", err)
	}
}

// statusView renders the page without generated templ code.
func statusView(page statusPage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		e := templ.EscapeString
		var err error
		write := func(format string, args ...any) {
			if err == nil {
				_, err = fmt.Fprintf(w, format, args...)
			}
		}

		write(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Ingestion status</title>`)
		write(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse;margin-bottom:2rem}`)
		write(`td,th{border:1px solid #ccc;padding:.3rem .6rem;text-align:left}.failed{color:#b00}</style></head><body>`)
		write(`<h1>Ingestion status</h1>`)
		write(`<p>Imports running: %d of %d</p>`, page.Imports.Active, page.Imports.MaxConcurrent)

		write(`<h2>Datasets</h2><table><tr><th>Type</th><th>Dataset</th><th>Latest period</th><th>Periods processed</th></tr>`)
		for _, row := range page.Rows {
			write(`<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>`,
				e(string(row.Info.Type)), e(row.Info.Label), e(row.Latest), row.Processed)
		}
		write(`</table>`)

		write(`<h2>Recent imports</h2><table><tr><th>Started</th><th>Type</th><th>Period</th><th>Status</th><th>Accepted</th><th>Rejected</th><th>Message</th></tr>`)
		for _, run := range page.Runs {
			class := ""
			if run.Status == core.RunFailed {
				class = ` class="failed"`
			}
			write(`<tr%s><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%s</td></tr>`,
				class,
				e(run.StartedAt.Format(time.RFC3339)), e(string(run.Type)), e(run.Period.String()),
				e(string(run.Status)), run.Summary.Accepted, run.Summary.Rejected, e(run.Message))
		}
		write(`</table></body></html>`)
		return err
	})
}
