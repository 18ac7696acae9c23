package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JonMunkholm/sukl/internal/core"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// render writes v as indented JSON, or calls table otherwise.
func (o *options) render(v any, table func(io.Writer)) error {
	if o.output == outputJSON {
		enc := json.NewEncoder(o.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	table(o.stdout)
	return nil
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func renderDatasets(w io.Writer, infos []core.DatasetInfo) {
	t := newTable(w, "Type", "Granularity", "Depends on", "Label")
	for _, info := range infos {
		dep := string(info.Type.DependsOn())
		if dep == "" {
			dep = "-"
		}
		t.AppendRow(table.Row{info.Type, info.Type.Granularity(), dep, info.Label})
	}
	t.Render()
}

func renderSummary(w io.Writer, title string, s core.ReportSummary) {
	t := newTable(w, "Metric", "Value")
	t.SetTitle(title)
	t.AppendRow(table.Row{"total rows", s.TotalRows})
	t.AppendRow(table.Row{"accepted", s.Accepted})
	t.AppendRow(table.Row{"rejected", s.Rejected})
	t.AppendRow(table.Row{"success rate", fmt.Sprintf("%.2f%%", s.SuccessRate*100)})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()

	if len(s.ByReasonColumn) == 0 {
		return
	}
	keys := make([]string, 0, len(s.ByReasonColumn))
	for k := range s.ByReasonColumn {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := newTable(w, "Reason/column", "Rows")
	for _, k := range keys {
		r.AppendRow(table.Row{k, s.ByReasonColumn[k]})
	}
	r.Render()
}

func renderFailures(w io.Writer, failures []core.RowFailure, limit int) {
	if len(failures) == 0 {
		return
	}
	t := newTable(w, "Line", "Reason", "Column", "Detail", "Raw line")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 40},
		{Number: 5, WidthMax: 60},
	})
	for i, f := range failures {
		if limit > 0 && i == limit {
			t.AppendFooter(table.Row{"", fmt.Sprintf("%d more", len(failures)-limit)})
			break
		}
		t.AppendRow(table.Row{f.Line, f.Reason, f.Column, f.Detail, f.RawLine})
	}
	t.Render()
}

func renderDecision(w io.Writer, t core.DatasetType, p core.Period, d core.Decision) {
	tw := newTable(w, "Type", "Period", "Eligible", "Rule", "Reason")
	tw.AppendRow(table.Row{t, p, d.Eligible, d.Rule, d.Reason})
	tw.Render()
}

func renderResults(w io.Writer, results []*core.ProcessResult) {
	t := newTable(w, "Type", "Period", "Status", "Accepted", "Rejected", "Persisted", "Note")
	for _, r := range results {
		row := table.Row{r.Descriptor.Type, r.Descriptor.Period, r.Status, "", "", "", r.Decision.Reason}
		if r.Run != nil {
			row[3], row[4], row[5] = r.Run.Summary.Accepted, r.Run.Summary.Rejected, r.Run.Persisted
			if r.Run.Message != "" {
				row[6] = r.Run.Message
			}
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderLedger(w io.Writer, entries []core.ProcessedPeriod) {
	t := newTable(w, "Type", "Period", "Completed at")
	for _, e := range entries {
		t.AppendRow(table.Row{e.Type, e.Period, e.CompletedAt.Format(time.RFC3339)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d periods", len(entries))})
	t.Render()
}

func renderRuns(w io.Writer, runs []core.ImportRun) {
	t := newTable(w, "ID", "Type", "Period", "Status", "Accepted", "Rejected", "Duration", "Message")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 8, WidthMax: 60}})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID, r.Type, r.Period, r.Status,
			r.Summary.Accepted, r.Summary.Rejected,
			r.Duration().Round(time.Millisecond), strings.TrimSpace(r.Message),
		})
	}
	t.Render()
}
