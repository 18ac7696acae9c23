package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/sukl/internal/core"
)

// ============================================================================
// whereBuilder Tests
// ============================================================================

func TestWhereBuilder_Empty(t *testing.T) {
	wb := newWhereBuilder()
	clause, args := wb.Build()

	if clause != "" {
		t.Errorf("expected empty clause, got %q", clause)
	}
	if args != nil {
		t.Errorf("expected nil args, got %v", args)
	}
	if wb.NextArgIndex() != 1 {
		t.Errorf("NextArgIndex() = %d, want 1", wb.NextArgIndex())
	}
}

func TestWhereBuilder_SkipsZeroValues(t *testing.T) {
	wb := newWhereBuilder()
	wb.Add("dataset_type", "")
	wb.Add("status", "failed")
	wb.AddInt("period_year", 0)
	wb.AddInt("period_year", 2024)

	clause, args := wb.Build()

	want := " WHERE status = $1 AND period_year = $2"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
	if len(args) != 2 || args[0] != "failed" || args[1] != 2024 {
		t.Errorf("args = %v, want [failed 2024]", args)
	}
	if wb.NextArgIndex() != 3 {
		t.Errorf("NextArgIndex() = %d, want 3", wb.NextArgIndex())
	}
}

// ============================================================================
// Fakes
// ============================================================================

type copyCall struct {
	table   string
	columns []string
	rows    [][]any
}

// fakeQuerier records Exec and CopyFrom calls. Query is not supported.
type fakeQuerier struct {
	execSQL      []string
	execArgs     [][]any
	rowsAffected int64
	execErr      error
	copies       []copyCall
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 " + strconv.FormatInt(f.rowsAffected, 10)), nil
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeQuerier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	call := copyCall{table: strings.Join(table, "."), columns: columns}
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		call.rows = append(call.rows, values)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	f.copies = append(f.copies, call)
	return int64(len(call.rows)), nil
}

type testFact struct {
	values []any
}

func (f testFact) Values() []any { return f.values }

// ============================================================================
// Ledger claim Tests
// ============================================================================

func TestClaimPeriod(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"new period", 1, true},
		{"already claimed", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{rowsAffected: tt.affected}
			pp := core.ProcessedPeriod{
				Type:        core.DistributionMonthly,
				Period:      core.MonthlyPeriod(2024, 3),
				CompletedAt: time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC),
			}

			got, err := claimPeriod(context.Background(), q, pp)
			if err != nil {
				t.Fatalf("claimPeriod() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("claimPeriod() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(q.execSQL[0], "ON CONFLICT") {
				t.Errorf("claim must not fail on conflict: %s", q.execSQL[0])
			}
			args := q.execArgs[0]
			if args[0] != "DISTRIBUTION_MONTHLY" || args[1] != 2024 || args[2] != int16(3) {
				t.Errorf("claim args = %v", args)
			}
		})
	}
}

func TestClaimPeriod_YearlyUsesMonthZero(t *testing.T) {
	q := &fakeQuerier{rowsAffected: 1}
	pp := core.ProcessedPeriod{Type: core.DistributionYearly, Period: core.YearlyPeriod(2015)}

	if _, err := claimPeriod(context.Background(), q, pp); err != nil {
		t.Fatalf("claimPeriod() error = %v", err)
	}
	if q.execArgs[0][2] != int16(0) {
		t.Errorf("month arg = %v, want 0", q.execArgs[0][2])
	}
}

func TestClaimPeriod_Error(t *testing.T) {
	q := &fakeQuerier{execErr: errors.New("connection reset")}
	pp := core.ProcessedPeriod{Type: core.Reference, Period: core.MonthlyPeriod(2024, 1)}

	_, err := claimPeriod(context.Background(), q, pp)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "REFERENCE 2024-01") {
		t.Errorf("error = %v, want the period named", err)
	}
}

// ============================================================================
// COPY Tests
// ============================================================================

func TestInsertFacts_PrefixesRunAndPeriod(t *testing.T) {
	q := &fakeQuerier{}
	runID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	def := core.DatasetDefinition{
		FactTable:   "dispense_facts",
		FactColumns: []string{"sukl_code", "package_count"},
	}
	facts := []core.Fact{
		testFact{values: []any{"0012345", int64(3)}},
		testFact{values: []any{"0067890", int64(7)}},
	}

	n, err := insertFacts(context.Background(), q, def, runID, core.MonthlyPeriod(2024, 3), facts)
	if err != nil {
		t.Fatalf("insertFacts() error = %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	call := q.copies[0]
	if call.table != "dispense_facts" {
		t.Errorf("table = %q", call.table)
	}
	wantCols := "import_run_id,period_year,period_month,sukl_code,package_count"
	if got := strings.Join(call.columns, ","); got != wantCols {
		t.Errorf("columns = %q, want %q", got, wantCols)
	}
	row := call.rows[1]
	if row[0] != runID || row[1] != int32(2024) || row[2] != int16(3) || row[3] != "0067890" {
		t.Errorf("row = %v", row)
	}
}

func TestInsertFacts_Empty(t *testing.T) {
	q := &fakeQuerier{}
	n, err := insertFacts(context.Background(), q, core.DatasetDefinition{FactTable: "x", FactColumns: []string{"a"}}, uuid.New(), core.MonthlyPeriod(2024, 1), nil)
	if err != nil || n != 0 {
		t.Errorf("insertFacts(nil) = %d, %v", n, err)
	}
	if len(q.copies) != 0 {
		t.Error("expected no COPY for empty input")
	}
}

func TestInsertFacts_WidthMismatch(t *testing.T) {
	q := &fakeQuerier{}
	def := core.DatasetDefinition{FactTable: "dispense_facts", FactColumns: []string{"a", "b"}}

	_, err := insertFacts(context.Background(), q, def, uuid.New(), core.MonthlyPeriod(2024, 1),
		[]core.Fact{testFact{values: []any{"only one"}}})
	if err == nil {
		t.Fatal("expected width mismatch error")
	}
}

func TestPersistReference(t *testing.T) {
	q := &fakeQuerier{}
	missing := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	versions := []core.ReferenceEntity{
		{StorageID: uuid.New(), Key: "0012345", Attributes: map[string]string{"name": "A"}, FirstSeen: missing, Version: 1},
		{StorageID: uuid.New(), Key: "0067890", FirstSeen: missing, MissingSince: &missing, Version: 2},
	}

	if err := persistReference(context.Background(), q, versions); err != nil {
		t.Fatalf("persistReference() error = %v", err)
	}

	rows := q.copies[0].rows
	if len(rows) != 2 {
		t.Fatalf("copied %d rows, want 2", len(rows))
	}
	if rows[0][5] != nil {
		t.Errorf("active entity missing_since = %v, want NULL", rows[0][5])
	}
	if rows[1][5] != missing {
		t.Errorf("retired entity missing_since = %v, want %v", rows[1][5], missing)
	}
	if attrs, ok := rows[1][3].(map[string]string); !ok || attrs == nil {
		t.Errorf("nil attributes must be stored as an empty object, got %#v", rows[1][3])
	}
	if rows[1][1] != int32(2) {
		t.Errorf("version = %v, want 2", rows[1][1])
	}
}

func TestInsertFailures(t *testing.T) {
	q := &fakeQuerier{}
	runID := uuid.New()
	failures := []core.RowFailure{
		{Line: 3, Reason: core.ParseError, Column: "PACKAGE_COUNT", RawLine: "2024;03;X123;abc", Detail: "not a number"},
	}

	if err := insertFailures(context.Background(), q, runID, failures); err != nil {
		t.Fatalf("insertFailures() error = %v", err)
	}
	row := q.copies[0].rows[0]
	if row[0] != runID || row[1] != int32(3) || row[2] != "PARSE_ERROR" || row[3] != "PACKAGE_COUNT" {
		t.Errorf("row = %v", row)
	}
}
