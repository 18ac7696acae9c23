package core

import (
	"reflect"
	"testing"
	"time"
)

func TestLedger_Queries(t *testing.T) {
	first := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	l := NewLedger([]ProcessedPeriod{
		{Type: Reference, Period: MonthlyPeriod(2024, 3), CompletedAt: first},
		{Type: Reference, Period: MonthlyPeriod(2024, 1), CompletedAt: first},
		{Type: DistributionYearly, Period: YearlyPeriod(2015), CompletedAt: first},
		// Later duplicates are ignored.
		{Type: Reference, Period: MonthlyPeriod(2024, 3), CompletedAt: first.Add(time.Hour)},
	})

	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	if !l.ExistsPeriod(Reference, MonthlyPeriod(2024, 1)) || l.ExistsPeriod(Reference, MonthlyPeriod(2024, 2)) {
		t.Error("ExistsPeriod mismatch")
	}
	if !l.ExistsAny(DistributionYearly) || l.ExistsAny(DispenseMonthly) {
		t.Error("ExistsAny mismatch")
	}
	if got := l.PeriodsInYear(Reference, 2024); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("PeriodsInYear = %v, want [1 3]", got)
	}
	if got := l.PeriodsInYear(DistributionYearly, 2015); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("PeriodsInYear(yearly) = %v, want [0]", got)
	}
	if got := l.PeriodsInYear(Reference, 1999); len(got) != 0 {
		t.Errorf("PeriodsInYear(empty year) = %v", got)
	}

	at, ok := l.CompletedAt(Reference, MonthlyPeriod(2024, 3))
	if !ok || !at.Equal(first) {
		t.Errorf("CompletedAt = %v, %v; want first insert", at, ok)
	}

	latest, ok := l.Latest(Reference)
	if !ok || latest != MonthlyPeriod(2024, 3) {
		t.Errorf("Latest = %v, %v", latest, ok)
	}
	if _, ok := l.Latest(DispenseMonthly); ok {
		t.Error("Latest found a period for an empty type")
	}
}

func TestLedger_PeriodsInYearIsACopy(t *testing.T) {
	l := NewLedger([]ProcessedPeriod{{Type: Reference, Period: MonthlyPeriod(2024, 1)}})
	got := l.PeriodsInYear(Reference, 2024)
	got[0] = 7
	if l.PeriodsInYear(Reference, 2024)[0] != 1 {
		t.Error("caller mutated ledger state")
	}
}

func TestLedger_Entries(t *testing.T) {
	l := NewLedger([]ProcessedPeriod{
		{Type: Reference, Period: MonthlyPeriod(2024, 2)},
		{Type: DispenseMonthly, Period: MonthlyPeriod(2024, 1)},
		{Type: Reference, Period: MonthlyPeriod(2023, 12)},
	})

	got := l.Entries()
	want := []ProcessedPeriod{
		{Type: DispenseMonthly, Period: MonthlyPeriod(2024, 1)},
		{Type: Reference, Period: MonthlyPeriod(2023, 12)},
		{Type: Reference, Period: MonthlyPeriod(2024, 2)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Entries = %v, want %v", got, want)
	}
}

func TestLedger_Without(t *testing.T) {
	l := NewLedger([]ProcessedPeriod{
		{Type: Reference, Period: MonthlyPeriod(2024, 1)},
		{Type: Reference, Period: MonthlyPeriod(2024, 2)},
	})

	w := l.Without(Reference, MonthlyPeriod(2024, 2))
	if w.ExistsPeriod(Reference, MonthlyPeriod(2024, 2)) || !w.ExistsPeriod(Reference, MonthlyPeriod(2024, 1)) {
		t.Error("Without removed the wrong period")
	}
	if !l.ExistsPeriod(Reference, MonthlyPeriod(2024, 2)) {
		t.Error("Without modified the original snapshot")
	}
}

// =============================================================================
// Period
// =============================================================================

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input   string
		want    Period
		wantErr bool
	}{
		{input: "2024-03", want: MonthlyPeriod(2024, 3)},
		{input: "2024-3", want: MonthlyPeriod(2024, 3)},
		{input: " 2024 ", want: YearlyPeriod(2024)},
		{input: "2024-00", wantErr: true},
		{input: "2024-13", wantErr: true},
		{input: "24-03", wantErr: true},
		{input: "2024-003", wantErr: true},
		{input: "march", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePeriod(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParsePeriod(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParsePeriod(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestPeriod_Navigation(t *testing.T) {
	if got := MonthlyPeriod(2024, 1).Prev(); got != MonthlyPeriod(2023, 12) {
		t.Errorf("Prev across year = %v", got)
	}
	if got := MonthlyPeriod(2024, 5).Prev(); got != MonthlyPeriod(2024, 4) {
		t.Errorf("Prev = %v", got)
	}
	if !MonthlyPeriod(2023, 12).Before(MonthlyPeriod(2024, 1)) || MonthlyPeriod(2024, 1).Before(MonthlyPeriod(2024, 1)) {
		t.Error("Before mismatch")
	}
	if !YearlyPeriod(2024).Before(MonthlyPeriod(2024, 1)) {
		t.Error("a yearly period should sort before its months")
	}
	if got := YearlyPeriod(2015).Start(); !got.Equal(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", got)
	}
	if MonthlyPeriod(2024, 3).String() != "2024-03" || YearlyPeriod(2015).String() != "2015" {
		t.Error("String mismatch")
	}
}

func TestParseDatasetType(t *testing.T) {
	got, err := ParseDatasetType(" dispense_monthly ")
	if err != nil || got != DispenseMonthly {
		t.Errorf("ParseDatasetType = %v, %v", got, err)
	}
	if _, err := ParseDatasetType("SALES"); err == nil {
		t.Error("expected error for unknown type")
	}
	if DistributionYearly.Granularity() != GranularityYearly || DispenseMonthly.DependsOn() != Reference {
		t.Error("dataset type metadata mismatch")
	}
	if Reference.DependsOn() != "" {
		t.Error("reference should not depend on anything")
	}
	if len(DatasetTypes()) != 5 {
		t.Errorf("DatasetTypes = %v", DatasetTypes())
	}
}
