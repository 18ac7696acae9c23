package core

// eligibility.go decides whether a (dataset type, period) may be processed now.
//
// Rules are evaluated in order and the first match wins:
//
//	already-processed    exact period is in the ledger            -> not eligible
//	reference-bootstrap  REFERENCE at the first available period  -> eligible
//	reference-chain      REFERENCE needs the previous month       -> eligible iff present
//	monthly-reference    monthly feed needs REFERENCE same month  -> eligible iff present
//	yearly-once          yearly feed already has any entry in year -> not eligible
//	yearly-pre-catalog   year before the first REFERENCE year     -> eligible iff any REFERENCE
//	yearly-future        year after the clock's year              -> not eligible
//	yearly-coverage      REFERENCE for Jan..Dec (or current month) -> eligible iff all present
//
// The evaluator never writes to the ledger.

import (
	"fmt"
	"time"
)

// LedgerView is the read side of the processing ledger.
type LedgerView interface {
	ExistsPeriod(t DatasetType, p Period) bool
	ExistsAny(t DatasetType) bool
	// PeriodsInYear returns the months recorded for t in year; 0 stands for a yearly entry.
	PeriodsInYear(t DatasetType, year int) []int
}

// Rule names the eligibility rule that produced a Decision.
type Rule string

const (
	RuleInvalidPeriod      Rule = "invalid-period"
	RuleAlreadyProcessed   Rule = "already-processed"
	RuleReferenceBootstrap Rule = "reference-bootstrap"
	RuleReferenceChain     Rule = "reference-chain"
	RuleMonthlyReference   Rule = "monthly-reference"
	RuleYearlyOnce         Rule = "yearly-once"
	RuleYearlyPreCatalog   Rule = "yearly-pre-catalog"
	RuleYearlyFuture       Rule = "yearly-future"
	RuleYearlyCoverage     Rule = "yearly-coverage"
)

// Decision is the outcome of one evaluation. Ineligibility is not an error.
type Decision struct {
	Eligible bool   `json:"eligible"`
	Rule     Rule   `json:"rule"`
	Reason   string `json:"reason"`
}

func allow(rule Rule, format string, args ...any) Decision {
	return Decision{Eligible: true, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

func deny(rule Rule, format string, args ...any) Decision {
	return Decision{Eligible: false, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Evaluator applies the eligibility rules against a ledger view.
type Evaluator struct {
	// FirstReference is the first REFERENCE period the authority published.
	FirstReference Period

	// Now is the evaluation clock. Defaults to time.Now.
	Now func() time.Time
}

// NewEvaluator creates an evaluator with the wall clock.
func NewEvaluator(firstReference Period) *Evaluator {
	return &Evaluator{FirstReference: firstReference, Now: time.Now}
}

func (e *Evaluator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// CanProcess reports whether (t, p) is eligible.
func (e *Evaluator) CanProcess(ledger LedgerView, t DatasetType, p Period) bool {
	return e.Evaluate(ledger, t, p).Eligible
}

// Evaluate applies the rules in order and returns the first match.
func (e *Evaluator) Evaluate(ledger LedgerView, t DatasetType, p Period) Decision {
	if d, bad := checkGranularity(t, p); bad {
		return d
	}

	if ledger.ExistsPeriod(t, p) {
		return deny(RuleAlreadyProcessed, "%s %s is already processed", t, p)
	}

	if t.IsReference() {
		if p == e.FirstReference {
			return allow(RuleReferenceBootstrap, "%s is the first available reference period", p)
		}
		prev := p.Prev()
		if ledger.ExistsPeriod(Reference, prev) {
			return allow(RuleReferenceChain, "previous reference period %s is processed", prev)
		}
		return deny(RuleReferenceChain, "previous reference period %s is not processed", prev)
	}

	if t.Granularity() == GranularityMonthly {
		if ledger.ExistsPeriod(t.DependsOn(), p) {
			return allow(RuleMonthlyReference, "reference for %s is processed", p)
		}
		return deny(RuleMonthlyReference, "reference for %s is not processed", p)
	}

	return e.evaluateYearly(ledger, t, p.Year)
}

func (e *Evaluator) evaluateYearly(ledger LedgerView, t DatasetType, year int) Decision {
	if len(ledger.PeriodsInYear(t, year)) > 0 {
		return deny(RuleYearlyOnce, "%s already has entries in %d", t, year)
	}

	ref := t.DependsOn()
	if year < e.FirstReference.Year {
		if ledger.ExistsAny(ref) {
			return allow(RuleYearlyPreCatalog, "%d precedes the monthly catalog and a reference is processed", year)
		}
		return deny(RuleYearlyPreCatalog, "%d precedes the monthly catalog but no reference is processed yet", year)
	}

	now := e.now()
	if year > now.Year() {
		return deny(RuleYearlyFuture, "%d is in the future", year)
	}

	lastMonth := 12
	if year == now.Year() {
		lastMonth = int(now.Month())
	}

	have := make(map[int]bool, 12)
	for _, m := range ledger.PeriodsInYear(ref, year) {
		have[m] = true
	}
	for m := 1; m <= lastMonth; m++ {
		if !have[m] {
			return deny(RuleYearlyCoverage, "reference for %s is missing", MonthlyPeriod(year, m))
		}
	}
	return allow(RuleYearlyCoverage, "reference covers %d-01 through %d-%02d", year, year, lastMonth)
}

func checkGranularity(t DatasetType, p Period) (Decision, bool) {
	if !t.Valid() {
		return deny(RuleInvalidPeriod, "unknown dataset type %q", t), true
	}
	if !p.Valid() {
		return deny(RuleInvalidPeriod, "invalid period %d-%d", p.Year, p.Month), true
	}
	switch t.Granularity() {
	case GranularityMonthly:
		if p.IsYearly() {
			return deny(RuleInvalidPeriod, "%s is monthly and needs a month", t), true
		}
	case GranularityYearly:
		if !p.IsYearly() {
			return deny(RuleInvalidPeriod, "%s is yearly and takes no month", t), true
		}
	}
	return Decision{}, false
}
