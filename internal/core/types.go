package core

// types.go declares the domain vocabulary shared by the importer, the
// eligibility evaluator and the reconciler.

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DatasetType identifies one published feed. The set is closed.
type DatasetType string

const (
	// Reference is the monthly medicinal products catalog.
	Reference DatasetType = "REFERENCE"

	DistributionMonthly  DatasetType = "DISTRIBUTION_MONTHLY"
	DispenseMonthly      DatasetType = "DISPENSE_MONTHLY"
	EPrescriptionMonthly DatasetType = "EPRESCRIPTION_MONTHLY"

	// DistributionYearly covers the years before the catalog was published monthly.
	DistributionYearly DatasetType = "DISTRIBUTION_YEARLY"
)

// Granularity is the processing unit of a dataset type.
type Granularity int

const (
	GranularityMonthly Granularity = iota
	GranularityYearly
)

func (g Granularity) String() string {
	if g == GranularityYearly {
		return "yearly"
	}
	return "monthly"
}

type datasetTypeInfo struct {
	granularity Granularity
	dependsOn   DatasetType // empty for the reference type itself
}

var datasetTypes = map[DatasetType]datasetTypeInfo{
	Reference:            {granularity: GranularityMonthly},
	DistributionMonthly:  {granularity: GranularityMonthly, dependsOn: Reference},
	DispenseMonthly:      {granularity: GranularityMonthly, dependsOn: Reference},
	EPrescriptionMonthly: {granularity: GranularityMonthly, dependsOn: Reference},
	DistributionYearly:   {granularity: GranularityYearly, dependsOn: Reference},
}

// Valid reports whether t is a member of the closed set.
func (t DatasetType) Valid() bool {
	_, ok := datasetTypes[t]
	return ok
}

// IsReference reports whether t is the reference catalog type.
func (t DatasetType) IsReference() bool {
	return t == Reference
}

// Granularity returns the processing granularity of t.
func (t DatasetType) Granularity() Granularity {
	return datasetTypes[t].granularity
}

// DependsOn returns the reference type a transactional feed is interpreted against.
func (t DatasetType) DependsOn() DatasetType {
	return datasetTypes[t].dependsOn
}

// ParseDatasetType parses a dataset type name case-insensitively.
func ParseDatasetType(s string) (DatasetType, error) {
	t := DatasetType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown dataset type: %q", s)
	}
	return t, nil
}

// DatasetTypes returns all dataset types sorted by name.
func DatasetTypes() []DatasetType {
	result := make([]DatasetType, 0, len(datasetTypes))
	for t := range datasetTypes {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Period is a processing unit. Month is 0 for yearly periods.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
}

// MonthlyPeriod returns the period for one calendar month.
func MonthlyPeriod(year, month int) Period {
	return Period{Year: year, Month: month}
}

// YearlyPeriod returns the period covering a whole year.
func YearlyPeriod(year int) Period {
	return Period{Year: year}
}

// IsYearly reports whether p has no month.
func (p Period) IsYearly() bool {
	return p.Month == 0
}

// Valid reports whether the month is 0 (yearly) or 1..12.
func (p Period) Valid() bool {
	return p.Year > 0 && p.Month >= 0 && p.Month <= 12
}

// Prev returns the immediately preceding calendar month.
func (p Period) Prev() Period {
	if p.Month <= 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Before reports whether p starts before o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// Start returns the first day of the period in UTC.
func (p Period) Start() time.Time {
	month := p.Month
	if month == 0 {
		month = 1
	}
	return time.Date(p.Year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) String() string {
	if p.IsYearly() {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// ParsePeriod parses "2024-03" (monthly) or "2024" (yearly).
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	yearText, monthText, monthly := strings.Cut(s, "-")

	var p Period
	year, err := strconv.Atoi(yearText)
	if err != nil || len(yearText) != 4 {
		return Period{}, fmt.Errorf("invalid period %q: use YYYY-MM or YYYY", s)
	}
	p.Year = year

	if monthly {
		month, err := strconv.Atoi(monthText)
		if err != nil || len(monthText) > 2 || month < 1 {
			return Period{}, fmt.Errorf("invalid period %q: use YYYY-MM or YYYY", s)
		}
		p.Month = month
	}
	if !p.Valid() {
		return Period{}, fmt.Errorf("invalid period %q: use YYYY-MM or YYYY", s)
	}
	return p, nil
}

// ProcessedPeriod is one completed ledger entry. Entries are append-only.
type ProcessedPeriod struct {
	Type        DatasetType `json:"datasetType"`
	Period      Period      `json:"period"`
	CompletedAt time.Time   `json:"completedAt"`
}

// Descriptor announces one published file for one dataset period.
type Descriptor struct {
	Type     DatasetType `json:"datasetType"`
	Period   Period      `json:"period"`
	Location string      `json:"location"`
}

// ColumnKey is the caller-declared identifier of a logical column.
type ColumnKey string

// ColumnSpec declares one logical column and the header texts it may appear under.
type ColumnSpec struct {
	Key      ColumnKey
	Aliases  []string // Matched case-insensitively, first match wins
	Required bool     // Import fails when no alias is present in the header
}

// LogicalRow maps column keys to trimmed, non-blank cell values.
type LogicalRow map[ColumnKey]string

// Get returns the value for key and whether it is present.
func (r LogicalRow) Get(key ColumnKey) (string, bool) {
	v, ok := r[key]
	return v, ok
}

// FailureReason classifies a rejected row.
type FailureReason string

const (
	MissingAttribute FailureReason = "MISSING_ATTRIBUTE"
	UnknownReference FailureReason = "UNKNOWN_REFERENCE"
	DuplicateKey     FailureReason = "DUPLICATE_KEY"
	ParseError       FailureReason = "PARSE_ERROR"
)

// RowFailure describes one rejected row.
type RowFailure struct {
	Line    int           `json:"line"` // 1-based physical line, header is line 1
	Reason  FailureReason `json:"reason"`
	Column  ColumnKey     `json:"column,omitempty"`
	RawLine string        `json:"rawLine"`
	Detail  string        `json:"detail,omitempty"`
}

// RowOutcome is the result of mapping one logical row.
type RowOutcome[T any] struct {
	record  T
	failure *RowFailure
}

// Succeed returns a successful outcome.
func Succeed[T any](record T) RowOutcome[T] {
	return RowOutcome[T]{record: record}
}

// Fail returns a failed outcome. column may be empty.
func Fail[T any](reason FailureReason, column ColumnKey, rawLine, detail string) RowOutcome[T] {
	return RowOutcome[T]{failure: &RowFailure{
		Reason:  reason,
		Column:  column,
		RawLine: rawLine,
		Detail:  detail,
	}}
}

// OK reports whether the row was accepted.
func (o RowOutcome[T]) OK() bool {
	return o.failure == nil
}

// Record returns the mapped record. Zero value for failures.
func (o RowOutcome[T]) Record() T {
	return o.record
}

// Failure returns the failure and true for rejected rows.
func (o RowOutcome[T]) Failure() (RowFailure, bool) {
	if o.failure == nil {
		return RowFailure{}, false
	}
	return *o.failure, true
}

// RowMapper maps one logical row to a typed record. Mappers must not mutate shared state.
type RowMapper[T any] func(row LogicalRow, rawLine string) RowOutcome[T]

// BusinessKey is the natural identity of a reference entity.
type BusinessKey string

// NewBusinessKey joins natural identifiers into a composite key.
func NewBusinessKey(parts ...string) BusinessKey {
	return BusinessKey(strings.Join(parts, "|"))
}

// Parts splits the composite key back into its identifiers.
func (k BusinessKey) Parts() []string {
	return strings.Split(string(k), "|")
}

// ReferenceEntity is one stored version of a reference catalog entry.
type ReferenceEntity struct {
	StorageID    uuid.UUID         `json:"storageId"`
	Key          BusinessKey       `json:"businessKey"`
	Attributes   map[string]string `json:"attributes"`
	FirstSeen    time.Time         `json:"firstSeen"`
	MissingSince *time.Time        `json:"missingSince,omitempty"`
	Version      int               `json:"version"`
}

// Active reports whether the entity is present in the latest snapshot.
func (e ReferenceEntity) Active() bool {
	return e.MissingSince == nil
}

// IncomingRecord is one reference row from a new snapshot.
type IncomingRecord struct {
	Key        BusinessKey
	Attributes map[string]string
	Line       int
	RawLine    string
}

// AtLine returns a copy of r stamped with its source line.
func (r IncomingRecord) AtLine(line int) IncomingRecord {
	r.Line = line
	return r
}

// ReferenceLookup resolves natural codes against a reconciled catalog.
type ReferenceLookup interface {
	LookupByNaturalCode(code string) (ReferenceEntity, bool)
}
