package core

// convert.go provides cell conversion helpers for dataset mappers.
//
// The authority publishes Czech-formatted numbers and several period layouts:
//   - Decimal comma with space or NBSP thousands separators ("1 234,50")
//   - Negative counts for returns ("-12")
//   - Periods as "2024", "03", "2024.03", "2024-03", "202403" or "03/2024"
//   - Excel formula prefixes (="value") and stray quotes
//
// Helpers return *FieldError so every mapper classifies a bad cell the same
// way: absent required cells are MISSING_ATTRIBUTE, unparseable cells are
// PARSE_ERROR. FailWith turns such an error into a RowOutcome.

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

var (
	periodDotted     = regexp.MustCompile(`^(\d{4})[.\-/](\d{1,2})$`)
	periodMonthFirst = regexp.MustCompile(`^(\d{1,2})[./](\d{4})$`)
	periodCompact    = regexp.MustCompile(`^(\d{4})(\d{2})$`)
)

// thousandsSeparators are dropped from numbers before parsing.
var thousandsSeparators = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "")

// FieldError classifies a single bad cell.
type FieldError struct {
	Column ColumnKey
	Reason FailureReason
	Detail string
}

func (e *FieldError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s %s: %s", e.Reason, e.Column, e.Detail)
}

func missing(key ColumnKey) error {
	return &FieldError{Column: key, Reason: MissingAttribute, Detail: "required value is empty"}
}

func unparseable(key ColumnKey, value, what string) error {
	return &FieldError{Column: key, Reason: ParseError, Detail: fmt.Sprintf("invalid %s %q", what, value)}
}

// FailWith converts a helper error into a failed outcome.
// Errors that are not *FieldError become column-less PARSE_ERROR failures.
func FailWith[T any](err error, rawLine string) RowOutcome[T] {
	var fe *FieldError
	if errors.As(err, &fe) {
		return Fail[T](fe.Reason, fe.Column, rawLine, fe.Detail)
	}
	return Fail[T](ParseError, "", rawLine, err.Error())
}

// RequireText returns the cell value or a MISSING_ATTRIBUTE error.
func RequireText(row LogicalRow, key ColumnKey) (string, error) {
	v, ok := row.Get(key)
	if !ok {
		return "", missing(key)
	}
	return v, nil
}

// ParseCount parses a required integer cell. Signs are allowed, thousands
// separators are ignored.
func ParseCount(row LogicalRow, key ColumnKey) (int64, error) {
	v, ok := row.Get(key)
	if !ok {
		return 0, missing(key)
	}
	n, err := parseInteger(v)
	if err != nil {
		return 0, unparseable(key, v, "count")
	}
	return n, nil
}

func parseInteger(s string) (int64, error) {
	s = thousandsSeparators.Replace(strings.TrimSpace(s))
	// "12,0" and "12.00" appear in some extracts for whole counts
	if i := strings.IndexAny(s, ",."); i >= 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	return strconv.ParseInt(s, 10, 64)
}

// NormalizeDecimal rewrites a Czech-formatted number into the dotted form.
// Returns false when the value is not a number.
func NormalizeDecimal(s string) (string, bool) {
	s = thousandsSeparators.Replace(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "Kč"), "CZK")
	s = strings.TrimSpace(s)

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		// "1.234,50": dots group thousands
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case hasComma:
		s = strings.Replace(s, ",", ".", 1)
	}

	if !numericRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// ParseDecimal parses an optional decimal cell into pgtype.Numeric.
// Absent cells yield an invalid (NULL) numeric and no error.
func ParseDecimal(row LogicalRow, key ColumnKey) (pgtype.Numeric, error) {
	v, ok := row.Get(key)
	if !ok {
		return pgtype.Numeric{Valid: false}, nil
	}
	s, ok := NormalizeDecimal(v)
	if !ok {
		return pgtype.Numeric{}, unparseable(key, v, "decimal")
	}
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, unparseable(key, v, "decimal")
	}
	return n, nil
}

// ParseYear parses a required four-digit year cell.
func ParseYear(row LogicalRow, key ColumnKey) (int, error) {
	v, ok := row.Get(key)
	if !ok {
		return 0, missing(key)
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1900 || y > 9999 {
		return 0, unparseable(key, v, "year")
	}
	return y, nil
}

// ParseMonth parses a required month cell ("3", "03").
func ParseMonth(row LogicalRow, key ColumnKey) (int, error) {
	v, ok := row.Get(key)
	if !ok {
		return 0, missing(key)
	}
	m, err := strconv.Atoi(v)
	if err != nil || m < 1 || m > 12 {
		return 0, unparseable(key, v, "month")
	}
	return m, nil
}

// ParsePeriodCell parses a combined period cell. A bare year yields a
// yearly period.
func ParsePeriodCell(row LogicalRow, key ColumnKey) (Period, error) {
	v, ok := row.Get(key)
	if !ok {
		return Period{}, missing(key)
	}
	p, ok := parsePeriodText(v)
	if !ok {
		return Period{}, unparseable(key, v, "period")
	}
	return p, nil
}

func parsePeriodText(s string) (Period, bool) {
	var year, month string
	switch {
	case periodDotted.MatchString(s):
		m := periodDotted.FindStringSubmatch(s)
		year, month = m[1], m[2]
	case periodMonthFirst.MatchString(s):
		m := periodMonthFirst.FindStringSubmatch(s)
		month, year = m[1], m[2]
	case periodCompact.MatchString(s):
		m := periodCompact.FindStringSubmatch(s)
		year, month = m[1], m[2]
	default:
		year = s
	}

	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 9999 {
		return Period{}, false
	}
	p := Period{Year: y}
	if month != "" {
		mo, err := strconv.Atoi(month)
		if err != nil || mo < 1 || mo > 12 {
			return Period{}, false
		}
		p.Month = mo
	}
	return p, true
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace including NBSP
// - Removes a stray byte order mark
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(strings.Trim(s, "\u00a0"))

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
