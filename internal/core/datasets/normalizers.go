package datasets

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sukl/internal/core"
)

// codeWidth is the width of a product code. Some extracts drop leading zeros.
const codeWidth = 7

// NormalizeCode trims a product code and restores leading zeros on
// all-digit codes.
func NormalizeCode(s string) string {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if s == "" || len(s) >= codeWidth {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return strings.Repeat("0", codeWidth-len(s)) + s
}

// movementTypes maps published movement labels to the stored code.
var movementTypes = map[string]string{
	"d":         "D",
	"dodávka":   "D",
	"dodavka":   "D",
	"v":         "V",
	"vratka":    "V",
	"vrácení":   "V",
	"vraceni":   "V",
	"z":         "Z",
	"zahraničí": "Z",
	"zahranici": "Z",
}

// NormalizeMovement maps a movement label to D (delivery), V (return) or
// Z (export). Unknown labels are returned uppercased.
func NormalizeMovement(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if code, ok := movementTypes[key]; ok {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// resolveProduct looks up the product code column against the catalog.
func resolveProduct(lookup core.ReferenceLookup, row core.LogicalRow) (core.ReferenceEntity, string, error) {
	code, err := core.RequireText(row, ColCode)
	if err != nil {
		return core.ReferenceEntity{}, "", err
	}
	code = NormalizeCode(code)

	entity, ok := lookup.LookupByNaturalCode(code)
	if !ok {
		return core.ReferenceEntity{}, code, &core.FieldError{
			Column: ColCode,
			Reason: core.UnknownReference,
			Detail: fmt.Sprintf("product %s is not in the reference catalog", code),
		}
	}
	return entity, code, nil
}

// checkRowPeriod rejects rows stamped with a period other than the one
// imported and returns the row month, 0 when the row carries none. The year
// cell may hold a combined period ("2016.03", "03/2016"); its month must then
// agree with a separate month cell.
func checkRowPeriod(row core.LogicalRow, want core.Period) (int, error) {
	stamped, err := core.ParsePeriodCell(row, ColYear)
	if err != nil {
		return 0, err
	}
	if stamped.Year != want.Year {
		return 0, &core.FieldError{
			Column: ColYear,
			Reason: core.ParseError,
			Detail: fmt.Sprintf("row year %d does not match period %s", stamped.Year, want),
		}
	}

	month := stamped.Month
	if _, ok := row.Get(ColMonth); ok {
		m, err := core.ParseMonth(row, ColMonth)
		if err != nil {
			return 0, err
		}
		if month != 0 && m != month {
			return 0, &core.FieldError{
				Column: ColMonth,
				Reason: core.ParseError,
				Detail: fmt.Sprintf("row month %d contradicts period cell %s", m, stamped),
			}
		}
		month = m
	}

	if !want.IsYearly() && month != 0 && month != want.Month {
		return 0, &core.FieldError{
			Column: ColMonth,
			Reason: core.ParseError,
			Detail: fmt.Sprintf("row month %d does not match period %s", month, want),
		}
	}
	return month, nil
}

// optionalCount parses a count cell that may be absent.
func optionalCount(row core.LogicalRow, key core.ColumnKey) (pgtype.Int8, error) {
	if _, ok := row.Get(key); !ok {
		return pgtype.Int8{Valid: false}, nil
	}
	n, err := core.ParseCount(row, key)
	if err != nil {
		return pgtype.Int8{}, err
	}
	return pgtype.Int8{Int64: n, Valid: true}, nil
}

func pgUUID(e core.ReferenceEntity) pgtype.UUID {
	return pgtype.UUID{Bytes: e.StorageID, Valid: true}
}

// normalizeATC uppercases an ATC code and drops inner spaces.
func normalizeATC(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
