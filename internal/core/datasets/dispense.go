package datasets

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sukl/internal/core"
)

// DispenseFact is the number of packages of a product dispensed by pharmacies.
type DispenseFact struct {
	ProductID    pgtype.UUID
	Code         string
	PackageCount int64
}

// Values returns the row for COPY in DispenseFactColumns order.
func (f DispenseFact) Values() []any {
	return []any{f.ProductID, f.Code, f.PackageCount}
}

// DispenseFactColumns must list columns in the order Values returns them.
var DispenseFactColumns = []string{"product_id", "sukl_code", "package_count"}

// DispenseColumns are the columns of the monthly pharmacy dispensing feed.
var DispenseColumns = []core.ColumnSpec{
	{Key: ColYear, Aliases: []string{"ROK", "Rok"}, Required: true},
	{Key: ColMonth, Aliases: []string{"MESIC", "Měsíc"}, Required: true},
	{Key: ColCode, Aliases: []string{"KOD_SUKL", "Kód SÚKL"}, Required: true},
	{Key: ColPackageCount, Aliases: []string{"POCET_BALENI", "Počet balení"}, Required: true},
}

func init() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Type:        core.DispenseMonthly,
			Label:       "Pharmacy dispensing",
			Description: "Monthly packages dispensed by pharmacies per product",
		},
		Columns:     DispenseColumns,
		MapFact:     MapDispense,
		FactTable:   "dispense_facts",
		FactColumns: DispenseFactColumns,
	})
}

// MapDispense builds the dispensing row mapper over lookup for period p.
func MapDispense(lookup core.ReferenceLookup, p core.Period) core.RowMapper[core.Fact] {
	return func(row core.LogicalRow, raw string) core.RowOutcome[core.Fact] {
		if _, err := checkRowPeriod(row, p); err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		product, code, err := resolveProduct(lookup, row)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		count, err := core.ParseCount(row, ColPackageCount)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		return core.Succeed[core.Fact](DispenseFact{
			ProductID:    pgUUID(product),
			Code:         code,
			PackageCount: count,
		})
	}
}
