package datasets

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sukl/internal/core"
)

// YearlyDistributionFact is one product movement from the yearly extracts
// published before the monthly catalog.
type YearlyDistributionFact struct {
	ProductID    pgtype.UUID
	Code         string
	Month        pgtype.Int2
	Movement     string
	PackageCount int64
	CustomerType pgtype.Text
}

// Values returns the row for COPY in YearlyDistributionFactColumns order.
func (f YearlyDistributionFact) Values() []any {
	return []any{f.ProductID, f.Code, f.Month, f.Movement, f.PackageCount, f.CustomerType}
}

// YearlyDistributionFactColumns must list columns in the order Values returns them.
var YearlyDistributionFactColumns = []string{
	"product_id", "sukl_code", "row_month", "movement", "package_count", "customer_type",
}

// YearlyDistributionColumns are the columns of the yearly distribution feed.
var YearlyDistributionColumns = []core.ColumnSpec{
	{Key: ColYear, Aliases: []string{"ROK", "Rok", "Období"}, Required: true},
	{Key: ColMonth, Aliases: []string{"MESIC", "Měsíc"}},
	{Key: ColCode, Aliases: []string{"KOD_SUKL", "Kód SÚKL"}, Required: true},
	{Key: ColMovement, Aliases: []string{"TYP_POHYBU", "Typ pohybu"}, Required: true},
	{Key: ColPackageCount, Aliases: []string{"POCET_BALENI", "Počet balení", "MNOZSTVI"}, Required: true},
	{Key: ColCustomerType, Aliases: []string{"TYP_ODBERATELE", "Typ odběratele"}},
}

func init() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Type:        core.DistributionYearly,
			Label:       "Distribution (yearly)",
			Description: "Yearly distributor movements preceding the monthly catalog",
		},
		Columns:     YearlyDistributionColumns,
		MapFact:     MapYearlyDistribution,
		FactTable:   "distribution_yearly_facts",
		FactColumns: YearlyDistributionFactColumns,
	})
}

// MapYearlyDistribution builds the yearly distribution row mapper over lookup for year p.
func MapYearlyDistribution(lookup core.ReferenceLookup, p core.Period) core.RowMapper[core.Fact] {
	return func(row core.LogicalRow, raw string) core.RowOutcome[core.Fact] {
		m, err := checkRowPeriod(row, p)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		month := pgtype.Int2{Int16: int16(m), Valid: m != 0}

		product, code, err := resolveProduct(lookup, row)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		movement, err := core.RequireText(row, ColMovement)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		count, err := core.ParseCount(row, ColPackageCount)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}

		customerType, _ := row.Get(ColCustomerType)
		return core.Succeed[core.Fact](YearlyDistributionFact{
			ProductID:    pgUUID(product),
			Code:         code,
			Month:        month,
			Movement:     NormalizeMovement(movement),
			PackageCount: count,
			CustomerType: core.ToPgText(customerType),
		})
	}
}
