package datasets

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sukl/internal/core"
)

// DistributionFact is one distributor movement of a product.
type DistributionFact struct {
	ProductID    pgtype.UUID
	Code         string
	Movement     string
	PackageCount int64
	Customer     string
	CustomerType pgtype.Text
	UnitPrice    pgtype.Numeric
}

// Values returns the row for COPY in DistributionFactColumns order.
func (f DistributionFact) Values() []any {
	return []any{f.ProductID, f.Code, f.Movement, f.PackageCount, f.Customer, f.CustomerType, f.UnitPrice}
}

// DistributionFactColumns must list columns in the order Values returns them.
var DistributionFactColumns = []string{
	"product_id", "sukl_code", "movement", "package_count",
	"customer_code", "customer_type", "unit_price",
}

// DistributionColumns are the columns of the monthly distribution feed.
var DistributionColumns = []core.ColumnSpec{
	{Key: ColCode, Aliases: []string{"Kód SÚKL", "KOD_SUKL", "KOD SUKL"}, Required: true},
	{Key: ColMovement, Aliases: []string{"Typ pohybu", "TYP_POHYBU"}, Required: true},
	{Key: ColPackageCount, Aliases: []string{"Počet balení", "Počet balení/kusů", "POCET_BALENI", "MNOZSTVI"}, Required: true},
	{Key: ColCustomer, Aliases: []string{"Kód odběratele", "KOD_ODBERATELE", "ICZ"}, Required: true},
	{Key: ColCustomerType, Aliases: []string{"Typ odběratele", "TYP_ODBERATELE"}},
	{Key: ColPrice, Aliases: []string{"Cena za balení", "Cena", "CENA"}},
}

func init() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Type:        core.DistributionMonthly,
			Label:       "Distribution",
			Description: "Monthly distributor deliveries and returns per product",
		},
		Columns:     DistributionColumns,
		MapFact:     MapDistribution,
		FactTable:   "distribution_facts",
		FactColumns: DistributionFactColumns,
	})
}

// MapDistribution builds the distribution row mapper over lookup.
func MapDistribution(lookup core.ReferenceLookup, _ core.Period) core.RowMapper[core.Fact] {
	return func(row core.LogicalRow, raw string) core.RowOutcome[core.Fact] {
		fact, err := buildDistribution(lookup, row)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		return core.Succeed[core.Fact](fact)
	}
}

func buildDistribution(lookup core.ReferenceLookup, row core.LogicalRow) (DistributionFact, error) {
	product, code, err := resolveProduct(lookup, row)
	if err != nil {
		return DistributionFact{}, err
	}
	movement, err := core.RequireText(row, ColMovement)
	if err != nil {
		return DistributionFact{}, err
	}
	count, err := core.ParseCount(row, ColPackageCount)
	if err != nil {
		return DistributionFact{}, err
	}
	customer, err := core.RequireText(row, ColCustomer)
	if err != nil {
		return DistributionFact{}, err
	}
	price, err := core.ParseDecimal(row, ColPrice)
	if err != nil {
		return DistributionFact{}, err
	}

	customerType, _ := row.Get(ColCustomerType)
	return DistributionFact{
		ProductID:    pgUUID(product),
		Code:         code,
		Movement:     NormalizeMovement(movement),
		PackageCount: count,
		Customer:     customer,
		CustomerType: core.ToPgText(customerType),
		UnitPrice:    price,
	}, nil
}
