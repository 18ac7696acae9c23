package datasets

import (
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sukl/internal/core"
)

// EPrescriptionFact counts electronic prescriptions of a product in one district.
type EPrescriptionFact struct {
	ProductID  pgtype.UUID
	Code       string
	District   string
	Prescribed int64
	Dispensed  pgtype.Int8
}

// Values returns the row for COPY in EPrescriptionFactColumns order.
func (f EPrescriptionFact) Values() []any {
	return []any{f.ProductID, f.Code, f.District, f.Prescribed, f.Dispensed}
}

// EPrescriptionFactColumns must list columns in the order Values returns them.
var EPrescriptionFactColumns = []string{"product_id", "sukl_code", "district", "prescribed", "dispensed"}

// EPrescriptionColumns are the columns of the monthly e-prescription feed.
var EPrescriptionColumns = []core.ColumnSpec{
	{Key: ColDistrict, Aliases: []string{"OKRES", "Okres", "Kód okresu"}, Required: true},
	{Key: ColCode, Aliases: []string{"KOD_SUKL", "Kód SÚKL"}, Required: true},
	{Key: ColPrescribed, Aliases: []string{"POCET_PREDEPSANO", "Počet předepsaných", "Předepsáno"}, Required: true},
	{Key: ColDispensed, Aliases: []string{"POCET_VYDANO", "Počet vydaných", "Vydáno"}},
}

func init() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Type:        core.EPrescriptionMonthly,
			Label:       "E-prescriptions",
			Description: "Monthly electronic prescriptions per product and district",
		},
		Columns:     EPrescriptionColumns,
		MapFact:     MapEPrescription,
		FactTable:   "eprescription_facts",
		FactColumns: EPrescriptionFactColumns,
	})
}

// MapEPrescription builds the e-prescription row mapper over lookup.
func MapEPrescription(lookup core.ReferenceLookup, _ core.Period) core.RowMapper[core.Fact] {
	return func(row core.LogicalRow, raw string) core.RowOutcome[core.Fact] {
		district, err := core.RequireText(row, ColDistrict)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		product, code, err := resolveProduct(lookup, row)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		prescribed, err := core.ParseCount(row, ColPrescribed)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		dispensed, err := optionalCount(row, ColDispensed)
		if err != nil {
			return core.FailWith[core.Fact](err, raw)
		}
		return core.Succeed[core.Fact](EPrescriptionFact{
			ProductID:  pgUUID(product),
			Code:       code,
			District:   district,
			Prescribed: prescribed,
			Dispensed:  dispensed,
		})
	}
}
