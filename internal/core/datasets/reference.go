package datasets

import (
	"github.com/JonMunkholm/sukl/internal/core"
)

// Reference attribute names stored on each catalog entity.
const (
	AttrName         = "name"
	AttrStrength     = "strength"
	AttrForm         = "form"
	AttrPackage      = "package"
	AttrRoute        = "route"
	AttrATC          = "atc"
	AttrHolder       = "holder"
	AttrRegistration = "registration"
	AttrSupplied     = "supplied"
)

// referenceAttributes binds optional columns to entity attributes.
var referenceAttributes = []struct {
	col  core.ColumnKey
	attr string
}{
	{ColName, AttrName},
	{ColStrength, AttrStrength},
	{ColForm, AttrForm},
	{ColPackage, AttrPackage},
	{ColRoute, AttrRoute},
	{ColATC, AttrATC},
	{ColHolder, AttrHolder},
	{ColRegistration, AttrRegistration},
	{ColSupplied, AttrSupplied},
}

// ReferenceMaterial lists the attributes that create a new catalog version.
// The supply flag changes month to month and is not material.
var ReferenceMaterial = []string{
	AttrName,
	AttrStrength,
	AttrForm,
	AttrPackage,
	AttrRoute,
	AttrATC,
	AttrHolder,
	AttrRegistration,
}

// ReferenceColumns are the columns of the medicinal products catalog.
var ReferenceColumns = []core.ColumnSpec{
	{Key: ColCode, Aliases: []string{"KOD_SUKL", "Kód SÚKL", "KOD SUKL"}, Required: true},
	{Key: ColName, Aliases: []string{"NAZEV", "Název"}, Required: true},
	{Key: ColStrength, Aliases: []string{"SILA", "Síla"}},
	{Key: ColForm, Aliases: []string{"FORMA", "Léková forma"}},
	{Key: ColPackage, Aliases: []string{"BALENI", "Balení"}},
	{Key: ColRoute, Aliases: []string{"CESTA", "Cesta podání"}},
	{Key: ColATC, Aliases: []string{"ATC_WHO", "ATC"}},
	{Key: ColHolder, Aliases: []string{"DRZ", "Držitel rozhodnutí"}},
	{Key: ColRegistration, Aliases: []string{"REG", "Stav registrace"}},
	{Key: ColSupplied, Aliases: []string{"DODAVKY", "Dodávky"}},
}

func init() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Type:        core.Reference,
			Label:       "Medicinal products",
			Description: "Monthly catalog of registered medicinal products",
		},
		Columns:      ReferenceColumns,
		MapReference: MapReference,
		Material:     ReferenceMaterial,
	})
}

// MapReference maps one catalog row to an incoming reference record.
func MapReference(row core.LogicalRow, raw string) core.RowOutcome[core.IncomingRecord] {
	code, err := core.RequireText(row, ColCode)
	if err != nil {
		return core.FailWith[core.IncomingRecord](err, raw)
	}
	if _, err := core.RequireText(row, ColName); err != nil {
		return core.FailWith[core.IncomingRecord](err, raw)
	}

	attrs := make(map[string]string, len(referenceAttributes))
	for _, ra := range referenceAttributes {
		if v, ok := row.Get(ra.col); ok {
			attrs[ra.attr] = v
		}
	}
	if atc, ok := attrs[AttrATC]; ok {
		attrs[AttrATC] = normalizeATC(atc)
	}

	return core.Succeed(core.IncomingRecord{
		Key:        core.NewBusinessKey(NormalizeCode(code)),
		Attributes: attrs,
		RawLine:    raw,
	})
}
