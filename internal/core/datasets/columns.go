package datasets

import "github.com/JonMunkholm/sukl/internal/core"

// Column keys shared by the dataset definitions.
const (
	ColCode         core.ColumnKey = "CODE"
	ColName         core.ColumnKey = "NAME"
	ColStrength     core.ColumnKey = "STRENGTH"
	ColForm         core.ColumnKey = "FORM"
	ColPackage      core.ColumnKey = "PACKAGE"
	ColRoute        core.ColumnKey = "ROUTE"
	ColATC          core.ColumnKey = "ATC"
	ColHolder       core.ColumnKey = "HOLDER"
	ColRegistration core.ColumnKey = "REGISTRATION"
	ColSupplied     core.ColumnKey = "SUPPLIED"

	ColYear         core.ColumnKey = "YEAR"
	ColMonth        core.ColumnKey = "MONTH"
	ColMovement     core.ColumnKey = "MOVEMENT"
	ColPackageCount core.ColumnKey = "PACKAGE_COUNT"
	ColCustomer     core.ColumnKey = "CUSTOMER"
	ColCustomerType core.ColumnKey = "CUSTOMER_TYPE"
	ColPrice        core.ColumnKey = "PRICE"
	ColDistrict     core.ColumnKey = "DISTRICT"
	ColPrescribed   core.ColumnKey = "PRESCRIBED"
	ColDispensed    core.ColumnKey = "DISPENSED"
)
