/*
seed.go - Seeded reference dataset

PURPOSE:
  A realistic dataset covering compliance periods 2019-2025, used by the
  demo server and the test suite. A production deployment replaces this
  with rows loaded from the regulator's reference tables; the Oracle does
  not care where the Dataset came from.
*/
package refdata

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
)

// Well-known IDs in the seeded dataset. Tests and the demo server refer
// to these instead of magic numbers.
const (
	CategoryGasoline = 1
	CategoryDiesel   = 2
	CategoryJetFuel  = 3

	FuelEthanol     = 1
	FuelBiodiesel   = 2
	FuelHDRD        = 3
	FuelGasoline    = 4
	FuelDiesel      = 5
	FuelJetFuel     = 6
	FuelElectricity = 7
	FuelOther       = 8

	EndUseLightDuty = 1
	EndUseOther     = 2

	ProvisionDefaultCI  = 1
	ProvisionFuelCode   = 2
	ProvisionApprovedCI = 3

	CodeEthanolBC   = 1
	CodeBiodieselBC = 2
	CodeExpired     = 3
)

// PeriodFor maps a calendar year to its seeded period ID.
func PeriodFor(year int) core.PeriodID {
	return core.PeriodID(year - 2018)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// Seed returns the built-in dataset.
func Seed() Dataset {
	ds := Dataset{
		FuelCategories: []FuelCategory{
			{ID: CategoryGasoline, Name: "Gasoline"},
			{ID: CategoryDiesel, Name: "Diesel"},
			{ID: CategoryJetFuel, Name: "Jet fuel"},
		},
		FuelTypes: []FuelType{
			{ID: FuelEthanol, Name: "Ethanol", Units: "L", Renewable: true},
			{ID: FuelBiodiesel, Name: "Biodiesel", Units: "L", Renewable: true},
			{ID: FuelHDRD, Name: "HDRD", Units: "L", Renewable: true},
			{ID: FuelGasoline, Name: "Fossil-derived gasoline", Units: "L"},
			{ID: FuelDiesel, Name: "Fossil-derived diesel", Units: "L"},
			{ID: FuelJetFuel, Name: "Fossil-derived jet fuel", Units: "L"},
			{ID: FuelElectricity, Name: "Electricity", Units: "kWh"},
			{ID: FuelOther, Name: "Other", Units: "L", Unrecognized: true},
		},
		EndUses: []EndUseType{
			{ID: EndUseLightDuty, Name: "Light duty motor vehicles"},
			{ID: EndUseOther, Name: "Other or unknown"},
		},
		Provisions: []Provision{
			{ID: ProvisionDefaultCI, Name: "Default carbon intensity - section 19 (b) (ii)"},
			{ID: ProvisionFuelCode, Name: "Fuel code - section 19 (b) (i)", FuelCodeRequired: true},
			{ID: ProvisionApprovedCI, Name: "Approved carbon intensity - section 19 (a)", OverridePermitted: true},
		},
		FuelCodes: []FuelCode{
			{ID: CodeEthanolBC, Code: "BCLCF102.5", FuelTypeID: FuelEthanol,
				CarbonIntensity: d("30"), Status: FuelCodeApproved,
				EffectiveDate: date(2019, time.January, 1), ExpirationDate: date(2030, time.December, 31)},
			{ID: CodeBiodieselBC, Code: "BCLCF201.1", FuelTypeID: FuelBiodiesel,
				CarbonIntensity: d("4.31"), Status: FuelCodeApproved,
				EffectiveDate: date(2019, time.January, 1), ExpirationDate: date(2030, time.December, 31)},
			{ID: CodeExpired, Code: "BCLCF088.2", FuelTypeID: FuelEthanol,
				CarbonIntensity: d("25.10"), Status: FuelCodeApproved,
				EffectiveDate: date(2015, time.January, 1), ExpirationDate: date(2020, time.December, 31)},
		},
	}

	for year := 2019; year <= 2025; year++ {
		id := PeriodFor(year)
		ds.Periods = append(ds.Periods, CompliancePeriod{
			ID:             id,
			Description:    date(year, time.January, 1).Format("2006"),
			EffectiveDate:  date(year, time.January, 1),
			ExpirationDate: date(year, time.December, 31),
		})

		ds.EnergyDensities = append(ds.EnergyDensities,
			EnergyDensity{PeriodID: id, FuelTypeID: FuelEthanol, Density: d("23.58"), Units: "MJ/L"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelBiodiesel, Density: d("35.40"), Units: "MJ/L"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelHDRD, Density: d("37.89"), Units: "MJ/L"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelGasoline, Density: d("34.69"), Units: "MJ/L"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelDiesel, Density: d("38.65"), Units: "MJ/L"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelJetFuel, Density: d("37.40"), Units: "MJ/L"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelElectricity, Density: d("3.60"), Units: "MJ/kWh"},
			EnergyDensity{PeriodID: id, FuelTypeID: FuelOther, Density: d("34.69"), Units: "MJ/L"},
		)

		ds.DefaultCIs = append(ds.DefaultCIs,
			DefaultCI{PeriodID: id, FuelTypeID: FuelEthanol, CI: d("93.67")},
			DefaultCI{PeriodID: id, FuelTypeID: FuelBiodiesel, CI: d("100.21")},
			DefaultCI{PeriodID: id, FuelTypeID: FuelHDRD, CI: d("100.21")},
			DefaultCI{PeriodID: id, FuelTypeID: FuelGasoline, CI: d("93.67")},
			DefaultCI{PeriodID: id, FuelTypeID: FuelDiesel, CI: d("100.21")},
			DefaultCI{PeriodID: id, FuelTypeID: FuelJetFuel, CI: d("88.83")},
			DefaultCI{PeriodID: id, FuelTypeID: FuelElectricity, CI: d("12.14")},
		)

		ds.CategoryCIs = append(ds.CategoryCIs,
			CategoryCI{PeriodID: id, FuelCategoryID: CategoryGasoline, CI: d("93.67")},
			CategoryCI{PeriodID: id, FuelCategoryID: CategoryDiesel, CI: d("100.21")},
			CategoryCI{PeriodID: id, FuelCategoryID: CategoryJetFuel, CI: d("88.83")},
		)

		ds.EERs = append(ds.EERs,
			EER{PeriodID: id, FuelTypeID: FuelElectricity, FuelCategoryID: CategoryGasoline,
				EndUseID: EndUseLightDuty, Ratio: d("3.4")},
			EER{PeriodID: id, FuelTypeID: FuelElectricity, FuelCategoryID: CategoryDiesel,
				Ratio: d("2.5")},
		)

		ds.RenewableRequirements = append(ds.RenewableRequirements,
			RenewableRequirement{PeriodID: id, FuelCategoryID: CategoryGasoline, Fraction: d("0.05")},
			RenewableRequirement{PeriodID: id, FuelCategoryID: CategoryDiesel, Fraction: d("0.04")},
		)
	}

	// Target CIs ratchet down year over year.
	targets := map[int][3]string{
		2019: {"85.28", "90.21", "90.00"},
		2020: {"84.43", "89.30", "90.00"},
		2021: {"83.59", "88.38", "90.00"},
		2022: {"82.74", "87.47", "89.50"},
		2023: {"81.89", "86.56", "89.00"},
		2024: {"78.68", "79.28", "88.83"},
		2025: {"77.21", "77.81", "88.31"},
	}
	for year, t := range targets {
		id := PeriodFor(year)
		ds.TargetCIs = append(ds.TargetCIs,
			TargetCI{PeriodID: id, FuelCategoryID: CategoryGasoline, CI: d(t[0])},
			TargetCI{PeriodID: id, FuelCategoryID: CategoryDiesel, CI: d(t[1])},
			TargetCI{PeriodID: id, FuelCategoryID: CategoryJetFuel, CI: d(t[2])},
		)
	}

	return ds
}
