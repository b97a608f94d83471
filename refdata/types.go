/*
Package refdata is the reference-data oracle for the compliance engine.

PURPOSE:
  Read-only resolution of the regulatory constants a compliance summary
  needs: fuel types, fuel categories, provisions of the Act, end uses,
  fuel codes, energy densities, energy effectiveness ratios and carbon
  intensities - all keyed by compliance period.

IMMUTABILITY:
  The Oracle is built once from a Dataset and never mutated afterwards.
  It is safe for concurrent use without locking and may be shared
  process-wide. The engine never substitutes data across periods: a
  lookup against period P answers only from rows seeded for P.

KEY CONCEPTS:
  - CompliancePeriod: one calendar year of the program
  - FuelCode: an approved carbon-intensity pathway; when claimed, its CI
    overrides the per-period default
  - EER: multiplier applied to the target CI for specific
    fuel-category x end-use combinations (defaults to 1.0)
  - UCI: additional per-row carbon-intensity adjustment (defaults to 0)

SEE ALSO:
  - oracle.go: lookup logic and failure semantics
  - seed.go: the seeded dataset used by tests and the demo server
*/
package refdata

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
)

// LegislationTransitionYear splits legacy (TFRS-era) periods from LCFS
// periods. Periods before this year are legacy.
const LegislationTransitionYear = 2024

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

// CompliancePeriod is one calendar year of the program.
type CompliancePeriod struct {
	ID             core.PeriodID
	Description    string // "2024"
	EffectiveDate  time.Time
	ExpirationDate time.Time
}

type FuelType struct {
	ID        int
	Name      string
	Units     string // "L", "kg", "kWh", "m3"
	Renewable bool
	// Unrecognized marks the catch-all "Other" fuel type, whose default CI
	// falls back to the category CI.
	Unrecognized bool
}

type FuelCategory struct {
	ID   int
	Name string // "Gasoline", "Diesel", "Jet fuel"
}

type EndUseType struct {
	ID   int
	Name string
}

// Provision is a provision of the Act determining how a row's carbon
// intensity is established.
type Provision struct {
	ID   int
	Name string
	// FuelCodeRequired: the row must claim an approved fuel code.
	FuelCodeRequired bool
	// OverridePermitted: the row may carry a user-supplied CI.
	OverridePermitted bool
}

type FuelCodeStatus string

const (
	FuelCodeApproved FuelCodeStatus = "Approved"
	FuelCodeDraft    FuelCodeStatus = "Draft"
	FuelCodeDeleted  FuelCodeStatus = "Deleted"
)

// FuelCode is an approved carbon-intensity pathway identifier.
type FuelCode struct {
	ID              int
	Code            string // "BCLCF124.4"
	FuelTypeID      int
	CarbonIntensity decimal.Decimal
	Status          FuelCodeStatus
	EffectiveDate   time.Time
	ExpirationDate  time.Time
}

// =============================================================================
// PER-PERIOD CONSTANTS
// =============================================================================

// EnergyDensity is MJ per unit of fuel, per period.
type EnergyDensity struct {
	PeriodID   core.PeriodID
	FuelTypeID int
	Density    decimal.Decimal
	Units      string
}

// TargetCI is the gCO2e/MJ limit for a fuel category in a period.
type TargetCI struct {
	PeriodID       core.PeriodID
	FuelCategoryID int
	CI             decimal.Decimal
}

// DefaultCI is the per-period default carbon intensity of a fuel type.
type DefaultCI struct {
	PeriodID   core.PeriodID
	FuelTypeID int
	CI         decimal.Decimal
}

// CategoryCI is the fallback carbon intensity used when the fuel type is
// the unrecognized "Other".
type CategoryCI struct {
	PeriodID       core.PeriodID
	FuelCategoryID int
	CI             decimal.Decimal
}

// EER is the energy effectiveness ratio for a
// (fuel type, fuel category, end use) combination in a period.
type EER struct {
	PeriodID       core.PeriodID
	FuelTypeID     int
	FuelCategoryID int
	EndUseID       int // 0 matches any end use
	Ratio          decimal.Decimal
}

// UCI is the additional carbon intensity for a (fuel type, end use)
// combination in a period.
type UCI struct {
	PeriodID   core.PeriodID
	FuelTypeID int
	EndUseID   int // 0 matches any end use
	Intensity  decimal.Decimal
}

// RenewableRequirement is the minimum renewable share of a category's
// non-exported energy, as a fraction (0.05 = 5%).
type RenewableRequirement struct {
	PeriodID       core.PeriodID
	FuelCategoryID int
	Fraction       decimal.Decimal
}

// =============================================================================
// DATASET - Everything the oracle is built from
// =============================================================================

// Dataset is the raw reference data the Oracle indexes. Seeded once at
// startup; treated as immutable thereafter.
type Dataset struct {
	Periods               []CompliancePeriod
	FuelTypes             []FuelType
	FuelCategories        []FuelCategory
	EndUses               []EndUseType
	Provisions            []Provision
	FuelCodes             []FuelCode
	EnergyDensities       []EnergyDensity
	TargetCIs             []TargetCI
	DefaultCIs            []DefaultCI
	CategoryCIs           []CategoryCI
	EERs                  []EER
	UCIs                  []UCI
	RenewableRequirements []RenewableRequirement
}

// =============================================================================
// RESOLUTION RESULT
// =============================================================================

// FuelResolution is everything the summary engine needs about one
// (period, fuel type, fuel category, end use, fuel code) combination.
type FuelResolution struct {
	// EffectiveCI is the record CI: the fuel code's CI when one was
	// claimed, otherwise the period default (category CI for "Other").
	// Valid only when HasCI is true; rows without a resolvable CI must
	// carry a user override under an override-permitting provision.
	EffectiveCI decimal.Decimal
	HasCI       bool

	TargetCI      decimal.Decimal
	EER           decimal.Decimal // 1.0 when no row matches
	UCI           decimal.Decimal // 0 when no row matches
	EnergyDensity decimal.Decimal
	Units         string

	FuelCodeRequired  bool
	FuelCodePermitted bool
}

// FuelOptions is the closed set of valid combinations for one period,
// used for UI population and input validation.
type FuelOptions struct {
	Period         CompliancePeriod
	FuelTypes      []FuelType
	FuelCategories []FuelCategory
	EndUses        []EndUseType
	Provisions     []Provision
	FuelCodes      []FuelCode
}
