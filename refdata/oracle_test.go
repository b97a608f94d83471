package refdata_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/refdata"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func seededOracle() *refdata.Oracle {
	return refdata.New(refdata.Seed())
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// FUEL RESOLUTION
// =============================================================================

func TestResolveFuel_EthanolWithFuelCode(t *testing.T) {
	// GIVEN: Ethanol in the gasoline category, 2024, claiming BCLCF102.5
	// WHEN: Resolving
	// THEN: Record CI comes from the code, density and target from the period

	o := seededOracle()
	res, err := o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelEthanol, refdata.CategoryGasoline, 0, refdata.CodeEthanolBC)
	require.NoError(t, err)

	assert.True(t, res.HasCI)
	assert.True(t, res.EffectiveCI.Equal(dec("30")))
	assert.True(t, res.TargetCI.Equal(dec("78.68")))
	assert.True(t, res.EnergyDensity.Equal(dec("23.58")))
	assert.True(t, res.EER.Equal(dec("1")))
	assert.True(t, res.UCI.IsZero())
	assert.True(t, res.FuelCodePermitted)
}

func TestResolveFuel_DefaultCI_WhenNoCode(t *testing.T) {
	o := seededOracle()
	res, err := o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelEthanol, refdata.CategoryGasoline, 0, 0)
	require.NoError(t, err)

	assert.True(t, res.HasCI)
	assert.True(t, res.EffectiveCI.Equal(dec("93.67")), "default CI expected, got %s", res.EffectiveCI)
}

func TestResolveFuel_OtherFuel_FallsBackToCategoryCI(t *testing.T) {
	// GIVEN: The unrecognized "Other" fuel type in the diesel category
	// THEN: The category CI stands in for the default

	o := seededOracle()
	res, err := o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelOther, refdata.CategoryDiesel, 0, 0)
	require.NoError(t, err)

	assert.True(t, res.HasCI)
	assert.True(t, res.EffectiveCI.Equal(dec("100.21")))
}

func TestResolveFuel_EER_ExactEndUseWins(t *testing.T) {
	o := seededOracle()

	// Electricity in gasoline class, light duty: EER 3.4
	res, err := o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelElectricity, refdata.CategoryGasoline, refdata.EndUseLightDuty, 0)
	require.NoError(t, err)
	assert.True(t, res.EER.Equal(dec("3.4")))

	// Electricity in diesel class, no end use row: the any-end-use EER applies
	res, err = o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelElectricity, refdata.CategoryDiesel, refdata.EndUseOther, 0)
	require.NoError(t, err)
	assert.True(t, res.EER.Equal(dec("2.5")))
}

func TestResolveFuel_ExpiredFuelCode(t *testing.T) {
	// GIVEN: BCLCF088.2 expired at the end of 2020
	o := seededOracle()

	// WHEN: Claimed for 2024
	_, err := o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelEthanol, refdata.CategoryGasoline, 0, refdata.CodeExpired)
	// THEN: Refused as a validation error
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	// WHEN: Claimed for 2019 (inside its window)
	res, err := o.ResolveFuel(refdata.PeriodFor(2019),
		refdata.FuelEthanol, refdata.CategoryGasoline, 0, refdata.CodeExpired)
	// THEN: Honored
	require.NoError(t, err)
	assert.True(t, res.EffectiveCI.Equal(dec("25.10")))
}

func TestResolveFuel_WrongFuelTypeForCode(t *testing.T) {
	o := seededOracle()
	_, err := o.ResolveFuel(refdata.PeriodFor(2024),
		refdata.FuelDiesel, refdata.CategoryDiesel, 0, refdata.CodeEthanolBC)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestResolveFuel_UnknownPeriod(t *testing.T) {
	o := seededOracle()
	_, err := o.ResolveFuel(core.PeriodID(99), refdata.FuelEthanol, refdata.CategoryGasoline, 0, 0)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestResolveFuel_MissingTargetCI_IsFatal(t *testing.T) {
	// GIVEN: A period seeded without a target CI for its only category
	ds := refdata.Dataset{
		Periods: []refdata.CompliancePeriod{{
			ID: 1, Description: "2024",
			EffectiveDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			ExpirationDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		}},
		FuelTypes:      []refdata.FuelType{{ID: 1, Name: "Ethanol", Units: "L", Renewable: true}},
		FuelCategories: []refdata.FuelCategory{{ID: 1, Name: "Gasoline"}},
		EnergyDensities: []refdata.EnergyDensity{
			{PeriodID: 1, FuelTypeID: 1, Density: dec("23.58"), Units: "MJ/L"},
		},
	}
	o := refdata.New(ds)

	// THEN: Resolution fails as Internal (misconfiguration), not NotFound
	_, err := o.ResolveFuel(1, 1, 1, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInternal)
}

// =============================================================================
// PERIOD SEMANTICS
// =============================================================================

func TestIsLegacy_TransitionYear(t *testing.T) {
	o := seededOracle()

	legacy, err := o.IsLegacy(refdata.PeriodFor(2023))
	require.NoError(t, err)
	assert.True(t, legacy)

	legacy, err = o.IsLegacy(refdata.PeriodFor(2024))
	require.NoError(t, err)
	assert.False(t, legacy)
}

func TestComplianceYear(t *testing.T) {
	o := seededOracle()
	year, err := o.ComplianceYear(refdata.PeriodFor(2025))
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
}

// =============================================================================
// OPTION LISTING
// =============================================================================

func TestListFuelOptions_LegacyRefusedByDefault(t *testing.T) {
	o := seededOracle()

	_, err := o.ListFuelOptions(refdata.PeriodFor(2020), false, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	opts, err := o.ListFuelOptions(refdata.PeriodFor(2020), false, true)
	require.NoError(t, err)
	assert.NotEmpty(t, opts.FuelTypes)
}

func TestListFuelOptions_ExcludesExpiredCodes(t *testing.T) {
	o := seededOracle()
	opts, err := o.ListFuelOptions(refdata.PeriodFor(2024), false, false)
	require.NoError(t, err)

	for _, code := range opts.FuelCodes {
		assert.NotEqual(t, refdata.CodeExpired, code.ID,
			"expired code must not be offered for 2024")
	}
	assert.Len(t, opts.FuelCategories, 3)
	assert.Len(t, opts.FuelTypes, 8)
}
