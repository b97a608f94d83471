/*
validate.go - Input validation for line items

Validation runs in the workflow engine, not the summary engine: by the
time a row reaches summary computation its shape is already trusted.
Field-level messages accumulate so the supplier sees every problem in
one round trip.
*/
package report

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/refdata"
)

// maxCI bounds user-supplied carbon intensities. Nothing in the program
// approaches this; values beyond it are data-entry mistakes.
var maxCI = decimal.NewFromInt(1000)

// validateLineItem checks one row against the reference data for the
// report's period. Returns a ValidationError carrying every field-level
// failure, or nil.
func validateLineItem(oracle *refdata.Oracle, periodID core.PeriodID, item core.LineItem) error {
	verr := &core.ValidationError{}

	ft, err := oracle.FuelType(item.FuelTypeID)
	if err != nil {
		verr.Add("fuel_type_id", fmt.Sprintf("unknown fuel type %d", item.FuelTypeID))
	} else if item.Units != "" && item.Units != ft.Units {
		verr.Add("units", fmt.Sprintf("fuel type %s is measured in %s, got %s", ft.Name, ft.Units, item.Units))
	}

	if !item.Quantity.IsPositive() {
		verr.Add("quantity", "quantity must be positive")
	}

	provision, err := oracle.Provision(item.ProvisionID)
	if err != nil {
		verr.Add("provision_id", fmt.Sprintf("unknown provision %d", item.ProvisionID))
	} else {
		if provision.FuelCodeRequired && item.FuelCodeID == 0 {
			verr.Add("fuel_code_id", "the selected provision requires an approved fuel code")
		}
		if !provision.FuelCodeRequired && item.FuelCodeID != 0 {
			verr.Add("fuel_code_id", "a fuel code may only be claimed under the fuel code provision")
		}
		if item.CIOverride != nil && !provision.OverridePermitted {
			verr.Add("ci_override", "the selected provision does not permit a user-supplied carbon intensity")
		}
	}

	if item.CIOverride != nil {
		if item.CIOverride.IsNegative() || item.CIOverride.GreaterThan(maxCI) {
			verr.Add("ci_override", "carbon intensity out of range")
		}
	}
	if item.EnergyDensityOverride != nil && !item.EnergyDensityOverride.IsPositive() {
		verr.Add("energy_density_override", "energy density must be positive")
	}

	switch item.Kind {
	case core.KindNotionalTransfer:
		if item.Direction != core.DirectionReceived && item.Direction != core.DirectionTransferred {
			verr.Add("direction", "notional transfers must be Received or Transferred")
		}
		if item.Partner == "" {
			verr.Add("partner", "notional transfers require a trading partner")
		}
	case core.KindAllocationAgreement:
		if item.Responsibility != core.AllocatedFrom && item.Responsibility != core.AllocatedTo {
			verr.Add("responsibility", "allocation agreements must be allocated from or to")
		}
		if item.Partner == "" {
			verr.Add("partner", "allocation agreements require a counterparty")
		}
	case core.KindFuelSupply, core.KindFuelExport, core.KindOtherUse:
		// No extra shape requirements.
	default:
		verr.Add("kind", fmt.Sprintf("unknown line item kind %q", item.Kind))
	}

	// The fuel code itself (window, status, fuel-type match) is checked
	// by resolution so the supplier learns about expired codes at edit
	// time, not at submit.
	if item.FuelCodeID != 0 && verr.Empty() {
		if _, err := oracle.ResolveFuel(periodID, item.FuelTypeID, item.FuelCategoryID, item.EndUseID, item.FuelCodeID); err != nil {
			if vr, ok := err.(*core.ValidationError); ok {
				verr.Fields = append(verr.Fields, vr.Fields...)
			} else {
				return err
			}
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}
