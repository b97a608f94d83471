/*
Package summary computes compliance summaries from effective line items.

PURPOSE:
  A pure function from (effective line items + reference data) to a
  Compliance Summary: per-category totals, renewable requirements and a
  signed compliance-unit delta (line 22). The engine holds no state and
  performs no I/O; the same inputs always produce the same summary.

THE FORMULA (per line item):

  units = round_half_even( (TCI x EER - (RCI + UCI)) x ED x Q / 1_000_000 )

  TCI = target CI for (period, fuel category)     [gCO2e/MJ]
  RCI = record CI: fuel code CI if claimed, else the period default,
        else the user override                     [gCO2e/MJ]
  EER = energy effectiveness ratio                 [dimensionless]
  UCI = additional CI                              [gCO2e/MJ]
  ED  = energy density, RDO value unless the row overrides it  [MJ/unit]
  Q   = signed quantity in fuel units

SIGN RULES:
  FuelSupply           +Q
  FuelExport           -Q
  NotionalTransfer     Received +Q, Transferred -Q
  OtherUse             +Q, but excluded from renewable tracking
  AllocationAgreement  Allocated to +Q, Allocated from -Q

RENEWABLE REQUIREMENT:
  Per category, the non-exported tracked energy must contain a minimum
  renewable share. A shortfall produces a negative penalty of
  round_half_even(shortfall_MJ x TCI / 1e6) units.

LOCKING:
  The engine always computes; persistence decides when a summary becomes
  locked. While a report sits in Draft the stored summary is recomputed
  on every edit; on leaving Draft it is persisted once more with
  IsLocked set and never recomputed for that version.

FAILURE SEMANTICS:
  Missing reference data for a reachable row is fatal (the report cannot
  leave Draft). Input-shape problems (units mismatch, missing required
  fuel code) are the report workflow's validator's job, not this
  package's.
*/
package summary

import (
	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/refdata"
)

// =============================================================================
// SUMMARY MODEL
// =============================================================================

// CategoryTotals is the computed state of one fuel category.
type CategoryTotals struct {
	FuelCategoryID int
	CategoryName   string

	// Energy totals in MJ. TrackedEnergy is the signed non-exported
	// energy the renewable requirement applies to; ExportedEnergy is
	// reported separately (already excluded from TrackedEnergy).
	TrackedEnergy   decimal.Decimal
	RenewableEnergy decimal.Decimal
	ExportedEnergy  decimal.Decimal

	// Renewable requirement.
	RequiredRenewable decimal.Decimal
	Shortfall         decimal.Decimal

	// Units.
	ContributionUnits int64 // sum of per-line contributions
	PenaltyUnits      int64 // <= 0
}

// Summary is the computed snapshot bound to one report version.
type Summary struct {
	PeriodID   core.PeriodID
	Categories []CategoryTotals

	// ComplianceUnitDelta is line 22: the algebraic sum of category
	// contributions and renewable penalties.
	ComplianceUnitDelta int64

	// IsLocked is set by persistence when the report leaves Draft.
	IsLocked bool
}

// Category returns the totals for one category, zero-valued when the
// category saw no activity.
func (s Summary) Category(fuelCategoryID int) CategoryTotals {
	for _, c := range s.Categories {
		if c.FuelCategoryID == fuelCategoryID {
			return c
		}
	}
	return CategoryTotals{FuelCategoryID: fuelCategoryID}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Oracle *refdata.Oracle
}

func NewEngine(oracle *refdata.Oracle) *Engine {
	return &Engine{Oracle: oracle}
}

var million = decimal.NewFromInt(1_000_000)

// Compute produces the summary for one report version's effective set.
func (e *Engine) Compute(periodID core.PeriodID, items map[core.LineItemKind][]core.LineItem) (Summary, error) {
	type acc struct {
		tracked   decimal.Decimal
		renewable decimal.Decimal
		exported  decimal.Decimal
		units     int64
	}
	byCategory := make(map[int]*acc)
	category := func(id int) *acc {
		a, ok := byCategory[id]
		if !ok {
			a = &acc{
				tracked:   decimal.Zero,
				renewable: decimal.Zero,
				exported:  decimal.Zero,
			}
			byCategory[id] = a
		}
		return a
	}

	for _, kind := range core.Kinds {
		for _, item := range items[kind] {
			contrib, err := e.contribution(periodID, item)
			if err != nil {
				return Summary{}, err
			}

			a := category(item.FuelCategoryID)
			a.units += contrib.units

			ft, err := e.Oracle.FuelType(item.FuelTypeID)
			if err != nil {
				return Summary{}, err
			}

			switch kind {
			case core.KindFuelExport:
				// Exported energy leaves the renewable base.
				a.exported = a.exported.Add(contrib.energy.Neg())
			case core.KindOtherUse:
				// Non-motive use: counts for units, not for the
				// renewable requirement.
			default:
				a.tracked = a.tracked.Add(contrib.energy)
				if ft.Renewable {
					a.renewable = a.renewable.Add(contrib.energy)
				}
			}
		}
	}

	out := Summary{PeriodID: periodID}
	for _, fc := range e.Oracle.FuelCategories() {
		a, ok := byCategory[fc.ID]
		if !ok {
			continue
		}

		totals := CategoryTotals{
			FuelCategoryID:    fc.ID,
			CategoryName:      fc.Name,
			TrackedEnergy:     a.tracked,
			RenewableEnergy:   a.renewable,
			ExportedEnergy:    a.exported,
			ContributionUnits: a.units,
			RequiredRenewable: decimal.Zero,
			Shortfall:         decimal.Zero,
		}

		frac := e.Oracle.RenewableRequirement(periodID, fc.ID)
		if frac.IsPositive() && a.tracked.IsPositive() {
			totals.RequiredRenewable = a.tracked.Mul(frac)
			shortfall := totals.RequiredRenewable.Sub(a.renewable)
			if shortfall.IsPositive() {
				totals.Shortfall = shortfall
				tci, err := e.Oracle.TargetCI(periodID, fc.ID)
				if err != nil {
					return Summary{}, err
				}
				totals.PenaltyUnits = -roundUnits(shortfall.Mul(tci).Div(million))
			}
		}

		out.ComplianceUnitDelta += totals.ContributionUnits + totals.PenaltyUnits
		out.Categories = append(out.Categories, totals)
	}

	return out, nil
}

// =============================================================================
// PER-LINE CONTRIBUTION
// =============================================================================

type lineContribution struct {
	units  int64           // rounded compliance units
	energy decimal.Decimal // signed MJ
}

// contribution applies the sign rules and the unit formula to one row.
func (e *Engine) contribution(periodID core.PeriodID, item core.LineItem) (lineContribution, error) {
	res, err := e.Oracle.ResolveFuel(periodID, item.FuelTypeID, item.FuelCategoryID, item.EndUseID, item.FuelCodeID)
	if err != nil {
		return lineContribution{}, err
	}

	rci, err := recordCI(res, item)
	if err != nil {
		return lineContribution{}, err
	}

	ed := res.EnergyDensity
	if item.EnergyDensityOverride != nil {
		ed = *item.EnergyDensityOverride
	}

	q := signedQuantity(item)
	energy := ed.Mul(q)

	// (TCI x EER - (RCI + UCI)) x ED x Q / 1e6
	intensity := res.TargetCI.Mul(res.EER).Sub(rci.Add(res.UCI))
	units := roundUnits(intensity.Mul(energy).Div(million))

	return lineContribution{units: units, energy: energy}, nil
}

// recordCI resolves RCI with the precedence: fuel code, period default,
// user override. A row with none of the three is unusable reference
// data, which is fatal for the report version.
func recordCI(res refdata.FuelResolution, item core.LineItem) (decimal.Decimal, error) {
	if res.HasCI {
		return res.EffectiveCI, nil
	}
	if item.CIOverride != nil {
		return *item.CIOverride, nil
	}
	return decimal.Zero, core.Internalf(
		"no carbon intensity resolvable for fuel type %d (line item %s)",
		item.FuelTypeID, item.GroupUUID)
}

// signedQuantity applies the per-kind sign rules.
func signedQuantity(item core.LineItem) decimal.Decimal {
	switch item.Kind {
	case core.KindFuelExport:
		return item.Quantity.Neg()
	case core.KindNotionalTransfer:
		if item.Direction == core.DirectionTransferred {
			return item.Quantity.Neg()
		}
		return item.Quantity
	case core.KindAllocationAgreement:
		if item.Responsibility == core.AllocatedFrom {
			return item.Quantity.Neg()
		}
		return item.Quantity
	default: // FuelSupply, OtherUse
		return item.Quantity
	}
}

// roundUnits rounds half-even to a signed integer. Program quantities
// keep the products far inside int64 range; the IntPart truncation after
// RoundBank is exact.
func roundUnits(v decimal.Decimal) int64 {
	return v.RoundBank(0).IntPart()
}
