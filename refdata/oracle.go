/*
oracle.go - Reference-data lookups keyed by compliance period

FAILURE SEMANTICS:
  - Unknown period: NotFound (the caller named something that doesn't exist)
  - Missing constants for a known period (no target CI, no energy density):
    Internal - the dataset is misconfigured and the report cannot leave
    Draft until it is fixed. The oracle never substitutes data from a
    neighboring period.
  - Missing EER row: defaults to 1.0 (by regulation, not a fallback hack)
  - Missing UCI row: defaults to 0
*/
package refdata

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
)

// =============================================================================
// ORACLE - Immutable indexed view over a Dataset
// =============================================================================

type periodFuel struct {
	period core.PeriodID
	fuel   int
}

type periodCategory struct {
	period   core.PeriodID
	category int
}

type eerKey struct {
	period   core.PeriodID
	fuel     int
	category int
	endUse   int
}

type uciKey struct {
	period core.PeriodID
	fuel   int
	endUse int
}

// Oracle answers reference-data lookups. Build it once with New; it is
// immutable and safe for concurrent use.
type Oracle struct {
	periods      map[core.PeriodID]CompliancePeriod
	fuelTypes    map[int]FuelType
	categories   map[int]FuelCategory
	endUses      map[int]EndUseType
	provisions   map[int]Provision
	fuelCodes    map[int]FuelCode
	codesByFuel  map[int][]FuelCode
	densities    map[periodFuel]EnergyDensity
	targetCIs    map[periodCategory]decimal.Decimal
	defaultCIs   map[periodFuel]decimal.Decimal
	categoryCIs  map[periodCategory]decimal.Decimal
	eers         map[eerKey]decimal.Decimal
	ucis         map[uciKey]decimal.Decimal
	renewableReq map[periodCategory]decimal.Decimal

	orderedPeriods []CompliancePeriod
}

// New indexes a Dataset into an Oracle.
func New(ds Dataset) *Oracle {
	o := &Oracle{
		periods:      make(map[core.PeriodID]CompliancePeriod),
		fuelTypes:    make(map[int]FuelType),
		categories:   make(map[int]FuelCategory),
		endUses:      make(map[int]EndUseType),
		provisions:   make(map[int]Provision),
		fuelCodes:    make(map[int]FuelCode),
		codesByFuel:  make(map[int][]FuelCode),
		densities:    make(map[periodFuel]EnergyDensity),
		targetCIs:    make(map[periodCategory]decimal.Decimal),
		defaultCIs:   make(map[periodFuel]decimal.Decimal),
		categoryCIs:  make(map[periodCategory]decimal.Decimal),
		eers:         make(map[eerKey]decimal.Decimal),
		ucis:         make(map[uciKey]decimal.Decimal),
		renewableReq: make(map[periodCategory]decimal.Decimal),
	}

	for _, p := range ds.Periods {
		o.periods[p.ID] = p
		o.orderedPeriods = append(o.orderedPeriods, p)
	}
	sort.Slice(o.orderedPeriods, func(i, j int) bool {
		return o.orderedPeriods[i].Description < o.orderedPeriods[j].Description
	})

	for _, ft := range ds.FuelTypes {
		o.fuelTypes[ft.ID] = ft
	}
	for _, fc := range ds.FuelCategories {
		o.categories[fc.ID] = fc
	}
	for _, eu := range ds.EndUses {
		o.endUses[eu.ID] = eu
	}
	for _, pr := range ds.Provisions {
		o.provisions[pr.ID] = pr
	}
	for _, code := range ds.FuelCodes {
		o.fuelCodes[code.ID] = code
		o.codesByFuel[code.FuelTypeID] = append(o.codesByFuel[code.FuelTypeID], code)
	}
	for _, ed := range ds.EnergyDensities {
		o.densities[periodFuel{ed.PeriodID, ed.FuelTypeID}] = ed
	}
	for _, t := range ds.TargetCIs {
		o.targetCIs[periodCategory{t.PeriodID, t.FuelCategoryID}] = t.CI
	}
	for _, d := range ds.DefaultCIs {
		o.defaultCIs[periodFuel{d.PeriodID, d.FuelTypeID}] = d.CI
	}
	for _, c := range ds.CategoryCIs {
		o.categoryCIs[periodCategory{c.PeriodID, c.FuelCategoryID}] = c.CI
	}
	for _, e := range ds.EERs {
		o.eers[eerKey{e.PeriodID, e.FuelTypeID, e.FuelCategoryID, e.EndUseID}] = e.Ratio
	}
	for _, u := range ds.UCIs {
		o.ucis[uciKey{u.PeriodID, u.FuelTypeID, u.EndUseID}] = u.Intensity
	}
	for _, r := range ds.RenewableRequirements {
		o.renewableReq[periodCategory{r.PeriodID, r.FuelCategoryID}] = r.Fraction
	}

	return o
}

// =============================================================================
// PERIOD LOOKUPS
// =============================================================================

// Period returns the compliance period record.
func (o *Oracle) Period(id core.PeriodID) (CompliancePeriod, error) {
	p, ok := o.periods[id]
	if !ok {
		return CompliancePeriod{}, &core.NotFoundError{Entity: "compliance period", ID: id}
	}
	return p, nil
}

// ComplianceYear returns the calendar year of the period.
func (o *Oracle) ComplianceYear(id core.PeriodID) (int, error) {
	p, err := o.Period(id)
	if err != nil {
		return 0, err
	}
	return p.EffectiveDate.Year(), nil
}

// IsLegacy reports whether the period predates the LCFS legislation.
func (o *Oracle) IsLegacy(id core.PeriodID) (bool, error) {
	year, err := o.ComplianceYear(id)
	if err != nil {
		return false, err
	}
	return year < LegislationTransitionYear, nil
}

// Periods returns all seeded periods in ascending order.
func (o *Oracle) Periods() []CompliancePeriod {
	out := make([]CompliancePeriod, len(o.orderedPeriods))
	copy(out, o.orderedPeriods)
	return out
}

// =============================================================================
// FUEL RESOLUTION
// =============================================================================

// ResolveFuel resolves the regulatory constants for one line item.
// endUseID and fuelCodeID are 0 when not applicable.
func (o *Oracle) ResolveFuel(periodID core.PeriodID, fuelTypeID, fuelCategoryID, endUseID, fuelCodeID int) (FuelResolution, error) {
	period, err := o.Period(periodID)
	if err != nil {
		return FuelResolution{}, err
	}

	ft, ok := o.fuelTypes[fuelTypeID]
	if !ok {
		return FuelResolution{}, &core.NotFoundError{Entity: "fuel type", ID: fuelTypeID}
	}
	if _, ok := o.categories[fuelCategoryID]; !ok {
		return FuelResolution{}, &core.NotFoundError{Entity: "fuel category", ID: fuelCategoryID}
	}

	res := FuelResolution{
		EER:               decimal.NewFromInt(1),
		UCI:               decimal.Zero,
		FuelCodePermitted: len(o.validCodes(ft.ID, period)) > 0,
	}

	// Target CI is a hard requirement: a known period with no target CI is
	// a dataset misconfiguration, not a caller mistake.
	target, ok := o.targetCIs[periodCategory{periodID, fuelCategoryID}]
	if !ok {
		return FuelResolution{}, core.Internalf("no target CI for category %d in period %s",
			fuelCategoryID, period.Description)
	}
	res.TargetCI = target

	ed, ok := o.densities[periodFuel{periodID, fuelTypeID}]
	if !ok {
		return FuelResolution{}, core.Internalf("no energy density for fuel type %q in period %s",
			ft.Name, period.Description)
	}
	res.EnergyDensity = ed.Density
	res.Units = ed.Units

	// Record CI: fuel code first, then the period default, with the
	// category CI standing in for the unrecognized "Other" type.
	switch {
	case fuelCodeID != 0:
		code, err := o.fuelCode(fuelCodeID, fuelTypeID, period)
		if err != nil {
			return FuelResolution{}, err
		}
		res.EffectiveCI = code.CarbonIntensity
		res.HasCI = true
	case ft.Unrecognized:
		if ci, ok := o.categoryCIs[periodCategory{periodID, fuelCategoryID}]; ok {
			res.EffectiveCI = ci
			res.HasCI = true
		}
	default:
		if ci, ok := o.defaultCIs[periodFuel{periodID, fuelTypeID}]; ok {
			res.EffectiveCI = ci
			res.HasCI = true
		}
	}

	// EER: exact end-use match wins over the any-end-use row.
	if ratio, ok := o.eers[eerKey{periodID, fuelTypeID, fuelCategoryID, endUseID}]; ok {
		res.EER = ratio
	} else if ratio, ok := o.eers[eerKey{periodID, fuelTypeID, fuelCategoryID, 0}]; ok {
		res.EER = ratio
	}

	if uci, ok := o.ucis[uciKey{periodID, fuelTypeID, endUseID}]; ok {
		res.UCI = uci
	} else if uci, ok := o.ucis[uciKey{periodID, fuelTypeID, 0}]; ok {
		res.UCI = uci
	}

	return res, nil
}

// fuelCode validates a claimed fuel code against the period window.
func (o *Oracle) fuelCode(fuelCodeID, fuelTypeID int, period CompliancePeriod) (FuelCode, error) {
	code, ok := o.fuelCodes[fuelCodeID]
	if !ok {
		return FuelCode{}, &core.NotFoundError{Entity: "fuel code", ID: fuelCodeID}
	}
	if code.FuelTypeID != fuelTypeID {
		return FuelCode{}, (&core.ValidationError{}).Add("fuel_code_id",
			fmt.Sprintf("fuel code %s does not apply to fuel type %d", code.Code, fuelTypeID))
	}
	if !codeValidFor(code, period) {
		return FuelCode{}, (&core.ValidationError{}).Add("fuel_code_id",
			fmt.Sprintf("fuel code %s is not valid for period %s", code.Code, period.Description))
	}
	return code, nil
}

// codeValidFor: Approved, effective on or before the period ends, not
// expired before the period starts.
func codeValidFor(code FuelCode, period CompliancePeriod) bool {
	if code.Status != FuelCodeApproved {
		return false
	}
	if code.EffectiveDate.After(period.ExpirationDate) {
		return false
	}
	if code.ExpirationDate.Before(period.EffectiveDate) {
		return false
	}
	return true
}

func (o *Oracle) validCodes(fuelTypeID int, period CompliancePeriod) []FuelCode {
	var out []FuelCode
	for _, code := range o.codesByFuel[fuelTypeID] {
		if codeValidFor(code, period) {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// =============================================================================
// OPTION LISTING
// =============================================================================

// ListFuelOptions yields the closed set of valid combinations for the
// period. With lcfsOnly set, legacy-only provisions are dropped; with
// includeLegacy unset on a legacy period, the listing is refused.
func (o *Oracle) ListFuelOptions(periodID core.PeriodID, lcfsOnly, includeLegacy bool) (FuelOptions, error) {
	period, err := o.Period(periodID)
	if err != nil {
		return FuelOptions{}, err
	}
	legacy, _ := o.IsLegacy(periodID)
	if legacy && !includeLegacy {
		return FuelOptions{}, (&core.ValidationError{}).Add("period",
			fmt.Sprintf("period %s predates the current legislation", period.Description))
	}

	opts := FuelOptions{Period: period}
	for _, ft := range o.fuelTypes {
		if _, ok := o.densities[periodFuel{periodID, ft.ID}]; !ok {
			continue // not offered in this period
		}
		opts.FuelTypes = append(opts.FuelTypes, ft)
		opts.FuelCodes = append(opts.FuelCodes, o.validCodes(ft.ID, period)...)
	}
	for _, fc := range o.categories {
		if _, ok := o.targetCIs[periodCategory{periodID, fc.ID}]; ok {
			opts.FuelCategories = append(opts.FuelCategories, fc)
		}
	}
	for _, eu := range o.endUses {
		opts.EndUses = append(opts.EndUses, eu)
	}
	for _, pr := range o.provisions {
		if lcfsOnly && legacy {
			continue
		}
		opts.Provisions = append(opts.Provisions, pr)
	}

	sort.Slice(opts.FuelTypes, func(i, j int) bool { return opts.FuelTypes[i].ID < opts.FuelTypes[j].ID })
	sort.Slice(opts.FuelCategories, func(i, j int) bool { return opts.FuelCategories[i].ID < opts.FuelCategories[j].ID })
	sort.Slice(opts.EndUses, func(i, j int) bool { return opts.EndUses[i].ID < opts.EndUses[j].ID })
	sort.Slice(opts.Provisions, func(i, j int) bool { return opts.Provisions[i].ID < opts.Provisions[j].ID })
	sort.Slice(opts.FuelCodes, func(i, j int) bool { return opts.FuelCodes[i].ID < opts.FuelCodes[j].ID })
	return opts, nil
}

// Provision returns the provision record.
func (o *Oracle) Provision(id int) (Provision, error) {
	pr, ok := o.provisions[id]
	if !ok {
		return Provision{}, &core.NotFoundError{Entity: "provision", ID: id}
	}
	return pr, nil
}

// FuelType returns the fuel type record.
func (o *Oracle) FuelType(id int) (FuelType, error) {
	ft, ok := o.fuelTypes[id]
	if !ok {
		return FuelType{}, &core.NotFoundError{Entity: "fuel type", ID: id}
	}
	return ft, nil
}

// FuelCategories returns all seeded categories in ID order.
func (o *Oracle) FuelCategories() []FuelCategory {
	out := make([]FuelCategory, 0, len(o.categories))
	for _, fc := range o.categories {
		out = append(out, fc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RenewableRequirement returns the minimum renewable fraction for a
// category, zero when the period imposes none.
func (o *Oracle) RenewableRequirement(periodID core.PeriodID, fuelCategoryID int) decimal.Decimal {
	if frac, ok := o.renewableReq[periodCategory{periodID, fuelCategoryID}]; ok {
		return frac
	}
	return decimal.Zero
}

// TargetCI returns the target carbon intensity for a category in a period.
func (o *Oracle) TargetCI(periodID core.PeriodID, fuelCategoryID int) (decimal.Decimal, error) {
	ci, ok := o.targetCIs[periodCategory{periodID, fuelCategoryID}]
	if !ok {
		return decimal.Zero, core.Internalf("no target CI for category %d in period %d", fuelCategoryID, periodID)
	}
	return ci, nil
}
