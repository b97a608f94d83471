/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Shape validation (parse errors, missing fields) happens in handlers;
  domain validation lives in the engines and surfaces as typed errors
  which the handlers map to HTTP statuses.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/refdata"
	"github.com/bcfuels/lcfs-engine/report"
	"github.com/bcfuels/lcfs-engine/summary"
)

// =============================================================================
// ORGANIZATIONS
// =============================================================================

type OrganizationDTO struct {
	ID              string `json:"id"`
	LegalName       string `json:"legal_name"`
	OperatingName   string `json:"operating_name,omitempty"`
	Status          string `json:"status"`
	Type            string `json:"type"`
	TotalBalance    int64  `json:"total_balance"`
	ReservedBalance int64  `json:"reserved_balance"`
	Available       int64  `json:"available_balance"`
}

type CreateOrganizationRequest struct {
	ID            string `json:"id"`
	LegalName     string `json:"legal_name"`
	OperatingName string `json:"operating_name"`
	Type          string `json:"type"`
}

func orgDTO(o core.Organization) OrganizationDTO {
	return OrganizationDTO{
		ID:              string(o.ID),
		LegalName:       o.LegalName,
		OperatingName:   o.OperatingName,
		Status:          string(o.Status),
		Type:            string(o.Type),
		TotalBalance:    o.TotalBalance,
		ReservedBalance: o.ReservedBalance,
		Available:       o.Available(),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

type TransferRequest struct {
	FromOrgID     string `json:"from_organization_id"`
	ToOrgID       string `json:"to_organization_id"`
	Units         int64  `json:"compliance_units"`
	EffectiveDate string `json:"effective_date"` // YYYY-MM-DD
}

type IssuanceRequest struct {
	OrgID         string `json:"organization_id"`
	Units         int64  `json:"compliance_units"`
	EffectiveDate string `json:"effective_date"`
}

type TransactionDTO struct {
	ID              int64  `json:"id"`
	OrgID           string `json:"organization_id"`
	ComplianceUnits int64  `json:"compliance_units"`
	Action          string `json:"action"`
	Type            string `json:"transaction_type"`
	EffectiveDate   string `json:"effective_date"`
}

func transactionDTO(tx core.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              int64(tx.ID),
		OrgID:           string(tx.OrgID),
		ComplianceUnits: tx.ComplianceUnits,
		Action:          string(tx.Action),
		Type:            string(tx.Type),
		EffectiveDate:   tx.EffectiveDate.Format("2006-01-02"),
	}
}

// LedgerEntryDTO mirrors ledger.Entry; the view type already carries
// json tags, so this is a thin date formatter.
type LedgerEntryDTO struct {
	TransactionID   int64  `json:"transaction_id"`
	Type            string `json:"transaction_type"`
	ComplianceUnits int64  `json:"compliance_units"`
	EffectiveDate   string `json:"effective_date"`
	RunningBalance  int64  `json:"running_balance"`
}

func ledgerEntryDTO(e ledger.Entry) LedgerEntryDTO {
	return LedgerEntryDTO{
		TransactionID:   int64(e.TransactionID),
		Type:            string(e.Type),
		ComplianceUnits: e.ComplianceUnits,
		EffectiveDate:   e.EffectiveDate.Format("2006-01-02"),
		RunningBalance:  e.RunningBalance,
	}
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportDTO struct {
	ID                int64  `json:"id"`
	OrgID             string `json:"organization_id"`
	PeriodID          int    `json:"compliance_period_id"`
	GroupUUID         string `json:"group_uuid"`
	Version           int    `json:"version"`
	Initiator         string `json:"supplemental_initiator,omitempty"`
	Frequency         string `json:"reporting_frequency"`
	Nickname          string `json:"nickname,omitempty"`
	Status            string `json:"status"`
	TransactionID     int64  `json:"transaction_id,omitempty"`
	AssignedAnalystID string `json:"assigned_analyst_id,omitempty"`
	UpdatedAt         string `json:"updated_at"`
}

func reportDTO(r report.Report) ReportDTO {
	return ReportDTO{
		ID:                int64(r.ID),
		OrgID:             string(r.OrgID),
		PeriodID:          int(r.PeriodID),
		GroupUUID:         r.GroupUUID,
		Version:           r.Version,
		Initiator:         string(r.Initiator),
		Frequency:         string(r.Frequency),
		Nickname:          r.Nickname,
		Status:            string(r.Status),
		TransactionID:     int64(r.TransactionID),
		AssignedAnalystID: r.AssignedAnalystID,
		UpdatedAt:         r.UpdatedAt.Format(time.RFC3339),
	}
}

type CreateReportRequest struct {
	OrgID     string `json:"organization_id"`
	PeriodID  int    `json:"compliance_period_id"`
	Frequency string `json:"reporting_frequency"`
	Nickname  string `json:"nickname"`
}

// TransitionRequest fires one workflow event against a report.
type TransitionRequest struct {
	Event string `json:"event"`
}

type AssignAnalystRequest struct {
	AnalystID string `json:"analyst_id"`
}

type HistoryEntryDTO struct {
	Status      string `json:"status"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type LineItemDTO struct {
	GroupUUID             string           `json:"group_uuid"`
	Version               int              `json:"version"`
	Action                string           `json:"action"`
	Kind                  string           `json:"kind"`
	FuelTypeID            int              `json:"fuel_type_id"`
	FuelCategoryID        int              `json:"fuel_category_id"`
	EndUseID              int              `json:"end_use_id,omitempty"`
	FuelCodeID            int              `json:"fuel_code_id,omitempty"`
	ProvisionID           int              `json:"provision_id"`
	Quantity              decimal.Decimal  `json:"quantity"`
	Units                 string           `json:"units"`
	CIOverride            *decimal.Decimal `json:"ci_override,omitempty"`
	EnergyDensityOverride *decimal.Decimal `json:"energy_density_override,omitempty"`
	Direction             string           `json:"direction,omitempty"`
	Responsibility        string           `json:"responsibility,omitempty"`
	Partner               string           `json:"partner,omitempty"`
}

func lineItemDTO(item core.LineItem) LineItemDTO {
	return LineItemDTO{
		GroupUUID:             item.GroupUUID,
		Version:               item.Version,
		Action:                string(item.Action),
		Kind:                  string(item.Kind),
		FuelTypeID:            item.FuelTypeID,
		FuelCategoryID:        item.FuelCategoryID,
		EndUseID:              item.EndUseID,
		FuelCodeID:            item.FuelCodeID,
		ProvisionID:           item.ProvisionID,
		Quantity:              item.Quantity,
		Units:                 item.Units,
		CIOverride:            item.CIOverride,
		EnergyDensityOverride: item.EnergyDensityOverride,
		Direction:             string(item.Direction),
		Responsibility:        string(item.Responsibility),
		Partner:               item.Partner,
	}
}

// SaveLineItemRequest carries one line item edit. An empty group_uuid
// creates a new item.
type SaveLineItemRequest struct {
	GroupUUID             string           `json:"group_uuid"`
	Kind                  string           `json:"kind"`
	FuelTypeID            int              `json:"fuel_type_id"`
	FuelCategoryID        int              `json:"fuel_category_id"`
	EndUseID              int              `json:"end_use_id"`
	FuelCodeID            int              `json:"fuel_code_id"`
	ProvisionID           int              `json:"provision_id"`
	Quantity              decimal.Decimal  `json:"quantity"`
	Units                 string           `json:"units"`
	CIOverride            *decimal.Decimal `json:"ci_override"`
	EnergyDensityOverride *decimal.Decimal `json:"energy_density_override"`
	Direction             string           `json:"direction"`
	Responsibility        string           `json:"responsibility"`
	Partner               string           `json:"partner"`
}

func (req SaveLineItemRequest) toLineItem() core.LineItem {
	return core.LineItem{
		GroupUUID:             req.GroupUUID,
		Kind:                  core.LineItemKind(req.Kind),
		FuelTypeID:            req.FuelTypeID,
		FuelCategoryID:        req.FuelCategoryID,
		EndUseID:              req.EndUseID,
		FuelCodeID:            req.FuelCodeID,
		ProvisionID:           req.ProvisionID,
		Quantity:              req.Quantity,
		Units:                 req.Units,
		CIOverride:            req.CIOverride,
		EnergyDensityOverride: req.EnergyDensityOverride,
		Direction:             core.TransferDirection(req.Direction),
		Responsibility:        core.Responsibility(req.Responsibility),
		Partner:               req.Partner,
	}
}

// =============================================================================
// SUMMARIES
// =============================================================================

type CategoryTotalsDTO struct {
	FuelCategoryID    int             `json:"fuel_category_id"`
	CategoryName      string          `json:"category_name"`
	TrackedEnergy     decimal.Decimal `json:"tracked_energy_mj"`
	RenewableEnergy   decimal.Decimal `json:"renewable_energy_mj"`
	ExportedEnergy    decimal.Decimal `json:"exported_energy_mj"`
	RequiredRenewable decimal.Decimal `json:"required_renewable_mj"`
	Shortfall         decimal.Decimal `json:"renewable_shortfall_mj"`
	ContributionUnits int64           `json:"contribution_units"`
	PenaltyUnits      int64           `json:"penalty_units"`
}

type SummaryDTO struct {
	PeriodID            int                 `json:"compliance_period_id"`
	Categories          []CategoryTotalsDTO `json:"categories"`
	ComplianceUnitDelta int64               `json:"compliance_unit_delta"`
	IsLocked            bool                `json:"is_locked"`
}

func summaryDTO(s summary.Summary) SummaryDTO {
	out := SummaryDTO{
		PeriodID:            int(s.PeriodID),
		ComplianceUnitDelta: s.ComplianceUnitDelta,
		IsLocked:            s.IsLocked,
		Categories:          make([]CategoryTotalsDTO, 0, len(s.Categories)),
	}
	for _, c := range s.Categories {
		out.Categories = append(out.Categories, CategoryTotalsDTO{
			FuelCategoryID:    c.FuelCategoryID,
			CategoryName:      c.CategoryName,
			TrackedEnergy:     c.TrackedEnergy,
			RenewableEnergy:   c.RenewableEnergy,
			ExportedEnergy:    c.ExportedEnergy,
			RequiredRenewable: c.RequiredRenewable,
			Shortfall:         c.Shortfall,
			ContributionUnits: c.ContributionUnits,
			PenaltyUnits:      c.PenaltyUnits,
		})
	}
	return out
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type PeriodDTO struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	IsLegacy    bool   `json:"is_legacy"`
}

type FuelTypeDTO struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Units     string `json:"units"`
	Renewable bool   `json:"renewable"`
}

type FuelCategoryDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type ProvisionDTO struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	FuelCodeRequired  bool   `json:"fuel_code_required"`
	OverridePermitted bool   `json:"override_permitted"`
}

type FuelCodeDTO struct {
	ID              int             `json:"id"`
	Code            string          `json:"code"`
	FuelTypeID      int             `json:"fuel_type_id"`
	CarbonIntensity decimal.Decimal `json:"carbon_intensity"`
	ExpirationDate  string          `json:"expiration_date"`
}

// FuelOptionsDTO is the closed set of valid line-item inputs for one
// compliance period.
type FuelOptionsDTO struct {
	PeriodID       int               `json:"compliance_period_id"`
	FuelTypes      []FuelTypeDTO     `json:"fuel_types"`
	FuelCategories []FuelCategoryDTO `json:"fuel_categories"`
	EndUses        []FuelCategoryDTO `json:"end_uses"`
	Provisions     []ProvisionDTO    `json:"provisions"`
	FuelCodes      []FuelCodeDTO     `json:"fuel_codes"`
}

func fuelOptionsDTO(opts refdata.FuelOptions) FuelOptionsDTO {
	out := FuelOptionsDTO{PeriodID: int(opts.Period.ID)}
	for _, ft := range opts.FuelTypes {
		out.FuelTypes = append(out.FuelTypes, FuelTypeDTO{
			ID: ft.ID, Name: ft.Name, Units: ft.Units, Renewable: ft.Renewable,
		})
	}
	for _, c := range opts.FuelCategories {
		out.FuelCategories = append(out.FuelCategories, FuelCategoryDTO{ID: c.ID, Name: c.Name})
	}
	for _, e := range opts.EndUses {
		out.EndUses = append(out.EndUses, FuelCategoryDTO{ID: e.ID, Name: e.Name})
	}
	for _, p := range opts.Provisions {
		out.Provisions = append(out.Provisions, ProvisionDTO{
			ID: p.ID, Name: p.Name,
			FuelCodeRequired:  p.FuelCodeRequired,
			OverridePermitted: p.OverridePermitted,
		})
	}
	for _, fc := range opts.FuelCodes {
		out.FuelCodes = append(out.FuelCodes, FuelCodeDTO{
			ID: fc.ID, Code: fc.Code, FuelTypeID: fc.FuelTypeID,
			CarbonIntensity: fc.CarbonIntensity,
			ExpirationDate:  fc.ExpirationDate.Format("2006-01-02"),
		})
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
