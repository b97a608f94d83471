/*
Package core provides the shared contracts of the compliance engine.

PURPOSE:
  This package contains the domain types every component consumes: typed
  identifiers, the line-item sum type, the ledger transaction model, the
  organization model, and the error vocabulary. It has no dependencies on
  the other engine packages, so refdata, effective, summary, ledger and
  report can all import it without cycles.

KEY CONCEPTS IN THIS FILE (types.go):
  - Organization: a reporting party with a total and a reserved unit balance
  - Transaction: an entry in the credit ledger
  - LineItem: one versioned row of report activity (tagged variant)
  - Actor: the capability tuple consumed from the identity collaborator

DESIGN PRINCIPLES:
  1. Balances are int64 compliance units; fuel quantities and carbon
     intensities use decimal.Decimal to avoid floating-point errors.
  2. Line items are a single tagged-variant struct, not an interface
     hierarchy: the Kind field selects which payload fields are meaningful.
  3. Strong typing for IDs prevents mixing organization and report IDs.

SEE ALSO:
  - errors.go: Typed error kinds surfaced unchanged to the API collaborator
  - ledger/: The only mutator of organization balances
  - report/: The only mutator of report status
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrgID string
type ReportID int64
type TransactionID int64
type PeriodID int

// =============================================================================
// ORGANIZATION
// =============================================================================

type OrgStatus string

const (
	OrgUnregistered OrgStatus = "Unregistered"
	OrgRegistered   OrgStatus = "Registered"
	OrgSuspended    OrgStatus = "Suspended"
	OrgCanceled     OrgStatus = "Canceled"
)

type OrgType string

const (
	OrgFuelSupplier        OrgType = "fuel_supplier"
	OrgElectricitySupplier OrgType = "electricity_supplier"
	OrgBroker              OrgType = "broker"
	OrgUtilities           OrgType = "utilities"
)

// Organization is a reporting party (or the government itself).
// TotalBalance and ReservedBalance are mutated ONLY by the ledger engine.
type Organization struct {
	ID            OrgID
	LegalName     string
	OperatingName string
	Status        OrgStatus
	Type          OrgType

	// Compliance-unit balances. Invariants (checked by ledger.Engine):
	// TotalBalance >= 0, ReservedBalance >= 0, and debits must fit
	// within TotalBalance - ReservedBalance.
	TotalBalance    int64
	ReservedBalance int64

	CreatedAt time.Time
}

// Available returns the units the organization can still commit.
func (o Organization) Available() int64 {
	return o.TotalBalance - o.ReservedBalance
}

// =============================================================================
// LEDGER TRANSACTION
// =============================================================================

type TxAction string

const (
	TxReserved   TxAction = "Reserved"
	TxAdjustment TxAction = "Adjustment"
	TxReleased   TxAction = "Released"
)

type TxType string

const (
	TxTransfer            TxType = "Transfer"
	TxInitiativeAgreement TxType = "InitiativeAgreement"
	TxAdminAdjustment     TxType = "AdminAdjustment"
	TxComplianceReport    TxType = "ComplianceReport"
)

// Transaction is one entry in the credit ledger. Rows are appended by the
// ledger engine and never mutated in place, except for the two permitted
// action flips: Reserved -> Adjustment (confirm) and Reserved -> Released.
type Transaction struct {
	ID              TransactionID
	OrgID           OrgID
	ComplianceUnits int64
	Action          TxAction
	Type            TxType
	EffectiveDate   time.Time
	CreateDate      time.Time
	UpdateDate      time.Time
}

// Terminal reports whether the transaction can no longer change action.
func (t Transaction) Terminal() bool {
	return t.Action != TxReserved
}

// =============================================================================
// LINE ITEMS - Versioned children of a compliance report
// =============================================================================

type LineItemKind string

const (
	KindFuelSupply          LineItemKind = "fuel_supply"
	KindFuelExport          LineItemKind = "fuel_export"
	KindNotionalTransfer    LineItemKind = "notional_transfer"
	KindOtherUse            LineItemKind = "other_use"
	KindAllocationAgreement LineItemKind = "allocation_agreement"
)

// Kinds lists every line-item kind, in the order reports present them.
var Kinds = []LineItemKind{
	KindFuelSupply,
	KindFuelExport,
	KindNotionalTransfer,
	KindOtherUse,
	KindAllocationAgreement,
}

type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
)

// TransferDirection applies to notional transfers.
type TransferDirection string

const (
	DirectionReceived    TransferDirection = "Received"
	DirectionTransferred TransferDirection = "Transferred"
)

// Responsibility applies to allocation agreements.
type Responsibility string

const (
	AllocatedFrom Responsibility = "Allocated from"
	AllocatedTo   Responsibility = "Allocated to"
)

// LineItem is one versioned row of report activity. A logical line item is
// identified by GroupUUID; every edit in a later report version writes a new
// row with the same GroupUUID, a bumped Version and an Update or Delete
// action. Rows are never updated in place across report versions.
//
// Kind selects which payload fields are meaningful:
//   - Direction is set only for notional transfers
//   - Responsibility is set only for allocation agreements
//   - Partner is the counterparty for both of the above
type LineItem struct {
	ID        int64
	ReportID  ReportID
	GroupUUID string
	Version   int
	Action    ActionType
	Kind      LineItemKind

	FuelTypeID     int
	FuelCategoryID int
	EndUseID       int // 0 when not applicable
	FuelCodeID     int // 0 when no fuel code is claimed
	ProvisionID    int

	Quantity decimal.Decimal
	Units    string

	// User overrides. Nil means "use the reference-data value".
	CIOverride            *decimal.Decimal
	EnergyDensityOverride *decimal.Decimal

	Direction      TransferDirection
	Responsibility Responsibility
	Partner        string
}

// =============================================================================
// IDENTITY CAPABILITY - Consumed from the identity collaborator
// =============================================================================

type Role string

const (
	RoleSupplier          Role = "Supplier"
	RoleAnalyst           Role = "Analyst"
	RoleComplianceManager Role = "Compliance Manager"
	RoleDirector          Role = "Director"
	RoleAdministrator     Role = "Administrator"
	RoleGovernment        Role = "Government"
	RoleSigningAuthority  Role = "Signing Authority"
)

// Actor is the capability tuple the identity collaborator hands the core.
// OrgID is empty for government-side users.
type Actor struct {
	UserID      string
	DisplayName string
	OrgID       OrgID
	Roles       []Role
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// IsGovernment reports whether the actor acts for the regulator rather
// than for a supplier.
func (a Actor) IsGovernment() bool {
	return a.HasRole(RoleGovernment) || a.HasRole(RoleAnalyst) ||
		a.HasRole(RoleComplianceManager) || a.HasRole(RoleDirector)
}
