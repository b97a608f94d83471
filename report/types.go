/*
Package report owns the compliance-report state machine.

PURPOSE:
  Coordinates the effective-view resolver, the summary engine and the
  credit ledger in response to status transitions, and owns the
  versioning rules of report chains: original -> supplier supplemental
  -> government reassessment -> analyst adjustment.

THE STATE MACHINE:

  Draft --submit--> Submitted --recommend_by_analyst--> Recommended by analyst
                       |                                     |
                       +--return_to_supplier--> Draft        +--recommend_by_manager
                                                             v
                                             Recommended by manager
                                               |           |
                                   return_to_analyst     assess
                                               v           v
                               Recommended by analyst   Assessed

  Assessed --create_supplemental (supplier)----> Draft (new version)
  Assessed --create_reassessment (government)--> Draft (new version)
  Assessed --create_analyst_adjustment---------> Analyst adjustment (new version)
  Analyst adjustment --assess--> Assessed

  Only Assessed is a resting state; from there new versions may open.
  Chains share a group UUID; versions are a dense sequence from 0, and
  only one non-Assessed version may exist in a chain at a time.

SEE ALSO:
  - fsm.go: transition validation (looplab/fsm)
  - engine.go: transition side effects and orchestration
  - versions.go: supplementals, reassessments, adjustments, rollback
*/
package report

import (
	"time"

	"github.com/bcfuels/lcfs-engine/core"
)

// =============================================================================
// STATUSES AND EVENTS
// =============================================================================

type Status string

const (
	StatusDraft                Status = "Draft"
	StatusSubmitted            Status = "Submitted"
	StatusRecommendedByAnalyst Status = "Recommended by analyst"
	StatusRecommendedByManager Status = "Recommended by manager"
	StatusAssessed             Status = "Assessed"
	StatusAnalystAdjustment    Status = "Analyst adjustment"
)

// Statuses lists every workflow state, for dashboards and validation.
var Statuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusRecommendedByAnalyst,
	StatusRecommendedByManager,
	StatusAssessed,
	StatusAnalystAdjustment,
}

type Event string

const (
	EventSubmit             Event = "submit"
	EventRecommendByAnalyst Event = "recommend_by_analyst"
	EventRecommendByManager Event = "recommend_by_manager"
	EventAssess             Event = "assess"
	EventReturnToSupplier   Event = "return_to_supplier"
	EventReturnToAnalyst    Event = "return_to_analyst"
)

// =============================================================================
// REPORT MODEL
// =============================================================================

type SupplementalInitiator string

const (
	InitiatorNone                   SupplementalInitiator = ""
	InitiatorSupplierSupplemental   SupplementalInitiator = "Supplier Supplemental"
	InitiatorGovernmentReassessment SupplementalInitiator = "Government Reassessment"
)

type Frequency string

const (
	FrequencyAnnual    Frequency = "Annual"
	FrequencyQuarterly Frequency = "Quarterly"
)

// Report is one version in a report chain.
type Report struct {
	ID       core.ReportID
	OrgID    core.OrgID
	PeriodID core.PeriodID

	// Chain identity: all versions share GroupUUID; Version is a dense
	// sequence starting at 0.
	GroupUUID string
	Version   int
	Initiator SupplementalInitiator

	Frequency Frequency
	Nickname  string
	Status    Status

	// TransactionID binds the report to its reserved or confirmed ledger
	// transaction; 0 means unbound (Draft only).
	TransactionID core.TransactionID

	AssignedAnalystID string

	// LegacyID is the TFRS identifier for imported reports; their
	// summaries are frozen on import. 0 for native reports.
	LegacyID int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Editable reports whether line items of this version may change.
func (r Report) Editable() bool {
	return r.Status == StatusDraft || r.Status == StatusAnalystAdjustment
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryEntry is one row of the append-only status audit.
type HistoryEntry struct {
	ReportID    core.ReportID
	Status      Status
	UserID      string
	DisplayName string
	CreatedAt   time.Time
}

// =============================================================================
// NOTIFICATION PORT
// =============================================================================

// TransitionEvent is emitted to the notification collaborator after each
// successful state transition. Delivery is at-least-once; consumers must
// tolerate duplicates.
type TransitionEvent struct {
	Type       Event
	ReportID   core.ReportID
	FromStatus Status
	ToStatus   Status
	ActorID    string
	Timestamp  time.Time
}

// Notifier receives transition events, fire-and-forget. Implementations
// must not block the workflow.
type Notifier interface {
	Publish(event TransitionEvent)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(TransitionEvent) {}
