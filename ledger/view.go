/*
view.go - Ledger view and terminal-status events

The ledger view is computed on the fly from the raw transaction table; a
database-side materialized view would only be an optimization and is not
required for correctness. Releases are excluded from the view but kept
in the raw transactions for audit.

Transfers, initiative agreements and administrative adjustments are
business objects with their own status machines owned outside this core;
only their terminal-status events reach the ledger, through the Record*
methods below.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/bcfuels/lcfs-engine/core"
)

// =============================================================================
// LEDGER VIEW
// =============================================================================

// Entry is one row of the per-organization ledger view.
type Entry struct {
	TransactionID   core.TransactionID `json:"transaction_id"`
	Type            core.TxType        `json:"transaction_type"`
	ComplianceUnits int64              `json:"compliance_units"`
	EffectiveDate   time.Time          `json:"effective_date"`

	// RunningBalance is the organization's confirmed balance after this
	// entry, in ledger order.
	RunningBalance int64 `json:"running_balance"`
}

// Ledger returns the organization's ledger view: confirmed entries only
// (Transfers once Recorded, initiative agreements once Approved, reports
// once Assessed - all of which appear here as Adjustment transactions),
// ordered by effective date, with a running balance. Pass year = 0 for
// all periods; a non-zero year filters entries to that calendar year but
// the running balance still accumulates from the beginning.
func (e *Engine) Ledger(ctx context.Context, orgID core.OrgID, year int) ([]Entry, error) {
	if _, err := e.store.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	txs, err := e.store.TransactionsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].EffectiveDate.Equal(txs[j].EffectiveDate) {
			return txs[i].EffectiveDate.Before(txs[j].EffectiveDate)
		}
		return txs[i].ID < txs[j].ID
	})

	var entries []Entry
	var running int64
	for _, tx := range txs {
		if tx.Action != core.TxAdjustment {
			continue // Reserved are pending, Released are audit-only
		}
		running += tx.ComplianceUnits
		if year != 0 && tx.EffectiveDate.Year() != year {
			continue
		}
		entries = append(entries, Entry{
			TransactionID:   tx.ID,
			Type:            tx.Type,
			ComplianceUnits: tx.ComplianceUnits,
			EffectiveDate:   tx.EffectiveDate,
			RunningBalance:  running,
		})
	}
	return entries, nil
}

// =============================================================================
// TERMINAL-STATUS EVENTS
// =============================================================================

// RecordTransfer applies a Recorded transfer: units leave the sender and
// arrive at the receiver atomically. Fails with InsufficientBalance when
// the sender cannot cover the transfer; neither side is touched then.
func (e *Engine) RecordTransfer(ctx context.Context, from, to core.OrgID, units int64, effective time.Time) error {
	if units <= 0 {
		return (&core.ValidationError{}).Add("compliance_units", "transfer quantity must be positive")
	}
	if from == to {
		return (&core.ValidationError{}).Add("to_organization_id", "cannot transfer to self")
	}

	return e.withOrgs([]core.OrgID{from, to}, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(st Store) error {
				if _, err := Adjust(ctx, st, from, -units, core.TxTransfer, effective); err != nil {
					return err
				}
				_, err := Adjust(ctx, st, to, units, core.TxTransfer, effective)
				return err
			})
		})
	})
}

// RecordInitiativeAgreement applies an Approved initiative agreement:
// government-issued units credited directly.
func (e *Engine) RecordInitiativeAgreement(ctx context.Context, orgID core.OrgID, units int64, effective time.Time) (core.TransactionID, error) {
	if units <= 0 {
		return 0, (&core.ValidationError{}).Add("compliance_units", "initiative agreement must issue units")
	}
	return e.Adjust(ctx, orgID, units, core.TxInitiativeAgreement, effective)
}

// RecordAdminAdjustment applies an approved administrative adjustment,
// which may credit or debit.
func (e *Engine) RecordAdminAdjustment(ctx context.Context, orgID core.OrgID, units int64, effective time.Time) (core.TransactionID, error) {
	if units == 0 {
		return 0, (&core.ValidationError{}).Add("compliance_units", "adjustment cannot be zero")
	}
	return e.Adjust(ctx, orgID, units, core.TxAdminAdjustment, effective)
}
