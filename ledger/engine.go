/*
Package ledger is the single authority for compliance-unit balances.

PURPOSE:
  Owns the credit ledger. Every mutation of an organization's total or
  reserved balance flows through this package; no other component writes
  balances. Supports the Reserve and Adjustment actions plus the
  Release/Confirm finalization of a reservation, and materializes the
  per-organization ledger view with a running balance.

TRANSACTION STATE MACHINE:

  (nascent) -> Reserved -> Released      terminal
                        -> Adjustment    terminal (confirmed)
  (nascent) -> Adjustment                direct, for initiative
                                         agreements / admin adjustments

BALANCE INVARIANTS (checked on every committed mutation):
  - total_balance >= 0
  - reserved_balance >= 0
  - debiting operations must fit within total - reserved; a credit
    reservation holds |units| in reserved without an availability
    check, so reserved may transiently exceed total until the credit
    is confirmed or released

ORDERING & ATOMICITY:
  Operations on one organization are linearized by a per-organization
  lock; operations on distinct organizations proceed in parallel. Each
  public Engine method runs in a single store transaction. The primitive
  operations are also exported as functions over a caller-provided
  transactional Store so the report workflow can compose a reservation
  with its own writes into one atomic unit - reserve and confirm are
  NEVER fused; the caller drives the lifecycle explicitly.

SEE ALSO:
  - view.go: ledger view and the transfer / initiative-agreement /
    admin-adjustment terminal events
  - report/: the only caller that binds transactions to reports
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/bcfuels/lcfs-engine/core"
)

// =============================================================================
// STORE - What the engine needs from persistence
// =============================================================================

// Store is the persistence surface for one unit of work. Implementations
// back it with a database transaction when obtained through TxStore.
type Store interface {
	GetOrganization(ctx context.Context, id core.OrgID) (core.Organization, error)
	UpdateBalances(ctx context.Context, id core.OrgID, total, reserved int64) error

	InsertTransaction(ctx context.Context, tx core.Transaction) (core.TransactionID, error)
	GetTransaction(ctx context.Context, id core.TransactionID) (core.Transaction, error)
	// UpdateTransactionAction performs the only in-place mutation the
	// ledger permits: Reserved -> Released or Reserved -> Adjustment.
	UpdateTransactionAction(ctx context.Context, id core.TransactionID, action core.TxAction) error

	TransactionsByOrg(ctx context.Context, orgID core.OrgID) ([]core.Transaction, error)
}

// TxStore adds atomic unit-of-work support.
type TxStore interface {
	Store

	// WithTx executes fn within one serializable transaction. If fn
	// returns an error the transaction rolls back; partial effects are
	// impossible.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// PRIMITIVE OPERATIONS - Composable within a caller's transaction
// =============================================================================

// Reserve adds |units| to the organization's reserved balance and writes
// a Reserved transaction. A negative units value is a debit reservation
// and must fit within the available balance. Zero-unit reservations are
// permitted so that every submitted report binds a transaction, even a
// perfectly balanced one.
func Reserve(ctx context.Context, st Store, orgID core.OrgID, units int64, txType core.TxType, effective time.Time) (core.TransactionID, error) {
	org, err := st.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}

	magnitude := abs(units)
	if units < 0 && org.Available()-magnitude < 0 {
		return 0, &core.InsufficientBalanceError{
			OrgID:     orgID,
			Available: org.Available(),
			Requested: magnitude,
		}
	}

	if err := st.UpdateBalances(ctx, orgID, org.TotalBalance, org.ReservedBalance+magnitude); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	return st.InsertTransaction(ctx, core.Transaction{
		OrgID:           orgID,
		ComplianceUnits: units,
		Action:          core.TxReserved,
		Type:            txType,
		EffectiveDate:   effective,
		CreateDate:      now,
		UpdateDate:      now,
	})
}

// Adjust applies units to the total balance and writes a confirmed
// Adjustment transaction. This is the direct path used by initiative
// agreements and administrative adjustments.
func Adjust(ctx context.Context, st Store, orgID core.OrgID, units int64, txType core.TxType, effective time.Time) (core.TransactionID, error) {
	org, err := st.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}

	total := org.TotalBalance + units
	if units < 0 && (total < 0 || total-org.ReservedBalance < 0) {
		return 0, &core.InsufficientBalanceError{
			OrgID:     orgID,
			Available: org.Available(),
			Requested: abs(units),
		}
	}

	if err := st.UpdateBalances(ctx, orgID, total, org.ReservedBalance); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	return st.InsertTransaction(ctx, core.Transaction{
		OrgID:           orgID,
		ComplianceUnits: units,
		Action:          core.TxAdjustment,
		Type:            txType,
		EffectiveDate:   effective,
		CreateDate:      now,
		UpdateDate:      now,
	})
}

// Release undoes a reservation: subtracts |units| from the reserved
// balance and marks the transaction Released. Balances return to their
// pre-reserve state.
func Release(ctx context.Context, st Store, txID core.TransactionID) error {
	tx, err := st.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Action != core.TxReserved {
		return &core.InvalidTransactionStateError{TxID: txID, Action: tx.Action, Op: "release"}
	}

	org, err := st.GetOrganization(ctx, tx.OrgID)
	if err != nil {
		return err
	}

	reserved := org.ReservedBalance - abs(tx.ComplianceUnits)
	if reserved < 0 {
		return core.Internalf("release of tx %d would drive reserved balance of %s negative", txID, tx.OrgID)
	}
	if err := st.UpdateBalances(ctx, tx.OrgID, org.TotalBalance, reserved); err != nil {
		return err
	}
	return st.UpdateTransactionAction(ctx, txID, core.TxReleased)
}

// Confirm finalizes a reservation: subtracts |units| from the reserved
// balance, applies units to the total balance, and flips the transaction
// to Adjustment. All three steps share the caller's transaction, so a
// failure rolls back fully.
func Confirm(ctx context.Context, st Store, txID core.TransactionID) error {
	tx, err := st.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Action != core.TxReserved {
		return &core.InvalidTransactionStateError{TxID: txID, Action: tx.Action, Op: "confirm"}
	}

	org, err := st.GetOrganization(ctx, tx.OrgID)
	if err != nil {
		return err
	}

	reserved := org.ReservedBalance - abs(tx.ComplianceUnits)
	total := org.TotalBalance + tx.ComplianceUnits
	if reserved < 0 || total < 0 {
		return core.Internalf("confirm of tx %d violates balance invariants for %s", txID, tx.OrgID)
	}

	if err := st.UpdateBalances(ctx, tx.OrgID, total, reserved); err != nil {
		return err
	}
	return st.UpdateTransactionAction(ctx, txID, core.TxAdjustment)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// =============================================================================
// ENGINE - Locked, transactional entry points
// =============================================================================

// Engine serializes balance mutations per organization and wraps the
// primitive operations in store transactions.
type Engine struct {
	store TxStore
	locks sync.Map // core.OrgID -> *sync.Mutex
}

func NewEngine(store TxStore) *Engine {
	return &Engine{store: store}
}

func (e *Engine) orgLock(id core.OrgID) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// WithOrg runs fn while holding the organization's lock. The report
// workflow uses this to compose ledger primitives with its own writes.
func (e *Engine) WithOrg(orgID core.OrgID, fn func() error) error {
	lock := e.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// withOrgs locks several organizations in a stable order so concurrent
// multi-org operations (transfers) cannot deadlock.
func (e *Engine) withOrgs(ids []core.OrgID, fn func() error) error {
	ordered := make([]core.OrgID, len(ids))
	copy(ordered, ids)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j] < ordered[j-1]; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, id := range ordered {
		lock := e.orgLock(id)
		lock.Lock()
		defer lock.Unlock()
	}
	return fn()
}

// Store exposes the underlying transactional store for composition.
func (e *Engine) Store() TxStore { return e.store }

// Reserve is the locked, transactional form of the Reserve primitive.
func (e *Engine) Reserve(ctx context.Context, orgID core.OrgID, units int64, txType core.TxType, effective time.Time) (core.TransactionID, error) {
	var id core.TransactionID
	err := e.WithOrg(orgID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(st Store) error {
				var err error
				id, err = Reserve(ctx, st, orgID, units, txType, effective)
				return err
			})
		})
	})
	return id, err
}

// Adjust is the locked, transactional form of the Adjust primitive.
func (e *Engine) Adjust(ctx context.Context, orgID core.OrgID, units int64, txType core.TxType, effective time.Time) (core.TransactionID, error) {
	var id core.TransactionID
	err := e.WithOrg(orgID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(st Store) error {
				var err error
				id, err = Adjust(ctx, st, orgID, units, txType, effective)
				return err
			})
		})
	})
	return id, err
}

// Release is the locked, transactional form of the Release primitive.
func (e *Engine) Release(ctx context.Context, txID core.TransactionID) error {
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	return e.WithOrg(tx.OrgID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(st Store) error {
				return Release(ctx, st, txID)
			})
		})
	})
}

// Confirm is the locked, transactional form of the Confirm primitive.
func (e *Engine) Confirm(ctx context.Context, txID core.TransactionID) error {
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	return e.WithOrg(tx.OrgID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(st Store) error {
				return Confirm(ctx, st, txID)
			})
		})
	})
}

// Balance reads the organization's committed balances.
func (e *Engine) Balance(ctx context.Context, orgID core.OrgID) (core.Organization, error) {
	return e.store.GetOrganization(ctx, orgID)
}
