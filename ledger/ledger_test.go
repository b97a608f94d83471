package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.NewEngine(store), store
}

func seedOrg(t *testing.T, store *sqlite.Store, id core.OrgID, total, reserved int64) {
	t.Helper()
	err := store.SaveOrganization(context.Background(), core.Organization{
		ID:              id,
		LegalName:       string(id),
		TotalBalance:    total,
		ReservedBalance: reserved,
	})
	require.NoError(t, err)
}

var effDate = time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)

// =============================================================================
// RESERVE
// =============================================================================

func TestReserve_Credit_DoesNotTouchAvailable(t *testing.T) {
	// GIVEN: An organization with 100 units
	// WHEN: Reserving a +40 credit
	// THEN: Reserved rises by 40; total is untouched until confirmation

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	txID, err := engine.Reserve(ctx, "org-1", 40, core.TxComplianceReport, effDate)
	require.NoError(t, err)

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), org.TotalBalance)
	assert.Equal(t, int64(40), org.ReservedBalance)

	tx, err := store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, core.TxReserved, tx.Action)
	assert.Equal(t, int64(40), tx.ComplianceUnits)
}

func TestReserve_Debit_WithinAvailable(t *testing.T) {
	// GIVEN: An organization with 100 units
	// WHEN: Reserving a -60 debit
	// THEN: Available drops to 40 while total stays at 100

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	_, err := engine.Reserve(ctx, "org-1", -60, core.TxComplianceReport, effDate)
	require.NoError(t, err)

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), org.TotalBalance)
	assert.Equal(t, int64(60), org.ReservedBalance)
	assert.Equal(t, int64(40), org.Available())
}

func TestReserve_Debit_ExceedsAvailable_Rejected(t *testing.T) {
	// GIVEN: An organization with 100 total of which 80 is already reserved
	// WHEN: Reserving a -30 debit
	// THEN: InsufficientBalance, and balances are untouched

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 80)

	_, err := engine.Reserve(ctx, "org-1", -30, core.TxComplianceReport, effDate)

	require.Error(t, err)
	var insufficient *core.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(20), insufficient.Available)
	assert.Equal(t, int64(30), insufficient.Requested)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), org.TotalBalance)
	assert.Equal(t, int64(80), org.ReservedBalance)
}

func TestReserve_Zero_Allowed(t *testing.T) {
	// GIVEN: An organization with no balance at all
	// WHEN: Reserving exactly zero
	// THEN: A Reserved transaction exists and balances stay at zero

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 0, 0)

	txID, err := engine.Reserve(ctx, "org-1", 0, core.TxComplianceReport, effDate)
	require.NoError(t, err)
	assert.NotZero(t, txID)

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), org.TotalBalance)
	assert.Equal(t, int64(0), org.ReservedBalance)
}

func TestReserve_UnknownOrg_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Reserve(context.Background(), "ghost", 10, core.TxComplianceReport, effDate)
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// RELEASE AND CONFIRM
// =============================================================================

func TestRelease_RestoresBalances(t *testing.T) {
	// GIVEN: A -60 reservation against 100 units
	// WHEN: Releasing it
	// THEN: Balances return to the pre-reserve state and the transaction
	//       is terminally Released

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	txID, err := engine.Reserve(ctx, "org-1", -60, core.TxComplianceReport, effDate)
	require.NoError(t, err)
	require.NoError(t, engine.Release(ctx, txID))

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), org.TotalBalance)
	assert.Equal(t, int64(0), org.ReservedBalance)

	tx, err := store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, core.TxReleased, tx.Action)
	assert.True(t, tx.Terminal())
}

func TestRelease_Twice_InvalidState(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	txID, err := engine.Reserve(ctx, "org-1", -10, core.TxComplianceReport, effDate)
	require.NoError(t, err)
	require.NoError(t, engine.Release(ctx, txID))

	err = engine.Release(ctx, txID)
	assert.True(t, errors.Is(err, core.ErrInvalidTransactionState))
}

func TestConfirm_Credit_AppliesToTotal(t *testing.T) {
	// GIVEN: A +40 reservation against 100 units
	// WHEN: Confirming it
	// THEN: Total becomes 140, reserved returns to 0, action is Adjustment

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	txID, err := engine.Reserve(ctx, "org-1", 40, core.TxComplianceReport, effDate)
	require.NoError(t, err)
	require.NoError(t, engine.Confirm(ctx, txID))

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(140), org.TotalBalance)
	assert.Equal(t, int64(0), org.ReservedBalance)

	tx, err := store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, core.TxAdjustment, tx.Action)
}

func TestConfirm_Debit_AppliesToTotal(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	txID, err := engine.Reserve(ctx, "org-1", -60, core.TxComplianceReport, effDate)
	require.NoError(t, err)
	require.NoError(t, engine.Confirm(ctx, txID))

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), org.TotalBalance)
	assert.Equal(t, int64(0), org.ReservedBalance)
}

func TestConfirm_AfterRelease_InvalidState(t *testing.T) {
	// GIVEN: A released reservation
	// WHEN: Confirming it anyway
	// THEN: InvalidTransactionState - terminal actions never flip again

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	txID, err := engine.Reserve(ctx, "org-1", 25, core.TxComplianceReport, effDate)
	require.NoError(t, err)
	require.NoError(t, engine.Release(ctx, txID))

	err = engine.Confirm(ctx, txID)
	var state *core.InvalidTransactionStateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, core.TxReleased, state.Action)
}

// =============================================================================
// DIRECT ADJUSTMENTS AND TERMINAL EVENTS
// =============================================================================

func TestAdjust_DebitBelowZero_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 50, 0)

	_, err := engine.Adjust(ctx, "org-1", -80, core.TxAdminAdjustment, effDate)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), org.TotalBalance)
}

func TestRecordTransfer_MovesUnitsAtomically(t *testing.T) {
	// GIVEN: Sender with 100 units, receiver with 10
	// WHEN: Recording a 30-unit transfer
	// THEN: Sender has 70, receiver has 40

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-a", 100, 0)
	seedOrg(t, store, "org-b", 10, 0)

	require.NoError(t, engine.RecordTransfer(ctx, "org-a", "org-b", 30, effDate))

	sender, err := engine.Balance(ctx, "org-a")
	require.NoError(t, err)
	receiver, err := engine.Balance(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, int64(70), sender.TotalBalance)
	assert.Equal(t, int64(40), receiver.TotalBalance)
}

func TestRecordTransfer_Insufficient_NeitherSideMoves(t *testing.T) {
	// GIVEN: Sender with only 20 units
	// WHEN: Recording a 30-unit transfer
	// THEN: The whole transfer rolls back; receiver gains nothing

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-a", 20, 0)
	seedOrg(t, store, "org-b", 10, 0)

	err := engine.RecordTransfer(ctx, "org-a", "org-b", 30, effDate)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))

	sender, err := engine.Balance(ctx, "org-a")
	require.NoError(t, err)
	receiver, err := engine.Balance(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, int64(20), sender.TotalBalance)
	assert.Equal(t, int64(10), receiver.TotalBalance)

	txs, err := store.TransactionsByOrg(ctx, "org-b")
	require.NoError(t, err)
	assert.Empty(t, txs, "rolled-back transfer must leave no ledger rows")
}

func TestRecordTransfer_SelfTransfer_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	seedOrg(t, store, "org-a", 100, 0)

	err := engine.RecordTransfer(context.Background(), "org-a", "org-a", 10, effDate)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestRecordInitiativeAgreement_MustIssueUnits(t *testing.T) {
	engine, store := newTestEngine(t)
	seedOrg(t, store, "org-a", 0, 0)

	_, err := engine.RecordInitiativeAgreement(context.Background(), "org-a", -5, effDate)
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = engine.RecordInitiativeAgreement(context.Background(), "org-a", 500, effDate)
	require.NoError(t, err)

	org, err := engine.Balance(context.Background(), "org-a")
	require.NoError(t, err)
	assert.Equal(t, int64(500), org.TotalBalance)
}

// =============================================================================
// LEDGER VIEW
// =============================================================================

func TestLedger_RunningBalance_ConfirmedOnly(t *testing.T) {
	// GIVEN: An IA credit, a confirmed report debit, a pending
	//        reservation and a released reservation
	// WHEN: Reading the ledger view
	// THEN: Only the two confirmed entries appear, with a running balance

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 0, 0)

	_, err := engine.RecordInitiativeAgreement(ctx, "org-1",
		1000, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	debit, err := engine.Reserve(ctx, "org-1", -300, core.TxComplianceReport,
		time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, engine.Confirm(ctx, debit))

	_, err = engine.Reserve(ctx, "org-1", -100, core.TxComplianceReport,
		time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	released, err := engine.Reserve(ctx, "org-1", -50, core.TxComplianceReport,
		time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, engine.Release(ctx, released))

	entries, err := engine.Ledger(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1000), entries[0].RunningBalance)
	assert.Equal(t, core.TxInitiativeAgreement, entries[0].Type)
	assert.Equal(t, int64(700), entries[1].RunningBalance)
	assert.Equal(t, core.TxComplianceReport, entries[1].Type)
}

func TestLedger_YearFilter_KeepsRunningBalance(t *testing.T) {
	// GIVEN: Confirmed activity in 2023 and 2024
	// WHEN: Reading the 2024 view
	// THEN: Only 2024 entries appear but their running balance includes
	//       the 2023 history

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 0, 0)

	_, err := engine.RecordInitiativeAgreement(ctx, "org-1",
		800, time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = engine.RecordAdminAdjustment(ctx, "org-1",
		-100, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	entries, err := engine.Ledger(ctx, "org-1", 2024)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-100), entries[0].ComplianceUnits)
	assert.Equal(t, int64(700), entries[0].RunningBalance)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestReserve_ConcurrentDebits_NeverOversell(t *testing.T) {
	// GIVEN: 100 available units and ten racing -30 debit reservations
	// WHEN: All run concurrently
	// THEN: At most three succeed and the reserved balance never exceeds
	//       the total

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-1", 100, 0)

	var g errgroup.Group
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		i := i
		g.Go(func() error {
			_, err := engine.Reserve(ctx, "org-1", -30, core.TxComplianceReport, effDate)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, core.ErrInsufficientBalance))
		}
	}
	assert.Equal(t, 3, succeeded)

	org, err := engine.Balance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), org.ReservedBalance)
	assert.GreaterOrEqual(t, org.TotalBalance-org.ReservedBalance, int64(0))
}

func TestRecordTransfer_OppositeDirections_NoDeadlock(t *testing.T) {
	// GIVEN: Two organizations transferring to each other concurrently
	// WHEN: Both directions run many times in parallel
	// THEN: All complete (ordered locking prevents deadlock) and units
	//       are conserved

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedOrg(t, store, "org-a", 500, 0)
	seedOrg(t, store, "org-b", 500, 0)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return engine.RecordTransfer(ctx, "org-a", "org-b", 5, effDate)
		})
		g.Go(func() error {
			return engine.RecordTransfer(ctx, "org-b", "org-a", 5, effDate)
		})
	}
	require.NoError(t, g.Wait())

	a, err := engine.Balance(ctx, "org-a")
	require.NoError(t, err)
	b, err := engine.Balance(ctx, "org-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.TotalBalance+b.TotalBalance)
	assert.Equal(t, int64(500), a.TotalBalance)
	assert.Equal(t, int64(500), b.TotalBalance)
}
