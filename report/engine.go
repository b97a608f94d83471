/*
engine.go - Workflow orchestration

Every operation here runs inside one store transaction spanning
validation, effective-view resolution, summary computation, ledger
mutation and history append; partial effects are impossible. Mutations
to one chain are serialized by a per-chain lock, and ledger-touching
transitions additionally hold the organization lock so balance mutations
stay linearized with direct ledger operations.

TRANSITION SIDE EFFECTS:

  edit line item            recompute summary (unlocked)
  submit                    recompute + lock summary, reserve the
                            sign-aware difference from the assessed
                            baseline, bind the transaction
  return_to_supplier        release the bound transaction, unbind,
                            unlock the summary
  recommend_* / return_to_analyst   status and history only
  assess                    confirm the bound transaction; an analyst
                            adjustment first trues up its reservation
*/
package report

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/effective"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/refdata"
	"github.com/bcfuels/lcfs-engine/summary"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    TxStore
	units    *ledger.Engine
	oracle   *refdata.Oracle
	calc     *summary.Engine
	notifier Notifier

	chains sync.Map // groupUUID -> *sync.Mutex
}

func NewEngine(store TxStore, units *ledger.Engine, oracle *refdata.Oracle, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:    store,
		units:    units,
		oracle:   oracle,
		calc:     summary.NewEngine(oracle),
		notifier: notifier,
	}
}

func (e *Engine) chainLock(groupUUID string) *sync.Mutex {
	lock, _ := e.chains.LoadOrStore(groupUUID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (e *Engine) withChain(groupUUID string, fn func() error) error {
	lock := e.chainLock(groupUUID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// =============================================================================
// CHAIN CREATION
// =============================================================================

// CreateReport opens a new report chain at version 0 in Draft.
func (e *Engine) CreateReport(ctx context.Context, actor core.Actor, orgID core.OrgID, periodID core.PeriodID, frequency Frequency, nickname string) (Report, error) {
	if !actor.IsGovernment() && actor.OrgID != orgID {
		return Report{}, (&core.ValidationError{}).Add("actor", "cannot create reports for another organization")
	}
	if _, err := e.oracle.Period(periodID); err != nil {
		return Report{}, err
	}
	if frequency != FrequencyAnnual && frequency != FrequencyQuarterly {
		return Report{}, (&core.ValidationError{}).Add("reporting_frequency", "must be Annual or Quarterly")
	}

	var out Report
	err := core.WithRetry(ctx, func() error {
		return e.store.WithTx(ctx, func(lst ledger.Store) error {
			st, err := inTx(lst)
			if err != nil {
				return err
			}
			if _, err := st.GetOrganization(ctx, orgID); err != nil {
				return err
			}

			now := time.Now().UTC()
			r := Report{
				OrgID:     orgID,
				PeriodID:  periodID,
				GroupUUID: uuid.NewString(),
				Version:   0,
				Frequency: frequency,
				Nickname:  nickname,
				Status:    StatusDraft,
				CreatedAt: now,
				UpdatedAt: now,
			}
			r.ID, err = st.InsertReport(ctx, r)
			if err != nil {
				return err
			}
			if err := st.SaveSummary(ctx, r.ID, summary.Summary{PeriodID: periodID}); err != nil {
				return err
			}
			if err := st.AppendHistory(ctx, HistoryEntry{
				ReportID: r.ID, Status: StatusDraft,
				UserID: actor.UserID, DisplayName: actor.DisplayName, CreatedAt: now,
			}); err != nil {
				return err
			}
			out = r
			return nil
		})
	})
	return out, err
}

// =============================================================================
// LINE ITEM EDITS
// =============================================================================

// editable gates who may touch line items of a version.
func editable(r Report, actor core.Actor) error {
	switch r.Status {
	case StatusDraft:
		if !actor.IsGovernment() && actor.OrgID != r.OrgID {
			return (&core.ValidationError{}).Add("actor", "report belongs to another organization")
		}
	case StatusAnalystAdjustment:
		if !actor.HasRole(core.RoleAnalyst) {
			return (&core.ValidationError{}).Add("actor", "only an analyst may edit an adjustment")
		}
	default:
		return &core.IllegalTransitionError{From: string(r.Status), Target: "edit"}
	}
	return nil
}

// SaveLineItem creates or updates one line item of an editable report
// version and recomputes the (unlocked) summary. An empty GroupUUID
// creates a fresh item; otherwise the edit lands on the chain's group:
// a row already written by this version is updated in place, a group
// last touched by an earlier version gets a new row with a bumped
// version and an UPDATE action.
func (e *Engine) SaveLineItem(ctx context.Context, actor core.Actor, reportID core.ReportID, item core.LineItem) (core.LineItem, error) {
	r, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return core.LineItem{}, err
	}

	var saved core.LineItem
	err = e.withChain(r.GroupUUID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(lst ledger.Store) error {
				st, err := inTx(lst)
				if err != nil {
					return err
				}
				r, err := st.GetReport(ctx, reportID)
				if err != nil {
					return err
				}
				if err := editable(r, actor); err != nil {
					return err
				}
				if err := validateLineItem(e.oracle, r.PeriodID, item); err != nil {
					return err
				}

				item.ReportID = r.ID
				switch {
				case item.GroupUUID == "":
					item.GroupUUID = uuid.NewString()
					item.Version = 0
					item.Action = core.ActionCreate
					item.ID, err = st.InsertLineItem(ctx, item)
				default:
					var existing *core.LineItem
					existing, err = st.FindLineItem(ctx, r.ID, item.GroupUUID)
					if err != nil {
						return err
					}
					if existing != nil {
						// Same-version edit: amend the row in place.
						// A group's kind is fixed at creation.
						if existing.Kind != item.Kind {
							return (&core.ValidationError{}).Add("kind",
								"kind cannot change on an existing line item; delete and re-create instead")
						}
						item.ID = existing.ID
						item.Version = existing.Version
						item.Action = existing.Action
						err = st.UpdateLineItem(ctx, item)
					} else {
						var max int
						var ok bool
						max, ok, err = st.MaxLineItemVersion(ctx, item.GroupUUID)
						if err != nil {
							return err
						}
						if !ok {
							return &core.NotFoundError{Entity: "line item group", ID: item.GroupUUID}
						}
						var prior core.LineItem
						prior, err = latestRow(ctx, st, r, item.GroupUUID)
						if err != nil {
							return err
						}
						if prior.Kind != item.Kind {
							return (&core.ValidationError{}).Add("kind",
								"kind cannot change on an existing line item; delete and re-create instead")
						}
						item.Version = max + 1
						item.Action = core.ActionUpdate
						item.ID, err = st.InsertLineItem(ctx, item)
					}
				}
				if err != nil {
					return err
				}

				if err := e.recomputeSummary(ctx, st, r, false); err != nil {
					return err
				}
				saved = item
				r.UpdatedAt = time.Now().UTC()
				return st.UpdateReport(ctx, r)
			})
		})
	})
	return saved, err
}

// DeleteLineItem removes a line item from the version's effective view.
// An item born in this version vanishes outright; an item inherited from
// an earlier version gets a DELETE action row.
func (e *Engine) DeleteLineItem(ctx context.Context, actor core.Actor, reportID core.ReportID, groupUUID string) error {
	r, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}

	return e.withChain(r.GroupUUID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(lst ledger.Store) error {
				st, err := inTx(lst)
				if err != nil {
					return err
				}
				r, err := st.GetReport(ctx, reportID)
				if err != nil {
					return err
				}
				if err := editable(r, actor); err != nil {
					return err
				}

				existing, err := st.FindLineItem(ctx, r.ID, groupUUID)
				if err != nil {
					return err
				}
				switch {
				case existing != nil && existing.Action == core.ActionCreate:
					if err := st.DeleteLineItemRow(ctx, existing.ID); err != nil {
						return err
					}
				case existing != nil:
					existing.Action = core.ActionDelete
					if err := st.UpdateLineItem(ctx, *existing); err != nil {
						return err
					}
				default:
					max, ok, err := st.MaxLineItemVersion(ctx, groupUUID)
					if err != nil {
						return err
					}
					if !ok {
						return &core.NotFoundError{Entity: "line item group", ID: groupUUID}
					}
					// Tombstone carries the prior row's kind so the
					// resolver files it under the right table.
					prior, err := latestRow(ctx, st, r, groupUUID)
					if err != nil {
						return err
					}
					tomb := prior
					tomb.ID = 0
					tomb.ReportID = r.ID
					tomb.Version = max + 1
					tomb.Action = core.ActionDelete
					if _, err := st.InsertLineItem(ctx, tomb); err != nil {
						return err
					}
				}

				if err := e.recomputeSummary(ctx, st, r, false); err != nil {
					return err
				}
				r.UpdatedAt = time.Now().UTC()
				return st.UpdateReport(ctx, r)
			})
		})
	})
}

// latestRow finds the winning row of a line-item group at this version,
// across all kinds.
func latestRow(ctx context.Context, st Store, r Report, groupUUID string) (core.LineItem, error) {
	resolver := effective.NewResolver(st)
	for _, kind := range core.Kinds {
		sets, err := resolver.Changelog(ctx, r.GroupUUID, r.Version, kind)
		if err != nil {
			return core.LineItem{}, err
		}
		for _, set := range sets {
			if set.GroupUUID == groupUUID {
				return set.History[len(set.History)-1], nil
			}
		}
	}
	return core.LineItem{}, &core.NotFoundError{Entity: "line item group", ID: groupUUID}
}

// recomputeSummary resolves the effective view and recomputes the
// version's summary. Lock is set when the report leaves Draft; locked
// summaries are never recomputed again.
func (e *Engine) recomputeSummary(ctx context.Context, st Store, r Report, lock bool) error {
	resolver := effective.NewResolver(st)
	items, err := resolver.EffectiveSet(ctx, r.GroupUUID, r.Version)
	if err != nil {
		return err
	}
	s, err := e.calc.Compute(r.PeriodID, items)
	if err != nil {
		return err
	}
	s.IsLocked = lock
	return st.SaveSummary(ctx, r.ID, s)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// eventRole names the role entitled to fire each event.
var eventRole = map[Event]core.Role{
	EventSubmit:             core.RoleSigningAuthority,
	EventRecommendByAnalyst: core.RoleAnalyst,
	EventReturnToSupplier:   core.RoleAnalyst,
	EventRecommendByManager: core.RoleComplianceManager,
	EventReturnToAnalyst:    core.RoleDirector,
	EventAssess:             core.RoleDirector,
}

// touchesLedger marks the events with transaction-engine side effects;
// they additionally hold the organization lock.
var touchesLedger = map[Event]bool{
	EventSubmit:           true,
	EventReturnToSupplier: true,
	EventAssess:           true,
}

// Transition fires one workflow event against the report. The returned
// report reflects the committed state.
func (e *Engine) Transition(ctx context.Context, actor core.Actor, reportID core.ReportID, event Event) (Report, error) {
	role, ok := eventRole[event]
	if !ok {
		return Report{}, (&core.ValidationError{}).Add("event", "unknown workflow event")
	}
	if !actor.HasRole(role) {
		return Report{}, (&core.ValidationError{}).Add("actor", "requires the "+string(role)+" role")
	}

	r, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return Report{}, err
	}
	if event == EventSubmit && !actor.IsGovernment() && actor.OrgID != r.OrgID {
		return Report{}, (&core.ValidationError{}).Add("actor", "report belongs to another organization")
	}

	run := func() error {
		return e.withChain(r.GroupUUID, func() error {
			return core.WithRetry(ctx, func() error {
				return e.store.WithTx(ctx, func(lst ledger.Store) error {
					st, err := inTx(lst)
					if err != nil {
						return err
					}
					fresh, err := st.GetReport(ctx, reportID)
					if err != nil {
						return err
					}
					next, err := applyEvent(ctx, fresh.Status, event)
					if err != nil {
						return err
					}

					switch event {
					case EventSubmit:
						err = e.onSubmit(ctx, st, &fresh)
					case EventReturnToSupplier:
						err = e.onReturnToSupplier(ctx, st, &fresh)
					case EventAssess:
						err = e.onAssess(ctx, st, &fresh)
					}
					if err != nil {
						return err
					}

					fresh.Status = next
					fresh.UpdatedAt = time.Now().UTC()
					if err := st.UpdateReport(ctx, fresh); err != nil {
						return err
					}
					if err := st.AppendHistory(ctx, HistoryEntry{
						ReportID: fresh.ID, Status: next,
						UserID: actor.UserID, DisplayName: actor.DisplayName,
						CreatedAt: fresh.UpdatedAt,
					}); err != nil {
						return err
					}
					r = fresh
					return nil
				})
			})
		})
	}

	before := r.Status
	if touchesLedger[event] {
		err = e.units.WithOrg(r.OrgID, run)
	} else {
		err = run()
	}
	if err != nil {
		return Report{}, err
	}

	e.notifier.Publish(TransitionEvent{
		Type: event, ReportID: r.ID,
		FromStatus: before, ToStatus: r.Status,
		ActorID: actor.UserID, Timestamp: r.UpdatedAt,
	})
	return r, nil
}

// onSubmit locks the summary and reserves the sign-aware difference from
// the assessed baseline. A recomputation or reservation failure aborts
// the whole transition: the report stays in Draft with nothing bound.
func (e *Engine) onSubmit(ctx context.Context, st Store, r *Report) error {
	if err := e.recomputeSummary(ctx, st, *r, true); err != nil {
		return err
	}
	s, err := st.GetSummary(ctx, r.ID)
	if err != nil {
		return err
	}

	baseline, err := assessedBaseline(ctx, st, r.GroupUUID)
	if err != nil {
		return err
	}

	period, err := e.oracle.Period(r.PeriodID)
	if err != nil {
		return err
	}

	txID, err := ledger.Reserve(ctx, st, r.OrgID, s.ComplianceUnitDelta-baseline,
		core.TxComplianceReport, period.ExpirationDate)
	if err != nil {
		return err
	}
	r.TransactionID = txID
	return nil
}

// onReturnToSupplier releases the reservation, unbinds it and unlocks
// the summary so the supplier can edit again.
func (e *Engine) onReturnToSupplier(ctx context.Context, st Store, r *Report) error {
	if r.TransactionID != 0 {
		if err := ledger.Release(ctx, st, r.TransactionID); err != nil {
			return err
		}
		r.TransactionID = 0
	}
	s, err := st.GetSummary(ctx, r.ID)
	if err != nil {
		return err
	}
	s.IsLocked = false
	return st.SaveSummary(ctx, r.ID, s)
}

// onAssess confirms the bound reservation. An analyst adjustment first
// locks its summary and trues up the stale reservation to the current
// delta - release then reserve then confirm, three explicit primitives
// in one transaction.
func (e *Engine) onAssess(ctx context.Context, st Store, r *Report) error {
	if r.Status == StatusAnalystAdjustment {
		if err := e.recomputeSummary(ctx, st, *r, true); err != nil {
			return err
		}
		s, err := st.GetSummary(ctx, r.ID)
		if err != nil {
			return err
		}
		baseline, err := assessedBaseline(ctx, st, r.GroupUUID)
		if err != nil {
			return err
		}
		period, err := e.oracle.Period(r.PeriodID)
		if err != nil {
			return err
		}
		if r.TransactionID != 0 {
			if err := ledger.Release(ctx, st, r.TransactionID); err != nil {
				return err
			}
		}
		txID, err := ledger.Reserve(ctx, st, r.OrgID, s.ComplianceUnitDelta-baseline,
			core.TxComplianceReport, period.ExpirationDate)
		if err != nil {
			return err
		}
		r.TransactionID = txID
	}

	if r.TransactionID == 0 {
		return core.Internalf("report %d reached assessment without a bound transaction", r.ID)
	}
	return ledger.Confirm(ctx, st, r.TransactionID)
}

// assessedBaseline returns the compliance-unit delta of the chain's
// latest assessed version, 0 for a first assessment. Each submission
// reserves only the difference from this baseline, so reassessing a
// chain moves the balance by the change, not the full delta again.
func assessedBaseline(ctx context.Context, st Store, groupUUID string) (int64, error) {
	chain, err := st.ChainReports(ctx, groupUUID)
	if err != nil {
		return 0, err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Status == StatusAssessed {
			s, err := st.GetSummary(ctx, chain[i].ID)
			if err != nil {
				return 0, err
			}
			return s.ComplianceUnitDelta, nil
		}
	}
	return 0, nil
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) GetReport(ctx context.Context, id core.ReportID) (Report, error) {
	return e.store.GetReport(ctx, id)
}

func (e *Engine) Chain(ctx context.Context, groupUUID string) ([]Report, error) {
	chain, err := e.store.ChainReports(ctx, groupUUID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, &core.NotFoundError{Entity: "report chain", ID: groupUUID}
	}
	return chain, nil
}

func (e *Engine) ReportsByOrg(ctx context.Context, orgID core.OrgID, periodID core.PeriodID) ([]Report, error) {
	return e.store.ReportsByOrg(ctx, orgID, periodID)
}

// Summary returns the stored summary of a report version.
func (e *Engine) Summary(ctx context.Context, id core.ReportID) (summary.Summary, error) {
	if _, err := e.store.GetReport(ctx, id); err != nil {
		return summary.Summary{}, err
	}
	return e.store.GetSummary(ctx, id)
}

// EffectiveItems returns the authoritative rows of one kind at this
// report's version.
func (e *Engine) EffectiveItems(ctx context.Context, id core.ReportID, kind core.LineItemKind) ([]core.LineItem, error) {
	r, err := e.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return effective.NewResolver(e.store).Effective(ctx, r.GroupUUID, r.Version, kind)
}

// Changelog returns the per-item version history of one kind for UI
// diffing.
func (e *Engine) Changelog(ctx context.Context, id core.ReportID, kind core.LineItemKind) ([]effective.ChangeSet, error) {
	r, err := e.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return effective.NewResolver(e.store).Changelog(ctx, r.GroupUUID, r.Version, kind)
}

// History returns the report's status audit trail.
func (e *Engine) History(ctx context.Context, id core.ReportID) ([]HistoryEntry, error) {
	if _, err := e.store.GetReport(ctx, id); err != nil {
		return nil, err
	}
	return e.store.History(ctx, id)
}

// StatusCounts returns the per-status report counts that drive the
// dashboard.
func (e *Engine) StatusCounts(ctx context.Context) (map[Status]int, error) {
	return e.store.CountReportsByStatus(ctx)
}
