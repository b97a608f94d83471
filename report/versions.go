/*
versions.go - Report chain versioning

A chain grows strictly one version at a time: a new version opens only
when every existing version is Assessed, so at most one version per
chain is ever in flight. Three operations open versions past 0:

  supplemental          supplier-initiated correction, lands in Draft
  reassessment          government-initiated correction, lands in Draft
                        for the supplier to complete
  analyst adjustment    government-edited correction, lands directly in
                        Analyst adjustment and skips the supplier

Rollback deletes an in-flight latest version and releases anything it
reserved, restoring the chain to its last assessed shape.
*/
package report

import (
	"context"
	"time"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/ledger"
)

// =============================================================================
// VERSION CREATION
// =============================================================================

// latestVersion returns the chain's newest report and verifies the chain
// is at rest: a chain with an in-flight version refuses a new one.
func latestVersion(ctx context.Context, st Store, groupUUID string) (Report, error) {
	chain, err := st.ChainReports(ctx, groupUUID)
	if err != nil {
		return Report{}, err
	}
	if len(chain) == 0 {
		return Report{}, &core.NotFoundError{Entity: "report chain", ID: groupUUID}
	}
	for _, r := range chain {
		if r.Status != StatusAssessed {
			return Report{}, &core.IllegalTransitionError{
				From:   string(r.Status),
				Target: "new version",
			}
		}
	}
	return chain[len(chain)-1], nil
}

// openVersion inserts the next version of the chain. The summary starts
// as a fresh computation over the inherited effective view, unlocked.
func (e *Engine) openVersion(ctx context.Context, st Store, actor core.Actor, prev Report, status Status, initiator SupplementalInitiator) (Report, error) {
	now := time.Now().UTC()
	r := Report{
		OrgID:     prev.OrgID,
		PeriodID:  prev.PeriodID,
		GroupUUID: prev.GroupUUID,
		Version:   prev.Version + 1,
		Initiator: initiator,
		Frequency: prev.Frequency,
		Nickname:  prev.Nickname,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var err error
	r.ID, err = st.InsertReport(ctx, r)
	if err != nil {
		return Report{}, err
	}
	if err := e.recomputeSummary(ctx, st, r, false); err != nil {
		return Report{}, err
	}
	if err := st.AppendHistory(ctx, HistoryEntry{
		ReportID: r.ID, Status: status,
		UserID: actor.UserID, DisplayName: actor.DisplayName, CreatedAt: now,
	}); err != nil {
		return Report{}, err
	}
	return r, nil
}

// CreateSupplemental opens a supplier-initiated correction of an
// assessed chain.
func (e *Engine) CreateSupplemental(ctx context.Context, actor core.Actor, reportID core.ReportID) (Report, error) {
	base, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return Report{}, err
	}
	if !actor.IsGovernment() && actor.OrgID != base.OrgID {
		return Report{}, (&core.ValidationError{}).Add("actor", "report belongs to another organization")
	}

	var out Report
	err = e.withChain(base.GroupUUID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(lst ledger.Store) error {
				st, err := inTx(lst)
				if err != nil {
					return err
				}
				prev, err := latestVersion(ctx, st, base.GroupUUID)
				if err != nil {
					return err
				}
				out, err = e.openVersion(ctx, st, actor, prev, StatusDraft, InitiatorSupplierSupplemental)
				return err
			})
		})
	})
	return out, err
}

// CreateReassessment opens a government-initiated correction. It lands
// in Draft for the supplier to revise and resubmit.
func (e *Engine) CreateReassessment(ctx context.Context, actor core.Actor, reportID core.ReportID) (Report, error) {
	if !actor.HasRole(core.RoleAnalyst) {
		return Report{}, (&core.ValidationError{}).Add("actor", "requires the analyst role")
	}
	base, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return Report{}, err
	}

	var out Report
	err = e.withChain(base.GroupUUID, func() error {
		return core.WithRetry(ctx, func() error {
			return e.store.WithTx(ctx, func(lst ledger.Store) error {
				st, err := inTx(lst)
				if err != nil {
					return err
				}
				prev, err := latestVersion(ctx, st, base.GroupUUID)
				if err != nil {
					return err
				}
				out, err = e.openVersion(ctx, st, actor, prev, StatusDraft, InitiatorGovernmentReassessment)
				return err
			})
		})
	})
	return out, err
}

// CreateAnalystAdjustment opens a government-edited correction that
// skips the supplier loop. The new version is born with a zero-unit
// reservation so it is never unbound; assessment trues the reservation
// up to the real difference before confirming.
func (e *Engine) CreateAnalystAdjustment(ctx context.Context, actor core.Actor, reportID core.ReportID) (Report, error) {
	if !actor.HasRole(core.RoleAnalyst) {
		return Report{}, (&core.ValidationError{}).Add("actor", "requires the analyst role")
	}
	base, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return Report{}, err
	}
	period, err := e.oracle.Period(base.PeriodID)
	if err != nil {
		return Report{}, err
	}

	var out Report
	err = e.units.WithOrg(base.OrgID, func() error {
		return e.withChain(base.GroupUUID, func() error {
			return core.WithRetry(ctx, func() error {
				return e.store.WithTx(ctx, func(lst ledger.Store) error {
					st, err := inTx(lst)
					if err != nil {
						return err
					}
					prev, err := latestVersion(ctx, st, base.GroupUUID)
					if err != nil {
						return err
					}
					r, err := e.openVersion(ctx, st, actor, prev, StatusAnalystAdjustment, InitiatorGovernmentReassessment)
					if err != nil {
						return err
					}
					r.TransactionID, err = ledger.Reserve(ctx, st, r.OrgID, 0,
						core.TxComplianceReport, period.ExpirationDate)
					if err != nil {
						return err
					}
					r.AssignedAnalystID = actor.UserID
					if err := st.UpdateReport(ctx, r); err != nil {
						return err
					}
					out = r
					return nil
				})
			})
		})
	})
	return out, err
}

// =============================================================================
// ROLLBACK
// =============================================================================

// DeleteReport rolls back an in-flight latest version. Only a version
// with no line-item rows of its own may go; any bound reservation is
// released first. Assessed versions and non-latest versions are
// immovable.
func (e *Engine) DeleteReport(ctx context.Context, actor core.Actor, reportID core.ReportID) error {
	base, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}

	return e.units.WithOrg(base.OrgID, func() error {
		return e.withChain(base.GroupUUID, func() error {
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
					chain, err := st.ChainReports(ctx, r.GroupUUID)
					if err != nil {
						return err
					}
					if chain[len(chain)-1].ID != r.ID {
						return &core.IllegalTransitionError{
							From:   string(r.Status),
							Target: "deleted",
						}
					}
					rows, err := st.CountLineItems(ctx, r.ID)
					if err != nil {
						return err
					}
					if rows > 0 {
						return (&core.ValidationError{}).Add("report",
							"report has line item activity and cannot be deleted")
					}

					if r.TransactionID != 0 {
						if err := ledger.Release(ctx, st, r.TransactionID); err != nil {
							return err
						}
					}
					return st.DeleteReport(ctx, r.ID)
				})
			})
		})
	})
}

// AssignAnalyst records which analyst is working the report.
func (e *Engine) AssignAnalyst(ctx context.Context, actor core.Actor, reportID core.ReportID, analystID string) (Report, error) {
	if !actor.HasRole(core.RoleAnalyst) && !actor.HasRole(core.RoleComplianceManager) {
		return Report{}, (&core.ValidationError{}).Add("actor", "requires a government role")
	}
	var out Report
	err := core.WithRetry(ctx, func() error {
		return e.store.WithTx(ctx, func(lst ledger.Store) error {
			st, err := inTx(lst)
			if err != nil {
				return err
			}
			r, err := st.GetReport(ctx, reportID)
			if err != nil {
				return err
			}
			r.AssignedAnalystID = analystID
			r.UpdatedAt = time.Now().UTC()
			if err := st.UpdateReport(ctx, r); err != nil {
				return err
			}
			out = r
			return nil
		})
	})
	return out, err
}
