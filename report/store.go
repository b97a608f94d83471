/*
store.go - Persistence surface of the report workflow

The report Store embeds the ledger Store and the effective-view Source:
one workflow operation spans validation, effective-view resolution,
summary computation, ledger mutation and history append, all inside a
single store transaction. The TxStore hands out the ledger-level Store
in WithTx; implementations must hand out an object that also satisfies
this package's Store, which the engine recovers with inTx.
*/
package report

import (
	"context"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/effective"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/summary"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	ledger.Store
	effective.Source

	// Reports.
	InsertReport(ctx context.Context, r Report) (core.ReportID, error)
	GetReport(ctx context.Context, id core.ReportID) (Report, error)
	UpdateReport(ctx context.Context, r Report) error
	// DeleteReport hard-deletes a report row. Used only by the explicit
	// rollback of an unassessed latest version.
	DeleteReport(ctx context.Context, id core.ReportID) error
	// ChainReports returns every version in the chain, ascending.
	ChainReports(ctx context.Context, groupUUID string) ([]Report, error)
	ReportsByOrg(ctx context.Context, orgID core.OrgID, periodID core.PeriodID) ([]Report, error)
	CountReportsByStatus(ctx context.Context) (map[Status]int, error)

	// Line items.
	InsertLineItem(ctx context.Context, item core.LineItem) (int64, error)
	UpdateLineItem(ctx context.Context, item core.LineItem) error
	// FindLineItem returns the row of a line-item group written in one
	// report version, nil when the version did not touch the group.
	FindLineItem(ctx context.Context, reportID core.ReportID, groupUUID string) (*core.LineItem, error)
	DeleteLineItemRow(ctx context.Context, id int64) error
	// MaxLineItemVersion returns the highest version of a line-item
	// group across the whole chain, with ok=false for a fresh group.
	MaxLineItemVersion(ctx context.Context, groupUUID string) (int, bool, error)
	// CountLineItems counts the rows one report version wrote itself,
	// gating report deletion.
	CountLineItems(ctx context.Context, reportID core.ReportID) (int, error)

	// Summaries.
	SaveSummary(ctx context.Context, reportID core.ReportID, s summary.Summary) error
	GetSummary(ctx context.Context, reportID core.ReportID) (summary.Summary, error)

	// History.
	AppendHistory(ctx context.Context, h HistoryEntry) error
	History(ctx context.Context, reportID core.ReportID) ([]HistoryEntry, error)
}

// TxStore is the full transactional surface the engine requires.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(ledger.Store) error) error
}

// inTx recovers this package's Store from the ledger-level handle WithTx
// provides. The production sqlite store always satisfies it.
func inTx(st ledger.Store) (Store, error) {
	full, ok := st.(Store)
	if !ok {
		return nil, core.Internalf("store transaction does not support report operations")
	}
	return full, nil
}
