/*
Package effective resolves the authoritative line items of a report chain.

PURPOSE:
  Line items are never edited in place across report versions. Every edit
  writes a new row sharing the logical item's group UUID with a bumped
  version and a CREATE/UPDATE/DELETE action. Given a chain and a target
  report version, this package answers: which rows are authoritative?

ALGORITHM (per line-item kind):
  1. Enumerate the chain's report versions <= the target version.
  2. Load every line-item row belonging to those reports.
  3. Group rows by line-item group UUID; within each group the row with
     the highest version wins (highest row ID breaks the defensive tie).
  4. Drop groups whose winning row is a DELETE.

TWO MODES:
  - Effective: the resolved set above. Feeds the summary engine, API
    reads and exports.
  - Changelog: the full per-group history annotated with actions, for
    UI diffing and audit.

FAILURE SEMANTICS:
  - Unknown chain or version: NotFound.
  - Orphan rows (dangling report reference) are a data-integrity fault
    the Source must surface as Internal.

SEE ALSO:
  - summary/: consumes the effective set
  - store/sqlite/: the production Source
*/
package effective

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bcfuels/lcfs-engine/core"
)

// =============================================================================
// SOURCE - What the resolver needs from storage
// =============================================================================

// Source supplies the raw rows. Implementations must return NotFound from
// ChainReportIDs when the chain has no version at or below maxVersion.
type Source interface {
	// ChainReportIDs returns the IDs of every report in the chain with
	// version <= maxVersion, ascending by version.
	ChainReportIDs(ctx context.Context, groupUUID string, maxVersion int) ([]core.ReportID, error)

	// LineItems returns every row of one kind belonging to the given
	// reports, in no particular order.
	LineItems(ctx context.Context, reportIDs []core.ReportID, kind core.LineItemKind) ([]core.LineItem, error)
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Source Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{Source: src}
}

// Effective returns the authoritative rows of one kind at (chain, version).
// Output is ordered by winning row ID for deterministic reads.
func (r *Resolver) Effective(ctx context.Context, groupUUID string, version int, kind core.LineItemKind) ([]core.LineItem, error) {
	reportIDs, err := r.Source.ChainReportIDs(ctx, groupUUID, version)
	if err != nil {
		return nil, err
	}

	rows, err := r.Source.LineItems(ctx, reportIDs, kind)
	if err != nil {
		return nil, err
	}

	winners := pickWinners(rows)
	out := make([]core.LineItem, 0, len(winners))
	for _, w := range winners {
		if w.Action != core.ActionDelete {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EffectiveSet resolves every line-item kind at once. Kinds are resolved
// in parallel; resolution is CPU-light so this mainly overlaps the
// per-kind storage reads.
func (r *Resolver) EffectiveSet(ctx context.Context, groupUUID string, version int) (map[core.LineItemKind][]core.LineItem, error) {
	// Resolve the chain once; a missing chain fails before any kind work.
	reportIDs, err := r.Source.ChainReportIDs(ctx, groupUUID, version)
	if err != nil {
		return nil, err
	}

	results := make([]([]core.LineItem), len(core.Kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range core.Kinds {
		i, kind := i, kind
		g.Go(func() error {
			rows, err := r.Source.LineItems(gctx, reportIDs, kind)
			if err != nil {
				return err
			}
			winners := pickWinners(rows)
			var out []core.LineItem
			for _, w := range winners {
				if w.Action != core.ActionDelete {
					out = append(out, w)
				}
			}
			sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(map[core.LineItemKind][]core.LineItem, len(core.Kinds))
	for i, kind := range core.Kinds {
		set[kind] = results[i]
	}
	return set, nil
}

// =============================================================================
// CHANGELOG MODE
// =============================================================================

// ChangeSet is the full history of one logical line item, ascending by
// version. Deleted reports whether the item is gone at the target version.
type ChangeSet struct {
	GroupUUID string
	History   []core.LineItem
	Deleted   bool
}

// Changelog returns the per-item version history of one kind, for UI
// diffing and audit. Items are ordered by first appearance (lowest first
// row ID).
func (r *Resolver) Changelog(ctx context.Context, groupUUID string, version int, kind core.LineItemKind) ([]ChangeSet, error) {
	reportIDs, err := r.Source.ChainReportIDs(ctx, groupUUID, version)
	if err != nil {
		return nil, err
	}
	rows, err := r.Source.LineItems(ctx, reportIDs, kind)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[string][]core.LineItem)
	for _, row := range rows {
		byGroup[row.GroupUUID] = append(byGroup[row.GroupUUID], row)
	}

	sets := make([]ChangeSet, 0, len(byGroup))
	for group, history := range byGroup {
		sort.Slice(history, func(i, j int) bool {
			if history[i].Version != history[j].Version {
				return history[i].Version < history[j].Version
			}
			return history[i].ID < history[j].ID
		})
		last := history[len(history)-1]
		sets = append(sets, ChangeSet{
			GroupUUID: group,
			History:   history,
			Deleted:   last.Action == core.ActionDelete,
		})
	}
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].History[0].ID < sets[j].History[0].ID
	})
	return sets, nil
}

// =============================================================================
// WINNER SELECTION
// =============================================================================

// pickWinners reduces raw rows to one winning row per line-item group.
// Highest version wins; within the same version (impossible when the
// dense-version invariant holds, but checked defensively) the highest
// row ID wins.
func pickWinners(rows []core.LineItem) map[string]core.LineItem {
	winners := make(map[string]core.LineItem)
	for _, row := range rows {
		cur, ok := winners[row.GroupUUID]
		if !ok || row.Version > cur.Version ||
			(row.Version == cur.Version && row.ID > cur.ID) {
			winners[row.GroupUUID] = row
		}
	}
	return winners
}
