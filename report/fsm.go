/*
fsm.go - Transition validation over looplab/fsm

The workflow table below is the single source of truth for which event
moves which state where. looplab/fsm tracks current state internally, so
a short-lived machine is built per Apply call, initialized with the
report's current status.
*/
package report

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/bcfuels/lcfs-engine/core"
)

// Transition is one row of the workflow table.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines the complete workflow. Version-creation operations
// (supplementals, reassessments, adjustments) are not events here; they
// create new rows rather than move existing ones.
var Transitions = []Transition{
	{EventSubmit, StatusDraft, StatusSubmitted},
	{EventReturnToSupplier, StatusSubmitted, StatusDraft},
	{EventRecommendByAnalyst, StatusSubmitted, StatusRecommendedByAnalyst},
	{EventRecommendByManager, StatusRecommendedByAnalyst, StatusRecommendedByManager},
	{EventReturnToAnalyst, StatusRecommendedByManager, StatusRecommendedByAnalyst},
	{EventAssess, StatusRecommendedByManager, StatusAssessed},
	{EventAssess, StatusAnalystAdjustment, StatusAssessed},
}

// events converts the workflow table into looplab/fsm event descriptors,
// consolidating transitions of one event+destination into a single
// descriptor with multiple source states.
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	var order []key

	for _, t := range Transitions {
		k := key{event: string(t.Event), dst: string(t.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{Name: k.event, Src: grouped[k], Dst: k.dst})
	}
	return out
}

// applyEvent validates the event against the current status and returns
// the destination. An invalid event maps to IllegalTransition, except
// when the report already sits at the event's destination: that means a
// concurrent actor won the race, which surfaces as Conflict.
func applyEvent(ctx context.Context, current Status, event Event) (Status, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &noTransition) {
			for _, t := range Transitions {
				if t.Event == event && t.Dst == current {
					return "", core.ErrConflict
				}
			}
			return "", &core.IllegalTransitionError{
				From:   string(current),
				Target: string(eventTarget(event, current)),
			}
		}
		return "", err
	}

	return Status(machine.Current()), nil
}

// eventTarget names the state the event was trying to reach, for error
// messages. Falls back to the event name when the source is unknown.
func eventTarget(event Event, _ Status) Status {
	for _, t := range Transitions {
		if t.Event == event {
			return t.Dst
		}
	}
	return Status(event)
}
