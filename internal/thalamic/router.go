// Package thalamic implements the scheduler's third tick phase (spec
// §4.3, "Thalamic router"): dispatch a gated event to one of three kinds —
// external dialogue, internal signal, system event — and order the
// dialogue/internal queue so dialogue is always handled first. System
// events skip the queue entirely and go straight to their handler.
package thalamic

import (
	"sort"

	"iris/internal/sensorygate"
	"iris/internal/types"
)

// Gated pairs a surviving sensory event with its scored salience.
type Gated struct {
	Event  types.SensoryEvent
	Result sensorygate.Result
}

// SystemHandler processes a system event synchronously, in tick order,
// before the dialogue/internal queue is handed to cognition.
type SystemHandler func(types.SensoryEvent, sensorygate.Result)

// Router classifies and orders one tick's surviving events.
type Router struct {
	onSystem SystemHandler
}

// New builds a Router. onSystem may be nil, in which case system events
// are silently dropped after classification (useful in tests that only
// care about dialogue/internal ordering).
func New(onSystem SystemHandler) *Router {
	return &Router{onSystem: onSystem}
}

// Route partitions events by types.EventSource, dispatches system events
// immediately to onSystem, and returns the remaining dialogue+internal
// events with dialogue sorted ahead of internal signals. Within each kind,
// relative order is preserved (stable sort) so higher-salience events from
// the same kind don't need a secondary tie-break — the sensory gate's drop
// step has already filtered noise, and ties within a kind are handled in
// arrival order.
func (r *Router) Route(events []Gated) []Gated {
	var queue []Gated
	for _, g := range events {
		switch g.Event.Source {
		case types.SourceSystem:
			if r.onSystem != nil {
				r.onSystem(g.Event, g.Result)
			}
		default:
			queue = append(queue, g)
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return rank(queue[i].Event.Source) < rank(queue[j].Event.Source)
	})
	return queue
}

func rank(s types.EventSource) int {
	if s == types.SourceExternal {
		return 0
	}
	return 1
}
