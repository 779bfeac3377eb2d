package scheduler

import "iris/internal/types"

// modeMachine implements the Normal/Idle/Rest transitions from spec §4.1.
type modeMachine struct {
	current types.TickMode

	normalInterval, idleInterval, restInterval int64 // milliseconds
}

func newModeMachine(normalMS, idleMS, restMS int64) *modeMachine {
	return &modeMachine{current: types.ModeNormal, normalInterval: normalMS, idleInterval: idleMS, restInterval: restMS}
}

// tickInput is the subset of per-tick facts the mode machine needs.
type tickInput struct {
	hadExternalEvent   bool
	hadPendingInternal bool
	energy             float64
	activeDialogue     bool
}

// Advance computes the next mode given this tick's inputs and updates the
// machine's current mode, returning it.
func (m *modeMachine) Advance(in tickInput) types.TickMode {
	switch m.current {
	case types.ModeNormal:
		if in.energy < 0.2 && !in.activeDialogue {
			m.current = types.ModeRest
		} else if !in.hadExternalEvent && !in.hadPendingInternal {
			m.current = types.ModeIdle
		}
	case types.ModeIdle:
		if in.hadExternalEvent || in.hadPendingInternal {
			m.current = types.ModeNormal
		} else if in.energy < 0.2 && !in.activeDialogue {
			m.current = types.ModeRest
		}
	case types.ModeRest:
		if in.energy >= 0.8 || in.hadExternalEvent {
			m.current = types.ModeNormal
		}
	}
	return m.current
}

// IntervalMS returns the tick interval for the current mode.
func (m *modeMachine) IntervalMS() int64 {
	switch m.current {
	case types.ModeIdle:
		return m.idleInterval
	case types.ModeRest:
		return m.restInterval
	default:
		return m.normalInterval
	}
}
