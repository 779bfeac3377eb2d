// Package affect implements the single-writer affect actor from spec
// §4.8: a mutex-guarded {energy, valence, arousal} triple, mutated only by
// its owning tick loop and observed by any number of readers through a
// watch channel that only ever holds the latest value. The mutex-guarded
// state plus explicit lifecycle follows the teacher's reflection worker
// (internal/store/reflection_worker.go).
package affect

import (
	"sync"

	"iris/internal/types"
)

// Actor owns the affect state. All mutation happens on the tick loop's
// goroutine via the Apply* methods; Watch gives every other task a
// read-only view of the latest value.
type Actor struct {
	energyLLMCost       float64
	energyIdleGain      float64
	valenceConfirmGain  float64
	valenceErrorLoss    float64
	arousalCriticalGain float64
	arousalDecay        float64

	mu    sync.Mutex
	state types.AffectState

	watchers []chan types.AffectState
}

// Config bundles the six update-rule constants (spec §4.8), sourced from
// config.Config so callers never hardcode them twice.
type Config struct {
	EnergyLLMCost       float64
	EnergyIdleGain      float64
	ValenceConfirmGain  float64
	ValenceErrorLoss    float64
	ArousalCriticalGain float64
	ArousalDecay        float64
}

// New builds an Actor at the neutral midpoint state.
func New(cfg Config) *Actor {
	return &Actor{
		energyLLMCost:       cfg.EnergyLLMCost,
		energyIdleGain:      cfg.EnergyIdleGain,
		valenceConfirmGain:  cfg.ValenceConfirmGain,
		valenceErrorLoss:    cfg.ValenceErrorLoss,
		arousalCriticalGain: cfg.ArousalCriticalGain,
		arousalDecay:        cfg.ArousalDecay,
		state:               types.AffectState{Energy: 1, Valence: 0.5, Arousal: 0},
	}
}

// Snapshot returns the current state directly, bypassing the watch channel.
func (a *Actor) Snapshot() types.AffectState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Watch returns a channel that always holds the latest affect state: a
// receive drains it, the next mutation refills it. Each call to Watch
// allocates its own channel, so every reader sees "latest since I last
// looked" independently of every other reader.
func (a *Actor) Watch() <-chan types.AffectState {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan types.AffectState, 1)
	ch <- a.state
	a.watchers = append(a.watchers, ch)
	return ch
}

// ApplyLLMCall records one LLM call's energy cost.
func (a *Actor) ApplyLLMCall() { a.mutate(func(s *types.AffectState) { s.Energy -= a.energyLLMCost }) }

// ApplyIdleTick records one idle tick's energy recovery.
func (a *Actor) ApplyIdleTick() { a.mutate(func(s *types.AffectState) { s.Energy += a.energyIdleGain }) }

// ApplyCapabilityConfirmed records a capability reaching the confirmed
// state.
func (a *Actor) ApplyCapabilityConfirmed() {
	a.mutate(func(s *types.AffectState) { s.Valence += a.valenceConfirmGain })
}

// ApplyError records any error outcome.
func (a *Actor) ApplyError() {
	a.mutate(func(s *types.AffectState) { s.Valence -= a.valenceErrorLoss })
}

// ApplyCriticalPressure records a critical resource-pressure event.
func (a *Actor) ApplyCriticalPressure() {
	a.mutate(func(s *types.AffectState) { s.Arousal += a.arousalCriticalGain })
}

// DecayTick applies one tick's arousal decay; called once per tick
// regardless of what else happened that tick.
func (a *Actor) DecayTick() {
	a.mutate(func(s *types.AffectState) { s.Arousal *= a.arousalDecay })
}

func (a *Actor) mutate(f func(*types.AffectState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f(&a.state)
	a.state.Clamp()
	a.publishLocked()
}

func (a *Actor) publishLocked() {
	live := a.watchers[:0]
	for _, ch := range a.watchers {
		select {
		case <-ch: // drop the value the reader hasn't consumed yet
		default:
		}
		select {
		case ch <- a.state:
			live = append(live, ch)
		default:
			// Reader's channel is gone/full after the drain above should
			// never happen for a buffer of 1, but skip defensively rather
			// than block the writer.
		}
	}
	a.watchers = live
}
