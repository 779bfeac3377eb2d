// Package bootguardian runs the ordered boot sequence from spec §4.9 —
// CoreInit → CapabilityLoad → EnvironmentSense → Ready — and the safe-mode
// latch that follows repeated Ready failures.
package bootguardian

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"iris/internal/logging"
	"iris/internal/store"
	"iris/internal/types"
)

// Phase is one step of the boot sequence.
type Phase struct {
	Name types.BootPhase
	Run  func(ctx context.Context) error
}

// Guardian runs the ordered phases, records each attempt, and tracks the
// safe-mode latch.
type Guardian struct {
	st *store.Store

	latchFailures int
	recoveryTicks int
	cooldown      time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	safeMode            bool
	safeModeSince       time.Time
	consecutiveHealthy  int
}

// Config bundles the safe-mode thresholds from config.Config.
type Config struct {
	LatchFailures int
	RecoveryTicks int
	Cooldown      time.Duration
}

// New builds a Guardian.
func New(st *store.Store, cfg Config) *Guardian {
	return &Guardian{
		st:            st,
		latchFailures: cfg.LatchFailures,
		recoveryTicks: cfg.RecoveryTicks,
		cooldown:      cfg.Cooldown,
	}
}

// Boot runs phases in order, recording each one's outcome. It stops at the
// first failing phase and reports it; CoreInit, CapabilityLoad, and
// EnvironmentSense failures are treated as boot failures exactly like a
// Ready failure for the purposes of the safe-mode latch, since a boot that
// never reaches Ready never ran the core loop either.
func (g *Guardian) Boot(ctx context.Context, phases []Phase) error {
	log := logging.Logger(logging.CategoryBoot)
	for _, p := range phases {
		start := time.Now()
		err := p.Run(ctx)
		duration := time.Since(start)

		if recErr := g.st.RecordBootHealth(types.BootHealthRecord{
			Phase:    p.Name,
			Success:  err == nil,
			Duration: duration,
			At:       start,
		}); recErr != nil {
			log.Warn("failed to persist boot health record", zap.Error(recErr))
		}

		if err != nil {
			log.Warn("boot phase failed", zap.String("phase", p.Name.String()), zap.Error(err))
			g.onReadyOutcome(false)
			return err
		}
	}
	g.onReadyOutcome(true)
	return nil
}

// onReadyOutcome updates the consecutive-failure counter and the safe-mode
// latch (spec §4.9: "three consecutive Ready failures latches safe mode").
func (g *Guardian) onReadyOutcome(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		g.consecutiveFailures = 0
		return
	}
	g.consecutiveFailures++
	if g.consecutiveFailures >= g.latchFailures && !g.safeMode {
		g.safeMode = true
		g.safeModeSince = time.Now()
		g.consecutiveHealthy = 0
	}
}

// SafeMode reports whether the guardian is currently latched into
// core-only, no-capability-spawning mode.
func (g *Guardian) SafeMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.safeMode
}

// ObserveHealthyTick is called once per tick while in safe mode; after
// five consecutive healthy ticks and a five-minute cooldown since the
// latch, it exits safe mode (spec §4.9).
func (g *Guardian) ObserveHealthyTick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.safeMode {
		return
	}
	g.consecutiveHealthy++
	if g.consecutiveHealthy >= g.recoveryTicks && time.Since(g.safeModeSince) >= g.cooldown {
		g.safeMode = false
		g.consecutiveFailures = 0
		g.consecutiveHealthy = 0
	}
}

// ObserveUnhealthyTick resets the recovery counter without re-latching;
// only a fresh run through Boot failing Ready re-triggers the latch logic.
func (g *Guardian) ObserveUnhealthyTick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveHealthy = 0
}
