package bootguardian

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/store"
	"iris/internal/types"
)

func newTestGuardian(t *testing.T, cfg Config) *Guardian {
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, cfg)
}

func okPhases() []Phase {
	return []Phase{
		{Name: types.PhaseCoreInit, Run: func(ctx context.Context) error { return nil }},
		{Name: types.PhaseCapabilityLoad, Run: func(ctx context.Context) error { return nil }},
		{Name: types.PhaseEnvironmentSense, Run: func(ctx context.Context) error { return nil }},
		{Name: types.PhaseReady, Run: func(ctx context.Context) error { return nil }},
	}
}

func failingAt(phase types.BootPhase) []Phase {
	phases := okPhases()
	for i := range phases {
		if phases[i].Name == phase {
			phases[i].Run = func(ctx context.Context) error { return errors.New("boom") }
		}
	}
	return phases
}

func TestGuardian_Boot_AllPhasesSucceed(t *testing.T) {
	g := newTestGuardian(t, Config{LatchFailures: 3, RecoveryTicks: 5, Cooldown: 5 * time.Minute})
	require.NoError(t, g.Boot(context.Background(), okPhases()))
	assert.False(t, g.SafeMode())
}

func TestGuardian_Boot_StopsAtFirstFailure(t *testing.T) {
	g := newTestGuardian(t, Config{LatchFailures: 3, RecoveryTicks: 5, Cooldown: 5 * time.Minute})
	err := g.Boot(context.Background(), failingAt(types.PhaseCapabilityLoad))
	assert.Error(t, err)
}

func TestGuardian_LatchesSafeModeAfterThreeConsecutiveFailures(t *testing.T) {
	g := newTestGuardian(t, Config{LatchFailures: 3, RecoveryTicks: 5, Cooldown: 5 * time.Minute})

	for i := 0; i < 2; i++ {
		_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
		assert.False(t, g.SafeMode())
	}
	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
	assert.True(t, g.SafeMode())
}

func TestGuardian_SuccessfulBootResetsFailureStreak(t *testing.T) {
	g := newTestGuardian(t, Config{LatchFailures: 3, RecoveryTicks: 5, Cooldown: 5 * time.Minute})

	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
	require.NoError(t, g.Boot(context.Background(), okPhases()))

	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
	assert.False(t, g.SafeMode())
}

func TestGuardian_RecoversAfterHealthyTicksAndCooldown(t *testing.T) {
	g := newTestGuardian(t, Config{LatchFailures: 1, RecoveryTicks: 5, Cooldown: 0})
	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))
	require.True(t, g.SafeMode())

	for i := 0; i < 4; i++ {
		g.ObserveHealthyTick()
		assert.True(t, g.SafeMode())
	}
	g.ObserveHealthyTick()
	assert.False(t, g.SafeMode())
}

func TestGuardian_UnhealthyTickResetsRecoveryCounter(t *testing.T) {
	g := newTestGuardian(t, Config{LatchFailures: 1, RecoveryTicks: 3, Cooldown: 0})
	_ = g.Boot(context.Background(), failingAt(types.PhaseReady))

	g.ObserveHealthyTick()
	g.ObserveHealthyTick()
	g.ObserveUnhealthyTick()
	g.ObserveHealthyTick()
	g.ObserveHealthyTick()
	assert.True(t, g.SafeMode()) // needs 3 *consecutive*, counter was reset once
}
