package affect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"iris/internal/types"
)

func testConfig() Config {
	return Config{
		EnergyLLMCost:       0.03,
		EnergyIdleGain:      0.02,
		ValenceConfirmGain:  0.10,
		ValenceErrorLoss:    0.15,
		ArousalCriticalGain: 0.30,
		ArousalDecay:        0.95,
	}
}

func TestActor_ApplyLLMCall(t *testing.T) {
	a := New(testConfig())
	before := a.Snapshot().Energy
	a.ApplyLLMCall()
	assert.InDelta(t, before-0.03, a.Snapshot().Energy, 1e-9)
}

func TestActor_ApplyIdleTick(t *testing.T) {
	a := New(testConfig())
	a.ApplyLLMCall() // drop energy first so the idle gain doesn't clamp at 1
	before := a.Snapshot().Energy
	a.ApplyIdleTick()
	assert.InDelta(t, before+0.02, a.Snapshot().Energy, 1e-9)
}

func TestActor_ApplyCapabilityConfirmedAndError(t *testing.T) {
	a := New(testConfig())
	a.ApplyCapabilityConfirmed()
	assert.InDelta(t, 0.60, a.Snapshot().Valence, 1e-9)

	a.ApplyError()
	assert.InDelta(t, 0.45, a.Snapshot().Valence, 1e-9)
}

func TestActor_CriticalPressureAndDecay(t *testing.T) {
	a := New(testConfig())
	a.ApplyCriticalPressure()
	assert.InDelta(t, 0.30, a.Snapshot().Arousal, 1e-9)

	a.DecayTick()
	assert.InDelta(t, 0.285, a.Snapshot().Arousal, 1e-9)
}

func TestActor_Clamp(t *testing.T) {
	a := New(testConfig())
	for i := 0; i < 100; i++ {
		a.ApplyCapabilityConfirmed()
	}
	s := a.Snapshot()
	assert.LessOrEqual(t, s.Valence, 1.0)
	assert.GreaterOrEqual(t, s.Valence, 0.0)
}

func TestActor_Watch_SeesLatestValue(t *testing.T) {
	a := New(testConfig())
	ch := a.Watch()

	initial := <-ch
	assert.Equal(t, types.AffectState{Energy: 1, Valence: 0.5, Arousal: 0}, initial)

	a.ApplyLLMCall()
	a.ApplyLLMCall()

	latest := <-ch
	assert.InDelta(t, 1-0.06, latest.Energy, 1e-9)
}

func TestActor_Watch_MultipleReadersIndependent(t *testing.T) {
	a := New(testConfig())
	ch1 := a.Watch()
	<-ch1 // drain initial
	ch2 := a.Watch()
	<-ch2

	a.ApplyLLMCall()

	v1 := <-ch1
	v2 := <-ch2
	assert.Equal(t, v1, v2)
}
