package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/types"
)

func TestModeMachine_NormalToIdleOnQuietTick(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	mode := m.Advance(tickInput{energy: 1})
	assert.Equal(t, types.ModeIdle, mode)
}

func TestModeMachine_NormalStaysNormalWithInput(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	mode := m.Advance(tickInput{hadExternalEvent: true, energy: 1})
	assert.Equal(t, types.ModeNormal, mode)
}

func TestModeMachine_IdleToNormalOnExternalEvent(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	require.Equal(t, types.ModeIdle, m.Advance(tickInput{energy: 1}))

	mode := m.Advance(tickInput{hadExternalEvent: true, energy: 1})
	assert.Equal(t, types.ModeNormal, mode)
}

func TestModeMachine_NormalToRestOnLowEnergyNoDialogue(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	mode := m.Advance(tickInput{energy: 0.1, activeDialogue: false})
	assert.Equal(t, types.ModeRest, mode)
}

func TestModeMachine_NormalStaysNormalWithLowEnergyDuringDialogue(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	mode := m.Advance(tickInput{energy: 0.1, activeDialogue: true, hadExternalEvent: true})
	assert.Equal(t, types.ModeNormal, mode)
}

func TestModeMachine_RestToNormalOnHighEnergy(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	require.Equal(t, types.ModeRest, m.Advance(tickInput{energy: 0.1}))

	mode := m.Advance(tickInput{energy: 0.85})
	assert.Equal(t, types.ModeNormal, mode)
}

func TestModeMachine_RestToNormalOnExternalEvent(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	require.Equal(t, types.ModeRest, m.Advance(tickInput{energy: 0.1}))

	mode := m.Advance(tickInput{energy: 0.1, hadExternalEvent: true})
	assert.Equal(t, types.ModeNormal, mode)
}

func TestModeMachine_RestStaysRestWithoutRecovery(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	require.Equal(t, types.ModeRest, m.Advance(tickInput{energy: 0.1}))

	mode := m.Advance(tickInput{energy: 0.3})
	assert.Equal(t, types.ModeRest, mode)
}

func TestModeMachine_IntervalMS(t *testing.T) {
	m := newModeMachine(100, 500, 2000)
	assert.Equal(t, int64(100), m.IntervalMS())

	m.Advance(tickInput{energy: 1})
	assert.Equal(t, int64(500), m.IntervalMS())
}
