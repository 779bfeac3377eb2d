package sensorygate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/types"
)

func TestGate_Score_WeightedSumInvariant(t *testing.T) {
	g, err := New()
	require.NoError(t, err)

	event := types.SensoryEvent{Source: types.SourceExternal, Content: "how is the weather today"}
	result, err := g.Score(event, nil, nil, 0.20)
	require.NoError(t, err)

	want := 0.35*result.Salience.Novelty +
		0.25*result.Salience.Urgency +
		0.25*result.Salience.Complexity +
		0.15*result.Salience.TaskRelevance
	assert.InDelta(t, want, result.Salience.Score, 1e-9)
}

func TestGate_Score_UrgentBypassThreshold(t *testing.T) {
	g, err := New()
	require.NoError(t, err)

	event := types.SensoryEvent{Source: types.SourceSystem, Content: "critical error crash failure immediately"}
	result, err := g.Score(event, nil, nil, 0.20)
	require.NoError(t, err)

	if result.Salience.Score >= 0.82 {
		assert.True(t, result.Salience.UrgentBypass)
	} else {
		assert.False(t, result.Salience.UrgentBypass)
	}
}

func TestGate_Score_DropsBelowNoiseFloor(t *testing.T) {
	g, err := New()
	require.NoError(t, err)

	// Bland, non-novel, non-urgent, irrelevant content should fall below
	// the default noise floor.
	recent := []string{"ok", "fine", "sure", "ok fine sure"}
	event := types.SensoryEvent{Source: types.SourceExternal, Content: "ok"}
	result, err := g.Score(event, recent, nil, 0.20)
	require.NoError(t, err)

	assert.Less(t, result.Salience.Score, 0.82)
	if result.Salience.Score < 0.20 {
		assert.True(t, result.Dropped)
	}
}

func TestGate_Score_UrgentNeverDropped(t *testing.T) {
	g, err := New()
	require.NoError(t, err)

	event := types.SensoryEvent{Source: types.SourceSystem, Content: "critical crash urgent immediately help"}
	result, err := g.Score(event, nil, nil, 0.99)
	require.NoError(t, err)

	if result.Salience.UrgentBypass {
		assert.False(t, result.Dropped)
	}
}

func TestRuleFilter_DetectsKeywordsAndSystemSource(t *testing.T) {
	rf, err := NewRuleFilter()
	require.NoError(t, err)

	v, err := rf.Evaluate(types.SensoryEvent{Source: types.SourceSystem, Content: "the service is down"})
	require.NoError(t, err)
	assert.True(t, v.UrgentKeywordHit)
	assert.True(t, v.SystemPriority)

	v, err = rf.Evaluate(types.SensoryEvent{Source: types.SourceExternal, Content: "let's schedule a meeting"})
	require.NoError(t, err)
	assert.False(t, v.UrgentKeywordHit)
	assert.False(t, v.SystemPriority)
}
