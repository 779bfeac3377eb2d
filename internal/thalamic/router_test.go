package thalamic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"iris/internal/sensorygate"
	"iris/internal/types"
)

func TestRouter_Route_DialogueBeforeInternal(t *testing.T) {
	r := New(nil)
	events := []Gated{
		{Event: types.SensoryEvent{Source: types.SourceInternal, Content: "consolidate"}},
		{Event: types.SensoryEvent{Source: types.SourceExternal, Content: "hello"}},
		{Event: types.SensoryEvent{Source: types.SourceInternal, Content: "replay"}},
		{Event: types.SensoryEvent{Source: types.SourceExternal, Content: "how are you"}},
	}

	got := r.Route(events)
	require := assert.New(t)
	require.Len(got, 4)
	require.Equal(types.SourceExternal, got[0].Event.Source)
	require.Equal("hello", got[0].Event.Content)
	require.Equal(types.SourceExternal, got[1].Event.Source)
	require.Equal("how are you", got[1].Event.Content)
	require.Equal(types.SourceInternal, got[2].Event.Source)
	require.Equal(types.SourceInternal, got[3].Event.Source)
}

func TestRouter_Route_SystemEventsDispatchedDirectly(t *testing.T) {
	var handled []types.SensoryEvent
	r := New(func(e types.SensoryEvent, _ sensorygate.Result) {
		handled = append(handled, e)
	})

	events := []Gated{
		{Event: types.SensoryEvent{Source: types.SourceSystem, Content: "shutdown requested"}},
		{Event: types.SensoryEvent{Source: types.SourceExternal, Content: "hi"}},
	}

	got := r.Route(events)

	assert.Len(t, got, 1)
	assert.Equal(t, types.SourceExternal, got[0].Event.Source)
	assert.Len(t, handled, 1)
	assert.Equal(t, "shutdown requested", handled[0].Content)
}
