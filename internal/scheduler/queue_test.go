package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/types"
)

func TestEventQueue_PushWithinCapacity(t *testing.T) {
	q := newEventQueue(3)
	q.Push(types.SensoryEvent{Content: "a"})
	q.Push(types.SensoryEvent{Content: "b"})

	require.Equal(t, 2, q.Len())
	drained := q.DrainAll()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Content)
	assert.Equal(t, "b", drained[1].Content)
}

func TestEventQueue_DropsOldestAtCapacity(t *testing.T) {
	q := newEventQueue(2)
	q.Push(types.SensoryEvent{Content: "first"})
	q.Push(types.SensoryEvent{Content: "second"})
	q.Push(types.SensoryEvent{Content: "third"})

	drained := q.DrainAll()
	require.Len(t, drained, 2)
	assert.Equal(t, "second", drained[0].Content)
	assert.Equal(t, "third", drained[1].Content)
}

func TestEventQueue_DrainAllEmptiesQueue(t *testing.T) {
	q := newEventQueue(4)
	q.Push(types.SensoryEvent{Content: "only"})

	first := q.DrainAll()
	require.Len(t, first, 1)

	second := q.DrainAll()
	assert.Empty(t, second)
	assert.Equal(t, 0, q.Len())
}
