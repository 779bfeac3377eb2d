package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_EvictsHighestScoreWhenFull(t *testing.T) {
	r := New(3, 3, time.Minute)
	now := time.Now()
	tick := 0
	r.now = func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}

	r.Upsert("stale", "stale", nil, 0.1)
	r.Upsert("mid", "mid", nil, 0.5)
	r.Upsert("fresh", "fresh", nil, 0.9)

	// Advance time so "stale" accumulates the most elapsed/TTL with the
	// lowest salience discount, making it the eviction victim.
	r.now = func() time.Time { return now.Add(10 * time.Minute) }
	r.Upsert("new-topic", "new-topic", nil, 0.9)

	got := r.Recent(10)
	var topics []string
	for _, e := range got {
		topics = append(topics, e.TopicID)
	}
	assert.NotContains(t, topics, "stale")
	assert.Contains(t, topics, "new-topic")
}

func TestRing_PinShieldsFromEviction(t *testing.T) {
	r := New(2, 2, time.Minute)
	r.Upsert("a", "a", nil, 0.1)
	r.Upsert("b", "b", nil, 0.1)

	release, err := r.Pin("a", "worker-1")
	require.NoError(t, err)
	defer release()

	r.Upsert("c", "c", nil, 0.9) // forces an eviction among a,b

	got := r.Recent(10)
	var topics []string
	for _, e := range got {
		topics = append(topics, e.TopicID)
	}
	assert.Contains(t, topics, "a")
}

func TestRing_PinReleaseAllowsNewHolder(t *testing.T) {
	r := New(1, 1, time.Minute)
	r.Upsert("only", "only", nil, 0.1)

	release, err := r.Pin("only", "worker-1")
	require.NoError(t, err)
	release()

	_, err = r.Pin("only", "worker-2")
	assert.NoError(t, err)
}

func TestRing_Recent_MostRecentLast(t *testing.T) {
	r := New(5, 5, time.Minute)
	base := time.Now()
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	r.Upsert("first", "first", nil, 0.1)
	r.Upsert("second", "second", nil, 0.1)
	r.Upsert("third", "third", nil, 0.1)

	got := r.Recent(10)
	require.Len(t, got, 3)
	assert.Equal(t, "third", got[len(got)-1].TopicID)
}

// TestRing_ManyEntriesShareOneTopicWithinCapacity pins down the bug this
// test guards against: a single topic absorbing many distinct entries must
// not be capped at maxTopics, only at the (larger) entry capacity.
func TestRing_ManyEntriesShareOneTopicWithinCapacity(t *testing.T) {
	r := New(32, 8, time.Minute)

	for i := 0; i < 20; i++ {
		r.Upsert(string(rune('a'+i)), "same-topic", nil, 0.5)
	}

	assert.Len(t, r.entries, 20)
	assert.Len(t, r.topicCounts, 1)
	assert.Equal(t, 20, r.topicCounts["same-topic"])
}

// TestRing_EvictsOnNewTopicBeyondMaxTopicsEvenUnderCapacity covers the
// other half: a 9th distinct topic must evict something even though the
// ring is nowhere near its 32-entry capacity.
func TestRing_EvictsOnNewTopicBeyondMaxTopicsEvenUnderCapacity(t *testing.T) {
	r := New(32, 8, time.Minute)
	now := time.Now()
	tick := 0
	r.now = func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 8; i++ {
		topic := string(rune('a' + i))
		r.Upsert(topic, topic, nil, 0.1)
	}
	require.Len(t, r.entries, 8)
	require.Len(t, r.topicCounts, 8)

	r.Upsert("ninth", "ninth", nil, 0.9)

	assert.Len(t, r.entries, 8)
	assert.Len(t, r.topicCounts, 8)
	assert.Contains(t, r.topicCounts, "ninth")
	assert.NotContains(t, r.topicCounts, "a")
}
