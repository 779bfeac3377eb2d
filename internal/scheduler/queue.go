package scheduler

import (
	"sync"

	"go.uber.org/zap"

	"iris/internal/logging"
	"iris/internal/types"
)

// eventQueue is the bounded, drop-oldest external/system/internal event
// queue from spec §4.1 and §5's back-pressure table (capacity 256).
type eventQueue struct {
	mu       sync.Mutex
	capacity int
	items    []types.SensoryEvent
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{capacity: capacity}
}

// Push appends ev, dropping the oldest entry with a warning if the queue
// is already at capacity.
func (q *eventQueue) Push(ev types.SensoryEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		logging.Logger(logging.CategoryScheduler).Warn("event queue overflow, dropping oldest",
			zap.Int("capacity", q.capacity))
	}
	q.items = append(q.items, ev)
}

// DrainAll removes and returns every queued event, oldest first.
func (q *eventQueue) DrainAll() []types.SensoryEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len reports the current queue depth.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
