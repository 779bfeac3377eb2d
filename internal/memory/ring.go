// Package memory implements the scheduler's working set and its two
// background workers (spec §4.6): a bounded working-memory ring, the
// episodic/semantic stores (thin wrappers over internal/store), a
// consolidation worker that asks the main model to summarize episodes into
// knowledge, and a replay worker that scans for salient patterns and emits
// spontaneous thoughts.
package memory

import (
	"sync"
	"time"

	"iris/internal/types"
)

// Ring is the bounded working-memory buffer (spec §4.6: "capacity 32, with
// at most 8 active topics; on overflow, evict the entry with the highest
// e"). Entries and topics are tracked independently: many entries may
// share one topic, so the two bounds (32 entries, 8 topics) are both live
// constraints rather than one collapsing onto the other. Mirrors the
// teacher's general pattern of a mutex-guarded map rather than a channel,
// since entries are looked up and mutated by id, not streamed.
type Ring struct {
	mu          sync.Mutex
	entries     map[string]*types.ContextEntry // keyed by entry id
	topicCounts map[string]int                 // topic id -> live entry count
	order       []string                       // entry ids, oldest-first insertion order for tie-breaks
	capacity    int
	maxTopics   int
	ttl         time.Duration
	now         func() time.Time
}

// New builds a Ring with the configured capacity/topic-count/TTL.
func New(capacity, maxTopics int, ttl time.Duration) *Ring {
	return &Ring{
		entries:     make(map[string]*types.ContextEntry),
		topicCounts: make(map[string]int),
		capacity:    capacity,
		maxTopics:   maxTopics,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Upsert records an access to entry id (tagged with topicID), refreshing
// LastAccess and Salience if id already exists. Otherwise it makes room —
// evicting the highest-`e` unpinned entry, repeatedly if needed — when id
// would introduce a topic beyond maxTopics, or when the ring is already at
// capacity, then inserts the new entry.
func (r *Ring) Upsert(id, topicID string, embedding []float32, salience float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok {
		existing.Embedding = embedding
		existing.Salience = salience
		existing.LastAccess = r.now()
		return
	}

	for r.needsRoomFor(topicID) {
		if !r.evictOne() {
			break // everything left is pinned; ring temporarily exceeds a bound
		}
	}

	r.entries[id] = &types.ContextEntry{
		TopicID:    topicID,
		Embedding:  embedding,
		Salience:   salience,
		LastAccess: r.now(),
	}
	r.topicCounts[topicID]++
	r.order = append(r.order, id)
}

// needsRoomFor reports whether inserting a new entry tagged topicID would
// break the entry-count or topic-count bound.
func (r *Ring) needsRoomFor(topicID string) bool {
	if len(r.entries) >= r.capacity {
		return true
	}
	if r.topicCounts[topicID] == 0 && len(r.topicCounts) >= r.maxTopics {
		return true
	}
	return false
}

// evictOne removes the unpinned entry with the highest eviction score
// e = elapsed/TTL - 0.3*salience (spec §4.6). Caller holds r.mu. Reports
// whether an entry was actually evicted.
func (r *Ring) evictOne() bool {
	var victim string
	var worst float64 = -1 << 62
	found := false
	now := r.now()
	for id, e := range r.entries {
		if e.PinHolder != "" {
			continue
		}
		score := r.evictionScore(e, now)
		if !found || score > worst {
			worst, victim, found = score, id, true
		}
	}
	if !found {
		return false
	}

	topicID := r.entries[victim].TopicID
	delete(r.entries, victim)
	r.topicCounts[topicID]--
	if r.topicCounts[topicID] <= 0 {
		delete(r.topicCounts, topicID)
	}
	for i, id := range r.order {
		if id == victim {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Ring) evictionScore(e *types.ContextEntry, now time.Time) float64 {
	elapsed := now.Sub(e.LastAccess)
	ttl := r.ttl
	if ttl <= 0 {
		ttl = time.Minute
	}
	return elapsed.Seconds()/ttl.Seconds() - 0.3*e.Salience
}

// Pin acquires an exclusive hold on entry id that shields it from eviction.
// The returned release func must be called exactly once; it is safe to
// defer immediately so the hold is released on every exit path, including
// panics unwound by the caller's own recover.
func (r *Ring) Pin(id, holder string) (release func(), err error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, types.Tag(types.KindValidation, "memory.Pin", errUnknownTopic(id))
	}
	if e.PinHolder != "" && e.PinHolder != holder {
		r.mu.Unlock()
		return nil, types.Tag(types.KindValidation, "memory.Pin", errAlreadyPinned(id))
	}
	e.PinHolder = holder
	r.mu.Unlock()

	var released sync.Once
	return func() {
		released.Do(func() {
			r.mu.Lock()
			if cur, ok := r.entries[id]; ok && cur.PinHolder == holder {
				cur.PinHolder = ""
			}
			r.mu.Unlock()
		})
	}, nil
}

// Recent returns up to n most-recently-accessed entries' content ordered
// oldest-first (spec §4.1/§4.3: "most-recent entries are last").
func (r *Ring) Recent(n int) []types.ContextEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*types.ContextEntry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	sortByLastAccessAsc(all)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]types.ContextEntry, len(all))
	for i, e := range all {
		out[i] = *e
	}
	return out
}

func sortByLastAccessAsc(entries []*types.ContextEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].LastAccess.After(entries[j].LastAccess); j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func errUnknownTopic(id string) error  { return errString("unknown entry: " + id) }
func errAlreadyPinned(id string) error { return errString("entry already pinned by another holder: " + id) }
