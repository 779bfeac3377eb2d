package memory

import (
	"context"
	"strings"
)

// SpontaneousThought is one item the replay worker emits after spotting a
// failure/success pattern among salient episodes (spec §4.6).
type SpontaneousThought struct {
	EpisodeID string
	Content   string
	Pattern   string // "failure" or "success"
}

// ReplayWorker scans episodes above a salience floor for failure/success
// language and emits spontaneous thoughts on a bounded channel. The
// channel is intentionally bounded and non-blocking on send: replay is a
// background curiosity pass, never allowed to stall the tick loop waiting
// for a reader.
type ReplayWorker struct {
	episodic      *EpisodicStore
	salienceFloor float64
	out           chan SpontaneousThought
}

// NewReplayWorker builds a worker with a bounded output channel of the
// given capacity.
func NewReplayWorker(episodic *EpisodicStore, salienceFloor float64, channelCapacity int) *ReplayWorker {
	return &ReplayWorker{
		episodic:      episodic,
		salienceFloor: salienceFloor,
		out:           make(chan SpontaneousThought, channelCapacity),
	}
}

// Thoughts exposes the read side of the bounded output channel.
func (w *ReplayWorker) Thoughts() <-chan SpontaneousThought { return w.out }

var (
	failureMarkers = []string{"fail", "error", "crash", "reject", "timeout"}
	successMarkers = []string{"success", "confirmed", "resolved", "completed"}
)

// Scan runs one replay pass. Sends are best-effort: a full channel drops
// the thought rather than blocking the caller.
func (w *ReplayWorker) Scan(ctx context.Context) error {
	episodes, err := w.episodic.AboveSalience(w.salienceFloor)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		pattern := classify(ep.Content)
		if pattern == "" {
			continue
		}
		thought := SpontaneousThought{EpisodeID: ep.ID, Content: ep.Content, Pattern: pattern}
		select {
		case w.out <- thought:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// channel full; drop rather than block the tick loop.
		}
	}
	return nil
}

func classify(content string) string {
	lower := strings.ToLower(content)
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			return "failure"
		}
	}
	for _, m := range successMarkers {
		if strings.Contains(lower, m) {
			return "success"
		}
	}
	return ""
}
