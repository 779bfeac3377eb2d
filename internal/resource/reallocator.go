package resource

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"iris/internal/logging"
	"iris/internal/types"
)

// Reallocator recomputes the three-way budget split every period (spec
// §4.7), following the same robfig/cron @every wiring as the LLM router's
// recovery probe and the memory consolidation worker.
type Reallocator struct {
	sampler Sampler
	total   int64

	mu     sync.RWMutex
	budget types.ResourceBudget
	level  types.PressureLevel
}

// NewReallocator builds a Reallocator against totalBytes of addressable
// budget (the pool the 60/20/20 split divides).
func NewReallocator(sampler Sampler, totalBytes int64) *Reallocator {
	r := &Reallocator{sampler: sampler, total: totalBytes}
	r.recompute()
	return r
}

// Start schedules the periodic recomputation on c.
func (r *Reallocator) Start(c *cron.Cron, period time.Duration) (cron.EntryID, error) {
	return c.AddFunc(durationSpec(period), func() { r.recompute() })
}

func durationSpec(d time.Duration) string { return "@every " + d.String() }

func (r *Reallocator) recompute() {
	log := logging.Logger(logging.CategoryResource)
	level, err := Classify(r.sampler)
	if err != nil {
		log.Warn("failed to sample host pressure, keeping previous budget", zap.Error(err))
		return
	}

	external := r.total * 60 / 100
	if external < types.ExternalResponseFloor {
		external = types.ExternalResponseFloor
	}
	internal := r.total * 20 / 100
	maintenance := r.total - external - internal
	if maintenance < 0 {
		maintenance = 0
	}

	r.mu.Lock()
	r.level = level
	r.budget = types.ResourceBudget{
		ExternalResponse: external,
		InternalGrowth:   internal,
		Maintenance:      maintenance,
	}
	r.mu.Unlock()

	if level == types.PressureCritical {
		log.Warn("critical resource pressure", zap.String("level", level.String()))
	}
}

// Budget returns the most recently computed split.
func (r *Reallocator) Budget() types.ResourceBudget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.budget
}

// Level returns the most recently classified pressure level.
func (r *Reallocator) Level() types.PressureLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level
}
