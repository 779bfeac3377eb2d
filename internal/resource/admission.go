package resource

import (
	"fmt"
	"sync"

	"iris/internal/types"
)

// AdmissionGate rejects a task whose estimated memory cost exceeds the
// remaining budget for its declared class (spec §4.7).
type AdmissionGate struct {
	realloc *Reallocator

	mu    sync.Mutex
	spent map[types.ResourceClass]int64
}

// NewAdmissionGate builds a gate reading budgets from realloc.
func NewAdmissionGate(realloc *Reallocator) *AdmissionGate {
	return &AdmissionGate{
		realloc: realloc,
		spent:   make(map[types.ResourceClass]int64),
	}
}

// Admit reserves estimatedBytes against class's remaining budget, or
// rejects with a ResourceExhaustion-tagged error.
func (g *AdmissionGate) Admit(class types.ResourceClass, estimatedBytes int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.remainingLocked(class)
	if estimatedBytes > remaining {
		return types.Tag(types.KindResourceExhaustion, "resource.Admit",
			fmt.Errorf("class %d: estimate %d exceeds remaining budget %d", class, estimatedBytes, remaining))
	}
	g.spent[class] += estimatedBytes
	return nil
}

// Release returns estimatedBytes to class's remaining budget once the task
// completes.
func (g *AdmissionGate) Release(class types.ResourceClass, estimatedBytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent[class] -= estimatedBytes
	if g.spent[class] < 0 {
		g.spent[class] = 0
	}
}

func (g *AdmissionGate) remainingLocked(class types.ResourceClass) int64 {
	budget := g.realloc.Budget()
	var total int64
	switch class {
	case types.ClassExternalResponse:
		total = budget.ExternalResponse
	case types.ClassInternalGrowth:
		total = budget.InternalGrowth
	case types.ClassMaintenance:
		total = budget.Maintenance
	}
	return total - g.spent[class]
}
