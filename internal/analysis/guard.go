package analysis

import (
	"golang.org/x/sync/semaphore"
)

// Guard admits at most one decomposition at a time. Callers that fail to
// acquire are expected to drop their request rather than wait.
type Guard struct {
	sem *semaphore.Weighted
}

func NewGuard() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

func (g *Guard) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release panics when the guard is not held.
func (g *Guard) Release() {
	g.sem.Release(1)
}
