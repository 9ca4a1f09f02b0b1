package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ticket admits one cycle at a time. The audio thread only ever tries; the
// control thread blocks on it to drain in-flight cycles.
type ticket struct {
	sem  *semaphore.Weighted
	held atomic.Int32
}

func newTicket() *ticket {
	return &ticket{sem: semaphore.NewWeighted(1)}
}

func (t *ticket) tryAcquire() bool {
	if !t.sem.TryAcquire(1) {
		return false
	}
	t.held.Add(1)
	return true
}

func (t *ticket) acquire() {
	// Background never cancels, so Acquire cannot fail.
	_ = t.sem.Acquire(context.Background(), 1)
	t.held.Add(1)
}

func (t *ticket) release() {
	t.held.Add(-1)
	t.sem.Release(1)
}
