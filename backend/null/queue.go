package null

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zakarumych/mev/hal"
)

// queue executes command buffers synchronously inside Submit, so work
// is always complete by the time Submit returns. Semaphores carry no
// state: GPU-side ordering is trivially satisfied.
type queue struct {
	mu        sync.Mutex
	completed atomic.Uint64
}

func newQueue() *queue { return &queue{} }

func (q *queue) Flags() hal.QueueFlags {
	return hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer
}

func (q *queue) Submit(cbs []hal.CommandBuffer, waits, signals []hal.Semaphore, value uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cb := range cbs {
		for _, op := range cb.(*commandBuffer).ops {
			op()
		}
	}
	q.completed.Store(value)
	return nil
}

func (q *queue) SignaledValue() (uint64, error) {
	return q.completed.Load(), nil
}

// Wait can only be satisfied by a Submit on another goroutine, so it
// polls. A negative timeout waits forever.
func (q *queue) Wait(value uint64, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if q.completed.Load() >= value {
			return true, nil
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(50 * time.Microsecond)
	}
}
