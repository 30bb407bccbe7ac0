//go:build darwin && cgo

package metal

/*
#include "bridge.h"
*/
import "C"

import (
	"sync"
	"time"

	"github.com/zakarumych/mev/hal"
)

// queue wraps one MTLCommandQueue. Completion values are tracked by
// polling the status of the batch's command buffers; Metal has no
// host-visible timeline object short of an event plus a spawned
// listener, and the polling interval is well below submission
// granularity.
type queue struct {
	dev *device
	mtl C.uintptr_t

	mu       sync.Mutex
	pending  []pendingSubmit
	complete uint64
}

// pendingSubmit is one submitted batch: the batch completes when every
// command buffer in it reports completed status.
type pendingSubmit struct {
	value uint64
	cbs   []C.uintptr_t
}

func newQueue(d *device, mtl C.uintptr_t) *queue {
	return &queue{dev: d, mtl: mtl}
}

func (q *queue) Flags() hal.QueueFlags {
	return hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer
}

func (q *queue) Submit(cbs []hal.CommandBuffer, waits, signals []hal.Semaphore, value uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]C.uintptr_t, 0, len(cbs)+2)

	// Event waits must precede the payload, so they ride in their own
	// command buffer committed first; commit order is execution order
	// on one queue.
	if len(waits) > 0 {
		wcb := C.mevCommandBufferCreate(q.mtl)
		if wcb == 0 {
			return hal.ErrOutOfMemory
		}
		for _, s := range waits {
			sem := s.(*semaphore)
			C.mevCommandBufferWaitEvent(wcb, sem.event, C.uint64_t(sem.value.Load()))
		}
		C.mevCommandBufferCommit(wcb)
		batch = append(batch, wcb)
	}

	for _, cb := range cbs {
		h := cb.(*commandBuffer).cb
		C.mevCommandBufferCommit(h)
		batch = append(batch, h)
	}

	if len(signals) > 0 {
		scb := C.mevCommandBufferCreate(q.mtl)
		if scb == 0 {
			return hal.ErrOutOfMemory
		}
		for _, s := range signals {
			sem := s.(*semaphore)
			C.mevCommandBufferSignalEvent(scb, sem.event, C.uint64_t(sem.value.Add(1)))
		}
		C.mevCommandBufferCommit(scb)
		batch = append(batch, scb)
	}

	q.pending = append(q.pending, pendingSubmit{value: value, cbs: batch})
	q.retireLocked()
	return nil
}

// retireLocked releases completed batches in submission order and
// advances the completion value.
func (q *queue) retireLocked() {
	for len(q.pending) > 0 {
		p := q.pending[0]
		for _, cb := range p.cbs {
			if C.mevCommandBufferCompleted(cb) == 0 {
				return
			}
		}
		for _, cb := range p.cbs {
			C.mevRelease(cb)
		}
		q.complete = p.value
		q.pending = q.pending[1:]
	}
}

func (q *queue) SignaledValue() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retireLocked()
	return q.complete, nil
}

func (q *queue) Wait(value uint64, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		q.mu.Lock()
		q.retireLocked()
		done := q.complete >= value
		q.mu.Unlock()
		if done {
			return true, nil
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// drain blocks until every pending batch finishes, releasing all
// tracked command buffers. Called on device close.
func (q *queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pending {
		for _, cb := range p.cbs {
			C.mevCommandBufferWaitUntilCompleted(cb)
			C.mevRelease(cb)
		}
		q.complete = p.value
	}
	q.pending = nil
}
