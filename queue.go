package mev

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zakarumych/mev/hal"
)

// QueueFlags reports what kinds of work a queue accepts.
type QueueFlags = hal.QueueFlags

// Re-exported queue capability bits.
const (
	QueueGraphics = hal.QueueGraphics
	QueueCompute  = hal.QueueCompute
	QueueTransfer = hal.QueueTransfer
)

// Fence identifies one point in a queue's timeline. Values are unique
// and strictly increasing per queue, so a later submission's fence
// never signals before an earlier one's.
//
// The zero Fence is always signaled.
type Fence struct {
	queue *Queue
	value uint64
}

// isZero reports whether the fence predates any submission.
func (f Fence) isZero() bool { return f.queue == nil }

// Value returns the fence's timeline value. Zero for the zero Fence.
func (f Fence) Value() uint64 { return f.value }

// Signaled polls the fence without blocking.
func (f Fence) Signaled() bool {
	if f.queue == nil {
		return true
	}
	return f.queue.completed(f.value)
}

// Wait blocks until the fence signals or the timeout expires. Returns
// false on timeout with no side effects; the fence stays valid and may
// be queried again. A negative timeout waits forever.
func (f Fence) Wait(timeout time.Duration) (bool, error) {
	if f.queue == nil {
		return true, nil
	}
	return f.queue.wait(f.value, timeout)
}

// Semaphore orders work across queues GPU-side. The caller passes it
// as a signal on one queue's submit and a wait on another's.
type Semaphore struct {
	dev    *Device
	handle hal.Semaphore
	name   string
	state  resourceState
}

// Name returns the debug label.
func (s *Semaphore) Name() string { return s.name }

// Destroy releases the semaphore, deferred while in flight.
func (s *Semaphore) Destroy() {
	if !s.state.markDestroyed() {
		return
	}
	handle := s.handle
	dev := s.dev
	dev.retireResource(&s.state, func() {
		dev.halDevice.DestroySemaphore(handle)
	})
}

// Queue is one ordered execution stream of a Device. Submission order
// on a queue defines execution order for operations with data
// dependencies on that queue; cross-queue dependencies must be
// expressed with semaphores supplied at submit time. Omitting a
// required semaphore is a caller error this layer does not detect.
//
// A Queue is safe for submission from multiple goroutines; Submit
// serializes internally, holding its lock for the native call only.
type Queue struct {
	dev   *Device
	hal   hal.Queue
	index int

	mu   sync.Mutex
	next uint64 // next value to signal, monotonically increasing

	// completedCache avoids a native query when the value is already
	// known to have signaled.
	completedMu    sync.Mutex
	completedValue uint64
}

// Index returns the queue's index on its device.
func (q *Queue) Index() int { return q.index }

// Flags reports what the queue accepts.
func (q *Queue) Flags() QueueFlags { return q.hal.Flags() }

// Submit enqueues closed command buffers as one batch and returns the
// batch's Fence.
//
// The GPU waits for every semaphore in waits before the batch runs and
// signals every semaphore in signals when it completes. Each command
// buffer moves to the submitted state; its resources count as
// possibly-in-use until the returned Fence is observed signaled.
func (q *Queue) Submit(cbs []*CommandBuffer, waits, signals []*Semaphore) (Fence, error) {
	if err := q.dev.alive(); err != nil {
		return Fence{}, err
	}
	if len(cbs) == 0 {
		return Fence{}, &ValidationError{Field: "cbs", Reason: "empty submission"}
	}
	for i, cb := range cbs {
		if cb == nil {
			return Fence{}, &ValidationError{Field: fmt.Sprintf("cbs[%d]", i), Reason: "nil"}
		}
	}
	for i, s := range waits {
		if s == nil || s.state.isDestroyed() {
			return Fence{}, &ValidationError{Field: fmt.Sprintf("waits[%d]", i), Reason: "nil or destroyed"}
		}
	}
	for i, s := range signals {
		if s == nil || s.state.isDestroyed() {
			return Fence{}, &ValidationError{Field: fmt.Sprintf("signals[%d]", i), Reason: "nil or destroyed"}
		}
	}

	// Claim the buffers first so a buffer cannot enter two batches.
	claimed := make([]*CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		if err := cb.claim(); err != nil {
			for _, c := range claimed {
				c.unclaim()
			}
			return Fence{}, err
		}
		claimed = append(claimed, cb)
	}

	halCBs := make([]hal.CommandBuffer, len(cbs))
	for i, cb := range cbs {
		halCBs[i] = cb.handle
	}
	halWaits := make([]hal.Semaphore, len(waits))
	for i, s := range waits {
		halWaits[i] = s.handle
	}
	halSignals := make([]hal.Semaphore, len(signals))
	for i, s := range signals {
		halSignals[i] = s.handle
	}

	// Critical section covers the native submit only, not recording.
	q.mu.Lock()
	value := q.next + 1
	err := q.hal.Submit(halCBs, halWaits, halSignals, value)
	if err == nil {
		q.next = value
	}
	q.mu.Unlock()

	if err != nil {
		for _, cb := range claimed {
			cb.unclaim()
		}
		return Fence{}, q.dev.wrapHALError("submit", err)
	}

	f := Fence{queue: q, value: value}
	for _, cb := range cbs {
		cb.commit(f)
	}
	for _, s := range waits {
		s.state.markUse(f)
	}
	for _, s := range signals {
		s.state.markUse(f)
	}

	Logger().Debug("submitted batch",
		slog.Int("queue", q.index),
		slog.Int("buffers", len(cbs)),
		slog.Uint64("fence", value))

	// Reclaim anything whose fence has since signaled.
	q.dev.collect()

	return f, nil
}

// completed reports whether the queue's timeline reached value.
func (q *Queue) completed(value uint64) bool {
	q.completedMu.Lock()
	cached := q.completedValue
	q.completedMu.Unlock()
	if value <= cached {
		return true
	}

	v, err := q.hal.SignaledValue()
	if err != nil {
		// A lost device finishes or abandons everything in flight;
		// either way nothing references the resources anymore.
		q.dev.markLost(err)
		return true
	}
	q.completedMu.Lock()
	if v > q.completedValue {
		q.completedValue = v
	}
	q.completedMu.Unlock()
	return value <= v
}

// wait blocks until the timeline reaches value or timeout expires.
func (q *Queue) wait(value uint64, timeout time.Duration) (bool, error) {
	if err := q.dev.alive(); err != nil {
		return false, err
	}
	if q.completed(value) {
		return true, nil
	}
	ok, err := q.hal.Wait(value, timeout)
	if err != nil {
		q.dev.markLost(err)
		return false, fmt.Errorf("wait fence %d: %w", value, ErrDeviceLost)
	}
	if ok {
		q.completedMu.Lock()
		if value > q.completedValue {
			q.completedValue = value
		}
		q.completedMu.Unlock()
		q.dev.collect()
	}
	return ok, nil
}

// WaitIdle blocks until everything submitted so far completes.
func (q *Queue) WaitIdle() error {
	q.mu.Lock()
	value := q.next
	q.mu.Unlock()
	if value == 0 {
		return nil
	}
	_, err := q.wait(value, -1)
	return err
}

// claim moves a closed buffer to submitted, failing if it was already
// consumed. The fence is recorded by commit once the native submit
// succeeds.
func (cb *CommandBuffer) claim() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		return fmt.Errorf("submit %q: command buffer is %s: %w", cb.name, cb.state, ErrInvalidState)
	}
	cb.state = StateSubmitted
	return nil
}

// unclaim reverts a claim after a failed native submit.
func (cb *CommandBuffer) unclaim() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.mu.Unlock()
}

// commit records the submission fence and pins the referenced
// resources to it.
func (cb *CommandBuffer) commit(f Fence) {
	cb.mu.Lock()
	cb.fence = f
	cb.mu.Unlock()
	for _, s := range cb.refs {
		s.markUse(f)
	}
}
