//go:build cgo

package vulkan

import (
	"sync"
	"time"

	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/hal"
)

// queue tracks completion with one fence per submission. Fences signal
// in submit order, so the highest retired value is the queue's
// completion value.
type queue struct {
	dev    *device
	vk     core1_0.Queue
	family int
	flags  hal.QueueFlags

	pool   core1_0.CommandPool
	poolMu sync.Mutex

	mu       sync.Mutex
	pending  []pendingSubmit
	free     []core1_0.Fence
	complete uint64
}

type pendingSubmit struct {
	value uint64
	fence core1_0.Fence
	cbs   []core1_0.CommandBuffer
}

func (q *queue) Flags() hal.QueueFlags { return q.flags }

func (q *queue) acquireFence() (core1_0.Fence, error) {
	q.mu.Lock()
	if n := len(q.free); n > 0 {
		f := q.free[n-1]
		q.free = q.free[:n-1]
		q.mu.Unlock()
		return f, nil
	}
	q.mu.Unlock()
	f, res, err := q.dev.vk.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return f, nil
}

func (q *queue) Submit(cbs []hal.CommandBuffer, waits, signals []hal.Semaphore, value uint64) error {
	var vkCBs []core1_0.CommandBuffer
	for _, cb := range cbs {
		vkCBs = append(vkCBs, cb.(*commandBufferHandle).cb)
	}
	var waitSems []core1_0.Semaphore
	var waitStages []core1_0.PipelineStageFlags
	for _, s := range waits {
		waitSems = append(waitSems, s.(*semaphoreHandle).vk)
		waitStages = append(waitStages, core1_0.PipelineStageAllCommands)
	}
	var signalSems []core1_0.Semaphore
	for _, s := range signals {
		signalSems = append(signalSems, s.(*semaphoreHandle).vk)
	}

	fence, err := q.acquireFence()
	if err != nil {
		return err
	}
	res, err := q.vk.Submit(fence, []core1_0.SubmitInfo{{
		CommandBuffers:   vkCBs,
		WaitSemaphores:   waitSems,
		WaitDstStageMask: waitStages,
		SignalSemaphores: signalSems,
	}})
	if err != nil {
		q.mu.Lock()
		q.free = append(q.free, fence)
		q.mu.Unlock()
		return mapResultError(res, err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, pendingSubmit{value: value, fence: fence, cbs: vkCBs})
	q.mu.Unlock()
	return nil
}

// retireLocked pops pending submissions whose fences have signaled and
// advances the completion value. Caller holds q.mu.
func (q *queue) retireLocked() error {
	for len(q.pending) > 0 {
		p := q.pending[0]
		res, err := p.fence.Status()
		if err != nil {
			return mapResultError(res, err)
		}
		if res != core1_0.VKSuccess {
			return nil
		}
		q.retireHead()
	}
	return nil
}

func (q *queue) retireHead() {
	p := q.pending[0]
	q.pending = q.pending[1:]
	q.complete = p.value
	q.dev.vk.ResetFences([]core1_0.Fence{p.fence})
	q.free = append(q.free, p.fence)
	q.poolMu.Lock()
	for _, cb := range p.cbs {
		cb.Free()
	}
	q.poolMu.Unlock()
}

func (q *queue) SignaledValue() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.retireLocked(); err != nil {
		return q.complete, err
	}
	return q.complete, nil
}

func (q *queue) Wait(value uint64, timeout time.Duration) (bool, error) {
	q.mu.Lock()
	if err := q.retireLocked(); err != nil {
		q.mu.Unlock()
		return false, err
	}
	if q.complete >= value {
		q.mu.Unlock()
		return true, nil
	}
	// Fences signal in order; the first pending at or past value
	// covers it.
	var fence core1_0.Fence
	for _, p := range q.pending {
		if p.value >= value {
			fence = p.fence
			break
		}
	}
	q.mu.Unlock()
	if fence == nil {
		// Value was never submitted; nothing will ever signal it.
		return false, nil
	}

	res, err := q.dev.vk.WaitForFences(true, vkTimeout(timeout), []core1_0.Fence{fence})
	if err != nil {
		return false, mapResultError(res, err)
	}
	if res == core1_0.VKTimeout {
		return false, nil
	}

	q.mu.Lock()
	err = q.retireLocked()
	q.mu.Unlock()
	return true, err
}

// drainFences retires everything after a device WaitIdle and destroys
// the fence pool.
func (q *queue) drainFences() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		q.retireHead()
	}
	for _, f := range q.free {
		f.Destroy(nil)
	}
	q.free = nil
}
