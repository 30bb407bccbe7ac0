package mev

import "sync"

// resourceState tracks GPU-side lifetime of one resource. The last
// fence recorded here gates both destruction and defragmentation
// moves: the resource counts as in-flight until that fence signals.
type resourceState struct {
	mu        sync.Mutex
	lastUse   Fence
	destroyed bool
}

// markUse records that a command buffer using the resource was
// submitted with the given fence.
func (rs *resourceState) markUse(f Fence) {
	rs.mu.Lock()
	// Fences on one queue are strictly increasing, so the latest
	// submission wins. Uses on different queues keep the newest fence;
	// callers that share resources across queues synchronize with
	// semaphores, which orders the older queue's access before it.
	if !f.isZero() {
		rs.lastUse = f
	}
	rs.mu.Unlock()
}

// inFlight reports whether the resource may still be referenced by an
// unfinished command buffer.
func (rs *resourceState) inFlight() bool {
	rs.mu.Lock()
	f := rs.lastUse
	rs.mu.Unlock()
	if f.isZero() {
		return false
	}
	return !f.Signaled()
}

// markDestroyed flips the destroyed flag, returning false if it was
// already set.
func (rs *resourceState) markDestroyed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.destroyed {
		return false
	}
	rs.destroyed = true
	return true
}

// isDestroyed reports whether Destroy was called.
func (rs *resourceState) isDestroyed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.destroyed
}
