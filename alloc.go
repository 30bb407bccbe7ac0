package mev

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/zakarumych/mev/hal"
	"github.com/zakarumych/mev/internal/suballoc"
)

// Allocator tuning constants.
const (
	// poolBlockSize is the native allocation size pools grow by.
	// Native allocations are expensive and rate-limited on both
	// backends, so resources sub-allocate from blocks this size.
	poolBlockSize = 64 << 20

	// dedicatedThreshold is the resource size above which the
	// allocator gives the resource its own native block instead of
	// sub-allocating.
	dedicatedThreshold = poolBlockSize / 2
)

// allocation is one sub-allocated (or dedicated) range of a native
// memory block.
type allocation struct {
	pool      *memoryPool
	block     *poolBlock
	offset    uint64
	size      uint64
	align     uint64
	dedicated bool
}

// hostBytes returns the mapped bytes of the allocation. Fails with
// hal.ErrNotMappable for device-local memory.
func (a *allocation) hostBytes() ([]byte, error) {
	if a.block.mapped == nil {
		return nil, hal.ErrNotMappable
	}
	return a.block.mapped[a.offset : a.offset+a.size], nil
}

// poolBlock pairs one native memory block with its offset bookkeeping.
type poolBlock struct {
	mem    hal.Memory
	sub    *suballoc.Block
	mapped []byte // persistent mapping, nil for device-local blocks
}

// memoryPool holds the blocks of one native memory type. Access is
// serialized per pool, so allocations of different localities do not
// contend on one global lock.
type memoryPool struct {
	mu        sync.Mutex
	typeIndex uint32
	mappable  bool
	blocks    []*poolBlock
}

// deviceAllocator pools native memory by type and sub-allocates
// resources from large blocks.
type deviceAllocator struct {
	dev   hal.Device
	types []hal.MemoryType

	mu    sync.Mutex
	pools map[uint32]*memoryPool
}

// newDeviceAllocator creates the allocator for an open hal device.
func newDeviceAllocator(dev hal.Device) *deviceAllocator {
	return &deviceAllocator{
		dev:   dev,
		types: dev.Info().MemoryTypes,
		pools: make(map[uint32]*memoryPool),
	}
}

// localityFlags returns the required and preferred memory flags for a
// locality. Selection prefers the preferred flags but falls back to
// any type carrying the required ones.
func localityFlags(m MemoryLocality) (required, preferred hal.MemoryFlags) {
	switch m {
	case MemoryDevice:
		return 0, hal.MemoryDeviceLocal
	case MemoryShared:
		return hal.MemoryHostVisible | hal.MemoryHostCoherent, 0
	case MemoryUpload:
		return hal.MemoryHostVisible, hal.MemoryHostCoherent | hal.MemoryDeviceLocal
	case MemoryDownload:
		return hal.MemoryHostVisible, hal.MemoryHostCached
	default:
		return 0, 0
	}
}

// pickType selects a memory type index compatible with both the
// resource's type mask and the requested locality.
func (da *deviceAllocator) pickType(typeMask uint32, locality MemoryLocality) (uint32, error) {
	required, preferred := localityFlags(locality)

	best := -1
	bestScore := -1
	for i, t := range da.types {
		if typeMask&(1<<uint(i)) == 0 {
			continue
		}
		if t.Flags&required != required {
			continue
		}
		score := bits.OnesCount32(uint32(t.Flags & preferred))
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("allocate: no memory type supports locality %s: %w",
			locality, ErrOutOfDeviceMemory)
	}
	return uint32(best), nil
}

// pool returns the pool for a memory type, creating it on first use.
func (da *deviceAllocator) pool(typeIndex uint32) *memoryPool {
	da.mu.Lock()
	defer da.mu.Unlock()
	p, ok := da.pools[typeIndex]
	if !ok {
		p = &memoryPool{
			typeIndex: typeIndex,
			mappable:  da.types[typeIndex].Flags&hal.MemoryHostVisible != 0,
		}
		da.pools[typeIndex] = p
	}
	return p
}

// allocate reserves memory matching the requirements and locality.
//
// Failure modes are distinguished precisely: ErrOutOfDeviceMemory when
// no compatible type has room, *FragmentationError when total free
// bytes suffice but no contiguous run does (the caller may defragment
// and retry).
func (da *deviceAllocator) allocate(req hal.MemoryRequirements, locality MemoryLocality) (*allocation, error) {
	typeIndex, err := da.pickType(req.TypeMask, locality)
	if err != nil {
		return nil, err
	}

	p := da.pool(typeIndex)
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Size >= dedicatedThreshold {
		return da.newBlockLocked(p, req.Size, req.Size, req.Align, true)
	}

	for _, b := range p.blocks {
		if b.sub.Size() != poolBlockSize {
			continue // dedicated blocks are never shared
		}
		if off, ok := b.sub.Alloc(req.Size, req.Align); ok {
			return &allocation{pool: p, block: b, offset: off, size: req.Size, align: req.Align}, nil
		}
	}

	alloc, err := da.newBlockLocked(p, poolBlockSize, req.Size, req.Align, false)
	if err == nil {
		return alloc, nil
	}
	if !errors.Is(err, ErrOutOfDeviceMemory) {
		return nil, err
	}

	// The native allocation failed. If the pool's free bytes would fit
	// the request, the pool is fragmented rather than exhausted.
	var totalFree, largestFree uint64
	for _, b := range p.blocks {
		totalFree += b.sub.FreeBytes()
		if lf := b.sub.LargestFree(); lf > largestFree {
			largestFree = lf
		}
	}
	if totalFree >= req.Size {
		return nil, &FragmentationError{Size: req.Size, LargestFree: largestFree, TotalFree: totalFree}
	}
	return nil, err
}

// newBlockLocked grows the pool by one native block and carves the
// first allocation from it. Caller holds p.mu.
func (da *deviceAllocator) newBlockLocked(p *memoryPool, blockSize, size, align uint64, dedicated bool) (*allocation, error) {
	mem, err := da.dev.AllocateMemory(p.typeIndex, blockSize)
	if err != nil {
		if errors.Is(err, hal.ErrOutOfMemory) {
			return nil, fmt.Errorf("allocate %d bytes: %w", blockSize, ErrOutOfDeviceMemory)
		}
		if errors.Is(err, hal.ErrDeviceLost) {
			return nil, fmt.Errorf("allocate: %w", ErrDeviceLost)
		}
		return nil, fmt.Errorf("allocate: %w", err)
	}

	b := &poolBlock{mem: mem, sub: suballoc.New(blockSize)}
	if p.mappable {
		bytes, err := mem.Map()
		if err != nil {
			da.dev.FreeMemory(mem)
			return nil, fmt.Errorf("map block: %w", err)
		}
		b.mapped = bytes
	}
	p.blocks = append(p.blocks, b)

	off, ok := b.sub.Alloc(size, align)
	if !ok {
		// A fresh block always fits size <= blockSize.
		panic("mev: fresh block cannot satisfy its first allocation")
	}

	Logger().Debug("allocator grew pool",
		slog.Int("type", int(p.typeIndex)),
		slog.Uint64("block_size", blockSize),
		slog.Bool("dedicated", dedicated))

	return &allocation{pool: p, block: b, offset: off, size: size, align: align, dedicated: dedicated}, nil
}

// relocate finds a new home for a pooled allocation that is the sole
// occupant of its block, packing it into another occupied block of the
// same pool so the source block can be released. Returns false when
// nothing is gained by moving.
func (da *deviceAllocator) relocate(a *allocation) (*allocation, bool) {
	if a.dedicated {
		return nil, false
	}
	p := a.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if a.block.sub.Allocations() != 1 {
		return nil, false
	}
	for _, b := range p.blocks {
		if b == a.block || b.sub.Size() != poolBlockSize || b.sub.Empty() {
			continue
		}
		if off, ok := b.sub.Alloc(a.size, a.align); ok {
			return &allocation{pool: p, block: b, offset: off, size: a.size, align: a.align}, true
		}
	}
	return nil, false
}

// free returns an allocation to its pool. Dedicated blocks are
// released natively at once; shared blocks are kept for reuse and
// released by reclaimEmpty.
func (da *deviceAllocator) free(a *allocation) {
	p := a.pool
	p.mu.Lock()
	a.block.sub.Free(a.offset)
	if a.dedicated && a.block.sub.Empty() {
		da.removeBlockLocked(p, a.block)
	}
	p.mu.Unlock()
}

// removeBlockLocked unmaps and frees one native block. Caller holds
// p.mu.
func (da *deviceAllocator) removeBlockLocked(p *memoryPool, b *poolBlock) {
	for i, pb := range p.blocks {
		if pb == b {
			p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
			break
		}
	}
	if b.mapped != nil {
		b.mem.Unmap()
	}
	da.dev.FreeMemory(b.mem)
}

// reclaimEmpty releases native blocks with no live allocations,
// returning the bytes given back to the driver.
func (da *deviceAllocator) reclaimEmpty() uint64 {
	da.mu.Lock()
	pools := make([]*memoryPool, 0, len(da.pools))
	for _, p := range da.pools {
		pools = append(pools, p)
	}
	da.mu.Unlock()

	var released uint64
	for _, p := range pools {
		p.mu.Lock()
		for i := 0; i < len(p.blocks); {
			b := p.blocks[i]
			if b.sub.Empty() {
				released += b.sub.Size()
				da.removeBlockLocked(p, b)
				continue
			}
			i++
		}
		p.mu.Unlock()
	}
	return released
}

// AllocatorStats is a point-in-time snapshot of pool usage.
type AllocatorStats struct {
	// Reserved is the total bytes of native blocks held.
	Reserved uint64

	// Free is the total unallocated bytes inside those blocks.
	Free uint64

	// Blocks is the native block count.
	Blocks int
}

// stats sums usage across all pools.
func (da *deviceAllocator) stats() AllocatorStats {
	da.mu.Lock()
	pools := make([]*memoryPool, 0, len(da.pools))
	for _, p := range da.pools {
		pools = append(pools, p)
	}
	da.mu.Unlock()

	var s AllocatorStats
	for _, p := range pools {
		p.mu.Lock()
		for _, b := range p.blocks {
			s.Reserved += b.sub.Size()
			s.Free += b.sub.FreeBytes()
			s.Blocks++
		}
		p.mu.Unlock()
	}
	return s
}

// release frees every block. Called from Device.Close after all
// resources are gone.
func (da *deviceAllocator) release() {
	da.mu.Lock()
	pools := da.pools
	da.pools = make(map[uint32]*memoryPool)
	da.mu.Unlock()

	for _, p := range pools {
		p.mu.Lock()
		for _, b := range p.blocks {
			if b.mapped != nil {
				b.mem.Unmap()
			}
			da.dev.FreeMemory(b.mem)
		}
		p.blocks = nil
		p.mu.Unlock()
	}
}
