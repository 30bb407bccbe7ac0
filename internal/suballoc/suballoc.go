// Package suballoc provides offset bookkeeping for sub-allocating
// resources out of large native memory blocks.
//
// A Block tracks free runs within one fixed-size range. It performs no
// native calls; the allocator in the root package pairs each Block
// with one hal memory allocation.
package suballoc

import "sort"

// span is one contiguous run of bytes.
type span struct {
	off  uint64
	size uint64
}

// Block manages allocations within one fixed-size byte range.
//
// Block is not safe for concurrent use; the owning pool serializes
// access.
type Block struct {
	size uint64
	free []span          // sorted by offset, adjacent runs coalesced
	used map[uint64]span // allocation offset -> padded run
}

// New creates a Block covering size bytes, all free.
func New(size uint64) *Block {
	return &Block{
		size: size,
		free: []span{{off: 0, size: size}},
		used: make(map[uint64]span),
	}
}

// Size returns the total byte size of the block.
func (b *Block) Size() uint64 { return b.size }

// Alloc reserves size bytes at an offset aligned to align (a power of
// two; 0 and 1 mean unaligned). Returns the offset and true, or 0 and
// false when no free run fits. First-fit keeps runs compact at the
// front of the block, which helps later allocations and defrag moves.
func (b *Block) Alloc(size, align uint64) (uint64, bool) {
	if size == 0 || size > b.size {
		return 0, false
	}
	if align == 0 {
		align = 1
	}
	for i, f := range b.free {
		aligned := alignUp(f.off, align)
		pad := aligned - f.off
		if f.size < pad+size {
			continue
		}
		// Reserve the padded run as one unit so Free needs only the
		// returned offset.
		b.used[aligned] = span{off: f.off, size: pad + size}
		rest := f.size - pad - size
		if rest == 0 {
			b.free = append(b.free[:i], b.free[i+1:]...)
		} else {
			b.free[i] = span{off: f.off + pad + size, size: rest}
		}
		return aligned, true
	}
	return 0, false
}

// Free releases the allocation previously returned at off. Freeing an
// unknown offset is a no-op.
func (b *Block) Free(off uint64) {
	run, ok := b.used[off]
	if !ok {
		return
	}
	delete(b.used, off)

	i := sort.Search(len(b.free), func(i int) bool { return b.free[i].off > run.off })
	b.free = append(b.free, span{})
	copy(b.free[i+1:], b.free[i:])
	b.free[i] = run

	// Coalesce with the following run, then the preceding one.
	if i+1 < len(b.free) && b.free[i].off+b.free[i].size == b.free[i+1].off {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].off+b.free[i-1].size == b.free[i].off {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
}

// FreeBytes returns the total free bytes in the block.
func (b *Block) FreeBytes() uint64 {
	var total uint64
	for _, f := range b.free {
		total += f.size
	}
	return total
}

// LargestFree returns the size of the largest contiguous free run.
func (b *Block) LargestFree() uint64 {
	var largest uint64
	for _, f := range b.free {
		if f.size > largest {
			largest = f.size
		}
	}
	return largest
}

// Empty reports whether the block has no live allocations.
func (b *Block) Empty() bool {
	return len(b.used) == 0
}

// Allocations returns the number of live allocations.
func (b *Block) Allocations() int { return len(b.used) }

// Offsets returns the live allocation offsets in ascending order.
// Used by the defragmentation pass to enumerate move candidates.
func (b *Block) Offsets() []uint64 {
	offs := make([]uint64, 0, len(b.used))
	for off := range b.used {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}

// alignUp rounds v up to the next multiple of align (a power of two).
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
