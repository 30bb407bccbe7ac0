package suballoc

import "testing"

func TestAllocFirstFit(t *testing.T) {
	b := New(1024)

	off, ok := b.Alloc(256, 1)
	if !ok || off != 0 {
		t.Fatalf("first alloc = (%d, %v), want (0, true)", off, ok)
	}
	off, ok = b.Alloc(256, 1)
	if !ok || off != 256 {
		t.Fatalf("second alloc = (%d, %v), want (256, true)", off, ok)
	}
	if got := b.FreeBytes(); got != 512 {
		t.Fatalf("FreeBytes = %d, want 512", got)
	}
}

func TestAllocAlignment(t *testing.T) {
	b := New(1024)

	if _, ok := b.Alloc(10, 1); !ok {
		t.Fatal("unaligned alloc failed")
	}
	off, ok := b.Alloc(64, 256)
	if !ok {
		t.Fatal("aligned alloc failed")
	}
	if off%256 != 0 {
		t.Fatalf("offset %d not aligned to 256", off)
	}

	// The padded run must release as one unit.
	before := b.FreeBytes()
	b.Free(off)
	after := b.FreeBytes()
	if after-before != 256-10+64 {
		t.Fatalf("freed %d bytes, want %d (padding included)", after-before, 256-10+64)
	}
}

func TestFreeRoundTrip(t *testing.T) {
	b := New(4096)

	offs := make([]uint64, 0, 8)
	for i := 0; i < 8; i++ {
		off, ok := b.Alloc(512, 64)
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		offs = append(offs, off)
	}
	if _, ok := b.Alloc(1, 1); ok {
		t.Fatal("alloc succeeded on full block")
	}

	// Free in mixed order; everything must coalesce back.
	for _, i := range []int{1, 0, 3, 2, 7, 5, 6, 4} {
		b.Free(offs[i])
	}
	if !b.Empty() {
		t.Fatal("block not empty after freeing all")
	}
	if got := b.FreeBytes(); got != 4096 {
		t.Fatalf("FreeBytes = %d, want 4096", got)
	}
	if got := b.LargestFree(); got != 4096 {
		t.Fatalf("LargestFree = %d, want 4096 (coalescing failed)", got)
	}
}

func TestFragmentation(t *testing.T) {
	b := New(1024)

	var offs []uint64
	for i := 0; i < 4; i++ {
		off, ok := b.Alloc(256, 1)
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		offs = append(offs, off)
	}

	// Free alternating runs: 512 bytes free total, 256 contiguous.
	b.Free(offs[0])
	b.Free(offs[2])
	if got := b.FreeBytes(); got != 512 {
		t.Fatalf("FreeBytes = %d, want 512", got)
	}
	if got := b.LargestFree(); got != 256 {
		t.Fatalf("LargestFree = %d, want 256", got)
	}
	if _, ok := b.Alloc(512, 1); ok {
		t.Fatal("alloc of 512 succeeded in fragmented block")
	}
	if _, ok := b.Alloc(256, 1); !ok {
		t.Fatal("alloc of 256 failed with a 256-byte run free")
	}
}

func TestFreeUnknownOffset(t *testing.T) {
	b := New(256)
	b.Free(128) // no-op
	if got := b.FreeBytes(); got != 256 {
		t.Fatalf("FreeBytes = %d, want 256", got)
	}
}

func TestOffsets(t *testing.T) {
	b := New(1024)
	want := []uint64{0, 128, 256}
	for range want {
		if _, ok := b.Alloc(128, 1); !ok {
			t.Fatal("alloc failed")
		}
	}
	got := b.Offsets()
	if len(got) != len(want) {
		t.Fatalf("Offsets len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Offsets[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestZeroAndOversize(t *testing.T) {
	b := New(128)
	if _, ok := b.Alloc(0, 1); ok {
		t.Fatal("zero-size alloc succeeded")
	}
	if _, ok := b.Alloc(129, 1); ok {
		t.Fatal("oversize alloc succeeded")
	}
}
