package mev

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/zakarumych/mev/backend"
	"github.com/zakarumych/mev/hal"
)

// newTestDevice opens a device on the headless backend and closes it
// when the test ends.
func newTestDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := NewDevice(DeviceDesc{Backend: backend.Null})
	if err != nil {
		t.Fatalf("NewDevice(null) failed: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestNewDeviceNull(t *testing.T) {
	dev := newTestDevice(t)

	if got := dev.Backend(); got != backend.Null {
		t.Errorf("Backend() = %q, want %q", got, backend.Null)
	}
	if got := dev.Info().Name; got != "null" {
		t.Errorf("Info().Name = %q, want %q", got, "null")
	}
	if got := dev.QueueCount(); got != 1 {
		t.Errorf("QueueCount() = %d, want 1", got)
	}
	if lost, _ := dev.Lost(); lost {
		t.Error("fresh device reports lost")
	}
	q := dev.Queue(0)
	if q.Flags()&QueueGraphics == 0 {
		t.Error("default queue lacks graphics capability")
	}
	if q.Index() != 0 {
		t.Errorf("Queue(0).Index() = %d, want 0", q.Index())
	}
}

func TestNewDeviceUnknownBackend(t *testing.T) {
	_, err := NewDevice(DeviceDesc{Backend: "no-such-backend"})
	if !errors.Is(err, backend.ErrNotAvailable) {
		t.Errorf("NewDevice(no-such-backend) = %v, want ErrNotAvailable", err)
	}
}

func TestNewDeviceBadAdapter(t *testing.T) {
	_, err := NewDevice(DeviceDesc{Backend: backend.Null, Adapter: 3})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("NewDevice(adapter 3) = %v, want *ValidationError", err)
	}
	if ve.Field != "Adapter" {
		t.Errorf("ValidationError.Field = %q, want %q", ve.Field, "Adapter")
	}
}

func TestNewDeviceMultiQueue(t *testing.T) {
	dev, err := NewDevice(DeviceDesc{Backend: backend.Null, QueueFamilies: []int{0, 0}})
	if err != nil {
		t.Fatalf("NewDevice with two queues failed: %v", err)
	}
	defer dev.Close()

	if got := dev.QueueCount(); got != 2 {
		t.Fatalf("QueueCount() = %d, want 2", got)
	}
	if dev.Queue(0) == dev.Queue(1) {
		t.Error("Queue(0) and Queue(1) are the same queue")
	}
}

func TestEnumerateAdapters(t *testing.T) {
	adapters, err := EnumerateAdapters(backend.Null)
	if err != nil {
		t.Fatalf("EnumerateAdapters(null) failed: %v", err)
	}
	if len(adapters) != 1 {
		t.Fatalf("got %d adapters, want 1", len(adapters))
	}
	info := adapters[0]
	if len(info.QueueFamilies) == 0 {
		t.Fatal("adapter reports no queue families")
	}
	if info.QueueFamilies[0].Flags&hal.QueueGraphics == 0 {
		t.Error("first queue family is not graphics-capable")
	}
	if len(info.MemoryTypes) == 0 {
		t.Error("adapter reports no memory types")
	}
}

func TestDeviceCloseIdempotent(t *testing.T) {
	dev := newTestDevice(t)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestDeviceUseAfterClose(t *testing.T) {
	dev := newTestDevice(t)
	dev.Close()

	_, err := dev.CreateBuffer(BufferDesc{Size: 16, Usage: BufferUsageCopySrc})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("CreateBuffer after Close = %v, want ErrInvalidState", err)
	}
	_, err = dev.CreateSemaphore("late")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("CreateSemaphore after Close = %v, want ErrInvalidState", err)
	}
}

func TestMemoryStatsAndMaintain(t *testing.T) {
	dev := newTestDevice(t)

	buf, err := dev.CreateBuffer(BufferDesc{
		Size:   1024,
		Usage:  BufferUsageCopySrc,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}

	stats := dev.MemoryStats()
	if stats.Blocks != 1 {
		t.Fatalf("Blocks = %d, want 1", stats.Blocks)
	}
	if stats.Reserved != poolBlockSize {
		t.Errorf("Reserved = %d, want %d", stats.Reserved, uint64(poolBlockSize))
	}
	if stats.Free >= stats.Reserved {
		t.Errorf("Free = %d, want less than Reserved %d", stats.Free, stats.Reserved)
	}

	// An idle buffer is destroyed at once; the empty block is given
	// back by Maintain.
	buf.Destroy()
	reclaimed := dev.Maintain()
	if reclaimed != poolBlockSize {
		t.Errorf("Maintain() reclaimed %d, want %d", reclaimed, uint64(poolBlockSize))
	}
	stats = dev.MemoryStats()
	if stats.Blocks != 0 {
		t.Errorf("Blocks after Maintain = %d, want 0", stats.Blocks)
	}
}

func TestDedicatedAllocation(t *testing.T) {
	dev := newTestDevice(t)

	// Above the dedicated threshold the resource gets its own block
	// sized to the request, not a shared pool block.
	big, err := dev.CreateBuffer(BufferDesc{
		Size:   dedicatedThreshold + 1024,
		Usage:  BufferUsageCopySrc,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer(dedicated) failed: %v", err)
	}
	stats := dev.MemoryStats()
	if stats.Blocks != 1 {
		t.Fatalf("Blocks = %d, want 1", stats.Blocks)
	}
	if stats.Reserved >= poolBlockSize {
		t.Errorf("dedicated block reserved %d bytes, want less than pool block %d",
			stats.Reserved, uint64(poolBlockSize))
	}

	// Dedicated blocks are released natively as soon as the resource
	// goes away, without waiting for Maintain.
	big.Destroy()
	if got := dev.MemoryStats().Blocks; got != 0 {
		t.Errorf("Blocks after Destroy = %d, want 0", got)
	}
}

func TestDefragment(t *testing.T) {
	dev := newTestDevice(t)

	// Three allocations of this size need two pool blocks.
	const chunk = 24 << 20
	mk := func(name string) *Buffer {
		t.Helper()
		b, err := dev.CreateBuffer(BufferDesc{
			Size:   chunk,
			Usage:  BufferUsageCopySrc,
			Memory: MemoryShared,
			Name:   name,
		})
		if err != nil {
			t.Fatalf("CreateBuffer(%s) failed: %v", name, err)
		}
		return b
	}
	b1 := mk("b1")
	defer b1.Destroy()
	b2 := mk("b2")
	b3 := mk("b3")
	defer b3.Destroy()

	if got := dev.MemoryStats().Blocks; got != 2 {
		t.Fatalf("Blocks = %d, want 2", got)
	}

	head := []byte("defrag-head-marker")
	tail := []byte("defrag-tail-marker")
	if err := b3.Write(0, head); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := b3.Write(chunk-uint64(len(tail)), tail); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Freeing b2 leaves room in the first block; b3, alone in the
	// second, moves there and its block is released.
	b2.Destroy()
	released, err := dev.Defragment(context.Background())
	if err != nil {
		t.Fatalf("Defragment failed: %v", err)
	}
	if released != poolBlockSize {
		t.Errorf("released %d bytes, want %d", released, uint64(poolBlockSize))
	}
	if got := dev.MemoryStats().Blocks; got != 1 {
		t.Errorf("Blocks after Defragment = %d, want 1", got)
	}

	got := make([]byte, len(head))
	if err := b3.Read(0, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, head) {
		t.Errorf("head after move = %q, want %q", got, head)
	}
	got = make([]byte, len(tail))
	if err := b3.Read(chunk-uint64(len(tail)), got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, tail) {
		t.Errorf("tail after move = %q, want %q", got, tail)
	}
}

func TestDefragmentCanceled(t *testing.T) {
	dev := newTestDevice(t)

	buf, err := dev.CreateBuffer(BufferDesc{
		Size:   1024,
		Usage:  BufferUsageCopySrc,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer buf.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dev.Defragment(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Defragment = %v, want context.Canceled", err)
	}
}
