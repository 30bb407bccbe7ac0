package mev

import (
	"fmt"

	"github.com/zakarumych/mev/hal"
)

// MemoryLocality specifies what memory the allocator should back a
// resource with.
type MemoryLocality uint8

const (
	// MemoryDevice is device-local memory, fastest for the GPU and
	// generally not host-accessible.
	MemoryDevice MemoryLocality = iota

	// MemoryShared is host-visible, coherent memory usable directly by
	// both host and device.
	MemoryShared

	// MemoryUpload is host-visible write-combined memory for
	// host-to-device staging.
	MemoryUpload

	// MemoryDownload is host-visible cached memory for
	// device-to-host readback.
	MemoryDownload
)

// String returns the locality name.
func (m MemoryLocality) String() string {
	switch m {
	case MemoryDevice:
		return "device"
	case MemoryShared:
		return "shared"
	case MemoryUpload:
		return "upload"
	case MemoryDownload:
		return "download"
	default:
		return "invalid"
	}
}

// hostVisible reports whether the locality can be mapped by the host.
func (m MemoryLocality) hostVisible() bool {
	return m != MemoryDevice
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Size in bytes. Must be positive.
	Size uint64

	// Usage flags. The buffer may only be used as declared here.
	Usage BufferUsage

	// Memory selects the backing memory locality.
	Memory MemoryLocality

	// Name is an optional debug label.
	Name string
}

// Buffer is a GPU memory resource created from a Device.
//
// A Buffer stays alive while any non-completed command buffer
// references it; Destroy on an in-flight buffer defers the release
// until its last fence signals.
type Buffer struct {
	dev    *Device
	handle hal.Buffer
	alloc  *allocation
	size   uint64
	usage  BufferUsage
	memory MemoryLocality
	name   string
	state  resourceState
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() BufferUsage { return b.usage }

// Memory returns the buffer's memory locality.
func (b *Buffer) Memory() MemoryLocality { return b.memory }

// Name returns the debug label.
func (b *Buffer) Name() string { return b.name }

// isDestroyed reports whether Destroy has been called.
func (b *Buffer) isDestroyed() bool { return b.state.isDestroyed() }

// Write copies data into a host-visible buffer at offset.
//
// The caller must ensure the GPU is not reading the range concurrently;
// the usual pattern is to write before submission or after the fence of
// the last use signaled.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.state.isDestroyed() {
		return fmt.Errorf("buffer write: %w", ErrDestroyed)
	}
	if !b.memory.hostVisible() {
		return &ValidationError{Field: "Memory", Reason: "write requires a host-visible buffer"}
	}
	if offset+uint64(len(data)) > b.size {
		return &ValidationError{
			Field:  "offset",
			Reason: fmt.Sprintf("write range %d+%d exceeds buffer size %d", offset, len(data), b.size),
		}
	}
	bytes, err := b.alloc.hostBytes()
	if err != nil {
		return fmt.Errorf("buffer write: %w", err)
	}
	copy(bytes[offset:], data)
	return nil
}

// Read copies bytes out of a host-visible buffer at offset into dst.
//
// The caller must have observed the fence of the producing submission
// signaled, otherwise the contents are unspecified.
func (b *Buffer) Read(offset uint64, dst []byte) error {
	if b.state.isDestroyed() {
		return fmt.Errorf("buffer read: %w", ErrDestroyed)
	}
	if !b.memory.hostVisible() {
		return &ValidationError{Field: "Memory", Reason: "read requires a host-visible buffer"}
	}
	if offset+uint64(len(dst)) > b.size {
		return &ValidationError{
			Field:  "offset",
			Reason: fmt.Sprintf("read range %d+%d exceeds buffer size %d", offset, len(dst), b.size),
		}
	}
	bytes, err := b.alloc.hostBytes()
	if err != nil {
		return fmt.Errorf("buffer read: %w", err)
	}
	copy(dst, bytes[offset:offset+uint64(len(dst))])
	return nil
}

// Destroy releases the buffer. If a non-completed command buffer still
// references it, the release is deferred until that fence signals; the
// call itself never fails for in-flight resources.
func (b *Buffer) Destroy() {
	if !b.state.markDestroyed() {
		return
	}
	b.dev.forgetBuffer(b)
	b.dev.retireResource(&b.state, func() {
		b.dev.halDevice.DestroyBuffer(b.handle)
		b.dev.alloc.free(b.alloc)
	})
}

// validate checks the descriptor as a unit before any native call.
func (d *BufferDesc) validate() error {
	if d.Size == 0 {
		return &ValidationError{Field: "Size", Reason: "must be positive"}
	}
	if d.Usage == 0 {
		return &ValidationError{Field: "Usage", Reason: "at least one usage flag is required"}
	}
	if d.Memory > MemoryDownload {
		return &ValidationError{Field: "Memory", Reason: fmt.Sprintf("unknown locality %d", d.Memory)}
	}
	return nil
}
