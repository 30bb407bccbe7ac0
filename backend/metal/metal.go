//go:build darwin && cgo

// Package metal implements the tile-based-deferred backend on top of
// an Objective-C shim over the system Metal framework.
//
// Handles cross the cgo boundary as opaque uintptr values retained on
// the Objective-C side; no Metal ABI values leak into Go. Memory comes
// in two kinds: placement heaps for device-local allocations and one
// shared MTLBuffer per host-visible allocation, which Map exposes
// through its contents pointer. Hazards are tracked by the driver, so
// barriers and layout transitions record nothing.
package metal

/*
#cgo LDFLAGS: -framework Metal -framework Foundation
#include <stdlib.h>
#include "bridge.h"
*/
import "C"

import (
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/backend"
	"github.com/zakarumych/mev/hal"
)

const (
	// queueCount is the number of queues the single family exposes.
	// Metal command queues are cheap; the cap is arbitrary but keeps
	// DeviceDescriptor validation meaningful.
	queueCount = 4

	// errCap is the buffer size for shim error strings.
	errCap = 1024

	// Memory type indexes of the adapter's fixed layout.
	memTypePrivate = 0
	memTypeShared  = 1
)

func init() {
	backend.Register(backend.Metal, New)
}

// New returns the tile-based backend, or nil when no system device
// exists (headless CI machines).
func New() hal.Backend {
	b := &metalBackend{}
	b.dev = C.mevDeviceCreate()
	if b.dev == 0 {
		return nil
	}
	return b
}

type metalBackend struct {
	mu  sync.Mutex
	dev C.uintptr_t
}

func (b *metalBackend) Name() string { return backend.Metal }

func (b *metalBackend) Target() hal.ShaderTarget { return hal.TargetMSL }

func (b *metalBackend) Enumerate() ([]hal.AdapterInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []hal.AdapterInfo{b.adapterInfo()}, nil
}

func (b *metalBackend) adapterInfo() hal.AdapterInfo {
	var name [256]C.char
	C.mevDeviceName(b.dev, &name[0], C.int(len(name)))

	maxBuffer := uint64(C.mevDeviceMaxBufferLength(b.dev))

	limits := gputypes.DefaultLimits()
	limits.MaxBufferSize = maxBuffer

	deviceType := gputypes.DeviceTypeDiscreteGPU
	if C.mevDeviceUnifiedMemory(b.dev) != 0 {
		deviceType = gputypes.DeviceTypeIntegratedGPU
	}

	return hal.AdapterInfo{
		Name:       C.GoString(&name[0]),
		DeviceType: deviceType,
		Limits:     limits,
		QueueFamilies: []hal.QueueFamily{
			{Flags: hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer, Count: queueCount},
		},
		// One private heap type and one shared type. Unified-memory
		// parts still expose both so the generic allocator's staging
		// path behaves identically everywhere.
		MemoryTypes: []hal.MemoryType{
			{Flags: hal.MemoryDeviceLocal, HeapSize: maxBuffer},
			{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent, HeapSize: maxBuffer},
		},
	}
}

func (b *metalBackend) Open(desc *hal.DeviceDescriptor) (hal.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if desc.Adapter != 0 {
		return nil, hal.ErrUnsupported
	}

	d := &device{
		mtl:  b.dev,
		info: b.adapterInfo(),
	}
	for range desc.QueueFamilies {
		q := C.mevQueueCreate(b.dev)
		if q == 0 {
			d.Close()
			return nil, hal.ErrOutOfMemory
		}
		d.queues = append(d.queues, newQueue(d, q))
	}
	return d, nil
}
