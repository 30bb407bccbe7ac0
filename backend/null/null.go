// Package null implements a headless backend.
//
// Buffers and textures live in host memory, copies move real bytes at
// submit time, and render/compute work is accepted and discarded. The
// backend exists so the generic layer, the allocator and the command
// state machine can run on machines without a GPU.
package null

import (
	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/backend"
	"github.com/zakarumych/mev/hal"
)

const (
	heapSize   = 1 << 32
	allocAlign = 256
)

func init() {
	backend.Register(backend.Null, New)
}

// New returns the headless backend.
func New() hal.Backend { return nullBackend{} }

type nullBackend struct{}

func (nullBackend) Name() string             { return backend.Null }
func (nullBackend) Target() hal.ShaderTarget { return hal.TargetNone }

func (nullBackend) Enumerate() ([]hal.AdapterInfo, error) {
	return []hal.AdapterInfo{adapterInfo()}, nil
}

func adapterInfo() hal.AdapterInfo {
	return hal.AdapterInfo{
		Name:   "null",
		Limits: gputypes.DefaultLimits(),
		QueueFamilies: []hal.QueueFamily{
			{Flags: hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer, Count: 2},
		},
		MemoryTypes: []hal.MemoryType{
			{Flags: hal.MemoryDeviceLocal, HeapSize: heapSize},
			{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent, HeapSize: heapSize},
			{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent | hal.MemoryHostCached, HeapSize: heapSize},
		},
	}
}

func (b nullBackend) Open(desc *hal.DeviceDescriptor) (hal.Device, error) {
	adapters, _ := b.Enumerate()
	info := adapters[desc.Adapter]
	d := &device{info: info}
	for range desc.QueueFamilies {
		d.queues = append(d.queues, newQueue())
	}
	return d, nil
}
