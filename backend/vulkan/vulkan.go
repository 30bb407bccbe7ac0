//go:build cgo

// Package vulkan implements the explicit backend on top of the
// vkngwrapper Vulkan bindings.
//
// The generic layer owns validation and lifetime tracking; this
// package only lowers descriptors to core 1.0 Vulkan objects. Queue
// completion values are tracked with one fence per submission, kept
// in submit order.
package vulkan

import (
	"sync"

	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/backend"
	"github.com/zakarumych/mev/hal"
)

func init() {
	backend.Register(backend.Vulkan, New)
}

// New returns the Vulkan backend. The Vulkan loader and instance are
// created lazily on first Enumerate or Open.
func New() hal.Backend { return &vulkanBackend{} }

type vulkanBackend struct {
	mu       sync.Mutex
	instance core1_0.Instance
	physical []core1_0.PhysicalDevice
	adapters []hal.AdapterInfo
	initErr  error
}

func (b *vulkanBackend) Name() string             { return backend.Vulkan }
func (b *vulkanBackend) Target() hal.ShaderTarget { return hal.TargetSPIRV }

func (b *vulkanBackend) ensureInstance() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.instance != nil || b.initErr != nil {
		return b.initErr
	}

	loader, err := core.CreateSystemLoader()
	if err != nil {
		b.initErr = err
		return err
	}
	instance, _, err := loader.CreateInstance(nil, core1_0.InstanceCreateInfo{
		ApplicationName:    "mev",
		ApplicationVersion: common.CreateVersion(0, 1, 0),
		EngineName:         "mev",
		EngineVersion:      common.CreateVersion(0, 1, 0),
		APIVersion:         common.Vulkan1_0,
	})
	if err != nil {
		b.initErr = err
		return err
	}

	physical, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		instance.Destroy(nil)
		b.initErr = err
		return err
	}

	b.instance = instance
	b.physical = physical
	for _, pd := range physical {
		b.adapters = append(b.adapters, adapterInfo(pd))
	}
	return nil
}

func (b *vulkanBackend) Enumerate() ([]hal.AdapterInfo, error) {
	if err := b.ensureInstance(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]hal.AdapterInfo(nil), b.adapters...), nil
}

func (b *vulkanBackend) Open(desc *hal.DeviceDescriptor) (hal.Device, error) {
	if err := b.ensureInstance(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	pd := b.physical[desc.Adapter]
	info := b.adapters[desc.Adapter]
	b.mu.Unlock()

	// Collapse repeated families into per-family queue counts.
	counts := map[int]int{}
	for _, family := range desc.QueueFamilies {
		counts[family]++
	}
	var queueInfos []core1_0.DeviceQueueCreateInfo
	for family, n := range counts {
		priorities := make([]float32, n)
		for i := range priorities {
			priorities[i] = 1
		}
		queueInfos = append(queueInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  priorities,
		})
	}

	vkDev, res, err := pd.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueInfos,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}

	d := &device{
		vk:   vkDev,
		phys: pd,
		info: info,

		renderPasses: map[string]core1_0.RenderPass{},
		framebuffers: map[string]core1_0.Framebuffer{},
	}

	// Queue indices within a family follow descriptor order.
	next := map[int]int{}
	for _, family := range desc.QueueFamilies {
		q := &queue{
			dev:    d,
			vk:     vkDev.GetQueue(family, next[family]),
			family: family,
			flags:  info.QueueFamilies[family].Flags,
		}
		pool, res, err := vkDev.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
			QueueFamilyIndex: family,
			Flags:            core1_0.CommandPoolCreateResetBuffer,
		})
		if err != nil {
			d.Close()
			return nil, mapResultError(res, err)
		}
		q.pool = pool
		next[family]++
		d.queues = append(d.queues, q)
	}
	return d, nil
}

func adapterInfo(pd core1_0.PhysicalDevice) hal.AdapterInfo {
	props, _ := pd.Properties()
	memProps := pd.MemoryProperties()
	families := pd.QueueFamilyProperties()

	info := hal.AdapterInfo{
		Name:       props.DriverName,
		DeviceType: deviceType(props.DriverType),
		Limits:     adapterLimits(props.Limits),
	}
	for _, f := range families {
		info.QueueFamilies = append(info.QueueFamilies, hal.QueueFamily{
			Flags: halQueueFlags(f.QueueFlags),
			Count: f.QueueCount,
		})
	}
	for _, t := range memProps.MemoryTypes {
		info.MemoryTypes = append(info.MemoryTypes, hal.MemoryType{
			Flags:    halMemoryFlags(t.PropertyFlags),
			HeapSize: uint64(memProps.MemoryHeaps[t.HeapIndex].Size),
		})
	}
	return info
}
