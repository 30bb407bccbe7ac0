package mev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zakarumych/mev/backend"
	"github.com/zakarumych/mev/cache"
	"github.com/zakarumych/mev/hal"
)

// AdapterInfo describes one physical adapter a backend can drive.
type AdapterInfo = hal.AdapterInfo

// DeviceDesc selects a backend and adapter to open.
type DeviceDesc struct {
	// Backend is a registry name ("vulkan", "metal", "null"). Empty
	// selects the platform default.
	Backend string

	// Adapter indexes the EnumerateAdapters result. Zero picks the
	// first adapter.
	Adapter int

	// QueueFamilies lists the family index for each queue to open.
	// Empty opens one queue on the first graphics-capable family.
	QueueFamilies []int
}

// EnumerateAdapters lists adapters of the named backend, or of the
// platform default when name is empty.
func EnumerateAdapters(name string) ([]AdapterInfo, error) {
	b, err := pickBackend(name)
	if err != nil {
		return nil, err
	}
	return b.Enumerate()
}

// pickBackend resolves a registry name to a backend instance.
func pickBackend(name string) (hal.Backend, error) {
	if name == "" {
		return backend.Default()
	}
	b := backend.Get(name)
	if b == nil {
		return nil, fmt.Errorf("backend %q: %w", name, backend.ErrNotAvailable)
	}
	return b, nil
}

// Device is an open connection to one GPU adapter. It owns the memory
// allocator, the shader translation cache and the deferred destruction
// queue; all methods are safe for concurrent use.
type Device struct {
	backendName string
	target      hal.ShaderTarget
	halDevice   hal.Device
	info        AdapterInfo

	alloc  *deviceAllocator
	queues []*Queue

	// shaders caches translated shaders by content. Translation is
	// deterministic, so a hit is indistinguishable from a fresh
	// translation.
	shaders *cache.Cache[string, *NativeShader]

	// lost holds the native error that killed the device, nil while
	// healthy. Once set, every operation fails with ErrDeviceLost.
	lost atomic.Pointer[error]

	// retired queues destroy callbacks gated on fence completion.
	retiredMu sync.Mutex
	retired   []retiredResource

	// buffers tracks live buffers so Defragment can consider moving
	// them. Textures never move; their layouts are opaque.
	buffersMu sync.Mutex
	buffers   map[*Buffer]struct{}

	closed atomic.Bool
}

// retiredResource is one deferred destruction.
type retiredResource struct {
	state   *resourceState
	destroy func()
}

// NewDevice opens a device on the selected backend and adapter.
func NewDevice(desc DeviceDesc) (*Device, error) {
	b, err := pickBackend(desc.Backend)
	if err != nil {
		return nil, err
	}

	adapters, err := b.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate %s adapters: %w", b.Name(), err)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("open device: backend %s found no adapters: %w", b.Name(), backend.ErrNotAvailable)
	}
	if desc.Adapter < 0 || desc.Adapter >= len(adapters) {
		return nil, &ValidationError{
			Field:  "Adapter",
			Reason: fmt.Sprintf("index %d, backend has %d adapters", desc.Adapter, len(adapters)),
		}
	}
	info := adapters[desc.Adapter]

	families := desc.QueueFamilies
	if len(families) == 0 {
		found := -1
		for i, qf := range info.QueueFamilies {
			if qf.Flags&hal.QueueGraphics != 0 {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("open device: adapter %q has no graphics queue family", info.Name)
		}
		families = []int{found}
	}

	halDev, err := b.Open(&hal.DeviceDescriptor{
		Adapter:       desc.Adapter,
		QueueFamilies: families,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s device on %q: %w", b.Name(), info.Name, err)
	}

	d := &Device{
		backendName: b.Name(),
		target:      b.Target(),
		halDevice:   halDev,
		info:        info,
		alloc:       newDeviceAllocator(halDev),
		shaders:     cache.New[string, *NativeShader](0, cache.StringHasher),
		buffers:     make(map[*Buffer]struct{}),
	}
	for i := range families {
		d.queues = append(d.queues, &Queue{dev: d, hal: halDev.Queue(i), index: i})
	}

	Logger().Info("device opened",
		slog.String("backend", d.backendName),
		slog.String("adapter", info.Name),
		slog.Int("queues", len(d.queues)))

	return d, nil
}

// Backend returns the registry name of the backend in use.
func (d *Device) Backend() string { return d.backendName }

// Info returns the adapter the device was opened on.
func (d *Device) Info() AdapterInfo { return d.info }

// Limits returns the adapter capability limits.
func (d *Device) Limits() Limits { return d.info.Limits }

// Queue returns the queue at index.
func (d *Device) Queue(index int) *Queue {
	return d.queues[index]
}

// QueueCount returns the number of opened queues.
func (d *Device) QueueCount() int { return len(d.queues) }

// alive fails once the device is lost or closed.
func (d *Device) alive() error {
	if d.closed.Load() {
		return fmt.Errorf("device closed: %w", ErrInvalidState)
	}
	if p := d.lost.Load(); p != nil {
		return fmt.Errorf("%w: %v", ErrDeviceLost, *p)
	}
	return nil
}

// markLost poisons the device with the native error. The first caller
// wins; later operations fail with ErrDeviceLost.
func (d *Device) markLost(err error) {
	if d.lost.CompareAndSwap(nil, &err) {
		Logger().Error("device lost",
			slog.String("backend", d.backendName),
			slog.String("error", err.Error()))
	}
}

// Lost reports whether the device has been lost, with the native
// cause.
func (d *Device) Lost() (bool, error) {
	if p := d.lost.Load(); p != nil {
		return true, *p
	}
	return false, nil
}

// wrapHALError translates backend sentinel errors to the public
// taxonomy, marking the device lost when the backend says so.
func (d *Device) wrapHALError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isHALLost(err):
		d.markLost(err)
		return fmt.Errorf("%s: %w", op, ErrDeviceLost)
	case isHALOutOfMemory(err):
		return fmt.Errorf("%s: %w", op, ErrOutOfDeviceMemory)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// CreateBuffer allocates memory per the descriptor's locality and
// creates the buffer bound to it.
func (d *Device) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	halDesc := &hal.BufferDescriptor{Label: desc.Name, Size: desc.Size, Usage: desc.Usage}
	req := d.halDevice.BufferRequirements(halDesc)
	alloc, err := d.alloc.allocate(req, desc.Memory)
	if err != nil {
		return nil, err
	}
	handle, err := d.halDevice.CreateBuffer(halDesc, alloc.block.mem, alloc.offset)
	if err != nil {
		d.alloc.free(alloc)
		return nil, d.wrapHALError("create buffer", err)
	}

	buf := &Buffer{
		dev:    d,
		handle: handle,
		alloc:  alloc,
		size:   desc.Size,
		usage:  desc.Usage,
		memory: desc.Memory,
		name:   desc.Name,
	}
	d.buffersMu.Lock()
	d.buffers[buf] = struct{}{}
	d.buffersMu.Unlock()
	return buf, nil
}

// forgetBuffer drops a buffer from the defragmentation registry.
func (d *Device) forgetBuffer(b *Buffer) {
	d.buffersMu.Lock()
	delete(d.buffers, b)
	d.buffersMu.Unlock()
}

// BufferInitDesc creates a buffer and fills it with Data in one call.
type BufferInitDesc struct {
	Data   []byte
	Usage  BufferUsage
	Memory MemoryLocality
	Name   string
}

// CreateBufferInit creates a buffer holding the given contents. The
// buffer size is len(Data) rounded up to the 4-byte copy alignment,
// with zero padding. For host-visible localities the data is written
// through the mapping; device-local buffers go through an internal
// staging copy submitted on the first transfer-capable queue.
func (d *Device) CreateBufferInit(desc BufferInitDesc) (*Buffer, error) {
	if len(desc.Data) == 0 {
		return nil, &ValidationError{Field: "Data", Reason: "empty"}
	}
	usage := desc.Usage
	if desc.Memory == MemoryDevice {
		usage |= BufferUsageCopyDst
	}
	buf, err := d.CreateBuffer(BufferDesc{
		Size:   (uint64(len(desc.Data)) + copyAlignment - 1) &^ (copyAlignment - 1),
		Usage:  usage,
		Memory: desc.Memory,
		Name:   desc.Name,
	})
	if err != nil {
		return nil, err
	}

	if desc.Memory.hostVisible() {
		if err := buf.Write(0, desc.Data); err != nil {
			buf.Destroy()
			return nil, err
		}
		return buf, nil
	}

	if err := d.stagingUpload(buf, desc.Data); err != nil {
		buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// stagingUpload copies data into a device-local buffer through a
// transient upload buffer, waiting for the copy to finish.
func (d *Device) stagingUpload(dst *Buffer, data []byte) error {
	// Copy sizes must be 4-byte aligned; the destination was padded to
	// the same bound at creation. The staging tail is zero-filled so
	// the padding bytes are deterministic.
	size := (uint64(len(data)) + copyAlignment - 1) &^ (copyAlignment - 1)
	if pad := size - uint64(len(data)); pad != 0 {
		padded := make([]byte, size)
		copy(padded, data)
		data = padded
	}
	staging, err := d.CreateBuffer(BufferDesc{
		Size:   size,
		Usage:  BufferUsageCopySrc,
		Memory: MemoryUpload,
		Name:   "mev-staging",
	})
	if err != nil {
		return fmt.Errorf("staging upload: %w", err)
	}
	defer staging.Destroy()

	if err := staging.Write(0, data); err != nil {
		return fmt.Errorf("staging upload: %w", err)
	}

	enc, err := d.CreateCommandEncoder("mev-staging-upload")
	if err != nil {
		return err
	}
	if err := enc.Begin(); err != nil {
		return err
	}
	if err := enc.CopyBufferToBuffer(staging, 0, dst, 0, size); err != nil {
		return err
	}
	cb, err := enc.Close()
	if err != nil {
		return err
	}

	q := d.transferQueue()
	f, err := q.Submit([]*CommandBuffer{cb}, nil, nil)
	if err != nil {
		return err
	}
	if _, err := f.Wait(-1); err != nil {
		return err
	}
	return nil
}

// transferQueue returns the first queue that accepts copies.
func (d *Device) transferQueue() *Queue {
	for _, q := range d.queues {
		if q.Flags()&hal.QueueTransfer != 0 {
			return q
		}
	}
	return d.queues[0]
}

// CreateTexture allocates memory and creates a texture bound to it.
func (d *Device) CreateTexture(desc TextureDesc) (*Texture, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	desc.normalize()
	if err := desc.validate(); err != nil {
		return nil, err
	}

	halDesc := desc.halDesc()
	req := d.halDevice.TextureRequirements(halDesc)
	alloc, err := d.alloc.allocate(req, desc.Memory)
	if err != nil {
		return nil, err
	}
	handle, err := d.halDevice.CreateTexture(halDesc, alloc.block.mem, alloc.offset)
	if err != nil {
		d.alloc.free(alloc)
		return nil, d.wrapHALError("create texture", err)
	}

	return &Texture{dev: d, handle: handle, alloc: alloc, desc: desc}, nil
}

// CreateSampler creates an immutable sampler.
func (d *Device) CreateSampler(desc SamplerDesc) (*Sampler, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	handle, err := d.halDevice.CreateSampler(&hal.SamplerDescriptor{
		Label:         desc.Name,
		MinFilter:     desc.MinFilter,
		MagFilter:     desc.MagFilter,
		MipFilter:     desc.MipFilter,
		AddressModeU:  desc.AddressModeU,
		AddressModeV:  desc.AddressModeV,
		AddressModeW:  desc.AddressModeW,
		LodMin:        desc.LodMin,
		LodMax:        desc.LodMax,
		MaxAnisotropy: desc.MaxAnisotropy,
	})
	if err != nil {
		return nil, d.wrapHALError("create sampler", err)
	}
	return &Sampler{dev: d, handle: handle}, nil
}

// CreateBindGroupLayout creates a binding-group layout.
func (d *Device) CreateBindGroupLayout(desc BindGroupLayoutDesc) (*BindGroupLayout, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	halDesc := &hal.BindGroupLayoutDescriptor{Label: desc.Name}
	for _, e := range desc.Entries {
		halDesc.Entries = append(halDesc.Entries, hal.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Type:       e.Type,
			Visibility: e.Visibility,
		})
	}
	handle, err := d.halDevice.CreateBindGroupLayout(halDesc)
	if err != nil {
		return nil, d.wrapHALError("create bind group layout", err)
	}
	return &BindGroupLayout{
		dev:     d,
		handle:  handle,
		name:    desc.Name,
		entries: append([]BindingLayoutEntry(nil), desc.Entries...),
	}, nil
}

// CreateBindGroup creates a bound resource set for a layout. Every
// entry is validated against the layout before the native call.
func (d *Device) CreateBindGroup(desc BindGroupDesc) (*BindGroup, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	halDesc := &hal.BindGroupDescriptor{Label: desc.Name, Layout: desc.Layout.handle}
	var refs []*resourceState
	for _, e := range desc.Entries {
		he := hal.BindGroupEntry{Binding: e.Binding, Offset: e.Offset, Range: e.Range}
		switch {
		case e.Buffer != nil:
			he.Buffer = e.Buffer.handle
			refs = append(refs, &e.Buffer.state)
		case e.Texture != nil:
			he.Texture = e.Texture.handle
			refs = append(refs, &e.Texture.state)
		case e.Sampler != nil:
			he.Sampler = e.Sampler.handle
		}
		halDesc.Entries = append(halDesc.Entries, he)
	}
	handle, err := d.halDevice.CreateBindGroup(halDesc)
	if err != nil {
		return nil, d.wrapHALError("create bind group", err)
	}
	return &BindGroup{
		dev:    d,
		handle: handle,
		name:   desc.Name,
		layout: desc.Layout,
		refs:   refs,
	}, nil
}

// CreateSemaphore creates a cross-queue ordering primitive.
func (d *Device) CreateSemaphore(name string) (*Semaphore, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	handle, err := d.halDevice.CreateSemaphore()
	if err != nil {
		return nil, d.wrapHALError("create semaphore", err)
	}
	return &Semaphore{dev: d, handle: handle, name: name}, nil
}

// CreateCommandEncoder creates an encoder in the initial state. Call
// Begin before recording.
func (d *Device) CreateCommandEncoder(name string) (*CommandEncoder, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	return &CommandEncoder{dev: d, name: name}, nil
}

// translate resolves a pipeline stage's shader through the device's
// translation cache.
func (d *Device) translate(s Shader, layout *PipelineLayoutDesc) (*NativeShader, error) {
	key := translationKey(s.Module, d.target, s.Entry, layout)
	if ns, ok := d.shaders.Get(key); ok {
		return ns, nil
	}
	ns, err := Translate(s.Module, d.target, s.Entry, layout)
	if err != nil {
		return nil, err
	}
	d.shaders.Set(key, ns)
	return ns, nil
}

// retireResource destroys a resource now if it is idle, otherwise
// queues the destruction until its last fence signals. Resources
// referenced by a submitted command buffer are never destroyed before
// that buffer completes.
func (d *Device) retireResource(state *resourceState, destroy func()) {
	if !state.inFlight() {
		destroy()
		return
	}
	d.retiredMu.Lock()
	d.retired = append(d.retired, retiredResource{state: state, destroy: destroy})
	d.retiredMu.Unlock()
}

// collect destroys retired resources whose fences have signaled.
// Called after submissions and fence waits; Maintain exposes it to
// callers that want explicit control.
func (d *Device) collect() {
	d.retiredMu.Lock()
	if len(d.retired) == 0 {
		d.retiredMu.Unlock()
		return
	}
	pending := d.retired
	d.retired = nil
	d.retiredMu.Unlock()

	var kept []retiredResource
	for _, r := range pending {
		if r.state.inFlight() {
			kept = append(kept, r)
			continue
		}
		r.destroy()
	}
	if len(kept) > 0 {
		d.retiredMu.Lock()
		d.retired = append(d.retired, kept...)
		d.retiredMu.Unlock()
	}
}

// Maintain reclaims completed work: deferred destructions whose
// fences signaled run now, and empty native memory blocks are
// released. Returns the bytes of native memory given back.
func (d *Device) Maintain() uint64 {
	d.collect()
	return d.alloc.reclaimEmpty()
}

// Defragment compacts host-visible memory pools and releases the
// blocks that become empty, returning the bytes given back. A buffer
// moves only if it is idle: not destroyed, not referenced by any
// non-completed command buffer, and alone in its block with room for
// it elsewhere in the pool. Device-local buffers and textures never
// move.
//
// The caller must not access movable buffers, or record commands
// against them, while Defragment runs; the usual pattern is to call it
// between frames after waiting on the last frame's fence. Honors ctx
// cancellation between moves.
func (d *Device) Defragment(ctx context.Context) (uint64, error) {
	if err := d.alive(); err != nil {
		return 0, err
	}
	d.collect()

	d.buffersMu.Lock()
	candidates := make([]*Buffer, 0, len(d.buffers))
	for b := range d.buffers {
		candidates = append(candidates, b)
	}
	d.buffersMu.Unlock()

	moved := 0
	for _, b := range candidates {
		if err := ctx.Err(); err != nil {
			return d.alloc.reclaimEmpty(), err
		}
		if d.moveBuffer(b) {
			moved++
		}
	}

	released := d.alloc.reclaimEmpty()
	if moved > 0 || released > 0 {
		Logger().Debug("defragment",
			slog.Int("moved", moved),
			slog.Uint64("released", released))
	}
	return released, nil
}

// moveBuffer relocates one idle host-visible buffer into another block
// of its pool, rebinding the native buffer at the new offset and
// copying the bytes through the mappings.
func (d *Device) moveBuffer(b *Buffer) bool {
	if b.state.isDestroyed() || b.state.inFlight() {
		return false
	}
	if b.alloc.block.mapped == nil {
		return false
	}
	newAlloc, ok := d.alloc.relocate(b.alloc)
	if !ok {
		return false
	}

	halDesc := &hal.BufferDescriptor{Label: b.name, Size: b.size, Usage: b.usage}
	handle, err := d.halDevice.CreateBuffer(halDesc, newAlloc.block.mem, newAlloc.offset)
	if err != nil {
		d.alloc.free(newAlloc)
		return false
	}

	src, _ := b.alloc.hostBytes()
	copy(newAlloc.block.mapped[newAlloc.offset:newAlloc.offset+newAlloc.size], src)

	oldHandle, oldAlloc := b.handle, b.alloc
	b.handle, b.alloc = handle, newAlloc
	d.halDevice.DestroyBuffer(oldHandle)
	d.alloc.free(oldAlloc)
	return true
}

// MemoryStats returns a snapshot of allocator usage.
func (d *Device) MemoryStats() AllocatorStats {
	return d.alloc.stats()
}

// Close waits for all queues to drain, runs every deferred
// destruction and tears down the native device. The Device and all
// objects created from it are invalid afterwards.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, q := range d.queues {
		if err := q.WaitIdle(); err != nil {
			Logger().Warn("close: queue drain failed", slog.Int("queue", q.index), slog.String("error", err.Error()))
		}
	}

	d.retiredMu.Lock()
	pending := d.retired
	d.retired = nil
	d.retiredMu.Unlock()
	for _, r := range pending {
		r.destroy()
	}

	d.buffersMu.Lock()
	d.buffers = nil
	d.buffersMu.Unlock()

	d.shaders.Clear()
	d.alloc.release()
	d.halDevice.Close()

	Logger().Info("device closed", slog.String("backend", d.backendName))
	return nil
}

// isHALLost matches the backend's device-lost sentinel.
func isHALLost(err error) bool {
	return errors.Is(err, hal.ErrDeviceLost)
}

// isHALOutOfMemory matches the backend's out-of-memory sentinel.
func isHALOutOfMemory(err error) bool {
	return errors.Is(err, hal.ErrOutOfMemory)
}
