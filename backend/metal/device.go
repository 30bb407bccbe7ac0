//go:build darwin && cgo

package metal

/*
#include <stdlib.h>
#include "bridge.h"
*/
import "C"

import (
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/hal"
)

type device struct {
	mtl    C.uintptr_t
	info   hal.AdapterInfo
	queues []*queue
}

func (d *device) Info() hal.AdapterInfo { return d.info }

func (d *device) Queue(index int) hal.Queue { return d.queues[index] }

// memory is either a placement heap (device-local) or one shared
// MTLBuffer (host-visible). Textures bind to heaps only.
type memory struct {
	handle C.uintptr_t
	size   uint64
	shared bool
}

func (m *memory) Size() uint64 { return m.size }

func (m *memory) Map() ([]byte, error) {
	if !m.shared {
		return nil, hal.ErrNotMappable
	}
	p := C.mevBufferContents(m.handle)
	if p == nil {
		return nil, hal.ErrNotMappable
	}
	return unsafe.Slice((*byte)(p), m.size), nil
}

// Unmap is a no-op: shared buffer contents stay host-accessible for
// the buffer's whole lifetime.
func (m *memory) Unmap() {}

func (d *device) AllocateMemory(typeIndex uint32, size uint64) (hal.Memory, error) {
	var handle C.uintptr_t
	shared := typeIndex != memTypePrivate
	if shared {
		handle = C.mevSharedBufferCreate(d.mtl, C.uint64_t(size))
	} else {
		handle = C.mevHeapCreate(d.mtl, C.uint64_t(size))
	}
	if handle == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &memory{handle: handle, size: size, shared: shared}, nil
}

func (d *device) FreeMemory(m hal.Memory) {
	C.mevRelease(m.(*memory).handle)
}

func (d *device) BufferRequirements(desc *hal.BufferDescriptor) hal.MemoryRequirements {
	return hal.MemoryRequirements{
		Size:     uint64(C.mevBufferHeapSize(d.mtl, C.uint64_t(desc.Size))),
		Align:    uint64(C.mevBufferHeapAlign(d.mtl, C.uint64_t(desc.Size))),
		TypeMask: 1<<memTypePrivate | 1<<memTypeShared,
	}
}

func (d *device) TextureRequirements(desc *hal.TextureDescriptor) hal.MemoryRequirements {
	td := textureDesc(desc)
	return hal.MemoryRequirements{
		Size:     uint64(C.mevTextureHeapSize(d.mtl, &td)),
		Align:    uint64(C.mevTextureHeapAlign(d.mtl, &td)),
		TypeMask: 1 << memTypePrivate,
	}
}

// buffer is a native buffer handle. For shared memory the handle is
// the allocation's own MTLBuffer and base is the suballocation offset;
// blit and bind calls fold base into their offsets.
type buffer struct {
	hal.Marker
	mtl   C.uintptr_t
	base  uint64
	owned bool
}

func (d *device) CreateBuffer(desc *hal.BufferDescriptor, mem hal.Memory, offset uint64) (hal.Buffer, error) {
	m := mem.(*memory)
	if m.shared {
		return &buffer{mtl: m.handle, base: offset}, nil
	}
	h := C.mevBufferFromHeap(m.handle, C.uint64_t(desc.Size), C.uint64_t(offset))
	if h == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &buffer{mtl: h, owned: true}, nil
}

func (d *device) DestroyBuffer(b hal.Buffer) {
	h := b.(*buffer)
	if h.owned {
		C.mevRelease(h.mtl)
	}
}

type texture struct {
	hal.Marker
	mtl  C.uintptr_t
	desc hal.TextureDescriptor
}

func (d *device) CreateTexture(desc *hal.TextureDescriptor, mem hal.Memory, offset uint64) (hal.Texture, error) {
	m := mem.(*memory)
	if m.shared {
		// Textures need optimal layouts; linear shared storage is not
		// part of the portable contract.
		return nil, hal.ErrNotMappable
	}
	td := textureDesc(desc)
	h := C.mevTextureFromHeap(m.handle, &td, C.uint64_t(offset))
	if h == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &texture{mtl: h, desc: *desc}, nil
}

func (d *device) DestroyTexture(t hal.Texture) {
	C.mevRelease(t.(*texture).mtl)
}

func (d *device) ImportTexture(handle uintptr, desc *hal.TextureDescriptor) (hal.Texture, error) {
	h := C.mevTextureRetainExternal(C.uintptr_t(handle))
	if h == 0 {
		return nil, hal.ErrUnsupported
	}
	return &texture{mtl: h, desc: *desc}, nil
}

type sampler struct {
	hal.Marker
	mtl C.uintptr_t
}

func (d *device) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	lodMax := desc.LodMax
	if lodMax == 0 {
		lodMax = 1000
	}
	h := C.mevSamplerCreate(d.mtl,
		filterCode(desc.MinFilter), filterCode(desc.MagFilter), filterCode(desc.MipFilter),
		addressCode(desc.AddressModeU), addressCode(desc.AddressModeV), addressCode(desc.AddressModeW),
		C.float(desc.LodMin), C.float(lodMax), C.int(desc.MaxAnisotropy))
	if h == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &sampler{mtl: h}, nil
}

func (d *device) DestroySampler(s hal.Sampler) {
	C.mevRelease(s.(*sampler).mtl)
}

type shaderModule struct {
	hal.Marker
	lib C.uintptr_t
}

func (d *device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	if desc.MSL == "" {
		return nil, hal.ErrUnsupported
	}
	src := C.CString(desc.MSL)
	defer C.free(unsafe.Pointer(src))

	var msg [errCap]C.char
	lib := C.mevLibraryCreate(d.mtl, src, &msg[0], errCap)
	if lib == 0 {
		return nil, fmt.Errorf("metal: compile %q: %s", desc.Label, C.GoString(&msg[0]))
	}
	return &shaderModule{lib: lib}, nil
}

func (d *device) DestroyShaderModule(m hal.ShaderModule) {
	C.mevRelease(m.(*shaderModule).lib)
}

// bindGroupLayout carries the entries; slot assignment happens per
// pipeline where stage visibility is known.
type bindGroupLayout struct {
	hal.Marker
	entries []hal.BindGroupLayoutEntry
}

func (d *device) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	return &bindGroupLayout{entries: append([]hal.BindGroupLayoutEntry(nil), desc.Entries...)}, nil
}

func (d *device) DestroyBindGroupLayout(hal.BindGroupLayout) {}

// bindGroup keeps the validated entries; binding walks them at draw
// time against the bound pipeline's argument tables.
type bindGroup struct {
	hal.Marker
	layout  *bindGroupLayout
	entries []hal.BindGroupEntry
}

func (d *device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	return &bindGroup{
		layout:  desc.Layout.(*bindGroupLayout),
		entries: append([]hal.BindGroupEntry(nil), desc.Entries...),
	}, nil
}

func (d *device) DestroyBindGroup(hal.BindGroup) {}

// bindSlot is one argument-table index.
type bindSlot struct {
	kind  hal.BindingType
	index uint32
}

// slotTable assigns per-stage argument-table indexes to every layout
// entry visible to stage: groups in declaration order, bindings
// ascending, one counter per resource class. Buffer index 0 is
// reserved for push constants when the layout declares any. The
// shader translator derives the same table from the same layout, so
// both sides agree without the table crossing the hal boundary.
func slotTable(layout *hal.LayoutDescriptor, stage gputypes.ShaderStage) (map[[2]uint32]bindSlot, uint32) {
	nextBuffer := uint32(0)
	if len(layout.PushConstants) > 0 {
		nextBuffer = 1
	}
	var nextTexture, nextSampler uint32

	slots := make(map[[2]uint32]bindSlot)
	for gi, g := range layout.BindGroupLayouts {
		entries := append([]hal.BindGroupLayoutEntry(nil), g.(*bindGroupLayout).entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
		for _, e := range entries {
			if e.Visibility&stage == 0 {
				continue
			}
			key := [2]uint32{uint32(gi), e.Binding}
			switch e.Type {
			case hal.BindingUniformBuffer, hal.BindingStorageBuffer, hal.BindingReadOnlyStorageBuffer:
				slots[key] = bindSlot{kind: e.Type, index: nextBuffer}
				nextBuffer++
			case hal.BindingSampledTexture, hal.BindingStorageTexture:
				slots[key] = bindSlot{kind: e.Type, index: nextTexture}
				nextTexture++
			case hal.BindingSampler:
				slots[key] = bindSlot{kind: e.Type, index: nextSampler}
				nextSampler++
			}
		}
	}
	return slots, nextBuffer
}

type renderPipeline struct {
	hal.Marker
	pso C.uintptr_t
	dss C.uintptr_t

	prim    C.int
	cull    C.int
	frontCW C.int

	// vertexBase is the first argument-table buffer index free for
	// vertex buffers, after push constants and buffer bindings of the
	// vertex stage.
	vertexBase uint32

	vertSlots map[[2]uint32]bindSlot
	fragSlots map[[2]uint32]bindSlot

	hasPushConstants bool
}

type computePipeline struct {
	hal.Marker
	pso C.uintptr_t

	slots            map[[2]uint32]bindSlot
	hasPushConstants bool
}

func (d *device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	vertSlots, vertexBase := slotTable(&desc.Layout, gputypes.ShaderStageVertex)
	fragSlots, _ := slotTable(&desc.Layout, gputypes.ShaderStageFragment)

	vfn, err := stageFunction(desc.Vertex)
	if err != nil {
		return nil, err
	}
	defer C.mevRelease(vfn)

	var ffn C.uintptr_t
	if desc.Fragment != nil {
		ffn, err = stageFunction(*desc.Fragment)
		if err != nil {
			return nil, err
		}
		defer C.mevRelease(ffn)
	}

	var layouts []C.mevVertexLayout
	var attrs []C.mevVertexAttr
	for bi, vb := range desc.VertexInput {
		step := C.uint8_t(0)
		if vb.StepMode == gputypes.VertexStepModeInstance {
			step = 1
		}
		layouts = append(layouts, C.mevVertexLayout{
			stride:       C.uint32_t(vb.Stride),
			stepInstance: step,
		})
		for _, a := range vb.Attributes {
			attrs = append(attrs, C.mevVertexAttr{
				bufferIndex: C.uint32_t(bi),
				offset:      C.uint32_t(a.Offset),
				location:    C.uint32_t(a.Location),
				format:      vertexFormat(a.Format),
			})
		}
	}

	var colors []C.mevColorTarget
	for _, ct := range desc.ColorTargets {
		c := C.mevColorTarget{format: pixelFormat(ct.Format)}
		if b := ct.Blend; b != nil {
			c.blendEnable = 1
			c.srcColor = blendFactorCode(b.ColorSrc)
			c.dstColor = blendFactorCode(b.ColorDst)
			c.colorOp = blendOpCode(b.ColorOp)
			c.srcAlpha = blendFactorCode(b.AlphaSrc)
			c.dstAlpha = blendFactorCode(b.AlphaDst)
			c.alphaOp = blendOpCode(b.AlphaOp)
		}
		colors = append(colors, c)
	}

	depth := C.uint16_t(C.MEV_PIXEL_INVALID)
	if desc.DepthStencil != nil {
		depth = pixelFormat(desc.DepthStencil.Format)
	}

	var layoutsPtr *C.mevVertexLayout
	if len(layouts) > 0 {
		layoutsPtr = &layouts[0]
	}
	var attrsPtr *C.mevVertexAttr
	if len(attrs) > 0 {
		attrsPtr = &attrs[0]
	}
	var colorsPtr *C.mevColorTarget
	if len(colors) > 0 {
		colorsPtr = &colors[0]
	}

	var msg [errCap]C.char
	pso := C.mevRenderPipelineCreate(d.mtl, vfn, ffn,
		layoutsPtr, C.int(len(layouts)), C.uint32_t(vertexBase),
		attrsPtr, C.int(len(attrs)),
		colorsPtr, C.int(len(colors)),
		depth, C.uint32_t(desc.SampleCount),
		&msg[0], errCap)
	if pso == 0 {
		return nil, fmt.Errorf("metal: render pipeline %q: %s", desc.Label, C.GoString(&msg[0]))
	}

	p := &renderPipeline{
		pso:              pso,
		prim:             primCode(desc.Topology),
		cull:             cullCode(desc.CullMode),
		vertexBase:       vertexBase,
		vertSlots:        vertSlots,
		fragSlots:        fragSlots,
		hasPushConstants: len(desc.Layout.PushConstants) > 0,
	}
	if desc.FrontFace == gputypes.FrontFaceCW {
		p.frontCW = 1
	}
	if ds := desc.DepthStencil; ds != nil {
		write := C.int(0)
		if ds.DepthWrite {
			write = 1
		}
		p.dss = C.mevDepthStencilCreate(d.mtl, compareCode(ds.Compare), write)
	}
	return p, nil
}

func (d *device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	slots, _ := slotTable(&desc.Layout, gputypes.ShaderStageCompute)

	fn, err := stageFunction(desc.Compute)
	if err != nil {
		return nil, err
	}
	defer C.mevRelease(fn)

	var msg [errCap]C.char
	pso := C.mevComputePipelineCreate(d.mtl, fn, &msg[0], errCap)
	if pso == 0 {
		return nil, fmt.Errorf("metal: compute pipeline %q: %s", desc.Label, C.GoString(&msg[0]))
	}
	return &computePipeline{
		pso:              pso,
		slots:            slots,
		hasPushConstants: len(desc.Layout.PushConstants) > 0,
	}, nil
}

func stageFunction(stage hal.StageDescriptor) (C.uintptr_t, error) {
	name := C.CString(stage.Entry)
	defer C.free(unsafe.Pointer(name))
	fn := C.mevFunctionCreate(stage.Module.(*shaderModule).lib, name)
	if fn == 0 {
		return 0, fmt.Errorf("metal: entry point %q not in library", stage.Entry)
	}
	return fn, nil
}

func (d *device) DestroyPipeline(p hal.Pipeline) {
	switch h := p.(type) {
	case *renderPipeline:
		C.mevRelease(h.pso)
		if h.dss != 0 {
			C.mevRelease(h.dss)
		}
	case *computePipeline:
		C.mevRelease(h.pso)
	}
}

// semaphore is an MTLEvent with a monotonically increasing value. Each
// signal bumps the counter; the paired wait blocks for the bumped
// value.
type semaphore struct {
	hal.Marker
	event C.uintptr_t
	value atomic.Uint64
}

func (d *device) CreateSemaphore() (hal.Semaphore, error) {
	h := C.mevEventCreate(d.mtl)
	if h == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &semaphore{event: h}, nil
}

func (d *device) DestroySemaphore(s hal.Semaphore) {
	C.mevRelease(s.(*semaphore).event)
}

func (d *device) CreateCommandEncoder(label string) (hal.CommandEncoder, error) {
	cb := C.mevCommandBufferCreate(d.queues[0].mtl)
	if cb == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &commandEncoder{dev: d, cb: cb, label: label}, nil
}

func (d *device) Close() {
	for _, q := range d.queues {
		q.drain()
		C.mevRelease(q.mtl)
	}
	// The MTLDevice handle belongs to the backend and stays alive for
	// later Open calls.
}
