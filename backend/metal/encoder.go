//go:build darwin && cgo

package metal

/*
#include "bridge.h"
*/
import "C"

import (
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/hal"
)

// commandEncoder records into one MTLCommandBuffer. Blit commands open
// and close a blit encoder per call; passes hold a render or compute
// encoder open until the pass ends.
type commandEncoder struct {
	dev   *device
	cb    C.uintptr_t
	label string
}

func (e *commandEncoder) CopyBufferToBuffer(src, dst hal.Buffer, copies []hal.BufferCopy) error {
	s := src.(*buffer)
	d := dst.(*buffer)
	for _, c := range copies {
		C.mevBlitCopyBuffer(e.cb,
			s.mtl, C.uint64_t(s.base+c.SrcOffset),
			d.mtl, C.uint64_t(d.base+c.DstOffset),
			C.uint64_t(c.Size))
	}
	return nil
}

func (e *commandEncoder) CopyBufferToTexture(src *hal.BufferImageCopy, dst hal.Texture) error {
	b := src.Buffer.(*buffer)
	t := dst.(*texture)
	rows := src.Layout.RowsPerImage
	if rows == 0 {
		rows = max(src.Extent.Height, 1)
	}
	C.mevBlitBufferToTexture(e.cb,
		b.mtl, C.uint64_t(b.base+src.Offset),
		C.uint32_t(src.Layout.BytesPerRow), C.uint32_t(rows),
		t.mtl, C.uint32_t(src.Level),
		C.uint32_t(src.Origin.X), C.uint32_t(src.Origin.Y), C.uint32_t(src.Origin.Z),
		C.uint32_t(src.Extent.Width), C.uint32_t(max(src.Extent.Height, 1)),
		C.uint32_t(max(src.Extent.DepthOrArrayLayers, 1)))
	return nil
}

func (e *commandEncoder) CopyTextureToBuffer(src hal.Texture, dst *hal.BufferImageCopy) error {
	t := src.(*texture)
	b := dst.Buffer.(*buffer)
	rows := dst.Layout.RowsPerImage
	if rows == 0 {
		rows = max(dst.Extent.Height, 1)
	}
	C.mevBlitTextureToBuffer(e.cb,
		t.mtl, C.uint32_t(dst.Level),
		C.uint32_t(dst.Origin.X), C.uint32_t(dst.Origin.Y), C.uint32_t(dst.Origin.Z),
		C.uint32_t(dst.Extent.Width), C.uint32_t(max(dst.Extent.Height, 1)),
		C.uint32_t(max(dst.Extent.DepthOrArrayLayers, 1)),
		b.mtl, C.uint64_t(b.base+dst.Offset),
		C.uint32_t(dst.Layout.BytesPerRow), C.uint32_t(rows))
	return nil
}

// Barrier records nothing: the driver tracks hazards between encoders.
func (e *commandEncoder) Barrier(after, before hal.PipelineStages) error { return nil }

// TextureTransition records nothing: there are no image layouts here.
func (e *commandEncoder) TextureTransition(t hal.Texture, from, to gputypes.TextureUsage) error {
	return nil
}

func (e *commandEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) (hal.RenderPassEncoder, error) {
	var colors []C.mevPassAttachment
	for _, c := range desc.Colors {
		a := C.mevPassAttachment{texture: c.Texture.(*texture).mtl}
		if c.LoadOp == gputypes.LoadOpClear {
			a.loadClear = 1
			a.r = C.double(c.ClearValue.R)
			a.g = C.double(c.ClearValue.G)
			a.b = C.double(c.ClearValue.B)
			a.a = C.double(c.ClearValue.A)
		}
		if c.StoreOp == gputypes.StoreOpDiscard {
			a.storeDiscard = 1
		}
		colors = append(colors, a)
	}
	var depth *C.mevPassAttachment
	if ds := desc.DepthStencil; ds != nil {
		depth = &C.mevPassAttachment{texture: ds.Texture.(*texture).mtl}
		if ds.LoadOp == gputypes.LoadOpClear {
			depth.loadClear = 1
			depth.r = C.double(ds.ClearDepth)
		}
		if ds.StoreOp == gputypes.StoreOpDiscard {
			depth.storeDiscard = 1
		}
	}

	var colorsPtr *C.mevPassAttachment
	if len(colors) > 0 {
		colorsPtr = &colors[0]
	}
	enc := C.mevRenderPassBegin(e.cb, colorsPtr, C.int(len(colors)), depth)
	if enc == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &renderPassEncoder{enc: enc}, nil
}

func (e *commandEncoder) BeginComputePass(label string) (hal.ComputePassEncoder, error) {
	enc := C.mevComputePassBegin(e.cb)
	if enc == 0 {
		return nil, hal.ErrOutOfMemory
	}
	return &computePassEncoder{enc: enc}, nil
}

type commandBuffer struct {
	hal.Marker
	cb C.uintptr_t
}

func (e *commandEncoder) End() (hal.CommandBuffer, error) {
	return &commandBuffer{cb: e.cb}, nil
}

// renderPassEncoder translates the bind-group model onto per-stage
// argument tables, consulting the bound pipeline's slot maps.
type renderPassEncoder struct {
	enc      C.uintptr_t
	pipeline *renderPipeline

	indexBuf    *buffer
	indexOffset uint64
	indexUint16 bool
}

func (r *renderPassEncoder) SetPipeline(p hal.RenderPipeline) {
	r.pipeline = p.(*renderPipeline)
	C.mevRenderSetPipeline(r.enc, r.pipeline.pso)
	if r.pipeline.dss != 0 {
		C.mevRenderSetDepthStencil(r.enc, r.pipeline.dss)
	}
	C.mevRenderSetCull(r.enc, r.pipeline.cull, r.pipeline.frontCW)
}

func (r *renderPassEncoder) SetViewport(x, y, w, h, minDepth, maxDepth float32) {
	C.mevRenderSetViewport(r.enc,
		C.double(x), C.double(y), C.double(w), C.double(h),
		C.double(minDepth), C.double(maxDepth))
}

func (r *renderPassEncoder) SetScissor(x, y, w, h uint32) {
	C.mevRenderSetScissor(r.enc, C.uint32_t(x), C.uint32_t(y), C.uint32_t(w), C.uint32_t(h))
}

func (r *renderPassEncoder) SetVertexBuffer(slot uint32, b hal.Buffer, offset uint64) {
	h := b.(*buffer)
	C.mevRenderSetVertexBuffer(r.enc, h.mtl, C.uint64_t(h.base+offset),
		C.uint32_t(r.pipeline.vertexBase+slot))
}

func (r *renderPassEncoder) SetIndexBuffer(b hal.Buffer, format gputypes.IndexFormat, offset uint64) {
	r.indexBuf = b.(*buffer)
	r.indexOffset = offset
	r.indexUint16 = format == gputypes.IndexFormatUint16
}

func (r *renderPassEncoder) SetBindGroup(index uint32, group hal.BindGroup) {
	g := group.(*bindGroup)
	for _, e := range g.entries {
		key := [2]uint32{index, e.Binding}
		if s, ok := r.pipeline.vertSlots[key]; ok {
			bindRenderStage(r.enc, e, s, true)
		}
		if s, ok := r.pipeline.fragSlots[key]; ok {
			bindRenderStage(r.enc, e, s, false)
		}
	}
}

func bindRenderStage(enc C.uintptr_t, e hal.BindGroupEntry, s bindSlot, vertex bool) {
	switch s.kind {
	case hal.BindingUniformBuffer, hal.BindingStorageBuffer, hal.BindingReadOnlyStorageBuffer:
		b := e.Buffer.(*buffer)
		if vertex {
			C.mevRenderSetVertexBuffer(enc, b.mtl, C.uint64_t(b.base+e.Offset), C.uint32_t(s.index))
		} else {
			C.mevRenderSetFragmentBuffer(enc, b.mtl, C.uint64_t(b.base+e.Offset), C.uint32_t(s.index))
		}
	case hal.BindingSampledTexture, hal.BindingStorageTexture:
		t := e.Texture.(*texture)
		if vertex {
			C.mevRenderSetVertexTexture(enc, t.mtl, C.uint32_t(s.index))
		} else {
			C.mevRenderSetFragmentTexture(enc, t.mtl, C.uint32_t(s.index))
		}
	case hal.BindingSampler:
		sm := e.Sampler.(*sampler)
		if vertex {
			C.mevRenderSetVertexSampler(enc, sm.mtl, C.uint32_t(s.index))
		} else {
			C.mevRenderSetFragmentSampler(enc, sm.mtl, C.uint32_t(s.index))
		}
	}
}

func (r *renderPassEncoder) SetPushConstants(stages gputypes.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	// Push constants live in buffer slot 0 as inline bytes. Offsets
	// are resolved by re-sending the window from its start; the
	// generic layer only sends whole ranges.
	p := unsafe.Pointer(&data[0])
	if stages&gputypes.ShaderStageVertex != 0 {
		C.mevRenderSetVertexBytes(r.enc, p, C.size_t(len(data)), 0)
	}
	if stages&gputypes.ShaderStageFragment != 0 {
		C.mevRenderSetFragmentBytes(r.enc, p, C.size_t(len(data)), 0)
	}
}

func (r *renderPassEncoder) Draw(vertices, instances, firstVertex, firstInstance uint32) {
	C.mevRenderDraw(r.enc, r.pipeline.prim,
		C.uint32_t(firstVertex), C.uint32_t(vertices),
		C.uint32_t(instances), C.uint32_t(firstInstance))
}

func (r *renderPassEncoder) DrawIndexed(indices, instances, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	indexSize := uint64(4)
	u16 := C.int(0)
	if r.indexUint16 {
		indexSize = 2
		u16 = 1
	}
	off := r.indexBuf.base + r.indexOffset + uint64(firstIndex)*indexSize
	C.mevRenderDrawIndexed(r.enc, r.pipeline.prim,
		C.uint32_t(indices), u16,
		r.indexBuf.mtl, C.uint64_t(off),
		C.uint32_t(instances), C.int32_t(baseVertex), C.uint32_t(firstInstance))
}

func (r *renderPassEncoder) End() error {
	C.mevRenderEnd(r.enc)
	C.mevRelease(r.enc)
	r.enc = 0
	return nil
}

type computePassEncoder struct {
	enc      C.uintptr_t
	pipeline *computePipeline
}

func (c *computePassEncoder) SetPipeline(p hal.ComputePipeline) {
	c.pipeline = p.(*computePipeline)
	C.mevComputeSetPipeline(c.enc, c.pipeline.pso)
}

func (c *computePassEncoder) SetBindGroup(index uint32, group hal.BindGroup) {
	g := group.(*bindGroup)
	for _, e := range g.entries {
		s, ok := c.pipeline.slots[[2]uint32{index, e.Binding}]
		if !ok {
			continue
		}
		switch s.kind {
		case hal.BindingUniformBuffer, hal.BindingStorageBuffer, hal.BindingReadOnlyStorageBuffer:
			b := e.Buffer.(*buffer)
			C.mevComputeSetBuffer(c.enc, b.mtl, C.uint64_t(b.base+e.Offset), C.uint32_t(s.index))
		case hal.BindingSampledTexture, hal.BindingStorageTexture:
			C.mevComputeSetTexture(c.enc, e.Texture.(*texture).mtl, C.uint32_t(s.index))
		case hal.BindingSampler:
			C.mevComputeSetSampler(c.enc, e.Sampler.(*sampler).mtl, C.uint32_t(s.index))
		}
	}
}

func (c *computePassEncoder) SetPushConstants(offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	C.mevComputeSetBytes(c.enc, unsafe.Pointer(&data[0]), C.size_t(len(data)), 0)
}

func (c *computePassEncoder) Dispatch(x, y, z uint32) {
	C.mevComputeDispatch(c.enc, c.pipeline.pso, C.uint32_t(x), C.uint32_t(y), C.uint32_t(z))
}

func (c *computePassEncoder) End() error {
	C.mevComputeEnd(c.enc)
	C.mevRelease(c.enc)
	c.enc = 0
	return nil
}
