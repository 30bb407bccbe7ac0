//go:build cgo

package vulkan

import (
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/hal"
)

type commandEncoder struct {
	dev   *device
	cb    core1_0.CommandBuffer
	label string

	// Pipeline layout of the most recently bound pipeline, needed for
	// descriptor set and push constant binds.
	curLayout core1_0.PipelineLayout
}

type commandBufferHandle struct {
	hal.Marker
	cb core1_0.CommandBuffer
}

func (e *commandEncoder) CopyBufferToBuffer(src, dst hal.Buffer, copies []hal.BufferCopy) error {
	regions := make([]core1_0.BufferCopy, len(copies))
	for i, c := range copies {
		regions[i] = core1_0.BufferCopy{
			SrcOffset: int(c.SrcOffset),
			DstOffset: int(c.DstOffset),
			Size:      int(c.Size),
		}
	}
	e.cb.CmdCopyBuffer(src.(*bufferHandle).vk, dst.(*bufferHandle).vk, regions)
	return nil
}

func bufferImageRegion(r *hal.BufferImageCopy, t *textureHandle) core1_0.BufferImageCopy {
	texel := formatTexelSize(t.desc.Format)
	rowLength := 0
	if texel > 0 {
		rowLength = int(r.Layout.BytesPerRow / texel)
	}
	return core1_0.BufferImageCopy{
		BufferOffset:      int(r.Offset),
		BufferRowLength:   rowLength,
		BufferImageHeight: int(r.Layout.RowsPerImage),
		ImageSubresource: core1_0.ImageSubresourceLayers{
			AspectMask:     imageAspect(t.desc.Format),
			MipLevel:       int(r.Level),
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: core1_0.Offset3D{X: int(r.Origin.X), Y: int(r.Origin.Y), Z: int(r.Origin.Z)},
		ImageExtent: core1_0.Extent3D{
			Width:  int(r.Extent.Width),
			Height: int(r.Extent.Height),
			Depth:  int(max(r.Extent.DepthOrArrayLayers, 1)),
		},
	}
}

func (e *commandEncoder) CopyBufferToTexture(src *hal.BufferImageCopy, dst hal.Texture) error {
	t := dst.(*textureHandle)
	e.cb.CmdCopyBufferToImage(
		src.Buffer.(*bufferHandle).vk,
		t.vk,
		core1_0.ImageLayoutTransferDstOptimal,
		[]core1_0.BufferImageCopy{bufferImageRegion(src, t)},
	)
	return nil
}

func (e *commandEncoder) CopyTextureToBuffer(src hal.Texture, dst *hal.BufferImageCopy) error {
	t := src.(*textureHandle)
	e.cb.CmdCopyImageToBuffer(
		t.vk,
		core1_0.ImageLayoutTransferSrcOptimal,
		dst.Buffer.(*bufferHandle).vk,
		[]core1_0.BufferImageCopy{bufferImageRegion(dst, t)},
	)
	return nil
}

func (e *commandEncoder) Barrier(after, before hal.PipelineStages) error {
	e.cb.CmdPipelineBarrier(
		pipelineStages(after),
		pipelineStages(before),
		0,
		[]core1_0.MemoryBarrier{{
			SrcAccessMask: core1_0.AccessMemoryWrite,
			DstAccessMask: core1_0.AccessMemoryRead | core1_0.AccessMemoryWrite,
		}},
		nil, nil,
	)
	return nil
}

func (e *commandEncoder) TextureTransition(t hal.Texture, from, to gputypes.TextureUsage) error {
	h := t.(*textureHandle)
	e.cb.CmdPipelineBarrier(
		core1_0.PipelineStageAllCommands,
		core1_0.PipelineStageAllCommands,
		0,
		nil, nil,
		[]core1_0.ImageMemoryBarrier{{
			SrcAccessMask:       core1_0.AccessMemoryWrite,
			DstAccessMask:       core1_0.AccessMemoryRead | core1_0.AccessMemoryWrite,
			OldLayout:           usageLayout(from, h.desc.Format),
			NewLayout:           usageLayout(to, h.desc.Format),
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               h.vk,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask: imageAspect(h.desc.Format),
				LevelCount: int(max(h.desc.MipLevels, 1)),
				LayerCount: int(max(h.desc.Layers, 1)),
			},
		}},
	)
	return nil
}

func (e *commandEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) (hal.RenderPassEncoder, error) {
	var colors []core1_0.AttachmentDescription
	var views []core1_0.ImageView
	var clears []core1_0.ClearValue
	width, height := 0, 0

	for _, att := range desc.Colors {
		t := att.Texture.(*textureHandle)
		initial := core1_0.ImageLayoutColorAttachmentOptimal
		if att.LoadOp == gputypes.LoadOpClear {
			initial = core1_0.ImageLayoutUndefined
		}
		colors = append(colors, core1_0.AttachmentDescription{
			Format:         vkFormat(t.desc.Format),
			Samples:        sampleCount(t.desc.Samples),
			LoadOp:         loadOp(att.LoadOp),
			StoreOp:        storeOp(att.StoreOp),
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  initial,
			FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
		})
		views = append(views, t.view)
		clears = append(clears, core1_0.ClearValueFloat{
			float32(att.ClearValue.R),
			float32(att.ClearValue.G),
			float32(att.ClearValue.B),
			float32(att.ClearValue.A),
		})
		width = int(t.desc.Size.Width)
		height = int(t.desc.Size.Height)
	}

	var depth *core1_0.AttachmentDescription
	if ds := desc.DepthStencil; ds != nil {
		t := ds.Texture.(*textureHandle)
		initial := core1_0.ImageLayoutDepthStencilAttachmentOptimal
		if ds.LoadOp == gputypes.LoadOpClear {
			initial = core1_0.ImageLayoutUndefined
		}
		depth = &core1_0.AttachmentDescription{
			Format:         vkFormat(t.desc.Format),
			Samples:        sampleCount(t.desc.Samples),
			LoadOp:         loadOp(ds.LoadOp),
			StoreOp:        storeOp(ds.StoreOp),
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  initial,
			FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
		views = append(views, t.view)
		clears = append(clears, core1_0.ClearValueDepthStencil{Depth: ds.ClearDepth})
		width = int(t.desc.Size.Width)
		height = int(t.desc.Size.Height)
	}

	rp, err := e.dev.compatibleRenderPass(colors, depth)
	if err != nil {
		return nil, err
	}
	fb, err := e.dev.framebuffer(rp, views, width, height)
	if err != nil {
		return nil, err
	}

	e.cb.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: core1_0.Rect2D{
			Extent: core1_0.Extent2D{Width: width, Height: height},
		},
		ClearValues: clears,
	})
	return &renderPassEncoder{enc: e}, nil
}

func (e *commandEncoder) BeginComputePass(label string) (hal.ComputePassEncoder, error) {
	return &computePassEncoder{enc: e}, nil
}

func (e *commandEncoder) End() (hal.CommandBuffer, error) {
	if res, err := e.cb.End(); err != nil {
		return nil, mapResultError(res, err)
	}
	return &commandBufferHandle{cb: e.cb}, nil
}

type renderPassEncoder struct {
	enc *commandEncoder
}

func (r *renderPassEncoder) SetPipeline(p hal.RenderPipeline) {
	h := p.(*renderPipelineHandle)
	r.enc.curLayout = h.layout
	r.enc.cb.CmdBindPipeline(core1_0.PipelineBindPointGraphics, h.vk)
}

func (r *renderPassEncoder) SetViewport(x, y, w, h, minDepth, maxDepth float32) {
	r.enc.cb.CmdSetViewport([]core1_0.Viewport{{
		X: x, Y: y, Width: w, Height: h,
		MinDepth: minDepth, MaxDepth: maxDepth,
	}})
}

func (r *renderPassEncoder) SetScissor(x, y, w, h uint32) {
	r.enc.cb.CmdSetScissor([]core1_0.Rect2D{{
		Offset: core1_0.Offset2D{X: int(x), Y: int(y)},
		Extent: core1_0.Extent2D{Width: int(w), Height: int(h)},
	}})
}

func (r *renderPassEncoder) SetVertexBuffer(slot uint32, b hal.Buffer, offset uint64) {
	r.enc.cb.CmdBindVertexBuffers(
		int(slot),
		[]core1_0.Buffer{b.(*bufferHandle).vk},
		[]int{int(offset)},
	)
}

func (r *renderPassEncoder) SetIndexBuffer(b hal.Buffer, format gputypes.IndexFormat, offset uint64) {
	idxType := core1_0.IndexTypeUInt32
	if format == gputypes.IndexFormatUint16 {
		idxType = core1_0.IndexTypeUInt16
	}
	r.enc.cb.CmdBindIndexBuffer(b.(*bufferHandle).vk, int(offset), idxType)
}

func (r *renderPassEncoder) SetBindGroup(index uint32, group hal.BindGroup) {
	r.enc.cb.CmdBindDescriptorSets(
		core1_0.PipelineBindPointGraphics,
		r.enc.curLayout,
		int(index),
		[]core1_0.DescriptorSet{group.(*bindGroupHandle).set},
		nil,
	)
}

func (r *renderPassEncoder) SetPushConstants(stages gputypes.ShaderStage, offset uint32, data []byte) {
	r.enc.cb.CmdPushConstants(r.enc.curLayout, shaderStages(stages), int(offset), data)
}

func (r *renderPassEncoder) Draw(vertices, instances, firstVertex, firstInstance uint32) {
	r.enc.cb.CmdDraw(int(vertices), int(instances), firstVertex, firstInstance)
}

func (r *renderPassEncoder) DrawIndexed(indices, instances, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	r.enc.cb.CmdDrawIndexed(int(indices), int(instances), firstIndex, int(baseVertex), firstInstance)
}

func (r *renderPassEncoder) End() error {
	r.enc.cb.CmdEndRenderPass()
	return nil
}

type computePassEncoder struct {
	enc *commandEncoder
}

func (c *computePassEncoder) SetPipeline(p hal.ComputePipeline) {
	h := p.(*computePipelineHandle)
	c.enc.curLayout = h.layout
	c.enc.cb.CmdBindPipeline(core1_0.PipelineBindPointCompute, h.vk)
}

func (c *computePassEncoder) SetBindGroup(index uint32, group hal.BindGroup) {
	c.enc.cb.CmdBindDescriptorSets(
		core1_0.PipelineBindPointCompute,
		c.enc.curLayout,
		int(index),
		[]core1_0.DescriptorSet{group.(*bindGroupHandle).set},
		nil,
	)
}

func (c *computePassEncoder) SetPushConstants(offset uint32, data []byte) {
	c.enc.cb.CmdPushConstants(c.enc.curLayout, core1_0.StageCompute, int(offset), data)
}

func (c *computePassEncoder) Dispatch(x, y, z uint32) {
	c.enc.cb.CmdDispatch(int(x), int(y), int(z))
}

func (c *computePassEncoder) End() error { return nil }
