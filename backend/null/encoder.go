package null

import (
	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/hal"
)

// commandEncoder records closures and runs them at submit time. The
// generic layer has validated every region before it reaches us, so
// the closures slice bytes without further checks.
type commandEncoder struct {
	label string
	ops   []func()
}

func (e *commandEncoder) CopyBufferToBuffer(src, dst hal.Buffer, copies []hal.BufferCopy) error {
	s := src.(*buffer)
	d := dst.(*buffer)
	regions := append([]hal.BufferCopy(nil), copies...)
	e.ops = append(e.ops, func() {
		for _, c := range regions {
			copy(d.data[c.DstOffset:c.DstOffset+c.Size], s.data[c.SrcOffset:])
		}
	})
	return nil
}

func (e *commandEncoder) CopyBufferToTexture(src *hal.BufferImageCopy, dst hal.Texture) error {
	b := src.Buffer.(*buffer)
	t := dst.(*texture)
	r := *src
	e.ops = append(e.ops, func() {
		copyLinear(b, t, &r, true)
	})
	return nil
}

func (e *commandEncoder) CopyTextureToBuffer(src hal.Texture, dst *hal.BufferImageCopy) error {
	b := dst.Buffer.(*buffer)
	t := src.(*texture)
	r := *dst
	e.ops = append(e.ops, func() {
		copyLinear(b, t, &r, false)
	})
	return nil
}

// copyLinear moves rows between a strided buffer region and the
// tightly packed texture level.
func copyLinear(b *buffer, t *texture, r *hal.BufferImageCopy, upload bool) {
	lv := t.levels[r.Level]
	texel := uint64(t.texel)
	rowBytes := uint64(r.Extent.Width) * texel
	stride := uint64(r.Layout.BytesPerRow)
	rows := r.Layout.RowsPerImage
	if rows == 0 {
		rows = r.Extent.Height
	}
	depth := max(r.Extent.DepthOrArrayLayers, 1)

	for z := uint32(0); z < depth; z++ {
		sliceBase := r.Offset + uint64(z)*uint64(rows)*stride
		texSlice := lv.offset + uint64(r.Origin.Z+z)*lv.rowBytes*uint64(lv.height)
		for y := uint32(0); y < r.Extent.Height; y++ {
			bufOff := sliceBase + uint64(y)*stride
			texOff := texSlice + uint64(r.Origin.Y+y)*lv.rowBytes + uint64(r.Origin.X)*texel
			if upload {
				copy(t.data[texOff:texOff+rowBytes], b.data[bufOff:])
			} else {
				copy(b.data[bufOff:bufOff+rowBytes], t.data[texOff:])
			}
		}
	}
}

// Barrier records nothing: submission executes commands in order on
// the host, so every dependency is already satisfied.
func (e *commandEncoder) Barrier(after, before hal.PipelineStages) error { return nil }

func (e *commandEncoder) TextureTransition(t hal.Texture, from, to gputypes.TextureUsage) error {
	return nil
}

// BeginRenderPass honors clear load ops so render targets hold
// deterministic bytes; draws themselves are discarded.
func (e *commandEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) (hal.RenderPassEncoder, error) {
	for _, att := range desc.Colors {
		if att.LoadOp != gputypes.LoadOpClear {
			continue
		}
		t := att.Texture.(*texture)
		cv := att.ClearValue
		e.ops = append(e.ops, func() {
			t.clear(0, cv)
		})
	}
	if ds := desc.DepthStencil; ds != nil && ds.LoadOp == gputypes.LoadOpClear {
		t := ds.Texture.(*texture)
		e.ops = append(e.ops, func() {
			t.clear(0, gputypes.Color{})
		})
	}
	return &renderPassEncoder{}, nil
}

func (e *commandEncoder) BeginComputePass(label string) (hal.ComputePassEncoder, error) {
	return &computePassEncoder{}, nil
}

func (e *commandEncoder) End() (hal.CommandBuffer, error) {
	cb := &commandBuffer{ops: e.ops}
	e.ops = nil
	return cb, nil
}

type commandBuffer struct {
	hal.Marker
	ops []func()
}

type renderPassEncoder struct{}

func (renderPassEncoder) SetPipeline(hal.RenderPipeline)                          {}
func (renderPassEncoder) SetViewport(x, y, w, h, minDepth, maxDepth float32)      {}
func (renderPassEncoder) SetScissor(x, y, w, h uint32)                            {}
func (renderPassEncoder) SetVertexBuffer(slot uint32, b hal.Buffer, offset uint64) {}
func (renderPassEncoder) SetIndexBuffer(b hal.Buffer, format gputypes.IndexFormat, offset uint64) {
}
func (renderPassEncoder) SetBindGroup(index uint32, group hal.BindGroup) {}
func (renderPassEncoder) SetPushConstants(stages gputypes.ShaderStage, offset uint32, data []byte) {
}
func (renderPassEncoder) Draw(vertices, instances, firstVertex, firstInstance uint32) {}
func (renderPassEncoder) DrawIndexed(indices, instances, firstIndex uint32, baseVertex int32, firstInstance uint32) {
}
func (renderPassEncoder) End() error { return nil }

type computePassEncoder struct{}

func (computePassEncoder) SetPipeline(hal.ComputePipeline)                  {}
func (computePassEncoder) SetBindGroup(index uint32, group hal.BindGroup)   {}
func (computePassEncoder) SetPushConstants(offset uint32, data []byte)      {}
func (computePassEncoder) Dispatch(x, y, z uint32)                          {}
func (computePassEncoder) End() error                                       { return nil }
