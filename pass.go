package mev

import (
	"fmt"

	"github.com/zakarumych/mev/hal"
)

// ColorAttachmentDesc describes one color target of a render pass.
type ColorAttachmentDesc struct {
	Texture    *Texture
	LoadOp     LoadOp
	StoreOp    StoreOp
	ClearValue Color
}

// DepthStencilAttachmentDesc describes the depth/stencil target of a
// render pass.
type DepthStencilAttachmentDesc struct {
	Texture    *Texture
	LoadOp     LoadOp
	StoreOp    StoreOp
	ClearDepth float32
}

// RenderPassDesc describes one render pass.
type RenderPassDesc struct {
	Name         string
	Colors       []ColorAttachmentDesc
	DepthStencil *DepthStencilAttachmentDesc
}

// validate checks the attachments as a unit.
func (d *RenderPassDesc) validate() error {
	if len(d.Colors) == 0 && d.DepthStencil == nil {
		return &ValidationError{Field: "Colors", Reason: "pass has no attachments"}
	}
	var w, h uint32
	for i, c := range d.Colors {
		field := fmt.Sprintf("Colors[%d]", i)
		if c.Texture == nil {
			return &ValidationError{Field: field + ".Texture", Reason: "nil"}
		}
		if c.Texture.isDestroyed() {
			return &ValidationError{Field: field + ".Texture", Reason: "destroyed"}
		}
		if !isColorFormat(c.Texture.Format()) {
			return &ValidationError{Field: field + ".Texture", Reason: "not a color format"}
		}
		if c.Texture.Usage()&TextureUsageRenderAttachment == 0 {
			return &ValidationError{Field: field + ".Texture", Reason: "texture lacks RenderAttachment usage"}
		}
		size := c.Texture.Size()
		if w == 0 {
			w, h = size.Width, size.Height
		} else if size.Width != w || size.Height != h {
			return &ValidationError{
				Field:  field + ".Texture",
				Reason: fmt.Sprintf("extent %dx%d differs from pass extent %dx%d", size.Width, size.Height, w, h),
			}
		}
	}
	if ds := d.DepthStencil; ds != nil {
		if ds.Texture == nil {
			return &ValidationError{Field: "DepthStencil.Texture", Reason: "nil"}
		}
		if ds.Texture.isDestroyed() {
			return &ValidationError{Field: "DepthStencil.Texture", Reason: "destroyed"}
		}
		if !isDepthFormat(ds.Texture.Format()) {
			return &ValidationError{Field: "DepthStencil.Texture", Reason: "not a depth/stencil format"}
		}
		if ds.Texture.Usage()&TextureUsageRenderAttachment == 0 {
			return &ValidationError{Field: "DepthStencil.Texture", Reason: "texture lacks RenderAttachment usage"}
		}
		size := ds.Texture.Size()
		if w != 0 && (size.Width != w || size.Height != h) {
			return &ValidationError{
				Field:  "DepthStencil.Texture",
				Reason: fmt.Sprintf("extent %dx%d differs from pass extent %dx%d", size.Width, size.Height, w, h),
			}
		}
	}
	return nil
}

// BeginRenderPass opens a render pass over the given attachments. The
// encoder is locked until the pass ends.
func (e *CommandEncoder) BeginRenderPass(desc RenderPassDesc) (*RenderPass, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return nil, fmt.Errorf("begin render pass: %w", err)
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	halDesc := &hal.RenderPassDescriptor{Label: desc.Name}
	for _, c := range desc.Colors {
		halDesc.Colors = append(halDesc.Colors, hal.ColorAttachment{
			Texture:    c.Texture.handle,
			LoadOp:     c.LoadOp,
			StoreOp:    c.StoreOp,
			ClearValue: c.ClearValue,
		})
		e.refLocked(&c.Texture.state)
		if c.Texture.imported {
			e.notePresentableLocked(c.Texture)
		}
	}
	if ds := desc.DepthStencil; ds != nil {
		halDesc.DepthStencil = &hal.DepthStencilAttachment{
			Texture:    ds.Texture.handle,
			LoadOp:     ds.LoadOp,
			StoreOp:    ds.StoreOp,
			ClearDepth: ds.ClearDepth,
		}
		e.refLocked(&ds.Texture.state)
	}

	halPass, err := e.hal.BeginRenderPass(halDesc)
	if err != nil {
		return nil, e.dev.wrapHALError("begin render pass", err)
	}

	pass := &RenderPass{encoder: e, hal: halPass}
	e.activeRender = pass
	e.state = StateLocked
	return pass, nil
}

// BeginComputePass opens a compute pass. The encoder is locked until
// the pass ends.
func (e *CommandEncoder) BeginComputePass(name string) (*ComputePass, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return nil, fmt.Errorf("begin compute pass: %w", err)
	}
	halPass, err := e.hal.BeginComputePass(name)
	if err != nil {
		return nil, e.dev.wrapHALError("begin compute pass", err)
	}

	pass := &ComputePass{encoder: e, hal: halPass}
	e.activeCompute = pass
	e.state = StateLocked
	return pass, nil
}

// endPass unlocks the encoder after a pass ends.
func (e *CommandEncoder) endPass(render *RenderPass, compute *ComputePass) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if render != nil && e.activeRender != render {
		return fmt.Errorf("end pass: pass is not active: %w", ErrInvalidState)
	}
	if compute != nil && e.activeCompute != compute {
		return fmt.Errorf("end pass: pass is not active: %w", ErrInvalidState)
	}
	e.activeRender = nil
	e.activeCompute = nil
	e.state = StateRecording
	return nil
}

// boundGroups tracks SetBindGroup calls for draw/dispatch validation.
type boundGroups struct {
	groups [maxBindGroups]*BindGroup
}

// set records a bound group.
func (b *boundGroups) set(index uint32, g *BindGroup) error {
	if index >= maxBindGroups {
		return &ValidationError{
			Field:  "index",
			Reason: fmt.Sprintf("group index %d, limit is %d", index, maxBindGroups),
		}
	}
	b.groups[index] = g
	return nil
}

// check verifies the bound groups satisfy a pipeline's layout.
// Binding mismatches are encode-time errors, never silent no-ops.
func (b *boundGroups) check(layouts []*BindGroupLayout) error {
	for i, want := range layouts {
		got := b.groups[i]
		if got == nil {
			return &ValidationError{
				Field:  "bind groups",
				Reason: fmt.Sprintf("pipeline needs a group at index %d, none bound", i),
			}
		}
		if got.state.isDestroyed() {
			return &ValidationError{
				Field:  "bind groups",
				Reason: fmt.Sprintf("group at index %d destroyed", i),
			}
		}
		if got.layout != want && !layoutCompatible(got.layout, want) {
			return &ValidationError{
				Field:  "bind groups",
				Reason: fmt.Sprintf("group at index %d does not match the pipeline layout", i),
			}
		}
	}
	return nil
}

// layoutCompatible reports structural equality of two group layouts.
func layoutCompatible(a, b *BindGroupLayout) bool {
	if len(a.entries) != len(b.entries) {
		return false
	}
	for i, ea := range a.entries {
		eb := b.entries[i]
		if ea.Binding != eb.Binding || ea.Type != eb.Type || ea.Visibility != eb.Visibility {
			return false
		}
	}
	return true
}

// checkPushConstantWrite validates a SetPushConstants call against a
// pipeline layout's declared ranges.
func checkPushConstantWrite(ranges []PushConstantRange, stages ShaderStages, offset uint32, data []byte) error {
	if len(data) == 0 || len(data)%4 != 0 || offset%4 != 0 {
		return &ValidationError{
			Field:  "data",
			Reason: "offset and length must be non-zero multiples of 4",
		}
	}
	end := offset + uint32(len(data))
	for _, r := range ranges {
		if r.Stages&stages != stages {
			continue
		}
		if r.Offset <= offset && end <= r.Offset+r.Size {
			return nil
		}
	}
	return &ValidationError{
		Field:  "offset",
		Reason: fmt.Sprintf("write [%d, %d) not covered by the pipeline's push-constant ranges", offset, end),
	}
}

// RenderPass records draw commands inside one render pass. It owns
// its parent encoder until End.
type RenderPass struct {
	encoder *CommandEncoder
	hal     hal.RenderPassEncoder

	pipeline *RenderPipeline
	bound    boundGroups
	ended    bool
}

// check fails once the pass has ended.
func (p *RenderPass) check() error {
	if p.ended {
		return fmt.Errorf("render pass ended: %w", ErrInvalidState)
	}
	return nil
}

// SetPipeline binds a render pipeline for subsequent draws.
func (p *RenderPass) SetPipeline(pipeline *RenderPipeline) error {
	if err := p.check(); err != nil {
		return err
	}
	if pipeline == nil {
		return &ValidationError{Field: "pipeline", Reason: "nil"}
	}
	if pipeline.state.isDestroyed() {
		return fmt.Errorf("set pipeline: %w", ErrDestroyed)
	}
	p.pipeline = pipeline
	p.encoder.ref(&pipeline.state)
	p.hal.SetPipeline(pipeline.handle)
	return nil
}

// SetViewport sets the viewport transform.
func (p *RenderPass) SetViewport(x, y, w, h, minDepth, maxDepth float32) error {
	if err := p.check(); err != nil {
		return err
	}
	if w <= 0 || h <= 0 {
		return &ValidationError{Field: "w", Reason: "empty viewport"}
	}
	if minDepth < 0 || maxDepth > 1 || minDepth > maxDepth {
		return &ValidationError{Field: "minDepth", Reason: "depth range outside [0, 1]"}
	}
	p.hal.SetViewport(x, y, w, h, minDepth, maxDepth)
	return nil
}

// SetScissor sets the scissor rectangle.
func (p *RenderPass) SetScissor(x, y, w, h uint32) error {
	if err := p.check(); err != nil {
		return err
	}
	p.hal.SetScissor(x, y, w, h)
	return nil
}

// SetVertexBuffer binds a vertex buffer to a slot.
func (p *RenderPass) SetVertexBuffer(slot uint32, b *Buffer, offset uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	if b == nil {
		return &ValidationError{Field: "b", Reason: "nil buffer"}
	}
	if b.isDestroyed() {
		return fmt.Errorf("set vertex buffer: %w", ErrDestroyed)
	}
	if b.Usage()&BufferUsageVertex == 0 {
		return &ValidationError{Field: "b", Reason: "buffer lacks Vertex usage"}
	}
	if offset >= b.Size() {
		return &ValidationError{Field: "offset", Reason: "offset past end of buffer"}
	}
	p.encoder.ref(&b.state)
	p.hal.SetVertexBuffer(slot, b.handle, offset)
	return nil
}

// SetIndexBuffer binds the index buffer.
func (p *RenderPass) SetIndexBuffer(b *Buffer, format IndexFormat, offset uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	if b == nil {
		return &ValidationError{Field: "b", Reason: "nil buffer"}
	}
	if b.isDestroyed() {
		return fmt.Errorf("set index buffer: %w", ErrDestroyed)
	}
	if b.Usage()&BufferUsageIndex == 0 {
		return &ValidationError{Field: "b", Reason: "buffer lacks Index usage"}
	}
	p.encoder.ref(&b.state)
	p.hal.SetIndexBuffer(b.handle, format, offset)
	return nil
}

// SetBindGroup binds a resource set at a group index.
func (p *RenderPass) SetBindGroup(index uint32, group *BindGroup) error {
	if err := p.check(); err != nil {
		return err
	}
	if group == nil {
		return &ValidationError{Field: "group", Reason: "nil"}
	}
	if group.state.isDestroyed() {
		return fmt.Errorf("set bind group: %w", ErrDestroyed)
	}
	if err := p.bound.set(index, group); err != nil {
		return err
	}
	p.encoder.ref(&group.state)
	p.encoder.ref(group.refs...)
	p.hal.SetBindGroup(index, group.handle)
	return nil
}

// SetPushConstants writes push-constant bytes for the given stages.
func (p *RenderPass) SetPushConstants(stages ShaderStages, offset uint32, data []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.pipeline == nil {
		return &ValidationError{Field: "pipeline", Reason: "no pipeline bound"}
	}
	if err := checkPushConstantWrite(p.pipeline.pushConstants, stages, offset, data); err != nil {
		return err
	}
	p.hal.SetPushConstants(stages, offset, data)
	return nil
}

// Draw records a non-indexed draw.
func (p *RenderPass) Draw(vertices, instances, firstVertex, firstInstance uint32) error {
	if err := p.drawCheck(); err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	if vertices == 0 || instances == 0 {
		return &ValidationError{Field: "vertices", Reason: "empty draw"}
	}
	p.hal.Draw(vertices, instances, firstVertex, firstInstance)
	return nil
}

// DrawIndexed records an indexed draw.
func (p *RenderPass) DrawIndexed(indices, instances, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if err := p.drawCheck(); err != nil {
		return fmt.Errorf("draw indexed: %w", err)
	}
	if indices == 0 || instances == 0 {
		return &ValidationError{Field: "indices", Reason: "empty draw"}
	}
	p.hal.DrawIndexed(indices, instances, firstIndex, baseVertex, firstInstance)
	return nil
}

// drawCheck validates the pass state common to all draws.
func (p *RenderPass) drawCheck() error {
	if err := p.check(); err != nil {
		return err
	}
	if p.pipeline == nil {
		return &ValidationError{Field: "pipeline", Reason: "no pipeline bound"}
	}
	return p.bound.check(p.pipeline.groups)
}

// End closes the pass and unlocks the encoder.
func (p *RenderPass) End() error {
	if p.ended {
		return fmt.Errorf("end render pass: %w", ErrInvalidState)
	}
	if err := p.hal.End(); err != nil {
		return p.encoder.dev.wrapHALError("end render pass", err)
	}
	p.ended = true
	return p.encoder.endPass(p, nil)
}

// ComputePass records dispatches inside one compute pass. It owns its
// parent encoder until End.
type ComputePass struct {
	encoder *CommandEncoder
	hal     hal.ComputePassEncoder

	pipeline *ComputePipeline
	bound    boundGroups
	ended    bool
}

func (p *ComputePass) check() error {
	if p.ended {
		return fmt.Errorf("compute pass ended: %w", ErrInvalidState)
	}
	return nil
}

// SetPipeline binds a compute pipeline for subsequent dispatches.
func (p *ComputePass) SetPipeline(pipeline *ComputePipeline) error {
	if err := p.check(); err != nil {
		return err
	}
	if pipeline == nil {
		return &ValidationError{Field: "pipeline", Reason: "nil"}
	}
	if pipeline.state.isDestroyed() {
		return fmt.Errorf("set pipeline: %w", ErrDestroyed)
	}
	p.pipeline = pipeline
	p.encoder.ref(&pipeline.state)
	p.hal.SetPipeline(pipeline.handle)
	return nil
}

// SetBindGroup binds a resource set at a group index.
func (p *ComputePass) SetBindGroup(index uint32, group *BindGroup) error {
	if err := p.check(); err != nil {
		return err
	}
	if group == nil {
		return &ValidationError{Field: "group", Reason: "nil"}
	}
	if group.state.isDestroyed() {
		return fmt.Errorf("set bind group: %w", ErrDestroyed)
	}
	if err := p.bound.set(index, group); err != nil {
		return err
	}
	p.encoder.ref(&group.state)
	p.encoder.ref(group.refs...)
	p.hal.SetBindGroup(index, group.handle)
	return nil
}

// SetPushConstants writes push-constant bytes for the compute stage.
func (p *ComputePass) SetPushConstants(offset uint32, data []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.pipeline == nil {
		return &ValidationError{Field: "pipeline", Reason: "no pipeline bound"}
	}
	if err := checkPushConstantWrite(p.pipeline.pushConstants, StageCompute, offset, data); err != nil {
		return err
	}
	p.hal.SetPushConstants(offset, data)
	return nil
}

// Dispatch records a compute dispatch of workgroups.
func (p *ComputePass) Dispatch(x, y, z uint32) error {
	if err := p.check(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if p.pipeline == nil {
		return &ValidationError{Field: "pipeline", Reason: "no pipeline bound"}
	}
	if x == 0 || y == 0 || z == 0 {
		return &ValidationError{Field: "x", Reason: "empty dispatch"}
	}
	if err := p.bound.check(p.pipeline.groups); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	p.hal.Dispatch(x, y, z)
	return nil
}

// End closes the pass and unlocks the encoder.
func (p *ComputePass) End() error {
	if p.ended {
		return fmt.Errorf("end compute pass: %w", ErrInvalidState)
	}
	if err := p.hal.End(); err != nil {
		return p.encoder.dev.wrapHALError("end compute pass", err)
	}
	p.ended = true
	return p.encoder.endPass(nil, p)
}
