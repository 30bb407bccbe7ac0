package mev

import (
	"errors"
	"fmt"

	"github.com/zakarumych/mev/hal"
)

// Fixed-function state shares its shapes with the hal layer; the
// structs are pure data and cross the boundary unchanged.
type (
	// VertexAttribute describes one vertex attribute fetch.
	VertexAttribute = hal.VertexAttribute

	// VertexBufferLayout describes one vertex buffer slot.
	VertexBufferLayout = hal.VertexBufferLayout

	// BlendState describes blending for one color target.
	BlendState = hal.BlendState

	// ColorTarget describes one color attachment of a render pipeline.
	ColorTarget = hal.ColorTarget

	// DepthStencilState describes depth/stencil fixed function state.
	DepthStencilState = hal.DepthStencilState
)

// RenderPipelineDesc describes a complete render pipeline. The
// descriptor is validated as a unit before any native object is
// created; a failure reports the first offending field and leaves no
// partially constructed pipeline behind.
type RenderPipelineDesc struct {
	Name string

	Layout PipelineLayoutDesc

	Vertex   Shader
	Fragment *Shader

	VertexInput []VertexBufferLayout

	Topology  PrimitiveTopology
	CullMode  CullMode
	FrontFace FrontFace

	ColorTargets []ColorTarget
	DepthStencil *DepthStencilState

	// SampleCount is the MSAA sample count. Zero means 1.
	SampleCount uint32
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Name    string
	Layout  PipelineLayoutDesc
	Compute Shader
}

// validate checks the whole descriptor before any native call.
func (d *RenderPipelineDesc) validate() error {
	if err := d.Layout.validate(); err != nil {
		return pipelineErr("Layout", err)
	}
	if d.Vertex.Module == nil {
		return &PipelineError{Field: "Vertex.Module", Reason: "nil"}
	}
	if d.Fragment != nil && d.Fragment.Module == nil {
		return &PipelineError{Field: "Fragment.Module", Reason: "nil"}
	}

	if err := validateVertexInput(d.VertexInput); err != nil {
		return err
	}

	if len(d.ColorTargets) == 0 && d.DepthStencil == nil {
		return &PipelineError{Field: "ColorTargets", Reason: "pipeline writes no attachments"}
	}
	for i, ct := range d.ColorTargets {
		if !isColorFormat(ct.Format) {
			return &PipelineError{
				Field:  fmt.Sprintf("ColorTargets[%d].Format", i),
				Reason: fmt.Sprintf("%v is not a color format", ct.Format),
			}
		}
	}
	if ds := d.DepthStencil; ds != nil && !isDepthFormat(ds.Format) {
		return &PipelineError{
			Field:  "DepthStencil.Format",
			Reason: fmt.Sprintf("%v is not a depth/stencil format", ds.Format),
		}
	}

	switch d.SampleCount {
	case 0, 1, 2, 4, 8:
	default:
		return &PipelineError{
			Field:  "SampleCount",
			Reason: fmt.Sprintf("%d is not a supported sample count", d.SampleCount),
		}
	}
	return nil
}

// validateVertexInput checks attribute offsets and strides: every
// attribute must lie within its buffer's stride and no two attributes
// of one buffer may overlap.
func validateVertexInput(buffers []VertexBufferLayout) error {
	locations := make(map[uint32]string)
	for bi, vb := range buffers {
		if vb.Stride == 0 && len(vb.Attributes) > 0 {
			return &PipelineError{
				Field:  fmt.Sprintf("VertexInput[%d].Stride", bi),
				Reason: "zero stride with attributes",
			}
		}
		for ai, a := range vb.Attributes {
			field := fmt.Sprintf("VertexInput[%d].Attributes[%d]", bi, ai)
			size := vertexFormatSize(a.Format)
			if size == 0 {
				return &PipelineError{Field: field + ".Format", Reason: "unknown vertex format"}
			}
			if a.Offset+size > vb.Stride {
				return &PipelineError{
					Field:  field + ".Offset",
					Reason: fmt.Sprintf("attribute [%d, %d) exceeds stride %d", a.Offset, a.Offset+size, vb.Stride),
				}
			}
			if prev, ok := locations[a.Location]; ok {
				return &PipelineError{
					Field:  field + ".Location",
					Reason: fmt.Sprintf("location %d already used by %s", a.Location, prev),
				}
			}
			locations[a.Location] = field

			for aj := 0; aj < ai; aj++ {
				b := vb.Attributes[aj]
				bsize := vertexFormatSize(b.Format)
				if a.Offset < b.Offset+bsize && b.Offset < a.Offset+size {
					return &PipelineError{
						Field: field + ".Offset",
						Reason: fmt.Sprintf("attribute [%d, %d) overlaps attribute %d at [%d, %d)",
							a.Offset, a.Offset+size, aj, b.Offset, b.Offset+bsize),
					}
				}
			}
		}
	}
	return nil
}

// validate checks the compute descriptor.
func (d *ComputePipelineDesc) validate() error {
	if err := d.Layout.validate(); err != nil {
		return pipelineErr("Layout", err)
	}
	if d.Compute.Module == nil {
		return &PipelineError{Field: "Compute.Module", Reason: "nil"}
	}
	return nil
}

// pipelineErr rewraps a nested validation failure under the named
// descriptor field.
func pipelineErr(field string, err error) error {
	if ve, ok := err.(*ValidationError); ok {
		return &PipelineError{Field: field + "." + ve.Field, Reason: ve.Reason}
	}
	return &PipelineError{Field: field, Reason: err.Error()}
}

// RenderPipeline is an immutable compiled render pipeline.
type RenderPipeline struct {
	dev    *Device
	handle hal.RenderPipeline
	name   string

	groups        []*BindGroupLayout
	pushConstants []PushConstantRange
	topology      PrimitiveTopology

	state resourceState
}

// Name returns the debug name.
func (p *RenderPipeline) Name() string { return p.name }

// Destroy releases the pipeline, deferred while any submitted command
// buffer still references it.
func (p *RenderPipeline) Destroy() {
	if !p.state.markDestroyed() {
		return
	}
	handle := p.handle
	dev := p.dev
	dev.retireResource(&p.state, func() {
		dev.halDevice.DestroyPipeline(handle)
	})
}

// ComputePipeline is an immutable compiled compute pipeline.
type ComputePipeline struct {
	dev    *Device
	handle hal.ComputePipeline
	name   string

	groups        []*BindGroupLayout
	pushConstants []PushConstantRange

	state resourceState
}

// Name returns the debug name.
func (p *ComputePipeline) Name() string { return p.name }

// Destroy releases the pipeline, deferred while in flight.
func (p *ComputePipeline) Destroy() {
	if !p.state.markDestroyed() {
		return
	}
	handle := p.handle
	dev := p.dev
	dev.retireResource(&p.state, func() {
		dev.halDevice.DestroyPipeline(handle)
	})
}

// CreateRenderPipeline validates the descriptor as a unit, translates
// the shader stages for the device's native target and compiles the
// native pipeline. Creation is backend-synchronous and may block
// briefly on driver compilation; it is meant for load phases, not
// per-frame use.
func (d *Device) CreateRenderPipeline(desc RenderPipelineDesc) (*RenderPipeline, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	vert, err := d.translate(desc.Vertex, &desc.Layout)
	if err != nil {
		return nil, stageError("Vertex", err)
	}
	var frag *NativeShader
	if desc.Fragment != nil {
		frag, err = d.translate(*desc.Fragment, &desc.Layout)
		if err != nil {
			return nil, stageError("Fragment", err)
		}
	}

	vertMod, err := d.nativeShaderModule(desc.Vertex.Module.name, vert)
	if err != nil {
		return nil, err
	}
	defer d.halDevice.DestroyShaderModule(vertMod)

	halDesc := &hal.RenderPipelineDescriptor{
		Label:        desc.Name,
		Layout:       d.halLayout(&desc.Layout),
		Vertex:       hal.StageDescriptor{Module: vertMod, Entry: vert.Entry},
		VertexInput:  desc.VertexInput,
		Topology:     desc.Topology,
		CullMode:     desc.CullMode,
		FrontFace:    desc.FrontFace,
		ColorTargets: desc.ColorTargets,
		DepthStencil: desc.DepthStencil,
		SampleCount:  max(desc.SampleCount, 1),
	}
	if frag != nil {
		fragMod, err := d.nativeShaderModule(desc.Fragment.Module.name, frag)
		if err != nil {
			return nil, err
		}
		defer d.halDevice.DestroyShaderModule(fragMod)
		halDesc.Fragment = &hal.StageDescriptor{Module: fragMod, Entry: frag.Entry}
	}

	handle, err := d.halDevice.CreateRenderPipeline(halDesc)
	if err != nil {
		return nil, d.wrapHALError("create render pipeline", err)
	}

	return &RenderPipeline{
		dev:           d,
		handle:        handle,
		name:          desc.Name,
		groups:        append([]*BindGroupLayout(nil), desc.Layout.Groups...),
		pushConstants: append([]PushConstantRange(nil), desc.Layout.PushConstants...),
		topology:      desc.Topology,
	}, nil
}

// CreateComputePipeline is the compute analogue of
// CreateRenderPipeline.
func (d *Device) CreateComputePipeline(desc ComputePipelineDesc) (*ComputePipeline, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	comp, err := d.translate(desc.Compute, &desc.Layout)
	if err != nil {
		return nil, stageError("Compute", err)
	}
	compMod, err := d.nativeShaderModule(desc.Compute.Module.name, comp)
	if err != nil {
		return nil, err
	}
	defer d.halDevice.DestroyShaderModule(compMod)

	handle, err := d.halDevice.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Name,
		Layout:  d.halLayout(&desc.Layout),
		Compute: hal.StageDescriptor{Module: compMod, Entry: comp.Entry},
	})
	if err != nil {
		return nil, d.wrapHALError("create compute pipeline", err)
	}

	return &ComputePipeline{
		dev:           d,
		handle:        handle,
		name:          desc.Name,
		groups:        append([]*BindGroupLayout(nil), desc.Layout.Groups...),
		pushConstants: append([]PushConstantRange(nil), desc.Layout.PushConstants...),
	}, nil
}

// stageError files a stage translation failure under the descriptor
// field for that stage. A module that does not resolve against the
// pipeline layout is a descriptor defect even though it is detected
// during translation.
func stageError(field string, err error) error {
	var te *TranslationError
	if !errors.As(err, &te) {
		return err
	}
	return &PipelineError{Field: field, Reason: te.Reason, Err: err}
}

// nativeShaderModule hands translated code to the backend. Modules
// are transient: pipelines own the compiled code after creation.
func (d *Device) nativeShaderModule(name string, ns *NativeShader) (hal.ShaderModule, error) {
	mod, err := d.halDevice.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: name,
		SPIRV: ns.SPIRV,
		MSL:   ns.MSL,
	})
	if err != nil {
		return nil, d.wrapHALError("create shader module", err)
	}
	return mod, nil
}

// halLayout lowers a pipeline layout to hal handles.
func (d *Device) halLayout(layout *PipelineLayoutDesc) hal.LayoutDescriptor {
	out := hal.LayoutDescriptor{}
	for _, g := range layout.Groups {
		out.BindGroupLayouts = append(out.BindGroupLayouts, g.handle)
	}
	for _, pc := range layout.PushConstants {
		out.PushConstants = append(out.PushConstants, hal.PushConstantRange{
			Stages: pc.Stages,
			Offset: pc.Offset,
			Size:   pc.Size,
		})
	}
	return out
}
