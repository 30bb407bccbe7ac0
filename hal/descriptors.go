package hal

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Errors a backend may return. The generic layer maps them onto the
// public taxonomy; backends never construct public error types.
var (
	// ErrOutOfMemory is returned when a native allocation fails.
	ErrOutOfMemory = errors.New("hal: out of device memory")

	// ErrDeviceLost is returned when the native device becomes
	// unusable (driver reset, physical removal).
	ErrDeviceLost = errors.New("hal: device lost")

	// ErrUnsupported is returned for descriptor combinations the
	// backend cannot express natively.
	ErrUnsupported = errors.New("hal: unsupported on this backend")

	// ErrNotMappable is returned by Map on non-host-visible memory.
	ErrNotMappable = errors.New("hal: memory is not host-visible")
)

// BufferDescriptor describes a buffer resource.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// TextureDescriptor describes a texture resource.
type TextureDescriptor struct {
	Label     string
	Size      gputypes.Extent3D
	Format    gputypes.TextureFormat
	Dimension gputypes.TextureDimension
	MipLevels uint32
	Layers    uint32
	Samples   uint32
	Usage     gputypes.TextureUsage
}

// SamplerDescriptor describes an immutable sampler.
type SamplerDescriptor struct {
	Label          string
	MinFilter      gputypes.FilterMode
	MagFilter      gputypes.FilterMode
	MipFilter      gputypes.FilterMode
	AddressModeU   gputypes.AddressMode
	AddressModeV   gputypes.AddressMode
	AddressModeW   gputypes.AddressMode
	LodMin, LodMax float32
	MaxAnisotropy  uint16
}

// ShaderModuleDescriptor carries already translated shader code.
// Exactly one of SPIRV and MSL is set, per the backend's Target.
type ShaderModuleDescriptor struct {
	Label string

	// SPIRV is binary SPIR-V, one word per element.
	SPIRV []uint32

	// MSL is Metal Shading Language source text.
	MSL string
}

// BindingType classifies one entry of a binding-table layout.
type BindingType uint8

const (
	// BindingUniformBuffer is a read-only uniform buffer binding.
	BindingUniformBuffer BindingType = iota

	// BindingStorageBuffer is a read-write storage buffer binding.
	BindingStorageBuffer

	// BindingReadOnlyStorageBuffer is a read-only storage buffer
	// binding.
	BindingReadOnlyStorageBuffer

	// BindingSampledTexture is a sampled texture binding.
	BindingSampledTexture

	// BindingStorageTexture is a read-write storage texture binding.
	BindingStorageTexture

	// BindingSampler is a sampler binding.
	BindingSampler
)

// String returns the binding type name.
func (t BindingType) String() string {
	switch t {
	case BindingUniformBuffer:
		return "uniform-buffer"
	case BindingStorageBuffer:
		return "storage-buffer"
	case BindingReadOnlyStorageBuffer:
		return "read-only-storage-buffer"
	case BindingSampledTexture:
		return "sampled-texture"
	case BindingStorageTexture:
		return "storage-texture"
	case BindingSampler:
		return "sampler"
	default:
		return "invalid"
	}
}

// BindGroupLayoutEntry is one slot of a binding-table layout.
type BindGroupLayoutEntry struct {
	Binding    uint32
	Type       BindingType
	Visibility gputypes.ShaderStage
}

// BindGroupLayoutDescriptor describes a binding-table layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry binds one resource into a bind group. Exactly one of
// Buffer, Texture and Sampler is set, matching the layout entry type.
type BindGroupEntry struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Texture Texture
	Sampler Sampler
}

// BindGroupDescriptor describes a bound resource set.
type BindGroupDescriptor struct {
	Label   string
	Layout  BindGroupLayout
	Entries []BindGroupEntry
}

// PushConstantRange declares a push-constant window of a pipeline
// layout. Offsets and sizes are byte-exact across backends.
type PushConstantRange struct {
	Stages gputypes.ShaderStage
	Offset uint32
	Size   uint32
}

// LayoutDescriptor is the pipeline layout shared by render and compute
// pipeline descriptors.
type LayoutDescriptor struct {
	BindGroupLayouts []BindGroupLayout
	PushConstants    []PushConstantRange
}

// StageDescriptor references one shader stage of a pipeline.
type StageDescriptor struct {
	Module ShaderModule
	Entry  string
}

// VertexAttribute describes one vertex attribute fetch.
type VertexAttribute struct {
	Format   gputypes.VertexFormat
	Offset   uint32
	Location uint32
}

// VertexBufferLayout describes one vertex buffer slot.
type VertexBufferLayout struct {
	Stride     uint32
	StepMode   gputypes.VertexStepMode
	Attributes []VertexAttribute
}

// BlendState describes blending for one color target.
type BlendState struct {
	ColorOp   gputypes.BlendOperation
	ColorSrc  gputypes.BlendFactor
	ColorDst  gputypes.BlendFactor
	AlphaOp   gputypes.BlendOperation
	AlphaSrc  gputypes.BlendFactor
	AlphaDst  gputypes.BlendFactor
	WriteMask gputypes.ColorWriteMask
}

// ColorTarget describes one color attachment of a render pipeline.
type ColorTarget struct {
	Format gputypes.TextureFormat
	Blend  *BlendState
}

// DepthStencilState describes depth/stencil fixed function state.
type DepthStencilState struct {
	Format     gputypes.TextureFormat
	DepthWrite bool
	Compare    gputypes.CompareFunction
}

// RenderPipelineDescriptor describes a complete render pipeline.
type RenderPipelineDescriptor struct {
	Label        string
	Layout       LayoutDescriptor
	Vertex       StageDescriptor
	Fragment     *StageDescriptor
	VertexInput  []VertexBufferLayout
	Topology     gputypes.PrimitiveTopology
	CullMode     gputypes.CullMode
	FrontFace    gputypes.FrontFace
	ColorTargets []ColorTarget
	DepthStencil *DepthStencilState
	SampleCount  uint32
}

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	Label   string
	Layout  LayoutDescriptor
	Compute StageDescriptor
}

// ColorAttachment describes one color target of a render pass.
type ColorAttachment struct {
	Texture    Texture
	LoadOp     gputypes.LoadOp
	StoreOp    gputypes.StoreOp
	ClearValue gputypes.Color
}

// DepthStencilAttachment describes the depth/stencil target of a
// render pass.
type DepthStencilAttachment struct {
	Texture    Texture
	LoadOp     gputypes.LoadOp
	StoreOp    gputypes.StoreOp
	ClearDepth float32
}

// RenderPassDescriptor describes one render pass.
type RenderPassDescriptor struct {
	Label        string
	Colors       []ColorAttachment
	DepthStencil *DepthStencilAttachment
}
