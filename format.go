package mev

import "github.com/gogpu/gputypes"

// mev shares its vocabulary types with the gputypes package so values
// flow between the public API and backends without conversion.
type (
	// PixelFormat is a texture pixel format.
	PixelFormat = gputypes.TextureFormat

	// VertexFormat is a vertex attribute format.
	VertexFormat = gputypes.VertexFormat

	// BufferUsage is a bitset of allowed buffer uses.
	BufferUsage = gputypes.BufferUsage

	// TextureUsage is a bitset of allowed texture uses.
	TextureUsage = gputypes.TextureUsage

	// ShaderStages is a bitset of shader stages.
	ShaderStages = gputypes.ShaderStage

	// LoadOp selects attachment behavior at pass start.
	LoadOp = gputypes.LoadOp

	// StoreOp selects attachment behavior at pass end.
	StoreOp = gputypes.StoreOp

	// Color is an RGBA clear value.
	Color = gputypes.Color

	// Extent3D is a width/height/depth extent.
	Extent3D = gputypes.Extent3D

	// Origin3D is an x/y/z origin.
	Origin3D = gputypes.Origin3D

	// CompareFunction is a depth/stencil compare op.
	CompareFunction = gputypes.CompareFunction

	// IndexFormat is the element type of an index buffer.
	IndexFormat = gputypes.IndexFormat

	// Limits are adapter capability limits.
	Limits = gputypes.Limits

	// PrimitiveTopology is the primitive assembly mode.
	PrimitiveTopology = gputypes.PrimitiveTopology

	// CullMode selects back/front face culling.
	CullMode = gputypes.CullMode

	// FrontFace selects the winding of front faces.
	FrontFace = gputypes.FrontFace

	// VertexStepMode selects per-vertex or per-instance stepping.
	VertexStepMode = gputypes.VertexStepMode

	// TextureDataLayout is the linear layout of texel data in a
	// buffer.
	TextureDataLayout = gputypes.TextureDataLayout
)

// Re-exported usage bits, for callers that prefer a single import.
const (
	BufferUsageCopySrc = gputypes.BufferUsageCopySrc
	BufferUsageCopyDst = gputypes.BufferUsageCopyDst
	BufferUsageVertex  = gputypes.BufferUsageVertex
	BufferUsageIndex   = gputypes.BufferUsageIndex
	BufferUsageUniform = gputypes.BufferUsageUniform
	BufferUsageStorage = gputypes.BufferUsageStorage

	StageVertex   = gputypes.ShaderStageVertex
	StageFragment = gputypes.ShaderStageFragment
	StageCompute  = gputypes.ShaderStageCompute

	TextureUsageCopySrc          = gputypes.TextureUsageCopySrc
	TextureUsageCopyDst          = gputypes.TextureUsageCopyDst
	TextureUsageSampled          = gputypes.TextureUsageTextureBinding
	TextureUsageStorage          = gputypes.TextureUsageStorageBinding
	TextureUsageRenderAttachment = gputypes.TextureUsageRenderAttachment
)

// pixelFormatSize returns the byte size of one texel, or 0 for
// compressed and packed depth formats where a flat size is undefined.
func pixelFormatSize(f PixelFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// isDepthFormat reports whether f is a depth or depth/stencil format.
func isDepthFormat(f PixelFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8:
		return true
	default:
		return false
	}
}

// isColorFormat reports whether f can be used as a color target.
func isColorFormat(f PixelFormat) bool {
	return f != gputypes.TextureFormatUndefined && !isDepthFormat(f)
}

// vertexFormatSize returns the byte size of one vertex attribute.
func vertexFormatSize(f VertexFormat) uint32 {
	switch f {
	case gputypes.VertexFormatFloat32, gputypes.VertexFormatUint32, gputypes.VertexFormatSint32:
		return 4
	case gputypes.VertexFormatFloat32x2:
		return 8
	case gputypes.VertexFormatFloat32x3:
		return 12
	case gputypes.VertexFormatFloat32x4:
		return 16
	case gputypes.VertexFormatUint8x4, gputypes.VertexFormatUnorm8x4:
		return 4
	case gputypes.VertexFormatFloat16x2:
		return 4
	case gputypes.VertexFormatFloat16x4:
		return 8
	default:
		return 0
	}
}
