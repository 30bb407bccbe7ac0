//go:build darwin && cgo

package metal

/*
#include "bridge.h"
*/
import "C"

import (
	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/hal"
)

func pixelFormat(f gputypes.TextureFormat) C.uint16_t {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return C.MEV_PIXEL_R8_UNORM
	case gputypes.TextureFormatRGBA8Unorm:
		return C.MEV_PIXEL_RGBA8_UNORM
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return C.MEV_PIXEL_RGBA8_SRGB
	case gputypes.TextureFormatBGRA8Unorm:
		return C.MEV_PIXEL_BGRA8_UNORM
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return C.MEV_PIXEL_BGRA8_SRGB
	case gputypes.TextureFormatR32Float:
		return C.MEV_PIXEL_R32_FLOAT
	case gputypes.TextureFormatRG32Float:
		return C.MEV_PIXEL_RG32_FLOAT
	case gputypes.TextureFormatRGBA32Float:
		return C.MEV_PIXEL_RGBA32_FLOAT
	case gputypes.TextureFormatDepth16Unorm:
		return C.MEV_PIXEL_DEPTH16_UNORM
	case gputypes.TextureFormatDepth32Float, gputypes.TextureFormatDepth24Plus:
		// Depth24Plus lowers to the 32-bit float depth format; the
		// extra precision is within the format's contract.
		return C.MEV_PIXEL_DEPTH32_FLOAT
	case gputypes.TextureFormatDepth24PlusStencil8:
		return C.MEV_PIXEL_DEPTH24_STENCIL8
	default:
		return C.MEV_PIXEL_INVALID
	}
}

func vertexFormat(f gputypes.VertexFormat) C.uint16_t {
	switch f {
	case gputypes.VertexFormatFloat32:
		return C.MEV_VERTEX_FLOAT
	case gputypes.VertexFormatFloat32x2:
		return C.MEV_VERTEX_FLOAT2
	case gputypes.VertexFormatFloat32x3:
		return C.MEV_VERTEX_FLOAT3
	case gputypes.VertexFormatFloat32x4:
		return C.MEV_VERTEX_FLOAT4
	case gputypes.VertexFormatUint32:
		return C.MEV_VERTEX_UINT
	case gputypes.VertexFormatSint32:
		return C.MEV_VERTEX_INT
	case gputypes.VertexFormatUint8x4:
		return C.MEV_VERTEX_UCHAR4
	case gputypes.VertexFormatUnorm8x4:
		return C.MEV_VERTEX_UCHAR4_NORM
	case gputypes.VertexFormatFloat16x2:
		return C.MEV_VERTEX_HALF2
	case gputypes.VertexFormatFloat16x4:
		return C.MEV_VERTEX_HALF4
	default:
		return C.MEV_VERTEX_INVALID
	}
}

func depthFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8:
		return true
	}
	return false
}

func textureType(desc *hal.TextureDescriptor) C.uint8_t {
	switch desc.Dimension {
	case gputypes.TextureDimension1D:
		return C.MEV_TEX_1D
	case gputypes.TextureDimension3D:
		return C.MEV_TEX_3D
	default:
		if desc.Layers > 1 {
			return C.MEV_TEX_2D_ARRAY
		}
		return C.MEV_TEX_2D
	}
}

func textureUsage(u gputypes.TextureUsage) C.uint32_t {
	var out C.uint32_t
	if u&(gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopySrc) != 0 {
		out |= C.MEV_TEX_USAGE_READ
	}
	if u&(gputypes.TextureUsageStorageBinding|gputypes.TextureUsageCopyDst) != 0 {
		out |= C.MEV_TEX_USAGE_READ | C.MEV_TEX_USAGE_WRITE
	}
	if u&gputypes.TextureUsageRenderAttachment != 0 {
		out |= C.MEV_TEX_USAGE_RENDER
	}
	return out
}

func textureDesc(desc *hal.TextureDescriptor) C.mevTextureDesc {
	return C.mevTextureDesc{
		width:       C.uint32_t(desc.Size.Width),
		height:      C.uint32_t(max(desc.Size.Height, 1)),
		depth:       C.uint32_t(max(desc.Size.DepthOrArrayLayers, 1)),
		mipLevels:   C.uint32_t(max(desc.MipLevels, 1)),
		layers:      C.uint32_t(max(desc.Layers, 1)),
		samples:     C.uint32_t(max(desc.Samples, 1)),
		pixelFormat: pixelFormat(desc.Format),
		textureType: textureType(desc),
		usage:       textureUsage(desc.Usage),
	}
}

func filterCode(f gputypes.FilterMode) C.int {
	if f == gputypes.FilterModeLinear {
		return C.MEV_FILTER_LINEAR
	}
	return C.MEV_FILTER_NEAREST
}

func addressCode(m gputypes.AddressMode) C.int {
	switch m {
	case gputypes.AddressModeClampToEdge:
		return C.MEV_ADDRESS_CLAMP
	case gputypes.AddressModeMirrorRepeat:
		return C.MEV_ADDRESS_MIRROR
	default:
		return C.MEV_ADDRESS_REPEAT
	}
}

func blendFactorCode(f gputypes.BlendFactor) C.uint8_t {
	switch f {
	case gputypes.BlendFactorOne:
		return C.MEV_BLEND_ONE
	case gputypes.BlendFactorSrcAlpha:
		return C.MEV_BLEND_SRC_ALPHA
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return C.MEV_BLEND_ONE_MINUS_SRC_ALPHA
	case gputypes.BlendFactorDstAlpha:
		return C.MEV_BLEND_DST_ALPHA
	case gputypes.BlendFactorOneMinusDstAlpha:
		return C.MEV_BLEND_ONE_MINUS_DST_ALPHA
	default:
		return C.MEV_BLEND_ZERO
	}
}

func blendOpCode(o gputypes.BlendOperation) C.uint8_t {
	switch o {
	case gputypes.BlendOperationSubtract:
		return C.MEV_BLEND_OP_SUB
	case gputypes.BlendOperationReverseSubtract:
		return C.MEV_BLEND_OP_RSUB
	case gputypes.BlendOperationMin:
		return C.MEV_BLEND_OP_MIN
	case gputypes.BlendOperationMax:
		return C.MEV_BLEND_OP_MAX
	default:
		return C.MEV_BLEND_OP_ADD
	}
}

func compareCode(c gputypes.CompareFunction) C.int {
	switch c {
	case gputypes.CompareFunctionNever:
		return C.MEV_COMPARE_NEVER
	case gputypes.CompareFunctionLess:
		return C.MEV_COMPARE_LESS
	case gputypes.CompareFunctionEqual:
		return C.MEV_COMPARE_EQUAL
	case gputypes.CompareFunctionLessEqual:
		return C.MEV_COMPARE_LESS_EQUAL
	case gputypes.CompareFunctionGreater:
		return C.MEV_COMPARE_GREATER
	case gputypes.CompareFunctionNotEqual:
		return C.MEV_COMPARE_NOT_EQUAL
	case gputypes.CompareFunctionGreaterEqual:
		return C.MEV_COMPARE_GREATER_EQUAL
	default:
		return C.MEV_COMPARE_ALWAYS
	}
}

func cullCode(m gputypes.CullMode) C.int {
	switch m {
	case gputypes.CullModeFront:
		return C.MEV_CULL_FRONT
	case gputypes.CullModeBack:
		return C.MEV_CULL_BACK
	default:
		return C.MEV_CULL_NONE
	}
}

func primCode(t gputypes.PrimitiveTopology) C.int {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return C.MEV_PRIM_POINT
	case gputypes.PrimitiveTopologyLineList:
		return C.MEV_PRIM_LINE
	case gputypes.PrimitiveTopologyLineStrip:
		return C.MEV_PRIM_LINE_STRIP
	case gputypes.PrimitiveTopologyTriangleStrip:
		return C.MEV_PRIM_TRIANGLE_STRIP
	default:
		return C.MEV_PRIM_TRIANGLE
	}
}
