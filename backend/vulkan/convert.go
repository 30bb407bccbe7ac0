//go:build cgo

package vulkan

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/hal"
)

// mapResultError folds a Vulkan result code into the hal error set.
// The wrapper returns the code next to the error rather than inside
// it, so callers pass both through.
func mapResultError(res common.VkResult, err error) error {
	if err == nil {
		return nil
	}
	switch res {
	case core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfHostMemory:
		return hal.ErrOutOfMemory
	case core1_0.VKErrorDeviceLost:
		return hal.ErrDeviceLost
	}
	return err
}

func deviceType(t core1_0.PhysicalDeviceType) gputypes.DeviceType {
	switch t {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		return gputypes.DeviceTypeDiscreteGPU
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		return gputypes.DeviceTypeIntegratedGPU
	default:
		return gputypes.DeviceType(0)
	}
}

func adapterLimits(l *core1_0.PhysicalDeviceLimits) gputypes.Limits {
	limits := gputypes.DefaultLimits()
	limits.MaxTextureDimension2D = uint32(l.MaxImageDimension2D)
	limits.MaxBufferSize = uint64(l.MaxStorageBufferRange)
	return limits
}

func halQueueFlags(f core1_0.QueueFlags) hal.QueueFlags {
	var out hal.QueueFlags
	if f&core1_0.QueueGraphics != 0 {
		out |= hal.QueueGraphics
	}
	if f&core1_0.QueueCompute != 0 {
		out |= hal.QueueCompute
	}
	if f&core1_0.QueueTransfer != 0 {
		out |= hal.QueueTransfer
	}
	return out
}

func halMemoryFlags(f core1_0.MemoryPropertyFlags) hal.MemoryFlags {
	var out hal.MemoryFlags
	if f&core1_0.MemoryPropertyDeviceLocal != 0 {
		out |= hal.MemoryDeviceLocal
	}
	if f&core1_0.MemoryPropertyHostVisible != 0 {
		out |= hal.MemoryHostVisible
	}
	if f&core1_0.MemoryPropertyHostCoherent != 0 {
		out |= hal.MemoryHostCoherent
	}
	if f&core1_0.MemoryPropertyHostCached != 0 {
		out |= hal.MemoryHostCached
	}
	if f&core1_0.MemoryPropertyLazilyAllocated != 0 {
		out |= hal.MemoryLazilyAllocated
	}
	return out
}

func bufferUsage(u gputypes.BufferUsage) core1_0.BufferUsageFlags {
	var out core1_0.BufferUsageFlags
	if u&gputypes.BufferUsageCopySrc != 0 {
		out |= core1_0.BufferUsageTransferSrc
	}
	if u&gputypes.BufferUsageCopyDst != 0 {
		out |= core1_0.BufferUsageTransferDst
	}
	if u&gputypes.BufferUsageVertex != 0 {
		out |= core1_0.BufferUsageVertexBuffer
	}
	if u&gputypes.BufferUsageIndex != 0 {
		out |= core1_0.BufferUsageIndexBuffer
	}
	if u&gputypes.BufferUsageUniform != 0 {
		out |= core1_0.BufferUsageUniformBuffer
	}
	if u&gputypes.BufferUsageStorage != 0 {
		out |= core1_0.BufferUsageStorageBuffer
	}
	return out
}

func imageUsage(u gputypes.TextureUsage, format gputypes.TextureFormat) core1_0.ImageUsageFlags {
	var out core1_0.ImageUsageFlags
	if u&gputypes.TextureUsageCopySrc != 0 {
		out |= core1_0.ImageUsageTransferSrc
	}
	if u&gputypes.TextureUsageCopyDst != 0 {
		out |= core1_0.ImageUsageTransferDst
	}
	if u&gputypes.TextureUsageTextureBinding != 0 {
		out |= core1_0.ImageUsageSampled
	}
	if u&gputypes.TextureUsageStorageBinding != 0 {
		out |= core1_0.ImageUsageStorage
	}
	if u&gputypes.TextureUsageRenderAttachment != 0 {
		if depthFormat(format) {
			out |= core1_0.ImageUsageDepthStencilAttachment
		} else {
			out |= core1_0.ImageUsageColorAttachment
		}
	}
	return out
}

func depthFormat(f gputypes.TextureFormat) bool {
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

func imageAspect(f gputypes.TextureFormat) core1_0.ImageAspectFlags {
	if !depthFormat(f) {
		return core1_0.ImageAspectColor
	}
	if f == gputypes.TextureFormatDepth24PlusStencil8 {
		return core1_0.ImageAspectDepth | core1_0.ImageAspectStencil
	}
	return core1_0.ImageAspectDepth
}

func vkFormat(f gputypes.TextureFormat) core1_0.Format {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return core1_0.FormatR8UnsignedNormalized
	case gputypes.TextureFormatRGBA8Unorm:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return core1_0.FormatR8G8B8A8SRGB
	case gputypes.TextureFormatBGRA8Unorm:
		return core1_0.FormatB8G8R8A8UnsignedNormalized
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return core1_0.FormatB8G8R8A8SRGB
	case gputypes.TextureFormatR32Float:
		return core1_0.FormatR32SignedFloat
	case gputypes.TextureFormatRG32Float:
		return core1_0.FormatR32G32SignedFloat
	case gputypes.TextureFormatRGBA32Float:
		return core1_0.FormatR32G32B32A32SignedFloat
	case gputypes.TextureFormatDepth16Unorm:
		return core1_0.FormatD16UnsignedNormalized
	case gputypes.TextureFormatDepth32Float:
		return core1_0.FormatD32SignedFloat
	case gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8:
		return core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
	default:
		return core1_0.FormatUndefined
	}
}

// formatTexelSize returns bytes per texel for linearly copyable
// formats, 0 otherwise.
func formatTexelSize(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatDepth32Float:
		return 4
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

func vkVertexFormat(f gputypes.VertexFormat) core1_0.Format {
	switch f {
	case gputypes.VertexFormatFloat32:
		return core1_0.FormatR32SignedFloat
	case gputypes.VertexFormatFloat32x2:
		return core1_0.FormatR32G32SignedFloat
	case gputypes.VertexFormatFloat32x3:
		return core1_0.FormatR32G32B32SignedFloat
	case gputypes.VertexFormatFloat32x4:
		return core1_0.FormatR32G32B32A32SignedFloat
	case gputypes.VertexFormatUint32:
		return core1_0.FormatR32UnsignedInt
	case gputypes.VertexFormatSint32:
		return core1_0.FormatR32SignedInt
	case gputypes.VertexFormatUint8x4:
		return core1_0.FormatR8G8B8A8UnsignedInt
	case gputypes.VertexFormatUnorm8x4:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case gputypes.VertexFormatFloat16x2:
		return core1_0.FormatR16G16SignedFloat
	case gputypes.VertexFormatFloat16x4:
		return core1_0.FormatR16G16B16A16SignedFloat
	default:
		return core1_0.FormatUndefined
	}
}

func shaderStages(s gputypes.ShaderStage) core1_0.ShaderStageFlags {
	var out core1_0.ShaderStageFlags
	if s&gputypes.ShaderStageVertex != 0 {
		out |= core1_0.StageVertex
	}
	if s&gputypes.ShaderStageFragment != 0 {
		out |= core1_0.StageFragment
	}
	if s&gputypes.ShaderStageCompute != 0 {
		out |= core1_0.StageCompute
	}
	return out
}

func descriptorType(t hal.BindingType) core1_0.DescriptorType {
	switch t {
	case hal.BindingUniformBuffer:
		return core1_0.DescriptorTypeUniformBuffer
	case hal.BindingStorageBuffer, hal.BindingReadOnlyStorageBuffer:
		return core1_0.DescriptorTypeStorageBuffer
	case hal.BindingSampledTexture:
		return core1_0.DescriptorTypeSampledImage
	case hal.BindingStorageTexture:
		return core1_0.DescriptorTypeStorageImage
	default:
		return core1_0.DescriptorTypeSampler
	}
}

func topology(t gputypes.PrimitiveTopology) core1_0.PrimitiveTopology {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return core1_0.PrimitiveTopologyPointList
	case gputypes.PrimitiveTopologyLineList:
		return core1_0.PrimitiveTopologyLineList
	case gputypes.PrimitiveTopologyLineStrip:
		return core1_0.PrimitiveTopologyLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return core1_0.PrimitiveTopologyTriangleStrip
	default:
		return core1_0.PrimitiveTopologyTriangleList
	}
}

func cullMode(m gputypes.CullMode) core1_0.CullModeFlags {
	switch m {
	case gputypes.CullModeFront:
		return core1_0.CullModeFront
	case gputypes.CullModeBack:
		return core1_0.CullModeBack
	default:
		// VK_CULL_MODE_NONE is the empty flag set.
		return 0
	}
}

func frontFace(f gputypes.FrontFace) core1_0.FrontFace {
	if f == gputypes.FrontFaceCW {
		return core1_0.FrontFaceClockwise
	}
	return core1_0.FrontFaceCounterClockwise
}

func compareOp(c gputypes.CompareFunction) core1_0.CompareOp {
	switch c {
	case gputypes.CompareFunctionNever:
		return core1_0.CompareOpNever
	case gputypes.CompareFunctionLess:
		return core1_0.CompareOpLess
	case gputypes.CompareFunctionEqual:
		return core1_0.CompareOpEqual
	case gputypes.CompareFunctionLessEqual:
		return core1_0.CompareOpLessOrEqual
	case gputypes.CompareFunctionGreater:
		return core1_0.CompareOpGreater
	case gputypes.CompareFunctionNotEqual:
		return core1_0.CompareOpNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return core1_0.CompareOpGreaterOrEqual
	default:
		return core1_0.CompareOpAlways
	}
}

func blendFactor(f gputypes.BlendFactor) core1_0.BlendFactor {
	switch f {
	case gputypes.BlendFactorZero:
		return core1_0.BlendFactorZero
	case gputypes.BlendFactorOne:
		return core1_0.BlendFactorOne
	case gputypes.BlendFactorSrcAlpha:
		return core1_0.BlendFactorSrcAlpha
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return core1_0.BlendFactorOneMinusSrcAlpha
	case gputypes.BlendFactorDstAlpha:
		return core1_0.BlendFactorDstAlpha
	case gputypes.BlendFactorOneMinusDstAlpha:
		return core1_0.BlendFactorOneMinusDstAlpha
	default:
		return core1_0.BlendFactorOne
	}
}

// blendOpReverseSubtract is VK_BLEND_OP_REVERSE_SUBTRACT, which the
// wrapper does not name.
const blendOpReverseSubtract core1_0.BlendOp = 2

func blendOp(o gputypes.BlendOperation) core1_0.BlendOp {
	switch o {
	case gputypes.BlendOperationSubtract:
		return core1_0.BlendOpSubtract
	case gputypes.BlendOperationReverseSubtract:
		return blendOpReverseSubtract
	case gputypes.BlendOperationMin:
		return core1_0.BlendOpMin
	case gputypes.BlendOperationMax:
		return core1_0.BlendOpMax
	default:
		return core1_0.BlendOpAdd
	}
}

func loadOp(o gputypes.LoadOp) core1_0.AttachmentLoadOp {
	if o == gputypes.LoadOpClear {
		return core1_0.AttachmentLoadOpClear
	}
	return core1_0.AttachmentLoadOpLoad
}

func storeOp(o gputypes.StoreOp) core1_0.AttachmentStoreOp {
	if o == gputypes.StoreOpDiscard {
		return core1_0.AttachmentStoreOpDontCare
	}
	return core1_0.AttachmentStoreOpStore
}

func filterMode(f gputypes.FilterMode) core1_0.Filter {
	if f == gputypes.FilterModeLinear {
		return core1_0.FilterLinear
	}
	return core1_0.FilterNearest
}

func mipmapMode(f gputypes.FilterMode) core1_0.SamplerMipmapMode {
	if f == gputypes.FilterModeLinear {
		return core1_0.SamplerMipmapModeLinear
	}
	return core1_0.SamplerMipmapModeNearest
}

func addressMode(m gputypes.AddressMode) core1_0.SamplerAddressMode {
	switch m {
	case gputypes.AddressModeClampToEdge:
		return core1_0.SamplerAddressModeClampToEdge
	case gputypes.AddressModeMirrorRepeat:
		return core1_0.SamplerAddressModeMirroredRepeat
	default:
		return core1_0.SamplerAddressModeRepeat
	}
}

// usageLayout maps a usage bitset to the image layout the generic
// layer transitions to for that usage.
func usageLayout(u gputypes.TextureUsage, format gputypes.TextureFormat) core1_0.ImageLayout {
	switch {
	case u == 0:
		return core1_0.ImageLayoutUndefined
	case u&gputypes.TextureUsageRenderAttachment != 0 && depthFormat(format):
		return core1_0.ImageLayoutDepthStencilAttachmentOptimal
	case u&gputypes.TextureUsageRenderAttachment != 0:
		return core1_0.ImageLayoutColorAttachmentOptimal
	case u&gputypes.TextureUsageTextureBinding != 0:
		return core1_0.ImageLayoutShaderReadOnlyOptimal
	case u&gputypes.TextureUsageStorageBinding != 0:
		return core1_0.ImageLayoutGeneral
	case u&gputypes.TextureUsageCopySrc != 0:
		return core1_0.ImageLayoutTransferSrcOptimal
	case u&gputypes.TextureUsageCopyDst != 0:
		return core1_0.ImageLayoutTransferDstOptimal
	default:
		return core1_0.ImageLayoutGeneral
	}
}

func pipelineStages(s hal.PipelineStages) core1_0.PipelineStageFlags {
	var out core1_0.PipelineStageFlags
	if s&hal.StageTransfer != 0 {
		out |= core1_0.PipelineStageTransfer
	}
	if s&hal.StageVertexInput != 0 {
		out |= core1_0.PipelineStageVertexInput
	}
	if s&hal.StageVertexShader != 0 {
		out |= core1_0.PipelineStageVertexShader
	}
	if s&hal.StageFragmentShader != 0 {
		out |= core1_0.PipelineStageFragmentShader
	}
	if s&hal.StageColorOutput != 0 {
		out |= core1_0.PipelineStageColorAttachmentOutput
	}
	if s&hal.StageDepthStencil != 0 {
		out |= core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests
	}
	if s&hal.StageComputeShader != 0 {
		out |= core1_0.PipelineStageComputeShader
	}
	if s&hal.StageHost != 0 {
		out |= core1_0.PipelineStageHost
	}
	if out == 0 {
		out = core1_0.PipelineStageAllCommands
	}
	return out
}

func vkTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return time.Duration(1<<63 - 1)
	}
	return d
}
