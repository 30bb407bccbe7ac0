// Package hal defines the contract between the public mev API and the
// native GPU backends.
//
// The interfaces here are intentionally lean: the generic layer (package
// mev) owns descriptor validation, lifetime tracking and the command
// encoder state machine, while a hal implementation only turns already
// validated requests into native API calls. A backend must never be
// reachable by applications directly; it is selected once at build time
// and registered with the backend registry.
//
// Two native backends implement this package: an explicit cross-vendor
// backend (Vulkan) and a tile-based-deferred backend (Metal). A third,
// headless implementation backs the test suite.
package hal

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Backend is the entry point a backend package registers at init time.
//
// Enumerate lists the physical adapters the backend can drive; Open
// creates a device connection on one of them. A process normally holds
// exactly one open Device per backend.
type Backend interface {
	// Name returns the backend identifier ("vulkan", "metal", "null").
	Name() string

	// Target reports the shader representation this backend consumes.
	Target() ShaderTarget

	// Enumerate lists available adapters. The slice order is stable for
	// the lifetime of the process; DeviceDescriptor.Adapter indexes it.
	Enumerate() ([]AdapterInfo, error)

	// Open creates a device on the adapter at the given index.
	Open(desc *DeviceDescriptor) (Device, error)
}

// ShaderTarget selects the native shader form a backend consumes.
type ShaderTarget uint8

const (
	// TargetSPIRV is binary SPIR-V, consumed by the Vulkan backend.
	TargetSPIRV ShaderTarget = iota

	// TargetMSL is Metal Shading Language source text.
	TargetMSL

	// TargetNone is used by the headless backend, which executes no
	// shaders and accepts any module.
	TargetNone
)

// String returns the target name.
func (t ShaderTarget) String() string {
	switch t {
	case TargetSPIRV:
		return "spirv"
	case TargetMSL:
		return "msl"
	default:
		return "none"
	}
}

// AdapterInfo describes one physical adapter.
type AdapterInfo struct {
	// Name is the driver-reported adapter name.
	Name string

	// DeviceType distinguishes discrete, integrated and software adapters.
	DeviceType gputypes.DeviceType

	// Limits are the adapter capability limits.
	Limits gputypes.Limits

	// QueueFamilies describes the queue families the adapter exposes.
	QueueFamilies []QueueFamily

	// MemoryTypes lists the memory types available for allocation,
	// indexed by the type index used in AllocateMemory.
	MemoryTypes []MemoryType
}

// QueueFamily describes one family of device queues.
type QueueFamily struct {
	// Flags reports the operations queues of this family accept.
	Flags QueueFlags

	// Count is the number of queues that can be opened in this family.
	Count int
}

// QueueFlags describe queue family capabilities.
type QueueFlags uint32

const (
	// QueueGraphics marks families that accept render passes.
	QueueGraphics QueueFlags = 1 << iota

	// QueueCompute marks families that accept compute dispatches.
	QueueCompute

	// QueueTransfer marks families that accept copy operations.
	QueueTransfer
)

// MemoryType describes one native memory type.
type MemoryType struct {
	// Flags are the access properties of the type.
	Flags MemoryFlags

	// HeapSize is the byte size of the heap backing this type.
	HeapSize uint64
}

// MemoryFlags describe memory access properties.
type MemoryFlags uint32

const (
	// MemoryDeviceLocal is fastest for device access and may not be
	// host-mappable.
	MemoryDeviceLocal MemoryFlags = 1 << iota

	// MemoryHostVisible can be mapped into host address space.
	MemoryHostVisible

	// MemoryHostCoherent needs no explicit flush/invalidate.
	MemoryHostCoherent

	// MemoryHostCached is fast for host reads (download paths).
	MemoryHostCached

	// MemoryLazilyAllocated is backed only by tile storage on backends
	// that support memoryless render targets.
	MemoryLazilyAllocated
)

// DeviceDescriptor selects an adapter and the queues to open on it.
type DeviceDescriptor struct {
	// Adapter is the index into the Enumerate result.
	Adapter int

	// QueueFamilies lists the family index for each queue to create.
	// A family may repeat up to QueueFamily.Count times.
	QueueFamilies []int

	// Features are the optional capabilities to enable.
	Features gputypes.Features
}

// MemoryRequirements reports what a resource needs from an allocation.
type MemoryRequirements struct {
	// Size in bytes, already padded to native granularity.
	Size uint64

	// Align is the required offset alignment, a power of two.
	Align uint64

	// TypeMask has bit i set if memory type i can back the resource.
	TypeMask uint32
}

// Device is an open connection to one adapter.
//
// All methods are safe for concurrent use unless noted otherwise; the
// generic layer serializes allocator bookkeeping and submission itself.
type Device interface {
	// Info returns the adapter this device was opened on.
	Info() AdapterInfo

	// Queue returns the queue at the given index of the descriptor's
	// QueueFamilies slice.
	Queue(index int) Queue

	// AllocateMemory allocates one native memory block of the given
	// type. Blocks are large and rate-limited on both native backends;
	// the generic allocator sub-allocates from them.
	AllocateMemory(typeIndex uint32, size uint64) (Memory, error)

	// FreeMemory releases a native memory block. The caller guarantees
	// no live resource is bound to it.
	FreeMemory(Memory)

	// BufferRequirements reports the memory requirements for a buffer
	// with the given descriptor.
	BufferRequirements(desc *BufferDescriptor) MemoryRequirements

	// TextureRequirements reports the memory requirements for a texture
	// with the given descriptor.
	TextureRequirements(desc *TextureDescriptor) MemoryRequirements

	// CreateBuffer creates a buffer bound to memory at offset.
	CreateBuffer(desc *BufferDescriptor, mem Memory, offset uint64) (Buffer, error)

	// DestroyBuffer releases a buffer. Its memory block is not freed.
	DestroyBuffer(Buffer)

	// CreateTexture creates a texture bound to memory at offset.
	CreateTexture(desc *TextureDescriptor, mem Memory, offset uint64) (Texture, error)

	// DestroyTexture releases a texture. Its memory block is not freed.
	DestroyTexture(Texture)

	// ImportTexture wraps an externally owned native texture (a
	// swapchain drawable) without taking ownership of its memory.
	ImportTexture(handle uintptr, desc *TextureDescriptor) (Texture, error)

	// CreateSampler creates an immutable sampler.
	CreateSampler(desc *SamplerDescriptor) (Sampler, error)

	// DestroySampler releases a sampler.
	DestroySampler(Sampler)

	// CreateShaderModule creates a native shader module from already
	// translated code (SPIR-V words or MSL source, per Target).
	CreateShaderModule(desc *ShaderModuleDescriptor) (ShaderModule, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(ShaderModule)

	// CreateBindGroupLayout creates a binding-table layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDescriptor) (BindGroupLayout, error)

	// DestroyBindGroupLayout releases a binding-table layout.
	DestroyBindGroupLayout(BindGroupLayout)

	// CreateBindGroup creates a bound resource set for a layout.
	CreateBindGroup(desc *BindGroupDescriptor) (BindGroup, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(BindGroup)

	// CreateRenderPipeline compiles a render pipeline. May block on
	// native driver compilation.
	CreateRenderPipeline(desc *RenderPipelineDescriptor) (RenderPipeline, error)

	// CreateComputePipeline compiles a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDescriptor) (ComputePipeline, error)

	// DestroyPipeline releases a render or compute pipeline.
	DestroyPipeline(Pipeline)

	// CreateSemaphore creates a GPU-side ordering primitive.
	CreateSemaphore() (Semaphore, error)

	// DestroySemaphore releases a semaphore.
	DestroySemaphore(Semaphore)

	// CreateCommandEncoder opens a native command recorder.
	// Encoders are not safe for concurrent use.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Close tears down the device. All descendant objects become
	// invalid.
	Close()
}

// Queue is one ordered execution stream of a device.
//
// Submit serializes internally; the generic layer still treats it as a
// critical section so the lock is held for the native call only.
type Queue interface {
	// Flags reports what the queue accepts.
	Flags() QueueFlags

	// Submit enqueues command buffers. The queue's completion value
	// becomes value when all of them (and everything submitted before)
	// finish. Waits block GPU-side until the given semaphores signal;
	// signals fire when the batch completes.
	Submit(cbs []CommandBuffer, waits, signals []Semaphore, value uint64) error

	// SignaledValue returns the queue's current completion value.
	// Returns an error only when the device is lost.
	SignaledValue() (uint64, error)

	// Wait blocks until the completion value reaches value or the
	// timeout expires. Returns false on timeout with no side effects.
	Wait(value uint64, timeout time.Duration) (bool, error)
}

// Memory is one native memory block.
type Memory interface {
	// Size returns the block size in bytes.
	Size() uint64

	// Map exposes the block in host address space. Only valid for
	// blocks of a host-visible type; the mapping stays valid until
	// Unmap.
	Map() ([]byte, error)

	// Unmap releases the host mapping.
	Unmap()
}

// Resource markers. The concrete types are backend-private.
type (
	// Buffer is a native buffer handle.
	Buffer interface{ isBuffer() }

	// Texture is a native texture handle.
	Texture interface{ isTexture() }

	// Sampler is a native sampler handle.
	Sampler interface{ isSampler() }

	// ShaderModule is a native shader module handle.
	ShaderModule interface{ isShaderModule() }

	// BindGroupLayout is a native binding-table layout handle.
	BindGroupLayout interface{ isBindGroupLayout() }

	// BindGroup is a native bound resource set handle.
	BindGroup interface{ isBindGroup() }

	// Pipeline is a compiled pipeline handle.
	Pipeline interface{ isPipeline() }

	// Semaphore is a native GPU-side ordering primitive.
	Semaphore interface{ isSemaphore() }

	// CommandBuffer is a recorded, submittable command sequence.
	CommandBuffer interface{ isCommandBuffer() }
)

// RenderPipeline is a Pipeline compiled for render passes.
type RenderPipeline interface {
	Pipeline
	isRenderPipeline()
}

// ComputePipeline is a Pipeline compiled for compute passes.
type ComputePipeline interface {
	Pipeline
	isComputePipeline()
}

// Marker embeds the private marker methods so backends can declare
// handle types without repeating them.
type Marker struct{}

func (Marker) isBuffer()          {}
func (Marker) isTexture()         {}
func (Marker) isSampler()         {}
func (Marker) isShaderModule()    {}
func (Marker) isBindGroupLayout() {}
func (Marker) isBindGroup()       {}
func (Marker) isPipeline()        {}
func (Marker) isSemaphore()       {}
func (Marker) isCommandBuffer()   {}
func (Marker) isRenderPipeline()  {}
func (Marker) isComputePipeline() {}

// CommandEncoder records native commands. One encoder is owned by one
// goroutine until End.
type CommandEncoder interface {
	// CopyBufferToBuffer records a buffer copy. Ranges are validated by
	// the generic layer.
	CopyBufferToBuffer(src, dst Buffer, copies []BufferCopy) error

	// CopyBufferToTexture records an upload copy.
	CopyBufferToTexture(src *BufferImageCopy, dst Texture) error

	// CopyTextureToBuffer records a readback copy.
	CopyTextureToBuffer(src Texture, dst *BufferImageCopy) error

	// Barrier records an execution/memory dependency between the given
	// stage sets. Backends with implicit hazard tracking record nothing.
	Barrier(after, before PipelineStages) error

	// TextureTransition records a layout/usage transition for a
	// texture. A no-op on backends with implicit hazard tracking.
	TextureTransition(t Texture, from, to gputypes.TextureUsage) error

	// BeginRenderPass opens a render pass. The encoder is locked until
	// the pass ends.
	BeginRenderPass(desc *RenderPassDescriptor) (RenderPassEncoder, error)

	// BeginComputePass opens a compute pass. The encoder is locked
	// until the pass ends.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// End closes recording and returns the native command buffer.
	End() (CommandBuffer, error)
}

// RenderPassEncoder records draw commands inside a render pass.
type RenderPassEncoder interface {
	SetPipeline(p RenderPipeline)
	SetViewport(x, y, w, h, minDepth, maxDepth float32)
	SetScissor(x, y, w, h uint32)
	SetVertexBuffer(slot uint32, b Buffer, offset uint64)
	SetIndexBuffer(b Buffer, format gputypes.IndexFormat, offset uint64)
	SetBindGroup(index uint32, group BindGroup)
	SetPushConstants(stages gputypes.ShaderStage, offset uint32, data []byte)
	Draw(vertices, instances, firstVertex, firstInstance uint32)
	DrawIndexed(indices, instances, firstIndex uint32, baseVertex int32, firstInstance uint32)
	End() error
}

// ComputePassEncoder records dispatches inside a compute pass.
type ComputePassEncoder interface {
	SetPipeline(p ComputePipeline)
	SetBindGroup(index uint32, group BindGroup)
	SetPushConstants(offset uint32, data []byte)
	Dispatch(x, y, z uint32)
	End() error
}

// PipelineStages is a bitset of pipeline execution stages, used to
// express barriers.
type PipelineStages uint32

const (
	// StageTransfer covers copy operations.
	StageTransfer PipelineStages = 1 << iota

	// StageVertexInput covers vertex/index fetch.
	StageVertexInput

	// StageVertexShader covers vertex shader execution.
	StageVertexShader

	// StageFragmentShader covers fragment shader execution.
	StageFragmentShader

	// StageColorOutput covers color attachment writes.
	StageColorOutput

	// StageDepthStencil covers depth/stencil attachment access.
	StageDepthStencil

	// StageComputeShader covers compute shader execution.
	StageComputeShader

	// StageHost covers host reads of mapped memory.
	StageHost
)

// AllStages is the union of every pipeline stage.
const AllStages = StageTransfer | StageVertexInput | StageVertexShader |
	StageFragmentShader | StageColorOutput | StageDepthStencil |
	StageComputeShader | StageHost

// BufferCopy is one region of a buffer-to-buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy describes the buffer side of a buffer/texture copy.
type BufferImageCopy struct {
	Buffer Buffer

	// Offset is the byte offset of the first texel in the buffer.
	Offset uint64

	Layout gputypes.TextureDataLayout
	Origin gputypes.Origin3D
	Extent gputypes.Extent3D
	Level  uint32
}
