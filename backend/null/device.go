package null

import (
	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/hal"
)

// device keeps every resource in host memory. Nothing here needs a
// lock: the generic layer serializes allocation and submission, and
// resource handles are immutable after creation.
type device struct {
	info   hal.AdapterInfo
	queues []*queue
}

func (d *device) Info() hal.AdapterInfo { return d.info }

func (d *device) Queue(index int) hal.Queue { return d.queues[index] }

func (d *device) AllocateMemory(typeIndex uint32, size uint64) (hal.Memory, error) {
	flags := d.info.MemoryTypes[typeIndex].Flags
	return &memory{
		data:     make([]byte, size),
		mappable: flags&hal.MemoryHostVisible != 0,
	}, nil
}

func (d *device) FreeMemory(hal.Memory) {}

func (d *device) BufferRequirements(desc *hal.BufferDescriptor) hal.MemoryRequirements {
	return hal.MemoryRequirements{
		Size:     alignUp(desc.Size, 4),
		Align:    allocAlign,
		TypeMask: 0b111,
	}
}

func (d *device) TextureRequirements(desc *hal.TextureDescriptor) hal.MemoryRequirements {
	_, total := textureLayout(desc)
	return hal.MemoryRequirements{
		Size:     total,
		Align:    allocAlign,
		TypeMask: 0b111,
	}
}

func (d *device) CreateBuffer(desc *hal.BufferDescriptor, mem hal.Memory, offset uint64) (hal.Buffer, error) {
	m := mem.(*memory)
	return &buffer{
		data:  m.data[offset : offset+desc.Size : offset+desc.Size],
		usage: desc.Usage,
	}, nil
}

func (d *device) DestroyBuffer(hal.Buffer) {}

func (d *device) CreateTexture(desc *hal.TextureDescriptor, mem hal.Memory, offset uint64) (hal.Texture, error) {
	m := mem.(*memory)
	levels, total := textureLayout(desc)
	return &texture{
		data:   m.data[offset : offset+total : offset+total],
		desc:   *desc,
		texel:  texelSize(desc.Format),
		levels: levels,
	}, nil
}

func (d *device) DestroyTexture(hal.Texture) {}

// ImportTexture backs the imported handle with fresh host memory; the
// handle value itself carries no meaning here.
func (d *device) ImportTexture(handle uintptr, desc *hal.TextureDescriptor) (hal.Texture, error) {
	levels, total := textureLayout(desc)
	return &texture{
		data:   make([]byte, total),
		desc:   *desc,
		texel:  texelSize(desc.Format),
		levels: levels,
	}, nil
}

func (d *device) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	return &sampler{desc: *desc}, nil
}

func (d *device) DestroySampler(hal.Sampler) {}

func (d *device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	return &shaderModule{label: desc.Label}, nil
}

func (d *device) DestroyShaderModule(hal.ShaderModule) {}

func (d *device) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	return &bindGroupLayout{
		entries: append([]hal.BindGroupLayoutEntry(nil), desc.Entries...),
	}, nil
}

func (d *device) DestroyBindGroupLayout(hal.BindGroupLayout) {}

func (d *device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	return &bindGroup{
		layout:  desc.Layout.(*bindGroupLayout),
		entries: append([]hal.BindGroupEntry(nil), desc.Entries...),
	}, nil
}

func (d *device) DestroyBindGroup(hal.BindGroup) {}

func (d *device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	return &renderPipeline{label: desc.Label}, nil
}

func (d *device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	return &computePipeline{label: desc.Label}, nil
}

func (d *device) DestroyPipeline(hal.Pipeline) {}

func (d *device) CreateSemaphore() (hal.Semaphore, error) {
	return &semaphore{}, nil
}

func (d *device) DestroySemaphore(hal.Semaphore) {}

func (d *device) CreateCommandEncoder(label string) (hal.CommandEncoder, error) {
	return &commandEncoder{label: label}, nil
}

func (d *device) Close() {}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// texelSize mirrors the formats the generic layer accepts for linear
// copies. Unknown formats fall back to four bytes so a texture is
// never zero-sized.
func texelSize(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}
