//go:build cgo

package vulkan

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/hal"
)

type device struct {
	vk   core1_0.Device
	phys core1_0.PhysicalDevice
	info hal.AdapterInfo

	queues []*queue

	// Render passes and framebuffers are cached by compatibility key;
	// both caches live for the device lifetime.
	cacheMu      sync.Mutex
	renderPasses map[string]core1_0.RenderPass
	framebuffers map[string]core1_0.Framebuffer

	descMu    sync.Mutex
	descPools []core1_0.DescriptorPool
}

func (d *device) Info() hal.AdapterInfo { return d.info }

func (d *device) Queue(index int) hal.Queue { return d.queues[index] }

type deviceMemory struct {
	vk   core1_0.DeviceMemory
	size uint64
}

func (m *deviceMemory) Size() uint64 { return m.size }

func (m *deviceMemory) Map() ([]byte, error) {
	ptr, res, err := m.vk.Map(0, int(m.size), 0)
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return unsafe.Slice((*byte)(ptr), m.size), nil
}

func (m *deviceMemory) Unmap() { m.vk.Unmap() }

func (d *device) AllocateMemory(typeIndex uint32, size uint64) (hal.Memory, error) {
	mem, res, err := d.vk.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  int(size),
		MemoryTypeIndex: int(typeIndex),
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return &deviceMemory{vk: mem, size: size}, nil
}

func (d *device) FreeMemory(mem hal.Memory) {
	mem.(*deviceMemory).vk.Free(nil)
}

type bufferHandle struct {
	hal.Marker
	vk core1_0.Buffer
}

type textureHandle struct {
	hal.Marker
	vk       core1_0.Image
	view     core1_0.ImageView
	desc     hal.TextureDescriptor
	imported bool
}

func (d *device) BufferRequirements(desc *hal.BufferDescriptor) hal.MemoryRequirements {
	// Vulkan reports requirements on a created object, so probe with a
	// throwaway buffer.
	buf, _, err := d.vk.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        int(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return hal.MemoryRequirements{Size: desc.Size, Align: 256, TypeMask: ^uint32(0)}
	}
	defer buf.Destroy(nil)
	reqs := buf.MemoryRequirements()
	return hal.MemoryRequirements{
		Size:     uint64(reqs.Size),
		Align:    uint64(reqs.Alignment),
		TypeMask: reqs.MemoryTypeBits,
	}
}

func (d *device) TextureRequirements(desc *hal.TextureDescriptor) hal.MemoryRequirements {
	img, _, err := d.vk.CreateImage(nil, imageCreateInfo(desc))
	if err != nil {
		return hal.MemoryRequirements{Size: 0, Align: 256, TypeMask: ^uint32(0)}
	}
	defer img.Destroy(nil)
	reqs := img.MemoryRequirements()
	return hal.MemoryRequirements{
		Size:     uint64(reqs.Size),
		Align:    uint64(reqs.Alignment),
		TypeMask: reqs.MemoryTypeBits,
	}
}

func (d *device) CreateBuffer(desc *hal.BufferDescriptor, mem hal.Memory, offset uint64) (hal.Buffer, error) {
	buf, res, err := d.vk.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        int(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	res, err = buf.BindBufferMemory(mem.(*deviceMemory).vk, int(offset))
	if err != nil {
		buf.Destroy(nil)
		return nil, mapResultError(res, err)
	}
	return &bufferHandle{vk: buf}, nil
}

func (d *device) DestroyBuffer(b hal.Buffer) {
	b.(*bufferHandle).vk.Destroy(nil)
}

func imageCreateInfo(desc *hal.TextureDescriptor) core1_0.ImageCreateInfo {
	imageType := core1_0.ImageType2D
	depth := 1
	layers := int(max(desc.Layers, 1))
	switch desc.Dimension {
	case gputypes.TextureDimension1D:
		imageType = core1_0.ImageType1D
	case gputypes.TextureDimension3D:
		imageType = core1_0.ImageType3D
		depth = int(max(desc.Size.DepthOrArrayLayers, 1))
	default:
		layers = int(max(desc.Size.DepthOrArrayLayers, 1)) * layers
	}
	return core1_0.ImageCreateInfo{
		ImageType: imageType,
		Format:    vkFormat(desc.Format),
		Extent: core1_0.Extent3D{
			Width:  int(desc.Size.Width),
			Height: int(desc.Size.Height),
			Depth:  depth,
		},
		MipLevels:     int(max(desc.MipLevels, 1)),
		ArrayLayers:   layers,
		Samples:       sampleCount(desc.Samples),
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage, desc.Format),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}
}

func sampleCount(n uint32) core1_0.SampleCountFlags {
	switch n {
	case 2:
		return core1_0.Samples2
	case 4:
		return core1_0.Samples4
	case 8:
		return core1_0.Samples8
	default:
		return core1_0.Samples1
	}
}

func (d *device) CreateTexture(desc *hal.TextureDescriptor, mem hal.Memory, offset uint64) (hal.Texture, error) {
	img, res, err := d.vk.CreateImage(nil, imageCreateInfo(desc))
	if err != nil {
		return nil, mapResultError(res, err)
	}
	res, err = img.BindImageMemory(mem.(*deviceMemory).vk, int(offset))
	if err != nil {
		img.Destroy(nil)
		return nil, mapResultError(res, err)
	}
	view, err := d.createDefaultView(img, desc)
	if err != nil {
		img.Destroy(nil)
		return nil, err
	}
	return &textureHandle{vk: img, view: view, desc: *desc}, nil
}

func (d *device) createDefaultView(img core1_0.Image, desc *hal.TextureDescriptor) (core1_0.ImageView, error) {
	viewType := core1_0.ImageViewType2D
	layers := int(max(desc.Layers, 1))
	if layers > 1 {
		viewType = core1_0.ImageViewType2DArray
	}
	view, res, err := d.vk.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    img,
		ViewType: viewType,
		Format:   vkFormat(desc.Format),
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     imageAspect(desc.Format),
			BaseMipLevel:   0,
			LevelCount:     int(max(desc.MipLevels, 1)),
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return view, nil
}

func (d *device) DestroyTexture(t hal.Texture) {
	h := t.(*textureHandle)
	d.dropFramebuffers(h.view)
	h.view.Destroy(nil)
	if !h.imported {
		h.vk.Destroy(nil)
	}
}

// ImportTexture is not expressible through the portable loader alone;
// swapchain integration carries its own image handles.
func (d *device) ImportTexture(handle uintptr, desc *hal.TextureDescriptor) (hal.Texture, error) {
	return nil, hal.ErrUnsupported
}

func (d *device) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	s, res, err := d.vk.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:        filterMode(desc.MagFilter),
		MinFilter:        filterMode(desc.MinFilter),
		MipmapMode:       mipmapMode(desc.MipFilter),
		AddressModeU:     addressMode(desc.AddressModeU),
		AddressModeV:     addressMode(desc.AddressModeV),
		AddressModeW:     addressMode(desc.AddressModeW),
		MinLod:           desc.LodMin,
		MaxLod:           desc.LodMax,
		AnisotropyEnable: desc.MaxAnisotropy > 1,
		MaxAnisotropy:    float32(desc.MaxAnisotropy),
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return &samplerHandle{vk: s}, nil
}

type samplerHandle struct {
	hal.Marker
	vk core1_0.Sampler
}

func (d *device) DestroySampler(s hal.Sampler) {
	s.(*samplerHandle).vk.Destroy(nil)
}

type shaderModuleHandle struct {
	hal.Marker
	vk core1_0.ShaderModule
}

func (d *device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	mod, res, err := d.vk.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: desc.SPIRV,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return &shaderModuleHandle{vk: mod}, nil
}

func (d *device) DestroyShaderModule(m hal.ShaderModule) {
	m.(*shaderModuleHandle).vk.Destroy(nil)
}

type bindGroupLayoutHandle struct {
	hal.Marker
	vk      core1_0.DescriptorSetLayout
	entries []hal.BindGroupLayoutEntry
}

func (d *device) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	var bindings []core1_0.DescriptorSetLayoutBinding
	for _, e := range desc.Entries {
		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         int(e.Binding),
			DescriptorType:  descriptorType(e.Type),
			DescriptorCount: 1,
			StageFlags:      shaderStages(e.Visibility),
		})
	}
	layout, res, err := d.vk.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return &bindGroupLayoutHandle{
		vk:      layout,
		entries: append([]hal.BindGroupLayoutEntry(nil), desc.Entries...),
	}, nil
}

func (d *device) DestroyBindGroupLayout(l hal.BindGroupLayout) {
	l.(*bindGroupLayoutHandle).vk.Destroy(nil)
}

type bindGroupHandle struct {
	hal.Marker
	set  core1_0.DescriptorSet
	pool core1_0.DescriptorPool
}

func (d *device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	layout := desc.Layout.(*bindGroupLayoutHandle)

	// One small pool per group keeps freeing trivial; groups are
	// long-lived so pool churn stays low.
	var sizes []core1_0.DescriptorPoolSize
	for _, e := range layout.entries {
		sizes = append(sizes, core1_0.DescriptorPoolSize{
			Type:            descriptorType(e.Type),
			DescriptorCount: 1,
		})
	}
	pool, res, err := d.vk.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   1,
		PoolSizes: sizes,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}

	sets, res, err := d.vk.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout.vk},
	})
	if err != nil {
		pool.Destroy(nil)
		return nil, mapResultError(res, err)
	}
	set := sets[0]

	var writes []core1_0.WriteDescriptorSet
	for _, e := range desc.Entries {
		entry, ok := layoutEntry(layout.entries, e.Binding)
		if !ok {
			continue
		}
		write := core1_0.WriteDescriptorSet{
			DstSet:         set,
			DstBinding:     int(e.Binding),
			DescriptorType: descriptorType(entry.Type),
		}
		switch {
		case e.Buffer != nil:
			r := int(e.Range)
			if e.Range == 0 {
				r = -1
			}
			write.BufferInfo = []core1_0.DescriptorBufferInfo{{
				Buffer: e.Buffer.(*bufferHandle).vk,
				Offset: int(e.Offset),
				Range:  r,
			}}
		case e.Texture != nil:
			t := e.Texture.(*textureHandle)
			layoutForUse := core1_0.ImageLayoutShaderReadOnlyOptimal
			if entry.Type == hal.BindingStorageTexture {
				layoutForUse = core1_0.ImageLayoutGeneral
			}
			write.ImageInfo = []core1_0.DescriptorImageInfo{{
				ImageView:   t.view,
				ImageLayout: layoutForUse,
			}}
		case e.Sampler != nil:
			write.ImageInfo = []core1_0.DescriptorImageInfo{{
				Sampler: e.Sampler.(*samplerHandle).vk,
			}}
		}
		writes = append(writes, write)
	}
	if err := d.vk.UpdateDescriptorSets(writes, nil); err != nil {
		pool.Destroy(nil)
		return nil, err
	}
	return &bindGroupHandle{set: set, pool: pool}, nil
}

func layoutEntry(entries []hal.BindGroupLayoutEntry, binding uint32) (hal.BindGroupLayoutEntry, bool) {
	for _, e := range entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return hal.BindGroupLayoutEntry{}, false
}

func (d *device) DestroyBindGroup(g hal.BindGroup) {
	g.(*bindGroupHandle).pool.Destroy(nil)
}

type semaphoreHandle struct {
	hal.Marker
	vk core1_0.Semaphore
}

func (d *device) CreateSemaphore() (hal.Semaphore, error) {
	s, res, err := d.vk.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return &semaphoreHandle{vk: s}, nil
}

func (d *device) DestroySemaphore(s hal.Semaphore) {
	s.(*semaphoreHandle).vk.Destroy(nil)
}

// compatibleRenderPass returns a cached render pass for the given
// attachment shape. Passes cached with load/store ops baked in are
// keyed on those ops too, so clears reuse distinct passes.
func (d *device) compatibleRenderPass(colors []core1_0.AttachmentDescription, depth *core1_0.AttachmentDescription) (core1_0.RenderPass, error) {
	key := renderPassKey(colors, depth)
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if rp, ok := d.renderPasses[key]; ok {
		return rp, nil
	}

	attachments := append([]core1_0.AttachmentDescription(nil), colors...)
	var colorRefs []core1_0.AttachmentReference
	for i := range colors {
		colorRefs = append(colorRefs, core1_0.AttachmentReference{
			Attachment: i,
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		})
	}
	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
		ColorAttachments:  colorRefs,
	}
	if depth != nil {
		attachments = append(attachments, *depth)
		subpass.DepthStencilAttachment = &core1_0.AttachmentReference{
			Attachment: len(attachments) - 1,
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	rp, res, err := d.vk.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses:   []core1_0.SubpassDescription{subpass},
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	d.renderPasses[key] = rp
	return rp, nil
}

func renderPassKey(colors []core1_0.AttachmentDescription, depth *core1_0.AttachmentDescription) string {
	key := ""
	for _, c := range colors {
		key += fmt.Sprintf("c%d/%d/%d;", c.Format, c.LoadOp, c.StoreOp)
	}
	if depth != nil {
		key += fmt.Sprintf("d%d/%d/%d", depth.Format, depth.LoadOp, depth.StoreOp)
	}
	return key
}

func (d *device) framebuffer(rp core1_0.RenderPass, views []core1_0.ImageView, w, h int) (core1_0.Framebuffer, error) {
	key := fmt.Sprintf("%p/%dx%d", rp, w, h)
	for _, v := range views {
		key += fmt.Sprintf("/%p", v)
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if fb, ok := d.framebuffers[key]; ok {
		return fb, nil
	}
	fb, res, err := d.vk.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  rp,
		Attachments: views,
		Width:       w,
		Height:      h,
		Layers:      1,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	d.framebuffers[key] = fb
	return fb, nil
}

// dropFramebuffers evicts cached framebuffers referencing a view that
// is about to be destroyed.
func (d *device) dropFramebuffers(view core1_0.ImageView) {
	needle := fmt.Sprintf("/%p", view)
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	for key, fb := range d.framebuffers {
		if strings.Contains(key, needle) {
			fb.Destroy(nil)
			delete(d.framebuffers, key)
		}
	}
}

func (d *device) CreateCommandEncoder(label string) (hal.CommandEncoder, error) {
	// Encoders record on the first queue's pool; the generic layer
	// serializes encoder use, and submission targets any queue of a
	// family with compatible flags.
	q := d.queues[0]
	q.poolMu.Lock()
	cbs, res, err := d.vk.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        q.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	q.poolMu.Unlock()
	if err != nil {
		return nil, mapResultError(res, err)
	}
	cb := cbs[0]
	if res, err := cb.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}); err != nil {
		return nil, mapResultError(res, err)
	}
	return &commandEncoder{dev: d, cb: cb, label: label}, nil
}

func (d *device) Close() {
	for _, q := range d.queues {
		q.vk.WaitIdle()
		q.drainFences()
		if q.pool != nil {
			q.pool.Destroy(nil)
		}
	}
	d.cacheMu.Lock()
	for _, fb := range d.framebuffers {
		fb.Destroy(nil)
	}
	for _, rp := range d.renderPasses {
		rp.Destroy(nil)
	}
	d.cacheMu.Unlock()
	d.vk.Destroy(nil)
}
