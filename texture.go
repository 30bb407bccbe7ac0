package mev

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/zakarumych/mev/hal"
)

// TextureDesc describes a texture to create.
type TextureDesc struct {
	// Size is the extent in texels. Depth doubles as array layer count
	// for 2D array textures.
	Size Extent3D

	// Format is the pixel format.
	Format PixelFormat

	// Dimension selects 1D, 2D or 3D. Zero value is 2D.
	Dimension gputypes.TextureDimension

	// MipLevels is the mip chain length. Zero means 1.
	MipLevels uint32

	// Layers is the array layer count. Zero means 1.
	Layers uint32

	// Samples is the MSAA sample count. Zero means 1.
	Samples uint32

	// Usage flags. The texture may only be used as declared here.
	Usage TextureUsage

	// Memory selects the backing memory locality. Textures are almost
	// always MemoryDevice; render targets that never leave tile memory
	// may use lazily allocated memory on the tile-based backend.
	Memory MemoryLocality

	// Name is an optional debug label.
	Name string
}

// Texture is a GPU image resource created from a Device, or an
// imported presentation drawable.
type Texture struct {
	dev      *Device
	handle   hal.Texture
	alloc    *allocation // nil for imported drawables
	desc     TextureDesc
	imported bool
	state    resourceState
}

// Size returns the texture extent.
func (t *Texture) Size() Extent3D { return t.desc.Size }

// Format returns the pixel format.
func (t *Texture) Format() PixelFormat { return t.desc.Format }

// Usage returns the usage flags the texture was created with.
func (t *Texture) Usage() TextureUsage { return t.desc.Usage }

// MipLevels returns the mip chain length.
func (t *Texture) MipLevels() uint32 { return t.desc.MipLevels }

// Layers returns the array layer count.
func (t *Texture) Layers() uint32 { return t.desc.Layers }

// Name returns the debug label.
func (t *Texture) Name() string { return t.desc.Name }

// Imported reports whether the texture wraps an external drawable.
// Imported textures are not owned by the allocator; Destroy releases
// only the wrapper.
func (t *Texture) Imported() bool { return t.imported }

// isDestroyed reports whether Destroy has been called.
func (t *Texture) isDestroyed() bool { return t.state.isDestroyed() }

// Destroy releases the texture, deferred while in flight.
func (t *Texture) Destroy() {
	if !t.state.markDestroyed() {
		return
	}
	t.dev.retireResource(&t.state, func() {
		t.dev.halDevice.DestroyTexture(t.handle)
		if t.alloc != nil {
			t.dev.alloc.free(t.alloc)
		}
	})
}

// normalize fills defaulted fields in place.
func (d *TextureDesc) normalize() {
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.Layers == 0 {
		d.Layers = 1
	}
	if d.Samples == 0 {
		d.Samples = 1
	}
	if d.Size.DepthOrArrayLayers == 0 {
		d.Size.DepthOrArrayLayers = 1
	}
}

// validate checks the descriptor as a unit before any native call.
func (d *TextureDesc) validate() error {
	if d.Size.Width == 0 || d.Size.Height == 0 {
		return &ValidationError{Field: "Size", Reason: "width and height must be positive"}
	}
	if d.Format == gputypes.TextureFormatUndefined {
		return &ValidationError{Field: "Format", Reason: "must not be undefined"}
	}
	if d.Usage == 0 {
		return &ValidationError{Field: "Usage", Reason: "at least one usage flag is required"}
	}
	if d.Usage&TextureUsageRenderAttachment != 0 && d.Samples > 1 && d.MipLevels > 1 {
		return &ValidationError{Field: "MipLevels", Reason: "multisampled render targets cannot have mip chains"}
	}
	if isDepthFormat(d.Format) && d.Usage&TextureUsageStorage != 0 {
		return &ValidationError{Field: "Usage", Reason: "depth formats cannot be used as storage textures"}
	}
	if d.Memory > MemoryDownload {
		return &ValidationError{Field: "Memory", Reason: fmt.Sprintf("unknown locality %d", d.Memory)}
	}
	if d.Memory != MemoryDevice && d.Usage&(TextureUsageRenderAttachment|TextureUsageStorage) != 0 {
		return &ValidationError{Field: "Memory", Reason: "render-target and storage textures require device-local memory"}
	}
	return nil
}

// halDesc converts the descriptor for the backend.
func (d *TextureDesc) halDesc() *hal.TextureDescriptor {
	return &hal.TextureDescriptor{
		Label:     d.Name,
		Size:      d.Size,
		Format:    d.Format,
		Dimension: d.Dimension,
		MipLevels: d.MipLevels,
		Layers:    d.Layers,
		Samples:   d.Samples,
		Usage:     d.Usage,
	}
}

// SamplerDesc describes an immutable sampler.
type SamplerDesc struct {
	MinFilter     gputypes.FilterMode
	MagFilter     gputypes.FilterMode
	MipFilter     gputypes.FilterMode
	AddressModeU  gputypes.AddressMode
	AddressModeV  gputypes.AddressMode
	AddressModeW  gputypes.AddressMode
	LodMin        float32
	LodMax        float32
	MaxAnisotropy uint16
	Name          string
}

// Sampler is an immutable sampler object.
type Sampler struct {
	dev    *Device
	handle hal.Sampler
	state  resourceState
}

// Destroy releases the sampler, deferred while in flight.
func (s *Sampler) Destroy() {
	if !s.state.markDestroyed() {
		return
	}
	s.dev.retireResource(&s.state, func() {
		s.dev.halDevice.DestroySampler(s.handle)
	})
}
