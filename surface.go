package mev

// Presentation stays outside this layer: a windowing or compositor
// integration owns the swapchain and hands its drawables in through
// ImportDrawable. The imported texture behaves like any other render
// attachment except that its memory is externally owned.

// ImportDrawable wraps an externally owned native texture, such as a
// swapchain image or CAMetalLayer drawable, as a Texture. The handle
// is backend-specific: a VkImage for the explicit backend, an
// id<MTLTexture> for the tile-based one.
//
// The allocator never touches imported memory; Destroy releases only
// the wrapper, deferred while the texture is referenced by submitted
// work. The caller must keep the native object alive until then.
func (d *Device) ImportDrawable(handle uintptr, desc TextureDesc) (*Texture, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	if handle == 0 {
		return nil, &ValidationError{Field: "handle", Reason: "zero native handle"}
	}
	desc.normalize()
	if err := desc.validate(); err != nil {
		return nil, err
	}
	if desc.Usage&TextureUsageRenderAttachment == 0 {
		return nil, &ValidationError{Field: "Usage", Reason: "drawables need RenderAttachment usage"}
	}

	halHandle, err := d.halDevice.ImportTexture(handle, desc.halDesc())
	if err != nil {
		return nil, d.wrapHALError("import drawable", err)
	}
	return &Texture{dev: d, handle: halHandle, desc: desc, imported: true}, nil
}
