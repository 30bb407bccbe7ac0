package mev

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

// testLayout creates a bind group layout from entries.
func testLayout(t *testing.T, dev *Device, entries ...BindingLayoutEntry) *BindGroupLayout {
	t.Helper()
	l, err := dev.CreateBindGroupLayout(BindGroupLayoutDesc{Name: t.Name(), Entries: entries})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout failed: %v", err)
	}
	t.Cleanup(l.Destroy)
	return l
}

func TestBindGroupLayoutValidation(t *testing.T) {
	dev := newTestDevice(t)

	_, err := dev.CreateBindGroupLayout(BindGroupLayoutDesc{Entries: []BindingLayoutEntry{
		{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex},
		{Binding: 0, Type: BindingSampler, Visibility: StageFragment},
	}})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("duplicate binding = %v, want *ValidationError", err)
	}

	_, err = dev.CreateBindGroupLayout(BindGroupLayoutDesc{Entries: []BindingLayoutEntry{
		{Binding: 0, Type: BindingUniformBuffer},
	}})
	if !errors.As(err, &ve) {
		t.Errorf("zero visibility = %v, want *ValidationError", err)
	}
}

func TestCreateBindGroup(t *testing.T) {
	dev := newTestDevice(t)

	layout := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex},
		BindingLayoutEntry{Binding: 1, Type: BindingSampledTexture, Visibility: StageFragment},
		BindingLayoutEntry{Binding: 2, Type: BindingSampler, Visibility: StageFragment},
	)

	ubo := testBuffer(t, dev, 256, BufferUsageUniform)
	tex, err := dev.CreateTexture(TextureDesc{
		Size:   Extent3D{Width: 8, Height: 8},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer tex.Destroy()
	smp, err := dev.CreateSampler(SamplerDesc{})
	if err != nil {
		t.Fatalf("CreateSampler failed: %v", err)
	}
	defer smp.Destroy()

	group, err := dev.CreateBindGroup(BindGroupDesc{
		Name:   "full",
		Layout: layout,
		Entries: []BindingResource{
			{Binding: 0, Buffer: ubo},
			{Binding: 1, Texture: tex},
			{Binding: 2, Sampler: smp},
		},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup failed: %v", err)
	}
	defer group.Destroy()

	if group.Layout() != layout {
		t.Error("Layout() does not return the creating layout")
	}
	if group.Name() != "full" {
		t.Errorf("Name() = %q, want %q", group.Name(), "full")
	}
}

func TestBindGroupValidation(t *testing.T) {
	dev := newTestDevice(t)

	layout := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex},
	)
	storageLayout := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingStorageBuffer, Visibility: StageCompute},
	)

	ubo := testBuffer(t, dev, 64, BufferUsageUniform)
	tex, err := dev.CreateTexture(TextureDesc{
		Size:   Extent3D{Width: 8, Height: 8},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer tex.Destroy()

	tests := []struct {
		name string
		desc BindGroupDesc
	}{
		{
			name: "nil layout",
			desc: BindGroupDesc{Entries: []BindingResource{{Binding: 0, Buffer: ubo}}},
		},
		{
			name: "entry count mismatch",
			desc: BindGroupDesc{Layout: layout},
		},
		{
			name: "binding not in layout",
			desc: BindGroupDesc{Layout: layout, Entries: []BindingResource{
				{Binding: 7, Buffer: ubo},
			}},
		},
		{
			name: "wrong resource class",
			desc: BindGroupDesc{Layout: layout, Entries: []BindingResource{
				{Binding: 0, Texture: tex},
			}},
		},
		{
			name: "two resources in one entry",
			desc: BindGroupDesc{Layout: layout, Entries: []BindingResource{
				{Binding: 0, Buffer: ubo, Texture: tex},
			}},
		},
		{
			name: "buffer window out of range",
			desc: BindGroupDesc{Layout: layout, Entries: []BindingResource{
				{Binding: 0, Buffer: ubo, Offset: 32, Range: 64},
			}},
		},
		{
			name: "uniform buffer lacks storage usage",
			desc: BindGroupDesc{Layout: storageLayout, Entries: []BindingResource{
				{Binding: 0, Buffer: ubo},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.CreateBindGroup(tt.desc)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("CreateBindGroup = %v, want *ValidationError", err)
			}
		})
	}
}

func TestBindGroupBufferWindow(t *testing.T) {
	dev := newTestDevice(t)

	layout := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex},
	)
	ubo := testBuffer(t, dev, 256, BufferUsageUniform)

	// Range 0 binds to the end of the buffer.
	group, err := dev.CreateBindGroup(BindGroupDesc{
		Layout:  layout,
		Entries: []BindingResource{{Binding: 0, Buffer: ubo, Offset: 128}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup with open range failed: %v", err)
	}
	group.Destroy()
}
