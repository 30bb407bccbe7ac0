package mev

import (
	"fmt"

	"github.com/zakarumych/mev/hal"
)

// BindingLayoutEntry declares one slot of a binding-group layout.
type BindingLayoutEntry struct {
	// Binding is the slot index within the group.
	Binding uint32

	// Type is the resource class accepted at this slot.
	Type BindingType

	// Visibility is the set of stages that may access the slot.
	Visibility ShaderStages
}

// BindGroupLayoutDesc describes a binding-group layout.
type BindGroupLayoutDesc struct {
	Name    string
	Entries []BindingLayoutEntry
}

// validate checks the layout description in isolation.
func (d *BindGroupLayoutDesc) validate() error {
	seen := make(map[uint32]bool, len(d.Entries))
	for i, e := range d.Entries {
		if seen[e.Binding] {
			return &ValidationError{
				Field:  fmt.Sprintf("Entries[%d].Binding", i),
				Reason: fmt.Sprintf("duplicate binding %d", e.Binding),
			}
		}
		seen[e.Binding] = true
		if e.Visibility == 0 {
			return &ValidationError{
				Field:  fmt.Sprintf("Entries[%d].Visibility", i),
				Reason: "no stages",
			}
		}
	}
	return nil
}

// BindGroupLayout is an immutable binding-group layout.
type BindGroupLayout struct {
	dev     *Device
	handle  hal.BindGroupLayout
	name    string
	entries []BindingLayoutEntry
	state   resourceState
}

// Name returns the debug name.
func (l *BindGroupLayout) Name() string { return l.name }

// Entries returns the declared slots.
func (l *BindGroupLayout) Entries() []BindingLayoutEntry {
	return append([]BindingLayoutEntry(nil), l.entries...)
}

// entry looks up a slot by binding index.
func (l *BindGroupLayout) entry(binding uint32) (BindingLayoutEntry, bool) {
	for _, e := range l.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return BindingLayoutEntry{}, false
}

// Destroy releases the layout. Deferred while any submitted command
// buffer may still reference a pipeline or group built from it.
func (l *BindGroupLayout) Destroy() {
	if !l.state.markDestroyed() {
		return
	}
	handle := l.handle
	dev := l.dev
	dev.retireResource(&l.state, func() {
		dev.halDevice.DestroyBindGroupLayout(handle)
	})
}

// BindingResource is one resource slot of a bind group. Exactly one
// of Buffer, Texture and Sampler is set, matching the layout entry's
// type.
type BindingResource struct {
	Binding uint32

	Buffer *Buffer
	// Offset and Range select the bound byte window of Buffer.
	// Range 0 means to the end of the buffer.
	Offset uint64
	Range  uint64

	Texture *Texture
	Sampler *Sampler
}

// BindGroupDesc describes a bound resource set.
type BindGroupDesc struct {
	Name    string
	Layout  *BindGroupLayout
	Entries []BindingResource
}

// validate checks the group against its layout. Binding mismatches
// are creation-time errors, never silent no-ops.
func (d *BindGroupDesc) validate() error {
	if d.Layout == nil {
		return &ValidationError{Field: "Layout", Reason: "nil"}
	}
	if len(d.Entries) != len(d.Layout.entries) {
		return &ValidationError{
			Field:  "Entries",
			Reason: fmt.Sprintf("layout declares %d slots, got %d entries", len(d.Layout.entries), len(d.Entries)),
		}
	}
	for i, e := range d.Entries {
		le, ok := d.Layout.entry(e.Binding)
		if !ok {
			return &ValidationError{
				Field:  fmt.Sprintf("Entries[%d].Binding", i),
				Reason: fmt.Sprintf("binding %d not in layout", e.Binding),
			}
		}
		set := 0
		if e.Buffer != nil {
			set++
		}
		if e.Texture != nil {
			set++
		}
		if e.Sampler != nil {
			set++
		}
		if set != 1 {
			return &ValidationError{
				Field:  fmt.Sprintf("Entries[%d]", i),
				Reason: "exactly one of Buffer, Texture, Sampler must be set",
			}
		}
		switch le.Type {
		case BindingUniformBuffer, BindingStorageBuffer, BindingReadOnlyBuffer:
			if e.Buffer == nil {
				return &ValidationError{
					Field:  fmt.Sprintf("Entries[%d].Buffer", i),
					Reason: fmt.Sprintf("layout slot %d wants a %s", e.Binding, le.Type),
				}
			}
			if e.Buffer.isDestroyed() {
				return &ValidationError{Field: fmt.Sprintf("Entries[%d].Buffer", i), Reason: "destroyed"}
			}
			end := e.Offset + e.Range
			if e.Range == 0 {
				end = e.Buffer.Size()
			}
			if e.Offset > e.Buffer.Size() || end > e.Buffer.Size() {
				return &ValidationError{
					Field:  fmt.Sprintf("Entries[%d].Range", i),
					Reason: fmt.Sprintf("window [%d, %d) outside buffer of %d bytes", e.Offset, end, e.Buffer.Size()),
				}
			}
			want := BufferUsageUniform
			if le.Type != BindingUniformBuffer {
				want = BufferUsageStorage
			}
			if e.Buffer.Usage()&want == 0 {
				return &ValidationError{
					Field:  fmt.Sprintf("Entries[%d].Buffer", i),
					Reason: fmt.Sprintf("buffer lacks usage for %s binding", le.Type),
				}
			}
		case BindingSampledTexture, BindingStorageTexture:
			if e.Texture == nil {
				return &ValidationError{
					Field:  fmt.Sprintf("Entries[%d].Texture", i),
					Reason: fmt.Sprintf("layout slot %d wants a %s", e.Binding, le.Type),
				}
			}
			if e.Texture.isDestroyed() {
				return &ValidationError{Field: fmt.Sprintf("Entries[%d].Texture", i), Reason: "destroyed"}
			}
			want := TextureUsageSampled
			if le.Type == BindingStorageTexture {
				want = TextureUsageStorage
			}
			if e.Texture.Usage()&want == 0 {
				return &ValidationError{
					Field:  fmt.Sprintf("Entries[%d].Texture", i),
					Reason: fmt.Sprintf("texture lacks usage for %s binding", le.Type),
				}
			}
		case BindingSampler:
			if e.Sampler == nil {
				return &ValidationError{
					Field:  fmt.Sprintf("Entries[%d].Sampler", i),
					Reason: fmt.Sprintf("layout slot %d wants a sampler", e.Binding),
				}
			}
		}
	}
	return nil
}

// BindGroup is an immutable bound resource set.
type BindGroup struct {
	dev    *Device
	handle hal.BindGroup
	name   string
	layout *BindGroupLayout

	// refs keeps the bound resources' states for lifetime tracking
	// when a command buffer referencing the group is submitted.
	refs []*resourceState

	state resourceState
}

// Name returns the debug name.
func (g *BindGroup) Name() string { return g.name }

// Layout returns the layout the group was created against.
func (g *BindGroup) Layout() *BindGroupLayout { return g.layout }

// Destroy releases the group. The bound resources themselves are not
// destroyed.
func (g *BindGroup) Destroy() {
	if !g.state.markDestroyed() {
		return
	}
	handle := g.handle
	dev := g.dev
	dev.retireResource(&g.state, func() {
		dev.halDevice.DestroyBindGroup(handle)
	})
}
