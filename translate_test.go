package mev

import (
	"errors"
	"testing"

	"github.com/gogpu/naga/ir"

	"github.com/zakarumych/mev/hal"
)

// TestStageLowering pins the mapping from stage bits to the compiler's
// stage enumeration used for per-entry-point MSL output.
func TestStageLowering(t *testing.T) {
	tests := []struct {
		stage ShaderStages
		want  ir.ShaderStage
	}{
		{StageVertex, ir.StageVertex},
		{StageFragment, ir.StageFragment},
		{StageCompute, ir.StageCompute},
	}
	for _, tt := range tests {
		if got := irStage(tt.stage); got != tt.want {
			t.Errorf("irStage(%v) = %v, want %v", tt.stage, got, tt.want)
		}
	}
}

// spirvModule builds a module from pre-compiled SPIR-V words with the
// given interface declarations.
func spirvModule(t *testing.T, desc ShaderModuleDesc) *ShaderModule {
	t.Helper()
	if len(desc.SPIRV) == 0 {
		desc.SPIRV = []uint32{0x07230203, 0x00010000, 0, 4, 0}
	}
	m, err := NewShaderModule(desc)
	if err != nil {
		t.Fatalf("NewShaderModule failed: %v", err)
	}
	return m
}

func TestNewShaderModuleValidation(t *testing.T) {
	spirv := []uint32{0x07230203}
	vs := []EntryPoint{{Name: "vs_main", Stage: StageVertex}}

	tests := []struct {
		name string
		desc ShaderModuleDesc
	}{
		{
			name: "no source",
			desc: ShaderModuleDesc{EntryPoints: vs},
		},
		{
			name: "both sources",
			desc: ShaderModuleDesc{WGSL: "fn main() {}", SPIRV: spirv, EntryPoints: vs},
		},
		{
			name: "no entry points",
			desc: ShaderModuleDesc{SPIRV: spirv},
		},
		{
			name: "empty entry point name",
			desc: ShaderModuleDesc{SPIRV: spirv, EntryPoints: []EntryPoint{{Stage: StageVertex}}},
		},
		{
			name: "duplicate entry point",
			desc: ShaderModuleDesc{SPIRV: spirv, EntryPoints: []EntryPoint{
				{Name: "main", Stage: StageVertex},
				{Name: "main", Stage: StageFragment},
			}},
		},
		{
			name: "duplicate binding",
			desc: ShaderModuleDesc{SPIRV: spirv, EntryPoints: vs, Bindings: []ShaderBinding{
				{Group: 0, Binding: 1, Type: BindingUniformBuffer, Stages: StageVertex},
				{Group: 0, Binding: 1, Type: BindingSampler, Stages: StageVertex},
			}},
		},
		{
			name: "zero push constant size",
			desc: ShaderModuleDesc{SPIRV: spirv, EntryPoints: vs, PushConstants: []PushConstantBlock{
				{Offset: 0, Size: 0, Stages: StageVertex},
			}},
		},
		{
			name: "unaligned push constant",
			desc: ShaderModuleDesc{SPIRV: spirv, EntryPoints: vs, PushConstants: []PushConstantBlock{
				{Offset: 2, Size: 8, Stages: StageVertex},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShaderModule(tt.desc)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("NewShaderModule = %v, want *ValidationError", err)
			}
		})
	}
}

func TestTranslateResolvesBindings(t *testing.T) {
	dev := newTestDevice(t)

	m := spirvModule(t, ShaderModuleDesc{
		Name:        "bindings",
		EntryPoints: []EntryPoint{{Name: "vs_main", Stage: StageVertex}},
		Bindings: []ShaderBinding{
			{Group: 0, Binding: 3, Type: BindingSampledTexture, Stages: StageVertex},
			{Group: 0, Binding: 1, Type: BindingUniformBuffer, Stages: StageVertex},
			{Group: 1, Binding: 0, Type: BindingStorageBuffer, Stages: StageCompute},
		},
	})
	layout := &PipelineLayoutDesc{Groups: []*BindGroupLayout{
		testLayout(t, dev,
			BindingLayoutEntry{Binding: 1, Type: BindingUniformBuffer, Visibility: StageVertex},
			BindingLayoutEntry{Binding: 3, Type: BindingSampledTexture, Visibility: StageVertex},
		),
	}}

	ns, err := Translate(m, hal.TargetNone, "vs_main", layout)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if ns.Entry != "vs_main" {
		t.Errorf("Entry = %q, want %q", ns.Entry, "vs_main")
	}
	// The compute-only binding is filtered out, the rest come back
	// ordered by (group, binding) with the binding index as slot.
	if len(ns.Bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(ns.Bindings))
	}
	if ns.Bindings[0].Binding != 1 || ns.Bindings[1].Binding != 3 {
		t.Errorf("bindings out of order: %+v", ns.Bindings)
	}
	if ns.Bindings[0].Slot != 1 || ns.Bindings[1].Slot != 3 {
		t.Errorf("explicit-model slots = %d, %d; want 1, 3", ns.Bindings[0].Slot, ns.Bindings[1].Slot)
	}
}

func TestTranslateSPIRVPassthrough(t *testing.T) {
	words := []uint32{0x07230203, 0x00010000, 7, 11, 13}
	m := spirvModule(t, ShaderModuleDesc{
		SPIRV:       words,
		EntryPoints: []EntryPoint{{Name: "main", Stage: StageCompute}},
	})
	ns, err := Translate(m, hal.TargetSPIRV, "main", nil)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(ns.SPIRV) != len(words) {
		t.Fatalf("SPIRV length = %d, want %d", len(ns.SPIRV), len(words))
	}
	for i, w := range words {
		if ns.SPIRV[i] != w {
			t.Fatalf("SPIRV[%d] = %#x, want %#x", i, ns.SPIRV[i], w)
		}
	}
}

func TestTranslateErrors(t *testing.T) {
	dev := newTestDevice(t)

	m := spirvModule(t, ShaderModuleDesc{
		EntryPoints: []EntryPoint{{Name: "main", Stage: StageVertex}},
		Bindings: []ShaderBinding{
			{Group: 0, Binding: 0, Type: BindingUniformBuffer, Stages: StageVertex},
		},
	})
	uniformLayout := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex},
	)
	samplerLayout := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingSampler, Visibility: StageVertex},
	)
	fragmentOnly := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageFragment},
	)

	tests := []struct {
		name   string
		entry  string
		layout *PipelineLayoutDesc
	}{
		{
			name:   "unknown entry point",
			entry:  "nope",
			layout: &PipelineLayoutDesc{Groups: []*BindGroupLayout{uniformLayout}},
		},
		{
			name:   "binding missing from layout",
			entry:  "main",
			layout: &PipelineLayoutDesc{},
		},
		{
			name:   "binding type mismatch",
			entry:  "main",
			layout: &PipelineLayoutDesc{Groups: []*BindGroupLayout{samplerLayout}},
		},
		{
			name:   "binding not visible to stage",
			entry:  "main",
			layout: &PipelineLayoutDesc{Groups: []*BindGroupLayout{fragmentOnly}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Translate(m, hal.TargetNone, tt.entry, tt.layout)
			var te *TranslationError
			if !errors.As(err, &te) {
				t.Errorf("Translate = %v, want *TranslationError", err)
			}
		})
	}
}

func TestTranslatePushConstantChecks(t *testing.T) {
	// A block past the explicit target's 128-byte budget.
	over := spirvModule(t, ShaderModuleDesc{
		EntryPoints: []EntryPoint{{Name: "main", Stage: StageVertex}},
		PushConstants: []PushConstantBlock{
			{Offset: 0, Size: 256, Stages: StageVertex},
		},
	})
	layout := &PipelineLayoutDesc{PushConstants: []PushConstantRange{
		{Stages: StageVertex, Offset: 0, Size: 256},
	}}
	var te *TranslationError
	if _, err := Translate(over, hal.TargetNone, "main", layout); !errors.As(err, &te) {
		t.Errorf("oversized push constants = %v, want *TranslationError", err)
	}

	// A block the layout does not cover.
	uncovered := spirvModule(t, ShaderModuleDesc{
		EntryPoints: []EntryPoint{{Name: "main", Stage: StageVertex}},
		PushConstants: []PushConstantBlock{
			{Offset: 0, Size: 16, Stages: StageVertex},
		},
	})
	if _, err := Translate(uncovered, hal.TargetNone, "main", &PipelineLayoutDesc{}); !errors.As(err, &te) {
		t.Errorf("uncovered push constants = %v, want *TranslationError", err)
	}

	// Covered and within budget passes, and the block survives
	// translation byte for byte.
	covered := &PipelineLayoutDesc{PushConstants: []PushConstantRange{
		{Stages: StageVertex, Offset: 0, Size: 64},
	}}
	ns, err := Translate(uncovered, hal.TargetNone, "main", covered)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(ns.PushConstants) != 1 || ns.PushConstants[0].Size != 16 {
		t.Errorf("PushConstants = %+v, want one 16-byte block", ns.PushConstants)
	}
}

// TestArgumentTableSlots checks the layout-driven slot assignment of
// the tile-based target: groups in declaration order, bindings
// ascending, one counter per resource class, buffer 0 reserved for
// push constants.
func TestArgumentTableSlots(t *testing.T) {
	dev := newTestDevice(t)

	g0 := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex | StageFragment},
		BindingLayoutEntry{Binding: 1, Type: BindingSampledTexture, Visibility: StageFragment},
		BindingLayoutEntry{Binding: 2, Type: BindingSampler, Visibility: StageFragment},
	)
	g1 := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingStorageBuffer, Visibility: StageFragment},
	)
	layout := &PipelineLayoutDesc{
		Groups: []*BindGroupLayout{g0, g1},
		PushConstants: []PushConstantRange{
			{Stages: StageFragment, Offset: 0, Size: 16},
		},
	}

	slots, err := argumentTableSlots(StageFragment, layout)
	if err != nil {
		t.Fatalf("argumentTableSlots failed: %v", err)
	}
	want := map[[2]uint32]uint32{
		{0, 0}: 1, // buffer 0 is the push-constant slot
		{0, 1}: 0, // first texture
		{0, 2}: 0, // first sampler
		{1, 0}: 2, // second buffer
	}
	for key, slot := range want {
		if got, ok := slots[key]; !ok || got != slot {
			t.Errorf("slot[%v] = %d (present %v), want %d", key, got, ok, slot)
		}
	}

	// The vertex stage sees only its own bindings. The push-constant
	// reservation still applies because the layout declares a range.
	vslots, err := argumentTableSlots(StageVertex, layout)
	if err != nil {
		t.Fatalf("argumentTableSlots(vertex) failed: %v", err)
	}
	if len(vslots) != 1 {
		t.Fatalf("vertex stage got %d slots, want 1", len(vslots))
	}
	if got := vslots[[2]uint32{0, 0}]; got != 1 {
		t.Errorf("vertex uniform slot = %d, want 1", got)
	}

	// Without push constants the buffer counter starts at 0.
	plain := &PipelineLayoutDesc{Groups: []*BindGroupLayout{g0, g1}}
	pslots, err := argumentTableSlots(StageFragment, plain)
	if err != nil {
		t.Fatalf("argumentTableSlots(plain) failed: %v", err)
	}
	if got := pslots[[2]uint32{0, 0}]; got != 0 {
		t.Errorf("buffer slot without push constants = %d, want 0", got)
	}
}

func TestTranslationKeyDeterministic(t *testing.T) {
	dev := newTestDevice(t)

	m := spirvModule(t, ShaderModuleDesc{
		EntryPoints: []EntryPoint{{Name: "main", Stage: StageCompute}},
		Bindings: []ShaderBinding{
			{Group: 0, Binding: 0, Type: BindingStorageBuffer, Stages: StageCompute},
		},
	})
	layout := &PipelineLayoutDesc{Groups: []*BindGroupLayout{
		testLayout(t, dev,
			BindingLayoutEntry{Binding: 0, Type: BindingStorageBuffer, Visibility: StageCompute},
		),
	}}

	k1 := translationKey(m, hal.TargetNone, "main", layout)
	k2 := translationKey(m, hal.TargetNone, "main", layout)
	if k1 != k2 {
		t.Errorf("identical inputs hash differently: %q vs %q", k1, k2)
	}
	if k3 := translationKey(m, hal.TargetSPIRV, "main", layout); k3 == k1 {
		t.Error("different targets share a cache key")
	}
	if k4 := translationKey(m, hal.TargetNone, "other", layout); k4 == k1 {
		t.Error("different entry points share a cache key")
	}
	if k5 := translationKey(m, hal.TargetNone, "main", &PipelineLayoutDesc{}); k5 == k1 {
		t.Error("different layouts share a cache key")
	}
}
