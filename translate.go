package mev

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"

	"github.com/zakarumych/mev/hal"
)

// Backend shader limits checked during translation. These are the
// portable floors of both targets, not per-adapter maxima.
const (
	// maxPushConstantBytesSPIRV is the guaranteed push-constant budget
	// of the explicit backend.
	maxPushConstantBytesSPIRV = 128

	// maxPushConstantBytesMSL is the budget of the buffer-backed
	// constant path on the tile-based backend.
	maxPushConstantBytesMSL = 4096

	// maxBindGroups is the number of binding groups a layout may use.
	maxBindGroups = 4

	// Argument-table sizes of the tile-based backend. One buffer slot
	// is reserved for push constants.
	maxMSLBuffers  = 31
	maxMSLTextures = 96
	maxMSLSamplers = 16
)

// ResolvedBinding maps one module binding to its backend-native slot.
//
// For the explicit backend the slot is the (group, binding) pair
// itself, carried through to descriptor registers. For the implicit
// backend the slot is an index into the per-stage argument table of
// the binding's resource class.
type ResolvedBinding struct {
	Group   uint32
	Binding uint32
	Type    BindingType

	// Slot is the native index: the descriptor binding for SPIR-V
	// output, the argument-table index for MSL output.
	Slot uint32
}

// NativeShader is the translation result for one entry point: native
// code plus the binding table the backend binds resources with.
type NativeShader struct {
	Target hal.ShaderTarget

	// Entry is the entry point name in the native code.
	Entry string

	// SPIRV holds the code words when Target is TargetSPIRV.
	SPIRV []uint32

	// MSL holds the source text when Target is TargetMSL.
	MSL string

	// Bindings is the resolved binding table, ordered by (group,
	// binding).
	Bindings []ResolvedBinding

	// PushConstants are the module's blocks, byte offsets preserved.
	PushConstants []PushConstantBlock
}

// PipelineLayoutDesc declares the binding groups and push-constant
// ranges a pipeline's shaders resolve against.
type PipelineLayoutDesc struct {
	Groups        []*BindGroupLayout
	PushConstants []PushConstantRange
}

// PushConstantRange declares a push-constant window of a pipeline
// layout.
type PushConstantRange struct {
	Stages ShaderStages
	Offset uint32
	Size   uint32
}

// validate checks the layout in isolation.
func (d *PipelineLayoutDesc) validate() error {
	if len(d.Groups) > maxBindGroups {
		return &ValidationError{
			Field:  "Groups",
			Reason: fmt.Sprintf("%d binding groups, limit is %d", len(d.Groups), maxBindGroups),
		}
	}
	for i, g := range d.Groups {
		if g == nil {
			return &ValidationError{Field: fmt.Sprintf("Groups[%d]", i), Reason: "nil"}
		}
		if g.state.isDestroyed() {
			return &ValidationError{Field: fmt.Sprintf("Groups[%d]", i), Reason: "destroyed"}
		}
	}
	for i, pc := range d.PushConstants {
		if pc.Size == 0 || pc.Size%4 != 0 || pc.Offset%4 != 0 {
			return &ValidationError{
				Field:  fmt.Sprintf("PushConstants[%d]", i),
				Reason: "offset and size must be non-zero multiples of 4",
			}
		}
	}
	return nil
}

// pushConstantBytes returns the end of the highest range.
func (d *PipelineLayoutDesc) pushConstantBytes() uint32 {
	var end uint32
	for _, pc := range d.PushConstants {
		if pc.Offset+pc.Size > end {
			end = pc.Offset + pc.Size
		}
	}
	return end
}

// entry finds the layout slot for a module binding.
func (d *PipelineLayoutDesc) entry(group, binding uint32) (BindingLayoutEntry, bool) {
	if int(group) >= len(d.Groups) {
		return BindingLayoutEntry{}, false
	}
	return d.Groups[group].entry(binding)
}

// Translate converts an intermediate shader module into backend-native
// code for one entry point, resolving every declared binding to a
// concrete native slot against the given layout.
//
// Translation is deterministic: identical module, target, entry point
// and layout always produce bit-identical output, so results are safe
// to cache by content.
func Translate(m *ShaderModule, target hal.ShaderTarget, entry string, layout *PipelineLayoutDesc) (*NativeShader, error) {
	if m == nil {
		return nil, &TranslationError{Entry: entry, Target: target.String(), Reason: "nil module"}
	}
	ep, ok := m.entryPoint(entry)
	if !ok {
		return nil, &TranslationError{
			Entry:  entry,
			Target: target.String(),
			Reason: fmt.Sprintf("module %q declares no entry point %q", m.name, entry),
		}
	}
	if layout == nil {
		layout = &PipelineLayoutDesc{}
	}

	bindings, err := resolveBindings(m, target, ep.Stage, layout)
	if err != nil {
		return nil, err
	}
	if err := checkPushConstants(m, target, ep.Stage, layout, entry); err != nil {
		return nil, err
	}

	out := &NativeShader{
		Target:        target,
		Entry:         entry,
		Bindings:      bindings,
		PushConstants: stagePushConstants(m, ep.Stage),
	}

	switch target {
	case hal.TargetSPIRV:
		words, err := moduleSPIRV(m)
		if err != nil {
			return nil, &TranslationError{Entry: entry, Target: target.String(), Reason: "emit spir-v", Err: err}
		}
		out.SPIRV = words

	case hal.TargetMSL:
		if m.ir == nil {
			return nil, &TranslationError{
				Entry:  entry,
				Target: target.String(),
				Reason: "msl output requires a module built from WGSL source",
			}
		}
		pipe := msl.PipelineOptions{
			EntryPoint: &msl.EntryPointSelector{Stage: irStage(ep.Stage), Name: entry},
		}
		src, _, err := msl.CompileWithPipeline(m.ir, msl.DefaultOptions(), pipe)
		if err != nil {
			return nil, &TranslationError{Entry: entry, Target: target.String(), Reason: "emit msl", Err: err}
		}
		out.MSL = src

	case hal.TargetNone:
		// Headless backend consumes no native code; the resolved
		// binding table is still produced for validation parity.

	default:
		return nil, &TranslationError{
			Entry:  entry,
			Target: target.String(),
			Reason: fmt.Sprintf("unknown target %d", target),
		}
	}

	return out, nil
}

// irStage maps a single stage bit onto the IR stage enumeration.
func irStage(s ShaderStages) ir.ShaderStage {
	switch s {
	case StageFragment:
		return ir.StageFragment
	case StageCompute:
		return ir.StageCompute
	default:
		return ir.StageVertex
	}
}

// resolveBindings maps every module binding visible to stage onto a
// native slot, validating it against the layout.
func resolveBindings(m *ShaderModule, target hal.ShaderTarget, stage ShaderStages, layout *PipelineLayoutDesc) ([]ResolvedBinding, error) {
	used := make([]ShaderBinding, 0, len(m.bindings))
	for _, b := range m.bindings {
		if b.Stages&stage != 0 {
			used = append(used, b)
		}
	}
	sort.Slice(used, func(i, j int) bool {
		if used[i].Group != used[j].Group {
			return used[i].Group < used[j].Group
		}
		return used[i].Binding < used[j].Binding
	})

	// Argument-table slots are a pure function of the layout so the
	// backend can recompute the same table when binding groups without
	// seeing the module.
	var mslSlots map[[2]uint32]uint32
	if target == hal.TargetMSL {
		var err error
		mslSlots, err = argumentTableSlots(stage, layout)
		if err != nil {
			return nil, err
		}
	}

	resolved := make([]ResolvedBinding, 0, len(used))
	for _, b := range used {
		le, ok := layout.entry(b.Group, b.Binding)
		if !ok {
			return nil, &TranslationError{
				Target: target.String(),
				Reason: fmt.Sprintf("binding (group=%d, binding=%d) not in layout", b.Group, b.Binding),
			}
		}
		if le.Type != b.Type {
			return nil, &TranslationError{
				Target: target.String(),
				Reason: fmt.Sprintf("binding (group=%d, binding=%d) is %s in module, %s in layout",
					b.Group, b.Binding, b.Type, le.Type),
			}
		}
		if le.Visibility&stage == 0 {
			return nil, &TranslationError{
				Target: target.String(),
				Reason: fmt.Sprintf("binding (group=%d, binding=%d) not visible to the stage", b.Group, b.Binding),
			}
		}

		r := ResolvedBinding{Group: b.Group, Binding: b.Binding, Type: b.Type}
		switch target {
		case hal.TargetMSL:
			r.Slot = mslSlots[[2]uint32{b.Group, b.Binding}]
		default:
			// Explicit model: descriptor register index is the binding
			// itself, the group selects the set.
			r.Slot = b.Binding
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

// argumentTableSlots assigns a per-stage argument-table index to every
// layout entry visible to the stage, walking groups in declaration
// order and bindings in ascending order within each group. Buffer
// index 0 is reserved for the push-constant buffer when the layout
// declares any push constants.
func argumentTableSlots(stage ShaderStages, layout *PipelineLayoutDesc) (map[[2]uint32]uint32, error) {
	nextBuffer := uint32(0)
	if len(layout.PushConstants) > 0 {
		nextBuffer = 1
	}
	var nextTexture, nextSampler uint32

	slots := make(map[[2]uint32]uint32)
	for gi, g := range layout.Groups {
		entries := g.Entries()
		sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
		for _, e := range entries {
			if e.Visibility&stage == 0 {
				continue
			}
			key := [2]uint32{uint32(gi), e.Binding}
			switch e.Type {
			case BindingUniformBuffer, BindingStorageBuffer, BindingReadOnlyBuffer:
				if nextBuffer >= maxMSLBuffers {
					return nil, &TranslationError{Target: "msl", Reason: "argument table buffer slots exhausted"}
				}
				slots[key] = nextBuffer
				nextBuffer++
			case BindingSampledTexture, BindingStorageTexture:
				if nextTexture >= maxMSLTextures {
					return nil, &TranslationError{Target: "msl", Reason: "argument table texture slots exhausted"}
				}
				slots[key] = nextTexture
				nextTexture++
			case BindingSampler:
				if nextSampler >= maxMSLSamplers {
					return nil, &TranslationError{Target: "msl", Reason: "argument table sampler slots exhausted"}
				}
				slots[key] = nextSampler
				nextSampler++
			}
		}
	}
	return slots, nil
}

// checkPushConstants validates the module's blocks against the layout
// and the target's budget.
func checkPushConstants(m *ShaderModule, target hal.ShaderTarget, stage ShaderStages, layout *PipelineLayoutDesc, entry string) error {
	budget := uint32(maxPushConstantBytesSPIRV)
	if target == hal.TargetMSL {
		budget = maxPushConstantBytesMSL
	}
	for _, pc := range m.pushConstants {
		if pc.Stages&stage == 0 {
			continue
		}
		if pc.Offset+pc.Size > budget {
			return &TranslationError{
				Entry:  entry,
				Target: target.String(),
				Reason: fmt.Sprintf("push constants end at byte %d, target budget is %d", pc.Offset+pc.Size, budget),
			}
		}
		if !layout.coversPushConstants(pc, stage) {
			return &TranslationError{
				Entry:  entry,
				Target: target.String(),
				Reason: fmt.Sprintf("push-constant block [%d, %d) not covered by the layout", pc.Offset, pc.Offset+pc.Size),
			}
		}
	}
	if end := layout.pushConstantBytes(); end > budget {
		return &TranslationError{
			Entry:  entry,
			Target: target.String(),
			Reason: fmt.Sprintf("layout push constants end at byte %d, target budget is %d", end, budget),
		}
	}
	return nil
}

// coversPushConstants reports whether one layout range contains the
// block for the stage.
func (d *PipelineLayoutDesc) coversPushConstants(pc PushConstantBlock, stage ShaderStages) bool {
	for _, r := range d.PushConstants {
		if r.Stages&stage == 0 {
			continue
		}
		if r.Offset <= pc.Offset && pc.Offset+pc.Size <= r.Offset+r.Size {
			return true
		}
	}
	return false
}

// stagePushConstants returns the module blocks visible to stage.
func stagePushConstants(m *ShaderModule, stage ShaderStages) []PushConstantBlock {
	var out []PushConstantBlock
	for _, pc := range m.pushConstants {
		if pc.Stages&stage != 0 {
			out = append(out, pc)
		}
	}
	return out
}

// moduleSPIRV returns the module as SPIR-V words, compiling WGSL
// source on first use.
func moduleSPIRV(m *ShaderModule) ([]uint32, error) {
	if len(m.spirv) > 0 {
		return m.spirv, nil
	}
	raw, err := naga.Compile(m.wgsl)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("spir-v output is %d bytes, not word aligned", len(raw))
	}
	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = uint32(raw[i*4]) |
			uint32(raw[i*4+1])<<8 |
			uint32(raw[i*4+2])<<16 |
			uint32(raw[i*4+3])<<24
	}
	return words, nil
}

// translationKey is a content-derived cache key: identical inputs hash
// identically, which together with deterministic translation makes
// cached results indistinguishable from fresh ones.
func translationKey(m *ShaderModule, target hal.ShaderTarget, entry string, layout *PipelineLayoutDesc) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.wgsl))
	for _, w := range m.spirv {
		_, _ = h.Write([]byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)})
	}
	for _, b := range m.bindings {
		fmt.Fprintf(h, "b%d.%d.%d.%d", b.Group, b.Binding, b.Type, b.Stages)
	}
	for _, pc := range m.pushConstants {
		fmt.Fprintf(h, "p%d.%d.%d", pc.Offset, pc.Size, pc.Stages)
	}
	if layout != nil {
		for _, g := range layout.Groups {
			for _, e := range g.entries {
				fmt.Fprintf(h, "g%d.%d.%d", e.Binding, e.Type, e.Visibility)
			}
			_, _ = h.Write([]byte{'/'})
		}
		for _, pc := range layout.PushConstants {
			fmt.Fprintf(h, "r%d.%d.%d", pc.Offset, pc.Size, pc.Stages)
		}
	}
	return fmt.Sprintf("%d/%s/%016x", target, entry, h.Sum64())
}
