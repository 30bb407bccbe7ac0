package mev

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/zakarumych/mev/hal"
)

// BindingType classifies one entry of a binding-table layout.
type BindingType = hal.BindingType

// Binding type values.
const (
	BindingUniformBuffer  = hal.BindingUniformBuffer
	BindingStorageBuffer  = hal.BindingStorageBuffer
	BindingReadOnlyBuffer = hal.BindingReadOnlyStorageBuffer
	BindingSampledTexture = hal.BindingSampledTexture
	BindingStorageTexture = hal.BindingStorageTexture
	BindingSampler        = hal.BindingSampler
)

// EntryPoint names one shader entry point and its stage.
type EntryPoint struct {
	Name  string
	Stage ShaderStages
}

// ShaderBinding declares one resource binding used by a shader module.
type ShaderBinding struct {
	// Group is the binding group (descriptor set) index.
	Group uint32

	// Binding is the slot within the group.
	Binding uint32

	// Type is the resource class bound at this slot.
	Type BindingType

	// Stages is the set of stages that access the binding.
	Stages ShaderStages
}

// PushConstantBlock declares one push-constant range used by a shader
// module. Offsets and sizes are bytes and are preserved exactly
// through translation.
type PushConstantBlock struct {
	Offset uint32
	Size   uint32
	Stages ShaderStages
}

// ShaderModuleDesc describes an intermediate shader module.
//
// Exactly one of WGSL and SPIRV must be set. The declared entry
// points, bindings and push constants form the module's interface;
// translation and pipeline validation are checked against these
// declarations rather than re-deriving them from the code.
type ShaderModuleDesc struct {
	Name string

	// WGSL is the module source in WGSL.
	WGSL string

	// SPIRV is the module as SPIR-V words, already validated by the
	// producing toolchain.
	SPIRV []uint32

	EntryPoints   []EntryPoint
	Bindings      []ShaderBinding
	PushConstants []PushConstantBlock
}

// ShaderModule is a validated, backend-independent shader module.
// Immutable once created. It is consumed by translation during
// pipeline creation and is not retained by pipelines afterwards.
type ShaderModule struct {
	name string

	wgsl  string
	spirv []uint32
	ir    *ir.Module

	entryPoints   []EntryPoint
	bindings      []ShaderBinding
	pushConstants []PushConstantBlock
}

// NewShaderModule validates a module description and builds the
// intermediate representation needed for backend translation.
func NewShaderModule(desc ShaderModuleDesc) (*ShaderModule, error) {
	if (desc.WGSL == "") == (len(desc.SPIRV) == 0) {
		return nil, &ValidationError{Field: "WGSL", Reason: "exactly one of WGSL and SPIRV must be set"}
	}
	if len(desc.EntryPoints) == 0 {
		return nil, &ValidationError{Field: "EntryPoints", Reason: "module declares no entry points"}
	}
	seen := make(map[string]bool, len(desc.EntryPoints))
	for i, ep := range desc.EntryPoints {
		if ep.Name == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("EntryPoints[%d].Name", i), Reason: "empty"}
		}
		if seen[ep.Name] {
			return nil, &ValidationError{Field: fmt.Sprintf("EntryPoints[%d].Name", i), Reason: "duplicate entry point " + ep.Name}
		}
		seen[ep.Name] = true
	}
	slots := make(map[[2]uint32]bool, len(desc.Bindings))
	for i, b := range desc.Bindings {
		key := [2]uint32{b.Group, b.Binding}
		if slots[key] {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("Bindings[%d]", i),
				Reason: fmt.Sprintf("duplicate binding (group=%d, binding=%d)", b.Group, b.Binding),
			}
		}
		slots[key] = true
	}
	for i, pc := range desc.PushConstants {
		if pc.Size == 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("PushConstants[%d].Size", i), Reason: "zero size"}
		}
		if pc.Offset%4 != 0 || pc.Size%4 != 0 {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("PushConstants[%d]", i),
				Reason: "offset and size must be multiples of 4",
			}
		}
	}

	m := &ShaderModule{
		name:          desc.Name,
		wgsl:          desc.WGSL,
		spirv:         append([]uint32(nil), desc.SPIRV...),
		entryPoints:   append([]EntryPoint(nil), desc.EntryPoints...),
		bindings:      append([]ShaderBinding(nil), desc.Bindings...),
		pushConstants: append([]PushConstantBlock(nil), desc.PushConstants...),
	}

	if desc.WGSL != "" {
		ast, err := naga.Parse(desc.WGSL)
		if err != nil {
			return nil, &TranslationError{Reason: "parse wgsl", Err: err}
		}
		mod, err := naga.LowerWithSource(ast, desc.WGSL)
		if err != nil {
			return nil, &TranslationError{Reason: "lower wgsl", Err: err}
		}
		m.ir = mod
	}

	return m, nil
}

// Name returns the debug name.
func (m *ShaderModule) Name() string { return m.name }

// EntryPoints returns the declared entry points.
func (m *ShaderModule) EntryPoints() []EntryPoint {
	return append([]EntryPoint(nil), m.entryPoints...)
}

// Bindings returns the declared resource bindings.
func (m *ShaderModule) Bindings() []ShaderBinding {
	return append([]ShaderBinding(nil), m.bindings...)
}

// PushConstants returns the declared push-constant blocks.
func (m *ShaderModule) PushConstants() []PushConstantBlock {
	return append([]PushConstantBlock(nil), m.pushConstants...)
}

// entryPoint looks up a declared entry point by name.
func (m *ShaderModule) entryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.entryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// Shader pairs a module with one of its entry points, as referenced
// by pipeline stage descriptors.
type Shader struct {
	Module *ShaderModule
	Entry  string
}
