//go:build cgo

package vulkan

import (
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/hal"
)

type renderPipelineHandle struct {
	hal.Marker
	vk     core1_0.Pipeline
	layout core1_0.PipelineLayout
}

type computePipelineHandle struct {
	hal.Marker
	vk     core1_0.Pipeline
	layout core1_0.PipelineLayout
}

func (d *device) pipelineLayout(desc *hal.LayoutDescriptor) (core1_0.PipelineLayout, error) {
	var setLayouts []core1_0.DescriptorSetLayout
	for _, l := range desc.BindGroupLayouts {
		setLayouts = append(setLayouts, l.(*bindGroupLayoutHandle).vk)
	}
	var ranges []core1_0.PushConstantRange
	for _, r := range desc.PushConstants {
		ranges = append(ranges, core1_0.PushConstantRange{
			StageFlags: shaderStages(r.Stages),
			Offset:     int(r.Offset),
			Size:       int(r.Size),
		})
	}
	layout, res, err := d.vk.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts:         setLayouts,
		PushConstantRanges: ranges,
	})
	if err != nil {
		return nil, mapResultError(res, err)
	}
	return layout, nil
}

func (d *device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	layout, err := d.pipelineLayout(&desc.Layout)
	if err != nil {
		return nil, err
	}

	stages := []core1_0.PipelineShaderStageCreateInfo{{
		Stage:  core1_0.StageVertex,
		Module: desc.Vertex.Module.(*shaderModuleHandle).vk,
		Name:   desc.Vertex.Entry,
	}}
	if desc.Fragment != nil {
		stages = append(stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageFragment,
			Module: desc.Fragment.Module.(*shaderModuleHandle).vk,
			Name:   desc.Fragment.Entry,
		})
	}

	var bindings []core1_0.VertexInputBindingDescription
	var attributes []core1_0.VertexInputAttributeDescription
	for slot, layout := range desc.VertexInput {
		rate := core1_0.VertexInputRateVertex
		if layout.StepMode == gputypes.VertexStepModeInstance {
			rate = core1_0.VertexInputRateInstance
		}
		bindings = append(bindings, core1_0.VertexInputBindingDescription{
			Binding:   slot,
			Stride:    int(layout.Stride),
			InputRate: rate,
		})
		for _, attr := range layout.Attributes {
			attributes = append(attributes, core1_0.VertexInputAttributeDescription{
				Location: attr.Location,
				Binding:  slot,
				Format:   vkVertexFormat(attr.Format),
				Offset:   int(attr.Offset),
			})
		}
	}

	var colorDescs []core1_0.AttachmentDescription
	var blendAttachments []core1_0.PipelineColorBlendAttachmentState
	for _, target := range desc.ColorTargets {
		colorDescs = append(colorDescs, core1_0.AttachmentDescription{
			Format:         vkFormat(target.Format),
			Samples:        sampleCount(desc.SampleCount),
			LoadOp:         core1_0.AttachmentLoadOpDontCare,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
		})
		state := core1_0.PipelineColorBlendAttachmentState{
			ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
				core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
		}
		if b := target.Blend; b != nil {
			state.BlendEnabled = true
			state.SrcColorBlendFactor = blendFactor(b.ColorSrc)
			state.DstColorBlendFactor = blendFactor(b.ColorDst)
			state.ColorBlendOp = blendOp(b.ColorOp)
			state.SrcAlphaBlendFactor = blendFactor(b.AlphaSrc)
			state.DstAlphaBlendFactor = blendFactor(b.AlphaDst)
			state.AlphaBlendOp = blendOp(b.AlphaOp)
		}
		blendAttachments = append(blendAttachments, state)
	}

	var depthDesc *core1_0.AttachmentDescription
	var depthState *core1_0.PipelineDepthStencilStateCreateInfo
	if ds := desc.DepthStencil; ds != nil {
		depthDesc = &core1_0.AttachmentDescription{
			Format:         vkFormat(ds.Format),
			Samples:        sampleCount(desc.SampleCount),
			LoadOp:         core1_0.AttachmentLoadOpDontCare,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
		depthState = &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  true,
			DepthWriteEnable: ds.DepthWrite,
			DepthCompareOp:   compareOp(ds.Compare),
		}
	}

	rp, err := d.compatibleRenderPass(colorDescs, depthDesc)
	if err != nil {
		layout.Destroy(nil)
		return nil, err
	}

	pipelines, res, err := d.vk.CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{{
		Stages: stages,
		VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   bindings,
			VertexAttributeDescriptions: attributes,
		},
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology: topology(desc.Topology),
		},
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: make([]core1_0.Viewport, 1),
			Scissors:  make([]core1_0.Rect2D, 1),
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			PolygonMode: core1_0.PolygonModeFill,
			CullMode:    cullMode(desc.CullMode),
			FrontFace:   frontFace(desc.FrontFace),
			LineWidth:   1,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples: sampleCount(desc.SampleCount),
		},
		DepthStencilState: depthState,
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			Attachments: blendAttachments,
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{
				core1_0.DynamicStateViewport,
				core1_0.DynamicStateScissor,
			},
		},
		Layout:     layout,
		RenderPass: rp,
		Subpass:    0,
	}})
	if err != nil {
		layout.Destroy(nil)
		return nil, mapResultError(res, err)
	}
	return &renderPipelineHandle{vk: pipelines[0], layout: layout}, nil
}

func (d *device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	layout, err := d.pipelineLayout(&desc.Layout)
	if err != nil {
		return nil, err
	}
	pipelines, res, err := d.vk.CreateComputePipelines(nil, nil, []core1_0.ComputePipelineCreateInfo{{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: desc.Compute.Module.(*shaderModuleHandle).vk,
			Name:   desc.Compute.Entry,
		},
		Layout: layout,
	}})
	if err != nil {
		layout.Destroy(nil)
		return nil, mapResultError(res, err)
	}
	return &computePipelineHandle{vk: pipelines[0], layout: layout}, nil
}

func (d *device) DestroyPipeline(p hal.Pipeline) {
	switch h := p.(type) {
	case *renderPipelineHandle:
		h.vk.Destroy(nil)
		h.layout.Destroy(nil)
	case *computePipelineHandle:
		h.vk.Destroy(nil)
		h.layout.Destroy(nil)
	}
}
