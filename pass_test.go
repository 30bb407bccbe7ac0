package mev

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
)

// renderTarget creates a device-local color attachment.
func renderTarget(t *testing.T, dev *Device, w, h uint32) *Texture {
	t.Helper()
	tex, err := dev.CreateTexture(TextureDesc{
		Size:   Extent3D{Width: w, Height: h},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	t.Cleanup(tex.Destroy)
	return tex
}

// recordingEncoder returns an encoder in the recording state.
func recordingEncoder(t *testing.T, dev *Device) *CommandEncoder {
	t.Helper()
	enc, err := dev.CreateCommandEncoder(t.Name())
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return enc
}

func TestRenderPassDescValidation(t *testing.T) {
	dev := newTestDevice(t)
	target := renderTarget(t, dev, 64, 64)
	small := renderTarget(t, dev, 32, 32)

	sampled, err := dev.CreateTexture(TextureDesc{
		Size:   Extent3D{Width: 64, Height: 64},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer sampled.Destroy()

	tests := []struct {
		name string
		desc RenderPassDesc
	}{
		{
			name: "no attachments",
			desc: RenderPassDesc{},
		},
		{
			name: "nil color texture",
			desc: RenderPassDesc{Colors: []ColorAttachmentDesc{{}}},
		},
		{
			name: "mismatched extents",
			desc: RenderPassDesc{Colors: []ColorAttachmentDesc{
				{Texture: target}, {Texture: small},
			}},
		},
		{
			name: "texture lacks render usage",
			desc: RenderPassDesc{Colors: []ColorAttachmentDesc{{Texture: sampled}}},
		},
		{
			name: "color texture as depth attachment",
			desc: RenderPassDesc{DepthStencil: &DepthStencilAttachmentDesc{Texture: target}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := recordingEncoder(t, dev)
			_, err := enc.BeginRenderPass(tt.desc)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("BeginRenderPass = %v, want *ValidationError", err)
			}
		})
	}
}

func TestRenderPassRecording(t *testing.T) {
	dev := newTestDevice(t)
	target := renderTarget(t, dev, 64, 64)
	pipeline := testRenderPipeline(t, dev, PipelineLayoutDesc{})

	vbuf, err := dev.CreateBuffer(BufferDesc{
		Size:   256,
		Usage:  BufferUsageVertex,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer vbuf.Destroy()
	ibuf, err := dev.CreateBuffer(BufferDesc{
		Size:   64,
		Usage:  BufferUsageIndex,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer ibuf.Destroy()

	enc := recordingEncoder(t, dev)
	pass, err := enc.BeginRenderPass(RenderPassDesc{
		Name: "frame",
		Colors: []ColorAttachmentDesc{{
			Texture:    target,
			LoadOp:     gputypes.LoadOpClear,
			ClearValue: Color{R: 0.1, G: 0.2, B: 0.3, A: 1},
		}},
	})
	if err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}

	if err := pass.SetPipeline(pipeline); err != nil {
		t.Fatalf("SetPipeline failed: %v", err)
	}
	if err := pass.SetViewport(0, 0, 64, 64, 0, 1); err != nil {
		t.Fatalf("SetViewport failed: %v", err)
	}
	if err := pass.SetScissor(0, 0, 64, 64); err != nil {
		t.Fatalf("SetScissor failed: %v", err)
	}
	if err := pass.SetVertexBuffer(0, vbuf, 0); err != nil {
		t.Fatalf("SetVertexBuffer failed: %v", err)
	}
	if err := pass.Draw(3, 1, 0, 0); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := pass.SetIndexBuffer(ibuf, gputypes.IndexFormatUint16, 0); err != nil {
		t.Fatalf("SetIndexBuffer failed: %v", err)
	}
	if err := pass.DrawIndexed(3, 1, 0, 0, 0); err != nil {
		t.Fatalf("DrawIndexed failed: %v", err)
	}
	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	cb, err := enc.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	f, err := dev.Queue(0).Submit([]*CommandBuffer{cb}, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if ok, err := f.Wait(-1); !ok || err != nil {
		t.Fatalf("Wait = (%v, %v)", ok, err)
	}
}

func TestRenderPassStateErrors(t *testing.T) {
	dev := newTestDevice(t)
	target := renderTarget(t, dev, 64, 64)

	vbuf, err := dev.CreateBuffer(BufferDesc{
		Size:   64,
		Usage:  BufferUsageVertex,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer vbuf.Destroy()
	uniformOnly, err := dev.CreateBuffer(BufferDesc{
		Size:   64,
		Usage:  BufferUsageUniform,
		Memory: MemoryShared,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer uniformOnly.Destroy()

	enc := recordingEncoder(t, dev)
	pass, err := enc.BeginRenderPass(RenderPassDesc{
		Colors: []ColorAttachmentDesc{{Texture: target}},
	})
	if err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}

	var ve *ValidationError
	// Draws need a pipeline.
	if err := pass.Draw(3, 1, 0, 0); !errors.As(err, &ve) {
		t.Errorf("Draw without pipeline = %v, want *ValidationError", err)
	}
	if err := pass.SetPushConstants(StageVertex, 0, make([]byte, 4)); !errors.As(err, &ve) {
		t.Errorf("SetPushConstants without pipeline = %v, want *ValidationError", err)
	}
	// Viewport and buffer validation.
	if err := pass.SetViewport(0, 0, 0, 64, 0, 1); !errors.As(err, &ve) {
		t.Errorf("empty viewport = %v, want *ValidationError", err)
	}
	if err := pass.SetViewport(0, 0, 64, 64, 0.5, 1.5); !errors.As(err, &ve) {
		t.Errorf("depth range out of [0,1] = %v, want *ValidationError", err)
	}
	if err := pass.SetVertexBuffer(0, uniformOnly, 0); !errors.As(err, &ve) {
		t.Errorf("vertex buffer without Vertex usage = %v, want *ValidationError", err)
	}
	if err := pass.SetVertexBuffer(0, vbuf, 64); !errors.As(err, &ve) {
		t.Errorf("vertex buffer offset past end = %v, want *ValidationError", err)
	}
	if err := pass.SetIndexBuffer(uniformOnly, gputypes.IndexFormatUint16, 0); !errors.As(err, &ve) {
		t.Errorf("index buffer without Index usage = %v, want *ValidationError", err)
	}
	if err := pass.SetBindGroup(maxBindGroups, nil); err == nil {
		t.Error("SetBindGroup(nil) succeeded")
	}

	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	// Everything fails once the pass ended.
	if err := pass.Draw(3, 1, 0, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Draw after End = %v, want ErrInvalidState", err)
	}
	if err := pass.SetPipeline(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetPipeline after End = %v, want ErrInvalidState", err)
	}
}

// TestRenderPassConcurrentPinning binds buffers through a pass from
// several goroutines at once. Pinning goes through the encoder's
// shared reference map, so this fails under the race detector if the
// pass path skips the encoder lock.
func TestRenderPassConcurrentPinning(t *testing.T) {
	dev := newTestDevice(t)
	target := renderTarget(t, dev, 64, 64)

	const workers = 4
	bufs := make([]*Buffer, workers)
	for i := range bufs {
		bufs[i] = testBuffer(t, dev, 64, BufferUsageVertex)
	}

	enc := recordingEncoder(t, dev)
	pass, err := enc.BeginRenderPass(RenderPassDesc{
		Colors: []ColorAttachmentDesc{{Texture: target}},
	})
	if err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := pass.SetVertexBuffer(uint32(i), bufs[i], 0); err != nil {
					t.Errorf("SetVertexBuffer failed: %v", err)
					return
				}
				_ = enc.State()
			}
		}(i)
	}
	wg.Wait()

	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if _, err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestRenderPassBindGroupCheck(t *testing.T) {
	dev := newTestDevice(t)
	target := renderTarget(t, dev, 32, 32)

	group0 := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingUniformBuffer, Visibility: StageVertex},
	)
	layout := PipelineLayoutDesc{Groups: []*BindGroupLayout{group0}}
	pipeline := testRenderPipeline(t, dev, layout)

	ubo := testBuffer(t, dev, 64, BufferUsageUniform)
	group, err := dev.CreateBindGroup(BindGroupDesc{
		Layout:  group0,
		Entries: []BindingResource{{Binding: 0, Buffer: ubo}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup failed: %v", err)
	}
	defer group.Destroy()

	enc := recordingEncoder(t, dev)
	pass, err := enc.BeginRenderPass(RenderPassDesc{
		Colors: []ColorAttachmentDesc{{Texture: target}},
	})
	if err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}
	if err := pass.SetPipeline(pipeline); err != nil {
		t.Fatalf("SetPipeline failed: %v", err)
	}

	// The pipeline's layout requires group 0; drawing without it is an
	// encode-time error, not a silent no-op.
	var ve *ValidationError
	if err := pass.Draw(3, 1, 0, 0); !errors.As(err, &ve) {
		t.Fatalf("Draw without bind group = %v, want *ValidationError", err)
	}
	if err := pass.SetBindGroup(0, group); err != nil {
		t.Fatalf("SetBindGroup failed: %v", err)
	}
	if err := pass.Draw(3, 1, 0, 0); err != nil {
		t.Errorf("Draw with bind group = %v, want nil", err)
	}
	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
}

func TestPushConstantWrites(t *testing.T) {
	dev := newTestDevice(t)
	target := renderTarget(t, dev, 32, 32)

	layout := PipelineLayoutDesc{PushConstants: []PushConstantRange{
		{Stages: StageVertex, Offset: 0, Size: 32},
	}}
	m := spirvModule(t, ShaderModuleDesc{
		EntryPoints: []EntryPoint{{Name: "vs_main", Stage: StageVertex}},
		PushConstants: []PushConstantBlock{
			{Offset: 0, Size: 32, Stages: StageVertex},
		},
	})
	pipeline, err := dev.CreateRenderPipeline(RenderPipelineDesc{
		Name:         "push",
		Layout:       layout,
		Vertex:       Shader{Module: m, Entry: "vs_main"},
		ColorTargets: []ColorTarget{{Format: gputypes.TextureFormatRGBA8Unorm}},
	})
	if err != nil {
		t.Fatalf("CreateRenderPipeline failed: %v", err)
	}
	defer pipeline.Destroy()

	enc := recordingEncoder(t, dev)
	pass, err := enc.BeginRenderPass(RenderPassDesc{
		Colors: []ColorAttachmentDesc{{Texture: target}},
	})
	if err != nil {
		t.Fatalf("BeginRenderPass failed: %v", err)
	}
	if err := pass.SetPipeline(pipeline); err != nil {
		t.Fatalf("SetPipeline failed: %v", err)
	}

	if err := pass.SetPushConstants(StageVertex, 0, make([]byte, 32)); err != nil {
		t.Errorf("covered write = %v, want nil", err)
	}
	if err := pass.SetPushConstants(StageVertex, 16, make([]byte, 8)); err != nil {
		t.Errorf("partial covered write = %v, want nil", err)
	}

	var ve *ValidationError
	if err := pass.SetPushConstants(StageVertex, 32, make([]byte, 8)); !errors.As(err, &ve) {
		t.Errorf("write past range = %v, want *ValidationError", err)
	}
	if err := pass.SetPushConstants(StageFragment, 0, make([]byte, 8)); !errors.As(err, &ve) {
		t.Errorf("write for uncovered stage = %v, want *ValidationError", err)
	}
	if err := pass.SetPushConstants(StageVertex, 0, make([]byte, 3)); !errors.As(err, &ve) {
		t.Errorf("unaligned write = %v, want *ValidationError", err)
	}
	if err := pass.SetPushConstants(StageVertex, 0, nil); !errors.As(err, &ve) {
		t.Errorf("empty write = %v, want *ValidationError", err)
	}

	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
}

func TestComputePassDispatch(t *testing.T) {
	dev := newTestDevice(t)

	group0 := testLayout(t, dev,
		BindingLayoutEntry{Binding: 0, Type: BindingStorageBuffer, Visibility: StageCompute},
	)
	m := spirvModule(t, ShaderModuleDesc{
		EntryPoints: []EntryPoint{{Name: "cs_main", Stage: StageCompute}},
		Bindings: []ShaderBinding{
			{Group: 0, Binding: 0, Type: BindingStorageBuffer, Stages: StageCompute},
		},
	})
	pipeline, err := dev.CreateComputePipeline(ComputePipelineDesc{
		Name:    "dispatch",
		Layout:  PipelineLayoutDesc{Groups: []*BindGroupLayout{group0}},
		Compute: Shader{Module: m, Entry: "cs_main"},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline failed: %v", err)
	}
	defer pipeline.Destroy()

	ssbo := testBuffer(t, dev, 1024, BufferUsageStorage)
	group, err := dev.CreateBindGroup(BindGroupDesc{
		Layout:  group0,
		Entries: []BindingResource{{Binding: 0, Buffer: ssbo}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup failed: %v", err)
	}
	defer group.Destroy()

	enc := recordingEncoder(t, dev)
	pass, err := enc.BeginComputePass("compute")
	if err != nil {
		t.Fatalf("BeginComputePass failed: %v", err)
	}

	var ve *ValidationError
	if err := pass.Dispatch(1, 1, 1); !errors.As(err, &ve) {
		t.Errorf("Dispatch without pipeline = %v, want *ValidationError", err)
	}
	if err := pass.SetPipeline(pipeline); err != nil {
		t.Fatalf("SetPipeline failed: %v", err)
	}
	if err := pass.Dispatch(0, 1, 1); !errors.As(err, &ve) {
		t.Errorf("empty Dispatch = %v, want *ValidationError", err)
	}
	if err := pass.Dispatch(1, 1, 1); !errors.As(err, &ve) {
		t.Errorf("Dispatch without bind group = %v, want *ValidationError", err)
	}
	if err := pass.SetBindGroup(0, group); err != nil {
		t.Fatalf("SetBindGroup failed: %v", err)
	}
	if err := pass.Dispatch(8, 8, 1); err != nil {
		t.Errorf("Dispatch = %v, want nil", err)
	}
	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	cb, err := enc.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	f, err := dev.Queue(0).Submit([]*CommandBuffer{cb}, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if ok, err := f.Wait(-1); !ok || err != nil {
		t.Fatalf("Wait = (%v, %v)", ok, err)
	}
}
