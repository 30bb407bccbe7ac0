package mev

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
)

// testBuffer creates a host-visible buffer with the given usage.
func testBuffer(t *testing.T, dev *Device, size uint64, usage BufferUsage) *Buffer {
	t.Helper()
	buf, err := dev.CreateBuffer(BufferDesc{Size: size, Usage: usage, Memory: MemoryShared})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	t.Cleanup(buf.Destroy)
	return buf
}

func TestEncoderLifecycle(t *testing.T) {
	dev := newTestDevice(t)
	src := testBuffer(t, dev, 16, BufferUsageCopySrc)
	dst := testBuffer(t, dev, 16, BufferUsageCopyDst)

	enc, err := dev.CreateCommandEncoder("lifecycle")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if got := enc.State(); got != StateInitial {
		t.Fatalf("fresh encoder state = %v, want initial", got)
	}

	// Encoding before Begin fails, and the sentinel describes that
	// state rather than an ended pass.
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); !errors.Is(err, ErrNotRecording) {
		t.Errorf("copy before Begin = %v, want ErrNotRecording", err)
	} else if !strings.Contains(err.Error(), "not recording") {
		t.Errorf("copy before Begin error = %q, want it to say the encoder is not recording", err)
	}

	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if got := enc.State(); got != StateRecording {
		t.Fatalf("state after Begin = %v, want recording", got)
	}
	if err := enc.Begin(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double Begin = %v, want ErrInvalidState", err)
	}

	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	cb, err := enc.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := enc.State(); got != StateClosed {
		t.Errorf("state after Close = %v, want closed", got)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("command buffer state = %v, want closed", got)
	}

	// The closed encoder rejects everything.
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); !errors.Is(err, ErrEncoderClosed) {
		t.Errorf("copy after Close = %v, want ErrEncoderClosed", err)
	}
	if _, err := enc.Close(); !errors.Is(err, ErrEncoderClosed) {
		t.Errorf("double Close = %v, want ErrEncoderClosed", err)
	}
}

func TestEncoderLockedDuringPass(t *testing.T) {
	dev := newTestDevice(t)
	src := testBuffer(t, dev, 16, BufferUsageCopySrc)
	dst := testBuffer(t, dev, 16, BufferUsageCopyDst)

	enc, err := dev.CreateCommandEncoder("locked")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	pass, err := enc.BeginComputePass("pass")
	if err != nil {
		t.Fatalf("BeginComputePass failed: %v", err)
	}
	if got := enc.State(); got != StateLocked {
		t.Fatalf("state during pass = %v, want locked", got)
	}

	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 16); !errors.Is(err, ErrEncoderLocked) {
		t.Errorf("copy during pass = %v, want ErrEncoderLocked", err)
	}
	if _, err := enc.Close(); !errors.Is(err, ErrEncoderLocked) {
		t.Errorf("Close during pass = %v, want ErrEncoderLocked", err)
	}

	if err := pass.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if got := enc.State(); got != StateRecording {
		t.Errorf("state after pass = %v, want recording", got)
	}
	if err := pass.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double End = %v, want ErrInvalidState", err)
	}
	if _, err := enc.Close(); err != nil {
		t.Errorf("Close after pass = %v, want nil", err)
	}
}

func TestCopyBufferToBufferValidation(t *testing.T) {
	dev := newTestDevice(t)
	src := testBuffer(t, dev, 64, BufferUsageCopySrc|BufferUsageCopyDst)
	dst := testBuffer(t, dev, 64, BufferUsageCopyDst)
	noSrc := testBuffer(t, dev, 64, BufferUsageCopyDst)
	noDst := testBuffer(t, dev, 64, BufferUsageCopySrc)

	tests := []struct {
		name              string
		src, dst          *Buffer
		srcOff, dstOff, n uint64
	}{
		{"misaligned offset", src, dst, 2, 0, 16},
		{"misaligned size", src, dst, 0, 0, 10},
		{"src out of range", src, dst, 56, 0, 16},
		{"dst out of range", src, dst, 0, 56, 16},
		{"overlapping ranges", src, src, 0, 8, 16},
		{"src lacks CopySrc", noSrc, dst, 0, 0, 16},
		{"dst lacks CopyDst", src, noDst, 0, 0, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := dev.CreateCommandEncoder(tt.name)
			if err != nil {
				t.Fatalf("CreateCommandEncoder failed: %v", err)
			}
			if err := enc.Begin(); err != nil {
				t.Fatalf("Begin failed: %v", err)
			}
			err = enc.CopyBufferToBuffer(tt.src, tt.srcOff, tt.dst, tt.dstOff, tt.n)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("CopyBufferToBuffer = %v, want *ValidationError", err)
			}
		})
	}
}

func TestCopyBufferToBufferExecutes(t *testing.T) {
	dev := newTestDevice(t)
	src := testBuffer(t, dev, 32, BufferUsageCopySrc)
	dst := testBuffer(t, dev, 32, BufferUsageCopyDst)

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i * 3)
	}
	if err := src.Write(0, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	enc, err := dev.CreateCommandEncoder("copy")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 32); err != nil {
		t.Fatalf("CopyBufferToBuffer failed: %v", err)
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
		t.Fatalf("Wait = (%v, %v), want (true, nil)", ok, err)
	}
	if got := cb.State(); got != StateCompleted {
		t.Errorf("command buffer state = %v, want completed", got)
	}

	got := make([]byte, 32)
	if err := dst.Read(0, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("dst contents = %v, want %v", got, data)
	}
}

// TestCopyBufferTextureRoundTrip uploads texel data to a texture and
// reads it back through a second buffer.
func TestCopyBufferTextureRoundTrip(t *testing.T) {
	dev := newTestDevice(t)

	tex, err := dev.CreateTexture(TextureDesc{
		Size:   Extent3D{Width: 64, Height: 2, DepthOrArrayLayers: 1},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageCopySrc | TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer tex.Destroy()

	// 64 RGBA8 texels per row is exactly one 256-byte aligned row.
	const size = 256 * 2
	src := testBuffer(t, dev, size, BufferUsageCopySrc)
	dst := testBuffer(t, dev, size, BufferUsageCopyDst)

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(255 - i%251)
	}
	if err := src.Write(0, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	region := BufferTextureCopy{
		BytesPerRow: 256,
		Extent:      Extent3D{Width: 64, Height: 2, DepthOrArrayLayers: 1},
	}

	enc, err := dev.CreateCommandEncoder("texcopy")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := enc.CopyBufferToTexture(src, tex, region); err != nil {
		t.Fatalf("CopyBufferToTexture failed: %v", err)
	}
	if err := enc.Barrier(StageTransfer, StageTransfer); err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
	if err := enc.CopyTextureToBuffer(tex, dst, region); err != nil {
		t.Fatalf("CopyTextureToBuffer failed: %v", err)
	}
	cb, err := enc.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	f, err := dev.Queue(0).Submit([]*CommandBuffer{cb}, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.Wait(-1); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	got := make([]byte, size)
	if err := dst.Read(0, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("texture round trip corrupted the data")
	}
}

func TestBufferTextureCopyValidation(t *testing.T) {
	dev := newTestDevice(t)

	tex, err := dev.CreateTexture(TextureDesc{
		Size:      Extent3D{Width: 64, Height: 64},
		Format:    gputypes.TextureFormatRGBA8Unorm,
		MipLevels: 2,
		Usage:     TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer tex.Destroy()
	buf := testBuffer(t, dev, 1024, BufferUsageCopySrc)

	tests := []struct {
		name   string
		region BufferTextureCopy
	}{
		{
			name: "unaligned bytes per row",
			region: BufferTextureCopy{
				BytesPerRow: 200,
				Extent:      Extent3D{Width: 32, Height: 2},
			},
		},
		{
			name: "row stride too small",
			region: BufferTextureCopy{
				BytesPerRow: 256,
				Extent:      Extent3D{Width: 128, Height: 1},
			},
		},
		{
			name: "mip level out of range",
			region: BufferTextureCopy{
				BytesPerRow: 256,
				Extent:      Extent3D{Width: 16, Height: 1},
				MipLevel:    2,
			},
		},
		{
			name: "region exceeds mip extent",
			region: BufferTextureCopy{
				BytesPerRow: 256,
				Extent:      Extent3D{Width: 48, Height: 1},
				MipLevel:    1,
			},
		},
		{
			name: "empty region",
			region: BufferTextureCopy{
				BytesPerRow: 256,
				Extent:      Extent3D{Width: 0, Height: 1},
			},
		},
		{
			name: "buffer too small",
			region: BufferTextureCopy{
				BytesPerRow: 256,
				Extent:      Extent3D{Width: 64, Height: 16},
			},
		},
		{
			name: "unaligned buffer offset",
			region: BufferTextureCopy{
				BufferOffset: 2,
				BytesPerRow:  256,
				Extent:       Extent3D{Width: 16, Height: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := dev.CreateCommandEncoder(tt.name)
			if err != nil {
				t.Fatalf("CreateCommandEncoder failed: %v", err)
			}
			if err := enc.Begin(); err != nil {
				t.Fatalf("Begin failed: %v", err)
			}
			err = enc.CopyBufferToTexture(buf, tex, tt.region)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("CopyBufferToTexture = %v, want *ValidationError", err)
			}
		})
	}
}

func TestBarrierValidation(t *testing.T) {
	dev := newTestDevice(t)

	enc, err := dev.CreateCommandEncoder("barrier")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var ve *ValidationError
	if err := enc.Barrier(0, StageTransfer); !errors.As(err, &ve) {
		t.Errorf("Barrier(0, transfer) = %v, want *ValidationError", err)
	}
	if err := enc.Barrier(StageTransfer, 0); !errors.As(err, &ve) {
		t.Errorf("Barrier(transfer, 0) = %v, want *ValidationError", err)
	}
	unknown := StageHost << 1
	if err := enc.Barrier(unknown, StageTransfer); !errors.As(err, &ve) {
		t.Errorf("Barrier with unknown bits = %v, want *ValidationError", err)
	}
	if err := enc.Barrier(StageTransfer, StageComputeShader); err != nil {
		t.Errorf("valid Barrier = %v, want nil", err)
	}
}

func TestTransitionTextureValidation(t *testing.T) {
	dev := newTestDevice(t)

	tex, err := dev.CreateTexture(TextureDesc{
		Size:   Extent3D{Width: 8, Height: 8},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageCopyDst | TextureUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer tex.Destroy()

	enc, err := dev.CreateCommandEncoder("transition")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if err := enc.TransitionTexture(tex, TextureUsageCopyDst, TextureUsageSampled); err != nil {
		t.Errorf("valid transition = %v, want nil", err)
	}
	var ve *ValidationError
	err = enc.TransitionTexture(tex, TextureUsageCopyDst, TextureUsageRenderAttachment)
	if !errors.As(err, &ve) {
		t.Errorf("transition to undeclared usage = %v, want *ValidationError", err)
	}
}
