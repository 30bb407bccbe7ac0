package mev

import (
	"fmt"
	"sync"

	"github.com/zakarumych/mev/hal"
)

// PipelineStages is a bitset of pipeline execution stages, used to
// place barriers.
type PipelineStages = hal.PipelineStages

// Re-exported pipeline stage bits.
const (
	StageTransfer       = hal.StageTransfer
	StageVertexInput    = hal.StageVertexInput
	StageVertexShader   = hal.StageVertexShader
	StageFragmentShader = hal.StageFragmentShader
	StageColorOutput    = hal.StageColorOutput
	StageDepthStencil   = hal.StageDepthStencil
	StageComputeShader  = hal.StageComputeShader
	StageHost           = hal.StageHost
	AllStages           = hal.AllStages
)

// rowAlignment is the required BytesPerRow alignment of buffer/texture
// copies, shared by both backends' transfer engines.
const rowAlignment = 256

// copyAlignment is the required alignment of buffer copy offsets and
// sizes.
const copyAlignment = 4

// EncoderState is the lifecycle state of a command encoder or command
// buffer.
type EncoderState uint8

// Encoder lifecycle states.
const (
	// StateInitial is a fresh encoder before Begin.
	StateInitial EncoderState = iota

	// StateRecording accepts encode calls.
	StateRecording

	// StateLocked means a pass encoder owns the encoder until the
	// pass ends.
	StateLocked

	// StateClosed means the recording is immutable and submittable.
	StateClosed

	// StateSubmitted means the command buffer is queued on the GPU.
	StateSubmitted

	// StateCompleted means the command buffer's fence has signaled.
	StateCompleted
)

// String returns the state name.
func (s EncoderState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRecording:
		return "recording"
	case StateLocked:
		return "locked"
	case StateClosed:
		return "closed"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// CommandEncoder records GPU commands into a command buffer.
//
// Lifecycle: Begin moves the encoder from initial to recording; only
// the recording state accepts encode calls. Beginning a pass locks the
// encoder until the pass ends. Close makes the recorded sequence
// immutable and yields the CommandBuffer; every encode call after
// Close fails with ErrInvalidState.
//
// An encoder is owned by one goroutine at a time. Distinct encoders
// may record concurrently against the same Device.
type CommandEncoder struct {
	mu sync.Mutex

	dev  *Device
	name string

	hal   hal.CommandEncoder
	state EncoderState

	activeRender  *RenderPass
	activeCompute *ComputePass

	// refs collects the resources the recorded commands touch, so
	// submission can pin their lifetimes to the fence.
	refs map[*resourceState]struct{}

	// presentables collects imported drawables rendered to, handed to
	// the presenter through CommandBuffer.Presentable.
	presentables []*Texture
}

// Name returns the debug label.
func (e *CommandEncoder) Name() string { return e.name }

// State returns the current lifecycle state.
func (e *CommandEncoder) State() EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Begin opens native recording. The encoder moves from initial to
// recording.
func (e *CommandEncoder) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInitial {
		return fmt.Errorf("begin: encoder is %s: %w", e.state, ErrInvalidState)
	}
	henc, err := e.dev.halDevice.CreateCommandEncoder(e.name)
	if err != nil {
		return e.dev.wrapHALError("begin encoder", err)
	}
	e.hal = henc
	e.state = StateRecording
	return nil
}

// checkRecordingLocked fails unless the encoder accepts encode calls.
// Caller holds e.mu.
func (e *CommandEncoder) checkRecordingLocked() error {
	switch e.state {
	case StateRecording:
		return nil
	case StateInitial:
		return ErrNotRecording
	case StateLocked:
		return ErrEncoderLocked
	case StateClosed:
		return ErrEncoderClosed
	default:
		return ErrEncoderConsumed
	}
}

// refLocked pins a resource to the recording. Caller holds e.mu.
func (e *CommandEncoder) refLocked(states ...*resourceState) {
	if e.refs == nil {
		e.refs = make(map[*resourceState]struct{})
	}
	for _, s := range states {
		e.refs[s] = struct{}{}
	}
}

// ref pins resources from a pass encoder, which records without
// holding e.mu.
func (e *CommandEncoder) ref(states ...*resourceState) {
	e.mu.Lock()
	e.refLocked(states...)
	e.mu.Unlock()
}

// notePresentableLocked records an imported drawable used as a render
// target, once per recording. Caller holds e.mu.
func (e *CommandEncoder) notePresentableLocked(t *Texture) {
	for _, p := range e.presentables {
		if p == t {
			return
		}
	}
	e.presentables = append(e.presentables, t)
}

// CopyBufferToBuffer records a copy of size bytes between two buffers.
//
// Offsets and size must be 4-byte aligned, both ranges must lie within
// their buffers, and when src and dst are the same buffer the ranges
// must not overlap.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return fmt.Errorf("copy buffer to buffer: %w", err)
	}
	if src == nil || dst == nil {
		return &ValidationError{Field: "src", Reason: "nil buffer"}
	}
	if src.isDestroyed() || dst.isDestroyed() {
		return fmt.Errorf("copy buffer to buffer: %w", ErrDestroyed)
	}
	if srcOffset%copyAlignment != 0 || dstOffset%copyAlignment != 0 {
		return &ValidationError{
			Field:  "srcOffset",
			Reason: fmt.Sprintf("offsets %d/%d must be 4-byte aligned", srcOffset, dstOffset),
		}
	}
	if size%copyAlignment != 0 {
		return &ValidationError{Field: "size", Reason: fmt.Sprintf("size %d must be 4-byte aligned", size)}
	}
	if srcOffset+size > src.Size() {
		return &ValidationError{
			Field:  "srcOffset",
			Reason: fmt.Sprintf("range [%d, %d) outside source of %d bytes", srcOffset, srcOffset+size, src.Size()),
		}
	}
	if dstOffset+size > dst.Size() {
		return &ValidationError{
			Field:  "dstOffset",
			Reason: fmt.Sprintf("range [%d, %d) outside destination of %d bytes", dstOffset, dstOffset+size, dst.Size()),
		}
	}
	if src == dst && srcOffset < dstOffset+size && dstOffset < srcOffset+size {
		return &ValidationError{
			Field:  "dstOffset",
			Reason: "source and destination ranges overlap",
		}
	}
	if src.Usage()&BufferUsageCopySrc == 0 {
		return &ValidationError{Field: "src", Reason: "buffer lacks CopySrc usage"}
	}
	if dst.Usage()&BufferUsageCopyDst == 0 {
		return &ValidationError{Field: "dst", Reason: "buffer lacks CopyDst usage"}
	}

	err := e.hal.CopyBufferToBuffer(src.handle, dst.handle, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	if err != nil {
		return e.dev.wrapHALError("copy buffer to buffer", err)
	}
	e.refLocked(&src.state, &dst.state)
	return nil
}

// BufferTextureCopy describes one buffer/texture copy region.
type BufferTextureCopy struct {
	// BufferOffset is the byte offset of the first texel in the
	// buffer. Must be 4-byte aligned.
	BufferOffset uint64

	// BytesPerRow is the byte stride between texel rows in the
	// buffer. Must be a multiple of 256 and cover a full row.
	BytesPerRow uint32

	// RowsPerImage is the row count per image layer. Zero means the
	// copy height.
	RowsPerImage uint32

	// Origin is the texel origin of the copy in the texture.
	Origin Origin3D

	// Extent is the copied region in texels.
	Extent Extent3D

	// MipLevel selects the texture mip level.
	MipLevel uint32
}

// validateCopy checks the region against a texture.
func (c *BufferTextureCopy) validateCopy(t *Texture, buf *Buffer) error {
	if t.isDestroyed() || buf.isDestroyed() {
		return ErrDestroyed
	}
	if c.MipLevel >= t.MipLevels() {
		return &ValidationError{
			Field:  "MipLevel",
			Reason: fmt.Sprintf("level %d, texture has %d", c.MipLevel, t.MipLevels()),
		}
	}
	if c.BufferOffset%copyAlignment != 0 {
		return &ValidationError{Field: "BufferOffset", Reason: "must be 4-byte aligned"}
	}
	texel := pixelFormatSize(t.Format())
	if texel == 0 {
		return &ValidationError{Field: "Extent", Reason: "texture format has no linear layout"}
	}
	if c.Extent.Width == 0 || c.Extent.Height == 0 {
		return &ValidationError{Field: "Extent", Reason: "empty copy region"}
	}
	if c.BytesPerRow%rowAlignment != 0 {
		return &ValidationError{
			Field:  "BytesPerRow",
			Reason: fmt.Sprintf("%d is not a multiple of %d", c.BytesPerRow, rowAlignment),
		}
	}
	if uint64(c.BytesPerRow) < uint64(c.Extent.Width)*uint64(texel) {
		return &ValidationError{
			Field:  "BytesPerRow",
			Reason: fmt.Sprintf("%d does not cover a row of %d texels", c.BytesPerRow, c.Extent.Width),
		}
	}

	mipW := max(t.Size().Width>>c.MipLevel, 1)
	mipH := max(t.Size().Height>>c.MipLevel, 1)
	if c.Origin.X+c.Extent.Width > mipW || c.Origin.Y+c.Extent.Height > mipH {
		return &ValidationError{
			Field:  "Extent",
			Reason: fmt.Sprintf("region exceeds mip %d extent %dx%d", c.MipLevel, mipW, mipH),
		}
	}

	rows := c.RowsPerImage
	if rows == 0 {
		rows = c.Extent.Height
	}
	depth := max(c.Extent.DepthOrArrayLayers, 1)
	bytes := uint64(c.BytesPerRow) * uint64(rows) * uint64(depth)
	if c.BufferOffset+bytes > buf.Size() {
		return &ValidationError{
			Field:  "BufferOffset",
			Reason: fmt.Sprintf("copy needs %d bytes at offset %d, buffer has %d", bytes, c.BufferOffset, buf.Size()),
		}
	}
	return nil
}

// halCopy lowers the region to the hal form.
func (c *BufferTextureCopy) halCopy(buf *Buffer) *hal.BufferImageCopy {
	return &hal.BufferImageCopy{
		Buffer: buf.handle,
		Offset: c.BufferOffset,
		Layout: TextureDataLayout{
			BytesPerRow:  c.BytesPerRow,
			RowsPerImage: c.RowsPerImage,
		},
		Origin: c.Origin,
		Extent: c.Extent,
		Level:  c.MipLevel,
	}
}

// CopyBufferToTexture records an upload from a buffer region into a
// texture region.
func (e *CommandEncoder) CopyBufferToTexture(src *Buffer, dst *Texture, region BufferTextureCopy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return fmt.Errorf("copy buffer to texture: %w", err)
	}
	if src == nil || dst == nil {
		return &ValidationError{Field: "src", Reason: "nil resource"}
	}
	if err := region.validateCopy(dst, src); err != nil {
		return fmt.Errorf("copy buffer to texture: %w", err)
	}
	if src.Usage()&BufferUsageCopySrc == 0 {
		return &ValidationError{Field: "src", Reason: "buffer lacks CopySrc usage"}
	}
	if dst.Usage()&TextureUsageCopyDst == 0 {
		return &ValidationError{Field: "dst", Reason: "texture lacks CopyDst usage"}
	}

	if err := e.hal.CopyBufferToTexture(region.halCopy(src), dst.handle); err != nil {
		return e.dev.wrapHALError("copy buffer to texture", err)
	}
	e.refLocked(&src.state, &dst.state)
	return nil
}

// CopyTextureToBuffer records a readback from a texture region into a
// buffer region.
func (e *CommandEncoder) CopyTextureToBuffer(src *Texture, dst *Buffer, region BufferTextureCopy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return fmt.Errorf("copy texture to buffer: %w", err)
	}
	if src == nil || dst == nil {
		return &ValidationError{Field: "src", Reason: "nil resource"}
	}
	if err := region.validateCopy(src, dst); err != nil {
		return fmt.Errorf("copy texture to buffer: %w", err)
	}
	if src.Usage()&TextureUsageCopySrc == 0 {
		return &ValidationError{Field: "src", Reason: "texture lacks CopySrc usage"}
	}
	if dst.Usage()&BufferUsageCopyDst == 0 {
		return &ValidationError{Field: "dst", Reason: "buffer lacks CopyDst usage"}
	}

	if err := e.hal.CopyTextureToBuffer(src.handle, region.halCopy(dst)); err != nil {
		return e.dev.wrapHALError("copy texture to buffer", err)
	}
	e.refLocked(&src.state, &dst.state)
	return nil
}

// Barrier records an execution and memory dependency: work in the
// after stages of prior commands completes before work in the before
// stages of later commands starts.
//
// On the backend with implicit hazard tracking this records nothing;
// the call exists so a correct sequence encodes identically on both
// backends and correct placement never corrupts results on either.
func (e *CommandEncoder) Barrier(after, before PipelineStages) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if after == 0 || before == 0 {
		return &ValidationError{Field: "after", Reason: "empty stage set"}
	}
	if after&^AllStages != 0 || before&^AllStages != 0 {
		return &ValidationError{Field: "after", Reason: "unknown stage bits"}
	}
	if err := e.hal.Barrier(after, before); err != nil {
		return e.dev.wrapHALError("barrier", err)
	}
	return nil
}

// TransitionTexture records a usage transition for a texture, such as
// render target to sampled input. A validated no-op on the backend
// with implicit hazard tracking.
func (e *CommandEncoder) TransitionTexture(t *Texture, from, to TextureUsage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRecordingLocked(); err != nil {
		return fmt.Errorf("transition texture: %w", err)
	}
	if t == nil {
		return &ValidationError{Field: "t", Reason: "nil texture"}
	}
	if t.isDestroyed() {
		return fmt.Errorf("transition texture: %w", ErrDestroyed)
	}
	if from&^t.Usage() != 0 || to&^t.Usage() != 0 {
		return &ValidationError{
			Field:  "to",
			Reason: "transition names usages the texture was not created with",
		}
	}
	if err := e.hal.TextureTransition(t.handle, from, to); err != nil {
		return e.dev.wrapHALError("transition texture", err)
	}
	e.refLocked(&t.state)
	return nil
}

// Close ends recording. The recorded sequence becomes immutable and
// eligible for submission; the encoder accepts no further encodes.
func (e *CommandEncoder) Close() (*CommandBuffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRecording:
	case StateLocked:
		return nil, fmt.Errorf("close: %w", ErrEncoderLocked)
	case StateInitial:
		return nil, fmt.Errorf("close: %w", ErrNotRecording)
	default:
		return nil, fmt.Errorf("close: %w", ErrEncoderClosed)
	}

	halBuf, err := e.hal.End()
	if err != nil {
		return nil, e.dev.wrapHALError("close encoder", err)
	}
	e.state = StateClosed

	refs := make([]*resourceState, 0, len(e.refs))
	for s := range e.refs {
		refs = append(refs, s)
	}
	e.refs = nil
	presentables := e.presentables
	e.presentables = nil

	return &CommandBuffer{
		dev:          e.dev,
		name:         e.name,
		handle:       halBuf,
		refs:         refs,
		presentables: presentables,
		state:        StateClosed,
	}, nil
}

// CommandBuffer is a closed, immutable command recording.
//
// Submission moves it to submitted; once the submission fence signals
// the buffer is completed and its referenced resources may be
// destroyed or reclaimed.
type CommandBuffer struct {
	dev          *Device
	name         string
	handle       hal.CommandBuffer
	refs         []*resourceState
	presentables []*Texture

	mu    sync.Mutex
	state EncoderState
	fence Fence
}

// Name returns the debug label.
func (cb *CommandBuffer) Name() string { return cb.name }

// State returns the lifecycle state, observing fence completion.
func (cb *CommandBuffer) State() EncoderState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateSubmitted && cb.fence.Signaled() {
		cb.state = StateCompleted
	}
	return cb.state
}

// Fence returns the submission fence. Zero until submitted.
func (cb *CommandBuffer) Fence() Fence {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.fence
}

// Presentable returns the imported drawables this recording rendered
// to, in first-use order. After Submit, the presenter hands these back
// to the windowing integration for the actual present call.
func (cb *CommandBuffer) Presentable() []*Texture {
	return append([]*Texture(nil), cb.presentables...)
}
