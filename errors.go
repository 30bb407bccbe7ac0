package mev

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrapped errors carry operation context; match with
// errors.Is.
var (
	// ErrOutOfDeviceMemory is returned when no compatible memory type
	// has room for an allocation. Recoverable by freeing resources or
	// backing off.
	ErrOutOfDeviceMemory = errors.New("mev: out of device memory")

	// ErrDeviceLost is returned when the native backend reports the
	// device unusable. Fatal for the Device: every outstanding
	// resource and command buffer is invalid and must be recreated
	// against a new Device.
	ErrDeviceLost = errors.New("mev: device lost")

	// ErrInvalidState is returned on API misuse, such as encoding into
	// a closed command buffer. Programmer error; the Device itself
	// stays usable.
	ErrInvalidState = errors.New("mev: invalid state")

	// ErrDestroyed is returned when a destroyed object is used.
	ErrDestroyed = fmt.Errorf("%w: object destroyed", ErrInvalidState)

	// ErrEncoderClosed is returned by encode calls after Close.
	ErrEncoderClosed = fmt.Errorf("%w: encoder already closed", ErrInvalidState)

	// ErrEncoderLocked is returned by encode calls while a pass is
	// open on the encoder.
	ErrEncoderLocked = fmt.Errorf("%w: encoder locked (pass in progress)", ErrInvalidState)

	// ErrEncoderConsumed is returned when a submitted command buffer
	// is reused without completing.
	ErrEncoderConsumed = fmt.Errorf("%w: command buffer already submitted", ErrInvalidState)

	// ErrNotRecording is returned by encode calls before Begin opens
	// recording.
	ErrNotRecording = fmt.Errorf("%w: encoder is not recording", ErrInvalidState)
)

// ValidationError reports a malformed descriptor or binding, caught
// before any native call. The input can be fixed and the call retried.
type ValidationError struct {
	// Field names the first offending descriptor field.
	Field string

	// Reason says what is wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("mev: validation: %s: %s", e.Field, e.Reason)
}

// PipelineError reports an invalid pipeline descriptor. No native
// pipeline object exists when it is returned.
type PipelineError struct {
	// Field names the first offending descriptor field.
	Field string

	// Reason says what is wrong with it.
	Reason string

	// Err is the underlying failure, if any. Shader stages that do not
	// resolve against the pipeline layout carry the translation error
	// here.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("mev: pipeline: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.As reach the underlying failure when a
// PipelineError wraps one.
func (e *PipelineError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return &ValidationError{Field: e.Field, Reason: e.Reason}
}

// TranslationError reports a shader lowering failure. Recoverable only
// by fixing the shader module.
type TranslationError struct {
	// Entry is the entry point being translated.
	Entry string

	// Target is the native target ("spirv", "msl").
	Target string

	// Reason says why lowering failed.
	Reason string

	// Err is the underlying compiler error, if any.
	Err error
}

// Error implements the error interface.
func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mev: translate %q to %s: %s: %v", e.Entry, e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("mev: translate %q to %s: %s", e.Entry, e.Target, e.Reason)
}

// Unwrap returns the underlying compiler error.
func (e *TranslationError) Unwrap() error { return e.Err }

// FragmentationError reports that total free pool memory would satisfy
// an allocation but no single contiguous block does. Callers may run
// Device.Defragment and retry.
type FragmentationError struct {
	// Size is the requested allocation size.
	Size uint64

	// LargestFree is the largest contiguous free run available.
	LargestFree uint64

	// TotalFree is the total free bytes across the pool.
	TotalFree uint64
}

// Error implements the error interface.
func (e *FragmentationError) Error() string {
	return fmt.Sprintf("mev: fragmentation: need %d contiguous bytes, largest free run %d (total free %d)",
		e.Size, e.LargestFree, e.TotalFree)
}
