// Package mev is a hardware abstraction layer for GPU graphics and
// compute.
//
// One API surface is backed interchangeably by two native backends: an
// explicit cross-vendor backend (Vulkan) and a tile-based-deferred
// backend (Metal). The backend is selected at build time by target
// platform; applications hold opaque handles and never branch on the
// active backend.
//
// The object model follows the native APIs closely:
//
//	Device   — connection to one adapter; creates everything below.
//	Queue    — ordered execution stream; Submit returns a Fence.
//	Buffer   — GPU memory resource, sub-allocated from pooled blocks.
//	Texture  — image resource with format, mips and array layers.
//	Pipeline — immutable compiled shader + fixed-function state.
//	CommandEncoder — records copies, passes, draws and dispatches.
//	Fence    — CPU-observable, monotonically increasing completion
//	           value per queue.
//	Semaphore — GPU-side ordering between queues.
//
// Shader input is an intermediate module (naga IR) with declared entry
// points and bindings; mev translates it to SPIR-V or MSL per backend.
// Translation is deterministic, so translated shaders are cached.
//
// Resources referenced by a submitted command buffer stay alive until
// the fence returned by Submit signals; Destroy on an in-flight
// resource is deferred, never unsafe.
package mev
