//go:build cgo

package vulkan

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/zakarumych/mev/hal"
)

func TestCullMode(t *testing.T) {
	tests := []struct {
		name string
		in   gputypes.CullMode
		want core1_0.CullModeFlags
	}{
		{"none is the empty flag set", gputypes.CullModeNone, 0},
		{"front", gputypes.CullModeFront, core1_0.CullModeFront},
		{"back", gputypes.CullModeBack, core1_0.CullModeBack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cullMode(tt.in); got != tt.want {
				t.Errorf("cullMode(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBlendOp(t *testing.T) {
	tests := []struct {
		name string
		in   gputypes.BlendOperation
		want core1_0.BlendOp
	}{
		{"add", gputypes.BlendOperationAdd, core1_0.BlendOpAdd},
		{"subtract", gputypes.BlendOperationSubtract, core1_0.BlendOpSubtract},
		// VK_BLEND_OP_REVERSE_SUBTRACT has no named constant in the
		// wrapper; the registry value is 2.
		{"reverse subtract", gputypes.BlendOperationReverseSubtract, core1_0.BlendOp(2)},
		{"min", gputypes.BlendOperationMin, core1_0.BlendOpMin},
		{"max", gputypes.BlendOperationMax, core1_0.BlendOpMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := blendOp(tt.in); got != tt.want {
				t.Errorf("blendOp(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeviceType(t *testing.T) {
	if got := deviceType(core1_0.PhysicalDeviceTypeDiscreteGPU); got != gputypes.DeviceTypeDiscreteGPU {
		t.Errorf("discrete = %v, want DeviceTypeDiscreteGPU", got)
	}
	if got := deviceType(core1_0.PhysicalDeviceTypeIntegratedGPU); got != gputypes.DeviceTypeIntegratedGPU {
		t.Errorf("integrated = %v, want DeviceTypeIntegratedGPU", got)
	}
	if got := deviceType(core1_0.PhysicalDeviceTypeCPU); got != gputypes.DeviceType(0) {
		t.Errorf("cpu = %v, want zero", got)
	}
}

func TestMapResultError(t *testing.T) {
	oom := core1_0.VKErrorOutOfDeviceMemory
	if got := mapResultError(oom, oom.ToError()); got != hal.ErrOutOfMemory {
		t.Errorf("device OOM = %v, want hal.ErrOutOfMemory", got)
	}
	hostOOM := core1_0.VKErrorOutOfHostMemory
	if got := mapResultError(hostOOM, hostOOM.ToError()); got != hal.ErrOutOfMemory {
		t.Errorf("host OOM = %v, want hal.ErrOutOfMemory", got)
	}
	lost := core1_0.VKErrorDeviceLost
	if got := mapResultError(lost, lost.ToError()); got != hal.ErrDeviceLost {
		t.Errorf("device lost = %v, want hal.ErrDeviceLost", got)
	}
	if got := mapResultError(core1_0.VKSuccess, nil); got != nil {
		t.Errorf("success = %v, want nil", got)
	}
}

func TestVkFormat(t *testing.T) {
	tests := []struct {
		in   gputypes.TextureFormat
		want core1_0.Format
	}{
		{gputypes.TextureFormatRGBA8Unorm, core1_0.FormatR8G8B8A8UnsignedNormalized},
		{gputypes.TextureFormatBGRA8UnormSrgb, core1_0.FormatB8G8R8A8SRGB},
		{gputypes.TextureFormatDepth32Float, core1_0.FormatD32SignedFloat},
		{gputypes.TextureFormatDepth24PlusStencil8, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt},
		{gputypes.TextureFormat(255), core1_0.FormatUndefined},
	}
	for _, tt := range tests {
		if got := vkFormat(tt.in); got != tt.want {
			t.Errorf("vkFormat(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
