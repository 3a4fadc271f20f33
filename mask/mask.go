// Package mask maps segmentation masks back to image resolution and softens
// their edges.
package mask

import (
	"image"

	"github.com/nfnt/resize"

	"github.com/chaos-io/rembg/errcode"
)

// Mask is a per-pixel foreground probability map with values in [0,1].
type Mask struct {
	Width  int
	Height int
	Values []float32
}

func New(width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, errcode.New(errcode.DimensionMismatch, "mask is %dx%d", width, height)
	}
	return &Mask{Width: width, Height: height, Values: make([]float32, width*height)}, nil
}

func (m *Mask) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

func (m *Mask) Clone() *Mask {
	v := make([]float32, len(m.Values))
	copy(v, m.Values)
	return &Mask{Width: m.Width, Height: m.Height, Values: v}
}

// Coverage is the fraction of pixels considered foreground.
func (m *Mask) Coverage() float64 {
	if len(m.Values) == 0 {
		return 0
	}
	n := 0
	for _, v := range m.Values {
		if v >= 0.5 {
			n++
		}
	}
	return float64(n) / float64(len(m.Values))
}

// Resize stretches the mask to width x height with bilinear resampling. The
// tensor codec stretches the source image onto the model input the same way,
// so mask pixel (x, y) lands on source pixel (x, y).
func Resize(m *Mask, width, height int) (*Mask, error) {
	if m == nil || len(m.Values) != m.Width*m.Height || m.Width <= 0 || m.Height <= 0 {
		return nil, errcode.New(errcode.DimensionMismatch, "malformed mask")
	}
	if width <= 0 || height <= 0 {
		return nil, errcode.New(errcode.DimensionMismatch, "target size %dx%d", width, height)
	}
	if m.Width == width && m.Height == height {
		return m.Clone(), nil
	}

	src := m.gray16()
	dst := resize.Resize(uint(width), uint(height), src, resize.Bilinear)

	out, err := New(width, height)
	if err != nil {
		return nil, err
	}
	b := dst.Bounds()
	if g, ok := dst.(*image.Gray16); ok {
		for y := 0; y < height; y++ {
			row := g.Pix[y*g.Stride:]
			for x := 0; x < width; x++ {
				v := uint16(row[2*x])<<8 | uint16(row[2*x+1])
				out.Values[y*width+x] = float32(v) / 0xffff
			}
		}
		return out, nil
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := dst.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Values[y*width+x] = float32(r) / 0xffff
		}
	}
	return out, nil
}

func (m *Mask) gray16() *image.Gray16 {
	g := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Values {
		q := uint16(clamp01(v)*0xffff + 0.5)
		g.Pix[2*i] = uint8(q >> 8)
		g.Pix[2*i+1] = uint8(q)
	}
	return g
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
