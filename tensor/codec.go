package tensor

import (
	"image"
	"math"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/mask"
	"github.com/chaos-io/rembg/raster"
)

const (
	// DefaultSize is the square input resolution of the bundled RMBG model.
	DefaultSize = 1024
)

// Activation turns raw model output into foreground probabilities.
type Activation int

const (
	// MinMax rescales the output so its minimum is 0 and maximum is 1.
	MinMax Activation = iota
	Sigmoid
	Identity
)

// ParseActivation accepts "minmax", "sigmoid" or "identity".
func ParseActivation(s string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "minmax":
		return MinMax, nil
	case "sigmoid":
		return Sigmoid, nil
	case "identity", "none":
		return Identity, nil
	}
	return 0, errcode.New(errcode.InvalidOptions, "unknown activation %q", s)
}

// Codec converts between rasters and the model's tensor layout. The image is
// stretched to Size x Size without letterboxing, so the mask is stretched back
// the same way by mask.Resize.
type Codec struct {
	Size        int
	Mean        [3]float32
	Std         [3]float32
	OutputShape []int64
	Activation  Activation
}

// NewCodec returns the preprocessing contract of the bundled model: pixels
// scaled to [0,1], mean 0.5 and std 1.0 on every channel, min-max output.
func NewCodec(size int) *Codec {
	s := int64(size)
	return &Codec{
		Size:        size,
		Mean:        [3]float32{0.5, 0.5, 0.5},
		Std:         [3]float32{1, 1, 1},
		OutputShape: []int64{1, 1, s, s},
		Activation:  MinMax,
	}
}

// InputShape is the NCHW shape Encode produces.
func (c *Codec) InputShape() []int64 {
	s := int64(c.Size)
	return []int64{1, 3, s, s}
}

// Encode resizes img to Size x Size with bilinear resampling, normalizes each
// channel and reorders interleaved RGB into planar NCHW. Alpha is ignored.
func (c *Codec) Encode(img *raster.Image) (*Tensor, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if c.Size <= 0 {
		return nil, errcode.New(errcode.ShapeMismatch, "codec size %d", c.Size)
	}

	src := img.Opaque()
	var scaled *image.RGBA
	if img.Width == c.Size && img.Height == c.Size {
		scaled = src
	} else {
		scaled = toRGBA(resize.Resize(uint(c.Size), uint(c.Size), src, resize.Bilinear))
	}

	t, err := New(c.InputShape()...)
	if err != nil {
		return nil, err
	}
	plane := c.Size * c.Size
	var scale, shift [3]float32
	for ch := 0; ch < 3; ch++ {
		scale[ch] = 1 / (255 * c.Std[ch])
		shift[ch] = c.Mean[ch] / c.Std[ch]
	}
	for y := 0; y < c.Size; y++ {
		row := scaled.Pix[y*scaled.Stride:]
		for x := 0; x < c.Size; x++ {
			i := y*c.Size + x
			for ch := 0; ch < 3; ch++ {
				t.Data[ch*plane+i] = float32(row[4*x+ch])*scale[ch] - shift[ch]
			}
		}
	}
	return t, nil
}

// Decode interprets a [1,1,H,W] output as a foreground probability map at
// model resolution. NaN or infinite outputs fail the request.
func (c *Codec) Decode(t *Tensor) (*mask.Mask, error) {
	if err := CheckShape(t, c.OutputShape); err != nil {
		return nil, err
	}
	for i, v := range t.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, errcode.New(errcode.Internal, "model produced non-finite output %v at %d", v, i)
		}
	}
	n := len(c.OutputShape)
	h, w := int(c.OutputShape[n-2]), int(c.OutputShape[n-1])
	m, err := mask.New(w, h)
	if err != nil {
		return nil, err
	}

	switch c.Activation {
	case Sigmoid:
		for i, v := range t.Data {
			m.Values[i] = float32(1 / (1 + math.Exp(-float64(v))))
		}
	case Identity:
		for i, v := range t.Data {
			m.Values[i] = clamp01(v)
		}
	default:
		lo, hi := t.Data[0], t.Data[0]
		for _, v := range t.Data {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		span := float64(hi) - float64(lo)
		if span < 1e-12 {
			for i, v := range t.Data {
				m.Values[i] = clamp01(v)
			}
			break
		}
		for i, v := range t.Data {
			m.Values[i] = clamp01(float32((float64(v) - float64(lo)) / span))
		}
	}
	return m, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
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
