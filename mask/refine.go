package mask

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/chaos-io/rembg/errcode"
)

// MaxFeatherRadius bounds the blur kernel.
const MaxFeatherRadius = 64

// bandEpsilon separates the transition band from the solid 0/1 regions of the
// blurred hard mask.
const bandEpsilon = 1e-4

// Refine feathers the silhouette edge. Pixels within radius of a 0/1
// transition of the thresholded mask take the blurred soft value; every other
// pixel takes its hard value. Radius 0 returns an unchanged copy.
func Refine(m *Mask, radius int) (*Mask, error) {
	if radius < 0 || radius > MaxFeatherRadius {
		return nil, errcode.New(errcode.InvalidOptions, "feather radius %d out of range [0,%d]", radius, MaxFeatherRadius)
	}
	if m == nil || len(m.Values) != m.Width*m.Height {
		return nil, errcode.New(errcode.DimensionMismatch, "malformed mask")
	}
	if radius == 0 {
		return m.Clone(), nil
	}

	kernel := gaussianKernel(radius)

	hard := make([]float32, len(m.Values))
	for i, v := range m.Values {
		if v >= 0.5 {
			hard[i] = 1
		}
	}
	band := blur(hard, m.Width, m.Height, kernel)
	soft := blur(m.Values, m.Width, m.Height, kernel)

	out := &Mask{Width: m.Width, Height: m.Height, Values: make([]float32, len(m.Values))}
	for i := range out.Values {
		if band[i] > bandEpsilon && band[i] < 1-bandEpsilon {
			out.Values[i] = clamp01(soft[i])
		} else {
			out.Values[i] = hard[i]
		}
	}
	return out, nil
}

// gaussianKernel returns a normalized 1D kernel of length 2r+1 with sigma r/2.
func gaussianKernel(radius int) []float32 {
	sigma := math.Max(float64(radius)/2, 0.5)
	k := make([]float64, 2*radius+1)
	for i := range k {
		d := float64(i - radius)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)

	out := make([]float32, len(k))
	for i, v := range k {
		out[i] = float32(v)
	}
	return out
}

// blur runs the kernel horizontally then vertically, clamping at the edges.
func blur(src []float32, w, h int, kernel []float32) []float32 {
	r := len(kernel) / 2
	tmp := make([]float32, len(src))
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var sum float32
			for k, kv := range kernel {
				sum += row[clampIndex(x+k-r, w)] * kv
			}
			tmp[y*w+x] = sum
		}
	}
	dst := make([]float32, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float32
			for k, kv := range kernel {
				sum += tmp[clampIndex(y+k-r, h)*w+x] * kv
			}
			dst[y*w+x] = sum
		}
	}
	return dst
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
