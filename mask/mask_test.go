package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/errcode"
)

// square returns a size x size mask with a foreground block [lo, hi).
func square(size, lo, hi int) *Mask {
	m, _ := New(size, size)
	for y := lo; y < hi; y++ {
		for x := lo; x < hi; x++ {
			m.Values[y*size+x] = 1
		}
	}
	return m
}

func TestResize(t *testing.T) {
	m := square(8, 2, 6)

	got, err := Resize(m, 16, 32)
	require.NoError(t, err)
	assert.Equal(t, 16, got.Width)
	assert.Equal(t, 32, got.Height)
	assert.Len(t, got.Values, 16*32)

	assert.InDelta(t, 1.0, got.At(8, 16), 1e-3)
	assert.InDelta(t, 0.0, got.At(0, 0), 1e-3)
	assert.InDelta(t, 0.0, got.At(15, 31), 1e-3)
	for _, v := range got.Values {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestResize_SameSizeCopies(t *testing.T) {
	m := square(4, 1, 3)
	got, err := Resize(m, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, m.Values, got.Values)

	got.Values[0] = 1
	assert.Equal(t, float32(0), m.Values[0])
}

func TestResize_Deterministic(t *testing.T) {
	m := square(32, 5, 20)
	a, err := Resize(m, 101, 67)
	require.NoError(t, err)
	b, err := Resize(m, 101, 67)
	require.NoError(t, err)
	assert.Equal(t, a.Values, b.Values)
}

func TestResize_Invalid(t *testing.T) {
	_, err := Resize(nil, 4, 4)
	assert.ErrorIs(t, err, errcode.ErrDimensionMismatch)

	_, err = Resize(square(4, 0, 2), 0, 4)
	assert.ErrorIs(t, err, errcode.ErrDimensionMismatch)
}

func TestRefine_ZeroRadiusIsNoop(t *testing.T) {
	m := square(6, 2, 4)
	m.Values[0] = 0.3

	got, err := Refine(m, 0)
	require.NoError(t, err)
	assert.Equal(t, m.Values, got.Values)
}

func TestRefine_FeathersOnlyTheBand(t *testing.T) {
	const size = 40
	m := square(size, 10, 30)

	got, err := Refine(m, 3)
	require.NoError(t, err)

	// far from the edge the hard value is kept
	assert.Equal(t, float32(1), got.At(20, 20))
	assert.Equal(t, float32(0), got.At(2, 2))
	assert.Equal(t, float32(0), got.At(37, 37))

	// on the edge the value is softened
	edge := got.At(10, 20)
	assert.Greater(t, edge, float32(0))
	assert.Less(t, edge, float32(1))

	for _, v := range got.Values {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestRefine_InvalidRadius(t *testing.T) {
	_, err := Refine(square(4, 1, 3), -1)
	assert.ErrorIs(t, err, errcode.ErrInvalidOptions)

	_, err = Refine(square(4, 1, 3), MaxFeatherRadius+1)
	assert.ErrorIs(t, err, errcode.ErrInvalidOptions)
}

func TestGaussianKernel(t *testing.T) {
	k := gaussianKernel(4)
	require.Len(t, k, 9)

	var sum float32
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Equal(t, k[0], k[8])
	assert.Greater(t, k[4], k[3])
}

func TestMask_Coverage(t *testing.T) {
	m := square(10, 0, 5)
	assert.InDelta(t, 0.25, m.Coverage(), 1e-9)
}
