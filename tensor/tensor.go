// Package tensor converts rasters to model input tensors and model output
// tensors back to masks.
package tensor

import (
	"fmt"
	"slices"

	"github.com/chaos-io/rembg/errcode"
)

// Tensor is a dense row-major float32 buffer.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// New allocates a zeroed tensor of the given shape.
func New(shape ...int64) (*Tensor, error) {
	n, err := Volume(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}, nil
}

// Volume is the element count of shape. Non-positive dims are rejected.
func Volume(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 0, errcode.New(errcode.ShapeMismatch, "empty shape")
	}
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return 0, errcode.New(errcode.ShapeMismatch, "non-positive dim in shape %v", shape)
		}
		n *= d
	}
	return int(n), nil
}

// Validate checks that the buffer length matches the shape.
func (t *Tensor) Validate() error {
	if t == nil {
		return errcode.New(errcode.ShapeMismatch, "tensor is nil")
	}
	n, err := Volume(t.Shape)
	if err != nil {
		return err
	}
	if len(t.Data) != n {
		return errcode.New(errcode.ShapeMismatch, "tensor %v holds %d values, want %d", t.Shape, len(t.Data), n)
	}
	return nil
}

// CheckShape fails with SHAPE_MISMATCH unless t matches want exactly.
func CheckShape(t *Tensor, want []int64) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if !slices.Equal(t.Shape, want) {
		return errcode.New(errcode.ShapeMismatch, "got shape %v, want %v", t.Shape, want)
	}
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}
