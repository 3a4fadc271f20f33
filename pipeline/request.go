package pipeline

import (
	"time"

	"github.com/chaos-io/rembg/composite"
	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/mask"
	"github.com/chaos-io/rembg/raster"
)

// Options tune the output of a single request.
type Options struct {
	Background    composite.Background
	FeatherRadius int
	// SoftAlpha keeps the model's continuous probabilities as alpha when no
	// feathering is requested, instead of thresholding at 0.5.
	SoftAlpha bool
}

// DefaultOptions yields a transparent background with hard edges.
func DefaultOptions() Options {
	return Options{Background: composite.Transparent}
}

func (o Options) validate() error {
	if o.FeatherRadius < 0 || o.FeatherRadius > mask.MaxFeatherRadius {
		return errcode.New(errcode.InvalidOptions, "feather radius %d out of range [0,%d]",
			o.FeatherRadius, mask.MaxFeatherRadius)
	}
	return nil
}

// hardEdges reports whether the compositor thresholds the mask.
func (o Options) hardEdges() bool {
	return o.FeatherRadius == 0 && !o.SoftAlpha
}

// Request is one background removal job. It is not retained after the
// result is delivered.
type Request struct {
	Image   *raster.Image
	Options Options
}

// Result is owned by the caller once returned.
type Result struct {
	RequestID string
	Image     *raster.Image
	Mask      *mask.Mask
	Elapsed   time.Duration
}
