package pipeline

import (
	"context"
	"image"

	"github.com/chaos-io/rembg/raster"
)

// Remover is the image-level view of the pipeline for callers that work with
// the standard library image types.
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

var _ Remover = (*Pipeline)(nil)

// Remove runs img through the pipeline with default options and returns an
// *image.NRGBA with a transparent background.
func (p *Pipeline) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	src, err := raster.FromImage(img)
	if err != nil {
		return nil, err
	}
	res, err := p.RemoveBackground(ctx, &Request{Image: src, Options: DefaultOptions()})
	if err != nil {
		return nil, err
	}
	return res.Image.NRGBA(), nil
}
