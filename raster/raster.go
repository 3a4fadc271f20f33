// Package raster holds the decoded pixel buffers the pipeline works on.
package raster

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/chaos-io/rembg/errcode"
)

// Image is an 8-bit RGB or RGBA pixel buffer, row-major, not premultiplied.
type Image struct {
	Pix      []uint8
	Width    int
	Height   int
	Channels int
}

// New allocates a zeroed image. It fails for empty or unsupported layouts.
func New(width, height, channels int) (*Image, error) {
	if err := checkLayout(width, height, channels); err != nil {
		return nil, err
	}
	return &Image{
		Pix:      make([]uint8, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}, nil
}

func checkLayout(width, height, channels int) error {
	if width <= 0 || height <= 0 {
		return errcode.New(errcode.InvalidImage, "image is %dx%d", width, height)
	}
	if channels != 3 && channels != 4 {
		return errcode.New(errcode.InvalidImage, "unsupported channel count %d", channels)
	}
	return nil
}

// Validate checks dimensions, channel count and buffer length.
func (m *Image) Validate() error {
	if m == nil {
		return errcode.New(errcode.InvalidImage, "image is nil")
	}
	if err := checkLayout(m.Width, m.Height, m.Channels); err != nil {
		return err
	}
	if want := m.Width * m.Height * m.Channels; len(m.Pix) != want {
		return errcode.New(errcode.InvalidImage, "buffer holds %d bytes, want %d", len(m.Pix), want)
	}
	return nil
}

// RGBAt returns the color channels of pixel (x, y).
func (m *Image) RGBAt(x, y int) (r, g, b uint8) {
	i := (y*m.Width + x) * m.Channels
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// AlphaAt returns the alpha of pixel (x, y); 3-channel images are opaque.
func (m *Image) AlphaAt(x, y int) uint8 {
	if m.Channels < 4 {
		return 0xff
	}
	return m.Pix[(y*m.Width+x)*m.Channels+3]
}

// FromImage copies any image.Image into an RGBA raster.
func FromImage(src image.Image) (*Image, error) {
	if src == nil {
		return nil, errcode.New(errcode.InvalidImage, "image is nil")
	}
	nrgba := toNRGBA(src)
	b := nrgba.Bounds()
	dst, err := New(b.Dx(), b.Dy(), 4)
	if err != nil {
		return nil, err
	}
	rowLen := dst.Width * 4
	for y := 0; y < dst.Height; y++ {
		copy(dst.Pix[y*rowLen:(y+1)*rowLen], nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+rowLen])
	}
	return dst, nil
}

// Opaque returns an *image.RGBA view of the color channels with alpha forced
// to 255.
func (m *Image) Opaque() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for p, o := 0, 0; p < len(m.Pix); p, o = p+m.Channels, o+4 {
		dst.Pix[o] = m.Pix[p]
		dst.Pix[o+1] = m.Pix[p+1]
		dst.Pix[o+2] = m.Pix[p+2]
		dst.Pix[o+3] = 0xff
	}
	return dst
}

// NRGBA converts the raster to a standard library image.
func (m *Image) NRGBA() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	if m.Channels == 4 {
		copy(dst.Pix, m.Pix)
		return dst
	}
	for p, o := 0, 0; p < len(m.Pix); p, o = p+3, o+4 {
		dst.Pix[o] = m.Pix[p]
		dst.Pix[o+1] = m.Pix[p+1]
		dst.Pix[o+2] = m.Pix[p+2]
		dst.Pix[o+3] = 0xff
	}
	return dst
}

// Fill sets every pixel to c.
func (m *Image) Fill(c color.NRGBA) {
	for i := 0; i < len(m.Pix); i += m.Channels {
		m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
		if m.Channels == 4 {
			m.Pix[i+3] = c.A
		}
	}
}

// FillRect sets the pixels inside r to c.
func (m *Image) FillRect(r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := (y*m.Width + x) * m.Channels
			m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
			if m.Channels == 4 {
				m.Pix[i+3] = c.A
			}
		}
	}
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
