// Package composite merges an image with its foreground mask.
package composite

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/mask"
	"github.com/chaos-io/rembg/raster"
)

// Background is either transparent or a solid color.
type Background struct {
	Transparent bool
	Color       color.RGBA
}

var Transparent = Background{Transparent: true}

func Solid(r, g, b uint8) Background {
	return Background{Color: color.RGBA{R: r, G: g, B: b, A: 0xff}}
}

func (b Background) String() string {
	if b.Transparent {
		return "transparent"
	}
	return fmt.Sprintf("#%02x%02x%02x", b.Color.R, b.Color.G, b.Color.B)
}

// ParseBackground accepts "", "transparent", "#rrggbb", "#rgb" or "r,g,b".
func ParseBackground(s string) (Background, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == "transparent":
		return Transparent, nil
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.Contains(s, ","):
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			break
		}
		var c [3]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return Background{}, errcode.New(errcode.InvalidOptions, "invalid background %q", s)
			}
			c[i] = uint8(v)
		}
		return Solid(c[0], c[1], c[2]), nil
	}
	return Background{}, errcode.New(errcode.InvalidOptions, "invalid background %q", s)
}

func parseHex(h string) (Background, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Background{}, errcode.New(errcode.InvalidOptions, "invalid background #%s", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Background{}, errcode.New(errcode.InvalidOptions, "invalid background #%s", h)
	}
	return Solid(uint8(v>>16), uint8(v>>8), uint8(v)), nil
}

// Composite produces an RGBA image the size of orig. With a transparent
// background the color channels are kept and alpha follows the mask; with a
// solid background each pixel is lerped toward the color by 1-mask and stays
// opaque. When hard is set the mask is thresholded at 0.5 first.
func Composite(orig *raster.Image, m *mask.Mask, bg Background, hard bool) (*raster.Image, error) {
	if err := orig.Validate(); err != nil {
		return nil, err
	}
	if m == nil || m.Width != orig.Width || m.Height != orig.Height || len(m.Values) != m.Width*m.Height {
		if m == nil {
			return nil, errcode.New(errcode.DimensionMismatch, "mask is nil")
		}
		return nil, errcode.New(errcode.DimensionMismatch, "mask is %dx%d, image is %dx%d",
			m.Width, m.Height, orig.Width, orig.Height)
	}

	out, err := raster.New(orig.Width, orig.Height, 4)
	if err != nil {
		return nil, err
	}
	bgc := [3]float32{float32(bg.Color.R), float32(bg.Color.G), float32(bg.Color.B)}
	for i, a := range m.Values {
		if hard {
			if a >= 0.5 {
				a = 1
			} else {
				a = 0
			}
		}
		src := orig.Pix[i*orig.Channels : i*orig.Channels+3]
		dst := out.Pix[i*4 : i*4+4]
		if bg.Transparent {
			copy(dst, src)
			dst[3] = toByte(a * 255)
			continue
		}
		for c := 0; c < 3; c++ {
			dst[c] = toByte(float32(src[c])*a + bgc[c]*(1-a))
		}
		dst[3] = 0xff
	}
	return out, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
