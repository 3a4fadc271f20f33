package raster

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/chaos-io/rembg/errcode"
)

var supportedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// Sniff reports the detected MIME type of data and fails for anything that is
// not a supported raster format.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errcode.New(errcode.InvalidImage, "empty image payload")
	}
	mt := mimetype.Detect(data)
	for _, t := range supportedTypes {
		if mt.Is(t) {
			return t, nil
		}
	}
	return "", errcode.New(errcode.InvalidImage, "unsupported image format %s", mt.String())
}

// DecodeConfig reads only the image header. It lets callers enforce size
// limits before allocating the pixel buffer.
func DecodeConfig(data []byte) (image.Config, error) {
	if _, err := Sniff(data); err != nil {
		return image.Config{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, errcode.Wrap(errcode.InvalidImage, err, "decode image header")
	}
	return cfg, nil
}

// Decode turns encoded bytes into an RGBA raster.
func Decode(data []byte) (*Image, error) {
	if _, err := Sniff(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidImage, err, "decode image")
	}
	return FromImage(img)
}

// Open reads and decodes a local image file.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidImage, err, "read %s", path)
	}
	return Decode(data)
}

// EncodePNG encodes the raster as PNG.
func (m *Image) EncodePNG() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.NRGBA()); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG returns the PNG encoding as standard base64 text.
func (m *Image) EncodeBase64PNG() (string, error) {
	data, err := m.EncodePNG()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
