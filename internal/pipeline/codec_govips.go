//go:build govips && cgo

package pipeline

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

// govipsDecoder decodes through libvips. Transforms still run on the
// canonical buffer, so only the decode side differs from the default build.
type govipsDecoder struct{}

func (govipsDecoder) Decode(data []byte) (*pixbuf.Buffer, Format, error) {
	var format Format
	switch vips.DetermineImageType(data) {
	case vips.ImageTypeJPEG:
		format = FormatJPEG
	case vips.ImageTypePNG:
		format = FormatPNG
	default:
		return nil, "", fmt.Errorf("unsupported image format")
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", format, err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return nil, "", fmt.Errorf("auto-rotate %s: %w", format, err)
	}

	decoded, err := img.ToImage(vips.NewDefaultExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("export %s: %w", format, err)
	}

	buf, err := pixbuf.FromImage(decoded)
	if err != nil {
		return nil, "", err
	}
	return buf, format, nil
}
