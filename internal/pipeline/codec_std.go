//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

// imagingDecoder decodes with the pure-Go codecs, applying any EXIF
// orientation before normalization.
type imagingDecoder struct{}

func (imagingDecoder) Decode(data []byte) (*pixbuf.Buffer, Format, error) {
	format, err := detectFormat(data)
	if err != nil {
		return nil, "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", format, err)
	}

	buf, err := pixbuf.FromImage(img)
	if err != nil {
		return nil, "", err
	}
	return buf, format, nil
}
