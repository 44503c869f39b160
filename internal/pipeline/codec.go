package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

const DefaultJPEGQuality = 95

// Decoder turns encoded bytes into a canonical buffer and reports the
// container format it came from.
type Decoder interface {
	Decode(data []byte) (*pixbuf.Buffer, Format, error)
}

type EncodeOptions struct {
	JPEGQuality    int
	PNGCompression png.CompressionLevel
}

func normalizeFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported image format: %q", name)
	}
}

func detectFormat(data []byte) (Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("image has invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return normalizeFormat(name)
}

func encodeBuffer(buf *pixbuf.Buffer, format Format, opts EncodeOptions) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	switch format {
	case FormatJPEG:
		quality := opts.JPEGQuality
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := imaging.Encode(&out, buf.Image(), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&out, buf.Image(), imaging.PNG, imaging.PNGCompressionLevel(opts.PNGCompression)); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return out.Bytes(), nil
}

// DecoderName reports which decoder backend this binary was built with.
func DecoderName() string {
	return decoderName
}
