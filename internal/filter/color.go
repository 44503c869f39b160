package filter

import (
	"fmt"
	"math"

	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

// Fixed-point luma weights (0.299, 0.587, 0.114) scaled by 1<<14.
const (
	lumaShift = 14
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaRound = 1 << (lumaShift - 1)

	crScale = 11682 // 0.713 << 14
	cbScale = 9241  // 0.564 << 14
	chroma  = 128 << lumaShift
)

func luma(r, g, b uint8) int {
	return (int(r)*lumaR + int(g)*lumaG + int(b)*lumaB + lumaRound) >> lumaShift
}

// Grayscale converts to luminance and writes it back into all three channels.
// A single-channel source is already luminance and is only expanded.
type Grayscale struct{}

func (Grayscale) Validate() error { return nil }

func (g Grayscale) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(g, src); err != nil {
		return nil, err
	}

	dst, err := pixbuf.New(src.Width, src.Height, 3)
	if err != nil {
		return nil, err
	}

	n := src.Width * src.Height
	for i := 0; i < n; i++ {
		var y uint8
		if src.Channels == 1 {
			y = src.Pix[i]
		} else {
			p := src.Pix[i*3 : i*3+3]
			y = uint8(luma(p[0], p[1], p[2]))
		}
		dst.Pix[i*3+0] = y
		dst.Pix[i*3+1] = y
		dst.Pix[i*3+2] = y
	}
	return dst, nil
}

// HSV reinterprets RGB triples as 8-bit (H, S, V) with H halved into
// [0, 180). The result is stored as-is; no inverse conversion happens before
// encoding.
type HSV struct{}

func (HSV) Validate() error { return nil }

func (t HSV) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(t, src); err != nil {
		return nil, err
	}
	if err := requireRGB("hsv", src); err != nil {
		return nil, err
	}

	dst, err := pixbuf.New(src.Width, src.Height, 3)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(src.Pix); i += 3 {
		h, s, v := rgbToHSV(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
		dst.Pix[i+0] = h
		dst.Pix[i+1] = s
		dst.Pix[i+2] = v
	}
	return dst, nil
}

func rgbToHSV(r, g, b uint8) (uint8, uint8, uint8) {
	v := max(r, g, b)
	lo := min(r, g, b)
	diff := float64(v) - float64(lo)

	var s float64
	if v != 0 {
		s = 255 * diff / float64(v)
	}

	var h float64
	if diff != 0 {
		switch v {
		case r:
			h = 60 * (float64(g) - float64(b)) / diff
		case g:
			h = 120 + 60*(float64(b)-float64(r))/diff
		default:
			h = 240 + 60*(float64(r)-float64(g))/diff
		}
		if h < 0 {
			h += 360
		}
	}

	// Rounded from float math; a fixed-point hue table can land one step away.
	hue := int(math.Round(h / 2))
	if hue >= 180 {
		hue -= 180
	}
	return uint8(hue), clampUint8(s), v
}

// YCrCb reinterprets RGB triples as 8-bit (Y, Cr, Cb) with chroma offset by
// 128. Channel order is Y, Cr, Cb and the result is stored as-is.
type YCrCb struct{}

func (YCrCb) Validate() error { return nil }

func (t YCrCb) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(t, src); err != nil {
		return nil, err
	}
	if err := requireRGB("ycbcr", src); err != nil {
		return nil, err
	}

	dst, err := pixbuf.New(src.Width, src.Height, 3)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(src.Pix); i += 3 {
		r, g, b := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		y := luma(r, g, b)
		cr := ((int(r)-y)*crScale + chroma + lumaRound) >> lumaShift
		cb := ((int(b)-y)*cbScale + chroma + lumaRound) >> lumaShift
		dst.Pix[i+0] = uint8(y)
		dst.Pix[i+1] = clampInt(cr)
		dst.Pix[i+2] = clampInt(cb)
	}
	return dst, nil
}

func requireRGB(name string, src *pixbuf.Buffer) error {
	if src.Channels != 3 {
		return fmt.Errorf("%w: %s needs 3 channels, got %d", pixbuf.ErrUnsupportedChannelCount, name, src.Channels)
	}
	return nil
}

func clampInt(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
