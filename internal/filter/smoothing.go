package filter

import (
	"fmt"
	"math"
	"slices"

	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

// GaussianBlur smooths with a Gaussian whose kernel size is derived from
// Sigma.
type GaussianBlur struct {
	Sigma float64
}

func (g GaussianBlur) Validate() error {
	return positiveFloat("sigma", g.Sigma)
}

// KernelSize is the odd size covering three standard deviations either side.
func (g GaussianBlur) KernelSize() int {
	return int(math.Round(g.Sigma*6+1)) | 1
}

func (g GaussianBlur) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(g, src); err != nil {
		return nil, err
	}

	size := g.KernelSize()
	anchor := size / 2
	kernel := make([]float64, size)
	scale := -0.5 / (g.Sigma * g.Sigma)
	var sum float64
	for i := range kernel {
		d := float64(i - anchor)
		kernel[i] = math.Exp(d * d * scale)
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	return separable(src, kernel, anchor), nil
}

// BoxBlur replaces each sample with the mean of a Size x Size window.
type BoxBlur struct {
	Size int
}

func (b BoxBlur) Validate() error {
	return positiveInt("ksize", b.Size)
}

func (b BoxBlur) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(b, src); err != nil {
		return nil, err
	}

	kernel := make([]float64, b.Size)
	for i := range kernel {
		kernel[i] = 1 / float64(b.Size)
	}
	return separable(src, kernel, b.Size/2), nil
}

// separable runs the 1-D kernel along rows then columns with a reflect-101
// border.
func separable(src *pixbuf.Buffer, kernel []float64, anchor int) *pixbuf.Buffer {
	w, h, cn := src.Width, src.Height, src.Channels
	tmp := make([]float64, len(src.Pix))

	for y := 0; y < h; y++ {
		row := src.Pix[src.Offset(0, y) : src.Offset(0, y)+src.Stride()]
		for x := 0; x < w; x++ {
			for c := 0; c < cn; c++ {
				var acc float64
				for i, k := range kernel {
					sx := reflect101(x+i-anchor, w)
					acc += k * float64(row[sx*cn+c])
				}
				tmp[src.Offset(x, y)+c] = acc
			}
		}
	}

	dst := &pixbuf.Buffer{Width: w, Height: h, Channels: cn, Pix: make([]uint8, len(src.Pix))}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < cn; c++ {
				var acc float64
				for i, k := range kernel {
					sy := reflect101(y+i-anchor, h)
					acc += k * tmp[src.Offset(x, sy)+c]
				}
				dst.Pix[dst.Offset(x, y)+c] = clampUint8(acc)
			}
		}
	}
	return dst
}

// MedianBlur replaces each sample with the median of a Size x Size window.
// Size must be odd.
type MedianBlur struct {
	Size int
}

func (m MedianBlur) Validate() error {
	if err := positiveInt("ksize", m.Size); err != nil {
		return err
	}
	if m.Size%2 == 0 {
		return fmt.Errorf("%w: ksize must be odd, got %d", ErrInvalidParameter, m.Size)
	}
	return nil
}

func (m MedianBlur) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(m, src); err != nil {
		return nil, err
	}
	if m.Size == 1 {
		return src.Clone(), nil
	}

	w, h, cn := src.Width, src.Height, src.Channels
	r := m.Size / 2
	dst := &pixbuf.Buffer{Width: w, Height: h, Channels: cn, Pix: make([]uint8, len(src.Pix))}
	window := make([]uint8, 0, m.Size*m.Size)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < cn; c++ {
				window = window[:0]
				for dy := -r; dy <= r; dy++ {
					sy := replicate(y+dy, h)
					for dx := -r; dx <= r; dx++ {
						sx := replicate(x+dx, w)
						window = append(window, src.Pix[src.Offset(sx, sy)+c])
					}
				}
				slices.Sort(window)
				dst.Pix[dst.Offset(x, y)+c] = window[len(window)/2]
			}
		}
	}
	return dst, nil
}

// BilateralFilter smooths while keeping edges: neighbours are weighted by
// both spatial distance and color distance. Diameter sets the neighbourhood.
type BilateralFilter struct {
	Diameter   int
	SigmaColor float64
	SigmaSpace float64
}

func (b BilateralFilter) Validate() error {
	if err := positiveInt("d", b.Diameter); err != nil {
		return err
	}
	if err := positiveFloat("sigma_color", b.SigmaColor); err != nil {
		return err
	}
	return positiveFloat("sigma_space", b.SigmaSpace)
}

func (b BilateralFilter) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	if err := checkInput(b, src); err != nil {
		return nil, err
	}

	w, h, cn := src.Width, src.Height, src.Channels
	radius := b.Diameter / 2

	type tap struct {
		dx, dy int
		weight float64
	}
	spaceScale := -0.5 / (b.SigmaSpace * b.SigmaSpace)
	taps := make([]tap, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d := math.Sqrt(float64(dx*dx + dy*dy))
			if d > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, weight: math.Exp(d * d * spaceScale)})
		}
	}

	colorScale := -0.5 / (b.SigmaColor * b.SigmaColor)
	colorWeight := make([]float64, 256*cn)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorScale)
	}

	dst := &pixbuf.Buffer{Width: w, Height: h, Channels: cn, Pix: make([]uint8, len(src.Pix))}
	acc := make([]float64, cn)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := src.Pix[src.Offset(x, y) : src.Offset(x, y)+cn]
			for c := range acc {
				acc[c] = 0
			}
			var norm float64

			for _, t := range taps {
				sx := reflect101(x+t.dx, w)
				sy := reflect101(y+t.dy, h)
				px := src.Pix[src.Offset(sx, sy) : src.Offset(sx, sy)+cn]

				diff := 0
				for c := 0; c < cn; c++ {
					d := int(px[c]) - int(center[c])
					if d < 0 {
						d = -d
					}
					diff += d
				}

				weight := t.weight * colorWeight[diff]
				for c := 0; c < cn; c++ {
					acc[c] += weight * float64(px[c])
				}
				norm += weight
			}

			out := dst.Pix[dst.Offset(x, y) : dst.Offset(x, y)+cn]
			for c := 0; c < cn; c++ {
				out[c] = clampUint8(acc[c] / norm)
			}
		}
	}
	return dst, nil
}
