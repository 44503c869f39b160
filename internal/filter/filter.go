// Package filter holds the transform library and the operation registry.
//
// Every transform is a pure function of a pixbuf.Buffer and its own
// parameter struct. Inputs are never modified.
package filter

import (
	"errors"
	"fmt"

	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

var (
	ErrInvalidParameter = errors.New("invalid transform parameter")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Transform is the closed set of supported transforms. The unexported method
// keeps implementations inside this package.
type Transform interface {
	Validate() error
	Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error)
	isTransform()
}

func (GaussianBlur) isTransform()    {}
func (BoxBlur) isTransform()         {}
func (MedianBlur) isTransform()      {}
func (BilateralFilter) isTransform() {}
func (Grayscale) isTransform()       {}
func (HSV) isTransform()             {}
func (YCrCb) isTransform()           {}

// Params describes a transform's parameters for logs and listings.
func Params(t Transform) map[string]any {
	switch v := t.(type) {
	case GaussianBlur:
		return map[string]any{"sigma": v.Sigma}
	case BoxBlur:
		return map[string]any{"ksize": v.Size}
	case MedianBlur:
		return map[string]any{"ksize": v.Size}
	case BilateralFilter:
		return map[string]any{
			"d":           v.Diameter,
			"sigma_color": v.SigmaColor,
			"sigma_space": v.SigmaSpace,
		}
	case Grayscale, HSV, YCrCb:
		return map[string]any{}
	default:
		panic(fmt.Sprintf("filter: unhandled transform %T", t))
	}
}

// checkInput is shared by every Apply: the parameters and the buffer shape
// must both be valid before any pixel is read.
func checkInput(t Transform, src *pixbuf.Buffer) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return src.Validate()
}

func positiveInt(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidParameter, name, v)
	}
	return nil
}

func positiveFloat(name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidParameter, name, v)
	}
	return nil
}

func clampUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// reflect101 mirrors an out-of-range index without repeating the edge
// sample: for n=5, -1 maps to 1 and 5 maps to 3.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func replicate(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
