package filter

import (
	"fmt"

	"github.com/dunamismax/pixelfilter/internal/pixbuf"
)

type ID string

const (
	OpGaussian  ID = "gaussian"
	OpBox       ID = "box"
	OpMedian    ID = "median"
	OpBilateral ID = "bilateral"
	OpGray      ID = "gray"
	OpHSV       ID = "hsv"
	OpYCbCr     ID = "ycbcr"
)

// Operation binds an identifier to a transform carrying its default
// parameters.
type Operation struct {
	ID        ID
	Transform Transform
}

func (o Operation) Apply(src *pixbuf.Buffer) (*pixbuf.Buffer, error) {
	return o.Transform.Apply(src)
}

// operations is fixed at init and only read afterwards, so lookups from
// concurrent requests need no locking.
var operations = []Operation{
	{ID: OpGaussian, Transform: GaussianBlur{Sigma: 2}},
	{ID: OpBox, Transform: BoxBlur{Size: 5}},
	{ID: OpMedian, Transform: MedianBlur{Size: 5}},
	{ID: OpBilateral, Transform: BilateralFilter{Diameter: 9, SigmaColor: 75, SigmaSpace: 75}},
	{ID: OpGray, Transform: Grayscale{}},
	{ID: OpHSV, Transform: HSV{}},
	{ID: OpYCbCr, Transform: YCrCb{}},
}

var byID = func() map[ID]Operation {
	m := make(map[ID]Operation, len(operations))
	for _, op := range operations {
		m[op.ID] = op
	}
	return m
}()

// Lookup resolves an operation identifier. Matching is exact.
func Lookup(id string) (Operation, error) {
	op, ok := byID[ID(id)]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, id)
	}
	return op, nil
}

// Operations returns the registered operations in display order.
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

func IDs() []ID {
	ids := make([]ID, len(operations))
	for i, op := range operations {
		ids[i] = op.ID
	}
	return ids
}
