package pixbuf

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

var (
	ErrInvalidDimensions       = errors.New("invalid buffer dimensions")
	ErrUnsupportedChannelCount = errors.New("unsupported channel count")
)

// Buffer is a decoded raster in canonical channel order: a single luminance
// channel, or interleaved R, G, B. Pix is row-major with a stride of
// Width*Channels.
type Buffer struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

func New(width, height, channels int) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannelCount, channels)
	}
	return &Buffer{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

// Validate reports whether the declared shape matches the backing store.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidDimensions)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, b.Width, b.Height)
	}
	if b.Channels != 1 && b.Channels != 3 {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannelCount, b.Channels)
	}
	if want := b.Width * b.Height * b.Channels; len(b.Pix) != want {
		return fmt.Errorf("%w: store holds %d bytes, shape needs %d", ErrInvalidDimensions, len(b.Pix), want)
	}
	return nil
}

func (b *Buffer) Stride() int {
	return b.Width * b.Channels
}

func (b *Buffer) Offset(x, y int) int {
	return y*b.Stride() + x*b.Channels
}

func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Width: b.Width, Height: b.Height, Channels: b.Channels, Pix: pix}
}

func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Width == other.Width &&
		b.Height == other.Height &&
		b.Channels == other.Channels &&
		bytes.Equal(b.Pix, other.Pix)
}

// FromImage normalizes a decoded image into R, G, B with alpha dropped.
// Gray sources repeat their luminance in all three channels, so every decoded
// image is valid input for every operation.
func FromImage(src image.Image) (*Buffer, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch img := src.(type) {
	case *image.Gray:
		return fromGray(w, h, func(x, y int) uint8 {
			return img.Pix[y*img.Stride+x]
		})
	case *image.Gray16:
		return fromGray(w, h, func(x, y int) uint8 {
			return uint8(img.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y >> 8)
		})
	}

	buf, err := New(w, h, 3)
	if err != nil {
		return nil, err
	}

	nrgba, ok := src.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)
	}

	for y := 0; y < h; y++ {
		in := nrgba.Pix[y*nrgba.Stride:]
		out := buf.Pix[y*w*3:]
		for x := 0; x < w; x++ {
			out[x*3+0] = in[x*4+0]
			out[x*3+1] = in[x*4+1]
			out[x*3+2] = in[x*4+2]
		}
	}
	return buf, nil
}

// Image de-normalizes the buffer into the layout encoders expect.
func (b *Buffer) Image() image.Image {
	rect := image.Rect(0, 0, b.Width, b.Height)
	if b.Channels == 1 {
		gray := image.NewGray(rect)
		copy(gray.Pix, b.Pix)
		return gray
	}

	dst := image.NewNRGBA(rect)
	for y := 0; y < b.Height; y++ {
		in := b.Pix[y*b.Width*3:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Width; x++ {
			out[x*4+0] = in[x*3+0]
			out[x*4+1] = in[x*3+1]
			out[x*4+2] = in[x*3+2]
			out[x*4+3] = 0xff
		}
	}
	return dst
}

func fromGray(w, h int, luma func(x, y int) uint8) (*Buffer, error) {
	buf, err := New(w, h, 3)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := luma(x, y)
			i := buf.Offset(x, y)
			buf.Pix[i+0] = v
			buf.Pix[i+1] = v
			buf.Pix[i+2] = v
		}
	}
	return buf, nil
}
