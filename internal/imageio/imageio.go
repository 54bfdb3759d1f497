// Package imageio converts between image files and arrays. Decoding
// supports PNG, JPEG and GIF from the standard library plus TIFF, BMP and
// WebP from golang.org/x/image. Encoding writes PNG.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

var (
	ErrUnsupportedShape = errors.New("array cannot be written as a 2D image")
	ErrDecode           = errors.New("cannot decode image")
)

// Axes is the axis order of decoded images.
const Axes = "yxc"

// Image is a decoded file.
type Image struct {
	Array  *ndarray.Array
	DType  graph.DType
	Format string
}

// Meta returns slot meta for the image including its data range.
func (i Image) Meta() graph.Meta {
	m := graph.Meta{Axes: i.Array.Axes, Shape: append([]int(nil), i.Array.Shape...), DType: i.DType}
	if i.DType == graph.Uint16 {
		return m.WithDRange(0, 65535)
	}
	return m.WithDRange(0, 255)
}

// Load decodes the image at path.
func Load(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, err
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads any registered image format.
func Decode(r io.Reader) (Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	a, dt := FromImage(img)
	return Image{Array: a, DType: dt, Format: format}, nil
}

// FromImage converts img into a "yxc" array. Gray images get one channel,
// everything else three (alpha is dropped). 16 bit models keep their full
// range.
func FromImage(img image.Image) (*ndarray.Array, graph.DType) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch img.ColorModel() {
	case color.GrayModel:
		a := ndarray.MustNew(Axes, h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				a.Data[y*w+x] = float32(g.Y)
			}
		}
		return a, graph.Uint8
	case color.Gray16Model:
		a := ndarray.MustNew(Axes, h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				a.Data[y*w+x] = float32(g.Y)
			}
		}
		return a, graph.Uint16
	}

	deep := img.ColorModel() == color.RGBA64Model || img.ColorModel() == color.NRGBA64Model
	a := ndarray.MustNew(Axes, h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := (y*w + x) * 3
			if deep {
				a.Data[i], a.Data[i+1], a.Data[i+2] = float32(c.R), float32(c.G), float32(c.B)
			} else {
				a.Data[i], a.Data[i+1], a.Data[i+2] = float32(c.R>>8), float32(c.G>>8), float32(c.B>>8)
			}
		}
	}
	if deep {
		return a, graph.Uint16
	}
	return a, graph.Uint8
}

// ToImage converts a 2D array with one or three channels into an 8 bit
// image. Arrays whose values all lie in [0, 1] are scaled to [0, 255];
// other values are clamped.
func ToImage(a *ndarray.Array) (image.Image, error) {
	yi, xi, ci := a.AxisIndex('y'), a.AxisIndex('x'), a.AxisIndex('c')
	if yi < 0 || xi < 0 {
		return nil, fmt.Errorf("%w: axes %q", ErrUnsupportedShape, a.Axes)
	}
	nc := 1
	if ci >= 0 {
		nc = a.Shape[ci]
	}
	for i, r := range a.Axes {
		if i != yi && i != xi && i != ci && a.Shape[i] != 1 {
			return nil, fmt.Errorf("%w: axis %q has length %d", ErrUnsupportedShape, r, a.Shape[i])
		}
	}
	if nc != 1 && nc != 3 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedShape, nc)
	}

	lo, hi := a.MinMax()
	scale := float32(1)
	if lo >= 0 && hi <= 1 {
		scale = 255
	}
	h, w := a.Shape[yi], a.Shape[xi]
	coords := make([]int, len(a.Shape))
	at := func(y, x, c int) uint8 {
		coords[yi], coords[xi] = y, x
		if ci >= 0 {
			coords[ci] = c
		}
		return clamp8(a.At(coords...) * scale)
	}

	rect := image.Rect(0, 0, w, h)
	if nc == 1 {
		img := image.NewGray(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: at(y, x, 0)})
			}
		}
		return img, nil
	}
	img := image.NewNRGBA(rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: at(y, x, 0), G: at(y, x, 1), B: at(y, x, 2), A: 255})
		}
	}
	return img, nil
}

// SavePNG writes a as a PNG file.
func SavePNG(path string, a *ndarray.Array) error {
	img, err := ToImage(a)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func clamp8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
