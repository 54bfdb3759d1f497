// Package ndarray provides the dense n-dimensional array passed between
// operators. Every array carries axis tags (a subset of "txyzc" in storage
// order) so operators can locate spatial, time and channel axes.
package ndarray

import (
	"fmt"
	"math"
	"strings"
)

// KnownAxes lists the axis letters an array may carry.
const KnownAxes = "txyzc"

// Array is a row-major float32 array with tagged axes.
// PRINCIPLES:
// - KISS: one element type, conversions happen at the edges (loaders, exporters)
// - SRP: storage and indexing only, no image processing
type Array struct {
	Shape []int     `msgpack:"shape"`
	Axes  string    `msgpack:"axes"`
	Data  []float32 `msgpack:"data"`
}

// New allocates a zero-filled array.
func New(axes string, shape ...int) (*Array, error) {
	if err := ValidateAxes(axes, shape); err != nil {
		return nil, err
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Array{
		Shape: append([]int(nil), shape...),
		Axes:  axes,
		Data:  make([]float32, n),
	}, nil
}

// MustNew is New for statically known shapes; it panics on invalid input.
func MustNew(axes string, shape ...int) *Array {
	a, err := New(axes, shape...)
	if err != nil {
		panic(err)
	}
	return a
}

// FromData wraps an existing buffer. The buffer length must match the shape.
func FromData(axes string, shape []int, data []float32) (*Array, error) {
	if err := ValidateAxes(axes, shape); err != nil {
		return nil, err
	}
	if len(data) != Size(shape) {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrSizeMismatch, len(data), shape)
	}
	return &Array{Shape: append([]int(nil), shape...), Axes: axes, Data: data}, nil
}

// ValidateAxes checks that axes and shape agree.
func ValidateAxes(axes string, shape []int) error {
	if len(axes) != len(shape) {
		return fmt.Errorf("%w: axes %q vs %d dims", ErrShapeMismatch, axes, len(shape))
	}
	seen := make(map[rune]bool, len(axes))
	for _, r := range axes {
		if !strings.ContainsRune(KnownAxes, r) {
			return fmt.Errorf("%w: %q", ErrUnknownAxis, r)
		}
		if seen[r] {
			return fmt.Errorf("%w: %q", ErrDuplicateAxis, r)
		}
		seen[r] = true
	}
	for _, s := range shape {
		if s < 0 {
			return fmt.Errorf("%w: negative extent in %v", ErrShapeMismatch, shape)
		}
	}
	return nil
}

// Size returns the number of elements of shape.
func Size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Strides returns row-major element strides.
func (a *Array) Strides() []int {
	return stridesOf(a.Shape)
}

func stridesOf(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// AxisIndex returns the position of axis r or -1.
func (a *Array) AxisIndex(r rune) int {
	return strings.IndexRune(a.Axes, r)
}

// Index converts coordinates to a flat offset.
func (a *Array) Index(coords ...int) int {
	off := 0
	acc := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		off += coords[i] * acc
		acc *= a.Shape[i]
	}
	return off
}

// At reads one element.
func (a *Array) At(coords ...int) float32 {
	return a.Data[a.Index(coords...)]
}

// Set writes one element.
func (a *Array) Set(v float32, coords ...int) {
	a.Data[a.Index(coords...)] = v
}

// Len is the number of elements.
func (a *Array) Len() int { return len(a.Data) }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{
		Shape: append([]int(nil), a.Shape...),
		Axes:  a.Axes,
		Data:  append([]float32(nil), a.Data...),
	}
}

// Bytes is the in-memory payload size, used for cache accounting.
func (a *Array) Bytes() int64 {
	return int64(len(a.Data)) * 4
}

// MinMax returns the value range. An empty array yields (0, 0).
func (a *Array) MinMax() (float32, float32) {
	if len(a.Data) == 0 {
		return 0, 0
	}
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range a.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Sub copies the box [start, stop) into a new array.
func (a *Array) Sub(start, stop []int) (*Array, error) {
	if err := a.checkBox(start, stop); err != nil {
		return nil, err
	}
	shape := make([]int, len(start))
	for i := range start {
		shape[i] = stop[i] - start[i]
	}
	out, err := New(a.Axes, shape...)
	if err != nil {
		return nil, err
	}
	copyBox(out, make([]int, len(shape)), a, start, shape)
	return out, nil
}

// Paste writes src into a at offset start.
func (a *Array) Paste(start []int, src *Array) error {
	if src.Axes != a.Axes {
		return fmt.Errorf("%w: %q into %q", ErrAxesMismatch, src.Axes, a.Axes)
	}
	stop := make([]int, len(start))
	for i := range start {
		stop[i] = start[i] + src.Shape[i]
	}
	if err := a.checkBox(start, stop); err != nil {
		return err
	}
	copyBox(a, start, src, make([]int, len(start)), src.Shape)
	return nil
}

func (a *Array) checkBox(start, stop []int) error {
	if len(start) != len(a.Shape) || len(stop) != len(a.Shape) {
		return fmt.Errorf("%w: box rank %d/%d vs array rank %d", ErrOutOfBounds, len(start), len(stop), len(a.Shape))
	}
	for i := range start {
		if start[i] < 0 || stop[i] > a.Shape[i] || start[i] > stop[i] {
			return fmt.Errorf("%w: [%v, %v) in %v", ErrOutOfBounds, start, stop, a.Shape)
		}
	}
	return nil
}

// copyBox copies a box of extent shape from src@srcStart to dst@dstStart.
// The innermost axis is copied as a contiguous run.
func copyBox(dst *Array, dstStart []int, src *Array, srcStart []int, shape []int) {
	nd := len(shape)
	if nd == 0 {
		if len(src.Data) > 0 && len(dst.Data) > 0 {
			dst.Data[0] = src.Data[0]
		}
		return
	}
	if Size(shape) == 0 {
		return
	}
	dstSt, srcSt := dst.Strides(), src.Strides()
	run := shape[nd-1]
	idx := make([]int, nd-1)
	for {
		d, s := 0, 0
		for i := 0; i < nd-1; i++ {
			d += (dstStart[i] + idx[i]) * dstSt[i]
			s += (srcStart[i] + idx[i]) * srcSt[i]
		}
		d += dstStart[nd-1]
		s += srcStart[nd-1]
		copy(dst.Data[d:d+run], src.Data[s:s+run])

		k := nd - 2
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}

// Channel extracts channel c, keeping a singleton channel axis.
func (a *Array) Channel(c int) (*Array, error) {
	ci := a.AxisIndex('c')
	if ci < 0 {
		if c != 0 {
			return nil, fmt.Errorf("%w: channel %d of array without channel axis", ErrOutOfBounds, c)
		}
		return a.Clone(), nil
	}
	start := make([]int, len(a.Shape))
	stop := append([]int(nil), a.Shape...)
	start[ci], stop[ci] = c, c+1
	return a.Sub(start, stop)
}

// WithChannelAxis returns the array with a trailing singleton 'c' axis if it
// has none. The data is shared.
func (a *Array) WithChannelAxis() *Array {
	if a.AxisIndex('c') >= 0 {
		return a
	}
	return &Array{
		Shape: append(append([]int(nil), a.Shape...), 1),
		Axes:  a.Axes + "c",
		Data:  a.Data,
	}
}

// ForEach visits every coordinate in row-major order.
func ForEach(shape []int, fn func(coords []int)) {
	if Size(shape) == 0 {
		return
	}
	coords := make([]int, len(shape))
	for {
		fn(coords)
		k := len(shape) - 1
		for ; k >= 0; k-- {
			coords[k]++
			if coords[k] < shape[k] {
				break
			}
			coords[k] = 0
		}
		if k < 0 {
			return
		}
	}
}
