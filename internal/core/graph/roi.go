package graph

import (
	"fmt"
	"slices"
)

// Roi is a half-open box [Start, Stop) in the coordinates of a slot. The zero
// Roi stands for the whole slot.
type Roi struct {
	Start []int `json:"start" msgpack:"start"`
	Stop  []int `json:"stop" msgpack:"stop"`
}

// NewRoi copies start and stop into a Roi.
func NewRoi(start, stop []int) Roi {
	return Roi{Start: slices.Clone(start), Stop: slices.Clone(stop)}
}

// FullRoi covers the whole of shape.
func FullRoi(shape []int) Roi {
	return Roi{Start: make([]int, len(shape)), Stop: slices.Clone(shape)}
}

// IsZero reports whether r is the "whole slot" marker.
func (r Roi) IsZero() bool { return r.Start == nil && r.Stop == nil }

// Resolve returns the full region of shape for the zero Roi, r otherwise.
func (r Roi) Resolve(shape []int) Roi {
	if r.IsZero() {
		return FullRoi(shape)
	}
	return r
}

// Shape is the extent of the box along each axis.
func (r Roi) Shape() []int {
	out := make([]int, len(r.Start))
	for i := range r.Start {
		out[i] = r.Stop[i] - r.Start[i]
	}
	return out
}

// Empty reports whether the box holds no element.
func (r Roi) Empty() bool {
	for i := range r.Start {
		if r.Stop[i] <= r.Start[i] {
			return true
		}
	}
	return len(r.Start) == 0
}

// Validate checks that r is a non-empty box inside shape.
func (r Roi) Validate(shape []int) error {
	if len(r.Start) != len(shape) || len(r.Stop) != len(shape) {
		return fmt.Errorf("%w: rank %d/%d for shape %v", ErrInvalidRoi, len(r.Start), len(r.Stop), shape)
	}
	for i := range shape {
		if r.Start[i] < 0 || r.Stop[i] > shape[i] || r.Start[i] >= r.Stop[i] {
			return fmt.Errorf("%w: %s for shape %v", ErrInvalidRoi, r, shape)
		}
	}
	return nil
}

// Intersect returns the overlap of two boxes of equal rank.
func (r Roi) Intersect(o Roi) (Roi, bool) {
	if len(r.Start) != len(o.Start) {
		return Roi{}, false
	}
	out := Roi{Start: make([]int, len(r.Start)), Stop: make([]int, len(r.Start))}
	for i := range r.Start {
		out.Start[i] = max(r.Start[i], o.Start[i])
		out.Stop[i] = min(r.Stop[i], o.Stop[i])
		if out.Stop[i] <= out.Start[i] {
			return Roi{}, false
		}
	}
	return out, true
}

// Contains reports whether o lies inside r.
func (r Roi) Contains(o Roi) bool {
	if len(r.Start) != len(o.Start) {
		return false
	}
	for i := range r.Start {
		if o.Start[i] < r.Start[i] || o.Stop[i] > r.Stop[i] {
			return false
		}
	}
	return true
}

// Expand grows the box by halo on every side, clipped to shape.
func (r Roi) Expand(halo, shape []int) Roi {
	out := NewRoi(r.Start, r.Stop)
	for i := range out.Start {
		h := 0
		if i < len(halo) {
			h = halo[i]
		}
		out.Start[i] = max(0, out.Start[i]-h)
		out.Stop[i] = min(shape[i], out.Stop[i]+h)
	}
	return out
}

// Translate shifts the box by -origin, making it relative to origin.
func (r Roi) Translate(origin []int) Roi {
	out := NewRoi(r.Start, r.Stop)
	for i := range out.Start {
		out.Start[i] -= origin[i]
		out.Stop[i] -= origin[i]
	}
	return out
}

// Equal reports whether both boxes are identical.
func (r Roi) Equal(o Roi) bool {
	return slices.Equal(r.Start, o.Start) && slices.Equal(r.Stop, o.Stop)
}

func (r Roi) String() string {
	if r.IsZero() {
		return "[all]"
	}
	return fmt.Sprintf("[%v:%v]", r.Start, r.Stop)
}

// Blocks splits the block-aligned cover of r into blocks of blockShape,
// clipped to shape. Block shapes of zero or less span the whole axis.
func Blocks(r Roi, blockShape, shape []int) []Roi {
	n := len(shape)
	bs := make([]int, n)
	for i := range bs {
		bs[i] = shape[i]
		if i < len(blockShape) && blockShape[i] > 0 {
			bs[i] = blockShape[i]
		}
	}
	first := make([]int, n)
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		first[i] = r.Start[i] / bs[i]
		last := (r.Stop[i] - 1) / bs[i]
		counts[i] = last - first[i] + 1
		if counts[i] <= 0 {
			return nil
		}
	}
	var out []Roi
	idx := make([]int, n)
	for {
		b := Roi{Start: make([]int, n), Stop: make([]int, n)}
		for i := 0; i < n; i++ {
			b.Start[i] = (first[i] + idx[i]) * bs[i]
			b.Stop[i] = min(b.Start[i]+bs[i], shape[i])
		}
		out = append(out, b)
		d := n - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < counts[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return out
		}
	}
}
