package graph

import (
	"fmt"
	"slices"
	"strings"
)

// DType names the element type a slot advertises. Pixel data is always held
// as float32 in memory; the dtype records what the source stored.
type DType string

const (
	Float32 DType = "float32"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
)

// Meta describes the data of a slot independently of the data itself.
// A zero Shape means the slot carries a plain value, not an array.
type Meta struct {
	Axes   string         `json:"axes" msgpack:"axes"`
	Shape  []int          `json:"shape" msgpack:"shape"`
	DType  DType          `json:"dtype" msgpack:"dtype"`
	DRange *[2]float64    `json:"drange,omitempty" msgpack:"drange,omitempty"`
	Extra  map[string]any `json:"extra,omitempty" msgpack:"extra,omitempty"`
}

// IsArray reports whether the meta describes array data.
func (m Meta) IsArray() bool { return len(m.Shape) > 0 }

// AxisIndex returns the position of axis r, or -1.
func (m Meta) AxisIndex(r rune) int { return strings.IndexRune(m.Axes, r) }

// AxisLen returns the length of axis r, or 0 when the axis is absent.
func (m Meta) AxisLen(r rune) int {
	i := m.AxisIndex(r)
	if i < 0 || i >= len(m.Shape) {
		return 0
	}
	return m.Shape[i]
}

// TaggedShape maps each axis letter to its length.
func (m Meta) TaggedShape() map[string]int {
	out := make(map[string]int, len(m.Axes))
	for i, r := range m.Axes {
		if i < len(m.Shape) {
			out[string(r)] = m.Shape[i]
		}
	}
	return out
}

// Bytes is the in-memory size of an array with this meta.
func (m Meta) Bytes() int64 {
	if !m.IsArray() {
		return 0
	}
	n := int64(4)
	for _, s := range m.Shape {
		n *= int64(s)
	}
	return n
}

// WithDRange returns a copy with the data range set.
func (m Meta) WithDRange(lo, hi float64) Meta {
	c := m.Clone()
	c.DRange = &[2]float64{lo, hi}
	return c
}

// Clone returns a deep copy.
func (m Meta) Clone() Meta {
	c := m
	c.Shape = slices.Clone(m.Shape)
	if m.DRange != nil {
		r := *m.DRange
		c.DRange = &r
	}
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Equal compares axes, shape, dtype and data range. Extra entries are
// compared by key set and formatted value.
func (m Meta) Equal(o Meta) bool {
	if m.Axes != o.Axes || m.DType != o.DType || !slices.Equal(m.Shape, o.Shape) {
		return false
	}
	if (m.DRange == nil) != (o.DRange == nil) {
		return false
	}
	if m.DRange != nil && *m.DRange != *o.DRange {
		return false
	}
	if len(m.Extra) != len(o.Extra) {
		return false
	}
	for k, v := range m.Extra {
		w, ok := o.Extra[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}

func (m Meta) String() string {
	if !m.IsArray() {
		return "Meta{value}"
	}
	s := fmt.Sprintf("Meta{%s %v %s", m.Axes, m.Shape, m.DType)
	if m.DRange != nil {
		s += fmt.Sprintf(" drange=%v", *m.DRange)
	}
	return s + "}"
}
