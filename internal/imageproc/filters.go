// Package imageproc implements the pixel filters and the seeded watershed
// used by the feature selection and watershed applets. Arrays are filtered
// along their spatial axes (x, y, z); time and channel axes are independent.
package imageproc

import (
	"fmt"
	"math"
	"strings"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// SpatialAxes are the axes filters and neighbourhoods run along.
const SpatialAxes = "xyz"

// KernelRadius is the half width of a Gaussian derivative kernel.
func KernelRadius(sigma float64, order int) int {
	return int(math.Ceil(3*sigma + 0.5*float64(order)))
}

// Kernel samples a Gaussian derivative kernel for correlation. Order 0 sums
// to one; orders 1 and 2 are normalised so they reproduce the exact first
// and second derivative of polynomials of that order.
func Kernel(sigma float64, order int) ([]float32, error) {
	if sigma <= 0 || math.IsNaN(sigma) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigma, sigma)
	}
	if order < 0 || order > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrder, order)
	}
	r := KernelRadius(sigma, order)
	g := make([]float64, 2*r+1)
	for i := range g {
		x := float64(i - r)
		g[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}

	k := make([]float64, len(g))
	switch order {
	case 0:
		var sum float64
		for _, v := range g {
			sum += v
		}
		for i, v := range g {
			k[i] = v / sum
		}
	case 1:
		var m float64
		for i, v := range g {
			x := float64(i - r)
			k[i] = x * v
			m += x * x * v
		}
		for i := range k {
			k[i] /= m
		}
	case 2:
		var mean float64
		for i, v := range g {
			x := float64(i - r)
			k[i] = (x*x/(sigma*sigma) - 1) * v
			mean += k[i]
		}
		mean /= float64(len(k))
		var m float64
		for i := range k {
			x := float64(i - r)
			k[i] -= mean
			m += x * x / 2 * k[i]
		}
		for i := range k {
			k[i] /= m
		}
	}

	out := make([]float32, len(k))
	for i, v := range k {
		out[i] = float32(v)
	}
	return out, nil
}

// reflect mirrors i into [0, n) without repeating the edge sample.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// Correlate1D filters a along axis with kernel k centred on its middle
// sample, mirroring at the borders.
func Correlate1D(a *ndarray.Array, axis int, k []float32) *ndarray.Array {
	out := &ndarray.Array{Shape: append([]int(nil), a.Shape...), Axes: a.Axes, Data: make([]float32, len(a.Data))}
	if len(a.Data) == 0 {
		return out
	}
	n := a.Shape[axis]
	stride := a.Strides()[axis]
	outer := len(a.Data) / (n * stride)
	r := len(k) / 2
	line := make([]float32, n)
	for o := 0; o < outer; o++ {
		for in := 0; in < stride; in++ {
			base := o*n*stride + in
			for i := 0; i < n; i++ {
				line[i] = a.Data[base+i*stride]
			}
			for i := 0; i < n; i++ {
				var acc float32
				for j, w := range k {
					acc += w * line[reflect(i+j-r, n)]
				}
				out.Data[base+i*stride] = acc
			}
		}
	}
	return out
}

// spatialAxes returns the indices of the spatial axes of a.
func spatialAxes(a *ndarray.Array) []int {
	var out []int
	for i, r := range a.Axes {
		if strings.ContainsRune(SpatialAxes, r) {
			out = append(out, i)
		}
	}
	return out
}

// GaussianDerivative smooths a along every spatial axis and takes a
// derivative of the given order along axis (an index into a.Shape).
func GaussianDerivative(a *ndarray.Array, sigma float64, axis, order int) (*ndarray.Array, error) {
	smooth, err := Kernel(sigma, 0)
	if err != nil {
		return nil, err
	}
	deriv, err := Kernel(sigma, order)
	if err != nil {
		return nil, err
	}
	out := a
	for _, ax := range spatialAxes(a) {
		k := smooth
		if ax == axis {
			k = deriv
		}
		out = Correlate1D(out, ax, k)
	}
	if out == a {
		out = a.Clone()
	}
	return out, nil
}

// GaussianSmooth smooths a along its spatial axes.
func GaussianSmooth(a *ndarray.Array, sigma float64) (*ndarray.Array, error) {
	return GaussianDerivative(a, sigma, -1, 0)
}
