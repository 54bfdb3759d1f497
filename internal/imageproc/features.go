package imageproc

import (
	"fmt"
	"math"
	"slices"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// Feature names a pixel feature.
type Feature string

const (
	GaussianSmoothing         Feature = "GaussianSmoothing"
	LaplacianOfGaussian       Feature = "LaplacianOfGaussian"
	GaussianGradientMagnitude Feature = "GaussianGradientMagnitude"
	DifferenceOfGaussians     Feature = "DifferenceOfGaussians"
)

// Features lists the supported features in selection matrix row order.
var Features = []Feature{GaussianSmoothing, LaplacianOfGaussian, GaussianGradientMagnitude, DifferenceOfGaussians}

// DefaultScales are the selection matrix columns.
var DefaultScales = []float64{0.3, 0.7, 1.0, 1.6, 3.5, 5.0, 10.0}

// dogRatio is the sigma ratio of the inner Gaussian of DifferenceOfGaussians.
const dogRatio = 0.66

// ParseFeature accepts a feature name.
func ParseFeature(s string) (Feature, error) {
	f := Feature(s)
	if !slices.Contains(Features, f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
	}
	return f, nil
}

// MinSigma is the smallest scale a feature may be computed at. Only plain
// smoothing is meaningful below 0.7.
func (f Feature) MinSigma() float64 {
	if f == GaussianSmoothing {
		return 0.3
	}
	return 0.7
}

// Halo is how far outside a region the feature reads.
func (f Feature) Halo(sigma float64) int {
	switch f {
	case LaplacianOfGaussian:
		return KernelRadius(sigma, 2)
	case GaussianGradientMagnitude:
		return KernelRadius(sigma, 1)
	default:
		return KernelRadius(sigma, 0)
	}
}

// Compute evaluates the feature on a. The result has the shape of a; each
// channel is filtered on its own.
func (f Feature) Compute(a *ndarray.Array, sigma float64) (*ndarray.Array, error) {
	if sigma < f.MinSigma() {
		return nil, fmt.Errorf("%w: %s needs sigma >= %v, got %v", ErrInvalidSigma, f, f.MinSigma(), sigma)
	}
	switch f {
	case GaussianSmoothing:
		return GaussianSmooth(a, sigma)
	case LaplacianOfGaussian:
		out := &ndarray.Array{Shape: slices.Clone(a.Shape), Axes: a.Axes, Data: make([]float32, len(a.Data))}
		for _, ax := range spatialAxes(a) {
			d, err := GaussianDerivative(a, sigma, ax, 2)
			if err != nil {
				return nil, err
			}
			for i, v := range d.Data {
				out.Data[i] += v
			}
		}
		return out, nil
	case GaussianGradientMagnitude:
		sq := make([]float64, len(a.Data))
		for _, ax := range spatialAxes(a) {
			d, err := GaussianDerivative(a, sigma, ax, 1)
			if err != nil {
				return nil, err
			}
			for i, v := range d.Data {
				sq[i] += float64(v) * float64(v)
			}
		}
		out := &ndarray.Array{Shape: slices.Clone(a.Shape), Axes: a.Axes, Data: make([]float32, len(a.Data))}
		for i, v := range sq {
			out.Data[i] = float32(math.Sqrt(v))
		}
		return out, nil
	case DifferenceOfGaussians:
		outer, err := GaussianSmooth(a, sigma)
		if err != nil {
			return nil, err
		}
		inner, err := GaussianSmooth(a, sigma*dogRatio)
		if err != nil {
			return nil, err
		}
		for i := range outer.Data {
			outer.Data[i] -= inner.Data[i]
		}
		return outer, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, string(f))
}
