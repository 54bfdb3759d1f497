// Package classifier provides the pixel classifier trained from brush
// labels: a Gaussian naive Bayes model over per-pixel feature vectors.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

var (
	ErrNoSamples       = errors.New("no labelled samples")
	ErrTooFewClasses   = errors.New("at least two classes are required")
	ErrFeatureMismatch = errors.New("feature count mismatch")
)

// varSmoothing is added to every variance, relative to the largest one.
const varSmoothing = 1e-9

// Model is a trained Gaussian naive Bayes classifier.
type Model struct {
	Classes     []int       `msgpack:"classes"`
	Priors      []float64   `msgpack:"priors"`
	Means       [][]float64 `msgpack:"means"`
	Vars        [][]float64 `msgpack:"vars"`
	NumFeatures int         `msgpack:"num_features"`
}

// Train fits a model. features[i] is the feature vector of sample i and
// labels[i] its class; samples labelled 0 or below are ignored.
func Train(features [][]float32, labels []int) (*Model, error) {
	if len(features) != len(labels) {
		return nil, fmt.Errorf("%w: %d vectors, %d labels", ErrFeatureMismatch, len(features), len(labels))
	}
	nf := -1
	counts := map[int]int{}
	for i, l := range labels {
		if l <= 0 {
			continue
		}
		if nf < 0 {
			nf = len(features[i])
		} else if len(features[i]) != nf {
			return nil, fmt.Errorf("%w: sample %d has %d features, want %d", ErrFeatureMismatch, i, len(features[i]), nf)
		}
		counts[l]++
	}
	if len(counts) == 0 {
		return nil, ErrNoSamples
	}
	if len(counts) < 2 {
		return nil, ErrTooFewClasses
	}

	m := &Model{NumFeatures: nf}
	for c := range counts {
		m.Classes = append(m.Classes, c)
	}
	slices.Sort(m.Classes)
	index := make(map[int]int, len(m.Classes))
	m.Priors = make([]float64, len(m.Classes))
	m.Means = make([][]float64, len(m.Classes))
	m.Vars = make([][]float64, len(m.Classes))
	for i, c := range m.Classes {
		index[c] = i
		m.Means[i] = make([]float64, nf)
		m.Vars[i] = make([]float64, nf)
	}

	total := 0
	for i, l := range labels {
		if l <= 0 {
			continue
		}
		k := index[l]
		for f, v := range features[i] {
			m.Means[k][f] += float64(v)
		}
		total++
	}
	for k, c := range m.Classes {
		n := float64(counts[c])
		m.Priors[k] = n / float64(total)
		for f := range m.Means[k] {
			m.Means[k][f] /= n
		}
	}
	maxVar := 0.0
	for i, l := range labels {
		if l <= 0 {
			continue
		}
		k := index[l]
		for f, v := range features[i] {
			d := float64(v) - m.Means[k][f]
			m.Vars[k][f] += d * d
		}
	}
	for k, c := range m.Classes {
		for f := range m.Vars[k] {
			m.Vars[k][f] /= float64(counts[c])
			maxVar = max(maxVar, m.Vars[k][f])
		}
	}
	eps := varSmoothing * max(maxVar, 1)
	for k := range m.Vars {
		for f := range m.Vars[k] {
			m.Vars[k][f] += eps
		}
	}
	return m, nil
}

// PredictProba returns the class probabilities of x in Classes order.
func (m *Model) PredictProba(x []float32) ([]float64, error) {
	if len(x) != m.NumFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(x), m.NumFeatures)
	}
	out := make([]float64, len(m.Classes))
	m.proba(x, out)
	return out, nil
}

func (m *Model) proba(x []float32, out []float64) {
	best := math.Inf(-1)
	for k := range m.Classes {
		ll := math.Log(m.Priors[k])
		for f, v := range x {
			d := float64(v) - m.Means[k][f]
			ll -= 0.5*math.Log(2*math.Pi*m.Vars[k][f]) + d*d/(2*m.Vars[k][f])
		}
		out[k] = ll
		best = max(best, ll)
	}
	var sum float64
	for k := range out {
		out[k] = math.Exp(out[k] - best)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}

// Predict returns the most probable class of x.
func (m *Model) Predict(x []float32) (int, error) {
	p, err := m.PredictProba(x)
	if err != nil {
		return 0, err
	}
	best := 0
	for k := range p {
		if p[k] > p[best] {
			best = k
		}
	}
	return m.Classes[best], nil
}

// PredictArray classifies every pixel of a feature image whose last axis
// is 'c' with NumFeatures channels. The result has one channel per class.
func (m *Model) PredictArray(features *ndarray.Array) (*ndarray.Array, error) {
	ci := features.AxisIndex('c')
	if ci != len(features.Shape)-1 || features.Shape[ci] != m.NumFeatures {
		return nil, fmt.Errorf("%w: feature image %s %v, want %d trailing channels",
			ErrFeatureMismatch, features.Axes, features.Shape, m.NumFeatures)
	}
	shape := slices.Clone(features.Shape)
	shape[ci] = len(m.Classes)
	out, err := ndarray.New(features.Axes, shape...)
	if err != nil {
		return nil, err
	}
	nf, nc := m.NumFeatures, len(m.Classes)
	p := make([]float64, nc)
	for px := 0; px < len(features.Data)/max(nf, 1); px++ {
		m.proba(features.Data[px*nf:(px+1)*nf], p)
		for k, v := range p {
			out.Data[px*nc+k] = float32(v)
		}
	}
	return out, nil
}

// MarshalBinary encodes the model with msgpack.
func (m *Model) MarshalBinary() ([]byte, error) { return msgpack.Marshal(m) }

// UnmarshalBinary decodes a model written by MarshalBinary.
func (m *Model) UnmarshalBinary(data []byte) error { return msgpack.Unmarshal(data, m) }

// Samples gathers training samples: the feature vector of every pixel with
// a label > 0. features has a trailing 'c' axis; labels has the same
// spatial shape and a single channel.
func Samples(features, labels *ndarray.Array) ([][]float32, []int, error) {
	nf := features.Shape[len(features.Shape)-1]
	if features.AxisIndex('c') != len(features.Shape)-1 || labels.Len()*nf != features.Len() {
		return nil, nil, fmt.Errorf("%w: features %v, labels %v", ErrFeatureMismatch, features.Shape, labels.Shape)
	}
	var xs [][]float32
	var ys []int
	for px, l := range labels.Data {
		if l <= 0 {
			continue
		}
		xs = append(xs, slices.Clone(features.Data[px*nf:(px+1)*nf]))
		ys = append(ys, int(l))
	}
	return xs, ys, nil
}
