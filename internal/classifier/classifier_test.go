package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

func TestTrainAndPredict(t *testing.T) {
	features := [][]float32{{0, 10}, {0.2, 9.8}, {-0.1, 10.1}, {5, 0}, {5.2, 0.3}, {4.9, -0.2}, {100, 100}}
	labels := []int{1, 1, 1, 2, 2, 2, 0}

	m, err := Train(features, labels)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, m.Classes)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, m.Priors, 1e-9)
	assert.InDelta(t, 5.0333, m.Means[1][0], 1e-3)

	c, err := m.Predict([]float32{0.1, 9.9})
	require.NoError(t, err)
	assert.Equal(t, 1, c)
	c, err = m.Predict([]float32{5.1, 0.1})
	require.NoError(t, err)
	assert.Equal(t, 2, c)

	p, err := m.PredictProba([]float32{5.1, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 1, p[0]+p[1], 1e-9)
	assert.Greater(t, p[1], 0.99)

	_, err = m.PredictProba([]float32{1})
	assert.ErrorIs(t, err, ErrFeatureMismatch)
}

func TestTrainErrors(t *testing.T) {
	_, err := Train([][]float32{{1}}, []int{0})
	assert.ErrorIs(t, err, ErrNoSamples)
	_, err = Train([][]float32{{1}, {2}}, []int{1, 1})
	assert.ErrorIs(t, err, ErrTooFewClasses)
	_, err = Train([][]float32{{1}, {2, 3}}, []int{1, 2})
	assert.ErrorIs(t, err, ErrFeatureMismatch)
	_, err = Train([][]float32{{1}}, []int{1, 2})
	assert.ErrorIs(t, err, ErrFeatureMismatch)
}

func TestPredictArrayAndSamples(t *testing.T) {
	feats := ndarray.MustNew("xyc", 4, 1, 1)
	copy(feats.Data, []float32{0, 0.1, 9.9, 10})
	labels := ndarray.MustNew("xyc", 4, 1, 1)
	copy(labels.Data, []float32{1, 0, 0, 2})

	xs, ys, err := Samples(feats, labels)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {10}}, xs)
	assert.Equal(t, []int{1, 2}, ys)

	// A single sample per class has zero variance; add a second one each.
	xs = append(xs, []float32{0.2}, []float32{9.8})
	ys = append(ys, 1, 2)
	m, err := Train(xs, ys)
	require.NoError(t, err)

	out, err := m.PredictArray(feats)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 2}, out.Shape)
	assert.Greater(t, out.At(1, 0, 0), float32(0.9))
	assert.Greater(t, out.At(2, 0, 1), float32(0.9))

	_, err = m.PredictArray(ndarray.MustNew("xyc", 4, 1, 3))
	assert.ErrorIs(t, err, ErrFeatureMismatch)
}

func TestModelRoundTrip(t *testing.T) {
	m, err := Train([][]float32{{0}, {0.5}, {4}, {4.5}}, []int{1, 1, 3, 3})
	require.NoError(t, err)
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	var got Model
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, m, &got)
	c, err := got.Predict([]float32{4.2})
	require.NoError(t, err)
	assert.Equal(t, 3, c)
}
