package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine_IdenticalVectors(t *testing.T) {
	v := Normalize([]float32{1, 2, 3})
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-6)
}

func TestCosine_OrthogonalVectors(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-6)
}

func TestCosine_OppositeVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.InDelta(t, -1.0, Cosine(a, b), 1e-6)
}

func TestCosine_MismatchedLengths(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestNormalize_UnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 1.0, Norm(v), 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	// Degenerate all-zero input must pass through without error.
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
	assert.Equal(t, 0.0, Norm(v))
}

func TestCentroid_MeanAndRenormalized(t *testing.T) {
	c := Centroid([][]float32{
		{1, 0},
		{0, 1},
	})
	assert.InDelta(t, 1.0, Norm(c), 1e-6)
	assert.InDelta(t, float64(c[0]), float64(c[1]), 1e-6)
}

func TestCentroid_EmptyInput(t *testing.T) {
	assert.Nil(t, Centroid(nil))
}
