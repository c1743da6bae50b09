// Package similarity provides vector similarity primitives for clustering.
package similarity

import "math"

// Cosine computes the cosine similarity between two unit-normalized vectors
// as their dot product. Callers are responsible for normalizing inputs with
// Normalize before comparison. Returns 0 for mismatched or empty vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place and returns it.
// An all-zero vector is returned unchanged so downstream code stays total.
func Normalize(v []float32) []float32 {
	norm := Norm(v)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Centroid returns the normalized mean of the given vectors.
// Returns nil for empty input.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i := range v {
			sum[i] += float64(v[i])
		}
	}

	centroid := make([]float32, dim)
	n := float64(len(vectors))
	for i := range sum {
		centroid[i] = float32(sum[i] / n)
	}
	return Normalize(centroid)
}
