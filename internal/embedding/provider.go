// Package embedding provides text embedding generation for the clustering
// engine behind a pluggable provider interface.
package embedding

import "context"

// DefaultDimensions is the embedding dimension agreed with the index.
const DefaultDimensions = 768

// Provider generates unit-normalized embeddings of a fixed dimension.
// Empty input returns an empty result, never an error.
type Provider interface {
	// EmbedBatch returns one normalized vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
}
