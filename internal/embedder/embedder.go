// Package embedder provides the embedding client contract and implementations.
package embedder

import "context"

// Embedder turns batches of text into fixed-dimension vectors, preserving
// order and cardinality.
type Embedder interface {
	// Embed generates one vector per input text, in input order. It fails
	// with InvalidInput on an empty batch or one exceeding the configured
	// maximum, and with ResponseShapeMismatch when the service returns a
	// count or dimension that does not match the request.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// Healthy reports whether the backing service is reachable.
	Healthy(ctx context.Context) bool
}
