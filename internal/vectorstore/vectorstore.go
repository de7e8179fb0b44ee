// Package vectorstore provides the per-tenant ANN collection gateway.
package vectorstore

import (
	"context"
)

// Point is a chunk embedding with its payload. ID is the chunk UUID shared
// with the lexical index and the relational store.
type Point struct {
	ID         string
	DocumentID string
	Text       string
	ChunkIndex int
	Vector     []float32
}

// SearchResult is a raw cosine search hit. Score is the cosine similarity as
// reported by the store, in [-1,1]; normalization to [0,1] happens in the
// retrieval layer.
type SearchResult struct {
	ID         string
	DocumentID string
	Text       string
	ChunkIndex int
	Score      float32
}

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// EnsureCollection creates the tenant's collection if it does not exist.
	EnsureCollection(ctx context.Context, tenantID string) error

	// Upsert inserts or updates points. Vectors whose dimension differs from
	// the configured embedding dimension are rejected.
	Upsert(ctx context.Context, tenantID string, points []Point) error

	// Search performs cosine similarity search and returns payloads.
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]SearchResult, error)

	// DeletePoint removes a single point.
	DeletePoint(ctx context.Context, tenantID string, id string) error

	// DeleteDocument removes all points belonging to a document.
	DeleteDocument(ctx context.Context, tenantID string, documentID string) error
}
