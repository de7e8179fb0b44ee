// Package lexical provides the per-tenant BM25 index over document chunks.
package lexical

import "context"

// Chunk is the unit of lexical indexing. ID is the chunk UUID shared with the
// vector index and the relational store.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
}

// Hit is a raw lexical search hit. Score is the unnormalized BM25 score;
// retrieval-layer normalization happens above this gateway.
type Hit struct {
	ChunkID    string
	DocumentID string
	Text       string
	Highlight  string
	Score      float64
}

// Index is the lexical index gateway. All operations are tenant-scoped; a
// tenant never sees another tenant's chunks.
type Index interface {
	// Ensure creates the tenant's index if it does not exist.
	Ensure(ctx context.Context, tenantID string) error

	// UpsertChunks adds or replaces chunks in the tenant's index.
	UpsertChunks(ctx context.Context, tenantID string, chunks []Chunk) error

	// Search returns up to topK hits for the query, scored by BM25, with a
	// highlight fragment per hit.
	Search(ctx context.Context, tenantID, query string, topK int) ([]Hit, error)

	// DeleteChunk removes a single chunk.
	DeleteChunk(ctx context.Context, tenantID, chunkID string) error

	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, tenantID, documentID string) error

	// Close releases all open indexes.
	Close() error
}
