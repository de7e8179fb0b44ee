package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/lexical"
	"github.com/corterra/askd/internal/vectorstore"
)

// fakeLexIndex serves canned hits for the BM25 retriever.
type fakeLexIndex struct {
	hits []lexical.Hit
	err  error
}

func (f *fakeLexIndex) Ensure(context.Context, string) error { return nil }
func (f *fakeLexIndex) UpsertChunks(context.Context, string, []lexical.Chunk) error {
	return nil
}
func (f *fakeLexIndex) Search(context.Context, string, string, int) ([]lexical.Hit, error) {
	return f.hits, f.err
}
func (f *fakeLexIndex) DeleteChunk(context.Context, string, string) error    { return nil }
func (f *fakeLexIndex) DeleteDocument(context.Context, string, string) error { return nil }
func (f *fakeLexIndex) Close() error                                         { return nil }

// fakeVecStore serves canned hits for the dense retriever.
type fakeVecStore struct {
	hits []vectorstore.SearchResult
	err  error
}

func (f *fakeVecStore) EnsureCollection(context.Context, string) error { return nil }
func (f *fakeVecStore) Upsert(context.Context, string, []vectorstore.Point) error {
	return nil
}
func (f *fakeVecStore) Search(context.Context, string, []float32, int) ([]vectorstore.SearchResult, error) {
	return f.hits, f.err
}
func (f *fakeVecStore) DeletePoint(context.Context, string, string) error    { return nil }
func (f *fakeVecStore) DeleteDocument(context.Context, string, string) error { return nil }

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	err error
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fixedEmbedder) Dimension() int               { return 4 }
func (f *fixedEmbedder) Healthy(context.Context) bool { return f.err == nil }

func TestBM25_NormalizesTopHitToOne(t *testing.T) {
	index := &fakeLexIndex{hits: []lexical.Hit{
		{ChunkID: "c1", DocumentID: "d1", Text: "one", Score: 8.4},
		{ChunkID: "c2", DocumentID: "d1", Text: "two", Score: 4.2},
	}}
	b := NewBM25(index, 100)

	results, err := b.Search(context.Background(), "t1", "pump", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.Equal(t, StrategyBM25, results[0].Origin)
}

func TestBM25_EmptyAndFailure(t *testing.T) {
	b := NewBM25(&fakeLexIndex{}, 100)
	results, err := b.Search(context.Background(), "t1", "pump", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	b = NewBM25(&fakeLexIndex{err: errors.New("index offline")}, 100)
	_, err = b.Search(context.Background(), "t1", "pump", 10)
	assert.True(t, apperr.Is(err, apperr.ExternalUnavailable))
}

func TestDense_MapsCosineAndFilters(t *testing.T) {
	store := &fakeVecStore{hits: []vectorstore.SearchResult{
		{ID: "c1", DocumentID: "d1", Score: 1.0},  // -> 1.0
		{ID: "c2", DocumentID: "d1", Score: 0.0},  // -> 0.5
		{ID: "c3", DocumentID: "d1", Score: -0.6}, // -> 0.2, filtered
	}}
	d := NewDense(&fixedEmbedder{}, store, 0.3, 100)

	results, err := d.Search(context.Background(), "t1", "pump", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.Equal(t, StrategyDense, results[0].Origin)
}

func TestDense_TiesBreakByChunkID(t *testing.T) {
	store := &fakeVecStore{hits: []vectorstore.SearchResult{
		{ID: "c9", Score: 0.5},
		{ID: "c1", Score: 0.5},
	}}
	d := NewDense(&fixedEmbedder{}, store, 0, 100)

	results, err := d.Search(context.Background(), "t1", "pump", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "c9", results[1].ChunkID)
}

func TestDense_EmbedderFailure(t *testing.T) {
	d := NewDense(&fixedEmbedder{err: errors.New("service down")}, &fakeVecStore{}, 0, 100)

	_, err := d.Search(context.Background(), "t1", "pump", 10)
	assert.True(t, apperr.Is(err, apperr.ExternalUnavailable))
}
