package retrieval

import (
	"context"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/lexical"
)

// BM25 retrieves via the lexical index. Scores are the raw BM25 scores
// divided by the maximum in the result set, so the top hit is 1.0 and ties
// are preserved. No floor is applied.
type BM25 struct {
	index   lexical.Index
	maxTopK int
}

// NewBM25 creates a BM25 retriever.
func NewBM25(index lexical.Index, maxTopK int) *BM25 {
	return &BM25{index: index, maxTopK: maxTopK}
}

// Name implements Retriever.
func (b *BM25) Name() Strategy { return StrategyBM25 }

// Search implements Retriever.
func (b *BM25) Search(ctx context.Context, tenantID, query string, topK int) ([]Result, error) {
	if err := validate(query, topK, b.maxTopK); err != nil {
		return nil, err
	}

	hits, err := b.index.Search(ctx, tenantID, query, topK)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "lexical search", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	// Hits arrive sorted by score; the first carries the maximum.
	max := hits[0].Score
	for _, h := range hits[1:] {
		if h.Score > max {
			max = h.Score
		}
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		score := 0.0
		if max > 0 {
			score = h.Score / max
		}
		results[i] = Result{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Text:       h.Text,
			Highlight:  h.Highlight,
			Score:      score,
			Origin:     StrategyBM25,
		}
	}
	return results, nil
}

var _ Retriever = (*BM25)(nil)
