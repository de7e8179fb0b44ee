package retrieval

import (
	"context"
	"sort"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/embedder"
	"github.com/corterra/askd/internal/vectorstore"
)

// Dense retrieves via cosine similarity over chunk embeddings. Raw cosine
// c in [-1,1] maps to (c+1)/2 in [0,1]; results below the threshold are
// dropped. Ties break by ascending chunk id for determinism.
type Dense struct {
	emb      embedder.Embedder
	store    vectorstore.VectorStore
	minScore float64
	maxTopK  int
}

// NewDense creates a Dense retriever.
func NewDense(emb embedder.Embedder, store vectorstore.VectorStore, minScore float64, maxTopK int) *Dense {
	return &Dense{emb: emb, store: store, minScore: minScore, maxTopK: maxTopK}
}

// Name implements Retriever.
func (d *Dense) Name() Strategy { return StrategyDense }

// Search implements Retriever.
func (d *Dense) Search(ctx context.Context, tenantID, query string, topK int) ([]Result, error) {
	if err := validate(query, topK, d.maxTopK); err != nil {
		return nil, err
	}

	vectors, err := d.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "embedding query", err)
	}

	hits, err := d.store.Search(ctx, tenantID, vectors[0], topK)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "vector search", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := (float64(h.Score) + 1) / 2
		if score < d.minScore {
			continue
		}
		results = append(results, Result{
			ChunkID:    h.ID,
			DocumentID: h.DocumentID,
			Text:       h.Text,
			Score:      score,
			Origin:     StrategyDense,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

var _ Retriever = (*Dense)(nil)
