package retrieval

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/corterra/askd/internal/apperr"
)

// FusionMethod selects how hybrid search merges its two legs.
type FusionMethod string

const (
	FusionWeighted FusionMethod = "weighted"
	FusionRRF      FusionMethod = "rrf"
)

// HybridConfig tunes the hybrid retriever.
type HybridConfig struct {
	// Alpha and Beta weight the lexical and dense legs under weighted fusion.
	Alpha float64
	Beta  float64

	// IntermediateK is the per-leg candidate floor; the effective value is
	// max(2*topK, IntermediateK).
	IntermediateK int

	Fusion      FusionMethod
	RRFConstant int

	MaxTopK int
}

// Hybrid runs BM25 and dense concurrently and fuses the two ranked lists.
// When one leg fails the survivor's results are used and the failure is
// reported as a degradation note rather than an error.
type Hybrid struct {
	bm25  Retriever
	dense Retriever
	cfg   HybridConfig
}

// NewHybrid creates a Hybrid retriever.
func NewHybrid(bm25, dense Retriever, cfg HybridConfig) *Hybrid {
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = 60
	}
	if cfg.Fusion == "" {
		cfg.Fusion = FusionWeighted
	}
	return &Hybrid{bm25: bm25, dense: dense, cfg: cfg}
}

// Name implements Retriever.
func (h *Hybrid) Name() Strategy { return StrategyHybrid }

// Search implements Retriever, discarding degradation notes.
func (h *Hybrid) Search(ctx context.Context, tenantID, query string, topK int) ([]Result, error) {
	results, _, err := h.SearchWithNotes(ctx, tenantID, query, topK)
	return results, err
}

// SearchWithNotes is Search plus per-leg degradation notes for diagnostics.
func (h *Hybrid) SearchWithNotes(ctx context.Context, tenantID, query string, topK int) ([]Result, []string, error) {
	if err := validate(query, topK, h.cfg.MaxTopK); err != nil {
		return nil, nil, err
	}

	interK := 2 * topK
	if h.cfg.IntermediateK > interK {
		interK = h.cfg.IntermediateK
	}
	if interK > h.cfg.MaxTopK {
		interK = h.cfg.MaxTopK
	}

	var lexResults, denseResults []Result
	var lexErr, denseErr error

	// Both legs run regardless of the other's outcome; errors are collected,
	// not propagated through the group.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexResults, lexErr = h.bm25.Search(gctx, tenantID, query, interK)
		return nil
	})
	g.Go(func() error {
		denseResults, denseErr = h.dense.Search(gctx, tenantID, query, interK)
		return nil
	})
	_ = g.Wait()

	var notes []string
	switch {
	case lexErr != nil && denseErr != nil:
		return nil, nil, apperr.Wrap(apperr.ExternalUnavailable, "both retrieval legs failed", fmt.Errorf("bm25: %v; dense: %w", lexErr, denseErr))
	case lexErr != nil:
		notes = append(notes, "bm25 degraded, dense only")
	case denseErr != nil:
		notes = append(notes, "dense degraded, bm25 only")
	}

	var fused []Result
	if h.cfg.Fusion == FusionRRF {
		fused = fuseRRF(lexResults, denseResults, h.cfg.RRFConstant)
	} else {
		fused = fuseWeighted(lexResults, denseResults, h.cfg.Alpha, h.cfg.Beta)
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, notes, nil
}

// fuseWeighted min-max normalizes each list to [0,1] on its own result set,
// then combines alpha*bm25 + beta*dense. A chunk absent from one list
// contributes 0 from that side.
func fuseWeighted(lex, dense []Result, alpha, beta float64) []Result {
	lexNorm := minMaxNormalize(lex)
	denseNorm := minMaxNormalize(dense)

	combined := make(map[string]*Result)
	var order []string

	add := func(r Result, weight, norm float64) {
		if c, ok := combined[r.ChunkID]; ok {
			c.Score += weight * norm
			return
		}
		c := r
		c.Score = weight * norm
		c.Origin = StrategyHybrid
		combined[r.ChunkID] = &c
		order = append(order, r.ChunkID)
	}
	for i, r := range lex {
		add(r, alpha, lexNorm[i])
	}
	for i, r := range dense {
		add(r, beta, denseNorm[i])
	}

	return sortFused(combined, order)
}

// fuseRRF combines by reciprocal rank: score = sum over lists of
// 1/(k + rank), rank 1-based.
func fuseRRF(lex, dense []Result, k int) []Result {
	combined := make(map[string]*Result)
	var order []string

	add := func(r Result, rank int) {
		score := 1.0 / float64(k+rank)
		if c, ok := combined[r.ChunkID]; ok {
			c.Score += score
			return
		}
		c := r
		c.Score = score
		c.Origin = StrategyHybrid
		combined[r.ChunkID] = &c
		order = append(order, r.ChunkID)
	}
	for i, r := range lex {
		add(r, i+1)
	}
	for i, r := range dense {
		add(r, i+1)
	}

	return sortFused(combined, order)
}

func sortFused(combined map[string]*Result, order []string) []Result {
	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, *combined[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// minMaxNormalize maps scores onto [0,1] within the list. A constant list
// maps to all 1.0 so a single hit still carries full weight.
func minMaxNormalize(results []Result) []float64 {
	norm := make([]float64, len(results))
	if len(results) == 0 {
		return norm
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	for i, r := range results {
		if hi == lo {
			norm[i] = 1.0
			continue
		}
		norm[i] = (r.Score - lo) / (hi - lo)
	}
	return norm
}

var _ Retriever = (*Hybrid)(nil)
