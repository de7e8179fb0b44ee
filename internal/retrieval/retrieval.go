// Package retrieval implements the search strategies over the lexical and
// vector gateways: BM25, dense, hybrid fusion and adaptive routing.
package retrieval

import (
	"context"
	"strings"

	"github.com/corterra/askd/internal/apperr"
)

// Result is one retrieved passage. Score is normalized to [0,1] within the
// producing strategy; Origin records which leg produced it.
type Result struct {
	ChunkID    string
	DocumentID string
	Text       string
	Highlight  string
	Score      float64
	Origin     Strategy
}

// Strategy tags a retrieval strategy.
type Strategy string

const (
	StrategyBM25   Strategy = "bm25"
	StrategyDense  Strategy = "dense"
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy resolves a caller-supplied override tag, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyBM25:
		return StrategyBM25, nil
	case StrategyDense:
		return StrategyDense, nil
	case StrategyHybrid:
		return StrategyHybrid, nil
	default:
		return "", apperr.Newf(apperr.InvalidInput, "unknown retrieval strategy %q", s)
	}
}

// Retriever is the contract every strategy satisfies: descending score,
// at most topK results.
type Retriever interface {
	Search(ctx context.Context, tenantID, query string, topK int) ([]Result, error)
	Name() Strategy
}

// validate enforces the shared input contract.
func validate(query string, topK, maxTopK int) error {
	if strings.TrimSpace(query) == "" {
		return apperr.New(apperr.InvalidInput, "query is empty")
	}
	if topK < 1 || topK > maxTopK {
		return apperr.Newf(apperr.InvalidInput, "top_k %d out of range [1,%d]", topK, maxTopK)
	}
	return nil
}
