package retrieval

import (
	"context"
	"fmt"
)

// Decision records how the adaptive retriever routed a query.
type Decision struct {
	Strategy  Strategy
	QueryType QueryType
	// LLMClassified is false when the heuristic fallback decided, or when an
	// override bypassed the classifier entirely.
	LLMClassified bool
	Notes         []string
}

// Adaptive routes a query to one of the concrete strategies. A non-empty
// caller override dispatches directly without consulting the classifier;
// otherwise the classifier's query type picks the strategy.
type Adaptive struct {
	classifier *Classifier
	bm25       Retriever
	dense      Retriever
	hybrid     *Hybrid
}

// NewAdaptive creates an Adaptive retriever.
func NewAdaptive(classifier *Classifier, bm25, dense Retriever, hybrid *Hybrid) *Adaptive {
	return &Adaptive{classifier: classifier, bm25: bm25, dense: dense, hybrid: hybrid}
}

// routeByType maps a query type to a strategy.
func routeByType(qt QueryType) Strategy {
	switch qt {
	case ExplicitFact:
		return StrategyBM25
	case ImplicitFact:
		return StrategyHybrid
	default:
		// InterpretableRationale and HiddenRationale both favor semantic
		// matching.
		return StrategyDense
	}
}

// Retrieve routes and executes the search, returning the routing decision
// alongside the results.
func (a *Adaptive) Retrieve(ctx context.Context, tenantID, query string, topK int, override string) ([]Result, Decision, error) {
	var dec Decision

	if override != "" {
		strategy, err := ParseStrategy(override)
		if err != nil {
			return nil, dec, err
		}
		dec.Strategy = strategy
	} else {
		qt, byLLM := a.classifier.Classify(ctx, query)
		dec.QueryType = qt
		dec.LLMClassified = byLLM
		dec.Strategy = routeByType(qt)
	}

	switch dec.Strategy {
	case StrategyBM25:
		results, err := a.bm25.Search(ctx, tenantID, query, topK)
		return results, dec, err
	case StrategyDense:
		results, err := a.dense.Search(ctx, tenantID, query, topK)
		return results, dec, err
	case StrategyHybrid:
		results, notes, err := a.hybrid.SearchWithNotes(ctx, tenantID, query, topK)
		dec.Notes = notes
		return results, dec, err
	default:
		return nil, dec, fmt.Errorf("unroutable strategy %q", dec.Strategy)
	}
}
