package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/corterra/askd/internal/llm"
)

// QueryType classifies the intent of a question.
type QueryType string

const (
	ExplicitFact           QueryType = "explicit_fact"
	ImplicitFact           QueryType = "implicit_fact"
	InterpretableRationale QueryType = "interpretable_rationale"
	HiddenRationale        QueryType = "hidden_rationale"
)

const classifierSystem = `You classify questions into exactly one category.
Categories:
- EXPLICIT_FACT: asks for a directly stated fact (what, when, where, who).
- IMPLICIT_FACT: asks for an explanation derivable from facts (why, how).
- INTERPRETABLE_RATIONALE: asks to compare or contrast alternatives.
- HIDDEN_RATIONALE: asks for a judgment or recommendation.
Reply with the category name only.`

// Classifier decides the QueryType for a question. The primary path asks the
// LLM; when the provider is down or the reply is unparseable it falls back to
// keyword heuristics. Stateless and deterministic for a given input.
type Classifier struct {
	gw     llm.Gateway
	logger *slog.Logger
}

// NewClassifier creates a Classifier. A nil gateway disables the LLM path.
func NewClassifier(gw llm.Gateway, logger *slog.Logger) *Classifier {
	return &Classifier{gw: gw, logger: logger}
}

// Classify returns the query type and whether the LLM produced it.
func (c *Classifier) Classify(ctx context.Context, query string) (QueryType, bool) {
	if c.gw != nil && c.gw.Available(ctx) {
		out, _, err := c.gw.Generate(ctx, classifierSystem, query, llm.Params{Temperature: 0, MaxTokens: 16})
		if err == nil {
			if qt, ok := parseLabel(out); ok {
				return qt, true
			}
			c.logger.Debug("classifier output unparseable, using heuristic", "output", out)
		} else {
			c.logger.Debug("classifier llm call failed, using heuristic", "error", err)
		}
	}
	return HeuristicClassify(query), false
}

// parseLabel finds the first recognized label token in the LLM output.
func parseLabel(out string) (QueryType, bool) {
	upper := strings.ToUpper(out)
	// Longest labels first so IMPLICIT does not match inside EXPLICIT checks.
	for _, cand := range []struct {
		token string
		qt    QueryType
	}{
		{"INTERPRETABLE_RATIONALE", InterpretableRationale},
		{"HIDDEN_RATIONALE", HiddenRationale},
		{"EXPLICIT_FACT", ExplicitFact},
		{"IMPLICIT_FACT", ImplicitFact},
	} {
		if strings.Contains(upper, cand.token) {
			return cand.qt, true
		}
	}
	return "", false
}

// HeuristicClassify classifies by interrogative keywords. Used when the LLM
// path is unavailable.
func HeuristicClassify(query string) QueryType {
	q := strings.ToLower(query)
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	has := func(terms ...string) bool {
		for _, w := range words {
			for _, t := range terms {
				if w == t {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("should", "recommend", "best"):
		return HiddenRationale
	case has("compare", "vs", "versus", "difference"):
		return InterpretableRationale
	case has("why", "how", "explain"):
		return ImplicitFact
	case has("what", "when", "where", "who"):
		return ExplicitFact
	default:
		return ImplicitFact
	}
}
