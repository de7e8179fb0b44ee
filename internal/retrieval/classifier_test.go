package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corterra/askd/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway serves a canned classification reply.
type fakeGateway struct {
	out   string
	err   error
	avail bool
}

func (g *fakeGateway) Generate(context.Context, string, string, llm.Params) (string, llm.Usage, error) {
	return g.out, llm.Usage{}, g.err
}

func (g *fakeGateway) Stream(ctx context.Context, system, user string, params llm.Params, fn llm.StreamFunc) (string, llm.Usage, error) {
	return g.Generate(ctx, system, user, params)
}

func (g *fakeGateway) Available(context.Context) bool { return g.avail }
func (g *fakeGateway) Name() string                   { return "fake" }

func TestHeuristicClassify(t *testing.T) {
	tests := []struct {
		query    string
		expected QueryType
	}{
		{"What is the default chunk size?", ExplicitFact},
		{"When was the policy updated?", ExplicitFact},
		{"Why does the pump trip at startup?", ImplicitFact},
		{"How is the index rebuilt?", ImplicitFact},
		{"Compare the old and new schedulers", InterpretableRationale},
		{"Postgres vs Qdrant for payloads", InterpretableRationale},
		{"Should we upgrade to the new firmware?", HiddenRationale},
		{"Which vendor do you recommend?", HiddenRationale},
		{"tell me about the cooling system", ImplicitFact},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HeuristicClassify(tt.query), "query %q", tt.query)
	}
}

func TestHeuristicClassify_MatchesWholeWordsOnly(t *testing.T) {
	// "somewhat" must not trigger the "what" rule.
	assert.Equal(t, ImplicitFact, HeuristicClassify("the results are somewhat surprising"))
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		out      string
		expected QueryType
		ok       bool
	}{
		{"EXPLICIT_FACT", ExplicitFact, true},
		{"implicit_fact", ImplicitFact, true},
		{"The category is INTERPRETABLE_RATIONALE.", InterpretableRationale, true},
		{"hidden_rationale\n", HiddenRationale, true},
		{"no label here", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		qt, ok := parseLabel(tt.out)
		assert.Equal(t, tt.ok, ok, "output %q", tt.out)
		assert.Equal(t, tt.expected, qt, "output %q", tt.out)
	}
}

func TestClassify_LLMPath(t *testing.T) {
	c := NewClassifier(&fakeGateway{out: "HIDDEN_RATIONALE", avail: true}, discardLogger())

	qt, byLLM := c.Classify(context.Background(), "what is the capacity")
	assert.Equal(t, HiddenRationale, qt)
	assert.True(t, byLLM)
}

func TestClassify_FallsBackOnUnavailableProvider(t *testing.T) {
	c := NewClassifier(&fakeGateway{out: "EXPLICIT_FACT", avail: false}, discardLogger())

	qt, byLLM := c.Classify(context.Background(), "why did it fail")
	assert.Equal(t, ImplicitFact, qt)
	assert.False(t, byLLM)
}

func TestClassify_FallsBackOnError(t *testing.T) {
	c := NewClassifier(&fakeGateway{err: errors.New("timeout"), avail: true}, discardLogger())

	qt, byLLM := c.Classify(context.Background(), "what is the capacity")
	assert.Equal(t, ExplicitFact, qt)
	assert.False(t, byLLM)
}

func TestClassify_FallsBackOnUnparseableOutput(t *testing.T) {
	c := NewClassifier(&fakeGateway{out: "gibberish", avail: true}, discardLogger())

	qt, byLLM := c.Classify(context.Background(), "compare a versus b")
	assert.Equal(t, InterpretableRationale, qt)
	assert.False(t, byLLM)
}

func TestClassify_NilGatewayUsesHeuristic(t *testing.T) {
	c := NewClassifier(nil, discardLogger())

	qt, byLLM := c.Classify(context.Background(), "when does maintenance run")
	assert.Equal(t, ExplicitFact, qt)
	assert.False(t, byLLM)
}
