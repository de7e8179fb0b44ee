package answer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoGateway returns a fixed completion for every call.
type echoGateway struct {
	out string
}

func (g *echoGateway) Generate(context.Context, string, string, llm.Params) (string, llm.Usage, error) {
	return g.out, llm.Usage{}, nil
}

func (g *echoGateway) Stream(ctx context.Context, system, user string, params llm.Params, fn llm.StreamFunc) (string, llm.Usage, error) {
	if err := fn(g.out); err != nil {
		return "", llm.Usage{}, err
	}
	return g.out, llm.Usage{}, nil
}

func (g *echoGateway) Available(context.Context) bool { return true }
func (g *echoGateway) Name() string                   { return "echo" }

var groundingPassages = []Passage{
	{ChunkID: "c1", Text: "The reactor output is forty megawatts under normal operation."},
	{ChunkID: "c2", Text: "Maintenance runs every second Tuesday of the month."},
}

func TestDetect_GroundedResponse(t *testing.T) {
	d := NewDetector(nil, DetectorConfig{}, discardLogger())

	report := d.Detect(context.Background(), "sys", "user",
		"The reactor output is forty megawatts [Source 1]. Maintenance runs every second Tuesday [Source 2].",
		groundingPassages)

	assert.InDelta(t, 1.0, report.Grounding, 1e-9)
	assert.InDelta(t, 1.0, report.Overall, 1e-9)
	assert.Equal(t, ConfidenceHigh, report.Confidence)
	assert.False(t, report.RequiresReview)
	assert.Nil(t, report.SelfConsistency)
	assert.Nil(t, report.Faithfulness)
	require.Len(t, report.Sentences, 2)
	for _, s := range report.Sentences {
		assert.True(t, s.Grounded)
		assert.True(t, s.Cited)
	}
}

func TestDetect_UngroundedCitedSentenceRequiresReview(t *testing.T) {
	d := NewDetector(nil, DetectorConfig{}, discardLogger())

	report := d.Detect(context.Background(), "sys", "user",
		"Quantum bananas oscillate purple [Source 1].",
		groundingPassages)

	assert.Zero(t, report.Grounding)
	assert.Equal(t, ConfidenceLow, report.Confidence)
	assert.True(t, report.RequiresReview)
	require.Len(t, report.Sentences, 1)
	assert.False(t, report.Sentences[0].Grounded)
	assert.True(t, report.Sentences[0].Cited)
}

func TestDetect_PartialGrounding(t *testing.T) {
	d := NewDetector(nil, DetectorConfig{}, discardLogger())

	report := d.Detect(context.Background(), "sys", "user",
		"The reactor output is forty megawatts. Quantum bananas oscillate purple.",
		groundingPassages)

	assert.InDelta(t, 0.5, report.Grounding, 1e-9)
	assert.Equal(t, ConfidenceLow, report.Confidence)
	// Low score alone triggers review even without a bad citation.
	assert.True(t, report.RequiresReview)
}

func TestDetect_SelfConsistencySignal(t *testing.T) {
	response := "The reactor output is forty megawatts [Source 1]."
	gw := &echoGateway{out: response}
	d := NewDetector(gw, DetectorConfig{SelfConsistencyN: 2}, discardLogger())

	report := d.Detect(context.Background(), "sys", "user", response, groundingPassages)

	require.NotNil(t, report.SelfConsistency)
	// Identical regenerations agree perfectly.
	assert.InDelta(t, 1.0, *report.SelfConsistency, 1e-9)
	assert.InDelta(t, 1.0, report.Overall, 1e-9)
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single", "One sentence.", 1},
		{"three", "First one. Second one! Third one?", 3},
		{"no terminal punctuation", "trailing fragment", 1},
		{"decimal not split", "The value 3.5 is typical.", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, splitSentences(tt.input), tt.expected)
		})
	}
}

func TestContentTokens_StripsMarkersAndStopwords(t *testing.T) {
	tokens := contentTokens("The pump [Source 3] is at the plant.")
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "source")
	assert.NotContains(t, tokens, "3")
	assert.Contains(t, tokens, "pump")
	assert.Contains(t, tokens, "plant")
}
