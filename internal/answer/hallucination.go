package answer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/corterra/askd/internal/llm"
)

// Confidence buckets for the overall score.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// groundingF1Threshold marks a sentence as grounded in the passages.
const groundingF1Threshold = 0.3

// SentenceGrounding is the per-sentence grounding verdict.
type SentenceGrounding struct {
	Sentence string
	F1       float64
	Grounded bool
	Cited    bool
}

// Report is the combined hallucination assessment.
type Report struct {
	Grounding       float64
	SelfConsistency *float64
	Faithfulness    *float64
	Overall         float64
	Confidence      string
	RequiresReview  bool
	Sentences       []SentenceGrounding
}

// DetectorConfig enables the optional signals.
type DetectorConfig struct {
	// SelfConsistencyN regenerations at high temperature; 0 disables.
	SelfConsistencyN int
	// Faithfulness enables the LLM-judge signal.
	Faithfulness bool
}

// Detector scores how well an answer is supported by its passages.
// Grounding always runs; self-consistency and faithfulness need a gateway.
type Detector struct {
	gw     llm.Gateway
	cfg    DetectorConfig
	logger *slog.Logger
}

// NewDetector creates a Detector. gw may be nil when only grounding runs.
func NewDetector(gw llm.Gateway, cfg DetectorConfig, logger *slog.Logger) *Detector {
	return &Detector{gw: gw, cfg: cfg, logger: logger}
}

// Detect assesses response against the concatenated passages. system and
// user are the original prompt, reused for self-consistency regeneration.
func (d *Detector) Detect(ctx context.Context, system, user, response string, passages []Passage) Report {
	var corpus strings.Builder
	for _, p := range passages {
		corpus.WriteString(p.Text)
		corpus.WriteString(" ")
	}
	corpusTokens := contentTokens(corpus.String())

	sentences := splitSentences(response)
	report := Report{Sentences: make([]SentenceGrounding, 0, len(sentences))}

	grounded := 0
	citedUngrounded := false
	for _, s := range sentences {
		f1 := tokenF1(contentTokens(s), corpusTokens)
		sg := SentenceGrounding{
			Sentence: s,
			F1:       f1,
			Grounded: f1 >= groundingF1Threshold,
			Cited:    sourceMarkerRe.MatchString(s),
		}
		if sg.Grounded {
			grounded++
		} else if sg.Cited {
			citedUngrounded = true
		}
		report.Sentences = append(report.Sentences, sg)
	}
	if len(sentences) > 0 {
		report.Grounding = float64(grounded) / float64(len(sentences))
	}

	if d.cfg.SelfConsistencyN > 0 && d.gw != nil {
		if score, ok := d.selfConsistency(ctx, system, user, response); ok {
			report.SelfConsistency = &score
		}
	}
	if d.cfg.Faithfulness && d.gw != nil {
		if score, ok := d.judgeFaithfulness(ctx, user, corpus.String(), response); ok {
			report.Faithfulness = &score
		}
	}

	// Weighted mean of the signals that ran, renormalized.
	score := 0.5 * report.Grounding
	weight := 0.5
	if report.SelfConsistency != nil {
		score += 0.25 * *report.SelfConsistency
		weight += 0.25
	}
	if report.Faithfulness != nil {
		score += 0.25 * *report.Faithfulness
		weight += 0.25
	}
	report.Overall = score / weight

	switch {
	case report.Overall > 0.85:
		report.Confidence = ConfidenceHigh
	case report.Overall >= 0.70:
		report.Confidence = ConfidenceMedium
	default:
		report.Confidence = ConfidenceLow
	}
	report.RequiresReview = report.Overall < 0.70 || citedUngrounded

	return report
}

// selfConsistency regenerates the answer N times at high temperature and
// scores the mean pairwise token-F1 across all samples.
func (d *Detector) selfConsistency(ctx context.Context, system, user, response string) (float64, bool) {
	samples := []string{response}
	for i := 0; i < d.cfg.SelfConsistencyN; i++ {
		out, _, err := d.gw.Generate(ctx, system, user, llm.Params{Temperature: 0.7})
		if err != nil {
			d.logger.Debug("self-consistency sample failed", "error", err)
			continue
		}
		samples = append(samples, out)
	}
	if len(samples) < 2 {
		return 0, false
	}

	var sum float64
	var pairs int
	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			sum += tokenF1(contentTokens(samples[i]), contentTokens(samples[j]))
			pairs++
		}
	}
	return sum / float64(pairs), true
}

const judgeSystem = `You grade how faithful an answer is to the given passages.
Reply with a single number between 0.0 and 1.0, where 1.0 means every claim
is supported by the passages and 0.0 means none are.`

var judgeScoreRe = regexp.MustCompile(`[01](?:\.\d+)?`)

func (d *Detector) judgeFaithfulness(ctx context.Context, question, passages, response string) (float64, bool) {
	user := fmt.Sprintf("Question:\n%s\n\nPassages:\n%s\n\nAnswer:\n%s\n\nFaithfulness score:",
		question, passages, response)
	out, _, err := d.gw.Generate(ctx, judgeSystem, user, llm.Params{Temperature: 0, MaxTokens: 8})
	if err != nil {
		d.logger.Debug("faithfulness judge failed", "error", err)
		return 0, false
	}
	m := judgeScoreRe.FindString(out)
	if m == "" {
		return 0, false
	}
	score, err := strconv.ParseFloat(m, 64)
	if err != nil || score < 0 || score > 1 {
		return 0, false
	}
	return score, true
}

var sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

// splitSentences breaks text on terminal punctuation followed by space.
func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stopwords excluded from grounding comparisons.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "she": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "they": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "which": {}, "will": {}, "with": {},
}

// contentTokens lowercases, strips punctuation and removes stopwords and
// source markers.
func contentTokens(text string) map[string]int {
	text = sourceMarkerRe.ReplaceAllString(text, " ")
	tokens := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w == "" {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		tokens[w]++
	}
	return tokens
}

// tokenF1 computes precision/recall F1 over token multisets.
func tokenF1(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var overlap, aTotal, bTotal int
	for w, n := range a {
		aTotal += n
		if m, ok := b[w]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	for _, n := range b {
		bTotal += n
	}
	if overlap == 0 {
		return 0
	}
	precision := float64(overlap) / float64(aTotal)
	recall := float64(overlap) / float64(bTotal)
	return 2 * precision * recall / (precision + recall)
}
