// Package answer builds the model context from retrieved passages and checks
// the generated response: validation, source linking and hallucination
// detection.
package answer

import (
	"fmt"
	"strings"
)

// Passage is a ranked retrieval result handed to the assembler.
type Passage struct {
	ChunkID    string
	DocumentID string
	Text       string
	Score      float64
}

// Assembled is the packed context plus the marker-to-chunk mapping the
// source linker resolves against.
type Assembled struct {
	Context string
	// SourceMap maps the 1-based [Source i] marker to the chunk id.
	SourceMap map[int]string
	// DocumentMap maps the marker to the owning document id.
	DocumentMap map[int]string
	Tokens      int
	Truncated   bool
}

// CountTokens approximates the token count of s as the larger of
// ceil(len/4) and the word count. Intentionally conservative.
func CountTokens(s string) int {
	byChars := (len(s) + 3) / 4
	byWords := len(strings.Fields(s))
	if byWords > byChars {
		return byWords
	}
	return byChars
}

// AssemblerConfig tunes context packing.
type AssemblerConfig struct {
	// ContextWindow is the provider context size in tokens.
	ContextWindow int
	// BudgetRatio is the share of the window available for passages.
	BudgetRatio float64
	// MinPassageTokens is the smallest truncated passage worth including.
	MinPassageTokens int
}

// Assembler packs passages into a [Source i] formatted context string under
// a token budget.
type Assembler struct {
	cfg AssemblerConfig
}

// NewAssembler creates an Assembler, applying defaults for zero values.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 8192
	}
	if cfg.BudgetRatio <= 0 || cfg.BudgetRatio > 1 {
		cfg.BudgetRatio = 0.7
	}
	if cfg.MinPassageTokens <= 0 {
		cfg.MinPassageTokens = 50
	}
	return &Assembler{cfg: cfg}
}

// Assemble walks passages in rank order, including each while the running
// total stays under budget. When a passage does not fit whole, a truncated
// version is included if it still meets the per-passage minimum; otherwise
// packing stops. promptOverhead is the token cost of the template text.
func (a *Assembler) Assemble(passages []Passage, promptOverhead int) Assembled {
	budget := int(float64(a.cfg.ContextWindow)*a.cfg.BudgetRatio) - promptOverhead
	out := Assembled{
		SourceMap:   make(map[int]string),
		DocumentMap: make(map[int]string),
	}
	if budget <= 0 {
		return out
	}

	var b strings.Builder
	total := 0
	marker := 0

	for _, p := range passages {
		text := p.Text
		prefix := fmt.Sprintf("[Source %d] ", marker+1)
		cost := CountTokens(prefix + text)

		if total+cost > budget {
			remaining := budget - total - CountTokens(prefix)
			if remaining < a.cfg.MinPassageTokens {
				break
			}
			text = truncateToTokens(text, remaining)
			if text == "" {
				break
			}
			cost = CountTokens(prefix + text)
			out.Truncated = true
		}

		marker++
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(prefix)
		b.WriteString(text)
		total += cost
		out.SourceMap[marker] = p.ChunkID
		out.DocumentMap[marker] = p.DocumentID

		if out.Truncated {
			break
		}
	}

	out.Context = b.String()
	out.Tokens = total
	return out
}

// truncateToTokens cuts text at a word boundary so it fits maxTokens.
func truncateToTokens(text string, maxTokens int) string {
	if CountTokens(text) <= maxTokens {
		return text
	}
	words := strings.Fields(text)
	// Binary search over word counts for the longest fitting prefix.
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if CountTokens(strings.Join(words[:mid], " ")) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
