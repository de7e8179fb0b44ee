// Package cleaner normalizes extracted text through an ordered pipeline of
// strategies. Each strategy declares whether it applies and a pure transform;
// the composite runs them in declared order.
package cleaner

import (
	"regexp"
	"strings"
	"unicode"
)

// Strategy is one cleaning stage.
type Strategy interface {
	// Name identifies the stage in logs and tests.
	Name() string

	// Applies reports whether the stage should run on the text.
	Applies(text string) bool

	// Apply transforms the text. Must be pure.
	Apply(text string) string
}

// Pipeline runs strategies in declared order.
type Pipeline struct {
	strategies []Strategy
}

// NewPipeline builds a pipeline from the given strategies, run in order.
func NewPipeline(strategies ...Strategy) *Pipeline {
	return &Pipeline{strategies: strategies}
}

// Default returns the standard cleaning pipeline: unicode normalization,
// form-artifact removal, word-spacing fix, whitespace normalization,
// repetitive-content removal, table cleanup, final cleanup.
func Default() *Pipeline {
	return NewPipeline(
		UnicodeNormalizer{},
		FormArtifactRemover{},
		WordSpacingFixer{},
		WhitespaceNormalizer{},
		RepetitionRemover{},
		TableCleaner{},
		FinalCleaner{},
	)
}

// Clean runs every applicable strategy in order.
func (p *Pipeline) Clean(text string) string {
	for _, s := range p.strategies {
		if s.Applies(text) {
			text = s.Apply(text)
		}
	}
	return text
}

// Strategies returns the configured stages in order.
func (p *Pipeline) Strategies() []Strategy {
	return p.strategies
}

// UnicodeNormalizer replaces typographic punctuation and control characters
// with plain ASCII equivalents.
type UnicodeNormalizer struct{}

func (UnicodeNormalizer) Name() string { return "unicode" }

func (UnicodeNormalizer) Applies(text string) bool {
	for _, r := range text {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

var unicodeReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
	"…", "...",
	"\u00A0", " ",
	"\uFEFF", "",
	"\u200B", "",
)

func (UnicodeNormalizer) Apply(text string) string {
	text = unicodeReplacer.Replace(text)
	// Drop remaining control characters except newline and tab.
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)
}

// FormArtifactRemover strips checkbox markers, dotted leader lines and
// fill-in underscores left over from forms.
type FormArtifactRemover struct{}

func (FormArtifactRemover) Name() string { return "form_artifacts" }

var (
	checkboxRe = regexp.MustCompile(`[\x{2610}\x{2611}\x{2612}]|\[[ xX]\]`)
	leaderRe   = regexp.MustCompile(`\.{4,}`)
	fillinRe   = regexp.MustCompile(`_{3,}`)
)

func (FormArtifactRemover) Applies(text string) bool {
	return checkboxRe.MatchString(text) || leaderRe.MatchString(text) || fillinRe.MatchString(text)
}

func (FormArtifactRemover) Apply(text string) string {
	text = checkboxRe.ReplaceAllString(text, " ")
	text = leaderRe.ReplaceAllString(text, " ")
	text = fillinRe.ReplaceAllString(text, " ")
	return text
}

// WordSpacingFixer repairs words broken by soft hyphenation across line
// breaks ("exam-\nple" -> "example").
type WordSpacingFixer struct{}

func (WordSpacingFixer) Name() string { return "word_spacing" }

var hyphenBreakRe = regexp.MustCompile(`(\pL)-\n(\pL)`)

func (WordSpacingFixer) Applies(text string) bool {
	return hyphenBreakRe.MatchString(text)
}

func (WordSpacingFixer) Apply(text string) string {
	return hyphenBreakRe.ReplaceAllString(text, "$1$2")
}

// WhitespaceNormalizer collapses runs of spaces and tabs and bounds
// consecutive blank lines at one.
type WhitespaceNormalizer struct{}

func (WhitespaceNormalizer) Name() string { return "whitespace" }

var (
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

func (WhitespaceNormalizer) Applies(string) bool { return true }

func (WhitespaceNormalizer) Apply(text string) string {
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.Join(lines, "\n")
}

// RepetitionRemover drops lines repeated many times across the document,
// which are almost always running headers or footers.
type RepetitionRemover struct{}

func (RepetitionRemover) Name() string { return "repetition" }

// repetitionThreshold is how many identical occurrences mark a line as
// boilerplate.
const repetitionThreshold = 4

func (RepetitionRemover) Applies(text string) bool {
	return strings.Count(text, "\n") >= repetitionThreshold
}

func (RepetitionRemover) Apply(text string) string {
	lines := strings.Split(text, "\n")
	counts := make(map[string]int)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 {
			counts[trimmed]++
		}
	}

	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 && counts[trimmed] >= repetitionThreshold {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// TableCleaner flattens pipe-drawn table rows into plain delimited text and
// drops separator rows.
type TableCleaner struct{}

func (TableCleaner) Name() string { return "tables" }

var tableSepRe = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)

func (TableCleaner) Applies(text string) bool {
	return strings.Contains(text, "|")
}

func (TableCleaner) Apply(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, "|") {
			if tableSepRe.MatchString(line) {
				continue
			}
			cells := strings.Split(line, "|")
			var kept []string
			for _, c := range cells {
				c = strings.TrimSpace(c)
				if c != "" {
					kept = append(kept, c)
				}
			}
			line = strings.Join(kept, "; ")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// FinalCleaner trims the document and guarantees it ends without trailing
// whitespace.
type FinalCleaner struct{}

func (FinalCleaner) Name() string { return "final" }

func (FinalCleaner) Applies(string) bool { return true }

func (FinalCleaner) Apply(text string) string {
	return strings.TrimSpace(text)
}
