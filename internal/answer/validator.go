package answer

import (
	"fmt"
	"strings"

	"github.com/corterra/askd/internal/apperr"
)

// refusalPhrases are rejected when passages were supplied; the model had
// material to answer from.
var refusalPhrases = []string{
	"i don't have enough information",
	"i do not have enough information",
	"i cannot answer",
	"as an ai language model",
	"no relevant information was provided",
}

// ValidatorConfig bounds the accepted response shape.
type ValidatorConfig struct {
	MinLength int
	MaxLength int
}

// Validator checks a generated response before it is returned to the caller.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator, applying defaults for zero values.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 1
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 32768
	}
	return &Validator{cfg: cfg}
}

// Validate returns non-fatal issues and a fatal error. The response must be
// non-empty, within length bounds, cite at least one source unless the
// template waives citations, and not refuse when passages were supplied.
func (v *Validator) Validate(response string, passagesSupplied, noCitation bool) ([]string, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil, apperr.New(apperr.GenerationFailed, "empty response from provider")
	}

	var issues []string
	if len(trimmed) < v.cfg.MinLength {
		issues = append(issues, fmt.Sprintf("response shorter than %d characters", v.cfg.MinLength))
	}
	if len(trimmed) > v.cfg.MaxLength {
		issues = append(issues, fmt.Sprintf("response longer than %d characters", v.cfg.MaxLength))
	}

	if !noCitation && !sourceMarkerRe.MatchString(trimmed) {
		issues = append(issues, "response cites no sources")
	}

	if passagesSupplied {
		lower := strings.ToLower(trimmed)
		for _, phrase := range refusalPhrases {
			if strings.Contains(lower, phrase) {
				issues = append(issues, fmt.Sprintf("refusal phrase despite supplied passages: %q", phrase))
				break
			}
		}
	}

	return issues, nil
}
