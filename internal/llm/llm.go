// Package llm abstracts text generation providers behind a single gateway.
package llm

import (
	"context"
)

// Params are per-call sampling parameters. Zero values fall back to provider
// defaults.
type Params struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Usage reports token accounting for one generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamFunc receives incremental output during a streaming generation.
// Returning an error aborts the stream.
type StreamFunc func(delta string) error

// Gateway is a text generation provider.
type Gateway interface {
	// Generate produces a completion for the system and user messages.
	Generate(ctx context.Context, system, user string, params Params) (string, Usage, error)

	// Stream produces a completion incrementally, invoking fn per delta.
	// The full text and usage are returned once the stream ends.
	Stream(ctx context.Context, system, user string, params Params, fn StreamFunc) (string, Usage, error)

	// Available reports whether the provider is reachable.
	Available(ctx context.Context) bool

	// Name identifies the provider in logs and diagnostics.
	Name() string
}
