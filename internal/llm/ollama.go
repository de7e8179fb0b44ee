package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/corterra/askd/internal/apperr"
)

// Ollama talks to a local Ollama server over its chat API.
type Ollama struct {
	baseURL    string
	model      string
	maxRetries int
	client     *http.Client
}

// OllamaOption configures an Ollama gateway.
type OllamaOption func(*Ollama)

// WithOllamaTimeout sets the per-request timeout.
func WithOllamaTimeout(d time.Duration) OllamaOption {
	return func(o *Ollama) { o.client.Timeout = d }
}

// WithOllamaRetries sets the transport retry budget.
func WithOllamaRetries(n int) OllamaOption {
	return func(o *Ollama) { o.maxRetries = n }
}

// NewOllama creates an Ollama gateway.
func NewOllama(baseURL, model string, opts ...OllamaOption) *Ollama {
	o := &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxRetries: 3,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements Gateway.
func (o *Ollama) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (o *Ollama) buildRequest(system, user string, params Params, stream bool) ollamaRequest {
	return ollamaRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: stream,
		Options: ollamaOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.MaxTokens,
		},
	}
}

// Generate implements Gateway.
func (o *Ollama) Generate(ctx context.Context, system, user string, params Params) (string, Usage, error) {
	var text string
	var usage Usage

	err := retryTransport(ctx, o.maxRetries, func() error {
		body, err := json.Marshal(o.buildRequest(system, user, params, false))
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return apperr.Wrap(apperr.ProviderUnavailable, "ollama request", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 500 {
				return apperr.Newf(apperr.ProviderUnavailable, "ollama returned %d", resp.StatusCode)
			}
			return apperr.Newf(apperr.Internal, "ollama returned %d", resp.StatusCode)
		}

		var out ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return apperr.Wrap(apperr.ProviderUnavailable, "decoding ollama response", err)
		}
		if out.Error != "" {
			return classifyOllamaError(out.Error)
		}

		text = out.Message.Content
		usage = Usage{PromptTokens: out.PromptEvalCount, CompletionTokens: out.EvalCount}
		return nil
	})
	return text, usage, err
}

// Stream implements Gateway. Ollama streams newline-delimited JSON objects.
func (o *Ollama) Stream(ctx context.Context, system, user string, params Params, fn StreamFunc) (string, Usage, error) {
	body, err := json.Marshal(o.buildRequest(system, user, params, true))
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", Usage{}, apperr.Wrap(apperr.ProviderUnavailable, "ollama request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, apperr.Newf(apperr.ProviderUnavailable, "ollama returned %d", resp.StatusCode)
	}

	var full strings.Builder
	var usage Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var out ollamaResponse
		if err := json.Unmarshal(line, &out); err != nil {
			return full.String(), usage, apperr.Wrap(apperr.ProviderUnavailable, "decoding stream chunk", err)
		}
		if out.Error != "" {
			return full.String(), usage, classifyOllamaError(out.Error)
		}
		if out.Message.Content != "" {
			full.WriteString(out.Message.Content)
			if err := fn(out.Message.Content); err != nil {
				return full.String(), usage, err
			}
		}
		if out.Done {
			usage = Usage{PromptTokens: out.PromptEvalCount, CompletionTokens: out.EvalCount}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), usage, apperr.Wrap(apperr.ProviderUnavailable, "reading stream", err)
	}
	return full.String(), usage, nil
}

func classifyOllamaError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too long"):
		return apperr.New(apperr.ContextTooLong, msg)
	default:
		return apperr.New(apperr.ProviderUnavailable, msg)
	}
}

// Available implements Gateway with a cheap tags probe.
func (o *Ollama) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var _ Gateway = (*Ollama)(nil)
