package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corterra/askd/internal/apperr"
)

const (
	// DefaultBaseURL is the default embedding sidecar address.
	DefaultBaseURL = "http://localhost:8090"

	// DefaultBatchMax is the largest batch a single request may carry.
	DefaultBatchMax = 32
)

// HTTPConfig holds configuration for the HTTP embedding client.
type HTTPConfig struct {
	// BaseURL is the embedding service base URL.
	BaseURL string

	// Dimension is the expected vector dimension; responses with any other
	// dimension are rejected.
	Dimension int

	// BatchMax is the largest accepted batch size (default 32).
	BatchMax int

	// Timeout bounds a single request (default 5s).
	Timeout time.Duration

	// Retry configures transient-failure retries.
	Retry RetryConfig

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// HTTPEmbedder calls an embedding sidecar speaking the
// POST /embed {"texts": [...]} -> {"embeddings": [[...]]} contract.
type HTTPEmbedder struct {
	baseURL   string
	dimension int
	batchMax  int
	retry     RetryConfig
	client    *http.Client
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// NewHTTPEmbedder creates a new HTTP embedding client.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	batchMax := cfg.BatchMax
	if batchMax <= 0 {
		batchMax = DefaultBatchMax
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPEmbedder{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		dimension: cfg.Dimension,
		batchMax:  batchMax,
		retry:     retry,
		client:    client,
	}
}

// Embed generates one vector per input text, in input order.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "empty embedding batch")
	}
	if len(texts) > e.batchMax {
		return nil, apperr.Newf(apperr.InvalidInput, "batch of %d exceeds maximum %d", len(texts), e.batchMax)
	}

	var out [][]float32
	err := withRetry(ctx, e.retry, func() error {
		vectors, err := e.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		out = vectors
		return nil
	}, isTransient)
	if err != nil {
		if apperr.Is(err, apperr.ResponseShapeMismatch) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "embedding service", err)
	}
	return out, nil
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service error (status %d): %s", resp.StatusCode, string(b))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(er.Embeddings) != len(texts) {
		return nil, apperr.Newf(apperr.ResponseShapeMismatch,
			"requested %d embeddings, got %d", len(texts), len(er.Embeddings))
	}
	for i, vec := range er.Embeddings {
		if len(vec) != e.dimension {
			return nil, apperr.Newf(apperr.ResponseShapeMismatch,
				"embedding %d has dimension %d, want %d", i, len(vec), e.dimension)
		}
	}

	return er.Embeddings, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

// Healthy probes GET /health.
func (e *HTTPEmbedder) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return false
	}
	return hr.Status == "ok"
}

// isTransient reports whether an error is worth retrying. Shape mismatches
// and cancellations are not; transport errors and 5xx responses are.
func isTransient(err error) bool {
	if apperr.Is(err, apperr.ResponseShapeMismatch) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Ensure HTTPEmbedder implements Embedder.
var _ Embedder = (*HTTPEmbedder)(nil)
