package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/corterra/askd/internal/apperr"
)

// OpenAI is the Gateway implementation for the OpenAI chat API, or any
// compatible endpoint via a custom base URL.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
}

// OpenAIConfig configures the OpenAI gateway.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// NewOpenAI creates an OpenAI gateway.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: retries,
	}
}

// Name implements Gateway.
func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) buildRequest(system, user string, params Params, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	}
}

// Generate implements Gateway.
func (o *OpenAI) Generate(ctx context.Context, system, user string, params Params) (string, Usage, error) {
	var text string
	var usage Usage

	err := retryTransport(ctx, o.maxRetries, func() error {
		resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(system, user, params, false))
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return apperr.New(apperr.ProviderUnavailable, "empty choices in completion")
		}
		choice := resp.Choices[0]
		if choice.FinishReason == openai.FinishReasonContentFilter {
			return apperr.New(apperr.ContentFiltered, "completion blocked by content filter")
		}
		text = choice.Message.Content
		usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
		return nil
	})
	return text, usage, err
}

// Stream implements Gateway. Usage is not reported on the streaming path.
func (o *OpenAI) Stream(ctx context.Context, system, user string, params Params, fn StreamFunc) (string, Usage, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(system, user, params, true))
	if err != nil {
		return "", Usage{}, classifyOpenAIError(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), Usage{}, classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
			return full.String(), Usage{}, apperr.New(apperr.ContentFiltered, "completion blocked by content filter")
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := fn(delta); err != nil {
			return full.String(), Usage{}, err
		}
	}
	return full.String(), Usage{}, nil
}

// Available implements Gateway with a model-list probe.
func (o *OpenAI) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := o.client.ListModels(ctx)
	return err == nil
}

// classifyOpenAIError maps API errors onto the error taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return apperr.Wrap(apperr.QuotaExceeded, "provider quota", err)
		case apiErr.Code == "context_length_exceeded":
			return apperr.Wrap(apperr.ContextTooLong, "prompt exceeds context window", err)
		case apiErr.Code == "content_filter" || apiErr.Code == "content_policy_violation":
			return apperr.Wrap(apperr.ContentFiltered, "content filtered", err)
		case apiErr.HTTPStatusCode >= 500:
			return apperr.Wrap(apperr.ProviderUnavailable, "provider error", err)
		default:
			return apperr.Wrap(apperr.Internal, "provider rejected request", err)
		}
	}
	return apperr.Wrap(apperr.ProviderUnavailable, "provider transport", err)
}

var _ Gateway = (*OpenAI)(nil)
