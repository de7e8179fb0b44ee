// Package service contains the application services behind the HTTP surface:
// the ask orchestrator, document lifecycle and tenant administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/answer"
	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/llm"
	"github.com/corterra/askd/internal/prompt"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/retrieval"
)

// AskOptions are per-request knobs, all optional.
type AskOptions struct {
	TopK                int
	Strategy            string // auto, bm25, dense, hybrid
	Provider            string
	TemplateName        string
	TemplateVersion     int
	Temperature         *float32
	MaxTokens           int
	DetectHallucination bool

	// OnDelta enables streaming; called per token chunk in arrival order.
	OnDelta llm.StreamFunc
}

// Source is one cited passage in an answer.
type Source struct {
	Marker     int     `json:"marker"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text,omitempty"`
	Score      float64 `json:"score"`
}

// Answer is the full result of one ask operation.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
	// Retrieved lists every passage handed to the assembler, cited or not.
	Retrieved        []Source       `json:"retrieved,omitempty"`
	Strategy         string         `json:"strategy"`
	QueryType        string         `json:"query_type,omitempty"`
	Template         string         `json:"template"`
	TemplateVersion  int            `json:"template_version"`
	Provider         string         `json:"provider"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	Diagnostics      []string       `json:"diagnostics,omitempty"`
	Issues           []string       `json:"issues,omitempty"`
	Hallucination    *answer.Report `json:"hallucination,omitempty"`
	LatencyMS        int64          `json:"latency_ms"`
	CorrelationID    string         `json:"correlation_id"`
}

// QueryConfig holds orchestrator defaults.
type QueryConfig struct {
	DefaultTopK     int
	MaxTopK         int
	MaxTokensLimit  int
	DefaultTemplate string
	Timeout         time.Duration
}

// QueryService orchestrates the ask pipeline:
// classify, retrieve, assemble, prompt, generate, validate, link, detect.
type QueryService struct {
	adaptive  *retrieval.Adaptive
	assembler *answer.Assembler
	validator *answer.Validator
	detector  *answer.Detector
	templates *prompt.Engine
	gateways  map[string]llm.Gateway
	defaultGW string
	tenants   repository.TenantRepository
	audits    repository.AuditRepository
	cfg       QueryConfig
	logger    *slog.Logger
}

// NewQueryService wires the orchestrator. gateways is keyed by provider name;
// defaultProvider selects the gateway used when the request names none.
func NewQueryService(
	adaptive *retrieval.Adaptive,
	assembler *answer.Assembler,
	validator *answer.Validator,
	detector *answer.Detector,
	templates *prompt.Engine,
	gateways map[string]llm.Gateway,
	defaultProvider string,
	tenants repository.TenantRepository,
	audits repository.AuditRepository,
	cfg QueryConfig,
	logger *slog.Logger,
) *QueryService {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 100
	}
	if cfg.MaxTokensLimit <= 0 {
		cfg.MaxTokensLimit = 4000
	}
	if cfg.DefaultTemplate == "" {
		cfg.DefaultTemplate = "rag-default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &QueryService{
		adaptive:  adaptive,
		assembler: assembler,
		validator: validator,
		detector:  detector,
		templates: templates,
		gateways:  gateways,
		defaultGW: defaultProvider,
		tenants:   tenants,
		audits:    audits,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ask answers a question against the tenant's corpus.
func (s *QueryService) Ask(ctx context.Context, tenant auth.Tenant, query string, opts AskOptions) (*Answer, error) {
	started := time.Now()
	correlationID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.InvalidInput, "query is empty")
	}
	if opts.Temperature != nil && (*opts.Temperature < 0 || *opts.Temperature > 1) {
		return nil, apperr.New(apperr.InvalidInput, "temperature out of range [0,1]")
	}
	if opts.MaxTokens < 0 || opts.MaxTokens > s.cfg.MaxTokensLimit {
		return nil, apperr.Newf(apperr.InvalidInput, "max_tokens out of range [1,%d]", s.cfg.MaxTokensLimit)
	}

	tenantDefaults := s.tenantDefaults(ctx, tenant.ID)

	topK := opts.TopK
	if topK == 0 {
		topK = tenantDefaults.TopK
	}
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK < 1 || topK > s.cfg.MaxTopK {
		return nil, apperr.Newf(apperr.InvalidInput, "top_k %d out of range [1,%d]", topK, s.cfg.MaxTopK)
	}

	gw, err := s.gateway(opts.Provider)
	if err != nil {
		return nil, err
	}

	// Retrieve. "auto" routes through the classifier.
	override := opts.Strategy
	if strings.EqualFold(override, "auto") {
		override = ""
	}
	results, decision, err := s.adaptive.Retrieve(ctx, tenant.ID.String(), query, topK, override)
	if err != nil {
		return nil, apperr.WithStep("retrieve", err)
	}

	passages := make([]answer.Passage, len(results))
	for i, r := range results {
		passages[i] = answer.Passage{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Text:       r.Text,
			Score:      r.Score,
		}
	}
	passages = answer.Deduplicate(passages)

	// Prompt. The template renders once with an empty context to price its
	// fixed overhead, then again with the packed passages.
	templateName := opts.TemplateName
	if templateName == "" {
		templateName = tenantDefaults.SystemTemplate
	}
	if templateName == "" {
		templateName = s.cfg.DefaultTemplate
	}

	skeleton, err := s.templates.Render(templateName, opts.TemplateVersion, map[string]string{
		"context":  "",
		"question": query,
	})
	if err != nil {
		return nil, apperr.WithStep("prompt", err)
	}
	overhead := answer.CountTokens(skeleton.System + skeleton.User)

	assembled := s.assembler.Assemble(passages, overhead)

	rendered, err := s.templates.Render(templateName, opts.TemplateVersion, map[string]string{
		"context":  assembled.Context,
		"question": query,
	})
	if err != nil {
		return nil, apperr.WithStep("prompt", err)
	}

	params := llm.Params{
		Temperature: rendered.Temperature,
		TopP:        rendered.TopP,
		MaxTokens:   rendered.MaxTokens,
	}
	if opts.Temperature != nil {
		params.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = opts.MaxTokens
	}

	// Generate.
	var text string
	var usage llm.Usage
	if opts.OnDelta != nil {
		text, usage, err = gw.Stream(ctx, rendered.System, rendered.User, params, opts.OnDelta)
	} else {
		text, usage, err = gw.Generate(ctx, rendered.System, rendered.User, params)
	}
	if err != nil {
		return nil, apperr.WithStep("generate", err)
	}

	// Validate, link, detect.
	issues, err := s.validator.Validate(text, len(passages) > 0, rendered.NoCitation)
	if err != nil {
		return nil, apperr.WithStep("validate", err)
	}
	refs, unknown := answer.LinkSources(text, assembled)
	for _, n := range unknown {
		issues = append(issues, fmt.Sprintf("citation refers to unknown source %d", n))
	}

	ans := &Answer{
		Text:             text,
		Strategy:         string(decision.Strategy),
		QueryType:        string(decision.QueryType),
		Template:         rendered.Name,
		TemplateVersion:  rendered.Version,
		Provider:         gw.Name(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Diagnostics:      decision.Notes,
		Issues:           issues,
		CorrelationID:    correlationID,
	}
	for _, p := range passages {
		ans.Retrieved = append(ans.Retrieved, Source{
			ChunkID:    p.ChunkID,
			DocumentID: p.DocumentID,
			Score:      p.Score,
		})
	}
	byChunk := make(map[string]answer.Passage, len(passages))
	for _, p := range passages {
		byChunk[p.ChunkID] = p
	}
	for _, ref := range refs {
		src := Source{Marker: ref.Marker, ChunkID: ref.ChunkID, DocumentID: ref.DocumentID}
		if p, ok := byChunk[ref.ChunkID]; ok {
			src.Text = p.Text
			src.Score = p.Score
		}
		ans.Sources = append(ans.Sources, src)
	}

	if opts.DetectHallucination {
		report := s.detector.Detect(ctx, rendered.System, rendered.User, text, passages)
		ans.Hallucination = &report
	}

	ans.LatencyMS = time.Since(started).Milliseconds()
	s.audit(tenant.ID, query, ans)

	s.logger.Info("ask completed",
		"tenant_id", tenant.ID,
		"correlation_id", correlationID,
		"strategy", ans.Strategy,
		"sources", len(ans.Sources),
		"latency_ms", ans.LatencyMS,
	)
	return ans, nil
}

// tenantDefaults loads the tenant's stored defaults; a missing record is not
// an error, just empty defaults.
func (s *QueryService) tenantDefaults(ctx context.Context, tenantID uuid.UUID) repository.TenantConfig {
	if s.tenants == nil {
		return repository.TenantConfig{}
	}
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("tenant defaults unavailable", "tenant_id", tenantID, "error", err)
		}
		return repository.TenantConfig{}
	}
	return t.Config
}

func (s *QueryService) gateway(provider string) (llm.Gateway, error) {
	name := provider
	if name == "" {
		name = s.defaultGW
	}
	gw, ok := s.gateways[name]
	if !ok {
		return nil, apperr.Newf(apperr.InvalidInput, "unknown provider %q", provider)
	}
	return gw, nil
}

// audit records the ask in the audit trail, best effort and detached from the
// request lifetime.
func (s *QueryService) audit(tenantID uuid.UUID, query string, ans *Answer) {
	if s.audits == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &repository.AuditLog{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Query:     query,
		Strategy:  ans.Strategy,
		Template:  ans.Template,
		LatencyMS: ans.LatencyMS,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", "tenant_id", tenantID, "error", err)
	}
}

