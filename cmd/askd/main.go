// Command askd runs the question answering service: document ingestion,
// adaptive retrieval and grounded generation over per-tenant corpora.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corterra/askd/internal/answer"
	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/config"
	"github.com/corterra/askd/internal/embedder"
	"github.com/corterra/askd/internal/eval"
	"github.com/corterra/askd/internal/ingest"
	"github.com/corterra/askd/internal/jobs"
	"github.com/corterra/askd/internal/lexical"
	"github.com/corterra/askd/internal/llm"
	"github.com/corterra/askd/internal/prompt"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/repository/fsstore"
	"github.com/corterra/askd/internal/repository/postgres"
	"github.com/corterra/askd/internal/retrieval"
	"github.com/corterra/askd/internal/server"
	"github.com/corterra/askd/internal/service"
	"github.com/corterra/askd/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("askd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores.
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	docRepo := postgres.NewDocumentRepo(db)
	tenantRepo := postgres.NewTenantRepo(db)
	jobRepo := postgres.NewJobRepo(db)
	auditRepo := postgres.NewAuditRepo(db)
	evalRepo := postgres.NewEvaluationRepo(db)

	objects, err := fsstore.New("data/objects")
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}

	lexIndex := lexical.NewBleveStore(lexical.Config{
		Dir:         cfg.LexicalIndexDir,
		K1:          cfg.BM25K1,
		B:           cfg.BM25B,
		FragmentLen: cfg.HighlightFragLen,
	})
	defer lexIndex.Close()

	vecStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}

	// Embedding client with an LRU cache in front.
	httpEmbedder := embedder.NewHTTPEmbedder(embedder.HTTPConfig{
		BaseURL:   cfg.EmbeddingURL,
		Dimension: cfg.EmbeddingDim,
		BatchMax:  cfg.EmbeddingBatchMax,
		Timeout:   cfg.EmbeddingTimeout,
	})
	emb, err := embedder.NewCachedEmbedder(httpEmbedder, cfg.EmbeddingCacheSize)
	if err != nil {
		return fmt.Errorf("building embedding cache: %w", err)
	}

	// LLM gateways. Both providers are registered when configured; the
	// default follows LLM_PROVIDER.
	gateways := map[string]llm.Gateway{
		"ollama": llm.NewOllama(cfg.OllamaURL, cfg.LLMModel,
			llm.WithOllamaTimeout(cfg.LLMTimeout),
			llm.WithOllamaRetries(cfg.LLMMaxRetries)),
	}
	if cfg.OpenAIAPIKey != "" {
		gateways["openai"] = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.LLMModel,
			Timeout:    cfg.LLMTimeout,
			MaxRetries: cfg.LLMMaxRetries,
		})
	}
	defaultGW, ok := gateways[cfg.LLMProvider]
	if !ok {
		return fmt.Errorf("provider %q not configured", cfg.LLMProvider)
	}

	// Retrieval strategies.
	bm25 := retrieval.NewBM25(lexIndex, cfg.MaxTopK)
	dense := retrieval.NewDense(emb, vecStore, cfg.DenseMinScore, cfg.MaxTopK)
	hybrid := retrieval.NewHybrid(bm25, dense, retrieval.HybridConfig{
		Alpha:         cfg.HybridAlpha,
		Beta:          cfg.HybridBeta,
		IntermediateK: cfg.HybridIntermediate,
		Fusion:        retrieval.FusionMethod(cfg.FusionMethod),
		RRFConstant:   cfg.RRFConstant,
		MaxTopK:       cfg.MaxTopK,
	})
	classifier := retrieval.NewClassifier(defaultGW, logger)
	adaptive := retrieval.NewAdaptive(classifier, bm25, dense, hybrid)

	// Prompting and answer checks.
	templates, err := prompt.NewEngine(cfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	assembler := answer.NewAssembler(answer.AssemblerConfig{
		ContextWindow:    cfg.ContextWindow,
		BudgetRatio:      cfg.ContextBudgetRatio,
		MinPassageTokens: cfg.MinPassageTokens,
	})
	validator := answer.NewValidator(answer.ValidatorConfig{})
	detector := answer.NewDetector(defaultGW, answer.DetectorConfig{SelfConsistencyN: 3}, logger)

	indexer := ingest.NewIndexer(docRepo, objects, lexIndex, vecStore, emb, ingest.IndexerConfig{
		ChunkWindow:  cfg.ChunkWindow,
		ChunkOverlap: cfg.ChunkOverlap,
		BatchMax:     cfg.EmbeddingBatchMax,
		Parallelism:  cfg.IndexParallelism,
	}, logger)

	queries := service.NewQueryService(
		adaptive, assembler, validator, detector, templates,
		gateways, cfg.LLMProvider, tenantRepo, auditRepo,
		service.QueryConfig{
			DefaultTopK:     cfg.DefaultTopK,
			MaxTopK:         cfg.MaxTopK,
			DefaultTemplate: cfg.DefaultTemplate,
			Timeout:         cfg.QueryTimeout,
		}, logger)
	documents := service.NewDocumentService(indexer, docRepo, logger)
	tenants := service.NewTenantService(tenantRepo, lexIndex, vecStore, logger)

	// Background jobs.
	runner := jobs.NewRunner(jobRepo, logger)
	evalEngine := eval.NewEngine(queries, evalRepo, logger)
	registerJobHandlers(runner, evalEngine, indexer, docRepo, logger)
	if err := runner.Recover(ctx); err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret)
	srv := server.New(queries, documents, tenants, runner, jwtManager, emb, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("askd listening", "port", cfg.HTTPPort, "provider", cfg.LLMProvider)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := runner.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := templates.Watch(gctx, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerJobHandlers installs the background job kinds: full index rebuild
// and benchmark runs.
func registerJobHandlers(
	runner *jobs.Runner,
	evalEngine *eval.Engine,
	indexer *ingest.Indexer,
	docRepo repository.DocumentRepository,
	logger *slog.Logger,
) {
	runner.Register(repository.JobKindBenchmark, func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		report, err := evalEngine.Run(ctx, eval.RunConfig{
			ConfigID: job.ID.String(),
			Dataset:  "default",
			Tenant:   auth.Tenant{ID: job.TenantID},
			Limit:    job.EstimatedCount,
		}, progress)
		if err != nil {
			return err
		}
		logger.Info("benchmark finished",
			"job_id", job.ID,
			"samples", len(report.Samples),
			"composite", report.Composite,
		)
		return nil
	})

	runner.Register(repository.JobKindIndexRebuild, func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		// Re-chunks and re-embeds every indexed document of the tenant from
		// the stored chunk text.
		const page = 100
		processed := 0
		for offset := 0; ; offset += page {
			docs, _, err := docRepo.List(ctx, job.TenantID, repository.DocStatusIndexed, page, offset)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return nil
			}
			for _, doc := range docs {
				if err := indexer.Rebuild(ctx, doc); err != nil {
					return fmt.Errorf("rebuilding %s: %w", doc.ID, err)
				}
				processed++
				progress(processed)
			}
		}
	})
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
