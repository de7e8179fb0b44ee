package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/cleaner"
	"github.com/corterra/askd/internal/embedder"
	"github.com/corterra/askd/internal/extract"
	"github.com/corterra/askd/internal/lexical"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/vectorstore"
)

// IndexRequest describes one document to ingest.
type IndexRequest struct {
	TenantID  uuid.UUID
	OwnerID   string
	Title     string
	Filename  string
	SourceURI string
	Public    bool
	Data      []byte
}

// IndexResult reports the outcome of a successful ingestion.
type IndexResult struct {
	DocumentID uuid.UUID
	ChunkCount int
}

// Indexer runs the extract-clean-chunk-embed-upsert pipeline. Writes go to
// the lexical index first, then the vector store, then the relational store;
// a vector failure rolls the lexical writes back so the two search indexes
// never disagree on a document.
type Indexer struct {
	docs        repository.DocumentRepository
	objects     repository.ObjectStore
	lex         lexical.Index
	vec         vectorstore.VectorStore
	emb         embedder.Embedder
	extractor   *extract.Registry
	cleaner     *cleaner.Pipeline
	chunker     *Chunker
	batchMax    int
	parallelism int
	logger      *slog.Logger
}

// IndexerConfig configures an Indexer.
type IndexerConfig struct {
	ChunkWindow  int
	ChunkOverlap int
	BatchMax     int
	// Parallelism bounds concurrent embedding batches; 0 means NumCPU.
	Parallelism int
}

// NewIndexer creates an Indexer. The object store is optional; when nil, raw
// document bytes are not retained.
func NewIndexer(
	docs repository.DocumentRepository,
	objects repository.ObjectStore,
	lex lexical.Index,
	vec vectorstore.VectorStore,
	emb embedder.Embedder,
	cfg IndexerConfig,
	logger *slog.Logger,
) *Indexer {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 32
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.NumCPU()
	}
	return &Indexer{
		docs:        docs,
		objects:     objects,
		lex:         lex,
		vec:         vec,
		emb:         emb,
		extractor:   extract.NewRegistry(),
		cleaner:     cleaner.Default(),
		chunker:     NewChunker(ChunkerConfig{Window: cfg.ChunkWindow, Overlap: cfg.ChunkOverlap}),
		batchMax:    cfg.BatchMax,
		parallelism: cfg.Parallelism,
		logger:      logger,
	}
}

// Index ingests one document for a tenant. Re-submitting identical bytes is
// detected by content hash before any extraction work happens.
func (ix *Indexer) Index(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	if len(req.Data) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "document is empty")
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	existing, err := ix.docs.GetByHash(ctx, req.TenantID, hash)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.Internal, "checking content hash", err)
	}
	if existing != nil {
		return nil, apperr.Newf(apperr.AlreadyIndexed, "document already indexed as %s", existing.ID)
	}

	text, err := ix.extractor.Extract(req.Filename, req.Data)
	if err != nil {
		return nil, apperr.WithStep("extract", err)
	}
	cleaned := ix.cleaner.Clean(text)

	chunks := ix.chunker.Chunk(cleaned)
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "document contains no indexable text")
	}

	now := time.Now().UTC()
	doc := &repository.Document{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Filename:    req.Filename,
		SourceURI:   req.SourceURI,
		ContentHash: hash,
		ChunkCount:  len(chunks),
		Status:      repository.DocStatusProcessing,
		Public:      req.Public,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.Title == "" {
		doc.Title = req.Filename
	}
	if doc.SourceURI == "" {
		doc.SourceURI = req.Filename
	}
	if err := ix.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			return nil, apperr.New(apperr.AlreadyIndexed, "document already indexed")
		}
		return nil, apperr.Wrap(apperr.Internal, "creating document record", err)
	}

	if ix.objects != nil {
		if err := ix.objects.Put(ctx, req.TenantID, doc.ID, req.Filename, req.Data); err != nil {
			ix.logger.Warn("raw document not retained", "document_id", doc.ID, "error", err)
		}
	}

	if err := ix.indexChunks(ctx, doc, chunks); err != nil {
		ix.markFailed(doc)
		return nil, err
	}

	doc.Status = repository.DocStatusIndexed
	doc.UpdatedAt = time.Now().UTC()
	if err := ix.docs.Update(ctx, doc); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "finalizing document record", err)
	}

	ix.logger.Info("document indexed",
		"tenant_id", doc.TenantID,
		"document_id", doc.ID,
		"chunks", len(chunks),
	)
	return &IndexResult{DocumentID: doc.ID, ChunkCount: len(chunks)}, nil
}

func (ix *Indexer) indexChunks(ctx context.Context, doc *repository.Document, chunks []Chunk) error {
	tenant := doc.TenantID.String()

	vectors, err := ix.embedAll(ctx, chunks)
	if err != nil {
		return apperr.WithStep("embed", err)
	}

	if err := ix.lex.Ensure(ctx, tenant); err != nil {
		return apperr.WithStep("index", apperr.Wrap(apperr.ExternalUnavailable, "preparing lexical index", err))
	}
	if err := ix.vec.EnsureCollection(ctx, tenant); err != nil {
		return apperr.WithStep("index", apperr.Wrap(apperr.ExternalUnavailable, "preparing vector collection", err))
	}

	chunkIDs := make([]uuid.UUID, len(chunks))
	lexChunks := make([]lexical.Chunk, len(chunks))
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = uuid.New()
		lexChunks[i] = lexical.Chunk{
			ID:         chunkIDs[i].String(),
			DocumentID: doc.ID.String(),
			Text:       c.Text,
		}
		points[i] = vectorstore.Point{
			ID:         chunkIDs[i].String(),
			DocumentID: doc.ID.String(),
			Text:       c.Text,
			ChunkIndex: c.Index,
			Vector:     vectors[i],
		}
	}

	if err := ix.lex.UpsertChunks(ctx, tenant, lexChunks); err != nil {
		return apperr.WithStep("index", apperr.Wrap(apperr.ExternalUnavailable, "lexical upsert", err))
	}
	if err := ix.vec.Upsert(ctx, tenant, points); err != nil {
		// Undo the lexical writes so both indexes stay consistent.
		if rerr := ix.lex.DeleteDocument(ctx, tenant, doc.ID.String()); rerr != nil {
			ix.logger.Error("lexical rollback failed",
				"document_id", doc.ID, "error", rerr)
		}
		return apperr.WithStep("index", err)
	}

	records := make([]*repository.DocumentChunk, len(chunks))
	now := time.Now().UTC()
	for i, c := range chunks {
		records[i] = &repository.DocumentChunk{
			ID:          chunkIDs[i],
			DocumentID:  doc.ID,
			TenantID:    doc.TenantID,
			ChunkIndex:  c.Index,
			Content:     c.Text,
			StartOffset: c.Start,
			EndOffset:   c.End,
			CreatedAt:   now,
		}
	}
	if err := ix.docs.CreateChunks(ctx, records); err != nil {
		return apperr.WithStep("index", apperr.Wrap(apperr.Internal, "persisting chunks", err))
	}
	return nil
}

// embedAll embeds chunk texts in batches, bounded by the configured
// parallelism. Vector order matches chunk order.
func (ix *Indexer) embedAll(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.parallelism)

	for start := 0; start < len(chunks); start += ix.batchMax {
		end := start + ix.batchMax
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			embs, err := ix.emb.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
			}
			copy(vectors[start:end], embs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (ix *Indexer) markFailed(doc *repository.Document) {
	// Best effort, detached from the request context so a cancelled ingest
	// still records the failure.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc.Status = repository.DocStatusFailed
	doc.UpdatedAt = time.Now().UTC()
	if err := ix.docs.Update(ctx, doc); err != nil {
		ix.logger.Error("failed to mark document failed", "document_id", doc.ID, "error", err)
	}
}

// Rebuild re-embeds and re-upserts an indexed document from its stored
// chunks, refreshing both search indexes after an embedding model or index
// format change. The relational chunk records are the source of truth.
func (ix *Indexer) Rebuild(ctx context.Context, doc *repository.Document) error {
	tenant := doc.TenantID.String()

	const page = 500
	var chunks []Chunk
	var ids []uuid.UUID
	for offset := 0; ; offset += page {
		records, err := ix.docs.GetChunks(ctx, doc.ID, page, offset)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "loading chunks", err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			chunks = append(chunks, Chunk{
				Index: rec.ChunkIndex,
				Text:  rec.Content,
				Start: rec.StartOffset,
				End:   rec.EndOffset,
			})
			ids = append(ids, rec.ID)
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := ix.embedAll(ctx, chunks)
	if err != nil {
		return apperr.WithStep("embed", err)
	}

	lexChunks := make([]lexical.Chunk, len(chunks))
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		lexChunks[i] = lexical.Chunk{
			ID:         ids[i].String(),
			DocumentID: doc.ID.String(),
			Text:       c.Text,
		}
		points[i] = vectorstore.Point{
			ID:         ids[i].String(),
			DocumentID: doc.ID.String(),
			Text:       c.Text,
			ChunkIndex: c.Index,
			Vector:     vectors[i],
		}
	}

	if err := ix.lex.Ensure(ctx, tenant); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "preparing lexical index", err)
	}
	if err := ix.vec.EnsureCollection(ctx, tenant); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "preparing vector collection", err)
	}
	if err := ix.lex.UpsertChunks(ctx, tenant, lexChunks); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "lexical upsert", err)
	}
	if err := ix.vec.Upsert(ctx, tenant, points); err != nil {
		return apperr.WithStep("index", err)
	}
	return nil
}

// Delete removes a document from every store, in reverse of indexing order.
func (ix *Indexer) Delete(ctx context.Context, tenantID, documentID uuid.UUID) error {
	doc, err := ix.docs.GetByID(ctx, tenantID, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.NotFound, "document not found")
		}
		return apperr.Wrap(apperr.Internal, "loading document", err)
	}

	tenant := tenantID.String()
	if err := ix.vec.DeleteDocument(ctx, tenant, documentID.String()); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "deleting vectors", err)
	}
	if err := ix.lex.DeleteDocument(ctx, tenant, documentID.String()); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "deleting lexical chunks", err)
	}
	if ix.objects != nil && doc.Filename != "" {
		// Raw bytes are keyed by the filename recorded at Put time.
		if err := ix.objects.Delete(ctx, tenantID, documentID, doc.Filename); err != nil {
			ix.logger.Warn("raw document not removed", "document_id", documentID, "error", err)
		}
	}
	if err := ix.docs.Delete(ctx, tenantID, documentID); err != nil {
		return apperr.Wrap(apperr.Internal, "deleting document record", err)
	}

	ix.logger.Info("document deleted", "tenant_id", tenantID, "document_id", documentID)
	return nil
}
