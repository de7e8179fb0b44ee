package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/ingest"
	"github.com/corterra/askd/internal/repository"
)

// DocumentService exposes the document lifecycle: upload, list, get, delete.
type DocumentService struct {
	indexer *ingest.Indexer
	docs    repository.DocumentRepository
	logger  *slog.Logger
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(indexer *ingest.Indexer, docs repository.DocumentRepository, logger *slog.Logger) *DocumentService {
	return &DocumentService{indexer: indexer, docs: docs, logger: logger}
}

// Upload ingests a document for the tenant.
func (s *DocumentService) Upload(ctx context.Context, tenant auth.Tenant, req ingest.IndexRequest) (*ingest.IndexResult, error) {
	req.TenantID = tenant.ID
	return s.indexer.Index(ctx, req)
}

// Get returns one document, tenant-scoped.
func (s *DocumentService) Get(ctx context.Context, tenant auth.Tenant, id uuid.UUID) (*repository.Document, error) {
	doc, err := s.docs.GetByID(ctx, tenant.ID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "document not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "loading document", err)
	}
	return doc, nil
}

// List returns the tenant's documents, optionally filtered by status.
func (s *DocumentService) List(ctx context.Context, tenant auth.Tenant, status string, limit, offset int) ([]*repository.Document, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	docs, total, err := s.docs.List(ctx, tenant.ID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "listing documents", err)
	}
	return docs, total, nil
}

// Chunks returns the stored chunks of a document the tenant owns.
func (s *DocumentService) Chunks(ctx context.Context, tenant auth.Tenant, id uuid.UUID, limit, offset int) ([]*repository.DocumentChunk, error) {
	if _, err := s.Get(ctx, tenant, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	chunks, err := s.docs.GetChunks(ctx, id, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "loading chunks", err)
	}
	return chunks, nil
}

// Delete removes a document from all stores.
func (s *DocumentService) Delete(ctx context.Context, tenant auth.Tenant, id uuid.UUID) error {
	return s.indexer.Delete(ctx, tenant.ID, id)
}
