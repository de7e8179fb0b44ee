package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/corterra/askd/internal/repository"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create creates a new document. The (tenant_id, content_hash) unique
// constraint maps to repository.ErrDuplicateHash.
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, owner_id, title, filename, source_uri, content_hash, chunk_count, status, public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.TenantID, doc.OwnerID, doc.Title, doc.Filename, doc.SourceURI, doc.ContentHash,
		doc.ChunkCount, doc.Status, doc.Public, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicateHash
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID, scoped to the tenant.
func (r *DocumentRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*repository.Document, error) {
	query := `
		SELECT id, tenant_id, owner_id, title, filename, source_uri, content_hash, chunk_count, status, public, created_at, updated_at
		FROM documents
		WHERE tenant_id = $1 AND id = $2
	`
	return r.scanDocument(ctx, query, tenantID, id)
}

// GetByHash retrieves a live document by content hash for a tenant. Failed
// documents do not hold the hash; re-uploading after a failure starts over.
func (r *DocumentRepo) GetByHash(ctx context.Context, tenantID uuid.UUID, hash string) (*repository.Document, error) {
	query := `
		SELECT id, tenant_id, owner_id, title, filename, source_uri, content_hash, chunk_count, status, public, created_at, updated_at
		FROM documents
		WHERE tenant_id = $1 AND content_hash = $2 AND status <> 'failed'
	`
	return r.scanDocument(ctx, query, tenantID, hash)
}

func (r *DocumentRepo) scanDocument(ctx context.Context, query string, args ...any) (*repository.Document, error) {
	var doc repository.Document

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.TenantID, &doc.OwnerID, &doc.Title, &doc.Filename, &doc.SourceURI, &doc.ContentHash,
		&doc.ChunkCount, &doc.Status, &doc.Public, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// List retrieves documents for a tenant with pagination
func (r *DocumentRepo) List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*repository.Document, int, error) {
	countQuery := `SELECT COUNT(*) FROM documents WHERE tenant_id = $1`
	listQuery := `
		SELECT id, tenant_id, owner_id, title, filename, source_uri, content_hash, chunk_count, status, public, created_at, updated_at
		FROM documents
		WHERE tenant_id = $1
	`
	args := []any{tenantID}

	if status != "" {
		countQuery += ` AND status = $2`
		listQuery += ` AND status = $2`
		args = append(args, status)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.Pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		if err := rows.Scan(&doc.ID, &doc.TenantID, &doc.OwnerID, &doc.Title, &doc.Filename, &doc.SourceURI,
			&doc.ContentHash, &doc.ChunkCount, &doc.Status, &doc.Public,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}

	return docs, total, nil
}

// Update updates a document's mutable fields.
func (r *DocumentRepo) Update(ctx context.Context, doc *repository.Document) error {
	query := `
		UPDATE documents
		SET title = $2, chunk_count = $3, status = $4, public = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Title, doc.ChunkCount, doc.Status, doc.Public, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a document, scoped to the tenant. Chunks cascade via FK.
func (r *DocumentRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateChunks inserts chunks in one transaction.
func (r *DocumentRepo) CreateChunks(ctx context.Context, chunks []*repository.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO document_chunks (id, document_id, tenant_id, chunk_index, content, start_offset, end_offset, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			c.ID, c.DocumentID, c.TenantID, c.ChunkIndex, c.Content,
			c.StartOffset, c.EndOffset, metadataJSON, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit(ctx)
}

// GetChunks retrieves chunks for a document ordered by chunk index.
func (r *DocumentRepo) GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*repository.DocumentChunk, error) {
	query := `
		SELECT id, document_id, tenant_id, chunk_index, content, start_offset, end_offset, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*repository.DocumentChunk
	for rows.Next() {
		var c repository.DocumentChunk
		var metadataJSON []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.TenantID, &c.ChunkIndex, &c.Content,
			&c.StartOffset, &c.EndOffset, &metadataJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Metadata = make(map[string]string)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
			}
		}
		chunks = append(chunks, &c)
	}
	return chunks, nil
}

// CountChunks counts chunks for a document.
func (r *DocumentRepo) CountChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// DeleteChunks removes all chunks for a document.
func (r *DocumentRepo) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Ensure DocumentRepo implements repository.DocumentRepository
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
