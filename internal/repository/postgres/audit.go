package postgres

import (
	"context"
	"fmt"

	"github.com/corterra/askd/internal/repository"
)

// AuditRepo implements repository.AuditRepository
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new audit repository
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Create records one ask operation.
func (r *AuditRepo) Create(ctx context.Context, entry *repository.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, tenant_id, query, strategy, template, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID, entry.TenantID, entry.Query, entry.Strategy,
		entry.Template, entry.LatencyMS, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// Ensure AuditRepo implements repository.AuditRepository
var _ repository.AuditRepository = (*AuditRepo)(nil)
