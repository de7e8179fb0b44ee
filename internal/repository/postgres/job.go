package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/corterra/askd/internal/repository"
)

// JobRepo implements repository.JobRepository
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new job repository
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `id, tenant_id, kind, status, initiator, estimated_count, processed_count, error_message, created_at, started_at, completed_at`

// Create creates a new job record
func (r *JobRepo) Create(ctx context.Context, job *repository.JobRecord) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		job.ID, job.TenantID, job.Kind, job.Status, job.Initiator,
		job.EstimatedCount, job.ProcessedCount, job.ErrorMessage,
		job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job repository.JobRecord
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.TenantID, &job.Kind, &job.Status, &job.Initiator,
		&job.EstimatedCount, &job.ProcessedCount, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// List retrieves jobs for a tenant with optional status filter and pagination
func (r *JobRepo) List(ctx context.Context, tenantID uuid.UUID, status repository.JobStatus, limit, offset int) ([]*repository.JobRecord, int, error) {
	countQuery := `SELECT COUNT(*) FROM jobs WHERE tenant_id = $1`
	listQuery := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = $1`
	args := []any{tenantID}

	if status != "" {
		countQuery += ` AND status = $2`
		listQuery += ` AND status = $2`
		args = append(args, status)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.Pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListByStatus retrieves all jobs in any of the given statuses, oldest first.
// Used at startup for orphan recovery.
func (r *JobRepo) ListByStatus(ctx context.Context, statuses ...repository.JobStatus) ([]*repository.JobRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = s
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Update updates a job's status and progress fields.
func (r *JobRepo) Update(ctx context.Context, job *repository.JobRecord) error {
	query := `
		UPDATE jobs
		SET status = $2, estimated_count = $3, processed_count = $4, error_message = $5, started_at = $6, completed_at = $7
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		job.ID, job.Status, job.EstimatedCount, job.ProcessedCount,
		job.ErrorMessage, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanJobs(rows pgx.Rows) ([]*repository.JobRecord, error) {
	var jobs []*repository.JobRecord
	for rows.Next() {
		var job repository.JobRecord
		if err := rows.Scan(&job.ID, &job.TenantID, &job.Kind, &job.Status, &job.Initiator,
			&job.EstimatedCount, &job.ProcessedCount, &job.ErrorMessage,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Ensure JobRepo implements repository.JobRepository
var _ repository.JobRepository = (*JobRepo)(nil)
