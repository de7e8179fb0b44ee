package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/corterra/askd/internal/repository"
)

// EvaluationRepo implements repository.EvaluationRepository
type EvaluationRepo struct {
	db *DB
}

// NewEvaluationRepo creates a new evaluation repository
func NewEvaluationRepo(db *DB) *EvaluationRepo {
	return &EvaluationRepo{db: db}
}

// CreateRun records the start of a benchmark execution.
func (r *EvaluationRepo) CreateRun(ctx context.Context, run *repository.EvaluationRun) error {
	query := `
		INSERT INTO evaluation_runs (id, config_id, started_at, completed_at, metrics, samples)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		run.ID, run.ConfigID, run.StartedAt, run.CompletedAt, run.MetricsJSON, run.SamplesJSON)
	if err != nil {
		return fmt.Errorf("failed to create evaluation run: %w", err)
	}
	return nil
}

// UpdateRun stores the results of a finished run.
func (r *EvaluationRepo) UpdateRun(ctx context.Context, run *repository.EvaluationRun) error {
	query := `
		UPDATE evaluation_runs
		SET completed_at = $2, metrics = $3, samples = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, run.ID, run.CompletedAt, run.MetricsJSON, run.SamplesJSON)
	if err != nil {
		return fmt.Errorf("failed to update evaluation run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetRun retrieves an evaluation run by ID
func (r *EvaluationRepo) GetRun(ctx context.Context, id uuid.UUID) (*repository.EvaluationRun, error) {
	query := `
		SELECT id, config_id, started_at, completed_at, metrics, samples
		FROM evaluation_runs
		WHERE id = $1
	`
	var run repository.EvaluationRun
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.ConfigID, &run.StartedAt, &run.CompletedAt,
		&run.MetricsJSON, &run.SamplesJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get evaluation run: %w", err)
	}
	return &run, nil
}

// CreateGroundTruth inserts labeled samples in one transaction.
func (r *EvaluationRepo) CreateGroundTruth(ctx context.Context, entries []*repository.GroundTruthEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO ground_truth (id, dataset, query, expected_answer, answer_aliases, relevant_docs, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, e := range entries {
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal ground truth metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			e.ID, e.Dataset, e.Query, e.ExpectedAnswer,
			e.AnswerAliases, e.RelevantDocs, metadataJSON); err != nil {
			return fmt.Errorf("failed to insert ground truth entry: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListGroundTruth retrieves all samples of a dataset.
func (r *EvaluationRepo) ListGroundTruth(ctx context.Context, dataset string) ([]*repository.GroundTruthEntry, error) {
	query := `
		SELECT id, dataset, query, expected_answer, answer_aliases, relevant_docs, metadata
		FROM ground_truth
		WHERE dataset = $1
		ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ground truth: %w", err)
	}
	defer rows.Close()

	var entries []*repository.GroundTruthEntry
	for rows.Next() {
		var e repository.GroundTruthEntry
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.Dataset, &e.Query, &e.ExpectedAnswer,
			&e.AnswerAliases, &e.RelevantDocs, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan ground truth entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal ground truth metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Ensure EvaluationRepo implements repository.EvaluationRepository
var _ repository.EvaluationRepository = (*EvaluationRepo)(nil)
