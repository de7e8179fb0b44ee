// Package jobs runs background work (index rebuilds, benchmarks) on a single
// consumer with persisted job records, admin cancellation and crash recovery.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/repository"
)

// Handler executes one job. progress reports the processed count at
// checkpoints; readers of the job record tolerate stale counts.
type Handler func(ctx context.Context, job *repository.JobRecord, progress func(processed int)) error

// Runner owns the job queue. Submissions never block: the queue is an
// in-memory slice drained by one consumer goroutine.
type Runner struct {
	repo     repository.JobRepository
	handlers map[repository.JobKind]Handler
	logger   *slog.Logger

	mu    sync.Mutex
	queue []uuid.UUID
	wake  chan struct{}

	// cancels maps running job ids to their cancellation handles.
	cancels sync.Map
}

// NewRunner creates a Runner.
func NewRunner(repo repository.JobRepository, logger *slog.Logger) *Runner {
	return &Runner{
		repo:     repo,
		handlers: make(map[repository.JobKind]Handler),
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Register installs the handler for a job kind. Must happen before Run.
func (r *Runner) Register(kind repository.JobKind, h Handler) {
	r.handlers[kind] = h
}

// Submit persists a queued job and enqueues it.
func (r *Runner) Submit(ctx context.Context, tenantID uuid.UUID, kind repository.JobKind, initiator string, estimated int) (*repository.JobRecord, error) {
	if _, ok := r.handlers[kind]; !ok {
		return nil, apperr.Newf(apperr.InvalidInput, "unknown job kind %q", kind)
	}

	job := &repository.JobRecord{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Kind:           kind,
		Status:         repository.JobQueued,
		Initiator:      initiator,
		EstimatedCount: estimated,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.repo.Create(ctx, job); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "persisting job", err)
	}

	r.enqueue(job.ID)
	r.logger.Info("job submitted", "job_id", job.ID, "kind", kind, "tenant_id", tenantID)
	return job, nil
}

func (r *Runner) enqueue(id uuid.UUID) {
	r.mu.Lock()
	r.queue = append(r.queue, id)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) dequeue() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return uuid.Nil, false
	}
	id := r.queue[0]
	r.queue = r.queue[1:]
	return id, true
}

// Get returns a job owned by the tenant.
func (r *Runner) Get(ctx context.Context, tenantID, id uuid.UUID) (*repository.JobRecord, error) {
	job, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "job not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "loading job", err)
	}
	if job.TenantID != tenantID {
		return nil, apperr.New(apperr.NotFound, "job not found")
	}
	return job, nil
}

// List returns the tenant's jobs with optional status filter.
func (r *Runner) List(ctx context.Context, tenantID uuid.UUID, status repository.JobStatus, limit, offset int) ([]*repository.JobRecord, int, error) {
	jobs, total, err := r.repo.List(ctx, tenantID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "listing jobs", err)
	}
	return jobs, total, nil
}

// Cancel signals a running job or marks a queued one cancelled. Transitions
// stay forward-only: finished jobs are left untouched.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) error {
	if handle, ok := r.cancels.Load(id); ok {
		handle.(context.CancelFunc)()
		return nil
	}

	job, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.NotFound, "job not found")
		}
		return apperr.Wrap(apperr.Internal, "loading job", err)
	}
	if job.Status != repository.JobQueued {
		return apperr.Newf(apperr.InvalidInput, "job is %s, not cancellable", job.Status)
	}
	return r.transition(ctx, job, repository.JobCancelled, "cancelled before start")
}

// Recover handles jobs left over from a previous process: anything persisted
// as Running has no live handle and is failed as orphaned; Queued jobs are
// re-enqueued. Call once before Run.
func (r *Runner) Recover(ctx context.Context) error {
	stale, err := r.repo.ListByStatus(ctx, repository.JobQueued, repository.JobRunning)
	if err != nil {
		return fmt.Errorf("listing recoverable jobs: %w", err)
	}
	for _, job := range stale {
		switch job.Status {
		case repository.JobRunning:
			if _, live := r.cancels.Load(job.ID); live {
				continue
			}
			if err := r.transition(ctx, job, repository.JobFailed, "orphaned"); err != nil {
				return err
			}
			r.logger.Warn("orphaned job failed", "job_id", job.ID, "kind", job.Kind)
		case repository.JobQueued:
			r.enqueue(job.ID)
		}
	}
	return nil
}

// Run drains the queue until ctx is cancelled. Single consumer; jobs execute
// one at a time.
func (r *Runner) Run(ctx context.Context) error {
	for {
		id, ok := r.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.wake:
				continue
			}
		}
		r.execute(ctx, id)
	}
}

func (r *Runner) execute(ctx context.Context, id uuid.UUID) {
	job, err := r.repo.GetByID(ctx, id)
	if err != nil {
		r.logger.Error("job vanished from queue", "job_id", id, "error", err)
		return
	}
	if job.Status != repository.JobQueued {
		// Cancelled while waiting.
		return
	}

	handler, ok := r.handlers[job.Kind]
	if !ok {
		_ = r.transition(ctx, job, repository.JobFailed, fmt.Sprintf("no handler for kind %q", job.Kind))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	r.cancels.Store(job.ID, cancel)
	defer func() {
		cancel()
		r.cancels.Delete(job.ID)
	}()

	if err := r.transition(ctx, job, repository.JobRunning, ""); err != nil {
		r.logger.Error("job start not recorded", "job_id", job.ID, "error", err)
		return
	}
	r.logger.Info("job started", "job_id", job.ID, "kind", job.Kind)

	progress := func(processed int) {
		job.ProcessedCount = processed
		if err := r.repo.Update(ctx, job); err != nil {
			r.logger.Warn("job progress not recorded", "job_id", job.ID, "error", err)
		}
	}

	err = handler(jobCtx, job, progress)
	switch {
	case err == nil:
		_ = r.transition(ctx, job, repository.JobCompleted, "")
		r.logger.Info("job completed", "job_id", job.ID, "processed", job.ProcessedCount)
	case errors.Is(err, context.Canceled) && jobCtx.Err() != nil && ctx.Err() == nil:
		_ = r.transition(ctx, job, repository.JobCancelled, "cancelled")
		r.logger.Info("job cancelled", "job_id", job.ID)
	default:
		_ = r.transition(ctx, job, repository.JobFailed, err.Error())
		r.logger.Error("job failed", "job_id", job.ID, "error", err)
	}
}

// validNext encodes the forward-only status machine.
func validNext(from, to repository.JobStatus) bool {
	switch from {
	case repository.JobQueued:
		return to == repository.JobRunning || to == repository.JobCancelled || to == repository.JobFailed
	case repository.JobRunning:
		return to == repository.JobCompleted || to == repository.JobFailed || to == repository.JobCancelled
	default:
		return false
	}
}

func (r *Runner) transition(ctx context.Context, job *repository.JobRecord, to repository.JobStatus, msg string) error {
	if !validNext(job.Status, to) {
		return apperr.Newf(apperr.Internal, "invalid job transition %s -> %s", job.Status, to)
	}
	now := time.Now().UTC()
	job.Status = to
	job.ErrorMessage = msg
	switch to {
	case repository.JobRunning:
		job.StartedAt = &now
	case repository.JobCompleted, repository.JobFailed, repository.JobCancelled:
		job.CompletedAt = &now
	}
	if err := r.repo.Update(ctx, job); err != nil {
		return apperr.Wrap(apperr.Internal, "recording job transition", err)
	}
	return nil
}
