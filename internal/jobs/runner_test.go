package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/repository"
)

// memJobRepo is an in-memory JobRepository for runner tests.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]repository.JobRecord
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uuid.UUID]repository.JobRecord)}
}

func (m *memJobRepo) Create(ctx context.Context, job *repository.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := job
	return &out, nil
}

func (m *memJobRepo) List(ctx context.Context, tenantID uuid.UUID, status repository.JobStatus, limit, offset int) ([]*repository.JobRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.JobRecord
	for _, job := range m.jobs {
		if job.TenantID != tenantID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		j := job
		out = append(out, &j)
	}
	return out, len(out), nil
}

func (m *memJobRepo) ListByStatus(ctx context.Context, statuses ...repository.JobStatus) ([]*repository.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.JobRecord
	for _, job := range m.jobs {
		for _, s := range statuses {
			if job.Status == s {
				j := job
				out = append(out, &j)
				break
			}
		}
	}
	return out, nil
}

func (m *memJobRepo) Update(ctx context.Context, job *repository.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return repository.ErrNotFound
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobRepo) status(id uuid.UUID) repository.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitStatus(t *testing.T, repo *memJobRepo, id uuid.UUID, want repository.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return repo.status(id) == want
	}, 2*time.Second, 5*time.Millisecond, "job never reached %s", want)
}

func startRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSubmit_UnknownKind(t *testing.T) {
	r := NewRunner(newMemJobRepo(), testLogger())

	_, err := r.Submit(context.Background(), uuid.New(), "no_such_kind", "admin", 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestRunner_CompletesJob(t *testing.T) {
	repo := newMemJobRepo()
	r := NewRunner(repo, testLogger())
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		progress(3)
		return nil
	})
	startRunner(t, r)

	job, err := r.Submit(context.Background(), uuid.New(), "work", "admin", 3)
	require.NoError(t, err)
	assert.Equal(t, repository.JobQueued, job.Status)

	waitStatus(t, repo, job.ID, repository.JobCompleted)

	got, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ProcessedCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorMessage)
}

func TestRunner_FailedJobKeepsMessage(t *testing.T) {
	repo := newMemJobRepo()
	r := NewRunner(repo, testLogger())
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		return errors.New("backend exploded")
	})
	startRunner(t, r)

	job, err := r.Submit(context.Background(), uuid.New(), "work", "admin", 0)
	require.NoError(t, err)

	waitStatus(t, repo, job.ID, repository.JobFailed)

	got, _ := repo.GetByID(context.Background(), job.ID)
	assert.Equal(t, "backend exploded", got.ErrorMessage)
}

func TestRunner_CancelRunningJob(t *testing.T) {
	repo := newMemJobRepo()
	r := NewRunner(repo, testLogger())

	started := make(chan struct{})
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	startRunner(t, r)

	job, err := r.Submit(context.Background(), uuid.New(), "work", "admin", 0)
	require.NoError(t, err)

	<-started
	require.NoError(t, r.Cancel(context.Background(), job.ID))
	waitStatus(t, repo, job.ID, repository.JobCancelled)
}

func TestRunner_CancelQueuedJob(t *testing.T) {
	repo := newMemJobRepo()
	r := NewRunner(repo, testLogger())
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		return nil
	})
	// Runner deliberately not started: the job stays queued.

	job, err := r.Submit(context.Background(), uuid.New(), "work", "admin", 0)
	require.NoError(t, err)

	require.NoError(t, r.Cancel(context.Background(), job.ID))
	assert.Equal(t, repository.JobCancelled, repo.status(job.ID))

	// A cancelled-while-queued job is skipped once the consumer starts.
	startRunner(t, r)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, repository.JobCancelled, repo.status(job.ID))
}

func TestRunner_CancelFinishedJobRejected(t *testing.T) {
	repo := newMemJobRepo()
	r := NewRunner(repo, testLogger())
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		return nil
	})
	startRunner(t, r)

	job, err := r.Submit(context.Background(), uuid.New(), "work", "admin", 0)
	require.NoError(t, err)
	waitStatus(t, repo, job.ID, repository.JobCompleted)

	err = r.Cancel(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestRunner_CancelUnknownJob(t *testing.T) {
	r := NewRunner(newMemJobRepo(), testLogger())
	err := r.Cancel(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRunner_RecoverOrphansAndRequeues(t *testing.T) {
	repo := newMemJobRepo()
	now := time.Now().UTC()

	orphan := &repository.JobRecord{
		ID: uuid.New(), TenantID: uuid.New(), Kind: "work",
		Status: repository.JobRunning, CreatedAt: now, StartedAt: &now,
	}
	queued := &repository.JobRecord{
		ID: uuid.New(), TenantID: uuid.New(), Kind: "work",
		Status: repository.JobQueued, CreatedAt: now,
	}
	require.NoError(t, repo.Create(context.Background(), orphan))
	require.NoError(t, repo.Create(context.Background(), queued))

	r := NewRunner(repo, testLogger())
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		return nil
	})
	require.NoError(t, r.Recover(context.Background()))

	got, _ := repo.GetByID(context.Background(), orphan.ID)
	assert.Equal(t, repository.JobFailed, got.Status)
	assert.Equal(t, "orphaned", got.ErrorMessage)

	// The queued survivor runs once the consumer starts.
	startRunner(t, r)
	waitStatus(t, repo, queued.ID, repository.JobCompleted)
}

func TestRunner_GetEnforcesTenantOwnership(t *testing.T) {
	repo := newMemJobRepo()
	r := NewRunner(repo, testLogger())
	r.Register("work", func(ctx context.Context, job *repository.JobRecord, progress func(int)) error {
		return nil
	})

	tenant := uuid.New()
	job, err := r.Submit(context.Background(), tenant, "work", "admin", 0)
	require.NoError(t, err)

	got, err := r.Get(context.Background(), tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// Another tenant sees not-found, not forbidden, to avoid leaking ids.
	_, err = r.Get(context.Background(), uuid.New(), job.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestValidNext(t *testing.T) {
	tests := []struct {
		from, to repository.JobStatus
		ok       bool
	}{
		{repository.JobQueued, repository.JobRunning, true},
		{repository.JobQueued, repository.JobCancelled, true},
		{repository.JobQueued, repository.JobCompleted, false},
		{repository.JobRunning, repository.JobCompleted, true},
		{repository.JobRunning, repository.JobFailed, true},
		{repository.JobRunning, repository.JobCancelled, true},
		{repository.JobCompleted, repository.JobRunning, false},
		{repository.JobCancelled, repository.JobCompleted, false},
		{repository.JobFailed, repository.JobQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, validNext(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
