package eval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/service"
)

// memEvalRepo is an in-memory EvaluationRepository.
type memEvalRepo struct {
	mu      sync.Mutex
	entries map[string][]*repository.GroundTruthEntry
	runs    map[uuid.UUID]repository.EvaluationRun
}

func newMemEvalRepo() *memEvalRepo {
	return &memEvalRepo{
		entries: make(map[string][]*repository.GroundTruthEntry),
		runs:    make(map[uuid.UUID]repository.EvaluationRun),
	}
}

func (m *memEvalRepo) CreateRun(ctx context.Context, run *repository.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memEvalRepo) UpdateRun(ctx context.Context, run *repository.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return repository.ErrNotFound
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memEvalRepo) GetRun(ctx context.Context, id uuid.UUID) (*repository.EvaluationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := run
	return &out, nil
}

func (m *memEvalRepo) CreateGroundTruth(ctx context.Context, entries []*repository.GroundTruthEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.Dataset] = append(m.entries[e.Dataset], e)
	}
	return nil
}

func (m *memEvalRepo) ListGroundTruth(ctx context.Context, dataset string) ([]*repository.GroundTruthEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[dataset], nil
}

// scriptedAsker returns a canned answer per query.
type scriptedAsker struct {
	answers map[string]*service.Answer
	err     error
}

func (a *scriptedAsker) Ask(ctx context.Context, tenant auth.Tenant, query string, opts service.AskOptions) (*service.Answer, error) {
	if a.err != nil {
		return nil, a.err
	}
	ans, ok := a.answers[query]
	if !ok {
		return &service.Answer{Text: "unknown"}, nil
	}
	return ans, nil
}

func evalLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedDataset(t *testing.T, repo *memEvalRepo, dataset string, docA, docB uuid.UUID) {
	t.Helper()
	require.NoError(t, repo.CreateGroundTruth(context.Background(), []*repository.GroundTruthEntry{
		{
			ID: uuid.New(), Dataset: dataset,
			Query:          "q1",
			ExpectedAnswer: "two bar",
			AnswerAliases:  []string{"2 bar"},
			RelevantDocs:   []uuid.UUID{docA},
		},
		{
			ID: uuid.New(), Dataset: dataset,
			Query:          "q2",
			ExpectedAnswer: "every second tuesday",
			RelevantDocs:   []uuid.UUID{docB},
		},
	}))
}

func TestEngineRun_ScoresAndPersists(t *testing.T) {
	repo := newMemEvalRepo()
	docA, docB := uuid.New(), uuid.New()
	seedDataset(t, repo, "bench", docA, docB)

	asker := &scriptedAsker{answers: map[string]*service.Answer{
		"q1": {
			Text:      "two bar",
			Retrieved: []service.Source{{DocumentID: docA.String()}},
			LatencyMS: 120,
		},
		"q2": {
			Text:      "on fridays",
			Retrieved: []service.Source{{DocumentID: uuid.NewString()}},
			LatencyMS: 80,
		},
	}}
	engine := NewEngine(asker, repo, evalLogger())

	var progressCalls []int
	report, err := engine.Run(context.Background(), RunConfig{
		ConfigID: "baseline",
		Dataset:  "bench",
		Tenant:   auth.Tenant{ID: uuid.New()},
	}, func(n int) { progressCalls = append(progressCalls, n) })
	require.NoError(t, err)

	require.Len(t, report.Samples, 2)
	assert.Equal(t, []int{1, 2}, progressCalls)

	// q1 is a perfect hit, q2 a complete miss.
	assert.True(t, report.Samples[0].ExactMatch)
	assert.InDelta(t, 1.0, report.Samples[0].MRR, 1e-9)
	assert.False(t, report.Samples[1].ExactMatch)
	assert.Zero(t, report.Samples[1].MRR)

	assert.InDelta(t, 0.5, report.Means["exact_match"], 1e-9)
	assert.InDelta(t, 0.5, report.Means["mrr"], 1e-9)
	assert.True(t, report.HasLatency)
	assert.InDelta(t, 120, report.P95, 1e-9)

	// The run record carries the serialized report.
	var persisted *repository.EvaluationRun
	for id := range repo.runs {
		persisted, _ = repo.GetRun(context.Background(), id)
	}
	require.NotNil(t, persisted)
	assert.NotNil(t, persisted.CompletedAt)
	assert.NotEmpty(t, persisted.MetricsJSON)
	assert.NotEmpty(t, persisted.SamplesJSON)
}

func TestEngineRun_AliasCountsAsExactMatch(t *testing.T) {
	repo := newMemEvalRepo()
	docA, docB := uuid.New(), uuid.New()
	seedDataset(t, repo, "bench", docA, docB)

	asker := &scriptedAsker{answers: map[string]*service.Answer{
		"q1": {Text: "2 BAR"},
		"q2": {Text: "Every  Second Tuesday"},
	}}
	engine := NewEngine(asker, repo, evalLogger())

	report, err := engine.Run(context.Background(), RunConfig{Dataset: "bench"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Means["exact_match"], 1e-9)
}

func TestEngineRun_ErroredSampleContributesZero(t *testing.T) {
	repo := newMemEvalRepo()
	seedDataset(t, repo, "bench", uuid.New(), uuid.New())

	engine := NewEngine(&scriptedAsker{err: errors.New("provider down")}, repo, evalLogger())

	report, err := engine.Run(context.Background(), RunConfig{Dataset: "bench"}, nil)
	require.NoError(t, err)
	require.Len(t, report.Samples, 2)
	assert.NotEmpty(t, report.Samples[0].Error)
	assert.Zero(t, report.Means["f1"])
	assert.False(t, report.HasLatency)
	// Without latency the composite carries no penalty term.
	assert.Zero(t, report.Composite)
}

func TestEngineRun_EmptyDataset(t *testing.T) {
	engine := NewEngine(&scriptedAsker{}, newMemEvalRepo(), evalLogger())
	_, err := engine.Run(context.Background(), RunConfig{Dataset: "nope"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestEngineRun_LimitCapsSamples(t *testing.T) {
	repo := newMemEvalRepo()
	seedDataset(t, repo, "bench", uuid.New(), uuid.New())

	asker := &scriptedAsker{answers: map[string]*service.Answer{}}
	engine := NewEngine(asker, repo, evalLogger())

	report, err := engine.Run(context.Background(), RunConfig{Dataset: "bench", Limit: 1}, nil)
	require.NoError(t, err)
	assert.Len(t, report.Samples, 1)
}

func TestCompare(t *testing.T) {
	mk := func(f1s []float64) *Report {
		r := &Report{}
		for _, f := range f1s {
			r.Samples = append(r.Samples, Sample{F1: f})
		}
		return r
	}
	a := mk([]float64{0.9, 0.8, 0.95, 0.85, 0.9, 0.88, 0.92, 0.87, 0.91, 0.89})
	b := mk([]float64{0.5, 0.4, 0.55, 0.45, 0.5, 0.48, 0.52, 0.47, 0.51, 0.49})

	comparisons := Compare(a, b, 1)
	require.Len(t, comparisons, len(MetricNames))

	var f1 Comparison
	for _, c := range comparisons {
		if c.Metric == "f1" {
			f1 = c
		}
	}
	assert.InDelta(t, 0.887, f1.MeanA, 1e-3)
	assert.InDelta(t, 0.487, f1.MeanB, 1e-3)
	assert.True(t, f1.Significant)
	assert.Greater(t, f1.CohenD, 1.0)

	// Metrics with no signal on either side stay insignificant.
	for _, c := range comparisons {
		if c.Metric == "mrr" {
			assert.False(t, c.Significant)
			assert.InDelta(t, 1.0, c.P, 1e-9)
		}
	}
}
