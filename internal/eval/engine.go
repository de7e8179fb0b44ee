package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/service"
)

// Asker is the slice of the query service the engine drives.
type Asker interface {
	Ask(ctx context.Context, tenant auth.Tenant, query string, opts service.AskOptions) (*service.Answer, error)
}

// RunConfig fixes the pipeline configuration for one benchmark run.
type RunConfig struct {
	ConfigID string
	Dataset  string
	Tenant   auth.Tenant
	TopK     int
	Strategy string
	Template string
	// Limit caps the number of samples; 0 runs the whole dataset.
	Limit int
}

// Sample is the captured outcome for one ground-truth entry.
type Sample struct {
	Query      string  `json:"query"`
	Expected   string  `json:"expected"`
	Answer     string  `json:"answer"`
	ExactMatch bool    `json:"exact_match"`
	F1         float64 `json:"f1"`
	BLEU4      float64 `json:"bleu4"`
	ROUGEL     float64 `json:"rouge_l"`
	ROUGE1     float64 `json:"rouge_1"`
	P10        float64 `json:"p_at_10"`
	R10        float64 `json:"r_at_10"`
	MRR        float64 `json:"mrr"`
	LatencyMS  float64 `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

// Report aggregates a run.
type Report struct {
	ConfigID    string             `json:"config_id"`
	Dataset     string             `json:"dataset"`
	Samples     []Sample           `json:"samples"`
	Means       map[string]float64 `json:"means"`
	P50         float64            `json:"p50_ms"`
	P95         float64            `json:"p95_ms"`
	P99         float64            `json:"p99_ms"`
	HasLatency  bool               `json:"has_latency"`
	Composite   float64            `json:"composite"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// MetricNames are the per-sample metrics available for A/B comparison.
var MetricNames = []string{"exact_match", "f1", "bleu4", "rouge_l", "rouge_1", "p_at_10", "r_at_10", "mrr"}

// MetricValues extracts one metric's per-sample series from a report.
// Samples that errored contribute 0 so pairing by index stays aligned.
func (r *Report) MetricValues(metric string) []float64 {
	out := make([]float64, len(r.Samples))
	for i, s := range r.Samples {
		switch metric {
		case "exact_match":
			if s.ExactMatch {
				out[i] = 1
			}
		case "f1":
			out[i] = s.F1
		case "bleu4":
			out[i] = s.BLEU4
		case "rouge_l":
			out[i] = s.ROUGEL
		case "rouge_1":
			out[i] = s.ROUGE1
		case "p_at_10":
			out[i] = s.P10
		case "r_at_10":
			out[i] = s.R10
		case "mrr":
			out[i] = s.MRR
		}
	}
	return out
}

// Engine drives labeled samples through the query pipeline and scores them.
type Engine struct {
	asker  Asker
	repo   repository.EvaluationRepository
	logger *slog.Logger
}

// NewEngine creates an Engine. repo may be nil to skip persistence.
func NewEngine(asker Asker, repo repository.EvaluationRepository, logger *slog.Logger) *Engine {
	return &Engine{asker: asker, repo: repo, logger: logger}
}

// Run executes the benchmark. progress, when non-nil, is called after each
// sample with the processed count.
func (e *Engine) Run(ctx context.Context, cfg RunConfig, progress func(int)) (*Report, error) {
	entries, err := e.repo.ListGroundTruth(ctx, cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("loading dataset %q: %w", cfg.Dataset, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("dataset %q is empty", cfg.Dataset)
	}
	if cfg.Limit > 0 && len(entries) > cfg.Limit {
		entries = entries[:cfg.Limit]
	}

	report := &Report{
		ConfigID:  cfg.ConfigID,
		Dataset:   cfg.Dataset,
		StartedAt: time.Now().UTC(),
	}

	run := &repository.EvaluationRun{
		ID:        uuid.New(),
		ConfigID:  cfg.ConfigID,
		StartedAt: report.StartedAt,
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.Samples = append(report.Samples, e.runSample(ctx, cfg, entry))
		if progress != nil {
			progress(i + 1)
		}
	}

	e.aggregate(report)
	report.CompletedAt = time.Now().UTC()

	if err := e.persist(ctx, run, report); err != nil {
		e.logger.Warn("evaluation results not persisted", "run_id", run.ID, "error", err)
	}
	return report, nil
}

func (e *Engine) runSample(ctx context.Context, cfg RunConfig, entry *repository.GroundTruthEntry) Sample {
	sample := Sample{Query: entry.Query, Expected: entry.ExpectedAnswer}

	ans, err := e.asker.Ask(ctx, cfg.Tenant, entry.Query, service.AskOptions{
		TopK:         cfg.TopK,
		Strategy:     cfg.Strategy,
		TemplateName: cfg.Template,
	})
	if err != nil {
		sample.Error = err.Error()
		return sample
	}

	sample.Answer = ans.Text
	sample.LatencyMS = float64(ans.LatencyMS)

	retrievedDocs := make([]string, 0, len(ans.Retrieved))
	for _, r := range ans.Retrieved {
		retrievedDocs = append(retrievedDocs, r.DocumentID)
	}
	relevant := make([]string, 0, len(entry.RelevantDocs))
	for _, id := range entry.RelevantDocs {
		relevant = append(relevant, id.String())
	}

	sample.P10 = PrecisionAtK(retrievedDocs, relevant, 10)
	sample.R10 = RecallAtK(retrievedDocs, relevant, 10)
	sample.MRR = MRR(retrievedDocs, relevant)
	sample.ExactMatch = ExactMatch(ans.Text, entry.ExpectedAnswer, entry.AnswerAliases)
	sample.F1 = TokenF1(ans.Text, entry.ExpectedAnswer)
	sample.BLEU4 = BLEU4(ans.Text, entry.ExpectedAnswer)
	sample.ROUGEL = ROUGEL(ans.Text, entry.ExpectedAnswer)
	sample.ROUGE1 = ROUGE1(ans.Text, entry.ExpectedAnswer)
	return sample
}

func (e *Engine) aggregate(report *Report) {
	report.Means = make(map[string]float64, len(MetricNames))
	for _, m := range MetricNames {
		values := report.MetricValues(m)
		var sum float64
		for _, v := range values {
			sum += v
		}
		if len(values) > 0 {
			report.Means[m] = sum / float64(len(values))
		}
	}

	var latencies []float64
	for _, s := range report.Samples {
		if s.Error == "" && s.LatencyMS > 0 {
			latencies = append(latencies, s.LatencyMS)
		}
	}
	report.HasLatency = len(latencies) > 0
	if report.HasLatency {
		report.P50 = Percentile(latencies, 50)
		report.P95 = Percentile(latencies, 95)
		report.P99 = Percentile(latencies, 99)
	}

	report.Composite = Composite(
		report.Means["p_at_10"], report.Means["r_at_10"], report.Means["mrr"],
		report.Means["f1"], report.P95, report.HasLatency)
}

func (e *Engine) persist(ctx context.Context, run *repository.EvaluationRun, report *Report) error {
	metrics, err := json.Marshal(struct {
		Means      map[string]float64 `json:"means"`
		P50        float64            `json:"p50_ms"`
		P95        float64            `json:"p95_ms"`
		P99        float64            `json:"p99_ms"`
		Composite  float64            `json:"composite"`
		HasLatency bool               `json:"has_latency"`
	}{report.Means, report.P50, report.P95, report.P99, report.Composite, report.HasLatency})
	if err != nil {
		return err
	}
	samples, err := json.Marshal(report.Samples)
	if err != nil {
		return err
	}
	run.MetricsJSON = metrics
	run.SamplesJSON = samples
	run.CompletedAt = &report.CompletedAt
	return e.repo.UpdateRun(ctx, run)
}

// Comparison is one metric's A/B outcome between two variants.
type Comparison struct {
	Metric      string  `json:"metric"`
	MeanA       float64 `json:"mean_a"`
	MeanB       float64 `json:"mean_b"`
	T           float64 `json:"t"`
	P           float64 `json:"p"`
	PAdjusted   float64 `json:"p_adjusted"`
	CohenD      float64 `json:"cohen_d"`
	Significant bool    `json:"significant"`
}

// Compare runs paired t-tests per metric between two runs of the same
// dataset. comparisons is the Bonferroni divisor; pass the total pair count
// m*(m-1)/2 when more than two variants are in play.
func Compare(a, b *Report, comparisons int) []Comparison {
	out := make([]Comparison, 0, len(MetricNames))
	for _, m := range MetricNames {
		va, vb := a.MetricValues(m), b.MetricValues(m)
		res := PairedTTest(va, vb)
		padj := Bonferroni(res.P, comparisons)
		out = append(out, Comparison{
			Metric:      m,
			MeanA:       mean(va),
			MeanB:       mean(vb),
			T:           res.T,
			P:           res.P,
			PAdjusted:   padj,
			CohenD:      res.CohenD,
			Significant: padj < 0.05,
		})
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
