package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ExportCSV writes one row per metric, with latency percentile columns when
// includePercentiles is set.
func ExportCSV(w io.Writer, report *Report, includePercentiles bool) error {
	cw := csv.NewWriter(w)

	header := []string{"metric", "mean"}
	if includePercentiles {
		header = append(header, "p50_ms", "p95_ms", "p99_ms")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	metrics := make([]string, 0, len(report.Means))
	for m := range report.Means {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	for _, m := range metrics {
		row := []string{m, formatFloat(report.Means[m])}
		if includePercentiles {
			row = append(row, formatFloat(report.P50), formatFloat(report.P95), formatFloat(report.P99))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	row := []string{"composite", formatFloat(report.Composite)}
	if includePercentiles {
		row = append(row, "", "", "")
	}
	if err := cw.Write(row); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// ExportJSON writes the report, optionally pretty-printed and optionally
// including the per-query sample breakdown.
func ExportJSON(w io.Writer, report *Report, pretty, includeSamples bool) error {
	out := *report
	if !includeSamples {
		out.Samples = nil
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(&out)
}

var markdownGroups = []struct {
	title   string
	metrics []string
}{
	{"Retrieval", []string{"p_at_10", "r_at_10", "mrr"}},
	{"Generation", []string{"exact_match", "f1", "bleu4", "rouge_l", "rouge_1"}},
}

// ExportMarkdown writes a grouped summary table. When comparisons is
// non-nil, each metric row is annotated with its significance stars.
func ExportMarkdown(w io.Writer, report *Report, comparisons []Comparison) error {
	stars := make(map[string]string, len(comparisons))
	for _, c := range comparisons {
		stars[c.Metric] = SignificanceStars(c.PAdjusted)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Evaluation: %s\n\n", report.ConfigID)
	fmt.Fprintf(&b, "Dataset: %s, samples: %d\n\n", report.Dataset, len(report.Samples))

	for _, group := range markdownGroups {
		fmt.Fprintf(&b, "## %s\n\n", group.title)
		b.WriteString("| Metric | Value |\n|---|---|\n")
		for _, m := range group.metrics {
			name := m
			if s := stars[m]; s != "" {
				name += " " + s
			}
			fmt.Fprintf(&b, "| %s | %s |\n", name, formatFloat(report.Means[m]))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Performance\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	if report.HasLatency {
		fmt.Fprintf(&b, "| p50_ms | %s |\n", formatFloat(report.P50))
		fmt.Fprintf(&b, "| p95_ms | %s |\n", formatFloat(report.P95))
		fmt.Fprintf(&b, "| p99_ms | %s |\n", formatFloat(report.P99))
	} else {
		b.WriteString("| latency | unavailable (composite penalty treated as 0) |\n")
	}
	fmt.Fprintf(&b, "| composite | %s |\n", formatFloat(report.Composite))

	_, err := io.WriteString(w, b.String())
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
