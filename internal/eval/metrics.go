// Package eval benchmarks the query pipeline against ground-truth datasets:
// retrieval and generation metrics, latency percentiles and A/B statistics.
package eval

import (
	"math"
	"sort"
	"strings"
)

// PrecisionAtK is the fraction of the top-k retrieved documents that are
// relevant.
func PrecisionAtK(retrieved, relevant []string, k int) float64 {
	if k <= 0 || len(retrieved) == 0 {
		return 0
	}
	if k > len(retrieved) {
		k = len(retrieved)
	}
	rel := toSet(relevant)
	hits := 0
	for _, id := range retrieved[:k] {
		if _, ok := rel[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// RecallAtK is the fraction of relevant documents present in the top k.
func RecallAtK(retrieved, relevant []string, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	if k > len(retrieved) {
		k = len(retrieved)
	}
	rel := toSet(relevant)
	found := make(map[string]bool)
	for _, id := range retrieved[:k] {
		if _, ok := rel[id]; ok {
			found[id] = true
		}
	}
	return float64(len(found)) / float64(len(rel))
}

// MRR is the reciprocal rank of the first relevant document, 0 when none.
func MRR(retrieved, relevant []string) float64 {
	rel := toSet(relevant)
	for i, id := range retrieved {
		if _, ok := rel[id]; ok {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// normalizeAnswer lowercases and collapses whitespace.
func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ExactMatch reports whether answer equals the expected answer or any alias,
// case-insensitively with collapsed whitespace.
func ExactMatch(answer, expected string, aliases []string) bool {
	got := normalizeAnswer(answer)
	if got == normalizeAnswer(expected) {
		return true
	}
	for _, a := range aliases {
		if got == normalizeAnswer(a) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.Fields(normalizeAnswer(s))
}

func tokenCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

// TokenF1 is the harmonic mean of token precision and recall over token
// multisets. Symmetric in its arguments.
func TokenF1(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	ca, cb := tokenCounts(ta), tokenCounts(tb)
	overlap := 0
	for t, n := range ca {
		if m, ok := cb[t]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	if overlap == 0 {
		return 0
	}
	p := float64(overlap) / float64(len(ta))
	r := float64(overlap) / float64(len(tb))
	return 2 * p * r / (p + r)
}

// BLEU4 computes sentence BLEU with uniform 1..4-gram weights and brevity
// penalty, candidate against a single reference.
func BLEU4(candidate, reference string) float64 {
	cand, ref := tokenize(candidate), tokenize(reference)
	if len(cand) == 0 || len(ref) == 0 {
		return 0
	}

	logSum := 0.0
	for n := 1; n <= 4; n++ {
		p := modifiedPrecision(cand, ref, n)
		if p == 0 {
			// Standard smoothing: a zero n-gram precision zeroes the score.
			return 0
		}
		logSum += math.Log(p) / 4
	}

	bp := 1.0
	if len(cand) < len(ref) {
		bp = math.Exp(1 - float64(len(ref))/float64(len(cand)))
	}
	return bp * math.Exp(logSum)
}

func modifiedPrecision(cand, ref []string, n int) float64 {
	if len(cand) < n {
		return 0
	}
	candGrams := ngramCounts(cand, n)
	refGrams := ngramCounts(ref, n)
	clipped, total := 0, 0
	for g, c := range candGrams {
		total += c
		if rc, ok := refGrams[g]; ok {
			if rc < c {
				clipped += rc
			} else {
				clipped += c
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(clipped) / float64(total)
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}

// ROUGE1 is the unigram recall-oriented F1 of candidate against reference.
func ROUGE1(candidate, reference string) float64 {
	return TokenF1(candidate, reference)
}

// ROUGEL is the LCS-based F1 of candidate against reference.
func ROUGEL(candidate, reference string) float64 {
	cand, ref := tokenize(candidate), tokenize(reference)
	if len(cand) == 0 || len(ref) == 0 {
		return 0
	}
	lcs := lcsLength(cand, ref)
	if lcs == 0 {
		return 0
	}
	p := float64(lcs) / float64(len(cand))
	r := float64(lcs) / float64(len(ref))
	return 2 * p * r / (p + r)
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Percentile computes the nearest-rank percentile (p in [0,100]) of values.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Composite blends retrieval, generation and latency into one score:
// 0.15*P@10 + 0.15*R@10 + 0.2*MRR + 0.4*F1 - 0.1*(p95_ms/1000).
// When p95 is unavailable (hasLatency false) the penalty is 0.
func Composite(p10, r10, mrr, f1, p95ms float64, hasLatency bool) float64 {
	score := 0.15*p10 + 0.15*r10 + 0.2*mrr + 0.4*f1
	if hasLatency {
		score -= 0.1 * (p95ms / 1000)
	}
	return score
}
