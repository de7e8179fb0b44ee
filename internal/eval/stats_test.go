package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairedTTest_IdenticalSamples(t *testing.T) {
	a := []float64{0.5, 0.6, 0.7, 0.8}
	res := PairedTTest(a, a)

	assert.InDelta(t, 1.0, res.P, 1e-9)
	assert.Zero(t, res.CohenD)
	assert.Zero(t, res.T)
}

func TestPairedTTest_TooFewSamples(t *testing.T) {
	res := PairedTTest([]float64{1}, []float64{2})
	assert.InDelta(t, 1.0, res.P, 1e-9)
}

func TestPairedTTest_ConstantNonzeroDifference(t *testing.T) {
	a := []float64{1.1, 2.1, 3.1}
	b := []float64{1.0, 2.0, 3.0}
	res := PairedTTest(a, b)

	assert.Zero(t, res.P)
	assert.True(t, math.IsInf(res.T, 1))
}

func TestPairedTTest_ClearImprovement(t *testing.T) {
	b := []float64{0.50, 0.52, 0.48, 0.51, 0.49, 0.50, 0.53, 0.47, 0.51, 0.49}
	a := make([]float64, len(b))
	noise := []float64{0.00, 0.01, -0.01, 0.005, -0.005, 0.002, -0.002, 0.003, -0.003, 0.0}
	for i := range b {
		a[i] = b[i] + 0.10 + noise[i]
	}

	res := PairedTTest(a, b)
	require.Equal(t, 9, res.DF)
	assert.Greater(t, res.T, 0.0)
	assert.Less(t, res.P, 0.001)
	assert.Greater(t, res.CohenD, 1.0)
}

func TestPairedTTest_ZeroMeanNoise(t *testing.T) {
	a := []float64{1, 0, 1, 0}
	b := []float64{0, 1, 0, 1}
	res := PairedTTest(a, b)

	// Differences cancel exactly: t = 0, maximally insignificant.
	assert.Zero(t, res.T)
	assert.InDelta(t, 1.0, res.P, 1e-9)
}

func TestTDistTwoSided_CriticalValues(t *testing.T) {
	// Classic two-sided critical points of the t distribution.
	assert.InDelta(t, 0.05, tDistTwoSided(2.228, 10), 1e-3)
	assert.InDelta(t, 0.01, tDistTwoSided(3.169, 10), 1e-3)
	assert.InDelta(t, 0.05, tDistTwoSided(1.984, 100), 1e-3)
	assert.InDelta(t, 1.0, tDistTwoSided(0, 10), 1e-9)
	assert.Zero(t, tDistTwoSided(math.Inf(1), 10))
}

func TestRegIncBeta_Bounds(t *testing.T) {
	assert.Zero(t, regIncBeta(2, 3, 0))
	assert.InDelta(t, 1.0, regIncBeta(2, 3, 1), 1e-9)
	// I_x(1,1) is the identity.
	assert.InDelta(t, 0.25, regIncBeta(1, 1, 0.25), 1e-9)
	// Symmetry: I_x(a,b) = 1 - I_{1-x}(b,a).
	assert.InDelta(t, 1-regIncBeta(3, 2, 0.6), regIncBeta(2, 3, 0.4), 1e-9)
}

func TestBonferroni(t *testing.T) {
	assert.InDelta(t, 0.03, Bonferroni(0.01, 3), 1e-9)
	assert.InDelta(t, 1.0, Bonferroni(0.5, 4), 1e-9)
	assert.InDelta(t, 0.02, Bonferroni(0.02, 0), 1e-9)

	// Monotone in the comparison count.
	assert.LessOrEqual(t, Bonferroni(0.01, 2), Bonferroni(0.01, 5))
}

func TestSignificanceStars(t *testing.T) {
	assert.Equal(t, "***", SignificanceStars(0.0005))
	assert.Equal(t, "**", SignificanceStars(0.005))
	assert.Equal(t, "*", SignificanceStars(0.04))
	assert.Equal(t, "", SignificanceStars(0.05))
	assert.Equal(t, "", SignificanceStars(0.9))
}
