package eval

import (
	"math"
)

// TTestResult holds the outcome of a paired t-test between two variants.
type TTestResult struct {
	T      float64
	DF     int
	P      float64
	CohenD float64
}

// PairedTTest runs the two-sided paired t-test over equal-length samples
// paired by index. Identical samples yield p=1 and d=0.
func PairedTTest(a, b []float64) TTestResult {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return TTestResult{P: 1}
	}

	diffs := make([]float64, n)
	var mean float64
	for i := 0; i < n; i++ {
		diffs[i] = a[i] - b[i]
		mean += diffs[i]
	}
	mean /= float64(n)

	var variance float64
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(n - 1)
	sd := math.Sqrt(variance)

	res := TTestResult{DF: n - 1}
	if sd == 0 {
		if mean == 0 {
			res.P = 1
			return res
		}
		// All differences identical and nonzero: maximally significant.
		res.T = math.Inf(sign(mean))
		res.P = 0
		res.CohenD = math.Inf(sign(mean))
		return res
	}

	res.T = mean / (sd / math.Sqrt(float64(n)))
	res.P = tDistTwoSided(res.T, float64(res.DF))
	res.CohenD = mean / sd
	return res
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}

// Bonferroni adjusts p for c comparisons: min(1, p*c). Monotone in c and
// clamped to [0,1].
func Bonferroni(p float64, comparisons int) float64 {
	if comparisons < 1 {
		comparisons = 1
	}
	adj := p * float64(comparisons)
	if adj > 1 {
		return 1
	}
	if adj < 0 {
		return 0
	}
	return adj
}

// tDistTwoSided computes the two-sided p-value of the t statistic with df
// degrees of freedom via the regularized incomplete beta function:
// p = I_{df/(df+t^2)}(df/2, 1/2).
func tDistTwoSided(t, df float64) float64 {
	if math.IsInf(t, 0) {
		return 0
	}
	x := df / (df + t*t)
	return regIncBeta(df/2, 0.5, x)
}

// regIncBeta evaluates the regularized incomplete beta function I_x(a,b)
// by Lentz's continued fraction.
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(math.Log(x)*a+math.Log(1-x)*b+lnBeta) / a

	// Symmetry keeps the continued fraction in its fast-converging region.
	if x > (a+1)/(a+b+2) {
		return 1 - regIncBeta(b, a, 1-x)
	}

	const eps = 1e-12
	const maxIter = 300

	f, c, d := 1.0, 1.0, 0.0
	for i := 0; i <= maxIter; i++ {
		m := i / 2
		var numerator float64
		switch {
		case i == 0:
			numerator = 1
		case i%2 == 0:
			numerator = float64(m) * (b - float64(m)) * x / ((a + 2*float64(m) - 1) * (a + 2*float64(m)))
		default:
			numerator = -(a + float64(m)) * (a + b + float64(m)) * x / ((a + 2*float64(m)) * (a + 2*float64(m) + 1))
		}

		d = 1 + numerator*d
		if math.Abs(d) < 1e-30 {
			d = 1e-30
		}
		d = 1 / d

		c = 1 + numerator/c
		if math.Abs(c) < 1e-30 {
			c = 1e-30
		}

		cd := c * d
		f *= cd
		if math.Abs(1-cd) < eps {
			break
		}
	}
	return front * (f - 1)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// SignificanceStars maps an adjusted p-value to the conventional annotation.
func SignificanceStars(pAdj float64) string {
	switch {
	case pAdj < 0.001:
		return "***"
	case pAdj < 0.01:
		return "**"
	case pAdj < 0.05:
		return "*"
	default:
		return ""
	}
}
