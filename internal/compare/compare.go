// Package compare implements the statistical consistency check between a
// reference and a test energy spectrum.
package compare

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/linusb/megaval/internal/histogram"
)

// PValueThreshold is the fixed significance level for the KS test.
// A p-value above it means no statistically significant distributional
// difference was detected.
const PValueThreshold = 0.05

// DefaultSigmaTolerance is the default bound on the relative sigma
// difference. Callers typically tighten this.
const DefaultSigmaTolerance = 3.0

// zeroSigmaSentinel is reported as the relative sigma difference when the
// reference sigma is zero, forcing a verdict failure instead of a division
// by zero.
const zeroSigmaSentinel = 1e12

// Result is the terminal output of one comparison. Immutable once built.
type Result struct {
	Pass bool `json:"pass"`

	RefMean   float64 `json:"ref_mean"`
	RefSigma  float64 `json:"ref_sigma"`
	TestMean  float64 `json:"test_mean"`
	TestSigma float64 `json:"test_sigma"`

	MeanDiff  float64 `json:"mean_difference"`
	SigmaDiff float64 `json:"sigma_difference"`
	MaxDiff   float64 `json:"max_difference"`

	// RelativeSigma is |sigma_ref - sigma_test| / sigma_ref, or the
	// zero-sigma sentinel when the reference sigma vanishes.
	RelativeSigma float64 `json:"relative_significance"`

	KSStatistic float64 `json:"ks_statistic"`
	KSPValue    float64 `json:"ks_p_value"`

	// Degenerate is set when either histogram sums to zero counts.
	Degenerate bool `json:"degenerate,omitempty"`

	// Inconclusive is set when either expanded sample is empty; the KS
	// test cannot run and the verdict is forced to fail.
	Inconclusive bool `json:"inconclusive,omitempty"`

	Details string `json:"details"`
}

// Engine computes comparison results. Stateless between calls; safe for
// concurrent use on independent histogram pairs.
type Engine struct {
	// SigmaTolerance bounds the relative sigma difference for a pass.
	SigmaTolerance float64

	logger *slog.Logger
}

// New returns an Engine with the given sigma tolerance. A non-positive
// tolerance falls back to DefaultSigmaTolerance.
func New(sigmaTolerance float64, logger *slog.Logger) *Engine {
	if sigmaTolerance <= 0 {
		sigmaTolerance = DefaultSigmaTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{SigmaTolerance: sigmaTolerance, logger: logger}
}

// Compare runs the full verdict policy on a reference and a test histogram.
//
// PASS requires both a KS p-value above PValueThreshold and a relative
// sigma difference below the engine's tolerance. Degenerate (zero-count)
// histograms never divide by zero: moments report as zero and the
// zero-sigma sentinel forces the sigma criterion to fail.
func (e *Engine) Compare(ref, test *histogram.Histogram) *Result {
	res := &Result{}

	var refDegen, testDegen bool
	res.RefMean, res.RefSigma, refDegen = ref.Moments()
	res.TestMean, res.TestSigma, testDegen = test.Moments()
	res.Degenerate = refDegen || testDegen
	if res.Degenerate {
		e.logger.Warn("degenerate histogram: zero total counts",
			"reference", refDegen, "test", testDegen)
	}

	res.MeanDiff = math.Abs(res.RefMean - res.TestMean)
	res.SigmaDiff = math.Abs(res.RefSigma - res.TestSigma)
	res.MaxDiff = math.Abs(ref.MaxContent() - test.MaxContent())

	if res.RefSigma == 0 {
		res.RelativeSigma = zeroSigmaSentinel
	} else {
		res.RelativeSigma = res.SigmaDiff / res.RefSigma
	}

	refSamples := ref.Expand()
	testSamples := test.Expand()
	if len(refSamples) == 0 || len(testSamples) == 0 {
		res.Inconclusive = true
		res.Details = "empty sample after expansion; comparison inconclusive"
		e.logger.Warn("comparison inconclusive",
			"ref_samples", len(refSamples), "test_samples", len(testSamples))
		return res
	}

	res.KSStatistic, res.KSPValue = ksTwoSample(refSamples, testSamples)

	res.Pass = res.KSPValue > PValueThreshold && res.RelativeSigma < e.SigmaTolerance
	if res.Pass {
		res.Details = "Spectra consistent."
	} else {
		res.Details = "Significant difference detected."
	}

	e.logger.Info("comparison complete",
		"pass", res.Pass,
		"ks_statistic", res.KSStatistic,
		"ks_p_value", res.KSPValue,
		"sigma_diff", res.SigmaDiff,
		"relative_sigma", res.RelativeSigma,
	)
	return res
}

// ksTwoSample computes the two-sample Kolmogorov-Smirnov statistic and its
// asymptotic p-value. Inputs need not be sorted.
func ksTwoSample(x, y []float64) (statistic, pvalue float64) {
	xs := append([]float64(nil), x...)
	ys := append([]float64(nil), y...)
	sort.Float64s(xs)
	sort.Float64s(ys)

	statistic = stat.KolmogorovSmirnov(xs, nil, ys, nil)
	pvalue = ksPValue(statistic, len(xs), len(ys))
	return statistic, pvalue
}

// ksPValue evaluates the asymptotic Kolmogorov distribution
//
//	Q(lambda) = 2 * sum_{j>=1} (-1)^(j-1) * exp(-2 j^2 lambda^2)
//
// with the small-sample correction lambda = (sqrt(ne)+0.12+0.11/sqrt(ne))*d
// and ne = n*m/(n+m). Identical samples (d == 0) yield 1.
func ksPValue(d float64, n, m int) float64 {
	if d <= 0 {
		return 1
	}
	if d >= 1 {
		return 0
	}
	ne := float64(n) * float64(m) / float64(n+m)
	sqrtNe := math.Sqrt(ne)
	lambda := (sqrtNe + 0.12 + 0.11/sqrtNe) * d

	const maxTerms = 100
	sum := 0.0
	for j := 1; j <= maxTerms; j++ {
		term := math.Exp(-2 * float64(j*j) * lambda * lambda)
		if j%2 == 1 {
			sum += term
		} else {
			sum -= term
		}
		if term < 1e-10 {
			break
		}
	}
	p := 2 * sum
	return math.Min(1, math.Max(0, p))
}

// Summary renders a one-line human-readable verdict.
func (r *Result) Summary() string {
	verdict := "FAIL"
	if r.Pass {
		verdict = "PASS"
	}
	return fmt.Sprintf("%s: ks_p=%.4g ks_stat=%.4g sigma_diff=%.4g rel_sigma=%.4g", verdict, r.KSPValue, r.KSStatistic, r.SigmaDiff, r.RelativeSigma)
}
