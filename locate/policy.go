package locate

import (
	"math"
	"sort"
)

// Method selects the robust estimation strategy. All methods share the same
// sampling/refinement skeleton and differ only in how candidates are scored
// and how minimal subsets are drawn.
type Method int

const (
	// RANSAC classifies inliers with a fixed residual threshold and
	// maximizes the consensus count.
	RANSAC Method = iota
	// LMedS minimizes the median of squared residuals and derives the
	// inlier threshold post hoc from the winning median.
	LMedS
	// MSAC minimizes the sum of squared residuals truncated at the square
	// of the threshold.
	MSAC
	// PROSAC scores like RANSAC but draws subsets from a growing prefix of
	// quality-ordered samples, which typically converges in far fewer
	// iterations when quality scores are informative.
	PROSAC
	// PROMedS scores like LMedS with PROSAC's quality-ordered sampling and
	// an optional early exit on the estimated noise scale.
	PROMedS
)

// String returns the conventional name of the method.
func (m Method) String() string {
	switch m {
	case RANSAC:
		return "RANSAC"
	case LMedS:
		return "LMedS"
	case MSAC:
		return "MSAC"
	case PROSAC:
		return "PROSAC"
	case PROMedS:
		return "PROMedS"
	}
	return "unknown"
}

// usesQuality reports whether the method biases subset sampling by quality
// score.
func (m Method) usesQuality() bool {
	return m == PROSAC || m == PROMedS
}

// usesMedian reports whether the method scores by median of squared
// residuals.
func (m Method) usesMedian() bool {
	return m == LMedS || m == PROMedS
}

// candidateScore holds the per-iteration evaluation of a preliminary
// solution against all samples.
type candidateScore struct {
	value      float64 // method-specific score
	inliers    int     // inlier count under the current threshold rule
	residualSq float64 // sum of squared inlier residuals, PROSAC tie-break
}

// invalidScore returns the worst possible score for the method, used to
// initialize the best-so-far tracking.
func invalidScore(m Method) candidateScore {
	if m.usesMedian() || m == MSAC {
		return candidateScore{value: math.Inf(1)}
	}
	return candidateScore{value: math.Inf(-1)}
}

// betterThan reports whether a beats b under the method's comparison rule.
func (m Method) betterThan(a, b candidateScore) bool {
	switch {
	case m.usesMedian() || m == MSAC:
		return a.value < b.value
	case m == PROSAC:
		if a.inliers != b.inliers {
			return a.inliers > b.inliers
		}
		return a.residualSq < b.residualSq
	default: // RANSAC
		return a.inliers > b.inliers
	}
}

// score evaluates residuals under the method's rule. mask is filled with the
// threshold-based inlier classification for the threshold methods; median
// methods leave it untouched (their mask is derived post hoc from the
// winning median, see lmedsInlierMask). scratch is reused across iterations
// for the median sort.
func (m Method) score(res []float64, threshold float64, mask []bool, scratch []float64) candidateScore {
	switch m {
	case MSAC:
		thrSq := threshold * threshold
		var sc candidateScore
		for i, r := range res {
			rSq := r * r
			if rSq <= thrSq {
				mask[i] = true
				sc.inliers++
				sc.value += rSq
			} else {
				mask[i] = false
				sc.value += thrSq
			}
		}
		return sc
	case LMedS, PROMedS:
		return candidateScore{value: medianSquared(res, scratch)}
	default: // RANSAC, PROSAC
		var sc candidateScore
		for i, r := range res {
			if math.Abs(r) <= threshold {
				mask[i] = true
				sc.inliers++
				sc.residualSq += r * r
			} else {
				mask[i] = false
			}
		}
		return sc
	}
}

// medianSquared returns the median of the squared residuals. scratch must
// have the same length as res and is overwritten.
func medianSquared(res []float64, scratch []float64) float64 {
	for i, r := range res {
		scratch[i] = r * r
	}
	sort.Float64s(scratch)
	n := len(scratch)
	if n%2 == 1 {
		return scratch[n/2]
	}
	return 0.5 * (scratch[n/2-1] + scratch[n/2])
}

// lmedsScaleFactor is the consistency constant relating a median of squared
// residuals to a Gaussian noise scale, after Rousseeuw & Leroy.
const lmedsScaleFactor = 1.4826

// lmedsInlierFactor is the number of noise scales within which a residual
// counts as an inlier once the winning median fixes the scale.
const lmedsInlierFactor = 2.5

// lmedsScale estimates the robust noise scale from the winning median of
// squared residuals, with the small-sample correction for n samples and a
// minimal subset of size m.
func lmedsScale(medianSq float64, n, m int) float64 {
	correction := 1.0
	if n > m {
		correction = 1 + 5/float64(n-m)
	}
	return lmedsScaleFactor * correction * math.Sqrt(medianSq)
}

// lmedsInlierMask classifies inliers post hoc from the winning residuals of
// a median-scored method.
func lmedsInlierMask(res []float64, medianSq float64, m int, mask []bool) int {
	limit := lmedsInlierFactor * lmedsScale(medianSq, len(res), m)
	inliers := 0
	for i, r := range res {
		mask[i] = math.Abs(r) <= limit
		if mask[i] {
			inliers++
		}
	}
	return inliers
}
