package locate

import (
	"math"
	"math/rand"
	"sort"
)

// engineConfig is the frozen snapshot of solver settings a single robust
// solve runs against. Freezing it up front keeps the loop independent of the
// (locked) solver state.
type engineConfig struct {
	method        Method
	dims          int
	threshold     float64
	stopThreshold float64
	confidence    float64
	maxIterations int
	prosacGrowth  int
	progressDelta float32
	linearMode    LinearMode
	rng           *rand.Rand

	// hasQuality records whether the samples carry quality scores. Without
	// them the quality methods degrade to uniform sampling.
	hasQuality bool
}

// engineHooks carries the per-iteration notifications out of the loop.
// Either field may be nil.
type engineHooks struct {
	onIteration func(iteration int)
	onProgress  func(progress float32)
}

// minInlierRatio floors the running inlier-ratio estimate so the adaptive
// budget formula stays finite before the first good consensus.
const minInlierRatio = 1e-3

// runRobust is the shared skeleton behind all five methods: repeatedly draw
// a minimal subset, solve it linearly, score the candidate against every
// sample, and keep the best consensus. Returns the winning preliminary
// position, the frozen consensus set, and the number of iterations run.
func runRobust(samples []DistanceSample, cfg engineConfig, hooks engineHooks) (Point, *ConsensusSet, int, error) {
	n := len(samples)
	m := cfg.dims + 1
	if n < m {
		return nil, nil, 0, ErrNotReady
	}

	cfg.hasQuality = samples[0].HasQuality()
	order := samplingOrder(samples, cfg.method)

	best := invalidScore(cfg.method)
	var bestPoint Point
	bestRes := make([]float64, n)
	bestMask := make([]bool, n)
	haveBest := false
	candidates := 0

	res := make([]float64, n)
	mask := make([]bool, n)
	scratch := make([]float64, n)
	subset := make([]DistanceSample, m)
	picked := make([]int, m)

	budget := cfg.maxIterations
	var lastProgress float32

	iter := 0
	for ; iter < budget; iter++ {
		if hooks.onIteration != nil {
			hooks.onIteration(iter)
		}
		if hooks.onProgress != nil && cfg.progressDelta > 0 {
			progress := float32(iter) / float32(budget)
			if progress-lastProgress >= cfg.progressDelta {
				lastProgress = progress
				hooks.onProgress(progress)
			}
		}

		drawSubset(order, m, iter, cfg, picked)
		for i, idx := range picked {
			subset[i] = samples[idx]
		}

		p, err := solvePreliminary(subset, cfg.dims, cfg.linearMode)
		if err != nil {
			continue // degenerate subset, try another draw
		}
		candidates++

		res = residuals(p, samples, res)
		sc := cfg.method.score(res, cfg.threshold, mask, scratch)
		if !haveBest || cfg.method.betterThan(sc, best) {
			best = sc
			bestPoint = p
			copy(bestRes, res)
			copy(bestMask, mask)
			haveBest = true

			inliers := sc.inliers
			if cfg.method.usesMedian() {
				inliers = lmedsInlierMask(bestRes, best.value, m, bestMask)
			}
			budget = adaptiveBudget(inliers, n, m, cfg.confidence, cfg.maxIterations)

			// Optional efficiency cutoff for the median methods: stop as
			// soon as the estimated noise scale is already small enough.
			if cfg.method.usesMedian() && cfg.stopThreshold > 0 &&
				lmedsScale(best.value, n, m) <= cfg.stopThreshold {
				iter++
				break
			}
		}
	}

	if !haveBest {
		return nil, nil, iter, &EstimationError{Iterations: iter, Candidates: candidates}
	}

	consensus := &ConsensusSet{
		InlierMask: bestMask,
		Score:      best.value,
		Residuals:  bestRes,
	}
	if cfg.method == RANSAC || cfg.method == PROSAC {
		consensus.Score = float64(best.inliers)
	}
	if consensus.NumInliers() == 0 {
		return nil, nil, iter, &EstimationError{Iterations: iter, Candidates: candidates}
	}

	if hooks.onProgress != nil && cfg.progressDelta > 0 {
		hooks.onProgress(1)
	}
	return bestPoint, consensus, iter, nil
}

// adaptiveBudget recomputes the iteration budget from the running inlier
// ratio using the standard RANSAC schedule
// iterations = log(1-confidence) / log(1-ratio^m), clamped to
// [1, maxIterations].
func adaptiveBudget(inliers, n, m int, confidence float64, maxIterations int) int {
	ratio := float64(inliers) / float64(n)
	if ratio < minInlierRatio {
		ratio = minInlierRatio
	}
	if ratio >= 1 {
		return 1
	}
	denom := math.Log(1 - math.Pow(ratio, float64(m)))
	if denom >= 0 {
		return maxIterations
	}
	needed := math.Log(1-confidence) / denom
	if needed < 1 {
		return 1
	}
	if needed >= float64(maxIterations) {
		return maxIterations
	}
	return int(math.Ceil(needed))
}

// samplingOrder returns the index order subsets are drawn from. Quality
// methods sort descending by quality score so the growing-prefix schedule
// tries the most trusted samples first; everything else keeps natural order
// for uniform draws. Samples without a quality score sort last.
func samplingOrder(samples []DistanceSample, method Method) []int {
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	if !method.usesQuality() {
		return order
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := samples[order[a]], samples[order[b]]
		switch {
		case sa.HasQuality() && !sb.HasQuality():
			return true
		case !sa.HasQuality() && sb.HasQuality():
			return false
		default:
			return sa.Quality > sb.Quality
		}
	})
	return order
}

// drawSubset fills picked with m distinct indices into order. Uniform
// methods draw from the whole set, as do quality methods when the samples
// carry no quality scores. Otherwise the quality methods use a PROSAC-style
// schedule: the draw pool is a prefix of the quality-sorted order that
// starts at m and grows linearly over prosacGrowth iterations, and the
// newest prefix element is always part of the subset.
func drawSubset(order []int, m, iteration int, cfg engineConfig, picked []int) {
	n := len(order)
	if !cfg.method.usesQuality() || !cfg.hasQuality {
		drawDistinct(order, n, m, cfg.rng, picked)
		return
	}

	prefix := m
	if cfg.prosacGrowth > 0 && n > m {
		grown := m + iteration*(n-m)/cfg.prosacGrowth
		if grown < n {
			prefix = grown
		} else {
			prefix = n
		}
	} else {
		prefix = n
	}
	if prefix <= m {
		copy(picked, order[:m])
		return
	}

	// Always include the newest element of the prefix, draw the rest from
	// the elements before it.
	picked[0] = order[prefix-1]
	drawDistinct(order, prefix-1, m-1, cfg.rng, picked[1:])
}

// drawDistinct fills picked with k distinct values from order[:limit].
func drawDistinct(order []int, limit, k int, rng *rand.Rand, picked []int) {
	// Selection by rejection keeps order intact; subsets are tiny (k <= 4)
	// so the expected number of rejections is negligible.
	for i := 0; i < k; i++ {
		for {
			idx := order[rng.Intn(limit)]
			dup := false
			for j := 0; j < i; j++ {
				if picked[j] == idx {
					dup = true
					break
				}
			}
			if !dup {
				picked[i] = idx
				break
			}
		}
	}
}
