package locate

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// SolverConfig holds every tunable of a robust solve. Build it once with
// DefaultSolverConfig, adjust fields, and pass it to NewSolver; per-field
// setters on the solver cover later adjustments between solves.
type SolverConfig struct {
	Method     Method
	Dimensions int // 2 or 3

	// Threshold is the inlier/outlier residual boundary in distance units.
	// It is the primary robustness knob for RANSAC, MSAC and PROSAC.
	Threshold float64

	// Confidence drives the adaptive iteration budget (0 < c < 1).
	Confidence float64

	// MaxIterations caps the robust loop regardless of the adaptive budget.
	MaxIterations int

	// StopThreshold ends LMedS/PROMedS solves early once the estimated
	// noise scale drops below it. Zero disables the cutoff.
	StopThreshold float64

	// ProsacGrowth is the number of iterations over which the PROSAC
	// sampling prefix grows from the minimal subset to the full set.
	ProsacGrowth int

	// ProgressDelta is the minimum progress fraction between OnProgress
	// callbacks. Zero disables progress notifications.
	ProgressDelta float32

	LinearMode LinearMode

	// Refine enables the Levenberg-Marquardt polish of the winning
	// consensus; Covariance additionally requests uncertainty propagation.
	Refine     bool
	Covariance bool

	// RNG drives subset sampling. Seed it for deterministic tests; nil
	// falls back to a time-seeded generator at solve time.
	RNG *rand.Rand
}

// DefaultSolverConfig returns sensible defaults for the given dimension.
// The threshold default assumes meter-scale coordinates and should be tuned
// to the ranging noise of the deployment.
func DefaultSolverConfig(dims int) SolverConfig {
	return SolverConfig{
		Method:        RANSAC,
		Dimensions:    dims,
		Threshold:     1.0,
		Confidence:    0.99,
		MaxIterations: 5000,
		StopThreshold: 0,
		ProsacGrowth:  100,
		ProgressDelta: 0.05,
		LinearMode:    LinearInhomogeneous,
		Refine:        true,
		Covariance:    true,
	}
}

// Solver estimates a position from distance samples using a robust
// consensus method. A solver is reusable: reconfigure and solve again once
// the previous solve returns. While a solve is running the instance is
// locked and every mutator fails immediately with ErrLocked.
type Solver struct {
	cfg      SolverConfig
	samples  []DistanceSample
	listener *Listener
	initial  Point

	locked atomic.Bool
	result *EstimationResult
}

// NewSolver creates a solver from a validated configuration.
func NewSolver(cfg SolverConfig) (*Solver, error) {
	if cfg.Dimensions != 2 && cfg.Dimensions != 3 {
		return nil, &ConfigError{Field: "dimensions", Reason: "must be 2 or 3"}
	}
	if cfg.Threshold <= 0 {
		return nil, &ConfigError{Field: "threshold", Reason: "must be positive"}
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return nil, &ConfigError{Field: "confidence", Reason: "must be in (0, 1)"}
	}
	if cfg.MaxIterations <= 0 {
		return nil, &ConfigError{Field: "maxIterations", Reason: "must be positive"}
	}
	if cfg.StopThreshold < 0 {
		return nil, &ConfigError{Field: "stopThreshold", Reason: "must not be negative"}
	}
	return &Solver{cfg: cfg}, nil
}

// minSamples returns the minimal subset size for the configured dimension.
func (s *Solver) minSamples() int { return s.cfg.Dimensions + 1 }

// Configure supplies the distance samples for subsequent solves. The slice
// is borrowed, not copied; the caller must not mutate it while the solver
// uses it. Quality scores must be attached to either all samples or none.
func (s *Solver) Configure(samples []DistanceSample) error {
	if s.locked.Load() {
		return ErrLocked
	}
	if len(samples) < s.minSamples() {
		return &ConfigError{Field: "samples", Reason: "need at least dimensions+1 samples"}
	}
	withQuality := 0
	for i := range samples {
		if samples[i].Position.Dims() != s.cfg.Dimensions {
			return &ConfigError{Field: "samples", Reason: "sample position dimension mismatch"}
		}
		if samples[i].Distance < 0 || math.IsNaN(samples[i].Distance) {
			return &ConfigError{Field: "samples", Reason: "distances must be non-negative"}
		}
		if samples[i].HasQuality() {
			withQuality++
		}
	}
	if withQuality != 0 && withQuality != len(samples) {
		return &ConfigError{Field: "samples", Reason: "quality scores must cover all samples or none"}
	}
	s.samples = samples
	return nil
}

// SetThreshold updates the inlier residual boundary.
func (s *Solver) SetThreshold(v float64) error {
	if s.locked.Load() {
		return ErrLocked
	}
	if v <= 0 || math.IsNaN(v) {
		return &ConfigError{Field: "threshold", Reason: "must be positive"}
	}
	s.cfg.Threshold = v
	return nil
}

// SetConfidence updates the adaptive-budget confidence.
func (s *Solver) SetConfidence(v float64) error {
	if s.locked.Load() {
		return ErrLocked
	}
	if v <= 0 || v >= 1 || math.IsNaN(v) {
		return &ConfigError{Field: "confidence", Reason: "must be in (0, 1)"}
	}
	s.cfg.Confidence = v
	return nil
}

// SetMaxIterations updates the robust loop cap.
func (s *Solver) SetMaxIterations(v int) error {
	if s.locked.Load() {
		return ErrLocked
	}
	if v <= 0 {
		return &ConfigError{Field: "maxIterations", Reason: "must be positive"}
	}
	s.cfg.MaxIterations = v
	return nil
}

// SetStopThreshold updates the LMedS/PROMedS early-exit noise scale.
func (s *Solver) SetStopThreshold(v float64) error {
	if s.locked.Load() {
		return ErrLocked
	}
	if v <= 0 || math.IsNaN(v) {
		return &ConfigError{Field: "stopThreshold", Reason: "must be positive"}
	}
	if !s.cfg.Method.usesMedian() {
		return &ConfigError{Field: "stopThreshold", Reason: "only applies to LMedS and PROMedS"}
	}
	s.cfg.StopThreshold = v
	return nil
}

// SetListener registers the progress listener for subsequent solves. A nil
// listener disables notifications.
func (s *Solver) SetListener(l *Listener) error {
	if s.locked.Load() {
		return ErrLocked
	}
	s.listener = l
	return nil
}

// SetInitialPosition seeds the refinement stage. Helpful when station
// geometry conditions the problem poorly. Nil clears the seed.
func (s *Solver) SetInitialPosition(p Point) error {
	if s.locked.Load() {
		return ErrLocked
	}
	if p != nil && p.Dims() != s.cfg.Dimensions {
		return &ConfigError{Field: "initialPosition", Reason: "dimension mismatch"}
	}
	s.initial = p
	return nil
}

// IsReady reports whether enough samples are configured to solve.
func (s *Solver) IsReady() bool {
	return len(s.samples) >= s.minSamples()
}

// IsLocked reports whether a solve is currently in progress.
func (s *Solver) IsLocked() bool {
	return s.locked.Load()
}

// Method returns the configured robust method.
func (s *Solver) Method() Method { return s.cfg.Method }

// Result returns the result of the most recent successful solve, or nil.
func (s *Solver) Result() *EstimationResult { return s.result }

// Solve runs the robust loop and, when configured, the refinement stage.
// It returns ErrNotReady without samples, and an *EstimationError when the
// iteration budget exhausts without any valid consensus. Refinement and
// covariance failures are soft: the result keeps the preliminary position
// and a nil covariance.
func (s *Solver) Solve() (*EstimationResult, error) {
	if !s.locked.CompareAndSwap(false, true) {
		return nil, ErrLocked
	}
	defer s.locked.Store(false)

	if !s.IsReady() {
		return nil, ErrNotReady
	}

	if s.listener != nil && s.listener.OnSolveStart != nil {
		s.listener.OnSolveStart(s)
	}
	defer func() {
		if s.listener != nil && s.listener.OnSolveEnd != nil {
			s.listener.OnSolveEnd(s)
		}
	}()

	rng := s.cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	ecfg := engineConfig{
		method:        s.cfg.Method,
		dims:          s.cfg.Dimensions,
		threshold:     s.cfg.Threshold,
		stopThreshold: s.cfg.StopThreshold,
		confidence:    s.cfg.Confidence,
		maxIterations: s.cfg.MaxIterations,
		prosacGrowth:  s.cfg.ProsacGrowth,
		progressDelta: s.cfg.ProgressDelta,
		linearMode:    s.cfg.LinearMode,
		rng:           rng,
	}
	var hooks engineHooks
	if s.listener != nil {
		if s.listener.OnIteration != nil {
			hooks.onIteration = func(it int) { s.listener.OnIteration(s, it) }
		}
		if s.listener.OnProgress != nil {
			hooks.onProgress = func(p float32) { s.listener.OnProgress(s, p) }
		}
	}

	prelim, consensus, iterations, err := runRobust(s.samples, ecfg, hooks)
	if err != nil {
		return nil, err
	}

	result := &EstimationResult{
		Position:   prelim,
		Inliers:    consensus,
		Iterations: iterations,
	}

	if s.cfg.Refine {
		inliers := make([]DistanceSample, 0, consensus.NumInliers())
		for i, in := range consensus.InlierMask {
			if in {
				inliers = append(inliers, s.samples[i])
			}
		}
		ref := refinePosition(inliers, prelim, s.initial, s.cfg.Covariance)
		result.Position = ref.position
		result.Covariance = ref.covariance
		result.Refined = ref.ok
	}

	s.result = result
	return result, nil
}
