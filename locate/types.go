package locate

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a coordinate vector in the local metric frame. The engine works in
// 2 or 3 dimensions; the length of the slice decides which.
type Point []float64

// NewPoint creates a zero point of the given dimension.
func NewPoint(dims int) Point {
	return make(Point, dims)
}

// Dims returns the dimensionality of the point.
func (p Point) Dims() int { return len(p) }

// Clone returns an independent copy of the point.
func (p Point) Clone() Point {
	q := make(Point, len(p))
	copy(q, p)
	return q
}

// DistanceTo returns the Euclidean distance to q. Points of mismatched
// dimension are compared over the shorter prefix; callers validate upstream.
func (p Point) DistanceTo(q Point) float64 {
	n := len(p)
	if len(q) < n {
		n = len(q)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := p[i] - q[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// normSq returns the squared Euclidean norm.
func (p Point) normSq() float64 {
	var sum float64
	for _, v := range p {
		sum += v * v
	}
	return sum
}

// DistanceSample is one distance observation against a station whose position
// is known. StdDev encodes measurement confidence and weights the refinement
// stage; zero means unknown (uniform weighting). Quality drives the sampling
// order of the PROSAC/PROMedS methods; NaN means unknown (uniform random
// sampling). Samples are borrowed by the solver and never mutated.
type DistanceSample struct {
	StationID string  `json:"stationId,omitempty"`
	Position  Point   `json:"position"`
	Distance  float64 `json:"distance"`
	StdDev    float64 `json:"stdDev,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
}

// HasStdDev reports whether the sample carries a usable standard deviation.
func (s *DistanceSample) HasStdDev() bool {
	return s.StdDev > 0 && !math.IsNaN(s.StdDev)
}

// HasQuality reports whether the sample carries a usable quality score.
func (s *DistanceSample) HasQuality() bool {
	return !math.IsNaN(s.Quality)
}

// weight returns the refinement weight 1/sigma^2, or 1 when no std dev is
// attached.
func (s *DistanceSample) weight() float64 {
	if !s.HasStdDev() {
		return 1
	}
	return 1 / (s.StdDev * s.StdDev)
}

// ConsensusSet is the best-so-far inlier subset found by the robust loop.
// InlierMask always has one entry per configured sample. Score semantics
// depend on the method: inlier count for RANSAC/PROSAC (higher is better),
// accumulated or median squared residual for MSAC/LMedS/PROMedS (lower is
// better).
type ConsensusSet struct {
	InlierMask []bool    `json:"inlierMask"`
	Score      float64   `json:"score"`
	Residuals  []float64 `json:"residuals,omitempty"`
}

// NumInliers returns the number of set entries in the inlier mask.
func (c *ConsensusSet) NumInliers() int {
	n := 0
	for _, in := range c.InlierMask {
		if in {
			n++
		}
	}
	return n
}

// EstimationResult is the output of a solve. Covariance is nil unless
// covariance propagation was requested and the refinement converged.
type EstimationResult struct {
	Position   Point         `json:"position"`
	Covariance *mat.SymDense `json:"-"`
	Inliers    *ConsensusSet `json:"inliers,omitempty"`
	Refined    bool          `json:"refined"`
	Iterations int           `json:"iterations"`
}

// Listener receives synchronous progress callbacks during a solve. Nil
// function fields are skipped. Callbacks run on the solving goroutine; the
// solver is locked for their whole duration, so mutators called from inside
// a callback fail with ErrLocked.
type Listener struct {
	OnSolveStart func(s *Solver)
	OnSolveEnd   func(s *Solver)
	OnIteration  func(s *Solver, iteration int)
	OnProgress   func(s *Solver, progress float32)
}
