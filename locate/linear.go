package locate

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearMode selects how the preliminary (non-iterative) solver linearizes
// the range equations.
type LinearMode int

const (
	// LinearInhomogeneous subtracts a reference anchor row from every other
	// row, giving the overdetermined system
	//   2(S_r - S_i) . x = d_i^2 - d_r^2 - |S_i|^2 + |S_r|^2
	// solved by QR. This is the default: better conditioned than the
	// homogeneous lift for typical station geometries.
	LinearInhomogeneous LinearMode = iota

	// LinearHomogeneous lifts the unknowns to [x, |x|^2, 1] and extracts the
	// null space of the stacked equations by SVD. Algebraically simpler but
	// sensitive to coordinate scale.
	LinearHomogeneous
)

// minSingular is the rank cutoff below which a subset geometry is treated as
// singular (collinear anchors in 2D, coplanar in 3D, coincident anchors).
const minSingular = 1e-9

// solvePreliminary computes a position from at least dims+1 distance samples
// with a single linear-algebra solve. It returns errSingularSubset for
// degenerate geometries; the robust loop recovers by drawing a new subset.
func solvePreliminary(samples []DistanceSample, dims int, mode LinearMode) (Point, error) {
	if len(samples) < dims+1 {
		return nil, errSingularSubset
	}
	if mode == LinearHomogeneous {
		return solveHomogeneous(samples, dims)
	}
	return solveInhomogeneous(samples, dims)
}

// solveInhomogeneous uses the last sample as the reference anchor and solves
// the differenced system by QR least squares.
func solveInhomogeneous(samples []DistanceSample, dims int) (Point, error) {
	n := len(samples) - 1
	ref := samples[len(samples)-1]
	refNormSq := ref.Position.normSq()
	refDistSq := ref.Distance * ref.Distance

	a := mat.NewDense(n, dims, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		s := samples[i]
		for j := 0; j < dims; j++ {
			a.Set(i, j, 2*(ref.Position[j]-s.Position[j]))
		}
		b.SetVec(i, s.Distance*s.Distance-refDistSq-s.Position.normSq()+refNormSq)
	}

	// Rank check via SVD before committing to the QR solve. QR alone can
	// return garbage for nearly collinear anchors without erroring.
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return nil, errSingularSubset
	}
	sv := svd.Values(nil)
	if sv[len(sv)-1] < minSingular*math.Max(1, sv[0]) {
		return nil, errSingularSubset
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, errSingularSubset
	}

	p := make(Point, dims)
	for j := 0; j < dims; j++ {
		p[j] = x.AtVec(j)
	}
	return p, nil
}

// solveHomogeneous stacks one row per sample over the lifted unknown vector
// [x_1..x_d, |x|^2, 1] and reads the position out of the right singular
// vector belonging to the smallest singular value.
func solveHomogeneous(samples []DistanceSample, dims int) (Point, error) {
	n := len(samples)
	cols := dims + 2
	m := mat.NewDense(n, cols, nil)
	for i, s := range samples {
		for j := 0; j < dims; j++ {
			m.Set(i, j, -2*s.Position[j])
		}
		m.Set(i, dims, 1)
		m.Set(i, dims+1, s.Position.normSq()-s.Distance*s.Distance)
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFullV) {
		return nil, errSingularSubset
	}
	var v mat.Dense
	svd.VTo(&v)

	// Null-space vector = column of V for the smallest singular value.
	scale := v.At(cols-1, cols-1)
	if math.Abs(scale) < minSingular {
		return nil, errSingularSubset
	}
	p := make(Point, dims)
	for j := 0; j < dims; j++ {
		p[j] = v.At(j, cols-1) / scale
	}
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errSingularSubset
		}
	}
	return p, nil
}

// residuals evaluates a candidate position against every sample. The
// residual of sample i is the signed range error |P - S_i| - d_i.
func residuals(p Point, samples []DistanceSample, out []float64) []float64 {
	if cap(out) < len(samples) {
		out = make([]float64, len(samples))
	}
	out = out[:len(samples)]
	for i := range samples {
		out[i] = p.DistanceTo(samples[i].Position) - samples[i].Distance
	}
	return out
}
