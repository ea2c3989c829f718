package locate

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Refinement constants. The polish stage converges in a handful of steps for
// sane geometries; the caps only bound pathological cases.
const (
	refineMaxIterations = 50
	refineTolerance     = 1e-10 // squared step norm considered converged
	lambdaInitial       = 1e-3
	lambdaUp            = 10.0
	lambdaDown          = 0.1
	lambdaMax           = 1e10
)

// refineResult is the outcome of the polish stage. Failure is soft: ok=false
// keeps the preliminary position and the caller reports a nil covariance.
type refineResult struct {
	position   Point
	covariance *mat.SymDense
	ok         bool
}

// refinePosition runs a weighted Levenberg-Marquardt polish of the
// preliminary position over the inlier subset, minimizing
// sum w_i (|P - S_i| - d_i)^2 with w_i = 1/sigma_i^2. seed may override the
// preliminary position as the starting point. When withCovariance is set and
// the fit converges, the covariance is sigma_hat^2 (J^T W J)^-1 evaluated at
// the solution.
func refinePosition(inliers []DistanceSample, preliminary Point, seed Point, withCovariance bool) refineResult {
	dims := preliminary.Dims()
	n := len(inliers)
	if n <= dims {
		return refineResult{position: preliminary}
	}

	p := preliminary.Clone()
	if seed != nil && seed.Dims() == dims {
		p = seed.Clone()
	}

	w := make([]float64, n)
	for i := range inliers {
		w[i] = inliers[i].weight()
	}

	jac := mat.NewDense(n, dims, nil)
	res := make([]float64, n)
	normal := mat.NewSymDense(dims, nil)
	grad := mat.NewVecDense(dims, nil)
	step := mat.NewVecDense(dims, nil)
	trial := make(Point, dims)

	cost := weightedCost(p, inliers, w, res)
	lambda := lambdaInitial
	converged := false

	for iter := 0; iter < refineMaxIterations; iter++ {
		if !buildNormalEquations(p, inliers, w, res, jac, normal, grad) {
			// Degenerate Jacobian (estimate sits on a station); soft fail.
			return refineResult{position: preliminary}
		}
		if mat.Dot(grad, grad) < refineTolerance {
			converged = true
			break
		}

		improved := false
		for lambda <= lambdaMax {
			if !solveDamped(normal, grad, lambda, step) {
				lambda *= lambdaUp
				continue
			}
			for j := 0; j < dims; j++ {
				trial[j] = p[j] + step.AtVec(j)
			}
			trialCost := weightedCost(trial, inliers, w, res)
			if trialCost < cost {
				copy(p, trial)
				cost = trialCost
				lambda *= lambdaDown
				improved = true
				break
			}
			lambda *= lambdaUp
		}
		if !improved {
			// Damping exhausted without progress: accept the current point
			// as converged if we made at least one step, otherwise fail.
			converged = iter > 0
			break
		}
		if mat.Dot(step, step) < refineTolerance {
			converged = true
			break
		}
	}

	if !converged {
		return refineResult{position: preliminary}
	}

	out := refineResult{position: p, ok: true}
	if withCovariance {
		out.covariance = covarianceAt(p, inliers, w, res, jac, normal, grad)
	}
	return out
}

// weightedCost recomputes residuals in place and returns the weighted sum of
// squares.
func weightedCost(p Point, inliers []DistanceSample, w, res []float64) float64 {
	var cost float64
	for i := range inliers {
		res[i] = p.DistanceTo(inliers[i].Position) - inliers[i].Distance
		cost += w[i] * res[i] * res[i]
	}
	return cost
}

// buildNormalEquations fills the Jacobian, the weighted normal matrix
// J^T W J, and the negated gradient -J^T W r at the current point. Returns
// false when any row degenerates (zero range to a station).
func buildNormalEquations(p Point, inliers []DistanceSample, w, res []float64, jac *mat.Dense, normal *mat.SymDense, grad *mat.VecDense) bool {
	dims := p.Dims()
	for i := range inliers {
		rng := p.DistanceTo(inliers[i].Position)
		if rng < 1e-12 {
			return false
		}
		for j := 0; j < dims; j++ {
			jac.Set(i, j, (p[j]-inliers[i].Position[j])/rng)
		}
	}
	for a := 0; a < dims; a++ {
		for b := a; b < dims; b++ {
			var sum float64
			for i := range inliers {
				sum += w[i] * jac.At(i, a) * jac.At(i, b)
			}
			normal.SetSym(a, b, sum)
		}
		var g float64
		for i := range inliers {
			g -= w[i] * jac.At(i, a) * res[i]
		}
		grad.SetVec(a, g)
	}
	return true
}

// solveDamped solves (N + lambda*diag(N)) step = grad by Cholesky. Returns
// false when the damped normal matrix is not positive definite.
func solveDamped(normal *mat.SymDense, grad *mat.VecDense, lambda float64, step *mat.VecDense) bool {
	dims := grad.Len()
	damped := mat.NewSymDense(dims, nil)
	damped.CopySym(normal)
	for j := 0; j < dims; j++ {
		d := normal.At(j, j)
		if d == 0 {
			d = 1e-12
		}
		damped.SetSym(j, j, d*(1+lambda))
	}
	var chol mat.Cholesky
	if !chol.Factorize(damped) {
		return false
	}
	return chol.SolveVecTo(step, grad) == nil
}

// covarianceAt propagates measurement uncertainty through the Jacobian at
// the solution: sigma_hat^2 (J^T W J)^-1, with sigma_hat^2 the weighted
// residual variance. Returns nil when the normal matrix does not invert;
// the caller treats that as a soft failure.
func covarianceAt(p Point, inliers []DistanceSample, w, res []float64, jac *mat.Dense, normal *mat.SymDense, grad *mat.VecDense) *mat.SymDense {
	dims := p.Dims()
	dof := len(inliers) - dims
	if dof < 1 {
		return nil
	}
	if !buildNormalEquations(p, inliers, w, res, jac, normal, grad) {
		return nil
	}

	var chol mat.Cholesky
	if !chol.Factorize(normal) {
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil
	}

	var rss float64
	for i := range inliers {
		r := p.DistanceTo(inliers[i].Position) - inliers[i].Distance
		rss += w[i] * r * r
	}
	sigmaSq := rss / float64(dof)
	if sigmaSq < 1e-15 {
		sigmaSq = 1e-15 // zero-noise fits still report a PSD covariance
	}

	cov := mat.NewSymDense(dims, nil)
	for a := 0; a < dims; a++ {
		for b := a; b < dims; b++ {
			cov.SetSym(a, b, sigmaSq*inv.At(a, b))
		}
	}
	for a := 0; a < dims; a++ {
		if math.IsNaN(cov.At(a, a)) || cov.At(a, a) < 0 {
			return nil
		}
	}
	return cov
}
