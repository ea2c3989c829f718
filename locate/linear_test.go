package locate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// inhomogeneous mode
// ---------------------------------------------------------------------------

func TestSolveInhomogeneous_Exact2D(t *testing.T) {
	target := Point{3, 4}
	samples := exactSamples([]Point{{0, 0}, {10, 0}, {0, 10}}, target)

	p, err := solvePreliminary(samples, 2, LinearInhomogeneous)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, p[0], 1e-9)
	assert.InDelta(t, 4.0, p[1], 1e-9)
}

func TestSolveInhomogeneous_Exact3D(t *testing.T) {
	target := Point{1, 2, 3}
	samples := exactSamples(tetra3D[:4], target)

	p, err := solvePreliminary(samples, 3, LinearInhomogeneous)
	require.NoError(t, err)
	for j := range target {
		assert.InDelta(t, target[j], p[j], 1e-9)
	}
}

func TestSolveInhomogeneous_Overdetermined(t *testing.T) {
	target := Point{3, 4}
	samples := exactSamples(square2D, target)

	p, err := solvePreliminary(samples, 2, LinearInhomogeneous)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, p[0], 1e-9)
	assert.InDelta(t, 4.0, p[1], 1e-9)
}

func TestSolveInhomogeneous_Degenerate(t *testing.T) {
	t.Run("collinear anchors", func(t *testing.T) {
		samples := exactSamples([]Point{{0, 0}, {1, 0}, {2, 0}}, Point{1, 5})
		_, err := solvePreliminary(samples, 2, LinearInhomogeneous)
		assert.True(t, errors.Is(err, errSingularSubset))
	})

	t.Run("coincident anchors", func(t *testing.T) {
		samples := exactSamples([]Point{{1, 1}, {1, 1}, {1, 1}}, Point{3, 4})
		_, err := solvePreliminary(samples, 2, LinearInhomogeneous)
		assert.Error(t, err)
	})

	t.Run("coplanar anchors in 3D", func(t *testing.T) {
		stations := []Point{{0, 0, 0}, {10, 0, 0}, {0, 10, 0}, {10, 10, 0}}
		samples := exactSamples(stations, Point{3, 4, 5})
		_, err := solvePreliminary(samples, 3, LinearInhomogeneous)
		assert.Error(t, err)
	})

	t.Run("too few samples", func(t *testing.T) {
		samples := exactSamples([]Point{{0, 0}, {10, 0}}, Point{3, 4})
		_, err := solvePreliminary(samples, 2, LinearInhomogeneous)
		assert.Error(t, err)
	})
}

// ---------------------------------------------------------------------------
// homogeneous mode
// ---------------------------------------------------------------------------

func TestSolveHomogeneous_Exact2D(t *testing.T) {
	target := Point{3, 4}
	samples := exactSamples([]Point{{0, 0}, {10, 0}, {0, 10}, {10, 10}}, target)

	p, err := solvePreliminary(samples, 2, LinearHomogeneous)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, p[0], 1e-6)
	assert.InDelta(t, 4.0, p[1], 1e-6)
}

func TestSolveHomogeneous_Exact3D(t *testing.T) {
	target := Point{1, 2, 3}
	samples := exactSamples(tetra3D, target)

	p, err := solvePreliminary(samples, 3, LinearHomogeneous)
	require.NoError(t, err)
	for j := range target {
		assert.InDelta(t, target[j], p[j], 1e-6)
	}
}

// ---------------------------------------------------------------------------
// residuals
// ---------------------------------------------------------------------------

func TestResiduals(t *testing.T) {
	samples := []DistanceSample{
		{Position: Point{0, 0}, Distance: 5},
		{Position: Point{3, 0}, Distance: 2},
		{Position: Point{3, 8}, Distance: 10},
	}
	res := residuals(Point{3, 4}, samples, nil)
	require.Len(t, res, 3)
	assert.InDelta(t, 0.0, res[0], 1e-12)  // |(3,4)| = 5
	assert.InDelta(t, 2.0, res[1], 1e-12)  // distance 4, measured 2
	assert.InDelta(t, -6.0, res[2], 1e-12) // distance 4, measured 10

	// Output slice is reused when capacity allows.
	buf := make([]float64, 0, 8)
	out := residuals(Point{3, 4}, samples, buf)
	assert.Len(t, out, 3)
}
