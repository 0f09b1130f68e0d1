package solverapi

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestGonumFactorizationSolvesIdentitySystem(t *testing.T) {
	var f GonumFactorization
	jtj := SparseMatrix{Rows: 2, Cols: 2, Entries: []Triplet{
		{Row: 0, Col: 0, Val: 2}, {Row: 1, Col: 1, Val: 3},
	}}
	test.That(t, f.Factorize(jtj), test.ShouldBeNil)
	test.That(t, f.Rank(), test.ShouldEqual, 2)

	x, err := f.Solve([]float64{4, 9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x[0], test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, x[1], test.ShouldAlmostEqual, 3, 1e-9)
}

func TestGonumFactorizationReportsSingular(t *testing.T) {
	var f GonumFactorization
	jtj := SparseMatrix{Rows: 2, Cols: 2, Entries: []Triplet{
		{Row: 0, Col: 0, Val: 1}, {Row: 0, Col: 1, Val: 1},
		{Row: 1, Col: 0, Val: 1}, {Row: 1, Col: 1, Val: 1},
	}}
	test.That(t, f.Factorize(jtj), test.ShouldBeNil)
	test.That(t, f.Rank(), test.ShouldEqual, 0)

	_, err := f.Solve([]float64{1, 1})
	test.That(t, err, test.ShouldNotBeNil)
}

// TestLevenbergMarquardtMinimizesQuadratic fits a 1-parameter linear
// residual r(x) = 2x - 6, whose least-squares minimum is x = 3.
func TestLevenbergMarquardtMinimizesQuadratic(t *testing.T) {
	lm := NewLevenbergMarquardt()
	residual := func(x []float64) ([]float64, SparseMatrix, error) {
		r := []float64{2*x[0] - 6}
		jac := SparseMatrix{Rows: 1, Cols: 1, Entries: []Triplet{{Row: 0, Col: 0, Val: 2}}}
		return r, jac, nil
	}

	result, err := lm.Optimize(context.Background(), []float64{0}, residual)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.X[0], test.ShouldAlmostEqual, 3, 1e-6)
	test.That(t, result.Cost, test.ShouldBeLessThan, 1e-10)
}

// TestLevenbergMarquardtMinimizesRosenbrock exercises a nonlinear,
// curved residual surface (the classic Rosenbrock least-squares form),
// whose minimum is at (1, 1).
func TestLevenbergMarquardtMinimizesRosenbrock(t *testing.T) {
	lm := NewLevenbergMarquardt()
	residual := func(x []float64) ([]float64, SparseMatrix, error) {
		r := []float64{10 * (x[1] - x[0]*x[0]), 1 - x[0]}
		jac := SparseMatrix{Rows: 2, Cols: 2, Entries: []Triplet{
			{Row: 0, Col: 0, Val: -20 * x[0]}, {Row: 0, Col: 1, Val: 10},
			{Row: 1, Col: 0, Val: -1}, {Row: 1, Col: 1, Val: 0},
		}}
		return r, jac, nil
	}

	result, err := lm.Optimize(context.Background(), []float64{-1.2, 1}, residual)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(result.X[0]-1), test.ShouldBeLessThan, 1e-3)
	test.That(t, math.Abs(result.X[1]-1), test.ShouldBeLessThan, 1e-3)
}

func TestLevenbergMarquardtRespectsContextCancellation(t *testing.T) {
	lm := NewLevenbergMarquardt()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	residual := func(x []float64) ([]float64, SparseMatrix, error) {
		calls++
		r := []float64{2*x[0] - 6}
		jac := SparseMatrix{Rows: 1, Cols: 1, Entries: []Triplet{{Row: 0, Col: 0, Val: 2}}}
		return r, jac, nil
	}

	_, err := lm.Optimize(ctx, []float64{0}, residual)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
