// Package solverapi defines the boundary between the calibration core
// and an external nonlinear least-squares solver: the core only ever
// asks for a residual+Jacobian evaluation and a linear solve against
// the normal equations it assembled, per spec_full.md section 9's
// "opaque external solver context" design note. Nothing in this repo's
// own code depends on a concrete solver; calib wires in whichever
// Solver/Factorization a caller supplies, defaulting to this package's
// own gonum-backed reference implementations in its tests.
package solverapi

import "context"

// Triplet is one (row, col, value) entry of a sparse matrix in
// coordinate (COO) form. Duplicate (row, col) pairs are summed.
type Triplet struct {
	Row, Col int
	Val      float64
}

// SparseMatrix is a row/col-indexed sparse matrix in COO form — the
// shape bundle.Sink already accumulates its Jacobian entries in. No
// sparse-matrix library appears anywhere in the retrieval pack (gonum
// itself ships only dense mat.Dense), so this is this repo's own
// minimal adapter rather than a borrowed third-party type.
type SparseMatrix struct {
	Rows, Cols int
	Entries    []Triplet
}

// ResidualFunc evaluates the weighted residual vector and its Jacobian
// at x. This mirrors bundle.Assemble's signature shape without this
// package depending on bundle directly.
type ResidualFunc func(x []float64) (residual []float64, jacobian SparseMatrix, err error)

// Factorization is a solver-owned factorization of JᵀJ (the normal
// equations of a ResidualFunc's Jacobian, in the state-scaled packed
// basis), used both during the solve's linear sub-steps and afterward
// by the covariance extractor.
type Factorization interface {
	// Factorize computes (or refreshes) the factorization of jtj = JᵀJ.
	Factorize(jtj SparseMatrix) error
	// Solve returns x solving (the factorized JᵀJ) * x = rhs.
	Solve(rhs []float64) ([]float64, error)
	// Rank reports the factorization's numerical rank; Rank() < n means
	// the normal equations are singular.
	Rank() int
}

// Result is one Solver.Optimize outcome.
type Result struct {
	X          []float64
	Cost       float64 // 0.5 * sum(residual^2) at X
	Iterations int
	Converged  bool
}

// Solver drives a nonlinear least-squares optimization to convergence,
// given a starting point and a residual callback.
type Solver interface {
	Optimize(ctx context.Context, x0 []float64, residual ResidualFunc) (Result, error)
}
