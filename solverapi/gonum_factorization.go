package solverapi

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned by GonumFactorization.Solve when the
// normal equations did not factor to full rank, per spec_full.md
// section 4.6's "singular normal equations" failure mode.
var ErrSingular = errors.New("solverapi: singular normal equations")

// GonumFactorization is this repo's own reference Factorization,
// backed by gonum's dense Cholesky decomposition. Production callers
// are expected to supply a sparse-aware factorization of their own;
// this one exists so this repo's tests (and its reference Solver) have
// something concrete to run against, per spec_full.md section 9.
type GonumFactorization struct {
	n     int
	chol  mat.Cholesky
	valid bool
}

// Factorize densifies jtj (small calibration problems keep JᵀJ's
// dimension in the hundreds at most) and runs Cholesky on it.
func (f *GonumFactorization) Factorize(jtj SparseMatrix) error {
	dense := mat.NewSymDense(jtj.Rows, nil)
	for _, t := range jtj.Entries {
		if t.Row > t.Col {
			continue // SymDense is upper-triangular-backed; skip the mirrored half
		}
		dense.SetSym(t.Row, t.Col, dense.At(t.Row, t.Col)+t.Val)
	}

	f.n = jtj.Rows
	f.valid = f.chol.Factorize(dense)
	return nil
}

// Solve returns x solving the factorized JᵀJ * x = rhs.
func (f *GonumFactorization) Solve(rhs []float64) ([]float64, error) {
	if !f.valid {
		return nil, ErrSingular
	}
	b := mat.NewVecDense(len(rhs), rhs)
	var x mat.VecDense
	if err := f.chol.SolveVecTo(&x, b); err != nil {
		return nil, errors.Wrap(ErrSingular, err.Error())
	}
	return x.RawVector().Data, nil
}

// Rank returns n when the Cholesky factorization succeeded (full rank
// to within gonum's own pivoting tolerance), 0 otherwise. gonum's
// Cholesky does not expose a partial rank for indefinite matrices, so
// this reference implementation only distinguishes full rank from
// singular rather than reporting an exact deficient rank.
func (f *GonumFactorization) Rank() int {
	if !f.valid {
		return 0
	}
	return f.n
}
