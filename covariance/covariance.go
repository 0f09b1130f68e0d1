// Package covariance extracts parameter uncertainty from a converged
// calibration's factorized normal equations, per spec_full.md section
// 4.6. It never refits; it consumes the caller's own
// solverapi.Factorization of JᵀJ (in the state-scaled packed basis)
// together with the assembled Jacobian's streamed observation rows.
package covariance

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/solverapi"
	"go.viam.com/camcalib/state"
)

// ErrSingular is returned when the supplied factorization did not
// reach full rank.
var ErrSingular = errors.New("covariance: singular normal equations")

// IntrinsicsFull solves JᵀJ*X = E_intr for camera cam's intrinsics
// block (E_intr the selector placing identity columns at that block,
// per spec_full.md section 4.6) and returns sigmaPx^2 times the
// intrinsic-block submatrix of X: the full (including regularization's
// prior-like contribution) per-camera intrinsics covariance.
func IntrinsicsFull(fact solverapi.Factorization, dims state.Dims, pd state.ProblemDetails, cam int, n int, sigmaPx float64) (*mat.SymDense, error) {
	if fact.Rank() < n {
		return nil, ErrSingular
	}
	base := state.StateIndexIntrinsics(dims, pd, cam)
	if base < 0 {
		return nil, errors.New("covariance: camera's intrinsics are not optimized")
	}
	width := state.IntrinsicsBlockWidth(dims, pd)

	cov := mat.NewSymDense(width, nil)
	for k := 0; k < width; k++ {
		rhs := make([]float64, n)
		rhs[base+k] = 1
		x, err := fact.Solve(rhs)
		if err != nil {
			return nil, errors.Wrap(ErrSingular, err.Error())
		}
		for row := k; row < width; row++ {
			cov.SetSym(k, row, x[base+row]*sigmaPx*sigmaPx)
		}
	}
	return cov, nil
}

// streamedBlockCovariance accumulates sum(outer(M_row, M_row)) over
// [base, base+width) of M = (JᵀJ)⁻¹ Jᵀ_obs, reading jac one
// observation row at a time so the full dense Jacobian is never
// materialized at once.
func streamedBlockCovariance(fact solverapi.Factorization, jac solverapi.SparseMatrix, n, nObservationRows, base, width int, sigmaPx float64) (*mat.SymDense, error) {
	rowsByIndex := make(map[int][]solverapi.Triplet)
	for _, t := range jac.Entries {
		if t.Row < nObservationRows {
			rowsByIndex[t.Row] = append(rowsByIndex[t.Row], t)
		}
	}

	accum := mat.NewSymDense(width, nil)
	for row := 0; row < nObservationRows; row++ {
		entries := rowsByIndex[row]
		if len(entries) == 0 {
			continue
		}
		jRow := make([]float64, n)
		for _, t := range entries {
			jRow[t.Col] = t.Val
		}
		m, err := fact.Solve(jRow)
		if err != nil {
			return nil, errors.Wrap(ErrSingular, err.Error())
		}
		mBlock := m[base : base+width]
		for i := 0; i < width; i++ {
			for j := i; j < width; j++ {
				accum.SetSym(i, j, accum.At(i, j)+mBlock[i]*mBlock[j])
			}
		}
	}

	accum.ScaleSym(sigmaPx*sigmaPx, accum)
	return accum, nil
}

// IntrinsicsFromObservations streams jac's observation rows and
// accumulates sum(outer(M_row, M_row)) over camera cam's intrinsics
// columns, where M = (JᵀJ)⁻¹ Jᵀ_obs, isolating pixel-noise-driven
// uncertainty from the regularization prior's contribution (unlike
// IntrinsicsFull, which includes both).
func IntrinsicsFromObservations(fact solverapi.Factorization, jac solverapi.SparseMatrix, dims state.Dims, pd state.ProblemDetails, cam int, n int, nObservationRows int, sigmaPx float64) (*mat.SymDense, error) {
	if fact.Rank() < n {
		return nil, ErrSingular
	}
	base := state.StateIndexIntrinsics(dims, pd, cam)
	if base < 0 {
		return nil, errors.New("covariance: camera's intrinsics are not optimized")
	}
	width := state.IntrinsicsBlockWidth(dims, pd)
	return streamedBlockCovariance(fact, jac, n, nObservationRows, base, width, sigmaPx)
}

// Extrinsics streams jac's observation rows exactly as
// IntrinsicsFromObservations does, but accumulates over the full
// 6(N-1)-wide extrinsics block (camera 0 excluded: it has no
// extrinsics state, being the fixed reference pose).
func Extrinsics(fact solverapi.Factorization, jac solverapi.SparseMatrix, dims state.Dims, pd state.ProblemDetails, n int, nObservationRows int, sigmaPx float64) (*mat.SymDense, error) {
	if fact.Rank() < n {
		return nil, ErrSingular
	}
	if !pd.OptimizeExtrinsics || dims.NumCameras < 2 {
		return nil, errors.New("covariance: no extrinsics state to report")
	}
	base := state.StateIndexCameraRT(dims, pd, 1)
	width := 6 * (dims.NumCameras - 1)
	return streamedBlockCovariance(fact, jac, n, nObservationRows, base, width, sigmaPx)
}
