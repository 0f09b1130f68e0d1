package calib

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/bundle"
	"go.viam.com/camcalib/covariance"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/solverapi"
	"go.viam.com/camcalib/state"
)

// Problem is the public front door's calibration problem: a
// bundle.Problem (dimensions, flags, observations) plus the starting
// physical parameter guess and the external collaborators (solver and
// factorization) the solve is driven through.
type Problem struct {
	Bundle *bundle.Problem
	Seed   state.PhysicalBlocks

	Solver      solverapi.Solver
	Factorizer  func() solverapi.Factorization
	SigmaPixels float64 // observation noise, used to scale covariance outputs

	Logger *logging.Logger
}

// Result is the outcome of one Optimize call: the converged physical
// parameters, the final outlier report, and (when requested) the
// per-camera intrinsics/extrinsics covariance.
type Result struct {
	Final            state.PhysicalBlocks
	Packed           []float64
	SolverResult     solverapi.Result
	OutlierReport    bundle.OutlierReport
	IntrinsicsCov    []covarianceOrNaN // len NumCameras, index by camera
	ExtrinsicsCov    covarianceOrNaN
	CovarianceFailed bool
}

// covarianceOrNaN carries either a symmetric covariance matrix (row
// major) or, when the underlying factorization came back singular, a
// same-shaped matrix filled with NaN — per spec_full.md section 7:
// "Covariance failures fill their output buffers with NaN ... rather
// than aborting the solve."
type covarianceOrNaN struct {
	Dim  int
	Data []float64 // Dim*Dim, row major; all NaN on failure
}

func nanMatrix(dim int) covarianceOrNaN {
	data := make([]float64, dim*dim)
	for i := range data {
		data[i] = math.NaN()
	}
	return covarianceOrNaN{Dim: dim, Data: data}
}

// Optimize packs p.Seed, drives p.Solver to convergence against
// bundle.Assemble's residual/Jacobian, runs one outlier-marking pass
// (bundle.MarkOutliers), and — when a Factorizer is supplied — extracts
// intrinsics/extrinsics covariance from the converged factorization.
//
// Per spec_full.md section 7, a SolverFailure aborts immediately: no
// outlier re-run and no covariance extraction are attempted. A
// covariance extraction failure (singular normal equations) does not
// abort the solve; it fills that output with NaN and logs a
// diagnostic.
func Optimize(ctx context.Context, p *Problem) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	n := state.NumState(p.Bundle.Dims, p.Bundle.PD)
	packed := make([]float64, n)
	if err := state.Pack(p.Bundle.Dims, p.Bundle.PD, p.Seed, packed); err != nil {
		return Result{}, errors.Wrap(err, "pack seed state")
	}

	residualFn := func(x []float64) ([]float64, solverapi.SparseMatrix, error) {
		asm, err := bundle.Assemble(p.Bundle, x)
		if err != nil {
			return nil, solverapi.SparseMatrix{}, err
		}
		return asm.Residual, asm.Jacobian.ToSparseMatrix(len(asm.Residual), n), nil
	}

	solveResult, err := p.Solver.Optimize(ctx, packed, residualFn)
	if err != nil {
		return Result{}, errors.Wrap(ErrSolverFailure, err.Error())
	}
	if !isFinite(solveResult.Cost) {
		return Result{}, errors.Wrapf(ErrSolverFailure, "solver returned non-finite cost %v", solveResult.Cost)
	}

	var final state.PhysicalBlocks
	if err := state.Unpack(p.Bundle.Dims, p.Bundle.PD, solveResult.X, &final); err != nil {
		return Result{}, errors.Wrap(err, "unpack converged state")
	}

	outlierReport, err := bundle.MarkOutliers(p.Bundle, solveResult.X, logger)
	if err != nil {
		return Result{}, errors.Wrap(err, "mark outliers")
	}

	result := Result{
		Final:         final,
		Packed:        solveResult.X,
		SolverResult:  solveResult,
		OutlierReport: outlierReport,
	}

	if p.Factorizer != nil {
		extractCovariance(&result, p, solveResult.X, n, logger)
	}

	return result, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func extractCovariance(result *Result, p *Problem, packed []float64, n int, logger *logging.Logger) {
	asm, err := bundle.Assemble(p.Bundle, packed)
	if err != nil {
		logger.Errorw("covariance: re-assembly failed", "err", err)
		result.CovarianceFailed = true
		return
	}
	jac := asm.Jacobian.ToSparseMatrix(len(asm.Residual), n)

	fact := p.Factorizer()
	jtj := normalEquationsOf(jac, n)
	width := state.IntrinsicsBlockWidth(p.Bundle.Dims, p.Bundle.PD)
	if err := fact.Factorize(jtj); err != nil {
		logger.Errorw("covariance: factorization failed", "err", err)
		result.CovarianceFailed = true
		result.IntrinsicsCov = make([]covarianceOrNaN, p.Bundle.Dims.NumCameras)
		for cam := range result.IntrinsicsCov {
			result.IntrinsicsCov[cam] = nanMatrix(width)
		}
		if p.Bundle.PD.OptimizeExtrinsics && p.Bundle.Dims.NumCameras > 1 {
			result.ExtrinsicsCov = nanMatrix(6 * (p.Bundle.Dims.NumCameras - 1))
		}
		return
	}

	sigmaPx := p.SigmaPixels
	if sigmaPx <= 0 {
		sigmaPx = 1
	}

	result.IntrinsicsCov = make([]covarianceOrNaN, p.Bundle.Dims.NumCameras)
	for cam := 0; cam < p.Bundle.Dims.NumCameras; cam++ {
		sym, err := covariance.IntrinsicsFull(fact, p.Bundle.Dims, p.Bundle.PD, cam, n, sigmaPx)
		if err != nil {
			logger.Warnw("covariance: intrinsics extraction failed", "camera", cam, "err", err)
			result.IntrinsicsCov[cam] = nanMatrix(width)
			result.CovarianceFailed = true
			continue
		}
		result.IntrinsicsCov[cam] = symToCovariance(sym)
	}

	// Only the pixel/range observation rows carry measurement noise;
	// the regularization rows that follow them are a prior, not an
	// observation, so they are excluded from the streamed covariance.
	nObservationRows := asm.Counts.NBoardRows + asm.Counts.NPointPixelRows + asm.Counts.NRangeRows

	if p.Bundle.PD.OptimizeExtrinsics && p.Bundle.Dims.NumCameras > 1 {
		width := 6 * (p.Bundle.Dims.NumCameras - 1)
		sym, err := covariance.Extrinsics(fact, jac, p.Bundle.Dims, p.Bundle.PD, n, nObservationRows, sigmaPx)
		if err != nil {
			logger.Warnw("covariance: extrinsics extraction failed", "err", err)
			result.ExtrinsicsCov = nanMatrix(width)
			result.CovarianceFailed = true
		} else {
			result.ExtrinsicsCov = symToCovariance(sym)
		}
	}
}

// symToCovariance copies a gonum symmetric matrix into this package's
// own row-major covarianceOrNaN shape, so calib's public Result doesn't
// leak a gonum type into its API.
func symToCovariance(sym *mat.SymDense) covarianceOrNaN {
	dim, _ := sym.Dims()
	data := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			data[i*dim+j] = sym.At(i, j)
		}
	}
	return covarianceOrNaN{Dim: dim, Data: data}
}

// normalEquationsOf builds the dense-summed JᵀJ triplets from jac's
// per-row entries. Small calibration problems keep this tractable; see
// solverapi.GonumFactorization's own doc comment for the same
// tradeoff.
func normalEquationsOf(jac solverapi.SparseMatrix, n int) solverapi.SparseMatrix {
	byRow := make(map[int][]solverapi.Triplet)
	for _, e := range jac.Entries {
		byRow[e.Row] = append(byRow[e.Row], e)
	}
	acc := make(map[[2]int]float64)
	for _, row := range byRow {
		for _, a := range row {
			for _, b := range row {
				if a.Col > b.Col {
					continue
				}
				acc[[2]int{a.Col, b.Col}] += a.Val * b.Val
			}
		}
	}
	jtj := solverapi.SparseMatrix{Rows: n, Cols: n}
	for k, v := range acc {
		jtj.Entries = append(jtj.Entries, solverapi.Triplet{Row: k[0], Col: k[1], Val: v})
	}
	return jtj
}
