package calib

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/projection"
)

// ProjectedPoint is one batch-projection output: the pixel, and
// (when requested) its Jacobians.
type ProjectedPoint struct {
	Q             projection.Point2
	DQDP          projection.Jacobian2x3 // zero if gradients were not requested
	DQDIntrinsics []float64              // dense, row-stride NumIntrinsics(model); nil if not requested
	HaveGradients bool
}

// Project maps each camera-frame point through model with the given
// intrinsics, per spec_full.md section 4.7: identical per-point
// semantics to projection.ProjectCamera, batched, with splined-sparse
// Jacobians densified to a uniform row stride so callers never have to
// special-case the lens model. CAHVORE is supported only with
// needGrad=false, matching projection.ProjectCAHVORE's own restriction.
//
// ctx is checked between points only (spec_full.md section 5); it is
// never threaded into the per-point math itself.
func Project(ctx context.Context, m lensmodel.Model, intrinsics []float64, points []r3.Vector, needGrad bool) ([]ProjectedPoint, error) {
	nIntr, err := lensmodel.NumIntrinsics(m)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidLensModel, "project: %v", err)
	}

	out := make([]ProjectedPoint, len(points))
	for i, p := range points {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		res, err := projection.ProjectCamera(m, intrinsics, p, needGrad)
		if err != nil {
			if errors.Is(err, projection.ErrUnsupportedGradient) {
				return nil, errors.Wrapf(ErrUnsupportedOperation, "project point %d: %v", i, err)
			}
			return nil, errors.Wrapf(err, "project point %d", i)
		}

		pp := ProjectedPoint{Q: res.Q, HaveGradients: res.HaveGradients}
		if needGrad {
			pp.DQDP = res.DQDP
			pp.DQDIntrinsics = densifyIntrinsicsJacobian(res.DQDIntrinsics, nIntr)
		}
		out[i] = pp
	}
	return out, nil
}

// densifyIntrinsicsJacobian returns jac.Dense unchanged when the model
// already writes a dense row, or expands a splined control-point tile
// into a full nIntr-wide row pair, per spec_full.md section 4.7's
// "Returns dense Jacobians by densifying splined-sparse results into
// row stride Nintrinsics" requirement.
func densifyIntrinsicsJacobian(jac projection.IntrinsicsJacobian, nIntr int) []float64 {
	if jac.Dense != nil {
		return jac.Dense
	}
	dense := make([]float64, 2*nIntr)
	sj := jac.Splined
	if sj == nil {
		return dense
	}
	for iy := 0; iy < 4; iy++ {
		for ix := 0; ix < 4; ix++ {
			w := sj.CoefX[ix] * sj.CoefY[iy]
			col := (sj.IY0+iy)*sj.Stride + (sj.IX0+ix)*2
			dense[col+0] = sj.U[0] * w
			dense[nIntr+col+1] = sj.U[1] * w
		}
	}
	return dense
}

// unprojectConvergenceThreshold is the squared-residual tolerance below
// which a per-pixel unprojection solve is accepted, per spec_full.md
// section 4.7 ("fail to converge below 1e-4 squared-residual").
const unprojectConvergenceThreshold = 1e-4

// Unproject maps each pixel q back to a camera-frame ray with z = 1,
// seeding from the pinhole inverse and refining with a damped
// Gauss-Newton iteration against the 2-parameter (x, y) residual
// q_hypothesis(x, y, 1) - q, the same approach as the original
// implementation's dogleg-based `_unproject`. Points that fail to
// converge are returned as {NaN, NaN, 1}; per spec_full.md section 4.7
// ("emits one warning per run"), at most one warning is logged per
// Unproject call, naming the first pixel index that failed.
func Unproject(ctx context.Context, m lensmodel.Model, intrinsics []float64, pixels []projection.Point2, logger *logging.Logger) ([]r3.Vector, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var warnOnce sync.Once
	hasCore, err := lensmodel.HasCore(m)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidLensModel, "unproject: %v", err)
	}
	if !hasCore {
		return nil, errors.Wrapf(ErrUnsupportedOperation, "unproject: model %v has no pinhole core", m.Variant)
	}
	if m.Variant == lensmodel.CAHVORE {
		return nil, errors.Wrapf(ErrUnsupportedOperation, "unproject: CAHVORE is not supported")
	}

	fx, fy, cx, cy := projection.ReadCore(intrinsics)

	out := make([]r3.Vector, len(pixels))
	for i, q := range pixels {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if m.Variant == lensmodel.Pinhole {
			out[i] = r3.Vector{X: (q.X - cx) / fx, Y: (q.Y - cy) / fy, Z: 1}
			continue
		}

		x, y := (q.X-cx)/fx, (q.Y-cy)/fy
		residual2, converged := unprojectOnePoint(m, intrinsics, q, &x, &y)
		if !converged {
			warnOnce.Do(func() {
				logger.Warnw("unprojection did not converge for one or more pixels; returning NaN", "index", i, "residual2", residual2)
			})
			out[i] = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: 1}
			continue
		}
		out[i] = r3.Vector{X: x, Y: y, Z: 1}
	}
	return out, nil
}

// unprojectOnePoint runs a damped Gauss-Newton solve for the camera-ray
// (x, y, 1) whose projection matches q, starting from the caller's seed
// *x, *y. It mutates *x, *y in place and reports whether the final
// squared residual met unprojectConvergenceThreshold.
func unprojectOnePoint(m lensmodel.Model, intrinsics []float64, q projection.Point2, x, y *float64) (float64, bool) {
	const maxIterations = 50
	lambda := 1e-3

	eval := func(x, y float64) (rx, ry float64, j00, j01, j10, j11 float64, ok bool) {
		res, err := projection.ProjectCamera(m, intrinsics, r3.Vector{X: x, Y: y, Z: 1}, true)
		if err != nil {
			return 0, 0, 0, 0, 0, 0, false
		}
		return res.Q.X - q.X, res.Q.Y - q.Y, res.DQDP.DX.X, res.DQDP.DX.Y, res.DQDP.DY.X, res.DQDP.DY.Y, true
	}

	rx, ry, j00, j01, j10, j11, ok := eval(*x, *y)
	if !ok {
		return math.Inf(1), false
	}
	cost := (rx*rx + ry*ry) / 2

	for iter := 0; iter < maxIterations; iter++ {
		if 2*cost < unprojectConvergenceThreshold {
			return 2 * cost, true
		}

		// Normal equations for the 2x2 linear system (JᵀJ + λ diag(JᵀJ)) dx = -Jᵀr.
		a00 := j00*j00 + j10*j10
		a01 := j00*j01 + j10*j11
		a11 := j01*j01 + j11*j11
		b0 := j00*rx + j10*ry
		b1 := j01*rx + j11*ry

		accepted := false
		for step := 0; step < 30; step++ {
			d00 := a00 * (1 + lambda)
			d11 := a11 * (1 + lambda)
			det := d00*d11 - a01*a01
			if math.Abs(det) < 1e-300 {
				lambda *= 10
				continue
			}
			dx := -(d11*b0 - a01*b1) / det
			dy := -(d00*b1 - a01*b0) / det

			trialX, trialY := *x+dx, *y+dy
			trx, try, tj00, tj01, tj10, tj11, ok := eval(trialX, trialY)
			if !ok {
				lambda *= 10
				continue
			}
			trialCost := (trx*trx + try*try) / 2
			if trialCost < cost {
				*x, *y = trialX, trialY
				rx, ry, j00, j01, j10, j11 = trx, try, tj00, tj01, tj10, tj11
				cost = trialCost
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			return 2 * cost, 2*cost < unprojectConvergenceThreshold
		}
	}
	return 2 * cost, 2*cost < unprojectConvergenceThreshold
}
