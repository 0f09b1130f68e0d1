package calib

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidLensModel is returned for an unknown lens-model name or a
// configuration the registry rejects.
var ErrInvalidLensModel = errors.New("calib: invalid lens model")

// ErrUnsupportedOperation covers operations a model family does not
// support: CAHVORE gradients, unprojecting a coreless model.
var ErrUnsupportedOperation = errors.New("calib: unsupported operation")

// ErrSingularNormalEquations names the singular-factorization failure.
// Optimize does not return it: a covariance factorization that does not
// reach full rank leaves that output NaN and sets Result.CovarianceFailed.
var ErrSingularNormalEquations = errors.New("calib: singular normal equations")

// ErrAllocationFailed names a fatal allocation failure. No function in
// this package returns it.
var ErrAllocationFailed = errors.New("calib: allocation failed")

// ErrSolverFailure is returned when the external solver reports a
// non-finite residual norm; the outer solve aborts immediately with no
// outlier re-run or covariance extraction attempted.
var ErrSolverFailure = errors.New("calib: solver failed to converge to a finite cost")

// ErrInvalidPointGeometry marks a tracked point whose z left (0,
// 50000): the bundle assembler never aborts on this, instead scaling
// that point's residual by a large penalty (bundle.PointGeometryZMin/
// Max); this sentinel exists for a future hard-validation entry point,
// not yet wired into Optimize/Project/Unproject.
var ErrInvalidPointGeometry = errors.New("calib: point geometry outside valid depth range")

// UnprojectionDidNotConvergeError is a typed error carrying the index
// of the pixel whose unprojection iteration failed to reach the
// required tolerance. Unproject does not return it: it writes NaN for
// such a pixel and logs one warning per call.
type UnprojectionDidNotConvergeError struct {
	Index    int
	Residual float64
}

func (e *UnprojectionDidNotConvergeError) Error() string {
	return fmt.Sprintf("calib: unprojection did not converge at index %d (residual %.6g)", e.Index, e.Residual)
}

// Is matches any *UnprojectionDidNotConvergeError regardless of its
// fields, so callers can `errors.Is(err, &UnprojectionDidNotConvergeError{})`.
func (e *UnprojectionDidNotConvergeError) Is(target error) bool {
	_, ok := target.(*UnprojectionDidNotConvergeError)
	return ok
}
