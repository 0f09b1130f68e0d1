package projection

import (
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/lensmodel"
)

// ProjectCamera dispatches to the family-specific kernel for a point
// already expressed in camera coordinates.
func ProjectCamera(m lensmodel.Model, intrinsics []float64, p r3.Vector, needGrad bool) (Result, error) {
	switch m.Variant {
	case lensmodel.Pinhole:
		return ProjectPinhole(m, intrinsics, p, needGrad)
	case lensmodel.OpenCV4, lensmodel.OpenCV5, lensmodel.OpenCV8, lensmodel.OpenCV12:
		return ProjectOpenCV(m, intrinsics, p, needGrad)
	case lensmodel.CAHVOR:
		return ProjectCAHVOR(m, intrinsics, p, needGrad)
	case lensmodel.CAHVORE:
		if needGrad {
			return Result{}, ErrUnsupportedGradient
		}
		return ProjectCAHVORE(m, intrinsics, p)
	case lensmodel.SplinedStereographic:
		return ProjectSplined(m, intrinsics, p, needGrad)
	default:
		return Result{}, lensmodel.ErrUnknownName
	}
}
