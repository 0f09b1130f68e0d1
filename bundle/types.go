// Package bundle assembles the weighted residual vector and Jacobian for
// one packed-state evaluation, and implements the between-solve outlier
// policy. It is the pure "compute residuals and Jacobian from packed
// state" callback an external solver drives, per spec_full.md section 1.
package bundle

import (
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/pose"
	"go.viam.com/camcalib/state"
)

// Corner is one observed board-corner pixel, row-major within its board
// observation's W x W grid.
type Corner struct {
	X, Y    float64
	Weight  float64
	Outlier bool
}

// BoardObservation is one sighting of the calibration target by one
// camera: a W x W grid of observed corners plus the frame (board pose)
// index that sighting belongs to.
type BoardObservation struct {
	Camera, Frame int
	Width         int
	Corners       []Corner // len Width*Width, row-major
	Skip          bool
}

// PointObservation is one sighting of an isolated tracked point.
type PointObservation struct {
	Camera, Point int
	X, Y          float64
	Weight        float64
	HasDistance   bool
	Distance      float64
}

// ROI is a per-camera region of interest: an ellipse centered at (Cx,
// Cy) with radii (Rx, Ry); corners/points whose normalized squared
// radius from the center reaches 1 or more are down-weighted to
// roiOutsideWeight rather than excluded, per spec.md's glossary entry
// ("ellipse-like weight") and mrcal.c's
// region_of_interest_weight/region_of_interest_weight_from_unitless_rad.
type ROI struct {
	Active bool
	Cx, Cy float64
	Rx, Ry float64
}

const roiOutsideWeight = 1e-3

// Weight returns 1.0 if (x, y) falls within the ROI ellipse (or the
// ROI is inactive), else roiOutsideWeight. dx, dy are the offset from
// the ellipse center normalized by its radii; the test is on their
// squared sum against unit radius, not independent per-axis bounds.
func (r ROI) Weight(x, y float64) float64 {
	if !r.Active {
		return 1.0
	}
	dx := (x - r.Cx) / r.Rx
	dy := (y - r.Cy) / r.Ry
	if dx*dx+dy*dy < 1.0 {
		return 1.0
	}
	return roiOutsideWeight
}

// PointGeometryZMin and PointGeometryZMax bound valid tracked-point
// depth, per spec_full.md section 6; violations scale that point's
// pixel residuals by pointGeometryPenalty instead of failing the solve.
const (
	PointGeometryZMin    = 0.0
	PointGeometryZMax    = 50000.0
	pointGeometryPenalty = 1e6
	distanceToPixelScale = 1.0
)

// Problem bundles everything the assembler needs for one evaluation: the
// problem dimensions/flags (state.Dims/state.ProblemDetails), the fixed
// observation set, and the caller-owned physical parameter blocks.
type Problem struct {
	Dims state.Dims
	PD   state.ProblemDetails

	// BoardSpacing is the physical distance, in the same units as the
	// optimized translations, between adjacent corners of the
	// calibration target's grid.
	BoardSpacing float64

	ImagerSizes []state.ImagerSize // len Dims.NumCameras
	ROIs        []ROI              // len Dims.NumCameras

	BoardObservations []BoardObservation
	PointObservations []PointObservation

	Logger *logging.Logger
}

// physicalFromPacked is a small helper bundling the unpacked blocks used
// throughout assembly; populated once per Assemble call via state.Unpack.
type physicalFromPacked struct {
	intrinsics [][]float64
	extrinsics []pose.Pose
	frames     []pose.Pose
	points     []r3.Vector
	warp       state.CalObjectWarp
}
