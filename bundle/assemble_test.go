package bundle

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
	"go.viam.com/camcalib/projection"
	"go.viam.com/camcalib/state"
)

func pinholeDims(numCameras, numFrames, numPoints int) state.Dims {
	return state.Dims{NumCameras: numCameras, NumFrames: numFrames, NumPoints: numPoints, Model: lensmodel.New(lensmodel.Pinhole)}
}

func buildBoardObservation(t *testing.T, m lensmodel.Model, intr []float64, framePose pose.Pose, camera, frame, width int, spacing float64) BoardObservation {
	t.Helper()
	obs := BoardObservation{Camera: camera, Frame: frame, Width: width, Corners: make([]Corner, width*width)}
	for i := 0; i < width; i++ {
		for j := 0; j < width; j++ {
			boardPoint := r3.Vector{X: float64(j) * spacing, Y: float64(i) * spacing}
			jres, err := projection.ProjectJoint(m, intr, pose.Identity(), framePose, boardPoint, camera == 0, projection.WarpDeflectionGrad{}, false)
			test.That(t, err, test.ShouldBeNil)
			obs.Corners[i*width+j] = Corner{X: jres.Q.X, Y: jres.Q.Y, Weight: 1}
		}
	}
	return obs
}

func TestAssembleBoardResidualsZeroAtExactFit(t *testing.T) {
	dims := pinholeDims(1, 1, 0)
	pd := state.ProblemDetails{OptimizeIntrinsicCore: true, OptimizeFrames: true}

	intr := []float64{1000, 1000, 640, 360}
	framePose := pose.Pose{Rotation: r3.Vector{X: 0.1, Y: 0.05, Z: -0.02}, Translation: r3.Vector{X: 0, Y: 0, Z: 1000}}

	p := &Problem{
		Dims:         dims,
		PD:           pd,
		BoardSpacing: 30,
		ImagerSizes:  []state.ImagerSize{{Width: 1280, Height: 720}},
		BoardObservations: []BoardObservation{
			buildBoardObservation(t, dims.Model, intr, framePose, 0, 0, 4, 30),
		},
	}

	packed := make([]float64, state.NumState(dims, pd))
	test.That(t, state.Pack(dims, pd, state.PhysicalBlocks{
		Intrinsics: [][]float64{intr},
		Extrinsics: []pose.Pose{pose.Identity()},
		Frames:     []pose.Pose{framePose},
		Points:     nil,
	}, packed), test.ShouldBeNil)

	asm, err := Assemble(p, packed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(asm.Residual), test.ShouldEqual, asm.Counts.Total())

	for _, r := range asm.Residual[:asm.Counts.NBoardRows] {
		test.That(t, math.Abs(r), test.ShouldBeLessThan, 1e-6)
	}

	n := state.NumState(dims, pd)
	for _, c := range asm.Jacobian.Cols {
		test.That(t, c, test.ShouldBeLessThan, n)
		test.That(t, c, test.ShouldBeGreaterThanOrEqualTo, 0)
	}
}

func TestAssembleSkippedObservationZerosResidualButKeepsFrameRank(t *testing.T) {
	dims := pinholeDims(1, 1, 0)
	pd := state.ProblemDetails{OptimizeIntrinsicCore: true, OptimizeFrames: true}

	intr := []float64{1000, 1000, 640, 360}
	framePose := pose.Pose{Translation: r3.Vector{Z: 1000}}

	obs := buildBoardObservation(t, dims.Model, intr, framePose, 0, 0, 2, 30)
	obs.Skip = true

	p := &Problem{
		Dims:              dims,
		PD:                pd,
		BoardSpacing:      30,
		ImagerSizes:       []state.ImagerSize{{Width: 1280, Height: 720}},
		BoardObservations: []BoardObservation{obs},
	}

	packed := make([]float64, state.NumState(dims, pd))
	test.That(t, state.Pack(dims, pd, state.PhysicalBlocks{
		Intrinsics: [][]float64{intr},
		Extrinsics: []pose.Pose{pose.Identity()},
		Frames:     []pose.Pose{framePose},
	}, packed), test.ShouldBeNil)

	asm, err := Assemble(p, packed)
	test.That(t, err, test.ShouldBeNil)

	for _, r := range asm.Residual[:asm.Counts.NBoardRows] {
		test.That(t, r, test.ShouldEqual, 0)
	}

	foundNonzeroFrameEntry := false
	frameBase := state.StateIndexFrameRT(dims, pd, 0)
	for k, c := range asm.Jacobian.Cols {
		if c >= frameBase && c < frameBase+6 && asm.Jacobian.Vals[k] != 0 {
			foundNonzeroFrameEntry = true
		}
	}
	test.That(t, foundNonzeroFrameEntry, test.ShouldBeTrue)
}

func TestAssemblePointObservationWithDistance(t *testing.T) {
	dims := pinholeDims(1, 0, 1)
	pd := state.ProblemDetails{OptimizeIntrinsicCore: true}

	intr := []float64{1000, 1000, 640, 360}
	point := r3.Vector{X: 10, Y: -5, Z: 2000}

	jres, err := projection.ProjectJoint(dims.Model, intr, pose.Identity(), pose.Identity(), point, true, projection.WarpDeflectionGrad{}, false)
	test.That(t, err, test.ShouldBeNil)

	p := &Problem{
		Dims: dims,
		PD:   pd,
		PointObservations: []PointObservation{
			{Camera: 0, Point: 0, X: jres.Q.X, Y: jres.Q.Y, Weight: 1, HasDistance: true, Distance: point.Norm()},
		},
	}

	packed := make([]float64, state.NumState(dims, pd))
	test.That(t, state.Pack(dims, pd, state.PhysicalBlocks{
		Intrinsics: [][]float64{intr},
		Extrinsics: []pose.Pose{pose.Identity()},
		Points:     []r3.Vector{point},
	}, packed), test.ShouldBeNil)

	asm, err := Assemble(p, packed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, asm.Counts.NRangeRows, test.ShouldEqual, 1)

	rangeRow := asm.Counts.NBoardRows + asm.Counts.NPointPixelRows
	test.That(t, math.Abs(asm.Residual[rangeRow]), test.ShouldBeLessThan, 1e-6)
}
