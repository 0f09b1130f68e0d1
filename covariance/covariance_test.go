package covariance

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/bundle"
	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
	"go.viam.com/camcalib/projection"
	"go.viam.com/camcalib/solverapi"
	"go.viam.com/camcalib/state"
)

// buildProblem assembles a small single-camera, multi-frame pinhole
// calibration problem with enough board observations to make JᵀJ
// nonsingular, and returns the assembled Jacobian/state alongside the
// dimensions used to build it.
func buildProblem(t *testing.T) (*bundle.Problem, []float64, bundle.Result) {
	t.Helper()
	dims := state.Dims{NumCameras: 1, NumFrames: 3, NumPoints: 0, Model: lensmodel.New(lensmodel.Pinhole)}
	pd := state.ProblemDetails{OptimizeIntrinsicCore: true, OptimizeFrames: true}

	intr := []float64{1000, 1000, 640, 360}
	framePoses := []pose.Pose{
		{Rotation: r3.Vector{X: 0.1, Y: 0.05, Z: -0.02}, Translation: r3.Vector{Z: 1000}},
		{Rotation: r3.Vector{X: -0.05, Y: 0.1, Z: 0.01}, Translation: r3.Vector{X: 50, Z: 1050}},
		{Rotation: r3.Vector{X: 0.02, Y: -0.08, Z: 0.03}, Translation: r3.Vector{Y: -40, Z: 980}},
	}

	observations := make([]bundle.BoardObservation, len(framePoses))
	for f, fp := range framePoses {
		obs := bundle.BoardObservation{Camera: 0, Frame: f, Width: 5, Corners: make([]bundle.Corner, 25)}
		for i := 0; i < 5; i++ {
			for j := 0; j < 5; j++ {
				boardPoint := r3.Vector{X: float64(j) * 30, Y: float64(i) * 30}
				jres, err := projection.ProjectJoint(dims.Model, intr, pose.Identity(), fp, boardPoint, true, projection.WarpDeflectionGrad{}, false)
				test.That(t, err, test.ShouldBeNil)
				obs.Corners[i*5+j] = bundle.Corner{X: jres.Q.X, Y: jres.Q.Y, Weight: 1}
			}
		}
		observations[f] = obs
	}

	p := &bundle.Problem{
		Dims:              dims,
		PD:                pd,
		BoardSpacing:      30,
		ImagerSizes:       []state.ImagerSize{{Width: 1280, Height: 720}},
		BoardObservations: observations,
	}

	packed := make([]float64, state.NumState(dims, pd))
	test.That(t, state.Pack(dims, pd, state.PhysicalBlocks{
		Intrinsics: [][]float64{intr},
		Extrinsics: []pose.Pose{pose.Identity()},
		Frames:     framePoses,
	}, packed), test.ShouldBeNil)

	asm, err := bundle.Assemble(p, packed)
	test.That(t, err, test.ShouldBeNil)
	return p, packed, asm
}

func factorize(t *testing.T, asm bundle.Result, n int) solverapi.Factorization {
	t.Helper()
	jac := asm.Jacobian.ToSparseMatrix(len(asm.Residual), n)

	jtjEntries := make(map[[2]int]float64)
	byRow := make(map[int][]solverapi.Triplet)
	for _, e := range jac.Entries {
		byRow[e.Row] = append(byRow[e.Row], e)
	}
	for _, row := range byRow {
		for _, a := range row {
			for _, b := range row {
				if a.Col > b.Col {
					continue
				}
				jtjEntries[[2]int{a.Col, b.Col}] += a.Val * b.Val
			}
		}
	}
	jtj := solverapi.SparseMatrix{Rows: n, Cols: n}
	for k, v := range jtjEntries {
		jtj.Entries = append(jtj.Entries, solverapi.Triplet{Row: k[0], Col: k[1], Val: v})
	}

	var fact solverapi.GonumFactorization
	test.That(t, fact.Factorize(jtj), test.ShouldBeNil)
	return &fact
}

func TestIntrinsicsFullIsSymmetricAndPositive(t *testing.T) {
	p, packed, asm := buildProblem(t)
	n := len(packed)
	fact := factorize(t, asm, n)
	test.That(t, fact.Rank(), test.ShouldEqual, n)

	cov, err := IntrinsicsFull(fact, p.Dims, p.PD, 0, n, 0.3)
	test.That(t, err, test.ShouldBeNil)

	rows, cols := cov.Dims()
	test.That(t, rows, test.ShouldEqual, 4)
	test.That(t, cols, test.ShouldEqual, 4)
	for i := 0; i < rows; i++ {
		test.That(t, cov.At(i, i), test.ShouldBeGreaterThan, 0)
		for j := 0; j < cols; j++ {
			test.That(t, cov.At(i, j), test.ShouldAlmostEqual, cov.At(j, i), 1e-9)
		}
	}
}

func TestIntrinsicsFromObservationsIsSymmetric(t *testing.T) {
	p, packed, asm := buildProblem(t)
	n := len(packed)
	fact := factorize(t, asm, n)

	cov, err := IntrinsicsFromObservations(fact, asm.Jacobian.ToSparseMatrix(len(asm.Residual), n), p.Dims, p.PD, 0, n, asm.Counts.NBoardRows, 0.3)
	test.That(t, err, test.ShouldBeNil)

	rows, cols := cov.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			test.That(t, cov.At(i, j), test.ShouldAlmostEqual, cov.At(j, i), 1e-9)
		}
	}
}

func TestCovarianceReportsSingularWhenRankDeficient(t *testing.T) {
	p, packed, _ := buildProblem(t)
	n := len(packed)

	var fact solverapi.GonumFactorization
	test.That(t, fact.Factorize(solverapi.SparseMatrix{Rows: n, Cols: n}), test.ShouldBeNil)
	test.That(t, fact.Rank(), test.ShouldEqual, 0)

	_, err := IntrinsicsFull(&fact, p.Dims, p.PD, 0, n, 0.3)
	test.That(t, err, test.ShouldEqual, ErrSingular)
}

func TestExtrinsicsRequiresMultipleCameras(t *testing.T) {
	p, packed, asm := buildProblem(t)
	n := len(packed)
	fact := factorize(t, asm, n)

	_, err := Extrinsics(fact, asm.Jacobian.ToSparseMatrix(len(asm.Residual), n), p.Dims, p.PD, n, asm.Counts.NBoardRows, 0.3)
	test.That(t, err, test.ShouldNotBeNil)
}
