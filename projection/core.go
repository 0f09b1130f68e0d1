// Package projection implements the camera projection kernel: mapping a
// 3D point in camera coordinates to a 2D pixel under each supported lens
// model family, with analytic Jacobians where the family supports them.
//
// Grounded on mrcal.c's project()/_project_cahvore()/project_opencv()
// family; the nested-closure style of that file is replaced here by free
// functions that take their inputs and return Result values.
package projection

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
)

// ErrUnsupportedGradient is returned when gradients are requested for a
// model family that does not support them (CAHVORE).
var ErrUnsupportedGradient = errors.New("projection: gradients not supported for this lens model")

// ErrDidNotConverge is returned (wrapped) by the CAHVORE Newton solve when
// its iteration fails to reach tolerance.
var ErrDidNotConverge = errors.New("projection: iteration did not converge")

// Point2 is a pixel-space (or normalized) 2-vector.
type Point2 struct {
	X, Y float64
}

// Jacobian2x3 is the derivative of a Point2 output w.r.t. a 3-vector
// input: row i holds d(output.{X,Y}[i])/d(input).
type Jacobian2x3 struct {
	DX, DY r3.Vector
}

// MulMat3 returns the Jacobian of the composition with an upstream 3x3
// linear map: if j is d(out)/d(mid) and m is d(mid)/d(in), the result is
// d(out)/d(in) = j * m.
func (j Jacobian2x3) MulMat3(m pose.Mat3) Jacobian2x3 {
	mt := m.Transpose()
	return Jacobian2x3{DX: mt.MulVec(j.DX), DY: mt.MulVec(j.DY)}
}

// SplinedIntrinsicsJacobian describes the sparse dq/dintrinsics
// contribution of a splined-stereographic projection: only the 4x4
// neighborhood of control points starting at (IX0, IY0) is touched, and
// the contribution of each control point is CoefX[ix]*CoefY[iy]
// scaled by the corresponding component of U (the stereographic
// coordinate), per spec_full.md section 4.2.
type SplinedIntrinsicsJacobian struct {
	IX0, IY0     int
	Stride       int // floats per control-point row (2*Nx)
	CoefX, CoefY [4]float64
	U            [2]float64
}

// IntrinsicsJacobian holds either a dense 2 x Nintrinsics row-major block
// or a sparse splined descriptor, never both.
type IntrinsicsJacobian struct {
	Dense   []float64
	Splined *SplinedIntrinsicsJacobian
}

// Result is the output of a single-point projection.
type Result struct {
	Q             Point2
	DQDP          Jacobian2x3 // d(Q)/d(point in camera coordinates); zero value if not requested
	DQDIntrinsics IntrinsicsJacobian
	HaveGradients bool
}

// core holds the pinhole intrinsics shared by every family.
type core struct {
	Fx, Fy, Cx, Cy float64
}

func readCore(intrinsics []float64) core {
	return core{Fx: intrinsics[0], Fy: intrinsics[1], Cx: intrinsics[2], Cy: intrinsics[3]}
}

// ReadCore returns the shared pinhole core (fx, fy, cx, cy) every
// model-with-core lays out as its first four intrinsics scalars. Used
// by calib.Unproject to seed its per-pixel solve the way the original
// implementation's easy pinhole special case does.
func ReadCore(intrinsics []float64) (fx, fy, cx, cy float64) {
	c := readCore(intrinsics)
	return c.Fx, c.Fy, c.Cx, c.Cy
}

// projectPinholeCore projects p (camera coordinates, z>0 expected) through
// a bare pinhole core, returning q, dq/dp, and the diagonal dq/dcore
// entries (dqx/dfx, dqx/dcx, dqy/dfy, dqy/dcy); all other core partials
// are zero.
func projectPinholeCore(c core, p r3.Vector) (q Point2, dqdp Jacobian2x3, dqdfx, dqdcx, dqdfy, dqdcy float64) {
	z := p.Z
	xn := p.X / z
	yn := p.Y / z
	q = Point2{X: c.Fx*xn + c.Cx, Y: c.Fy*yn + c.Cy}
	dqdp = Jacobian2x3{
		DX: r3.Vector{X: c.Fx / z, Y: 0, Z: -c.Fx * p.X / (z * z)},
		DY: r3.Vector{X: 0, Y: c.Fy / z, Z: -c.Fy * p.Y / (z * z)},
	}
	return q, dqdp, xn, 1, yn, 1
}

// writeCoreIntrinsics fills the first 4 dense columns with the pinhole
// core's diagonal partials. Row 0 is dense[0:nintr], row 1 is
// dense[nintr:2*nintr].
func writeCoreIntrinsics(dense []float64, nintr int, dqdfx, dqdcx, dqdfy, dqdcy float64) {
	dense[0] = dqdfx
	dense[2] = dqdcx
	dense[nintr+1] = dqdfy
	dense[nintr+3] = dqdcy
}

func validateModel(m lensmodel.Model, intrinsics []float64) (int, error) {
	n, err := lensmodel.NumIntrinsics(m)
	if err != nil {
		return 0, err
	}
	if len(intrinsics) != n {
		return 0, errors.Errorf("projection: intrinsics has %d entries, want %d for %v", len(intrinsics), n, m.Variant)
	}
	return n, nil
}
