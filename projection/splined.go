package projection

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/spline"
)

// ProjectSplined projects p through a splined-stereographic lens model:
// the normalized stereographic coordinate u is looked up against two
// independent cubic-B-spline surfaces (one per focal-length scaling) and
// the result scaled by u itself, per spec_full.md section 4.2. Grounded
// directly on mrcal.c's _project_point_splined, including its exact
// control-point grid indexing (ivar0 at (ix0-1, iy0-1) of the requested
// 4x4 neighborhood).
func ProjectSplined(m lensmodel.Model, intrinsics []float64, p r3.Vector, needGrad bool) (Result, error) {
	if _, err := validateModel(m, intrinsics); err != nil {
		return Result{}, err
	}
	cfg := m.SplineConfig
	c := core{Cx: cfg.CenterX, Cy: cfg.CenterY}

	magXYZ := p.Norm()
	if magXYZ == 0 {
		return Result{}, errors.New("projection: splined model cannot project the zero vector")
	}
	scale := 2.0 / (magXYZ + p.Z)
	u := [2]float64{p.X * scale, p.Y * scale}

	const extraIntervals = 2 // cubic
	thFovXEdge := cfg.FovXDeg / 2 * math.Pi / 180
	qEdgeX := math.Tan(thFovXEdge/2) * 2
	intervalSize := (qEdgeX * 2) / float64(cfg.Nx-1-extraIntervals)

	ix := u[0]/intervalSize + float64(cfg.Nx-1)/2
	iy := u[1]/intervalSize + float64(cfg.Ny-1)/2
	ix0 := int(math.Floor(ix))
	iy0 := int(math.Floor(iy))
	if ix0-1 < 0 || iy0-1 < 0 || ix0+2 >= cfg.Nx || iy0+2 >= cfg.Ny {
		return Result{}, errors.Errorf("projection: splined model: point projects outside the control-point grid (ix0=%d iy0=%d)", ix0, iy0)
	}

	strideY := 2 * cfg.Nx
	surf := spline.Sample(intrinsics, ix0-1, iy0-1, ix-float64(ix0), iy-float64(iy0), strideY)
	fx, fy := surf.Value[0], surf.Value[1]

	q := Point2{X: u[0]*fx + c.Cx, Y: u[1]*fy + c.Cy}
	res := Result{Q: q}
	if !needGrad {
		return res, nil
	}
	res.HaveGradients = true

	A := -scale * scale / 2
	B := 1 / magXYZ
	dudp := [2]r3.Vector{
		{X: p.X*A*B*p.X + scale, Y: p.X * A * B * p.Y, Z: p.X * (A*B*p.Z + A)},
		{X: p.Y * A * B * p.X, Y: p.Y*A*B*p.Y + scale, Z: p.Y * (A*B*p.Z + A)},
	}

	dfxdux := surf.DDx[0] / intervalSize
	dfxduy := surf.DDy[0] / intervalSize
	dfydux := surf.DDx[1] / intervalSize
	dfyduy := surf.DDy[1] / intervalSize

	dqxdux := u[0]*dfxdux + fx
	dqxduy := u[0] * dfxduy
	dqydux := u[1] * dfydux
	dqyduy := u[1]*dfyduy + fy

	res.DQDP = Jacobian2x3{
		DX: dudp[0].Mul(dqxdux).Add(dudp[1].Mul(dqxduy)),
		DY: dudp[0].Mul(dqydux).Add(dudp[1].Mul(dqyduy)),
	}

	res.DQDIntrinsics = IntrinsicsJacobian{Splined: &SplinedIntrinsicsJacobian{
		IX0:    ix0 - 1,
		IY0:    iy0 - 1,
		Stride: strideY,
		CoefX:  surf.CoefX.ABCD,
		CoefY:  surf.CoefY.ABCD,
		U:      u,
	}}
	return res, nil
}
