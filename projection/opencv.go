package projection

import (
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/lensmodel"
)

// distortionLayout describes which of the (up to 12) OpenCV distortion
// scalars are present for a given parameter count, per spec_full.md
// section 4.2: k1,k2,p1,p2[,k3[,k4,k5,k6[,s1,s2,s3,s4]]].
type distortionLayout struct {
	hasK3        bool
	hasRational  bool // k4,k5,k6
	hasThinPrism bool // s1..s4
}

func layoutFor(nparams int) distortionLayout {
	return distortionLayout{
		hasK3:        nparams >= 5,
		hasRational:  nparams >= 8,
		hasThinPrism: nparams >= 12,
	}
}

// ProjectOpenCV projects p (camera coordinates) through the pinhole core
// followed by the standard radial-tangential (optionally rational,
// optionally thin-prism) distortion model, per spec_full.md section 4.2.
// This is a direct Go port of the closed-form distortion math; the
// example corpus carries no OpenCV binding to delegate to, so the
// polynomial distortion itself (not a swapped-in library) is the
// grounded equivalent of mrcal.c's project_opencv.
func ProjectOpenCV(m lensmodel.Model, intrinsics []float64, p r3.Vector, needGrad bool) (Result, error) {
	n, err := validateModel(m, intrinsics)
	if err != nil {
		return Result{}, err
	}
	c := readCore(intrinsics)
	dist := intrinsics[4:]
	nparams, _ := lensmodel.NumParams(m)
	layout := layoutFor(nparams)

	var k1, k2, p1, p2, k3, k4, k5, k6, s1, s2, s3, s4 float64
	if nparams >= 1 {
		k1 = dist[0]
	}
	if nparams >= 2 {
		k2 = dist[1]
	}
	if nparams >= 3 {
		p1 = dist[2]
	}
	if nparams >= 4 {
		p2 = dist[3]
	}
	if layout.hasK3 {
		k3 = dist[4]
	}
	if layout.hasRational {
		k4, k5, k6 = dist[5], dist[6], dist[7]
	}
	if layout.hasThinPrism {
		s1, s2, s3, s4 = dist[8], dist[9], dist[10], dist[11]
	}

	z := p.Z
	xn := p.X / z
	yn := p.Y / z
	r2 := xn*xn + yn*yn
	r4 := r2 * r2
	r6 := r4 * r2

	num := 1 + k1*r2 + k2*r4 + k3*r6
	den := 1.0
	if layout.hasRational {
		den = 1 + k4*r2 + k5*r4 + k6*r6
	}
	radial := num / den

	xd := xn*radial + 2*p1*xn*yn + p2*(r2+2*xn*xn) + s1*r2 + s2*r4
	yd := yn*radial + p1*(r2+2*yn*yn) + 2*p2*xn*yn + s3*r2 + s4*r4

	q := Point2{X: c.Fx*xd + c.Cx, Y: c.Fy*yd + c.Cy}
	res := Result{Q: q}
	if !needGrad {
		return res, nil
	}
	res.HaveGradients = true

	dr2dxn, dr2dyn := 2*xn, 2*yn
	dr4dxn, dr4dyn := 4*xn*r2, 4*yn*r2
	dr6dxn, dr6dyn := 6*xn*r4, 6*yn*r4

	dnumdxn := k1*dr2dxn + k2*dr4dxn + k3*dr6dxn
	dnumdyn := k1*dr2dyn + k2*dr4dyn + k3*dr6dyn
	var dradialdxn, dradialdyn float64
	if layout.hasRational {
		ddendxn := k4*dr2dxn + k5*dr4dxn + k6*dr6dxn
		ddendyn := k4*dr2dyn + k5*dr4dyn + k6*dr6dyn
		dradialdxn = (dnumdxn*den - num*ddendxn) / (den * den)
		dradialdyn = (dnumdyn*den - num*ddendyn) / (den * den)
	} else {
		dradialdxn = dnumdxn
		dradialdyn = dnumdyn
	}

	dxddxn := radial + xn*dradialdxn + 2*p1*yn + p2*(dr2dxn+4*xn) + s1*dr2dxn + s2*dr4dxn
	dxddyn := xn*dradialdyn + 2*p1*xn + p2*dr2dyn + s1*dr2dyn + s2*dr4dyn
	dyddxn := yn*dradialdxn + p1*dr2dxn + 2*p2*yn + s3*dr2dxn + s4*dr4dxn
	dyddyn := radial + yn*dradialdyn + p1*(dr2dyn+4*yn) + 2*p2*xn + s3*dr2dyn + s4*dr4dyn

	dxndx, dxndz := 1/z, -p.X/(z*z)
	dyndy, dyndz := 1/z, -p.Y/(z*z)

	dxddx := dxddxn * dxndx
	dxddy := dxddyn * dyndy
	dxddz := dxddxn*dxndz + dxddyn*dyndz
	dyddx := dyddxn * dxndx
	dyddy := dyddyn * dyndy
	dyddz := dyddxn*dxndz + dyddyn*dyndz

	res.DQDP = Jacobian2x3{
		DX: r3.Vector{X: c.Fx * dxddx, Y: c.Fx * dxddy, Z: c.Fx * dxddz},
		DY: r3.Vector{X: c.Fy * dyddx, Y: c.Fy * dyddy, Z: c.Fy * dyddz},
	}

	dense := make([]float64, 2*n)
	writeCoreIntrinsics(dense, n, xd, 1, yd, 1)

	set := func(idx int, dxd, dyd float64) {
		dense[4+idx] = c.Fx * dxd
		dense[n+4+idx] = c.Fy * dyd
	}
	if nparams >= 1 {
		set(0, xn*r2/den, yn*r2/den)
	}
	if nparams >= 2 {
		set(1, xn*r4/den, yn*r4/den)
	}
	if nparams >= 3 {
		set(2, 2*xn*yn, r2+2*yn*yn)
	}
	if nparams >= 4 {
		set(3, r2+2*xn*xn, 2*xn*yn)
	}
	if layout.hasK3 {
		set(4, xn*r6/den, yn*r6/den)
	}
	if layout.hasRational {
		set(5, -xn*num*r2/(den*den), -yn*num*r2/(den*den))
		set(6, -xn*num*r4/(den*den), -yn*num*r4/(den*den))
		set(7, -xn*num*r6/(den*den), -yn*num*r6/(den*den))
	}
	if layout.hasThinPrism {
		set(8, r2, 0)
		set(9, r4, 0)
		set(10, 0, r2)
		set(11, 0, r4)
	}

	res.DQDIntrinsics = IntrinsicsJacobian{Dense: dense}
	return res, nil
}
