package projection

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/lensmodel"
)

// ProjectCAHVORE projects p through a CAHVORE lens model. Forward
// projection only: no gradients, per spec_full.md section 4.1/4.2 (the
// original's _project_cahvore in mrcal.c never differentiates this
// family either).
//
// Open question, carried forward rather than resolved: mrcal.c marks
// this exact algorithm "MADE UP, AND PROBABLY WRONG" for non-unit input
// vectors (see the comment at the top of _project_cahvore). This port
// normalizes the input ray exactly as that function does and makes no
// attempt at a corrected derivation.
func ProjectCAHVORE(m lensmodel.Model, intrinsics []float64, p r3.Vector) (Result, error) {
	if _, err := validateModel(m, intrinsics); err != nil {
		return Result{}, err
	}
	c := readCore(intrinsics)
	alpha, beta := intrinsics[4], intrinsics[5]
	r0, r1, r2p := intrinsics[6], intrinsics[7], intrinsics[8]
	e0, e1, e2 := intrinsics[9], intrinsics[10], intrinsics[11]
	linearity := intrinsics[12]

	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	o := r3.Vector{X: sa * cb, Y: sb, Z: ca * cb}

	v := p.Normalize()
	omega := v.Dot(o)
	u := o.Mul(omega)
	ll := v.Sub(u)
	l := ll.Norm()

	theta := math.Atan2(l, omega)

	converged := false
	for i := 0; i < 100; i++ {
		sth, cth := math.Sin(theta), math.Cos(theta)
		theta2 := theta * theta
		theta3 := theta * theta2
		theta4 := theta * theta3

		upsilon := omega*cth + l*sth -
			(1-cth)*(e0+e1*theta2+e2*theta4) -
			(theta-sth)*(2*e1*theta+4*e2*theta3)
		dtheta := (omega*sth - l*cth - (theta-sth)*(e0+e1*theta2+e2*theta4)) / upsilon
		theta -= dtheta
		if math.Abs(dtheta) < 1e-8 {
			converged = true
			break
		}
	}
	if !converged {
		return Result{}, errDidNotConvergeCahvore()
	}
	if theta*math.Abs(linearity) > math.Pi/2 {
		return Result{}, errThetaOutOfBounds()
	}

	var warped r3.Vector
	if theta > 1e-8 {
		linth := linearity * theta
		var chi float64
		switch {
		case linearity < -1e-15:
			chi = math.Sin(linth) / linearity
		case linearity > 1e-15:
			chi = math.Tan(linth) / linearity
		default:
			chi = theta
		}
		chi2 := chi * chi
		chi3 := chi * chi2
		chi4 := chi * chi3

		zetap := l / chi
		mu := r0 + r1*chi2 + r2p*chi4

		uu := o.Mul(zetap)
		vv := ll.Mul(1 + mu)
		warped = uu.Add(vv)
	} else {
		warped = v
	}

	q := Point2{
		X: c.Fx*warped.X/warped.Z + c.Cx,
		Y: c.Fy*warped.Y/warped.Z + c.Cy,
	}
	return Result{Q: q}, nil
}
