package projection

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
)

// ProjectCAHVOR projects p through a CAHVOR lens model: a radial
// perturbation along an optical axis o(alpha,beta), followed by a bare
// pinhole projection. Grounded on spec_full.md section 4.2 and mrcal.c's
// optical-axis parameterization comment in _project_cahvore (the
// non-iterated CAHVOR case shares the same axis convention).
func ProjectCAHVOR(m lensmodel.Model, intrinsics []float64, p r3.Vector, needGrad bool) (Result, error) {
	n, err := validateModel(m, intrinsics)
	if err != nil {
		return Result{}, err
	}
	c := readCore(intrinsics)
	alpha, beta, r0, r1, r2p := intrinsics[4], intrinsics[5], intrinsics[6], intrinsics[7], intrinsics[8]

	sa, ca := math.Sin(alpha), math.Cos(alpha)
	sb, cb := math.Sin(beta), math.Cos(beta)
	o := r3.Vector{X: sa * cb, Y: sb, Z: ca * cb}

	n2 := p.Dot(p)
	s := p.Dot(o)
	tau := n2/(s*s) - 1
	mu := r0 + r1*tau + r2p*tau*tau

	v := p.Sub(o.Mul(s)) // rejection of p from o
	pp := p.Add(v.Mul(mu))

	q, dqdpp, dqdfx, dqdcx, dqdfy, dqdcy := projectPinholeCore(c, pp)
	res := Result{Q: q}
	if !needGrad {
		return res, nil
	}
	res.HaveGradients = true

	// dp'/dp = I + mu*(I - o⊗o) + v⊗(dmu/dp)
	dmudtau := r1 + 2*r2p*tau
	dtaudp := p.Mul(2 / (s * s)).Sub(o.Mul(2 * n2 / (s * s * s)))
	dmudp := dtaudp.Mul(dmudtau)

	identity := pose.Identity3()
	oo := pose.Outer(o, o)
	dpdp := identity.Add(identity.Sub(oo).Scale(mu)).Add(pose.Outer(v, dmudp))

	dqdp := dqdpp.MulMat3(dpdp)

	// d(alpha,beta): do/dalpha, do/dbeta.
	doda := r3.Vector{X: ca * cb, Y: 0, Z: -sa * cb}
	dodb := r3.Vector{X: -sa * sb, Y: cb, Z: -ca * sb}

	dsda := p.Dot(doda)
	dsdb := p.Dot(dodb)
	dtauda := -2 * n2 * dsda / (s * s * s)
	dtaudb := -2 * n2 * dsdb / (s * s * s)
	dmuda := dmudtau * dtauda
	dmudb := dmudtau * dtaudb

	dvda := doda.Mul(-s).Sub(o.Mul(dsda))
	dvdb := dodb.Mul(-s).Sub(o.Mul(dsdb))

	dppda := v.Mul(dmuda).Add(dvda.Mul(mu))
	dppdb := v.Mul(dmudb).Add(dvdb.Mul(mu))
	dppdr0 := v
	dppdr1 := v.Mul(tau)
	dppdr2 := v.Mul(tau * tau)

	proj := func(dpp r3.Vector) (float64, float64) {
		return dqdpp.DX.Dot(dpp), dqdpp.DY.Dot(dpp)
	}

	dqxda, dqyda := proj(dppda)
	dqxdb, dqydb := proj(dppdb)
	dqxdr0, dqydr0 := proj(dppdr0)
	dqxdr1, dqydr1 := proj(dppdr1)
	dqxdr2, dqydr2 := proj(dppdr2)

	res.DQDP = dqdp
	dense := make([]float64, 2*n)
	writeCoreIntrinsics(dense, n, dqdfx, dqdcx, dqdfy, dqdcy)
	dense[4+0], dense[n+4+0] = dqxda, dqyda
	dense[4+1], dense[n+4+1] = dqxdb, dqydb
	dense[4+2], dense[n+4+2] = dqxdr0, dqydr0
	dense[4+3], dense[n+4+3] = dqxdr1, dqydr1
	dense[4+4], dense[n+4+4] = dqxdr2, dqydr2
	res.DQDIntrinsics = IntrinsicsJacobian{Dense: dense}
	return res, nil
}
