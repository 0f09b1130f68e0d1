// Package pose implements the rigid-transform representation shared by
// every projection path: a 3-vector axis-angle ("Rodrigues") rotation
// paired with a 3-vector translation, plus the analytic partials the
// assembler needs when it chains a residual back to camera extrinsics and
// frame poses.
//
// The rotation convention mirrors kinematics/kinmath's R4AA/quaternion
// round-trip in the teacher repo, expressed here directly in terms of the
// Rodrigues vector since that is what the optimizer's state vector holds.
package pose

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: p_out = R(Rotation)*p_in + Translation.
type Pose struct {
	Rotation    r3.Vector // axis-angle (Rodrigues) vector, radians
	Translation r3.Vector
}

// Identity returns the zero transform.
func Identity() Pose {
	return Pose{}
}

const thetaEpsilon = 1e-8

// sincTerms returns the three scalar coefficients used throughout the
// Rodrigues formula and its derivatives, branching to a Taylor expansion
// near theta=0 to avoid catastrophic cancellation.
//
//	A = sin(theta)/theta
//	B = (1-cos(theta))/theta^2
//	dA_dtheta, dB_dtheta as derived from A, B above.
func sincTerms(theta float64) (a, b, dadTheta, dbdTheta float64) {
	if theta < thetaEpsilon {
		// Taylor series around theta=0.
		theta2 := theta * theta
		a = 1 - theta2/6
		b = 0.5 - theta2/24
		dadTheta = -theta / 3
		dbdTheta = -theta / 12
		return
	}
	s, c := math.Sin(theta), math.Cos(theta)
	theta2 := theta * theta
	a = s / theta
	b = (1 - c) / theta2
	dadTheta = (c*theta - s) / theta2
	dbdTheta = (s*theta - 2*(1-c)) / (theta2 * theta)
	return
}

// ToQuat converts a Rodrigues vector to a unit quaternion, matching the
// R4AA->quat conversion in kinematics/kinmath.
func ToQuat(r r3.Vector) quat.Number {
	theta := r.Norm()
	if theta < thetaEpsilon {
		return quat.Number{Real: 1}
	}
	axis := r.Mul(1 / theta)
	half := theta / 2
	s := math.Sin(half)
	return quat.Number{Real: math.Cos(half), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// FromQuat converts a unit quaternion back to a Rodrigues vector.
func FromQuat(q quat.Number) r3.Vector {
	q = quat.Normalize(q)
	if q.Real > 1 {
		q.Real = 1
	} else if q.Real < -1 {
		q.Real = -1
	}
	half := math.Acos(q.Real)
	s := math.Sin(half)
	if s < thetaEpsilon {
		return r3.Vector{}
	}
	theta := 2 * half
	return r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}.Mul(theta / s)
}

// RotatePoint rotates p by the Rodrigues vector r and returns the rotated
// point together with the 3x3 Jacobian d(R(r)*p)/dr.
//
// Derivation: with theta=|r|, A=sin(theta)/theta, B=(1-cos(theta))/theta^2,
//
//	R(r)*p = p*cos(theta) + A*(r x p) + B*r*(r.p)
//
// Differentiating each term w.r.t. r (using the identities
// d(r x p)/dr = -Skew(p) and d(r*(r.p))/dr = Outer(r,p) + (r.p)*I, both
// constant-coefficient linear maps in r) gives the closed form below.
func RotatePoint(r, p r3.Vector) (q r3.Vector, dq_dr Mat3) {
	theta := r.Norm()
	a, b, dadTheta, dbdTheta := sincTerms(theta)
	c := math.Cos(theta)
	rCrossP := r.Cross(p)
	rDotP := r.Dot(p)

	q = p.Mul(c).Add(rCrossP.Mul(a)).Add(r.Mul(b * rDotP))

	var dAdr, dBdr r3.Vector
	if theta < thetaEpsilon {
		// At theta=0, dA/dr and dB/dr vanish to first order.
		dAdr = r3.Vector{}
		dBdr = r3.Vector{}
	} else {
		dAdr = r.Mul(dadTheta / theta)
		dBdr = r.Mul(dbdTheta / theta)
	}

	// d(p*cos(theta))/dr = p * (-sin(theta)) * dtheta/dr = -sin(theta)/theta * outer(p, r)
	var dcTerm Mat3
	if theta >= thetaEpsilon {
		dcTerm = Outer(p, r).Scale(-math.Sin(theta) / theta)
	}
	dACrossTerm := Outer(rCrossP, dAdr).Add(Skew(p).Scale(-a))
	dBTerm := Outer(r.Mul(rDotP), dBdr).Add(Outer(r, p).Add(Identity3().Scale(rDotP)).Scale(b))

	dq_dr = dcTerm.Add(dACrossTerm).Add(dBTerm)
	return q, dq_dr
}

// RotationMatrix returns the 3x3 rotation matrix R(r).
func RotationMatrix(r r3.Vector) Mat3 {
	rows := make([]r3.Vector, 0, 3)
	for _, e := range [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		col, _ := RotatePoint(r, e)
		rows = append(rows, col)
	}
	// rows[i] holds R*e_i, i.e. column i of R. Transpose into row-major.
	m := Mat3{rows[0], rows[1], rows[2]}
	return m.Transpose()
}

// Transform applies the pose to p: R(Rotation)*p + Translation.
func (ps Pose) Transform(p r3.Vector) r3.Vector {
	q, _ := RotatePoint(ps.Rotation, p)
	return q.Add(ps.Translation)
}

// Compose returns the joint transform a*b (apply b first, then a):
// Compose(a, b).Transform(p) == a.Transform(b.Transform(p)).
func Compose(a, b Pose) Pose {
	ra := RotationMatrix(a.Rotation)
	return Pose{
		Rotation:    rotationToRodrigues(ra.MulMat(RotationMatrix(b.Rotation))),
		Translation: ra.MulVec(b.Translation).Add(a.Translation),
	}
}

func rotationToRodrigues(m Mat3) r3.Vector {
	// trace-based extraction, standard matrix-to-axis-angle conversion.
	trace := m[0].X + m[1].Y + m[2].Z
	cosTheta := (trace - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)
	if theta < thetaEpsilon {
		return r3.Vector{}
	}
	sinTheta := math.Sin(theta)
	if math.Pi-theta < thetaEpsilon {
		// theta near pi: R - R^T vanishes (sinTheta -> 0), so the axis
		// must come from the symmetric part instead. At theta=pi,
		// R = 2*outer(n,n) - I for the unit axis n, so (R+I)/2 =
		// outer(n,n): a rank-1 PSD matrix whose diagonal holds n_i^2
		// and whose k-th column (for whichever n_k is largest) holds
		// n_k*n, giving the other two components' signs for free.
		bxx, byy, bzz := (m[0].X+1)/2, (m[1].Y+1)/2, (m[2].Z+1)/2
		bxy, bxz, byz := m[0].Y/2, m[0].Z/2, m[1].Z/2

		var nk float64
		var axis r3.Vector
		switch {
		case bxx >= byy && bxx >= bzz:
			nk = math.Sqrt(math.Max(bxx, 0))
			axis = r3.Vector{X: nk, Y: bxy / nk, Z: bxz / nk}
		case byy >= bxx && byy >= bzz:
			nk = math.Sqrt(math.Max(byy, 0))
			axis = r3.Vector{X: bxy / nk, Y: nk, Z: byz / nk}
		default:
			nk = math.Sqrt(math.Max(bzz, 0))
			axis = r3.Vector{X: bxz / nk, Y: byz / nk, Z: nk}
		}
		return axis.Mul(theta / axis.Norm())
	}
	axis := r3.Vector{
		X: m[2].Y - m[1].Z,
		Y: m[0].Z - m[2].X,
		Z: m[1].X - m[0].Y,
	}
	return axis.Mul(theta / (2 * sinTheta))
}

// JointTransform composes camera extrinsics (reference->camera) with a
// frame pose (board->reference) and transforms p (a point in board/frame
// coordinates) directly into camera coordinates, returning the analytic
// Jacobians w.r.t. each of the four inputs.
//
// When camIsReference is true (camera 0, whose extrinsics are fixed at
// identity), drCam and dtCam are the zero matrix and dtFrame is the
// identity, matching spec.md section 4.2's gradient-composition rule.
type JointJacobians struct {
	DRCamera Mat3
	DTCamera Mat3
	DRFrame  Mat3
	DTFrame  Mat3
}

func JointTransform(camExtrinsics, framePose Pose, p r3.Vector, camIsReference bool) (q r3.Vector, j JointJacobians) {
	w, dw_drFrame := RotatePoint(framePose.Rotation, p)
	w = w.Add(framePose.Translation)

	if camIsReference {
		q = w
		j.DRFrame = dw_drFrame
		j.DTFrame = Identity3()
		return q, j
	}

	rc := RotationMatrix(camExtrinsics.Rotation)
	qRot, dq_drCam := RotatePoint(camExtrinsics.Rotation, w)
	q = qRot.Add(camExtrinsics.Translation)

	j.DRCamera = dq_drCam
	j.DTCamera = Identity3()
	j.DRFrame = rc.MulMat(dw_drFrame)
	j.DTFrame = rc
	return q, j
}
