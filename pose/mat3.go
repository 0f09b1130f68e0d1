package pose

import "github.com/golang/geo/r3"

// Mat3 is a dense 3x3 matrix stored row-major. Pose composition and the
// Rodrigues rotation Jacobian are dominated by fixed 3x3 algebra; gonum's
// general mat.Dense is reserved in this repo for the state-sized matrices
// in covariance/solverapi, where its shape is not known at compile time.
type Mat3 [3]r3.Vector

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
	}
}

// Skew returns the skew-symmetric cross-product matrix [v]_x such that
// Skew(v).MulVec(p) == v.Cross(p).
func Skew(v r3.Vector) Mat3 {
	return Mat3{
		{X: 0, Y: -v.Z, Z: v.Y},
		{X: v.Z, Y: 0, Z: -v.X},
		{X: -v.Y, Y: v.X, Z: 0},
	}
}

// Outer returns the outer product a * b^T.
func Outer(a, b r3.Vector) Mat3 {
	return Mat3{
		b.Mul(a.X),
		b.Mul(a.Y),
		b.Mul(a.Z),
	}
}

// MulVec returns m * v.
func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0].Dot(v),
		Y: m[1].Dot(v),
		Z: m[2].Dot(v),
	}
}

// MulMat returns m * n.
func (m Mat3) MulMat(n Mat3) Mat3 {
	nt := n.Transpose()
	return Mat3{
		{X: m[0].Dot(nt[0]), Y: m[0].Dot(nt[1]), Z: m[0].Dot(nt[2])},
		{X: m[1].Dot(nt[0]), Y: m[1].Dot(nt[1]), Z: m[1].Dot(nt[2])},
		{X: m[2].Dot(nt[0]), Y: m[2].Dot(nt[1]), Z: m[2].Dot(nt[2])},
	}
}

// Transpose returns the transpose of m.
func (m Mat3) Transpose() Mat3 {
	return Mat3{
		{X: m[0].X, Y: m[1].X, Z: m[2].X},
		{X: m[0].Y, Y: m[1].Y, Z: m[2].Y},
		{X: m[0].Z, Y: m[1].Z, Z: m[2].Z},
	}
}

// Add returns m + n.
func (m Mat3) Add(n Mat3) Mat3 {
	return Mat3{m[0].Add(n[0]), m[1].Add(n[1]), m[2].Add(n[2])}
}

// Sub returns m - n.
func (m Mat3) Sub(n Mat3) Mat3 {
	return Mat3{m[0].Sub(n[0]), m[1].Sub(n[1]), m[2].Sub(n[2])}
}

// Scale returns m * s.
func (m Mat3) Scale(s float64) Mat3 {
	return Mat3{m[0].Mul(s), m[1].Mul(s), m[2].Mul(s)}
}

// Col returns column j (0-indexed).
func (m Mat3) Col(j int) r3.Vector {
	switch j {
	case 0:
		return r3.Vector{X: m[0].X, Y: m[1].X, Z: m[2].X}
	case 1:
		return r3.Vector{X: m[0].Y, Y: m[1].Y, Z: m[2].Y}
	default:
		return r3.Vector{X: m[0].Z, Y: m[1].Z, Z: m[2].Z}
	}
}
