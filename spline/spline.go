// Package spline implements the 2D cubic B-spline surface sampler used by
// the splined-stereographic lens model. Grounded directly on
// sample_bspline_surface_cubic in the original mrcal.c: evenly spaced
// knots, a local fraction x in [0,1] between control points b and c, and
// the classic cubic-B-spline basis functions A,B,C,D.
package spline

// Coeffs holds the four cubic basis weights (and, separately, their
// derivatives w.r.t. the local fraction) for one 1D segment.
type Coeffs struct {
	ABCD  [4]float64
	DABCD [4]float64 // d(ABCD)/dx
}

// SampleCoeffs evaluates the cubic B-spline basis functions and their
// derivatives at local fraction x in [0,1].
func SampleCoeffs(x float64) Coeffs {
	x2 := x * x
	x3 := x2 * x
	return Coeffs{
		ABCD: [4]float64{
			(-x3 + 3*x2 - 3*x + 1) / 6,
			(3*x3/2 - 3*x2 + 2) / 3,
			(-3*x3 + 3*x2 + 3*x + 1) / 6,
			x3 / 6,
		},
		DABCD: [4]float64{
			-x2/2 + x - 0.5,
			3*x2/2 - 2*x,
			-3*x2/2 + x + 0.5,
			x2 / 2,
		},
	}
}

// Surface2D holds the result of sampling two independently-valued cubic
// B-spline surfaces (one per output channel, e.g. fx and fy) at the same
// (x, y) location from a shared 4x4 neighborhood of control points.
type Surface2D struct {
	Value  [2]float64 // interpolated (fx, fy)
	DDx    [2]float64 // d(Value)/dx (local fraction, not control point)
	DDy    [2]float64 // d(Value)/dy
	CoefX  Coeffs
	CoefY  Coeffs
}

// controlPoint returns the 2-vector (channel0, channel1) of the control
// point at local grid index (ix, iy) within a flattened row-major grid of
// stride strideY doubles per row; consecutive control points in a row are
// strideX=2 doubles apart (the two channels are interleaved for cache
// locality, matching the original's layout).
func controlPoint(c []float64, ix, iy, strideY int) (v0, v1 float64) {
	const strideX = 2
	off := iy*strideY + ix*strideX
	return c[off], c[off+1]
}

// Sample evaluates the two-channel cubic B-spline surface at local
// fractions (x, y) within the 4x4 neighborhood beginning at control-point
// index (ix0, iy0) (i.e. the neighborhood spans ix0..ix0+3, iy0..iy0+3).
// strideY is the number of float64 per control-point row (2*Nx).
func Sample(c []float64, ix0, iy0 int, x, y float64, strideY int) Surface2D {
	cx := SampleCoeffs(x)
	cy := SampleCoeffs(y)

	interp := func(abcdX, abcdY [4]float64) [2]float64 {
		var rowInterp [4][2]float64
		for iy := 0; iy < 4; iy++ {
			var v0, v1 float64
			for ix := 0; ix < 4; ix++ {
				p0, p1 := controlPoint(c, ix0+ix, iy0+iy, strideY)
				v0 += abcdX[ix] * p0
				v1 += abcdX[ix] * p1
			}
			rowInterp[iy] = [2]float64{v0, v1}
		}
		var out [2]float64
		for iy := 0; iy < 4; iy++ {
			out[0] += abcdY[iy] * rowInterp[iy][0]
			out[1] += abcdY[iy] * rowInterp[iy][1]
		}
		return out
	}

	s := Surface2D{CoefX: cx, CoefY: cy}
	s.Value = interp(cx.ABCD, cy.ABCD)
	s.DDx = interp(cx.DABCD, cy.ABCD)
	s.DDy = interp(cx.ABCD, cy.DABCD)
	return s
}

// ControlPointWeight returns the weight that control point (ix, iy) within
// the 4x4 neighborhood (0<=ix,iy<4) contributes to Value — the outer
// product of the corresponding x and y basis coefficients. This is the
// sparse derivative of the sampled value w.r.t. that single control point's
// scalar value (both channels share the same weight; only the channel
// matching the control point's own output differs).
func ControlPointWeight(cx, cy Coeffs, ix, iy int) float64 {
	return cx.ABCD[ix] * cy.ABCD[iy]
}
