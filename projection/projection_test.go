package projection

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/lensmodel"
)

const h = 1e-6

func finiteDiffDP(t *testing.T, m lensmodel.Model, intr []float64, p r3.Vector) Jacobian2x3 {
	t.Helper()
	var dx, dy r3.Vector
	for _, axis := range []int{0, 1, 2} {
		var d r3.Vector
		switch axis {
		case 0:
			d = r3.Vector{X: h}
		case 1:
			d = r3.Vector{Y: h}
		case 2:
			d = r3.Vector{Z: h}
		}
		plus, err := ProjectCamera(m, intr, p.Add(d), false)
		test.That(t, err, test.ShouldBeNil)
		minus, err := ProjectCamera(m, intr, p.Sub(d), false)
		test.That(t, err, test.ShouldBeNil)
		fdx := (plus.Q.X - minus.Q.X) / (2 * h)
		fdy := (plus.Q.Y - minus.Q.Y) / (2 * h)
		switch axis {
		case 0:
			dx.X, dy.X = fdx, fdy
		case 1:
			dx.Y, dy.Y = fdx, fdy
		case 2:
			dx.Z, dy.Z = fdx, fdy
		}
	}
	return Jacobian2x3{DX: dx, DY: dy}
}

func finiteDiffIntrinsics(t *testing.T, m lensmodel.Model, intr []float64, p r3.Vector) []float64 {
	t.Helper()
	n := len(intr)
	out := make([]float64, 2*n)
	for k := 0; k < n; k++ {
		plusIntr := append([]float64(nil), intr...)
		minusIntr := append([]float64(nil), intr...)
		plusIntr[k] += h
		minusIntr[k] -= h
		plus, err := ProjectCamera(m, plusIntr, p, false)
		test.That(t, err, test.ShouldBeNil)
		minus, err := ProjectCamera(m, minusIntr, p, false)
		test.That(t, err, test.ShouldBeNil)
		out[k] = (plus.Q.X - minus.Q.X) / (2 * h)
		out[n+k] = (plus.Q.Y - minus.Q.Y) / (2 * h)
	}
	return out
}

func assertDPMatches(t *testing.T, got, want Jacobian2x3, tol float64) {
	t.Helper()
	test.That(t, got.DX.X, test.ShouldAlmostEqual, want.DX.X, tol)
	test.That(t, got.DX.Y, test.ShouldAlmostEqual, want.DX.Y, tol)
	test.That(t, got.DX.Z, test.ShouldAlmostEqual, want.DX.Z, tol)
	test.That(t, got.DY.X, test.ShouldAlmostEqual, want.DY.X, tol)
	test.That(t, got.DY.Y, test.ShouldAlmostEqual, want.DY.Y, tol)
	test.That(t, got.DY.Z, test.ShouldAlmostEqual, want.DY.Z, tol)
}

func TestPinholeMatchesDefinition(t *testing.T) {
	m := lensmodel.New(lensmodel.Pinhole)
	intr := []float64{1000, 1010, 640, 360}
	p := r3.Vector{X: 50, Y: -30, Z: 800}
	res, err := ProjectPinhole(m, intr, p, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Q.X, test.ShouldAlmostEqual, 1000*50.0/800+640, 1e-9)
	test.That(t, res.Q.Y, test.ShouldAlmostEqual, 1010*-30.0/800+360, 1e-9)

	fd := finiteDiffDP(t, m, intr, p)
	assertDPMatches(t, res.DQDP, fd, 1e-4)
}

func TestPinholeIntrinsicsJacobianFiniteDifference(t *testing.T) {
	m := lensmodel.New(lensmodel.Pinhole)
	intr := []float64{1000, 1010, 640, 360}
	p := r3.Vector{X: 50, Y: -30, Z: 800}
	res, err := ProjectPinhole(m, intr, p, true)
	test.That(t, err, test.ShouldBeNil)
	fd := finiteDiffIntrinsics(t, m, intr, p)
	for i, got := range res.DQDIntrinsics.Dense {
		test.That(t, got, test.ShouldAlmostEqual, fd[i], 1e-4)
	}
}

func opencv8Intrinsics() []float64 {
	return []float64{1000, 1010, 640, 360, 0.1, -0.05, 0.001, 0.002, 0.01, 0.02, -0.01, 0.005}
}

func TestOpenCVJacobianFiniteDifference(t *testing.T) {
	for _, variant := range []lensmodel.Variant{lensmodel.OpenCV4, lensmodel.OpenCV5, lensmodel.OpenCV8, lensmodel.OpenCV12} {
		m := lensmodel.New(variant)
		n, err := lensmodel.NumIntrinsics(m)
		test.That(t, err, test.ShouldBeNil)
		intr := opencv8Intrinsics()[:n]
		p := r3.Vector{X: 40, Y: -55, Z: 900}

		res, err := ProjectOpenCV(m, intr, p, true)
		test.That(t, err, test.ShouldBeNil)

		fdp := finiteDiffDP(t, m, intr, p)
		assertDPMatches(t, res.DQDP, fdp, 1e-3)

		fdi := finiteDiffIntrinsics(t, m, intr, p)
		for i, got := range res.DQDIntrinsics.Dense {
			test.That(t, got, test.ShouldAlmostEqual, fdi[i], 1e-3)
		}
	}
}

func TestCAHVORJacobianFiniteDifference(t *testing.T) {
	m := lensmodel.New(lensmodel.CAHVOR)
	intr := []float64{1000, 1010, 640, 360, 0.02, -0.01, 0.001, 0.0005, 0.0002}
	p := r3.Vector{X: 30, Y: 20, Z: 700}

	res, err := ProjectCAHVOR(m, intr, p, true)
	test.That(t, err, test.ShouldBeNil)

	fdp := finiteDiffDP(t, m, intr, p)
	assertDPMatches(t, res.DQDP, fdp, 1e-3)

	fdi := finiteDiffIntrinsics(t, m, intr, p)
	for i, got := range res.DQDIntrinsics.Dense {
		test.That(t, got, test.ShouldAlmostEqual, fdi[i], 1e-3)
	}
}

func TestCAHVOREOnAxisProjectsToCenter(t *testing.T) {
	m := lensmodel.New(lensmodel.CAHVORE)
	// alpha=beta=0 -> optical axis is +z; a point straight down that axis
	// should land exactly on the principal point regardless of the
	// remaining distortion parameters.
	intr := []float64{1000, 1010, 640, 360, 0, 0, 0.01, 0.001, 0.0005, 0.1, 0.01, 0.001, 0.3}
	p := r3.Vector{X: 0, Y: 0, Z: 500}
	res, err := ProjectCAHVORE(m, intr, p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Q.X, test.ShouldAlmostEqual, 640, 1e-6)
	test.That(t, res.Q.Y, test.ShouldAlmostEqual, 360, 1e-6)
}

func TestCAHVOREGradientsUnsupported(t *testing.T) {
	m := lensmodel.New(lensmodel.CAHVORE)
	intr := []float64{1000, 1010, 640, 360, 0, 0, 0.01, 0.001, 0.0005, 0.1, 0.01, 0.001, 0.3}
	_, err := ProjectCamera(m, intr, r3.Vector{X: 10, Y: 10, Z: 500}, true)
	test.That(t, err, test.ShouldEqual, ErrUnsupportedGradient)
}

func splinedModelAndIntrinsics() (lensmodel.Model, []float64) {
	m := lensmodel.NewSplined(lensmodel.SplineConfig{Order: lensmodel.Cubic, Nx: 8, Ny: 8, FovXDeg: 120, CenterX: 640, CenterY: 360})
	n, _ := lensmodel.NumParams(m)
	intr := make([]float64, n)
	for i := range intr {
		// two channels interleaved; base focal-length-like values plus a
		// small per-control-point perturbation so the surface isn't flat.
		if i%2 == 0 {
			intr[i] = 1000 + float64(i%7)
		} else {
			intr[i] = 1005 + float64(i%5)
		}
	}
	return m, intr
}

func TestSplinedJacobianFiniteDifference(t *testing.T) {
	m, intr := splinedModelAndIntrinsics()
	p := r3.Vector{X: 20, Y: -10, Z: 300}

	res, err := ProjectSplined(m, intr, p, true)
	test.That(t, err, test.ShouldBeNil)

	fdp := finiteDiffDP(t, m, intr, p)
	assertDPMatches(t, res.DQDP, fdp, 1e-3)

	test.That(t, res.DQDIntrinsics.Splined, test.ShouldNotBeNil)
	sj := res.DQDIntrinsics.Splined

	// Finite-difference one control point's channel-0 value against the
	// reported sparse weight.
	ix, iy := 1, 1
	idx := sj.IY0 + iy
	col := sj.IX0 + ix
	flatIdx := idx*sj.Stride + col*2

	plusIntr := append([]float64(nil), intr...)
	minusIntr := append([]float64(nil), intr...)
	plusIntr[flatIdx] += h
	minusIntr[flatIdx] -= h
	plus, err := ProjectSplined(m, plusIntr, p, false)
	test.That(t, err, test.ShouldBeNil)
	minus, err := ProjectSplined(m, minusIntr, p, false)
	test.That(t, err, test.ShouldBeNil)
	fdx := (plus.Q.X - minus.Q.X) / (2 * h)

	weight := sj.CoefX[ix] * sj.CoefY[iy]
	test.That(t, fdx, test.ShouldAlmostEqual, sj.U[0]*weight, 1e-4)
}

func TestDispatchUnknownVariant(t *testing.T) {
	_, err := ProjectCamera(lensmodel.Model{}, nil, r3.Vector{Z: 1}, false)
	test.That(t, err, test.ShouldNotBeNil)
}
