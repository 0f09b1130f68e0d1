package calib

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/projection"
)

// TestProjectUnprojectRoundTrip exercises the public Project/Unproject
// pair together, per spec_full.md section 8's "project(unproject(q)) =
// q" property for a pinhole-core model.
func TestProjectUnprojectRoundTrip(t *testing.T) {
	m := lensmodel.New(lensmodel.Pinhole)
	intr := []float64{1000, 1000, 640, 360}

	pixels := []projection.Point2{
		{X: 640, Y: 360},
		{X: 700, Y: 400},
		{X: 500, Y: 300},
	}

	rays, err := Unproject(context.Background(), m, intr, pixels, logging.NewTest(t))
	test.That(t, err, test.ShouldBeNil)

	points := make([]r3.Vector, len(rays))
	for i, r := range rays {
		test.That(t, r.Z, test.ShouldEqual, 1)
		points[i] = r
	}

	projected, err := Project(context.Background(), m, intr, points, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(projected), test.ShouldEqual, len(pixels))

	for i, pp := range projected {
		test.That(t, math.Abs(pp.Q.X-pixels[i].X), test.ShouldBeLessThan, 1e-3)
		test.That(t, math.Abs(pp.Q.Y-pixels[i].Y), test.ShouldBeLessThan, 1e-3)
	}
}

// TestUnprojectRejectsCoreless confirms spec_full.md section 4.7's
// "unproject on a model without a pinhole core" rejection for the
// splined-stereographic family.
func TestUnprojectRejectsCoreless(t *testing.T) {
	m, err := lensmodel.Parse("SPLINED_STEREOGRAPHIC_3_8_6_120.0_960.0_540.0")
	test.That(t, err, test.ShouldBeNil)

	_, err = Unproject(context.Background(), m, make([]float64, 0), []projection.Point2{{X: 1, Y: 1}}, logging.NewTest(t))
	test.That(t, err, test.ShouldNotBeNil)
}
