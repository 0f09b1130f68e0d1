package bundle

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/camcalib/projection"
)

func TestDenseWriterWritesEveryColumn(t *testing.T) {
	sink := &Sink{}
	jac := projection.IntrinsicsJacobian{Dense: []float64{1, 0, 3, 4, 5, 6, 7, 8}} // n=4
	n := writerFor(jac).WriteIntrinsics(sink, 10, 11, 100, 2.0, jac)

	test.That(t, n, test.ShouldEqual, 8)
	test.That(t, sink.Len(), test.ShouldEqual, 8)
	for _, r := range sink.Rows {
		test.That(t, r == 10 || r == 11, test.ShouldBeTrue)
	}
	for _, c := range sink.Cols {
		test.That(t, c, test.ShouldBeGreaterThanOrEqualTo, 100)
		test.That(t, c, test.ShouldBeLessThan, 104)
	}
}

func TestSplinedWriterWritesFixed32NonzeroTile(t *testing.T) {
	sink := &Sink{}
	jac := projection.IntrinsicsJacobian{
		Splined: &projection.SplinedIntrinsicsJacobian{
			IX0: 2, IY0: 3, Stride: 16,
			CoefX: [4]float64{0, 0.2, 0.5, 0.3},
			CoefY: [4]float64{0.1, 0.4, 0.4, 0.1},
			U:     [2]float64{0.01, -0.02},
		},
	}
	n := writerFor(jac).WriteIntrinsics(sink, 0, 1, 0, 1.0, jac)
	test.That(t, n, test.ShouldEqual, 32)
	test.That(t, sink.Len(), test.ShouldEqual, 32)
}

func TestWriterForDispatchesOnShape(t *testing.T) {
	dense := projection.IntrinsicsJacobian{Dense: []float64{1, 2}}
	splined := projection.IntrinsicsJacobian{Splined: &projection.SplinedIntrinsicsJacobian{}}

	_, isDense := writerFor(dense).(denseWriter)
	test.That(t, isDense, test.ShouldBeTrue)

	_, isSplined := writerFor(splined).(splinedWriter)
	test.That(t, isSplined, test.ShouldBeTrue)
}
