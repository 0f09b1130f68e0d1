package bundle

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestRegularizationScalesPositiveAndShrinkWithMoreRows(t *testing.T) {
	small := SparsityCounts{NBoardRows: 100, NRegDistortionRows: 8, NRegCenterRows: 4}
	large := SparsityCounts{NBoardRows: 10000, NRegDistortionRows: 8, NRegCenterRows: 4}

	sSmall, cSmall := regularizationScales(small)
	sLarge, cLarge := regularizationScales(large)

	test.That(t, sSmall, test.ShouldBeGreaterThan, 0)
	test.That(t, cSmall, test.ShouldBeGreaterThan, 0)
	// More non-regularization rows -> larger expected cost budget -> larger scale.
	test.That(t, sLarge, test.ShouldBeGreaterThan, sSmall)
	test.That(t, cLarge, test.ShouldBeGreaterThan, cSmall)
}

// TestRegularizationBudgetLaw checks that at the distortion model's own
// "normal" magnitude, the total regularization cost lands at roughly
// regularizationFraction of the non-regularization expected cost, per
// spec_full.md section 4.4's sizing rule (ported from mrcal.c).
func TestRegularizationBudgetLaw(t *testing.T) {
	counts := SparsityCounts{NBoardRows: 5000, NRegDistortionRows: 8, NRegCenterRows: 4}
	scaleDistortion, _ := regularizationScales(counts)

	expectedSq := float64(counts.Total()-counts.NRegDistortionRows-counts.NRegCenterRows) * normalPixelError * normalPixelError

	sumSq := 0.0
	for k := 0; k < counts.NRegDistortionRows; k++ {
		value, _ := regularizationResidual(normalDistortionValue, scaleDistortion)
		sumSq += value * value
	}

	ratio := sumSq / expectedSq
	test.That(t, ratio, test.ShouldBeGreaterThan, regularizationFraction*0.9)
	test.That(t, ratio, test.ShouldBeLessThan, regularizationFraction*1.2)
}

func TestRationalBoostOnlyAppliesToRationalModelsAndIndices(t *testing.T) {
	test.That(t, rationalBoost(false, 5), test.ShouldEqual, 1.0)
	test.That(t, rationalBoost(true, 4), test.ShouldEqual, 1.0)
	test.That(t, rationalBoost(true, 5), test.ShouldEqual, 5.0)
	test.That(t, rationalBoost(true, 7), test.ShouldEqual, 5.0)
	test.That(t, rationalBoost(true, 8), test.ShouldEqual, 1.0)
}

func TestRegularizationResidualSignMatchesInput(t *testing.T) {
	posValue, posDeriv := regularizationResidual(0.3, 1.0)
	negValue, negDeriv := regularizationResidual(-0.3, 1.0)

	test.That(t, posValue, test.ShouldBeGreaterThan, 0)
	test.That(t, negValue, test.ShouldBeLessThan, 0)
	test.That(t, math.Abs(posValue), test.ShouldAlmostEqual, math.Abs(negValue), 1e-12)
	test.That(t, posDeriv, test.ShouldAlmostEqual, negDeriv, 1e-12)
}
