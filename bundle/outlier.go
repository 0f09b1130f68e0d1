package bundle

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/camcalib/logging"
)

// expectedStdev is the noise floor the 3-sigma threshold is never
// allowed to shrink below, per spec_full.md section 4.5's "clamp
// sigma^2 >= expected_stdev^2" rule.
const expectedStdev = 0.5 // pixels

// OutlierReport summarizes one MarkOutliers pass.
type OutlierReport struct {
	Mean        float64
	Sigma       float64
	NewOutliers int
	TotalActive int // corners neither skipped, ROI-outside, nor already outlier
}

// MarkOutliers runs one pass of the between-solve outlier policy, per
// spec_full.md section 4.5: reproject every board corner at packed,
// pool the weighted-unweighted residual X and Y components of every
// corner that is not already marked outlier, not skipped, and not
// ROI-outside, compute their mean and (floor-clamped) standard
// deviation, and mark any corner whose X or Y component lies more than
// 3 sigma from the mean.
//
// Point observations are never considered — only board-corner
// detections carry the noise model the 3-sigma test assumes. The pass
// is idempotent: corners already marked outlier are excluded from the
// statistics and never unmarked, so calling MarkOutliers again with no
// intervening solve marks nothing new once the active population has
// stabilized.
func MarkOutliers(p *Problem, packed []float64, logger *logging.Logger) (OutlierReport, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	asm, err := Assemble(p, packed)
	if err != nil {
		return OutlierReport{}, errors.Wrap(err, "reproject for outlier pass")
	}

	type activeCorner struct {
		obsIdx, i, j int
		dx, dy       float64
	}
	var active []activeCorner
	var pooled []float64

	row := 0
	for obsIdx, obs := range p.BoardObservations {
		roi := ROI{}
		if obs.Camera < len(p.ROIs) {
			roi = p.ROIs[obs.Camera]
		}
		for i := 0; i < obs.Width; i++ {
			for j := 0; j < obs.Width; j++ {
				rowX, rowY := row, row+1
				row += 2

				corner := obs.Corners[i*obs.Width+j]
				if obs.Skip || corner.Outlier || corner.Weight <= 0 {
					continue
				}
				if roi.Active && roi.Weight(corner.X, corner.Y) != 1.0 {
					continue
				}
				dx := asm.Residual[rowX] / corner.Weight
				dy := asm.Residual[rowY] / corner.Weight
				active = append(active, activeCorner{obsIdx: obsIdx, i: i, j: j, dx: dx, dy: dy})
				pooled = append(pooled, dx, dy)
			}
		}
	}

	report := OutlierReport{TotalActive: len(active)}
	if len(active) == 0 {
		return report, nil
	}

	mean := floats.Sum(pooled) / float64(len(pooled))
	sigma := stat.StdDev(pooled, nil)
	if sigma < expectedStdev {
		sigma = expectedStdev
	}
	report.Mean, report.Sigma = mean, sigma

	for _, c := range active {
		if math.Abs(c.dx-mean) <= 3*sigma && math.Abs(c.dy-mean) <= 3*sigma {
			continue
		}
		p.BoardObservations[c.obsIdx].Corners[c.i*p.BoardObservations[c.obsIdx].Width+c.j].Outlier = true
		report.NewOutliers++
	}

	logger.Infow("outlier pass",
		"active", report.TotalActive,
		"mean", report.Mean,
		"sigma", report.Sigma,
		"newOutliers", report.NewOutliers)

	return report, nil
}
