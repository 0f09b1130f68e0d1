package bundle

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
	"go.viam.com/camcalib/projection"
	"go.viam.com/camcalib/state"
)

// Result is one assembler evaluation: the weighted residual vector and
// the sparse Jacobian that produced it.
type Result struct {
	Residual []float64
	Jacobian Sink
	Counts   SparsityCounts
}

// tinyRankValues are the "arbitrary non-equal values" spec_full.md
// section 4.4 calls for on skipped/outlier rows, so the frame block
// keeps full rank even when its residual contributes nothing.
var tinyRankValues = [6]float64{1.1, 1.2, 1.3, 1.4, 1.5, 1.6}

// Assemble computes residuals and a sparse Jacobian from packed state,
// per spec_full.md section 4.4's fixed residual ordering: board corners,
// then the pixel rows of every point observation, then one range row per
// distance-carrying point observation (a contiguous block after all pixel
// rows), then regularization.
func Assemble(p *Problem, packed []float64) (Result, error) {
	phys, err := unpackProblem(p, packed)
	if err != nil {
		return Result{}, err
	}

	nBoardCorners, nBoardCornersRefCam := 0, 0
	for _, obs := range p.BoardObservations {
		nBoardCorners += obs.Width * obs.Width
		if obs.Camera == 0 {
			nBoardCornersRefCam += obs.Width * obs.Width
		}
	}
	nPointObsRefCam, nPointObsWithDist, nPointObsWithDistRefCam := 0, 0, 0
	for _, obs := range p.PointObservations {
		if obs.Camera == 0 {
			nPointObsRefCam++
		}
		if obs.HasDistance {
			nPointObsWithDist++
			if obs.Camera == 0 {
				nPointObsWithDistRefCam++
			}
		}
	}

	counts, err := CountSparsity(p.Dims, p.PD,
		nBoardCorners, nBoardCornersRefCam,
		len(p.PointObservations), nPointObsRefCam,
		nPointObsWithDist, nPointObsWithDistRefCam)
	if err != nil {
		return Result{}, err
	}
	scaleDistortion, scaleCenter := regularizationScales(counts)

	res := Result{
		Residual: make([]float64, counts.Total()),
		Counts:   counts,
	}
	sink := &res.Jacobian

	hasCore, _ := lensmodel.HasCore(p.Dims.Model)
	nDist, _ := lensmodel.NumParams(p.Dims.Model)
	isRational := p.Dims.Model.Variant == lensmodel.OpenCV8 || p.Dims.Model.Variant == lensmodel.OpenCV12

	row := 0
	for obsIdx, obs := range p.BoardObservations {
		roi := ROI{}
		if obs.Camera < len(p.ROIs) {
			roi = p.ROIs[obs.Camera]
		}
		for i := 0; i < obs.Width; i++ {
			for j := 0; j < obs.Width; j++ {
				corner := obs.Corners[i*obs.Width+j]
				boardPoint := r3.Vector{
					X: float64(j) * p.BoardSpacing,
					Y: float64(i) * p.BoardSpacing,
					Z: phys.warp.Deflection(i, j, obs.Width),
				}
				grad := warpGradAt(i, j, obs.Width)

				jres, err := projection.ProjectJoint(
					p.Dims.Model, phys.intrinsics[obs.Camera],
					phys.extrinsics[obs.Camera], phys.frames[obs.Frame],
					boardPoint, obs.Camera == 0, grad, true)
				if err != nil {
					return Result{}, errors.Wrapf(err, "board observation %d corner (%d,%d)", obsIdx, i, j)
				}

				weight := corner.Weight * roi.Weight(jres.Q.X, jres.Q.Y)
				skip := obs.Skip || corner.Outlier
				rowX, rowY := row, row+1
				row += 2

				if !skip {
					res.Residual[rowX] = weight * (jres.Q.X - corner.X)
					res.Residual[rowY] = weight * (jres.Q.Y - corner.Y)
				}

				writeIntrinsics(sink, p.Dims, p.PD, obs.Camera, rowX, rowY, weight, jres.DQDIntrinsics)
				writeCameraRT(sink, p.Dims, p.PD, obs.Camera, rowX, rowY, weight, jres.DQDRCamera, jres.DQDTCamera)
				writeFrameRT(sink, p.Dims, p.PD, obs.Frame, rowX, rowY, weight, jres.DQDRFrame, jres.DQDTFrame, skip)
				writeWarp(sink, p.Dims, p.PD, rowX, rowY, weight, jres.DQDWarp)
			}
		}
	}

	nextRangeRow := counts.NBoardRows + counts.NPointPixelRows
	for _, obs := range p.PointObservations {
		roi := ROI{}
		if obs.Camera < len(p.ROIs) {
			roi = p.ROIs[obs.Camera]
		}
		point := phys.points[obs.Point]

		jres, err := projection.ProjectJoint(
			p.Dims.Model, phys.intrinsics[obs.Camera],
			phys.extrinsics[obs.Camera], pose.Identity(),
			point, obs.Camera == 0, projection.WarpDeflectionGrad{}, true)
		if err != nil {
			return Result{}, errors.Wrapf(err, "point observation (cam %d, point %d)", obs.Camera, obs.Point)
		}

		pCamera, jj := pose.JointTransform(phys.extrinsics[obs.Camera], pose.Identity(), point, obs.Camera == 0)

		penalty := 1.0
		if pCamera.Z <= PointGeometryZMin || pCamera.Z >= PointGeometryZMax {
			penalty = pointGeometryPenalty
		}

		weight := obs.Weight * roi.Weight(jres.Q.X, jres.Q.Y) * penalty
		rowX, rowY := row, row+1
		row += 2
		res.Residual[rowX] = weight * (jres.Q.X - obs.X)
		res.Residual[rowY] = weight * (jres.Q.Y - obs.Y)

		writeIntrinsics(sink, p.Dims, p.PD, obs.Camera, rowX, rowY, weight, jres.DQDIntrinsics)
		writeCameraRT(sink, p.Dims, p.PD, obs.Camera, rowX, rowY, weight, jres.DQDRCamera, jres.DQDTCamera)
		writePointBlock(sink, p.Dims, p.PD, obs.Point, rowX, rowY, weight, jres.DQDTFrame)

		if obs.HasDistance {
			norm := pCamera.Norm()
			rangeRow := nextRangeRow
			nextRangeRow++
			res.Residual[rangeRow] = penalty * (norm - obs.Distance) * distanceToPixelScale

			if norm > 0 {
				dndp := pCamera.Mul(1 / norm) // d(|p|)/dp, a unit vector
				scale := penalty * distanceToPixelScale

				pointCol := state.StateIndexPoint(p.Dims, p.PD, obs.Point)
				pointGrad := jj.DTFrame.Transpose().MulVec(dndp)
				sink.Add(rangeRow, pointCol+0, scale*pointGrad.X)
				sink.Add(rangeRow, pointCol+1, scale*pointGrad.Y)
				sink.Add(rangeRow, pointCol+2, scale*pointGrad.Z)

				if p.PD.OptimizeExtrinsics && obs.Camera != 0 {
					rCol := state.StateIndexCameraRT(p.Dims, p.PD, obs.Camera)
					rGrad := jj.DRCamera.Transpose().MulVec(dndp)
					tGrad := jj.DTCamera.Transpose().MulVec(dndp)
					sink.Add(rangeRow, rCol+0, scale*rGrad.X)
					sink.Add(rangeRow, rCol+1, scale*rGrad.Y)
					sink.Add(rangeRow, rCol+2, scale*rGrad.Z)
					sink.Add(rangeRow, rCol+3, scale*tGrad.X)
					sink.Add(rangeRow, rCol+4, scale*tGrad.Y)
					sink.Add(rangeRow, rCol+5, scale*tGrad.Z)
				}
			}
		}
	}
	row = nextRangeRow

	for cam := 0; cam < p.Dims.NumCameras; cam++ {
		intrBase := state.StateIndexIntrinsics(p.Dims, p.PD, cam)
		coreOffset := 0
		if hasCore {
			coreOffset = 4
		}
		if p.PD.OptimizeIntrinsicDistortions {
			// The packed block holds the core only when it is optimized.
			colOffset := 0
			if hasCore && p.PD.OptimizeIntrinsicCore {
				colOffset = 4
			}
			for k := 0; k < nDist; k++ {
				d := phys.intrinsics[cam][coreOffset+k]
				boost := rationalBoost(isRational, k)
				value, deriv := regularizationResidual(d, scaleDistortion*boost)
				res.Residual[row] = value
				sink.Add(row, intrBase+colOffset+k, deriv)
				row++
			}
		}
		if p.PD.OptimizeIntrinsicCore && hasCore {
			imager := state.ImagerSize{}
			if cam < len(p.ImagerSizes) {
				imager = p.ImagerSizes[cam]
			}
			cx, cy := phys.intrinsics[cam][2], phys.intrinsics[cam][3]
			cxTarget := float64(imager.Width-1) / 2
			cyTarget := float64(imager.Height-1) / 2
			res.Residual[row] = (cx - cxTarget) * scaleCenter
			sink.Add(row, intrBase+2, scaleCenter)
			row++
			res.Residual[row] = (cy - cyTarget) * scaleCenter
			sink.Add(row, intrBase+3, scaleCenter)
			row++
		}
	}

	return res, nil
}

// unpackProblem allocates fresh physical-block storage sized to p.Dims and
// fills it from packed via state.Unpack.
func unpackProblem(p *Problem, packed []float64) (physicalFromPacked, error) {
	nIntr, err := lensmodel.NumIntrinsics(p.Dims.Model)
	if err != nil {
		return physicalFromPacked{}, err
	}

	phys := physicalFromPacked{
		intrinsics: make([][]float64, p.Dims.NumCameras),
		extrinsics: make([]pose.Pose, p.Dims.NumCameras),
		frames:     make([]pose.Pose, p.Dims.NumFrames),
		points:     make([]r3.Vector, p.Dims.NumPoints),
	}
	for c := range phys.intrinsics {
		phys.intrinsics[c] = make([]float64, nIntr)
	}

	blocks := state.PhysicalBlocks{
		Intrinsics: phys.intrinsics,
		Extrinsics: phys.extrinsics,
		Frames:     phys.frames,
		Points:     phys.points,
	}
	if err := state.Unpack(p.Dims, p.PD, packed, &blocks); err != nil {
		return physicalFromPacked{}, errors.Wrap(err, "unpack packed state")
	}
	phys.warp = blocks.Warp
	return phys, nil
}

func warpGradAt(i, j, width int) projection.WarpDeflectionGrad {
	fi := float64(i) / float64(width-1)
	fj := float64(j) / float64(width-1)
	return projection.WarpDeflectionGrad{
		DKX: 4 * fi * (1 - fi),
		DKY: 4 * fj * (1 - fj),
	}
}

func writeIntrinsics(sink *Sink, dims state.Dims, pd state.ProblemDetails, cam, rowX, rowY int, weight float64, jac projection.IntrinsicsJacobian) {
	base := state.StateIndexIntrinsics(dims, pd, cam)
	if base < 0 {
		return
	}
	// The packed intrinsics block holds only the active scalars, so a dense
	// row pair is cut down to the core and/or distortion columns in state.
	if hasCore, _ := lensmodel.HasCore(dims.Model); hasCore && jac.Dense != nil {
		n := len(jac.Dense) / 2
		lo, hi := 0, n
		if !pd.OptimizeIntrinsicCore {
			lo = 4
		}
		if !pd.OptimizeIntrinsicDistortions {
			hi = 4
		}
		jac.Dense = append(append([]float64{}, jac.Dense[lo:hi]...), jac.Dense[n+lo:n+hi]...)
	}
	writerFor(jac).WriteIntrinsics(sink, rowX, rowY, base, weight, jac)
}

func writeCameraRT(sink *Sink, dims state.Dims, pd state.ProblemDetails, cam, rowX, rowY int, weight float64, dr, dt projection.Jacobian2x3) {
	if !pd.OptimizeExtrinsics || cam == 0 {
		return
	}
	base := state.StateIndexCameraRT(dims, pd, cam)
	sink.Add(rowX, base+0, weight*dr.DX.X)
	sink.Add(rowX, base+1, weight*dr.DX.Y)
	sink.Add(rowX, base+2, weight*dr.DX.Z)
	sink.Add(rowX, base+3, weight*dt.DX.X)
	sink.Add(rowX, base+4, weight*dt.DX.Y)
	sink.Add(rowX, base+5, weight*dt.DX.Z)
	sink.Add(rowY, base+0, weight*dr.DY.X)
	sink.Add(rowY, base+1, weight*dr.DY.Y)
	sink.Add(rowY, base+2, weight*dr.DY.Z)
	sink.Add(rowY, base+3, weight*dt.DY.X)
	sink.Add(rowY, base+4, weight*dt.DY.Y)
	sink.Add(rowY, base+5, weight*dt.DY.Z)
}

func writeFrameRT(sink *Sink, dims state.Dims, pd state.ProblemDetails, frame, rowX, rowY int, weight float64, dr, dt projection.Jacobian2x3, skip bool) {
	if !pd.OptimizeFrames {
		return
	}
	base := state.StateIndexFrameRT(dims, pd, frame)
	if skip {
		sink.Add(rowX, base+0, tinyRankValues[0])
		sink.Add(rowX, base+1, tinyRankValues[1])
		sink.Add(rowX, base+2, tinyRankValues[2])
		sink.Add(rowX, base+3, tinyRankValues[3])
		sink.Add(rowX, base+4, tinyRankValues[4])
		sink.Add(rowX, base+5, tinyRankValues[5])
		sink.Add(rowY, base+0, tinyRankValues[5])
		sink.Add(rowY, base+1, tinyRankValues[4])
		sink.Add(rowY, base+2, tinyRankValues[3])
		sink.Add(rowY, base+3, tinyRankValues[2])
		sink.Add(rowY, base+4, tinyRankValues[1])
		sink.Add(rowY, base+5, tinyRankValues[0])
		return
	}
	sink.Add(rowX, base+0, weight*dr.DX.X)
	sink.Add(rowX, base+1, weight*dr.DX.Y)
	sink.Add(rowX, base+2, weight*dr.DX.Z)
	sink.Add(rowX, base+3, weight*dt.DX.X)
	sink.Add(rowX, base+4, weight*dt.DX.Y)
	sink.Add(rowX, base+5, weight*dt.DX.Z)
	sink.Add(rowY, base+0, weight*dr.DY.X)
	sink.Add(rowY, base+1, weight*dr.DY.Y)
	sink.Add(rowY, base+2, weight*dr.DY.Z)
	sink.Add(rowY, base+3, weight*dt.DY.X)
	sink.Add(rowY, base+4, weight*dt.DY.Y)
	sink.Add(rowY, base+5, weight*dt.DY.Z)
}

func writeWarp(sink *Sink, dims state.Dims, pd state.ProblemDetails, rowX, rowY int, weight float64, dqdwarp [2][2]float64) {
	if !pd.OptimizeCalObjectWarp {
		return
	}
	base := state.StateIndexWarp(dims, pd)
	sink.Add(rowX, base+0, weight*dqdwarp[0][0])
	sink.Add(rowX, base+1, weight*dqdwarp[0][1])
	sink.Add(rowY, base+0, weight*dqdwarp[1][0])
	sink.Add(rowY, base+1, weight*dqdwarp[1][1])
}

func writePointBlock(sink *Sink, dims state.Dims, pd state.ProblemDetails, point, rowX, rowY int, weight float64, dPoint projection.Jacobian2x3) {
	base := state.StateIndexPoint(dims, pd, point)
	sink.Add(rowX, base+0, weight*dPoint.DX.X)
	sink.Add(rowX, base+1, weight*dPoint.DX.Y)
	sink.Add(rowX, base+2, weight*dPoint.DX.Z)
	sink.Add(rowY, base+0, weight*dPoint.DY.X)
	sink.Add(rowY, base+1, weight*dPoint.DY.Y)
	sink.Add(rowY, base+2, weight*dPoint.DY.Z)
}
