package bundle

import (
	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/state"
)

// SparsityCounts is the pure sparsity-counting result: the number of
// residual rows, in the four layout sections, and the number of Jacobian
// nonzeros those rows must contain in total. The assembler must produce
// exactly this many rows and nonzeros for the same inputs, per
// spec_full.md section 4.4.
type SparsityCounts struct {
	NBoardRows         int
	NPointPixelRows    int
	NRangeRows         int
	NRegDistortionRows int
	NRegCenterRows     int
	NNonzeros          int
}

// Total returns the total residual count across all sections.
func (s SparsityCounts) Total() int {
	return s.NBoardRows + s.NPointPixelRows + s.NRangeRows + s.NRegDistortionRows + s.NRegCenterRows
}

// CountSparsity is a pure function of the problem's dimensions, the
// number of board/point observations (with/without a reference
// distance, on the reference camera or not), the active optimize flags,
// and the lens model: it does not inspect pixel data. Per spec_full.md
// section 4.4's second open question, the splined-model intrinsics tile
// size is fixed at 4*4*2 = 32 nonzeros per residual-row-pair, not
// derived from mrcal_getN_j_nonzero's incomplete branch.
//
// Camera 0 is the coordinate reference and carries no extrinsics state
// (spec.md section 3), so observations on camera 0 contribute no
// camera-rotation/translation nonzeros; nBoardCornersRefCam and
// nPointObsRefCam count the subset of nBoardCorners/nPointObs that
// belong to camera 0.
func CountSparsity(
	dims state.Dims,
	pd state.ProblemDetails,
	nBoardCorners int, // total corners across all board observations (sum of Width*Width)
	nBoardCornersRefCam int,
	nPointObs int,
	nPointObsRefCam int,
	nPointObsWithDistance int,
	nPointObsWithDistanceRefCam int,
) (SparsityCounts, error) {
	hasCore, err := lensmodel.HasCore(dims.Model)
	if err != nil {
		return SparsityCounts{}, err
	}
	nDist, err := lensmodel.NumParams(dims.Model)
	if err != nil {
		return SparsityCounts{}, err
	}
	splined := dims.Model.Variant == lensmodel.SplinedStereographic

	activeIntrNNZPerRowPair := 0
	if splined {
		if pd.OptimizeIntrinsicDistortions {
			activeIntrNNZPerRowPair = 32
		}
	} else {
		activeIntr := 0
		if pd.OptimizeIntrinsicCore && hasCore {
			activeIntr += 4
		}
		if pd.OptimizeIntrinsicDistortions {
			activeIntr += nDist
		}
		activeIntrNNZPerRowPair = 2 * activeIntr
	}

	cameraRTNNZPerRowPair := 0
	if pd.OptimizeExtrinsics {
		cameraRTNNZPerRowPair = 2 * 6
	}
	frameRTNNZPerRowPair := 0
	if pd.OptimizeFrames {
		frameRTNNZPerRowPair = 2 * 6
	}
	warpNNZPerRowPair := 0
	if pd.OptimizeCalObjectWarp {
		warpNNZPerRowPair = 2 * 2
	}

	var c SparsityCounts
	c.NBoardRows = 2 * nBoardCorners
	c.NPointPixelRows = 2 * nPointObs
	c.NRangeRows = nPointObsWithDistance

	nBoardCornersNonRef := nBoardCorners - nBoardCornersRefCam
	nnzPerBoardRowPairRef := activeIntrNNZPerRowPair + frameRTNNZPerRowPair + warpNNZPerRowPair
	nnzPerBoardRowPairNonRef := nnzPerBoardRowPairRef + cameraRTNNZPerRowPair
	c.NNonzeros += nBoardCornersRefCam*nnzPerBoardRowPairRef + nBoardCornersNonRef*nnzPerBoardRowPairNonRef

	// Isolated points: same intrinsics/camera contribution, a 3-wide
	// point block in place of the 6-wide frame block, no warp term.
	nPointObsNonRef := nPointObs - nPointObsRefCam
	pointBlockNNZPerRowPair := 2 * 3
	nnzPerPointRowPairRef := activeIntrNNZPerRowPair + pointBlockNNZPerRowPair
	nnzPerPointRowPairNonRef := nnzPerPointRowPairRef + cameraRTNNZPerRowPair
	c.NNonzeros += nPointObsRefCam*nnzPerPointRowPairRef + nPointObsNonRef*nnzPerPointRowPairNonRef

	// Range residuals touch only the point block and camera rotation+
	// translation (no intrinsics — distance is purely geometric).
	nPointObsWithDistanceNonRef := nPointObsWithDistance - nPointObsWithDistanceRefCam
	nnzPerRangeRowRef := 3
	nnzPerRangeRowNonRef := nnzPerRangeRowRef + cameraRTNNZPerRowPair/2
	c.NNonzeros += nPointObsWithDistanceRefCam*nnzPerRangeRowRef + nPointObsWithDistanceNonRef*nnzPerRangeRowNonRef

	if pd.OptimizeIntrinsicDistortions {
		c.NRegDistortionRows = dims.NumCameras * nDist
		c.NNonzeros += c.NRegDistortionRows // one column each
	}
	if pd.OptimizeIntrinsicCore && hasCore {
		c.NRegCenterRows = dims.NumCameras * 2
		c.NNonzeros += c.NRegCenterRows
	}

	return c, nil
}
