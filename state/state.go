// Package state packs and unpacks the optimizer's "physical" parameter
// blocks into the fixed-scale vector the external solver consumes, per
// spec.md sections 3 and 4.3.
package state

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
)

// Scale constants, per spec.md sections 3 and 6. Do not change without
// re-baselining the uncertainty outputs these feed.
const (
	ScaleFocal           = 500.0
	ScaleCenter          = 20.0
	ScaleCameraRotation  = 0.1 * math.Pi / 180.0 // 0.1 degree, in radians
	ScaleCameraTranslate = 1.0
	ScaleFrameRotation   = 15.0 * math.Pi / 180.0 // 15 degrees, in radians
	ScaleFrameTranslate  = 100.0
	ScalePoint           = 100.0
	ScaleWarp            = 0.01
	ScaleDistortion      = 1.0
)

// ProblemDetails enumerates what the solve is allowed to vary, per
// spec.md section 3.
type ProblemDetails struct {
	OptimizeIntrinsicCore        bool
	OptimizeIntrinsicDistortions bool
	OptimizeExtrinsics           bool
	OptimizeFrames               bool
	OptimizeCalObjectWarp        bool
	// SkipRegularization is carried but not consulted: bundle.CountSparsity
	// and bundle.Assemble emit the regularization rows whatever its value.
	SkipRegularization bool
}

// ImagerSize is the per-camera pixel resolution, needed by the
// intrinsic-core regularization target (spec_full.md section 3.1).
type ImagerSize struct {
	Width, Height int
}

// Dims carries the problem's cardinalities, needed by every layout query.
type Dims struct {
	NumCameras int
	NumFrames  int
	NumPoints  int
	Model      lensmodel.Model
}

// PhysicalBlocks is the caller-owned, unscaled parameter storage: one
// intrinsics vector per camera, one extrinsics Pose per camera (camera 0's
// is ignored), one frame Pose per board observation, one point position
// per tracked point, and a single calibration-object warp.
type PhysicalBlocks struct {
	Intrinsics [][]float64 // len NumCameras, each len NumIntrinsics(Model)
	Extrinsics []pose.Pose // len NumCameras; index 0 unused
	Frames     []pose.Pose // len NumFrames
	Points     []r3.Vector // len NumPoints
	Warp       CalObjectWarp
}

// CalObjectWarp is the two-scalar parabolic deflection model, per spec.md
// section 3.
type CalObjectWarp struct {
	KX, KY float64
}

// Deflection returns the out-of-plane z offset at board grid index (i, j)
// for a board of width w, per spec.md's CalibrationObjectWarp definition.
func (w CalObjectWarp) Deflection(i, j, width int) float64 {
	fi := float64(i) / float64(width-1)
	fj := float64(j) / float64(width-1)
	return 4*w.KX*fi*(1-fi) + 4*w.KY*fj*(1-fj)
}

var errBadDims = errors.New("state: dimensions do not match physical blocks")

// blockSizes returns (per-block scalar counts, in packed order) for the
// blocks that are actually active under pd.
func blockSizes(d Dims, pd ProblemDetails) (intr, extr, frame, point, warp int) {
	hasCore, _ := lensmodel.HasCore(d.Model)
	nDist, _ := lensmodel.NumParams(d.Model)

	activeIntr := 0
	if pd.OptimizeIntrinsicCore && hasCore {
		activeIntr += 4
	}
	if pd.OptimizeIntrinsicDistortions {
		activeIntr += nDist
	}

	if pd.OptimizeExtrinsics {
		extr = 6
	}
	if pd.OptimizeFrames {
		frame = 6
	}
	point = 3
	if pd.OptimizeCalObjectWarp {
		warp = 2
	}
	return activeIntr, extr, frame, point, warp
}

// NumState returns len(packed) for the given dimensions and flags, per
// spec.md section 4.3's invariant.
func NumState(d Dims, pd ProblemDetails) int {
	intr, extr, frame, point, warp := blockSizes(d, pd)
	n := d.NumCameras * intr
	if pd.OptimizeExtrinsics && d.NumCameras > 0 {
		n += (d.NumCameras - 1) * extr
	}
	n += d.NumFrames * frame
	n += d.NumPoints * point
	n += warp
	return n
}

// StateIndexIntrinsics returns the packed offset of camera cam's
// intrinsics block, or -1 if that block is not active.
func StateIndexIntrinsics(d Dims, pd ProblemDetails, cam int) int {
	intr, _, _, _, _ := blockSizes(d, pd)
	if intr == 0 {
		return -1
	}
	return cam * intr
}

// IntrinsicsBlockWidth returns the number of active intrinsics scalars
// per camera (identical for every camera, since activation is governed
// by pd and the shared lens model, not by camera index).
func IntrinsicsBlockWidth(d Dims, pd ProblemDetails) int {
	intr, _, _, _, _ := blockSizes(d, pd)
	return intr
}

// StateIndexCameraRT returns the packed offset of camera cam's extrinsics
// block. Undefined (panics) for cam==0, which has no extrinsics state:
// its pose is fixed at identity.
func StateIndexCameraRT(d Dims, pd ProblemDetails, cam int) int {
	if cam == 0 {
		panic("state: camera 0 has no extrinsics state")
	}
	if !pd.OptimizeExtrinsics {
		return -1
	}
	intr, extr, _, _, _ := blockSizes(d, pd)
	base := d.NumCameras * intr
	return base + (cam-1)*extr
}

// StateIndexFrameRT returns the packed offset of board observation
// frame's pose block.
func StateIndexFrameRT(d Dims, pd ProblemDetails, frame int) int {
	if !pd.OptimizeFrames {
		return -1
	}
	intr, extr, frameSz, _, _ := blockSizes(d, pd)
	base := d.NumCameras * intr
	if pd.OptimizeExtrinsics && d.NumCameras > 0 {
		base += (d.NumCameras - 1) * extr
	}
	return base + frame*frameSz
}

// StateIndexPoint returns the packed offset of tracked point p's position.
func StateIndexPoint(d Dims, pd ProblemDetails, p int) int {
	intr, extr, frameSz, pointSz, _ := blockSizes(d, pd)
	base := d.NumCameras * intr
	if pd.OptimizeExtrinsics && d.NumCameras > 0 {
		base += (d.NumCameras - 1) * extr
	}
	base += d.NumFrames * frameSz
	return base + p*pointSz
}

// StateIndexWarp returns the packed offset of the calibration-object warp
// block, or -1 if it is not active.
func StateIndexWarp(d Dims, pd ProblemDetails) int {
	if !pd.OptimizeCalObjectWarp {
		return -1
	}
	return NumState(d, pd) - 2
}

// Pack scales and concatenates the physical blocks into packed, per the
// layout in spec.md section 3. packed must be pre-allocated to
// NumState(d, pd).
func Pack(d Dims, pd ProblemDetails, phys PhysicalBlocks, packed []float64) error {
	if err := validate(d, pd, phys, packed); err != nil {
		return err
	}
	hasCore, _ := lensmodel.HasCore(d.Model)
	nDist, _ := lensmodel.NumParams(d.Model)

	for cam := 0; cam < d.NumCameras; cam++ {
		off := StateIndexIntrinsics(d, pd, cam)
		if off < 0 {
			continue
		}
		src := phys.Intrinsics[cam]
		i := 0
		if pd.OptimizeIntrinsicCore && hasCore {
			packed[off+0] = src[0] / ScaleFocal
			packed[off+1] = src[1] / ScaleFocal
			packed[off+2] = src[2] / ScaleCenter
			packed[off+3] = src[3] / ScaleCenter
			i = 4
			off += 4
		}
		if pd.OptimizeIntrinsicDistortions {
			coreLen := 0
			if hasCore {
				coreLen = 4
			}
			for k := 0; k < nDist; k++ {
				packed[off+k] = src[coreLen+k] / ScaleDistortion
			}
			_ = i
		}
	}

	if pd.OptimizeExtrinsics {
		for cam := 1; cam < d.NumCameras; cam++ {
			off := StateIndexCameraRT(d, pd, cam)
			ps := phys.Extrinsics[cam]
			packed[off+0] = ps.Rotation.X / ScaleCameraRotation
			packed[off+1] = ps.Rotation.Y / ScaleCameraRotation
			packed[off+2] = ps.Rotation.Z / ScaleCameraRotation
			packed[off+3] = ps.Translation.X / ScaleCameraTranslate
			packed[off+4] = ps.Translation.Y / ScaleCameraTranslate
			packed[off+5] = ps.Translation.Z / ScaleCameraTranslate
		}
	}

	if pd.OptimizeFrames {
		for f := 0; f < d.NumFrames; f++ {
			off := StateIndexFrameRT(d, pd, f)
			ps := phys.Frames[f]
			packed[off+0] = ps.Rotation.X / ScaleFrameRotation
			packed[off+1] = ps.Rotation.Y / ScaleFrameRotation
			packed[off+2] = ps.Rotation.Z / ScaleFrameRotation
			packed[off+3] = ps.Translation.X / ScaleFrameTranslate
			packed[off+4] = ps.Translation.Y / ScaleFrameTranslate
			packed[off+5] = ps.Translation.Z / ScaleFrameTranslate
		}
	}

	for p := 0; p < d.NumPoints; p++ {
		off := StateIndexPoint(d, pd, p)
		v := phys.Points[p]
		packed[off+0] = v.X / ScalePoint
		packed[off+1] = v.Y / ScalePoint
		packed[off+2] = v.Z / ScalePoint
	}

	if pd.OptimizeCalObjectWarp {
		off := StateIndexWarp(d, pd)
		packed[off+0] = phys.Warp.KX / ScaleWarp
		packed[off+1] = phys.Warp.KY / ScaleWarp
	}

	return nil
}

// Unpack is the inverse of Pack: it overwrites the active blocks of phys
// from packed, leaving inactive blocks untouched. phys is taken by
// pointer because, unlike the slice-typed blocks, phys.Warp is a plain
// struct field and a by-value receiver would silently drop it.
func Unpack(d Dims, pd ProblemDetails, packed []float64, phys *PhysicalBlocks) error {
	if len(packed) != NumState(d, pd) {
		return errors.Wrapf(errBadDims, "len(packed)=%d want %d", len(packed), NumState(d, pd))
	}
	hasCore, _ := lensmodel.HasCore(d.Model)
	nDist, _ := lensmodel.NumParams(d.Model)

	for cam := 0; cam < d.NumCameras; cam++ {
		off := StateIndexIntrinsics(d, pd, cam)
		if off < 0 {
			continue
		}
		dst := phys.Intrinsics[cam]
		if pd.OptimizeIntrinsicCore && hasCore {
			dst[0] = packed[off+0] * ScaleFocal
			dst[1] = packed[off+1] * ScaleFocal
			dst[2] = packed[off+2] * ScaleCenter
			dst[3] = packed[off+3] * ScaleCenter
			off += 4
		}
		if pd.OptimizeIntrinsicDistortions {
			coreLen := 0
			if hasCore {
				coreLen = 4
			}
			for k := 0; k < nDist; k++ {
				dst[coreLen+k] = packed[off+k] * ScaleDistortion
			}
		}
	}

	if pd.OptimizeExtrinsics {
		for cam := 1; cam < d.NumCameras; cam++ {
			off := StateIndexCameraRT(d, pd, cam)
			phys.Extrinsics[cam] = pose.Pose{
				Rotation: r3.Vector{
					X: packed[off+0] * ScaleCameraRotation,
					Y: packed[off+1] * ScaleCameraRotation,
					Z: packed[off+2] * ScaleCameraRotation,
				},
				Translation: r3.Vector{
					X: packed[off+3] * ScaleCameraTranslate,
					Y: packed[off+4] * ScaleCameraTranslate,
					Z: packed[off+5] * ScaleCameraTranslate,
				},
			}
		}
	}

	if pd.OptimizeFrames {
		for f := 0; f < d.NumFrames; f++ {
			off := StateIndexFrameRT(d, pd, f)
			phys.Frames[f] = pose.Pose{
				Rotation: r3.Vector{
					X: packed[off+0] * ScaleFrameRotation,
					Y: packed[off+1] * ScaleFrameRotation,
					Z: packed[off+2] * ScaleFrameRotation,
				},
				Translation: r3.Vector{
					X: packed[off+3] * ScaleFrameTranslate,
					Y: packed[off+4] * ScaleFrameTranslate,
					Z: packed[off+5] * ScaleFrameTranslate,
				},
			}
		}
	}

	for p := 0; p < d.NumPoints; p++ {
		off := StateIndexPoint(d, pd, p)
		phys.Points[p] = r3.Vector{
			X: packed[off+0] * ScalePoint,
			Y: packed[off+1] * ScalePoint,
			Z: packed[off+2] * ScalePoint,
		}
	}

	if pd.OptimizeCalObjectWarp {
		off := StateIndexWarp(d, pd)
		phys.Warp.KX = packed[off+0] * ScaleWarp
		phys.Warp.KY = packed[off+1] * ScaleWarp
	}

	return nil
}

func validate(d Dims, pd ProblemDetails, phys PhysicalBlocks, packed []float64) error {
	want := NumState(d, pd)
	if len(packed) != want {
		return errors.Wrapf(errBadDims, "len(packed)=%d want %d", len(packed), want)
	}
	if len(phys.Intrinsics) != d.NumCameras {
		return errors.Wrap(errBadDims, "len(Intrinsics) != NumCameras")
	}
	if len(phys.Extrinsics) != d.NumCameras {
		return errors.Wrap(errBadDims, "len(Extrinsics) != NumCameras")
	}
	if len(phys.Frames) != d.NumFrames {
		return errors.Wrap(errBadDims, "len(Frames) != NumFrames")
	}
	if len(phys.Points) != d.NumPoints {
		return errors.Wrap(errBadDims, "len(Points) != NumPoints")
	}
	return nil
}
