package projection

import (
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/lensmodel"
	"go.viam.com/camcalib/pose"
)

// JointResult is the full per-observation projection output: a pixel,
// its intrinsics Jacobian, and its Jacobians w.r.t. camera extrinsics,
// frame pose, and calibration-object warp, per spec_full.md section 4.2.
type JointResult struct {
	Q             Point2
	DQDIntrinsics IntrinsicsJacobian

	// Omitted (left zero) when projecting against camera 0, whose pose is
	// fixed at identity.
	DQDRCamera, DQDTCamera Jacobian2x3

	DQDRFrame, DQDTFrame Jacobian2x3

	// DQDWarp[i][k] is d(Q.{X,Y}[i]) / d(warp parameter k).
	DQDWarp [2][2]float64
}

// WarpDeflectionGrad is the partial derivative of a board point's
// out-of-plane z deflection w.r.t. each of the two warp scalars, at a
// given board grid location — see state.CalObjectWarp.Deflection.
type WarpDeflectionGrad struct {
	DKX, DKY float64
}

// ProjectJoint composes camera extrinsics and frame pose into a joint
// transform, projects the resulting camera-frame point through m, and
// assembles the full chain-ruled Jacobian set described by
// spec_full.md's "Gradient composition" and "Warp derivative" rules.
//
// pointBoard is the point in the calibration-target body frame, already
// including any warp-induced z deflection; warpGrad gives d(z)/d(warp)
// for that same point (zero value for non-board points, which carry no
// warp dependence).
func ProjectJoint(
	m lensmodel.Model,
	intrinsics []float64,
	camExtrinsics, framePose pose.Pose,
	pointBoard r3.Vector,
	camIsReference bool,
	warpGrad WarpDeflectionGrad,
	needGrad bool,
) (JointResult, error) {
	pCamera, jj := pose.JointTransform(camExtrinsics, framePose, pointBoard, camIsReference)

	res, err := ProjectCamera(m, intrinsics, pCamera, needGrad)
	if err != nil {
		return JointResult{}, err
	}

	out := JointResult{Q: res.Q, DQDIntrinsics: res.DQDIntrinsics}
	if !needGrad {
		return out, nil
	}

	out.DQDRCamera = res.DQDP.MulMat3(jj.DRCamera)
	out.DQDTCamera = res.DQDP.MulMat3(jj.DTCamera)
	out.DQDRFrame = res.DQDP.MulMat3(jj.DRFrame)
	out.DQDTFrame = res.DQDP.MulMat3(jj.DTFrame)

	// Warp only perturbs pointBoard.z; its effect reaches the camera-frame
	// point through the joint rotation's third column (spec_full.md's
	// "Warp derivative" rule: dq/dk = dq/dp_joint . R_joint[:,2] . dz/dk).
	joint := framePose
	if !camIsReference {
		joint = pose.Compose(camExtrinsics, framePose)
	}
	zCol := pose.RotationMatrix(joint.Rotation).Col(2)
	dqdz := r3.Vector{X: res.DQDP.DX.Dot(zCol), Y: res.DQDP.DY.Dot(zCol)}
	out.DQDWarp[0][0] = dqdz.X * warpGrad.DKX
	out.DQDWarp[0][1] = dqdz.X * warpGrad.DKY
	out.DQDWarp[1][0] = dqdz.Y * warpGrad.DKX
	out.DQDWarp[1][1] = dqdz.Y * warpGrad.DKY

	return out, nil
}
