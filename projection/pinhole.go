package projection

import (
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/lensmodel"
)

// ProjectPinhole projects p (camera coordinates) through a bare pinhole
// model: q = (fx*x/z + cx, fy*y/z + cy).
func ProjectPinhole(m lensmodel.Model, intrinsics []float64, p r3.Vector, needGrad bool) (Result, error) {
	n, err := validateModel(m, intrinsics)
	if err != nil {
		return Result{}, err
	}
	c := readCore(intrinsics)
	q, dqdp, dqdfx, dqdcx, dqdfy, dqdcy := projectPinholeCore(c, p)

	res := Result{Q: q}
	if !needGrad {
		return res, nil
	}
	res.HaveGradients = true
	res.DQDP = dqdp
	dense := make([]float64, 2*n)
	writeCoreIntrinsics(dense, n, dqdfx, dqdcx, dqdfy, dqdcy)
	res.DQDIntrinsics = IntrinsicsJacobian{Dense: dense}
	return res, nil
}
