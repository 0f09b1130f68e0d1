package projection

import "github.com/pkg/errors"

// ErrThetaOutOfBounds is returned by ProjectCAHVORE when the converged
// Newton-solved theta violates |theta*linearity| > pi/2, per mrcal.c's
// own bounds check in _project_cahvore.
var ErrThetaOutOfBounds = errors.New("projection: cahvore theta out of bounds")

func errDidNotConvergeCahvore() error {
	return errors.Wrap(ErrDidNotConverge, "cahvore newton solve exceeded 100 iterations")
}

func errThetaOutOfBounds() error {
	return errors.WithStack(ErrThetaOutOfBounds)
}
