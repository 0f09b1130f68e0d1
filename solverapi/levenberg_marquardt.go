package solverapi

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LevenbergMarquardt is this repo's own reference Solver, used by its
// tests and scenarios: a standard damped Gauss-Newton iteration over a
// dense normal-equations solve. Grounded loosely on the shape of the
// teacher's motionplan/ik solvers (a small constructor-configured type
// whose single public entry point takes a context and returns a
// result) but implemented against gonum rather than cgo/nlopt, since
// spec_full.md section 9 places the real nonlinear solver outside this
// repo's scope.
type LevenbergMarquardt struct {
	MaxIterations  int
	InitialLambda  float64
	CostTolerance  float64
	GradTolerance  float64
	MaxLambdaSteps int
}

// NewLevenbergMarquardt returns a LevenbergMarquardt configured with
// the defaults this repo's scenario tests use.
func NewLevenbergMarquardt() *LevenbergMarquardt {
	return &LevenbergMarquardt{
		MaxIterations:  100,
		InitialLambda:  1e-3,
		CostTolerance:  1e-10,
		GradTolerance:  1e-10,
		MaxLambdaSteps: 30,
	}
}

var errMaxLambdaSteps = errors.New("solverapi: could not find a damping factor that reduced cost")

func (lm *LevenbergMarquardt) Optimize(ctx context.Context, x0 []float64, residual ResidualFunc) (Result, error) {
	n := len(x0)
	x := append([]float64(nil), x0...)

	lambda := lm.InitialLambda
	if lambda <= 0 {
		lambda = 1e-3
	}

	r, jac, err := residual(x)
	if err != nil {
		return Result{}, errors.Wrap(err, "initial residual evaluation")
	}
	cost := sumSquares(r) / 2

	result := Result{X: x, Cost: cost}

	for iter := 0; iter < lm.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		jtj, jtr := normalEquations(jac, n, r)

		accepted := false
		for step := 0; step < lm.MaxLambdaSteps; step++ {
			damped := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					v := jtj.At(i, j)
					if i == j {
						v += lambda * jtj.At(i, i)
					}
					damped.SetSym(i, j, v)
				}
			}

			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			var dx mat.VecDense
			negJtr := mat.NewVecDense(n, nil)
			negJtr.ScaleVec(-1, jtr)
			if err := chol.SolveVecTo(&dx, negJtr); err != nil {
				lambda *= 10
				continue
			}

			trial := make([]float64, n)
			for i := range trial {
				trial[i] = x[i] + dx.AtVec(i)
			}
			trialR, trialJac, err := residual(trial)
			if err != nil {
				lambda *= 10
				continue
			}
			trialCost := sumSquares(trialR) / 2

			if trialCost < cost {
				if cost-trialCost < lm.CostTolerance*math.Max(1, cost) {
					x, r, jac, cost = trial, trialR, trialJac, trialCost
					result = Result{X: x, Cost: cost, Iterations: iter + 1, Converged: true}
					return result, nil
				}
				x, r, jac, cost = trial, trialR, trialJac, trialCost
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				break
			}
			lambda *= 10
		}

		result = Result{X: x, Cost: cost, Iterations: iter + 1}
		if !accepted {
			return result, errMaxLambdaSteps
		}
	}

	result.Converged = false
	return result, nil
}

func sumSquares(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return s
}

// normalEquations densifies jac (small calibration problems; see
// GonumFactorization's same tradeoff) and returns JᵀJ and Jᵀr.
func normalEquations(jac SparseMatrix, n int, r []float64) (*mat.SymDense, *mat.VecDense) {
	jDense := mat.NewDense(jac.Rows, n, nil)
	for _, t := range jac.Entries {
		jDense.Set(t.Row, t.Col, jDense.At(t.Row, t.Col)+t.Val)
	}

	var jtjDense mat.Dense
	jtjDense.Mul(jDense.T(), jDense)
	jtj := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			jtj.SetSym(i, j, jtjDense.At(i, j))
		}
	}

	rVec := mat.NewVecDense(len(r), r)
	jtr := mat.NewVecDense(n, nil)
	jtr.MulVec(jDense.T(), rVec)

	return jtj, jtr
}
