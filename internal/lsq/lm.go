// Package lsq implements bounded nonlinear least squares with a
// Levenberg-Marquardt iteration.
//
// Parameters are optimized in coordinates scaled by the magnitude of the
// initial guess, so that quantities spanning many decades (amplitudes near
// 1e-7 next to time constants near 1e-4) are stepped evenly. Bounds are
// enforced by clipping each trial point into the feasible box.
package lsq

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"github.com/tphakala/go-optimum-filter/internal/linalg"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Iteration defaults.
const (
	DefaultMaxIterations = 200
	DefaultXTol          = 1e-10
	DefaultFTol          = 1e-12
	DefaultStep          = 1e-6

	initialLambdaScale = 1e-3
	lambdaFactor       = 10.0
	minLambda          = 1e-15
	maxLambda          = 1e16
	minCurvature       = 1e-30
)

// Sentinel errors.
var (
	ErrDimension = errors.New("lsq: dimension mismatch")
	ErrNonFinite = errors.New("lsq: residuals are not finite at the initial point")
)

// Problem describes a least-squares objective ½‖r(x)‖².
type Problem struct {
	// Func writes the residual vector r(x) into dst (length M).
	Func func(dst, x []float64)

	// M is the number of residuals.
	M int

	// Lower and Upper bound each parameter. Nil means unbounded.
	// Use math.Inf for one-sided bounds.
	Lower, Upper []float64
}

// Settings controls the iteration. A nil *Settings selects the defaults.
type Settings struct {
	MaxIterations int
	XTol          float64
	FTol          float64

	// Step is the relative finite-difference step in scaled coordinates.
	Step float64
}

// Result is the outcome of Minimize.
type Result struct {
	// X is the best parameter vector found.
	X []float64

	// Residuals at X.
	Residuals []float64

	// Cost is ½‖r(X)‖².
	Cost float64

	// Jacobian of the residuals with respect to X (M×len(X)).
	Jacobian *mat.Dense

	Iterations int
	Converged  bool
}

// Minimize finds a local minimum of ½‖r(x)‖² starting from x0.
func Minimize(p Problem, x0 []float64, settings *Settings) (*Result, error) {
	n := len(x0)
	if n == 0 || p.M < 1 || p.Func == nil {
		return nil, fmt.Errorf("%w: %d parameters, %d residuals", ErrDimension, n, p.M)
	}
	if (p.Lower != nil && len(p.Lower) != n) || (p.Upper != nil && len(p.Upper) != n) {
		return nil, fmt.Errorf("%w: bounds do not match %d parameters", ErrDimension, n)
	}
	s := withDefaults(settings)

	scale := make([]float64, n)
	for i, v := range x0 {
		scale[i] = math.Abs(v)
		if scale[i] == 0 {
			scale[i] = 1
		}
	}
	lo, hi := scaledBounds(p, scale)

	u := make([]float64, n)
	for i := range x0 {
		u[i] = x0[i] / scale[i]
	}
	clip(u, lo, hi)

	x := make([]float64, n)
	eval := func(dst, uu []float64) {
		for i := range uu {
			x[i] = uu[i] * scale[i]
		}
		p.Func(dst, x)
	}

	r := make([]float64, p.M)
	eval(r, u)
	cost := halfSumSq(r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, ErrNonFinite
	}

	// Columns are differenced one at a time so that a parameter sitting on
	// a bound is stepped only into the feasible box.
	jac := mat.NewDense(p.M, n, nil)
	col := mat.NewDense(p.M, 1, nil)
	colData := make([]float64, p.M)
	uu := make([]float64, n)
	xx := make([]float64, n)
	jacobian := func() {
		copy(uu, u)
		for j := range n {
			settings := &fd.JacobianSettings{Formula: boxFormula(u[j], lo[j], hi[j], s.Step), Step: s.Step}
			fd.Jacobian(col, func(y, v []float64) {
				uu[j] = v[0]
				for i := range uu {
					xx[i] = uu[i] * scale[i]
				}
				p.Func(y, xx)
			}, []float64{u[j]}, settings)
			uu[j] = u[j]
			jac.SetCol(j, mat.Col(colData, 0, col))
		}
	}
	jacobian()

	var (
		jtj    mat.SymDense
		grad   = make([]float64, n)
		trial  = make([]float64, n)
		rTrial = make([]float64, p.M)
		lambda float64
	)
	normal := func() {
		jtj.SymOuterK(1, jac.T())
		gv := mat.NewVecDense(n, grad)
		gv.MulVec(jac.T(), mat.NewVecDense(p.M, r))
	}
	normal()
	for i := range n {
		lambda = math.Max(lambda, jtj.At(i, i))
	}
	lambda *= initialLambdaScale
	if lambda == 0 {
		lambda = initialLambdaScale
	}

	res := &Result{}
	iter := 0
	for iter = 0; iter < s.MaxIterations; iter++ {
		step := dampedStep(&jtj, grad, lambda)
		for i := range u {
			trial[i] = u[i] + step[i]
		}
		clip(trial, lo, hi)

		eval(rTrial, trial)
		trialCost := halfSumSq(rTrial)

		if trialCost < cost && !math.IsNaN(trialCost) {
			moved := floats.Distance(trial, u, 2)
			improvement := cost - trialCost

			copy(u, trial)
			copy(r, rTrial)
			cost = trialCost
			lambda = math.Max(lambda/lambdaFactor, minLambda)

			if improvement <= s.FTol*cost || moved <= s.XTol*(floats.Norm(u, 2)+s.XTol) {
				res.Converged = true
				break
			}
			jacobian()
			normal()
			continue
		}

		lambda *= lambdaFactor
		if lambda > maxLambda {
			// No downhill step exists at any damping: u is a (possibly
			// bound-constrained) local minimum.
			res.Converged = true
			break
		}
	}

	if !res.Converged {
		log.WithFields(log.Fields{
			"iterations": iter,
			"cost":       cost,
		}).Debug("least squares stopped at iteration limit")
	}

	res.Iterations = iter
	res.X = make([]float64, n)
	for i := range u {
		res.X[i] = u[i] * scale[i]
	}
	res.Residuals = r
	res.Cost = cost

	// Re-evaluate the Jacobian at the solution and convert to x units.
	jacobian()
	res.Jacobian = mat.NewDense(p.M, n, nil)
	for j := range n {
		for i := range p.M {
			res.Jacobian.Set(i, j, jac.At(i, j)/scale[j])
		}
	}
	return res, nil
}

// Covariance returns the parameter covariance estimate pinv(JᵀJ).
func Covariance(jac mat.Matrix) *mat.Dense {
	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())
	return linalg.Pinv(&jtj, linalg.DefaultRcond)
}

func withDefaults(s *Settings) Settings {
	out := Settings{
		MaxIterations: DefaultMaxIterations,
		XTol:          DefaultXTol,
		FTol:          DefaultFTol,
		Step:          DefaultStep,
	}
	if s == nil {
		return out
	}
	if s.MaxIterations > 0 {
		out.MaxIterations = s.MaxIterations
	}
	if s.XTol > 0 {
		out.XTol = s.XTol
	}
	if s.FTol > 0 {
		out.FTol = s.FTol
	}
	if s.Step > 0 {
		out.Step = s.Step
	}
	return out
}

func scaledBounds(p Problem, scale []float64) (lo, hi []float64) {
	n := len(scale)
	lo = make([]float64, n)
	hi = make([]float64, n)
	for i := range n {
		lo[i], hi[i] = math.Inf(-1), math.Inf(1)
		if p.Lower != nil {
			lo[i] = p.Lower[i] / scale[i]
		}
		if p.Upper != nil {
			hi[i] = p.Upper[i] / scale[i]
		}
	}
	return lo, hi
}

// boxFormula returns a difference formula whose evaluation points u±h stay
// inside [lo, hi]: central in the interior, one-sided toward the wider side
// at a bound.
func boxFormula(u, lo, hi, h float64) fd.Formula {
	switch {
	case u-h >= lo && u+h <= hi:
		return fd.Central
	case hi-u >= u-lo:
		return fd.Forward
	default:
		return fd.Backward
	}
}

func clip(u, lo, hi []float64) {
	for i := range u {
		u[i] = math.Min(math.Max(u[i], lo[i]), hi[i])
	}
}

func halfSumSq(r []float64) float64 {
	return 0.5 * floats.Dot(r, r)
}

// dampedStep solves (JᵀJ + λ·diag(JᵀJ)) δ = -g, falling back to the
// pseudo-inverse when the damped system is singular.
func dampedStep(jtj *mat.SymDense, grad []float64, lambda float64) []float64 {
	n := len(grad)
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(jtj)
	for i := range n {
		d := math.Max(jtj.At(i, i), minCurvature)
		damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
	}

	rhs := make([]float64, n)
	for i, g := range grad {
		rhs[i] = -g
	}

	var chol mat.Cholesky
	if chol.Factorize(damped) {
		var out mat.VecDense
		if err := chol.SolveVecTo(&out, mat.NewVecDense(n, rhs)); err == nil {
			return out.RawVector().Data
		}
	}
	return linalg.MulVec(nil, linalg.Pinv(damped, linalg.DefaultRcond), rhs)
}
