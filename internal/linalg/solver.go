// Package linalg provides the small dense linear-algebra pieces used by the
// multi-template filter bank: pseudo-inverses, pluggable inversion strategies
// and masked sub-matrix selection.
package linalg

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Numerical thresholds.
const (
	// DefaultRcond is the relative singular-value cutoff for pseudo-inverses.
	// Singular values below DefaultRcond * max(σ) are treated as zero.
	DefaultRcond = 1e-15

	// DefaultMaxCond is the condition number above which the Cholesky solver
	// hands the matrix to its fallback.
	DefaultMaxCond = 1e12
)

// Solver inverts symmetric weighting matrices.
//
// Implementations must be safe for concurrent use; the filter bank calls
// Inverse from several goroutines when parallel evaluation is enabled.
type Solver interface {
	// Inverse returns the (pseudo-)inverse of a.
	Inverse(a mat.Symmetric) *mat.Dense
}

// PinvSolver inverts with the Moore-Penrose pseudo-inverse.
//
// Direct inversion of nearly degenerate weighting matrices produces jitter
// large enough to drive chi² negative; the pseudo-inverse does not.
type PinvSolver struct {
	// Rcond is the relative singular-value cutoff. Zero selects DefaultRcond.
	Rcond float64
}

// Inverse implements Solver.
func (s PinvSolver) Inverse(a mat.Symmetric) *mat.Dense {
	rcond := s.Rcond
	if rcond <= 0 {
		rcond = DefaultRcond
	}
	return Pinv(a, rcond)
}

// CholeskySolver inverts by Cholesky factorization and falls back to another
// solver when the matrix is not positive definite or is ill-conditioned.
type CholeskySolver struct {
	// MaxCond is the largest accepted condition number. Zero selects DefaultMaxCond.
	MaxCond float64

	// Fallback handles matrices rejected by the factorization.
	// Nil selects PinvSolver{}.
	Fallback Solver
}

// Inverse implements Solver.
func (s CholeskySolver) Inverse(a mat.Symmetric) *mat.Dense {
	maxCond := s.MaxCond
	if maxCond <= 0 {
		maxCond = DefaultMaxCond
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); ok {
		if cond := chol.Cond(); cond <= maxCond && !math.IsInf(cond, 0) {
			var inv mat.SymDense
			if err := chol.InverseTo(&inv); err == nil {
				return mat.DenseCopyOf(&inv)
			}
		}
	}

	log.WithFields(log.Fields{
		"size": a.SymmetricDim(),
	}).Debug("cholesky rejected weighting matrix, using fallback solver")

	fallback := s.Fallback
	if fallback == nil {
		fallback = PinvSolver{}
	}
	return fallback.Inverse(a)
}

// Pinv returns the Moore-Penrose pseudo-inverse of a, computed from its thin
// SVD with singular values below rcond*max(σ) discarded.
func Pinv(a mat.Matrix, rcond float64) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(c, r, nil)

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		log.WithFields(log.Fields{
			"rows": r,
			"cols": c,
		}).Debug("svd did not converge, pseudo-inverse is zero")
		return out
	}

	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return out
	}
	cutoff := rcond * values[0]

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// out = V · diag(1/σ) · Uᵀ over the retained singular values.
	for k, sigma := range values {
		if sigma <= cutoff {
			break
		}
		inv := 1 / sigma
		for i := range c {
			vik := v.At(i, k) * inv
			if vik == 0 {
				continue
			}
			for j := range r {
				out.Set(i, j, out.At(i, j)+vik*u.At(j, k))
			}
		}
	}
	return out
}

// Select returns the symmetric sub-matrix of a made of the rows and columns
// listed in idx, in that order.
func Select(a mat.Symmetric, idx []int) *mat.SymDense {
	sub := mat.NewSymDense(len(idx), nil)
	for i, ri := range idx {
		for j := i; j < len(idx); j++ {
			sub.SetSym(i, j, a.At(ri, idx[j]))
		}
	}
	return sub
}

// MulVec computes dst = m·x for a dense matrix and plain slices.
func MulVec(dst []float64, m mat.Matrix, x []float64) []float64 {
	r, c := m.Dims()
	if dst == nil {
		dst = make([]float64, r)
	}
	for i := range r {
		var sum float64
		for j := range c {
			sum += m.At(i, j) * x[j]
		}
		dst[i] = sum
	}
	return dst
}
