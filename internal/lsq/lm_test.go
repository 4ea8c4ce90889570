package lsq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func exponentialProblem(amp, tau float64, n int) (Problem, []float64) {
	ts := make([]float64, n)
	ys := make([]float64, n)
	for i := range n {
		ts[i] = float64(i) * 1e-5
		ys[i] = amp * math.Exp(-ts[i]/tau)
	}
	return Problem{
		M: n,
		Func: func(dst, x []float64) {
			for i, t := range ts {
				dst[i] = x[0]*math.Exp(-t/x[1]) - ys[i]
			}
		},
	}, ys
}

func TestMinimize_RecoversExponential(t *testing.T) {
	const (
		amp = 3e-7
		tau = 2.5e-4
	)
	p, _ := exponentialProblem(amp, tau, 200)

	res, err := Minimize(p, []float64{2e-7, 1.5e-4}, nil)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.InEpsilon(t, amp, res.X[0], 1e-6)
	assert.InEpsilon(t, tau, res.X[1], 1e-6)
	assert.Less(t, res.Cost, 1e-25)

	rows, cols := res.Jacobian.Dims()
	assert.Equal(t, 200, rows)
	assert.Equal(t, 2, cols)
}

func TestMinimize_RespectsBounds(t *testing.T) {
	p, _ := exponentialProblem(1, 1e-4, 100)
	p.Lower = []float64{0, 1e-5}
	p.Upper = []float64{0.5, 1e-3}

	res, err := Minimize(p, []float64{0.3, 2e-4}, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.X[0], 1e-3)
	assert.GreaterOrEqual(t, res.X[1], 1e-5)
	assert.LessOrEqual(t, res.X[1], 1e-3)
}

func TestMinimize_JacobianStaysInBox(t *testing.T) {
	// The optimum of x[1] lies below its lower bound of zero, and the model
	// is undefined for negative x[1].
	minSeen := math.Inf(1)
	p := Problem{
		M: 2,
		Func: func(dst, x []float64) {
			minSeen = math.Min(minSeen, x[1])
			dst[0] = x[0] - 1
			dst[1] = math.Sqrt(x[1]) + 1
		},
		Lower: []float64{math.Inf(-1), 0},
		Upper: []float64{math.Inf(1), 4},
	}

	res, err := Minimize(p, []float64{0.5, 1}, nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, minSeen, 0.0)
	assert.InDelta(t, 1, res.X[0], 1e-8)
	assert.Equal(t, 0.0, res.X[1])
	assert.False(t, math.IsNaN(res.Jacobian.At(1, 1)))
}

func TestBoxFormula(t *testing.T) {
	const h = 1e-3
	tests := []struct {
		name   string
		u      float64
		lo, hi float64
		want   fd.Formula
	}{
		{name: "interior", u: 0.5, lo: 0, hi: 1, want: fd.Central},
		{name: "unbounded", u: 0, lo: math.Inf(-1), hi: math.Inf(1), want: fd.Central},
		{name: "at_lower", u: 0, lo: 0, hi: 1, want: fd.Forward},
		{name: "near_lower", u: h / 2, lo: 0, hi: 1, want: fd.Forward},
		{name: "at_upper", u: 1, lo: 0, hi: 1, want: fd.Backward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := boxFormula(tt.u, tt.lo, tt.hi, h)
			assert.Equal(t, tt.want.Stencil, got.Stencil)
		})
	}
}

func TestMinimize_Validation(t *testing.T) {
	p, _ := exponentialProblem(1, 1e-4, 10)

	_, err := Minimize(p, nil, nil)
	require.ErrorIs(t, err, ErrDimension)

	p.Lower = []float64{0}
	_, err = Minimize(p, []float64{1, 1e-4}, nil)
	require.ErrorIs(t, err, ErrDimension)

	nan := Problem{M: 1, Func: func(dst, _ []float64) { dst[0] = math.NaN() }}
	_, err = Minimize(nan, []float64{1}, nil)
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestCovariance_LinearModel(t *testing.T) {
	// For r = x - y with identity Jacobian the covariance is the identity.
	p := Problem{
		M: 2,
		Func: func(dst, x []float64) {
			dst[0] = x[0] - 1
			dst[1] = x[1] - 2
		},
	}
	res, err := Minimize(p, []float64{0.5, 0.5}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, res.X, 1e-8)

	cov := Covariance(res.Jacobian)
	assert.InDelta(t, 1, cov.At(0, 0), 1e-6)
	assert.InDelta(t, 1, cov.At(1, 1), 1e-6)
	assert.InDelta(t, 0, cov.At(0, 1), 1e-6)
}
