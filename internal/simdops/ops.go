// Package simdops provides the vector kernels used by the spectral and filter code.
//
// Real-valued kernels and complex products delegate to github.com/tphakala/simd.
// Kernels that mix complex spectra with real per-bin weights have no SIMD
// counterpart and are written as plain loops over the same slices.
//
// With Profile-Guided Optimization (Go 1.22+), function pointer calls in hot paths
// can be devirtualized and inlined, achieving near-zero overhead.
package simdops

import (
	"github.com/tphakala/simd/c128"
	"github.com/tphakala/simd/cpu"
	"github.com/tphakala/simd/f64"
)

// Ops provides SIMD-accelerated operations on float64 and complex128 slices.
// Function pointers keep call sites independent of the concrete kernel set.
type Ops struct {
	// Dot computes the dot product of two equal-length slices.
	Dot func(a, b []float64) float64

	// CMul computes the element-wise complex product: dst[i] = a[i] * b[i]
	CMul func(dst, a, b []complex128)

	// CConjWeight computes dst[i] = conj(a[i]) * w[i]
	CConjWeight func(dst, a []complex128, w []float64)

	// CScale scales each complex element by a real scalar: dst[i] = a[i] * s
	CScale func(dst, a []complex128, s float64)

	// WeightedPower returns Σ |a[i]|² * w[i]
	WeightedPower func(a []complex128, w []float64) float64
}

var ops64 = Ops{
	Dot:           f64.DotProduct,
	CMul:          c128.Mul,
	CConjWeight:   cconjWeight,
	CScale:        cscale,
	WeightedPower: weightedPower,
}

// Float64Ops returns the shared operation table.
func Float64Ops() *Ops {
	return &ops64
}

// Info describes the SIMD instruction set selected at startup.
func Info() string {
	return cpu.Info()
}

// cconjWeight multiplies real and imaginary parts separately so that a zero
// weight (an infinite PSD bin) yields an exact zero.
func cconjWeight(dst, a []complex128, w []float64) {
	for i := range dst {
		dst[i] = complex(real(a[i])*w[i], -imag(a[i])*w[i])
	}
}

func cscale(dst, a []complex128, s float64) {
	for i := range dst {
		dst[i] = complex(real(a[i])*s, imag(a[i])*s)
	}
}

func weightedPower(a []complex128, w []float64) float64 {
	var sum float64
	for i, v := range a {
		if w[i] == 0 {
			continue
		}
		sum += (real(v)*real(v) + imag(v)*imag(v)) * w[i]
	}
	return sum
}
