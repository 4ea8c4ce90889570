// Package testutil provides reusable test helpers for optimum filter tests:
// assertions over float slices and generators for synthetic pulses, noise
// spectra and noisy traces.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Default tolerances for various test scenarios.
const (
	DefaultTolerance   = 1e-10
	AmplitudeTolerance = 1e-9
	DelayTolerance     = 1e-12
	Chi2Tolerance      = 1e-6
)

// Typical acquisition parameters used across tests.
const (
	SampleRate = 625e3
	TraceLen   = 1024

	RiseTime = 20e-6
	FallTime = 100e-6
)

// halfDivisor locates the trace midpoint.
const halfDivisor = 2

// AssertNoNaNOrInf verifies that no elements in the slice are NaN or Inf.
func AssertNoNaNOrInf(t *testing.T, s []float64, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if math.IsNaN(v) {
			return assert.Fail(t, "found NaN", "s[%d] is NaN", i)
		}
		if math.IsInf(v, 0) {
			return assert.Fail(t, "found Inf", "s[%d] is Inf", i)
		}
	}
	return true
}

// AssertRelativeError verifies that the relative error between actual and expected is within tolerance.
func AssertRelativeError(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if expected == 0 {
		return assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
	}
	relError := math.Abs(actual-expected) / math.Abs(expected)
	return assert.LessOrEqual(t, relError, tolerance,
		"relative error %e exceeds tolerance %e (expected=%g, actual=%g)",
		relError, tolerance, expected, actual)
}

// AssertInRange verifies that a value is within [min, max].
func AssertInRange(t *testing.T, value, minVal, maxVal float64, msgAndArgs ...any) bool {
	t.Helper()
	if value < minVal || value > maxVal {
		return assert.Fail(t, "value out of range",
			"value %g is outside range [%g, %g]", value, minVal, maxVal)
	}
	return true
}

// AssertNonNegative verifies that every element is >= -tolerance.
func AssertNonNegative(t *testing.T, s []float64, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if v < -tolerance {
			return assert.Fail(t, "negative value", "s[%d]=%g is negative", i, v)
		}
	}
	return true
}

// Pulse returns a double-exponential pulse of n samples at fs, starting at
// sample start, normalized to a peak height of 1.
func Pulse(n int, fs float64, start int, rise, fall float64) []float64 {
	out := make([]float64, n)
	var peak float64
	for i := start; i < n; i++ {
		t := float64(i-start) / fs
		out[i] = math.Exp(-t/fall) - math.Exp(-t/rise)
		peak = math.Max(peak, out[i])
	}
	if peak > 0 {
		for i := range out {
			out[i] /= peak
		}
	}
	return out
}

// CenteredPulse returns the standard test template: a Pulse whose onset sits
// at the trace midpoint.
func CenteredPulse(n int, fs float64) []float64 {
	return Pulse(n, fs, n/halfDivisor, RiseTime, FallTime)
}

// WhitePSD returns the flat two-sided PSD (units²/Hz) of white noise with
// per-sample standard deviation sigma.
func WhitePSD(n int, fs, sigma float64) []float64 {
	psd := make([]float64, n)
	for i := range psd {
		psd[i] = sigma * sigma / fs
	}
	return psd
}

// WhiteNoise returns n Gaussian samples with standard deviation sigma drawn
// from a deterministic source.
func WhiteNoise(seed int64, n int, sigma float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = sigma * rng.NormFloat64()
	}
	return out
}

// Combine returns Σ scales[k]*parts[k], element-wise.
func Combine(parts [][]float64, scales []float64) []float64 {
	if len(parts) == 0 {
		return nil
	}
	out := make([]float64, len(parts[0]))
	for k, p := range parts {
		for i, v := range p {
			out[i] += scales[k] * v
		}
	}
	return out
}

// Roll circularly shifts x by shift samples toward higher indices.
func Roll(x []float64, shift int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	shift %= n
	if shift < 0 {
		shift += n
	}
	for i, v := range x {
		out[(i+shift)%n] = v
	}
	return out
}

// Constant returns n copies of v.
func Constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
