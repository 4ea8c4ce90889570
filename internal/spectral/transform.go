// Package spectral implements the discrete Fourier transform conventions used by
// the optimum filter.
//
// The forward transform is normalized by nbins*df (which equals the sample rate)
// so that spectra carry continuous-transform units, and the inverse transform is
// its exact inverse. With this scaling the noise-weighted sum of squares of a
// residual r is df * Σ |R_f|² / PSD_f, in the same units as the two-sided PSD.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tphakala/go-optimum-filter/internal/simdops"
	"gonum.org/v1/gonum/dsp/fourier"
)

// halfDivisor locates the trace midpoint and the Nyquist split.
const halfDivisor = 2

// ErrInvalidLength is returned for transforms of zero length.
var ErrInvalidLength = errors.New("spectral: transform length must be positive")

// ErrInvalidSampleRate is returned for non-positive sample rates.
var ErrInvalidSampleRate = errors.New("spectral: sample rate must be positive")

// Transform performs forward and inverse DFTs of a fixed length.
//
// The underlying gonum plan keeps work buffers, so calls are serialized with a
// mutex; a Transform may be shared between goroutines.
type Transform struct {
	n  int
	fs float64
	df float64

	mu  sync.Mutex
	fft *fourier.CmplxFFT
	buf []complex128

	freqs []float64
	ops   *simdops.Ops
}

// New creates a transform for traces of n samples taken at fs Hz.
func New(n int, fs float64) (*Transform, error) {
	if n < 1 {
		return nil, ErrInvalidLength
	}
	if !(fs > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, fs)
	}

	t := &Transform{
		n:   n,
		fs:  fs,
		df:  fs / float64(n),
		fft: fourier.NewCmplxFFT(n),
		buf: make([]complex128, n),
		ops: simdops.Float64Ops(),
	}
	t.freqs = fftFreqs(n, t.df)
	return t, nil
}

// Len returns the transform length in bins.
func (t *Transform) Len() int { return t.n }

// SampleRate returns the sample rate in Hz.
func (t *Transform) SampleRate() float64 { return t.fs }

// DF returns the frequency spacing fs/nbins.
func (t *Transform) DF() float64 { return t.df }

// Freqs returns the bin frequencies in fftfreq order:
// 0, df, ..., then the negative frequencies. The slice must not be modified.
func (t *Transform) Freqs() []float64 { return t.freqs }

// Forward computes DFT(x) / (nbins*df) into dst and returns it.
// If dst is nil a new slice is allocated.
func (t *Transform) Forward(dst []complex128, x []float64) []complex128 {
	if len(x) != t.n {
		panic(fmt.Sprintf("spectral: input length %d != %d", len(x), t.n))
	}
	dst = t.ensure(dst)

	t.mu.Lock()
	for i, v := range x {
		t.buf[i] = complex(v, 0)
	}
	t.fft.Coefficients(dst, t.buf)
	t.mu.Unlock()

	t.ops.CScale(dst, dst, 1.0/(float64(t.n)*t.df))
	return dst
}

// Inverse computes df * Σ_k X_k exp(+2πi k t / nbins) into dst and returns it.
// It is the exact inverse of Forward. If dst is nil a new slice is allocated.
func (t *Transform) Inverse(dst, spectrum []complex128) []complex128 {
	if len(spectrum) != t.n {
		panic(fmt.Sprintf("spectral: spectrum length %d != %d", len(spectrum), t.n))
	}
	dst = t.ensure(dst)

	t.mu.Lock()
	copy(t.buf, spectrum)
	t.fft.Sequence(dst, t.buf)
	t.mu.Unlock()

	// gonum's inverse is unnormalized; multiplying by df completes the inverse
	// of the 1/(nbins*df) forward scaling.
	t.ops.CScale(dst, dst, t.df)
	return dst
}

// InverseReal returns the real part of Inverse(spectrum) in dst.
func (t *Transform) InverseReal(dst []float64, spectrum []complex128) []float64 {
	if dst == nil {
		dst = make([]float64, t.n)
	}
	tmp := t.Inverse(nil, spectrum)
	for i, v := range tmp {
		dst[i] = real(v)
	}
	return dst
}

// Shift multiplies spectrum by exp(-2πi f delay), delaying the corresponding
// time series by delay seconds, and stores the result in dst.
func (t *Transform) Shift(dst, spectrum []complex128, delay float64) []complex128 {
	dst = t.ensure(dst)
	for i, f := range t.freqs {
		dst[i] = spectrum[i] * Phasor(f, delay)
	}
	return dst
}

func (t *Transform) ensure(dst []complex128) []complex128 {
	if dst == nil {
		return make([]complex128, t.n)
	}
	if len(dst) != t.n {
		panic(fmt.Sprintf("spectral: destination length %d != %d", len(dst), t.n))
	}
	return dst
}

// Roll circularly shifts x by shift positions (positive shifts move samples to
// higher indices) into dst. dst and x must not overlap.
func Roll(dst, x []float64, shift int) []float64 {
	n := len(x)
	if dst == nil {
		dst = make([]float64, n)
	}
	if n == 0 {
		return dst
	}
	shift %= n
	if shift < 0 {
		shift += n
	}
	copy(dst[shift:], x[:n-shift])
	copy(dst[:shift], x[n-shift:])
	return dst
}

// Midpoint returns the bin that represents zero delay after centering.
func Midpoint(n int) int {
	return n / halfDivisor
}

func fftFreqs(n int, df float64) []float64 {
	freqs := make([]float64, n)
	positive := (n-1)/halfDivisor + 1
	for i := range n {
		k := i
		if i >= positive {
			k = i - n
		}
		freqs[i] = float64(k) * df
	}
	return freqs
}

// Phasor returns the delay phase factor exp(-2πi f delay).
func Phasor(f, delay float64) complex128 {
	sin, cos := math.Sincos(-2 * math.Pi * f * delay)
	return complex(cos, sin)
}
