package optimumfilter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-optimum-filter/internal/simdops"
	"github.com/tphakala/go-optimum-filter/internal/spectral"
)

// Common detector sample rates for convenience.
const (
	// Rate625k is the 625 kHz digitizer rate used by most example traces.
	Rate625k = 625e3

	// Rate1250k is the 1.25 MHz digitizer rate.
	Rate1250k = 1.25e6
)

// DefaultLowFreqCutoff is the default band edge for low-frequency chi², in Hz.
const DefaultLowFreqCutoff = defaultLowFreqCutoff

// newLoaded builds a filter and loads trace into it.
func newLoaded(trace, template, psd []float64, fs float64, opts *FilterOptions) (*OptimumFilter, error) {
	f, err := NewOptimumFilter(template, psd, fs, opts)
	if err != nil {
		return nil, err
	}
	if err := f.SetSignal(trace); err != nil {
		return nil, err
	}
	return f, nil
}

// FitAmplitude is a one-shot amplitude and delay fit of trace against template.
// It is equivalent to building an OptimumFilter, calling SetSignal and then
// AmplitudeWithDelay.
func FitAmplitude(trace, template, psd []float64, fs float64, opts *FilterOptions, search Search) (FitResult, error) {
	f, err := newLoaded(trace, template, psd, fs, opts)
	if err != nil {
		return FitResult{}, err
	}
	return f.AmplitudeWithDelay(search)
}

// FitAmplitudeNoDelay is a one-shot amplitude fit with the pulse held at the
// template position.
func FitAmplitudeNoDelay(trace, template, psd []float64, fs float64, opts *FilterOptions) (FitResult, error) {
	f, err := newLoaded(trace, template, psd, fs, opts)
	if err != nil {
		return FitResult{}, err
	}
	amp, chi2, err := f.AmplitudeNoDelay()
	if err != nil {
		return FitResult{}, err
	}
	return FitResult{Amplitude: amp, Chi2: chi2}, nil
}

// FitPileup is a one-shot iterative two-pulse fit. The first pulse is found
// with firstSearch, then the second with secondSearch while the first is held.
func FitPileup(trace, template, psd []float64, fs float64, opts *FilterOptions, firstSearch, secondSearch Search) (first, second FitResult, err error) {
	f, err := newLoaded(trace, template, psd, fs, opts)
	if err != nil {
		return FitResult{}, FitResult{}, err
	}
	first, err = f.AmplitudeWithDelay(firstSearch)
	if err != nil {
		return FitResult{}, FitResult{}, err
	}
	second, err = f.PileupIterative(first.Amplitude, first.Delay, secondSearch)
	if err != nil {
		return FitResult{}, FitResult{}, err
	}
	return first, second, nil
}

// FitPileupStationary is a one-shot closed-form two-pulse fit with one pulse
// held at zero delay.
func FitPileupStationary(trace, template, psd []float64, fs float64, opts *FilterOptions, search Search) (PileupResult, error) {
	f, err := newLoaded(trace, template, psd, fs, opts)
	if err != nil {
		return PileupResult{}, err
	}
	return f.PileupStationary(search)
}

// Chi2NoPulse returns the chi² of trace against a zero model under psd.
func Chi2NoPulse(trace, psd []float64, fs float64, coupling Coupling) (float64, error) {
	if len(trace) == 0 {
		return 0, ErrEmptyTrace
	}
	if len(psd) != len(trace) {
		return 0, fmt.Errorf("%w: psd has %d bins, trace has %d", ErrLengthMismatch, len(psd), len(trace))
	}
	if !(fs > 0) || math.IsInf(fs, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSampleRate, fs)
	}
	noise, err := NewNoiseModel(psd, coupling)
	if err != nil {
		return 0, err
	}
	tr, err := spectral.New(len(trace), fs)
	if err != nil {
		return 0, err
	}

	v := tr.Forward(nil, trace)
	return simdops.Float64Ops().WeightedPower(v, noise.Weights()) * tr.DF(), nil
}

// Chi2LowFreq returns the chi² of a pulse with amplitude amp and delay t0,
// restricted to |f| <= cutoff.
func Chi2LowFreq(trace, template, psd []float64, fs float64, opts *FilterOptions, amp, t0, cutoff float64) (float64, error) {
	f, err := newLoaded(trace, template, psd, fs, opts)
	if err != nil {
		return 0, err
	}
	return f.Chi2LowFreq(amp, t0, cutoff)
}
