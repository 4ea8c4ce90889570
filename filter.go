package optimumfilter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-optimum-filter/internal/simdops"
	"github.com/tphakala/go-optimum-filter/internal/spectral"
)

// FilterOptions configures an OptimumFilter. A nil *FilterOptions selects
// AC coupling and peak-normalized templates.
type FilterOptions struct {
	// Coupling selects the treatment of the zero-frequency noise bin.
	Coupling Coupling

	// IntegralNorm normalizes the template spectrum to unit integral, so
	// fitted amplitudes are pulse integrals rather than peak heights.
	IntegralNorm bool
}

// FitResult is the outcome of a single-pulse delay search.
type FitResult struct {
	// Amplitude in the units of the trace (or its integral with IntegralNorm).
	Amplitude float64

	// Delay in seconds relative to the template position; 0 means the pulse
	// sits where the template does.
	Delay float64

	// Chi2 is the noise-weighted sum of squared residuals.
	Chi2 float64
}

// OptimumFilter is the single-template frequency-domain matched filter.
//
// Signal-independent quantities (template spectrum, filter, normalization)
// are computed once in NewOptimumFilter. SetSignal replaces every
// signal-dependent quantity and discards the cached delay curves.
//
// An OptimumFilter is not safe for concurrent use.
type OptimumFilter struct {
	tr    *spectral.Transform
	noise *NoiseModel
	ops   *simdops.Ops

	s    []complex128 // template spectrum
	phi  []complex128 // conj(S)/PSD
	norm float64

	// Signal-dependent state, reset by SetSignal.
	hasSignal  bool
	v          []complex128 // trace spectrum
	signalFilt []complex128 // phi·V/norm
	chi0       float64
	ampCurve   []float64 // Re Inverse(signalFilt), zero delay at index 0
}

// NewOptimumFilter builds a filter for template under the noise psd sampled at fs.
func NewOptimumFilter(template, psd []float64, fs float64, opts *FilterOptions) (*OptimumFilter, error) {
	if opts == nil {
		opts = &FilterOptions{}
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("%w: template", ErrEmptyTrace)
	}
	if len(psd) != len(template) {
		return nil, fmt.Errorf("%w: psd has %d bins, template has %d", ErrLengthMismatch, len(psd), len(template))
	}
	if !(fs > 0) || math.IsInf(fs, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, fs)
	}

	noise, err := NewNoiseModel(psd, opts.Coupling)
	if err != nil {
		return nil, err
	}
	tr, err := spectral.New(len(template), fs)
	if err != nil {
		return nil, err
	}

	f := &OptimumFilter{
		tr:    tr,
		noise: noise,
		ops:   simdops.Float64Ops(),
	}

	f.s = tr.Forward(nil, template)
	if opts.IntegralNorm {
		dc := real(f.s[0])
		if dc == 0 {
			return nil, fmt.Errorf("%w: template has zero integral", ErrInvalidConfig)
		}
		f.ops.CScale(f.s, f.s, 1/dc)
	}

	f.phi = make([]complex128, len(f.s))
	f.ops.CConjWeight(f.phi, f.s, noise.Weights())
	f.norm = f.ops.WeightedPower(f.s, noise.Weights()) * tr.DF()
	return f, nil
}

// SetSignal loads a new trace, replacing all signal-dependent state.
func (f *OptimumFilter) SetSignal(trace []float64) error {
	if len(trace) != f.tr.Len() {
		return fmt.Errorf("%w: trace has %d samples, filter expects %d", ErrLengthMismatch, len(trace), f.tr.Len())
	}

	if f.v == nil {
		f.v = make([]complex128, f.tr.Len())
		f.signalFilt = make([]complex128, f.tr.Len())
	}
	f.tr.Forward(f.v, trace)
	f.ops.CMul(f.signalFilt, f.phi, f.v)
	if f.norm != 0 {
		f.ops.CScale(f.signalFilt, f.signalFilt, 1/f.norm)
	}
	f.chi0 = f.ops.WeightedPower(f.v, f.noise.Weights()) * f.tr.DF()
	f.ampCurve = nil
	f.hasSignal = true
	return nil
}

// Len returns the trace length in bins.
func (f *OptimumFilter) Len() int { return f.tr.Len() }

// SampleRate returns the sample rate in Hz.
func (f *OptimumFilter) SampleRate() float64 { return f.tr.SampleRate() }

// Norm returns the filter normalization Re⟨phi, S⟩·df.
func (f *OptimumFilter) Norm() float64 { return f.norm }

// Noise returns the noise model the filter was built with.
func (f *OptimumFilter) Noise() *NoiseModel { return f.noise }

// EnergyResolution returns the expected amplitude standard error 1/sqrt(norm).
func (f *OptimumFilter) EnergyResolution() float64 {
	return 1 / math.Sqrt(f.norm)
}

// TimeResolution returns the expected start-time standard error for a pulse
// of amplitude amp.
func (f *OptimumFilter) TimeResolution(amp float64) float64 {
	w := f.noise.Weights()
	var sum float64
	for i, freq := range f.tr.Freqs() {
		omega := 2 * math.Pi * freq
		sv := f.s[i]
		sum += omega * omega * (real(sv)*real(sv) + imag(sv)*imag(sv)) * w[i]
	}
	return 1 / math.Sqrt(amp*amp*sum*f.tr.DF())
}

// Chi2NoPulse returns the chi² of the trace against a zero model.
func (f *OptimumFilter) Chi2NoPulse() (float64, error) {
	if !f.hasSignal {
		return 0, ErrNoSignal
	}
	return f.chi0, nil
}

// Chi2LowFreq returns the chi² of the pulse model with amplitude amp and
// delay t0, summed only over frequencies with |f| <= cutoff.
func (f *OptimumFilter) Chi2LowFreq(amp, t0, cutoff float64) (float64, error) {
	if !f.hasSignal {
		return 0, ErrNoSignal
	}
	w := f.noise.Weights()
	df := f.tr.DF()
	var chi2 float64
	for i, freq := range f.tr.Freqs() {
		if math.Abs(freq) > cutoff || w[i] == 0 {
			continue
		}
		r := f.v[i] - complex(amp, 0)*spectral.Phasor(freq, t0)*f.s[i]
		chi2 += df * (real(r)*real(r) + imag(r)*imag(r)) * w[i]
	}
	return chi2, nil
}

// AmplitudeNoDelay fits the amplitude with the pulse fixed at the template position.
func (f *OptimumFilter) AmplitudeNoDelay() (amp, chi2 float64, err error) {
	if !f.hasSignal {
		return 0, 0, ErrNoSignal
	}
	var sum float64
	for _, v := range f.signalFilt {
		sum += real(v)
	}
	amp = sum * f.tr.DF()
	return amp, f.chi0 - amp*amp*f.norm, nil
}

// AmplitudeWithDelay fits amplitude and delay, searching the delays admitted by search.
// An empty candidate set yields the no-pulse result {0, 0, Chi2NoPulse}.
func (f *OptimumFilter) AmplitudeWithDelay(search Search) (FitResult, error) {
	if err := search.validate(); err != nil {
		return FitResult{}, err
	}
	if !f.hasSignal {
		return FitResult{}, ErrNoSignal
	}

	n := f.tr.Len()
	amps := f.amplitudeCurve()
	chi := make([]float64, n)
	for i, a := range amps {
		chi[i] = f.chi0 - a*a*f.norm
	}

	shift := spectral.Midpoint(n)
	amps = spectral.Roll(nil, amps, shift)
	chi = spectral.Roll(nil, chi, shift)

	best, ok := search.argmin(chi, amps)
	if !ok {
		return FitResult{Chi2: f.chi0}, nil
	}
	return FitResult{
		Amplitude: amps[best],
		Delay:     f.binDelay(best),
		Chi2:      chi[best],
	}, nil
}

// amplitudeCurve returns the cached best amplitude at every delay bin,
// uncentered (zero delay at index 0).
func (f *OptimumFilter) amplitudeCurve() []float64 {
	if f.ampCurve == nil {
		f.ampCurve = f.tr.InverseReal(nil, f.signalFilt)
	}
	return f.ampCurve
}

// templateCurve returns Re Inverse(phase·phi·S), the template's filter
// response delayed by delay seconds, without normalization.
func (f *OptimumFilter) templateCurve(delay float64) []float64 {
	spectrum := make([]complex128, f.tr.Len())
	f.ops.CMul(spectrum, f.phi, f.s)
	if delay != 0 {
		f.tr.Shift(spectrum, spectrum, delay)
	}
	return f.tr.InverseReal(nil, spectrum)
}

// binDelay converts a centered bin index into seconds.
func (f *OptimumFilter) binDelay(idx int) float64 {
	return float64(idx-spectral.Midpoint(f.tr.Len())) / f.tr.SampleRate()
}
