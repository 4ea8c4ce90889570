package optimumfilter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-optimum-filter/internal/lsq"
	"github.com/tphakala/go-optimum-filter/internal/spectral"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PulseFitOptions configures a nonlinear pulse fit. A nil *PulseFitOptions
// selects a two-pole fit with guesses derived from the trace.
type PulseFitOptions struct {
	// Poles selects the model: 1 (fixed rise time), 2, 3 or 4.
	Poles int

	// ErrScale divides the PSD, for traces that are averages of ErrScale
	// independent traces. Zero means 1.
	ErrScale float64

	// Guess is the initial parameter vector. Nil derives it from the trace.
	// Layouts by pole count:
	//   1: A, fall, t0
	//   2: A, rise, fall, t0
	//   3: A, B, rise, fall1, fall2, t0
	//   4: A, B, C, rise, fall1, fall2, fall3, t0
	Guess []float64

	// RiseTime is the fixed rise time in seconds for the one-pole model.
	RiseTime float64

	// MaxIterations caps the least-squares iterations. Zero selects the default.
	MaxIterations int
}

// PulseFitResult is the outcome of a nonlinear pulse fit.
type PulseFitResult struct {
	// Params in the layout documented on PulseFitOptions.Guess.
	Params []float64

	// Errors are the one-sigma parameter uncertainties.
	Errors []float64

	// Cov is the parameter covariance estimate pinv(JᵀJ).
	Cov *mat.Dense

	// Chi2 is Σ|data - model|²/error² over every frequency bin.
	Chi2 float64

	// ReducedChi2 is Chi2 divided by (nbins - len(Params)).
	ReducedChi2 float64

	// Converged reports whether the least-squares iteration met its
	// tolerances. It is diagnostic only; judge fit quality by ReducedChi2.
	Converged bool
}

// PulseFit fits closed-form multi-exponential pulse models to traces in the
// frequency domain, weighting each bin by the noise PSD.
type PulseFit struct {
	tr       *spectral.Transform
	psd      []float64
	template []float64
}

// NewPulseFit prepares fits for traces of len(psd) samples at fs. The PSD
// zero-frequency bin is replaced by a huge value so DC carries no weight.
// template is optional; when given, amplitude and start-time guesses are
// taken from it rather than from the trace.
func NewPulseFit(psd []float64, fs float64, template []float64) (*PulseFit, error) {
	if len(psd) == 0 {
		return nil, fmt.Errorf("%w: psd", ErrEmptyTrace)
	}
	if template != nil && len(template) != len(psd) {
		return nil, fmt.Errorf("%w: template has %d samples, psd has %d bins", ErrLengthMismatch, len(template), len(psd))
	}
	tr, err := spectral.New(len(psd), fs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, fs)
	}

	p := &PulseFit{
		tr:       tr,
		psd:      append([]float64(nil), psd...),
		template: template,
	}
	p.psd[0] = dcPSDReplacement
	return p, nil
}

// Fit fits trace with the model selected by opts.
func (p *PulseFit) Fit(trace []float64, opts *PulseFitOptions) (*PulseFitResult, error) {
	if opts == nil {
		opts = &PulseFitOptions{Poles: 2}
	}
	if len(trace) != p.tr.Len() {
		return nil, fmt.Errorf("%w: trace has %d samples, fit expects %d", ErrLengthMismatch, len(trace), p.tr.Len())
	}
	nParams, err := paramCount(opts.Poles)
	if err != nil {
		return nil, err
	}
	if opts.Poles == 1 && !(opts.RiseTime > 0) {
		return nil, ErrMissingRiseTime
	}

	x0 := opts.Guess
	if x0 == nil {
		x0 = p.guess(trace, opts.Poles)
	} else if len(x0) != nParams {
		return nil, fmt.Errorf("%w: %d-pole fit takes %d parameters, got %d", ErrInvalidGuess, opts.Poles, nParams, len(x0))
	}
	lower, upper := pulseBounds(x0, opts.Poles, p.tr.SampleRate())

	sf := newSpectralFit(p.tr, trace, p.psd, opts.ErrScale)
	freqs := p.tr.Freqs()
	df := p.tr.DF()
	model := func(dst []complex128, x []float64) {
		modelSpectrum(dst, freqs, df, x, opts.Poles, opts.RiseTime)
	}

	res, err := sf.solve(model, x0, lower, upper, opts.MaxIterations)
	if err != nil {
		return nil, err
	}
	res.ReducedChi2 = res.Chi2 / float64(p.tr.Len()-nParams)
	return res, nil
}

// Shape returns the time-domain model for params on this fit's time grid.
func (p *PulseFit) Shape(params []float64, poles int, riseTime float64) ([]float64, error) {
	return PulseShape(params, poles, riseTime, p.tr.Len(), p.tr.SampleRate())
}

// guess derives an initial parameter vector from the peak region and the
// decay of the trace.
func (p *PulseFit) guess(trace []float64, poles int) []float64 {
	fs := p.tr.SampleRate()
	n := len(trace)

	ref, ampScale := trace, 1.0
	if p.template != nil {
		ref = p.template
		ampScale = floats.Max(trace) - floats.Min(trace)
	}
	maxind := floats.MaxIdx(ref)
	lo := max(0, maxind-guessPeakHalfWidth)
	hi := min(n, maxind+guessPeakHalfWidth)
	amp := floats.Sum(ref[lo:hi]) / float64(hi-lo) * ampScale
	t0 := float64(maxind) / fs

	switch poles {
	case 4:
		extra := amp / guessExtraAmpShare
		return []float64{amp, extra, extra, guessRiseTime, guessSecondFall, guessThirdFall, guessFourthFall, t0}
	case 3:
		return []float64{amp, amp / guessExtraAmpShare, guessRiseTime, guessSecondFall, guessThirdFall, t0}
	}

	fall := guessSecondFall
	start := maxind + 1
	end := min(n, start+int(guessDecaySpan*fs))
	if start < end {
		level := guessDecayLevel * amp
		best := start
		for i := start; i < end; i++ {
			if math.Abs(trace[i]-level) < math.Abs(trace[best]-level) {
				best = i
			}
		}
		fall = float64(best-maxind) / fs
	}

	if poles == 2 {
		return []float64{amp, guessRiseTime, fall, t0}
	}
	return []float64{amp, fall, t0}
}

// pulseBounds returns the parameter box: amplitudes within two decades,
// time constants within one decade and the start time within a few dozen
// samples of the guess.
func pulseBounds(x0 []float64, poles int, fs float64) (lower, upper []float64) {
	nAmps := 1
	if poles >= multiFallPoles {
		nAmps = poles - 1
	}
	last := len(x0) - 1

	lower = make([]float64, len(x0))
	upper = make([]float64, len(x0))
	for i, g := range x0 {
		switch {
		case i == last:
			lower[i] = g - delayBoundBins/fs
			upper[i] = g + delayBoundBins/fs
		case i < nAmps:
			lower[i], upper[i] = scaledRange(g, ampBoundFactor)
		default:
			lower[i], upper[i] = scaledRange(g, tauBoundFactor)
		}
	}
	return lower, upper
}

// scaledRange returns [g/factor, g*factor] ordered for either sign of g.
func scaledRange(g, factor float64) (lo, hi float64) {
	a, b := g/factor, g*factor
	return math.Min(a, b), math.Max(a, b)
}

// spectralFit holds the whitened frequency-domain data of one trace.
type spectralFit struct {
	data []complex128 // Forward(trace)·sqrt(df)
	errs []float64    // sqrt(psd/errscale)
}

func newSpectralFit(tr *spectral.Transform, trace, psd []float64, errScale float64) *spectralFit {
	if errScale <= 0 {
		errScale = 1
	}
	data := tr.Forward(nil, trace)
	scale := math.Sqrt(tr.DF())
	for k := range data {
		data[k] *= complex(scale, 0)
	}
	errs := make([]float64, len(psd))
	for k, v := range psd {
		errs[k] = math.Sqrt(v / errScale)
	}
	return &spectralFit{data: data, errs: errs}
}

// solve runs the bounded least-squares fit of model to the data and fills
// everything but ReducedChi2.
func (s *spectralFit) solve(model func(dst []complex128, x []float64), x0, lower, upper []float64, maxIter int) (*PulseFitResult, error) {
	n := len(s.data)
	buf := make([]complex128, n)

	problem := lsq.Problem{
		M:     complexComponents * n,
		Lower: lower,
		Upper: upper,
		Func: func(dst, x []float64) {
			model(buf, x)
			for k, d := range s.data {
				r := d - buf[k]
				dst[complexComponents*k] = real(r) / s.errs[k]
				dst[complexComponents*k+1] = imag(r) / s.errs[k]
			}
		},
	}
	res, err := lsq.Minimize(problem, x0, &lsq.Settings{MaxIterations: maxIter})
	if err != nil {
		return nil, fmt.Errorf("pulse fit: %w", err)
	}

	cov := lsq.Covariance(res.Jacobian)
	errors := make([]float64, len(res.X))
	for i := range errors {
		errors[i] = math.Sqrt(cov.At(i, i))
	}
	return &PulseFitResult{
		Params:    res.X,
		Errors:    errors,
		Cov:       cov,
		Chi2:      floats.Dot(res.Residuals, res.Residuals),
		Converged: res.Converged,
	}, nil
}
