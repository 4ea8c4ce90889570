package optimumfilter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-optimum-filter/internal/spectral"
	"github.com/tphakala/go-optimum-filter/internal/testutil"
	"gonum.org/v1/gonum/floats"
)

// An odd length has no Nyquist bin, so a model spectrum maps to an exactly
// real trace.
const fitN = 2001

// modelTrace renders the frequency-domain pulse model as a time-domain trace.
func modelTrace(t *testing.T, params []float64, poles int, riseTime float64) []float64 {
	t.Helper()
	tr, err := spectral.New(fitN, testFS)
	require.NoError(t, err)

	spectrum := make([]complex128, fitN)
	modelSpectrum(spectrum, tr.Freqs(), tr.DF(), params, poles, riseTime)
	scale := complex(1/math.Sqrt(tr.DF()), 0)
	for k := range spectrum {
		spectrum[k] *= scale
	}
	return tr.InverseReal(nil, spectrum)
}

func perturb(x []float64, fs float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * 1.1
	}
	out[len(out)-1] = x[len(x)-1] + 5/fs
	return out
}

func TestPulseFit_RecoversModelParameters(t *testing.T) {
	tests := []struct {
		name     string
		poles    int
		riseTime float64
		params   []float64
		tol      float64
	}{
		{name: "one_pole", poles: 1, riseTime: 20e-6, params: []float64{1.5, 120e-6, 1e-3}, tol: 1e-5},
		{name: "two_pole", poles: 2, params: []float64{2, 20e-6, 100e-6, 1e-3}, tol: 1e-5},
		{name: "three_pole", poles: 3, params: []float64{2, 0.5, 15e-6, 80e-6, 400e-6, 0.8e-3}, tol: 1e-4},
		{name: "four_pole", poles: 4, params: []float64{2, 0.5, 0.3, 15e-6, 80e-6, 300e-6, 900e-6, 0.8e-3}, tol: 1e-4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := modelTrace(t, tt.params, tt.poles, tt.riseTime)
			fit, err := NewPulseFit(testutil.WhitePSD(fitN, testFS, testSigma), testFS, nil)
			require.NoError(t, err)

			res, err := fit.Fit(trace, &PulseFitOptions{
				Poles:    tt.poles,
				RiseTime: tt.riseTime,
				Guess:    perturb(tt.params, testFS),
			})
			require.NoError(t, err)

			require.Len(t, res.Params, len(tt.params))
			for i, want := range tt.params {
				testutil.AssertRelativeError(t, want, res.Params[i], tt.tol, "param %d", i)
			}
			assert.Less(t, res.ReducedChi2, 1e-6)
			testutil.AssertNoNaNOrInf(t, res.Errors)
			for i, e := range res.Errors {
				assert.Greater(t, e, 0.0, "error %d", i)
			}
			r, c := res.Cov.Dims()
			assert.Equal(t, len(tt.params), r)
			assert.Equal(t, len(tt.params), c)
		})
	}
}

func TestPulseFit_ErrScaleScalesChi2(t *testing.T) {
	params := []float64{2, 20e-6, 100e-6, 1e-3}
	trace := testutil.Combine(
		[][]float64{modelTrace(t, params, 2, 0), testutil.WhiteNoise(3, fitN, testSigma)},
		[]float64{1, 1},
	)
	fit, err := NewPulseFit(testutil.WhitePSD(fitN, testFS, testSigma), testFS, nil)
	require.NoError(t, err)

	one, err := fit.Fit(trace, &PulseFitOptions{Poles: 2, Guess: params})
	require.NoError(t, err)
	four, err := fit.Fit(trace, &PulseFitOptions{Poles: 2, Guess: params, ErrScale: 4})
	require.NoError(t, err)

	testutil.AssertRelativeError(t, 4*one.Chi2, four.Chi2, 1e-3)
	testutil.AssertInRange(t, one.ReducedChi2, 0.8, 1.2)
}

func TestPulseFit_Guess(t *testing.T) {
	params := []float64{1, testutil.RiseTime, testutil.FallTime, 200 / testFS}
	trace, err := PulseShape(params, 2, 0, testN, testFS)
	require.NoError(t, err)

	fit, err := NewPulseFit(testutil.WhitePSD(testN, testFS, testSigma), testFS, nil)
	require.NoError(t, err)

	guess := fit.guess(trace, 2)
	require.Len(t, guess, 4)
	assert.InDelta(t, 1, guess[0], 0.05)
	assert.Equal(t, guessRiseTime, guess[1])
	assert.InEpsilon(t, testutil.FallTime, guess[2], 0.3)
	assert.InDelta(t, float64(floats.MaxIdx(trace))/testFS, guess[3], 1e-12)

	assert.Len(t, fit.guess(trace, 1), 3)
	assert.Len(t, fit.guess(trace, 3), 6)
	assert.Len(t, fit.guess(trace, 4), 8)
}

func TestPulseFit_TemplateGuess(t *testing.T) {
	template := testutil.CenteredPulse(testN, testFS)
	fit, err := NewPulseFit(testutil.WhitePSD(testN, testFS, testSigma), testFS, template)
	require.NoError(t, err)

	guess := fit.guess(scaled(template, 4), 2)
	assert.InDelta(t, float64(floats.MaxIdx(template))/testFS, guess[3], 1e-12)
	assert.InDelta(t, 4, guess[0], 0.2)
}

func TestPulseFit_Validation(t *testing.T) {
	psd := testutil.WhitePSD(testN, testFS, testSigma)
	trace := testutil.CenteredPulse(testN, testFS)

	_, err := NewPulseFit(nil, testFS, nil)
	require.ErrorIs(t, err, ErrEmptyTrace)
	_, err = NewPulseFit(psd, 0, nil)
	require.ErrorIs(t, err, ErrInvalidSampleRate)
	_, err = NewPulseFit(psd, testFS, trace[:10])
	require.ErrorIs(t, err, ErrLengthMismatch)

	fit, err := NewPulseFit(psd, testFS, nil)
	require.NoError(t, err)

	_, err = fit.Fit(trace[:10], nil)
	require.ErrorIs(t, err, ErrLengthMismatch)
	_, err = fit.Fit(trace, &PulseFitOptions{Poles: 5})
	require.ErrorIs(t, err, ErrInvalidPoles)
	_, err = fit.Fit(trace, &PulseFitOptions{Poles: 1})
	require.ErrorIs(t, err, ErrMissingRiseTime)
	_, err = fit.Fit(trace, &PulseFitOptions{Poles: 2, Guess: []float64{1, 2}})
	require.ErrorIs(t, err, ErrInvalidGuess)

	assert.Equal(t, 1e40, fit.psd[0])
	assert.NotEqual(t, 1e40, psd[0])
}

func TestPulseBounds(t *testing.T) {
	x0 := []float64{-2, 0.5, 20e-6, 100e-6, 300e-6, 1e-3}
	lower, upper := pulseBounds(x0, 3, 1e6)

	assert.InDeltaSlice(t, []float64{-200, 0.005, 2e-6, 10e-6, 30e-6, 1e-3 - 30e-6}, lower, 1e-15)
	assert.InDeltaSlice(t, []float64{-0.02, 50, 200e-6, 1e-3, 3e-3, 1e-3 + 30e-6}, upper, 1e-15)
}

func TestPulseShape(t *testing.T) {
	shape, err := PulseShape([]float64{3, 20e-6, 100e-6, 0}, 2, 0, testN, testFS)
	require.NoError(t, err)
	assert.InEpsilon(t, 3, floats.Max(shape), 1e-3)
	assert.Equal(t, 0.0, shape[0])

	shifted, err := PulseShape([]float64{3, 20e-6, 100e-6, 100.5 / testFS}, 2, 0, testN, testFS)
	require.NoError(t, err)
	assert.Equal(t, floats.MaxIdx(shape)+100, floats.MaxIdx(shifted))

	three, err := PulseShape([]float64{1, 0.5, 20e-6, 100e-6, 500e-6, 0}, 3, 0, testN, testFS)
	require.NoError(t, err)
	assert.InDelta(t, 0, three[0], 1e-15)
	testutil.AssertNonNegative(t, three, 1e-15)

	four, err := PulseShape([]float64{1, 0.5, 0.25, 20e-6, 100e-6, 300e-6, 900e-6, 0}, 4, 0, testN, testFS)
	require.NoError(t, err)
	testutil.AssertNonNegative(t, four, 1e-15)

	_, err = PulseShape([]float64{1, 2}, 2, 0, testN, testFS)
	require.ErrorIs(t, err, ErrInvalidGuess)
	_, err = PulseShape([]float64{1, 100e-6, 0}, 1, 0, testN, testFS)
	require.ErrorIs(t, err, ErrMissingRiseTime)
	_, err = PulseShape(nil, 0, 0, testN, testFS)
	require.ErrorIs(t, err, ErrInvalidPoles)
}

func TestMuonTailFit(t *testing.T) {
	const amp, tau = 0.5, 300e-6

	tr, err := spectral.New(fitN, testFS)
	require.NoError(t, err)
	spectrum := make([]complex128, fitN)
	for k, f := range tr.Freqs() {
		spectrum[k] = complex(amp, 0) * lowpass(2*math.Pi*f, tau)
	}
	trace := tr.InverseReal(nil, spectrum)

	fit, err := NewMuonTailFit(testutil.WhitePSD(fitN, testFS, testSigma), testFS)
	require.NoError(t, err)

	res, err := fit.Fit(trace, 0)
	require.NoError(t, err)
	testutil.AssertRelativeError(t, amp, res.Params[0], 1e-5)
	testutil.AssertRelativeError(t, tau, res.Params[1], 1e-5)
	assert.Less(t, res.ReducedChi2, 1e-6)

	_, err = fit.Fit(trace[:5], 0)
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestMuonGuess(t *testing.T) {
	tests := []struct {
		name  string
		trace []float64
		want  []float64
	}{
		{name: "decay_after_peak", trace: []float64{0, 1, 0.8, 0.5, 0.37, 0.2}, want: []float64{1, 3 / testFS}},
		{name: "first_sample_near_level", trace: []float64{1 / math.E, 1, 0.9, 0.8, 0}, want: []float64{1, 3 / testFS}},
		{name: "peak_at_end", trace: []float64{0, 0.2, 0.5, 1}, want: []float64{1, 1 / testFS}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := muonGuess(tt.trace, testFS)
			assert.InDeltaSlice(t, tt.want, got, 1e-15)
			assert.Greater(t, got[1], 0.0)
		})
	}
}

func TestMuonTailFit_Validation(t *testing.T) {
	_, err := NewMuonTailFit(nil, testFS)
	require.ErrorIs(t, err, ErrEmptyTrace)
	_, err = NewMuonTailFit(testutil.WhitePSD(8, testFS, testSigma), -1)
	require.ErrorIs(t, err, ErrInvalidSampleRate)
}
