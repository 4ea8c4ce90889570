package optimumfilter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-optimum-filter/internal/spectral"
	"gonum.org/v1/gonum/floats"
)

// MuonTailFit estimates the amplitude and fall time of the slow thermal tail
// left by a muon, modelled as a single exponential A·exp(-t/τ) starting at
// the beginning of the trace.
type MuonTailFit struct {
	tr  *spectral.Transform
	psd []float64
}

// NewMuonTailFit prepares fits for traces of len(psd) samples at fs. Unlike
// PulseFit the PSD is used as given, DC included.
func NewMuonTailFit(psd []float64, fs float64) (*MuonTailFit, error) {
	if len(psd) == 0 {
		return nil, fmt.Errorf("%w: psd", ErrEmptyTrace)
	}
	tr, err := spectral.New(len(psd), fs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, fs)
	}
	return &MuonTailFit{tr: tr, psd: append([]float64(nil), psd...)}, nil
}

// Fit fits trace and returns Params = {A, τ}. errScale divides the PSD for
// averaged traces; zero means 1. Chi2 is the plain chi²; ReducedChi2 divides
// it by the degrees of freedom.
func (m *MuonTailFit) Fit(trace []float64, errScale float64) (*PulseFitResult, error) {
	if len(trace) != m.tr.Len() {
		return nil, fmt.Errorf("%w: trace has %d samples, fit expects %d", ErrLengthMismatch, len(trace), m.tr.Len())
	}
	x0 := muonGuess(trace, m.tr.SampleRate())
	lower := []float64{0, 0}
	upper := []float64{x0[0] * muonBoundFactor, x0[1] * muonBoundFactor}

	freqs := m.tr.Freqs()
	scale := complex(math.Sqrt(m.tr.DF()), 0)
	model := func(dst []complex128, x []float64) {
		for k, f := range freqs {
			dst[k] = complex(x[0], 0) * lowpass(2*math.Pi*f, x[1]) * scale
		}
	}

	sf := newSpectralFit(m.tr, trace, m.psd, errScale)
	res, err := sf.solve(model, x0, lower, upper, 0)
	if err != nil {
		return nil, err
	}
	res.ReducedChi2 = res.Chi2 / float64(m.tr.Len()-len(x0))
	return res, nil
}

// muonGuess returns {A, τ}: A is the peak-to-peak height and τ the time from
// the peak to the sample closest to A/e, at least one sample.
func muonGuess(trace []float64, fs float64) []float64 {
	amp := floats.Max(trace) - floats.Min(trace)
	level := amp / math.E
	peak := floats.MaxIdx(trace)
	best := peak
	for i := peak; i < len(trace); i++ {
		if math.Abs(trace[i]-level) < math.Abs(trace[best]-level) {
			best = i
		}
	}
	return []float64{amp, float64(max(best-peak, 1)) / fs}
}
