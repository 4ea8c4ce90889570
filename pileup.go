package optimumfilter

import (
	"math"

	"github.com/tphakala/go-optimum-filter/internal/spectral"
)

// PileupResult is the outcome of a simultaneous two-pulse fit.
type PileupResult struct {
	// A1 is the amplitude of the pulse held at zero delay.
	A1 float64

	// A2 is the amplitude of the free pulse.
	A2 float64

	// Delay of the free pulse in seconds.
	Delay float64

	Chi2 float64
}

// PileupIterative fits a second pulse given a first pulse of amplitude a1
// at delay t1 (seconds), typically taken from AmplitudeWithDelay. The first
// pulse is not refitted. An empty candidate set yields amplitude 0, delay 0
// and the chi² of the first pulse alone.
func (f *OptimumFilter) PileupIterative(a1, t1 float64, search Search) (FitResult, error) {
	if err := search.validate(); err != nil {
		return FitResult{}, err
	}
	if !f.hasSignal {
		return FitResult{}, ErrNoSignal
	}

	n := f.tr.Len()
	sf := f.amplitudeCurve()
	tf := f.templateCurve(t1)

	t1ind := int(math.Round(t1*f.tr.SampleRate())) % n
	if t1ind < 0 {
		t1ind += n
	}

	// chi² of the first pulse on its own.
	chit := a1*a1*f.norm - 2*a1*sf[t1ind]*f.norm

	a2s := make([]float64, n)
	chi := make([]float64, n)
	for i := range n {
		a2 := sf[i] - a1*tf[i]/f.norm
		a2s[i] = a2
		chi[i] = f.chi0 + chit + a2*a2*f.norm + 2*a1*a2*tf[i] - 2*a2*sf[i]*f.norm
	}

	shift := spectral.Midpoint(n)
	a2s = spectral.Roll(nil, a2s, shift)
	chi = spectral.Roll(nil, chi, shift)

	best, ok := search.argmin(chi, a2s)
	if !ok {
		return FitResult{Chi2: f.chi0 + chit}, nil
	}
	return FitResult{
		Amplitude: a2s[best],
		Delay:     f.binDelay(best),
		Chi2:      chi[best],
	}, nil
}

// PileupStationary solves in closed form for two pulses, one held at zero
// delay and one free. The polarity of search is not applied. An empty
// candidate set yields a zero result with the no-pulse chi².
func (f *OptimumFilter) PileupStationary(search Search) (PileupResult, error) {
	if err := search.validate(); err != nil {
		return PileupResult{}, err
	}
	if !f.hasSignal {
		return PileupResult{}, ErrNoSignal
	}

	n := f.tr.Len()
	sf := f.amplitudeCurve()
	tf := f.templateCurve(0)
	norm := f.norm
	norm2 := norm * norm
	sf0 := sf[0]

	a1s := make([]float64, n)
	a2s := make([]float64, n)
	chi := make([]float64, n)
	for i := range n {
		var a1, a2 float64
		if i == 0 {
			// Both pulses coincide and the 2×2 system is singular; the
			// filtered amplitude splits evenly between them.
			a1 = sf0 / halfDivisor
			a2 = a1
		} else {
			denom := norm2 - tf[i]*tf[i]
			a1 = (sf0*norm2 - sf[i]*norm*tf[i]) / denom
			a2 = (sf[i]*norm2 - sf0*norm*tf[i]) / denom
		}
		a1s[i] = a1
		a2s[i] = a2
		chi[i] = f.chi0 + (a1*a1+a2*a2)*norm + 2*a1*a2*tf[i] - 2*a1*sf0*norm - 2*a2*sf[i]*norm
	}

	shift := spectral.Midpoint(n)
	a1s = spectral.Roll(nil, a1s, shift)
	a2s = spectral.Roll(nil, a2s, shift)
	chi = spectral.Roll(nil, chi, shift)

	search.Polarity = PolarityAny
	best, ok := search.argmin(chi, nil)
	if !ok {
		return PileupResult{Chi2: f.chi0}, nil
	}
	return PileupResult{
		A1:    a1s[best],
		A2:    a2s[best],
		Delay: f.binDelay(best),
		Chi2:  chi[best],
	}, nil
}
