package optimumfilter

import (
	"github.com/tphakala/go-optimum-filter/internal/spectral"
)

// Baseline fits a pulse amplitude together with a constant baseline offset.
//
// The baseline is first fitted jointly with the amplitude at every delay and
// taken from the best unconstrained delay. It is then held fixed while the
// amplitude is refitted at every delay, so that amplitudes far from the true
// pulse are not pulled by a drifting baseline. The zero-frequency bin is
// always weighted with the caller's original DC noise level, even under AC
// coupling. An empty candidate set yields amplitude 0, delay 0 and the chi²
// of the baseline alone.
func (f *OptimumFilter) Baseline(search Search) (FitResult, error) {
	if err := search.validate(); err != nil {
		return FitResult{}, err
	}
	if !f.hasSignal {
		return FitResult{}, ErrNoSignal
	}

	n := f.tr.Len()
	df := f.tr.DF()
	d := 1 / df // Forward transform of a unit constant at DC
	psd0 := f.noise.PSD()[0]

	phi := f.phi
	norm := f.norm
	chiBase := f.chi0
	if f.noise.ExcludesDC() {
		psd0 = f.noise.DC()
		phi = append([]complex128(nil), f.phi...)
		phi[0] = f.s[0] / complex(psd0, 0)
		norm = f.ops.WeightedPower(f.s[1:], f.noise.Weights()[1:])*df +
			real(phi[0]*f.s[0])*df
		v0 := f.v[0]
		chiBase += (real(v0)*real(v0) + imag(v0)*imag(v0)) / psd0 * df
	}

	spec := make([]complex128, n)
	f.ops.CMul(spec, phi, f.v)
	b1 := f.tr.InverseReal(nil, spec)
	b2 := real(phi[0]) * d * df
	c1 := real(f.v[0]) * d / psd0 * df
	c2 := d * d / psd0 * df

	// Joint amplitude and baseline at each delay; keep the baseline of the best one.
	bestChi := 0.0
	bs := 0.0
	for i := range n {
		amp := (b1[i]*c2 - b2*c1) / (norm*c2 - b2*b2)
		bl := (c1 - amp*b2) / c2
		chi := chiBase - 2*(amp*b1[i]+bl*c1) + amp*amp*norm + 2*amp*bl*b2 + bl*bl*c2
		if i == 0 || chi < bestChi {
			bestChi = chi
			bs = bl
		}
	}

	// Refit the amplitude with the baseline fixed.
	chi0 := chiBase - 2*bs*c1 + bs*bs*c2
	amps := make([]float64, n)
	chi := make([]float64, n)
	for i := range n {
		amp := (b1[i] - bs*b2) / norm
		amps[i] = amp
		chi[i] = chi0 - 2*amp*b1[i] + amp*amp*norm + 2*amp*bs*b2
	}

	shift := spectral.Midpoint(n)
	amps = spectral.Roll(nil, amps, shift)
	chi = spectral.Roll(nil, chi, shift)

	best, ok := search.argmin(chi, amps)
	if !ok {
		return FitResult{Chi2: chi0}, nil
	}
	return FitResult{
		Amplitude: amps[best],
		Delay:     f.binDelay(best),
		Chi2:      chi[best],
	}, nil
}
