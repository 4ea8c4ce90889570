package optimumfilter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-optimum-filter/internal/spectral"
)

// paramCount returns the number of free parameters of the pole model.
func paramCount(poles int) (int, error) {
	switch poles {
	case 1:
		return onePoleParams, nil
	case 2:
		return twoPoleParams, nil
	case 3:
		return threePoleParams, nil
	case 4:
		return fourPoleParams, nil
	default:
		return 0, fmt.Errorf("%w: got %d", ErrInvalidPoles, poles)
	}
}

// lowpass returns τ/(1+iωτ), the transform of exp(-t/τ) for t >= 0.
func lowpass(omega, tau float64) complex128 {
	return complex(tau, 0) / complex(1, omega*tau)
}

// twoPoleScale returns the factor that gives exp(-t/τf) - exp(-t/τr) a peak of 1.
func twoPoleScale(rise, fall float64) float64 {
	delta := rise - fall
	rat := rise / fall
	return 1 / (math.Pow(rat, -rise/delta) - math.Pow(rat, -fall/delta))
}

// expandPoles converts a parameter vector into a uniform (amplitude, fall)
// list, the rise time and the start time. For one and two poles the single
// amplitude is the pulse height; for three and four poles it is the weight
// of each fall term and the rise term carries the negated sum.
func expandPoles(params []float64, poles int, riseTime float64) (amps, falls []float64, rise, t0 float64) {
	switch poles {
	case 1:
		return []float64{params[0]}, []float64{params[1]}, riseTime, params[2]
	case 2:
		return []float64{params[0]}, []float64{params[2]}, params[1], params[3]
	case 3:
		return params[0:2], params[3:5], params[2], params[5]
	default:
		return params[0:3], params[4:7], params[3], params[7]
	}
}

// modelSpectrum writes the frequency-domain pulse model, multiplied by
// sqrt(df), into dst.
func modelSpectrum(dst []complex128, freqs []float64, df float64, params []float64, poles int, riseTime float64) {
	amps, falls, rise, t0 := expandPoles(params, poles, riseTime)
	scale := math.Sqrt(df)

	if poles < multiFallPoles {
		fall := falls[0]
		amp := amps[0] * twoPoleScale(rise, fall) * math.Abs(rise-fall)
		for k, f := range freqs {
			omega := 2 * math.Pi * f
			p := complex(amp, 0) / (complex(1, omega*fall) * complex(1, omega*rise))
			dst[k] = p * spectral.Phasor(f, t0) * complex(scale, 0)
		}
		return
	}

	var total float64
	for _, a := range amps {
		total += a
	}
	for k, f := range freqs {
		omega := 2 * math.Pi * f
		var p complex128
		for i, a := range amps {
			p += complex(a, 0) * lowpass(omega, falls[i])
		}
		p -= complex(total, 0) * lowpass(omega, rise)
		dst[k] = p * spectral.Phasor(f, t0) * complex(scale, 0)
	}
}

// PulseShape returns the time-domain pulse model for params sampled at fs
// over nbins samples. The start time is applied as a circular shift by
// whole samples. riseTime is only used by the one-pole model.
func PulseShape(params []float64, poles int, riseTime float64, nbins int, fs float64) ([]float64, error) {
	want, err := paramCount(poles)
	if err != nil {
		return nil, err
	}
	if len(params) != want {
		return nil, fmt.Errorf("%w: %d-pole model takes %d parameters, got %d", ErrInvalidGuess, poles, want, len(params))
	}
	if poles == 1 && !(riseTime > 0) {
		return nil, ErrMissingRiseTime
	}
	amps, falls, rise, t0 := expandPoles(params, poles, riseTime)

	pulse := make([]float64, nbins)
	for i := range pulse {
		t := float64(i) / fs
		if poles < multiFallPoles {
			pulse[i] = amps[0] * twoPoleScale(rise, falls[0]) * (math.Exp(-t/falls[0]) - math.Exp(-t/rise))
			continue
		}
		var total float64
		for k, a := range amps {
			pulse[i] += a * math.Exp(-t/falls[k])
			total += a
		}
		pulse[i] -= total * math.Exp(-t/rise)
	}
	return spectral.Roll(nil, pulse, int(t0*fs)), nil
}
