package optimumfilter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-optimum-filter/internal/spectral"
)

// BackgroundSet is a list of background templates for a FilterBank together
// with their bin offsets and the sign constraint for each.
type BackgroundSet struct {
	// Templates in filter bank order; slope and DC come last.
	Templates [][]float64

	// Shifts holds the bin offset of each template. Slope and DC have no
	// offset and are NaN.
	Shifts []float64

	// Polarities holds the required amplitude sign per template, suitable
	// for FilterBankConfig.BackgroundPolarity.
	Polarities []Polarity
}

// SlopeDCTemplates returns the two standard free backgrounds for traces of
// nbins samples: a unit slope i/nbins followed by a constant 1.
func SlopeDCTemplates(nbins int) BackgroundSet {
	slope := make([]float64, nbins)
	dc := make([]float64, nbins)
	for i := range nbins {
		slope[i] = float64(i) / float64(nbins)
		dc[i] = 1
	}
	return BackgroundSet{
		Templates:  [][]float64{slope, dc},
		Shifts:     []float64{math.NaN(), math.NaN()},
		Polarities: []Polarity{PolarityAny, PolarityAny},
	}
}

// TTLTemplates builds backgrounds for pulses from a periodic trigger firing
// at ttlRate Hz, followed by the slope and DC backgrounds.
//
// template is the trigger pulse shape, centered in the trace. The first copy
// is rolled back by half the triggers in the trace; each further copy is
// delayed by one trigger period with zero fill at the start. Every trigger
// template gets polarity as its required sign.
func TTLTemplates(template []float64, fs, ttlRate float64, polarity Polarity) (BackgroundSet, error) {
	nbins := len(template)
	if nbins == 0 {
		return BackgroundSet{}, fmt.Errorf("%w: template", ErrEmptyTrace)
	}
	if !(fs > 0) {
		return BackgroundSet{}, fmt.Errorf("%w: %v", ErrInvalidSampleRate, fs)
	}
	if !(ttlRate > 0) {
		return BackgroundSet{}, fmt.Errorf("%w: trigger rate must be positive", ErrInvalidConfig)
	}
	if err := polarity.Validate(); err != nil {
		return BackgroundSet{}, err
	}

	period := 1 / ttlRate
	binsBetween := period * fs
	traceLen := float64(nbins) / fs
	nTTLs := int(traceLen / period)

	first := spectral.Roll(nil, template, int(-float64(nTTLs)/halfDivisor*binsBetween))

	set := BackgroundSet{
		Templates:  make([][]float64, 0, nTTLs+defaultFreeBackgrounds),
		Shifts:     make([]float64, 0, nTTLs+defaultFreeBackgrounds),
		Polarities: make([]Polarity, 0, nTTLs+defaultFreeBackgrounds),
	}
	for k := range nTTLs {
		shift := int(math.RoundToEven(binsBetween * float64(k)))
		tmpl := make([]float64, nbins)
		if shift < nbins {
			copy(tmpl[shift:], first[:nbins-shift])
		}
		set.Templates = append(set.Templates, tmpl)
		set.Shifts = append(set.Shifts, float64(shift))
		set.Polarities = append(set.Polarities, polarity)
	}

	slopeDC := SlopeDCTemplates(nbins)
	set.Templates = append(set.Templates, slopeDC.Templates...)
	set.Shifts = append(set.Shifts, slopeDC.Shifts...)
	set.Polarities = append(set.Polarities, slopeDC.Polarities...)
	return set, nil
}
