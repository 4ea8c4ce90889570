package optimumfilter

import (
	"fmt"
	"math"
)

// Coupling selects how the zero-frequency noise bin is treated.
type Coupling int

const (
	// CouplingAC excludes DC from the fit by treating the zero-frequency PSD
	// bin as infinite. This is the default.
	CouplingAC Coupling = iota

	// CouplingDC uses the PSD as given.
	CouplingDC

	// CouplingFlatDC replaces the zero-frequency PSD bin with the first
	// non-zero-frequency bin. Used by the filter bank, whose slope and DC
	// backgrounds need a finite DC weight.
	CouplingFlatDC
)

// String returns the coupling name.
func (c Coupling) String() string {
	switch c {
	case CouplingAC:
		return "AC"
	case CouplingDC:
		return "DC"
	case CouplingFlatDC:
		return "FlatDC"
	default:
		return fmt.Sprintf("Coupling(%d)", int(c))
	}
}

func (c Coupling) validate() error {
	switch c {
	case CouplingAC, CouplingDC, CouplingFlatDC:
		return nil
	default:
		return fmt.Errorf("%w: unknown coupling %d", ErrInvalidConfig, int(c))
	}
}

// NoiseModel holds a working copy of a two-sided noise PSD together with the
// per-bin weights 1/PSD used by every filter. The caller's slice is never
// modified.
type NoiseModel struct {
	psd      []float64
	weights  []float64
	psd0     float64
	coupling Coupling
}

// NewNoiseModel validates psd and applies the coupling mode to a copy of it.
func NewNoiseModel(psd []float64, coupling Coupling) (*NoiseModel, error) {
	if len(psd) == 0 {
		return nil, fmt.Errorf("%w: psd", ErrEmptyTrace)
	}
	if err := coupling.validate(); err != nil {
		return nil, err
	}
	for i, p := range psd {
		if !(p > 0) {
			return nil, fmt.Errorf("%w: psd[%d] = %v is not positive", ErrInvalidConfig, i, p)
		}
	}

	m := &NoiseModel{
		psd:      append([]float64(nil), psd...),
		weights:  make([]float64, len(psd)),
		psd0:     psd[0],
		coupling: coupling,
	}
	switch coupling {
	case CouplingAC:
		m.psd[0] = math.Inf(1)
	case CouplingFlatDC:
		if len(psd) > 1 {
			m.psd[0] = psd[1]
		}
	}
	for i, p := range m.psd {
		if !math.IsInf(p, 1) {
			m.weights[i] = 1 / p
		}
	}
	return m, nil
}

// Len returns the number of frequency bins.
func (m *NoiseModel) Len() int { return len(m.psd) }

// PSD returns the working PSD. The slice must not be modified.
func (m *NoiseModel) PSD() []float64 { return m.psd }

// Weights returns 1/PSD per bin, zero where the working PSD is infinite.
// The slice must not be modified.
func (m *NoiseModel) Weights() []float64 { return m.weights }

// DC returns the caller's original zero-frequency PSD value.
func (m *NoiseModel) DC() float64 { return m.psd0 }

// Coupling returns the coupling mode.
func (m *NoiseModel) Coupling() Coupling { return m.coupling }

// ExcludesDC reports whether the zero-frequency bin carries no weight.
func (m *NoiseModel) ExcludesDC() bool { return m.weights[0] == 0 }
