package optimumfilter

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"github.com/tphakala/go-optimum-filter/internal/linalg"
	"github.com/tphakala/go-optimum-filter/internal/simdops"
	"github.com/tphakala/go-optimum-filter/internal/spectral"
	"gonum.org/v1/gonum/mat"
)

// FilterBankConfig holds filter bank configuration.
type FilterBankConfig struct {
	// SampleRate of the traces and templates in Hz.
	SampleRate float64

	// Coupling selects the treatment of the zero-frequency noise bin.
	// DefaultFilterBankConfig selects CouplingFlatDC so that DC backgrounds
	// carry weight.
	Coupling Coupling

	// Polarity is the required sign of every sign-constrained background
	// amplitude. PolarityAny disables the constraint.
	Polarity Polarity

	// BackgroundPolarity optionally overrides Polarity per background
	// template. When set it must have one entry per background.
	BackgroundPolarity []Polarity

	// SignalPolarity is the required sign of the signal amplitudes.
	// PolarityAny (the default) leaves them free.
	SignalPolarity Polarity

	// FreeBackgrounds is the number of trailing backgrounds (slope and DC by
	// convention) that are never sign-constrained.
	FreeBackgrounds int

	// MaxMaskedSolves caps the exclude-and-resolve iterations per delay.
	MaxMaskedSolves int

	// LowFreqCutoff is the band edge in Hz for the low-frequency chi².
	LowFreqCutoff float64

	// Solver inverts the weighting matrices. Nil selects linalg.PinvSolver.
	Solver linalg.Solver

	// EnableParallel spreads per-delay work over GOMAXPROCS goroutines.
	// Results are identical to the sequential path.
	EnableParallel bool
}

// DefaultFilterBankConfig returns the conventional configuration for
// positive backgrounds followed by slope and DC templates.
func DefaultFilterBankConfig(sampleRate float64) *FilterBankConfig {
	return &FilterBankConfig{
		SampleRate:      sampleRate,
		Coupling:        CouplingFlatDC,
		Polarity:        PolarityPositive,
		FreeBackgrounds: defaultFreeBackgrounds,
		MaxMaskedSolves: defaultMaxMaskedSolves,
		LowFreqCutoff:   defaultLowFreqCutoff,
	}
}

// Validate checks if the configuration is valid.
func (c *FilterBankConfig) Validate() error {
	if !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if err := c.Coupling.validate(); err != nil {
		return err
	}
	if err := c.Polarity.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.SignalPolarity.Validate(); err != nil {
		return fmt.Errorf("%w: signal: %w", ErrInvalidConfig, err)
	}
	for i, p := range c.BackgroundPolarity {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: background %d: %w", ErrInvalidConfig, i, err)
		}
	}
	if c.FreeBackgrounds < 0 {
		return fmt.Errorf("%w: free backgrounds must not be negative", ErrInvalidConfig)
	}
	if c.MaxMaskedSolves < 0 {
		return fmt.Errorf("%w: masked solve cap must not be negative", ErrInvalidConfig)
	}
	if c.LowFreqCutoff < 0 {
		return fmt.Errorf("%w: low-frequency cutoff must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FilterBank fits n time-shiftable signal templates and m fixed background
// templates to a trace simultaneously (the nS+mB fit).
//
// All signal-independent quantities, including the inverse weighting matrix
// for every candidate delay, are computed by NewFilterBank. A FilterBank is
// immutable afterwards and Fit is safe for concurrent use.
type FilterBank struct {
	cfg   FilterBankConfig
	tr    *spectral.Transform
	noise *NoiseModel
	ops   *simdops.Ops

	nSig, nBkg int
	templates  [][]float64    // signals then backgrounds, time domain
	spectra    [][]complex128 // Forward of each template
	filters    [][]complex128 // conj(S)/PSD of each template

	wsum  *mat.SymDense // df·Σ Re conj(S_i)S_j/PSD, the zero-shift overlaps
	cross [][]float64   // [i*nBkg+j] signal i, background j overlap per delay
	inv   []*mat.Dense  // inverse of W(t) per delay
	bbInv *mat.Dense    // inverse of the background block, nil without backgrounds

	required []Polarity // required sign per component, PolarityAny if free
	solver   linalg.Solver
}

// NewFilterBank builds a filter bank for the given templates and noise PSD.
// Every template and the PSD must have the same length. At least one signal
// template is required; backgrounds may be empty.
func NewFilterBank(signals, backgrounds [][]float64, psd []float64, cfg *FilterBankConfig) (*FilterBank, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: at least one signal template is required", ErrInvalidConfig)
	}
	if len(cfg.BackgroundPolarity) != 0 && len(cfg.BackgroundPolarity) != len(backgrounds) {
		return nil, fmt.Errorf("%w: %d background polarities for %d backgrounds",
			ErrInvalidConfig, len(cfg.BackgroundPolarity), len(backgrounds))
	}

	nbins := len(psd)
	if nbins == 0 {
		return nil, fmt.Errorf("%w: psd", ErrEmptyTrace)
	}
	templates := make([][]float64, 0, len(signals)+len(backgrounds))
	templates = append(templates, signals...)
	templates = append(templates, backgrounds...)
	for k, tmpl := range templates {
		if len(tmpl) != nbins {
			return nil, fmt.Errorf("%w: template %d has %d samples, psd has %d bins",
				ErrLengthMismatch, k, len(tmpl), nbins)
		}
	}

	noise, err := NewNoiseModel(psd, cfg.Coupling)
	if err != nil {
		return nil, err
	}
	tr, err := spectral.New(nbins, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	b := &FilterBank{
		cfg:       *cfg,
		tr:        tr,
		noise:     noise,
		ops:       simdops.Float64Ops(),
		nSig:      len(signals),
		nBkg:      len(backgrounds),
		templates: templates,
		solver:    cfg.Solver,
	}
	if b.solver == nil {
		b.solver = linalg.PinvSolver{}
	}
	b.required = b.componentPolarities()

	b.transformTemplates()
	b.buildOverlaps()
	b.invertWeights()

	log.WithFields(log.Fields{
		"signals":     b.nSig,
		"backgrounds": b.nBkg,
		"bins":        nbins,
		"parallel":    cfg.EnableParallel,
	}).Debug("filter bank ready")
	return b, nil
}

// Signals returns the number of signal templates.
func (b *FilterBank) Signals() int { return b.nSig }

// Backgrounds returns the number of background templates.
func (b *FilterBank) Backgrounds() int { return b.nBkg }

// Len returns the trace length in bins.
func (b *FilterBank) Len() int { return b.tr.Len() }

// componentPolarities resolves the required sign of every component.
func (b *FilterBank) componentPolarities() []Polarity {
	req := make([]Polarity, b.nSig+b.nBkg)
	for i := range b.nSig {
		req[i] = b.cfg.SignalPolarity
	}
	constrained := b.nBkg - b.cfg.FreeBackgrounds
	for j := range b.nBkg {
		if j >= constrained {
			continue
		}
		p := b.cfg.Polarity
		if len(b.cfg.BackgroundPolarity) != 0 {
			p = b.cfg.BackgroundPolarity[j]
		}
		req[b.nSig+j] = p
	}
	return req
}

func (b *FilterBank) transformTemplates() {
	w := b.noise.Weights()
	b.spectra = make([][]complex128, len(b.templates))
	b.filters = make([][]complex128, len(b.templates))
	for k, tmpl := range b.templates {
		b.spectra[k] = b.tr.Forward(nil, tmpl)
		b.filters[k] = make([]complex128, b.tr.Len())
		b.ops.CConjWeight(b.filters[k], b.spectra[k], w)
	}
}

// buildOverlaps computes the delay-invariant template overlaps and the
// delay-dependent signal-background overlaps.
func (b *FilterBank) buildOverlaps() {
	nComp := b.nSig + b.nBkg
	df := b.tr.DF()
	prod := make([]complex128, b.tr.Len())

	b.wsum = mat.NewSymDense(nComp, nil)
	for i := range nComp {
		for j := i; j < nComp; j++ {
			b.ops.CMul(prod, b.filters[i], b.spectra[j])
			var sum float64
			for _, v := range prod {
				sum += real(v)
			}
			b.wsum.SetSym(i, j, sum*df)
		}
	}

	b.cross = make([][]float64, b.nSig*b.nBkg)
	for i := range b.nSig {
		for j := range b.nBkg {
			b.ops.CMul(prod, b.filters[i], b.spectra[b.nSig+j])
			b.cross[i*b.nBkg+j] = b.tr.InverseReal(nil, prod)
		}
	}
}

// weightAt assembles W(t): signal-signal and background-background blocks
// from the zero-shift overlaps, signal-background blocks at delay t.
func (b *FilterBank) weightAt(t int) *mat.SymDense {
	w := mat.NewSymDense(b.nSig+b.nBkg, nil)
	w.CopySym(b.wsum)
	for i := range b.nSig {
		for j := range b.nBkg {
			w.SetSym(i, b.nSig+j, b.cross[i*b.nBkg+j][t])
		}
	}
	return w
}

func (b *FilterBank) invertWeights() {
	b.inv = make([]*mat.Dense, b.tr.Len())
	b.forEachDelay(b.tr.Len(), func(t int, _ *bankScratch) {
		b.inv[t] = b.solver.Inverse(b.weightAt(t))
	})

	if b.nBkg > 0 {
		idx := make([]int, b.nBkg)
		for j := range idx {
			idx[j] = b.nSig + j
		}
		b.bbInv = b.solver.Inverse(linalg.Select(b.wsum, idx))
	}
}
