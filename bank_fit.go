package optimumfilter

import (
	"fmt"
	"math"
	"slices"

	log "github.com/sirupsen/logrus"
	"github.com/tphakala/go-optimum-filter/internal/linalg"
	"github.com/tphakala/go-optimum-filter/internal/spectral"
	"gonum.org/v1/gonum/mat"
)

// BankResult is the outcome of a filter bank fit. Amplitude vectors hold the
// signal amplitudes first, then the background amplitudes. Delays are in
// seconds; delay bins above nbins/2 are reported as negative delays.
type BankResult struct {
	// Sign-constrained best fit over the search window.
	Amplitudes  []float64
	Delay       float64
	Chi2        float64
	Chi2LowFreq float64
	Excluded    BitMask

	// Unconstrained best fit over the search window.
	UnconstrainedAmplitudes []float64
	UnconstrainedDelay      float64
	UnconstrainedChi2       float64

	// Unconstrained fit with the signals at zero delay.
	ZeroDelayAmplitudes []float64
	ZeroDelayChi2       float64

	// Background-only fits, without any signal template. Empty without
	// background templates, in which case both chi² values equal the
	// no-pulse chi².
	BackgroundAmplitudes             []float64
	BackgroundChi2                   float64
	ConstrainedBackgroundAmplitudes  []float64
	ConstrainedBackgroundChi2        float64
	ConstrainedBackgroundChi2LowFreq float64
	ConstrainedBackgroundExcluded    BitMask

	// BackgroundSubtracted is the trace minus the background part of the
	// constrained best fit.
	BackgroundSubtracted []float64

	// Residual is the trace minus the full constrained best-fit model.
	Residual []float64
}

// bankTrace holds the per-trace quantities shared by every delay.
type bankTrace struct {
	v       []complex128
	chi0    float64
	sigProj [][]float64 // signal projections per delay
	bkgProj []float64   // background projections, delay invariant
}

// Fit fits trace with the signal delay restricted to window, a list of delay
// bins. Negative bins count from the end and bins past the end wrap around.
// A nil window searches every delay.
func (b *FilterBank) Fit(trace []float64, window []int) (*BankResult, error) {
	n := b.tr.Len()
	if len(trace) != n {
		return nil, fmt.Errorf("%w: trace has %d samples, filter bank expects %d", ErrLengthMismatch, len(trace), n)
	}
	candidates, err := normalizeWindow(window, n)
	if err != nil {
		return nil, err
	}

	bt := b.project(trace)
	nComp := b.nSig + b.nBkg

	ampU := make([][]float64, len(candidates))
	chiU := make([]float64, len(candidates))
	ampC := make([][]float64, len(candidates))
	chiC := make([]float64, len(candidates))
	masks := make([]BitMask, len(candidates))
	capped := make([]bool, len(candidates))

	b.forEachDelay(len(candidates), func(k int, s *bankScratch) {
		t := candidates[k]
		b.projectionsAt(s.proj, bt, t)
		linalg.MulVec(s.amps, b.inv[t], s.proj)

		ampU[k] = slices.Clone(s.amps)
		chiU[k] = bt.chi0 - b.ops.Dot(s.amps, s.proj)
		ampC[k], masks[k], chiC[k], capped[k] = b.constrainedAt(t, s.proj, ampU[k], chiU[k], bt.chi0)
	})

	if hits := countTrue(capped); hits > 0 {
		log.WithFields(log.Fields{
			"delays":      hits,
			"max_solves":  b.cfg.MaxMaskedSolves,
			"backgrounds": b.nBkg,
		}).Debug("sign constraint still violated after masked solve cap")
	}

	bestU := argminFirst(chiU)
	bestC := argminFirst(chiC)
	tC := candidates[bestC]

	res := &BankResult{
		Amplitudes:              ampC[bestC],
		Delay:                   b.delaySeconds(tC),
		Chi2:                    chiC[bestC],
		Excluded:                masks[bestC],
		UnconstrainedAmplitudes: ampU[bestU],
		UnconstrainedDelay:      b.delaySeconds(candidates[bestU]),
		UnconstrainedChi2:       chiU[bestU],
	}

	zeroProj := make([]float64, nComp)
	b.projectionsAt(zeroProj, bt, 0)
	res.ZeroDelayAmplitudes = linalg.MulVec(nil, b.inv[0], zeroProj)
	res.ZeroDelayChi2 = bt.chi0 - b.ops.Dot(res.ZeroDelayAmplitudes, zeroProj)

	b.fitBackgroundOnly(res, bt)

	resid := b.residualSpectrum(bt.v, res.Amplitudes, tC)
	res.Chi2LowFreq = b.bandChi2(resid, b.cfg.LowFreqCutoff)
	res.Residual = b.tr.InverseReal(nil, resid)

	res.BackgroundSubtracted = slices.Clone(trace)
	for j := range b.nBkg {
		a := res.Amplitudes[b.nSig+j]
		if a == 0 {
			continue
		}
		for i, v := range b.templates[b.nSig+j] {
			res.BackgroundSubtracted[i] -= a * v
		}
	}
	return res, nil
}

// project transforms the trace and computes its projections onto every template.
func (b *FilterBank) project(trace []float64) *bankTrace {
	df := b.tr.DF()
	bt := &bankTrace{
		v:       b.tr.Forward(nil, trace),
		sigProj: make([][]float64, b.nSig),
		bkgProj: make([]float64, b.nBkg),
	}
	bt.chi0 = b.ops.WeightedPower(bt.v, b.noise.Weights()) * df

	prod := make([]complex128, b.tr.Len())
	for i := range b.nSig {
		b.ops.CMul(prod, b.filters[i], bt.v)
		bt.sigProj[i] = b.tr.InverseReal(nil, prod)
	}
	for j := range b.nBkg {
		b.ops.CMul(prod, b.filters[b.nSig+j], bt.v)
		var sum float64
		for _, c := range prod {
			sum += real(c)
		}
		bt.bkgProj[j] = sum * df
	}
	return bt
}

// projectionsAt fills dst with the projection vector p(t).
func (b *FilterBank) projectionsAt(dst []float64, bt *bankTrace, t int) {
	for i := range b.nSig {
		dst[i] = bt.sigProj[i][t]
	}
	copy(dst[b.nSig:], bt.bkgProj)
}

// constrainedAt enforces the sign constraints at delay t. Components with the
// wrong sign are excluded and the remaining system is re-solved on the
// matching sub-matrix of W(t); exclusions accumulate across iterations. The
// returned flag reports that violations remained when the cap was reached.
func (b *FilterBank) constrainedAt(t int, proj, ampsU []float64, chiU, chi0 float64) ([]float64, BitMask, float64, bool) {
	amps := slices.Clone(ampsU)
	mask := NewBitMask(len(amps))
	chi := chiU
	if !b.violates(amps, mask) {
		return amps, mask, chi, false
	}

	var wt *mat.SymDense
	for solves := 0; ; solves++ {
		if solves == b.cfg.MaxMaskedSolves {
			return amps, mask, chi, true
		}
		b.markViolations(mask, amps)

		active := mask.Active()
		if len(active) == 0 {
			clear(amps)
			return amps, mask, chi0, false
		}
		if wt == nil {
			wt = b.weightAt(t)
		}
		pAct := gather(proj, active)
		aAct := linalg.MulVec(nil, b.solver.Inverse(linalg.Select(wt, active)), pAct)
		scatter(amps, active, aAct)
		chi = chi0 - b.ops.Dot(aAct, pAct)

		if !b.violates(amps, mask) {
			return amps, mask, chi, false
		}
	}
}

// violates reports whether any active component has the wrong sign.
func (b *FilterBank) violates(amps []float64, mask BitMask) bool {
	for i, a := range amps {
		if !mask[i] && wrongSign(b.required[i], a) {
			return true
		}
	}
	return false
}

func (b *FilterBank) markViolations(mask BitMask, amps []float64) {
	for i, a := range amps {
		if wrongSign(b.required[i], a) {
			mask[i] = true
		}
	}
}

func wrongSign(p Polarity, a float64) bool {
	switch p {
	case PolarityPositive:
		return a < 0
	case PolarityNegative:
		return a > 0
	default:
		return false
	}
}

// fitBackgroundOnly fills the background-only results. The constrained
// variant excludes the backgrounds whose unconstrained background-only
// amplitude has the wrong sign.
func (b *FilterBank) fitBackgroundOnly(res *BankResult, bt *bankTrace) {
	if b.nBkg == 0 {
		res.BackgroundChi2 = bt.chi0
		res.ConstrainedBackgroundChi2 = bt.chi0
		res.ConstrainedBackgroundChi2LowFreq = b.bandChi2(bt.v, b.cfg.LowFreqCutoff)
		return
	}

	nComp := b.nSig + b.nBkg
	full := make([]float64, nComp)

	bOnly := linalg.MulVec(nil, b.bbInv, bt.bkgProj)
	res.BackgroundAmplitudes = bOnly
	copy(full[b.nSig:], bOnly)
	res.BackgroundChi2 = b.bandChi2(b.residualSpectrum(bt.v, full, 0), -1)

	mask := NewBitMask(b.nBkg)
	for j, a := range bOnly {
		mask[j] = wrongSign(b.required[b.nSig+j], a)
	}
	con := make([]float64, b.nBkg)
	if active := mask.Active(); len(active) > 0 {
		idx := make([]int, len(active))
		for k, j := range active {
			idx[k] = b.nSig + j
		}
		inv := b.solver.Inverse(linalg.Select(b.wsum, idx))
		scatter(con, active, linalg.MulVec(nil, inv, gather(bt.bkgProj, active)))
	}

	clear(full)
	copy(full[b.nSig:], con)
	resid := b.residualSpectrum(bt.v, full, 0)

	res.ConstrainedBackgroundAmplitudes = con
	res.ConstrainedBackgroundExcluded = mask
	res.ConstrainedBackgroundChi2 = b.bandChi2(resid, -1)
	res.ConstrainedBackgroundChi2LowFreq = b.bandChi2(resid, b.cfg.LowFreqCutoff)
}

// residualSpectrum returns V minus the model with the given amplitudes and
// the signals delayed by t bins.
func (b *FilterBank) residualSpectrum(v []complex128, amps []float64, t int) []complex128 {
	r := slices.Clone(v)
	freqs := b.tr.Freqs()
	delay := float64(t) / b.tr.SampleRate()
	for i := range b.nSig {
		a := amps[i]
		if a == 0 {
			continue
		}
		for k, s := range b.spectra[i] {
			r[k] -= complex(a, 0) * s * spectral.Phasor(freqs[k], delay)
		}
	}
	for j := range b.nBkg {
		a := amps[b.nSig+j]
		if a == 0 {
			continue
		}
		for k, s := range b.spectra[b.nSig+j] {
			r[k] -= complex(a, 0) * s
		}
	}
	return r
}

// bandChi2 returns df·Σ|r|²/PSD over |f| <= cutoff, or over every bin when
// cutoff is negative.
func (b *FilterBank) bandChi2(r []complex128, cutoff float64) float64 {
	w := b.noise.Weights()
	if cutoff < 0 {
		return b.ops.WeightedPower(r, w) * b.tr.DF()
	}
	var sum float64
	for k, f := range b.tr.Freqs() {
		if math.Abs(f) > cutoff || w[k] == 0 {
			continue
		}
		sum += (real(r[k])*real(r[k]) + imag(r[k])*imag(r[k])) * w[k]
	}
	return sum * b.tr.DF()
}

// delaySeconds converts a delay bin into seconds, mapping bins past the
// midpoint to negative delays.
func (b *FilterBank) delaySeconds(t int) float64 {
	n := b.tr.Len()
	if t > n/halfDivisor {
		t -= n
	}
	return float64(t) / b.tr.SampleRate()
}

// normalizeWindow maps window bins into [0, n), dropping repeats while
// keeping first-seen order. A nil window selects every bin.
func normalizeWindow(window []int, n int) ([]int, error) {
	if window == nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: empty delay window", ErrInvalidWindow)
	}

	seen := make(map[int]bool, len(window))
	out := make([]int, 0, len(window))
	for _, idx := range window {
		idx %= n
		if idx < 0 {
			idx += n
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

// argminFirst returns the index of the first minimum of x.
func argminFirst(x []float64) int {
	best := 0
	for i, v := range x {
		if v < x[best] {
			best = i
		}
	}
	return best
}

func countTrue(flags []bool) int {
	var count int
	for _, f := range flags {
		if f {
			count++
		}
	}
	return count
}
