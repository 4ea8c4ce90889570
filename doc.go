// Package optimumfilter estimates the amplitude, arrival time and goodness of
// fit of known pulse shapes in noisy, evenly sampled traces.
//
// The core is the optimum filter: a frequency-domain matched filter that
// weights each frequency by the inverse noise power. Around it the package
// provides two-pulse (pileup) decomposition, a simultaneous fit of several
// signal and background templates with sign constraints, and nonlinear
// multi-exponential pulse fits.
//
// # Features
//
//   - Single-template fits with and without a delay search, windowed and
//     polarity-constrained
//   - Iterative and closed-form pileup fits, floating-baseline fits
//   - nS+mB filter bank: n time-shiftable signals plus m fixed backgrounds,
//     with per-delay pseudo-inverse weighting matrices and sign-constrained
//     refitting
//   - One- to four-pole nonlinear pulse fits and a muon-tail fit
//   - Energy and time resolution estimates, full-band and low-frequency chi²
//   - FFTs from gonum, vector kernels from github.com/tphakala/simd
//
// # Conventions
//
// The noise PSD is two-sided, in units of signal² per Hz, with one value per
// FFT bin in fftfreq order. Spectra are normalized by nbins·df so that the
// chi² of a residual r is df·Σ|R_f|²/PSD_f. Delays are in seconds relative
// to the template position; delay searches center zero delay at bin nbins/2.
// AC coupling (the default) excludes DC by setting the working PSD bin 0 to
// infinity; the caller's PSD is never modified.
//
// # Quick Start
//
// For a one-shot fit:
//
//	res, err := optimumfilter.FitAmplitude(trace, template, psd, 625e3, nil,
//	    optimumfilter.InsideWindow(100))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Amplitude, res.Delay, res.Chi2)
//
// For many traces with one template, build the filter once:
//
//	of, err := optimumfilter.NewOptimumFilter(template, psd, 625e3, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, trace := range traces {
//	    if err := of.SetSignal(trace); err != nil {
//	        log.Fatal(err)
//	    }
//	    res, _ := of.AmplitudeWithDelay(optimumfilter.Unconstrained())
//	    _ = res
//	}
//
// # Filter bank
//
// The filter bank precomputes and inverts the weighting matrix for every
// candidate delay once, so a single FilterBank serves any number of traces
// and may be shared between goroutines:
//
//	bkg := optimumfilter.SlopeDCTemplates(len(template))
//	cfg := optimumfilter.DefaultFilterBankConfig(625e3)
//	bank, err := optimumfilter.NewFilterBank([][]float64{template}, bkg.Templates, psd, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := bank.Fit(trace, nil)
//
// Background amplitudes with the wrong sign are excluded and the remaining
// system is re-solved, up to FilterBankConfig.MaxMaskedSolves times per
// delay. The trailing FreeBackgrounds templates (slope and DC by convention)
// are never constrained.
//
// # Errors
//
// Validation failures are reported with sentinel errors such as
// ErrLengthMismatch and ErrInvalidWindow, wrapped with context; use
// errors.Is. A delay search whose window and polarity admit no candidate is
// not an error: it returns the no-pulse result with zero amplitude, zero
// delay and the no-pulse chi².
package optimumfilter
