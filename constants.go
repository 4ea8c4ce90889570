package optimumfilter

// Trace geometry
const (
	halfDivisor = 2 // Locates the trace midpoint (zero delay after centering)
)

// Filter bank defaults
const (
	defaultFreeBackgrounds = 2      // Trailing slope and DC backgrounds are never sign-constrained
	defaultMaxMaskedSolves = 2      // Masked re-solves per delay before accepting the result
	defaultLowFreqCutoff   = 10_000 // Hz, low-frequency chi² band edge
)

// Nonlinear pulse fit
const (
	dcPSDReplacement = 1e40 // Replaces PSD bin 0 so DC carries no weight in nonlinear fits

	guessPeakHalfWidth = 7      // Samples either side of the peak averaged for the amplitude guess
	guessDecayLevel    = 0.37   // Fraction of the peak that marks one fall time
	guessDecaySpan     = 300e-6 // Seconds after the peak searched for the fall time
	guessRiseTime      = 20e-6  // Seconds
	guessSecondFall    = 100e-6 // Seconds, three- and four-pole models
	guessThirdFall     = 300e-6
	guessFourthFall    = 500e-6
	guessExtraAmpShare = 3 // Extra pole amplitudes start at A/3

	ampBoundFactor    = 100 // Amplitudes may move two decades from the guess
	tauBoundFactor    = 10  // Time constants may move one decade from the guess
	delayBoundBins    = 30  // Start-time bound in samples either side of the guess
	muonBoundFactor   = 100
	multiFallPoles    = 3 // Pole count from which each fall time has its own amplitude
	onePoleParams     = 3
	twoPoleParams     = 4
	threePoleParams   = 6
	fourPoleParams    = 8
	complexComponents = 2 // Real and imaginary residual per frequency bin
)
