package optimumfilter

import "errors"

// Common errors returned by the optimum filter.
var (
	// ErrInvalidConfig indicates invalid configuration parameters.
	ErrInvalidConfig = errors.New("invalid optimum filter configuration")

	// ErrLengthMismatch indicates that a trace, template or PSD length
	// disagrees with the length the filter was built for.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrEmptyTrace indicates a zero-length trace or template.
	ErrEmptyTrace = errors.New("empty trace")

	// ErrInvalidSampleRate indicates a non-positive or non-finite sample rate.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")

	// ErrInvalidWindow indicates a non-positive search window.
	ErrInvalidWindow = errors.New("search window must be positive")

	// ErrInvalidPolarity indicates a polarity code outside {-1, 0, 1}.
	ErrInvalidPolarity = errors.New("polarity must be -1, 0 or 1")

	// ErrNoSignal indicates that a signal-dependent quantity was requested
	// before SetSignal.
	ErrNoSignal = errors.New("no signal set")

	// ErrInvalidPoles indicates an unsupported pulse-model pole count.
	ErrInvalidPoles = errors.New("pole count must be 1, 2, 3 or 4")

	// ErrInvalidGuess indicates an initial guess of the wrong length for the
	// selected pulse model.
	ErrInvalidGuess = errors.New("initial guess has wrong length")

	// ErrMissingRiseTime indicates a one-pole fit without a fixed rise time.
	ErrMissingRiseTime = errors.New("one-pole fit requires a rise time")
)
