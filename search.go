package optimumfilter

import "fmt"

// Polarity constrains the sign of a fitted amplitude.
type Polarity int

const (
	// PolarityNegative admits only amplitudes < 0.
	PolarityNegative Polarity = -1

	// PolarityAny admits any amplitude.
	PolarityAny Polarity = 0

	// PolarityPositive admits only amplitudes > 0.
	PolarityPositive Polarity = 1
)

// Validate reports whether p is one of the three polarity codes.
func (p Polarity) Validate() error {
	if p < PolarityNegative || p > PolarityPositive {
		return fmt.Errorf("%w: got %d", ErrInvalidPolarity, int(p))
	}
	return nil
}

// Admits reports whether amp has the required sign. Zero is admitted only
// by PolarityAny.
func (p Polarity) Admits(amp float64) bool {
	switch p {
	case PolarityPositive:
		return amp > 0
	case PolarityNegative:
		return amp < 0
	default:
		return true
	}
}

// Search describes the candidate delays of a delay search.
//
// Delays are indexed after centering, so bin nbins/2 is zero delay. When
// Constrain is set, only a window of Window bins centered on zero delay is
// searched, or its complement when Outside is set. Windows wider than the
// trace are clamped to the trace length.
type Search struct {
	Constrain bool
	Window    int
	Outside   bool
	Polarity  Polarity
}

// Unconstrained searches every delay.
func Unconstrained() Search { return Search{} }

// InsideWindow searches the window bins centered on zero delay.
func InsideWindow(window int) Search {
	return Search{Constrain: true, Window: window}
}

// OutsideWindow searches every delay except the window bins centered on zero delay.
func OutsideWindow(window int) Search {
	return Search{Constrain: true, Window: window, Outside: true}
}

// WithPolarity returns a copy of s that also requires the given amplitude sign.
func (s Search) WithPolarity(p Polarity) Search {
	s.Polarity = p
	return s
}

func (s Search) validate() error {
	if s.Constrain && s.Window <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, s.Window)
	}
	return s.Polarity.Validate()
}

// bounds returns the half-open window [lo, hi) for a trace of n bins.
func (s Search) bounds(n int) (lo, hi int) {
	w := min(s.Window, n)
	mid := n / halfDivisor
	return mid - w/halfDivisor, mid + w/halfDivisor + w%halfDivisor
}

// argmin returns the index of the smallest chi2 among the candidates admitted
// by s, where amps supplies the amplitude tested against the polarity. Ties
// resolve to the lowest index. ok is false when no candidate remains.
func (s Search) argmin(chi2, amps []float64) (best int, ok bool) {
	n := len(chi2)
	lo, hi := 0, n
	if s.Constrain {
		lo, hi = s.bounds(n)
	}

	best = -1
	for i, c := range chi2 {
		if s.Constrain {
			inside := i >= lo && i < hi
			if inside == s.Outside {
				continue
			}
		}
		if amps != nil && !s.Polarity.Admits(amps[i]) {
			continue
		}
		if best < 0 || c < chi2[best] {
			best = i
		}
	}
	return best, best >= 0
}
