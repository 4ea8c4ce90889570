package optimumfilter

// BitMask marks fit components forced to zero: true means excluded.
//
// Only the masks actually reached by the sign-constraint iteration are ever
// built; the 2^(n+m) possible patterns are never enumerated.
type BitMask []bool

// NewBitMask returns a mask of n components with none excluded.
func NewBitMask(n int) BitMask {
	return make(BitMask, n)
}

// Active returns the indices of the components that are not excluded.
func (m BitMask) Active() []int {
	idx := make([]int, 0, len(m))
	for i, excluded := range m {
		if !excluded {
			idx = append(idx, i)
		}
	}
	return idx
}

// Excluded returns the number of excluded components.
func (m BitMask) Excluded() int {
	var count int
	for _, excluded := range m {
		if excluded {
			count++
		}
	}
	return count
}

// Clone returns an independent copy of m.
func (m BitMask) Clone() BitMask {
	return append(BitMask(nil), m...)
}

// scatter writes vals into dst at the positions listed in active and zeroes
// every other element.
func scatter(dst []float64, active []int, vals []float64) {
	clear(dst)
	for k, i := range active {
		dst[i] = vals[k]
	}
}

// gather returns src at the positions listed in active.
func gather(src []float64, active []int) []float64 {
	out := make([]float64, len(active))
	for k, i := range active {
		out[k] = src[i]
	}
	return out
}
