package spectral

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFS        = 625e3
	testTolerance = 1e-9
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		fs      float64
		wantErr error
	}{
		{name: "valid", n: 16, fs: testFS},
		{name: "zero_length", n: 0, fs: testFS, wantErr: ErrInvalidLength},
		{name: "zero_rate", n: 16, fs: 0, wantErr: ErrInvalidSampleRate},
		{name: "nan_rate", n: 16, fs: math.NaN(), wantErr: ErrInvalidSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.n, tt.fs)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.n, tr.Len())
			assert.InDelta(t, tt.fs/float64(tt.n), tr.DF(), 1e-12)
		})
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	for _, n := range []int{7, 64, 100} {
		tr, err := New(n, testFS)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(int64(n)))
		x := make([]float64, n)
		for i := range x {
			x[i] = rng.NormFloat64()
		}

		back := tr.InverseReal(nil, tr.Forward(nil, x))
		assert.InDeltaSlice(t, x, back, testTolerance, "n=%d", n)
	}
}

func TestForwardScaling(t *testing.T) {
	// A constant trace of value c has a single DC coefficient c*n/fs = c/df.
	const n = 32
	tr, err := New(n, testFS)
	require.NoError(t, err)

	x := make([]float64, n)
	for i := range x {
		x[i] = 2.5
	}
	spec := tr.Forward(nil, x)

	assert.InDelta(t, 2.5/tr.DF(), real(spec[0]), 1e-12)
	for k := 1; k < n; k++ {
		assert.InDelta(t, 0, cmplx.Abs(spec[k]), 1e-12, "bin %d", k)
	}
}

func TestParsevalNoiseChi2(t *testing.T) {
	// White noise with variance σ² has a flat two-sided PSD of σ²/fs; the
	// weighted sum df*Σ|X|²/PSD then equals Σx²/σ².
	const (
		n     = 256
		sigma = 3e-3
	)
	tr, err := New(n, testFS)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	x := make([]float64, n)
	var sumSq float64
	for i := range x {
		x[i] = sigma * rng.NormFloat64()
		sumSq += x[i] * x[i]
	}

	psd := sigma * sigma / testFS
	spec := tr.Forward(nil, x)
	var chi2 float64
	for _, v := range spec {
		chi2 += tr.DF() * (real(v)*real(v) + imag(v)*imag(v)) / psd
	}

	assert.InDelta(t, sumSq/(sigma*sigma), chi2, 1e-6)
}

func TestFreqsOrdering(t *testing.T) {
	tests := []struct {
		n    int
		want []float64
	}{
		{n: 4, want: []float64{0, 1, -2, -1}},
		{n: 5, want: []float64{0, 1, 2, -2, -1}},
	}

	for _, tt := range tests {
		tr, err := New(tt.n, float64(tt.n))
		require.NoError(t, err)
		assert.Equal(t, tt.want, tr.Freqs(), "n=%d", tt.n)
	}
}

func TestShiftDelaysTimeSeries(t *testing.T) {
	const (
		n     = 64
		delay = 5
	)
	tr, err := New(n, testFS)
	require.NoError(t, err)

	x := make([]float64, n)
	x[3] = 1
	x[4] = 0.5

	shifted := tr.InverseReal(nil, tr.Shift(nil, tr.Forward(nil, x), delay/testFS))
	want := Roll(nil, x, delay)
	assert.InDeltaSlice(t, want, shifted, testTolerance)
}

func TestRoll(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	assert.Equal(t, []float64{3, 4, 0, 1, 2}, Roll(nil, x, 2))
	assert.Equal(t, []float64{2, 3, 4, 0, 1}, Roll(nil, x, -2))
	assert.Equal(t, x, Roll(nil, x, 5))
	assert.Empty(t, Roll(nil, nil, 3))
}

func BenchmarkForward4096(b *testing.B) {
	tr, err := New(4096, testFS)
	require.NoError(b, err)
	x := make([]float64, 4096)
	for i := range x {
		x[i] = math.Sin(float64(i) * 0.01)
	}
	dst := make([]complex128, len(x))

	b.ReportAllocs()
	for b.Loop() {
		tr.Forward(dst, x)
	}
}
