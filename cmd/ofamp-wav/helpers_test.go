package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	optimumfilter "github.com/tphakala/go-optimum-filter"
	"github.com/tphakala/go-optimum-filter/internal/testutil"
)

func TestReadTrace_FileNotFound(t *testing.T) {
	_, err := readTrace("/nonexistent/file.wav", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open input file")
}

func TestReadTrace_InvalidWAV(t *testing.T) {
	tmpDir := t.TempDir()
	invalidFile := filepath.Join(tmpDir, "invalid.wav")
	require.NoError(t, os.WriteFile(invalidFile, []byte("not a wav file"), 0o644))

	_, err := readTrace(invalidFile, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid WAV file")
}

func TestWriteReadTrace_RoundTrip(t *testing.T) {
	for _, bits := range []int{bitsPerSample16, bitsPerSample24} {
		path := filepath.Join(t.TempDir(), "trace.wav")
		samples := testutil.Combine(
			[][]float64{testutil.CenteredPulse(256, 48000), testutil.Constant(256, -0.2)},
			[]float64{0.5, 1},
		)
		require.NoError(t, writeTrace(path, samples, 48000, bits))

		got, err := readTrace(path, 0)
		require.NoError(t, err)
		assert.Equal(t, 48000, got.rate)
		assert.Equal(t, bits, got.bitDepth)
		assert.Equal(t, 1, got.channels)
		assert.InDeltaSlice(t, samples, got.samples, 1/getMaxValue(bits))

		_, err = readTrace(path, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	}
}

func TestWriteTrace_Clips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, writeTrace(path, []float64{2, -3, 0.5}, 8000, bitsPerSample16))

	got, err := readTrace(path, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, -1, 0.5}, got.samples, 1/maxInt16)
}

func TestReadPSD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "psd.txt")
	content := "# two-sided PSD\n1e-12 2e-12\n\n3.5e-12\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	psd, err := readPSD(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-12, 2e-12, 3.5e-12}, psd)
}

func TestReadPSD_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err := readPSD(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no values")

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("1\nabc\n"), 0o644))
	_, err = readPSD(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = readPSD(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestSplitTraces(t *testing.T) {
	traces, dropped := splitTraces([]float64{1, 2, 3, 4, 5, 6, 7}, 3)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, traces)
	assert.Equal(t, 1, dropped)

	traces, dropped = splitTraces([]float64{1, 2}, 3)
	assert.Empty(t, traces)
	assert.Equal(t, 2, dropped)
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		in   string
		want optimumfilter.Polarity
	}{
		{"any", optimumfilter.PolarityAny},
		{"Positive", optimumfilter.PolarityPositive},
		{"-", optimumfilter.PolarityNegative},
	}
	for _, tt := range tests {
		got, err := parsePolarity(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := parsePolarity("sideways")
	require.Error(t, err)

	c, err := parseCoupling("FlatDC")
	require.NoError(t, err)
	assert.Equal(t, optimumfilter.CouplingFlatDC, c)
	_, err = parseCoupling("rf")
	require.Error(t, err)
}

func TestFitTraces(t *testing.T) {
	const (
		n     = 512
		fs    = 100e3
		sigma = 1e-3
	)
	template := testutil.Pulse(n, fs, n/2, 50e-6, 500e-6)
	psd := testutil.WhitePSD(n, fs, sigma)
	traces := [][]float64{
		testutil.Combine([][]float64{testutil.Roll(template, 10), testutil.WhiteNoise(1, n, sigma)}, []float64{0.4, 1}),
		testutil.Combine([][]float64{testutil.Roll(template, -5), testutil.WhiteNoise(2, n, sigma), testutil.Constant(n, 1)}, []float64{0.2, 1, 0.05}),
	}

	cfg := fitConfig{fs: fs, window: 64, polarity: optimumfilter.PolarityPositive, cutoff: 10e3}

	results, cleaned, err := fitTraces(cfg, traces, template, psd)
	require.NoError(t, err)
	assert.Nil(t, cleaned)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.4, results[0].amplitude, 0.01)
	assert.InDelta(t, 10/fs, results[0].delay, 1e-12)
	assert.InDelta(t, 0.2, results[1].amplitude, 0.01)

	cfg.bank = true
	cfg.parallel = true
	results, cleaned, err = fitTraces(cfg, traces, template, psd)
	require.NoError(t, err)
	require.Len(t, cleaned, 2)
	assert.InDelta(t, -5/fs, results[1].delay, 1e-12)
	assert.InDelta(t, 0.2, results[1].amplitude, 0.01)

	// The fitted DC offset is removed from the second trace; the pulse stays.
	var mean, pulseMean float64
	for i, v := range cleaned[1] {
		mean += v / n
		pulseMean += 0.2 * template[i] / n
	}
	assert.InDelta(t, pulseMean, mean, 0.005)

	var out bytes.Buffer
	printResults(&out, results, cfg)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "trace\tamplitude"))
}

func TestFitTraces_Pileup(t *testing.T) {
	const (
		n  = 512
		fs = 100e3
	)
	template := testutil.Pulse(n, fs, n/2, 50e-6, 500e-6)
	trace := testutil.Combine([][]float64{template, testutil.Roll(template, 150)}, []float64{0.5, 0.25})

	cfg := fitConfig{fs: fs, window: 40, pileup: true, cutoff: 10e3}
	results, _, err := fitTraces(cfg, [][]float64{trace}, template, testutil.WhitePSD(n, fs, 1e-3))
	require.NoError(t, err)
	assert.InDelta(t, 150/fs, results[0].delay2, 1e-12)
	assert.Less(t, results[0].chi2Pileup, results[0].chi2)

	var out bytes.Buffer
	printResults(&out, results, cfg)
	assert.Contains(t, out.String(), "chi2_pileup")
}
