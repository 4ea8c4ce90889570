package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	optimumfilter "github.com/tphakala/go-optimum-filter"
)

const (
	// Sample format constants
	bitsPerSample16 = 16
	bitsPerSample24 = 24
	bitsPerSample32 = 32

	// Conversion constants
	maxInt16 = 32767.0
	maxInt24 = 8388607.0
	maxInt32 = 2147483647.0

	monoChannels = 1
	pcmFormat    = 1
)

// wavTrace holds one channel of a WAV file scaled to [-1, 1].
type wavTrace struct {
	samples  []float64
	rate     int
	bitDepth int
	channels int
}

// readTrace reads channel of the WAV file at path.
func readTrace(path string, channel int) (*wavTrace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	channels := buf.Format.NumChannels
	if channel < 0 || channel >= channels {
		return nil, fmt.Errorf("channel %d out of range for %d-channel file %s", channel, channels, path)
	}
	bitDepth := int(decoder.BitDepth)
	invMaxVal := 1 / getMaxValue(bitDepth)

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := range frames {
		samples[i] = float64(buf.Data[i*channels+channel]) * invMaxVal
	}
	return &wavTrace{
		samples:  samples,
		rate:     buf.Format.SampleRate,
		bitDepth: bitDepth,
		channels: channels,
	}, nil
}

// writeTrace writes samples in [-1, 1] as a mono PCM WAV file. Values
// outside that range are clipped.
func writeTrace(path string, samples []float64, rate, bitDepth int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	maxVal := getMaxValue(bitDepth)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(math.Round(math.Max(-1, math.Min(1, v)) * maxVal))
	}

	encoder := wav.NewEncoder(f, rate, bitDepth, monoChannels, pcmFormat)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: monoChannels, SampleRate: rate},
		SourceBitDepth: bitDepth,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}

// readPSD parses whitespace-separated PSD values, skipping blank lines and
// lines starting with #.
func readPSD(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PSD file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var psd []float64
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, field := range strings.Fields(text) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("PSD line %d: %w", line, err)
			}
			psd = append(psd, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read PSD file: %w", err)
	}
	if len(psd) == 0 {
		return nil, fmt.Errorf("PSD file %s holds no values", path)
	}
	return psd, nil
}

// splitTraces cuts data into consecutive traces of n samples. Trailing
// samples that do not fill a trace are dropped and counted.
func splitTraces(data []float64, n int) (traces [][]float64, dropped int) {
	if n <= 0 {
		return nil, len(data)
	}
	for start := 0; start+n <= len(data); start += n {
		traces = append(traces, data[start:start+n])
	}
	return traces, len(data) % n
}

func parsePolarity(s string) (optimumfilter.Polarity, error) {
	switch strings.ToLower(s) {
	case "any", "":
		return optimumfilter.PolarityAny, nil
	case "positive", "+":
		return optimumfilter.PolarityPositive, nil
	case "negative", "-":
		return optimumfilter.PolarityNegative, nil
	default:
		return 0, fmt.Errorf("unknown polarity %q", s)
	}
}

func parseCoupling(s string) (optimumfilter.Coupling, error) {
	switch strings.ToLower(s) {
	case "ac", "":
		return optimumfilter.CouplingAC, nil
	case "dc":
		return optimumfilter.CouplingDC, nil
	case "flatdc":
		return optimumfilter.CouplingFlatDC, nil
	default:
		return 0, fmt.Errorf("unknown coupling %q", s)
	}
}

func getMaxValue(bitDepth int) float64 {
	switch bitDepth {
	case bitsPerSample16:
		return maxInt16
	case bitsPerSample24:
		return maxInt24
	case bitsPerSample32:
		return maxInt32
	default:
		return maxInt16
	}
}
