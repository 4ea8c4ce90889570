// Command ofamp-wav fits pulse amplitudes in traces stored in WAV files.
//
// The input WAV is split into consecutive traces of the template's length.
// Each trace is fitted with the optimum filter, or with the filter bank and
// slope/DC backgrounds when -bank is set. One result line per trace is
// written to standard output.
//
// Usage:
//
//	ofamp-wav -template pulse.wav -psd noise.txt traces.wav
//	ofamp-wav -template pulse.wav -psd noise.txt -window 200 -polarity positive traces.wav
//	ofamp-wav -template pulse.wav -psd noise.txt -pileup traces.wav
//	ofamp-wav -template pulse.wav -psd noise.txt -bank -out cleaned.wav traces.wav
//
// The PSD file holds one two-sided PSD value per FFT bin in FFT order,
// whitespace separated; lines starting with # are ignored.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	optimumfilter "github.com/tphakala/go-optimum-filter"
	"github.com/tphakala/go-optimum-filter/internal/simdops"
)

const (
	minRequiredArgs = 1
	secondsToMicros = 1e6
)

var errUsage = errors.New("insufficient arguments")

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	templatePath := flag.String("template", "", "Template WAV file (required)")
	psdPath := flag.String("psd", "", "Noise PSD text file (required)")
	channel := flag.Int("channel", 0, "Channel to read from multichannel files")
	window := flag.Int("window", 0, "Delay search window in bins centered on the template position (0 searches every delay)")
	polarity := flag.String("polarity", "any", "Required pulse sign: any, positive, negative")
	coupling := flag.String("coupling", "ac", "Zero-frequency treatment: ac, dc, flatdc")
	pileup := flag.Bool("pileup", false, "Also fit a second pulse outside the search window")
	useBank := flag.Bool("bank", false, "Fit with the filter bank and slope/DC backgrounds")
	parallel := flag.Bool("parallel", true, "Spread filter bank delays over all CPUs")
	cutoff := flag.Float64("cutoff", optimumfilter.DefaultLowFreqCutoff, "Low-frequency chi² band edge in Hz")
	outPath := flag.String("out", "", "Write background-subtracted traces to this WAV file (requires -bank)")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("simd", simdops.Info()).Debug("vector kernels selected")

	args := flag.Args()
	if len(args) < minRequiredArgs || *templatePath == "" || *psdPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -template pulse.wav -psd noise.txt [options] traces.wav\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		return errUsage
	}
	if *outPath != "" && !*useBank {
		return errors.New("-out requires -bank")
	}

	pol, err := parsePolarity(*polarity)
	if err != nil {
		return err
	}
	coup, err := parseCoupling(*coupling)
	if err != nil {
		return err
	}

	input, err := readTrace(args[0], *channel)
	if err != nil {
		return err
	}
	template, err := readTrace(*templatePath, 0)
	if err != nil {
		return err
	}
	if template.rate != input.rate {
		return fmt.Errorf("template rate %d Hz differs from input rate %d Hz", template.rate, input.rate)
	}
	psd, err := readPSD(*psdPath)
	if err != nil {
		return err
	}

	traces, dropped := splitTraces(input.samples, len(template.samples))
	log.WithFields(log.Fields{
		"input":    filepath.Base(args[0]),
		"rate":     input.rate,
		"bits":     input.bitDepth,
		"channels": input.channels,
		"traces":   len(traces),
		"dropped":  dropped,
	}).Info("loaded traces")

	cfg := fitConfig{
		fs:       float64(input.rate),
		window:   *window,
		polarity: pol,
		coupling: coup,
		pileup:   *pileup,
		bank:     *useBank,
		parallel: *parallel,
		cutoff:   *cutoff,
	}

	start := time.Now()
	results, cleaned, err := fitTraces(cfg, traces, template.samples, psd)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"traces":  len(results),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("fit complete")

	printResults(os.Stdout, results, cfg)

	if *outPath != "" {
		var joined []float64
		for _, c := range cleaned {
			joined = append(joined, c...)
		}
		if err := writeTrace(*outPath, joined, input.rate, input.bitDepth); err != nil {
			return err
		}
		log.WithField("output", *outPath).Info("wrote background-subtracted traces")
	}
	return nil
}

// fitConfig holds the fit settings chosen on the command line.
type fitConfig struct {
	fs       float64
	window   int
	polarity optimumfilter.Polarity
	coupling optimumfilter.Coupling
	pileup   bool
	bank     bool
	parallel bool
	cutoff   float64
}

// search returns the delay search for the primary pulse.
func (c fitConfig) search() optimumfilter.Search {
	s := optimumfilter.Unconstrained()
	if c.window > 0 {
		s = optimumfilter.InsideWindow(c.window)
	}
	return s.WithPolarity(c.polarity)
}

// traceResult is one output row.
type traceResult struct {
	amplitude float64
	delay     float64
	chi2      float64
	chi2LF    float64

	// Second pulse, with -pileup.
	amplitude2 float64
	delay2     float64
	chi2Pileup float64
}

// fitTraces fits every trace and, for the filter bank, also returns each
// trace with its fitted backgrounds removed.
func fitTraces(cfg fitConfig, traces [][]float64, template, psd []float64) ([]traceResult, [][]float64, error) {
	if cfg.bank {
		return fitBank(cfg, traces, template, psd)
	}

	of, err := optimumfilter.NewOptimumFilter(template, psd, cfg.fs, &optimumfilter.FilterOptions{Coupling: cfg.coupling})
	if err != nil {
		return nil, nil, err
	}

	results := make([]traceResult, len(traces))
	for i, trace := range traces {
		if err := of.SetSignal(trace); err != nil {
			return nil, nil, fmt.Errorf("trace %d: %w", i, err)
		}
		res, err := of.AmplitudeWithDelay(cfg.search())
		if err != nil {
			return nil, nil, fmt.Errorf("trace %d: %w", i, err)
		}
		lf, err := of.Chi2LowFreq(res.Amplitude, res.Delay, cfg.cutoff)
		if err != nil {
			return nil, nil, fmt.Errorf("trace %d: %w", i, err)
		}
		results[i] = traceResult{amplitude: res.Amplitude, delay: res.Delay, chi2: res.Chi2, chi2LF: lf}

		if cfg.pileup {
			second := optimumfilter.Unconstrained()
			if cfg.window > 0 {
				second = optimumfilter.OutsideWindow(cfg.window)
			}
			p, err := of.PileupIterative(res.Amplitude, res.Delay, second.WithPolarity(cfg.polarity))
			if err != nil {
				return nil, nil, fmt.Errorf("trace %d: %w", i, err)
			}
			results[i].amplitude2 = p.Amplitude
			results[i].delay2 = p.Delay
			results[i].chi2Pileup = p.Chi2
		}
	}
	return results, nil, nil
}

func fitBank(cfg fitConfig, traces [][]float64, template, psd []float64) ([]traceResult, [][]float64, error) {
	bcfg := optimumfilter.DefaultFilterBankConfig(cfg.fs)
	bcfg.SignalPolarity = cfg.polarity
	bcfg.LowFreqCutoff = cfg.cutoff
	bcfg.EnableParallel = cfg.parallel

	bkg := optimumfilter.SlopeDCTemplates(len(template))
	bank, err := optimumfilter.NewFilterBank([][]float64{template}, bkg.Templates, psd, bcfg)
	if err != nil {
		return nil, nil, err
	}

	var window []int
	if cfg.window > 0 {
		for i := -cfg.window / 2; i < cfg.window/2+cfg.window%2; i++ {
			window = append(window, i)
		}
	}

	results := make([]traceResult, len(traces))
	cleaned := make([][]float64, len(traces))
	for i, trace := range traces {
		res, err := bank.Fit(trace, window)
		if err != nil {
			return nil, nil, fmt.Errorf("trace %d: %w", i, err)
		}
		results[i] = traceResult{
			amplitude: res.Amplitudes[0],
			delay:     res.Delay,
			chi2:      res.Chi2,
			chi2LF:    res.Chi2LowFreq,
		}
		cleaned[i] = res.BackgroundSubtracted
	}
	return results, cleaned, nil
}

func printResults(w io.Writer, results []traceResult, cfg fitConfig) {
	if cfg.pileup && !cfg.bank {
		fmt.Fprintln(w, "trace\tamplitude\tdelay_us\tchi2\tchi2_lf\tamplitude2\tdelay2_us\tchi2_pileup")
	} else {
		fmt.Fprintln(w, "trace\tamplitude\tdelay_us\tchi2\tchi2_lf")
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%.6g\t%.3f\t%.6g\t%.6g", i, r.amplitude, r.delay*secondsToMicros, r.chi2, r.chi2LF)
		if cfg.pileup && !cfg.bank {
			fmt.Fprintf(w, "\t%.6g\t%.3f\t%.6g", r.amplitude2, r.delay2*secondsToMicros, r.chi2Pileup)
		}
		fmt.Fprintln(w)
	}
}
