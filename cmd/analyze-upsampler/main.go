// Command analyze-upsampler prints the polyphase FIR design for an
// oversampling factor and compares image rejection of the three upsampling
// methods on a test tone.
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/tphakala/go-delayline/internal/analysis"
	"github.com/tphakala/go-delayline/internal/engine"
	"github.com/tphakala/go-delayline/internal/filter"
	"github.com/tphakala/go-delayline/internal/mathutil"
)

const (
	defaultRate    = 48000.0
	defaultLength  = 2048
	defaultToneBin = 427 // about 10 kHz at 48 kHz and 2048 samples

	maxPhasesToShow = 16

	// Band edges as fractions of the prototype cutoff.
	responsePoints = 1024
	passbandEdge   = 0.5
	stopbandEdge   = 2.0
)

type options struct {
	factor int
	rate   float64
	tone   float64
	length int
}

func main() {
	fs := flag.NewFlagSet("analyze-upsampler", flag.ExitOnError)
	opts := options{}
	fs.IntVar(&opts.factor, "factor", 4, "Oversampling factor: 2, 4, 8, 16")
	fs.Float64Var(&opts.rate, "rate", defaultRate, "Base sample rate in Hz")
	fs.Float64Var(&opts.tone, "tone", 0, "Test tone in Hz (0 picks a bin-centred tone near 10 kHz)")
	fs.IntVar(&opts.length, "n", defaultLength, "Test signal length in samples")
	_ = fs.Parse(os.Args[1:])

	if err := analyze(os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// analyze writes the filter and image rejection report for opts to w.
func analyze(w io.Writer, opts options) error {
	if opts.factor < 2 || opts.factor > 16 || !mathutil.IsPowerOfTwo(opts.factor) {
		return fmt.Errorf("factor must be 2, 4, 8 or 16, got %d", opts.factor)
	}
	if opts.length < 1 {
		return fmt.Errorf("signal length must be positive, got %d", opts.length)
	}
	if opts.tone == 0 {
		opts.tone = float64(defaultToneBin) * opts.rate / float64(defaultLength)
	}

	bank, err := filter.DesignPolyphaseBank(opts.factor)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "=== Polyphase upsampler x%d ===\n", opts.factor)
	fmt.Fprintf(w, "  FIR length:     %d\n", len(bank.Prototype))
	fmt.Fprintf(w, "  Taps per phase: %d\n", bank.TapsPerPhase)
	fmt.Fprintf(w, "  Window:         %d behind, %d ahead\n", bank.Lookbehind, bank.Lookahead)

	var dc float64
	for _, c := range bank.Prototype {
		dc += c
	}
	fmt.Fprintf(w, "  Prototype DC:   %.6f\n", dc)

	resp := filter.ComputeFrequencyResponse(bank.Prototype, responsePoints)
	cutoff := 0.5 / float64(opts.factor)
	ripple, atten := bandEdges(resp, passbandEdge*cutoff, stopbandEdge*cutoff)
	fmt.Fprintf(w, "  Passband ripple (< %.3f): %.4f dB\n", passbandEdge*cutoff, ripple)
	fmt.Fprintf(w, "  Stopband floor (> %.3f):  %.1f dB\n\n", stopbandEdge*cutoff, atten)

	fmt.Fprintln(w, "DC gain per phase:")
	for p := range min(bank.Factor, maxPhasesToShow) {
		fmt.Fprintf(w, "  phase %2d: %.6f\n", p, bank.PhaseGain(p))
	}

	fmt.Fprintf(w, "\n=== Image rejection, %.1f Hz tone at %.0f Hz ===\n", opts.tone, opts.rate)
	src := analysis.ToneSignal(opts.length, opts.tone, opts.rate)
	dst := make([]float64, len(src)*opts.factor)
	for m := engine.UpsampleLinear; m.Valid(); m++ {
		u, err := engine.NewUpsampler[float64](m, opts.factor)
		if err != nil {
			return err
		}
		u.Upsample(dst, src)

		report, err := analysis.ImageRejection(dst, opts.rate, opts.factor, opts.tone)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-10s %7.1f dB (worst image %.0f Hz)\n",
			m, report.RejectionDB, report.WorstImageHz)
	}
	return nil
}

// bandEdges returns the largest deviation from 0 dB below passEdge and the
// strongest response above stopEdge, both in dB. Edges are normalised
// frequencies in [0, 0.5).
func bandEdges(resp filter.FilterResponse, passEdge, stopEdge float64) (ripple, stopband float64) {
	stopband = math.Inf(-1)
	for i, f := range resp.Frequencies {
		db := filter.MagnitudeDB(resp.Magnitude[i])
		switch {
		case f < passEdge:
			ripple = max(ripple, math.Abs(db))
		case f > stopEdge:
			stopband = max(stopband, db)
		}
	}
	return ripple, stopband
}
