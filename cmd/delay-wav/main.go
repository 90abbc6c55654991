// Command delay-wav runs a WAV file through the delay line.
//
// Usage:
//
//	delay-wav -delay 0.25 -distance 0 -feedback 0.4 input.wav output.wav
//	delay-wav -distance 40 -distance-end 1 -oversample 4 input.wav flyby.wav
//	delay-wav -interp lagrange -tail 2 input.wav output.wav
//
// With -distance-end the source distance moves linearly from -distance to
// -distance-end across the file, which produces a Doppler pitch sweep.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/go-delayline"
)

const (
	minRequiredArgs = 2
	defaultBlock    = 512
)

var errUsage = errors.New("usage")

// options holds the parsed command line.
type options struct {
	delay       float64
	mix         float64
	feedback    float64
	distance    float64
	distanceEnd float64
	sweep       bool
	interp      string
	oversample  int
	upsample    string
	block       int
	tail        float64
	parallel    bool
	verbose     bool

	input  string
	output string
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			slog.Error("delay-wav failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	logger.Debug("options",
		"input", opts.input,
		"output", opts.output,
		"delay", opts.delay,
		"distance", opts.distance,
		"interp", opts.interp,
		"oversample", opts.oversample,
		"upsample", opts.upsample)

	start := time.Now()
	stats, err := processWAV(opts, logger)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("Delayed %s -> %s\n", filepath.Base(opts.input), filepath.Base(opts.output))
	fmt.Printf("  %d Hz, %d channels, %d-bit\n", stats.sampleRate, stats.channels, stats.bitDepth)
	fmt.Printf("  %d frames in, %d frames out\n", stats.inputFrames, stats.outputFrames)
	fmt.Printf("  %s, oversampling x%d (%s)\n", stats.info.Interpolation, stats.info.OversampleFactor, stats.info.Upsampling)
	fmt.Printf("  Duration: %.2fs, Speed: %.1fx realtime\n",
		elapsed.Seconds(),
		float64(stats.outputFrames)/float64(stats.sampleRate)/elapsed.Seconds())

	return nil
}

// parseFlags parses args. Usage problems return an error wrapping errUsage
// after printing help to stderr.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("delay-wav", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.Float64Var(&opts.delay, "delay", delayline.DefaultDelayTime, "Delay time in seconds (used when -distance is 0)")
	fs.Float64Var(&opts.mix, "mix", delayline.DefaultWetDryMix, "Wet/dry mix, 0 dry to 1 wet")
	fs.Float64Var(&opts.feedback, "feedback", delayline.DefaultFeedback, "Feedback gain")
	fs.Float64Var(&opts.distance, "distance", delayline.DefaultDistance, "Source distance in metres, 0 uses -delay")
	fs.Float64Var(&opts.distanceEnd, "distance-end", -1, "Distance at the end of the file; enables a sweep when >= 0")
	fs.StringVar(&opts.interp, "interp", "linear", "Interpolation: linear, powercomp, lagrange, hybrid")
	fs.IntVar(&opts.oversample, "oversample", 1, "Oversampling factor: 1, 2, 4, 8, 16")
	fs.StringVar(&opts.upsample, "upsample", "polyphase", "Upsampling method: linear, sinc, polyphase")
	fs.IntVar(&opts.block, "block", defaultBlock, "Processing block size in frames")
	fs.Float64Var(&opts.tail, "tail", 0, "Seconds of silence appended so echoes can ring out")
	fs.BoolVar(&opts.parallel, "parallel", false, "Process channels concurrently")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: delay-wav [options] input.wav output.wav\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() < minRequiredArgs {
		fs.Usage()
		return nil, fmt.Errorf("%w: need input and output paths", errUsage)
	}

	opts.input, opts.output = fs.Arg(0), fs.Arg(1)
	opts.sweep = opts.distanceEnd >= 0
	if opts.block < 1 || opts.block > 65535 {
		return nil, fmt.Errorf("block size must be 1-65535, got %d", opts.block)
	}
	if opts.tail < 0 {
		return nil, fmt.Errorf("tail must be >= 0, got %g", opts.tail)
	}
	return opts, nil
}
