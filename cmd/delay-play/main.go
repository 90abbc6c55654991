// Command delay-play loops a WAV file through the delay line to the default
// audio device, optionally serving live parameter control over WebSocket.
//
// Usage:
//
//	delay-play -distance 20 loop.wav
//	delay-play -port 8080 -oversample 4 -interp hybrid loop.wav
//
// With -port set, parameters can be changed while playing:
//
//	{"type":"set_param","payload":{"name":"distance","value":2}}
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/tphakala/go-delayline"
	"github.com/tphakala/go-delayline/internal/control"
)

const defaultBlock = 512

var errUsage = errors.New("usage")

type options struct {
	delay      float64
	mix        float64
	feedback   float64
	distance   float64
	interp     string
	oversample int
	upsample   string
	block      int
	latency    time.Duration
	port       int
	duration   time.Duration
	parallel   bool
	verbose    bool

	input string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			slog.Error("delay-play failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	params, err := buildParams(opts)
	if err != nil {
		return err
	}
	c, err := loadWAV(opts.input)
	if err != nil {
		return err
	}

	fx, err := delayline.New(&delayline.Config{
		SampleRate:     float64(c.sampleRate),
		Channels:       c.channels,
		MaxFrames:      opts.block,
		Params:         params,
		Logger:         logger,
		EnableParallel: opts.parallel,
	})
	if err != nil {
		return err
	}
	defer fx.Terminate()

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   c.sampleRate,
		ChannelCount: c.channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   opts.latency,
	})
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	serverErr := make(chan error, 1)
	if opts.port > 0 {
		srv := control.NewServer(params, logger)
		go func() {
			serverErr <- srv.ListenAndServe(ctx, fmt.Sprintf(":%d", opts.port))
		}()
	}

	player := otoCtx.NewPlayer(newLoopReader(c, fx, opts.block))
	defer player.Close()
	player.Play()

	info := fx.GetInfo()
	logger.Info("playing",
		"file", opts.input,
		"frames", c.frames(),
		"sample_rate", c.sampleRate,
		"channels", c.channels,
		"interpolation", info.Interpolation,
		"oversampling", info.OversampleFactor,
		"max_delay", info.MaxDelay)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
		<-ctx.Done()
	}

	if err := player.Err(); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("delay-play", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.Float64Var(&opts.delay, "delay", delayline.DefaultDelayTime, "Delay time in seconds (used when -distance is 0)")
	fs.Float64Var(&opts.mix, "mix", delayline.DefaultWetDryMix, "Wet/dry mix, 0 dry to 1 wet")
	fs.Float64Var(&opts.feedback, "feedback", delayline.DefaultFeedback, "Feedback gain")
	fs.Float64Var(&opts.distance, "distance", delayline.DefaultDistance, "Source distance in metres, 0 uses -delay")
	fs.StringVar(&opts.interp, "interp", "linear", "Interpolation: linear, powercomp, lagrange, hybrid")
	fs.IntVar(&opts.oversample, "oversample", 1, "Oversampling factor: 1, 2, 4, 8, 16")
	fs.StringVar(&opts.upsample, "upsample", "polyphase", "Upsampling method: linear, sinc, polyphase")
	fs.IntVar(&opts.block, "block", defaultBlock, "Processing block size in frames")
	fs.DurationVar(&opts.latency, "latency", 50*time.Millisecond, "Audio device buffer length")
	fs.IntVar(&opts.port, "port", 0, "Serve WebSocket parameter control on this port (0 disables)")
	fs.DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 plays until interrupted)")
	fs.BoolVar(&opts.parallel, "parallel", false, "Process channels concurrently")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: delay-play [options] input.wav\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return nil, fmt.Errorf("%w: need an input path", errUsage)
	}
	opts.input = fs.Arg(0)

	switch {
	case opts.block < 1 || opts.block > 65535:
		return nil, fmt.Errorf("block size must be 1-65535, got %d", opts.block)
	case opts.port < 0 || opts.port > 65535:
		return nil, fmt.Errorf("port must be 0-65535, got %d", opts.port)
	case opts.duration < 0:
		return nil, fmt.Errorf("duration must be >= 0, got %s", opts.duration)
	}
	return opts, nil
}
