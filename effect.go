package delayline

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/go-audio/audio"

	"github.com/tphakala/go-delayline/internal/engine"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// Effect is a multi-channel fractional delay line with distance-driven
// Doppler, feedback and wet/dry mixing.
//
// Parameters may be changed from any goroutine. Process, ProcessFloat32Buffer,
// Reset, TimeSkip and Terminate must be called from one goroutine at a time.
type Effect struct {
	config  Config
	params  *Parameters
	static  StaticParams
	eng     *engine.Engine[float32]
	logger  *slog.Logger
	planar  [][]float32 // interleaved buffer scratch, MaxFrames per channel
	running bool
}

// New creates an effect and allocates every buffer it will use.
// The static parameters (interpolation, oversampling, upsampling) are read
// from config.Params once, here.
func New(config *Config) (*Effect, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := *config
	if cfg.MaxFrames == 0 {
		cfg.MaxFrames = defaultMaxFrames
	}
	if cfg.Params == nil {
		cfg.Params = NewParameters()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	static := cfg.Params.Static()
	snap := cfg.Params.Snapshot()

	eng, err := engine.New(engine.Config[float32]{
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		MaxFrames:        cfg.MaxFrames,
		Interpolation:    static.Interpolation,
		OversampleFactor: static.OversampleFactor,
		Upsample:         static.Upsampling,
		InitialDelay:     max(snap.DelayTime, 0),
		Allocator:        cfg.Allocator,
		Observer:         cfg.DopplerObserver,
		EnableParallel:   cfg.EnableParallel,
	})
	if err != nil {
		cfg.Logger.Warn("delay line init failed",
			"channels", cfg.Channels,
			"sample_rate", cfg.SampleRate,
			"error", err)
		return nil, fmt.Errorf("failed to create delay engine: %w", err)
	}

	planar := make([][]float32, cfg.Channels)
	for c := range planar {
		planar[c] = make([]float32, cfg.MaxFrames)
	}

	e := &Effect{
		config:  cfg,
		params:  cfg.Params,
		static:  static,
		eng:     eng,
		logger:  cfg.Logger,
		planar:  planar,
		running: true,
	}

	info := eng.Info()
	e.logger.Info("delay line initialised",
		"channels", cfg.Channels,
		"sample_rate", cfg.SampleRate,
		"max_frames", cfg.MaxFrames,
		"interpolation", info.Interpolation.String(),
		"oversampling", info.OversampleFactor,
		"upsampling", info.Upsample.String(),
		"parallel", cfg.EnableParallel,
		"memory_bytes", info.MemoryBytes)

	return e, nil
}

// Params returns the parameters the effect reads each block.
func (e *Effect) Params() *Parameters {
	return e.params
}

// Static returns the interpolation, oversampling and upsampling settings
// latched when the effect was created. Later parameter changes to them take
// effect only in a new Effect.
func (e *Effect) Static() StaticParams {
	return e.static
}

// Process delays block in place. block holds one slice per channel, each at
// least frames long, and frames must not exceed Config.MaxFrames. The
// real-time parameters are sampled once for the whole block.
func (e *Effect) Process(block [][]float32, frames int) error {
	if !e.running {
		return ErrNotInitialized
	}
	return e.eng.Process(block, frames, e.params.Snapshot())
}

// ProcessFloat32Buffer delays an interleaved go-audio buffer in place.
// Buffers longer than MaxFrames are processed in MaxFrames chunks, each with
// its own parameter snapshot.
func (e *Effect) ProcessFloat32Buffer(buf *audio.Float32Buffer) error {
	if !e.running {
		return ErrNotInitialized
	}
	if buf == nil {
		return nil
	}
	if buf.Format != nil {
		if buf.Format.NumChannels != e.config.Channels {
			return fmt.Errorf("%w: buffer has %d channels, effect has %d",
				ErrChannelMismatch, buf.Format.NumChannels, e.config.Channels)
		}
		if buf.Format.SampleRate != 0 && float64(buf.Format.SampleRate) != e.config.SampleRate {
			return fmt.Errorf("%w: buffer sample rate %d, effect runs at %g",
				ErrInvalidConfig, buf.Format.SampleRate, e.config.SampleRate)
		}
	}

	channels := e.config.Channels
	if len(buf.Data)%channels != 0 {
		return fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames",
			ErrChannelMismatch, len(buf.Data), channels)
	}
	total := len(buf.Data) / channels
	for start := 0; start < total; start += e.config.MaxFrames {
		n := min(e.config.MaxFrames, total-start)
		chunk := buf.Data[start*channels : (start+n)*channels]

		for i := range n {
			for c := range channels {
				e.planar[c][i] = chunk[i*channels+c]
			}
		}

		if err := e.eng.Process(e.planar, n, e.params.Snapshot()); err != nil {
			return err
		}

		for i := range n {
			for c := range channels {
				chunk[i*channels+c] = e.planar[c][i]
			}
		}
	}

	return nil
}

// Reset silences the history and restarts the delay ramp at the current
// delay time parameter.
func (e *Effect) Reset() {
	if !e.running {
		return
	}
	e.eng.Reset(e.params.Snapshot().DelayTime)
	e.logger.Debug("delay line reset")
}

// TimeSkip advances the effect by frames without producing output.
// It reports NoMoreData once the effect is terminated.
func (e *Effect) TimeSkip(frames int) SkipResult {
	if !e.running {
		return NoMoreData
	}
	return e.eng.TimeSkip(frames)
}

// Terminate releases every buffer back to the allocator. It is safe to call
// more than once.
func (e *Effect) Terminate() {
	if !e.running {
		return
	}
	e.eng.Release()
	e.running = false
	e.logger.Info("delay line terminated")
}

// GetInfo returns information about the effect configuration.
func (e *Effect) GetInfo() Info {
	info := e.eng.Info()
	return Info{
		Channels:         e.config.Channels,
		SampleRate:       e.config.SampleRate,
		MaxFrames:        e.config.MaxFrames,
		Interpolation:    info.Interpolation,
		OversampleFactor: info.OversampleFactor,
		Upsampling:       info.Upsample,
		FilterLength:     info.FIRLength,
		MaxDelay:         info.MaxDelay,
		MemoryUsage:      info.MemoryBytes + e.scratchBytes(),
		SIMDType:         simdops.Info(),
	}
}

func (e *Effect) scratchBytes() int64 {
	return int64(len(e.planar)*e.config.MaxFrames) * simdops.BytesPer[float32]()
}

// DelaySamples converts a delay in seconds to samples at the effect's rate.
func (e *Effect) DelaySamples(seconds float64) float64 {
	return math.Min(max(seconds, 0), e.eng.MaxDelay()) * e.config.SampleRate
}
