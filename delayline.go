package delayline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tphakala/go-delayline/internal/engine"
)

// Interpolation selects the fractional-delay read kernel.
type Interpolation = engine.Interpolation

// Interpolation kernels.
const (
	InterpLinear             = engine.InterpLinear
	InterpPowerComplementary = engine.InterpPowerComplementary
	InterpLagrange4          = engine.InterpLagrange4
	InterpHybrid             = engine.InterpHybrid
)

// UpsampleMethod selects how blocks are expanded when oversampling.
type UpsampleMethod = engine.UpsampleMethod

// Upsampling methods.
const (
	UpsampleLinear    = engine.UpsampleLinear
	UpsampleSinc      = engine.UpsampleSinc
	UpsamplePolyphase = engine.UpsamplePolyphase
)

// ParseInterpolation returns the kernel named by s, case-insensitively.
// It accepts the String forms plus "powercomp" and "lagrange".
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "linear":
		return InterpLinear, nil
	case "power-complementary", "powercomp":
		return InterpPowerComplementary, nil
	case "lagrange4", "lagrange":
		return InterpLagrange4, nil
	case "hybrid":
		return InterpHybrid, nil
	default:
		return 0, fmt.Errorf("%w: unknown interpolation %q", ErrInvalidParameter, s)
	}
}

// ParseUpsampleMethod returns the upsampling method named by s,
// case-insensitively.
func ParseUpsampleMethod(s string) (UpsampleMethod, error) {
	for m := UpsampleLinear; m.Valid(); m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown upsampling method %q", ErrInvalidParameter, s)
}

// Snapshot holds the real-time values one block is processed with.
type Snapshot = engine.Snapshot

// SkipResult is returned by TimeSkip.
type SkipResult = engine.SkipResult

// TimeSkip results.
const (
	DataReady  = engine.DataReady
	NoMoreData = engine.NoMoreData
)

// DopplerObserver receives the per-block pitch ratio of each channel.
// It runs on the processing goroutine and must not block.
type DopplerObserver = engine.DopplerObserver

// Allocator supplies the effect's sample buffers.
type Allocator = engine.Allocator[float32]

// HeapAllocator is the default Allocator.
type HeapAllocator = engine.HeapAllocator[float32]

// BudgetAllocator caps the bytes an effect may allocate.
type BudgetAllocator = engine.BudgetAllocator[float32]

// NewBudgetAllocator returns an allocator that fails with ErrOutOfMemory once
// budget bytes are in use.
func NewBudgetAllocator(budget int64) *BudgetAllocator {
	return engine.NewBudgetAllocator[float32](budget)
}

// SpeedOfSound in m/s, used to turn distance into a round trip delay.
const SpeedOfSound = engine.SpeedOfSound

// Common errors returned by the delay line.
var (
	// ErrInvalidConfig indicates invalid configuration parameters.
	ErrInvalidConfig = errors.New("invalid delay line configuration")

	// ErrInvalidParameter indicates an unknown parameter ID or unusable value.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrParamsBlockSize indicates a parameter block of the wrong size.
	ErrParamsBlockSize = errors.New("parameter block size mismatch")

	// ErrNotInitialized indicates use of a terminated effect.
	ErrNotInitialized = errors.New("effect not initialized")

	// ErrOutOfMemory indicates that the allocator refused a buffer.
	ErrOutOfMemory = engine.ErrOutOfMemory

	// ErrBlockTooLarge indicates a block longer than Config.MaxFrames or a
	// channel slice shorter than the block.
	ErrBlockTooLarge = engine.ErrBlockTooLarge

	// ErrChannelMismatch indicates a block with the wrong number of channels.
	ErrChannelMismatch = engine.ErrChannelMismatch
)

// Config holds the effect configuration.
type Config struct {
	// SampleRate of the audio in Hz.
	SampleRate float64

	// Channels is the number of audio channels, fixed for the effect's lifetime.
	Channels int

	// MaxFrames is the largest block Process accepts. 0 selects 1024.
	// Oversampling scratch is sized from it, so keep it close to the host
	// block size.
	MaxFrames int

	// Params holds the parameter values. The interpolation, oversampling
	// and upsampling settings are read once in New. Nil uses defaults.
	Params *Parameters

	// Allocator supplies every sample buffer. Nil allocates from the heap.
	Allocator Allocator

	// Logger receives lifecycle events. Nil uses slog.Default().
	Logger *slog.Logger

	// DopplerObserver, when set, is called once per channel per block.
	DopplerObserver DopplerObserver

	// EnableParallel enables parallel channel processing.
	// When true, the channels of each block are processed concurrently.
	// This can speed up many-channel effects at large block sizes, at the
	// cost of goroutine startup and allocation in every Process call.
	EnableParallel bool
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}

	if c.Channels < 1 {
		return fmt.Errorf("%w: channels must be at least 1", ErrInvalidConfig)
	}

	if c.Channels > maxChannels {
		return fmt.Errorf("%w: too many channels (max %d)", ErrInvalidConfig, maxChannels)
	}

	if c.MaxFrames < 0 || c.MaxFrames > engine.MaxBlockFrames {
		return fmt.Errorf("%w: max frames must be 0-%d", ErrInvalidConfig, engine.MaxBlockFrames)
	}

	return nil
}

// Info describes a running effect.
type Info struct {
	// Channels and SampleRate as configured.
	Channels   int
	SampleRate float64

	// MaxFrames is the largest accepted block.
	MaxFrames int

	// Interpolation is the kernel in use. Hybrid is reported as linear
	// when oversampling is off.
	Interpolation Interpolation

	// OversampleFactor and Upsampling describe the oversampling path.
	OversampleFactor int
	Upsampling       UpsampleMethod

	// FilterLength is the polyphase FIR length, 0 when unused.
	FilterLength int

	// Latency in samples. All upsamplers are zero-phase, so this is 0.
	Latency int

	// MaxDelay is the longest delay the history can hold, in seconds.
	MaxDelay float64

	// MemoryUsage is the memory held in sample buffers and tables, in bytes.
	MemoryUsage int64

	// SIMDType describes the SIMD instruction set in use.
	SIMDType string
}
