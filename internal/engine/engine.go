package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tphakala/go-delayline/internal/ring"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// Errors returned by the engine.
var (
	ErrInvalidConfig   = errors.New("invalid engine configuration")
	ErrBlockTooLarge   = errors.New("block too large")
	ErrChannelMismatch = errors.New("channel count mismatch")
	ErrReleased        = errors.New("engine released")
)

// Config describes an engine. Everything here is fixed for the engine's
// lifetime; real-time values arrive per block in a Snapshot.
type Config[F simdops.Float] struct {
	SampleRate       float64
	Channels         int
	MaxFrames        int // largest block Process accepts
	Interpolation    Interpolation
	OversampleFactor int // 1, 2, 4, 8 or 16
	Upsample         UpsampleMethod
	InitialDelay     float64 // seconds, the ramp start of the first block

	// Allocator supplies every sample buffer. Nil means HeapAllocator.
	Allocator Allocator[F]

	// Observer, when set, receives the Doppler ratio of every channel and block.
	Observer DopplerObserver

	// EnableParallel processes the channels of a block on separate
	// goroutines. Output is identical to sequential processing, but the
	// observer may then be called concurrently and each block allocates.
	EnableParallel bool
}

// Validate checks the configuration.
func (c *Config[F]) Validate() error {
	if c.SampleRate <= 0 || math.IsInf(c.SampleRate, 0) || math.IsNaN(c.SampleRate) {
		return fmt.Errorf("%w: sample rate must be positive: %v", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels < 1 {
		return fmt.Errorf("%w: channel count must be >= 1: %d", ErrInvalidConfig, c.Channels)
	}
	if c.MaxFrames < 1 || c.MaxFrames > MaxBlockFrames {
		return fmt.Errorf("%w: max frames must be in [1, %d]: %d", ErrInvalidConfig, MaxBlockFrames, c.MaxFrames)
	}
	if !validFactor(c.OversampleFactor) {
		return fmt.Errorf("%w: unsupported oversampling factor %d", ErrInvalidConfig, c.OversampleFactor)
	}
	if !c.Interpolation.Valid() {
		return fmt.Errorf("%w: unknown interpolation %d", ErrInvalidConfig, c.Interpolation)
	}
	if !c.Upsample.Valid() {
		return fmt.Errorf("%w: unknown upsampling method %d", ErrInvalidConfig, c.Upsample)
	}
	if c.InitialDelay < 0 || math.IsInf(c.InitialDelay, 0) || math.IsNaN(c.InitialDelay) {
		return fmt.Errorf("%w: initial delay must be finite and >= 0: %v", ErrInvalidConfig, c.InitialDelay)
	}
	return nil
}

// Engine is a multi-channel fractional delay line.
//
// Process, Reset, TimeSkip and Release must not be called concurrently.
// Channels are independent of one another and processed in order.
type Engine[F simdops.Float] struct {
	sampleRate float64
	maxFrames  int
	maxDelay   float64
	factor     int
	interp     Interpolation // effective kernel; hybrid becomes linear at factor 1

	channels  []*Channel[F]
	up        Upsampler[F]
	powerComp *PowerCompTable[F]

	alloc    Allocator[F]
	observer DopplerObserver
	parallel bool
	released bool
}

// New creates an engine and allocates all of its buffers. If any allocation
// fails, everything obtained so far is freed and the error wraps
// ErrOutOfMemory.
func New[F simdops.Float](cfg Config[F]) (*Engine[F], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	alloc := cfg.Allocator
	if alloc == nil {
		alloc = HeapAllocator[F]{}
	}

	interp := cfg.Interpolation
	if interp == InterpHybrid && cfg.OversampleFactor <= 1 {
		interp = InterpLinear
	}

	up, err := NewUpsampler[F](cfg.Upsample, cfg.OversampleFactor)
	if err != nil {
		return nil, fmt.Errorf("failed to create upsampler: %w", err)
	}

	e := &Engine[F]{
		sampleRate: cfg.SampleRate,
		maxFrames:  cfg.MaxFrames,
		maxDelay:   float64(HistoryLen-delayHeadroom) / cfg.SampleRate,
		factor:     cfg.OversampleFactor,
		interp:     interp,
		up:         up,
		powerComp:  NewPowerCompTable[F](),
		alloc:      alloc,
		observer:   cfg.Observer,
		parallel:   cfg.EnableParallel,
		channels:   make([]*Channel[F], 0, cfg.Channels),
	}

	initial := e.clampDelay(cfg.InitialDelay, 0)
	for i := range cfg.Channels {
		ch, err := newChannel(alloc, e.factor, e.maxFrames, initial)
		if err != nil {
			e.Release()
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		e.channels = append(e.channels, ch)
	}

	return e, nil
}

// Process delays each channel of block in place. block must hold one slice
// per channel, each at least frames long.
//
// The delay ramps linearly from where the previous block ended to
// snap.TargetDelay() over the block, which is what produces the Doppler
// shift when distance moves.
func (e *Engine[F]) Process(block [][]F, frames int, snap Snapshot) error {
	if e.released {
		return ErrReleased
	}
	if len(block) != len(e.channels) {
		return fmt.Errorf("%w: got %d, engine has %d", ErrChannelMismatch, len(block), len(e.channels))
	}
	if frames > e.maxFrames {
		return fmt.Errorf("%w: %d frames, limit %d", ErrBlockTooLarge, frames, e.maxFrames)
	}
	if frames <= 0 {
		return nil
	}
	if e.factor > 1 {
		if need := frames * e.factor; need > len(e.channels[0].upsampled) {
			return fmt.Errorf("%w: %d oversampled frames, scratch holds %d",
				ErrBlockTooLarge, need, len(e.channels[0].upsampled))
		}
	}
	for i, samples := range block {
		if len(samples) < frames {
			return fmt.Errorf("%w: channel %d holds %d samples, block has %d frames",
				ErrBlockTooLarge, i, len(samples), frames)
		}
	}

	if !e.parallel || len(e.channels) <= 1 {
		for i, ch := range e.channels {
			e.processChannel(i, ch, block[i][:frames], snap)
		}
		return nil
	}

	var wg sync.WaitGroup
	for i, ch := range e.channels {
		wg.Add(1)
		go func(channel int, ch *Channel[F]) {
			defer wg.Done()
			e.processChannel(channel, ch, block[channel][:frames], snap)
		}(i, ch)
	}
	wg.Wait()

	return nil
}

// processChannel delays one channel's block and reports its Doppler ratio.
// Channels share only read-only tables, so any number may run at once.
func (e *Engine[F]) processChannel(i int, ch *Channel[F], samples []F, snap Snapshot) {
	previous := ch.lastDelay
	target := e.clampDelay(snap.TargetDelay(), previous)

	if e.factor > 1 {
		e.processOversampled(ch, samples, target, snap)
	} else {
		e.processStandard(ch, samples, target, snap)
	}

	if e.observer != nil {
		blockDuration := float64(len(samples)) / e.sampleRate
		e.observer(i, DopplerRatio(target, previous, blockDuration))
	}
}

// processStandard runs the base-rate loop.
func (e *Engine[F]) processStandard(ch *Channel[F], samples []F, target float64, snap Snapshot) {
	wet := F(snap.WetDry)
	dry := 1 - wet
	fb := F(snap.Feedback)

	gradient := (target - ch.lastDelay) / float64(len(samples))
	current := ch.lastDelay

	buf := &ch.history
	pos := ch.writePos
	for i, in := range samples {
		delayed := e.tap(buf, pos, current*e.sampleRate)

		buf.Set(pos, in+delayed*fb)
		pos = buf.Wrap(pos + 1)

		samples[i] = in*dry + delayed*wet
		current += gradient
	}

	ch.writePos = pos
	ch.lastDelay = target
}

// processOversampled upsamples the block, runs the delay loop at the
// oversampled rate and decimates the delayed signal back by picking every
// factor-th sample.
func (e *Engine[F]) processOversampled(ch *Channel[F], samples []F, target float64, snap Snapshot) {
	wet := F(snap.WetDry)
	dry := 1 - wet
	fb := F(snap.Feedback)

	f := e.factor
	n := len(samples) * f
	up := ch.upsampled[:n]
	delayed := ch.delayed[:n]
	e.up.Upsample(up, samples)

	// Per oversampled step: the block ramp divided by factor.
	gradient := (target - ch.lastDelay) / float64(n)
	current := ch.lastDelay
	rate := e.sampleRate * float64(f)
	hybrid := e.interp == InterpHybrid

	buf := &ch.oversampled
	pos := ch.osPos
	for i := range n {
		var d F
		if hybrid {
			d = e.tapHybrid(buf, pos, current*e.sampleRate)
		} else {
			d = e.tap(buf, pos, current*rate)
		}

		buf.Set(pos, up[i]+d*fb)
		delayed[i] = d
		pos = buf.Wrap(pos + 1)
		current += gradient
	}
	ch.osPos = pos

	hist := &ch.history
	wp := ch.writePos
	for i, in := range samples {
		d := delayed[i*f]
		hist.Set(wp, in+d*fb)
		wp = hist.Wrap(wp + 1)
		samples[i] = in*dry + d*wet
	}
	ch.writePos = wp
	ch.lastDelay = target
}

// tap reads buf samplesDelayed behind cursor. posA is the newer neighbour
// and posB the older one, so frac moves the read towards the past.
func (e *Engine[F]) tap(buf *ring.Buffer[F], cursor int, samplesDelayed float64) F {
	whole := int(samplesDelayed)
	frac := F(samplesDelayed - float64(whole))

	posA := cursor - whole
	posB := posA - 1

	switch e.interp {
	case InterpPowerComplementary:
		return e.powerComp.Interpolate(buf.At(posA), buf.At(posB), frac)
	case InterpLagrange4:
		return lagrangeAt(buf, posA, cursor, 1-frac)
	default:
		return InterpolateLinear(buf.At(posA), buf.At(posB), frac)
	}
}

// tapHybrid reads the oversampled buffer with the delay given in base-rate
// samples. The hybrid kernel walks forward from one base period before the
// whole-sample read position.
func (e *Engine[F]) tapHybrid(buf *ring.Buffer[F], cursor int, baseDelayed float64) F {
	whole := int(baseDelayed)
	t := F(1 - (baseDelayed - float64(whole)))
	base := cursor - (whole+1)*e.factor

	return InterpolateHybrid(buf, base, t, e.factor)
}

// clampDelay keeps a delay time finite and inside the history. NaN falls
// back to fallback.
func (e *Engine[F]) clampDelay(d, fallback float64) float64 {
	if math.IsNaN(d) {
		return fallback
	}
	return min(max(d, 0), e.maxDelay)
}

// Reset silences every channel, rewinds the cursors and restarts the delay
// ramp at delay seconds.
func (e *Engine[F]) Reset(delay float64) {
	d := e.clampDelay(delay, 0)
	for _, ch := range e.channels {
		ch.reset(d)
	}
}

// TimeSkip advances every channel by frames without producing output, as if
// that many frames had been processed. The history keeps feeding back with
// any non-negative feedback, so the result is always DataReady while the
// engine is live.
func (e *Engine[F]) TimeSkip(frames int) SkipResult {
	if e.released {
		return NoMoreData
	}
	if frames > 0 {
		for _, ch := range e.channels {
			ch.skip(frames)
		}
	}
	return DataReady
}

// Release frees every buffer back to the allocator. Calling it more than
// once, or on an engine whose construction failed, is safe.
func (e *Engine[F]) Release() {
	for _, ch := range e.channels {
		ch.release(e.alloc)
	}
	e.channels = nil
	e.released = true
}

// Channels returns the number of channels.
func (e *Engine[F]) Channels() int { return len(e.channels) }

// Factor returns the oversampling factor.
func (e *Engine[F]) Factor() int { return e.factor }

// MaxDelay returns the longest delay time the history can hold, in seconds.
func (e *Engine[F]) MaxDelay() float64 { return e.maxDelay }

// ChannelState returns the cursors of channel i.
func (e *Engine[F]) ChannelState(i int) (ChannelState, bool) {
	if i < 0 || i >= len(e.channels) {
		return ChannelState{}, false
	}
	ch := e.channels[i]
	return ChannelState{
		WritePos:            ch.writePos,
		OversampledWritePos: ch.osPos,
		LastDelay:           ch.lastDelay,
	}, true
}

// Info describes an engine.
type Info struct {
	SampleRate       float64
	Channels         int
	MaxFrames        int
	Interpolation    Interpolation // effective kernel
	OversampleFactor int
	Upsample         UpsampleMethod
	FIRLength        int
	MaxDelay         float64
	MemoryBytes      int64
}

// Info reports the engine configuration and its memory footprint.
func (e *Engine[F]) Info() Info {
	var mem int64
	for _, ch := range e.channels {
		mem += ch.memoryUsage()
	}
	mem += PowerCompTableSize * simdops.BytesPer[F]()
	if pu, ok := e.up.(*PolyphaseUpsampler[F]); ok && pu.bank != nil {
		mem += pu.bank.GetMemoryUsage()
	}

	return Info{
		SampleRate:       e.sampleRate,
		Channels:         len(e.channels),
		MaxFrames:        e.maxFrames,
		Interpolation:    e.interp,
		OversampleFactor: e.factor,
		Upsample:         e.up.Method(),
		FIRLength:        firLength(e.up),
		MaxDelay:         e.maxDelay,
		MemoryBytes:      mem,
	}
}
