package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-delayline/internal/testutil"
)

const testSampleRate = 48000.0

func testConfig[F float32 | float64](delay float64) Config[F] {
	return Config[F]{
		SampleRate:       testSampleRate,
		Channels:         1,
		MaxFrames:        1024,
		Interpolation:    InterpLinear,
		OversampleFactor: 1,
		Upsample:         UpsamplePolyphase,
		InitialDelay:     delay,
	}
}

func newTestEngine[F float32 | float64](t *testing.T, cfg Config[F]) *Engine[F] {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e
}

// runMono pushes input through a single-channel engine in blocks and returns
// the concatenated output.
func runMono[F float32 | float64](t *testing.T, e *Engine[F], input []F, blockSize int, snap Snapshot) []F {
	t.Helper()
	out := make([]F, len(input))
	copy(out, input)
	for start := 0; start < len(out); start += blockSize {
		end := min(start+blockSize, len(out))
		require.NoError(t, e.Process([][]F{out[start:end]}, end-start, snap))
	}
	return out
}

func wetSnapshot(delay float64) Snapshot {
	return Snapshot{DelayTime: delay, WetDry: 1, Feedback: 0}
}

// TestEngine_ImpulseScenario: 100 ms delay at 48 kHz in 480-frame blocks.
// The impulse written at frame 0 comes back at absolute frame 4800, which is
// the first frame of the eleventh block.
func TestEngine_ImpulseScenario(t *testing.T) {
	e := newTestEngine(t, testConfig[float32](0.1))
	snap := wetSnapshot(0.1)

	const blockSize = 480
	for b := range 11 {
		block := make([]float32, blockSize)
		if b == 0 {
			block[0] = 1
		}
		require.NoError(t, e.Process([][]float32{block}, blockSize, snap))

		if b < 10 {
			testutil.AssertAllZero(t, block, 0, "block %d", b)
			continue
		}

		idx, peak := testutil.PeakIndex(block)
		assert.Equal(t, 0, idx)
		assert.InDelta(t, 1.0, peak, testutil.ImpulseTolerance)
		testutil.AssertAllZero(t, block[1:], 0)
	}
}

// TestEngine_ImpulseRoundTrip checks buffer indexing for every kernel at
// base rate: an impulse comes back round(D*rate) samples later.
func TestEngine_ImpulseRoundTrip(t *testing.T) {
	kernels := []Interpolation{InterpLinear, InterpPowerComplementary, InterpLagrange4, InterpHybrid}
	delays := []float64{0.001, 0.0105, 0.02, 0.0123456}

	for _, interp := range kernels {
		for _, delay := range delays {
			t.Run(fmt.Sprintf("%s/%gs", interp, delay), func(t *testing.T) {
				cfg := testConfig[float64](delay)
				cfg.Interpolation = interp
				e := newTestEngine(t, cfg)

				input := testutil.Impulse[float64](2048, 0)
				out := runMono(t, e, input, 256, wetSnapshot(delay))

				want := int(math.Round(delay * testSampleRate))
				idx, peak := testutil.PeakIndex(out)
				assert.InDelta(t, want, idx, 1, "peak index")
				assert.Greater(t, peak, 0.45)
				testutil.AssertNoNaNOrInf(t, out)
			})
		}
	}
}

// TestEngine_OversampledRoundTrip runs the same check through every
// upsampler and factor.
func TestEngine_OversampledRoundTrip(t *testing.T) {
	kernels := []Interpolation{InterpLinear, InterpLagrange4, InterpHybrid, InterpPowerComplementary}
	const delay = 0.01

	for _, method := range allMethods {
		for _, factor := range []int{2, 4, 16} {
			for _, interp := range kernels {
				t.Run(fmt.Sprintf("%s/x%d/%s", method, factor, interp), func(t *testing.T) {
					cfg := testConfig[float32](delay)
					cfg.MaxFrames = 256
					cfg.OversampleFactor = factor
					cfg.Upsample = method
					cfg.Interpolation = interp
					e := newTestEngine(t, cfg)

					input := testutil.Impulse[float32](1024, 0)
					out := runMono(t, e, input, 256, wetSnapshot(delay))

					idx, peak := testutil.PeakIndex(out)
					assert.InDelta(t, 480, idx, 1, "peak index")
					assert.InDelta(t, 1.0, peak, 0.01)
					testutil.AssertNoNaNOrInf(t, out)
				})
			}
		}
	}
}

func TestEngine_DryPassThrough(t *testing.T) {
	e := newTestEngine(t, testConfig[float64](0.01))

	input := testutil.Sine[float64](2048, 440, testSampleRate)
	out := runMono(t, e, input, 512, Snapshot{DelayTime: 0.01, WetDry: 0, Feedback: 0.5})
	testutil.AssertSlicesInDelta(t, input, out, 0)
}

func TestEngine_DistanceDrivesDelay(t *testing.T) {
	snap := Snapshot{DelayTime: 0.5, WetDry: 1, Distance: 10}
	target := snap.TargetDelay()
	assert.InDelta(t, 20.0/SpeedOfSound, target, 1e-12)

	e := newTestEngine(t, testConfig[float64](target))
	out := runMono(t, e, testutil.Impulse[float64](4096, 0), 512, snap)

	idx, _ := testutil.PeakIndex(out)
	assert.InDelta(t, math.Round(target*testSampleRate), idx, 1)
}

func TestEngine_FeedbackEchoes(t *testing.T) {
	const delay = 0.005 // 240 samples
	e := newTestEngine(t, testConfig[float64](delay))

	out := runMono(t, e, testutil.Impulse[float64](1024, 0), 128,
		Snapshot{DelayTime: delay, WetDry: 1, Feedback: 0.5})

	assert.InDelta(t, 1.0, out[240], 1e-9)
	assert.InDelta(t, 0.5, out[480], 1e-9)
	assert.InDelta(t, 0.25, out[720], 1e-9)
	assert.InDelta(t, 0.0, out[600], 1e-12)
}

// TestEngine_ResetIdempotent checks that Reset returns the engine to the
// state it had right after New.
func TestEngine_ResetIdempotent(t *testing.T) {
	configs := map[string]Config[float64]{
		"standard": testConfig[float64](0.01),
		"oversampled": func() Config[float64] {
			c := testConfig[float64](0.01)
			c.OversampleFactor = 4
			c.Interpolation = InterpLagrange4
			return c
		}(),
	}

	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			snap := Snapshot{DelayTime: 0.01, WetDry: 0.7, Feedback: 0.6}
			probe := testutil.Impulse[float64](2048, 3)

			fresh := newTestEngine(t, cfg)
			want := runMono(t, fresh, probe, 256, snap)

			used := newTestEngine(t, cfg)
			noise := testutil.Sine[float64](4096, 123, testSampleRate)
			runMono(t, used, noise, 512, Snapshot{DelayTime: 0.03, WetDry: 0.5, Feedback: 0.9, Distance: 2})

			used.Reset(cfg.InitialDelay)
			state, ok := used.ChannelState(0)
			require.True(t, ok)
			assert.Equal(t, ChannelState{LastDelay: 0.01}, state)

			got := runMono(t, used, probe, 256, snap)
			testutil.AssertSlicesInDelta(t, want, got, 0)
		})
	}
}

// TestEngine_Stability checks that with |feedback| < 1 the output stays
// bounded by peak/(1-|feedback|).
func TestEngine_Stability(t *testing.T) {
	tests := []struct {
		interp   Interpolation
		feedback float64
	}{
		{InterpLinear, 0.9},
		{InterpLinear, -0.75},
		{InterpPowerComplementary, 0.95},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/fb=%g", tt.interp, tt.feedback), func(t *testing.T) {
			cfg := testConfig[float64](0.003)
			cfg.Interpolation = tt.interp
			e := newTestEngine(t, cfg)

			input := testutil.Sine[float64](48000, 997, testSampleRate)
			out := runMono(t, e, input, 512, Snapshot{DelayTime: 0.0031, WetDry: 1, Feedback: tt.feedback})

			bound := 1/(1-math.Abs(tt.feedback)) + 1e-9
			_, peak := testutil.PeakIndex(out)
			assert.LessOrEqual(t, peak, bound)
			testutil.AssertNoNaNOrInf(t, out)
		})
	}
}

// TestEngine_RampIsSmooth moves the delay by 1 ms in one block and checks
// that the output has no step larger than the sine's own slope allows.
func TestEngine_RampIsSmooth(t *testing.T) {
	e := newTestEngine(t, testConfig[float64](0.01))

	const (
		freq      = 200.0
		blockSize = 480
	)
	input := testutil.Sine[float64](blockSize*8, freq, testSampleRate)
	out := make([]float64, len(input))
	copy(out, input)

	delays := []float64{0.01, 0.01, 0.01, 0.01, 0.011, 0.011, 0.011, 0.011}
	for b, d := range delays {
		block := out[b*blockSize : (b+1)*blockSize]
		require.NoError(t, e.Process([][]float64{block}, blockSize, wetSnapshot(d)))
	}

	maxSlope := 2 * math.Pi * freq / testSampleRate
	for i := 1; i < len(out); i++ {
		step := math.Abs(out[i] - out[i-1])
		if !assert.LessOrEqual(t, step, maxSlope*1.2, "discontinuity at %d", i) {
			break
		}
	}
}

func TestEngine_DopplerObserver(t *testing.T) {
	type call struct {
		channel int
		ratio   float64
	}
	var calls []call

	cfg := testConfig[float64](0.1)
	cfg.Channels = 2
	cfg.Observer = func(channel int, ratio float64) {
		calls = append(calls, call{channel, ratio})
	}
	e := newTestEngine(t, cfg)

	block := [][]float64{make([]float64, 480), make([]float64, 480)}
	require.NoError(t, e.Process(block, 480, wetSnapshot(0.09)))

	require.Len(t, calls, 2)
	for i, c := range calls {
		assert.Equal(t, i, c.channel)
		// 10 ms less delay over a 10 ms block doubles the read speed.
		assert.InDelta(t, 2.0, c.ratio, 1e-9)
	}

	state, _ := e.ChannelState(1)
	assert.InDelta(t, 0.09, state.LastDelay, 1e-12)
}

func TestDopplerRatio(t *testing.T) {
	assert.Equal(t, 1.0, DopplerRatio(0.1, 0.1, 0.01))
	assert.InDelta(t, 0.5, DopplerRatio(0.105, 0.1, 0.01), 1e-12)
	assert.Equal(t, 1.0, DopplerRatio(0.2, 0.1, 0))
}

// TestEngine_TimeSkipCursorEquivalence checks that skipping N frames leaves
// the cursors where processing N silent frames would.
func TestEngine_TimeSkipCursorEquivalence(t *testing.T) {
	for _, factor := range []int{1, 4, 16} {
		for _, frames := range []int{1, 480, 5000, HistoryLen + 17} {
			t.Run(fmt.Sprintf("x%d/%d", factor, frames), func(t *testing.T) {
				cfg := testConfig[float32](0.02)
				cfg.OversampleFactor = factor

				skipped := newTestEngine(t, cfg)
				assert.Equal(t, DataReady, skipped.TimeSkip(frames))

				processed := newTestEngine(t, cfg)
				silence := make([]float32, frames)
				runMono(t, processed, silence, cfg.MaxFrames, wetSnapshot(0.02))

				a, _ := skipped.ChannelState(0)
				b, _ := processed.ChannelState(0)
				assert.Equal(t, b.WritePos, a.WritePos)
				assert.Equal(t, b.OversampledWritePos, a.OversampledWritePos)
				assert.Equal(t, frames%HistoryLen, a.WritePos)
				if factor > 1 {
					assert.Equal(t, (frames*factor)%(HistoryLen*factor), a.OversampledWritePos)
				}
			})
		}
	}
}

func TestEngine_TimeSkipKeepsHistory(t *testing.T) {
	e := newTestEngine(t, testConfig[float64](0.001))

	// Write an impulse, skip half the delay, then read it back 24 samples later.
	block := testutil.Impulse[float64](1, 0)
	require.NoError(t, e.Process([][]float64{block}, 1, wetSnapshot(0.001)))
	e.TimeSkip(23)

	out := runMono(t, e, make([]float64, 64), 64, wetSnapshot(0.001))
	idx, peak := testutil.PeakIndex(out)
	assert.Equal(t, 48-24, idx)
	assert.InDelta(t, 1.0, peak, 1e-9)
}

func TestEngine_OutOfMemory(t *testing.T) {
	historyBytes := int64(HistoryLen) * 4

	t.Run("third channel", func(t *testing.T) {
		alloc := NewBudgetAllocator[float32](2*historyBytes + 100)
		cfg := testConfig[float32](0.1)
		cfg.Channels = 3
		cfg.Allocator = alloc

		e, err := New(cfg)
		require.Error(t, err)
		assert.Nil(t, e)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Contains(t, err.Error(), "channel 2")
		assert.Equal(t, int64(0), alloc.Used(), "partial allocations must be released")
		assert.Equal(t, 2*historyBytes, alloc.Peak())
	})

	t.Run("oversampled buffer", func(t *testing.T) {
		alloc := NewBudgetAllocator[float32](historyBytes * 3)
		cfg := testConfig[float32](0.1)
		cfg.OversampleFactor = 4
		cfg.Allocator = alloc

		_, err := New(cfg)
		require.ErrorIs(t, err, ErrOutOfMemory)
		assert.Equal(t, int64(0), alloc.Used())
	})

	t.Run("scratch buffers", func(t *testing.T) {
		// History and oversampled buffers fit; the second scratch does not.
		alloc := NewBudgetAllocator[float32](historyBytes*5 + 1024*4*4 + 8)
		cfg := testConfig[float32](0.1)
		cfg.OversampleFactor = 4
		cfg.Allocator = alloc

		_, err := New(cfg)
		require.ErrorIs(t, err, ErrOutOfMemory)
		assert.Contains(t, err.Error(), "delay scratch")
		assert.Equal(t, int64(0), alloc.Used())
	})

	t.Run("exact budget", func(t *testing.T) {
		alloc := NewBudgetAllocator[float32](historyBytes)
		cfg := testConfig[float32](0.1)
		cfg.Allocator = alloc

		e, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, historyBytes, alloc.Used())

		e.Release()
		assert.Equal(t, int64(0), alloc.Used())
	})
}

func TestEngine_ReleaseIsIdempotent(t *testing.T) {
	alloc := NewBudgetAllocator[float64](1 << 30)
	cfg := testConfig[float64](0.1)
	cfg.Channels = 2
	cfg.OversampleFactor = 2
	cfg.Allocator = alloc

	e, err := New(cfg)
	require.NoError(t, err)
	assert.Positive(t, alloc.Used())

	e.Release()
	e.Release()
	assert.Equal(t, int64(0), alloc.Used())

	err = e.Process([][]float64{{0}, {0}}, 1, wetSnapshot(0.1))
	require.ErrorIs(t, err, ErrReleased)
	assert.Equal(t, NoMoreData, e.TimeSkip(10))
}

func TestEngine_ProcessErrors(t *testing.T) {
	cfg := testConfig[float32](0.1)
	cfg.Channels = 2
	cfg.MaxFrames = 256
	cfg.OversampleFactor = 2
	e := newTestEngine(t, cfg)
	snap := wetSnapshot(0.1)

	tests := []struct {
		name   string
		block  [][]float32
		frames int
		want   error
	}{
		{"too many frames", [][]float32{make([]float32, 300), make([]float32, 300)}, 257, ErrBlockTooLarge},
		{"channel count", [][]float32{make([]float32, 16)}, 16, ErrChannelMismatch},
		{"short channel", [][]float32{make([]float32, 16), make([]float32, 8)}, 16, ErrBlockTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := e.ChannelState(0)
			err := e.Process(tt.block, tt.frames, snap)
			require.ErrorIs(t, err, tt.want)

			after, _ := e.ChannelState(0)
			assert.Equal(t, before, after, "failed call must not touch state")
		})
	}

	t.Run("empty block", func(t *testing.T) {
		require.NoError(t, e.Process([][]float32{nil, nil}, 0, snap))
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config[float64])
	}{
		{"zero sample rate", func(c *Config[float64]) { c.SampleRate = 0 }},
		{"nan sample rate", func(c *Config[float64]) { c.SampleRate = math.NaN() }},
		{"no channels", func(c *Config[float64]) { c.Channels = 0 }},
		{"zero max frames", func(c *Config[float64]) { c.MaxFrames = 0 }},
		{"max frames too large", func(c *Config[float64]) { c.MaxFrames = MaxBlockFrames + 1 }},
		{"factor 3", func(c *Config[float64]) { c.OversampleFactor = 3 }},
		{"factor 32", func(c *Config[float64]) { c.OversampleFactor = 32 }},
		{"unknown interpolation", func(c *Config[float64]) { c.Interpolation = 7 }},
		{"unknown upsampling", func(c *Config[float64]) { c.Upsample = 3 }},
		{"negative delay", func(c *Config[float64]) { c.InitialDelay = -1 }},
		{"infinite delay", func(c *Config[float64]) { c.InitialDelay = math.Inf(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig[float64](0.1)
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	cfg := testConfig[float64](0.1)
	require.NoError(t, cfg.Validate())
}

func TestEngine_HybridWithoutOversamplingIsLinear(t *testing.T) {
	hybridCfg := testConfig[float64](0.00731)
	hybridCfg.Interpolation = InterpHybrid
	hybrid := newTestEngine(t, hybridCfg)
	assert.Equal(t, InterpLinear, hybrid.Info().Interpolation)

	linear := newTestEngine(t, testConfig[float64](0.00731))

	input := testutil.Sine[float64](4096, 311, testSampleRate)
	snap := Snapshot{DelayTime: 0.00813, WetDry: 0.8, Feedback: 0.3}
	want := runMono(t, linear, input, 500, snap)
	got := runMono(t, hybrid, input, 500, snap)
	testutil.AssertSlicesInDelta(t, want, got, 0)
}

func TestEngine_DelayIsClamped(t *testing.T) {
	e := newTestEngine(t, testConfig[float64](0.1))

	block := [][]float64{make([]float64, 64)}
	require.NoError(t, e.Process(block, 64, Snapshot{DelayTime: 100, WetDry: 1}))
	state, _ := e.ChannelState(0)
	assert.InDelta(t, e.MaxDelay(), state.LastDelay, 1e-12)

	require.NoError(t, e.Process(block, 64, Snapshot{DelayTime: math.NaN(), WetDry: 1}))
	state, _ = e.ChannelState(0)
	assert.InDelta(t, e.MaxDelay(), state.LastDelay, 1e-12, "NaN keeps the previous delay")

	require.NoError(t, e.Process(block, 64, Snapshot{DelayTime: -3, WetDry: 1}))
	state, _ = e.ChannelState(0)
	assert.Equal(t, 0.0, state.LastDelay)
}

func TestEngine_Info(t *testing.T) {
	cfg := testConfig[float32](0.1)
	cfg.Channels = 2
	e := newTestEngine(t, cfg)

	info := e.Info()
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, 1, info.OversampleFactor)
	assert.Equal(t, 0, info.FIRLength)
	assert.Equal(t, int64(2*HistoryLen*4+PowerCompTableSize*4), info.MemoryBytes)
	assert.InDelta(t, float64(HistoryLen-delayHeadroom)/testSampleRate, info.MaxDelay, 1e-12)

	cfg.OversampleFactor = 8
	cfg.Channels = 1
	os := newTestEngine(t, cfg)
	info = os.Info()
	assert.Equal(t, 64, info.FIRLength)
	assert.Equal(t, UpsamplePolyphase, info.Upsample)

	want := int64(HistoryLen*4 + HistoryLen*8*4 + 2*1024*8*4 + PowerCompTableSize*4)
	assert.Greater(t, info.MemoryBytes, want)
}

func TestEngine_ChannelsAreIndependent(t *testing.T) {
	cfg := testConfig[float64](0.002)
	cfg.Channels = 2
	e := newTestEngine(t, cfg)

	left := testutil.Impulse[float64](512, 0)
	right := make([]float64, 512)
	require.NoError(t, e.Process([][]float64{left, right}, 512, wetSnapshot(0.002)))

	idx, _ := testutil.PeakIndex(left)
	assert.Equal(t, 96, idx)
	testutil.AssertAllZero(t, right, 0)
}

func TestEngine_ParallelMatchesSequential(t *testing.T) {
	const channels = 4

	for _, factor := range []int{1, 4} {
		t.Run(fmt.Sprintf("x%d", factor), func(t *testing.T) {
			cfg := testConfig[float32](0.01)
			cfg.Channels = channels
			cfg.OversampleFactor = factor
			cfg.Interpolation = InterpLagrange4

			seq := newTestEngine(t, cfg)
			cfg.EnableParallel = true
			par := newTestEngine(t, cfg)

			snap := Snapshot{DelayTime: 0.0123, WetDry: 0.7, Feedback: 0.4, Distance: 3}
			for range 8 {
				a := make([][]float32, channels)
				b := make([][]float32, channels)
				for c := range channels {
					a[c] = testutil.Sine[float32](256, 200*float64(c+1), testSampleRate)
					b[c] = append([]float32(nil), a[c]...)
				}
				require.NoError(t, seq.Process(a, 256, snap))
				require.NoError(t, par.Process(b, 256, snap))
				for c := range channels {
					testutil.AssertSlicesInDelta(t, a[c], b[c], 0)
				}
			}
		})
	}
}

// TestEngine_Lagrange4ShortDelayReadsOnlyWrittenHistory fills a whole
// history cycle with a tone, then feeds silence with the delay under two
// samples. Every slot the kernel may read has been overwritten with silence
// after a few frames, so the output must go quiet.
func TestEngine_Lagrange4ShortDelayReadsOnlyWrittenHistory(t *testing.T) {
	tests := []struct {
		name   string
		factor int
		delay  float64 // base-rate samples
	}{
		{"base rate", 1, 1.5},
		{"base rate one sample", 1, 1.0},
		{"oversampled x2", 2, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay := tt.delay / testSampleRate
			cfg := testConfig[float64](delay)
			cfg.Interpolation = InterpLagrange4
			cfg.OversampleFactor = tt.factor
			e := newTestEngine(t, cfg)
			snap := wetSnapshot(delay)

			tone := make([]float64, HistoryLen)
			for i := range tone {
				tone[i] = math.Sin(0.05 * float64(i))
			}
			runMono(t, e, tone, cfg.MaxFrames, snap)

			out := runMono(t, e, make([]float64, 4096), cfg.MaxFrames, snap)
			testutil.AssertAllZero(t, out[8:], 1e-9)
		})
	}
}
