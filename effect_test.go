package delayline

import (
	"log/slog"
	"testing"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-delayline/internal/testutil"
)

const testRate = 48000.0

// fixedDelayParams returns parameters that read the delay time directly.
func fixedDelayParams(t *testing.T, delay float64) *Parameters {
	t.Helper()
	p := NewParameters()
	require.NoError(t, p.SetParam(ParamDistance, 0))
	require.NoError(t, p.SetParam(ParamDelayTime, delay))
	return p
}

func newTestEffect(t *testing.T, cfg Config) *Effect {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	fx, err := New(&cfg)
	require.NoError(t, err)
	t.Cleanup(fx.Terminate)
	return fx
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid mono", Config{SampleRate: 48000, Channels: 1}, false},
		{"valid 256 channels", Config{SampleRate: 44100, Channels: 256, MaxFrames: 64}, false},
		{"zero rate", Config{SampleRate: 0, Channels: 1}, true},
		{"negative rate", Config{SampleRate: -1, Channels: 1}, true},
		{"no channels", Config{SampleRate: 48000}, true},
		{"too many channels", Config{SampleRate: 48000, Channels: 257}, true},
		{"negative frames", Config{SampleRate: 48000, Channels: 1, MaxFrames: -1}, true},
		{"frames above limit", Config{SampleRate: 48000, Channels: 1, MaxFrames: 65536}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}

	_, err := New(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// TestEffect_ImpulseAfterDelay feeds a unit impulse into a 100 ms delay at
// 48 kHz in 480-frame blocks. It comes back exactly 4800 frames later, at
// the start of the eleventh block, and nowhere else.
func TestEffect_ImpulseAfterDelay(t *testing.T) {
	fx := newTestEffect(t, Config{
		SampleRate: testRate,
		Channels:   1,
		MaxFrames:  480,
		Params:     fixedDelayParams(t, 0.1),
	})

	for b := range 12 {
		block := make([]float32, 480)
		if b == 0 {
			block[0] = 1
		}
		require.NoError(t, fx.Process([][]float32{block}, 480))

		if b == 10 {
			assert.InDelta(t, 1.0, block[0], 1e-6)
			testutil.AssertAllZero(t, block[1:], 1e-6)
		} else {
			testutil.AssertAllZero(t, block, 1e-6, "block %d", b)
		}
	}
}

func TestEffect_Lifecycle(t *testing.T) {
	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 2})

	block := [][]float32{make([]float32, 16), make([]float32, 16)}
	require.NoError(t, fx.Process(block, 16))
	assert.Equal(t, DataReady, fx.TimeSkip(100))

	fx.Terminate()
	fx.Terminate()

	require.ErrorIs(t, fx.Process(block, 16), ErrNotInitialized)
	require.ErrorIs(t, fx.ProcessFloat32Buffer(&audio.Float32Buffer{}), ErrNotInitialized)
	assert.Equal(t, NoMoreData, fx.TimeSkip(100))
	fx.Reset()
}

func TestEffect_ProcessErrors(t *testing.T) {
	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 2, MaxFrames: 64})

	mono := [][]float32{make([]float32, 64)}
	require.ErrorIs(t, fx.Process(mono, 64), ErrChannelMismatch)

	big := [][]float32{make([]float32, 65), make([]float32, 65)}
	require.ErrorIs(t, fx.Process(big, 65), ErrBlockTooLarge)

	short := [][]float32{make([]float32, 64), make([]float32, 10)}
	require.ErrorIs(t, fx.Process(short, 64), ErrBlockTooLarge)
}

// TestEffect_ProcessFloat32Buffer checks that the interleaved path gives the
// same result as planar processing in the same chunks.
func TestEffect_ProcessFloat32Buffer(t *testing.T) {
	params := fixedDelayParams(t, 0.005)
	require.NoError(t, params.SetParam(ParamFeedback, 0.5))
	require.NoError(t, params.SetParam(ParamWetDryMix, 0.6))

	cfg := Config{SampleRate: testRate, Channels: 2, MaxFrames: 1024, Params: params}
	interleaved := newTestEffect(t, cfg)
	planar := newTestEffect(t, cfg)

	const frames = 3000
	left := testutil.Sine[float32](frames, 440, testRate)
	right := testutil.Sine[float32](frames, 1250, testRate)

	buf := &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: int(testRate)},
		Data:   Interleave([][]float32{left, right}),
	}
	require.NoError(t, interleaved.ProcessFloat32Buffer(buf))

	for start := 0; start < frames; start += 1024 {
		end := min(start+1024, frames)
		require.NoError(t, planar.Process([][]float32{left[start:end], right[start:end]}, end-start))
	}

	got := Deinterleave(buf.Data, 2)
	testutil.AssertSlicesInDelta(t, left, got[0], 0)
	testutil.AssertSlicesInDelta(t, right, got[1], 0)
}

func TestEffect_ProcessFloat32BufferFormat(t *testing.T) {
	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 2})

	mono := &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: int(testRate)},
		Data:   make([]float32, 64),
	}
	require.ErrorIs(t, fx.ProcessFloat32Buffer(mono), ErrChannelMismatch)

	wrongRate := &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:   make([]float32, 64),
	}
	require.ErrorIs(t, fx.ProcessFloat32Buffer(wrongRate), ErrInvalidConfig)

	partial := &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: int(testRate)},
		Data:   []float32{1, 1, 1, 1, 1},
	}
	require.ErrorIs(t, fx.ProcessFloat32Buffer(partial), ErrChannelMismatch)
	assert.Equal(t, []float32{1, 1, 1, 1, 1}, partial.Data)

	require.NoError(t, fx.ProcessFloat32Buffer(nil))
}

func TestEffect_NoAllocationsWhileProcessing(t *testing.T) {
	params := fixedDelayParams(t, 0.01)
	require.NoError(t, params.SetParam(ParamOversampling, 4))
	require.NoError(t, params.SetParam(ParamInterpolation, float64(InterpHybrid)))

	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 2, MaxFrames: 256, Params: params})
	block := [][]float32{
		testutil.Sine[float32](256, 440, testRate),
		testutil.Sine[float32](256, 880, testRate),
	}
	buf := &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: int(testRate)},
		Data:   Interleave(block),
	}

	allocs := testing.AllocsPerRun(20, func() {
		_ = fx.Process(block, 256)
		_ = fx.ProcessFloat32Buffer(buf)
	})
	assert.Zero(t, allocs)
}

func TestEffect_OutOfMemory(t *testing.T) {
	alloc := NewBudgetAllocator(1 << 16)

	_, err := New(&Config{
		SampleRate: testRate,
		Channels:   2,
		Allocator:  alloc,
		Logger:     slog.New(slog.DiscardHandler),
	})
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Zero(t, alloc.Used(), "partial allocations must be returned")

	roomy := NewBudgetAllocator(1 << 22)
	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 2, Allocator: roomy})
	assert.Positive(t, roomy.Used())
	fx.Terminate()
	assert.Zero(t, roomy.Used())
}

func TestEffect_StaticParamsAreLatched(t *testing.T) {
	params := NewParameters()
	require.NoError(t, params.SetParam(ParamOversampling, 2))
	require.NoError(t, params.SetParam(ParamInterpolation, float64(InterpHybrid)))

	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 1, Params: params})
	require.NoError(t, params.SetParam(ParamOversampling, 16))

	assert.Equal(t, 2, fx.Static().OversampleFactor)
	assert.Equal(t, 2, fx.GetInfo().OversampleFactor)
	assert.Equal(t, InterpHybrid, fx.GetInfo().Interpolation)
	assert.Same(t, params, fx.Params())
}

func TestEffect_GetInfo(t *testing.T) {
	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 2, MaxFrames: 512})

	info := fx.GetInfo()
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, 512, info.MaxFrames)
	assert.Equal(t, InterpLinear, info.Interpolation)
	assert.Equal(t, 1, info.OversampleFactor)
	assert.Equal(t, 0, info.Latency)
	assert.NotEmpty(t, info.SIMDType)
	assert.Greater(t, info.MemoryUsage, int64(2*131072*4))
	assert.InDelta(t, 131064/testRate, info.MaxDelay, 1e-12)
	assert.InDelta(t, 4800.0, fx.DelaySamples(0.1), 1e-9)
	assert.InDelta(t, 0.0, fx.DelaySamples(-1), 0)
}

func TestEffect_ResetReloadsDelayTime(t *testing.T) {
	params := fixedDelayParams(t, 0.001)
	fx := newTestEffect(t, Config{SampleRate: testRate, Channels: 1, MaxFrames: 256, Params: params})

	block := testutil.Impulse[float32](256, 0)
	require.NoError(t, fx.Process([][]float32{block}, 256))
	idx, _ := testutil.PeakIndex(block)
	assert.Equal(t, 48, idx)

	// A new delay time only takes hold through the ramp, unless reset.
	require.NoError(t, params.SetParam(ParamDelayTime, 0.002))
	fx.Reset()

	block = testutil.Impulse[float32](256, 0)
	require.NoError(t, fx.Process([][]float32{block}, 256))
	idx, _ = testutil.PeakIndex(block)
	assert.Equal(t, 96, idx)
}

func TestEffect_DopplerObserver(t *testing.T) {
	params := NewParameters()
	require.NoError(t, params.SetParam(ParamDelayTime, 0))
	require.NoError(t, params.SetParam(ParamDistance, 0))

	ratios := make([]float64, 0, 4)
	fx := newTestEffect(t, Config{
		SampleRate: testRate,
		Channels:   2,
		MaxFrames:  480,
		Params:     params,
		DopplerObserver: func(channel int, ratio float64) {
			if channel == 0 {
				ratios = append(ratios, ratio)
			}
		},
	})

	block := [][]float32{make([]float32, 480), make([]float32, 480)}
	require.NoError(t, fx.Process(block, 480))

	// Moving away at 1.715 m per 10 ms block adds 10 ms of round trip delay.
	require.NoError(t, params.SetParam(ParamDistance, 1.715))
	require.NoError(t, fx.Process(block, 480))

	require.Len(t, ratios, 2)
	assert.InDelta(t, 1.0, ratios[0], 1e-12)
	assert.InDelta(t, 0.0, ratios[1], 1e-9)
}
