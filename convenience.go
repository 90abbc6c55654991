package delayline

import (
	"github.com/tphakala/go-delayline/internal/engine"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// Common sample rates for convenience functions.
const (
	// RateCD is the CD quality sample rate.
	RateCD = 44100

	// RateDAT is the DAT/DVD and video production sample rate.
	RateDAT = 48000

	// RateHiRes96 is the high-resolution 2x DAT sample rate.
	RateHiRes96 = 96000
)

const stereoChannels = 2

// NewMono creates a mono effect with default block size.
func NewMono(sampleRate float64, params *Parameters) (*Effect, error) {
	return New(&Config{
		SampleRate: sampleRate,
		Channels:   1,
		Params:     params,
	})
}

// NewStereo creates a stereo effect with default block size.
func NewStereo(sampleRate float64, params *Parameters) (*Effect, error) {
	return New(&Config{
		SampleRate: sampleRate,
		Channels:   stereoChannels,
		Params:     params,
	})
}

// DelayMono is a convenience function for one-shot mono processing at
// float64 precision. The input is processed in blocks of 1024 frames with
// params sampled once per block, and a new slice is returned.
// Nil params uses the defaults.
func DelayMono(input []float64, sampleRate float64, params *Parameters) ([]float64, error) {
	return delayOneShot(input, sampleRate, params)
}

// DelayMonoFloat32 is the float32 equivalent of DelayMono.
func DelayMonoFloat32(input []float32, sampleRate float64, params *Parameters) ([]float32, error) {
	return delayOneShot(input, sampleRate, params)
}

// DelayStereo processes two channels through one stereo delay line.
// Both outputs are as long as the shorter input.
func DelayStereo(left, right []float64, sampleRate float64, params *Parameters) (leftOut, rightOut []float64, err error) {
	n := min(len(left), len(right))
	planar := [][]float64{append([]float64(nil), left[:n]...), append([]float64(nil), right[:n]...)}
	if err := processPlanar(planar, sampleRate, params); err != nil {
		return nil, nil, err
	}
	return planar[0], planar[1], nil
}

func delayOneShot[F simdops.Float](input []F, sampleRate float64, params *Parameters) ([]F, error) {
	planar := [][]F{append([]F(nil), input...)}
	if err := processPlanar(planar, sampleRate, params); err != nil {
		return nil, err
	}
	return planar[0], nil
}

// processPlanar runs equal-length channels through a fresh engine in place.
func processPlanar[F simdops.Float](planar [][]F, sampleRate float64, params *Parameters) error {
	if params == nil {
		params = NewParameters()
	}
	cfg := Config{SampleRate: sampleRate, Channels: len(planar)}
	if err := cfg.Validate(); err != nil {
		return err
	}

	static := params.Static()
	eng, err := engine.New(engine.Config[F]{
		SampleRate:       sampleRate,
		Channels:         len(planar),
		MaxFrames:        defaultMaxFrames,
		Interpolation:    static.Interpolation,
		OversampleFactor: static.OversampleFactor,
		Upsample:         static.Upsampling,
		InitialDelay:     max(params.Snapshot().DelayTime, 0),
	})
	if err != nil {
		return err
	}
	defer eng.Release()

	total := len(planar[0])
	block := make([][]F, len(planar))
	for start := 0; start < total; start += defaultMaxFrames {
		n := min(defaultMaxFrames, total-start)
		for c := range planar {
			block[c] = planar[c][start : start+n]
		}
		if err := eng.Process(block, n, params.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// Interleave converts planar channels to interleaved frames:
// [c0[0], c1[0], ..., c0[1], c1[1], ...]. The output is as long as the
// shortest channel.
func Interleave[F simdops.Float](channels [][]F) []F {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		frames = min(frames, len(ch))
	}

	n := len(channels)
	out := make([]F, frames*n)
	for i := range frames {
		for c, ch := range channels {
			out[i*n+c] = ch[i]
		}
	}
	return out
}

// Deinterleave splits interleaved frames into numChannels planar slices.
// A trailing partial frame is dropped.
func Deinterleave[F simdops.Float](interleaved []F, numChannels int) [][]F {
	if numChannels < 1 {
		return nil
	}
	frames := len(interleaved) / numChannels
	out := make([][]F, numChannels)
	for c := range out {
		out[c] = make([]F, frames)
		for i := range frames {
			out[c][i] = interleaved[i*numChannels+c]
		}
	}
	return out
}
