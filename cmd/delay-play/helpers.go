package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/go-delayline"
)

const (
	bytesPerSample = 4

	maxInt16 = 32767.0
	maxInt24 = 8388607.0
	maxInt32 = 2147483647.0
)

// clip is a decoded WAV file held in memory as interleaved float32.
type clip struct {
	data       []float32
	channels   int
	sampleRate int
}

// frames returns the clip length in frames.
func (c *clip) frames() int {
	return len(c.data) / c.channels
}

// loadWAV decodes a whole PCM WAV file into memory.
func loadWAV(path string) (*clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("unsupported WAV format: %s", path)
	}

	var scale float64
	switch d.BitDepth {
	case 16:
		scale = 1 / maxInt16
	case 24:
		scale = 1 / maxInt24
	case 32:
		scale = 1 / maxInt32
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", d.BitDepth)
	}

	ch := buf.Format.NumChannels
	n := len(buf.Data) / ch * ch
	if n == 0 {
		return nil, fmt.Errorf("no audio in %s", path)
	}
	data := make([]float32, n)
	for i, s := range buf.Data[:n] {
		data[i] = float32(float64(s) * scale)
	}
	return &clip{data: data, channels: ch, sampleRate: buf.Format.SampleRate}, nil
}

// loopReader streams a clip through an effect forever, looping the clip. It
// implements io.Reader producing interleaved float32 little-endian samples,
// which is what the audio player pulls from.
type loopReader struct {
	clip *clip
	fx   *delayline.Effect
	pos  int // sample index into clip.data
	buf  *audio.Float32Buffer
	max  int // frames per Read
}

func newLoopReader(c *clip, fx *delayline.Effect, blockFrames int) *loopReader {
	return &loopReader{
		clip: c,
		fx:   fx,
		buf: &audio.Float32Buffer{
			Format: &audio.Format{NumChannels: c.channels, SampleRate: c.sampleRate},
			Data:   make([]float32, blockFrames*c.channels),
		},
		max: blockFrames,
	}
}

// Read fills p with whole frames of processed audio. A p shorter than one
// frame is filled with silence.
func (r *loopReader) Read(p []byte) (int, error) {
	ch := r.clip.channels
	frames := min(len(p)/(bytesPerSample*ch), r.max)
	if frames == 0 {
		clear(p)
		return len(p), nil
	}

	r.buf.Data = r.buf.Data[:frames*ch]
	for i := 0; i < len(r.buf.Data); {
		n := copy(r.buf.Data[i:], r.clip.data[r.pos:])
		i += n
		r.pos = (r.pos + n) % len(r.clip.data)
	}

	if err := r.fx.ProcessFloat32Buffer(r.buf); err != nil {
		return 0, err
	}

	for i, s := range r.buf.Data {
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(s))
	}
	return len(r.buf.Data) * bytesPerSample, nil
}

// buildParams turns the command line into effect parameters.
func buildParams(opts *options) (*delayline.Parameters, error) {
	interp, err := delayline.ParseInterpolation(opts.interp)
	if err != nil {
		return nil, err
	}
	method, err := delayline.ParseUpsampleMethod(opts.upsample)
	if err != nil {
		return nil, err
	}

	p := delayline.NewParameters()
	for id, v := range map[delayline.ParamID]float64{
		delayline.ParamDelayTime:     opts.delay,
		delayline.ParamWetDryMix:     opts.mix,
		delayline.ParamFeedback:      opts.feedback,
		delayline.ParamDistance:      opts.distance,
		delayline.ParamInterpolation: float64(interp),
		delayline.ParamOversampling:  float64(opts.oversample),
		delayline.ParamUpsampling:    float64(method),
	} {
		if err := p.SetParam(id, v); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}
	return p, nil
}
