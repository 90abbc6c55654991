package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/go-delayline"
)

const (
	bitsPerSample16 = 16
	bitsPerSample24 = 24
	bitsPerSample32 = 32

	maxInt16 = 32767.0
	maxInt24 = 8388607.0
	maxInt32 = 2147483647.0

	wavFormatPCM     = 1
	progressInterval = 10 // percent
	percentScale     = 100
)

type delayStats struct {
	sampleRate   int
	channels     int
	bitDepth     int
	inputFrames  int64
	outputFrames int64
	info         delayline.Info
}

// wavInputInfo holds validated input file information.
type wavInputInfo struct {
	file        *os.File
	decoder     *wav.Decoder
	rate        int
	channels    int
	bitDepth    int
	totalFrames int64
	format      *audio.Format
}

// openWAVInput opens and validates a PCM WAV file.
func openWAVInput(path string) (*wavInputInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	format := decoder.Format()
	info := &wavInputInfo{
		file:     f,
		decoder:  decoder,
		rate:     format.SampleRate,
		channels: format.NumChannels,
		bitDepth: int(decoder.BitDepth),
		format:   format,
	}
	if info.channels < 1 || info.rate < 1 {
		_ = f.Close()
		return nil, fmt.Errorf("unsupported WAV format: %d Hz, %d channels", info.rate, info.channels)
	}
	switch info.bitDepth {
	case bitsPerSample16, bitsPerSample24, bitsPerSample32:
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unsupported bit depth: %d", info.bitDepth)
	}

	if d, err := decoder.Duration(); err == nil {
		info.totalFrames = int64(d.Seconds() * float64(info.rate))
	}
	return info, nil
}

// Close closes the input file.
func (w *wavInputInfo) Close() error {
	return w.file.Close()
}

// wavOutputWriter wraps the output file and its encoder.
type wavOutputWriter struct {
	file    *os.File
	encoder *wav.Encoder
}

// createWAVOutput creates a PCM WAV file.
func createWAVOutput(path string, sampleRate, bitDepth, channels int) (*wavOutputWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &wavOutputWriter{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, bitDepth, channels, wavFormatPCM),
	}, nil
}

// Write encodes buf.
func (w *wavOutputWriter) Write(buf *audio.IntBuffer) error {
	return w.encoder.Write(buf)
}

// Close finalises the WAV header and closes the file.
func (w *wavOutputWriter) Close() error {
	if err := w.encoder.Close(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// getMaxValue returns the full-scale sample value for the given bit depth.
func getMaxValue(bitDepth int) float64 {
	switch bitDepth {
	case bitsPerSample24:
		return maxInt24
	case bitsPerSample32:
		return maxInt32
	default:
		return maxInt16
	}
}

// intToFloat scales PCM integers into dst, which must be at least as long.
func intToFloat(dst []float32, src []int, invMax float64) {
	for i, s := range src {
		dst[i] = float32(float64(s) * invMax)
	}
}

// floatToInt clamps to [-1, 1] and scales to PCM integers.
func floatToInt(dst []int, src []float32, maxVal float64) {
	for i, s := range src {
		v := min(max(float64(s), -1), 1)
		dst[i] = int(v * maxVal)
	}
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
	values := []struct {
		id    delayline.ParamID
		value float64
	}{
		{delayline.ParamDelayTime, opts.delay},
		{delayline.ParamWetDryMix, opts.mix},
		{delayline.ParamFeedback, opts.feedback},
		{delayline.ParamDistance, opts.distance},
		{delayline.ParamInterpolation, float64(interp)},
		{delayline.ParamOversampling, float64(opts.oversample)},
		{delayline.ParamUpsampling, float64(method)},
	}
	for _, v := range values {
		if err := p.SetParam(v.id, v.value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// sweepDistance is the distance at frame out of total, moving linearly from
// start to end.
func sweepDistance(start, end float64, frame, total int64) float64 {
	if total <= 1 {
		return start
	}
	t := min(float64(frame)/float64(total-1), 1)
	return start + (end-start)*t
}

// progressTracker handles progress reporting.
type progressTracker struct {
	total        int64
	lastProgress int
	logger       *slog.Logger
}

func (p *progressTracker) reportIfNeeded(current int64) {
	if p.total <= 0 {
		return
	}
	progress := int(float64(current) / float64(p.total) * percentScale)
	if progress >= p.lastProgress+progressInterval {
		p.logger.Debug("progress", "percent", progress)
		p.lastProgress = progress
	}
}

// processWAV runs opts.input through a new effect into opts.output.
func processWAV(opts *options, logger *slog.Logger) (stats *delayStats, err error) {
	params, err := buildParams(opts)
	if err != nil {
		return nil, err
	}

	input, err := openWAVInput(opts.input)
	if err != nil {
		return nil, err
	}
	defer func() { _ = input.Close() }()

	fx, err := delayline.New(&delayline.Config{
		SampleRate:     float64(input.rate),
		Channels:       input.channels,
		MaxFrames:      opts.block,
		Params:         params,
		Logger:         logger,
		EnableParallel: opts.parallel,
	})
	if err != nil {
		return nil, err
	}
	defer fx.Terminate()

	output, err := createWAVOutput(opts.output, input.rate, input.bitDepth, input.channels)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := output.Close(); err == nil {
			err = closeErr
		}
	}()

	ch := input.channels
	maxVal := getMaxValue(input.bitDepth)
	intBuf := &audio.IntBuffer{
		Format:         input.format,
		Data:           make([]int, opts.block*ch),
		SourceBitDepth: input.bitDepth,
	}
	floatBuf := &audio.Float32Buffer{
		Format:         input.format,
		Data:           make([]float32, opts.block*ch),
		SourceBitDepth: input.bitDepth,
	}

	stats = &delayStats{
		sampleRate: input.rate,
		channels:   ch,
		bitDepth:   input.bitDepth,
		info:       fx.GetInfo(),
	}
	tailFrames := int64(opts.tail * float64(input.rate))
	sweepTotal := input.totalFrames + tailFrames
	progress := &progressTracker{total: sweepTotal, logger: logger}

	// writeBlock processes the first frames of floatBuf and writes them out.
	writeBlock := func(frames int) error {
		if opts.sweep {
			d := sweepDistance(opts.distance, opts.distanceEnd, stats.outputFrames, sweepTotal)
			if err := params.SetParam(delayline.ParamDistance, d); err != nil {
				return err
			}
		}

		floatBuf.Data = floatBuf.Data[:frames*ch]
		if err := fx.ProcessFloat32Buffer(floatBuf); err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}

		intBuf.Data = intBuf.Data[:frames*ch]
		floatToInt(intBuf.Data, floatBuf.Data, maxVal)
		if err := output.Write(intBuf); err != nil {
			return fmt.Errorf("failed to write audio data: %w", err)
		}

		stats.outputFrames += int64(frames)
		progress.reportIfNeeded(stats.outputFrames)
		return nil
	}

	for {
		intBuf.Data = intBuf.Data[:cap(intBuf.Data)]
		n, err := input.decoder.PCMBuffer(intBuf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read audio data: %w", err)
		}
		frames := n / ch
		if frames == 0 {
			break
		}

		floatBuf.Data = floatBuf.Data[:frames*ch]
		intToFloat(floatBuf.Data, intBuf.Data[:frames*ch], 1/maxVal)
		stats.inputFrames += int64(frames)

		if err := writeBlock(frames); err != nil {
			return nil, err
		}
	}

	for remaining := tailFrames; remaining > 0; {
		frames := int(min(remaining, int64(opts.block)))
		floatBuf.Data = floatBuf.Data[:frames*ch]
		clear(floatBuf.Data)
		if err := writeBlock(frames); err != nil {
			return nil, err
		}
		remaining -= int64(frames)
	}

	return stats, nil
}
