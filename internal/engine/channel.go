package engine

import (
	"fmt"

	"github.com/tphakala/go-delayline/internal/ring"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// Channel is the delay state of one audio channel.
//
// history always runs at the base rate. When oversampling is active the
// delay itself runs in oversampled, which is factor times longer, and
// history mirrors the decimated signal so both cursors advance together:
// osPos == writePos*factor modulo oversampled.Len().
type Channel[F simdops.Float] struct {
	history     ring.Buffer[F]
	oversampled ring.Buffer[F]

	// Block scratch at the oversampled rate, MaxFrames*factor long.
	upsampled []F
	delayed   []F

	writePos  int
	osPos     int
	lastDelay float64 // seconds, at the end of the previous block
	factor    int
}

// newChannel allocates every buffer the channel needs. On failure the
// buffers already obtained are returned to alloc.
func newChannel[F simdops.Float](alloc Allocator[F], factor, maxFrames int, initialDelay float64) (*Channel[F], error) {
	ch := &Channel[F]{factor: factor, lastDelay: initialDelay}

	data, err := alloc.Alloc(HistoryLen)
	if err != nil {
		return nil, fmt.Errorf("history buffer: %w", err)
	}
	if ch.history, err = ring.Wrap(data); err != nil {
		alloc.Free(data)
		return nil, err
	}

	if factor > 1 {
		if err := ch.allocOversampled(alloc, maxFrames); err != nil {
			ch.release(alloc)
			return nil, err
		}
	}

	return ch, nil
}

func (ch *Channel[F]) allocOversampled(alloc Allocator[F], maxFrames int) error {
	data, err := alloc.Alloc(HistoryLen * ch.factor)
	if err != nil {
		return fmt.Errorf("oversampled buffer: %w", err)
	}
	if ch.oversampled, err = ring.Wrap(data); err != nil {
		alloc.Free(data)
		return err
	}

	scratch := maxFrames * ch.factor
	if ch.upsampled, err = alloc.Alloc(scratch); err != nil {
		return fmt.Errorf("upsampling scratch: %w", err)
	}
	if ch.delayed, err = alloc.Alloc(scratch); err != nil {
		return fmt.Errorf("delay scratch: %w", err)
	}
	return nil
}

// release returns all buffers to alloc. It is safe on a partially built or
// already released channel.
func (ch *Channel[F]) release(alloc Allocator[F]) {
	if ch.history.Valid() {
		alloc.Free(ch.history.Data())
		ch.history = ring.Buffer[F]{}
	}
	if ch.oversampled.Valid() {
		alloc.Free(ch.oversampled.Data())
		ch.oversampled = ring.Buffer[F]{}
	}
	if ch.upsampled != nil {
		alloc.Free(ch.upsampled)
		ch.upsampled = nil
	}
	if ch.delayed != nil {
		alloc.Free(ch.delayed)
		ch.delayed = nil
	}
}

// reset silences the channel and restarts it at delay.
func (ch *Channel[F]) reset(delay float64) {
	ch.history.Clear()
	ch.oversampled.Clear()
	clear(ch.upsampled)
	clear(ch.delayed)
	ch.writePos = 0
	ch.osPos = 0
	ch.lastDelay = delay
}

// skip advances the write cursors by frames base-rate samples without
// touching the buffers.
func (ch *Channel[F]) skip(frames int) {
	ch.writePos = ch.history.Wrap(ch.writePos + frames)
	if ch.oversampled.Valid() {
		ch.osPos = ch.oversampled.Wrap(ch.osPos + frames*ch.factor)
	}
}

// memoryUsage returns the bytes held by the channel's buffers.
func (ch *Channel[F]) memoryUsage() int64 {
	n := ch.history.Len() + ch.oversampled.Len() + len(ch.upsampled) + len(ch.delayed)
	return int64(n) * simdops.BytesPer[F]()
}

// ChannelState is a read-only view of a channel's cursors.
type ChannelState struct {
	WritePos            int
	OversampledWritePos int
	LastDelay           float64
}
