// Package ring implements the fixed-capacity circular sample buffers used as
// delay-line history.
//
// Capacity is always a power of two so that every index wraps with a single
// bitwise AND instead of a modulo. Buffers never grow: the backing slice is
// handed in once at construction and reused until the owner releases it.
package ring

import (
	"errors"
	"fmt"

	"github.com/tphakala/go-delayline/internal/simdops"
)

// ErrCapacity is returned when a backing slice length is not a power of two.
var ErrCapacity = errors.New("ring: capacity must be a power of two")

// Buffer is a circular buffer over a caller-provided backing slice.
type Buffer[F simdops.Float] struct {
	data []F
	mask int // len(data) - 1
}

// Wrap creates a Buffer over data. len(data) must be a power of two.
func Wrap[F simdops.Float](data []F) (Buffer[F], error) {
	n := len(data)
	if n == 0 || n&(n-1) != 0 {
		return Buffer[F]{}, fmt.Errorf("%w: got %d", ErrCapacity, n)
	}

	return Buffer[F]{data: data, mask: n - 1}, nil
}

// At returns the sample at index i wrapped into range.
// Negative indices wrap backwards, matching two's complement masking.
func (b *Buffer[F]) At(i int) F {
	return b.data[i&b.mask]
}

// Set stores v at index i wrapped into range.
func (b *Buffer[F]) Set(i int, v F) {
	b.data[i&b.mask] = v
}

// Wrap maps an arbitrary index into [0, Len()).
func (b *Buffer[F]) Wrap(i int) int {
	return i & b.mask
}

// Mask returns Len()-1.
func (b *Buffer[F]) Mask() int {
	return b.mask
}

// Len returns the buffer capacity in samples.
func (b *Buffer[F]) Len() int {
	return len(b.data)
}

// Data exposes the backing slice, for releasing it to its allocator.
func (b *Buffer[F]) Data() []F {
	return b.data
}

// Clear zeroes the buffer contents.
func (b *Buffer[F]) Clear() {
	clear(b.data)
}

// Valid reports whether the buffer has a backing slice.
func (b *Buffer[F]) Valid() bool {
	return len(b.data) > 0
}
