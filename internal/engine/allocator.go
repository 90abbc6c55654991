package engine

import (
	"errors"
	"fmt"

	"github.com/tphakala/go-delayline/internal/simdops"
)

// ErrOutOfMemory is returned when an Allocator cannot satisfy a request.
var ErrOutOfMemory = errors.New("out of memory")

// Allocator hands out the sample buffers an engine owns. Alloc is only called
// while an engine is being constructed and Free only while it is released,
// never from the processing path.
type Allocator[F simdops.Float] interface {
	// Alloc returns a zeroed slice of n samples.
	Alloc(n int) ([]F, error)
	// Free returns a slice obtained from Alloc. Freeing nil is a no-op.
	Free(buf []F)
}

// HeapAllocator allocates from the Go heap and leaves freeing to the GC.
type HeapAllocator[F simdops.Float] struct{}

// Alloc implements Allocator.
func (HeapAllocator[F]) Alloc(n int) ([]F, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrOutOfMemory, n)
	}
	return make([]F, n), nil
}

// Free implements Allocator.
func (HeapAllocator[F]) Free([]F) {}

// BudgetAllocator allocates from the heap but refuses requests that would
// take outstanding memory past a fixed byte budget. Hosts use it to cap the
// footprint of an effect instance.
//
// It is not safe for concurrent use.
type BudgetAllocator[F simdops.Float] struct {
	budget int64
	used   int64
	peak   int64
}

// NewBudgetAllocator returns an allocator limited to budget bytes.
func NewBudgetAllocator[F simdops.Float](budget int64) *BudgetAllocator[F] {
	return &BudgetAllocator[F]{budget: budget}
}

// Alloc implements Allocator.
func (a *BudgetAllocator[F]) Alloc(n int) ([]F, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrOutOfMemory, n)
	}

	size := int64(n) * simdops.BytesPer[F]()
	if a.used+size > a.budget {
		return nil, fmt.Errorf("%w: request of %d bytes exceeds budget (%d of %d bytes in use)",
			ErrOutOfMemory, size, a.used, a.budget)
	}

	a.used += size
	a.peak = max(a.peak, a.used)
	return make([]F, n), nil
}

// Free implements Allocator.
func (a *BudgetAllocator[F]) Free(buf []F) {
	if buf == nil {
		return
	}
	a.used -= int64(cap(buf)) * simdops.BytesPer[F]()
	a.used = max(a.used, 0)
}

// Used returns the number of bytes currently allocated.
func (a *BudgetAllocator[F]) Used() int64 { return a.used }

// Peak returns the largest number of bytes allocated at once.
func (a *BudgetAllocator[F]) Peak() int64 { return a.peak }

// Budget returns the configured limit in bytes.
func (a *BudgetAllocator[F]) Budget() int64 { return a.budget }
