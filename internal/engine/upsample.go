package engine

import (
	"fmt"

	"github.com/tphakala/go-delayline/internal/filter"
	"github.com/tphakala/go-delayline/internal/mathutil"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// Upsampler expands a block by a fixed integer factor.
//
// Upsample writes len(src)*Factor() samples to dst, which must be at least
// that long. Samples outside src contribute nothing: blocks are upsampled in
// isolation and never read neighbouring blocks. With a factor of 1 every
// implementation copies src unchanged.
type Upsampler[F simdops.Float] interface {
	Upsample(dst, src []F)
	Factor() int
	Method() UpsampleMethod
}

// NewUpsampler returns the upsampler for method at the given factor.
// The choice is made once; the engine never reselects per block.
func NewUpsampler[F simdops.Float](method UpsampleMethod, factor int) (Upsampler[F], error) {
	if factor < 1 {
		return nil, fmt.Errorf("upsampling factor must be >= 1: %d", factor)
	}

	switch method {
	case UpsampleLinear:
		return &LinearUpsampler[F]{factor: factor}, nil
	case UpsampleSinc:
		return NewSincUpsampler[F](factor), nil
	case UpsamplePolyphase:
		u, err := NewPolyphaseUpsampler[F](factor)
		if err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, fmt.Errorf("unknown upsampling method %d", method)
	}
}

// =============================================================================
// Linear
// =============================================================================

// LinearUpsampler ramps from each input sample to the next in factor steps.
// The last segment has no successor inside the block and holds its value.
type LinearUpsampler[F simdops.Float] struct {
	factor int
}

// Factor returns the upsampling factor.
func (u *LinearUpsampler[F]) Factor() int { return u.factor }

// Method returns UpsampleLinear.
func (u *LinearUpsampler[F]) Method() UpsampleMethod { return UpsampleLinear }

// Upsample implements Upsampler.
func (u *LinearUpsampler[F]) Upsample(dst, src []F) {
	f := u.factor
	if f <= 1 {
		copy(dst, src)
		return
	}

	n := len(src)
	step := 1 / F(f)
	for i := range n {
		a := src[i]
		b := a
		if i+1 < n {
			b = src[i+1]
		}

		out := dst[i*f : (i+1)*f]
		for j := range out {
			out[j] = a + (b-a)*F(j)*step
		}
	}
}

// =============================================================================
// Windowed sinc
// =============================================================================

// SincUpsampler places each output sample at fractional source position
// p = o/factor and sums an 8-tap Blackman-windowed sinc centered on p.
//
// Because every output with the same o%factor has the same fractional
// offset, the kernel is evaluated once per phase at construction.
type SincUpsampler[F simdops.Float] struct {
	factor  int
	kernels [][sincTaps]F
}

// NewSincUpsampler precomputes the per-phase kernels for factor.
func NewSincUpsampler[F simdops.Float](factor int) *SincUpsampler[F] {
	u := &SincUpsampler[F]{factor: factor}
	if factor <= 1 {
		return u
	}

	u.kernels = make([][sincTaps]F, factor)
	for p := range factor {
		frac := float64(p) / float64(factor)
		for j := range sincTaps {
			// Tap j reads x[floor(p)-3+j], at distance frac-(j-3) from p.
			x := frac - float64(j-sincLookbehind)
			u.kernels[p][j] = F(mathutil.Sinc(x) * mathutil.Blackman(x/sincWindowWidth))
		}
	}
	return u
}

// Factor returns the upsampling factor.
func (u *SincUpsampler[F]) Factor() int { return u.factor }

// Method returns UpsampleSinc.
func (u *SincUpsampler[F]) Method() UpsampleMethod { return UpsampleSinc }

// Upsample implements Upsampler.
func (u *SincUpsampler[F]) Upsample(dst, src []F) {
	f := u.factor
	if f <= 1 {
		copy(dst, src)
		return
	}

	n := len(src)
	for i := range n {
		first := i - sincLookbehind
		for p := range f {
			k := &u.kernels[p]
			var sum F
			for j := range sincTaps {
				idx := first + j
				if idx < 0 || idx >= n {
					continue
				}
				sum += src[idx] * k[j]
			}
			dst[i*f+p] = sum
		}
	}
}

// =============================================================================
// Polyphase FIR
// =============================================================================

// PolyphaseUpsampler convolves the zero-stuffed input with a windowed-sinc
// low-pass of length 8*factor, evaluated as factor short dot products.
// The prototype is centered on an integer tap, so output o=i*factor lines up
// with input i and the upsampler adds no delay.
type PolyphaseUpsampler[F simdops.Float] struct {
	factor int
	bank   *filter.PolyphaseBank
	phases [][]F
	ops    *simdops.Ops[F]
}

// NewPolyphaseUpsampler designs the FIR bank for factor.
func NewPolyphaseUpsampler[F simdops.Float](factor int) (*PolyphaseUpsampler[F], error) {
	u := &PolyphaseUpsampler[F]{factor: factor, ops: simdops.For[F]()}
	if factor <= 1 {
		return u, nil
	}

	bank, err := filter.DesignPolyphaseBank(factor)
	if err != nil {
		return nil, fmt.Errorf("failed to design polyphase bank: %w", err)
	}

	u.bank = bank
	u.phases = make([][]F, factor)
	for p, coeffs := range bank.Phases {
		u.phases[p] = make([]F, len(coeffs))
		for k, c := range coeffs {
			u.phases[p][k] = F(c)
		}
	}
	return u, nil
}

// Factor returns the upsampling factor.
func (u *PolyphaseUpsampler[F]) Factor() int { return u.factor }

// Method returns UpsamplePolyphase.
func (u *PolyphaseUpsampler[F]) Method() UpsampleMethod { return UpsamplePolyphase }

// Bank returns the FIR bank, or nil at factor 1.
func (u *PolyphaseUpsampler[F]) Bank() *filter.PolyphaseBank { return u.bank }

// Upsample implements Upsampler.
func (u *PolyphaseUpsampler[F]) Upsample(dst, src []F) {
	f := u.factor
	if f <= 1 {
		copy(dst, src)
		return
	}

	n := len(src)
	behind := u.bank.Lookbehind
	taps := u.bank.TapsPerPhase

	for i := range n {
		first := i - behind
		out := dst[i*f : (i+1)*f]

		if first >= 0 && first+taps <= n {
			window := src[first : first+taps]
			for p, phase := range u.phases {
				out[p] = u.ops.DotProductUnsafe(phase, window)
			}
			continue
		}

		// Block edge: taps outside src are zero.
		for p, phase := range u.phases {
			var sum F
			for k, c := range phase {
				idx := first + k
				if idx < 0 || idx >= n {
					continue
				}
				sum += c * src[idx]
			}
			out[p] = sum
		}
	}
}

// firLength returns the prototype length used by u, or 0.
func firLength[F simdops.Float](u Upsampler[F]) int {
	if pu, ok := u.(*PolyphaseUpsampler[F]); ok && pu.bank != nil {
		return len(pu.bank.Prototype)
	}
	return 0
}

// validFactor reports whether f is one of the supported oversampling factors.
func validFactor(f int) bool {
	return f >= FactorNone && f <= Factor16x && mathutil.IsPowerOfTwo(f)
}
