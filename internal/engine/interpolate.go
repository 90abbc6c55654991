package engine

import (
	"github.com/tphakala/go-delayline/internal/mathutil"
	"github.com/tphakala/go-delayline/internal/ring"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// InterpolateLinear blends a and b: a*(1-t) + b*t.
func InterpolateLinear[F simdops.Float](a, b, t F) F {
	return a*(1-t) + b*t
}

// PowerCompTable holds sin² crossfade weights rising from 0 to 1.
// It is filled once by NewPowerCompTable and only read afterwards.
type PowerCompTable[F simdops.Float] [PowerCompTableSize]F

// NewPowerCompTable builds the crossfade table from the rising half of a
// Hann window.
func NewPowerCompTable[F simdops.Float]() *PowerCompTable[F] {
	var tbl PowerCompTable[F]
	for i := range tbl {
		tbl[i] = F(mathutil.HannRise(float64(i) / float64(PowerCompTableSize-1)))
	}
	return &tbl
}

// Interpolate blends a and b with the table weight nearest below t.
func (p *PowerCompTable[F]) Interpolate(a, b, t F) F {
	idx := int(t*(PowerCompTableSize-1)) & powerCompTableMask
	w := p[idx]
	return a*(1-w) + b*w
}

// InterpolateLagrange4 evaluates the cubic through ym1, y0, y1, y2 at
// position t between y0 and y1, using Horner's scheme.
func InterpolateLagrange4[F simdops.Float](ym1, y0, y1, y2, t F) F {
	c0 := y0
	c1 := lagrangeHalf * (y1 - ym1)
	c2 := ym1 - lagrangeTwoAndHalf*y0 + lagrangeTwo*y1 - lagrangeHalf*y2
	c3 := lagrangeHalf*(y2-ym1) + lagrangeOneAndHalf*(y0-y1)

	return ((c3*t+c2)*t+c1)*t + c0
}

// lagrangeAt interpolates from posA-1 towards the newer neighbour posA.
// The fourth tap sits one slot past posA, which has not been written yet
// when posA is within one sample of cursor; y1 is held there instead.
func lagrangeAt[F simdops.Float](buf *ring.Buffer[F], posA, cursor int, t F) F {
	y1 := buf.At(posA)
	y2 := y1
	if cursor-posA >= lagrangeMinLead {
		y2 = buf.At(posA + 1)
	}
	return InterpolateLagrange4(buf.At(posA-2), buf.At(posA-1), y1, y2, t)
}

// InterpolateHybrid reads an oversampled buffer at base-rate position t past
// base. t is scaled onto the oversampled grid, the nearest grid point below
// is located, and the remainder is covered by a linear step. With factor <= 1
// there is no grid and the result is plain linear interpolation between
// base and base+1.
func InterpolateHybrid[F simdops.Float](buf *ring.Buffer[F], base int, t F, factor int) F {
	if factor <= 1 {
		return InterpolateLinear(buf.At(base), buf.At(base+1), t)
	}

	scaled := t * F(factor)
	idx := int(scaled)
	sub := scaled - F(idx)

	return InterpolateLinear(buf.At(base+idx), buf.At(base+idx+1), sub)
}
