// Package mathutil provides small numeric helpers shared by the filter design
// and delay engine packages.
package mathutil

import (
	"math"
	"math/bits"
)

// Sinc computes the normalized sinc function sin(πx)/(πx).
//
// Sinc(0) = 1 and Sinc(k) = 0 for every non-zero integer k, which is what
// makes a sinc kernel sampled on the integer grid an identity filter.
func Sinc(x float64) float64 {
	if math.Abs(x) < sincZeroThreshold {
		return 1.0
	}

	pix := math.Pi * x
	return math.Sin(pix) / pix
}

// Blackman evaluates a continuous Blackman window at normalized position x.
//
// x is measured from the window center: x = 0 is the peak (value 1.0) and
// |x| = 1 is the window edge (value 0.0). Positions outside [-1, 1] return 0.
func Blackman(x float64) float64 {
	ax := math.Abs(x)
	if ax >= 1.0 {
		return 0
	}

	// Shift to the [0, 1] cosine form so that x=0 is the maximum.
	return blackmanA0 + blackmanA1*math.Cos(math.Pi*x) + blackmanA2*math.Cos(2*math.Pi*x)
}

// HannRise returns the rising half of a Hann window at position t in [0, 1]:
// sin²(πt/2) = 0.5 - 0.5*cos(πt). It goes from 0 at t=0 to 1 at t=1.
func HannRise(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}

	return hannHalf - hannHalf*math.Cos(math.Pi*t)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1).
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}

	return 1 << bits.Len(uint(n-1))
}
