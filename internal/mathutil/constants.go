package mathutil

// Sinc evaluation constants
const (
	// Below this magnitude sinc(x) is treated as its limit value 1.
	sincZeroThreshold = 1e-12
)

// Blackman window coefficients (classic, non-exact form).
// w(x) = a0 + a1*cos(πx) + a2*cos(2πx) for x in [-1, 1]
const (
	blackmanA0 = 0.42
	blackmanA1 = 0.5
	blackmanA2 = 0.08
)

// Hann crossfade constants
const (
	hannHalf = 0.5
)
