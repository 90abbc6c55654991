package engine

// Delay line geometry
const (
	// HistoryLen is the base-rate history capacity of every channel:
	// 2^17 samples, a little over 2.7 s at 48 kHz.
	HistoryLen = 1 << 17

	// MaxBlockFrames bounds the number of frames in a single block.
	MaxBlockFrames = 65535

	// Samples kept free behind the longest delay so every kernel tap
	// still lands on history that has not been overwritten.
	delayHeadroom = 8
)

// Physical constants
const (
	// SpeedOfSound in m/s. Distance is converted to a round trip delay.
	SpeedOfSound = 343.0

	roundTripFactor = 2.0
)

// Interpolation constants
const (
	// PowerCompTableSize is the number of crossfade weights in the
	// power-complementary table. Must be a power of two.
	PowerCompTableSize = 256
	powerCompTableMask = PowerCompTableSize - 1

	// 4-point Lagrange coefficients:
	// c1 = 0.5*(y1-ym1)
	// c2 = ym1 - 2.5*y0 + 2*y1 - 0.5*y2
	// c3 = 0.5*(y2-ym1) + 1.5*(y0-y1)
	lagrangeHalf       = 0.5
	lagrangeOneAndHalf = 1.5
	lagrangeTwoAndHalf = 2.5
	lagrangeTwo        = 2.0

	// The 4-point kernel reads one slot newer than its nearer neighbour, so
	// that neighbour must trail the write cursor by at least two slots.
	lagrangeMinLead = 2
)

// Oversampling constants
const (
	// Supported oversampling factors.
	FactorNone = 1
	Factor2x   = 2
	Factor4x   = 4
	Factor8x   = 8
	Factor16x  = 16

	// Windowed-sinc upsampler geometry: 8 taps spanning x[floor(p)-3 .. floor(p)+4].
	sincTaps        = 8
	sincLookbehind  = 3
	sincWindowWidth = 4.0
)
