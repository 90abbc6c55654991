// Package engine implements the multi-channel fractional delay line: the
// interpolation and upsampling kernels, per-channel circular history, and the
// block processor that ramps the delay time smoothly across each block.
//
// Nothing in this package allocates once an Engine has been constructed.
package engine

import "fmt"

// Interpolation selects the kernel used to read between history samples.
type Interpolation uint32

const (
	// InterpLinear blends the two neighbouring samples linearly.
	InterpLinear Interpolation = iota
	// InterpPowerComplementary blends with sin² crossfade weights from a table.
	InterpPowerComplementary
	// InterpLagrange4 evaluates a 4-point cubic Lagrange polynomial.
	InterpLagrange4
	// InterpHybrid looks up the oversampled grid and finishes with a linear step.
	// It degrades to InterpLinear when oversampling is off.
	InterpHybrid
)

// String returns a human-readable name for the interpolation kernel.
func (i Interpolation) String() string {
	switch i {
	case InterpLinear:
		return "linear"
	case InterpPowerComplementary:
		return "power-complementary"
	case InterpLagrange4:
		return "lagrange4"
	case InterpHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("Interpolation(%d)", uint32(i))
	}
}

// Valid reports whether i names a known kernel.
func (i Interpolation) Valid() bool {
	return i <= InterpHybrid
}

// UpsampleMethod selects the algorithm that expands a block by the
// oversampling factor.
type UpsampleMethod uint32

const (
	// UpsampleLinear ramps between successive input samples.
	UpsampleLinear UpsampleMethod = iota
	// UpsampleSinc evaluates an 8-tap Blackman-windowed sinc per output sample.
	UpsampleSinc
	// UpsamplePolyphase filters with a precomputed polyphase FIR bank.
	UpsamplePolyphase
)

// String returns a human-readable name for the upsampling method.
func (m UpsampleMethod) String() string {
	switch m {
	case UpsampleLinear:
		return "linear"
	case UpsampleSinc:
		return "sinc"
	case UpsamplePolyphase:
		return "polyphase"
	default:
		return fmt.Sprintf("UpsampleMethod(%d)", uint32(m))
	}
}

// Valid reports whether m names a known method.
func (m UpsampleMethod) Valid() bool {
	return m <= UpsamplePolyphase
}

// Snapshot is the set of real-time controllable values one block is
// processed with. It is taken once per block and never changes during it.
type Snapshot struct {
	DelayTime float64 // seconds
	WetDry    float64 // 0 = dry only, 1 = wet only
	Feedback  float64
	Distance  float64 // metres; 0 means use DelayTime
}

// TargetDelay returns the delay time the block should ramp towards.
func (s Snapshot) TargetDelay() float64 {
	if s.Distance > 0 {
		return roundTripFactor * s.Distance / SpeedOfSound
	}
	return s.DelayTime
}

// SkipResult reports whether a skipped voice would still produce output.
type SkipResult int

const (
	// DataReady means the history still holds audible data.
	DataReady SkipResult = iota
	// NoMoreData means the output would be silent from here on.
	NoMoreData
)

// String returns the name of the result.
func (r SkipResult) String() string {
	if r == DataReady {
		return "data-ready"
	}
	return "no-more-data"
}

// DopplerObserver receives the pitch ratio implied by one block's delay ramp.
// It is a diagnostic hook and never affects the audio.
type DopplerObserver func(channel int, ratio float64)

// DopplerRatio returns the playback-rate ratio produced by moving the read
// position from previous to current delay over blockDuration seconds.
// A shrinking delay gives a ratio above 1 (pitch up).
func DopplerRatio(current, previous, blockDuration float64) float64 {
	if blockDuration <= 0 {
		return 1
	}
	return 1 - (current-previous)/blockDuration
}
