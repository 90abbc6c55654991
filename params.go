package delayline

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
)

// ParamID identifies a single effect parameter.
type ParamID uint32

// Parameter IDs. The first four are real-time and may change every block;
// the rest are read when the effect is created.
const (
	ParamDelayTime ParamID = iota
	ParamWetDryMix
	ParamFeedback
	ParamDistance
	ParamInterpolation
	ParamOversampling
	ParamUpsampling

	paramCount
)

var paramNames = [paramCount]string{
	"delay_time",
	"wet_dry_mix",
	"feedback",
	"distance",
	"interpolation",
	"oversampling",
	"upsampling",
}

func (id ParamID) String() string {
	if id < paramCount {
		return paramNames[id]
	}
	return fmt.Sprintf("ParamID(%d)", uint32(id))
}

// ParamByName looks up a parameter ID by its String form.
func ParamByName(name string) (ParamID, bool) {
	for i, n := range paramNames {
		if n == name {
			return ParamID(i), true
		}
	}
	return 0, false
}

// Realtime reports whether the parameter may change while audio runs.
func (id ParamID) Realtime() bool { return id <= ParamDistance }

// ParamMask is a set of changed parameters, one bit per ParamID.
type ParamMask uint32

// AllParams has a bit set for every parameter.
const AllParams ParamMask = 1<<paramCount - 1

// Has reports whether id is in the mask.
func (m ParamMask) Has(id ParamID) bool { return m&(1<<id) != 0 }

// StaticParams are the settings fixed for an effect's lifetime.
type StaticParams struct {
	Interpolation    Interpolation
	OversampleFactor int
	Upsampling       UpsampleMethod
}

// Parameters holds the effect parameters.
//
// Every value is stored atomically, so a single control goroutine may write
// while the audio goroutine reads without locks. Float values are kept as
// their IEEE 754 bits.
type Parameters struct {
	delayTime atomic.Uint64
	wetDry    atomic.Uint64
	feedback  atomic.Uint64
	distance  atomic.Uint64

	interpolation atomic.Uint32
	oversampling  atomic.Uint32
	upsampling    atomic.Uint32

	changes atomic.Uint32
}

// NewParameters returns parameters holding the defaults, all marked changed.
func NewParameters() *Parameters {
	p := &Parameters{}
	p.LoadDefaults()
	return p
}

// LoadDefaults restores every parameter to its default and marks all changed.
func (p *Parameters) LoadDefaults() {
	p.delayTime.Store(math.Float64bits(DefaultDelayTime))
	p.wetDry.Store(math.Float64bits(DefaultWetDryMix))
	p.feedback.Store(math.Float64bits(DefaultFeedback))
	p.distance.Store(math.Float64bits(DefaultDistance))
	p.interpolation.Store(uint32(DefaultInterpolation))
	p.oversampling.Store(DefaultOversampling)
	p.upsampling.Store(uint32(DefaultUpsampling))
	p.changes.Store(uint32(AllParams))
}

// SetParam sets a single parameter. Enum parameters take the numeric value
// of the enum and are sanitised like a parameter block. Non-finite values
// and unknown IDs return ErrInvalidParameter and leave everything unchanged.
func (p *Parameters) SetParam(id ParamID, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidParameter, id, value)
	}
	if !id.Realtime() && value < 0 {
		return fmt.Errorf("%w: %s must be >= 0, got %v", ErrInvalidParameter, id, value)
	}

	switch id {
	case ParamDelayTime:
		p.delayTime.Store(math.Float64bits(value))
	case ParamWetDryMix:
		p.wetDry.Store(math.Float64bits(value))
	case ParamFeedback:
		p.feedback.Store(math.Float64bits(value))
	case ParamDistance:
		p.distance.Store(math.Float64bits(value))
	case ParamInterpolation:
		p.interpolation.Store(uint32(sanitizeInterpolation(enumValue(value))))
	case ParamOversampling:
		p.oversampling.Store(uint32(sanitizeFactor(enumValue(value))))
	case ParamUpsampling:
		p.upsampling.Store(uint32(sanitizeUpsampling(enumValue(value))))
	default:
		return fmt.Errorf("%w: unknown parameter ID %d", ErrInvalidParameter, uint32(id))
	}

	p.changes.Or(1 << id)
	return nil
}

// Param returns the current value of a parameter.
func (p *Parameters) Param(id ParamID) (float64, error) {
	switch id {
	case ParamDelayTime:
		return math.Float64frombits(p.delayTime.Load()), nil
	case ParamWetDryMix:
		return math.Float64frombits(p.wetDry.Load()), nil
	case ParamFeedback:
		return math.Float64frombits(p.feedback.Load()), nil
	case ParamDistance:
		return math.Float64frombits(p.distance.Load()), nil
	case ParamInterpolation:
		return float64(p.interpolation.Load()), nil
	case ParamOversampling:
		return float64(p.oversampling.Load()), nil
	case ParamUpsampling:
		return float64(p.upsampling.Load()), nil
	default:
		return 0, fmt.Errorf("%w: unknown parameter ID %d", ErrInvalidParameter, uint32(id))
	}
}

// Snapshot returns the real-time values. Take one per block.
func (p *Parameters) Snapshot() Snapshot {
	return Snapshot{
		DelayTime: math.Float64frombits(p.delayTime.Load()),
		WetDry:    math.Float64frombits(p.wetDry.Load()),
		Feedback:  math.Float64frombits(p.feedback.Load()),
		Distance:  math.Float64frombits(p.distance.Load()),
	}
}

// Static returns the settings that are fixed once an effect is created.
func (p *Parameters) Static() StaticParams {
	return StaticParams{
		Interpolation:    Interpolation(p.interpolation.Load()),
		OversampleFactor: int(p.oversampling.Load()),
		Upsampling:       UpsampleMethod(p.upsampling.Load()),
	}
}

// ConsumeChanges returns the parameters changed since the last call and
// clears the set.
func (p *Parameters) ConsumeChanges() ParamMask {
	return ParamMask(p.changes.Swap(0))
}

// Changes returns the changed set without clearing it.
func (p *Parameters) Changes() ParamMask {
	return ParamMask(p.changes.Load())
}

// SetParamsBlock loads parameters from a serialised bank block.
//
// The block holds delay time, wet/dry mix, feedback and distance as
// little-endian float32, then interpolation and oversampling factor as
// little-endian uint32 (24 bytes). A 28-byte block carries the upsampling
// method as a third uint32. An empty block loads the defaults. Any other
// size returns ErrParamsBlockSize and leaves the values untouched.
func (p *Parameters) SetParamsBlock(block []byte) error {
	switch len(block) {
	case 0:
		p.LoadDefaults()
		return nil
	case paramsBlockSize, paramsBlockSizeX:
	default:
		return fmt.Errorf("%w: got %d bytes, want %d or %d",
			ErrParamsBlockSize, len(block), paramsBlockSize, paramsBlockSizeX)
	}

	var rtpc [rtpcFieldCount]float64
	for i := range rtpc {
		bits := binary.LittleEndian.Uint32(block[i*fieldSize:])
		rtpc[i] = float64(math.Float32frombits(bits))
		if math.IsNaN(rtpc[i]) || math.IsInf(rtpc[i], 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidParameter, ParamID(i))
		}
	}

	off := rtpcFieldCount * fieldSize
	interp := binary.LittleEndian.Uint32(block[off:])
	factor := binary.LittleEndian.Uint32(block[off+fieldSize:])
	method := uint32(DefaultUpsampling)
	if len(block) == paramsBlockSizeX {
		method = binary.LittleEndian.Uint32(block[off+2*fieldSize:])
	}

	p.delayTime.Store(math.Float64bits(rtpc[ParamDelayTime]))
	p.wetDry.Store(math.Float64bits(rtpc[ParamWetDryMix]))
	p.feedback.Store(math.Float64bits(rtpc[ParamFeedback]))
	p.distance.Store(math.Float64bits(rtpc[ParamDistance]))
	p.interpolation.Store(uint32(sanitizeInterpolation(interp)))
	p.oversampling.Store(uint32(sanitizeFactor(factor)))
	p.upsampling.Store(uint32(sanitizeUpsampling(method)))
	p.changes.Store(uint32(AllParams))
	return nil
}

// MarshalBinary encodes the parameters as a 28-byte bank block.
func (p *Parameters) MarshalBinary() ([]byte, error) {
	snap := p.Snapshot()
	static := p.Static()

	block := make([]byte, paramsBlockSizeX)
	rtpc := [rtpcFieldCount]float64{snap.DelayTime, snap.WetDry, snap.Feedback, snap.Distance}
	for i, v := range rtpc {
		binary.LittleEndian.PutUint32(block[i*fieldSize:], math.Float32bits(float32(v)))
	}

	off := rtpcFieldCount * fieldSize
	binary.LittleEndian.PutUint32(block[off:], uint32(static.Interpolation))
	binary.LittleEndian.PutUint32(block[off+fieldSize:], uint32(static.OversampleFactor))
	binary.LittleEndian.PutUint32(block[off+2*fieldSize:], uint32(static.Upsampling))
	return block, nil
}

// UnmarshalBinary is SetParamsBlock.
func (p *Parameters) UnmarshalBinary(data []byte) error {
	return p.SetParamsBlock(data)
}

func enumValue(v float64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// Unknown kernels fall back to linear.
func sanitizeInterpolation(v uint32) Interpolation {
	i := Interpolation(v)
	if !i.Valid() {
		return InterpLinear
	}
	return i
}

// Factors round down to the nearest supported power of two in [1, 16].
func sanitizeFactor(v uint32) int {
	switch {
	case v >= 16:
		return 16
	case v >= 8:
		return 8
	case v >= 4:
		return 4
	case v >= 2:
		return 2
	default:
		return 1
	}
}

// Unknown upsampling methods fall back to polyphase.
func sanitizeUpsampling(v uint32) UpsampleMethod {
	m := UpsampleMethod(v)
	if !m.Valid() {
		return UpsamplePolyphase
	}
	return m
}
