package filter

import (
	"fmt"
)

// PolyphaseBank is the polyphase decomposition of an upsampling filter.
//
// Upsampling by Factor conceptually inserts Factor-1 zeros between input
// samples and convolves with the prototype. Only every Factor-th prototype tap
// ever meets a non-zero input, so output phase p (output index i*Factor+p)
// reduces to a TapsPerPhase-long dot product against the input window
// x[i-Lookbehind .. i+Lookahead]:
//
//	y[i*Factor+p] = Σ_k Phases[p][k] * x[i-Lookbehind+k]
//
// Phases are stored pre-reversed and pre-scaled by Factor (to restore the
// energy lost to zero stuffing), so the inner loop is a plain dot product.
type PolyphaseBank struct {
	// Phases holds Factor rows of TapsPerPhase coefficients, phase-first.
	Phases [][]float64

	// Prototype is the unit-DC-gain prototype filter the bank was built from.
	Prototype []float64

	// Factor is the upsampling factor (number of phases).
	Factor int

	// TapsPerPhase is the dot product length per output sample.
	TapsPerPhase int

	// Lookbehind is the number of past input samples in each window.
	Lookbehind int

	// Lookahead is the number of future input samples in each window.
	Lookahead int
}

// DesignPolyphaseBank designs the upsampling prototype for factor and
// decomposes it into phases.
func DesignPolyphaseBank(factor int) (*PolyphaseBank, error) {
	prototype, err := DesignUpsamplingFilter(factor)
	if err != nil {
		return nil, fmt.Errorf("failed to design prototype filter: %w", err)
	}

	return DecomposePolyphase(prototype, factor)
}

// DecomposePolyphase splits a prototype centered on tap len/2 into factor
// phases. len(prototype) must be a multiple of factor.
func DecomposePolyphase(prototype []float64, factor int) (*PolyphaseBank, error) {
	if factor < 1 {
		return nil, fmt.Errorf("invalid factor %d", factor)
	}
	if len(prototype) == 0 || len(prototype)%factor != 0 {
		return nil, fmt.Errorf("prototype length %d is not a multiple of factor %d", len(prototype), factor)
	}

	taps := len(prototype) / factor
	half := taps / windowHalfDivisor

	// With the prototype centered on tap half*factor, output i*factor+p
	// draws tap p+j*factor against input x[i+half-j]. Reversing j turns
	// that into a forward window starting at x[i-(half-1)].
	bank := &PolyphaseBank{
		Phases:       make([][]float64, factor),
		Prototype:    prototype,
		Factor:       factor,
		TapsPerPhase: taps,
		Lookbehind:   half - 1,
		Lookahead:    taps - half,
	}

	scale := float64(factor)
	for p := range factor {
		phase := make([]float64, taps)
		for k := range taps {
			j := taps - 1 - k
			phase[k] = prototype[p+j*factor] * scale
		}
		bank.Phases[p] = phase
	}

	return bank, nil
}

// PhaseGain returns the DC gain of a single phase. A well-formed upsampling
// filter has every phase gain close to 1.
func (pb *PolyphaseBank) PhaseGain(phase int) float64 {
	var sum float64
	for _, c := range pb.Phases[phase] {
		sum += c
	}
	return sum
}

// GetMemoryUsage returns the approximate memory usage in bytes.
func (pb *PolyphaseBank) GetMemoryUsage() int64 {
	const bytesPerFloat64 = 8
	return int64(len(pb.Prototype)+pb.Factor*pb.TapsPerPhase) * bytesPerFloat64
}
