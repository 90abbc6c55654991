// Package filter provides the FIR design used by the oversampling paths of the
// delay engine.
package filter

import (
	"fmt"
	"math"

	"github.com/tphakala/go-delayline/internal/mathutil"
	"github.com/tphakala/go-delayline/internal/simdops"
)

// FilterParams holds parameters for windowed-sinc lowpass design.
type FilterParams struct {
	// NumTaps is the filter length. The impulse response is centered on tap
	// NumTaps/2, so for even lengths the first tap is the (zero) window edge
	// and the filter delay is an integer number of samples.
	NumTaps int

	// CutoffFreq is the normalized cutoff frequency (0 to 0.5]
	// 0.5 represents Nyquist frequency (half the sample rate)
	CutoffFreq float64

	// Gain is the DC gain after normalization (typically 1.0)
	Gain float64
}

// Validate checks if filter parameters are valid.
func (fp *FilterParams) Validate() error {
	if fp.NumTaps < minFilterTaps {
		return fmt.Errorf("filter too short: %d taps (minimum %d)", fp.NumTaps, minFilterTaps)
	}

	if fp.CutoffFreq <= 0 || fp.CutoffFreq > 0.5 {
		return fmt.Errorf("invalid cutoff frequency: %f (must be in (0, 0.5])", fp.CutoffFreq)
	}

	if fp.Gain <= 0 {
		return fmt.Errorf("invalid gain: %f (must be positive)", fp.Gain)
	}

	return nil
}

// Center returns the index of the filter's peak tap.
func (fp *FilterParams) Center() int {
	return fp.NumTaps / windowHalfDivisor
}

// DesignLowPassFilter designs a Blackman-windowed sinc lowpass FIR filter.
//
// The ideal response 2fc·sinc(2fc·x) is truncated to NumTaps samples around
// Center(), tapered with a Blackman window spanning ±Center() samples, and
// scaled so the coefficients sum to Gain (unit DC gain for Gain = 1).
func DesignLowPassFilter(params FilterParams) ([]float64, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	center := params.Center()
	halfWidth := float64(center)
	twoFc := nyquistDivisor * params.CutoffFreq

	filter := make([]float64, params.NumTaps)
	for n := range params.NumTaps {
		x := float64(n - center)
		filter[n] = twoFc * mathutil.Sinc(twoFc*x) * mathutil.Blackman(x/halfWidth)
	}

	ops := simdops.For[float64]()
	sum := ops.Sum(filter)
	if math.Abs(sum) < sumZeroThreshold {
		return nil, fmt.Errorf("designed zero-sum filter (%d taps, cutoff %f)", params.NumTaps, params.CutoffFreq)
	}
	ops.Scale(filter, filter, params.Gain/sum)

	return filter, nil
}

// DesignUpsamplingFilter designs the anti-imaging filter for integer
// upsampling by factor: TapsPerPhase*factor taps, cutoff at 1/factor of the
// input Nyquist band, Blackman window, unit DC gain.
//
// For factor 1 the result is a unit impulse at the center tap.
func DesignUpsamplingFilter(factor int) ([]float64, error) {
	if factor < minUpsampleFactor || factor > maxUpsampleFactor {
		return nil, fmt.Errorf("upsampling factor %d out of range [%d, %d]",
			factor, minUpsampleFactor, maxUpsampleFactor)
	}

	return DesignLowPassFilter(FilterParams{
		NumTaps:    TapsPerPhase * factor,
		CutoffFreq: 0.5 / float64(factor),
		Gain:       filterGainTarget,
	})
}

// FilterResponse holds the frequency response of a filter.
type FilterResponse struct {
	// Frequencies at which response was calculated (normalized, 0 to 0.5)
	Frequencies []float64

	// Magnitude response at each frequency (linear scale)
	Magnitude []float64

	// Phase response at each frequency (radians)
	Phase []float64
}

// ComputeFrequencyResponse evaluates the DTFT of a FIR filter at numPoints
// frequencies from DC up to (but excluding) Nyquist.
func ComputeFrequencyResponse(coeffs []float64, numPoints int) FilterResponse {
	if numPoints <= 0 {
		numPoints = defaultResponsePoints
	}

	response := FilterResponse{
		Frequencies: make([]float64, numPoints),
		Magnitude:   make([]float64, numPoints),
		Phase:       make([]float64, numPoints),
	}

	for k := range numPoints {
		freq := float64(k) / (nyquistDivisor * float64(numPoints))
		response.Frequencies[k] = freq

		// H(e^jω) = Σ h[n]·e^(-jωn)
		var realPart, imagPart float64
		omega := 2 * math.Pi * freq

		for n, h := range coeffs {
			angle := omega * float64(n)
			realPart += h * math.Cos(angle)
			imagPart -= h * math.Sin(angle)
		}

		response.Magnitude[k] = math.Sqrt(realPart*realPart + imagPart*imagPart)
		response.Phase[k] = math.Atan2(imagPart, realPart)
	}

	return response
}

// MagnitudeDB converts linear magnitude to decibels.
func MagnitudeDB(magnitude float64) float64 {
	const (
		minMagnitude = 1e-10 // Avoid log(0)
		dbMultiplier = 20.0  // 20*log10 for magnitude
	)

	if magnitude < minMagnitude {
		magnitude = minMagnitude
	}
	return dbMultiplier * math.Log10(magnitude)
}
