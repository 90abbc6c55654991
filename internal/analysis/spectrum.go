// Package analysis measures the spectral behaviour of the upsampling paths:
// windowed FFT magnitude spectra and the rejection of the images that
// upsampling leaves around multiples of the original sample rate.
package analysis

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/tphakala/go-delayline/internal/mathutil"
	"github.com/tphakala/go-delayline/internal/simdops"
	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrEmptySignal is returned when there is nothing to analyse.
var ErrEmptySignal = errors.New("analysis: empty signal")

// Spectrum is the single-sided magnitude spectrum of a real signal.
//
// Magnitudes are amplitude-normalised: a sine of amplitude A that falls on a
// bin shows up with magnitude A.
type Spectrum struct {
	Magnitude  []float64 // bins 0 .. Size/2
	SampleRate float64
	Size       int // FFT length
}

// ComputeSpectrum windows signal with a Blackman window, zero-pads it to a
// power of two and returns its magnitude spectrum.
func ComputeSpectrum(signal []float64, sampleRate float64) (*Spectrum, error) {
	if len(signal) == 0 {
		return nil, ErrEmptySignal
	}

	n := len(signal)
	size := mathutil.NextPowerOfTwo(n)

	window := make([]float64, n)
	half := float64(n) / halfDivisor
	for i := range window {
		window[i] = mathutil.Blackman((float64(i) - half) / half)
	}
	ops := simdops.For[float64]()
	windowSum := ops.Sum(window)

	padded := make([]float64, size)
	for i, v := range signal {
		padded[i] = v * window[i]
	}

	fft := fourier.NewFFT(size)
	coeffs := fft.Coefficients(nil, padded)

	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = cmplx.Abs(c)
	}
	// Single-sided: fold the negative half in, then undo the window gain.
	ops.Scale(mags, mags, singleSidedGain/windowSum)

	return &Spectrum{Magnitude: mags, SampleRate: sampleRate, Size: size}, nil
}

// BinFrequency returns the center frequency of bin k in Hz.
func (s *Spectrum) BinFrequency(k int) float64 {
	return float64(k) * s.SampleRate / float64(s.Size)
}

// Bin returns the bin nearest to freq, clamped to the spectrum.
func (s *Spectrum) Bin(freq float64) int {
	k := int(math.Round(freq * float64(s.Size) / s.SampleRate))
	return min(max(k, 0), len(s.Magnitude)-1)
}

// PeakNear returns the largest magnitude within ±width bins of freq.
func (s *Spectrum) PeakNear(freq float64, width int) float64 {
	center := s.Bin(freq)
	lo := max(center-width, 0)
	hi := min(center+width, len(s.Magnitude)-1)

	var peak float64
	for _, m := range s.Magnitude[lo : hi+1] {
		peak = max(peak, m)
	}
	return peak
}

// Peak returns the bin and magnitude of the largest non-DC component.
func (s *Spectrum) Peak() (int, float64) {
	bin, peak := 0, 0.0
	for k := 1; k < len(s.Magnitude); k++ {
		if s.Magnitude[k] > peak {
			bin, peak = k, s.Magnitude[k]
		}
	}
	return bin, peak
}

// MagnitudeDB converts a linear magnitude to dB, floored at MinDB.
func MagnitudeDB(m float64) float64 {
	if m <= 0 {
		return MinDB
	}
	return max(dbFactor*math.Log10(m), MinDB)
}

// ToFloat64 widens a sample slice for analysis.
func ToFloat64[F float32 | float64](s []F) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}
