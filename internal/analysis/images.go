package analysis

import (
	"fmt"
	"math"
)

// ImageReport describes how well an upsampler suppressed the spectral images
// of a single test tone.
type ImageReport struct {
	Tone         float64 // Hz
	Fundamental  float64 // linear magnitude at the tone
	WorstImage   float64 // linear magnitude of the strongest image
	WorstImageHz float64
	RejectionDB  float64 // fundamental over worst image
}

// ImageRejection analyses a tone at baseRate that was upsampled by factor.
//
// Upsampling a tone at f leaves images at k*baseRate ± f. Every image below
// the new Nyquist frequency is measured and the strongest one reported.
func ImageRejection(upsampled []float64, baseRate float64, factor int, tone float64) (ImageReport, error) {
	if factor < 2 {
		return ImageReport{}, fmt.Errorf("analysis: image rejection needs factor >= 2, got %d", factor)
	}
	if tone <= 0 || tone >= baseRate/halfDivisor {
		return ImageReport{}, fmt.Errorf("analysis: tone %.1f Hz outside (0, %.1f)", tone, baseRate/halfDivisor)
	}

	rate := baseRate * float64(factor)
	spec, err := ComputeSpectrum(upsampled, rate)
	if err != nil {
		return ImageReport{}, err
	}

	report := ImageReport{Tone: tone, Fundamental: spec.PeakNear(tone, peakSearchBins)}
	nyquist := rate / halfDivisor
	for k := 1; float64(k)*baseRate-tone < nyquist; k++ {
		for _, img := range []float64{float64(k)*baseRate - tone, float64(k)*baseRate + tone} {
			if img >= nyquist {
				continue
			}
			if m := spec.PeakNear(img, peakSearchBins); m > report.WorstImage {
				report.WorstImage, report.WorstImageHz = m, img
			}
		}
	}

	report.RejectionDB = MagnitudeDB(report.Fundamental) - MagnitudeDB(report.WorstImage)
	return report, nil
}

// ToneSignal returns n samples of a unit-amplitude sine at freq.
func ToneSignal(n int, freq, sampleRate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
	}
	return out
}
