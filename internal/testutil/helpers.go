// Package testutil provides reusable test helpers for the delay line packages.
package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Default tolerances for various test scenarios.
const (
	DefaultTolerance = 1e-10
	SampleTolerance  = 1e-5 // float32 sample comparisons
	ImpulseTolerance = 1e-3 // fractional-delay impulse peaks
)

// Sample is the set of sample types helpers accept.
type Sample interface {
	~float32 | ~float64
}

// AssertNoNaNOrInf verifies that no elements in the slice are NaN or Inf.
func AssertNoNaNOrInf[S Sample](t *testing.T, s []S, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		f := float64(v)
		if math.IsNaN(f) {
			return assert.Fail(t, "found NaN", "s[%d] is NaN", i)
		}
		if math.IsInf(f, 0) {
			return assert.Fail(t, "found Inf", "s[%d] is Inf", i)
		}
	}
	return true
}

// AssertDCGain verifies that the sum of coefficients equals the expected DC gain.
func AssertDCGain(t *testing.T, coeffs []float64, expectedGain, tolerance float64) bool {
	t.Helper()
	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	return assert.InDelta(t, expectedGain, sum, tolerance,
		"DC gain = %f, want %f", sum, expectedGain)
}

// AssertMonotonic verifies that a slice is monotonically non-decreasing.
func AssertMonotonic[S Sample](t *testing.T, s []S, msgAndArgs ...any) bool {
	t.Helper()
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			return assert.Fail(t, "not monotonic",
				"s[%d]=%f < s[%d]=%f", i, float64(s[i]), i-1, float64(s[i-1]))
		}
	}
	return true
}

// AssertSlicesInDelta verifies two slices are element-wise within tolerance.
func AssertSlicesInDelta[S Sample](t *testing.T, expected, actual []S, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Len(t, actual, len(expected), msgAndArgs...) {
		return false
	}
	for i := range expected {
		if math.Abs(float64(expected[i])-float64(actual[i])) > tolerance {
			return assert.Fail(t, "slices differ",
				"index %d: expected %g, got %g (tolerance %g)", i, float64(expected[i]), float64(actual[i]), tolerance)
		}
	}
	return true
}

// AssertAllZero verifies every element is within tolerance of zero.
func AssertAllZero[S Sample](t *testing.T, s []S, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if math.Abs(float64(v)) > tolerance {
			return assert.Fail(t, "non-zero sample", "s[%d]=%g", i, float64(v))
		}
	}
	return true
}

// AssertLengthEquals verifies that a slice has the expected length.
func AssertLengthEquals[S Sample](t *testing.T, s []S, expectedLen int, msgAndArgs ...any) bool {
	t.Helper()
	return assert.Len(t, s, expectedLen, msgAndArgs...)
}

// Impulse returns a slice of n zeros with a 1.0 at index at.
func Impulse[S Sample](n, at int) []S {
	s := make([]S, n)
	if at >= 0 && at < n {
		s[at] = 1
	}
	return s
}

// Sine returns n samples of a unit-amplitude sine at freq Hz.
func Sine[S Sample](n int, freq, sampleRate float64) []S {
	s := make([]S, n)
	for i := range s {
		s[i] = S(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return s
}

// PeakIndex returns the index and absolute value of the largest-magnitude sample.
// It returns -1 for an empty slice.
func PeakIndex[S Sample](s []S) (int, float64) {
	idx, peak := -1, 0.0
	for i, v := range s {
		if a := math.Abs(float64(v)); idx < 0 || a > peak {
			idx, peak = i, a
		}
	}
	return idx, peak
}
