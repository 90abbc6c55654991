package filter

const (
	// TapsPerPhase is the number of input samples each output sample of the
	// upsampling filter draws on. The prototype length is TapsPerPhase*factor.
	TapsPerPhase = 8

	// Filter design limits
	minUpsampleFactor = 1
	maxUpsampleFactor = 16
	minFilterTaps     = 2

	// Prototype normalization
	filterGainTarget  = 1.0
	sumZeroThreshold  = 1e-12
	windowHalfDivisor = 2

	// Frequency response evaluation
	defaultResponsePoints = 512
	nyquistDivisor        = 2.0
)
