package analysis

const (
	// MinDB is the floor used when converting magnitudes to dB.
	MinDB = -200.0

	dbFactor        = 20.0
	halfDivisor     = 2.0
	singleSidedGain = 2.0

	// Half-width of the Blackman main lobe in bins; peaks are searched
	// this far either side of the nominal bin.
	peakSearchBins = 3
)
