package motion

// Classifier constants
const (
	// Frames are modelled at this width; the full-resolution frame is kept for capture
	WorkingWidth = 640

	// Defaults matching the command-line tool
	DefaultHistory           = 15
	DefaultDecisionThreshold = 0.75
	DefaultDist2Threshold    = 100.0

	// Decision-threshold model
	decisionLevels       = 16    // intensity quantization bins per pixel
	decisionLearningRate = 0.025 // histogram update weight per frame
	decisionPrior        = 0.8   // prior probability of background

	// Squared-distance model
	distSamples = 7 // samples kept per pixel
	distNeeded  = 3 // matching samples needed to call a pixel background

	// Frame-difference classifier
	DefaultDiffThreshold = 80  // intensity delta marking a pixel changed
	diffBlurSigma        = 1.1 // sigma of a 5x5 Gaussian kernel
	diffDilateSize       = 3
)
