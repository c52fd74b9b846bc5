package video

// Decoder defaults
const (
	// Frame rate assumed when the container does not report one
	DefaultFPS = 25.0

	// Bytes per pixel of the rgb24 stream read from ffmpeg
	rgbBytesPerPixel = 3

	// Upper bound on frames decoded ahead of the classifier
	MaxPrefetchDepth = 64
)
