// Package video decodes a video into an ordered, finite sequence of raster frames.
package video

import (
	"context"
	"image"
	"io"
	"time"
)

// Frame is a single decoded frame.
type Frame struct {
	// Index is 1-based and increases by one per decoded frame.
	Index int
	// Timestamp is the presentation time relative to the start of the stream.
	Timestamp time.Duration
	// Image holds the full-resolution pixels.
	Image *image.RGBA
}

// Source yields frames in presentation order. Next returns io.EOF once the
// stream is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	// FrameCount is the container's frame count estimate, 0 when unknown.
	FrameCount() int
	Close() error
}

// SliceSource serves frames from memory. Used for image sequences and tests.
type SliceSource struct {
	images []image.Image
	fps    float64
	pos    int
}

// NewSliceSource creates a source over images at the given frame rate.
func NewSliceSource(images []image.Image, fps float64) *SliceSource {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &SliceSource{images: images, fps: fps}
}

// Next returns the next frame or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.images) {
		return Frame{}, io.EOF
	}
	img := s.images[s.pos]
	s.pos++
	return Frame{
		Index:     s.pos,
		Timestamp: frameTime(s.pos-1, s.fps),
		Image:     ToRGBA(img),
	}, nil
}

// FrameCount returns the number of frames held.
func (s *SliceSource) FrameCount() int { return len(s.images) }

// Close is a no-op.
func (s *SliceSource) Close() error { return nil }

// ToRGBA returns img as *image.RGBA, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return dst
}

func frameTime(i int, fps float64) time.Duration {
	return time.Duration(float64(i) / fps * float64(time.Second))
}
