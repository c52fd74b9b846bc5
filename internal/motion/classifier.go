// Package motion measures how much of a frame changed, as a percentage of its
// pixels, using interchangeable classification strategies.
package motion

import (
	"image"
	"image/draw"
	"strings"

	"github.com/nfnt/resize"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

// Kind selects a classification strategy.
type Kind int

const (
	// KindDecisionThreshold is a background model whose pixels are foreground
	// when their background likelihood falls below a cutoff.
	KindDecisionThreshold Kind = iota
	// KindSquaredDistance is a background model whose pixels are foreground when
	// too few stored samples lie within a squared distance.
	KindSquaredDistance
	// KindFrameDiff compares each frame with the previous one.
	KindFrameDiff
)

func (k Kind) String() string {
	switch k {
	case KindDecisionThreshold:
		return "GMG"
	case KindSquaredDistance:
		return "KNN"
	case KindFrameDiff:
		return "Frame_Diff"
	}
	return "unknown"
}

// ParseKind accepts the names used by the CLI and the web form.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gmg", "decision", "decision-threshold", "backgroundmodel-decisionthreshold":
		return KindDecisionThreshold, nil
	case "knn", "squared-distance", "backgroundmodel-squareddistance":
		return KindSquaredDistance, nil
	case "frame_diff", "frame diff", "frame-diff", "framediff", "framedifference":
		return KindFrameDiff, nil
	}
	return 0, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown classifier kind %q", s)
}

// Classifier turns a frame into the percentage of its pixels that changed.
// Implementations carry per-run state and must not be shared between runs.
type Classifier interface {
	// Apply updates the model with img and returns a fraction in [0,100].
	Apply(img *image.RGBA) float64
	Kind() Kind
}

// Sample is one classifier output.
type Sample struct {
	FrameIndex int
	Fraction   float64
}

// Params configures a classifier.
type Params struct {
	Kind              Kind
	History           int
	DecisionThreshold float64
	Dist2Threshold    float64
	DiffThreshold     uint8
}

// DefaultParams returns the defaults of the command-line tool.
func DefaultParams() Params {
	return Params{
		Kind:              KindDecisionThreshold,
		History:           DefaultHistory,
		DecisionThreshold: DefaultDecisionThreshold,
		Dist2Threshold:    DefaultDist2Threshold,
		DiffThreshold:     DefaultDiffThreshold,
	}
}

// New builds the classifier selected by p.Kind.
func New(p Params) (Classifier, error) {
	switch p.Kind {
	case KindDecisionThreshold:
		return NewBackgroundModel(p.Kind, p.History, p.DecisionThreshold)
	case KindSquaredDistance:
		return NewBackgroundModel(p.Kind, p.History, p.Dist2Threshold)
	case KindFrameDiff:
		return NewFrameDiff(p.DiffThreshold), nil
	}
	return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown classifier kind %d", int(p.Kind))
}

// compact returns img when its pixels start at Pix[0] with no row padding,
// otherwise a tightly packed copy. The models index Pix directly.
func compact(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	if b.Min == (image.Point{}) && img.Stride == 4*b.Dx() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// resizeToWidth scales img to width keeping the aspect ratio. The height is
// truncated, never rounded.
func resizeToWidth(img *image.RGBA, width int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return img
	}
	height := width * b.Dy() / b.Dx()
	if height < 1 {
		height = 1
	}
	if b.Dx() == width && b.Dy() == height {
		return compact(img)
	}

	out := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	if rgba, ok := out.(*image.RGBA); ok {
		return compact(rgba)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.Set(x, y, out.At(out.Bounds().Min.X+x, out.Bounds().Min.Y+y))
		}
	}
	return dst
}

func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}
