package motion

import (
	"image"

	"github.com/disintegration/gift"
)

// FrameDiff measures change between consecutive frames: blurred grayscale
// frames are differenced, binarized and dilated.
type FrameDiff struct {
	threshold uint8
	prep      *gift.GIFT
	dilate    *gift.GIFT
	prev      *image.Gray
}

// NewFrameDiff creates a frame-difference classifier. threshold is the
// intensity delta above which a pixel counts as changed.
func NewFrameDiff(threshold uint8) *FrameDiff {
	if threshold == 0 {
		threshold = DefaultDiffThreshold
	}
	return &FrameDiff{
		threshold: threshold,
		prep:      gift.New(gift.Grayscale(), gift.GaussianBlur(diffBlurSigma)),
		dilate:    gift.New(gift.Maximum(diffDilateSize, false)),
	}
}

// Kind reports KindFrameDiff.
func (d *FrameDiff) Kind() Kind { return KindFrameDiff }

// Apply returns the changed-pixel percentage against the previous frame. The
// first frame has no reference and reports 100.
func (d *FrameDiff) Apply(img *image.RGBA) float64 {
	small := resizeToWidth(img, WorkingWidth)
	gray := image.NewGray(d.prep.Bounds(small.Bounds()))
	d.prep.Draw(gray, small)

	prev := d.prev
	d.prev = gray
	if prev == nil || prev.Bounds() != gray.Bounds() {
		return 100
	}

	mask := image.NewGray(gray.Bounds())
	for i, v := range gray.Pix {
		delta := int(v) - int(prev.Pix[i])
		if delta < 0 {
			delta = -delta
		}
		if delta > int(d.threshold) {
			mask.Pix[i] = 0xff
		}
	}

	dilated := image.NewGray(d.dilate.Bounds(mask.Bounds()))
	d.dilate.Draw(dilated, mask)

	changed := 0
	for _, v := range dilated.Pix {
		if v != 0 {
			changed++
		}
	}
	return percent(changed, len(dilated.Pix))
}
