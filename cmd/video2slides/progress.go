package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/binh234/video2slides/internal/capture"
	"github.com/binh234/video2slides/internal/dedup"
	"github.com/binh234/video2slides/internal/motion"
)

// barProgress renders pipeline progress as a terminal progress bar. The bar
// is created on the first frame, once the frame count is known.
type barProgress struct {
	w          io.Writer
	bar        *progressbar.ProgressBar
	slides     int
	duplicates int
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{w: w}
}

func (p *barProgress) Frame(s motion.Sample, total int) {
	if p.bar == nil {
		limit := total
		if limit <= 0 {
			limit = -1
		}
		p.bar = progressbar.NewOptions(limit,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("Capturing slides"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(p.w, "\n")
			}),
		)
	}
	_ = p.bar.Set(s.FrameIndex)
}

func (p *barProgress) Slide(c capture.Capture, name string) {
	p.slides++
	p.describe()
}

func (p *barProgress) Verdict(v dedup.Verdict) {
	if v.Duplicate {
		p.duplicates++
		p.describe()
	}
}

func (p *barProgress) describe() {
	if p.bar == nil {
		return
	}
	desc := fmt.Sprintf("Capturing slides (%d)", p.slides)
	if p.duplicates > 0 {
		desc = fmt.Sprintf("Capturing slides (%d, %d duplicates)", p.slides, p.duplicates)
	}
	p.bar.Describe(desc)
}

// Finish completes the bar if one was started.
func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
