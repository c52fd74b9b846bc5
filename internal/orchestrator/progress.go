package orchestrator

import (
	"github.com/binh234/video2slides/internal/capture"
	"github.com/binh234/video2slides/internal/dedup"
	"github.com/binh234/video2slides/internal/motion"
)

// jobProgress records pipeline progress on the job and throttles the events
// sent to clients.
type jobProgress struct {
	id     string
	store  *Store
	slides int
}

func (p *jobProgress) Frame(s motion.Sample, total int) {
	p.store.Update(p.id, func(j *Job) {
		j.Frame = s.FrameIndex
		j.Total = total
	})
	if s.FrameIndex%ProgressEvery == 0 || s.FrameIndex == total {
		p.store.Emit(Event{Type: EventProgress, JobID: p.id, Frame: s.FrameIndex, Total: total, Slides: p.slides})
	}
}

func (p *jobProgress) Slide(c capture.Capture, name string) {
	p.slides++
	slides := p.slides
	p.store.Update(p.id, func(j *Job) { j.Slides = slides })
}

func (p *jobProgress) Verdict(v dedup.Verdict) {}
