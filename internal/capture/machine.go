// Package capture decides, frame by frame, when the scene has settled enough
// to be captured as a new slide.
package capture

import (
	"image"
	"log/slog"
	"time"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

// State of the capture machine.
type State uint32

const (
	InMotion State = iota // waiting for the scene to settle
	Settled               // current scene already captured
)

func (s State) String() string {
	if s == Settled {
		return "settled"
	}
	return "in-motion"
}

// Capture is a settled frame promoted to a slide.
type Capture struct {
	// Seq is 1-based and gapless across a run.
	Seq        int
	FrameIndex int
	Timestamp  time.Duration
	Image      *image.RGBA
}

// Machine applies a hysteresis band to the changed-area fraction stream. It
// captures once when the fraction drops below Max and re-arms only after it
// climbs back to Min or above.
type Machine struct {
	min   float64
	max   float64
	state State
	seq   int

	onStateChange func(from, to State)
}

// NewMachine creates a machine in the InMotion state. min must be strictly
// greater than max and both must lie in [0,100].
func NewMachine(minPercent, maxPercent float64) (*Machine, error) {
	if minPercent < 0 || minPercent > 100 || maxPercent < 0 || maxPercent > 100 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid,
			"percent thresholds must lie in [0,100], got min=%v max=%v", minPercent, maxPercent)
	}
	if minPercent <= maxPercent {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid,
			"min percent threshold (%v) must exceed max percent threshold (%v)", minPercent, maxPercent)
	}
	return &Machine{min: minPercent, max: maxPercent, state: InMotion}, nil
}

// WithHook sets a state change callback (for progress reporting).
func (m *Machine) WithHook(fn func(from, to State)) *Machine {
	m.onStateChange = fn
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Count returns the number of captures emitted so far.
func (m *Machine) Count() int { return m.seq }

// Observe feeds the fraction measured for one frame. It returns the capture
// when this frame settles the scene.
func (m *Machine) Observe(frameIndex int, ts time.Duration, img *image.RGBA, fraction float64) (Capture, bool) {
	switch m.state {
	case InMotion:
		if fraction < m.max {
			m.transition(Settled)
			m.seq++
			slog.Debug("slide captured", "seq", m.seq, "frame", frameIndex, "fraction", fraction)
			return Capture{Seq: m.seq, FrameIndex: frameIndex, Timestamp: ts, Image: img}, true
		}
	case Settled:
		if fraction >= m.min {
			m.transition(InMotion)
		}
	}
	return Capture{}, false
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	if m.onStateChange != nil {
		m.onStateChange(from, to)
	}
}
