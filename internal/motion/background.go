package motion

import (
	"image"
	"log/slog"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

// BackgroundModel keeps a per-pixel statistical model of the scene and reports
// the share of pixels that do not fit it. The threshold semantics depend on
// the variant:
//
//   - KindDecisionThreshold: a pixel is foreground when the posterior
//     probability of background drops below 1-threshold.
//   - KindSquaredDistance: a pixel is foreground when fewer than three stored
//     samples lie within threshold (squared RGB distance).
type BackgroundModel struct {
	variant   Kind
	history   int
	threshold float64

	w, h   int
	frames int

	// decision-threshold state: decisionLevels weights per pixel
	hist []float32

	// squared-distance state: distSamples RGB triples per pixel
	samples     []uint8
	updateEvery int
}

// NewBackgroundModel creates a model for variant. history is the number of
// frames used to initialize (decision) or refresh (squared distance) the model.
func NewBackgroundModel(variant Kind, history int, threshold float64) (*BackgroundModel, error) {
	if variant != KindDecisionThreshold && variant != KindSquaredDistance {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "%s is not a background model", variant)
	}
	if history <= 0 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "history must be positive, got %d", history)
	}
	if threshold <= 0 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "threshold must be positive, got %v", threshold)
	}
	if variant == KindDecisionThreshold && threshold >= 1 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "decision threshold must be below 1, got %v", threshold)
	}

	every := history / distSamples
	if every < 1 {
		every = 1
	}
	return &BackgroundModel{
		variant:     variant,
		history:     history,
		threshold:   threshold,
		updateEvery: every,
	}, nil
}

// Kind reports the variant.
func (m *BackgroundModel) Kind() Kind { return m.variant }

// Apply resizes img to the working width, updates the model and returns the
// foreground percentage.
func (m *BackgroundModel) Apply(img *image.RGBA) float64 {
	small := resizeToWidth(img, WorkingWidth)
	b := small.Bounds()
	if b.Dx() != m.w || b.Dy() != m.h {
		if m.frames > 0 {
			slog.Warn("frame size changed, resetting background model",
				"from_w", m.w, "from_h", m.h, "to_w", b.Dx(), "to_h", b.Dy())
		}
		m.reset(b.Dx(), b.Dy())
	}
	m.frames++

	if m.variant == KindDecisionThreshold {
		return m.applyDecision(small)
	}
	return m.applyDistance(small)
}

func (m *BackgroundModel) reset(w, h int) {
	m.w, m.h = w, h
	m.frames = 0
	m.hist = nil
	m.samples = nil
	if m.variant == KindDecisionThreshold {
		m.hist = make([]float32, w*h*decisionLevels)
	} else {
		m.samples = make([]uint8, w*h*distSamples*3)
	}
}

func (m *BackgroundModel) applyDecision(img *image.RGBA) float64 {
	n := m.w * m.h
	pix := img.Pix

	// Initialization: accumulate feature counts, report no foreground.
	if m.frames <= m.history {
		for p := 0; p < n; p++ {
			i := p * 4
			bin := int(luma(pix[i], pix[i+1], pix[i+2])) * decisionLevels / 256
			m.hist[p*decisionLevels+bin]++
		}
		if m.frames == m.history {
			scale := float32(1) / float32(m.history)
			for i := range m.hist {
				m.hist[i] *= scale
			}
		}
		return 0
	}

	cutoff := 1 - m.threshold
	keep := float32(1 - decisionLearningRate)
	foreground := 0
	for p := 0; p < n; p++ {
		i := p * 4
		bin := int(luma(pix[i], pix[i+1], pix[i+2])) * decisionLevels / 256
		weights := m.hist[p*decisionLevels : (p+1)*decisionLevels]

		like := float64(weights[bin])
		posterior := like * decisionPrior / (like*decisionPrior + (1-like)*(1-decisionPrior))
		if posterior < cutoff {
			foreground++
		}

		for j := range weights {
			weights[j] *= keep
		}
		weights[bin] += decisionLearningRate
	}
	return percent(foreground, n)
}

func (m *BackgroundModel) applyDistance(img *image.RGBA) float64 {
	n := m.w * m.h
	pix := img.Pix

	// First frame seeds every sample slot.
	if m.frames == 1 {
		for p := 0; p < n; p++ {
			i := p * 4
			for k := 0; k < distSamples; k++ {
				s := (p*distSamples + k) * 3
				m.samples[s], m.samples[s+1], m.samples[s+2] = pix[i], pix[i+1], pix[i+2]
			}
		}
		return 0
	}

	slot := -1
	if m.frames%m.updateEvery == 0 {
		slot = (m.frames / m.updateEvery) % distSamples
	}

	foreground := 0
	for p := 0; p < n; p++ {
		i := p * 4
		r, g, b := int(pix[i]), int(pix[i+1]), int(pix[i+2])

		matches := 0
		for k := 0; k < distSamples && matches < distNeeded; k++ {
			s := (p*distSamples + k) * 3
			dr := r - int(m.samples[s])
			dg := g - int(m.samples[s+1])
			db := b - int(m.samples[s+2])
			if float64(dr*dr+dg*dg+db*db) <= m.threshold {
				matches++
			}
		}
		if matches < distNeeded {
			foreground++
		}

		if slot >= 0 {
			s := (p*distSamples + slot) * 3
			m.samples[s], m.samples[s+1], m.samples[s+2] = pix[i], pix[i+1], pix[i+2]
		}
	}
	return percent(foreground, n)
}
