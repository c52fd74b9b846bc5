// Package pipeline runs one video through classification, capture,
// deduplication and slide writing, strictly in frame order.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/binh234/video2slides/internal/capture"
	"github.com/binh234/video2slides/internal/dedup"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/motion"
	"github.com/binh234/video2slides/internal/slides"
	"github.com/binh234/video2slides/internal/trace"
	"github.com/binh234/video2slides/internal/video"
)

// Progress receives run events. Calls happen on the run's goroutine, in
// order; implementations must not block for long.
type Progress interface {
	Frame(s motion.Sample, total int)
	Slide(c capture.Capture, name string)
	Verdict(v dedup.Verdict)
}

// Options wires the per-run collaborators. Classifier and Dedup carry state
// and must not be shared between runs.
type Options struct {
	Classifier motion.Classifier
	MinPercent float64
	MaxPercent float64
	// Dedup is nil when post-processing is disabled.
	Dedup    *dedup.Window
	Progress Progress
}

// Stats summarizes a run.
type Stats struct {
	Frames     int           `json:"frames"`
	Captures   int           `json:"captures"`
	Duplicates int           `json:"duplicates"`
	Unique     int           `json:"unique"`
	Elapsed    time.Duration `json:"elapsed"`
	// Slides lists the surviving slide file names in order.
	Slides []string `json:"slides"`
}

// IsCancelled reports whether err ended a run early on request.
func IsCancelled(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeCancelled)
}

// Run consumes src until it is exhausted, writing every capture through w.
// Duplicates found by opts.Dedup are deleted once the stream has drained.
// A cancelled ctx stops the run between frames with a CANCELLED error.
func Run(ctx context.Context, src video.Source, w *slides.Writer, opts Options) (Stats, error) {
	start := time.Now()
	var stats Stats

	if opts.Classifier == nil {
		return stats, apperrors.New(apperrors.CodeInvalidArgument, "no classifier")
	}
	machine, err := capture.NewMachine(opts.MinPercent, opts.MaxPercent)
	if err != nil {
		return stats, err
	}

	classifyCtx, span := trace.StartSpan(ctx, "classify")
	span.SetAttr("classifier", opts.Classifier.Kind().String())
	log := trace.Logger(classifyCtx)
	log.Info("capturing slides", "classifier", opts.Classifier.Kind(), "frames", src.FrameCount())

	verdicts := make([]dedup.Verdict, 0)
	total := src.FrameCount()
	for {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			span.End()
			return stats, cancelled(err)
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetError(ctxErr)
				span.End()
				return stats, cancelled(ctxErr)
			}
			break
		}
		if err != nil {
			span.SetError(err)
			span.End()
			if ctx.Err() != nil {
				return stats, cancelled(ctx.Err())
			}
			return stats, err
		}
		stats.Frames++

		fraction := opts.Classifier.Apply(frame.Image)
		if opts.Progress != nil {
			opts.Progress.Frame(motion.Sample{FrameIndex: frame.Index, Fraction: fraction}, total)
		}

		c, ok := machine.Observe(frame.Index, frame.Timestamp, frame.Image, fraction)
		if !ok {
			continue
		}
		name, err := w.Write(c.Seq, c.Image)
		if err != nil {
			span.SetError(err)
			span.End()
			return stats, err
		}
		stats.Captures++
		stats.Slides = append(stats.Slides, name)
		if opts.Progress != nil {
			opts.Progress.Slide(c, name)
		}

		if opts.Dedup == nil {
			continue
		}
		v, err := opts.Dedup.Evaluate(name, c.Image)
		if err != nil {
			span.SetError(err)
			span.End()
			return stats, err
		}
		verdicts = append(verdicts, v)
		if opts.Progress != nil {
			opts.Progress.Verdict(v)
		}
	}
	span.SetAttr("frames", stats.Frames)
	span.SetAttr("captures", stats.Captures)
	span.End()
	log.Info("capture finished", "frames", stats.Frames, "captures", stats.Captures)

	if opts.Dedup != nil {
		stats.Duplicates, stats.Slides = removeDuplicates(ctx, w, opts.Dedup, verdicts)
	}
	stats.Unique = stats.Captures - stats.Duplicates
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// removeDuplicates deletes the files the window flagged and returns the
// duplicate count with the surviving names.
func removeDuplicates(ctx context.Context, w *slides.Writer, win *dedup.Window, verdicts []dedup.Verdict) (int, []string) {
	ctx, span := trace.StartSpan(ctx, "dedup")
	defer span.End()

	dups := win.Drain()
	removed := w.RemoveDuplicates(dups)

	unique := make([]string, 0, len(verdicts)-len(dups))
	for _, v := range verdicts {
		if !v.Duplicate {
			unique = append(unique, v.ID)
		}
	}

	span.SetAttr("duplicates", len(dups))
	span.SetAttr("removed", removed)
	trace.Logger(ctx).Info("duplicates removed",
		"duplicates", len(dups), "removed", removed, "unique", len(unique),
		"queue_len", win.Capacity(), "max_distance", win.Threshold())
	return len(dups), unique
}

func cancelled(err error) error {
	return apperrors.Wrap(err, apperrors.CodeCancelled, "run cancelled")
}
