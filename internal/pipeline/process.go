package pipeline

import (
	"context"
	"log/slog"
	"os"

	"github.com/binh234/video2slides/internal/config"
	"github.com/binh234/video2slides/internal/dedup"
	"github.com/binh234/video2slides/internal/motion"
	"github.com/binh234/video2slides/internal/slides"
	"github.com/binh234/video2slides/internal/trace"
	"github.com/binh234/video2slides/internal/video"
)

// Result describes the output of a processed video.
type Result struct {
	Dir     string `json:"dir"`
	PDFPath string `json:"pdf_path,omitempty"`
	Stats   Stats  `json:"stats"`
}

// Processor turns a video file into a slide directory (and optionally a PDF)
// according to a configuration.
type Processor struct {
	cfg  *config.Config
	open func(ctx context.Context, path string) (video.Source, error)
}

// NewProcessor creates a processor decoding with ffmpeg. cfg must already be
// validated.
func NewProcessor(cfg *config.Config) *Processor {
	p := &Processor{cfg: cfg}
	p.open = func(ctx context.Context, path string) (video.Source, error) {
		return video.Open(ctx, path, video.Options{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath})
	}
	return p
}

// Process runs one video. Configuration and source errors are returned before
// anything is written; a run that fails later removes its output directory.
func (p *Processor) Process(ctx context.Context, videoPath string, progress Progress) (Result, error) {
	cfg := p.cfg
	ctx, span := trace.StartSpan(ctx, "process")
	defer span.End()
	log := trace.Logger(ctx)

	classifier, err := NewClassifier(cfg)
	if err != nil {
		return Result{}, err
	}
	var window *dedup.Window
	if cfg.PostProcess {
		if window, err = NewWindow(cfg); err != nil {
			return Result{}, err
		}
	}

	src, err := p.open(ctx, videoPath)
	if err != nil {
		span.SetError(err)
		return Result{}, err
	}
	src = video.Prefetch(ctx, src, cfg.Prefetch)
	defer src.Close()

	dir, err := slides.PrepareDir(videoPath, cfg.OutputDir, classifier.Kind().String())
	if err != nil {
		return Result{}, err
	}
	res := Result{Dir: dir}

	res.Stats, err = Run(ctx, src, slides.NewWriter(dir), Options{
		Classifier: classifier,
		MinPercent: cfg.MinPercent,
		MaxPercent: cfg.MaxPercent,
		Dedup:      window,
		Progress:   progress,
	})
	if err != nil {
		span.SetError(err)
		discard(dir)
		return Result{}, err
	}

	if cfg.ConvertPDF && res.Stats.Unique > 0 {
		if res.PDFPath, err = slides.BuildPDF(ctx, dir, ""); err != nil {
			span.SetError(err)
			discard(dir)
			return Result{}, err
		}
	}

	log.Info("video processed", "video", videoPath, "dir", dir, "frames", res.Stats.Frames,
		"captures", res.Stats.Captures, "duplicates", res.Stats.Duplicates, "unique", res.Stats.Unique,
		"elapsed", res.Stats.Elapsed)
	return res, nil
}

// NewClassifier builds the classifier selected by cfg.
func NewClassifier(cfg *config.Config) (motion.Classifier, error) {
	kind, err := motion.ParseKind(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	params := motion.DefaultParams()
	params.Kind = kind
	params.History = cfg.History
	params.DecisionThreshold = cfg.DecisionThreshold
	params.Dist2Threshold = cfg.Dist2Threshold
	return motion.New(params)
}

// NewWindow builds the deduplication window selected by cfg.
func NewWindow(cfg *config.Config) (*dedup.Window, error) {
	alg, err := dedup.ParseAlgorithm(cfg.HashFunc)
	if err != nil {
		return nil, err
	}
	return dedup.New(cfg.HashSize, alg, cfg.QueueLen, dedup.DistanceThreshold(cfg.HashSize, cfg.Similarity))
}

func discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("failed to remove partial output", "dir", dir, "error", err)
	}
}
