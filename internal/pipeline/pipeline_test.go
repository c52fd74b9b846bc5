package pipeline

import (
	"context"
	"image"
	"io"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/binh234/video2slides/internal/capture"
	"github.com/binh234/video2slides/internal/config"
	"github.com/binh234/video2slides/internal/dedup"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/motion"
	"github.com/binh234/video2slides/internal/slides"
	"github.com/binh234/video2slides/internal/video"
)

// scripted replays fixed fractions regardless of the frame.
type scripted struct {
	fractions []float64
	i         int
}

func (s *scripted) Apply(*image.RGBA) float64 {
	f := s.fractions[s.i]
	s.i++
	return f
}

func (s *scripted) Kind() motion.Kind { return motion.KindFrameDiff }

type recorder struct {
	samples  []motion.Sample
	slides   []string
	verdicts []dedup.Verdict
	onFrame  func(n int)
}

func (r *recorder) Frame(s motion.Sample, total int) {
	r.samples = append(r.samples, s)
	if r.onFrame != nil {
		r.onFrame(len(r.samples))
	}
}

func (r *recorder) Slide(c capture.Capture, name string) { r.slides = append(r.slides, name) }

func (r *recorder) Verdict(v dedup.Verdict) { r.verdicts = append(r.verdicts, v) }

// noise draws a deterministic texture so different seeds hash far apart.
func noise(seed int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(((x*(seed+3) + y*(seed*7+1)) * (seed + 11)) % 251)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// halves paints one half of a black frame white.
func halves(right bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			white := y < 24
			if right {
				white = x >= 32
			}
			c := color.RGBA{A: 255}
			if white {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var twoSlides = []float64{50, 50, 0.5, 0.5, 0.5, 20, 20, 0.5, 0.5, 0.5}

// framesWith returns len(twoSlides) frames where frames 3 and 8 (the
// captures) carry the given images.
func framesWith(first, second image.Image) []image.Image {
	frames := make([]image.Image, len(twoSlides))
	for i := range frames {
		frames[i] = noise(100 + i)
	}
	frames[2] = first
	frames[7] = second
	return frames
}

func TestRunCapturesSettledFrames(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}

	stats, err := Run(context.Background(), video.NewSliceSource(framesWith(noise(1), noise(2)), 25),
		slides.NewWriter(dir), Options{
			Classifier: &scripted{fractions: twoSlides},
			MinPercent: 15,
			MaxPercent: 1,
			Progress:   rec,
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Frames != 10 || stats.Captures != 2 || stats.Unique != 2 || stats.Duplicates != 0 {
		t.Errorf("stats = %+v, want 10 frames, 2 captures, 2 unique", stats)
	}
	if len(rec.samples) != 10 || rec.samples[2].FrameIndex != 3 || rec.samples[2].Fraction != 0.5 {
		t.Errorf("samples = %v", rec.samples)
	}
	if len(rec.slides) != 2 || rec.slides[0] != "001.jpg" || rec.slides[1] != "002.jpg" {
		t.Errorf("slides = %v, want [001.jpg 002.jpg]", rec.slides)
	}
	if len(rec.verdicts) != 0 {
		t.Errorf("verdicts without dedup = %v", rec.verdicts)
	}
	for _, name := range []string{"001.jpg", "002.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestRunRemovesDuplicates(t *testing.T) {
	tests := []struct {
		name       string
		second     image.Image
		wantDup    int
		wantSlides []string
	}{
		{"repeat slide", noise(1), 1, []string{"001.jpg"}},
		{"new slide", noise(2), 0, []string{"001.jpg", "002.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			win, _ := dedup.New(12, dedup.Difference, 5, dedup.DistanceThreshold(12, 96))
			rec := &recorder{}

			stats, err := Run(context.Background(), video.NewSliceSource(framesWith(noise(1), tt.second), 25),
				slides.NewWriter(dir), Options{
					Classifier: &scripted{fractions: twoSlides},
					MinPercent: 15,
					MaxPercent: 1,
					Dedup:      win,
					Progress:   rec,
				})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if stats.Duplicates != tt.wantDup || stats.Unique != 2-tt.wantDup {
				t.Errorf("stats = %+v, want %d duplicates", stats, tt.wantDup)
			}
			if len(stats.Slides) != len(tt.wantSlides) {
				t.Fatalf("Slides = %v, want %v", stats.Slides, tt.wantSlides)
			}
			for i := range tt.wantSlides {
				if stats.Slides[i] != tt.wantSlides[i] {
					t.Errorf("Slides[%d] = %s, want %s", i, stats.Slides[i], tt.wantSlides[i])
				}
			}
			if len(rec.verdicts) != 2 || rec.verdicts[0].Seq != 1 || rec.verdicts[1].Seq != 2 {
				t.Errorf("verdicts = %+v, want two in capture order", rec.verdicts)
			}

			images, _ := slides.ListImages(dir)
			if len(images) != len(tt.wantSlides) {
				t.Errorf("files on disk = %v, want %v", images, tt.wantSlides)
			}
		})
	}
}

func TestRunZeroFrames(t *testing.T) {
	stats, err := Run(context.Background(), video.NewSliceSource(nil, 25), slides.NewWriter(t.TempDir()), Options{
		Classifier: &scripted{},
		MinPercent: 15,
		MaxPercent: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Frames != 0 || stats.Captures != 0 || len(stats.Slides) != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onFrame: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	stats, err := Run(ctx, video.NewSliceSource(framesWith(noise(1), noise(2)), 25), slides.NewWriter(t.TempDir()), Options{
		Classifier: &scripted{fractions: twoSlides},
		MinPercent: 15,
		MaxPercent: 1,
		Progress:   rec,
	})
	if !IsCancelled(err) {
		t.Fatalf("Run() error = %v, want CANCELLED", err)
	}
	if stats.Frames != 2 {
		t.Errorf("frames processed = %d, want 2", stats.Frames)
	}
}

// stallingSource yields one frame, then blocks until ctx is done and reports a
// clean end of stream, as a killed decoder does.
type stallingSource struct {
	calls   int
	stalled chan struct{}
}

func (s *stallingSource) Next(ctx context.Context) (video.Frame, error) {
	s.calls++
	if s.calls == 1 {
		return video.Frame{Index: 1, Image: noise(1)}, nil
	}
	if s.calls == 2 {
		close(s.stalled)
	}
	<-ctx.Done()
	return video.Frame{}, io.EOF
}

func (s *stallingSource) FrameCount() int { return 0 }

func (s *stallingSource) Close() error { return nil }

func TestRunCancelledWhileDecoding(t *testing.T) {
	for _, depth := range []int{0, 2} {
		ctx, cancel := context.WithCancel(context.Background())
		stalling := &stallingSource{stalled: make(chan struct{})}
		go func() {
			<-stalling.stalled
			cancel()
		}()

		src := video.Prefetch(ctx, stalling, depth)
		_, err := Run(ctx, src, slides.NewWriter(t.TempDir()), Options{
			Classifier: &scripted{fractions: []float64{100, 100}},
			MinPercent: 15,
			MaxPercent: 1,
		})
		if !IsCancelled(err) {
			t.Errorf("Run(prefetch %d) error = %v, want CANCELLED", depth, err)
		}
		_ = src.Close()
		cancel()
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	src := video.NewSliceSource(nil, 25)
	w := slides.NewWriter(t.TempDir())

	if _, err := Run(context.Background(), src, w, Options{MinPercent: 15, MaxPercent: 1}); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("Run(no classifier) = %v, want INVALID_ARGUMENT", err)
	}
	if _, err := Run(context.Background(), src, w, Options{Classifier: &scripted{}, MinPercent: 1, MaxPercent: 15}); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("Run(inverted band) = %v, want CONFIG_INVALID", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Classifier = "Frame_Diff"
	cfg.OutputDir = t.TempDir()
	cfg.Prefetch = 2
	cfg.ConvertPDF = true
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestProcessEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, b := halves(true), halves(false)
	frames := []image.Image{a, a, a, b, b, b, a, a}

	p := NewProcessor(cfg)
	p.open = func(ctx context.Context, path string) (video.Source, error) {
		return video.NewSliceSource(frames, 25), nil
	}

	res, err := p.Process(context.Background(), "/videos/lecture.mp4", nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	wantDir := filepath.Join(cfg.OutputDir, "lecture", "Frame_Diff")
	if res.Dir != wantDir {
		t.Errorf("Dir = %q, want %q", res.Dir, wantDir)
	}
	if res.Stats.Frames != 8 || res.Stats.Captures != 3 || res.Stats.Duplicates != 1 || res.Stats.Unique != 2 {
		t.Errorf("stats = %+v, want 8 frames, 3 captures, 1 duplicate", res.Stats)
	}
	if res.PDFPath != filepath.Join(wantDir, "Frame_Diff.pdf") {
		t.Errorf("PDFPath = %q", res.PDFPath)
	}
	if _, err := os.Stat(res.PDFPath); err != nil {
		t.Errorf("pdf missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wantDir, "003.jpg")); !os.IsNotExist(err) {
		t.Error("duplicate slide 003.jpg should be removed")
	}
}

func TestProcessMissingVideo(t *testing.T) {
	cfg := testConfig(t)

	_, err := NewProcessor(cfg).Process(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), nil)
	if !apperrors.IsCode(err, apperrors.CodeSourceUnavailable) {
		t.Fatalf("Process() error = %v, want SOURCE_UNAVAILABLE", err)
	}
	entries, _ := os.ReadDir(cfg.OutputDir)
	if len(entries) != 0 {
		t.Errorf("output written for a missing video: %v", entries)
	}
}

func TestProcessBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HashFunc = "whash"

	_, err := NewProcessor(cfg).Process(context.Background(), "/videos/lecture.mp4", nil)
	if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("Process() error = %v, want CONFIG_INVALID", err)
	}
}

func TestProcessCancelledRemovesOutput(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(cfg)
	p.open = func(ctx context.Context, path string) (video.Source, error) {
		return video.NewSliceSource([]image.Image{halves(true)}, 25), nil
	}

	_, err := p.Process(ctx, "/videos/lecture.mp4", nil)
	if !IsCancelled(err) {
		t.Fatalf("Process() error = %v, want CANCELLED", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "lecture", "Frame_Diff")); !os.IsNotExist(err) {
		t.Error("cancelled run should not leave an output directory")
	}
}
