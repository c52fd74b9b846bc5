package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/binh234/video2slides/internal/capture"
	"github.com/binh234/video2slides/internal/dedup"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/motion"
	"github.com/binh234/video2slides/internal/pipeline"
	"github.com/binh234/video2slides/internal/slides"
)

func parseRoot(t *testing.T, args ...string) (*cobra.Command, *rootOptions) {
	t.Helper()
	opts := &rootOptions{}
	cmd := &cobra.Command{Use: "video2slides"}
	bindRootFlags(cmd, opts)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error = %v", args, err)
	}
	return cmd, opts
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd, opts := parseRoot(t, "-v", "talk.mp4")

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Classifier != "GMG" || cfg.HashFunc != "dhash" || cfg.HashSize != 12 || cfg.Similarity != 96 || cfg.QueueLen != 5 {
		t.Errorf("defaults = %+v", cfg)
	}
	if !cfg.PostProcess || cfg.ConvertPDF {
		t.Errorf("PostProcess = %v, ConvertPDF = %v, want true, false", cfg.PostProcess, cfg.ConvertPDF)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	out := t.TempDir()
	cmd, opts := parseRoot(t,
		"-v", "talk.mp4",
		"-o", out,
		"--type", "Frame_Diff",
		"--hash-func", "phash",
		"--hash-size", "16",
		"--threshold", "92",
		"-q", "0",
		"--no-post-process",
		"--convert-to-pdf",
	)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.OutputDir != out || cfg.Classifier != "Frame_Diff" || cfg.HashFunc != "phash" || cfg.HashSize != 16 || cfg.Similarity != 92 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.QueueLen != 5 {
		t.Errorf("QueueLen = %d, want fallback 5", cfg.QueueLen)
	}
	if cfg.PostProcess || !cfg.ConvertPDF {
		t.Errorf("PostProcess = %v, ConvertPDF = %v, want false, true", cfg.PostProcess, cfg.ConvertPDF)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2s.yaml")
	if err := os.WriteFile(path, []byte("classifier: KNN\nhash_size: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd, opts := parseRoot(t, "-v", "talk.mp4", "--config", path, "--hash-size", "16")

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Classifier != "KNN" {
		t.Errorf("Classifier = %q, want KNN from file", cfg.Classifier)
	}
	if cfg.HashSize != 16 {
		t.Errorf("HashSize = %d, want 16 from flag", cfg.HashSize)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := [][]string{
		{"-v", "talk.mp4", "--threshold", "85"},
		{"-v", "talk.mp4", "--hash-size", "13"},
		{"-v", "talk.mp4", "--no-post-process", "--hash-func", "bogus"},
		{"-v", "talk.mp4", "--type", "MOG2"},
	}
	for _, args := range tests {
		cmd, opts := parseRoot(t, args...)
		if _, err := loadConfig(cmd, opts); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
			t.Errorf("loadConfig(%v) = %v, want CONFIG_INVALID", args, err)
		}
	}
}

func TestRootRequiresVideo(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "video") {
		t.Errorf("Execute() = %v, want required flag error", err)
	}
}

func TestRootMissingVideo(t *testing.T) {
	out := t.TempDir()
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-v", filepath.Join(out, "missing.mp4"), "-o", out})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeSourceUnavailable) {
		t.Errorf("Execute() = %v, want SOURCE_UNAVAILABLE", err)
	}
	if entries, _ := os.ReadDir(out); len(entries) != 0 {
		t.Errorf("output dir has %d entries, want none", len(entries))
	}
}

func TestPDFCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "GMG")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	w := slides.NewWriter(dir)
	for seq := 1; seq <= 2; seq++ {
		img := image.NewRGBA(image.Rect(0, 0, 32, 24))
		for i := range img.Pix {
			img.Pix[i] = uint8(seq * 60)
		}
		img.Set(0, 0, color.White)
		if _, err := w.Write(seq, img); err != nil {
			t.Fatal(err)
		}
	}

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"pdf", "-f", dir})
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("pdf Execute() error = %v", err)
	}
	want := filepath.Join(dir, "GMG.pdf")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("PDF not written at %s: %v", want, err)
	}
	if !strings.Contains(stdout.String(), want) {
		t.Errorf("output = %q, want path %s", stdout.String(), want)
	}
}

func TestPDFCommandEmptyFolder(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"pdf", "-f", t.TempDir()})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.ExecuteContext(context.Background()); !apperrors.IsCode(err, apperrors.CodePDFFailed) {
		t.Errorf("Execute() = %v, want PDF_FAILED", err)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, pipeline.Result{
		Dir:     "out/talk/GMG",
		PDFPath: "out/talk/GMG/GMG.pdf",
		Stats:   pipeline.Stats{Frames: 300, Captures: 5, Duplicates: 2, Unique: 3, Elapsed: 1500 * time.Millisecond},
	})

	out := buf.String()
	for _, want := range []string{"out/talk/GMG", "300", "duplicates:       2", "unique slides:    3", "1.5s", "GMG.pdf"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBarProgressCounts(t *testing.T) {
	var buf bytes.Buffer
	p := newBarProgress(&buf)

	p.Slide(capture.Capture{Seq: 1}, "001.jpg")
	p.Frame(motion.Sample{FrameIndex: 1}, 10)
	p.Slide(capture.Capture{Seq: 2}, "002.jpg")
	p.Verdict(dedup.Verdict{ID: "002.jpg", Duplicate: true})
	p.Verdict(dedup.Verdict{ID: "001.jpg"})
	p.Finish()

	if p.slides != 2 || p.duplicates != 1 {
		t.Errorf("slides = %d, duplicates = %d, want 2, 1", p.slides, p.duplicates)
	}
}
