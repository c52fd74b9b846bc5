package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/binh234/video2slides/internal/config"
	"github.com/binh234/video2slides/internal/fetch"
	"github.com/binh234/video2slides/internal/pipeline"
)

type rootOptions struct {
	video         string
	outDir        string
	classifier    string
	hashFunc      string
	hashSize      int
	similarity    int
	queueLen      int
	noPostProcess bool
	convertPDF    bool
	configPath    string
	debug         bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "video2slides",
		Short: "Extract the slides of a presentation video",
		Long: `video2slides watches a presentation video for moments where the picture settles,
saves one image per settled slide, removes near-duplicate slides and can bundle
the result into a PDF.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts)
		},
	}

	bindRootFlags(cmd, opts)
	cmd.AddCommand(newPDFCmd())
	return cmd
}

func bindRootFlags(cmd *cobra.Command, opts *rootOptions) {
	d := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.video, "video", "v", "", "path or http(s) URL of the video (required)")
	f.StringVarP(&opts.outDir, "out-dir", "o", d.OutputDir, "root directory for extracted slides")
	f.StringVar(&opts.classifier, "type", d.Classifier, "motion classifier: Frame_Diff, GMG or KNN")
	f.StringVar(&opts.hashFunc, "hash-func", d.HashFunc, "fingerprint: dhash, phash or ahash")
	f.IntVar(&opts.hashSize, "hash-size", d.HashSize, "fingerprint side length: 8, 12 or 16")
	f.IntVar(&opts.similarity, "threshold", d.Similarity, "similarity percent in [90,100] above which slides are duplicates")
	f.IntVarP(&opts.queueLen, "queue-len", "q", d.QueueLen, "number of recent slides compared for near duplicates")
	f.BoolVar(&opts.noPostProcess, "no-post-process", false, "keep duplicate slides")
	f.BoolVar(&opts.convertPDF, "convert-to-pdf", false, "bundle the slides into a PDF")
	f.StringVar(&opts.configPath, "config", "", "optional YAML config file")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("video")
}

// loadConfig layers environment, config file and explicitly set flags, in
// that order.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg := config.Load()
	if opts.configPath != "" {
		if err := cfg.LoadFile(opts.configPath); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("out-dir") {
		cfg.OutputDir = opts.outDir
	}
	if f.Changed("type") {
		cfg.Classifier = opts.classifier
	}
	if f.Changed("hash-func") {
		cfg.HashFunc = opts.hashFunc
	}
	if f.Changed("hash-size") {
		cfg.HashSize = opts.hashSize
	}
	if f.Changed("threshold") {
		cfg.Similarity = opts.similarity
	}
	if f.Changed("queue-len") {
		cfg.QueueLen = opts.queueLen
	}
	if f.Changed("no-post-process") {
		cfg.PostProcess = !opts.noPostProcess
	}
	if f.Changed("convert-to-pdf") {
		cfg.ConvertPDF = opts.convertPDF
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConvert(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	setupLogging(cmd.ErrOrStderr(), opts.debug)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	videoPath := opts.video
	if fetch.IsURL(videoPath) {
		if videoPath, err = fetch.NewDownloader(cfg.DownloadDir).Download(ctx, videoPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Downloaded video to %s\n", videoPath)
	}

	progress := newBarProgress(cmd.ErrOrStderr())
	res, err := pipeline.NewProcessor(cfg).Process(ctx, videoPath, progress)
	progress.Finish()
	if err != nil {
		if pipeline.IsCancelled(err) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted, partial output removed")
		}
		return err
	}

	printStats(cmd.OutOrStdout(), res)
	return nil
}

func printStats(w io.Writer, res pipeline.Result) {
	s := res.Stats
	fmt.Fprintf(w, "Slides saved to %s\n", res.Dir)
	fmt.Fprintf(w, "  frames processed: %d\n", s.Frames)
	fmt.Fprintf(w, "  slides captured:  %d\n", s.Captures)
	fmt.Fprintf(w, "  duplicates:       %d\n", s.Duplicates)
	fmt.Fprintf(w, "  unique slides:    %d\n", s.Unique)
	fmt.Fprintf(w, "  elapsed:          %s\n", s.Elapsed.Round(time.Millisecond))
	if res.PDFPath != "" {
		fmt.Fprintf(w, "PDF saved to %s\n", res.PDFPath)
	}
}

func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
