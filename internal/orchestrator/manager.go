// Package orchestrator runs video conversion jobs in the background with
// bounded concurrency and keeps their records for the HTTP API.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/binh234/video2slides/internal/config"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/fetch"
	"github.com/binh234/video2slides/internal/pipeline"
	"github.com/binh234/video2slides/internal/slides"
	"github.com/binh234/video2slides/internal/trace"
)

// Downloader fetches remote videos.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (string, error)
}

// Processor converts one local video.
type Processor interface {
	Process(ctx context.Context, videoPath string, progress pipeline.Progress) (pipeline.Result, error)
}

// Manager accepts jobs and runs at most cfg.MaxJobs of them at once.
type Manager struct {
	cfg          *config.Config
	downloader   Downloader
	newProcessor func(*config.Config) Processor

	store *Store
	sem   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a manager. cfg must already be validated.
func New(cfg *config.Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		downloader: fetch.NewDownloader(cfg.DownloadDir),
		newProcessor: func(c *config.Config) Processor {
			return pipeline.NewProcessor(c)
		},
		store:  NewStore(RecentJobs, EventBuffer),
		sem:    make(chan struct{}, max(cfg.MaxJobs, 1)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithDownloader replaces the URL downloader.
func (m *Manager) WithDownloader(d Downloader) *Manager {
	m.downloader = d
	return m
}

// WithProcessorFactory replaces how per-job processors are built.
func (m *Manager) WithProcessorFactory(fn func(*config.Config) Processor) *Manager {
	m.newProcessor = fn
	return m
}

// Events returns the channel of job events.
func (m *Manager) Events() <-chan Event {
	return m.store.Events()
}

// Get returns the job with the given id.
func (m *Manager) Get(id string) (Job, bool) {
	return m.store.Get(id)
}

// Jobs returns the recent jobs, oldest first.
func (m *Manager) Jobs() []Job {
	return m.store.List()
}

// Submit validates req and queues it. The returned job is in the queued
// state; progress is reported through Events.
func (m *Manager) Submit(ctx context.Context, req Request) (Job, error) {
	log := trace.Logger(ctx)

	if m.ctx.Err() != nil {
		return Job{}, apperrors.New(apperrors.CodeUnavailable, "job manager is shutting down")
	}
	cfg, err := req.config(m.cfg)
	if err != nil {
		return Job{}, err
	}
	if !fetch.IsURL(req.Video) {
		if _, err := os.Stat(req.Video); err != nil {
			return Job{}, apperrors.Wrapf(err, apperrors.CodeNotFound, "video %s not found", req.Video)
		}
	}

	job := Job{
		ID:      uuid.NewString(),
		Video:   req.Video,
		Status:  StatusQueued,
		Created: time.Now(),
	}
	// Jobs may process the same video concurrently, so each gets its own root.
	cfg.OutputDir = filepath.Join(cfg.OutputDir, job.ID)
	m.store.Add(job)
	log.Info("job queued", "job_id", job.ID, "video", req.Video)

	// The job outlives the request, so it keeps only the request's trace.
	jobCtx := m.ctx
	if tc, ok := trace.FromContext(ctx); ok {
		jobCtx = trace.WithContext(jobCtx, trace.NewChild(tc))
	}

	m.wg.Add(1)
	go m.run(jobCtx, job.ID, req, cfg)
	return job, nil
}

func (m *Manager) run(ctx context.Context, id string, req Request, cfg *config.Config) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		m.fail(ctx, id, apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "job cancelled before start"))
		return
	}

	ctx, span := trace.StartSpan(ctx, "job")
	defer span.End()
	span.SetAttr("job_id", id)
	log := trace.Logger(ctx).With("job_id", id)

	m.store.Update(id, func(j *Job) {
		j.Status = StatusRunning
		j.Started = time.Now()
	})
	m.store.Emit(Event{Type: EventProgress, JobID: id})

	videoPath := req.Video
	owned := req.Uploaded
	if fetch.IsURL(videoPath) {
		path, err := m.downloader.Download(ctx, videoPath)
		if err != nil {
			span.SetError(err)
			m.fail(ctx, id, err)
			return
		}
		videoPath, owned = path, true
	}
	if owned {
		defer removeVideo(ctx, videoPath)
	}

	res, err := m.newProcessor(cfg).Process(ctx, videoPath, &jobProgress{id: id, store: m.store})
	if err != nil {
		span.SetError(err)
		m.fail(ctx, id, err)
		return
	}

	// Only the PDF is served, so the slide images are dropped once it exists.
	if res.PDFPath != "" {
		if err := slides.NewWriter(res.Dir).RemoveImages(); err != nil {
			log.Warn("failed to remove slide images", "dir", res.Dir, "error", err)
		}
	}

	stats := res.Stats
	m.store.Update(id, func(j *Job) {
		j.Status = StatusDone
		j.Finished = time.Now()
		j.Dir = res.Dir
		j.PDFPath = res.PDFPath
		j.Slides = stats.Unique
		j.Stats = &stats
	})
	m.store.Emit(Event{Type: EventDone, JobID: id, Slides: stats.Unique, Stats: &stats})
	log.Info("job finished", "slides", stats.Unique, "pdf", res.PDFPath)
}

func (m *Manager) fail(ctx context.Context, id string, err error) {
	code := apperrors.CodeOf(err).String()
	m.store.Update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Finished = time.Now()
		j.Error = err.Error()
		j.Code = code
	})
	m.store.Emit(Event{Type: EventError, JobID: id, Message: err.Error(), Code: code})
	trace.Logger(ctx).Warn("job failed", "job_id", id, "error", err)
}

// Stop cancels running jobs and waits up to StopTimeout for them to exit.
func (m *Manager) Stop() {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(StopTimeout):
		trace.Logger(m.ctx).Warn("jobs still running after stop timeout")
	}
}

func removeVideo(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		trace.Logger(ctx).Warn("failed to remove video", "path", path, "error", err)
	}
}
