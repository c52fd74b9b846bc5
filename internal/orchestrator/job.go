package orchestrator

import (
	"time"

	"github.com/binh234/video2slides/internal/config"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/pipeline"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Finished reports whether the job reached a terminal state.
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusFailed
}

// Event types sent to websocket clients.
const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// Request describes a job submitted through the API. Nil fields keep the
// server defaults.
type Request struct {
	Video      string  `json:"video"`
	Classifier *string `json:"classifier,omitempty"`
	History    *int    `json:"history,omitempty"`
	HashFunc   *string `json:"hash_func,omitempty"`
	HashSize   *int    `json:"hash_size,omitempty"`
	QueueLen   *int    `json:"queue_len,omitempty"`
	Similarity *int    `json:"similarity,omitempty"`

	// Uploaded marks Video as a file the job owns and deletes when done.
	Uploaded bool `json:"-"`
}

// config returns a validated copy of base with the request's overrides.
// Jobs always deduplicate and always produce a PDF.
func (r Request) config(base *config.Config) (*config.Config, error) {
	if r.Video == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "video is required")
	}

	cfg := base.Clone()
	if r.Classifier != nil {
		cfg.Classifier = *r.Classifier
	}
	if r.History != nil {
		cfg.History = *r.History
	}
	if r.HashFunc != nil {
		cfg.HashFunc = *r.HashFunc
	}
	if r.HashSize != nil {
		cfg.HashSize = *r.HashSize
	}
	if r.QueueLen != nil {
		cfg.QueueLen = *r.QueueLen
	}
	if r.Similarity != nil {
		cfg.Similarity = *r.Similarity
	}
	cfg.PostProcess = true
	cfg.ConvertPDF = true

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Names are only checked when the run's components are built.
	if _, err := pipeline.NewClassifier(cfg); err != nil {
		return nil, err
	}
	if _, err := pipeline.NewWindow(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Job is the externally visible record of one video conversion.
type Job struct {
	ID       string          `json:"id"`
	Video    string          `json:"video"`
	Status   Status          `json:"status"`
	Frame    int             `json:"frame"`
	Total    int             `json:"total"`
	Slides   int             `json:"slides"`
	Created  time.Time       `json:"created"`
	Started  time.Time       `json:"started,omitzero"`
	Finished time.Time       `json:"finished,omitzero"`
	Dir      string          `json:"dir,omitempty"`
	PDFPath  string          `json:"pdf_path,omitempty"`
	Stats    *pipeline.Stats `json:"stats,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
}

func (j *Job) clone() Job {
	c := *j
	if j.Stats != nil {
		s := *j.Stats
		s.Slides = append([]string(nil), j.Stats.Slides...)
		c.Stats = &s
	}
	return c
}

// Event is broadcast to websocket clients as a job advances.
type Event struct {
	Type    string          `json:"type"`
	JobID   string          `json:"job_id"`
	Frame   int             `json:"frame,omitempty"`
	Total   int             `json:"total,omitempty"`
	Slides  int             `json:"slides,omitempty"`
	Stats   *pipeline.Stats `json:"stats,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}
