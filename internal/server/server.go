// Package server provides the job API and the progress WebSocket
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/binh234/video2slides/internal/config"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/orchestrator"
	"github.com/binh234/video2slides/internal/syncx"
	"github.com/binh234/video2slides/internal/trace"
)

// Jobs is the part of the job manager the server needs.
type Jobs interface {
	Submit(ctx context.Context, req orchestrator.Request) (orchestrator.Job, error)
	Get(id string) (orchestrator.Job, bool)
	Jobs() []orchestrator.Job
	Events() <-chan orchestrator.Event
}

// ErrorMessage is the body of every failed API response.
type ErrorMessage struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	ID     string              `json:"id"`
	Status orchestrator.Status `json:"status"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	jobs      Jobs
	cfg       *config.Config
	conns     *syncx.Guard[map[*websocket.Conn]struct{}]
	limiter   *ipLimiter
	uploadDir string
}

// New creates a server and starts relaying job events to WebSocket clients
// until ctx is done or the event channel closes.
func New(ctx context.Context, jobs Jobs, cfg *config.Config) *Server {
	s := &Server{
		jobs:      jobs,
		cfg:       cfg,
		conns:     syncx.NewGuard(make(map[*websocket.Conn]struct{})),
		limiter:   newIPLimiter(IPRateLimitRequests, IPRateLimitWindow),
		uploadDir: cfg.DownloadDir,
	}

	go s.broadcastEvents(ctx)
	go s.limiter.cleanupLoop(ctx)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGet)
	mux.HandleFunc("GET /api/jobs/{id}/pdf", s.handlePDF)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Apply middleware: trace -> CORS
	return corsMiddleware(s.cfg.CORSOrigins)(trace.Middleware(mux))
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := trace.Logger(ctx)

	if !s.limiter.allow(clientIP(r)) {
		log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusTooManyRequests, ErrorMessage{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
		return
	}

	req, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := s.jobs.Submit(ctx, req)
	if err != nil {
		if req.Uploaded {
			os.Remove(req.Video)
		}
		log.Info("job rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: job.ID, Status: job.Status})
}

// decodeRequest reads a JSON body or a multipart form carrying the video file.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (orchestrator.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req orchestrator.Request
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			return req, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid JSON body")
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadMemory); err != nil {
		return orchestrator.Request{}, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	req, err := formRequest(r)
	if err != nil {
		return req, err
	}
	if req.Video != "" {
		return req, nil
	}

	path, err := s.saveUpload(r)
	if err != nil {
		return req, err
	}
	req.Video = path
	req.Uploaded = true
	return req, nil
}

func formRequest(r *http.Request) (orchestrator.Request, error) {
	req := orchestrator.Request{Video: r.FormValue("video")}

	strField := func(name string) *string {
		if v := r.FormValue(name); v != "" {
			return &v
		}
		return nil
	}
	intField := func(name string) (*int, error) {
		v := r.FormValue(name)
		if v == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "%s must be an integer, got %q", name, v)
		}
		return &n, nil
	}

	req.Classifier = strField("classifier")
	req.HashFunc = strField("hash_func")

	var err error
	if req.History, err = intField("history"); err != nil {
		return req, err
	}
	if req.HashSize, err = intField("hash_size"); err != nil {
		return req, err
	}
	if req.QueueLen, err = intField("queue_len"); err != nil {
		return req, err
	}
	if req.Similarity, err = intField("similarity"); err != nil {
		return req, err
	}
	return req, nil
}

// saveUpload stores the "file" part in the upload dir, keeping the original
// name as the prefix so the slide folder stays recognizable.
func (s *Server) saveUpload(r *http.Request) (string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "a video URL or file is required")
	}
	defer file.Close()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeWriteFailed, "create upload dir %s", s.uploadDir)
	}
	name := filepath.Base(header.Filename)
	ext := filepath.Ext(name)
	stem := strings.ReplaceAll(strings.TrimSuffix(name, ext), ".", "_")

	dst, err := os.CreateTemp(s.uploadDir, stem+"-*"+ext)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeWriteFailed, "create upload file")
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", apperrors.Wrap(err, apperrors.CodeWriteFailed, "save upload")
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", apperrors.Wrap(err, apperrors.CodeWriteFailed, "save upload")
	}
	return dst.Name(), nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Jobs())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, apperrors.Newf(apperrors.CodeNotFound, "job %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, apperrors.Newf(apperrors.CodeNotFound, "job %s not found", r.PathValue("id")))
		return
	}
	if job.Status != orchestrator.StatusDone {
		writeJSON(w, http.StatusConflict, ErrorMessage{Error: "job is " + string(job.Status), Code: "NOT_READY"})
		return
	}
	if job.PDFPath == "" {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "no slides were found in the video"))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(job.PDFPath)}))
	http.ServeFile(w, r, job.PDFPath)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.CORSOrigins),
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.conns.Write(func(m *map[*websocket.Conn]struct{}) { (*m)[conn] = struct{}{} })
	defer s.conns.Write(func(m *map[*websocket.Conn]struct{}) { delete(*m, conn) })

	log := trace.Logger(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Clients only listen; CloseRead handles control frames until they leave.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	log.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

func (s *Server) broadcastEvents(ctx context.Context) {
	events := s.jobs.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ctx, evt)
		}
	}
}

func (s *Server) broadcast(ctx context.Context, msg any) {
	var conns []*websocket.Conn
	s.conns.View(func(m map[*websocket.Conn]struct{}) {
		for c := range m {
			conns = append(conns, c)
		}
	})

	for _, c := range conns {
		go func(c *websocket.Conn) {
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			defer cancel()
			_ = wsjson.Write(wctx, c, msg)
		}(c)
	}
}

// originPatterns turns CORS origins into the host patterns websocket.Accept
// matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, o)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	writeJSON(w, apperrors.HTTPStatus(err), ErrorMessage{Error: msg, Code: apperrors.CodeOf(err).String()})
}
