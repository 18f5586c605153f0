// Package api exposes the HTTP interface for the image sourcer.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/catalog"
	"github.com/JakeFAU/catalog-image-sourcer/internal/config"
	"github.com/JakeFAU/catalog-image-sourcer/internal/metrics"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/worker"
)

const (
	requestTimeout        = 60 * time.Second
	streamBuffer          = 64
	defaultMaxUploadBytes = 32 << 20
)

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Items []sourcing.CatalogItem `json:"items"`
	// OutputDir names a subdirectory of the configured output directory for
	// this run. See ResolveOutputDir.
	OutputDir string `json:"output_dir,omitempty"`
	Publish   bool   `json:"publish"`
}

// ErrOutputDirOutsideRoot reports an output_dir that is absolute or climbs
// out of the configured output directory.
var ErrOutputDirOutsideRoot = errors.New("output_dir must be a relative path inside the configured output directory")

// ResolveOutputDir places sub under root. An empty sub selects root itself.
func ResolveOutputDir(root, sub string) (string, error) {
	if sub == "" {
		return root, nil
	}
	if !filepath.IsLocal(sub) || slices.Contains(strings.Split(filepath.ToSlash(sub), "/"), "..") {
		return "", ErrOutputDirOutsideRoot
	}
	return filepath.Join(root, sub), nil
}

// RunService executes one sourcing run, emitting progress to emit until it
// returns.
type RunService interface {
	Run(ctx context.Context, req RunRequest, emit progress.Emitter) (worker.Summary, error)
}

// Server wires HTTP handlers to the run service.
type Server struct {
	router  chi.Router
	runs    RunService
	history *RunHandler
	cfg     config.Config
	logger  *zap.Logger
	active  atomic.Bool
}

// NewServer constructs a Server with middleware and routes. history may be
// nil when no run database is configured.
func NewServer(runs RunService, history RunHistory, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		runs:    runs,
		history: NewRunHandler(history, logger),
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Event streams outlive any fixed request timeout.
		r.Post("/runs", s.startRun)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Post("/catalog", s.uploadCatalog)
			r.Get("/runs", s.history.ListRuns)
			r.Get("/runs/{run_id}", s.history.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"run_active":  s.active.Load(),
		"run_history": s.history.repo != nil,
	})
}

func (s *Server) uploadCatalog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	items, err := catalog.Read(file, header.Filename)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, catalog.ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

type runResult struct {
	summary worker.Summary
	err     error
}

// startRun streams progress as server-sent events: one "data:" frame per
// event, then a final "summary" or "error" event.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run service unavailable")
		return
	}
	var req RunRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items required")
		return
	}
	if _, err := ResolveOutputDir(s.cfg.Sourcing.OutputDir, req.OutputDir); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if !s.active.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.active.Store(false)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := progress.NewStream(streamBuffer)
	done := make(chan runResult, 1)
	go func() {
		defer stream.Close()
		summary, err := s.runs.Run(r.Context(), req, stream)
		done <- runResult{summary: summary, err: err}
	}()

	for evt := range stream.Events() {
		if err := writeEvent(w, "", evt.Record()); err != nil {
			s.logger.Info("event stream closed by client", zap.Error(err))
			stream.Abandon()
			break
		}
		flusher.Flush()
	}
	res := <-done
	if res.err != nil {
		s.logger.Warn("run ended early", zap.Error(res.err))
		_ = writeEvent(w, "error", map[string]any{"error": res.err.Error(), "summary": res.summary})
	} else {
		_ = writeEvent(w, "summary", res.summary)
	}
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The client may already be gone; nothing useful can be done with the error.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
