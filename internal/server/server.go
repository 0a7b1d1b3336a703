// Package server is the HTTP surface of vessel-parse: health, Prometheus
// metrics and a multipart extraction endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/document"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/extraction"
	"github.com/vesselgpt/vessel/internal/metrics"
	"github.com/vesselgpt/vessel/internal/schema"
)

const (
	shutdownTimeout = 10 * time.Second
	checkTimeout    = 5 * time.Second
)

// Extractor runs one extraction request.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// Server serves the ops and extraction endpoints.
type Server struct {
	router      chi.Router
	extractor   Extractor
	maxFileSize int64
	checks      []check
	logger      *zap.Logger
}

type check struct {
	name string
	fn   func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithCheck adds a dependency checked by /healthz. Any failing check turns
// the response into a 503.
func WithCheck(name string, fn func(context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, check{name: name, fn: fn})
	}
}

// New creates a Server. A nil extractor leaves /v1/extract unregistered.
func New(extractor Extractor, maxFileSize int64, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:      chi.NewRouter(),
		extractor:   extractor,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	if s.extractor != nil {
		s.router.Post("/v1/extract", s.handleExtract)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if len(s.checks) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.fn(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("check", c.name), zap.Error(err))
			status, code = "unavailable", http.StatusServiceUnavailable
			results[c.name] = err.Error()
			continue
		}
		results[c.name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": results})
}

// handleExtract accepts multipart form fields file, query, tables_only and
// generic_query.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "missing file part", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot read upload", err))
		return
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		s.writeError(w, r, vesselerrors.Document("document too large: %d bytes (max: %d bytes)", len(data), s.maxFileSize))
		return
	}

	query := r.FormValue("query")
	if query == "" {
		query = schema.QueryAll
	}
	req := extraction.Request{
		Document: document.New(data, header.Filename, header.Header.Get("Content-Type")),
		Query:    query,
		Options: extraction.Options{
			TablesOnly:   formBool(r, "tables_only"),
			GenericQuery: formBool(r, "generic_query"),
		},
	}

	result, err := s.extractor.Extract(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func formBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.FormValue(key))
	return v
}

// statusFor maps error types to HTTP status codes.
func statusFor(err error) int {
	switch vesselerrors.TypeOf(err) {
	case vesselerrors.ErrorTypeDocument, vesselerrors.ErrorTypeQuery, vesselerrors.ErrorTypeSchema:
		return http.StatusBadRequest
	case vesselerrors.ErrorTypeBackendUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err))
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"type":  vesselerrors.TypeOf(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
