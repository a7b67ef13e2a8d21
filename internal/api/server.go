// Package api exposes the HTTP interface for the browser cluster scheduler.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relayhq/browsercluster/internal/cluster"
)

// Server wires HTTP handlers to the cluster supervisor.
type Server struct {
	router     chi.Router
	supervisor *cluster.Supervisor
	logger     *zap.Logger

	resultsMu sync.Mutex
	results   map[string][]cluster.Result
}

// NewServer constructs a Server with middleware and routes.
func NewServer(supervisor *cluster.Supervisor, logger *zap.Logger, authEnabled bool, apiKey string) *Server {
	s := &Server{
		supervisor: supervisor,
		logger:     logger,
		results:    make(map[string][]cluster.Result),
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if authEnabled {
		r.Use(s.apiKeyMiddleware(apiKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/explore", s.explore)
		r.Post("/trace-taint", s.traceTaint)
		r.Post("/wait", s.wait)
		r.Post("/shutdown", s.shutdownCluster)
		r.Get("/sitemap", s.sitemap)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/done", s.jobDone)
			r.Get("/results", s.jobResults)
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type exploreRequest struct {
	Resource string                     `json:"resource"`
	Options  cluster.ExplorationOptions `json:"options"`
}

func (s *Server) explore(w http.ResponseWriter, r *http.Request) {
	var req exploreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resource == "" {
		s.writeError(w, http.StatusBadRequest, "resource is required")
		return
	}
	jobID, err := s.submitExploration(req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) submitExploration(req exploreRequest) (string, error) {
	var jobID string
	err := s.supervisor.Explore(req.Resource, req.Options, func(res cluster.Result) {
		jobID = res.Job.ID
		s.recordResult(res)
	})
	if err != nil {
		return "", fmt.Errorf("explore %s: %w", req.Resource, err)
	}
	return jobID, nil
}

type traceTaintRequest struct {
	Resource string               `json:"resource"`
	Options  cluster.TaintOptions `json:"options"`
}

func (s *Server) traceTaint(w http.ResponseWriter, r *http.Request) {
	var req traceTaintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resource == "" {
		s.writeError(w, http.StatusBadRequest, "resource is required")
		return
	}
	var jobID string
	err := s.supervisor.TraceTaint(req.Resource, req.Options, func(res cluster.Result) {
		jobID = res.Job.ID
		s.recordResult(res)
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) wait(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Wait(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cluster.ErrAlreadyShutdown) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (s *Server) shutdownCluster(w http.ResponseWriter, _ *http.Request) {
	s.supervisor.Shutdown()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "shutdown"})
}

func (s *Server) sitemap(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.supervisor.Sitemap())
}

func (s *Server) jobDone(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	done, err := s.supervisor.JobDone(cluster.Job{ID: jobID}, true)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"done": done})
}

func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	s.resultsMu.Lock()
	results := append([]cluster.Result{}, s.results[jobID]...)
	s.resultsMu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "results": results})
}

// recordResult appends to a bounded per-job result buffer keyed by job id.
func (s *Server) recordResult(res cluster.Result) {
	const maxBuffered = 1000
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	bucket := s.results[res.Job.ID]
	if len(bucket) >= maxBuffered {
		bucket = bucket[1:]
	}
	s.results[res.Job.ID] = append(bucket, res)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("recovered", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func (s *Server) apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				s.writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
