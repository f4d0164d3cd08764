package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/config"
	"github.com/JakeFAU/regionpulse/internal/dispatcher"
	"github.com/JakeFAU/regionpulse/internal/metrics"
	"github.com/JakeFAU/regionpulse/internal/progress"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/queue/memory"
	"github.com/JakeFAU/regionpulse/internal/scan"
	"github.com/JakeFAU/regionpulse/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 16
)

// StatusSource exposes the live scan status. progress.Tracker satisfies it.
type StatusSource interface {
	Status() progress.ScanStatus
}

// RegionCatalog resolves configured regions. scan.Service satisfies it.
type RegionCatalog interface {
	Regions() []pulse.RegionConfig
	ResolveRegions(names []string) ([]pulse.RegionConfig, error)
}

// Submitter queues scan requests. dispatcher.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req scan.Request) (dispatcher.JobStatus, error)
	Lookup(id string) (dispatcher.JobStatus, bool)
}

// Deps bundles the collaborators behind the routes. History and Ready are
// optional.
type Deps struct {
	Status    StatusSource
	Regions   RegionCatalog
	Submitter Submitter
	History   store.ScanRepository
	Ready     pulse.AvailabilityChecker
}

// Server wires HTTP handlers to the tracker, dispatcher, and stores.
type Server struct {
	router  chi.Router
	deps    Deps
	history *ProgressHandler
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:    deps,
		history: NewProgressHandler(deps.History, logger),
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Get("/status", s.getStatus)
		r.Get("/regions", s.listRegions)
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.submitScan)
			r.Get("/", s.history.ListScans)
			r.Route("/{scan_id}", func(r chi.Router) {
				r.Get("/", s.history.GetScan)
				r.Get("/regions", s.history.ListScanRegions)
			})
		})
		r.Get("/scan-requests/{request_id}", s.getScanRequest)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), progressTimeout)
		defer cancel()
		if err := s.deps.Ready.Available(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status.Status())
}

func (s *Server) listRegions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Regions == nil {
		writeError(w, http.StatusServiceUnavailable, "regions unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": s.deps.Regions.Regions()})
}

type scanRequest struct {
	Regions []string `json:"regions"`
}

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil || s.deps.Regions == nil {
		writeError(w, http.StatusServiceUnavailable, "scanning unavailable")
		return
	}
	var req scanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resolved, err := s.deps.Regions.ResolveRegions(req.Regions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	names := make([]string, 0, len(resolved))
	for _, region := range resolved {
		names = append(names, region.Name)
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	status, err := s.deps.Submitter.Submit(ctx, scan.Request{Regions: names, Trigger: "api"})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, memory.ErrFull) || errors.Is(err, memory.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		s.logger.Error("queue scan request failed", zap.Error(err))
		writeError(w, code, "failed to queue scan")
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) getScanRequest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "scanning unavailable")
		return
	}
	status, ok := s.deps.Submitter.Lookup(chi.URLParam(r, "request_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "scan request not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
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
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
