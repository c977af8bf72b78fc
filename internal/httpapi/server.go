// Package httpapi exposes the agent over HTTP: POST /agent/chat for
// conversational runs (execute=false plans in dry-run mode), GET /health,
// and GET /metrics serving Prometheus.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/kira/internal/agent"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/tools"
)

const maxChatBody = 1 << 20

// Executor runs one chat message through the agent graph.
type Executor interface {
	Execute(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Option customizes the server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records request latencies.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is the HTTP front of the agent.
type Server struct {
	executor Executor
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	mux      *http.ServeMux
}

// NewServer builds the server and its routes.
func NewServer(executor Executor, opts ...Option) *Server {
	s := &Server{
		executor: executor,
		logger:   observability.Nop(),
		now:      time.Now,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /agent/chat", s.instrument("/agent/chat", s.handleChat))
	s.mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the root handler, used by tests and the daemon.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled, then drains with a grace
// period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Execute   *bool  `json:"execute"`
}

type chatResponse struct {
	Status   string          `json:"status"`
	Response string          `json:"response"`
	Results  []*tools.Result `json:"results"`
	TraceID  string          `json:"trace_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// execute defaults to true; execute=false plans without writing.
	dryRun := req.Execute != nil && !*req.Execute

	result, err := s.executor.Execute(r.Context(), agent.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		DryRun:    dryRun,
	})
	switch {
	case errors.Is(err, agent.ErrSessionBusy):
		s.writeError(w, http.StatusConflict, "session busy, try again")
		return
	case err != nil:
		s.logger.Error(r.Context(), "chat run failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "agent execution failed")
		return
	}

	results := result.Results
	if results == nil {
		results = []*tools.Result{}
	}
	s.writeJSON(w, http.StatusOK, chatResponse{
		Status:   result.Status,
		Response: result.Response,
		Results:  results,
		TraceID:  result.TraceID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(context.Background(), "response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

// instrument wraps a handler with latency and status metrics.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, path,
				strconv.Itoa(rec.status), s.now().Sub(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
