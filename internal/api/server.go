// Package api implements the AgriAgent HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/agriagent/agriagent/internal/agent"
	"github.com/agriagent/agriagent/internal/farmcard"
	"github.com/agriagent/agriagent/internal/health"
	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/vision"
	"github.com/agriagent/agriagent/internal/voice"
)

// MaxUploadBytes bounds multipart uploads for voice and diagnosis.
const MaxUploadBytes = 20 << 20

// MaxHistoryTurns is the longest history a query may carry.
const MaxHistoryTurns = 50

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Agent answers farmer questions.
type Agent interface {
	ReasonAndAct(ctx context.Context, q agent.Query) agent.Response
}

// Diagnoser analyzes crop images and videos.
type Diagnoser interface {
	Diagnose(ctx context.Context, data []byte, mimeType string) vision.Diagnosis
}

// Interpreter transcribes voice questions.
type Interpreter interface {
	Interpret(ctx context.Context, audio []byte, mimeType string) voice.Interpretation
}

// CardGenerator builds farm cards.
type CardGenerator interface {
	Generate(ctx context.Context, location, crop string, coords *market.Coordinates) farmcard.Card
}

// UpstreamReporter reports upstream reachability.
type UpstreamReporter interface {
	Status() map[string]health.Status
	Ready() bool
}

// Deps are the services behind the API. Any may be nil, in which case
// its routes answer 503.
type Deps struct {
	Agent       Agent
	Diagnoser   Diagnoser
	Interpreter Interpreter
	Cards       CardGenerator
	Upstreams   UpstreamReporter
	Metrics     *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	deps         Deps
	allowOrigins []string
	logger       *slog.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger.With("component", "api"),
	}
}

// SetAllowOrigins configures CORS. "*" allows any origin; an empty list
// disables CORS headers.
func (s *Server) SetAllowOrigins(origins []string) {
	s.allowOrigins = origins
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/health/upstreams", s.handleUpstreams)

	mux.HandleFunc("POST /api/v1/agent/query", s.handleAgentQuery)
	mux.HandleFunc("POST /api/v1/agent/interact/voice", s.handleVoice)
	mux.HandleFunc("POST /api/v1/analyze/diagnose", s.handleDiagnose)
	mux.HandleFunc("GET /api/v1/artifacts/daily-card", s.handleDailyCard)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return s.withRequestID(s.withLogging(s.withCORS(mux)))
}

// Start begins serving HTTP requests. It returns when the server stops;
// http.ErrServerClosed after Shutdown.
func (s *Server) Start(_ context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server. A later Start returns
// http.ErrServerClosed immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}
