// Package api exposes the question-answering service over HTTP.
//
// Endpoints:
//
//	POST /api/question          → run one question through the pipeline
//	POST /api/feedback          → submit a rating / correction
//	GET  /api/feedback          → recent feedback records
//	GET  /api/feedback/stats    → aggregate feedback statistics
//	POST /api/learning/trigger  → run a learning cycle now
//	GET  /api/learning/status   → scheduler status
//	GET  /api/learning/cycles   → recent cycle audit records
//	GET  /health                → liveness probe
//	GET  /ready                 → readiness probe (database ping)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery and request logging
//   - health.go: liveness / readiness probes
//   - question.go: question endpoint
//   - feedback.go: feedback submission and stats
//   - learning.go: learning-cycle trigger, status and history
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8000"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow clients from
	// holding connections open.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because a question runs several LLM
	// calls back to back.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP front end.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	health   *HealthHandler
	question *QuestionHandler
	feedback *FeedbackHandler
	learning *LearningHandler
}

// ServerConfig carries the handlers' collaborators.
type ServerConfig struct {
	Pool     *pgxpool.Pool
	Answerer Answerer
	Feedback FeedbackStore
	Learning LearningControl
	Cycles   CycleHistory
	Logger   *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:      mux,
		logger:   logger,
		health:   NewHealthHandler(cfg.Pool, logger),
		question: NewQuestionHandler(cfg.Answerer, logger),
		feedback: NewFeedbackHandler(cfg.Feedback, logger),
		learning: NewLearningHandler(cfg.Learning, cfg.Cycles, logger),
	}

	s.health.RegisterRoutes(mux)
	s.question.RegisterRoutes(mux)
	s.feedback.RegisterRoutes(mux)
	s.learning.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
