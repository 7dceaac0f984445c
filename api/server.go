// Package api exposes the question-answering service over HTTP.
//
// Endpoints:
//
//	POST   /api/ask                    ask a question
//	GET    /api/sessions               list live sessions
//	GET    /api/sessions/{id}/history  conversation history
//	DELETE /api/sessions/{id}          reset a session
//	GET    /healthz                    liveness probe
//	GET    /readyz                     readiness probe (pings the database)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, request id, logging, rate limiting
//   - ask.go: question endpoint
//   - session.go: session endpoints
//   - health.go: probes
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askany/askany/internal/answer"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/search"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to blunt Slowloris attacks.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because generation can take a while.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Config tunes the HTTP surface.
type Config struct {
	Addr string
	// DefaultMode applies when a request does not name a retrieval mode.
	DefaultMode search.Mode
	// RequestsPerSecond and Burst shape the per-IP rate limit. Zero
	// disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	// TrustProxy enables X-Real-IP / X-Forwarded-For for client IPs.
	TrustProxy bool
}

// Server is the HTTP server for the knowledge base API.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger log.Logger

	ask     *AskHandler
	session *SessionHandler
	health  *HealthHandler

	limiter *rateLimiter
}

// NewServer creates a server with all routes registered. pool may be nil,
// which degrades the readiness probe to always-unready.
func NewServer(svc *answer.Service, pool *pgxpool.Pool, cfg Config, logger log.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = search.Hybrid
	}
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:     mux,
		cfg:     cfg,
		logger:  logger,
		ask:     NewAskHandler(svc, cfg.DefaultMode, logger),
		session: NewSessionHandler(svc, logger),
		health:  NewHealthHandler(pool, logger),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	s.ask.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.health.RegisterRoutes(mux)
	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery, request id, logging, rate limit, handler.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, rateLimitMiddleware(s.limiter, s.cfg.TrustProxy, s.logger))
	}
	return chain(s.mux, middlewares...)
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
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
