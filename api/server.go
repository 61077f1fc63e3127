// Package api exposes the session store and generation orchestrator
// over HTTP for the browser client.
//
// Endpoints:
//
//	GET    /health                     → liveness probe
//	GET    /api/sessions               → session collection snapshot
//	POST   /api/sessions               → new chat
//	POST   /api/sessions/{id}/select   → select session
//	DELETE /api/sessions/{id}          → delete session
//	GET    /api/state                  → processing flag + status text
//	POST   /api/generate               → SSE generation stream
//
// The API is a thin presentation collaborator: it renders read-only
// snapshots and forwards calls into the core. Generation failures are
// reported as SSE events, never as HTTP errors.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/neyroplan/neyroplan/internal/log"
	"github.com/neyroplan/neyroplan/internal/session"
)

// Server timeout configuration.
const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris protection).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because video generation streams over
	// SSE with no enforced remote deadline.
	WriteTimeout = 15 * time.Minute

	// IdleTimeout applies to keep-alive connections.
	IdleTimeout = 2 * time.Minute
)

// Server is the HTTP server for the chat API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(store *session.Store, svc GenerateService, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{mux: mux, logger: logger}

	NewHealthHandler().RegisterRoutes(mux)
	NewSessionHandler(store, svc, logger).RegisterRoutes(mux)
	NewGenerateHandler(svc, logger).RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
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
		s.logger.Info("starting HTTP server", "addr", addr)
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

// chain applies middleware in order: first middleware wraps outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// loggingMiddleware logs requests with method, path and duration.
func loggingMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start))
		})
	}
}

// recoveryMiddleware converts panics into 500 responses.
func recoveryMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
