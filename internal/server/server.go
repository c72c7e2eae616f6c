// Package server implements the Verdict HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/verdict/internal/engine"
)

// DefaultMaxRequestBody bounds request bodies when no limit is configured.
const DefaultMaxRequestBody int64 = 1 << 20

// Server is the Verdict HTTP API server.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
	router chi.Router
	addr   string
	srv    *http.Server
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	apiKey  string
	maxBody int64
	logger  *slog.Logger
}

// WithAPIKey requires the X-API-Key header on every route except health.
func WithAPIKey(key string) Option {
	return func(o *serverOptions) { o.apiKey = key }
}

// WithMaxRequestBody limits request body size in bytes.
func WithMaxRequestBody(n int64) Option {
	return func(o *serverOptions) { o.maxBody = n }
}

// WithLogger sets the server and handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

// New creates a new HTTP server.
func New(addr string, eng *engine.Engine, opts ...Option) *Server {
	o := serverOptions{maxBody: DefaultMaxRequestBody, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBody <= 0 {
		o.maxBody = DefaultMaxRequestBody
	}

	s := &Server{
		engine: eng,
		logger: o.logger,
		addr:   addr,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(o.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))
	r.Use(APIKeyMiddleware(o.apiKey))
	r.Use(MaxBodyMiddleware(o.maxBody))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("verdict server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
