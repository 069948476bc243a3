// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server exposes asset-set fetching over HTTP: a REST API to queue
// and inspect jobs, a WebSocket feed of progress, and Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bodaay/assetfetch/internal/metrics"
	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// Config holds server configuration. Destinations come from Settings and
// the catalog; they are never taken from API requests.
type Config struct {
	Addr           string // host:port
	Token          string // Hugging Face token for gated sets
	Settings       assetfetch.Settings
	AllowedOrigins []string // CORS origins; empty allows any
	QueueSize      int
	Version        string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      "127.0.0.1:8080",
		Settings:  assetfetch.DefaultSettings(),
		QueueSize: 64,
		Version:   "dev",
	}
}

// Server is the HTTP server for assetfetch.
type Server struct {
	config     Config
	fetcher    *assetfetch.Fetcher
	jobs       *JobManager
	wsHub      *WSHub
	recorder   *metrics.Recorder
	registry   *prometheus.Registry
	logger     *zap.Logger
	httpServer *http.Server
}

// New creates a server. opts are passed to the underlying Fetcher after the
// server's own logger and progress wiring, so tests can swap the oracle,
// engine or catalog.
func New(cfg Config, logger *zap.Logger, opts ...assetfetch.Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		config:   cfg,
		wsHub:    NewWSHub(logger),
		recorder: metrics.NewRecorder(),
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	s.registry.MustRegister(
		s.recorder,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// The jobs field is assigned before any event can fire: events only
	// flow while a job runs, and jobs only run after New returns.
	progress := s.recorder.Wrap(func(ev assetfetch.ProgressEvent) { s.jobs.HandleEvent(ev) })
	base := []assetfetch.Option{
		assetfetch.WithLogger(logger.Named("fetch")),
		assetfetch.WithProgress(progress),
	}
	f, err := assetfetch.New(cfg.Settings, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	s.fetcher = f
	s.jobs = NewJobManager(f.FetchSet, cfg.Token, cfg.QueueSize, s.wsHub, logger.Named("jobs"))
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server, the job worker and the WebSocket hub on ln
// until ctx is done or one of them fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return s.jobs.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)

	// Catalog
	mux.HandleFunc("GET /api/sets", s.handleListSets)
	mux.HandleFunc("GET /api/sets/{name}/plan", s.handlePlan)

	// Jobs
	mux.HandleFunc("POST /api/fetch", s.handleStartFetch)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, o := range s.config.AllowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "Origin not allowed", origin)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
