// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package server exposes agent runs over HTTP: start a run, fetch its
// transcript, and read its guardrail audit trail.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bastion-agent/bastion/internal/agent"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RunTimeout bounds one agent run started over HTTP.
	RunTimeout time.Duration
}

// Server wraps a chi router over the session driver.
type Server struct {
	router chi.Router
	driver *agent.Driver
	cfg    Config
	log    *slog.Logger
}

// New creates a Server with routing, CORS, and a health endpoint.
func New(cfg Config, driver *agent.Driver) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, basterr.New(basterr.CodeServerStartFailure, "listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 4 * time.Minute
	}

	s := &Server{
		driver: driver,
		cfg:    cfg,
		log:    slog.Default(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/audit", s.handleGetAudit)
	})

	s.router = r
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return basterr.Wrapf(err, basterr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	s.log.Info("http server listening", "addr", s.cfg.ListenAddr)

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return basterr.Wrap(err, basterr.CodeServerInternalFailure, "shutting down")
	}
	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}
