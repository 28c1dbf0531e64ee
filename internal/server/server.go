package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/agentstream/internal/app"
)

// Server serves the agent API and the observer feeds.
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server
}

func New(application *app.App) *Server {
	s := &Server{app: application}
	s.router = s.setupRoutes()

	cfg := application.Config.Server
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.withMiddleware(s.router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout stays zero: WS and SSE feeds outlive any fixed
		// deadline and set their own per-write deadlines.
	}
	return s
}

// Handler returns the router wrapped in middleware
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listener and serves until Shutdown. A bind failure is
// returned immediately rather than after the first request.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	addr := ln.Addr().String()
	s.app.Logger.Info().
		Str("address", addr).
		Str("global_feed", "ws://"+addr+"/ws/logs").
		Str("session_feed", "ws://"+addr+"/ws/session/{session_id}/logs").
		Str("task_stream", "http://"+addr+"/api/run-browser-task").
		Str("metrics", "http://"+addr+"/metrics").
		Msg("HTTP server listening")

	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Hijacked WebSocket connections are not waited on.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Stopping HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
