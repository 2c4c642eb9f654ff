// Package server assembles the relay's HTTP surface.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bridgekit/live-relay/pkg/gateway/config"
	"github.com/bridgekit/live-relay/pkg/gateway/handlers"
	"github.com/bridgekit/live-relay/pkg/gateway/lifecycle"
	"github.com/bridgekit/live-relay/pkg/gateway/live/sessions"
	"github.com/bridgekit/live-relay/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(cfg.MaxSessions),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, LiveSessions: s.liveSessions})

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the relay into drain mode: new live sessions are
// rejected while established ones run out.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnLiveSessionsDraining() int {
	return s.liveSessions.WarnAll("server_draining", "relay is shutting down")
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}
