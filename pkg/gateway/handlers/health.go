package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bridgekit/live-relay/pkg/gateway/config"
	"github.com/bridgekit/live-relay/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config       config.Config
	LiveSessions *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		Model          string   `json:"model"`
		ActiveSessions int      `json:"active_sessions"`
		MaxSessions    int      `json:"max_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if strings.TrimSpace(h.Config.GeminiAPIKey) == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if strings.TrimSpace(h.Config.GeminiModel) == "" {
		issues = append(issues, "gemini model is not configured")
	}
	if h.Config.UpstreamConnectTimeout <= 0 {
		issues = append(issues, "upstream connect timeout must be > 0")
	}
	if h.Config.MaxInboundMessageBytes <= 0 {
		issues = append(issues, "max inbound message bytes must be > 0")
	}
	if h.Config.MaxInboundPayloadBytes <= 0 || h.Config.MaxOutboundPayloadBytes <= 0 {
		issues = append(issues, "payload budgets must be > 0")
	}
	if h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "websocket keepalive timings must be > 0")
	}
	if h.Config.IdleTimeout <= 0 || h.Config.MaxSessionDuration <= 0 {
		issues = append(issues, "session timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		AuthMode:       string(h.Config.AuthMode),
		Model:          h.Config.GeminiModel,
		ActiveSessions: h.LiveSessions.Count(),
		MaxSessions:    h.Config.MaxSessions,
		Issues:         issues,
	})
}
