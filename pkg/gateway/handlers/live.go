package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bridgekit/live-relay/pkg/gateway/apierror"
	"github.com/bridgekit/live-relay/pkg/gateway/config"
	"github.com/bridgekit/live-relay/pkg/gateway/lifecycle"
	"github.com/bridgekit/live-relay/pkg/gateway/live/bridge"
	"github.com/bridgekit/live-relay/pkg/gateway/live/protocol"
	"github.com/bridgekit/live-relay/pkg/gateway/live/sessions"
	"github.com/bridgekit/live-relay/pkg/gateway/live/upstream"
	"github.com/bridgekit/live-relay/pkg/gateway/mw"
)

// UpstreamDialer establishes the upstream leg for one session. Injectable
// so tests can relay against a fake upstream.
type UpstreamDialer func(ctx context.Context, cfg upstream.Config) (bridge.Upstream, error)

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	DialUpstream UpstreamDialer
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID,
		})
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		apierror.Write(w, 529, &apierror.Error{
			Type: apierror.ErrOverloaded, Message: "relay is draining", Code: "draining", RequestID: reqID,
		})
		return
	}
	if !mw.AllowedOrigin(h.Config, r) {
		apierror.Write(w, http.StatusForbidden, &apierror.Error{
			Type: apierror.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID,
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Admission happens before the upstream leg is dialed so a full relay
	// spends nothing on rejected sessions.
	release, err := h.LiveSessions.Acquire()
	if err != nil {
		if errors.Is(err, sessions.ErrCapacityExceeded) {
			h.writeWSError(conn, "capacity_exceeded", "too many active sessions")
		} else {
			h.writeWSError(conn, "internal", "failed to admit session")
		}
		return
	}
	defer release()

	dial := h.DialUpstream
	if dial == nil {
		dial = func(ctx context.Context, cfg upstream.Config) (bridge.Upstream, error) {
			return upstream.Dial(ctx, cfg)
		}
	}

	sessionID := "sess_" + uuid.NewString()
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	up, err := dial(r.Context(), upstream.Config{
		APIKey:            h.Config.GeminiAPIKey,
		Model:             h.Config.GeminiModel,
		SystemInstruction: h.Config.SystemInstruction,
		ConnectTimeout:    h.Config.UpstreamConnectTimeout,
	})
	if err != nil {
		logger.Warn("upstream connect failed", "session_id", sessionID, "request_id", reqID, "error", err)
		h.writeWSError(conn, "connect_failed", "failed to establish upstream session")
		return
	}

	b, err := bridge.New(bridge.Dependencies{
		Conn:      conn,
		Upstream:  up,
		Logger:    logger,
		SessionID: sessionID,
		RequestID: reqID,
		Config: bridge.Config{
			MaxInboundMessageBytes:  h.Config.MaxInboundMessageBytes,
			MaxInboundPayloadBytes:  int64(h.Config.MaxInboundPayloadBytes),
			MaxOutboundPayloadBytes: int64(h.Config.MaxOutboundPayloadBytes),
			MaxAudioFPS:             h.Config.MaxAudioFPS,
			MaxAudioBytesPerSecond:  h.Config.MaxAudioBytesPerSecond,
			InboundBurstSeconds:     h.Config.InboundBurstSeconds,
			IdleTimeout:             h.Config.IdleTimeout,
			MaxSessionDuration:      h.Config.MaxSessionDuration,
			PingInterval:            h.Config.WSPingInterval,
			WriteTimeout:            h.Config.WSWriteTimeout,
			ReadTimeout:             h.Config.WSReadTimeout,
		},
	})
	if err != nil {
		_ = up.Close()
		h.writeWSError(conn, "internal", "failed to initialize session")
		return
	}

	unregister := h.LiveSessions.Register(sessionID, sessions.Handle{
		Cancel: b.Cancel,
		Warn:   b.Warn,
	})
	defer unregister()

	logger.Info("live session started", "session_id", sessionID, "request_id", reqID)
	start := time.Now()
	if err := b.Run(); err != nil {
		logger.Warn("live session ended with error",
			"session_id", sessionID, "request_id", reqID,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return
	}
	logger.Info("live session ended",
		"session_id", sessionID, "request_id", reqID,
		"duration_ms", time.Since(start).Milliseconds())
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string) {
	writeTimeout := h.Config.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, protocol.EncodeErrorFrame(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(writeTimeout))
}
