package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Upstream Gemini Live session.
	GeminiAPIKey      string
	GeminiModel       string
	SystemInstruction string

	// UpstreamConnectTimeout bounds the Live connect + handshake; a session
	// whose upstream cannot be established within it is rejected.
	UpstreamConnectTimeout time.Duration

	// Admission control: maximum concurrent bridged sessions. Zero rejects
	// every session; negative disables the limit.
	MaxSessions int

	// Per-session limits.
	MaxInboundMessageBytes  int64
	MaxInboundPayloadBytes  int
	MaxOutboundPayloadBytes int
	MaxAudioFPS             int
	MaxAudioBytesPerSecond  int64
	InboundBurstSeconds     int

	// Session lifetime safeguards.
	IdleTimeout        time.Duration
	MaxSessionDuration time.Duration

	// Client websocket keepalive and deadlines.
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration
	WSReadTimeout  time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("LIVE_RELAY_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("LIVE_RELAY_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                 make(map[string]struct{}),
		CORSAllowedOrigins:      make(map[string]struct{}),
		GeminiAPIKey:            envOr("LIVE_RELAY_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		GeminiModel:             envOr("LIVE_RELAY_GEMINI_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
		SystemInstruction:       envOr("LIVE_RELAY_SYSTEM_INSTRUCTION", "You are a helpful and friendly AI assistant."),
		UpstreamConnectTimeout:  envDurationOr("LIVE_RELAY_UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
		MaxSessions:             envIntOr("LIVE_RELAY_MAX_SESSIONS", 64),
		MaxInboundMessageBytes:  envInt64Or("LIVE_RELAY_MAX_INBOUND_MESSAGE_BYTES", 256*1024),
		MaxInboundPayloadBytes:  envIntOr("LIVE_RELAY_MAX_INBOUND_PAYLOAD_BYTES", 128*1024),
		MaxOutboundPayloadBytes: envIntOr("LIVE_RELAY_MAX_OUTBOUND_PAYLOAD_BYTES", 1<<20),
		MaxAudioFPS:             envIntOr("LIVE_RELAY_MAX_AUDIO_FPS", 120),
		MaxAudioBytesPerSecond:  envInt64Or("LIVE_RELAY_MAX_AUDIO_BPS", 256*1024),
		InboundBurstSeconds:     envIntOr("LIVE_RELAY_INBOUND_BURST_SECONDS", 2),
		IdleTimeout:             envDurationOr("LIVE_RELAY_IDLE_TIMEOUT", 2*time.Minute),
		MaxSessionDuration:      envDurationOr("LIVE_RELAY_MAX_SESSION_DURATION", 2*time.Hour),
		WSPingInterval:          envDurationOr("LIVE_RELAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:          envDurationOr("LIVE_RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:           envDurationOr("LIVE_RELAY_WS_READ_TIMEOUT", 0),
		ReadHeaderTimeout:       envDurationOr("LIVE_RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("LIVE_RELAY_READ_TIMEOUT", 0),
		ShutdownGracePeriod:     envDurationOr("LIVE_RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("LIVE_RELAY_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("LIVE_RELAY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("LIVE_RELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_API_KEYS must be set when LIVE_RELAY_AUTH_MODE=required")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("LIVE_RELAY_GEMINI_MODEL must not be empty")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.MaxInboundMessageBytes <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_MAX_INBOUND_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxInboundPayloadBytes <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_MAX_INBOUND_PAYLOAD_BYTES must be > 0")
	}
	if cfg.MaxOutboundPayloadBytes <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_MAX_OUTBOUND_PAYLOAD_BYTES must be > 0")
	}
	if cfg.MaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("LIVE_RELAY_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.IdleTimeout < 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_IDLE_TIMEOUT must be >= 0")
	}
	if cfg.MaxSessionDuration < 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout < 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_READ_TIMEOUT must be >= 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LIVE_RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
