package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bridgekit/live-relay/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode:                config.AuthModeDisabled,
		APIKeys:                 map[string]struct{}{},
		CORSAllowedOrigins:      map[string]struct{}{},
		GeminiAPIKey:            "test-key",
		GeminiModel:             "gemini-test",
		UpstreamConnectTimeout:  time.Second,
		MaxSessions:             4,
		MaxInboundMessageBytes:  64 * 1024,
		MaxInboundPayloadBytes:  32 * 1024,
		MaxOutboundPayloadBytes: 1 << 20,
		IdleTimeout:             time.Minute,
		MaxSessionDuration:      time.Minute,
		WSPingInterval:          20 * time.Second,
		WSWriteTimeout:          5 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := New(testConfig(), testLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoutes_Reachable(t *testing.T) {
	s := New(testConfig(), testLogger())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_LiveRoute_Reachable(t *testing.T) {
	s := New(testConfig(), testLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/v1/live unexpectedly returned 404")
	}
}

func TestServer_DrainingRejectsLive(t *testing.T) {
	s := New(testConfig(), testLogger())
	s.SetDraining()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != 529 {
		t.Fatalf("expected 529 while draining, got %d", rr.Code)
	}
}
