package mw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bridgekit/live-relay/pkg/gateway/config"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestIDFrom(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !strings.HasPrefix(got, "req_") {
		t.Fatalf("expected generated request id, got %q", got)
	}
	if hdr := rec.Header().Get("X-Request-ID"); hdr != got {
		t.Fatalf("response header %q does not match context id %q", hdr, got)
	}
}

func TestRequestID_PropagatesProvided(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestIDFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_upstreamvalue")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "req_upstreamvalue" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestAuth_DisabledPassesThrough(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeDisabled}
	called := false
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/live", nil))
	if !called {
		t.Fatal("expected handler to be invoked with auth disabled")
	}
}

func TestAuth_RequiredRejectsMissingKey(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]struct{}{"sk-good": {}}}
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/live", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Error.Type != "authentication_error" {
		t.Fatalf("unexpected error type %q", body.Error.Type)
	}
}

func TestAuth_RequiredRejectsUnknownKey(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]struct{}{"sk-good": {}}}
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	req.Header.Set("Authorization", "Bearer sk-bad")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_RequiredAcceptsHeaderKey(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]struct{}{"sk-good": {}}}
	called := false
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to run with valid key")
	}
}

func TestAuth_RequiredAcceptsQueryKey(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]struct{}{"sk-good": {}}}
	called := false
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/live?api_key=sk-good", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to run with valid query key")
	}
}

func TestAuth_OptionalAllowsMissingButRejectsInvalid(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeOptional, APIKeys: map[string]struct{}{"sk-good": {}}}
	called := false
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/live", nil))
	if !called {
		t.Fatal("expected missing key to pass in optional mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	req.Header.Set("Authorization", "Bearer sk-bad")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid key to be rejected in optional mode, got %d", rec.Code)
	}
}

func TestRecover_TurnsPanicInto500(t *testing.T) {
	loggerOut := &bytes.Buffer{}
	h := Recover(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(loggerOut.String(), "boom") {
		t.Fatalf("expected panic value in log output, got %q", loggerOut.String())
	}
}

func TestAccessLog_RecordsStatusAndRequestID(t *testing.T) {
	loggerOut := &bytes.Buffer{}
	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil).
		WithContext(WithRequestID(context.Background(), "req_test"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(loggerOut.String())), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if rec["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status %v", rec["status"])
	}
	if rec["request_id"] != "req_test" {
		t.Fatalf("unexpected request_id %v", rec["request_id"])
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (w *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func TestAccessLog_PreservesHijacker(t *testing.T) {
	writer := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatalf("expected http.Hijacker to be preserved")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
	}))
	h.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, "/v1/live", nil))

	if !writer.hijacked {
		t.Fatal("expected underlying hijacker to be invoked")
	}
}

func TestAccessLog_PreservesFlusher(t *testing.T) {
	writer := httptest.NewRecorder()
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Fatalf("expected http.Flusher to be preserved")
		}
	}))
	h.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, "/v1/live", nil))
}
