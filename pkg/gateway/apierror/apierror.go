package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Type categorizes API errors on the HTTP surface.
type Type string

const (
	ErrInvalidRequest Type = "invalid_request_error"
	ErrAuthentication Type = "authentication_error"
	ErrPermission     Type = "permission_error"
	ErrNotFound       Type = "not_found_error"
	ErrRateLimit      Type = "rate_limit_error"
	ErrAPI            Type = "api_error"
	ErrOverloaded     Type = "overloaded_error"
)

// Error is the canonical JSON error body for non-websocket responses.
type Error struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Param     string `json:"param,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Envelope struct {
	Error *Error `json:"error"`
}

// Write sends err as a JSON error envelope with the given HTTP status.
func Write(w http.ResponseWriter, status int, err *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}
