// Package bridge pairs one client websocket with one upstream live session
// and relays media between them until either leg terminates.
package bridge

import (
	"context"
	"fmt"
	"time"
)

type Direction int

const (
	DirectionInbound Direction = iota + 1
	DirectionOutbound
)

// MediaChunk is one opaque unit of forwarded media. Payload bytes are never
// inspected or transformed beyond base64 framing at the client boundary.
type MediaChunk struct {
	Payload   []byte
	MIMEType  string
	Direction Direction
}

// Signal is a non-media protocol event surfaced by the upstream session.
type Signal int

const (
	SignalNone Signal = iota
	SignalInterrupted
	SignalTurnComplete
	SignalGenerationComplete
	SignalGoAway
)

// Event is one unit produced by Upstream.Receive: exactly one of Chunk,
// Text, or Signal is set.
type Event struct {
	Chunk  *MediaChunk
	Text   string
	Signal Signal
}

// Upstream is the session-scoped connection to the inference service.
// Receive blocks until the upstream produces an event, returns io.EOF on a
// clean upstream close, and is unblocked by Close. Close is idempotent.
type Upstream interface {
	Send(ctx context.Context, chunk MediaChunk) error
	SendText(ctx context.Context, text string) error
	Receive() (Event, error)
	Close() error
}

// ClientConn is the subset of *websocket.Conn the bridge needs.
type ClientConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ConnectError reports a failed upstream session establishment.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream connect: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("upstream connect: %s", e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a mid-session write failure on either leg.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("session send: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports a mid-session upstream read failure.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string { return fmt.Sprintf("session receive: %v", e.Err) }

func (e *ReceiveError) Unwrap() error { return e.Err }
