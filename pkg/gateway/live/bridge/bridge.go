package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bridgekit/live-relay/pkg/gateway/live/protocol"
)

type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	MaxInboundMessageBytes  int64
	MaxInboundPayloadBytes  int64
	MaxOutboundPayloadBytes int64
	MaxAudioFPS             int
	MaxAudioBytesPerSecond  int64
	InboundBurstSeconds     int
	IdleTimeout             time.Duration
	MaxSessionDuration      time.Duration
	PingInterval            time.Duration
	WriteTimeout            time.Duration
	ReadTimeout             time.Duration
	OutboundQueueSize       int
}

type Dependencies struct {
	Conn      ClientConn
	Upstream  Upstream
	Logger    *slog.Logger
	SessionID string
	RequestID string
	Config    Config
	Now       func() time.Time
}

// Bridge relays media between one client socket and one upstream session.
// Each leg has a single reader and a single writer; the only cross-loop
// state is the session state word and the shutdown machinery.
type Bridge struct {
	conn      ClientConn
	upstream  Upstream
	logger    *slog.Logger
	sessionID string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	frames chan []byte

	state         atomic.Int32
	closeUpstream sync.Once
	lastActivity  atomic.Int64

	errMu sync.Mutex
	err   error
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("client connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream session is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:      deps.Conn,
		upstream:  deps.Upstream,
		logger:    deps.Logger,
		sessionID: deps.SessionID,
		requestID: deps.RequestID,
		cfg:       deps.Config,
		now:       deps.Now,
		ctx:       ctx,
		cancel:    cancel,
		frames:    make(chan []byte, deps.Config.OutboundQueueSize),
	}
	b.touch()
	return b, nil
}

func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Cancel tears the session down from outside, typically during process
// shutdown. Safe to call at any point and more than once.
func (b *Bridge) Cancel() {
	b.shutdown(nil, nil)
}

// Warn queues a best-effort diagnostic frame without ending the session.
func (b *Bridge) Warn(code, message string) {
	select {
	case b.frames <- protocol.EncodeWarning(code, message):
	default:
	}
}

// Run drives the session to completion and returns its terminal cause, or
// nil for a clean close. Both legs are released before Run returns.
func (b *Bridge) Run() error {
	defer func() {
		b.cancel()
		b.closeUpstream.Do(func() { _ = b.upstream.Close() })
	}()

	if b.cfg.MaxInboundMessageBytes > 0 {
		b.conn.SetReadLimit(b.cfg.MaxInboundMessageBytes)
	}
	if b.cfg.ReadTimeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		b.conn.SetPongHandler(func(string) error {
			return b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		})
	}
	b.touch()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		w := &clientWriter{
			ws:           b.conn,
			ctx:          b.ctx,
			frames:       b.frames,
			pingInterval: b.cfg.PingInterval,
			writeTimeout: b.cfg.WriteTimeout,
		}
		if err := w.Run(); err != nil {
			b.shutdown(&SendError{Err: err}, nil)
		}
	}()
	go func() {
		defer wg.Done()
		b.inboundLoop()
	}()
	go func() {
		defer wg.Done()
		b.outboundLoop()
	}()
	go func() {
		defer wg.Done()
		b.watchdog()
	}()

	wg.Wait()
	b.state.Store(int32(StateClosed))

	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// inboundLoop relays client frames upstream until the client leg ends.
func (b *Bridge) inboundLoop() {
	limiter := newAudioLimiter(b.now, b.cfg.MaxAudioFPS, b.cfg.MaxAudioBytesPerSecond, b.cfg.InboundBurstSeconds)
	warnedRate := false

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			b.shutdown(clientReadCause(err), nil)
			return
		}
		b.touch()

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			b.logger.Warn("malformed client frame",
				"session_id", b.sessionID, "request_id", b.requestID, "error", err)
			b.shutdown(err, protocol.EncodeErrorFrame("malformed_envelope", err.Error()))
			return
		}

		switch m := msg.(type) {
		case protocol.ClientAudio:
			if b.cfg.MaxInboundPayloadBytes > 0 && int64(len(m.Data)) > b.cfg.MaxInboundPayloadBytes {
				err := fmt.Errorf("inbound audio chunk of %d bytes exceeds limit", len(m.Data))
				b.shutdown(err, protocol.EncodeErrorFrame("payload_too_large", err.Error()))
				return
			}
			if !limiter.Allow(len(m.Data)) {
				if !warnedRate {
					warnedRate = true
					b.Warn("rate_limited", "inbound audio rate exceeded, dropping chunks")
				}
				continue
			}
			chunk := MediaChunk{Payload: m.Data, MIMEType: m.MIMEType, Direction: DirectionInbound}
			if err := b.upstream.Send(b.ctx, chunk); err != nil {
				b.shutdown(&SendError{Err: err}, protocol.EncodeErrorFrame("upstream_send_failed", "failed to forward audio upstream"))
				return
			}
		case protocol.ClientText:
			if err := b.upstream.SendText(b.ctx, m.Text); err != nil {
				b.shutdown(&SendError{Err: err}, protocol.EncodeErrorFrame("upstream_send_failed", "failed to forward text upstream"))
				return
			}
		}
	}
}

// outboundLoop relays upstream events to the client until the upstream leg
// ends. Signals without a client mapping are dropped.
func (b *Bridge) outboundLoop() {
	for {
		ev, err := b.upstream.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
				b.shutdown(nil, nil)
			default:
				b.shutdown(&ReceiveError{Err: err}, protocol.EncodeErrorFrame("upstream_receive_failed", "upstream session failed"))
			}
			return
		}
		b.touch()

		switch {
		case ev.Chunk != nil:
			frame, err := protocol.EncodeAudio(ev.Chunk.Payload, b.cfg.MaxOutboundPayloadBytes)
			if err != nil {
				b.logger.Warn("unencodable upstream chunk",
					"session_id", b.sessionID, "request_id", b.requestID, "error", err)
				b.shutdown(err, protocol.EncodeErrorFrame("unencodable_chunk", "upstream produced an unencodable chunk"))
				return
			}
			if !b.enqueue(frame) {
				return
			}
		case ev.Text != "":
			if !b.enqueue(protocol.EncodeText(ev.Text)) {
				return
			}
		default:
			switch ev.Signal {
			case SignalInterrupted:
				if !b.enqueue(protocol.EncodeInterrupted()) {
					return
				}
			case SignalTurnComplete:
				if !b.enqueue(protocol.EncodeTurnComplete()) {
					return
				}
			default:
			}
		}
	}
}

// watchdog enforces the idle timeout and the absolute session duration cap.
func (b *Bridge) watchdog() {
	var maxTimer <-chan time.Time
	if b.cfg.MaxSessionDuration > 0 {
		t := time.NewTimer(b.cfg.MaxSessionDuration)
		defer t.Stop()
		maxTimer = t.C
	}

	var idleTick <-chan time.Time
	if b.cfg.IdleTimeout > 0 {
		poll := b.cfg.IdleTimeout / 4
		if poll < 10*time.Millisecond {
			poll = 10 * time.Millisecond
		}
		if poll > 5*time.Second {
			poll = 5 * time.Second
		}
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		idleTick = ticker.C
	}

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-maxTimer:
			b.shutdown(nil, protocol.EncodeErrorFrame("session_expired", "maximum session duration reached"))
			return
		case <-idleTick:
			idle := b.now().Sub(time.Unix(0, b.lastActivity.Load()))
			if idle >= b.cfg.IdleTimeout {
				b.shutdown(nil, protocol.EncodeErrorFrame("idle_timeout", "no activity on either leg"))
				return
			}
		}
	}
}

// shutdown moves the session to Closing exactly once, queues an optional
// final diagnostic frame, and unblocks both relay loops by cancelling the
// writer (which closes the client socket) and closing the upstream session.
func (b *Bridge) shutdown(cause error, finalFrame []byte) {
	if !b.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return
	}
	if cause != nil {
		b.errMu.Lock()
		b.err = cause
		b.errMu.Unlock()
	}
	if finalFrame != nil {
		select {
		case b.frames <- finalFrame:
		default:
		}
	}
	b.cancel()
	b.closeUpstream.Do(func() { _ = b.upstream.Close() })
}

func (b *Bridge) enqueue(frame []byte) bool {
	select {
	case b.frames <- frame:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *Bridge) touch() {
	b.lastActivity.Store(b.now().UnixNano())
}

// clientReadCause distinguishes a clean client departure from a transport
// failure. Expected websocket closes and reads against the socket the
// writer already tore down are not session errors.
func clientReadCause(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
