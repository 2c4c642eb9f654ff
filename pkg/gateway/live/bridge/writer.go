package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// clientWriter owns the write side of the client socket. Every frame bound
// for the client goes through its queue, so socket writes never interleave.
type clientWriter struct {
	ws           ClientConn
	ctx          context.Context
	frames       <-chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration
}

func (w *clientWriter) Run() error {
	// Closing the socket here unblocks the inbound read loop on shutdown.
	defer w.ws.Close()

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame := <-w.frames:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// flushOnShutdown drains a handful of already-queued frames so a final
// diagnostic envelope still reaches the client before the close frame.
func (w *clientWriter) flushOnShutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}

	deadline := time.Now().Add(flushTimeout)
	const maxFlushFrames = 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame := <-w.frames:
			_ = w.writeFrame(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *clientWriter) writeFrame(frame []byte, writeTimeout time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}
