// Package upstream connects bridge sessions to the Gemini Live API.
package upstream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/bridgekit/live-relay/pkg/gateway/live/bridge"
)

type Config struct {
	APIKey            string
	Model             string
	SystemInstruction string
	ConnectTimeout    time.Duration
}

// liveSession is the subset of *genai.Session the adapter drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Session adapts one Gemini Live connection to the bridge.Upstream
// contract. Receive is single-reader; Close unblocks it.
type Session struct {
	inner liveSession

	// One server message can carry several parts; surplus events wait here
	// for the next Receive call.
	pending []bridge.Event

	closeOnce sync.Once
	closeErr  error
}

func newSession(inner liveSession) *Session {
	return &Session{inner: inner}
}

// Dial establishes a live session with the configured model. All failures
// are reported as *bridge.ConnectError so callers can map them uniformly.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &bridge.ConnectError{Reason: "missing api key"}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &bridge.ConnectError{Reason: "missing model"}
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := genai.NewClient(dialCtx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &bridge.ConnectError{Reason: "client init failed", Err: err}
	}

	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if s := strings.TrimSpace(cfg.SystemInstruction); s != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}

	sess, err := client.Live.Connect(dialCtx, cfg.Model, lc)
	if err != nil {
		return nil, &bridge.ConnectError{Reason: "live connect failed", Err: err}
	}
	return newSession(sess), nil
}

func (s *Session) Send(ctx context.Context, chunk bridge.MediaChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: chunk.Payload, MIMEType: chunk.MIMEType},
	})
}

func (s *Session) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
}

func (s *Session) Receive() (bridge.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		msg, err := s.inner.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return bridge.Event{}, io.EOF
			}
			return bridge.Event{}, err
		}
		s.pending = translateServerMessage(msg)
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.inner.Close()
	})
	return s.closeErr
}

// translateServerMessage flattens one live server message into bridge
// events, preserving the order of parts within the model turn.
func translateServerMessage(msg *genai.LiveServerMessage) []bridge.Event {
	if msg == nil {
		return nil
	}
	var events []bridge.Event
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					events = append(events, bridge.Event{Chunk: &bridge.MediaChunk{
						Payload:   part.InlineData.Data,
						MIMEType:  part.InlineData.MIMEType,
						Direction: bridge.DirectionOutbound,
					}})
				}
				if part.Text != "" {
					events = append(events, bridge.Event{Text: part.Text})
				}
			}
		}
		if sc.Interrupted {
			events = append(events, bridge.Event{Signal: bridge.SignalInterrupted})
		}
		if sc.GenerationComplete {
			events = append(events, bridge.Event{Signal: bridge.SignalGenerationComplete})
		}
		if sc.TurnComplete {
			events = append(events, bridge.Event{Signal: bridge.SignalTurnComplete})
		}
	}
	if msg.GoAway != nil {
		events = append(events, bridge.Event{Signal: bridge.SignalGoAway})
	}
	return events
}
