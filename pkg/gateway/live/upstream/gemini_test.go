package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"google.golang.org/genai"

	"github.com/bridgekit/live-relay/pkg/gateway/live/bridge"
)

type fakeLiveSession struct {
	realtime   []genai.LiveRealtimeInput
	content    []genai.LiveClientContentInput
	messages   []*genai.LiveServerMessage
	receiveErr error
	closeCalls int
}

func (f *fakeLiveSession) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	f.realtime = append(f.realtime, input)
	return nil
}

func (f *fakeLiveSession) SendClientContent(input genai.LiveClientContentInput) error {
	f.content = append(f.content, input)
	return nil
}

func (f *fakeLiveSession) Receive() (*genai.LiveServerMessage, error) {
	if len(f.messages) == 0 {
		if f.receiveErr != nil {
			return nil, f.receiveErr
		}
		return nil, io.EOF
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeLiveSession) Close() error {
	f.closeCalls++
	return nil
}

func TestSend_WrapsChunkAsRealtimeInput(t *testing.T) {
	fake := &fakeLiveSession{}
	s := newSession(fake)

	chunk := bridge.MediaChunk{Payload: []byte{0x01, 0x02}, MIMEType: "audio/pcm;rate=16000"}
	if err := s.Send(context.Background(), chunk); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fake.realtime) != 1 {
		t.Fatalf("expected one realtime input, got %d", len(fake.realtime))
	}
	media := fake.realtime[0].Media
	if media == nil || !bytes.Equal(media.Data, chunk.Payload) || media.MIMEType != chunk.MIMEType {
		t.Fatalf("unexpected media blob %+v", media)
	}
}

func TestSend_RespectsCanceledContext(t *testing.T) {
	fake := &fakeLiveSession{}
	s := newSession(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, bridge.MediaChunk{Payload: []byte{0x01}}); err == nil {
		t.Fatal("expected error from canceled context")
	}
	if len(fake.realtime) != 0 {
		t.Fatal("expected no send after cancellation")
	}
}

func TestSendText_CompletesTurn(t *testing.T) {
	fake := &fakeLiveSession{}
	s := newSession(fake)

	if err := s.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if len(fake.content) != 1 {
		t.Fatalf("expected one client content input, got %d", len(fake.content))
	}
	in := fake.content[0]
	if in.TurnComplete == nil || !*in.TurnComplete {
		t.Fatal("expected turn_complete to be set")
	}
	if len(in.Turns) != 1 || len(in.Turns[0].Parts) != 1 || in.Turns[0].Parts[0].Text != "hello" {
		t.Fatalf("unexpected turns %+v", in.Turns)
	}
}

func TestReceive_FlattensServerMessage(t *testing.T) {
	fake := &fakeLiveSession{
		messages: []*genai.LiveServerMessage{
			{
				ServerContent: &genai.LiveServerContent{
					ModelTurn: &genai.Content{Parts: []*genai.Part{
						{InlineData: &genai.Blob{Data: []byte{0xaa}, MIMEType: "audio/pcm;rate=24000"}},
						{Text: "spoken text"},
					}},
					Interrupted:  true,
					TurnComplete: true,
				},
			},
		},
	}
	s := newSession(fake)

	ev, err := s.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if ev.Chunk == nil || !bytes.Equal(ev.Chunk.Payload, []byte{0xaa}) {
		t.Fatalf("expected audio chunk first, got %+v", ev)
	}
	if ev.Chunk.Direction != bridge.DirectionOutbound {
		t.Fatalf("unexpected direction %v", ev.Chunk.Direction)
	}

	ev, err = s.Receive()
	if err != nil || ev.Text != "spoken text" {
		t.Fatalf("expected text event, got %+v err %v", ev, err)
	}

	ev, err = s.Receive()
	if err != nil || ev.Signal != bridge.SignalInterrupted {
		t.Fatalf("expected interrupted signal, got %+v err %v", ev, err)
	}

	ev, err = s.Receive()
	if err != nil || ev.Signal != bridge.SignalTurnComplete {
		t.Fatalf("expected turn complete signal, got %+v err %v", ev, err)
	}

	if _, err := s.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after stream end, got %v", err)
	}
}

func TestReceive_SkipsEmptyMessages(t *testing.T) {
	fake := &fakeLiveSession{
		messages: []*genai.LiveServerMessage{
			{},
			{ServerContent: &genai.LiveServerContent{}},
			{ServerContent: &genai.LiveServerContent{TurnComplete: true}},
		},
	}
	s := newSession(fake)

	ev, err := s.Receive()
	if err != nil || ev.Signal != bridge.SignalTurnComplete {
		t.Fatalf("expected turn complete after empty messages, got %+v err %v", ev, err)
	}
}

func TestReceive_GoAwaySignal(t *testing.T) {
	fake := &fakeLiveSession{
		messages: []*genai.LiveServerMessage{
			{GoAway: &genai.LiveServerGoAway{}},
		},
	}
	s := newSession(fake)

	ev, err := s.Receive()
	if err != nil || ev.Signal != bridge.SignalGoAway {
		t.Fatalf("expected go away signal, got %+v err %v", ev, err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	fake := &fakeLiveSession{}
	s := newSession(fake)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if fake.closeCalls != 1 {
		t.Fatalf("expected underlying close exactly once, got %d", fake.closeCalls)
	}
}

func TestDial_RejectsMissingConfig(t *testing.T) {
	var connErr *bridge.ConnectError

	_, err := Dial(context.Background(), Config{Model: "gemini-test"})
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *bridge.ConnectError for missing key, got %v", err)
	}

	_, err = Dial(context.Background(), Config{APIKey: "key"})
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *bridge.ConnectError for missing model, got %v", err)
	}
}
