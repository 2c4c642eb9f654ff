// Package protocol defines the JSON envelopes exchanged with websocket
// clients and the codec between those envelopes and raw media bytes.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "malformed_envelope", Message: message, Param: param}
}

// EncodeError reports an outbound chunk the codec refused to serialize.
type EncodeError struct {
	Code    string
	Message string
}

func (e *EncodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ClientAudio carries one chunk of caller audio, decoded from base64.
type ClientAudio struct {
	Data     []byte
	MIMEType string
}

// ClientText is an out-of-band text turn from the caller.
type ClientText struct {
	Text string
}

type inboundEnvelope struct {
	Data     *string `json:"data"`
	MIMEType *string `json:"mime_type"`
	Text     *string `json:"text"`
}

// DecodeInbound parses one client frame. Exactly one of the audio shape
// {"data","mime_type"} or the text shape {"text"} must be present; anything
// else is a malformed envelope.
func DecodeInbound(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var env inboundEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	if dec.More() {
		return nil, badRequest("trailing content after frame", "")
	}

	hasAudio := env.Data != nil || env.MIMEType != nil
	hasText := env.Text != nil
	switch {
	case hasAudio && hasText:
		return nil, badRequest("frame mixes audio and text fields", "")
	case hasText:
		text := strings.TrimSpace(*env.Text)
		if text == "" {
			return nil, badRequest("text must be non-empty", "text")
		}
		return ClientText{Text: text}, nil
	case hasAudio:
		if env.Data == nil {
			return nil, badRequest("data is required", "data")
		}
		if env.MIMEType == nil || strings.TrimSpace(*env.MIMEType) == "" {
			return nil, badRequest("mime_type is required", "mime_type")
		}
		payload, err := base64.StdEncoding.DecodeString(*env.Data)
		if err != nil {
			return nil, badRequest("data is not valid base64", "data")
		}
		if len(payload) == 0 {
			return nil, badRequest("data must be non-empty", "data")
		}
		return ClientAudio{Data: payload, MIMEType: strings.TrimSpace(*env.MIMEType)}, nil
	default:
		return nil, badRequest("frame must carry data/mime_type or text", "")
	}
}

type serverAudio struct {
	Audio string `json:"audio"`
}

type serverText struct {
	Text string `json:"text"`
}

type serverInterrupted struct {
	Interrupted bool `json:"interrupted"`
}

type serverTurnComplete struct {
	TurnComplete bool `json:"turn_complete"`
}

type serverDiagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type serverErrorEnvelope struct {
	Error serverDiagnostic `json:"error"`
}

type serverWarningEnvelope struct {
	Warning serverDiagnostic `json:"warning"`
}

// EncodeAudio serializes a model audio chunk. Chunks whose base64 form would
// exceed maxBytes are refused rather than truncated; a zero maxBytes means
// no bound.
func EncodeAudio(payload []byte, maxBytes int64) ([]byte, error) {
	if len(payload) == 0 {
		return nil, &EncodeError{Code: "unencodable_chunk", Message: "empty audio chunk"}
	}
	encoded := base64.StdEncoding.EncodedLen(len(payload))
	if maxBytes > 0 && int64(encoded) > maxBytes {
		return nil, &EncodeError{
			Code:    "unencodable_chunk",
			Message: fmt.Sprintf("audio chunk of %d bytes exceeds outbound limit", len(payload)),
		}
	}
	return json.Marshal(serverAudio{Audio: base64.StdEncoding.EncodeToString(payload)})
}

func EncodeText(text string) []byte {
	b, _ := json.Marshal(serverText{Text: text})
	return b
}

func EncodeInterrupted() []byte {
	b, _ := json.Marshal(serverInterrupted{Interrupted: true})
	return b
}

func EncodeTurnComplete() []byte {
	b, _ := json.Marshal(serverTurnComplete{TurnComplete: true})
	return b
}

func EncodeErrorFrame(code, message string) []byte {
	b, _ := json.Marshal(serverErrorEnvelope{Error: serverDiagnostic{Code: code, Message: message}})
	return b
}

func EncodeWarning(code, message string) []byte {
	b, _ := json.Marshal(serverWarningEnvelope{Warning: serverDiagnostic{Code: code, Message: message}})
	return b
}
