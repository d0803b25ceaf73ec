// Package protocol defines the JSON bodies exchanged between the control API
// and its clients, over HTTP and over the /ws event stream.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeEvent carries one session event from server to client.
	TypeEvent MessageType = "event"

	// TypeCommand is sent by a client to drive the session without HTTP.
	TypeCommand MessageType = "command"

	// TypeResult answers a TypeCommand.
	TypeResult MessageType = "result"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps payload in a message of the given type.
func NewMessage(t MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// Command names an operation a client can request.
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandReplay Command = "replay"
	CommandCancel Command = "cancel"
	CommandStatus Command = "status"
)

// CommandPayload is the payload for TypeCommand
type CommandPayload struct {
	ID      string  `json:"id,omitempty"` // echoed back in the result
	Command Command `json:"command"`
	Loops   int     `json:"loops,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
	RunID   string  `json:"run_id,omitempty"` // cancel target; empty cancels the active replay
}

// ResultPayload is the payload for TypeResult
type ResultPayload struct {
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok"`
	Error *ErrorBody      `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorBody is the body of every failed API response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorBody) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// RecordingStarted answers a start request.
type RecordingStarted struct {
	RunID string `json:"run_id"`
}

// RecordingStopped answers a stop request.
type RecordingStopped struct {
	RunID      string  `json:"run_id"`
	Actions    int     `json:"actions"`
	Dropped    int64   `json:"dropped"`
	DurationMS int64   `json:"duration_ms"`
	LastAction float64 `json:"last_action"` // timestamp of the last action, seconds
	Path       string  `json:"path"`
	Persisted  bool    `json:"persisted"`
}

// ReplayStarted answers a replay request.
type ReplayStarted struct {
	ID      string  `json:"id"`
	Loops   int     `json:"loops"`
	Speed   float64 `json:"speed"`
	Actions int     `json:"actions"`
}

// SkippedRecord reports a persisted record that could not be loaded.
type SkippedRecord struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// LogResponse carries the persisted recording.
type LogResponse struct {
	Path    string          `json:"path"`
	Actions json.RawMessage `json:"actions"`
	Skipped []SkippedRecord `json:"skipped,omitempty"`
}
