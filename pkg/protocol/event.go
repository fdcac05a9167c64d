package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a monitor feed event.
type EventType string

const (
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"
	EventPartial       EventType = "partial"
	EventTranscript    EventType = "transcript"
	EventReply         EventType = "reply"
	EventToolCall      EventType = "tool_call"
	EventTurnMetrics   EventType = "turn_metrics"
	EventError         EventType = "error"
)

// Event is the envelope broadcast to monitor clients.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp int64           `json:"ts"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, sessionID string, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal event data: %w", err)
		}
	}
	return &Event{
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// Bytes returns the JSON encoding of the event.
func (e *Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseData unmarshals the event payload into v.
func (e *Event) ParseData(v any) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ParseEvent decodes an event.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("protocol: parse event: %w", err)
	}
	return &e, nil
}

// TextData is the payload of partial, transcript and reply events.
type TextData struct {
	Text string `json:"text"`
}

// ToolCallData is the payload of tool_call events.
type ToolCallData struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// TurnMetricsData is the payload of turn_metrics events. Durations are in
// milliseconds.
type TurnMetricsData struct {
	GenerateMs   int64 `json:"generate_ms"`
	ToolsMs      int64 `json:"tools_ms,omitempty"`
	FirstAudioMs int64 `json:"first_audio_ms,omitempty"`
	TotalMs      int64 `json:"total_ms"`
	Chunks       int   `json:"chunks"`
}
