// Package protocol defines the messages exchanged with voice clients and
// monitor feeds.
//
// Client sockets receive three kinds of text frames: plain transcript text,
// base64 audio chunks, and JSON status objects. HTTP endpoints and the
// monitor feed use the request and event shapes in this package too.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Status values carried in StatusMessage.Status.
const (
	StatusFinalAudio = "final_audio"
	StatusError      = "error"
)

// Error messages sent to clients.
const (
	MsgTranscriptionUnavailable = "Transcription service unavailable"
	MsgGenerationFailed         = "AI response generation failed"
	MsgNoResponse               = "No response generated"
	MsgAudioFailed              = "Audio generation failed"
)

// AudioChunk carries one piece of synthesized audio.
type AudioChunk struct {
	AudioChunk  string `json:"audio_chunk"` // base64
	ChunkNumber int    `json:"chunk_number"`
	FirstChunk  bool   `json:"first_chunk"`
}

// StatusMessage reports the end of a synthesis round or an error.
type StatusMessage struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	ContextID   string `json:"context_id,omitempty"`
}

// Frame is an encoded client frame.
type Frame []byte

// NewAudioChunk encodes an audio chunk frame. audio must already be base64.
func NewAudioChunk(audio string, number int, first bool) (Frame, error) {
	return encode(AudioChunk{AudioChunk: audio, ChunkNumber: number, FirstChunk: first})
}

// NewFinalAudio encodes the completion frame of a synthesis round.
func NewFinalAudio(total int, contextID string) (Frame, error) {
	return encode(struct {
		Status      string `json:"status"`
		TotalChunks int    `json:"total_chunks"`
		ContextID   string `json:"context_id"`
	}{StatusFinalAudio, total, contextID})
}

// NewError encodes an error status. An empty contextID is omitted.
func NewError(message, contextID string) (Frame, error) {
	return encode(StatusMessage{Status: StatusError, Message: message, ContextID: contextID})
}

// NewTranscript returns the plain-text frame for a final transcript.
func NewTranscript(text string) Frame {
	return Frame(text)
}

func encode(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// ParseStatus decodes a status frame. It fails for transcript and chunk frames.
func ParseStatus(f Frame) (*StatusMessage, error) {
	var m StatusMessage
	if err := json.Unmarshal(f, &m); err != nil {
		return nil, fmt.Errorf("protocol: parse status: %w", err)
	}
	if m.Status == "" {
		return nil, fmt.Errorf("protocol: not a status frame")
	}
	return &m, nil
}

// ParseAudioChunk decodes a chunk frame.
func ParseAudioChunk(f Frame) (*AudioChunk, error) {
	var c AudioChunk
	if err := json.Unmarshal(f, &c); err != nil {
		return nil, fmt.Errorf("protocol: parse chunk: %w", err)
	}
	if c.ChunkNumber == 0 {
		return nil, fmt.Errorf("protocol: not an audio chunk")
	}
	return &c, nil
}

// Decode returns the raw audio bytes.
func (c *AudioChunk) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.AudioChunk)
}
