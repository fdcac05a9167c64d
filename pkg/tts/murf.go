package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tony/internal/httpc"
)

var _ Streamer = (*Murf)(nil)

// Murf is a Murf text-to-speech client.
type Murf struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewMurf creates a Murf client. The API key is checked per call so it may
// be configured later.
func NewMurf(opts ...Option) (*Murf, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.Client
	}
	return &Murf{
		config: cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "tts.murf"),
	}, nil
}

type voiceConfigMessage struct {
	VoiceConfig voiceConfig `json:"voice_config"`
	ContextID   string      `json:"context_id"`
}

type voiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

type textMessage struct {
	Text      string `json:"text"`
	ContextID string `json:"context_id"`
	End       bool   `json:"end"`
}

// serverMessage is anything Murf sends back on the stream.
type serverMessage struct {
	Audio        string `json:"audio"`
	Final        bool   `json:"final"`
	IsFinalAudio bool   `json:"isFinalAudio"`
	ContextID    string `json:"context_id"`
	Error        string `json:"error"`
}

func (m *Murf) streamURL(key string) (string, error) {
	u, err := url.Parse(m.config.StreamURL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("api-key", key)
	q.Set("sample_rate", strconv.Itoa(m.config.SampleRate))
	q.Set("channel_type", m.config.Channel)
	q.Set("format", m.config.Format)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Stream opens a synthesis stream for text. The voice configuration and
// the whole text, marked as the end of input, are sent before returning.
func (m *Murf) Stream(ctx context.Context, text, contextID string) (AudioStream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	key := m.config.key()
	if key == "" {
		return nil, ErrNoAPIKey
	}
	endpoint, err := m.streamURL(key)
	if err != nil {
		return nil, &StreamError{ContextID: contextID, Op: "dial", Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			err = &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, &StreamError{ContextID: contextID, Op: "dial", Err: err}
	}

	v := m.config.Voice
	hello := voiceConfigMessage{
		VoiceConfig: voiceConfig{VoiceID: v.ID, Style: v.Style, Rate: v.Rate, Pitch: v.Pitch, Variation: v.Variation},
		ContextID:   contextID,
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, &StreamError{ContextID: contextID, Op: "send voice config", Err: err}
	}
	if err := conn.WriteJSON(textMessage{Text: text, ContextID: contextID, End: true}); err != nil {
		conn.Close()
		return nil, &StreamError{ContextID: contextID, Op: "send text", Err: err}
	}

	s := &murfStream{
		conn:      conn,
		contextID: contextID,
		timeout:   m.config.ReadTimeout,
		started:   time.Now(),
		logger:    m.logger.With("context_id", contextID),
	}
	// Cancelling ctx unblocks a pending read by closing the socket.
	s.stopWatch = context.AfterFunc(ctx, func() { conn.Close() })

	s.logger.Debug("synthesis stream opened", "chars", len(text))
	return s, nil
}

type murfStream struct {
	conn      *websocket.Conn
	contextID string
	timeout   time.Duration
	started   time.Time
	logger    *slog.Logger
	stopWatch func() bool

	mu         sync.Mutex
	done       bool
	chunks     int
	completion Completion
	closeOnce  sync.Once
}

func (s *murfStream) Read() (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.done {
		s.conn.SetReadDeadline(time.Now().Add(s.timeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(readEndReason(err), nil)
			break
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed synthesis message", "error", err)
			continue
		}
		if msg.Error != "" {
			s.finish(ReasonError, &APIError{Message: msg.Error})
			break
		}

		final := msg.Final || msg.IsFinalAudio
		if msg.Audio == "" {
			if final {
				s.finish(ReasonFinal, nil)
			}
			continue
		}

		s.chunks++
		chunk := &Chunk{
			Audio:     msg.Audio,
			Sequence:  s.chunks,
			First:     s.chunks == 1,
			ContextID: s.contextID,
		}
		if chunk.First {
			s.logger.Debug("first audio chunk", "latency", time.Since(s.started))
		}
		if final {
			s.finish(ReasonFinal, nil)
		}
		return chunk, nil
	}
	return nil, nil
}

func readEndReason(err error) Reason {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	return ReasonClosed
}

// finish records the outcome and releases the connection. Callers hold mu.
func (s *murfStream) finish(reason Reason, err error) {
	s.done = true
	s.completion = Completion{Reason: reason, Chunks: s.chunks, Err: err}
	s.logger.Debug("synthesis stream ended",
		"reason", reason.String(),
		"chunks", s.chunks,
		"duration", time.Since(s.started))
	s.release()
}

func (s *murfStream) release() {
	s.closeOnce.Do(func() {
		s.stopWatch()
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
}

func (s *murfStream) Close() error {
	s.release()
	return nil
}

func (s *murfStream) Completion() Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	Format  string `json:"format"`
}

type synthesizeResponse struct {
	AudioFile string `json:"audioFile"`
}

// Synthesize renders text in one request and returns the URL of the
// generated audio file.
func (m *Murf) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	key := m.config.key()
	if key == "" {
		return "", ErrNoAPIKey
	}

	var out synthesizeResponse
	err := httpc.PostJSON(ctx, m.http, m.config.RESTURL,
		http.Header{"api-key": {key}},
		synthesizeRequest{Text: text, VoiceID: m.config.ReplyVoiceID, Format: m.config.ReplyFormat},
		&out)
	if err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) {
			return "", &APIError{StatusCode: se.StatusCode, Message: se.Body}
		}
		return "", fmt.Errorf("tts [murf]: %w", err)
	}
	if out.AudioFile == "" {
		return "", ErrNoAudio
	}
	return out.AudioFile, nil
}
