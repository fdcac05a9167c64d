package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tony/internal/httpc"
)

// Client opens AssemblyAI streaming sessions and file transcriptions.
type Client struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a client.
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.Client
	}
	return &Client{
		config: cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "transcribe.assemblyai"),
	}
}

// Wire messages.
type (
	serverEnvelope struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	beginMessage struct {
		ID        string `json:"id"`
		ExpiresAt int64  `json:"expires_at"`
	}
	turnMessage struct {
		Transcript      string `json:"transcript"`
		EndOfTurn       bool   `json:"end_of_turn"`
		TurnIsFormatted bool   `json:"turn_is_formatted"`
		TurnOrder       int    `json:"turn_order"`
	}
	terminationMessage struct {
		AudioDurationSeconds float64 `json:"audio_duration_seconds"`
	}
	controlMessage struct {
		Type        string `json:"type"`
		FormatTurns *bool  `json:"format_turns,omitempty"`
	}
)

// Open starts a streaming session. The API key is read now; later key
// changes do not affect this stream.
func (c *Client) Open(ctx context.Context, opts Options) (*Stream, error) {
	key := c.config.key()
	if key == "" {
		return nil, ErrNoAPIKey
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}

	u, err := url.Parse(c.config.StreamURL)
	if err != nil {
		return nil, &DialError{Err: err}
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("format_turns", strconv.FormatBool(opts.FormatTurns))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{"Authorization": {key}})
	if err != nil {
		de := &DialError{Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}

	s := &Stream{
		conn:   conn,
		events: make(chan Event, c.config.EventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		drain:  c.config.DrainTimeout,
		logger: c.logger,
	}
	s.alive.Store(true)
	go s.readLoop()

	c.logger.Debug("transcription stream opened", "sample_rate", opts.SampleRate)
	return s, nil
}

// Stream is one live transcription connection.
type Stream struct {
	conn   *websocket.Conn
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	drain  time.Duration
	logger *slog.Logger

	writeMu sync.Mutex

	// alive is cleared by Close; events after that are not Final.
	alive atomic.Bool
	// dead is set when the service connection failed.
	dead atomic.Bool
	// terminating is set once a terminating close was requested.
	terminating atomic.Bool

	sessionID atomic.Value
	closeOnce sync.Once
}

// Events returns the event channel. It is closed when the connection ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// SessionID returns the service session id once Begin arrived.
func (s *Stream) SessionID() string {
	id, _ := s.sessionID.Load().(string)
	return id
}

// Feed sends one frame of PCM16 audio. After a terminating close was
// requested it silently does nothing.
func (s *Stream) Feed(audio []byte) error {
	if s.terminating.Load() {
		return nil
	}
	if s.dead.Load() || !s.alive.Load() {
		return ErrClosed
	}
	if len(audio) == 0 {
		return nil
	}
	if err := s.write(websocket.BinaryMessage, audio); err != nil {
		s.dead.Store(true)
		return fmt.Errorf("transcribe: feed: %w", err)
	}
	return nil
}

func (s *Stream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *Stream) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

// Close ends the stream. With terminate set, the service is asked to end
// the session and given a short time to confirm. Safe to call repeatedly.
func (s *Stream) Close(terminate bool) error {
	var err error
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		if terminate {
			s.terminating.Store(true)
			if !s.dead.Load() {
				if werr := s.writeJSON(controlMessage{Type: "Terminate"}); werr != nil {
					s.logger.Debug("terminate request failed", "error", werr)
				} else {
					select {
					case <-s.done:
					case <-time.After(s.drain):
						s.logger.Debug("termination not confirmed in time")
					}
				}
			}
		}
		close(s.quit)
		err = s.conn.Close()
		<-s.done
	})
	return err
}

func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.alive.Load() && !s.terminating.Load() {
				s.dead.Store(true)
				s.logger.Warn("transcription connection lost", "error", err)
				s.emit(Event{Kind: KindError, Message: err.Error()})
			}
			return
		}

		var env serverEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("ignoring malformed transcription message", "error", err)
			continue
		}
		if env.Error != "" {
			s.dead.Store(true)
			s.logger.Error("transcription service error", "error", env.Error)
			s.emit(Event{Kind: KindError, Message: env.Error})
			continue
		}

		switch env.Type {
		case "Begin":
			var m beginMessage
			if err := json.Unmarshal(data, &m); err != nil {
				s.logger.Debug("ignoring malformed begin", "error", err)
				continue
			}
			s.sessionID.Store(m.ID)
			s.logger.Debug("transcription session began", "id", m.ID, "expires_at", time.Unix(m.ExpiresAt, 0))
			s.emit(Event{Kind: KindBegin, SessionID: m.ID})

		case "Turn":
			var m turnMessage
			if err := json.Unmarshal(data, &m); err != nil {
				s.logger.Debug("ignoring malformed turn", "error", err)
				continue
			}
			ev, emit, reformat := interpretTurn(m, s.alive.Load())
			if reformat {
				on := true
				if err := s.writeJSON(controlMessage{Type: "UpdateConfiguration", FormatTurns: &on}); err != nil {
					s.logger.Debug("format request failed", "error", err)
				}
			}
			if emit {
				s.emit(ev)
			}

		case "Termination":
			var m terminationMessage
			if err := json.Unmarshal(data, &m); err != nil {
				// The session is over either way; only the duration is lost.
				s.logger.Debug("malformed termination", "error", err)
			}
			d := time.Duration(m.AudioDurationSeconds * float64(time.Second))
			s.logger.Debug("transcription session terminated", "audio_duration", d)
			s.emit(Event{Kind: KindEnd, Duration: d})
			return
		}
	}
}

// interpretTurn decides what a Turn message means. A Final requires an
// ended, formatted, non-empty turn on a live stream; an ended but
// unformatted turn asks for formatting instead.
func interpretTurn(m turnMessage, alive bool) (ev Event, emit, reformat bool) {
	text := strings.TrimSpace(m.Transcript)
	switch {
	case !m.EndOfTurn:
		if text == "" {
			return Event{}, false, false
		}
		return Event{Kind: KindPartial, Text: text}, true, false
	case !m.TurnIsFormatted:
		return Event{}, false, true
	case !alive || text == "":
		return Event{}, false, false
	default:
		return Event{Kind: KindFinal, Text: text}, true, false
	}
}
