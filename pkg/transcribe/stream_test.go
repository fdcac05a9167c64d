package transcribe_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tony/internal/log"
	"github.com/teslashibe/go-tony/pkg/transcribe"
)

var upgrader = websocket.Upgrader{}

func fakeAssembly(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "aai-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("sample_rate") != "16000" || q.Get("format_turns") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server, opts ...transcribe.Option) *transcribe.Client {
	base := []transcribe.Option{
		transcribe.WithAPIKey("aai-key"),
		transcribe.WithStreamURL("ws" + strings.TrimPrefix(srv.URL, "http")),
		transcribe.WithRESTURL(srv.URL),
		transcribe.WithDrainTimeout(time.Second),
		transcribe.WithLogger(log.Discard()),
	}
	return transcribe.New(append(base, opts...)...)
}

func open(t *testing.T, c *transcribe.Client) *transcribe.Stream {
	t.Helper()
	s, err := c.Open(context.Background(), transcribe.Options{SampleRate: 16000, FormatTurns: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(false) })
	return s
}

func next(t *testing.T, s *transcribe.Stream) transcribe.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("events closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transcribe.Event{}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Errorf("write: %v", err)
	}
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read: %v", err)
		return nil
	}
	if mt != websocket.TextMessage {
		t.Errorf("message type = %d, want text", mt)
		return nil
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	return m
}

func TestStreamTurnLifecycle(t *testing.T) {
	srv := fakeAssembly(t, func(conn *websocket.Conn) {
		send(t, conn, map[string]any{"type": "Begin", "id": "sess-1", "expires_at": 1760000000})

		mt, audio, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage || len(audio) != 4 {
			t.Errorf("audio frame: type=%d len=%d err=%v", mt, len(audio), err)
			return
		}

		send(t, conn, map[string]any{"type": "Turn", "transcript": "whats apple trading at", "end_of_turn": false})
		send(t, conn, map[string]any{"type": "Turn", "transcript": "whats apple trading at", "end_of_turn": true, "turn_is_formatted": false})

		if m := readType(t, conn); m["type"] != "UpdateConfiguration" || m["format_turns"] != true {
			t.Errorf("format request = %v", m)
		}
		send(t, conn, map[string]any{"type": "Turn", "transcript": "What's Apple trading at?", "end_of_turn": true, "turn_is_formatted": true})

		if m := readType(t, conn); m["type"] != "Terminate" {
			t.Errorf("terminate = %v", m)
		}
		send(t, conn, map[string]any{"type": "Termination", "audio_duration_seconds": 2.5, "session_duration_seconds": 3})
	})

	s := open(t, newClient(srv))

	if ev := next(t, s); ev.Kind != transcribe.KindBegin || ev.SessionID != "sess-1" {
		t.Fatalf("first event = %+v", ev)
	}
	if err := s.Feed([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if ev := next(t, s); ev.Kind != transcribe.KindPartial {
		t.Fatalf("second event = %+v", ev)
	}
	ev := next(t, s)
	if ev.Kind != transcribe.KindFinal || ev.Text != "What's Apple trading at?" {
		t.Fatalf("final = %+v", ev)
	}
	if s.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q", s.SessionID())
	}

	if err := s.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var rest []transcribe.Event
	for ev := range s.Events() {
		rest = append(rest, ev)
	}
	if len(rest) != 1 || rest[0].Kind != transcribe.KindEnd || rest[0].Duration != 2500*time.Millisecond {
		t.Errorf("after close = %+v", rest)
	}

	if err := s.Feed([]byte{1, 2}); err != nil {
		t.Errorf("Feed after terminate = %v, want nil", err)
	}
	if err := s.Close(true); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestStreamSkipsMalformedMessages(t *testing.T) {
	srv := fakeAssembly(t, func(conn *websocket.Conn) {
		send(t, conn, map[string]any{"type": "Begin", "id": 42})
		send(t, conn, map[string]any{"type": "Begin", "id": "sess-2", "expires_at": 1760000000})
		send(t, conn, map[string]any{"type": "Termination", "audio_duration_seconds": "long"})
		conn.ReadMessage()
	})

	s := open(t, newClient(srv))
	if ev := next(t, s); ev.Kind != transcribe.KindBegin || ev.SessionID != "sess-2" {
		t.Fatalf("first event = %+v", ev)
	}
	if s.SessionID() != "sess-2" {
		t.Errorf("SessionID = %q", s.SessionID())
	}
	if ev := next(t, s); ev.Kind != transcribe.KindEnd || ev.Duration != 0 {
		t.Errorf("end = %+v", ev)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events still open after termination")
	}
}

func TestStreamServiceError(t *testing.T) {
	srv := fakeAssembly(t, func(conn *websocket.Conn) {
		send(t, conn, map[string]any{"error": "Insufficient account balance"})
		conn.ReadMessage()
	})

	s := open(t, newClient(srv))
	ev := next(t, s)
	if ev.Kind != transcribe.KindError || ev.Message != "Insufficient account balance" {
		t.Fatalf("event = %+v", ev)
	}
	if err := s.Feed([]byte{0, 0}); !errors.Is(err, transcribe.ErrClosed) {
		t.Errorf("Feed = %v, want ErrClosed", err)
	}
}

func TestStreamConnectionLost(t *testing.T) {
	srv := fakeAssembly(t, func(conn *websocket.Conn) {
		send(t, conn, map[string]any{"type": "Begin", "id": "sess-2"})
	})

	s := open(t, newClient(srv))
	next(t, s)
	if ev := next(t, s); ev.Kind != transcribe.KindError {
		t.Fatalf("event = %+v", ev)
	}
}

func TestStreamCloseWithoutTerminate(t *testing.T) {
	var terminated atomic.Bool
	srv := fakeAssembly(t, func(conn *websocket.Conn) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "Terminate") {
				terminated.Store(true)
			}
		}
	})

	s := open(t, newClient(srv))
	if err := s.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for ev := range s.Events() {
		t.Errorf("unexpected event after close: %+v", ev)
	}
	if err := s.Feed([]byte{1}); !errors.Is(err, transcribe.ErrClosed) {
		t.Errorf("Feed = %v, want ErrClosed", err)
	}
	if terminated.Load() {
		t.Error("Terminate sent on plain close")
	}
}

func TestOpenErrors(t *testing.T) {
	srv := fakeAssembly(t, func(conn *websocket.Conn) {})

	_, err := newClient(srv, transcribe.WithAPIKey("")).Open(context.Background(), transcribe.Options{})
	if !errors.Is(err, transcribe.ErrNoAPIKey) {
		t.Errorf("no key: %v", err)
	}

	_, err = newClient(srv, transcribe.WithAPIKey("wrong")).Open(context.Background(), transcribe.Options{FormatTurns: true})
	var de *transcribe.DialError
	if !errors.As(err, &de) || de.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad key: %v", err)
	}
}

func TestKeyFuncReadAtOpen(t *testing.T) {
	key := "wrong"
	srv := fakeAssembly(t, func(conn *websocket.Conn) { conn.ReadMessage() })
	c := newClient(srv, transcribe.WithKeyFunc(func() string { return key }))

	if _, err := c.Open(context.Background(), transcribe.Options{FormatTurns: true}); err == nil {
		t.Fatal("expected failure with old key")
	}
	key = "aai-key"
	s, err := c.Open(context.Background(), transcribe.Options{FormatTurns: true})
	if err != nil {
		t.Fatalf("Open after key change: %v", err)
	}
	s.Close(false)
}
