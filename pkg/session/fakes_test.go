package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tony/internal/log"
	"github.com/teslashibe/go-tony/pkg/inference"
	"github.com/teslashibe/go-tony/pkg/protocol"
	"github.com/teslashibe/go-tony/pkg/tools"
	"github.com/teslashibe/go-tony/pkg/transcribe"
	"github.com/teslashibe/go-tony/pkg/tts"
)

// fakeConn is an in-memory client connection.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	writes  []string
	onWrite func(frame string)
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case d := <-c.in:
		return websocket.BinaryMessage, d, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed conn")
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, string(data))
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(string(data))
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) waitFor(t *testing.T, pred func([]string) bool) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		w := c.Writes()
		if pred(w) {
			return w
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out; writes so far: %q", w)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func containsFinalAudio(n int) func([]string) bool {
	return func(w []string) bool {
		count := 0
		for _, f := range w {
			if strings.Contains(f, `"final_audio"`) {
				count++
			}
		}
		return count >= n
	}
}

func hasStatus(status string) func([]string) bool {
	return func(w []string) bool {
		for _, f := range w {
			if strings.Contains(f, status) {
				return true
			}
		}
		return false
	}
}

// fakeStream is a scripted transcription stream.
type fakeStream struct {
	events    chan transcribe.Event
	closeOnce sync.Once

	mu        sync.Mutex
	fed       [][]byte
	closes    int
	terminate bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan transcribe.Event, 16)}
}

func (s *fakeStream) Feed(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return transcribe.ErrClosed
	}
	s.fed = append(s.fed, audio)
	return nil
}

func (s *fakeStream) Events() <-chan transcribe.Event { return s.events }

func (s *fakeStream) Close(terminate bool) error {
	s.mu.Lock()
	s.closes++
	s.terminate = s.terminate || terminate
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) final(text string) {
	s.events <- transcribe.Event{Kind: transcribe.KindFinal, Text: text}
}

func (s *fakeStream) state() (fed [][]byte, closes int, terminate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.fed...), s.closes, s.terminate
}

type fakeTranscriber struct {
	err    error
	opened chan *fakeStream
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{opened: make(chan *fakeStream, 4)}
}

func (f *fakeTranscriber) Open(ctx context.Context, opts transcribe.Options) (TranscriptStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.opened <- s
	return s, nil
}

func (f *fakeTranscriber) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("transcription never opened")
		return nil
	}
}

// fakeTTS returns scripted audio streams.
type fakeTTS struct {
	mu       sync.Mutex
	chunks   int
	reason   tts.Reason
	openErr  error
	texts    []string
	contexts []string
}

func (f *fakeTTS) Stream(ctx context.Context, text, contextID string) (tts.AudioStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.contexts = append(f.contexts, contextID)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeAudio{chunks: f.chunks, reason: f.reason, contextID: contextID}, nil
}

func (f *fakeTTS) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeAudio struct {
	chunks    int
	next      int
	reason    tts.Reason
	contextID string
}

func (a *fakeAudio) Read() (*tts.Chunk, error) {
	if a.next >= a.chunks {
		return nil, nil
	}
	a.next++
	return &tts.Chunk{
		Audio:     base64.StdEncoding.EncodeToString([]byte{byte(a.next)}),
		Sequence:  a.next,
		First:     a.next == 1,
		ContextID: a.contextID,
	}, nil
}

func (a *fakeAudio) Close() error { return nil }

func (a *fakeAudio) Completion() tts.Completion {
	c := tts.Completion{Reason: a.reason, Chunks: a.next}
	if a.reason == tts.ReasonError {
		c.Err = errors.New("voice not available")
	}
	return c
}

type fakeTools struct{}

func (fakeTools) Dispatch(ctx context.Context, name string, args map[string]any) tools.Result {
	if name != "get_stock_price" {
		return tools.Fail("Unknown function: " + name)
	}
	return tools.OK(map[string]any{"symbol": args["symbol"], "price": 412.5})
}

type recordedEvent struct {
	typ       protocol.EventType
	sessionID string
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(typ protocol.EventType, sessionID string, data any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{typ, sessionID})
	r.mu.Unlock()
}

func (r *recorder) types() []protocol.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.typ
	}
	return out
}

// harness wires a session to fakes.
type harness struct {
	conn    *fakeConn
	tr      *fakeTranscriber
	mock    *inference.Mock
	tts     *fakeTTS
	events  *recorder
	reg     *Registry
	session *Session
	result  chan error
}

func newHarness(t *testing.T, mock *inference.Mock, synth *fakeTTS, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		conn:   newFakeConn(),
		tr:     newFakeTranscriber(),
		mock:   mock,
		tts:    synth,
		events: &recorder{},
		reg:    NewRegistry(),
		result: make(chan error, 1),
	}
	var n int
	var mu sync.Mutex
	deps := Deps{
		Transcriber: h.tr,
		Generators: GeneratorFunc(func(ctx context.Context) (Generator, error) {
			return inference.NewSession(mock, "You are Tony.", nil, inference.WithLogger(log.Discard())), nil
		}),
		Synthesizer: synth,
		Tools:       fakeTools{},
		Events:      h.events,
		Logger:      log.Discard(),
		FormatTurns: true,
		NewContextID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return "ctx-" + strconv.Itoa(n)
		},
	}
	h.session = New("abc", h.conn, h.reg, deps, opts...)
	return h
}

func (h *harness) start() {
	go func() { h.result <- h.session.Run(context.Background()) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func transcribeError(msg string) transcribe.Event {
	return transcribe.Event{Kind: transcribe.KindError, Message: msg}
}

// gatedGenerator reports each prompt on entered and answers only once
// release is closed.
type gatedGenerator struct {
	reply   string
	entered chan string
	release chan struct{}
}

func newGatedGenerator(reply string) *gatedGenerator {
	return &gatedGenerator{reply: reply, entered: make(chan string, 4), release: make(chan struct{})}
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string) (*inference.Result, error) {
	g.entered <- prompt
	<-g.release
	return &inference.Result{Text: g.reply}, nil
}

func (g *gatedGenerator) FollowUp(ctx context.Context, prompt string, outputs []inference.ToolOutput) (*inference.Result, error) {
	return nil, errors.New("no tool round expected")
}

func (g *gatedGenerator) factory() GeneratorFactory {
	return GeneratorFunc(func(ctx context.Context) (Generator, error) { return g, nil })
}

func (g *gatedGenerator) waitPrompt(t *testing.T) string {
	t.Helper()
	select {
	case p := <-g.entered:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("generator never called")
		return ""
	}
}
