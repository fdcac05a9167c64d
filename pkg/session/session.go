// Package session runs voice conversations.
//
// A Session owns one client connection and one transcription stream. Audio
// frames from the client are fed to the transcriber; every final
// transcript becomes a turn. Turns are processed one at a time: the reply
// is generated from the full conversation history, tools are run when the
// model asks for them, and the reply is streamed back as synthesized audio
// chunks followed by a final_audio status.
//
// All writes to the client go through a single writer goroutine, which
// drops anything queued after the session closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tony/pkg/audioio"
	"github.com/teslashibe/go-tony/pkg/protocol"
	"github.com/teslashibe/go-tony/pkg/tools"
	"github.com/teslashibe/go-tony/pkg/transcribe"
)

// State is a session's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateGenerating
	StateSynthesizing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	outboxSize = 256

	// flushTimeout bounds how long a setup error waits to reach the client.
	flushTimeout = 2 * time.Second
)

// Option configures a session.
type Option func(*Session)

// WithClientRate sets the sample rate of the client's PCM. Audio is
// resampled when it differs from the transcription rate.
func WithClientRate(rate int) Option {
	return func(s *Session) { s.clientRate = rate }
}

// Session is one connected voice client.
type Session struct {
	id         string
	conn       Conn
	deps       Deps
	registry   *Registry
	history    *History
	logger     *slog.Logger
	clientRate int
	converter  *audioio.Converter

	alive atomic.Bool
	state atomic.Int32

	outbox     chan outbound
	turns      chan string
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	mu     sync.Mutex
	stream TranscriptStream

	framesIn atomic.Int64
}

type outbound struct {
	frame   protocol.Frame
	written chan struct{}
}

// New creates a session for conn. The conversation history is shared with
// every other session that used the same id.
func New(id string, conn Conn, reg *Registry, deps Deps, opts ...Option) *Session {
	deps = deps.withDefaults()
	s := &Session{
		id:         id,
		conn:       conn,
		deps:       deps,
		registry:   reg,
		history:    reg.History(id),
		logger:     deps.Logger.With("component", "session", "session", id),
		outbox:     make(chan outbound, outboxSize),
		turns:      make(chan string, deps.TurnQueue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.alive.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	s.converter = audioio.NewConverter(s.clientRate, deps.SampleRate)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// History returns the conversation history.
func (s *Session) History() *History { return s.history }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Run serves the session until the client disconnects, ctx is cancelled or
// setup fails. A connection already active under the same id is closed.
func (s *Session) Run(ctx context.Context) error {
	if old := s.registry.attach(s); old != nil {
		s.logger.Info("replacing existing connection")
		old.Close()
	}
	defer s.registry.detach(s)
	if !s.alive.Load() {
		return nil
	}

	go s.writeLoop()
	defer func() {
		s.Close()
		<-s.writerDone
	}()

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	s.logger.Info("session opened", "client_rate", s.clientRate, "history_turns", s.history.Len())
	s.deps.Events.Publish(protocol.EventSessionOpened, s.id, nil)

	stream, err := s.deps.Transcriber.Open(ctx, transcribe.Options{
		SampleRate:  s.deps.SampleRate,
		FormatTurns: s.deps.FormatTurns,
	})
	if err != nil {
		s.logger.Error("transcription setup failed", "error", err)
		s.flush(errorFrame(protocol.MsgTranscriptionUnavailable, ""))
		return fmt.Errorf("session: open transcription: %w", err)
	}
	s.mu.Lock()
	if !s.alive.Load() {
		s.mu.Unlock()
		stream.Close(false)
		return nil
	}
	s.stream = stream
	s.mu.Unlock()

	gen, err := s.deps.Generators.NewGenerator(ctx)
	if err != nil {
		s.logger.Error("generator setup failed", "error", err)
		s.flush(errorFrame(protocol.MsgGenerationFailed, ""))
		return fmt.Errorf("session: create generator: %w", err)
	}

	s.setState(StateListening)
	go s.eventLoop(stream)
	// Turns already started finish even when the client goes away.
	go s.turnWorker(context.WithoutCancel(ctx), gen)

	s.readLoop(stream)
	return nil
}

// Close ends the session: liveness is cleared first so in-flight work
// stops writing, then transcription is terminated and the writer stopped.
// It does not wait for in-flight turns. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		s.state.Store(int32(StateClosed))

		s.mu.Lock()
		stream := s.stream
		s.mu.Unlock()
		if stream != nil {
			if err := stream.Close(true); err != nil {
				s.logger.Debug("transcription close", "error", err)
			}
		}

		close(s.done)
		s.conn.Close()

		s.deps.Events.Publish(protocol.EventSessionClosed, s.id, nil)
		s.logger.Info("session closed", "frames_in", s.framesIn.Load(), "history_turns", s.history.Len())
	})
}

func (s *Session) setState(st State) {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

func (s *Session) readLoop(stream TranscriptStream) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.alive.Load() {
				s.logger.Info("client disconnected", "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			s.logger.Debug("ignoring non-audio frame", "type", mt)
			continue
		}
		s.framesIn.Add(1)
		if err := stream.Feed(s.converter.Convert(data)); err != nil && !errors.Is(err, transcribe.ErrClosed) {
			s.logger.Warn("audio feed failed", "error", err)
		}
	}
}

func (s *Session) eventLoop(stream TranscriptStream) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case transcribe.KindBegin:
			s.logger.Debug("transcription began", "transcription_id", ev.SessionID)

		case transcribe.KindPartial:
			s.logger.Debug("partial transcript", "text", ev.Text)
			s.deps.Events.Publish(protocol.EventPartial, s.id, protocol.TextData{Text: ev.Text})

		case transcribe.KindFinal:
			if !s.alive.Load() {
				return
			}
			s.logger.Info("final transcript", "text", ev.Text)
			s.send(protocol.NewTranscript(ev.Text))
			s.deps.Events.Publish(protocol.EventTranscript, s.id, protocol.TextData{Text: ev.Text})
			select {
			case s.turns <- ev.Text:
			case <-s.done:
				return
			}

		case transcribe.KindError:
			s.logger.Warn("transcription error", "message", ev.Message)
			s.send(errorFrame(protocol.MsgTranscriptionUnavailable, ""))
			s.deps.Events.Publish(protocol.EventError, s.id, protocol.TextData{Text: ev.Message})

		case transcribe.KindEnd:
			s.logger.Debug("transcription ended", "audio", ev.Duration)
		}
	}
}

func (s *Session) turnWorker(ctx context.Context, gen Generator) {
	for {
		select {
		case text := <-s.turns:
			s.runTurn(ctx, gen, text)
		case <-s.done:
			return
		}
	}
}

func (s *Session) runTurn(ctx context.Context, gen Generator, text string) {
	if !s.alive.Load() {
		return
	}
	m := newTurnMetrics()
	s.setState(StateGenerating)
	defer s.setState(StateListening)

	res, err := Exchange(ctx, s.history, gen, s.deps.Tools, text)
	if res != nil {
		m.Generate = res.Generate
		m.Tools = res.Tools
		m.ToolCalls = len(res.Outputs)
		for _, o := range res.Outputs {
			r, _ := o.Result.(tools.Result)
			s.deps.Events.Publish(protocol.EventToolCall, s.id, protocol.ToolCallData{Name: o.Name, Success: r.Success})
		}
	}
	switch {
	case errors.Is(err, ErrEmptyReply):
		s.logger.Warn("no response generated")
		s.send(errorFrame(protocol.MsgNoResponse, ""))
		return
	case err != nil:
		s.logger.Error("generation failed", "error", err)
		s.send(errorFrame(protocol.MsgGenerationFailed, ""))
		return
	}

	s.logger.Info("reply generated", "chars", len(res.Text), "tool_calls", m.ToolCalls)
	s.deps.Events.Publish(protocol.EventReply, s.id, protocol.TextData{Text: res.Text})

	s.setState(StateSynthesizing)
	final, ok := s.synthesize(ctx, res.Text, m)
	if !ok {
		return
	}

	m.finish()
	s.registry.metrics.Record(*m)
	s.deps.Events.Publish(protocol.EventTurnMetrics, s.id, m.Data())
	s.logger.Info("turn complete", "latency", m.FormatLatency())
	s.send(final)
}

// synthesize streams audio chunks for text. On success it returns the
// final_audio frame for the caller to send last; failures are reported to
// the client here.
func (s *Session) synthesize(ctx context.Context, text string, m *TurnMetrics) (protocol.Frame, bool) {
	contextID := s.deps.NewContextID()
	logger := s.logger.With("context_id", contextID)

	stream, err := s.deps.Synthesizer.Stream(ctx, text, contextID)
	if err != nil {
		logger.Error("synthesis setup failed", "error", err)
		s.send(errorFrame(protocol.MsgAudioFailed, contextID))
		return nil, false
	}
	defer stream.Close()

	for {
		chunk, err := stream.Read()
		if err != nil {
			logger.Error("synthesis read failed", "error", err)
			s.send(errorFrame(protocol.MsgAudioFailed, contextID))
			return nil, false
		}
		if chunk == nil {
			break
		}
		if !s.alive.Load() {
			logger.Info("client gone, abandoning synthesis", "chunks", chunk.Sequence-1)
			return nil, false
		}
		if chunk.First {
			m.markFirstAudio()
		}
		m.Chunks = chunk.Sequence
		frame, err := protocol.NewAudioChunk(chunk.Audio, chunk.Sequence, chunk.First)
		if err != nil {
			logger.Warn("chunk encode failed", "chunk", chunk.Sequence, "error", err)
			continue
		}
		s.send(frame)
	}

	c := stream.Completion()
	if !c.Complete() {
		logger.Error("synthesis failed", "error", c.Err, "chunks", c.Chunks)
		s.send(errorFrame(protocol.MsgAudioFailed, contextID))
		return nil, false
	}
	logger.Debug("synthesis complete", "reason", c.Reason.String(), "chunks", c.Chunks)
	final, _ := protocol.NewFinalAudio(c.Chunks, contextID)
	return final, true
}

// send queues a frame for the writer. It does nothing once the session
// is closed.
func (s *Session) send(f protocol.Frame) {
	s.enqueue(outbound{frame: f})
}

// flush queues a frame and waits until the writer handled it.
func (s *Session) flush(f protocol.Frame) {
	m := outbound{frame: f, written: make(chan struct{})}
	if !s.enqueue(m) {
		return
	}
	select {
	case <-m.written:
	case <-s.done:
	case <-time.After(flushTimeout):
	}
}

func (s *Session) enqueue(m outbound) bool {
	if !s.alive.Load() {
		return false
	}
	select {
	case s.outbox <- m:
		return true
	case <-s.done:
		return false
	}
}

// writeLoop is the only goroutine that writes to the client.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.done:
			return
		case m := <-s.outbox:
			if s.alive.Load() {
				if err := s.conn.WriteMessage(websocket.TextMessage, m.frame); err != nil {
					s.logger.Info("client write failed", "error", err)
					s.Close()
				}
			}
			if m.written != nil {
				close(m.written)
			}
		}
	}
}

func errorFrame(message, contextID string) protocol.Frame {
	f, _ := protocol.NewError(message, contextID)
	return f
}
