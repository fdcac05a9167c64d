package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/teslashibe/go-tony/pkg/audioio"
	"github.com/teslashibe/go-tony/pkg/inference"
	"github.com/teslashibe/go-tony/pkg/protocol"
	"github.com/teslashibe/go-tony/pkg/tools"
	"github.com/teslashibe/go-tony/pkg/transcribe"
	"github.com/teslashibe/go-tony/pkg/tts"
)

// Conn is the client connection of a session. Both gorilla and fiber
// websocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TranscriptStream is a live transcription connection.
type TranscriptStream interface {
	Feed(audio []byte) error
	Events() <-chan transcribe.Event
	Close(terminate bool) error
}

// Transcriber opens transcription streams.
type Transcriber interface {
	Open(ctx context.Context, opts transcribe.Options) (TranscriptStream, error)
}

// Generator produces replies. *inference.Session implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*inference.Result, error)
	FollowUp(ctx context.Context, prompt string, outputs []inference.ToolOutput) (*inference.Result, error)
}

// GeneratorFactory creates a generator for a new session.
type GeneratorFactory interface {
	NewGenerator(ctx context.Context) (Generator, error)
}

// GeneratorFunc adapts a function to GeneratorFactory.
type GeneratorFunc func(ctx context.Context) (Generator, error)

// NewGenerator calls f.
func (f GeneratorFunc) NewGenerator(ctx context.Context) (Generator, error) {
	return f(ctx)
}

// Dispatcher runs tool calls. *tools.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) tools.Result
}

// Publisher receives monitor events. *hub.Hub implements it.
type Publisher interface {
	Publish(typ protocol.EventType, sessionID string, data any)
}

// Deps are the services a session talks to.
type Deps struct {
	Transcriber Transcriber
	Generators  GeneratorFactory
	Synthesizer tts.Streamer
	Tools       Dispatcher
	Events      Publisher
	Logger      *slog.Logger

	SampleRate  int
	FormatTurns bool
	TurnQueue   int

	// NewContextID names each synthesis round.
	NewContextID func() string
}

const defaultTurnQueue = 4

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Events == nil {
		d.Events = nopPublisher{}
	}
	if d.NewContextID == nil {
		d.NewContextID = uuid.NewString
	}
	if d.SampleRate <= 0 {
		d.SampleRate = audioio.TargetRate
	}
	if d.TurnQueue <= 0 {
		d.TurnQueue = defaultTurnQueue
	}
	return d
}

type nopPublisher struct{}

func (nopPublisher) Publish(protocol.EventType, string, any) {}

// AssemblyAI adapts a transcribe client to Transcriber.
func AssemblyAI(c *transcribe.Client) Transcriber {
	return assemblyAI{c}
}

type assemblyAI struct {
	c *transcribe.Client
}

func (a assemblyAI) Open(ctx context.Context, opts transcribe.Options) (TranscriptStream, error) {
	s, err := a.c.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
