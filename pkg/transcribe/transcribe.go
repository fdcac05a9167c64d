// Package transcribe streams audio to AssemblyAI and reports transcript
// events.
//
// A Stream carries one live speech-to-text connection. Audio goes in
// through Feed; typed events come out of Events. A Final event is only
// produced for a turn the service reports as both ended and formatted.
// When a turn ends unformatted the stream asks the service to format
// turns instead of emitting anything.
package transcribe

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Kind tags a transcript event.
type Kind int

const (
	KindPartial Kind = iota
	KindFinal
	KindBegin
	KindEnd
	KindError
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindBegin:
		return "begin"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a transcript event. Which fields are set depends on Kind.
type Event struct {
	Kind Kind
	// Text is set for Partial and Final.
	Text string
	// SessionID is set for Begin.
	SessionID string
	// Duration is the processed audio length, set for End.
	Duration time.Duration
	// Message is set for Error.
	Message string
}

// Options configures one streaming session.
type Options struct {
	SampleRate  int
	FormatTurns bool
}

// Defaults.
const (
	DefaultStreamURL        = "wss://streaming.assemblyai.com/v3/ws"
	DefaultRESTURL          = "https://api.assemblyai.com"
	DefaultSampleRate       = 16000
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDrainTimeout     = 2 * time.Second
	DefaultPollInterval     = time.Second
	DefaultEventBuffer      = 64
)

// Sentinel errors.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("transcribe: API key required")

	// ErrClosed is returned by Feed once the connection is gone.
	ErrClosed = errors.New("transcribe: stream closed")

	// ErrEmptyAudio is returned when there is nothing to transcribe.
	ErrEmptyAudio = errors.New("transcribe: audio is empty")
)

// DialError is returned when the streaming connection cannot be opened.
type DialError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcribe: dial failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcribe: dial failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	return e.Err
}

// JobError is returned when a file transcription job fails.
type JobError struct {
	ID      string
	Message string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("transcribe: job %s failed: %s", e.ID, e.Message)
}

// Config holds client configuration.
type Config struct {
	APIKey  string
	KeyFunc func() string

	StreamURL string
	RESTURL   string

	HandshakeTimeout time.Duration
	DrainTimeout     time.Duration
	PollInterval     time.Duration
	EventBuffer      int
	HTTPClient       *http.Client

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithAPIKey sets a fixed API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithKeyFunc sets a key getter consulted whenever a connection is opened.
func WithKeyFunc(f func() string) Option {
	return func(c *Config) { c.KeyFunc = f }
}

// WithStreamURL overrides the streaming endpoint.
func WithStreamURL(url string) Option {
	return func(c *Config) { c.StreamURL = url }
}

// WithRESTURL overrides the REST API base URL.
func WithRESTURL(url string) Option {
	return func(c *Config) { c.RESTURL = url }
}

// WithDrainTimeout bounds how long a terminating close waits for the
// service to confirm.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Config) { c.DrainTimeout = d }
}

// WithPollInterval sets how often file jobs are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StreamURL:        DefaultStreamURL,
		RESTURL:          DefaultRESTURL,
		HandshakeTimeout: DefaultHandshakeTimeout,
		DrainTimeout:     DefaultDrainTimeout,
		PollInterval:     DefaultPollInterval,
		EventBuffer:      DefaultEventBuffer,
		Logger:           slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
}

func (c *Config) key() string {
	if c.KeyFunc != nil {
		return c.KeyFunc()
	}
	return c.APIKey
}
