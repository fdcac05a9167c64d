package tts

import (
	"log/slog"
	"net/http"
	"time"
)

// Default Murf settings.
const (
	DefaultStreamURL        = "wss://api.murf.ai/v1/speech/stream-input"
	DefaultRESTURL          = "https://api.murf.ai/v1/speech/generate"
	DefaultVoiceID          = "en-IN-aarav"
	DefaultStyle            = "Conversational"
	DefaultSampleRate       = 44100
	DefaultReadTimeout      = 100 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Voice holds the voice configuration sent before any text.
type Voice struct {
	ID        string
	Style     string
	Rate      int
	Pitch     int
	Variation int
}

// Config holds Murf client configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// APIKey is used when KeyFunc is nil.
	APIKey string
	// KeyFunc, when set, is consulted on every call.
	KeyFunc func() string

	StreamURL string
	RESTURL   string

	Voice      Voice
	SampleRate int
	Format     string
	Channel    string

	// ReplyVoiceID is the voice used by Synthesize.
	ReplyVoiceID string
	ReplyFormat  string

	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client

	Logger *slog.Logger
}

// Option is a functional option for configuring the Murf client.
type Option func(*Config)

// WithAPIKey sets a fixed API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithKeyFunc sets a key getter so runtime key changes apply to the next call.
func WithKeyFunc(f func() string) Option {
	return func(c *Config) { c.KeyFunc = f }
}

// WithStreamURL overrides the websocket endpoint.
func WithStreamURL(url string) Option {
	return func(c *Config) { c.StreamURL = url }
}

// WithRESTURL overrides the one-shot synthesis endpoint.
func WithRESTURL(url string) Option {
	return func(c *Config) { c.RESTURL = url }
}

// WithVoice sets the streaming voice.
func WithVoice(v Voice) Option {
	return func(c *Config) { c.Voice = v }
}

// WithReplyVoice sets the voice used by Synthesize.
func WithReplyVoice(id string) Option {
	return func(c *Config) { c.ReplyVoiceID = id }
}

// WithSampleRate sets the output sample rate.
func WithSampleRate(hz int) Option {
	return func(c *Config) { c.SampleRate = hz }
}

// WithReadTimeout sets the per-read timeout of a stream.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithHTTPClient sets the client used by Synthesize.
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
		StreamURL: DefaultStreamURL,
		RESTURL:   DefaultRESTURL,
		Voice: Voice{
			ID:        DefaultVoiceID,
			Style:     DefaultStyle,
			Variation: 1,
		},
		SampleRate:       DefaultSampleRate,
		Format:           "WAV",
		Channel:          "MONO",
		ReplyVoiceID:     "en-IN-rohan",
		ReplyFormat:      "MP3",
		ReadTimeout:      DefaultReadTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
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
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Voice.ID == "" {
		return ErrNoVoiceID
	}
	return nil
}

func (c *Config) key() string {
	if c.KeyFunc != nil {
		return c.KeyFunc()
	}
	return c.APIKey
}
