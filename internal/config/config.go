// Package config loads go-tony settings.
//
// Settings resolve in three layers: built-in defaults, an optional YAML
// file, then environment variables. API keys live separately in Keys so
// they can be replaced at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultPort            = 3000
	DefaultModel           = "gemini-2.5-flash"
	DefaultSampleRate      = 16000
	DefaultVoiceID         = "en-IN-aarav"
	DefaultVoiceStyle      = "Conversational"
	DefaultReplyVoiceID    = "en-IN-rohan"
	DefaultSynthesisRate   = 44100
	DefaultSynthesisWait   = 100 * time.Second
	DefaultToolTimeout     = 15 * time.Second
	DefaultCacheTTL        = 60 * time.Second
	DefaultTurnQueueLength = 4
)

// Config is the full process configuration.
type Config struct {
	Server        Server        `yaml:"server"`
	LogLevel      string        `yaml:"log_level"`
	Model         string        `yaml:"model"`
	Persona       string        `yaml:"persona"`
	Transcription Transcription `yaml:"transcription"`
	Voice         Voice         `yaml:"voice"`
	Tools         Tools         `yaml:"tools"`
	Session       Session       `yaml:"session"`
}

// Server holds HTTP listener settings.
type Server struct {
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// Transcription configures the streaming speech-to-text connection.
type Transcription struct {
	SampleRate  int  `yaml:"sample_rate"`
	FormatTurns bool `yaml:"format_turns"`
}

// Voice configures speech synthesis.
type Voice struct {
	ID          string        `yaml:"id"`
	Style       string        `yaml:"style"`
	Rate        int           `yaml:"rate"`
	Pitch       int           `yaml:"pitch"`
	Variation   int           `yaml:"variation"`
	SampleRate  int           `yaml:"sample_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// ReplyID is the voice used by the non-streaming endpoints.
	ReplyID string `yaml:"reply_id"`
}

// Tools configures the tool registry.
type Tools struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Session configures per-session turn handling.
type Session struct {
	TurnQueue int `yaml:"turn_queue"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   Server{Port: DefaultPort, StaticDir: "static"},
		LogLevel: "info",
		Model:    DefaultModel,
		Persona:  DefaultPersona,
		Transcription: Transcription{
			SampleRate:  DefaultSampleRate,
			FormatTurns: true,
		},
		Voice: Voice{
			ID:          DefaultVoiceID,
			Style:       DefaultVoiceStyle,
			Variation:   1,
			SampleRate:  DefaultSynthesisRate,
			ReadTimeout: DefaultSynthesisWait,
			ReplyID:     DefaultReplyVoiceID,
		},
		Tools: Tools{
			CallTimeout: DefaultToolTimeout,
			CacheTTL:    DefaultCacheTTL,
		},
		Session: Session{TurnQueue: DefaultTurnQueueLength},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT=%q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TONY_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("TONY_STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	return nil
}

// Validate checks the configuration for values that would break a session.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Transcription.SampleRate <= 0 {
		return fmt.Errorf("config: invalid transcription sample rate %d", c.Transcription.SampleRate)
	}
	if c.Voice.ReadTimeout <= 0 {
		return errors.New("config: voice read_timeout must be positive")
	}
	if c.Session.TurnQueue <= 0 {
		return errors.New("config: session turn_queue must be positive")
	}
	if c.Model == "" {
		return errors.New("config: model is required")
	}
	return nil
}
