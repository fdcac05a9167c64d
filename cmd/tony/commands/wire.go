package commands

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-tony/internal/config"
	"github.com/teslashibe/go-tony/pkg/inference"
	"github.com/teslashibe/go-tony/pkg/session"
	"github.com/teslashibe/go-tony/pkg/tools"
	"github.com/teslashibe/go-tony/pkg/transcribe"
	"github.com/teslashibe/go-tony/pkg/tts"
)

// services are the backends shared by every command.
type services struct {
	cfg    *config.Config
	keys   *config.Keys
	logger *slog.Logger

	tools       *tools.Registry
	transcriber *transcribe.Client
	speech      *tts.Murf
	generators  session.GeneratorFactory
}

func newServices(cfg *config.Config, keys *config.Keys, logger *slog.Logger) (*services, error) {
	reg, err := tools.NewDefault(tools.Config{
		Keys: tools.Keys{
			Finnhub:       keys.Func(config.KeyFinnhub),
			AlphaVantage:  keys.Func(config.KeyAlphaVantage),
			Polygon:       keys.Func(config.KeyPolygon),
			CoinMarketCap: keys.Func(config.KeyCoinMarketCap),
			OpenWeather:   keys.Func(config.KeyOpenWeather),
		},
		Cache:  tools.NewCache(cfg.Tools.CacheTTL),
		Logger: logger,
	}, tools.WithCallTimeout(cfg.Tools.CallTimeout))
	if err != nil {
		return nil, err
	}

	speech, err := tts.NewMurf(
		tts.WithKeyFunc(keys.Func(config.KeyMurf)),
		tts.WithVoice(tts.Voice{
			ID:        cfg.Voice.ID,
			Style:     cfg.Voice.Style,
			Rate:      cfg.Voice.Rate,
			Pitch:     cfg.Voice.Pitch,
			Variation: cfg.Voice.Variation,
		}),
		tts.WithReplyVoice(cfg.Voice.ReplyID),
		tts.WithSampleRate(cfg.Voice.SampleRate),
		tts.WithReadTimeout(cfg.Voice.ReadTimeout),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	s := &services{
		cfg:    cfg,
		keys:   keys,
		logger: logger,
		tools:  reg,
		transcriber: transcribe.New(
			transcribe.WithKeyFunc(keys.Func(config.KeyAssemblyAI)),
			transcribe.WithLogger(logger),
		),
		speech: speech,
	}
	s.generators = session.GeneratorFunc(s.newGenerator)
	return s, nil
}

// newGenerator opens a model session with the current Gemini key so key
// updates apply to the next session.
func (s *services) newGenerator(ctx context.Context) (session.Generator, error) {
	backend, err := inference.NewGemini(ctx,
		inference.WithAPIKey(s.keys.Get(config.KeyGemini)),
		inference.WithModel(s.cfg.Model),
		inference.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	return inference.NewSession(backend, s.cfg.Persona, s.tools.Declarations(), inference.WithLogger(s.logger)), nil
}
