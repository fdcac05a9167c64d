// Package server exposes voice sessions and the supporting HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-tony/internal/config"
	"github.com/teslashibe/go-tony/pkg/hub"
	"github.com/teslashibe/go-tony/pkg/session"
	"github.com/teslashibe/go-tony/pkg/tools"
	"github.com/teslashibe/go-tony/pkg/tts"
)

// Version is reported by /health.
var Version = "0.1.0"

const (
	maxUploadSize   = 25 << 20
	shutdownTimeout = 5 * time.Second
)

// FileTranscriber transcribes complete recordings.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, audio []byte) (string, error)
}

// Speech synthesizes replies, streamed or as a hosted file.
type Speech interface {
	tts.Streamer
	Synthesize(ctx context.Context, text string) (string, error)
}

// Deps are the services the server exposes.
type Deps struct {
	Config      *config.Config
	Keys        *config.Keys
	Registry    *session.Registry
	Hub         *hub.Hub
	Tools       *tools.Registry
	Transcriber session.Transcriber
	Files       FileTranscriber
	Speech      Speech
	Generators  session.GeneratorFactory
	Logger      *slog.Logger
}

// Server is the HTTP and websocket front end.
type Server struct {
	app    *fiber.App
	deps   Deps
	logger *slog.Logger

	// base is the parent context of voice sessions.
	base context.Context
}

// New creates a server and registers its routes.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Registry == nil {
		d.Registry = session.NewRegistry()
	}
	if d.Keys == nil {
		d.Keys = config.NewKeys(nil)
	}

	s := &Server{
		deps:   d,
		logger: d.Logger.With("component", "server"),
		base:   context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "tony",
		DisableStartupMessage: true,
		BodyLimit:             maxUploadSize,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if d.Logger.Enabled(context.Background(), slog.LevelDebug) {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Post("/generate-audio", s.handleGenerateAudio)
	app.Post("/transcribe/file", s.handleTranscribeFile)
	app.Post("/agent/chat/:session", s.handleAgentChat)

	api := app.Group("/api")
	api.Post("/keys", s.handleKeys)
	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleTriggerTool)
	api.Get("/sessions/:id/history", s.handleHistory)
	api.Get("/stats", s.handleStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	if d.Hub != nil {
		app.Get("/ws/events", d.Hub.Handler())
	}
	app.Get("/ws/:session", websocket.New(s.handleVoice))

	if dir := d.Config.Server.StaticDir; dir != "" {
		app.Static("/", dir)
	}

	s.app = app
	return s
}

// App returns the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve accepts connections on ln until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.base = ctx
	if s.deps.Hub != nil {
		go s.deps.Hub.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) sessionDeps() session.Deps {
	cfg := s.deps.Config
	d := session.Deps{
		Transcriber: s.deps.Transcriber,
		Generators:  s.deps.Generators,
		Synthesizer: s.deps.Speech,
		Logger:      s.deps.Logger,
		SampleRate:  cfg.Transcription.SampleRate,
		FormatTurns: cfg.Transcription.FormatTurns,
		TurnQueue:   cfg.Session.TurnQueue,
	}
	if s.deps.Tools != nil {
		d.Tools = s.deps.Tools
	}
	if s.deps.Hub != nil {
		d.Events = s.deps.Hub
	}
	return d
}
