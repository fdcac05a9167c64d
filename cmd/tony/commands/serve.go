package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tony/pkg/hub"
	"github.com/teslashibe/go-tony/pkg/server"
	"github.com/teslashibe/go-tony/pkg/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voice and HTTP server",
	Long: `Start the server.

Endpoints:
  /ws/:session               Voice session (binary PCM16 in, JSON frames out)
  /ws/events                 Session event stream for monitors
  /health                    Liveness
  /api/keys                  Update API keys at runtime
  /api/tools                 List and call data tools
  /api/sessions/:id/history  Conversation history
  /api/stats                 Session and latency stats
  /generate-audio            Synthesize text to a hosted audio file
  /transcribe/file           Transcribe an uploaded recording
  /agent/chat/:session       One recorded turn: transcribe, answer, speak`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, keys, err := getConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	log := logger()

	svc, err := newServices(cfg, keys, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Config:      cfg,
		Keys:        keys,
		Registry:    session.NewRegistry(),
		Hub:         hub.New(log),
		Tools:       svc.tools,
		Transcriber: session.AssemblyAI(svc.transcriber),
		Files:       svc.transcriber,
		Speech:      svc.speech,
		Generators:  svc.generators,
		Logger:      log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("tony listening", "addr", addr, "version", server.Version, "model", cfg.Model)
	for _, name := range missingKeys(keys) {
		log.Warn("api key not configured", "key", name)
	}

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return err
	}
	log.Info("tony stopped")
	return nil
}
