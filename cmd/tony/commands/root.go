package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tony/internal/config"
	"github.com/teslashibe/go-tony/internal/log"
)

var (
	cfgFile  string
	logLevel string

	globalConfig *config.Config
	globalKeys   *config.Keys
)

var rootCmd = &cobra.Command{
	Use:   "tony",
	Short: "Tony, a real-time voice assistant",
	Long: `Tony listens to streamed microphone audio, transcribes it, answers with
a language model that can look up market and weather data, and speaks the
reply back as streamed audio.

Examples:
  # Start the server on the configured port
  tony serve

  # Ask a question without audio
  tony ask "How is Apple doing today?"

  # Call a data tool directly
  tony tools call get_weather '{"location":"Mumbai"}'
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		log.Init(cfg.LogLevel)
		globalConfig = cfg
		globalKeys = config.KeysFromEnv()
		return nil
	},
}

// Command returns the root cobra command.
func Command() *cobra.Command {
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(toolsCmd)
}

func getConfig() (*config.Config, *config.Keys, error) {
	if globalConfig == nil || globalKeys == nil {
		return nil, nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, globalKeys, nil
}

func logger() *slog.Logger {
	return log.L()
}
