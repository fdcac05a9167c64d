package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tony/internal/config"
	"github.com/teslashibe/go-tony/pkg/session"
	"github.com/teslashibe/go-tony/pkg/tools"
)

var askSpeak bool

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Ask one question over text",
	Long: `Run one conversational turn without audio input.

The reply is printed. With --speak the reply is also synthesized and the
hosted audio URL is printed.

Example:
  tony ask "What's the weather in Delhi?" --speak`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askSpeak, "speak", false, "synthesize the reply and print its audio URL")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, keys, err := getConfig()
	if err != nil {
		return err
	}
	svc, err := newServices(cfg, keys, logger())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gen, err := svc.generators.NewGenerator(ctx)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}

	res, err := session.Exchange(ctx, &session.History{}, gen, svc.tools, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, o := range res.Outputs {
		fmt.Fprintf(out, "[%s] %s\n", o.Name, status(o.Result))
	}
	fmt.Fprintln(out, res.Text)

	if !askSpeak {
		return nil
	}
	if keys.Get(config.KeyMurf) == "" {
		return fmt.Errorf("%s is not set", config.KeyMurf)
	}
	url, err := svc.speech.Synthesize(ctx, res.Text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	fmt.Fprintln(out, url)
	return nil
}

func status(result any) string {
	if r, ok := result.(tools.Result); ok && !r.Success {
		return "failed: " + r.Error
	}
	return "ok"
}
