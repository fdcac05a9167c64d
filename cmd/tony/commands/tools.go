package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-tony/internal/config"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List or call the data tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, keys, err := getConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(cfg, keys, logger())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, t := range svc.tools.Tools() {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
		}
		return w.Flush()
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name> [json-args]",
	Short: "Call a tool and print its result",
	Long: `Call a tool by name. Arguments are a JSON object.

Example:
  tony tools call get_stock_price '{"symbol":"AAPL"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, keys, err := getConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(cfg, keys, logger())
		if err != nil {
			return err
		}

		var callArgs map[string]any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
				return fmt.Errorf("parse arguments: %w", err)
			}
		}

		res := svc.tools.Dispatch(cmd.Context(), args[0], callArgs)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsCallCmd)
}

// missingKeys lists known keys that have no value.
func missingKeys(keys *config.Keys) []string {
	var missing []string
	for _, name := range config.KeyNames {
		if keys.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
