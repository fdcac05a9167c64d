package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/teslashibe/go-tony/internal/config"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := Execute(); err != nil {
		t.Fatalf("tony %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestToolsList(t *testing.T) {
	out := run(t, "tools", "list")
	for _, name := range []string{"get_current_weather", "get_stock_price", "compare_stocks"} {
		if !strings.Contains(out, name) {
			t.Errorf("tools list missing %s:\n%s", name, out)
		}
	}
}

func TestToolsCallUnknown(t *testing.T) {
	out := run(t, "tools", "call", "launch_rocket", `{"target":"moon"}`)

	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Success || res.Error != "Unknown function: launch_rocket" {
		t.Errorf("result = %+v", res)
	}
}

func TestMissingKeys(t *testing.T) {
	keys := config.NewKeys(map[string]string{config.KeyMurf: "m"})
	missing := missingKeys(keys)
	if len(missing) != len(config.KeyNames)-1 {
		t.Fatalf("missing = %v", missing)
	}
	for _, name := range missing {
		if name == config.KeyMurf {
			t.Errorf("%s reported missing", name)
		}
	}
}
