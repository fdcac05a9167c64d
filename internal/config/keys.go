package config

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// Key names. Each doubles as the environment variable it is loaded from.
const (
	KeyMurf          = "MURF_API_KEY"
	KeyAssemblyAI    = "ASSEMBLY_AI_API_KEY"
	KeyGemini        = "GEMINI_API_KEY"
	KeyFinnhub       = "FINNHUB_API_KEY"
	KeyAlphaVantage  = "ALPHA_VANTAGE_API_KEY"
	KeyOpenWeather   = "OPENWEATHER_API_KEY"
	KeyPolygon       = "POLYGON_API_KEY"
	KeyCoinMarketCap = "COINMARKETCAP_API_KEY"
)

// KeyNames lists every key the process knows about.
var KeyNames = []string{
	KeyMurf,
	KeyAssemblyAI,
	KeyGemini,
	KeyFinnhub,
	KeyAlphaVantage,
	KeyOpenWeather,
	KeyPolygon,
	KeyCoinMarketCap,
}

// Keys is the process-wide API key table. Updates take effect on the next
// lookup; connections that already read a key keep using it.
type Keys struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewKeys returns a table seeded with the given values.
func NewKeys(values map[string]string) *Keys {
	k := &Keys{values: make(map[string]string, len(values))}
	for name, v := range values {
		k.values[name] = v
	}
	return k
}

// KeysFromEnv loads every known key from the environment.
func KeysFromEnv() *Keys {
	values := make(map[string]string, len(KeyNames))
	for _, name := range KeyNames {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			values[name] = v
		}
	}
	return NewKeys(values)
}

// Get returns the current value of a key, or "".
func (k *Keys) Get(name string) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.values[name]
}

// Func returns a getter bound to one key.
func (k *Keys) Func(name string) func() string {
	return func() string { return k.Get(name) }
}

// Set applies non-empty updates and returns the names that changed.
// Blank values leave the existing key untouched.
func (k *Keys) Set(updates map[string]string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	var changed []string
	for name, v := range updates {
		v = strings.TrimSpace(v)
		if v == "" || k.values[name] == v {
			continue
		}
		k.values[name] = v
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

// Configured reports which keys currently have a value.
func (k *Keys) Configured() map[string]bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]bool, len(KeyNames))
	for _, name := range KeyNames {
		out[name] = k.values[name] != ""
	}
	return out
}
