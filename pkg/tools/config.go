package tools

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/teslashibe/go-tony/internal/httpc"
)

// ErrNoKey is returned by a provider whose API key is not configured.
var ErrNoKey = errors.New("tools: provider API key not configured")

// Keys supplies provider API keys. Each getter is consulted on every call so
// runtime key updates apply to the next lookup.
type Keys struct {
	Finnhub       func() string
	AlphaVantage  func() string
	Polygon       func() string
	CoinMarketCap func() string
	OpenWeather   func() string
}

// Endpoints holds provider base URLs.
type Endpoints struct {
	Finnhub       string
	AlphaVantage  string
	Polygon       string
	CoinMarketCap string
	OpenWeather   string
}

// DefaultEndpoints returns the public provider URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Finnhub:       "https://finnhub.io/api/v1",
		AlphaVantage:  "https://www.alphavantage.co/query",
		Polygon:       "https://api.polygon.io",
		CoinMarketCap: "https://pro-api.coinmarketcap.com",
		OpenWeather:   "https://api.openweathermap.org/data/2.5",
	}
}

// Config wires the data providers.
type Config struct {
	Keys      Keys
	Endpoints Endpoints
	Client    *http.Client
	Cache     *Cache
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	def := DefaultEndpoints()
	if c.Endpoints.Finnhub == "" {
		c.Endpoints.Finnhub = def.Finnhub
	}
	if c.Endpoints.AlphaVantage == "" {
		c.Endpoints.AlphaVantage = def.AlphaVantage
	}
	if c.Endpoints.Polygon == "" {
		c.Endpoints.Polygon = def.Polygon
	}
	if c.Endpoints.CoinMarketCap == "" {
		c.Endpoints.CoinMarketCap = def.CoinMarketCap
	}
	if c.Endpoints.OpenWeather == "" {
		c.Endpoints.OpenWeather = def.OpenWeather
	}
	if c.Client == nil {
		c.Client = httpc.NewClient(httpc.ProviderTimeout)
	}
	if c.Cache == nil {
		c.Cache = NewCache(DefaultCacheTTL)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func keyOf(f func() string) string {
	if f == nil {
		return ""
	}
	return f()
}
