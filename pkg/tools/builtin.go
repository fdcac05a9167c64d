package tools

import (
	"context"
	"errors"
	"fmt"
)

type symbolArgs struct {
	Symbol string `json:"symbol" jsonschema:"Ticker symbol such as AAPL or TSLA"`
}

type cryptoArgs struct {
	Symbol string `json:"symbol" jsonschema:"Cryptocurrency symbol such as BTC or ETH"`
}

type newsArgs struct {
	Symbols string `json:"symbols,omitempty" jsonschema:"Optional comma separated ticker symbols to filter news by"`
	Count   int    `json:"count,omitempty" jsonschema:"Number of news items to return (default 3)"`
}

type portfolioArgs struct {
	HoldingsJSON string `json:"holdings_json" jsonschema:"JSON object mapping each symbol to the quantity held"`
}

type compareArgs struct {
	Symbols string `json:"symbols" jsonschema:"Comma separated ticker symbols to compare (two to five)"`
}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"City name such as London or New York"`
	Units    string `json:"units,omitempty" jsonschema:"Temperature units: metric for Celsius or imperial for Fahrenheit or kelvin"`
}

// Builtins returns the market and weather tools.
func Builtins(m *Market, w *Weather) []*Tool {
	weatherCurrent := MustNewTool("get_current_weather",
		"Get the current weather for a city.",
		func(ctx context.Context, a weatherArgs) (any, error) {
			return w.Current(ctx, a.Location, a.Units)
		})
	weatherForecast := MustNewTool("get_weather_forecast",
		"Get the weather forecast for the next 24 hours for a city.",
		func(ctx context.Context, a weatherArgs) (any, error) {
			return w.Forecast(ctx, a.Location, a.Units)
		})
	for _, t := range []*Tool{weatherCurrent, weatherForecast} {
		if p, ok := t.Parameters.Properties["units"]; ok {
			p.Enum = []any{"metric", "imperial", "kelvin"}
		}
	}

	return []*Tool{
		MustNewTool("get_stock_price",
			"Get the real-time price and daily change of a stock.",
			func(ctx context.Context, a symbolArgs) (any, error) {
				return m.StockQuote(ctx, a.Symbol)
			}),
		MustNewTool("get_crypto_price",
			"Get the real-time price and 24 hour change of a cryptocurrency.",
			func(ctx context.Context, a cryptoArgs) (any, error) {
				return m.CryptoQuote(ctx, a.Symbol)
			}),
		MustNewTool("get_market_news_summary",
			"Get the latest financial market news, optionally for specific stocks.",
			func(ctx context.Context, a newsArgs) (any, error) {
				return m.News(ctx, splitSymbols(a.Symbols), a.Count)
			}),
		MustNewTool("analyze_portfolio",
			"Analyze a portfolio of stock and crypto holdings.",
			func(ctx context.Context, a portfolioArgs) (any, error) {
				holdings, err := parseHoldings(a.HoldingsJSON)
				if err != nil {
					return nil, err
				}
				return m.AnalyzePortfolio(ctx, holdings)
			}),
		MustNewTool("compare_stocks",
			"Compare several stocks side by side by daily performance.",
			func(ctx context.Context, a compareArgs) (any, error) {
				return m.CompareStocks(ctx, splitSymbols(a.Symbols))
			}),
		weatherCurrent,
		weatherForecast,
	}
}

func parseHoldings(s string) (map[string]float64, error) {
	if s == "" {
		return nil, errors.New("holdings_json is required")
	}
	var holdings map[string]float64
	if err := decodeArgs([]byte(s), &holdings); err != nil {
		return nil, fmt.Errorf("portfolio must be a JSON object like {\"AAPL\": 100, \"BTC\": 1.5}: %w", err)
	}
	return holdings, nil
}

// NewDefault returns a registry holding every built-in tool.
func NewDefault(cfg Config, opts ...Option) (*Registry, error) {
	cfg = cfg.withDefaults()
	r := NewRegistry(append([]Option{WithLogger(cfg.Logger)}, opts...)...)
	if err := r.Register(Builtins(NewMarket(cfg), NewWeather(cfg))...); err != nil {
		return nil, err
	}
	return r, nil
}
