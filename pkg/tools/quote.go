package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/go-tony/internal/httpc"
)

// Quote is a normalized stock quote.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Open          float64 `json:"open,omitempty"`
	High          float64 `json:"day_high,omitempty"`
	Low           float64 `json:"day_low,omitempty"`
	PreviousClose float64 `json:"previous_close,omitempty"`
	Volume        float64 `json:"volume,omitempty"`
	MarketCap     float64 `json:"market_cap,omitempty"`
	Source        string  `json:"source"`
}

// QuoteProvider fetches a stock quote from one upstream.
type QuoteProvider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// Response-shape parsers, one per provider.
var (
	finnhubQuoteJQ = mustParser(`select(.c != null and .c != 0) | {
		price: .c, change: (.d // 0), change_percent: (.dp // 0),
		open: .o, day_high: .h, day_low: .l, previous_close: .pc
	}`)
	finnhubProfileJQ = mustParser(`{name: (.name // ""), market_cap: ((.marketCapitalization // 0) * 1000000)}`)
	alphaVantageJQ   = mustParser(`."Global Quote" | select(. != null and length > 0) | {
		price: (."05. price" | tonumber),
		change: (."09. change" | tonumber),
		change_percent: (."10. change percent" | rtrimstr("%") | tonumber),
		open: (."02. open" | tonumber),
		day_high: (."03. high" | tonumber),
		day_low: (."04. low" | tonumber),
		previous_close: (."08. previous close" | tonumber),
		volume: (."06. volume" | tonumber)
	}`)
	polygonJQ = mustParser(`(.results // []) | first(.[]) | {
		price: .c, open: .o, day_high: .h, day_low: .l, volume: .v,
		change: (.c - .o),
		change_percent: (if .o == 0 then 0 else (.c - .o) / .o * 100 end)
	}`)
)

type finnhubQuotes struct {
	base   string
	key    func() string
	client *http.Client
}

func (p *finnhubQuotes) Name() string { return "finnhub" }

func (p *finnhubQuotes) Quote(ctx context.Context, symbol string) (*Quote, error) {
	key := keyOf(p.key)
	if key == "" {
		return nil, ErrNoKey
	}
	params := url.Values{"symbol": {symbol}, "token": {key}}
	body, err := httpc.GetJSON(ctx, p.client, httpc.WithQuery(p.base+"/quote", params), nil)
	if err != nil {
		return nil, err
	}
	q := &Quote{}
	if err := finnhubQuoteJQ.run(body, q); err != nil {
		return nil, err
	}

	// The profile only adds name and market cap.
	if body, err := httpc.GetJSON(ctx, p.client, httpc.WithQuery(p.base+"/stock/profile2", params), nil); err == nil {
		var profile struct {
			Name      string  `json:"name"`
			MarketCap float64 `json:"market_cap"`
		}
		if finnhubProfileJQ.run(body, &profile) == nil {
			q.Name = profile.Name
			q.MarketCap = profile.MarketCap
		}
	}
	return q, nil
}

type alphaVantageQuotes struct {
	base   string
	key    func() string
	client *http.Client
}

func (p *alphaVantageQuotes) Name() string { return "alphavantage" }

func (p *alphaVantageQuotes) Quote(ctx context.Context, symbol string) (*Quote, error) {
	key := keyOf(p.key)
	if key == "" {
		return nil, ErrNoKey
	}
	params := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}, "apikey": {key}}
	body, err := httpc.GetJSON(ctx, p.client, httpc.WithQuery(p.base, params), nil)
	if err != nil {
		return nil, err
	}
	q := &Quote{}
	if err := alphaVantageJQ.run(body, q); err != nil {
		return nil, err
	}
	return q, nil
}

type polygonQuotes struct {
	base   string
	key    func() string
	client *http.Client
}

func (p *polygonQuotes) Name() string { return "polygon" }

func (p *polygonQuotes) Quote(ctx context.Context, symbol string) (*Quote, error) {
	key := keyOf(p.key)
	if key == "" {
		return nil, ErrNoKey
	}
	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev", p.base, url.PathEscape(symbol))
	params := url.Values{"adjusted": {"true"}, "apiKey": {key}}
	body, err := httpc.GetJSON(ctx, p.client, httpc.WithQuery(endpoint, params), nil)
	if err != nil {
		return nil, err
	}
	q := &Quote{}
	if err := polygonJQ.run(body, q); err != nil {
		return nil, err
	}
	return q, nil
}

// QuoteChain tries quote providers in order. The first success wins;
// providers without a key are skipped.
type QuoteChain struct {
	providers []QuoteProvider
	logger    *slog.Logger
}

// NewQuoteChain returns a chain over providers.
func NewQuoteChain(logger *slog.Logger, providers ...QuoteProvider) *QuoteChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteChain{
		providers: providers,
		logger:    logger.With("component", "tools.quotes"),
	}
}

// Quote returns the first successful quote for symbol.
func (c *QuoteChain) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var errs []error
	for i, p := range c.providers {
		q, err := p.Quote(ctx, symbol)
		if errors.Is(err, ErrNoKey) {
			continue
		}
		if err == nil {
			q.Symbol = symbol
			q.Source = p.Name()
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"provider", p.Name(),
					"symbol", symbol)
			}
			return q, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		c.logger.Warn("quote provider failed, trying next",
			"provider", p.Name(),
			"symbol", symbol,
			"error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no stock data provider configured for %s", symbol)
	}
	return nil, &ChainError{Symbol: symbol, Errors: errs}
}

// ChainError aggregates the failures of every provider in a chain.
type ChainError struct {
	Symbol string
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("could not fetch stock data for %s (%s)", e.Symbol, strings.Join(msgs, "; "))
}

// Unwrap returns the provider errors.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}
