package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teslashibe/go-tony/internal/httpc"
)

// Limits applied to market lookups.
const (
	MaxCompareSymbols = 5
	MaxNewsSymbols    = 3
	NewsLookback      = 7 * 24 * time.Hour
	SummaryLimit      = 200
	DefaultNewsCount  = 3
)

// cryptoWhitelist routes portfolio holdings to the crypto quote path.
var cryptoWhitelist = map[string]bool{
	"BTC": true,
	"ETH": true,
	"ADA": true,
	"DOT": true,
}

var (
	coinMarketCapJQ = mustParser(`.data[$symbol] | select(. != null) | {
		name: .name, rank: .cmc_rank,
		price: .quote.USD.price,
		change_percent_24h: .quote.USD.percent_change_24h,
		market_cap: .quote.USD.market_cap,
		volume_24h: .quote.USD.volume_24h
	}`, "$symbol")
	finnhubNewsJQ = mustParser(`if type == "array" then [.[] | {
		title: .headline, summary: (.summary // ""), source: (.source // ""),
		published: (.datetime // 0), url: (.url // "")
	}] else error("unexpected news payload") end`)
)

// CryptoQuote is a normalized cryptocurrency quote.
type CryptoQuote struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Rank             int     `json:"rank"`
	Price            float64 `json:"price"`
	Change24h        float64 `json:"change_24h"`
	ChangePercent24h float64 `json:"change_percent_24h"`
	MarketCap        float64 `json:"market_cap"`
	Volume24h        float64 `json:"volume_24h"`
}

// NewsItem is one market headline.
type NewsItem struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	URL       string    `json:"url,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Published time.Time `json:"published"`
}

// Position is one analyzed portfolio holding.
type Position struct {
	Symbol        string  `json:"symbol"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// Portfolio is the result of a portfolio analysis.
type Portfolio struct {
	TotalValue     float64    `json:"total_value"`
	TotalChange    float64    `json:"total_change"`
	ChangePercent  float64    `json:"change_percent"`
	Positions      []Position `json:"positions"`
	BestPerformer  *Position  `json:"best_performer,omitempty"`
	WorstPerformer *Position  `json:"worst_performer,omitempty"`
	Unresolved     []string   `json:"unresolved,omitempty"`
}

// Market answers stock, crypto and news lookups through a shared cache.
type Market struct {
	quotes  *QuoteChain
	cfg     Config
	cache   *Cache
	logger  *slog.Logger
	client  *http.Client
	nowFunc func() time.Time
}

// NewMarket wires the market data providers. Stock quotes try Finnhub,
// then Alpha Vantage, then Polygon.
func NewMarket(cfg Config) *Market {
	cfg = cfg.withDefaults()
	chain := NewQuoteChain(cfg.Logger,
		&finnhubQuotes{base: cfg.Endpoints.Finnhub, key: cfg.Keys.Finnhub, client: cfg.Client},
		&alphaVantageQuotes{base: cfg.Endpoints.AlphaVantage, key: cfg.Keys.AlphaVantage, client: cfg.Client},
		&polygonQuotes{base: cfg.Endpoints.Polygon, key: cfg.Keys.Polygon, client: cfg.Client},
	)
	return &Market{
		quotes:  chain,
		cfg:     cfg,
		cache:   cfg.Cache,
		logger:  cfg.Logger.With("component", "tools.market"),
		client:  cfg.Client,
		nowFunc: time.Now,
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := normalizeSymbol(part); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// StockQuote returns a quote for symbol, served from cache when fresh.
func (m *Market) StockQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	key := CacheKey("stock", symbol)
	if v, ok := m.cache.Get(key); ok {
		return v.(*Quote), nil
	}
	q, err := m.quotes.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	m.cache.Put(key, q)
	return q, nil
}

// CryptoQuote returns a CoinMarketCap quote for symbol.
func (m *Market) CryptoQuote(ctx context.Context, symbol string) (*CryptoQuote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	key := CacheKey("crypto", symbol)
	if v, ok := m.cache.Get(key); ok {
		return v.(*CryptoQuote), nil
	}

	apiKey := keyOf(m.cfg.Keys.CoinMarketCap)
	if apiKey == "" {
		return nil, fmt.Errorf("no crypto data provider configured for %s", symbol)
	}
	endpoint := httpc.WithQuery(m.cfg.Endpoints.CoinMarketCap+"/v1/cryptocurrency/quotes/latest",
		url.Values{"symbol": {symbol}})
	body, err := httpc.GetJSON(ctx, m.client, endpoint, http.Header{"X-CMC_PRO_API_KEY": {apiKey}})
	if err != nil {
		return nil, fmt.Errorf("could not fetch crypto data for %s: %w", symbol, err)
	}

	q := &CryptoQuote{}
	if err := coinMarketCapJQ.run(body, q, symbol); err != nil {
		return nil, fmt.Errorf("could not fetch crypto data for %s: %w", symbol, err)
	}
	q.Symbol = symbol
	q.Change24h = q.Price * q.ChangePercent24h / 100
	m.cache.Put(key, q)
	return q, nil
}

// News returns recent headlines, newest first. With symbols, company news
// from the last week is fetched for at most three of them; otherwise
// general market news.
func (m *Market) News(ctx context.Context, symbols []string, limit int) ([]NewsItem, error) {
	if limit <= 0 {
		limit = DefaultNewsCount
	}
	scope := "general"
	if len(symbols) > 0 {
		scope = strings.Join(symbols, "_")
	}
	key := CacheKey("news", scope+"#"+strconv.Itoa(limit))
	if v, ok := m.cache.Get(key); ok {
		return v.([]NewsItem), nil
	}

	apiKey := keyOf(m.cfg.Keys.Finnhub)
	if apiKey == "" {
		return nil, errors.New("no news provider configured")
	}

	var items []NewsItem
	if len(symbols) == 0 {
		endpoint := httpc.WithQuery(m.cfg.Endpoints.Finnhub+"/news",
			url.Values{"category": {"general"}, "token": {apiKey}})
		got, err := m.fetchNews(ctx, endpoint, "", limit)
		if err != nil {
			return nil, fmt.Errorf("could not fetch market news: %w", err)
		}
		items = got
	} else {
		per := limit / len(symbols)
		if per < 1 {
			per = 1
		}
		now := m.nowFunc()
		from := now.Add(-NewsLookback).Format("2006-01-02")
		to := now.Format("2006-01-02")
		var errs []error
		for i, sym := range symbols {
			if i == MaxNewsSymbols {
				break
			}
			endpoint := httpc.WithQuery(m.cfg.Endpoints.Finnhub+"/company-news",
				url.Values{"symbol": {sym}, "from": {from}, "to": {to}, "token": {apiKey}})
			got, err := m.fetchNews(ctx, endpoint, sym, per)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
				continue
			}
			items = append(items, got...)
		}
		if len(items) == 0 && len(errs) > 0 {
			return nil, fmt.Errorf("could not fetch market news: %w", errors.Join(errs...))
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	if len(items) == 0 {
		return nil, errors.New("no market news available right now")
	}
	m.cache.Put(key, items)
	return items, nil
}

func (m *Market) fetchNews(ctx context.Context, endpoint, symbol string, limit int) ([]NewsItem, error) {
	body, err := httpc.GetJSON(ctx, m.client, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Title     string `json:"title"`
		Summary   string `json:"summary"`
		Source    string `json:"source"`
		Published int64  `json:"published"`
		URL       string `json:"url"`
	}
	if err := finnhubNewsJQ.run(body, &raw); err != nil {
		return nil, err
	}
	if len(raw) > limit {
		raw = raw[:limit]
	}
	items := make([]NewsItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, NewsItem{
			Title:     r.Title,
			Summary:   truncate(r.Summary, SummaryLimit),
			Source:    r.Source,
			URL:       r.URL,
			Symbol:    symbol,
			Published: time.Unix(r.Published, 0).UTC(),
		})
	}
	return items, nil
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// AnalyzePortfolio values holdings, keyed by symbol, at current prices.
func (m *Market) AnalyzePortfolio(ctx context.Context, holdings map[string]float64) (*Portfolio, error) {
	if len(holdings) == 0 {
		return nil, errors.New("portfolio has no holdings")
	}
	symbols := make([]string, 0, len(holdings))
	for s := range holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	p := &Portfolio{}
	for _, raw := range symbols {
		qty := holdings[raw]
		sym := normalizeSymbol(raw)

		var pos Position
		if cryptoWhitelist[sym] {
			q, err := m.CryptoQuote(ctx, sym)
			if err != nil {
				m.logger.Debug("portfolio position unresolved", "symbol", sym, "error", err)
				p.Unresolved = append(p.Unresolved, sym)
				continue
			}
			pos = Position{Symbol: sym, Type: "crypto", Price: q.Price,
				Change: q.Change24h * qty, ChangePercent: q.ChangePercent24h}
		} else {
			q, err := m.StockQuote(ctx, sym)
			if err != nil {
				m.logger.Debug("portfolio position unresolved", "symbol", sym, "error", err)
				p.Unresolved = append(p.Unresolved, sym)
				continue
			}
			pos = Position{Symbol: sym, Type: "stock", Price: q.Price,
				Change: q.Change * qty, ChangePercent: q.ChangePercent}
		}
		pos.Quantity = qty
		pos.Value = pos.Price * qty
		p.Positions = append(p.Positions, pos)
		p.TotalValue += pos.Value
		p.TotalChange += pos.Change
	}

	if len(p.Positions) == 0 {
		return nil, errors.New("could not price any of the portfolio holdings")
	}
	if base := p.TotalValue - p.TotalChange; base != 0 {
		p.ChangePercent = p.TotalChange / base * 100
	}
	best, worst := 0, 0
	for i, pos := range p.Positions {
		if pos.ChangePercent > p.Positions[best].ChangePercent {
			best = i
		}
		if pos.ChangePercent < p.Positions[worst].ChangePercent {
			worst = i
		}
	}
	p.BestPerformer = &p.Positions[best]
	p.WorstPerformer = &p.Positions[worst]
	return p, nil
}

// CompareStocks quotes up to five symbols and ranks them by percent change.
func (m *Market) CompareStocks(ctx context.Context, symbols []string) ([]*Quote, error) {
	if len(symbols) < 2 {
		return nil, errors.New("at least two symbols are required for a comparison")
	}
	if len(symbols) > MaxCompareSymbols {
		symbols = symbols[:MaxCompareSymbols]
	}

	var quotes []*Quote
	for _, sym := range symbols {
		q, err := m.StockQuote(ctx, sym)
		if err != nil {
			m.logger.Debug("comparison symbol skipped", "symbol", sym, "error", err)
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("could not retrieve data for any of %s", strings.Join(symbols, ", "))
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].ChangePercent > quotes[j].ChangePercent
	})
	return quotes, nil
}
