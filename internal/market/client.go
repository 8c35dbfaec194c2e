package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"champs/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var ErrBadStatus = errors.New("market data bad status")

type Config struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Burst   int
	Timeout time.Duration

	// StaticPrices is a SYMBOL=PRICE list used when BaseURL is empty.
	StaticPrices string
}

// Source is anything that can quote a live price.
type Source interface {
	LivePrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
}

// NewSource picks the quote endpoint when one is configured, then a static
// price table, and otherwise a source that never finds a price.
func NewSource(cfg Config, m *metrics.Registry) (Source, error) {
	switch {
	case cfg.BaseURL != "":
		return NewClient(cfg, m), nil
	case strings.TrimSpace(cfg.StaticPrices) != "":
		return ParseStatic(cfg.StaticPrices)
	default:
		return Unavailable{}, nil
	}
}

// Client looks up live trade prices from a Finnhub-style quote endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// abandonedError marks a request the caller cancelled or let time out. The
// breaker does not count it against the quote service.
type abandonedError struct {
	err error
}

func (e abandonedError) Error() string { return e.err.Error() }

func (e abandonedError) Unwrap() error { return e.err }

type quoteResponse struct {
	Current decimal.Decimal `json:"c"`
}

func NewClient(cfg Config, m *metrics.Registry) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:     "market-quotes",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		OnStateChange: func(name string, _, to gobreaker.State) {
			m.BreakerTransition(name, to.String())
		},
		IsSuccessful: func(err error) bool {
			var abandoned abandonedError
			return err == nil || errors.As(err, &abandoned)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.25
		},
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
	}
}

// LivePrice returns the latest trade price. A symbol the provider does not
// know, or quotes with a zero price, come back as found == false.
func (c *Client) LivePrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, false, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, false, err
	}
	v, err := c.breaker.Execute(func() (any, error) {
		q, err := c.fetchQuote(ctx, symbol)
		if err != nil && ctx.Err() != nil {
			return nil, abandonedError{err: err}
		}
		return q, err
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("quote %s: %w", symbol, err)
	}
	q := v.(*quoteResponse)
	if q == nil || !q.Current.IsPositive() {
		return decimal.Zero, false, nil
	}
	return q.Current, true, nil
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (*quoteResponse, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if c.apiKey != "" {
		q.Set("token", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d: %s", ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &out, nil
}

// Unavailable never finds a price, so every holding is valued at its average
// acquisition price. Used when no market API is configured.
type Unavailable struct{}

func (Unavailable) LivePrice(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

// Static serves prices from a fixed table.
type Static map[string]decimal.Decimal

func (s Static) LivePrice(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	p, ok := s[strings.ToUpper(strings.TrimSpace(symbol))]
	return p, ok, nil
}

// ParseStatic reads a table like "AAPL=187.5,MSFT=410".
func ParseStatic(spec string) (Static, error) {
	out := Static{}
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, raw, ok := strings.Cut(pair, "=")
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if !ok || sym == "" {
			return nil, fmt.Errorf("static price %q: want SYMBOL=PRICE", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("static price %q: price must be a positive number", pair)
		}
		out[sym] = price
	}
	return out, nil
}
