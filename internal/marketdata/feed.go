package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// PriceFeed supplies mid prices.
type PriceFeed interface {
	Mid(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticFeed is a mutable in-memory table of mids.
type StaticFeed struct {
	mu   sync.RWMutex
	mids map[string]decimal.Decimal
}

// DefaultMids are the mock mids used when no live feed is configured.
func DefaultMids() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"EUR/USD": decimal.RequireFromString("1.0850"),
		"GBP/USD": decimal.RequireFromString("1.2650"),
		"USD/JPY": decimal.RequireFromString("149.50"),
		"USD/CHF": decimal.RequireFromString("0.8850"),
		"AUD/USD": decimal.RequireFromString("0.6550"),
		"USD/CAD": decimal.RequireFromString("1.3650"),
		"NZD/USD": decimal.RequireFromString("0.6050"),
	}
}

func NewStaticFeed(mids map[string]decimal.Decimal) *StaticFeed {
	f := &StaticFeed{mids: make(map[string]decimal.Decimal, len(mids))}
	for symbol, mid := range mids {
		f.Set(symbol, mid)
	}
	return f
}

// Set stores a mid. Non-positive values are ignored.
func (f *StaticFeed) Set(symbol string, mid decimal.Decimal) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" || !mid.IsPositive() {
		return
	}
	f.mu.Lock()
	f.mids[symbol] = mid
	f.mu.Unlock()
}

func (f *StaticFeed) Mid(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	mid, ok := f.mids[NormalizeSymbol(symbol)]
	f.mu.RUnlock()
	if !ok {
		return decimal.Zero, ErrQuoteUnavailable
	}
	return mid, nil
}

// Snapshot copies the current table.
func (f *StaticFeed) Snapshot() map[string]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(f.mids))
	for k, v := range f.mids {
		out[k] = v
	}
	return out
}

type midResponse struct {
	Symbol string          `json:"symbol"`
	Mid    decimal.Decimal `json:"mid"`
}

// HTTPFeed reads mids from GET {base}/mid?symbol=SYMBOL.
type HTTPFeed struct {
	client *resty.Client
}

func NewHTTPFeed(baseURL string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPFeed{client: client}
}

func (f *HTTPFeed) Mid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out midResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", NormalizeSymbol(symbol)).
		SetResult(&out).
		Get("/mid")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return decimal.Zero, ErrQuoteUnavailable
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: feed status %d", ErrQuoteUnavailable, resp.StatusCode())
	}
	if !out.Mid.IsPositive() {
		return decimal.Zero, ErrQuoteUnavailable
	}
	return out.Mid, nil
}

// FallbackFeed asks Primary first and Secondary when Primary has no price.
type FallbackFeed struct {
	Primary   PriceFeed
	Secondary PriceFeed
}

func (f FallbackFeed) Mid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	mid, err := f.Primary.Mid(ctx, symbol)
	if err == nil {
		return mid, nil
	}
	if f.Secondary == nil || ctx.Err() != nil {
		return decimal.Zero, err
	}
	mid, err2 := f.Secondary.Mid(ctx, symbol)
	if err2 != nil {
		return decimal.Zero, errors.Join(err, err2)
	}
	return mid, nil
}
