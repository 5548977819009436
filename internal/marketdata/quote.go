package marketdata

import (
	"context"
	"time"

	"fxmargin/internal/margin"
	"fxmargin/internal/model"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol     string          `json:"symbol"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	SpreadPips decimal.Decimal `json:"spread"`
	Timestamp  int64           `json:"ts"`
}

// Quoter is what the engine needs from a quote source.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// QuoteSource builds bid/ask by applying the catalog spread around a feed mid.
type QuoteSource struct {
	pairs PairStore
	feed  PriceFeed
	now   func() time.Time
}

func NewQuoteSource(pairs PairStore, feed PriceFeed) *QuoteSource {
	return &QuoteSource{pairs: pairs, feed: feed, now: time.Now}
}

var two = decimal.NewFromInt(2)

func (s *QuoteSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	pair, err := s.pairs.GetPair(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if !pair.Enabled {
		return Quote{}, ErrPairDisabled
	}
	mid, err := s.feed.Mid(ctx, pair.Symbol)
	if err != nil {
		return Quote{}, err
	}
	half := pair.Spread.Mul(PairPipSize(pair)).Div(two)
	return Quote{
		Symbol:     pair.Symbol,
		Bid:        mid.Sub(half),
		Ask:        mid.Add(half),
		SpreadPips: pair.Spread,
		Timestamp:  s.now().UTC().UnixMilli(),
	}, nil
}

// PairPipSize uses the pair's quote currency, falling back to the symbol.
func PairPipSize(p model.Pair) decimal.Decimal {
	if p.QuoteCurrency != "" {
		return margin.PipSize(p.QuoteCurrency)
	}
	return margin.PipSize(p.Symbol)
}

// TickCache memoizes quotes for the lifetime of one pass over open positions.
type TickCache struct {
	src    Quoter
	quotes map[string]Quote
	order  []string
	errs   map[string]error
}

func NewTickCache(src Quoter) *TickCache {
	return &TickCache{src: src, quotes: map[string]Quote{}, errs: map[string]error{}}
}

func (c *TickCache) Quote(ctx context.Context, symbol string) (Quote, error) {
	if q, ok := c.quotes[symbol]; ok {
		return q, nil
	}
	if err, ok := c.errs[symbol]; ok {
		return Quote{}, err
	}
	q, err := c.src.Quote(ctx, symbol)
	if err != nil {
		c.errs[symbol] = err
		return Quote{}, err
	}
	c.quotes[symbol] = q
	c.order = append(c.order, symbol)
	return q, nil
}

// Quotes returns the successful quotes in the order they were fetched.
func (c *TickCache) Quotes() []Quote {
	out := make([]Quote, 0, len(c.order))
	for _, symbol := range c.order {
		out = append(out, c.quotes[symbol])
	}
	return out
}
