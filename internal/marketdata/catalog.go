package marketdata

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"fxmargin/internal/model"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PairStore is read-only access to forex reference data.
type PairStore interface {
	GetPair(ctx context.Context, symbol string) (model.Pair, error)
	ListEnabledPairs(ctx context.Context) ([]model.Pair, error)
}

//go:embed pairs.yaml
var defaultPairsYAML []byte

type pairRecord struct {
	Symbol      string  `yaml:"symbol"`
	Base        string  `yaml:"base"`
	Quote       string  `yaml:"quote"`
	Spread      float64 `yaml:"spread"`
	MinVolume   float64 `yaml:"min_volume"`
	MaxVolume   float64 `yaml:"max_volume"`
	MaxLeverage int     `yaml:"max_leverage"`
	Enabled     *bool   `yaml:"enabled"`
	SwapLong    float64 `yaml:"swap_long"`
	SwapShort   float64 `yaml:"swap_short"`
}

type catalogFile struct {
	Pairs []pairRecord `yaml:"pairs"`
}

// Catalog is an in-memory PairStore loaded from YAML.
type Catalog struct {
	mu    sync.RWMutex
	pairs map[string]model.Pair
}

// DefaultCatalog returns the built-in 28 pair catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPairsYAML)
}

// LoadCatalog reads a catalog file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pairs: %w", err)
	}
	c := &Catalog{pairs: make(map[string]model.Pair, len(file.Pairs))}
	for _, rec := range file.Pairs {
		p, err := rec.toPair()
		if err != nil {
			return nil, err
		}
		if _, dup := c.pairs[p.Symbol]; dup {
			return nil, fmt.Errorf("duplicate pair %s", p.Symbol)
		}
		c.pairs[p.Symbol] = p
	}
	return c, nil
}

func (r pairRecord) toPair() (model.Pair, error) {
	symbol := NormalizeSymbol(r.Symbol)
	if symbol == "" {
		return model.Pair{}, fmt.Errorf("pair without symbol")
	}
	base, quote := r.Base, r.Quote
	if base == "" || quote == "" {
		parts := strings.SplitN(symbol, "/", 2)
		if len(parts) != 2 {
			return model.Pair{}, fmt.Errorf("pair %s: cannot derive currencies", symbol)
		}
		base, quote = parts[0], parts[1]
	}
	if r.MaxLeverage <= 0 {
		return model.Pair{}, fmt.Errorf("pair %s: max_leverage must be positive", symbol)
	}
	if r.MinVolume <= 0 || r.MaxVolume < r.MinVolume {
		return model.Pair{}, fmt.Errorf("pair %s: invalid volume bounds", symbol)
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return model.Pair{
		Symbol:        symbol,
		BaseCurrency:  strings.ToUpper(base),
		QuoteCurrency: strings.ToUpper(quote),
		Spread:        decimal.NewFromFloat(r.Spread),
		MinVolume:     decimal.NewFromFloat(r.MinVolume),
		MaxVolume:     decimal.NewFromFloat(r.MaxVolume),
		MaxLeverage:   r.MaxLeverage,
		Enabled:       enabled,
		SwapLong:      decimal.NewFromFloat(r.SwapLong),
		SwapShort:     decimal.NewFromFloat(r.SwapShort),
	}, nil
}

// GetPair returns the pair whether or not it is enabled.
func (c *Catalog) GetPair(_ context.Context, symbol string) (model.Pair, error) {
	c.mu.RLock()
	p, ok := c.pairs[NormalizeSymbol(symbol)]
	c.mu.RUnlock()
	if !ok {
		return model.Pair{}, ErrPairNotFound
	}
	return p, nil
}

func (c *Catalog) ListEnabledPairs(_ context.Context) ([]model.Pair, error) {
	c.mu.RLock()
	out := make([]model.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		if p.Enabled {
			out = append(out, p)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// All returns every pair, enabled or not, sorted by symbol.
func (c *Catalog) All() []model.Pair {
	c.mu.RLock()
	out := make([]model.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetEnabled toggles a pair. Used by operators to halt trading on a symbol.
func (c *Catalog) SetEnabled(symbol string, enabled bool) error {
	symbol = NormalizeSymbol(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[symbol]
	if !ok {
		return ErrPairNotFound
	}
	p.Enabled = enabled
	c.pairs[symbol] = p
	return nil
}

// NormalizeSymbol upper-cases a symbol and rewrites "EURUSD" and "EUR-USD"
// to "EUR/USD".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")
	if len(s) == 6 && !strings.Contains(s, "/") {
		s = s[:3] + "/" + s[3:]
	}
	return s
}
