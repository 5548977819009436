package risk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fxmargin/internal/ledger"
	"fxmargin/internal/margin"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"

	"github.com/shopspring/decimal"
)

// SwapLedger is the part of the ledger the rollover writes through.
type SwapLedger interface {
	ListAllOpenPositions(ctx context.Context) ([]model.Position, error)
	AccrueSwap(ctx context.Context, positionID string, amount decimal.Decimal) error
}

// Rollover charges overnight swap once per UTC day. Tick is meant to be
// called every minute; it only acts when the UTC date has changed since the
// previous tick.
type Rollover struct {
	ledger SwapLedger
	pairs  marketdata.PairStore
	now    func() time.Time
	log    *slog.Logger

	mu      sync.Mutex
	lastDay string
}

func NewRollover(l SwapLedger, pairs marketdata.PairStore, now func() time.Time, log *slog.Logger) *Rollover {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Rollover{ledger: l, pairs: pairs, now: now, log: log.With("component", "rollover")}
}

func (r *Rollover) Tick(ctx context.Context) error {
	day := r.now().UTC().Format(time.DateOnly)
	r.mu.Lock()
	prev := r.lastDay
	r.lastDay = day
	r.mu.Unlock()
	if prev == "" || prev == day {
		return nil
	}
	_, err := r.Apply(ctx)
	return err
}

// Apply charges one night of swap on every open position and returns how
// many positions were charged.
func (r *Rollover) Apply(ctx context.Context) (int, error) {
	positions, err := r.ledger.ListAllOpenPositions(ctx)
	if err != nil {
		return 0, err
	}
	pairs := map[string]model.Pair{}
	charged := 0
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return charged, err
		}
		pair, ok := pairs[p.Symbol]
		if !ok {
			pair, err = r.pairs.GetPair(ctx, p.Symbol)
			if err != nil {
				r.log.Warn("swap rates unavailable", "symbol", p.Symbol, "err", err)
				continue
			}
			pairs[p.Symbol] = pair
		}
		amount := margin.SwapCharge(p.Side, p.Volume, pair.SwapLong, pair.SwapShort, p.Symbol)
		if amount.IsZero() {
			continue
		}
		if err := r.ledger.AccrueSwap(ctx, p.ID, amount); err != nil {
			if !errors.Is(err, ledger.ErrAlreadyClosed) {
				r.log.Error("accrue swap failed", "position_id", p.ID, "err", err)
			}
			continue
		}
		charged++
	}
	r.log.Info("swap rollover applied", "positions", charged)
	return charged, nil
}
