// Package risk holds the engine's background passes: repricing open
// positions, supervising margin levels and charging overnight swap.
package risk

import (
	"context"
	"errors"
	"log/slog"

	"fxmargin/internal/ledger"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

const (
	EventQuote   = "quote"
	EventAccount = "account"
)

// PositionLedger is the part of the ledger the repricer writes through.
type PositionLedger interface {
	ListAllOpenPositions(ctx context.Context) ([]model.Position, error)
	Reprice(ctx context.Context, positionID string, currentPrice decimal.Decimal) (model.Position, error)
	ClosePosition(ctx context.Context, positionID string) (decimal.Decimal, error)
	RefreshEquity(ctx context.Context, accountID string) (model.TradingAccount, error)
}

// AlertChecker fires price alerts against the quotes of the current pass.
type AlertChecker interface {
	Evaluate(ctx context.Context, quotes marketdata.Quoter) (int, error)
}

type Repricer struct {
	ledger PositionLedger
	quotes marketdata.Quoter
	bus    *marketdata.Bus
	alerts AlertChecker
	log    *slog.Logger
}

// NewRepricer builds the repricing pass. bus may be nil.
func NewRepricer(l PositionLedger, quotes marketdata.Quoter, bus *marketdata.Bus, log *slog.Logger) *Repricer {
	if log == nil {
		log = slog.Default()
	}
	return &Repricer{ledger: l, quotes: quotes, bus: bus, log: log.With("component", "repricer")}
}

// WithAlerts makes every tick evaluate price alerts after the positions.
func (r *Repricer) WithAlerts(a AlertChecker) *Repricer {
	r.alerts = a
	return r
}

// Trigger names which protective level a marked position has reached.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerStopLoss   Trigger = "stop_loss"
	TriggerTakeProfit Trigger = "take_profit"
)

// CheckTriggers compares the marked price against stop loss first, then
// take profit. Both comparisons are inclusive.
func CheckTriggers(p model.Position) Trigger {
	price := p.CurrentPrice
	if p.Side == types.SideBuy {
		if p.StopLoss != nil && price.LessThanOrEqual(*p.StopLoss) {
			return TriggerStopLoss
		}
		if p.TakeProfit != nil && price.GreaterThanOrEqual(*p.TakeProfit) {
			return TriggerTakeProfit
		}
		return TriggerNone
	}
	if p.StopLoss != nil && price.GreaterThanOrEqual(*p.StopLoss) {
		return TriggerStopLoss
	}
	if p.TakeProfit != nil && price.LessThanOrEqual(*p.TakeProfit) {
		return TriggerTakeProfit
	}
	return TriggerNone
}

// markPrice is where a position would close: bid for a buy, ask for a sell.
func markPrice(side types.Side, q marketdata.Quote) decimal.Decimal {
	if side == types.SideBuy {
		return q.Bid
	}
	return q.Ask
}

// Tick marks every open position and refreshes each touched account once
// its positions are done. Per-position failures are logged and skipped.
func (r *Repricer) Tick(ctx context.Context) error {
	positions, err := r.ledger.ListAllOpenPositions(ctx)
	if err != nil {
		return err
	}
	cache := marketdata.NewTickCache(r.quotes)

	current := ""
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.AccountID != current {
			if current != "" {
				r.refresh(ctx, current)
			}
			current = p.AccountID
		}
		r.reprice(ctx, cache, p)
	}
	if current != "" {
		r.refresh(ctx, current)
	}

	if r.alerts != nil {
		if _, err := r.alerts.Evaluate(ctx, cache); err != nil {
			r.log.Error("price alerts failed", "err", err)
		}
	}

	if r.bus != nil {
		for _, q := range cache.Quotes() {
			r.bus.Publish(marketdata.Event{Type: EventQuote, Data: q})
		}
	}
	return nil
}

func (r *Repricer) reprice(ctx context.Context, cache *marketdata.TickCache, p model.Position) {
	q, err := cache.Quote(ctx, p.Symbol)
	if err != nil {
		r.log.Warn("quote failed", "symbol", p.Symbol, "position_id", p.ID, "err", err)
		return
	}
	updated, err := r.ledger.Reprice(ctx, p.ID, markPrice(p.Side, q))
	if errors.Is(err, ledger.ErrAlreadyClosed) {
		return
	}
	if err != nil {
		r.log.Error("reprice failed", "position_id", p.ID, "err", err)
		return
	}
	trigger := CheckTriggers(updated)
	if trigger == TriggerNone {
		return
	}
	realized, err := r.ledger.ClosePosition(ctx, p.ID)
	if errors.Is(err, ledger.ErrAlreadyClosed) {
		return
	}
	if err != nil {
		r.log.Error("protective close failed", "position_id", p.ID, "trigger", string(trigger), "err", err)
		return
	}
	r.log.Info("protective close", "position_id", p.ID, "trigger", string(trigger),
		"price", updated.CurrentPrice.String(), "realized", realized.String())
}

func (r *Repricer) refresh(ctx context.Context, accountID string) {
	acc, err := r.ledger.RefreshEquity(ctx, accountID)
	if err != nil {
		r.log.Error("refresh equity failed", "account_id", accountID, "err", err)
		return
	}
	if r.bus != nil {
		r.bus.Publish(marketdata.Event{Type: EventAccount, UserID: acc.UserID, Data: acc})
	}
}
