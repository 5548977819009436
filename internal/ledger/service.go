// Package ledger is the only writer of accounts and positions. Every
// operation runs inside one account transaction, so the account's balance,
// margin, equity and positions always move together.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxmargin/internal/margin"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/notify"
	"fxmargin/internal/store"
	"fxmargin/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	store            store.Store
	pairs            marketdata.PairStore
	quotes           marketdata.Quoter
	notifier         notify.Notifier
	commissionPerLot decimal.Decimal
	now              func() time.Time
	log              *slog.Logger
}

type Options struct {
	CommissionPerLot decimal.Decimal
	Notifier         notify.Notifier
	Now              func() time.Time
	Logger           *slog.Logger
}

func NewService(st store.Store, pairs marketdata.PairStore, quotes marketdata.Quoter, opts Options) *Service {
	s := &Service{
		store:            st,
		pairs:            pairs,
		quotes:           quotes,
		notifier:         opts.Notifier,
		commissionPerLot: opts.CommissionPerLot,
		now:              opts.Now,
		log:              opts.Logger,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "ledger")
	return s
}

type OpenRequest struct {
	UserID     string
	AccountID  string
	Symbol     string
	Side       types.Side
	Volume     decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func validateStops(side types.Side, price decimal.Decimal, sl, tp *decimal.Decimal) error {
	if sl != nil {
		if !sl.IsPositive() {
			return ErrInvalidStops
		}
		if side == types.SideBuy && !sl.LessThan(price) || side == types.SideSell && !sl.GreaterThan(price) {
			return ErrInvalidStops
		}
	}
	if tp != nil {
		if !tp.IsPositive() {
			return ErrInvalidStops
		}
		if side == types.SideBuy && !tp.GreaterThan(price) || side == types.SideSell && !tp.LessThan(price) {
			return ErrInvalidStops
		}
	}
	return nil
}

// applyMetrics derives every account ratio from the balance and the open
// positions: equity = balance + floating profit, free margin = balance -
// margin.
func applyMetrics(acc *model.TradingAccount, open []model.Position, at time.Time) {
	used := decimal.Zero
	floating := decimal.Zero
	for _, p := range open {
		used = used.Add(p.Margin)
		floating = floating.Add(p.Profit)
	}
	acc.Margin = used
	acc.Equity = margin.Round2(acc.Balance.Add(floating))
	acc.FreeMargin = margin.FreeMargin(acc.Balance, used)
	acc.MarginLevel = margin.Level(acc.Equity, used)
	acc.UpdatedAt = at
}

func (s *Service) recompute(ctx context.Context, tx store.Tx, acc *model.TradingAccount, at time.Time) error {
	open, err := tx.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open positions: %w", err)
	}
	applyMetrics(acc, open, at)
	return tx.UpdateAccount(ctx, *acc)
}

func mapAccountErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// OpenPosition executes a market order at the current quote: ask for a buy,
// bid for a sell.
func (s *Service) OpenPosition(ctx context.Context, req OpenRequest) (string, error) {
	if !req.Side.Valid() {
		return "", ErrInvalidSide
	}
	pair, err := s.pairs.GetPair(ctx, req.Symbol)
	if err != nil {
		return "", err
	}
	if !pair.Enabled {
		return "", marketdata.ErrPairDisabled
	}
	if !req.Volume.IsPositive() || req.Volume.LessThan(pair.MinVolume) || req.Volume.GreaterThan(pair.MaxVolume) {
		return "", ErrInvalidVolume
	}
	quote, err := s.quotes.Quote(ctx, pair.Symbol)
	if err != nil {
		return "", err
	}
	price := quote.Ask
	if req.Side == types.SideSell {
		price = quote.Bid
	}
	if err := validateStops(req.Side, price, req.StopLoss, req.TakeProfit); err != nil {
		return "", err
	}

	positionID := uuid.NewString()
	var opened model.Position
	err = s.store.InAccountTx(ctx, req.AccountID, func(tx store.Tx) error {
		acc, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		if req.UserID != "" && acc.UserID != req.UserID {
			return ErrAccountNotFound
		}
		leverage := margin.EffectiveLeverage(acc.Leverage, pair.MaxLeverage)
		required, err := margin.RequiredMargin(req.Volume, price, leverage)
		if err != nil {
			return err
		}
		if margin.FreeMargin(acc.Balance, acc.Margin).LessThan(required) {
			return ErrInsufficientMargin
		}

		now := s.clock()
		commission := margin.Commission(req.Volume, s.commissionPerLot)
		opened = model.Position{
			ID:           positionID,
			UserID:       acc.UserID,
			AccountID:    acc.ID,
			Symbol:       pair.Symbol,
			Side:         req.Side,
			Volume:       req.Volume,
			OpenPrice:    price,
			CurrentPrice: price,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			Margin:       required,
			Leverage:     leverage,
			Swap:         decimal.Zero,
			Commission:   commission,
			Profit:       decimal.Zero,
			Status:       types.PositionStatusOpen,
			OpenedAt:     now,
		}
		order := model.Order{
			ID:             uuid.NewString(),
			UserID:         acc.UserID,
			AccountID:      acc.ID,
			Symbol:         pair.Symbol,
			Side:           req.Side,
			Type:           types.OrderTypeMarket,
			Volume:         req.Volume,
			RequestedPrice: price,
			ExecutedPrice:  price,
			StopLoss:       req.StopLoss,
			TakeProfit:     req.TakeProfit,
			Status:         types.OrderStatusExecuted,
			PositionID:     positionID,
			CreatedAt:      now,
			ExecutedAt:     &now,
		}
		trade := model.Trade{
			ID:         uuid.NewString(),
			UserID:     acc.UserID,
			AccountID:  acc.ID,
			OrderID:    order.ID,
			PositionID: positionID,
			Symbol:     pair.Symbol,
			Side:       req.Side,
			Volume:     req.Volume,
			Price:      price,
			Commission: commission,
			Swap:       decimal.Zero,
			CreatedAt:  now,
		}
		if err := tx.InsertPosition(ctx, opened); err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
		return s.recompute(ctx, tx, &acc, now)
	})
	if err != nil {
		return "", mapAccountErr(err)
	}

	s.log.Info("position opened", "position_id", positionID, "account_id", req.AccountID, "symbol", pair.Symbol,
		"side", string(req.Side), "volume", req.Volume.String(), "price", price.String(), "margin", opened.Margin.String())
	s.notify(ctx, model.Notification{
		UserID:  opened.UserID,
		Type:    types.NotificationTrade,
		Title:   "Position Opened",
		Message: fmt.Sprintf("%s %s %s lots at %s", sideLabel(req.Side), pair.Symbol, req.Volume.String(), price.String()),
	})
	return positionID, nil
}

// ClosePosition closes at the opposite side of the quote and realizes
// profit + swap - commission into the balance.
func (s *Service) ClosePosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	return s.closePosition(ctx, "", positionID, types.PositionStatusClosed)
}

// ClosePositionForUser is ClosePosition restricted to the position owner.
func (s *Service) ClosePositionForUser(ctx context.Context, userID, positionID string) (decimal.Decimal, error) {
	return s.closePosition(ctx, userID, positionID, types.PositionStatusClosed)
}

// ForceClose is the liquidation path. When no quote is available the
// position is closed at its last marked price.
func (s *Service) ForceClose(ctx context.Context, positionID string) (decimal.Decimal, error) {
	return s.closePosition(ctx, "", positionID, types.PositionStatusLiquidated)
}

func closePrice(side types.Side, q marketdata.Quote) decimal.Decimal {
	if side == types.SideBuy {
		return q.Bid
	}
	return q.Ask
}

func (s *Service) closePosition(ctx context.Context, userID, positionID string, final types.PositionStatus) (decimal.Decimal, error) {
	pos, err := s.store.GetPosition(ctx, positionID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, ErrPositionNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	if userID != "" && pos.UserID != userID {
		return decimal.Zero, ErrPositionNotFound
	}
	if !pos.IsOpen() {
		return decimal.Zero, ErrAlreadyClosed
	}

	var price decimal.Decimal
	quote, err := s.quotes.Quote(ctx, pos.Symbol)
	switch {
	case err == nil:
		price = closePrice(pos.Side, quote)
	case final == types.PositionStatusLiquidated:
		price = pos.CurrentPrice
		s.log.Warn("liquidating at last marked price", "position_id", pos.ID, "symbol", pos.Symbol, "err", err)
	default:
		return decimal.Zero, err
	}

	var closed model.Position
	var realized decimal.Decimal
	err = s.store.InAccountTx(ctx, pos.AccountID, func(tx store.Tx) error {
		cur, err := tx.GetPosition(ctx, positionID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPositionNotFound
		}
		if err != nil {
			return err
		}
		if !cur.IsOpen() {
			return ErrAlreadyClosed
		}

		now := s.clock()
		profit := margin.Profit(cur.Side, cur.OpenPrice, price, cur.Volume, cur.Symbol)
		realized = margin.Round2(profit.Add(cur.Swap).Sub(cur.Commission))
		closedPrice := price
		closedProfit := realized
		cur.CurrentPrice = price
		cur.Profit = profit
		cur.Status = final
		cur.ClosedAt = &now
		cur.ClosedPrice = &closedPrice
		cur.ClosedProfit = &closedProfit
		if err := tx.UpdatePosition(ctx, cur); err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		trade := model.Trade{
			ID:         uuid.NewString(),
			UserID:     cur.UserID,
			AccountID:  cur.AccountID,
			PositionID: cur.ID,
			Symbol:     cur.Symbol,
			Side:       cur.Side.Opposite(),
			Volume:     cur.Volume,
			Price:      price,
			Commission: cur.Commission,
			Swap:       cur.Swap,
			Profit:     &closedProfit,
			CreatedAt:  now,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}

		acc, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		acc.Balance = acc.Balance.Add(realized)
		closed = cur
		return s.recompute(ctx, tx, &acc, now)
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.log.Info("position closed", "position_id", closed.ID, "account_id", closed.AccountID, "status", string(final),
		"price", price.String(), "realized", realized.String())
	if final == types.PositionStatusClosed {
		s.notify(ctx, model.Notification{
			UserID:  closed.UserID,
			Type:    types.NotificationTrade,
			Title:   "Position Closed",
			Message: fmt.Sprintf("%s %s closed at %s, P/L %s", closed.Symbol, closed.Volume.String(), price.String(), realized.StringFixed(2)),
		})
	}
	return realized, nil
}

// Reprice marks an open position at currentPrice and recomputes its profit.
func (s *Service) Reprice(ctx context.Context, positionID string, currentPrice decimal.Decimal) (model.Position, error) {
	pos, err := s.store.GetPosition(ctx, positionID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Position{}, ErrPositionNotFound
	}
	if err != nil {
		return model.Position{}, err
	}
	var out model.Position
	err = s.store.InAccountTx(ctx, pos.AccountID, func(tx store.Tx) error {
		cur, err := tx.GetPosition(ctx, positionID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPositionNotFound
		}
		if err != nil {
			return err
		}
		if !cur.IsOpen() {
			return ErrAlreadyClosed
		}
		cur.CurrentPrice = currentPrice
		cur.Profit = margin.Profit(cur.Side, cur.OpenPrice, currentPrice, cur.Volume, cur.Symbol)
		out = cur
		return tx.UpdatePosition(ctx, cur)
	})
	return out, err
}

// RefreshEquity recomputes equity, free margin and margin level from the
// account's open positions.
func (s *Service) RefreshEquity(ctx context.Context, accountID string) (model.TradingAccount, error) {
	var out model.TradingAccount
	err := s.store.InAccountTx(ctx, accountID, func(tx store.Tx) error {
		acc, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		if err := s.recompute(ctx, tx, &acc, s.clock()); err != nil {
			return err
		}
		out = acc
		return nil
	})
	return out, mapAccountErr(err)
}

// RaiseMarginCall records a margin call snapshot unless one is already
// pending. created reports whether a new call was written.
func (s *Service) RaiseMarginCall(ctx context.Context, accountID string) (mc model.MarginCall, created bool, err error) {
	err = s.store.InAccountTx(ctx, accountID, func(tx store.Tx) error {
		pending, ok, err := tx.PendingMarginCall(ctx)
		if err != nil {
			return err
		}
		if ok {
			mc = pending
			return nil
		}
		acc, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		mc = model.MarginCall{
			ID:          uuid.NewString(),
			UserID:      acc.UserID,
			AccountID:   acc.ID,
			MarginLevel: acc.MarginLevel,
			Equity:      acc.Equity,
			Margin:      acc.Margin,
			CreatedAt:   s.clock(),
		}
		created = true
		return tx.InsertMarginCall(ctx, mc)
	})
	if err != nil {
		return model.MarginCall{}, false, mapAccountErr(err)
	}
	return mc, created, nil
}

func (s *Service) ResolveMarginCalls(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.store.InAccountTx(ctx, accountID, func(tx store.Tx) error {
		var err error
		n, err = tx.ResolveMarginCalls(ctx, s.clock())
		return err
	})
	return n, mapAccountErr(err)
}

// ApplyNegativeBalanceProtection resets a negative balance to zero and
// recomputes the account from its remaining positions. It returns the
// balance before the reset and whether a reset happened.
func (s *Service) ApplyNegativeBalanceProtection(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	var before decimal.Decimal
	var applied bool
	err := s.store.InAccountTx(ctx, accountID, func(tx store.Tx) error {
		acc, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		if !acc.Balance.IsNegative() {
			return nil
		}
		before = acc.Balance
		applied = true
		acc.Balance = decimal.Zero
		return s.recompute(ctx, tx, &acc, s.clock())
	})
	if err != nil {
		return decimal.Zero, false, mapAccountErr(err)
	}
	return before, applied, nil
}

// AccrueSwap adds amount to the position's accumulated swap.
func (s *Service) AccrueSwap(ctx context.Context, positionID string, amount decimal.Decimal) error {
	pos, err := s.store.GetPosition(ctx, positionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrPositionNotFound
	}
	if err != nil {
		return err
	}
	return s.store.InAccountTx(ctx, pos.AccountID, func(tx store.Tx) error {
		cur, err := tx.GetPosition(ctx, positionID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPositionNotFound
		}
		if err != nil {
			return err
		}
		if !cur.IsOpen() {
			return ErrAlreadyClosed
		}
		cur.Swap = margin.Round2(cur.Swap.Add(amount))
		return tx.UpdatePosition(ctx, cur)
	})
}

// CreateAccount seeds a trading account for a user. Accounts are one per
// user.
func (s *Service) CreateAccount(ctx context.Context, userID string, leverage int, initialBalance decimal.Decimal) (model.TradingAccount, error) {
	if userID == "" {
		return model.TradingAccount{}, ErrAccountNotFound
	}
	if leverage <= 0 {
		return model.TradingAccount{}, margin.ErrInvalidLeverage
	}
	if initialBalance.IsNegative() {
		return model.TradingAccount{}, ErrInvalidBalance
	}
	now := s.clock()
	balance := margin.Round2(initialBalance)
	acc := model.TradingAccount{
		ID:          uuid.NewString(),
		UserID:      userID,
		Leverage:    leverage,
		Currency:    "USD",
		Balance:     balance,
		Equity:      balance,
		Margin:      decimal.Zero,
		FreeMargin:  balance,
		MarginLevel: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.TradingAccount{}, ErrAccountExists
		}
		return model.TradingAccount{}, fmt.Errorf("failed to create account: %w", err)
	}
	s.log.Info("account created", "account_id", acc.ID, "user_id", userID, "leverage", leverage, "balance", balance.String())
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (model.TradingAccount, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	return acc, mapAccountErr(err)
}

// GetAccountForUser returns the user's trading account.
func (s *Service) GetAccountForUser(ctx context.Context, userID string) (model.TradingAccount, error) {
	acc, err := s.store.GetAccountByUser(ctx, userID)
	return acc, mapAccountErr(err)
}

func (s *Service) GetOpenPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.store.ListPositions(ctx, accountID, store.PositionFilter{Open: true})
}

func (s *Service) GetClosedPositions(ctx context.Context, accountID string, limit int) ([]model.Position, error) {
	return s.store.ListPositions(ctx, accountID, store.PositionFilter{Limit: limit})
}

func (s *Service) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	p, err := s.store.GetPosition(ctx, positionID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Position{}, ErrPositionNotFound
	}
	return p, err
}

// ListAllOpenPositions returns every open position, grouped by account.
func (s *Service) ListAllOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.store.ListOpenPositions(ctx)
}

func (s *Service) ListMarginedAccounts(ctx context.Context) ([]model.TradingAccount, error) {
	return s.store.ListMarginedAccounts(ctx)
}

func (s *Service) notify(ctx context.Context, n model.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock()
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("notify failed", "user_id", n.UserID, "type", string(n.Type), "err", err)
	}
}

func sideLabel(side types.Side) string {
	if side == types.SideSell {
		return "SELL"
	}
	return "BUY"
}
