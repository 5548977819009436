// Package store persists accounts, positions and their audit trail. All
// writes go through InAccountTx, which serializes work on one account and
// applies it atomically.
package store

import (
	"context"
	"errors"
	"time"

	"fxmargin/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store interface {
	// InAccountTx runs fn with the account locked. fn's writes are applied
	// only if it returns nil.
	InAccountTx(ctx context.Context, accountID string, fn func(tx Tx) error) error

	CreateAccount(ctx context.Context, acc model.TradingAccount) error
	GetAccount(ctx context.Context, accountID string) (model.TradingAccount, error)
	GetAccountByUser(ctx context.Context, userID string) (model.TradingAccount, error)
	ListAccounts(ctx context.Context) ([]model.TradingAccount, error)
	// ListMarginedAccounts returns accounts with margin > 0.
	ListMarginedAccounts(ctx context.Context) ([]model.TradingAccount, error)

	GetPosition(ctx context.Context, positionID string) (model.Position, error)
	// ListOpenPositions returns open positions of all accounts grouped by
	// account, oldest first within an account.
	ListOpenPositions(ctx context.Context) ([]model.Position, error)
	ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error)

	ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error)
	ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error)
	ListMarginCalls(ctx context.Context, accountID string) ([]model.MarginCall, error)

	CreatePriceAlert(ctx context.Context, a model.PriceAlert) error
	GetPriceAlert(ctx context.Context, alertID string) (model.PriceAlert, error)
	// ListPriceAlerts returns the user's untriggered alerts, newest first.
	ListPriceAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error)
	// ListPendingPriceAlerts returns untriggered alerts still live at now,
	// oldest first.
	ListPendingPriceAlerts(ctx context.Context, now time.Time) ([]model.PriceAlert, error)
	// MarkPriceAlertTriggered fires an untriggered alert. It reports false if
	// the alert already fired or no longer exists.
	MarkPriceAlertTriggered(ctx context.Context, alertID string, at time.Time, price decimal.Decimal) (bool, error)
	DeletePriceAlert(ctx context.Context, alertID string) error

	Ping(ctx context.Context) error
}

// PositionFilter selects open positions (Open) or terminal ones, newest
// close first. Limit <= 0 means no limit.
type PositionFilter struct {
	Open  bool
	Limit int
}

// Tx is a unit of work scoped to one account. Positions of other accounts
// are invisible to it.
type Tx interface {
	GetAccount(ctx context.Context) (model.TradingAccount, error)
	UpdateAccount(ctx context.Context, acc model.TradingAccount) error

	GetPosition(ctx context.Context, positionID string) (model.Position, error)
	ListOpenPositions(ctx context.Context) ([]model.Position, error)
	InsertPosition(ctx context.Context, p model.Position) error
	UpdatePosition(ctx context.Context, p model.Position) error

	InsertOrder(ctx context.Context, o model.Order) error
	InsertTrade(ctx context.Context, t model.Trade) error

	PendingMarginCall(ctx context.Context) (model.MarginCall, bool, error)
	InsertMarginCall(ctx context.Context, mc model.MarginCall) error
	ResolveMarginCalls(ctx context.Context, at time.Time) (int, error)
}
