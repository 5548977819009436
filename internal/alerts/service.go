// Package alerts keeps per-user price alerts and fires them from the
// repricing pass.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/notify"
	"fxmargin/internal/store"
	"fxmargin/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAlertNotFound    = errors.New("price alert not found")
	ErrInvalidCondition = errors.New("condition must be above or below")
	ErrInvalidTarget    = errors.New("invalid target price")
	ErrInvalidExpiry    = errors.New("expires_at must be in the future")
)

type Store interface {
	CreatePriceAlert(ctx context.Context, a model.PriceAlert) error
	GetPriceAlert(ctx context.Context, alertID string) (model.PriceAlert, error)
	ListPriceAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error)
	ListPendingPriceAlerts(ctx context.Context, now time.Time) ([]model.PriceAlert, error)
	MarkPriceAlertTriggered(ctx context.Context, alertID string, at time.Time, price decimal.Decimal) (bool, error)
	DeletePriceAlert(ctx context.Context, alertID string) error
}

type Service struct {
	store    Store
	pairs    marketdata.PairStore
	notifier notify.Notifier
	now      func() time.Time
	log      *slog.Logger
}

type Options struct {
	Notifier notify.Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewService(st Store, pairs marketdata.PairStore, opts Options) *Service {
	s := &Service{
		store:    st,
		pairs:    pairs,
		notifier: opts.Notifier,
		now:      opts.Now,
		log:      opts.Logger,
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
	s.log = s.log.With("component", "alerts")
	return s
}

type CreateRequest struct {
	UserID      string
	Symbol      string
	TargetPrice decimal.Decimal
	Condition   types.AlertCondition
	ExpiresAt   *time.Time
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (model.PriceAlert, error) {
	if !req.Condition.Valid() {
		return model.PriceAlert{}, ErrInvalidCondition
	}
	if !req.TargetPrice.IsPositive() {
		return model.PriceAlert{}, ErrInvalidTarget
	}
	pair, err := s.pairs.GetPair(ctx, req.Symbol)
	if err != nil {
		return model.PriceAlert{}, err
	}
	if !pair.Enabled {
		return model.PriceAlert{}, marketdata.ErrPairDisabled
	}
	now := s.now().UTC()
	var expires *time.Time
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return model.PriceAlert{}, ErrInvalidExpiry
		}
		at := req.ExpiresAt.UTC()
		expires = &at
	}
	a := model.PriceAlert{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Symbol:      pair.Symbol,
		TargetPrice: req.TargetPrice,
		Condition:   req.Condition,
		ExpiresAt:   expires,
		CreatedAt:   now,
	}
	if err := s.store.CreatePriceAlert(ctx, a); err != nil {
		return model.PriceAlert{}, fmt.Errorf("failed to create price alert: %w", err)
	}
	s.log.Info("price alert created", "alert_id", a.ID, "user_id", a.UserID, "symbol", a.Symbol,
		"condition", string(a.Condition), "target", a.TargetPrice.String())
	return a, nil
}

// List returns the user's alerts that have not fired yet, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return s.store.ListPriceAlerts(ctx, userID)
}

// Delete removes one of the user's alerts. Alerts of other users are
// reported as not found.
func (s *Service) Delete(ctx context.Context, userID, alertID string) error {
	a, err := s.store.GetPriceAlert(ctx, alertID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAlertNotFound
	}
	if err != nil {
		return err
	}
	if a.UserID != userID {
		return ErrAlertNotFound
	}
	if err := s.store.DeletePriceAlert(ctx, alertID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAlertNotFound
		}
		return err
	}
	return nil
}

// Crossed compares the bid against the target. Both directions are
// inclusive.
func Crossed(a model.PriceAlert, bid decimal.Decimal) bool {
	switch a.Condition {
	case types.AlertAbove:
		return bid.GreaterThanOrEqual(a.TargetPrice)
	case types.AlertBelow:
		return bid.LessThanOrEqual(a.TargetPrice)
	}
	return false
}

// Evaluate fires every live alert whose pair has crossed its target. Each
// alert fires at most once. It returns the number fired.
func (s *Service) Evaluate(ctx context.Context, quotes marketdata.Quoter) (int, error) {
	now := s.now().UTC()
	pending, err := s.store.ListPendingPriceAlerts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list price alerts: %w", err)
	}
	fired := 0
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		q, err := quotes.Quote(ctx, a.Symbol)
		if err != nil {
			s.log.Warn("quote failed", "symbol", a.Symbol, "alert_id", a.ID, "err", err)
			continue
		}
		if !Crossed(a, q.Bid) {
			continue
		}
		ok, err := s.store.MarkPriceAlertTriggered(ctx, a.ID, now, q.Bid)
		if err != nil {
			s.log.Error("mark price alert failed", "alert_id", a.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		fired++
		s.log.Info("price alert fired", "alert_id", a.ID, "user_id", a.UserID, "symbol", a.Symbol, "bid", q.Bid.String())
		n := model.Notification{
			UserID:    a.UserID,
			Type:      types.NotificationPriceAlert,
			Title:     "Price Alert",
			Message:   fmt.Sprintf("%s is %s %s (bid %s)", a.Symbol, a.Condition, a.TargetPrice.String(), q.Bid.String()),
			CreatedAt: now,
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("notify failed", "user_id", a.UserID, "type", string(n.Type), "err", err)
		}
	}
	return fired, nil
}
