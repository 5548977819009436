package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fxmargin/internal/ledger"
	"fxmargin/internal/model"
	"fxmargin/internal/notify"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

// AccountLedger is the part of the ledger the supervisor needs.
type AccountLedger interface {
	ListMarginedAccounts(ctx context.Context) ([]model.TradingAccount, error)
	GetAccount(ctx context.Context, accountID string) (model.TradingAccount, error)
	GetOpenPositions(ctx context.Context, accountID string) ([]model.Position, error)
	ForceClose(ctx context.Context, positionID string) (decimal.Decimal, error)
	RaiseMarginCall(ctx context.Context, accountID string) (model.MarginCall, bool, error)
	ResolveMarginCalls(ctx context.Context, accountID string) (int, error)
	ApplyNegativeBalanceProtection(ctx context.Context, accountID string) (decimal.Decimal, bool, error)
}

type Thresholds struct {
	MarginCall decimal.Decimal
	StopOut    decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{MarginCall: decimal.NewFromInt(120), StopOut: decimal.NewFromInt(50)}
}

// Outcome is what a supervisor check did to an account.
type Outcome string

const (
	OutcomeHealthy    Outcome = "healthy"
	OutcomeMarginCall Outcome = "margin_call"
	OutcomeLiquidated Outcome = "liquidated"
	OutcomeRecovered  Outcome = "recovered"
)

type Supervisor struct {
	ledger     AccountLedger
	notifier   notify.Notifier
	thresholds Thresholds
	now        func() time.Time
	log        *slog.Logger
}

func NewSupervisor(l AccountLedger, n notify.Notifier, th Thresholds, log *slog.Logger) *Supervisor {
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{ledger: l, notifier: n, thresholds: th, now: time.Now, log: log.With("component", "supervisor")}
}

func (s *Supervisor) Tick(ctx context.Context) error {
	accounts, err := s.ledger.ListMarginedAccounts(ctx)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Check(ctx, acc); err != nil {
			s.log.Error("margin check failed", "account_id", acc.ID, "err", err)
		}
	}
	return nil
}

// Check applies the margin thresholds to one account snapshot.
func (s *Supervisor) Check(ctx context.Context, acc model.TradingAccount) (Outcome, error) {
	if !acc.Margin.IsPositive() {
		return OutcomeHealthy, nil
	}
	switch {
	case acc.MarginLevel.LessThan(s.thresholds.StopOut):
		return OutcomeLiquidated, s.liquidate(ctx, acc)
	case acc.MarginLevel.LessThan(s.thresholds.MarginCall):
		return OutcomeMarginCall, s.marginCall(ctx, acc)
	default:
		n, err := s.ledger.ResolveMarginCalls(ctx, acc.ID)
		if err != nil {
			return OutcomeHealthy, err
		}
		if n > 0 {
			s.log.Info("margin call resolved", "account_id", acc.ID, "margin_level", acc.MarginLevel.String())
			return OutcomeRecovered, nil
		}
		return OutcomeHealthy, nil
	}
}

func (s *Supervisor) marginCall(ctx context.Context, acc model.TradingAccount) error {
	_, created, err := s.ledger.RaiseMarginCall(ctx, acc.ID)
	if err != nil {
		return fmt.Errorf("failed to raise margin call: %w", err)
	}
	if !created {
		return nil
	}
	s.log.Warn("margin call", "account_id", acc.ID, "margin_level", acc.MarginLevel.String())
	s.notify(ctx, model.Notification{
		UserID: acc.UserID,
		Type:   types.NotificationMarginCall,
		Title:  "Margin Call Warning",
		Message: fmt.Sprintf("Your margin level is %s%%. Please deposit funds or close positions to avoid liquidation. Stop out level: %s%%",
			acc.MarginLevel.StringFixed(2), s.thresholds.StopOut.String()),
	})
	return nil
}

// liquidate force-closes the worst positions first until the account is back
// at the margin call level or has no margin left.
func (s *Supervisor) liquidate(ctx context.Context, acc model.TradingAccount) error {
	positions, err := s.ledger.GetOpenPositions(ctx, acc.ID)
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].Profit.LessThan(positions[j].Profit)
	})

	closed := 0
	for _, p := range positions {
		if _, err := s.ledger.ForceClose(ctx, p.ID); err != nil {
			if !errors.Is(err, ledger.ErrAlreadyClosed) {
				s.log.Error("force close failed", "account_id", acc.ID, "position_id", p.ID, "err", err)
			}
			continue
		}
		closed++
		cur, err := s.ledger.GetAccount(ctx, acc.ID)
		if err != nil {
			return fmt.Errorf("failed to reload account: %w", err)
		}
		if !cur.Margin.IsPositive() || cur.MarginLevel.GreaterThanOrEqual(s.thresholds.MarginCall) {
			break
		}
	}

	if _, err := s.ledger.ResolveMarginCalls(ctx, acc.ID); err != nil {
		s.log.Error("resolve margin calls failed", "account_id", acc.ID, "err", err)
	}
	s.log.Warn("account liquidated", "account_id", acc.ID, "margin_level", acc.MarginLevel.String(), "closed", closed)
	s.notify(ctx, model.Notification{
		UserID: acc.UserID,
		Type:   types.NotificationLiquidation,
		Title:  "Account Liquidated",
		Message: fmt.Sprintf("Your margin level dropped to %s%%. %d position(s) were automatically closed to protect your account.",
			acc.MarginLevel.StringFixed(2), closed),
	})

	before, applied, err := s.ledger.ApplyNegativeBalanceProtection(ctx, acc.ID)
	if err != nil {
		return fmt.Errorf("failed to apply negative balance protection: %w", err)
	}
	if applied {
		s.log.Warn("negative balance reset", "account_id", acc.ID, "balance", before.String())
		s.notify(ctx, model.Notification{
			UserID:  acc.UserID,
			Type:    types.NotificationSystem,
			Title:   "Negative Balance Protection Applied",
			Message: fmt.Sprintf("Your account balance was reset to $0 due to negative balance protection. Original balance: $%s", before.StringFixed(2)),
		})
	}
	return nil
}

func (s *Supervisor) notify(ctx context.Context, n model.Notification) {
	n.CreatedAt = s.now().UTC()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("notify failed", "user_id", n.UserID, "type", string(n.Type), "err", err)
	}
}
