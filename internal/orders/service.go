// Package orders serves the per-account audit trail: executed orders,
// fills and margin call history.
package orders

import (
	"context"

	"fxmargin/internal/model"
)

type AccountLookup interface {
	GetAccountForUser(ctx context.Context, userID string) (model.TradingAccount, error)
}

type AuditReader interface {
	ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error)
	ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error)
	ListMarginCalls(ctx context.Context, accountID string) ([]model.MarginCall, error)
}

type Service struct {
	accounts AccountLookup
	audit    AuditReader
}

func NewService(accounts AccountLookup, audit AuditReader) *Service {
	return &Service{accounts: accounts, audit: audit}
}

// Orders returns the user's orders, newest first.
func (s *Service) Orders(ctx context.Context, userID string, limit int) ([]model.Order, error) {
	acc, err := s.accounts.GetAccountForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.audit.ListOrders(ctx, acc.ID, limit)
}

// Trades returns the user's fills, newest first. Closing fills carry the
// realized profit.
func (s *Service) Trades(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	acc, err := s.accounts.GetAccountForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.audit.ListTrades(ctx, acc.ID, limit)
}

func (s *Service) MarginCalls(ctx context.Context, userID string) ([]model.MarginCall, error) {
	acc, err := s.accounts.GetAccountForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.audit.ListMarginCalls(ctx, acc.ID)
}
