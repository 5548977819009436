package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradingAccount struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Leverage    int             `json:"leverage"`
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	Margin      decimal.Decimal `json:"margin"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	MarginLevel decimal.Decimal `json:"margin_level"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type MarginCall struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	MarginLevel decimal.Decimal `json:"margin_level"`
	Equity      decimal.Decimal `json:"equity"`
	Margin      decimal.Decimal `json:"margin"`
	Resolved    bool            `json:"resolved"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
