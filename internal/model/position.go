package model

import (
	"time"

	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	AccountID    string               `json:"account_id"`
	Symbol       string               `json:"symbol"`
	Side         types.Side           `json:"side"`
	Volume       decimal.Decimal      `json:"volume"`
	OpenPrice    decimal.Decimal      `json:"open_price"`
	CurrentPrice decimal.Decimal      `json:"current_price"`
	StopLoss     *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal     `json:"take_profit,omitempty"`
	Margin       decimal.Decimal      `json:"margin"`
	Leverage     int                  `json:"leverage"`
	Swap         decimal.Decimal      `json:"swap"`
	Commission   decimal.Decimal      `json:"commission"`
	Profit       decimal.Decimal      `json:"profit"`
	Status       types.PositionStatus `json:"status"`
	OpenedAt     time.Time            `json:"opened_at"`
	ClosedAt     *time.Time           `json:"closed_at,omitempty"`
	ClosedPrice  *decimal.Decimal     `json:"closed_price,omitempty"`
	ClosedProfit *decimal.Decimal     `json:"closed_profit,omitempty"`
}

func (p Position) IsOpen() bool {
	return p.Status == types.PositionStatusOpen
}
