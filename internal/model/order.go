package model

import (
	"time"

	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AccountID      string            `json:"account_id"`
	Symbol         string            `json:"symbol"`
	Side           types.Side        `json:"side"`
	Type           types.OrderType   `json:"type"`
	Volume         decimal.Decimal   `json:"volume"`
	RequestedPrice decimal.Decimal   `json:"requested_price"`
	ExecutedPrice  decimal.Decimal   `json:"executed_price"`
	StopLoss       *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal  `json:"take_profit,omitempty"`
	Status         types.OrderStatus `json:"status"`
	PositionID     string            `json:"position_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
}

// Trade is a fill record. Closing trades carry no order id, the inverted
// side and the realized profit.
type Trade struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	AccountID  string           `json:"account_id"`
	OrderID    string           `json:"order_id,omitempty"`
	PositionID string           `json:"position_id"`
	Symbol     string           `json:"symbol"`
	Side       types.Side       `json:"side"`
	Volume     decimal.Decimal  `json:"volume"`
	Price      decimal.Decimal  `json:"price"`
	Commission decimal.Decimal  `json:"commission"`
	Swap       decimal.Decimal  `json:"swap"`
	Profit     *decimal.Decimal `json:"profit,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
