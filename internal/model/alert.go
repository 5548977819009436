package model

import (
	"time"

	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

// PriceAlert fires once when the pair's bid crosses TargetPrice in the
// direction of Condition.
type PriceAlert struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	Symbol       string               `json:"symbol"`
	TargetPrice  decimal.Decimal      `json:"target_price"`
	Condition    types.AlertCondition `json:"condition"`
	Triggered    bool                 `json:"triggered"`
	TriggeredAt  *time.Time           `json:"triggered_at,omitempty"`
	TriggerPrice *decimal.Decimal     `json:"trigger_price,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Expired reports whether the alert can no longer fire at now.
func (a PriceAlert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}
