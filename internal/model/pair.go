package model

import "github.com/shopspring/decimal"

// Pair is forex reference data. SwapLong and SwapShort are overnight rates
// in pips per lot.
type Pair struct {
	Symbol        string          `json:"symbol"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Spread        decimal.Decimal `json:"spread"`
	MinVolume     decimal.Decimal `json:"min_volume"`
	MaxVolume     decimal.Decimal `json:"max_volume"`
	MaxLeverage   int             `json:"max_leverage"`
	Enabled       bool            `json:"enabled"`
	SwapLong      decimal.Decimal `json:"swap_long"`
	SwapShort     decimal.Decimal `json:"swap_short"`
}
