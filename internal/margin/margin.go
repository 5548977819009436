// Package margin holds the pure arithmetic of the engine: required margin,
// floating profit, swap and commission charges, and the account ratios
// derived from them. Monetary results are rounded half away from zero to two
// places at the final step only.
package margin

import (
	"errors"
	"strings"

	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidLeverage = errors.New("invalid leverage")
	ErrInvalidInput    = errors.New("invalid calculator input")
	ErrInvalidDistance = errors.New("stop distance must be positive")
)

var (
	// ContractSize is the number of base-currency units in one standard lot.
	ContractSize = decimal.NewFromInt(100000)
	// jpyScale replaces ContractSize in profit math for JPY-quoted pairs.
	jpyScale = decimal.NewFromInt(1000)

	pipSize    = decimal.New(1, -4)
	jpyPipSize = decimal.New(1, -2)
	hundred    = decimal.NewFromInt(100)
)

const moneyPlaces = 2

func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(moneyPlaces)
}

// IsJPYQuoted reports whether the symbol's quote currency is JPY. Symbols may
// be written "USD/JPY", "USDJPY" or "USD-JPY".
func IsJPYQuoted(symbol string) bool {
	return strings.HasSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "JPY")
}

// PipSize is 0.01 for JPY-quoted pairs and 0.0001 otherwise.
func PipSize(symbol string) decimal.Decimal {
	if IsJPYQuoted(symbol) {
		return jpyPipSize
	}
	return pipSize
}

func profitScale(symbol string) decimal.Decimal {
	if IsJPYQuoted(symbol) {
		return jpyScale
	}
	return ContractSize
}

// EffectiveLeverage caps the account leverage at the pair's maximum.
func EffectiveLeverage(accountLeverage, pairMax int) int {
	if pairMax > 0 && accountLeverage > pairMax {
		return pairMax
	}
	return accountLeverage
}

// RequiredMargin is volume * 100000 * price / leverage.
func RequiredMargin(volume, price decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if leverage <= 0 {
		return decimal.Zero, ErrInvalidLeverage
	}
	notional := volume.Mul(ContractSize).Mul(price)
	return Round2(notional.Div(decimal.NewFromInt(int64(leverage)))), nil
}

// Profit is the floating P&L of a position marked at current.
func Profit(side types.Side, openPrice, currentPrice, volume decimal.Decimal, symbol string) decimal.Decimal {
	diff := currentPrice.Sub(openPrice).Mul(decimal.NewFromInt(side.Direction()))
	return Round2(diff.Mul(volume).Mul(profitScale(symbol)))
}

// SwapCharge is the overnight financing for one rollover. Rates are in pips
// per lot; a negative result is a fee, a positive one a credit.
func SwapCharge(side types.Side, volume, longPips, shortPips decimal.Decimal, symbol string) decimal.Decimal {
	rate := longPips
	if side == types.SideSell {
		rate = shortPips
	}
	return Round2(rate.Mul(PipSize(symbol)).Mul(volume).Mul(profitScale(symbol)))
}

func Commission(volume, perLot decimal.Decimal) decimal.Decimal {
	if !perLot.IsPositive() {
		return decimal.Zero
	}
	return Round2(volume.Mul(perLot))
}

// Level is equity/margin*100, or zero when no margin is used. It never goes
// below zero, even when equity does.
func Level(equity, used decimal.Decimal) decimal.Decimal {
	if !used.IsPositive() || !equity.IsPositive() {
		return decimal.Zero
	}
	return Round2(equity.Div(used).Mul(hundred))
}

// FreeMargin is balance minus used margin. Floating P&L is not included.
func FreeMargin(balance, used decimal.Decimal) decimal.Decimal {
	return balance.Sub(used)
}

// PipValue is the account-currency value of a one pip move for volume lots:
// 10 per standard lot on every pair.
func PipValue(volume decimal.Decimal, symbol string) decimal.Decimal {
	return Round2(PipSize(symbol).Mul(volume).Mul(profitScale(symbol)))
}

// Pips is the absolute distance between two prices in pips.
func Pips(a, b decimal.Decimal, symbol string) decimal.Decimal {
	return a.Sub(b).Abs().Div(PipSize(symbol)).Round(1)
}

type PositionSize struct {
	RiskAmount decimal.Decimal `json:"risk_amount"`
	StopPips   decimal.Decimal `json:"stop_pips"`
	Lots       decimal.Decimal `json:"lots"`
	Units      decimal.Decimal `json:"units"`
}

// SizePosition returns the volume at which hitting stop loses riskPercent of
// balance. Lots are rounded down to 0.01.
func SizePosition(balance, riskPercent, entry, stop decimal.Decimal, symbol string) (PositionSize, error) {
	if !balance.IsPositive() || !riskPercent.IsPositive() || !entry.IsPositive() || !stop.IsPositive() {
		return PositionSize{}, ErrInvalidInput
	}
	pips := Pips(entry, stop, symbol)
	if !pips.IsPositive() {
		return PositionSize{}, ErrInvalidDistance
	}
	risk := Round2(balance.Mul(riskPercent).Div(hundred))
	lots := risk.Div(pips.Mul(PipValue(decimal.NewFromInt(1), symbol))).RoundFloor(moneyPlaces)
	return PositionSize{
		RiskAmount: risk,
		StopPips:   pips,
		Lots:       lots,
		Units:      lots.Mul(ContractSize),
	}, nil
}

type RiskReward struct {
	RiskPips   decimal.Decimal `json:"risk_pips"`
	RewardPips decimal.Decimal `json:"reward_pips"`
	Ratio      decimal.Decimal `json:"ratio"`
}

// RiskRewardRatio compares the distance to take profit with the distance to
// stop loss.
func RiskRewardRatio(entry, stop, target decimal.Decimal, symbol string) (RiskReward, error) {
	risk := Pips(entry, stop, symbol)
	if !risk.IsPositive() {
		return RiskReward{}, ErrInvalidDistance
	}
	reward := Pips(target, entry, symbol)
	return RiskReward{
		RiskPips:   risk,
		RewardPips: reward,
		Ratio:      Round2(reward.Div(risk)),
	}, nil
}
