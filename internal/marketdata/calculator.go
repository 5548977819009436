package marketdata

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"fxmargin/internal/httputil"
	"fxmargin/internal/margin"
	"fxmargin/internal/model"

	"github.com/shopspring/decimal"
)

const defaultCalcLeverage = 100

type MarginQuote struct {
	Symbol         string          `json:"symbol"`
	Volume         decimal.Decimal `json:"volume"`
	Leverage       int             `json:"leverage"`
	Price          decimal.Decimal `json:"price"`
	ContractSize   decimal.Decimal `json:"contract_size"`
	RequiredMargin decimal.Decimal `json:"required_margin"`
	PipValue       decimal.Decimal `json:"pip_value"`
}

type PipQuote struct {
	Symbol     string          `json:"symbol"`
	Volume     decimal.Decimal `json:"volume"`
	PipSize    decimal.Decimal `json:"pip_size"`
	PerPip     decimal.Decimal `json:"per_pip"`
	Per10Pips  decimal.Decimal `json:"per_10_pips"`
	Per50Pips  decimal.Decimal `json:"per_50_pips"`
	Per100Pips decimal.Decimal `json:"per_100_pips"`
}

func writeCalcError(w http.ResponseWriter, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, margin.ErrInvalidLeverage), errors.Is(err, margin.ErrInvalidInput), errors.Is(err, margin.ErrInvalidDistance):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		status, msg = QuoteErrorStatus(err)
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: msg})
}

func (h *Handler) calcPair(r *http.Request) (model.Pair, error) {
	symbol := NormalizeSymbol(r.URL.Query().Get("symbol"))
	if symbol == "" {
		return model.Pair{}, fmt.Errorf("%w: symbol is required", margin.ErrInvalidInput)
	}
	return h.pairs.GetPair(r.Context(), symbol)
}

func positiveDecimal(q url.Values, key string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(q.Get(key))
	if err != nil || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be a positive number", margin.ErrInvalidInput, key)
	}
	return v, nil
}

// optionalDecimal returns zero when key is absent.
func optionalDecimal(q url.Values, key string) (decimal.Decimal, error) {
	if q.Get(key) == "" {
		return decimal.Zero, nil
	}
	return positiveDecimal(q, key)
}

// MarginCalc prices the margin of a hypothetical position. The price defaults
// to the current ask and the leverage is capped at the pair's maximum.
func (h *Handler) MarginCalc(w http.ResponseWriter, r *http.Request) {
	pair, err := h.calcPair(r)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	q := r.URL.Query()
	volume, err := positiveDecimal(q, "volume")
	if err != nil {
		writeCalcError(w, err)
		return
	}
	leverage := defaultCalcLeverage
	if raw := q.Get("leverage"); raw != "" {
		leverage, err = strconv.Atoi(raw)
		if err != nil || leverage <= 0 {
			writeCalcError(w, margin.ErrInvalidLeverage)
			return
		}
	}
	price, err := optionalDecimal(q, "price")
	if err != nil {
		writeCalcError(w, err)
		return
	}
	if price.IsZero() {
		quote, err := h.quotes.Quote(r.Context(), pair.Symbol)
		if err != nil {
			writeCalcError(w, err)
			return
		}
		price = quote.Ask
	}

	leverage = margin.EffectiveLeverage(leverage, pair.MaxLeverage)
	required, err := margin.RequiredMargin(volume, price, leverage)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MarginQuote{
		Symbol:         pair.Symbol,
		Volume:         volume,
		Leverage:       leverage,
		Price:          price,
		ContractSize:   volume.Mul(margin.ContractSize),
		RequiredMargin: required,
		PipValue:       margin.PipValue(volume, pair.Symbol),
	})
}

func (h *Handler) PipValueCalc(w http.ResponseWriter, r *http.Request) {
	pair, err := h.calcPair(r)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	volume, err := positiveDecimal(r.URL.Query(), "volume")
	if err != nil {
		writeCalcError(w, err)
		return
	}
	per := margin.PipValue(volume, pair.Symbol)
	httputil.WriteJSON(w, http.StatusOK, PipQuote{
		Symbol:     pair.Symbol,
		Volume:     volume,
		PipSize:    margin.PipSize(pair.Symbol),
		PerPip:     per,
		Per10Pips:  per.Mul(decimal.NewFromInt(10)),
		Per50Pips:  per.Mul(decimal.NewFromInt(50)),
		Per100Pips: per.Mul(decimal.NewFromInt(100)),
	})
}

// PositionSizeCalc sizes a position so that the stop risks risk_percent of
// balance.
func (h *Handler) PositionSizeCalc(w http.ResponseWriter, r *http.Request) {
	pair, err := h.calcPair(r)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	q := r.URL.Query()
	var vals [4]decimal.Decimal
	for i, key := range []string{"balance", "risk_percent", "entry", "stop_loss"} {
		if vals[i], err = positiveDecimal(q, key); err != nil {
			writeCalcError(w, err)
			return
		}
	}
	size, err := margin.SizePosition(vals[0], vals[1], vals[2], vals[3], pair.Symbol)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, size)
}

func (h *Handler) RiskRewardCalc(w http.ResponseWriter, r *http.Request) {
	pair, err := h.calcPair(r)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	q := r.URL.Query()
	var vals [3]decimal.Decimal
	for i, key := range []string{"entry", "stop_loss", "take_profit"} {
		if vals[i], err = positiveDecimal(q, key); err != nil {
			writeCalcError(w, err)
			return
		}
	}
	rr, err := margin.RiskRewardRatio(vals[0], vals[1], vals[2], pair.Symbol)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rr)
}
