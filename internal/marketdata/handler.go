package marketdata

import (
	"errors"
	"net/http"

	"fxmargin/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	pairs  PairStore
	quotes Quoter
	feed   *StaticFeed
}

// NewHandler wires the reference data and quote routes. feed may be nil, in
// which case SetMid answers 501.
func NewHandler(pairs PairStore, quotes Quoter, feed *StaticFeed) *Handler {
	return &Handler{pairs: pairs, quotes: quotes, feed: feed}
}

func (h *Handler) Pairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.pairs.ListEnabledPairs(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "failed to list pairs"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pairs)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := NormalizeSymbol(r.URL.Query().Get("symbol"))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	q, err := h.quotes.Quote(r.Context(), symbol)
	if err != nil {
		status, msg := QuoteErrorStatus(err)
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: msg})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, q)
}

type setMidRequest struct {
	Symbol string `json:"symbol"`
	Mid    string `json:"mid"`
}

// SetMid overrides a mid in the static feed.
func (h *Handler) SetMid(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{Error: "static feed not enabled"})
		return
	}
	var req setMidRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	pair, err := h.pairs.GetPair(r.Context(), req.Symbol)
	if err != nil {
		status, msg := QuoteErrorStatus(err)
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: msg})
		return
	}
	mid, err := decimal.NewFromString(req.Mid)
	if err != nil || !mid.IsPositive() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid mid"})
		return
	}
	h.feed.Set(pair.Symbol, mid)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"symbol": pair.Symbol, "mid": mid.String()})
}

// QuoteErrorStatus maps quote source errors onto HTTP statuses.
func QuoteErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrPairNotFound):
		return http.StatusNotFound, ErrPairNotFound.Error()
	case errors.Is(err, ErrPairDisabled):
		return http.StatusBadRequest, ErrPairDisabled.Error()
	case errors.Is(err, ErrQuoteUnavailable):
		return http.StatusServiceUnavailable, ErrQuoteUnavailable.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
