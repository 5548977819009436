package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fxmargin/internal/httputil"
	"fxmargin/internal/margin"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Handler struct {
	svc             *Service
	defaultLeverage int
	defaultBalance  decimal.Decimal
}

func NewHandler(svc *Service, defaultLeverage int, defaultBalance decimal.Decimal) *Handler {
	return &Handler{svc: svc, defaultLeverage: defaultLeverage, defaultBalance: defaultBalance}
}

// ErrorStatus maps engine errors onto HTTP statuses.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrPositionNotFound), errors.Is(err, ErrAccountNotFound), errors.Is(err, marketdata.ErrPairNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientMargin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidVolume), errors.Is(err, ErrInvalidSide), errors.Is(err, ErrInvalidStops),
		errors.Is(err, ErrInvalidBalance), errors.Is(err, margin.ErrInvalidLeverage), errors.Is(err, marketdata.ErrPairDisabled):
		return http.StatusBadRequest
	case errors.Is(err, marketdata.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := ErrorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: msg})
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request, userID string) {
	acc, err := h.svc.GetAccountForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) OpenPositions(w http.ResponseWriter, r *http.Request, userID string) {
	acc, err := h.svc.GetAccountForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	positions, err := h.svc.GetOpenPositions(r.Context(), acc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(positions))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, userID string) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	acc, err := h.svc.GetAccountForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	positions, err := h.svc.GetClosedPositions(r.Context(), acc.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(positions))
}

type openPositionRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Volume     string `json:"volume"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
}

func parseOptionalPrice(v string) (*decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req openPositionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := marketdata.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	volume, err := decimal.NewFromString(strings.TrimSpace(req.Volume))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid volume"})
		return
	}
	sl, err := parseOptionalPrice(req.StopLoss)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_loss"})
		return
	}
	tp, err := parseOptionalPrice(req.TakeProfit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid take_profit"})
		return
	}
	acc, err := h.svc.GetAccountForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.svc.OpenPosition(r.Context(), OpenRequest{
		UserID:     userID,
		AccountID:  acc.ID,
		Symbol:     symbol,
		Side:       types.Side(strings.ToLower(strings.TrimSpace(req.Side))),
		Volume:     volume,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	pos, err := h.svc.GetPosition(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pos)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	if strings.TrimSpace(positionID) == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "position id is required"})
		return
	}
	realized, err := h.svc.ClosePositionForUser(r.Context(), userID, positionID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"position_id": positionID,
		"profit":      realized.StringFixed(2),
	})
}

type createAccountRequest struct {
	UserID   string `json:"user_id"`
	Leverage int    `json:"leverage"`
	Balance  string `json:"balance"`
}

// CreateAccount is the internal onboarding hook. Leverage and balance fall
// back to the demo defaults.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id is required"})
		return
	}
	leverage := req.Leverage
	if leverage == 0 {
		leverage = h.defaultLeverage
	}
	balance := h.defaultBalance
	if strings.TrimSpace(req.Balance) != "" {
		b, err := decimal.NewFromString(strings.TrimSpace(req.Balance))
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid balance"})
			return
		}
		balance = b
	}
	acc, err := h.svc.CreateAccount(r.Context(), userID, leverage, balance)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acc)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
