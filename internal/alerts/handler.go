package alerts

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"fxmargin/internal/httputil"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrAlertNotFound), errors.Is(err, marketdata.ErrPairNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCondition), errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidExpiry),
		errors.Is(err, marketdata.ErrPairDisabled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: msg})
}

type createAlertRequest struct {
	Symbol      string     `json:"symbol"`
	TargetPrice string     `json:"target_price"`
	Condition   string     `json:"condition"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request, userID string) {
	var req createAlertRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := marketdata.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	target, err := decimal.NewFromString(strings.TrimSpace(req.TargetPrice))
	if err != nil {
		writeError(w, ErrInvalidTarget)
		return
	}
	a, err := h.svc.Create(r.Context(), CreateRequest{
		UserID:      userID,
		Symbol:      symbol,
		TargetPrice: target,
		Condition:   types.AlertCondition(strings.ToLower(strings.TrimSpace(req.Condition))),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.svc.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.PriceAlert{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request, userID, alertID string) {
	if strings.TrimSpace(alertID) == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "alert id is required"})
		return
	}
	if err := h.svc.Delete(r.Context(), userID, alertID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
