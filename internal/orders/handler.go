package orders

import (
	"net/http"
	"strconv"

	"fxmargin/internal/httputil"
	"fxmargin/internal/ledger"
	"fxmargin/internal/model"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxLimit), true
}

func writeError(w http.ResponseWriter, err error) {
	status := ledger.ErrorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: msg})
}

func (h *Handler) Orders(w http.ResponseWriter, r *http.Request, userID string) {
	limit, ok := parseLimit(r)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
		return
	}
	items, err := h.svc.Orders(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.Order{}
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) Trades(w http.ResponseWriter, r *http.Request, userID string) {
	limit, ok := parseLimit(r)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
		return
	}
	items, err := h.svc.Trades(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.Trade{}
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) MarginCalls(w http.ResponseWriter, r *http.Request, userID string) {
	items, err := h.svc.MarginCalls(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.MarginCall{}
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}
