package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fxmargin/internal/margin"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStatus(t *testing.T) {
	cases := map[error]int{
		ErrPositionNotFound:            http.StatusNotFound,
		ErrAccountNotFound:             http.StatusNotFound,
		ErrAlreadyClosed:               http.StatusConflict,
		ErrInsufficientMargin:          http.StatusUnprocessableEntity,
		ErrInvalidVolume:               http.StatusBadRequest,
		ErrInvalidStops:                http.StatusBadRequest,
		margin.ErrInvalidLeverage:      http.StatusBadRequest,
		marketdata.ErrQuoteUnavailable: http.StatusServiceUnavailable,
		errors.New("db down"):          http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, ErrorStatus(err), err.Error())
	}
}

func TestHandlerFlow(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewHandler(f.svc, 100, decimal.NewFromInt(10000))

	rec := httptest.NewRecorder()
	h.CreateAccount(rec, httptest.NewRequest(http.MethodPost, "/internal/accounts", strings.NewReader(`{"user_id":"u1"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.CreateAccount(rec, httptest.NewRequest(http.MethodPost, "/internal/accounts", strings.NewReader(`{"user_id":"u1"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Account(rec, httptest.NewRequest(http.MethodGet, "/v1/account", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var acc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, "10000", acc["balance"])
	assert.EqualValues(t, 100, acc["leverage"])

	rec = httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/v1/positions",
		strings.NewReader(`{"symbol":"EURUSD","side":"BUY","volume":"1","stop_loss":"1.0800"}`)), "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pos struct {
		ID       string     `json:"id"`
		Side     types.Side `json:"side"`
		StopLoss string     `json:"stop_loss"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.Equal(t, types.SideBuy, pos.Side)
	assert.Equal(t, "1.08", pos.StopLoss)

	rec = httptest.NewRecorder()
	h.OpenPositions(rec, httptest.NewRequest(http.MethodGet, "/v1/positions", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var open []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	assert.Len(t, open, 1)

	rec = httptest.NewRecorder()
	h.Close(rec, httptest.NewRequest(http.MethodPost, "/v1/positions/x/close", nil), "u2", pos.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Close(rec, httptest.NewRequest(http.MethodPost, "/v1/positions/x/close", nil), "u1", pos.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"position_id":"`+pos.ID+`","profit":"-20.00"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Close(rec, httptest.NewRequest(http.MethodPost, "/v1/positions/x/close", nil), "u1", pos.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/positions/history?limit=10", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "closed", history[0]["status"])
}

func TestHandlerOpenRejects(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewHandler(f.svc, 100, decimal.NewFromInt(10000))
	f.account(t, "u1", 100, "10000")

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no symbol", `{"side":"buy","volume":"1"}`, http.StatusBadRequest},
		{"bad volume", `{"symbol":"EUR/USD","side":"buy","volume":"lots"}`, http.StatusBadRequest},
		{"bad side", `{"symbol":"EUR/USD","side":"long","volume":"1"}`, http.StatusBadRequest},
		{"too large", `{"symbol":"EUR/USD","side":"buy","volume":"50"}`, http.StatusUnprocessableEntity},
		{"no price", `{"symbol":"EUR/GBP","side":"buy","volume":"1"}`, http.StatusServiceUnavailable},
		{"unknown pair", `{"symbol":"ABC/DEF","side":"buy","volume":"1"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Open(rec, httptest.NewRequest(http.MethodPost, "/v1/positions", strings.NewReader(tc.body)), "u1")
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/v1/positions", strings.NewReader(`{"symbol":"EUR/USD","side":"buy","volume":"1"}`)), "stranger")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/positions/history?limit=-1", nil), "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
