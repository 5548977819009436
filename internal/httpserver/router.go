package httpserver

import (
	"context"
	"net/http"

	"fxmargin/internal/alerts"
	"fxmargin/internal/health"
	"fxmargin/internal/httputil"
	"fxmargin/internal/ledger"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/orders"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// EnginePass runs one reprice and supervise pass on demand.
type EnginePass interface {
	RunOnce(ctx context.Context) error
}

type RouterDeps struct {
	LedgerHandler *ledger.Handler
	OrderHandler  *orders.Handler
	AlertHandler  *alerts.Handler
	MarketHandler *marketdata.Handler
	HealthHandler *health.Handler
	Tokens        TokenParser
	InternalToken string
	Origin        string
	WSHandler     http.Handler
	Engine        EnginePass
	RateLimiter   *RateLimiter
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(CORS(d.Origin))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Get("/health/full", d.HealthHandler.Full)
	r.Get("/metrics", d.HealthHandler.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pairs", d.MarketHandler.Pairs)
		r.Get("/quote", d.MarketHandler.Quote)
		r.Route("/calculator", func(r chi.Router) {
			r.Get("/margin", d.MarketHandler.MarginCalc)
			r.Get("/pip-value", d.MarketHandler.PipValueCalc)
			r.Get("/position-size", d.MarketHandler.PositionSizeCalc)
			r.Get("/risk-reward", d.MarketHandler.RiskRewardCalc)
		})
		if d.WSHandler != nil {
			r.Get("/ws", d.WSHandler.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.Tokens))
			r.Get("/account", userHandler(d.LedgerHandler.Account))
			r.Get("/positions", userHandler(d.LedgerHandler.OpenPositions))
			r.Post("/positions", userHandler(d.LedgerHandler.Open))
			r.Get("/positions/history", userHandler(d.LedgerHandler.History))
			r.Post("/positions/{id}/close", userHandler(func(w http.ResponseWriter, r *http.Request, userID string) {
				d.LedgerHandler.Close(w, r, userID, chi.URLParam(r, "id"))
			}))
			r.Get("/orders", userHandler(d.OrderHandler.Orders))
			r.Get("/trades", userHandler(d.OrderHandler.Trades))
			r.Get("/margin-calls", userHandler(d.OrderHandler.MarginCalls))
			if d.AlertHandler != nil {
				r.Get("/price-alerts", userHandler(d.AlertHandler.List))
				r.Post("/price-alerts", userHandler(d.AlertHandler.Create))
				r.Delete("/price-alerts/{id}", userHandler(func(w http.ResponseWriter, r *http.Request, userID string) {
					d.AlertHandler.Delete(w, r, userID, chi.URLParam(r, "id"))
				}))
			}
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuth(d.InternalToken))
		r.Post("/accounts", d.LedgerHandler.CreateAccount)
		r.Post("/prices", d.MarketHandler.SetMid)
		r.Post("/tick", tickHandler(d.Engine))
	})
	return r
}

func tickHandler(engine EnginePass) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{Error: "engine pass is not configured"})
			return
		}
		if err := engine.RunOnce(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
