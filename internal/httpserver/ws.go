package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

type AccountSource interface {
	GetAccountForUser(ctx context.Context, userID string) (model.TradingAccount, error)
}

// WSHandler streams bus events to one user: broadcast events plus the
// events addressed to that user.
type WSHandler struct {
	bus      *marketdata.Bus
	tokens   TokenParser
	accounts AccountSource
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWSHandler(bus *marketdata.Bus, tokens TokenParser, accounts AccountSource, origin string, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		bus:      bus,
		tokens:   tokens,
		accounts: accounts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
		log: log.With("component", "ws"),
	}
}

func visibleTo(evt marketdata.Event, userID string) bool {
	return evt.UserID == "" || evt.UserID == userID
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// browsers cannot set headers on a websocket handshake
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearerToken(r)
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.tokens.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	write := func(evt marketdata.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt)
	}

	if h.accounts != nil {
		if acc, err := h.accounts.GetAccountForUser(r.Context(), userID); err == nil {
			if err := write(marketdata.Event{Type: "account", Data: acc}); err != nil {
				return
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if !visibleTo(evt, userID) {
				continue
			}
			if err := write(evt); err != nil {
				h.log.Debug("ws write failed", "user_id", userID, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
