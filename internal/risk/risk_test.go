package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"fxmargin/internal/ledger"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/notify"
	"fxmargin/internal/store"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type env struct {
	ledger   *ledger.Service
	store    *store.Memory
	feed     *marketdata.StaticFeed
	catalog  *marketdata.Catalog
	quotes   *marketdata.QuoteSource
	notified *notify.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	catalog, err := marketdata.DefaultCatalog()
	require.NoError(t, err)
	feed := marketdata.NewStaticFeed(marketdata.DefaultMids())
	quotes := marketdata.NewQuoteSource(catalog, feed)
	st := store.NewMemory()
	rec := &notify.Recorder{}
	clock := &stepClock{t: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)}
	svc := ledger.NewService(st, catalog, quotes, ledger.Options{Notifier: rec, Now: clock.Now})
	return &env{ledger: svc, store: st, feed: feed, catalog: catalog, quotes: quotes, notified: rec}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func (e *env) account(t *testing.T, userID string, leverage int, balance string) model.TradingAccount {
	t.Helper()
	acc, err := e.ledger.CreateAccount(context.Background(), userID, leverage, d(balance))
	require.NoError(t, err)
	return acc
}

func (e *env) open(t *testing.T, req ledger.OpenRequest) string {
	t.Helper()
	id, err := e.ledger.OpenPosition(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (e *env) reload(t *testing.T, accountID string) model.TradingAccount {
	t.Helper()
	acc, err := e.ledger.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return acc
}

func (e *env) position(t *testing.T, id string) model.Position {
	t.Helper()
	p, err := e.ledger.GetPosition(context.Background(), id)
	require.NoError(t, err)
	return p
}

func notificationTypes(ns []model.Notification) []types.NotificationType {
	out := make([]types.NotificationType, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Type)
	}
	return out
}
