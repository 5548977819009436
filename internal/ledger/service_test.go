package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"fxmargin/internal/margin"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/notify"
	"fxmargin/internal/store"
	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	feed     *marketdata.StaticFeed
	catalog  *marketdata.Catalog
	notified *notify.Recorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	catalog, err := marketdata.DefaultCatalog()
	require.NoError(t, err)
	feed := marketdata.NewStaticFeed(marketdata.DefaultMids())
	st := store.NewMemory()
	rec := &notify.Recorder{}
	if opts.Notifier == nil {
		opts.Notifier = rec
	}
	if opts.Now == nil {
		opts.Now = (&fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}).Now
	}
	svc := NewService(st, catalog, marketdata.NewQuoteSource(catalog, feed), opts)
	return &fixture{svc: svc, store: st, feed: feed, catalog: catalog, notified: rec}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) account(t *testing.T, userID string, leverage int, balance string) model.TradingAccount {
	t.Helper()
	acc, err := f.svc.CreateAccount(context.Background(), userID, leverage, d(balance))
	require.NoError(t, err)
	return acc
}

func (f *fixture) open(t *testing.T, acc model.TradingAccount, symbol string, side types.Side, volume string) string {
	t.Helper()
	id, err := f.svc.OpenPosition(context.Background(), OpenRequest{
		UserID: acc.UserID, AccountID: acc.ID, Symbol: symbol, Side: side, Volume: d(volume),
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) reload(t *testing.T, accountID string) model.TradingAccount {
	t.Helper()
	acc, err := f.svc.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return acc
}

func assertEquityInvariant(t *testing.T, f *fixture, accountID string) {
	t.Helper()
	acc := f.reload(t, accountID)
	open, err := f.svc.GetOpenPositions(context.Background(), accountID)
	require.NoError(t, err)
	sum := decimal.Zero
	used := decimal.Zero
	for _, p := range open {
		sum = sum.Add(p.Profit)
		used = used.Add(p.Margin)
	}
	assert.True(t, acc.Equity.Equal(acc.Balance.Add(sum)), "equity %s balance %s floating %s", acc.Equity, acc.Balance, sum)
	assert.True(t, acc.Margin.Equal(used), "margin %s used %s", acc.Margin, used)
	assert.True(t, acc.FreeMargin.Equal(acc.Balance.Sub(acc.Margin)))
	assert.False(t, acc.MarginLevel.IsNegative())
}

func TestEURUSDRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")

	id := f.open(t, acc, "EUR/USD", types.SideBuy, "1")
	pos, err := f.svc.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1.0851", pos.OpenPrice.String())
	assert.Equal(t, "1085.10", pos.Margin.StringFixed(2))
	assert.Equal(t, 100, pos.Leverage)
	assert.True(t, pos.Profit.IsZero())

	after := f.reload(t, acc.ID)
	assert.Equal(t, "1085.10", after.Margin.StringFixed(2))
	assert.Equal(t, "8914.90", after.FreeMargin.StringFixed(2))
	assertEquityInvariant(t, f, acc.ID)

	f.feed.Set("EUR/USD", d("1.0902"))
	realized, err := f.svc.ClosePosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "500.00", realized.StringFixed(2))

	final := f.reload(t, acc.ID)
	assert.Equal(t, "10500.00", final.Balance.StringFixed(2))
	assert.Equal(t, "10500.00", final.Equity.StringFixed(2))
	assert.True(t, final.Margin.IsZero())
	assert.True(t, final.MarginLevel.IsZero())

	closed, err := f.svc.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedPrice)
	assert.Equal(t, "1.0901", closed.ClosedPrice.String())
	require.NotNil(t, closed.ClosedProfit)
	assert.Equal(t, "500.00", closed.ClosedProfit.StringFixed(2))

	trades, err := f.store.ListTrades(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, types.SideSell, trades[0].Side)
	assert.Empty(t, trades[0].OrderID)
	orders, err := f.store.ListOrders(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderStatusExecuted, orders[0].Status)
	assert.Equal(t, id, orders[0].PositionID)

	got := f.notified.All()
	require.Len(t, got, 2)
	assert.Equal(t, types.NotificationTrade, got[0].Type)
}

func TestUSDJPYLoss(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 500, "50000")

	id := f.open(t, acc, "USD/JPY", types.SideBuy, "1")
	pos, err := f.svc.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "149.51", pos.OpenPrice.String())

	f.feed.Set("USD/JPY", d("149.02"))
	realized, err := f.svc.ClosePosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "-500.00", realized.StringFixed(2))
	assert.Equal(t, "49500.00", f.reload(t, acc.ID).Balance.StringFixed(2))
}

func TestSellExecutesAtBid(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")

	id := f.open(t, acc, "EUR/USD", types.SideSell, "1")
	pos, err := f.svc.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1.0849", pos.OpenPrice.String())

	// closing a sell immediately costs the spread
	realized, err := f.svc.ClosePosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "-20.00", realized.StringFixed(2))
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")
	sl := d("1.0900")
	tp := d("1.0800")

	cases := []struct {
		name string
		req  OpenRequest
		err  error
	}{
		{"bad side", OpenRequest{Symbol: "EUR/USD", Side: "hold", Volume: d("1")}, ErrInvalidSide},
		{"zero volume", OpenRequest{Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("0")}, ErrInvalidVolume},
		{"below min", OpenRequest{Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("0.001")}, ErrInvalidVolume},
		{"above max", OpenRequest{Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("101")}, ErrInvalidVolume},
		{"unknown pair", OpenRequest{Symbol: "ABC/DEF", Side: types.SideBuy, Volume: d("1")}, marketdata.ErrPairNotFound},
		{"no quote", OpenRequest{Symbol: "EUR/GBP", Side: types.SideBuy, Volume: d("1")}, marketdata.ErrQuoteUnavailable},
		{"stop above buy", OpenRequest{Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("1"), StopLoss: &sl}, ErrInvalidStops},
		{"target below buy", OpenRequest{Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("1"), TakeProfit: &tp}, ErrInvalidStops},
		{"insufficient margin", OpenRequest{Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("10")}, ErrInsufficientMargin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.UserID = acc.UserID
			req.AccountID = acc.ID
			_, err := f.svc.OpenPosition(ctx, req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	t.Run("foreign account", func(t *testing.T) {
		_, err := f.svc.OpenPosition(ctx, OpenRequest{UserID: "intruder", AccountID: acc.ID, Symbol: "EUR/USD", Side: types.SideBuy, Volume: d("0.1")})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("disabled pair", func(t *testing.T) {
		require.NoError(t, f.catalog.SetEnabled("GBP/USD", false))
		_, err := f.svc.OpenPosition(ctx, OpenRequest{UserID: acc.UserID, AccountID: acc.ID, Symbol: "GBP/USD", Side: types.SideBuy, Volume: d("0.1")})
		assert.ErrorIs(t, err, marketdata.ErrPairDisabled)
	})

	// nothing above touched the account
	after := f.reload(t, acc.ID)
	assert.True(t, after.Margin.IsZero())
	open, err := f.svc.GetOpenPositions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestLeverageCappedByPair(t *testing.T) {
	f := newFixture(t, Options{})
	acc := f.account(t, "u1", 1000, "10000")
	id := f.open(t, acc, "EUR/USD", types.SideBuy, "1")
	pos, err := f.svc.GetPosition(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 500, pos.Leverage)
	assert.Equal(t, "217.02", pos.Margin.StringFixed(2))

	assert.Equal(t, 100, margin.EffectiveLeverage(100, 500))
	assert.Equal(t, 100, margin.EffectiveLeverage(500, 100))
}

func TestEquityInvariantAfterRepriceAndClose(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")

	a := f.open(t, acc, "EUR/USD", types.SideBuy, "1")
	b := f.open(t, acc, "GBP/USD", types.SideSell, "0.5")
	assertEquityInvariant(t, f, acc.ID)

	_, err := f.svc.Reprice(ctx, a, d("1.0900"))
	require.NoError(t, err)
	_, err = f.svc.Reprice(ctx, b, d("1.2700"))
	require.NoError(t, err)
	refreshed, err := f.svc.RefreshEquity(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "490.00", mustPosition(t, f, a).Profit.StringFixed(2))
	assert.Equal(t, "-256.25", mustPosition(t, f, b).Profit.StringFixed(2))
	assertEquityInvariant(t, f, acc.ID)
	assert.True(t, refreshed.MarginLevel.IsPositive())

	_, err = f.svc.ClosePosition(ctx, a)
	require.NoError(t, err)
	assertEquityInvariant(t, f, acc.ID)

	after := f.reload(t, acc.ID)
	assert.Equal(t, "9980.00", after.Balance.StringFixed(2))
	assert.Equal(t, "9723.75", after.Equity.StringFixed(2))
}

func mustPosition(t *testing.T, f *fixture, id string) model.Position {
	t.Helper()
	p, err := f.svc.GetPosition(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestCloseIsExactlyOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")
	id := f.open(t, acc, "EUR/USD", types.SideBuy, "1")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.svc.ClosePosition(ctx, id)
			} else {
				_, errs[i] = f.svc.ForceClose(ctx, id)
			}
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyClosed)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, "9980.00", f.reload(t, acc.ID).Balance.StringFixed(2))

	trades, err := f.store.ListTrades(ctx, acc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestCloseErrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")
	id := f.open(t, acc, "EUR/USD", types.SideBuy, "1")

	_, err := f.svc.ClosePosition(ctx, "missing")
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = f.svc.ClosePositionForUser(ctx, "someone-else", id)
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = f.svc.ClosePositionForUser(ctx, acc.UserID, id)
	require.NoError(t, err)

	_, err = f.svc.ClosePosition(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	_, err = f.svc.Reprice(ctx, id, d("1.1"))
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.ErrorIs(t, f.svc.AccrueSwap(ctx, id, d("-1")), ErrAlreadyClosed)
}

func TestForceCloseWithoutQuote(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")

	f.feed.Set("EUR/GBP", d("0.8500"))
	id := f.open(t, acc, "EUR/GBP", types.SideBuy, "1")
	_, err := f.svc.Reprice(ctx, id, d("0.8450"))
	require.NoError(t, err)

	require.NoError(t, f.catalog.SetEnabled("EUR/GBP", false))
	_, err = f.svc.ClosePosition(ctx, id)
	assert.ErrorIs(t, err, marketdata.ErrPairDisabled)

	realized, err := f.svc.ForceClose(ctx, id)
	require.NoError(t, err)
	// opened at ask 0.85015, marked at 0.8450
	assert.Equal(t, "-515.00", realized.StringFixed(2))
	assert.Equal(t, types.PositionStatusLiquidated, mustPosition(t, f, id).Status)
}

func TestSwapAndCommissionRealized(t *testing.T) {
	f := newFixture(t, Options{CommissionPerLot: d("7")})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")
	id := f.open(t, acc, "EUR/USD", types.SideBuy, "1")

	pos := mustPosition(t, f, id)
	assert.Equal(t, "7.00", pos.Commission.StringFixed(2))

	require.NoError(t, f.svc.AccrueSwap(ctx, id, margin.SwapCharge(pos.Side, pos.Volume, d("-0.5"), d("0.2"), pos.Symbol)))
	require.NoError(t, f.svc.AccrueSwap(ctx, id, d("-5")))
	assert.Equal(t, "-10.00", mustPosition(t, f, id).Swap.StringFixed(2))

	// -20 spread, -10 swap, -7 commission
	realized, err := f.svc.ClosePosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "-37.00", realized.StringFixed(2))
	assert.Equal(t, "9963.00", f.reload(t, acc.ID).Balance.StringFixed(2))
}

func TestMarginCallDeduplication(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")

	first, created, err := f.svc.RaiseMarginCall(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.RaiseMarginCall(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	n, err := f.svc.ResolveMarginCalls(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, created, err = f.svc.RaiseMarginCall(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, created)

	calls, err := f.store.ListMarginCalls(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}

func TestNegativeBalanceFloor(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 500, "100")
	id := f.open(t, acc, "EUR/USD", types.SideBuy, "0.1")

	f.feed.Set("EUR/USD", d("1.0632"))
	realized, err := f.svc.ForceClose(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "-220.00", realized.StringFixed(2))
	assert.Equal(t, "-120.00", f.reload(t, acc.ID).Balance.StringFixed(2))

	before, applied, err := f.svc.ApplyNegativeBalanceProtection(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "-120.00", before.StringFixed(2))

	after := f.reload(t, acc.ID)
	for name, v := range map[string]decimal.Decimal{
		"balance": after.Balance, "equity": after.Equity, "margin": after.Margin,
		"free margin": after.FreeMargin, "margin level": after.MarginLevel,
	} {
		assert.True(t, v.IsZero(), "%s = %s", name, v)
	}

	_, applied, err = f.svc.ApplyNegativeBalanceProtection(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestNegativeBalanceFloorKeepsOpenPositions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 500, "100")
	big := f.open(t, acc, "EUR/USD", types.SideBuy, "0.1")
	small := f.open(t, acc, "EUR/USD", types.SideBuy, "0.01")

	f.feed.Set("EUR/USD", d("1.0632"))
	_, err := f.svc.Reprice(ctx, small, d("1.0631"))
	require.NoError(t, err)
	_, err = f.svc.ForceClose(ctx, big)
	require.NoError(t, err)
	assert.Equal(t, "-120.00", f.reload(t, acc.ID).Balance.StringFixed(2))

	_, applied, err := f.svc.ApplyNegativeBalanceProtection(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, applied)

	// the surviving position keeps its margin and floating loss
	after := f.reload(t, acc.ID)
	assert.True(t, after.Balance.IsZero())
	assert.Equal(t, "2.17", after.Margin.StringFixed(2))
	assert.Equal(t, "-22.00", after.Equity.StringFixed(2))
	assert.Equal(t, "-2.17", after.FreeMargin.StringFixed(2))
	assert.True(t, after.MarginLevel.IsZero())
	assert.True(t, mustPosition(t, f, small).IsOpen())
	assertEquityInvariant(t, f, acc.ID)
}

// vanishingStore hides every position from the account transaction, as if
// it was removed after the first lookup.
type vanishingStore struct {
	*store.Memory
}

func (s vanishingStore) InAccountTx(ctx context.Context, accountID string, fn func(tx store.Tx) error) error {
	return s.Memory.InAccountTx(ctx, accountID, func(tx store.Tx) error {
		return fn(vanishingTx{tx})
	})
}

type vanishingTx struct {
	store.Tx
}

func (vanishingTx) GetPosition(context.Context, string) (model.Position, error) {
	return model.Position{}, store.ErrNotFound
}

func TestPositionVanishingInsideTx(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	acc := f.account(t, "u1", 100, "10000")
	id := f.open(t, acc, "EUR/USD", types.SideBuy, "1")

	svc := NewService(vanishingStore{f.store}, f.catalog, marketdata.NewQuoteSource(f.catalog, f.feed), Options{})

	_, err := svc.Reprice(ctx, id, d("1.09"))
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.ErrorIs(t, svc.AccrueSwap(ctx, id, d("-1")), ErrPositionNotFound)
	_, err = svc.ClosePosition(ctx, id)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	acc := f.account(t, "u1", 100, "10000")
	assert.Equal(t, "USD", acc.Currency)
	assert.True(t, acc.Equity.Equal(acc.Balance))
	assert.True(t, acc.FreeMargin.Equal(acc.Balance))

	_, err := f.svc.CreateAccount(ctx, "u1", 100, d("1"))
	assert.ErrorIs(t, err, ErrAccountExists)
	_, err = f.svc.CreateAccount(ctx, "u2", 0, d("1"))
	assert.ErrorIs(t, err, margin.ErrInvalidLeverage)
	_, err = f.svc.CreateAccount(ctx, "u3", 100, d("-1"))
	assert.ErrorIs(t, err, ErrInvalidBalance)

	got, err := f.svc.GetAccountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	_, err = f.svc.GetAccountForUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
