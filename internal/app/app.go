// Package app wires the engine from configuration. Both the API server and
// fxctl build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fxmargin/internal/alerts"
	"fxmargin/internal/auth"
	"fxmargin/internal/config"
	"fxmargin/internal/db"
	"fxmargin/internal/health"
	"fxmargin/internal/httpserver"
	"fxmargin/internal/ledger"
	"fxmargin/internal/marketdata"
	"fxmargin/internal/notify"
	"fxmargin/internal/orders"
	"fxmargin/internal/risk"
	"fxmargin/internal/store"
	"fxmargin/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type App struct {
	Config    config.Config
	Log       *slog.Logger
	StoreKind string
	Store     store.Store
	Catalog   *marketdata.Catalog
	Pairs     marketdata.PairStore
	Static    *marketdata.StaticFeed
	Quotes    marketdata.Quoter
	Bus       *marketdata.Bus
	Notifier  *notify.Async
	Ledger    *ledger.Service
	Alerts    *alerts.Service
	Tokens    *auth.Tokens

	// Engine holds the reprice and supervise loops. Loops also carries the
	// daily swap rollover when it is enabled.
	Engine *worker.Group
	Loops  *worker.Group

	startedAt time.Time
	pool      *pgxpool.Pool
}

// New builds the engine. An empty DB_DSN selects the in-memory store;
// otherwise the schema is migrated and the pair catalog is seeded.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log, startedAt: time.Now().UTC(), Bus: marketdata.NewBus()}

	catalog, err := marketdata.LoadCatalog(cfg.PairsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pairs: %w", err)
	}
	a.Catalog = catalog

	if cfg.DBDSN == "" {
		a.StoreKind = StoreMemory
		a.Store = store.NewMemory()
		a.Pairs = catalog
	} else {
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		a.pool = pool
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		pg := marketdata.NewPGPairStore(pool)
		if err := pg.SeedPairs(ctx, catalog.All()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to seed pairs: %w", err)
		}
		a.StoreKind = StorePostgres
		a.Store = store.NewPostgres(pool)
		a.Pairs = pg
	}

	a.Static = marketdata.NewStaticFeed(marketdata.DefaultMids())
	var feed marketdata.PriceFeed = a.Static
	if cfg.PriceFeedURL != "" {
		feed = marketdata.FallbackFeed{
			Primary:   marketdata.NewHTTPFeed(cfg.PriceFeedURL, cfg.PriceFeedTimeout),
			Secondary: a.Static,
		}
		log.Info("live price feed enabled", "url", cfg.PriceFeedURL)
	}
	a.Quotes = marketdata.NewQuoteSource(a.Pairs, feed)

	a.Notifier = notify.NewAsync(notify.Multi{
		notify.NewBusNotifier(a.Bus),
		notify.NewLogNotifier(log),
	}, 5*time.Second, log)

	a.Ledger = ledger.NewService(a.Store, a.Pairs, a.Quotes, ledger.Options{
		CommissionPerLot: cfg.CommissionPerLot,
		Notifier:         a.Notifier,
		Logger:           log,
	})
	a.Alerts = alerts.NewService(a.Store, a.Pairs, alerts.Options{Notifier: a.Notifier, Logger: log})
	a.Tokens = auth.NewTokens(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	repricer := risk.NewRepricer(a.Ledger, a.Quotes, a.Bus, log).WithAlerts(a.Alerts)
	supervisor := risk.NewSupervisor(a.Ledger, a.Notifier, risk.Thresholds{
		MarginCall: cfg.MarginCallLevel,
		StopOut:    cfg.StopOutLevel,
	}, log)
	repriceLoop := worker.NewLoop("reprice", cfg.RepriceInterval, repricer.Tick, log)
	superviseLoop := worker.NewLoop("supervise", cfg.MarginCheckInterval, supervisor.Tick, log)
	a.Engine = worker.NewGroup(repriceLoop, superviseLoop)

	loops := []*worker.Loop{repriceLoop, superviseLoop}
	if cfg.SwapRollover {
		rollover := risk.NewRollover(a.Ledger, a.Pairs, nil, log)
		loops = append(loops, worker.NewLoop("swap_rollover", time.Minute, rollover.Tick, log))
	}
	a.Loops = worker.NewGroup(loops...)
	return a, nil
}

func (a *App) Router() http.Handler {
	return httpserver.NewRouter(httpserver.RouterDeps{
		LedgerHandler: ledger.NewHandler(a.Ledger, a.Config.DefaultLeverage, a.Config.DefaultBalance),
		OrderHandler:  orders.NewHandler(orders.NewService(a.Ledger, a.Store)),
		AlertHandler:  alerts.NewHandler(a.Alerts),
		MarketHandler: marketdata.NewHandler(a.Pairs, a.Quotes, a.Static),
		HealthHandler: health.NewHandler(a.Store, a.Loops, a.startedAt, a.StoreKind, a.Config.HTTPAddr, a.Config.InternalToken),
		Tokens:        a.Tokens,
		InternalToken: a.Config.InternalToken,
		Origin:        a.Config.WebSocketOrigin,
		WSHandler:     httpserver.NewWSHandler(a.Bus, a.Tokens, a.Ledger, a.Config.WebSocketOrigin, a.Log),
		Engine:        a.Engine,
		RateLimiter:   httpserver.NewRateLimiter(10, 30),
	})
}

// Close stops the loops, drains pending notifications and releases the pool.
func (a *App) Close() {
	if err := a.Loops.Stop(); err != nil {
		a.Log.Warn("stop loops", "err", err)
	}
	a.Notifier.Wait()
	if a.pool != nil {
		a.pool.Close()
	}
}
