package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fxmargin/internal/model"
	"fxmargin/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres is a Store over a pgx pool. InAccountTx holds a row lock on the
// account for the duration of the transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const uniqueViolation = "23505"

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func (s *Postgres) InAccountTx(ctx context.Context, accountID string, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	if err := tx.QueryRow(ctx, "select id from trading_accounts where id = $1 for update", accountID).Scan(&id); err != nil {
		return mapErr(err)
	}
	if err := fn(&pgTx{tx: tx, accountID: accountID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

const accountColumns = `id, user_id, leverage, currency, balance, equity, margin, free_margin, margin_level, created_at, updated_at`

func scanAccount(row pgx.Row) (model.TradingAccount, error) {
	var a model.TradingAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Leverage, &a.Currency, &a.Balance, &a.Equity, &a.Margin, &a.FreeMargin, &a.MarginLevel, &a.CreatedAt, &a.UpdatedAt)
	return a, mapErr(err)
}

func collectAccounts(rows pgx.Rows, err error) ([]model.TradingAccount, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TradingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateAccount(ctx context.Context, a model.TradingAccount) error {
	_, err := s.pool.Exec(ctx, `insert into trading_accounts (`+accountColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.UserID, a.Leverage, a.Currency, a.Balance, a.Equity, a.Margin, a.FreeMargin, a.MarginLevel, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (s *Postgres) GetAccount(ctx context.Context, accountID string) (model.TradingAccount, error) {
	return scanAccount(s.pool.QueryRow(ctx, `select `+accountColumns+` from trading_accounts where id = $1`, accountID))
}

func (s *Postgres) GetAccountByUser(ctx context.Context, userID string) (model.TradingAccount, error) {
	return scanAccount(s.pool.QueryRow(ctx, `select `+accountColumns+` from trading_accounts where user_id = $1 order by created_at limit 1`, userID))
}

func (s *Postgres) ListAccounts(ctx context.Context) ([]model.TradingAccount, error) {
	return collectAccounts(s.pool.Query(ctx, `select `+accountColumns+` from trading_accounts order by created_at, id`))
}

func (s *Postgres) ListMarginedAccounts(ctx context.Context) ([]model.TradingAccount, error) {
	return collectAccounts(s.pool.Query(ctx, `select `+accountColumns+` from trading_accounts where margin > 0 order by created_at, id`))
}

const positionColumns = `id, user_id, account_id, symbol, side, volume, open_price, current_price, stop_loss, take_profit,
	margin, leverage, swap, commission, profit, status, opened_at, closed_at, closed_price, closed_profit`

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status string
	err := row.Scan(&p.ID, &p.UserID, &p.AccountID, &p.Symbol, &side, &p.Volume, &p.OpenPrice, &p.CurrentPrice, &p.StopLoss, &p.TakeProfit,
		&p.Margin, &p.Leverage, &p.Swap, &p.Commission, &p.Profit, &status, &p.OpenedAt, &p.ClosedAt, &p.ClosedPrice, &p.ClosedProfit)
	if err != nil {
		return p, mapErr(err)
	}
	p.Side = types.Side(side)
	p.Status = types.PositionStatus(status)
	return p, nil
}

func collectPositions(rows pgx.Rows, err error) ([]model.Position, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx, `select `+positionColumns+` from positions where id = $1`, positionID))
}

func (s *Postgres) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return collectPositions(s.pool.Query(ctx, `select `+positionColumns+` from positions where status = 'open' order by account_id, opened_at, id`))
}

func (s *Postgres) ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	if filter.Open {
		return collectPositions(s.pool.Query(ctx, `select `+positionColumns+` from positions
			where account_id = $1 and status = 'open' order by opened_at, id limit nullif($2, -1)`, accountID, limit))
	}
	return collectPositions(s.pool.Query(ctx, `select `+positionColumns+` from positions
		where account_id = $1 and status <> 'open' order by closed_at desc, id desc limit nullif($2, -1)`, accountID, limit))
}

const orderColumns = `id, user_id, account_id, symbol, side, type, volume, requested_price, executed_price, stop_loss, take_profit,
	status, position_id, created_at, executed_at`

func (s *Postgres) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.pool.Query(ctx, `select `+orderColumns+` from orders where account_id = $1 order by created_at desc, id desc limit nullif($2, -1)`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		var o model.Order
		var side, typ, status string
		var positionID *string
		if err := rows.Scan(&o.ID, &o.UserID, &o.AccountID, &o.Symbol, &side, &typ, &o.Volume, &o.RequestedPrice, &o.ExecutedPrice,
			&o.StopLoss, &o.TakeProfit, &status, &positionID, &o.CreatedAt, &o.ExecutedAt); err != nil {
			return nil, err
		}
		o.Side = types.Side(side)
		o.Type = types.OrderType(typ)
		o.Status = types.OrderStatus(status)
		if positionID != nil {
			o.PositionID = *positionID
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const tradeColumns = `id, user_id, account_id, order_id, position_id, symbol, side, volume, price, commission, swap, profit, created_at`

func (s *Postgres) ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.pool.Query(ctx, `select `+tradeColumns+` from trades where account_id = $1 order by created_at desc, id desc limit nullif($2, -1)`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		var orderID *string
		if err := rows.Scan(&t.ID, &t.UserID, &t.AccountID, &orderID, &t.PositionID, &t.Symbol, &side, &t.Volume, &t.Price,
			&t.Commission, &t.Swap, &t.Profit, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Side = types.Side(side)
		if orderID != nil {
			t.OrderID = *orderID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const marginCallColumns = `id, user_id, account_id, margin_level, equity, margin, resolved, resolved_at, created_at`

func scanMarginCall(row pgx.Row) (model.MarginCall, error) {
	var mc model.MarginCall
	err := row.Scan(&mc.ID, &mc.UserID, &mc.AccountID, &mc.MarginLevel, &mc.Equity, &mc.Margin, &mc.Resolved, &mc.ResolvedAt, &mc.CreatedAt)
	return mc, err
}

func (s *Postgres) ListMarginCalls(ctx context.Context, accountID string) ([]model.MarginCall, error) {
	rows, err := s.pool.Query(ctx, `select `+marginCallColumns+` from margin_calls where account_id = $1 order by created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MarginCall
	for rows.Next() {
		mc, err := scanMarginCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

const priceAlertColumns = `id, user_id, symbol, target_price, condition, triggered, triggered_at, trigger_price, expires_at, created_at`

func scanPriceAlert(row pgx.Row) (model.PriceAlert, error) {
	var a model.PriceAlert
	var condition string
	err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.TargetPrice, &condition, &a.Triggered, &a.TriggeredAt, &a.TriggerPrice, &a.ExpiresAt, &a.CreatedAt)
	if err != nil {
		return a, mapErr(err)
	}
	a.Condition = types.AlertCondition(condition)
	return a, nil
}

func collectPriceAlerts(rows pgx.Rows, err error) ([]model.PriceAlert, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PriceAlert
	for rows.Next() {
		a, err := scanPriceAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) CreatePriceAlert(ctx context.Context, a model.PriceAlert) error {
	_, err := s.pool.Exec(ctx, `insert into price_alerts (`+priceAlertColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.UserID, a.Symbol, a.TargetPrice, string(a.Condition), a.Triggered, a.TriggeredAt, a.TriggerPrice, a.ExpiresAt, a.CreatedAt)
	return mapErr(err)
}

func (s *Postgres) GetPriceAlert(ctx context.Context, alertID string) (model.PriceAlert, error) {
	return scanPriceAlert(s.pool.QueryRow(ctx, `select `+priceAlertColumns+` from price_alerts where id = $1`, alertID))
}

func (s *Postgres) ListPriceAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return collectPriceAlerts(s.pool.Query(ctx, `select `+priceAlertColumns+` from price_alerts
		where user_id = $1 and not triggered order by created_at desc, id desc`, userID))
}

func (s *Postgres) ListPendingPriceAlerts(ctx context.Context, now time.Time) ([]model.PriceAlert, error) {
	return collectPriceAlerts(s.pool.Query(ctx, `select `+priceAlertColumns+` from price_alerts
		where not triggered and (expires_at is null or expires_at > $1) order by created_at, id`, now))
}

func (s *Postgres) MarkPriceAlertTriggered(ctx context.Context, alertID string, at time.Time, price decimal.Decimal) (bool, error) {
	tag, err := s.pool.Exec(ctx, `update price_alerts set triggered = true, triggered_at = $2, trigger_price = $3
		where id = $1 and not triggered`, alertID, at, price)
	if err != nil {
		return false, fmt.Errorf("failed to mark price alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) DeletePriceAlert(ctx context.Context, alertID string) error {
	tag, err := s.pool.Exec(ctx, `delete from price_alerts where id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("failed to delete price alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx        pgx.Tx
	accountID string
}

func (t *pgTx) GetAccount(ctx context.Context) (model.TradingAccount, error) {
	return scanAccount(t.tx.QueryRow(ctx, `select `+accountColumns+` from trading_accounts where id = $1`, t.accountID))
}

func (t *pgTx) UpdateAccount(ctx context.Context, a model.TradingAccount) error {
	if a.ID != t.accountID {
		return fmt.Errorf("update account %s outside tx for %s", a.ID, t.accountID)
	}
	_, err := t.tx.Exec(ctx, `update trading_accounts set
		balance = $2, equity = $3, margin = $4, free_margin = $5, margin_level = $6, leverage = $7, updated_at = $8
		where id = $1`, a.ID, a.Balance, a.Equity, a.Margin, a.FreeMargin, a.MarginLevel, a.Leverage, a.UpdatedAt)
	return err
}

func (t *pgTx) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx, `select `+positionColumns+` from positions where id = $1 and account_id = $2 for update`, positionID, t.accountID))
}

func (t *pgTx) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return collectPositions(t.tx.Query(ctx, `select `+positionColumns+` from positions
		where account_id = $1 and status = 'open' order by opened_at, id`, t.accountID))
}

func (t *pgTx) InsertPosition(ctx context.Context, p model.Position) error {
	if p.AccountID != t.accountID {
		return fmt.Errorf("invalid position for account %s", t.accountID)
	}
	_, err := t.tx.Exec(ctx, `insert into positions (`+positionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		p.ID, p.UserID, p.AccountID, p.Symbol, string(p.Side), p.Volume, p.OpenPrice, p.CurrentPrice, p.StopLoss, p.TakeProfit,
		p.Margin, p.Leverage, p.Swap, p.Commission, p.Profit, string(p.Status), p.OpenedAt, p.ClosedAt, p.ClosedPrice, p.ClosedProfit)
	return mapErr(err)
}

func (t *pgTx) UpdatePosition(ctx context.Context, p model.Position) error {
	tag, err := t.tx.Exec(ctx, `update positions set
		current_price = $3, stop_loss = $4, take_profit = $5, swap = $6, commission = $7, profit = $8, status = $9,
		closed_at = $10, closed_price = $11, closed_profit = $12
		where id = $1 and account_id = $2`,
		p.ID, t.accountID, p.CurrentPrice, p.StopLoss, p.TakeProfit, p.Swap, p.Commission, p.Profit, string(p.Status),
		p.ClosedAt, p.ClosedPrice, p.ClosedProfit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *pgTx) InsertOrder(ctx context.Context, o model.Order) error {
	_, err := t.tx.Exec(ctx, `insert into orders (`+orderColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.UserID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), o.Volume, o.RequestedPrice, o.ExecutedPrice,
		o.StopLoss, o.TakeProfit, string(o.Status), nullable(o.PositionID), o.CreatedAt, o.ExecutedAt)
	return mapErr(err)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr model.Trade) error {
	_, err := t.tx.Exec(ctx, `insert into trades (`+tradeColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		tr.ID, tr.UserID, tr.AccountID, nullable(tr.OrderID), tr.PositionID, tr.Symbol, string(tr.Side), tr.Volume, tr.Price,
		tr.Commission, tr.Swap, tr.Profit, tr.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) PendingMarginCall(ctx context.Context) (model.MarginCall, bool, error) {
	mc, err := scanMarginCall(t.tx.QueryRow(ctx, `select `+marginCallColumns+` from margin_calls
		where account_id = $1 and not resolved order by created_at limit 1`, t.accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MarginCall{}, false, nil
	}
	if err != nil {
		return model.MarginCall{}, false, err
	}
	return mc, true, nil
}

func (t *pgTx) InsertMarginCall(ctx context.Context, mc model.MarginCall) error {
	if mc.AccountID != t.accountID {
		return fmt.Errorf("invalid margin call for account %s", t.accountID)
	}
	_, err := t.tx.Exec(ctx, `insert into margin_calls (`+marginCallColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		mc.ID, mc.UserID, mc.AccountID, mc.MarginLevel, mc.Equity, mc.Margin, mc.Resolved, mc.ResolvedAt, mc.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) ResolveMarginCalls(ctx context.Context, at time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `update margin_calls set resolved = true, resolved_at = $2 where account_id = $1 and not resolved`, t.accountID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
