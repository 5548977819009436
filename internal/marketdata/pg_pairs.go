package marketdata

import (
	"context"
	"errors"

	"fxmargin/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGPairStore reads reference data from the forex_pairs table.
type PGPairStore struct {
	pool *pgxpool.Pool
}

func NewPGPairStore(pool *pgxpool.Pool) *PGPairStore {
	return &PGPairStore{pool: pool}
}

const pairColumns = `
	symbol, base_currency, quote_currency, spread, min_volume, max_volume,
	max_leverage, enabled, swap_long, swap_short`

func scanPair(row pgx.Row) (model.Pair, error) {
	var p model.Pair
	err := row.Scan(
		&p.Symbol, &p.BaseCurrency, &p.QuoteCurrency, &p.Spread, &p.MinVolume, &p.MaxVolume,
		&p.MaxLeverage, &p.Enabled, &p.SwapLong, &p.SwapShort,
	)
	return p, err
}

func (s *PGPairStore) GetPair(ctx context.Context, symbol string) (model.Pair, error) {
	p, err := scanPair(s.pool.QueryRow(ctx, `select`+pairColumns+` from forex_pairs where symbol = $1`, NormalizeSymbol(symbol)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Pair{}, ErrPairNotFound
	}
	return p, err
}

func (s *PGPairStore) ListEnabledPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx, `select`+pairColumns+` from forex_pairs where enabled order by symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedPairs upserts every pair of the catalog into forex_pairs.
func (s *PGPairStore) SeedPairs(ctx context.Context, pairs []model.Pair) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, p := range pairs {
		_, err := tx.Exec(ctx, `
			insert into forex_pairs (`+pairColumns+`)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			on conflict (symbol) do update set
				spread = excluded.spread,
				min_volume = excluded.min_volume,
				max_volume = excluded.max_volume,
				max_leverage = excluded.max_leverage,
				enabled = excluded.enabled,
				swap_long = excluded.swap_long,
				swap_short = excluded.swap_short
		`, p.Symbol, p.BaseCurrency, p.QuoteCurrency, p.Spread, p.MinVolume, p.MaxVolume,
			p.MaxLeverage, p.Enabled, p.SwapLong, p.SwapShort)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
