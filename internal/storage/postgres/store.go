package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapScope/internal/model"
)

// Store provides Postgres persistence for discovery output.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPoolStates inserts or updates pool snapshots for a chain. Big
// integers travel as decimal strings into numeric columns.
func (s *Store) UpsertPoolStates(ctx context.Context, chainID uint64, states []model.PoolState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, state := range states {
		batch.Queue(`
			INSERT INTO pools (
				chain_id, pool_address, token0, token1, fee, tick_spacing,
				liquidity, sqrt_price_x96, tick, initialized, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			ON CONFLICT (chain_id, pool_address)
			DO UPDATE SET
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				fee = EXCLUDED.fee,
				tick_spacing = EXCLUDED.tick_spacing,
				liquidity = EXCLUDED.liquidity,
				sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
				tick = EXCLUDED.tick,
				initialized = EXCLUDED.initialized,
				updated_at = now()
		`,
			int64(chainID),
			state.PoolAddress.Hex(),
			state.Token0.Hex(),
			state.Token1.Hex(),
			int64(state.Fee),
			state.TickSpacing,
			decimalString(state.Liquidity),
			decimalString(state.SqrtPriceX96),
			state.Tick,
			state.Initialized,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range states {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadScanState returns the unix timestamp of the last completed scan for a
// name.
func (s *Store) LoadScanState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_scan_ts FROM scan_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveScanState upserts the last completed scan timestamp for a name.
func (s *Store) SaveScanState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_state (name, last_scan_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_scan_ts = EXCLUDED.last_scan_ts, updated_at = now()
	`, name, ts)
	return err
}

func decimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
