package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/position"
)

// Schema creates the tables used by PostgresStore. All monetary values are NUMERIC.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                      TEXT PRIMARY KEY,
	symbol                  TEXT NOT NULL,
	params                  JSONB NOT NULL,
	open_interest_notional  NUMERIC NOT NULL,
	open_notional           NUMERIC NOT NULL,
	position_open_notional  NUMERIC NOT NULL,
	prepaid_bad_debt        NUMERIC NOT NULL,
	unrealized_pnl          NUMERIC NOT NULL,
	insurance_fund          NUMERIC NOT NULL,
	fee_pool                NUMERIC NOT NULL,
	last_mark_price         NUMERIC NOT NULL,
	last_funding_at         TIMESTAMPTZ,
	paused                  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at              TIMESTAMPTZ NOT NULL,
	saved_at                TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	market_id                     TEXT NOT NULL REFERENCES markets(id) ON DELETE CASCADE,
	trader                        TEXT NOT NULL,
	status                        SMALLINT NOT NULL,
	size                          NUMERIC NOT NULL,
	margin                        NUMERIC NOT NULL,
	notional                      NUMERIC NOT NULL,
	last_updated_premium_fraction NUMERIC NOT NULL,
	opened_at                     BIGINT NOT NULL,
	updated_at                    BIGINT NOT NULL,
	PRIMARY KEY (market_id, trader)
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Save replaces the market row and all of its positions in one transaction.
func (s *PostgresStore) Save(ctx context.Context, snap market.Snapshot) error {
	r, err := NewRecord(snap)
	if err != nil {
		return err
	}
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("encode params %s: %w", r.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, symbol, params,
		        open_interest_notional, open_notional, position_open_notional,
		        prepaid_bad_debt, unrealized_pnl, insurance_fund, fee_pool,
		        last_mark_price, last_funding_at, paused, created_at, saved_at)
		 VALUES ($1, $2, $3::JSONB,
		        $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		        $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		        $11::NUMERIC, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		        symbol = EXCLUDED.symbol, params = EXCLUDED.params,
		        open_interest_notional = EXCLUDED.open_interest_notional,
		        open_notional = EXCLUDED.open_notional,
		        position_open_notional = EXCLUDED.position_open_notional,
		        prepaid_bad_debt = EXCLUDED.prepaid_bad_debt,
		        unrealized_pnl = EXCLUDED.unrealized_pnl,
		        insurance_fund = EXCLUDED.insurance_fund,
		        fee_pool = EXCLUDED.fee_pool,
		        last_mark_price = EXCLUDED.last_mark_price,
		        last_funding_at = EXCLUDED.last_funding_at,
		        paused = EXCLUDED.paused,
		        saved_at = EXCLUDED.saved_at`,
		r.ID, r.Symbol, string(params),
		r.OpenInterestNotional, r.OpenNotional, r.PositionOpenNotional,
		r.PrepaidBadDebt, r.UnrealizedPnL, r.InsuranceFund, r.FeePool,
		r.LastMarkPrice, r.LastFundingAt, r.Paused, r.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save market %s: %w", r.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE market_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear positions %s: %w", r.ID, err)
	}

	batch := &pgx.Batch{}
	for _, p := range r.Positions {
		batch.Queue(
			`INSERT INTO positions (market_id, trader, status, size, margin, notional,
			        last_updated_premium_fraction, opened_at, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
			r.ID, p.Trader, int16(p.Status), p.Size, p.Margin, p.Notional,
			p.LastUpdatedPremiumFraction, int64(p.OpenedAt), int64(p.UpdatedAt),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save positions %s: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Load(ctx context.Context, marketID string) (market.Snapshot, error) {
	var r MarketRecord
	var params string

	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, params::TEXT,
		        open_interest_notional::TEXT, open_notional::TEXT, position_open_notional::TEXT,
		        prepaid_bad_debt::TEXT, unrealized_pnl::TEXT, insurance_fund::TEXT, fee_pool::TEXT,
		        last_mark_price::TEXT, last_funding_at, paused, created_at
		 FROM markets WHERE id = $1`, marketID).
		Scan(&r.ID, &r.Symbol, &params,
			&r.OpenInterestNotional, &r.OpenNotional, &r.PositionOpenNotional,
			&r.PrepaidBadDebt, &r.UnrealizedPnL, &r.InsuranceFund, &r.FeePool,
			&r.LastMarkPrice, &r.LastFundingAt, &r.Paused, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Snapshot{}, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("load market %s: %w", marketID, err)
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return market.Snapshot{}, fmt.Errorf("decode params %s: %w", marketID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT trader, status, size::TEXT, margin::TEXT, notional::TEXT,
		        last_updated_premium_fraction::TEXT, opened_at, updated_at
		 FROM positions WHERE market_id = $1 ORDER BY trader`, marketID)
	if err != nil {
		return market.Snapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p PositionRecord
		var status int16
		var openedAt, updatedAt int64
		if err := rows.Scan(&p.Trader, &status, &p.Size, &p.Margin, &p.Notional,
			&p.LastUpdatedPremiumFraction, &openedAt, &updatedAt); err != nil {
			return market.Snapshot{}, err
		}
		p.Status = position.PositionStatus(status)
		p.OpenedAt = uint64(openedAt)
		p.UpdatedAt = uint64(updatedAt)
		r.Positions = append(r.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return market.Snapshot{}, err
	}

	return r.Snapshot()
}

func (s *PostgresStore) List(ctx context.Context) ([]market.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	out := make([]market.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
