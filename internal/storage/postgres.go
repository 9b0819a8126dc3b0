package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holiman/uint256"

	"github.com/AfshinJalili/keymarket/internal/market"
)

// Schema creates the market tables. Monetary columns are NUMERIC so the
// lifetime accumulators never truncate.
const Schema = `
CREATE TABLE IF NOT EXISTS key_ledgers (
    creator           TEXT PRIMARY KEY,
    total_supply      BIGINT      NOT NULL DEFAULT 0,
    total_volume      NUMERIC     NOT NULL DEFAULT 0,
    creator_earnings  NUMERIC     NOT NULL DEFAULT 0,
    protocol_earnings NUMERIC     NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL,
    last_trade_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS key_holders (
    creator TEXT   NOT NULL REFERENCES key_ledgers (creator),
    holder  TEXT   NOT NULL,
    amount  BIGINT NOT NULL,
    PRIMARY KEY (creator, holder)
);

CREATE TABLE IF NOT EXISTS key_trades (
    trade_id     UUID PRIMARY KEY,
    creator      TEXT        NOT NULL,
    trader       TEXT        NOT NULL,
    side         TEXT        NOT NULL,
    amount       BIGINT      NOT NULL,
    raw_price    NUMERIC     NOT NULL,
    protocol_fee NUMERIC     NOT NULL,
    creator_fee  NUMERIC     NOT NULL,
    executed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS key_trades_creator_executed_idx
    ON key_trades (creator, executed_at DESC);
`

// PostgresStore implements market.LedgerStore on a pgx pool. ApplyTrade
// runs in a transaction with the ledger row locked FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateLedger(ctx context.Context, ledger *market.KeyLedger) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO key_ledgers (creator, total_supply, total_volume, creator_earnings, protocol_earnings, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6)`,
		string(ledger.Creator),
		int64(ledger.TotalSupply),
		ledger.TotalVolume.Dec(),
		ledger.CreatorEarnings.Dec(),
		ledger.ProtocolEarnings.Dec(),
		ledger.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", market.ErrLedgerExists, ledger.Creator)
		}
		return fmt.Errorf("insert key ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, creator market.Identity) (*market.KeyLedger, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT creator, total_supply, total_volume::text, creator_earnings::text, protocol_earnings::text,
		       created_at, COALESCE(last_trade_at, 'epoch'::timestamptz)
		FROM key_ledgers
		WHERE creator = $1`,
		string(creator),
	)
	return scanLedger(row, creator)
}

func (s *PostgresStore) GetHolding(ctx context.Context, creator, holder market.Identity) (uint64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx, `
		SELECT amount FROM key_holders WHERE creator = $1 AND holder = $2`,
		string(creator), string(holder),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query holding: %w", err)
	}
	return uint64(amount), nil
}

func (s *PostgresStore) HolderCount(ctx context.Context, creator market.Identity) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM key_holders WHERE creator = $1`,
		string(creator),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count holders: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListHolders(ctx context.Context, creator market.Identity) ([]market.HolderRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT holder, amount
		FROM key_holders
		WHERE creator = $1
		ORDER BY amount DESC, holder ASC`,
		string(creator),
	)
	if err != nil {
		return nil, fmt.Errorf("query holders: %w", err)
	}
	defer rows.Close()

	var records []market.HolderRecord
	for rows.Next() {
		var holder string
		var amount int64
		if err := rows.Scan(&holder, &amount); err != nil {
			return nil, fmt.Errorf("scan holder: %w", err)
		}
		records = append(records, market.HolderRecord{
			Holder: market.Identity(holder),
			Amount: uint64(amount),
		})
	}
	return records, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, creator market.Identity, limit int) ([]market.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, creator, trader, side, amount,
		       raw_price::text, protocol_fee::text, creator_fee::text, executed_at
		FROM key_trades
		WHERE creator = $1
		ORDER BY executed_at DESC
		LIMIT $2`,
		string(creator), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var records []market.TradeRecord
	for rows.Next() {
		var r market.TradeRecord
		var tradeID, creatorID, trader, side, rawPrice, protocolFee, creatorFee string
		var amount int64
		if err := rows.Scan(&tradeID, &creatorID, &trader, &side, &amount, &rawPrice, &protocolFee, &creatorFee, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		r.TradeID = tradeID
		r.Creator = market.Identity(creatorID)
		r.Trader = market.Identity(trader)
		r.Side = market.Side(side)
		r.Amount = uint64(amount)
		if r.RawPrice, err = parseUint(rawPrice); err != nil {
			return nil, err
		}
		if r.ProtocolFee, err = parseUint(protocolFee); err != nil {
			return nil, err
		}
		if r.CreatorFee, err = parseUint(creatorFee); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, commit market.TradeCommit) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT true FROM key_ledgers WHERE creator = $1 FOR UPDATE`,
		string(commit.Creator),
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", market.ErrLedgerMissing, commit.Creator)
	}
	if err != nil {
		return fmt.Errorf("lock key ledger: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE key_ledgers
		SET total_supply      = $2,
		    total_volume      = total_volume + $3::numeric,
		    creator_earnings  = creator_earnings + $4::numeric,
		    protocol_earnings = protocol_earnings + $5::numeric,
		    last_trade_at     = $6
		WHERE creator = $1`,
		string(commit.Creator),
		int64(commit.NewSupply),
		strconv.FormatUint(commit.RawPrice, 10),
		strconv.FormatUint(commit.CreatorFee, 10),
		strconv.FormatUint(commit.ProtocolFee, 10),
		commit.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("update key ledger: %w", err)
	}

	if commit.NewHolderAmount == 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM key_holders WHERE creator = $1 AND holder = $2`,
			string(commit.Creator), string(commit.Trader),
		)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO key_holders (creator, holder, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (creator, holder) DO UPDATE SET amount = EXCLUDED.amount`,
			string(commit.Creator), string(commit.Trader), int64(commit.NewHolderAmount),
		)
	}
	if err != nil {
		return fmt.Errorf("update holder record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO key_trades (trade_id, creator, trader, side, amount, raw_price, protocol_fee, creator_fee, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)`,
		commit.TradeID,
		string(commit.Creator),
		string(commit.Trader),
		string(commit.Side),
		int64(commit.Amount),
		strconv.FormatUint(commit.RawPrice, 10),
		strconv.FormatUint(commit.ProtocolFee, 10),
		strconv.FormatUint(commit.CreatorFee, 10),
		commit.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit trade tx: %w", err)
	}
	return nil
}

func scanLedger(row pgx.Row, creator market.Identity) (*market.KeyLedger, error) {
	var ledger market.KeyLedger
	var creatorID, volume, creatorEarnings, protocolEarnings string
	var supply int64

	err := row.Scan(&creatorID, &supply, &volume, &creatorEarnings, &protocolEarnings, &ledger.CreatedAt, &ledger.LastTradeAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", market.ErrLedgerMissing, creator)
	}
	if err != nil {
		return nil, fmt.Errorf("scan key ledger: %w", err)
	}

	ledger.Creator = market.Identity(creatorID)
	ledger.TotalSupply = uint64(supply)
	if ledger.TotalVolume, err = parseUint256(volume); err != nil {
		return nil, err
	}
	if ledger.CreatorEarnings, err = parseUint256(creatorEarnings); err != nil {
		return nil, err
	}
	if ledger.ProtocolEarnings, err = parseUint256(protocolEarnings); err != nil {
		return nil, err
	}
	return &ledger, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func parseUint256(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
