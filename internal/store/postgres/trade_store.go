package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL. Amounts are
// stored as NUMERIC(78,0), wide enough for any 256-bit value, and travel as
// decimal text in both directions.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a new TradeJournal backed by the given pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

const tradeSelectCols = `seq, asset, amount::text, ts`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec    domain.TradeRecord
			asset  string
			amount string
		)
		if err := rows.Scan(&rec.Seq, &asset, &amount, &rec.Timestamp); err != nil {
			return nil, err
		}
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("amount %q of seq %d: %w", amount, rec.Seq, err)
		}
		rec.Asset = domain.AssetID(asset)
		rec.Amount = v
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Append inserts rec. Re-appending an identical record is a no-op so
// retries are safe; a different record under the same sequence number is
// rejected with domain.ErrSeqTaken.
func (s *TradeJournal) Append(ctx context.Context, rec domain.TradeRecord) error {
	if rec.Amount == nil {
		return fmt.Errorf("postgres: append trade %d: %w", rec.Seq, domain.ErrInvalidAmount)
	}
	const query = `
		INSERT INTO trades (seq, asset, amount, ts)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (seq) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, int64(rec.Seq), string(rec.Asset), rec.Amount.Dec(), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append trade %d: %w", rec.Seq, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		asset  string
		amount string
		ts     time.Time
	)
	err = s.pool.QueryRow(ctx, `SELECT asset, amount::text, ts FROM trades WHERE seq = $1`, int64(rec.Seq)).
		Scan(&asset, &amount, &ts)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: append trade %d: read existing: %w", rec.Seq, err)
	}
	if err == nil && asset == string(rec.Asset) && amount == rec.Amount.Dec() &&
		ts.Equal(rec.Timestamp.Truncate(time.Microsecond)) {
		return nil
	}
	return fmt.Errorf("postgres: append trade %d: %w", rec.Seq, domain.ErrSeqTaken)
}

// MaxSeq returns the highest sequence number ever appended, or 0.
func (s *TradeJournal) MaxSeq(ctx context.Context) (uint64, error) {
	const query = `
		SELECT GREATEST(
			COALESCE((SELECT MAX(seq) FROM trades), 0),
			COALESCE((SELECT MAX(max_seq) FROM trade_rollups), 0))`
	var seq int64
	if err := s.pool.QueryRow(ctx, query).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: max trade seq: %w", err)
	}
	return uint64(seq), nil
}

// Totals returns the all-time aggregate of every asset, including rows that
// were archived and deleted.
func (s *TradeJournal) Totals(ctx context.Context) ([]domain.AssetTotals, error) {
	const query = `
		SELECT asset, SUM(total)::text, SUM(trades)::bigint, MAX(last_ts)
		FROM (
			SELECT asset, amount AS total, 1 AS trades, ts AS last_ts FROM trades
			UNION ALL
			SELECT asset, total, trades, last_ts FROM trade_rollups
		) t
		GROUP BY asset
		ORDER BY asset`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: trade totals: %w", err)
	}
	defer rows.Close()

	var out []domain.AssetTotals
	for rows.Next() {
		var (
			t      domain.AssetTotals
			asset  string
			trades int64
		)
		if err := rows.Scan(&asset, &t.Total, &trades, &t.Last); err != nil {
			return nil, fmt.Errorf("postgres: scan trade totals: %w", err)
		}
		t.Asset = domain.AssetID(asset)
		t.Trades = uint64(trades)
		t.Last = t.Last.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade totals rows: %w", err)
	}
	return out, nil
}

// ListSince returns every record with ts >= since in sequence order.
func (s *TradeJournal) ListSince(ctx context.Context, since time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts >= $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades since: %w", err)
	}
	return out, nil
}

// ListByAsset returns the records of one asset, newest first, with
// pagination and optional time filtering.
func (s *TradeJournal) ListByAsset(ctx context.Context, asset domain.AssetID, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE asset = $1`
	args := []any{string(asset)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades of %s: %w", asset, err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades of %s: %w", asset, err)
	}
	return out, nil
}

// ListBefore returns every record with ts < before in sequence order.
func (s *TradeJournal) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts < $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes every record with ts < before and reports how many
// rows went. The removed rows are folded into trade_rollups in the same
// transaction.
func (s *TradeJournal) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const rollup = `
		INSERT INTO trade_rollups (asset, total, trades, last_ts, max_seq)
		SELECT asset, SUM(amount), COUNT(*), MAX(ts), MAX(seq)
		FROM trades
		WHERE ts < $1
		GROUP BY asset
		ON CONFLICT (asset) DO UPDATE SET
			total   = trade_rollups.total + EXCLUDED.total,
			trades  = trade_rollups.trades + EXCLUDED.trades,
			last_ts = GREATEST(trade_rollups.last_ts, EXCLUDED.last_ts),
			max_seq = GREATEST(trade_rollups.max_seq, EXCLUDED.max_seq)`

	var deleted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, rollup, before); err != nil {
			return fmt.Errorf("roll up: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM trades WHERE ts < $1`, before)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before.Format(time.RFC3339), err)
	}
	return deleted, nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*TradeJournal)(nil)
