package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/poolhouse/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. One row per
// (event, bettor) pair; a claim updates the row in place, mirroring the
// in-memory ledger's zero-the-stake bookkeeping.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `event_id, bettor, outcome, amount::text, placed_at, claimed, claimed_at, payout::text`

// Upsert inserts or updates a single bet row.
func (s *BetStore) Upsert(ctx context.Context, b domain.Bet) error {
	var claimedAt *time.Time
	if !b.ClaimedAt.IsZero() {
		claimedAt = &b.ClaimedAt
	}
	var payout *string
	if b.Payout != nil {
		p := b.Payout.String()
		payout = &p
	}

	const query = `
		INSERT INTO bets (
			event_id, bettor, outcome, amount,
			placed_at, claimed, claimed_at, payout, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric,
			$5, $6, $7, $8::numeric, NOW()
		)
		ON CONFLICT (event_id, bettor) DO UPDATE SET
			outcome    = EXCLUDED.outcome,
			amount     = EXCLUDED.amount,
			claimed    = EXCLUDED.claimed,
			claimed_at = EXCLUDED.claimed_at,
			payout     = EXCLUDED.payout,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		b.EventID, hexAddr(b.Bettor), string(b.Outcome), bigString(b.Amount),
		b.PlacedAt, b.Claimed, claimedAt, payout,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %d/%s: %w", b.EventID, hexAddr(b.Bettor), err)
	}
	return nil
}

// Get retrieves the bet a bettor holds on a market.
func (s *BetStore) Get(ctx context.Context, eventID int64, bettor common.Address) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE event_id = $1 AND bettor = $2`,
		eventID, hexAddr(bettor))
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d/%s: %w", eventID, hexAddr(bettor), err)
	}
	return b, nil
}

// ListByMarket returns every bet on a market, ordered the way the ledger
// reads them back for recovery: placement time, then bettor.
func (s *BetStore) ListByMarket(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx,
		`SELECT `+betCols+` FROM bets WHERE event_id = $1`,
		[]any{eventID}, "placed_at ASC, bettor ASC", opts)
}

// ListByBettor returns a bettor's wagers across markets, newest first.
func (s *BetStore) ListByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx,
		`SELECT `+betCols+` FROM bets WHERE bettor = $1`,
		[]any{hexAddr(bettor)}, "placed_at DESC", opts)
}

// list appends shared filter/pagination clauses and scans the result set.
func (s *BetStore) list(ctx context.Context, query string, args []any, order string, opts domain.ListOpts) ([]domain.Bet, error) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND placed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND placed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + order

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
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// scanBet scans a single bet row into a domain.Bet.
func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b         domain.Bet
		bettor    string
		outcome   string
		amount    string
		claimedAt *time.Time
		payout    *string
	)
	err := row.Scan(&b.EventID, &bettor, &outcome, &amount, &b.PlacedAt, &b.Claimed, &claimedAt, &payout)
	if err != nil {
		return domain.Bet{}, err
	}

	b.Bettor = common.HexToAddress(bettor)
	b.Outcome = domain.Outcome(outcome)
	if b.Amount, err = parseBig(amount); err != nil {
		return domain.Bet{}, fmt.Errorf("amount: %w", err)
	}
	if claimedAt != nil {
		b.ClaimedAt = *claimedAt
	}
	if payout != nil {
		if b.Payout, err = parseBig(*payout); err != nil {
			return domain.Bet{}, fmt.Errorf("payout: %w", err)
		}
	}
	return b, nil
}

// hexAddr renders an address in the canonical lowercase form used for the
// bettor column, so lookups are insensitive to checksum casing.
func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
