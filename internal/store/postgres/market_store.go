package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/poolhouse/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
//
// Pool amounts are token base units stored as NUMERIC(78,0), wide enough
// for a full uint256, and travel as decimal strings on both sides of the
// driver. The per-outcome pools are a JSONB object of outcome -> amount.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `event_id, status, result, total_pool::text, pools, created_at, settled_at`

// Upsert inserts or updates a single market row.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	poolsJSON, err := encodePools(m.Pools)
	if err != nil {
		return fmt.Errorf("postgres: encode pools for market %d: %w", m.EventID, err)
	}

	var settledAt *time.Time
	if !m.SettledAt.IsZero() {
		settledAt = &m.SettledAt
	}

	const query = `
		INSERT INTO markets (
			event_id, status, result, total_pool, pools,
			created_at, settled_at, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5,
			$6, $7, NOW()
		)
		ON CONFLICT (event_id) DO UPDATE SET
			status     = EXCLUDED.status,
			result     = EXCLUDED.result,
			total_pool = EXCLUDED.total_pool,
			pools      = EXCLUDED.pools,
			settled_at = EXCLUDED.settled_at,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		m.EventID, string(m.Status), string(m.Result),
		bigString(m.TotalPool), poolsJSON,
		m.CreatedAt, settledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.EventID, err)
	}
	return nil
}

// GetByEventID retrieves a market by its event identifier.
func (s *MarketStore) GetByEventID(ctx context.Context, eventID int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE event_id = $1`, eventID)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", eventID, err)
	}
	return m, nil
}

// List returns markets ordered by event id with pagination and optional
// creation-time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, `SELECT `+marketCols+` FROM markets WHERE 1=1`, nil, "created_at", opts)
}

// ListByStatus returns markets in the given lifecycle state.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = $1`,
		[]any{string(status)}, "created_at", opts)
}

// ListSettledBefore returns settled markets whose result was published
// strictly before the given time. Used by the archiver.
func (s *MarketStore) ListSettledBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = 'settled' AND settled_at < $1`,
		[]any{before}, "settled_at", opts)
}

// list appends shared filter/pagination clauses and scans the result set.
func (s *MarketStore) list(ctx context.Context, query string, args []any, timeCol string, opts domain.ListOpts) ([]domain.Market, error) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY event_id ASC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of journaled markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		status    string
		result    string
		totalPool string
		poolsJSON []byte
		settledAt *time.Time
	)
	err := row.Scan(&m.EventID, &status, &result, &totalPool, &poolsJSON, &m.CreatedAt, &settledAt)
	if err != nil {
		return domain.Market{}, err
	}

	m.Status = domain.MarketStatus(status)
	m.Result = domain.Outcome(result)
	if m.TotalPool, err = parseBig(totalPool); err != nil {
		return domain.Market{}, fmt.Errorf("total_pool: %w", err)
	}
	if m.Pools, err = decodePools(poolsJSON); err != nil {
		return domain.Market{}, fmt.Errorf("pools: %w", err)
	}
	if settledAt != nil {
		m.SettledAt = *settledAt
	}
	return m, nil
}

// encodePools marshals per-outcome pools as a JSON object of decimal strings.
func encodePools(pools map[domain.Outcome]*big.Int) ([]byte, error) {
	obj := make(map[string]string, len(pools))
	for o, p := range pools {
		obj[string(o)] = bigString(p)
	}
	return json.Marshal(obj)
}

// decodePools is the inverse of encodePools.
func decodePools(data []byte) (map[domain.Outcome]*big.Int, error) {
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	pools := make(map[domain.Outcome]*big.Int, len(obj))
	for o, s := range obj {
		p, err := parseBig(s)
		if err != nil {
			return nil, fmt.Errorf("outcome %q: %w", o, err)
		}
		pools[domain.Outcome(o)] = p
	}
	return pools, nil
}

// bigString renders a base-unit amount for a NUMERIC column, treating nil
// as zero.
func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// parseBig parses a NUMERIC(78,0) column rendered as text.
func parseBig(s string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed base-unit amount %q", s)
	}
	return x, nil
}
