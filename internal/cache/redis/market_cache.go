package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openwager/poolhouse/internal/domain"
)

// defaultMarketTTL bounds snapshot staleness when the caller passes no TTL.
const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized market snapshots. The ledger writes a snapshot after every
// mutation; subscribers read current pools without hitting the API.
//
// Key schema:
//
//	market:{eventID} - hash with field "data" containing JSON
//
// Base-unit amounts are rendered as decimal strings so consumers outside Go
// never round them through a float.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. Pass a
// zero ttl for the default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(eventID int64) string {
	return "market:" + strconv.FormatInt(eventID, 10)
}

// marketSnapshot is the cache wire form of a domain.Market.
type marketSnapshot struct {
	EventID   int64             `json:"event_id"`
	Status    string            `json:"status"`
	Result    string            `json:"result,omitempty"`
	TotalPool string            `json:"total_pool"`
	Pools     map[string]string `json:"pools"`
	CreatedAt time.Time         `json:"created_at"`
	SettledAt *time.Time        `json:"settled_at,omitempty"`
}

func snapshotMarket(m domain.Market) marketSnapshot {
	snap := marketSnapshot{
		EventID:   m.EventID,
		Status:    string(m.Status),
		Result:    string(m.Result),
		TotalPool: "0",
		Pools:     make(map[string]string, len(m.Pools)),
		CreatedAt: m.CreatedAt,
	}
	if m.TotalPool != nil {
		snap.TotalPool = m.TotalPool.String()
	}
	for o, p := range m.Pools {
		if p == nil {
			snap.Pools[string(o)] = "0"
			continue
		}
		snap.Pools[string(o)] = p.String()
	}
	if !m.SettledAt.IsZero() {
		t := m.SettledAt
		snap.SettledAt = &t
	}
	return snap
}

func (s marketSnapshot) market() (domain.Market, error) {
	m := domain.Market{
		EventID:   s.EventID,
		Status:    domain.MarketStatus(s.Status),
		Result:    domain.Outcome(s.Result),
		Pools:     make(map[domain.Outcome]*big.Int, len(s.Pools)),
		CreatedAt: s.CreatedAt,
	}
	var ok bool
	if m.TotalPool, ok = new(big.Int).SetString(s.TotalPool, 10); !ok {
		return domain.Market{}, fmt.Errorf("malformed total_pool %q", s.TotalPool)
	}
	for o, v := range s.Pools {
		p, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return domain.Market{}, fmt.Errorf("malformed pool %q for outcome %q", v, o)
		}
		m.Pools[domain.Outcome(o)] = p
	}
	if s.SettledAt != nil {
		m.SettledAt = *s.SettledAt
	}
	return m, nil
}

// Set stores a market snapshot in the cache with the configured TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(snapshotMarket(market))
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.EventID, err)
	}

	key := marketKey(market.EventID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.EventID, err)
	}
	return nil
}

// Get retrieves a market snapshot by event ID.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, eventID int64) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(eventID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", eventID, err)
	}

	var snap marketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", eventID, err)
	}
	m, err := snap.market()
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: decode market %d: %w", eventID, err)
	}
	return m, nil
}

// Invalidate removes a market snapshot from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, eventID int64) error {
	if err := mc.rdb.Del(ctx, marketKey(eventID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", eventID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
