package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore journals market state. The in-memory ledger is
// authoritative; the store exists for audit and restart recovery.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByEventID(ctx context.Context, eventID int64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	ListSettledBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore journals wagers and their claim state.
type BetStore interface {
	Upsert(ctx context.Context, bet Bet) error
	Get(ctx context.Context, eventID int64, bettor common.Address) (Bet, error)
	ListByMarket(ctx context.Context, eventID int64, opts ListOpts) ([]Bet, error)
	ListByBettor(ctx context.Context, bettor common.Address, opts ListOpts) ([]Bet, error)
}

// Role names persisted by RoleStore.
const (
	RoleAdmin    = "admin"
	RoleReporter = "reporter"
)

// RoleStore persists role assignments so reporter rotation survives a
// restart.
type RoleStore interface {
	Set(ctx context.Context, role string, addr common.Address) error
	Get(ctx context.Context, role string) (common.Address, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
