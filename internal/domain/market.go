package domain

import (
	"math/big"
	"time"
)

// Outcome identifies one result variant of a sporting event.
// Values are case-sensitive; the valid set is fixed per ledger.
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// DefaultOutcomes is the standard three-way football outcome set.
func DefaultOutcomes() []Outcome {
	return []Outcome{OutcomeHome, OutcomeDraw, OutcomeAway}
}

// MarketStatus represents the lifecycle state of a market.
// Pending and Closed are reserved: no ledger operation produces them.
type MarketStatus string

const (
	MarketStatusPending MarketStatus = "pending"
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is the per-event wagering state: one pool per outcome plus
// the running total. Amounts are token base units.
type Market struct {
	EventID   int64
	Status    MarketStatus
	Result    Outcome // empty until settled
	TotalPool *big.Int
	Pools     map[Outcome]*big.Int
	CreatedAt time.Time
	SettledAt time.Time // zero until settled
}

// NewMarket returns an open market with zeroed pools for each outcome.
func NewMarket(eventID int64, outcomes []Outcome, now time.Time) Market {
	pools := make(map[Outcome]*big.Int, len(outcomes))
	for _, o := range outcomes {
		pools[o] = new(big.Int)
	}
	return Market{
		EventID:   eventID,
		Status:    MarketStatusOpen,
		TotalPool: new(big.Int),
		Pools:     pools,
		CreatedAt: now,
	}
}

// Clone returns a deep copy. Callers receive clones so ledger-internal
// pools can never be mutated from outside.
func (m Market) Clone() Market {
	out := m
	if m.TotalPool != nil {
		out.TotalPool = new(big.Int).Set(m.TotalPool)
	}
	if m.Pools != nil {
		out.Pools = make(map[Outcome]*big.Int, len(m.Pools))
		for o, p := range m.Pools {
			out.Pools[o] = new(big.Int).Set(p)
		}
	}
	return out
}

// Settled reports whether the market has a published result.
func (m Market) Settled() bool { return m.Status == MarketStatusSettled }
