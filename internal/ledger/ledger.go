// Package ledger implements the pari-mutuel wagering core: market
// lifecycle, the single-bet-per-participant ledger, escrow accounting,
// and the payout split, guarded by role checks and a re-entrancy
// barrier. State lives in memory behind one mutex; persistence and
// notification are the caller's concern.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

// Config fixes the ledger's identities and outcome set at construction.
type Config struct {
	// Admin may rotate the reporter. Required.
	Admin common.Address

	// Reporter may create markets and publish results. Required; can be
	// rotated later via SetReporter.
	Reporter common.Address

	// Custodian receives pulled stakes and is the asset account payouts
	// are sent from. Required.
	Custodian common.Address

	// Outcomes is the valid outcome set for every market. Defaults to
	// home/draw/away when empty.
	Outcomes []domain.Outcome

	// Now overrides the clock in tests.
	Now func() time.Time
}

type betKey struct {
	eventID int64
	bettor  common.Address
}

// Ledger is the authoritative wagering state. All mutations serialize
// on one mutex; reads return deep copies so pools can never be mutated
// from outside.
type Ledger struct {
	mu sync.Mutex

	admin     common.Address
	reporter  common.Address
	custodian common.Address
	asset     domain.Asset
	outcomes  []domain.Outcome
	valid     map[domain.Outcome]struct{}

	markets map[int64]*domain.Market
	bets    map[betKey]*domain.Bet

	// inflight tracks callers with an operation in progress, under its
	// own small mutex so the check never waits on the main one.
	inflightMu sync.Mutex
	inflight   map[common.Address]struct{}

	now func() time.Time
}

// New validates the configuration and returns an empty ledger.
func New(cfg Config, asset domain.Asset) (*Ledger, error) {
	if asset == nil {
		return nil, fmt.Errorf("ledger: asset is required")
	}
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("ledger: admin: %w", domain.ErrZeroAddress)
	}
	if cfg.Reporter == (common.Address{}) {
		return nil, fmt.Errorf("ledger: reporter: %w", domain.ErrZeroAddress)
	}
	if cfg.Custodian == (common.Address{}) {
		return nil, fmt.Errorf("ledger: custodian: %w", domain.ErrZeroAddress)
	}

	outcomes := cfg.Outcomes
	if len(outcomes) == 0 {
		outcomes = domain.DefaultOutcomes()
	}
	valid := make(map[domain.Outcome]struct{}, len(outcomes))
	for _, o := range outcomes {
		if o == "" {
			return nil, fmt.Errorf("ledger: empty outcome name")
		}
		if _, dup := valid[o]; dup {
			return nil, fmt.Errorf("ledger: duplicate outcome %q", o)
		}
		valid[o] = struct{}{}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Ledger{
		admin:     cfg.Admin,
		reporter:  cfg.Reporter,
		custodian: cfg.Custodian,
		asset:     asset,
		outcomes:  append([]domain.Outcome(nil), outcomes...),
		valid:     valid,
		markets:   make(map[int64]*domain.Market),
		bets:      make(map[betKey]*domain.Bet),
		inflight:  make(map[common.Address]struct{}),
		now:       now,
	}, nil
}

// barrierKey marks contexts handed to the asset so that any call the
// asset makes back into the ledger is recognized and rejected.
type barrierKey struct{}

func withBarrier(ctx context.Context) context.Context {
	return context.WithValue(ctx, barrierKey{}, true)
}

func barred(ctx context.Context) bool {
	v, _ := ctx.Value(barrierKey{}).(bool)
	return v
}

// guard rejects calls arriving from inside an asset transfer. Every
// mutation checks it before taking the main mutex; a re-entrant call
// that reached the mutex would deadlock instead of failing cleanly.
func (l *Ledger) guard(ctx context.Context) error {
	if barred(ctx) {
		return fmt.Errorf("ledger: %w", domain.ErrReentrantCall)
	}
	return nil
}

// enter additionally registers the caller as in flight. PlaceBet and
// ClaimWinnings use it so that an overlapping call by the same caller
// is rejected outright rather than queued, even when the asset strips
// the context marker. Distinct callers queue on the main mutex.
func (l *Ledger) enter(ctx context.Context, caller common.Address) (func(), error) {
	if err := l.guard(ctx); err != nil {
		return nil, err
	}
	l.inflightMu.Lock()
	if _, busy := l.inflight[caller]; busy {
		l.inflightMu.Unlock()
		return nil, fmt.Errorf("ledger: caller %s: %w", caller, domain.ErrReentrantCall)
	}
	l.inflight[caller] = struct{}{}
	l.inflightMu.Unlock()

	return func() {
		l.inflightMu.Lock()
		delete(l.inflight, caller)
		l.inflightMu.Unlock()
	}, nil
}

// Admin returns the administrator address.
func (l *Ledger) Admin() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admin
}

// Reporter returns the current reporter address.
func (l *Ledger) Reporter() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reporter
}

// Custodian returns the escrow account address.
func (l *Ledger) Custodian() common.Address { return l.custodian }

// Outcomes returns the valid outcome set in construction order.
func (l *Ledger) Outcomes() []domain.Outcome {
	return append([]domain.Outcome(nil), l.outcomes...)
}

// Market returns a copy of one market.
func (l *Ledger) Market(eventID int64) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[eventID]
	if !ok {
		return domain.Market{}, fmt.Errorf("ledger: market %d: %w", eventID, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// Markets returns copies of all markets ordered by event ID.
func (l *Ledger) Markets() []domain.Market {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Market, 0, len(l.markets))
	for _, m := range l.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// Bet returns a copy of one participant's wager on one market.
func (l *Ledger) Bet(eventID int64, bettor common.Address) (domain.Bet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bets[betKey{eventID, bettor}]
	if !ok {
		return domain.Bet{}, fmt.Errorf("ledger: bet %d/%s: %w", eventID, bettor, domain.ErrNotFound)
	}
	return b.Clone(), nil
}

// BetsByMarket returns copies of all wagers on one market, ordered by
// placement time then bettor for a stable listing.
func (l *Ledger) BetsByMarket(eventID int64) []domain.Bet {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Bet, 0)
	for k, b := range l.bets {
		if k.eventID == eventID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].Bettor.Cmp(out[j].Bettor) < 0
	})
	return out
}

// Restore loads journaled state into an empty ledger and verifies the
// conservation invariant: per market the outcome pools must sum to the
// total, and until the first claim the total must equal the sum of
// stakes (claims zero amounts in place while the pools keep the
// historical denominator, so the stake check stops applying then). A
// nonzero reporter overrides the configured one, so rotation survives
// restarts.
func (l *Ledger) Restore(markets []domain.Market, bets []domain.Bet, reporter common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.markets) != 0 || len(l.bets) != 0 {
		return fmt.Errorf("ledger: restore into non-empty ledger")
	}

	for _, m := range markets {
		if m.EventID <= 0 {
			return fmt.Errorf("ledger: restore market %d: %w", m.EventID, domain.ErrInvalidEventID)
		}
		mm := m.Clone()
		if mm.TotalPool == nil {
			mm.TotalPool = new(big.Int)
		}
		if mm.Pools == nil {
			mm.Pools = make(map[domain.Outcome]*big.Int, len(l.outcomes))
		}
		for _, o := range l.outcomes {
			if mm.Pools[o] == nil {
				mm.Pools[o] = new(big.Int)
			}
		}
		l.markets[mm.EventID] = &mm
	}

	stakes := make(map[int64]*big.Int, len(l.markets))
	claimed := make(map[int64]bool, len(l.markets))
	for _, b := range bets {
		if _, ok := l.markets[b.EventID]; !ok {
			return fmt.Errorf("ledger: restore bet on market %d: %w", b.EventID, domain.ErrNotFound)
		}
		bb := b.Clone()
		if bb.Amount == nil {
			bb.Amount = new(big.Int)
		}
		l.bets[betKey{bb.EventID, bb.Bettor}] = &bb

		if stakes[bb.EventID] == nil {
			stakes[bb.EventID] = new(big.Int)
		}
		stakes[bb.EventID].Add(stakes[bb.EventID], bb.Amount)
		if bb.Claimed {
			claimed[bb.EventID] = true
		}
	}

	for id, m := range l.markets {
		poolSum := new(big.Int)
		for _, p := range m.Pools {
			poolSum.Add(poolSum, p)
		}
		if poolSum.Cmp(m.TotalPool) != 0 {
			return fmt.Errorf("ledger: restore market %d: pools sum %s, total %s", id, poolSum, m.TotalPool)
		}
		if !claimed[id] {
			staked := stakes[id]
			if staked == nil {
				staked = new(big.Int)
			}
			if staked.Cmp(m.TotalPool) != 0 {
				return fmt.Errorf("ledger: restore market %d: stakes sum %s, total %s", id, staked, m.TotalPool)
			}
		}
	}

	if reporter != (common.Address{}) {
		l.reporter = reporter
	}
	return nil
}
