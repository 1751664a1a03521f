package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

// SetReporter rotates the reporter role. Admin only; the new reporter
// must not be the zero address, which would lock market operations out
// permanently. Returns the address being replaced.
func (l *Ledger) SetReporter(ctx context.Context, caller, reporter common.Address) (common.Address, error) {
	if err := l.guard(ctx); err != nil {
		return common.Address{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return common.Address{}, fmt.Errorf("ledger: set reporter: %w", domain.ErrUnauthorized)
	}
	if reporter == (common.Address{}) {
		return common.Address{}, fmt.Errorf("ledger: set reporter: %w", domain.ErrZeroAddress)
	}

	old := l.reporter
	l.reporter = reporter
	return old, nil
}

// CreateMarket opens a market for a new event. Reporter only; the
// event ID must be positive and unused. The market starts open with
// zeroed pools, never pending.
func (l *Ledger) CreateMarket(ctx context.Context, caller common.Address, eventID int64) (domain.Market, error) {
	if err := l.guard(ctx); err != nil {
		return domain.Market{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.reporter {
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", domain.ErrUnauthorized)
	}
	if eventID <= 0 {
		return domain.Market{}, fmt.Errorf("ledger: create market %d: %w", eventID, domain.ErrInvalidEventID)
	}
	if _, ok := l.markets[eventID]; ok {
		return domain.Market{}, fmt.Errorf("ledger: market %d: %w", eventID, domain.ErrAlreadyExists)
	}

	m := domain.NewMarket(eventID, l.outcomes, l.now())
	l.markets[eventID] = &m
	return m.Clone(), nil
}

// ReportResult publishes the final outcome and settles the market in
// one step; there is no separate close-for-betting transition.
// Reporter only; the market must currently be open, so settling twice
// always fails. A result nobody bet on is accepted and produces a dead
// pool that ClaimWinnings guards against.
func (l *Ledger) ReportResult(ctx context.Context, caller common.Address, eventID int64, result domain.Outcome) (domain.Market, error) {
	if err := l.guard(ctx); err != nil {
		return domain.Market{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.reporter {
		return domain.Market{}, fmt.Errorf("ledger: report result: %w", domain.ErrUnauthorized)
	}
	m, ok := l.markets[eventID]
	if !ok {
		return domain.Market{}, fmt.Errorf("ledger: market %d: %w", eventID, domain.ErrNotFound)
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.Market{}, fmt.Errorf("ledger: market %d is %s: %w", eventID, m.Status, domain.ErrInvalidState)
	}
	if _, ok := l.valid[result]; !ok {
		return domain.Market{}, fmt.Errorf("ledger: result %q: %w", result, domain.ErrUnknownOutcome)
	}

	m.Result = result
	m.Status = domain.MarketStatusSettled
	m.SettledAt = l.now()
	return m.Clone(), nil
}
