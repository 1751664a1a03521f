package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

// Payout computes a winner's pro-rata share of the whole pool:
// amount * total / winning, truncating toward zero. The aggregate
// rounding loss across all winners of a market is below the winner
// count and stays in custody.
func Payout(amount, total, winning *big.Int) *big.Int {
	p := new(big.Int).Mul(amount, total)
	return p.Quo(p, winning)
}

// PlaceBet records the caller's single wager on an open market after
// pulling the stake into custody. Order matters: every precondition is
// checked first, then the asset pull, and the pools mutate only once
// the pull succeeded, so a failed transfer leaves no trace. The caller
// must have approved the custodian for at least amount beforehand.
func (l *Ledger) PlaceBet(ctx context.Context, caller common.Address, eventID int64, outcome domain.Outcome, amount *big.Int) (domain.Bet, error) {
	exit, err := l.enter(ctx, caller)
	if err != nil {
		return domain.Bet{}, err
	}
	defer exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.markets[eventID]
	if !ok {
		return domain.Bet{}, fmt.Errorf("ledger: market %d: %w", eventID, domain.ErrNotFound)
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.Bet{}, fmt.Errorf("ledger: market %d is %s: %w", eventID, m.Status, domain.ErrInvalidState)
	}
	if _, ok := l.valid[outcome]; !ok {
		return domain.Bet{}, fmt.Errorf("ledger: outcome %q: %w", outcome, domain.ErrUnknownOutcome)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Bet{}, fmt.Errorf("ledger: stake must be positive: %w", domain.ErrInvalidAmount)
	}
	key := betKey{eventID, caller}
	if _, ok := l.bets[key]; ok {
		return domain.Bet{}, fmt.Errorf("ledger: market %d bettor %s: %w", eventID, caller, domain.ErrDuplicateBet)
	}

	if err := l.asset.TransferFrom(withBarrier(ctx), caller, l.custodian, amount); err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: pulling stake: %w", errors.Join(domain.ErrTransferFailed, err))
	}

	bet := &domain.Bet{
		EventID:  eventID,
		Bettor:   caller,
		Outcome:  outcome,
		Amount:   new(big.Int).Set(amount),
		PlacedAt: l.now(),
	}
	l.bets[key] = bet
	m.Pools[outcome].Add(m.Pools[outcome], amount)
	m.TotalPool.Add(m.TotalPool, amount)
	return bet.Clone(), nil
}

// ClaimWinnings pays the caller's share of a settled market's pool.
// The stake is zeroed before the outbound transfer is issued, so a
// re-entrant claim finds no stake even if it slipped past the barrier;
// the transfer is the last action. A failed transfer restores the
// stake and reports the cause wrapped in ErrTransferFailed.
func (l *Ledger) ClaimWinnings(ctx context.Context, caller common.Address, eventID int64) (domain.Bet, error) {
	exit, err := l.enter(ctx, caller)
	if err != nil {
		return domain.Bet{}, err
	}
	defer exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.markets[eventID]
	if !ok {
		return domain.Bet{}, fmt.Errorf("ledger: market %d: %w", eventID, domain.ErrNotFound)
	}
	if m.Status != domain.MarketStatusSettled {
		return domain.Bet{}, fmt.Errorf("ledger: market %d is %s: %w", eventID, m.Status, domain.ErrInvalidState)
	}
	bet, ok := l.bets[betKey{eventID, caller}]
	if !ok || !bet.HasStake() {
		return domain.Bet{}, fmt.Errorf("ledger: market %d bettor %s: %w", eventID, caller, domain.ErrNoStake)
	}
	if bet.Outcome != m.Result {
		return domain.Bet{}, fmt.Errorf("ledger: bet on %q, result %q: %w", bet.Outcome, m.Result, domain.ErrLosingBet)
	}
	winning := m.Pools[m.Result]
	if winning == nil || winning.Sign() == 0 {
		return domain.Bet{}, fmt.Errorf("ledger: market %d: %w", eventID, domain.ErrEmptyWinningPool)
	}

	payout := Payout(bet.Amount, m.TotalPool, winning)

	staked := new(big.Int).Set(bet.Amount)
	bet.Amount.SetInt64(0)

	if err := l.asset.Transfer(withBarrier(ctx), caller, payout); err != nil {
		bet.Amount.Set(staked)
		return domain.Bet{}, fmt.Errorf("ledger: paying out: %w", errors.Join(domain.ErrTransferFailed, err))
	}

	bet.Claimed = true
	bet.ClaimedAt = l.now()
	bet.Payout = payout
	return bet.Clone(), nil
}
