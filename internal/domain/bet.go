package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Bet is one participant's single wager on one market. Amount is zeroed
// in place exactly once, at successful claim; a zero-amount bet is
// treated as "no stake" by every claim-path check.
type Bet struct {
	EventID   int64
	Bettor    common.Address
	Outcome   Outcome
	Amount    *big.Int
	PlacedAt  time.Time
	Claimed   bool
	ClaimedAt time.Time // zero until claimed
	Payout    *big.Int  // nil until claimed
}

// Clone returns a deep copy safe to hand outside the ledger.
func (b Bet) Clone() Bet {
	out := b
	if b.Amount != nil {
		out.Amount = new(big.Int).Set(b.Amount)
	}
	if b.Payout != nil {
		out.Payout = new(big.Int).Set(b.Payout)
	}
	return out
}

// HasStake reports whether the bet still holds an unclaimed amount.
func (b Bet) HasStake() bool {
	return b.Amount != nil && b.Amount.Sign() > 0
}
