package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset moves the wagered token in and out of custody. The ledger does
// not trust implementations: every call is checked for failure, and the
// ledger's re-entrancy barrier relies on implementations propagating
// ctx into anything they invoke. An implementation that strips the
// context breaks that contract.
type Asset interface {
	// TransferFrom pulls amount from the bettor into custody. The
	// bettor must have approved the custodian beforehand.
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error

	// Transfer pays amount out of custody to the recipient.
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error

	// BalanceOf reports the token balance of an address.
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)

	// Decimals is the token's display precision, fixed per deployment.
	Decimals() uint8
}
