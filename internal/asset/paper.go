package asset

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Paper is an in-memory token for rehearsal runs: same checked-transfer
// semantics as the chain gateway, no chain. Approvals are assumed
// granted; balances are the only constraint. When a faucet amount is
// configured, unseen addresses start with that balance on first use.
type Paper struct {
	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	custodian common.Address
	faucet    *big.Int
	decimals  uint8
}

// NewPaper returns a paper token whose outbound transfers debit the
// custodian account. faucet may be nil for a token where every account
// starts at zero.
func NewPaper(custodian common.Address, decimals uint8, faucet *big.Int) *Paper {
	p := &Paper{
		balances:  make(map[common.Address]*big.Int),
		custodian: custodian,
		decimals:  decimals,
	}
	if faucet != nil && faucet.Sign() > 0 {
		p.faucet = new(big.Int).Set(faucet)
	}
	return p
}

// Credit adds amount to an account, creating it if needed.
func (p *Paper) Credit(addr common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.account(addr)
	b.Add(b, amount)
}

// account returns the live balance entry, applying the faucet to
// addresses seen for the first time. Callers hold p.mu.
func (p *Paper) account(addr common.Address) *big.Int {
	b, ok := p.balances[addr]
	if !ok {
		b = new(big.Int)
		if p.faucet != nil {
			b.Set(p.faucet)
		}
		p.balances[addr] = b
	}
	return b
}

// TransferFrom moves amount between accounts, failing on insufficient
// balance like the real token would.
func (p *Paper) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("asset: paper transferFrom: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.account(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("asset: paper transferFrom: %s has %s, needs %s", from, src, amount)
	}
	src.Sub(src, amount)
	dst := p.account(to)
	dst.Add(dst, amount)
	return nil
}

// Transfer moves amount out of the custodian account.
func (p *Paper) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return p.TransferFrom(ctx, p.custodian, to, amount)
}

// BalanceOf reads an account balance.
func (p *Paper) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("asset: paper balanceOf: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.account(owner)), nil
}

// Decimals is the configured display precision.
func (p *Paper) Decimals() uint8 { return p.decimals }
