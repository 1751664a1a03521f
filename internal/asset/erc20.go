// Package asset implements the token gateway the ledger escrows
// through: a real ERC-20 over JSON-RPC, and an in-memory paper token
// for rehearsal. Both propagate ctx into everything they call, which
// the ledger's re-entrancy barrier depends on.
package asset

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ERC-20 method selectors: first four bytes of keccak256 of the
// canonical signature.
var (
	selTransfer     = selector("transfer(address,uint256)")
	selTransferFrom = selector("transferFrom(address,address,uint256)")
	selBalanceOf    = selector("balanceOf(address)")
	selDecimals     = selector("decimals()")
)

func selector(sig string) []byte {
	return ethcrypto.Keccak256([]byte(sig))[:4]
}

func packCall(sel []byte, words ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(words))
	data = append(data, sel...)
	for _, w := range words {
		data = append(data, w...)
	}
	return data
}

func addrWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func amountWord(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// ERC20Config configures the on-chain gateway.
type ERC20Config struct {
	// RPCURL is the JSON-RPC endpoint.
	RPCURL string

	// Token is the ERC-20 contract address.
	Token common.Address

	// PrivateKeyHex is the custodian's signing key (with or without 0x).
	// The custodian address is derived from it.
	PrivateKeyHex string

	// GasLimit caps transaction gas. Zero means estimate per call.
	GasLimit uint64

	// ConfirmTimeout bounds the wait for a receipt. Defaults to 90s.
	ConfirmTimeout time.Duration

	// PollInterval is the receipt polling cadence. Defaults to 1s.
	PollInterval time.Duration
}

// ERC20 moves a standard fungible token through eth_call and signed
// transactions. Transfers block until the transaction is mined and
// fail when the receipt reports reversion, so callers get the
// checked-transfer semantics the ledger requires.
type ERC20 struct {
	client    *ethclient.Client
	token     common.Address
	key       *ecdsa.PrivateKey
	custodian common.Address
	chainID   *big.Int
	signer    types.Signer
	decimals  uint8

	gasLimit       uint64
	confirmTimeout time.Duration
	pollInterval   time.Duration

	// sendMu serializes nonce assignment; the ledger serializes
	// operations already, but Health and BalanceOf callers share the
	// client.
	sendMu sync.Mutex
}

// NewERC20 dials the endpoint, derives the custodian address from the
// key, and reads the token's decimals once.
func NewERC20(ctx context.Context, cfg ERC20Config) (*ERC20, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("asset: rpc url is required")
	}
	if cfg.Token == (common.Address{}) {
		return nil, errors.New("asset: token address is required")
	}

	keyHex := strings.TrimPrefix(cfg.PrivateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("asset: invalid private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("asset: dialing %s: %w", cfg.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("asset: reading chain id: %w", err)
	}

	e := &ERC20{
		client:         client,
		token:          cfg.Token,
		key:            key,
		custodian:      ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		signer:         types.LatestSignerForChainID(chainID),
		gasLimit:       cfg.GasLimit,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if e.confirmTimeout <= 0 {
		e.confirmTimeout = 90 * time.Second
	}
	if e.pollInterval <= 0 {
		e.pollInterval = time.Second
	}

	dec, err := e.fetchDecimals(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	e.decimals = dec

	return e, nil
}

// Custodian is the escrow account derived from the signing key.
func (e *ERC20) Custodian() common.Address { return e.custodian }

// Decimals is the token's display precision, read at construction.
func (e *ERC20) Decimals() uint8 { return e.decimals }

// Health verifies the endpoint still answers.
func (e *ERC20) Health(ctx context.Context) error {
	if _, err := e.client.ChainID(ctx); err != nil {
		return fmt.Errorf("asset: health: %w", err)
	}
	return nil
}

// Close releases the underlying RPC connection.
func (e *ERC20) Close() error {
	e.client.Close()
	return nil
}

// TransferFrom pulls amount from the bettor into custody. The bettor
// must have approved the custodian on the token contract beforehand.
func (e *ERC20) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	data := packCall(selTransferFrom, addrWord(from), addrWord(to), amountWord(amount))
	if err := e.send(ctx, data); err != nil {
		return fmt.Errorf("asset: transferFrom %s -> %s: %w", from, to, err)
	}
	return nil
}

// Transfer pays amount out of custody.
func (e *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	data := packCall(selTransfer, addrWord(to), amountWord(amount))
	if err := e.send(ctx, data); err != nil {
		return fmt.Errorf("asset: transfer to %s: %w", to, err)
	}
	return nil
}

// BalanceOf reads the token balance of an address.
func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := e.call(ctx, packCall(selBalanceOf, addrWord(owner)))
	if err != nil {
		return nil, fmt.Errorf("asset: balanceOf %s: %w", owner, err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (e *ERC20) fetchDecimals(ctx context.Context) (uint8, error) {
	out, err := e.call(ctx, packCall(selDecimals))
	if err != nil {
		return 0, fmt.Errorf("asset: reading decimals: %w", err)
	}
	d := new(big.Int).SetBytes(out)
	if !d.IsUint64() || d.Uint64() > 77 {
		return 0, fmt.Errorf("asset: implausible decimals %s", d)
	}
	return uint8(d.Uint64()), nil
}

func (e *ERC20) call(ctx context.Context, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &e.token, Data: data}
	return e.client.CallContract(ctx, msg, nil)
}

// send signs, submits, and waits for one token transaction, failing if
// the receipt reports reversion.
func (e *ERC20) send(ctx context.Context, data []byte) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	nonce, err := e.client.PendingNonceAt(ctx, e.custodian)
	if err != nil {
		return fmt.Errorf("reading nonce: %w", err)
	}

	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("suggesting tip: %w", err)
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("reading head: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas := e.gasLimit
	if gas == 0 {
		gas, err = e.client.EstimateGas(ctx, ethereum.CallMsg{
			From: e.custodian,
			To:   &e.token,
			Data: data,
		})
		if err != nil {
			return fmt.Errorf("estimating gas: %w", err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &e.token,
		Data:      data,
	})
	signed, err := types.SignTx(tx, e.signer, e.key)
	if err != nil {
		return fmt.Errorf("signing: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("sending: %w", err)
	}

	return e.waitMined(ctx, signed.Hash())
}

func (e *ERC20) waitMined(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("tx %s reverted", hash)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			// Still pending.
		default:
			return fmt.Errorf("reading receipt %s: %w", hash, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for tx %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}
