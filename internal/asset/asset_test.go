package asset

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSelectors(t *testing.T) {
	// Canonical ERC-20 selectors, checkable against any ABI listing.
	tests := []struct {
		name string
		sel  []byte
		want string
	}{
		{"transfer", selTransfer, "a9059cbb"},
		{"transferFrom", selTransferFrom, "23b872dd"},
		{"balanceOf", selBalanceOf, "70a08231"},
		{"decimals", selDecimals, "313ce567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hex.EncodeToString(tt.sel); got != tt.want {
				t.Errorf("selector = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPackCall(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := big.NewInt(0x0102)

	data := packCall(selTransfer, addrWord(to), amountWord(amount))
	if len(data) != 4+32+32 {
		t.Fatalf("len(data) = %d, want 68", len(data))
	}
	if hex.EncodeToString(data[:4]) != "a9059cbb" {
		t.Errorf("selector = %x", data[:4])
	}
	// Address is right-aligned in its word.
	if data[4+31] != 0xaa {
		t.Errorf("address word tail = %#x, want 0xaa", data[4+31])
	}
	for i := 4; i < 4+12; i++ {
		if data[i] != 0 {
			t.Errorf("address word byte %d = %#x, want 0", i, data[i])
		}
	}
	// Amount is a big-endian 32-byte word.
	if data[4+32+30] != 0x01 || data[4+32+31] != 0x02 {
		t.Errorf("amount word tail = %x, want 0102", data[4+32+30:])
	}

	t.Run("zero amount packs a zero word", func(t *testing.T) {
		data := packCall(selTransfer, addrWord(to), amountWord(new(big.Int)))
		if len(data) != 68 {
			t.Fatalf("len(data) = %d, want 68", len(data))
		}
		for i := 4 + 32; i < 68; i++ {
			if data[i] != 0 {
				t.Errorf("amount byte %d = %#x, want 0", i, data[i])
			}
		}
	})
}

func TestPaper(t *testing.T) {
	ctx := context.Background()
	custodian := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	t.Run("credit and transferFrom", func(t *testing.T) {
		p := NewPaper(custodian, 6, nil)
		p.Credit(alice, big.NewInt(500))

		if err := p.TransferFrom(ctx, alice, custodian, big.NewInt(200)); err != nil {
			t.Fatalf("TransferFrom: %v", err)
		}
		got, _ := p.BalanceOf(ctx, alice)
		if got.Int64() != 300 {
			t.Errorf("alice balance = %s, want 300", got)
		}
		got, _ = p.BalanceOf(ctx, custodian)
		if got.Int64() != 200 {
			t.Errorf("custodian balance = %s, want 200", got)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		p := NewPaper(custodian, 6, nil)
		p.Credit(alice, big.NewInt(10))
		if err := p.TransferFrom(ctx, alice, custodian, big.NewInt(11)); err == nil {
			t.Error("TransferFrom over balance succeeded, want error")
		}
		got, _ := p.BalanceOf(ctx, alice)
		if got.Int64() != 10 {
			t.Errorf("alice balance after failed transfer = %s, want 10", got)
		}
	})

	t.Run("transfer debits custodian", func(t *testing.T) {
		p := NewPaper(custodian, 6, nil)
		p.Credit(custodian, big.NewInt(100))
		if err := p.Transfer(ctx, bob, big.NewInt(40)); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		got, _ := p.BalanceOf(ctx, bob)
		if got.Int64() != 40 {
			t.Errorf("bob balance = %s, want 40", got)
		}
		got, _ = p.BalanceOf(ctx, custodian)
		if got.Int64() != 60 {
			t.Errorf("custodian balance = %s, want 60", got)
		}
	})

	t.Run("faucet seeds first use", func(t *testing.T) {
		p := NewPaper(custodian, 6, big.NewInt(1000))
		if err := p.TransferFrom(ctx, alice, custodian, big.NewInt(999)); err != nil {
			t.Fatalf("TransferFrom from fresh account: %v", err)
		}
		got, _ := p.BalanceOf(ctx, alice)
		if got.Int64() != 1 {
			t.Errorf("alice balance = %s, want 1", got)
		}
	})

	t.Run("balance copies are isolated", func(t *testing.T) {
		p := NewPaper(custodian, 6, nil)
		p.Credit(alice, big.NewInt(5))
		got, _ := p.BalanceOf(ctx, alice)
		got.SetInt64(9999)
		again, _ := p.BalanceOf(ctx, alice)
		if again.Int64() != 5 {
			t.Errorf("balance after mutating copy = %s, want 5", again)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := NewPaper(custodian, 6, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := p.TransferFrom(cctx, alice, custodian, big.NewInt(1)); err == nil {
			t.Error("TransferFrom with cancelled context succeeded, want error")
		}
	})

	t.Run("decimals", func(t *testing.T) {
		p := NewPaper(custodian, 18, nil)
		if got := p.Decimals(); got != 18 {
			t.Errorf("Decimals() = %d, want 18", got)
		}
	})
}
