package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

func addr(b byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = b
	return a
}

var (
	adminAddr     = addr(0xA1)
	reporterAddr  = addr(0xB2)
	custodianAddr = addr(0xC3)
	alice         = addr(0x0A)
	bob           = addr(0x0B)
	carol         = addr(0x0C)
)

type transferCall struct {
	from, to common.Address
	amount   *big.Int
}

// fakeAsset records transfers and can be told to fail or to call back
// into the ledger mid-transfer.
type fakeAsset struct {
	failPull error
	failPay  error
	onPull   func(ctx context.Context) error
	onPay    func(ctx context.Context) error
	pulls    []transferCall
	pays     []transferCall
}

func (f *fakeAsset) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if f.failPull != nil {
		return f.failPull
	}
	if f.onPull != nil {
		if err := f.onPull(ctx); err != nil {
			return err
		}
	}
	f.pulls = append(f.pulls, transferCall{from, to, new(big.Int).Set(amount)})
	return nil
}

func (f *fakeAsset) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if f.failPay != nil {
		return f.failPay
	}
	if f.onPay != nil {
		if err := f.onPay(ctx); err != nil {
			return err
		}
	}
	f.pays = append(f.pays, transferCall{to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (f *fakeAsset) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeAsset) Decimals() uint8 { return 6 }

func newTestLedger(t *testing.T) (*Ledger, *fakeAsset) {
	t.Helper()
	asset := &fakeAsset{}
	l, err := New(Config{
		Admin:     adminAddr,
		Reporter:  reporterAddr,
		Custodian: custodianAddr,
		Now:       func() time.Time { return time.Date(2025, 8, 16, 15, 0, 0, 0, time.UTC) },
	}, asset)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, asset
}

func TestNew(t *testing.T) {
	asset := &fakeAsset{}

	tests := []struct {
		name    string
		cfg     Config
		asset   domain.Asset
		wantErr error
	}{
		{
			name:  "valid",
			cfg:   Config{Admin: adminAddr, Reporter: reporterAddr, Custodian: custodianAddr},
			asset: asset,
		},
		{
			name:    "zero admin",
			cfg:     Config{Reporter: reporterAddr, Custodian: custodianAddr},
			asset:   asset,
			wantErr: domain.ErrZeroAddress,
		},
		{
			name:    "zero reporter",
			cfg:     Config{Admin: adminAddr, Custodian: custodianAddr},
			asset:   asset,
			wantErr: domain.ErrZeroAddress,
		},
		{
			name:    "zero custodian",
			cfg:     Config{Admin: adminAddr, Reporter: reporterAddr},
			asset:   asset,
			wantErr: domain.ErrZeroAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.asset)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("New() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("nil asset", func(t *testing.T) {
		if _, err := New(Config{Admin: adminAddr, Reporter: reporterAddr, Custodian: custodianAddr}, nil); err == nil {
			t.Error("New() with nil asset succeeded, want error")
		}
	})

	t.Run("duplicate outcome", func(t *testing.T) {
		cfg := Config{
			Admin: adminAddr, Reporter: reporterAddr, Custodian: custodianAddr,
			Outcomes: []domain.Outcome{"home", "home"},
		}
		if _, err := New(cfg, asset); err == nil {
			t.Error("New() with duplicate outcomes succeeded, want error")
		}
	})

	t.Run("empty outcome name", func(t *testing.T) {
		cfg := Config{
			Admin: adminAddr, Reporter: reporterAddr, Custodian: custodianAddr,
			Outcomes: []domain.Outcome{"home", ""},
		}
		if _, err := New(cfg, asset); err == nil {
			t.Error("New() with empty outcome succeeded, want error")
		}
	})

	t.Run("default outcomes", func(t *testing.T) {
		l, err := New(Config{Admin: adminAddr, Reporter: reporterAddr, Custodian: custodianAddr}, asset)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got := l.Outcomes()
		want := domain.DefaultOutcomes()
		if len(got) != len(want) {
			t.Fatalf("Outcomes() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Outcomes()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	if _, err := l.Market(404); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Market(404) error = %v, want ErrNotFound", err)
	}
	if _, err := l.Bet(404, alice); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Bet(404) error = %v, want ErrNotFound", err)
	}

	for _, id := range []int64{30, 10, 20} {
		if _, err := l.CreateMarket(ctx, reporterAddr, id); err != nil {
			t.Fatalf("CreateMarket(%d): %v", id, err)
		}
	}
	markets := l.Markets()
	if len(markets) != 3 {
		t.Fatalf("len(Markets()) = %d, want 3", len(markets))
	}
	for i, want := range []int64{10, 20, 30} {
		if markets[i].EventID != want {
			t.Errorf("Markets()[%d].EventID = %d, want %d", i, markets[i].EventID, want)
		}
	}

	if _, err := l.PlaceBet(ctx, alice, 10, domain.OutcomeHome, big.NewInt(70)); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	// Mutating a returned copy must not touch ledger state.
	m, err := l.Market(10)
	if err != nil {
		t.Fatalf("Market(10): %v", err)
	}
	m.Pools[domain.OutcomeHome].SetInt64(9999)
	m.TotalPool.SetInt64(9999)

	m2, _ := l.Market(10)
	if m2.Pools[domain.OutcomeHome].Int64() != 70 {
		t.Errorf("pool after mutating copy = %s, want 70", m2.Pools[domain.OutcomeHome])
	}
	if m2.TotalPool.Int64() != 70 {
		t.Errorf("total after mutating copy = %s, want 70", m2.TotalPool)
	}

	b, err := l.Bet(10, alice)
	if err != nil {
		t.Fatalf("Bet: %v", err)
	}
	b.Amount.SetInt64(1)
	b2, _ := l.Bet(10, alice)
	if b2.Amount.Int64() != 70 {
		t.Errorf("bet amount after mutating copy = %s, want 70", b2.Amount)
	}
}

func TestBetsByMarket(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	if _, err := l.CreateMarket(ctx, reporterAddr, 1); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := l.CreateMarket(ctx, reporterAddr, 2); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	for _, tc := range []struct {
		bettor  common.Address
		eventID int64
	}{
		{alice, 1}, {bob, 1}, {carol, 2},
	} {
		if _, err := l.PlaceBet(ctx, tc.bettor, tc.eventID, domain.OutcomeDraw, big.NewInt(5)); err != nil {
			t.Fatalf("PlaceBet(%s): %v", tc.bettor, err)
		}
	}

	bets := l.BetsByMarket(1)
	if len(bets) != 2 {
		t.Fatalf("len(BetsByMarket(1)) = %d, want 2", len(bets))
	}
	// Same clock for both, so order falls back to the bettor address.
	if bets[0].Bettor != alice || bets[1].Bettor != bob {
		t.Errorf("BetsByMarket(1) order = %s, %s; want %s, %s", bets[0].Bettor, bets[1].Bettor, alice, bob)
	}
	if got := l.BetsByMarket(3); len(got) != 0 {
		t.Errorf("len(BetsByMarket(3)) = %d, want 0", len(got))
	}
}

func TestRestore(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	market := func(id int64, total int64, pools map[domain.Outcome]int64) domain.Market {
		m := domain.NewMarket(id, domain.DefaultOutcomes(), now)
		for o, v := range pools {
			m.Pools[o].SetInt64(v)
		}
		m.TotalPool.SetInt64(total)
		return m
	}
	bet := func(id int64, bettor common.Address, outcome domain.Outcome, amount int64) domain.Bet {
		return domain.Bet{EventID: id, Bettor: bettor, Outcome: outcome, Amount: big.NewInt(amount), PlacedAt: now}
	}

	t.Run("round trip", func(t *testing.T) {
		l, _ := newTestLedger(t)
		markets := []domain.Market{
			market(1, 150, map[domain.Outcome]int64{domain.OutcomeHome: 100, domain.OutcomeAway: 50}),
		}
		bets := []domain.Bet{
			bet(1, alice, domain.OutcomeHome, 100),
			bet(1, bob, domain.OutcomeAway, 50),
		}
		newReporter := addr(0xEE)
		if err := l.Restore(markets, bets, newReporter); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if got := l.Reporter(); got != newReporter {
			t.Errorf("Reporter() = %s, want %s", got, newReporter)
		}
		m, err := l.Market(1)
		if err != nil {
			t.Fatalf("Market(1): %v", err)
		}
		if m.TotalPool.Int64() != 150 {
			t.Errorf("TotalPool = %s, want 150", m.TotalPool)
		}
		b, err := l.Bet(1, alice)
		if err != nil {
			t.Fatalf("Bet: %v", err)
		}
		if b.Amount.Int64() != 100 {
			t.Errorf("restored amount = %s, want 100", b.Amount)
		}
	})

	t.Run("zero reporter keeps configured one", func(t *testing.T) {
		l, _ := newTestLedger(t)
		if err := l.Restore(nil, nil, common.Address{}); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if got := l.Reporter(); got != reporterAddr {
			t.Errorf("Reporter() = %s, want %s", got, reporterAddr)
		}
	})

	t.Run("pool sum mismatch", func(t *testing.T) {
		l, _ := newTestLedger(t)
		bad := market(1, 200, map[domain.Outcome]int64{domain.OutcomeHome: 100})
		err := l.Restore([]domain.Market{bad}, nil, common.Address{})
		if err == nil {
			t.Fatal("Restore accepted pools that do not sum to the total")
		}
	})

	t.Run("stake sum mismatch", func(t *testing.T) {
		l, _ := newTestLedger(t)
		m := market(1, 100, map[domain.Outcome]int64{domain.OutcomeHome: 100})
		err := l.Restore([]domain.Market{m}, []domain.Bet{bet(1, alice, domain.OutcomeHome, 60)}, common.Address{})
		if err == nil {
			t.Fatal("Restore accepted stakes that do not sum to the total")
		}
	})

	t.Run("claimed market skips stake check", func(t *testing.T) {
		l, _ := newTestLedger(t)
		m := market(1, 100, map[domain.Outcome]int64{domain.OutcomeHome: 100})
		m.Status = domain.MarketStatusSettled
		m.Result = domain.OutcomeHome
		claimedBet := bet(1, alice, domain.OutcomeHome, 0)
		claimedBet.Claimed = true
		claimedBet.Payout = big.NewInt(100)
		if err := l.Restore([]domain.Market{m}, []domain.Bet{claimedBet}, common.Address{}); err != nil {
			t.Fatalf("Restore: %v", err)
		}
	})

	t.Run("bet on unknown market", func(t *testing.T) {
		l, _ := newTestLedger(t)
		err := l.Restore(nil, []domain.Bet{bet(9, alice, domain.OutcomeHome, 10)}, common.Address{})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Restore error = %v, want ErrNotFound", err)
		}
	})

	t.Run("non-empty ledger", func(t *testing.T) {
		l, _ := newTestLedger(t)
		if _, err := l.CreateMarket(context.Background(), reporterAddr, 1); err != nil {
			t.Fatalf("CreateMarket: %v", err)
		}
		if err := l.Restore(nil, nil, common.Address{}); err == nil {
			t.Error("Restore into non-empty ledger succeeded, want error")
		}
	})

	t.Run("invalid event id", func(t *testing.T) {
		l, _ := newTestLedger(t)
		bad := market(0, 0, nil)
		if err := l.Restore([]domain.Market{bad}, nil, common.Address{}); !errors.Is(err, domain.ErrInvalidEventID) {
			t.Errorf("Restore error = %v, want ErrInvalidEventID", err)
		}
	})
}
