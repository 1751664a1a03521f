package handler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

type fakeBetService struct {
	bet       domain.Bet
	bets      []domain.Bet
	err       error
	gotCaller common.Address
	gotAmount *big.Int
	gotOpts   domain.ListOpts
}

func (f *fakeBetService) PlaceBet(ctx context.Context, caller common.Address, eventID int64, outcome domain.Outcome, amount *big.Int) (domain.Bet, error) {
	f.gotCaller, f.gotAmount = caller, amount
	if f.err != nil {
		return domain.Bet{}, f.err
	}
	return f.bet, nil
}

func (f *fakeBetService) ClaimWinnings(ctx context.Context, caller common.Address, eventID int64) (domain.Bet, error) {
	f.gotCaller = caller
	if f.err != nil {
		return domain.Bet{}, f.err
	}
	return f.bet, nil
}

func (f *fakeBetService) Bet(ctx context.Context, eventID int64, bettor common.Address) (domain.Bet, error) {
	if f.err != nil {
		return domain.Bet{}, f.err
	}
	return f.bet, nil
}

func (f *fakeBetService) BetsByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	f.gotCaller, f.gotOpts = bettor, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.bets, nil
}

const aliceHex = "0x00000000000000000000000000000000000000d4"

func aliceBet() domain.Bet {
	return domain.Bet{
		EventID:  42,
		Bettor:   common.HexToAddress(aliceHex),
		Outcome:  domain.OutcomeHome,
		Amount:   big.NewInt(25000000),
		PlacedAt: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestPlaceBet(t *testing.T) {
	t.Run("placed", func(t *testing.T) {
		svc := &fakeBetService{bet: aliceBet()}
		h := NewBetHandler(svc, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42,"outcome":"home","amount":"25000000"}`)
		r := httptest.NewRequest(http.MethodPost, "/api/bets", body)
		w := httptest.NewRecorder()
		h.PlaceBet(w, r)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
		}
		if svc.gotAmount.Cmp(big.NewInt(25000000)) != 0 {
			t.Errorf("service got amount %s, want 25000000", svc.gotAmount)
		}
		var resp betJSON
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Amount != "25000000" || resp.Bettor != common.HexToAddress(aliceHex).Hex() {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("malformed amount is 400", func(t *testing.T) {
		h := NewBetHandler(&fakeBetService{}, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42,"outcome":"home","amount":"1.5"}`)
		r := httptest.NewRequest(http.MethodPost, "/api/bets", body)
		w := httptest.NewRecorder()
		h.PlaceBet(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("second bet is 409", func(t *testing.T) {
		svc := &fakeBetService{err: domain.ErrDuplicateBet}
		h := NewBetHandler(svc, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42,"outcome":"home","amount":"1"}`)
		r := httptest.NewRequest(http.MethodPost, "/api/bets", body)
		w := httptest.NewRecorder()
		h.PlaceBet(w, r)

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})

	t.Run("failed escrow pull is 502", func(t *testing.T) {
		svc := &fakeBetService{err: domain.ErrTransferFailed}
		h := NewBetHandler(svc, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42,"outcome":"home","amount":"1"}`)
		r := httptest.NewRequest(http.MethodPost, "/api/bets", body)
		w := httptest.NewRecorder()
		h.PlaceBet(w, r)

		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
	})
}

func TestClaimWinnings(t *testing.T) {
	t.Run("paid", func(t *testing.T) {
		paid := aliceBet()
		paid.Amount = big.NewInt(0)
		paid.Claimed = true
		paid.ClaimedAt = paid.PlacedAt.Add(time.Hour)
		paid.Payout = big.NewInt(30000000)
		svc := &fakeBetService{bet: paid}
		h := NewBetHandler(svc, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42}`)
		r := httptest.NewRequest(http.MethodPost, "/api/claims", body)
		w := httptest.NewRecorder()
		h.ClaimWinnings(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
		}
		var resp betJSON
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Payout != "30000000" || !resp.Claimed {
			t.Errorf("response = %+v, want claimed payout 30000000", resp)
		}
	})

	t.Run("losing bet is 422", func(t *testing.T) {
		svc := &fakeBetService{err: domain.ErrLosingBet}
		h := NewBetHandler(svc, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42}`)
		r := httptest.NewRequest(http.MethodPost, "/api/claims", body)
		w := httptest.NewRecorder()
		h.ClaimWinnings(w, r)

		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", w.Code)
		}
	})

	t.Run("no stake is 404", func(t *testing.T) {
		svc := &fakeBetService{err: domain.ErrNoStake}
		h := NewBetHandler(svc, testLogger())

		body := strings.NewReader(`{"caller":"` + aliceHex + `","event_id":42}`)
		r := httptest.NewRequest(http.MethodPost, "/api/claims", body)
		w := httptest.NewRecorder()
		h.ClaimWinnings(w, r)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestGetBet(t *testing.T) {
	svc := &fakeBetService{bet: aliceBet()}
	h := NewBetHandler(svc, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/markets/42/bets/"+aliceHex, nil)
	r.SetPathValue("id", "42")
	r.SetPathValue("bettor", aliceHex)
	w := httptest.NewRecorder()
	h.GetBet(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
}

func TestListBets(t *testing.T) {
	t.Run("by bettor", func(t *testing.T) {
		svc := &fakeBetService{bets: []domain.Bet{aliceBet()}}
		h := NewBetHandler(svc, testLogger())

		r := httptest.NewRequest(http.MethodGet, "/api/bets?bettor="+aliceHex+"&limit=10", nil)
		w := httptest.NewRecorder()
		h.ListBets(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if svc.gotOpts.Limit != 10 {
			t.Errorf("service got limit %d, want 10", svc.gotOpts.Limit)
		}
		var resp listBetsResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Total != 1 {
			t.Errorf("total = %d, want 1", resp.Total)
		}
	})

	t.Run("missing bettor is 400", func(t *testing.T) {
		h := NewBetHandler(&fakeBetService{}, testLogger())

		r := httptest.NewRequest(http.MethodGet, "/api/bets", nil)
		w := httptest.NewRecorder()
		h.ListBets(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
