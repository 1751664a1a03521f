package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrNoStake, http.StatusNotFound},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrDuplicateBet, http.StatusConflict},
		{domain.ErrReentrantCall, http.StatusConflict},
		{domain.ErrZeroAddress, http.StatusBadRequest},
		{domain.ErrInvalidEventID, http.StatusBadRequest},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrUnknownOutcome, http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusUnprocessableEntity},
		{domain.ErrLosingBet, http.StatusUnprocessableEntity},
		{domain.ErrEmptyWinningPool, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrTransferFailed, http.StatusBadGateway},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("ledger_service: op: %w", tt.err)
		if got := statusFor(wrapped); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMarketJSONShape(t *testing.T) {
	created := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	t.Run("open market", func(t *testing.T) {
		m := domain.Market{
			EventID:   42,
			Status:    domain.MarketStatusOpen,
			TotalPool: big.NewInt(300),
			Pools: map[domain.Outcome]*big.Int{
				domain.OutcomeHome: big.NewInt(250),
				domain.OutcomeAway: big.NewInt(50),
			},
			CreatedAt: created,
		}
		data, err := json.Marshal(toMarketJSON(m))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		s := string(data)
		if !strings.Contains(s, `"total_pool":"300"`) {
			t.Errorf("total pool not a string: %s", s)
		}
		if strings.Contains(s, "settled_at") || strings.Contains(s, "result") {
			t.Errorf("open market leaked settlement fields: %s", s)
		}
	})

	t.Run("settled market", func(t *testing.T) {
		m := domain.Market{
			EventID:   42,
			Status:    domain.MarketStatusSettled,
			Result:    domain.OutcomeHome,
			TotalPool: big.NewInt(300),
			Pools:     map[domain.Outcome]*big.Int{domain.OutcomeHome: big.NewInt(300)},
			CreatedAt: created,
			SettledAt: created.Add(2 * time.Hour),
		}
		data, err := json.Marshal(toMarketJSON(m))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		s := string(data)
		if !strings.Contains(s, `"result":"home"`) || !strings.Contains(s, "settled_at") {
			t.Errorf("settled market missing settlement fields: %s", s)
		}
	})
}

func TestBetJSONShape(t *testing.T) {
	bettor := common.HexToAddress("0x00000000000000000000000000000000000000d4")
	placed := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	b := domain.Bet{
		EventID:  42,
		Bettor:   bettor,
		Outcome:  domain.OutcomeHome,
		Amount:   big.NewInt(100),
		PlacedAt: placed,
	}
	data, err := json.Marshal(toBetJSON(b))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"amount":"100"`) {
		t.Errorf("amount not a string: %s", s)
	}
	if strings.Contains(s, "payout") || strings.Contains(s, "claimed_at") {
		t.Errorf("unclaimed bet leaked claim fields: %s", s)
	}

	b.Claimed = true
	b.ClaimedAt = placed.Add(time.Hour)
	b.Amount = big.NewInt(0)
	b.Payout = big.NewInt(120)
	data, err = json.Marshal(toBetJSON(b))
	if err != nil {
		t.Fatalf("marshal claimed: %v", err)
	}
	s = string(data)
	if !strings.Contains(s, `"payout":"120"`) || !strings.Contains(s, `"claimed":true`) {
		t.Errorf("claimed bet missing claim fields: %s", s)
	}
}

func TestParseAmount(t *testing.T) {
	if _, err := parseAmount("25000000"); err != nil {
		t.Errorf("parseAmount(25000000) = %v, want nil", err)
	}
	big, err := parseAmount("340282366920938463463374607431768211456") // 2^128
	if err != nil {
		t.Fatalf("parseAmount(2^128) = %v, want nil", err)
	}
	if big.BitLen() != 129 {
		t.Errorf("parsed bit length = %d, want 129", big.BitLen())
	}
	for _, bad := range []string{"", "1.5", "1e18", "0x10", "ten"} {
		if _, err := parseAmount(bad); err == nil {
			t.Errorf("parseAmount(%q) = nil error, want failure", bad)
		}
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := parseAddress("0x00000000000000000000000000000000000000d4"); err != nil {
		t.Errorf("parseAddress(valid) = %v, want nil", err)
	}
	for _, bad := range []string{"", "0x123", "d4", "0xZZ000000000000000000000000000000000000d4"} {
		if _, err := parseAddress(bad); err == nil {
			t.Errorf("parseAddress(%q) = nil error, want failure", bad)
		}
	}
}

func TestPathEventID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/markets/42", nil)
	r.SetPathValue("id", "42")
	id, err := pathEventID(r)
	if err != nil || id != 42 {
		t.Errorf("pathEventID = %d, %v, want 42, nil", id, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/markets/abc", nil)
	r.SetPathValue("id", "abc")
	if _, err := pathEventID(r); err == nil {
		t.Error("pathEventID(abc) = nil error, want failure")
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/audit?limit=9000&offset=10", nil)
	opts := parseListOpts(r)
	if opts.Limit != 500 {
		t.Errorf("limit = %d, want clamped 500", opts.Limit)
	}
	if opts.Offset != 10 {
		t.Errorf("offset = %d, want 10", opts.Offset)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	opts = parseListOpts(r)
	if opts.Limit != 50 || opts.Offset != 0 {
		t.Errorf("defaults = %d/%d, want 50/0", opts.Limit, opts.Offset)
	}
}
