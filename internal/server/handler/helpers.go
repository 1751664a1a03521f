package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps ledger sentinels onto HTTP status codes. Anything not
// recognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNoStake):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrDuplicateBet),
		errors.Is(err, domain.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrInvalidEventID),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownOutcome):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrLosingBet),
		errors.Is(err, domain.ErrEmptyWinningPool):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failRequest maps a ledger error onto an HTTP response. Rejections carry
// their error text; unexpected failures are logged and masked.
func failRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+action+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to "+action)
		return
	}
	writeError(w, status, err.Error())
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathEventID parses the {id} path segment as an event ID.
func pathEventID(r *http.Request) (int64, error) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid market id %q", raw)
	}
	return id, nil
}

// parseAddress validates and decodes a hex address from a request. The zero
// address passes through here; the ledger rejects it where it matters.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount decodes a base-unit amount from its decimal string form.
func parseAmount(s string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return x, nil
}

// marketJSON is the wire form of a market. Pool amounts are decimal strings
// of token base units, matching the event payloads.
type marketJSON struct {
	EventID   int64             `json:"event_id"`
	Status    string            `json:"status"`
	Result    string            `json:"result,omitempty"`
	TotalPool string            `json:"total_pool"`
	Pools     map[string]string `json:"pools"`
	CreatedAt time.Time         `json:"created_at"`
	SettledAt *time.Time        `json:"settled_at,omitempty"`
}

func toMarketJSON(m domain.Market) marketJSON {
	pools := make(map[string]string, len(m.Pools))
	for o, p := range m.Pools {
		pools[string(o)] = bigString(p)
	}
	out := marketJSON{
		EventID:   m.EventID,
		Status:    string(m.Status),
		Result:    string(m.Result),
		TotalPool: bigString(m.TotalPool),
		Pools:     pools,
		CreatedAt: m.CreatedAt,
	}
	if !m.SettledAt.IsZero() {
		t := m.SettledAt
		out.SettledAt = &t
	}
	return out
}

func toMarketList(ms []domain.Market) []marketJSON {
	out := make([]marketJSON, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMarketJSON(m))
	}
	return out
}

// betJSON is the wire form of a bet.
type betJSON struct {
	EventID   int64      `json:"event_id"`
	Bettor    string     `json:"bettor"`
	Outcome   string     `json:"outcome"`
	Amount    string     `json:"amount"`
	PlacedAt  time.Time  `json:"placed_at"`
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Payout    string     `json:"payout,omitempty"`
}

func toBetJSON(b domain.Bet) betJSON {
	out := betJSON{
		EventID:  b.EventID,
		Bettor:   b.Bettor.Hex(),
		Outcome:  string(b.Outcome),
		Amount:   bigString(b.Amount),
		PlacedAt: b.PlacedAt,
		Claimed:  b.Claimed,
	}
	if !b.ClaimedAt.IsZero() {
		t := b.ClaimedAt
		out.ClaimedAt = &t
	}
	if b.Payout != nil {
		out.Payout = b.Payout.String()
	}
	return out
}

func toBetList(bs []domain.Bet) []betJSON {
	out := make([]betJSON, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBetJSON(b))
	}
	return out
}

func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
