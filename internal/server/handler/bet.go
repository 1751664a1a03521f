package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

// BetService defines the methods that the bet handler requires from the
// service layer.
type BetService interface {
	PlaceBet(ctx context.Context, caller common.Address, eventID int64, outcome domain.Outcome, amount *big.Int) (domain.Bet, error)
	ClaimWinnings(ctx context.Context, caller common.Address, eventID int64) (domain.Bet, error)
	Bet(ctx context.Context, eventID int64, bettor common.Address) (domain.Bet, error)
	BetsByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error)
}

// BetHandler serves bet-related HTTP endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the wager body. Amount is a decimal string of token
// base units.
type placeBetRequest struct {
	Caller  string `json:"caller"`
	EventID int64  `json:"event_id"`
	Outcome string `json:"outcome"`
	Amount  string `json:"amount"`
}

// PlaceBet escrows a stake on an outcome of an open market.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.bets.PlaceBet(r.Context(), caller, req.EventID, domain.Outcome(req.Outcome), amount)
	if err != nil {
		failRequest(w, r, h.logger, "place bet", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBetJSON(bet))
}

// claimRequest is the claim body.
type claimRequest struct {
	Caller  string `json:"caller"`
	EventID int64  `json:"event_id"`
}

// ClaimWinnings pays a winning bettor their pool share.
// POST /api/claims
func (h *BetHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.bets.ClaimWinnings(r.Context(), caller, req.EventID)
	if err != nil {
		failRequest(w, r, h.logger, "claim winnings", err)
		return
	}

	writeJSON(w, http.StatusOK, toBetJSON(bet))
}

// GetBet returns one participant's wager on one market.
// GET /api/markets/{id}/bets/{bettor}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bettor, err := parseAddress(pathParam(r, "bettor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.bets.Bet(r.Context(), eventID, bettor)
	if err != nil {
		failRequest(w, r, h.logger, "get bet", err)
		return
	}

	writeJSON(w, http.StatusOK, toBetJSON(bet))
}

// ListBets returns a bettor's wagers across markets from the journal,
// newest first.
// GET /api/bets?bettor=0x...&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("bettor")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "bettor query parameter required")
		return
	}
	bettor, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bets, err := h.bets.BetsByBettor(r.Context(), bettor, parseListOpts(r))
	if err != nil {
		failRequest(w, r, h.logger, "list bets", err)
		return
	}

	writeJSON(w, http.StatusOK, listBetsResponse{
		Bets:  toBetList(bets),
		Total: len(bets),
	})
}
