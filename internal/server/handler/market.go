package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, caller common.Address, eventID int64) (domain.Market, error)
	ReportResult(ctx context.Context, caller common.Address, eventID int64, result domain.Outcome) (domain.Market, error)
	Market(ctx context.Context, eventID int64) (domain.Market, error)
	Markets(ctx context.Context) []domain.Market
	BetsByMarket(ctx context.Context, eventID int64) []domain.Bet
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output.
type listMarketsResponse struct {
	Markets []marketJSON `json:"markets"`
	Total   int          `json:"total"`
}

// ListMarkets returns all markets, optionally filtered by status. Markets
// are served from the authoritative in-memory state, so there is no
// pagination: the set is bounded by what the ledger holds.
// GET /api/markets?status=open
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.markets.Markets(r.Context())

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := markets[:0]
		for _, m := range markets {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: toMarketList(markets),
		Total:   len(markets),
	})
}

// createMarketRequest is the market creation body. Caller must be the
// reporter.
type createMarketRequest struct {
	Caller  string `json:"caller"`
	EventID int64  `json:"event_id"`
}

// CreateMarket opens a new market for an event.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), caller, req.EventID)
	if err != nil {
		failRequest(w, r, h.logger, "create market", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMarketJSON(market))
}

// GetMarket returns a single market by its event ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.Market(r.Context(), eventID)
	if err != nil {
		failRequest(w, r, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketJSON(market))
}

// reportResultRequest is the settlement body. Caller must be the reporter.
type reportResultRequest struct {
	Caller string `json:"caller"`
	Result string `json:"result"`
}

// ReportResult publishes the outcome of an event and settles its market.
// POST /api/markets/{id}/result
func (h *MarketHandler) ReportResult(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req reportResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.ReportResult(r.Context(), caller, eventID, domain.Outcome(req.Result))
	if err != nil {
		failRequest(w, r, h.logger, "report result", err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketJSON(market))
}

// listBetsResponse wraps a bet list.
type listBetsResponse struct {
	Bets  []betJSON `json:"bets"`
	Total int       `json:"total"`
}

// ListMarketBets returns every wager on one market, in placement order.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListMarketBets(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Missing markets yield an empty list rather than a 404: the market
	// check belongs to GetMarket.
	bets := h.markets.BetsByMarket(r.Context(), eventID)

	writeJSON(w, http.StatusOK, listBetsResponse{
		Bets:  toBetList(bets),
		Total: len(bets),
	})
}
