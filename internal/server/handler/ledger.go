package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openwager/poolhouse/internal/service"
)

// LedgerService defines the ledger-level methods the handler requires from
// the service layer.
type LedgerService interface {
	Info(ctx context.Context) (service.LedgerInfo, error)
	SetReporter(ctx context.Context, caller, reporter common.Address) (common.Address, error)
}

// LedgerHandler serves ledger-level HTTP endpoints: the self-description and
// reporter rotation.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler with the given service and logger.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

// infoResponse is the ledger self-description.
type infoResponse struct {
	Admin     string   `json:"admin"`
	Reporter  string   `json:"reporter"`
	Custodian string   `json:"custodian"`
	Outcomes  []string `json:"outcomes"`
	Markets   int      `json:"markets"`
	Journaled int64    `json:"journaled_markets"`
	Decimals  uint8    `json:"decimals"`
}

// GetInfo returns the ledger's identities, outcome set, and market counts.
// GET /api/ledger
func (h *LedgerHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.ledger.Info(r.Context())
	if err != nil {
		failRequest(w, r, h.logger, "get ledger info", err)
		return
	}

	outcomes := make([]string, 0, len(info.Outcomes))
	for _, o := range info.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	writeJSON(w, http.StatusOK, infoResponse{
		Admin:     info.Admin.Hex(),
		Reporter:  info.Reporter.Hex(),
		Custodian: info.Custodian.Hex(),
		Outcomes:  outcomes,
		Markets:   info.Markets,
		Journaled: info.Journaled,
		Decimals:  info.Decimals,
	})
}

// setReporterRequest is the rotation request body. Caller must be the admin.
type setReporterRequest struct {
	Caller   string `json:"caller"`
	Reporter string `json:"reporter"`
}

// SetReporter rotates the result oracle.
// POST /api/ledger/reporter
func (h *LedgerHandler) SetReporter(w http.ResponseWriter, r *http.Request) {
	var req setReporterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reporter, err := parseAddress(req.Reporter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	old, err := h.ledger.SetReporter(r.Context(), caller, reporter)
	if err != nil {
		failRequest(w, r, h.logger, "set reporter", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"old_reporter": old.Hex(),
		"reporter":     reporter.Hex(),
	})
}
