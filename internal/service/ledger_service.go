// Package service orchestrates the wagering core: every mutation runs
// against the in-memory ledger first, then fans out to the journal, the
// market cache, the signal bus, the audit log, and the notifier. The
// fan-out is write-behind: a failure there is logged and never rolls
// back a committed ledger mutation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openwager/poolhouse/internal/domain"
	"github.com/openwager/poolhouse/internal/ledger"
)

// eventStream is the durable Redis stream every ledger event is appended to,
// alongside its per-event pub/sub channel.
const eventStream = "ledger-events"

// EventNotifier pushes operator-facing alerts after ledger mutations.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, evt domain.Event) error
}

// LedgerService wraps the ledger core with persistence and event fan-out.
type LedgerService struct {
	core     *ledger.Ledger
	markets  domain.MarketStore
	bets     domain.BetStore
	roles    domain.RoleStore
	audit    domain.AuditStore
	cache    domain.MarketCache
	bus      domain.SignalBus
	notifier EventNotifier
	decimals uint8
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
// decimals is the escrow token's precision, echoed in ledger info.
func NewLedgerService(
	core *ledger.Ledger,
	markets domain.MarketStore,
	bets domain.BetStore,
	roles domain.RoleStore,
	audit domain.AuditStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	decimals uint8,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		core:     core,
		markets:  markets,
		bets:     bets,
		roles:    roles,
		audit:    audit,
		cache:    cache,
		bus:      bus,
		decimals: decimals,
		logger:   logger,
	}
}

// WithNotifier attaches an operator notifier. Without one, events still go
// to the bus and the audit log.
func (s *LedgerService) WithNotifier(n EventNotifier) *LedgerService {
	s.notifier = n
	return s
}

// RestoreFromJournal replays the journal into the (empty) ledger core and
// re-applies a persisted reporter rotation. Call once at startup, before
// the API starts taking writes.
func (s *LedgerService) RestoreFromJournal(ctx context.Context) error {
	markets, err := s.markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("ledger_service: restore: list markets: %w", err)
	}

	var bets []domain.Bet
	for _, m := range markets {
		bs, err := s.bets.ListByMarket(ctx, m.EventID, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("ledger_service: restore: list bets for market %d: %w", m.EventID, err)
		}
		bets = append(bets, bs...)
	}

	reporter, err := s.roles.Get(ctx, domain.RoleReporter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ledger_service: restore: load reporter role: %w", err)
	}

	if err := s.core.Restore(markets, bets, reporter); err != nil {
		return fmt.Errorf("ledger_service: restore: %w", err)
	}

	s.logger.InfoContext(ctx, "ledger_service: journal restored",
		slog.Int("markets", len(markets)),
		slog.Int("bets", len(bets)),
		slog.Bool("reporter_rotated", reporter != (common.Address{})),
	)
	return nil
}

// SetReporter rotates the result oracle. Admin only.
func (s *LedgerService) SetReporter(ctx context.Context, caller, reporter common.Address) (common.Address, error) {
	old, err := s.core.SetReporter(ctx, caller, reporter)
	if err != nil {
		return common.Address{}, fmt.Errorf("ledger_service: set reporter: %w", err)
	}

	if roleErr := s.roles.Set(ctx, domain.RoleReporter, reporter); roleErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: persist reporter role failed",
			slog.String("reporter", reporter.Hex()),
			slog.String("error", roleErr.Error()),
		)
	}

	fields := map[string]string{
		"old": old.Hex(),
		"new": reporter.Hex(),
	}
	s.emit(ctx, domain.EventReporterChanged, 0, fields)
	s.auditLog(ctx, domain.EventReporterChanged, map[string]any{
		"old": old.Hex(),
		"new": reporter.Hex(),
	})

	s.logger.InfoContext(ctx, "ledger_service: reporter rotated",
		slog.String("old", old.Hex()),
		slog.String("new", reporter.Hex()),
	)
	return old, nil
}

// CreateMarket opens a new market for an event. Reporter only.
func (s *LedgerService) CreateMarket(ctx context.Context, caller common.Address, eventID int64) (domain.Market, error) {
	m, err := s.core.CreateMarket(ctx, caller, eventID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: create market: %w", err)
	}

	s.journalMarket(ctx, m)
	s.cacheMarket(ctx, m)

	outcomes := make([]string, 0, len(s.core.Outcomes()))
	for _, o := range s.core.Outcomes() {
		outcomes = append(outcomes, string(o))
	}
	s.emit(ctx, domain.EventMarketCreated, eventID, map[string]string{
		"status":   string(m.Status),
		"outcomes": strings.Join(outcomes, ","),
	})
	s.auditLog(ctx, domain.EventMarketCreated, map[string]any{
		"event_id": eventID,
		"caller":   caller.Hex(),
	})

	s.logger.InfoContext(ctx, "ledger_service: market created",
		slog.Int64("event_id", eventID),
		slog.String("caller", caller.Hex()),
	)
	return m, nil
}

// PlaceBet escrows a stake on an outcome of an open market.
func (s *LedgerService) PlaceBet(ctx context.Context, caller common.Address, eventID int64, outcome domain.Outcome, amount *big.Int) (domain.Bet, error) {
	bet, err := s.core.PlaceBet(ctx, caller, eventID, outcome, amount)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger_service: place bet: %w", err)
	}

	s.journalBet(ctx, bet)

	market, merr := s.core.Market(eventID)
	if merr == nil {
		s.journalMarket(ctx, market)
		s.cacheMarket(ctx, market)
	}

	fields := map[string]string{
		"bettor":  bet.Bettor.Hex(),
		"outcome": string(bet.Outcome),
		"amount":  bet.Amount.String(),
	}
	if merr == nil {
		fields["total_pool"] = market.TotalPool.String()
	}
	s.emit(ctx, domain.EventBetPlaced, eventID, fields)
	s.auditLog(ctx, domain.EventBetPlaced, map[string]any{
		"event_id": eventID,
		"bettor":   bet.Bettor.Hex(),
		"outcome":  string(bet.Outcome),
		"amount":   bet.Amount.String(),
	})

	s.logger.InfoContext(ctx, "ledger_service: bet placed",
		slog.Int64("event_id", eventID),
		slog.String("bettor", bet.Bettor.Hex()),
		slog.String("outcome", string(bet.Outcome)),
		slog.String("amount", bet.Amount.String()),
	)
	return bet, nil
}

// ReportResult publishes the outcome of an event and settles its market.
// Reporter only.
func (s *LedgerService) ReportResult(ctx context.Context, caller common.Address, eventID int64, result domain.Outcome) (domain.Market, error) {
	m, err := s.core.ReportResult(ctx, caller, eventID, result)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: report result: %w", err)
	}

	s.journalMarket(ctx, m)
	s.cacheMarket(ctx, m)

	s.emit(ctx, domain.EventResultReported, eventID, map[string]string{
		"result":       string(m.Result),
		"total_pool":   m.TotalPool.String(),
		"winning_pool": m.Pools[m.Result].String(),
	})
	s.auditLog(ctx, domain.EventResultReported, map[string]any{
		"event_id": eventID,
		"result":   string(m.Result),
		"caller":   caller.Hex(),
	})

	s.logger.InfoContext(ctx, "ledger_service: result reported",
		slog.Int64("event_id", eventID),
		slog.String("result", string(m.Result)),
	)
	return m, nil
}

// ClaimWinnings pays a winning bettor their pool share.
func (s *LedgerService) ClaimWinnings(ctx context.Context, caller common.Address, eventID int64) (domain.Bet, error) {
	bet, err := s.core.ClaimWinnings(ctx, caller, eventID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger_service: claim winnings: %w", err)
	}

	s.journalBet(ctx, bet)

	s.emit(ctx, domain.EventWinningsClaimed, eventID, map[string]string{
		"bettor":  bet.Bettor.Hex(),
		"outcome": string(bet.Outcome),
		"payout":  bet.Payout.String(),
	})
	s.auditLog(ctx, domain.EventWinningsClaimed, map[string]any{
		"event_id": eventID,
		"bettor":   bet.Bettor.Hex(),
		"payout":   bet.Payout.String(),
	})

	s.logger.InfoContext(ctx, "ledger_service: winnings claimed",
		slog.Int64("event_id", eventID),
		slog.String("bettor", bet.Bettor.Hex()),
		slog.String("payout", bet.Payout.String()),
	)
	return bet, nil
}

// LedgerInfo is the self-description served by the API root.
type LedgerInfo struct {
	Admin     common.Address
	Reporter  common.Address
	Custodian common.Address
	Outcomes  []domain.Outcome
	Markets   int
	Journaled int64
	Decimals  uint8
}

// Info returns the ledger's identities, outcome set, and market counts.
func (s *LedgerService) Info(ctx context.Context) (LedgerInfo, error) {
	journaled, err := s.markets.Count(ctx)
	if err != nil {
		return LedgerInfo{}, fmt.Errorf("ledger_service: info: %w", err)
	}
	return LedgerInfo{
		Admin:     s.core.Admin(),
		Reporter:  s.core.Reporter(),
		Custodian: s.core.Custodian(),
		Outcomes:  s.core.Outcomes(),
		Markets:   len(s.core.Markets()),
		Journaled: journaled,
		Decimals:  s.decimals,
	}, nil
}

// Market returns one market from the authoritative in-memory state.
func (s *LedgerService) Market(ctx context.Context, eventID int64) (domain.Market, error) {
	m, err := s.core.Market(eventID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: get market: %w", err)
	}
	return m, nil
}

// Markets returns all markets ordered by event ID.
func (s *LedgerService) Markets(ctx context.Context) []domain.Market {
	return s.core.Markets()
}

// Bet returns one participant's wager on one market.
func (s *LedgerService) Bet(ctx context.Context, eventID int64, bettor common.Address) (domain.Bet, error) {
	b, err := s.core.Bet(eventID, bettor)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger_service: get bet: %w", err)
	}
	return b, nil
}

// BetsByMarket returns every wager on one market.
func (s *LedgerService) BetsByMarket(ctx context.Context, eventID int64) []domain.Bet {
	return s.core.BetsByMarket(eventID)
}

// BetsByBettor returns a bettor's wagers across markets from the journal,
// the only place that query is indexed.
func (s *LedgerService) BetsByBettor(ctx context.Context, bettor common.Address, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.bets.ListByBettor(ctx, bettor, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list bets by bettor: %w", err)
	}
	return bets, nil
}

// AuditTrail returns audit entries, newest first.
func (s *LedgerService) AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: audit trail: %w", err)
	}
	return entries, nil
}

// journalMarket writes a market row, logging instead of failing: the
// in-memory ledger already committed.
func (s *LedgerService) journalMarket(ctx context.Context, m domain.Market) {
	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: journal market failed",
			slog.Int64("event_id", m.EventID),
			slog.String("error", err.Error()),
		)
	}
}

// journalBet writes a bet row, logging instead of failing.
func (s *LedgerService) journalBet(ctx context.Context, b domain.Bet) {
	if err := s.bets.Upsert(ctx, b); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: journal bet failed",
			slog.Int64("event_id", b.EventID),
			slog.String("bettor", b.Bettor.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// cacheMarket refreshes the shared market snapshot, logging instead of
// failing.
func (s *LedgerService) cacheMarket(ctx context.Context, m domain.Market) {
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache market failed",
			slog.Int64("event_id", m.EventID),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog appends an audit row, logging instead of failing.
func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes a ledger event on its pub/sub channel, appends it to the
// durable stream, and pushes it to the notifier when one is attached.
func (s *LedgerService) emit(ctx context.Context, name string, eventID int64, fields map[string]string) {
	evt := domain.Event{
		ID:        uuid.New().String(),
		Name:      name,
		EventID:   eventID,
		Fields:    fields,
		EmittedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger_service: marshal event failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
		return
	}

	if pubErr := s.bus.Publish(ctx, evt.Channel(), payload); pubErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("channel", evt.Channel()),
			slog.String("error", pubErr.Error()),
		)
	}
	if streamErr := s.bus.StreamAppend(ctx, eventStream, payload); streamErr != nil {
		s.logger.WarnContext(ctx, "ledger_service: stream append failed",
			slog.String("stream", eventStream),
			slog.String("error", streamErr.Error()),
		)
	}

	if s.notifier != nil {
		if notifyErr := s.notifier.NotifyEvent(ctx, evt); notifyErr != nil {
			s.logger.WarnContext(ctx, "ledger_service: notify failed",
				slog.String("event", name),
				slog.String("error", notifyErr.Error()),
			)
		}
	}
}
