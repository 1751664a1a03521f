package domain

import "time"

// Event names, one per successful ledger mutation.
const (
	EventReporterChanged = "reporter-changed"
	EventMarketCreated   = "market-created"
	EventBetPlaced       = "bet-placed"
	EventResultReported  = "result-reported"
	EventWinningsClaimed = "winnings-claimed"
)

// Event is the notification emitted after a ledger mutation commits.
// Amounts travel as decimal strings so payloads survive JSON intact.
type Event struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	EventID   int64             `json:"event_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	EmittedAt time.Time         `json:"emitted_at"`
}

// Channel returns the pub/sub channel the event is published on.
func (e Event) Channel() string { return "ledger." + e.Name }
