package notify

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openwager/poolhouse/internal/domain"
)

// NotifyEvent renders a ledger event into an operator alert and fans it
// out, honoring the configured event filter.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	title, message := n.renderEvent(evt)
	return n.Notify(ctx, evt.Name, title, message)
}

// renderEvent turns an event's field map into an alert title and body.
// Unknown event names fall back to a generic key=value rendering.
func (n *Notifier) renderEvent(evt domain.Event) (string, string) {
	f := evt.Fields
	switch evt.Name {
	case domain.EventReporterChanged:
		return "Reporter rotated",
			fmt.Sprintf("Result reporter changed from %s to %s.", f["old"], f["new"])

	case domain.EventMarketCreated:
		return "Market opened",
			fmt.Sprintf("Market %d is open for bets (%s).", evt.EventID, f["outcomes"])

	case domain.EventBetPlaced:
		msg := fmt.Sprintf("%s staked %s on %s in market %d.",
			f["bettor"], n.formatAmount(f["amount"]), f["outcome"], evt.EventID)
		if total := f["total_pool"]; total != "" {
			msg += fmt.Sprintf(" Pool is now %s.", n.formatAmount(total))
		}
		return "Bet placed", msg

	case domain.EventResultReported:
		return "Result posted",
			fmt.Sprintf("Market %d settled %s with %s in the pool.",
				evt.EventID, f["result"], n.formatAmount(f["total_pool"]))

	case domain.EventWinningsClaimed:
		return "Winnings paid",
			fmt.Sprintf("%s claimed %s from market %d.",
				f["bettor"], n.formatAmount(f["payout"]), evt.EventID)
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+f[k])
	}
	return evt.Name, strings.Join(pairs, " ")
}

// formatAmount scales a base-unit decimal string by the token's decimals
// for display. Malformed input is returned as-is rather than dropped.
func (n *Notifier) formatAmount(raw string) string {
	units, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return decimal.NewFromBigInt(units, -int32(n.decimals)).String()
}
