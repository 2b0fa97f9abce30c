package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// Event types emitted by the engine. Operators subscribe per type through the
// notifications.events config list.
const (
	EventWagerPlaced    = "wager.placed"
	EventWagerSettled   = "wager.settled"
	EventStopLoss       = "account.stop_loss"
	EventCycleComplete  = "cycle.complete"
	EventExchangeOutage = "exchange.outage"
)

// FormatWagerPlaced renders a placement alert body.
func FormatWagerPlaced(w domain.Wager) (title, message string) {
	title = "Wager placed"
	message = fmt.Sprintf("%s — %s @ %.2f, stake %.2f (order %s)",
		w.EventName, w.RunnerName, w.Price, w.Stake, w.OrderID)
	return title, message
}

// FormatWagerSettled renders a settlement alert body.
func FormatWagerSettled(w domain.Wager) (title, message string) {
	verdict := "LOST"
	if w.State == domain.WagerSettledWon {
		verdict = "WON"
	}
	title = "Wager " + strings.ToLower(verdict)
	message = fmt.Sprintf("%s — %s, stake %.2f, result %+.2f",
		w.EventName, w.RunnerName, w.Stake, w.Result)
	return title, message
}

// FormatStopLoss renders the alert sent when an account hits its step cap and
// is paused pending manual review.
func FormatStopLoss(a domain.StakingAccount) (title, message string) {
	title = "Stop loss reached"
	message = fmt.Sprintf("%s paused at step %d with cumulative loss %.2f; manual reset required",
		a.EntityName, a.ProgressionStep, a.CumulativeLoss)
	return title, message
}

// FormatCycleSummary renders the end-of-run digest for a scheduler pass.
func FormatCycleSummary(r domain.GlobalResult) (title, message string) {
	title = "Cycle complete"
	message = fmt.Sprintf(
		"%d tenants (%d ok, %d failed), %d accounts, %d placed, %d won, %d lost, %d pending, took %s",
		r.TotalTenants, r.Succeeded, r.Failed,
		r.Accounts, r.WagersPlaced, r.Won, r.Lost, r.StillPending,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
	)
	return title, message
}
