package domain

import "time"

// WagerState tracks the wager lifecycle.
//
//	created → submitted → pending → settled_won | settled_lost
//	created | submitted → failed
//
// settled_won, settled_lost and failed are terminal.
type WagerState string

const (
	WagerCreated     WagerState = "created"
	WagerSubmitted   WagerState = "submitted"
	WagerPending     WagerState = "pending"
	WagerSettledWon  WagerState = "settled_won"
	WagerSettledLost WagerState = "settled_lost"
	WagerFailed      WagerState = "failed"
)

// Terminal reports whether no further transition is defined out of s.
func (s WagerState) Terminal() bool {
	switch s {
	case WagerSettledWon, WagerSettledLost, WagerFailed:
		return true
	}
	return false
}

// Wager is a single financial commitment: one stake against a quoted price on
// one fixture. A staking account holds at most one non-terminal wager at any
// time; the idempotency guard enforces this before creation.
type Wager struct {
	ID              string
	AccountID       string
	TenantID        string
	FixtureID       string
	MarketID        string
	EventName       string
	SelectionID     string
	RunnerName      string
	Price           float64
	Stake           float64
	PotentialPayoff float64
	OrderID         string // exchange order id, assigned on submission
	State           WagerState
	FailReason      string  // venue rejection code for failed wagers
	Result          float64 // signed profit/loss once settled
	CreatedAt       time.Time
	PlacedAt        *time.Time
	SettledAt       *time.Time
}

// SettledOrder is the exchange's final determination for one order, as
// reported by the cleared-orders feed.
type SettledOrder struct {
	OrderID   string
	Payoff    float64 // signed: > 0 won, <= 0 lost
	SettledAt time.Time
}
