package domain

import "time"

// ScheduledFixture is an externally discovered future event a staking account
// may wager on. Fixtures are imported from the exchange, deduplicated on
// (AccountID, EventID), and consumed at most once when converted into a
// wager.
type ScheduledFixture struct {
	ID          string
	AccountID   string
	EventID     string // exchange event identifier
	EventName   string // e.g. "Arsenal v Chelsea"
	HomeTeam    string
	AwayTeam    string
	MarketID    string
	Competition string
	Kickoff     time.Time
	QuotedPrice float64 // best available back price at import time, 0 if unknown
	Consumed    bool
	CreatedAt   time.Time
}

// Selection is a priced runner within a fixture's match-odds market.
type Selection struct {
	SelectionID string
	RunnerName  string
	Price       float64
}
