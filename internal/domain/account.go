package domain

import "time"

// AccountStatus tracks whether a staking account is eligible for new wagers.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountPaused AccountStatus = "paused"
)

// StakingAccount is the unit of loss-recovery progression: one tracked entity
// (a team) with its own cumulative-loss and progression-step counters.
//
// Steady-state invariant: after every settled cycle either both
// CumulativeLoss and ProgressionStep are zero (last wager won) or both are
// positive (recovery in progress). The pair only diverges transiently while a
// wager is pending. Mutation happens exclusively through settlement in the
// lifecycle machine, or through an explicit reactivation which zeroes both.
type StakingAccount struct {
	ID              string
	TenantID        string
	EntityName      string // exact participant name as quoted by the exchange
	Competition     string
	InitialStake    float64
	CumulativeLoss  float64
	ProgressionStep int
	LastStake       float64
	Status          AccountStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProgressionUpdate is the settlement-driven change applied to an account.
type ProgressionUpdate struct {
	CumulativeLoss  float64
	ProgressionStep int
	LastStake       float64
	Status          AccountStatus
}
