package domain

import "time"

// SkipReason is a machine-readable code explaining why an account produced no
// wager this cycle. Reasons are surfaced, never silently swallowed.
type SkipReason string

const (
	SkipAccountPaused      SkipReason = "ACCOUNT_PAUSED"
	SkipHasPendingWager    SkipReason = "HAS_PENDING_WAGER"
	SkipNoScheduledFixture SkipReason = "NO_SCHEDULED_FIXTURE"
	SkipSideNotFound       SkipReason = "SIDE_NOT_FOUND"
	SkipMissingPrice       SkipReason = "MISSING_PRICE"
	SkipStopLossReached    SkipReason = "STOP_LOSS_REACHED"
	SkipLockContended      SkipReason = "LOCK_CONTENDED"
)

// OutcomeKind classifies the result of processing one staking account.
type OutcomeKind string

const (
	OutcomePlaced  OutcomeKind = "placed"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the structured result of one account-processor invocation.
// Errors are captured here and never propagate past the tenant runner.
type Outcome struct {
	Kind      OutcomeKind
	AccountID string
	Reason    SkipReason // set when Kind == OutcomeSkipped
	Wager     *Wager     // set when Kind == OutcomePlaced
	Err       error      // set when Kind == OutcomeFailed
}

// TenantResult aggregates one placement cycle for a single tenant.
type TenantResult struct {
	TenantID          string
	AccountsProcessed int
	WagersPlaced      int
	Outcomes          []Outcome
	Errors            []string
}

// ReconcileResult aggregates one settlement-check cycle for a single tenant.
type ReconcileResult struct {
	TenantID     string
	Checked      int
	Won          int
	Lost         int
	StillPending int
	Settled      []Wager // wagers settled this cycle, for notification
	Errors       []string
}

// ImportResult aggregates one fixture-import cycle for a single tenant.
type ImportResult struct {
	TenantID        string
	AccountsUpdated int
	FixturesAdded   int
	Errors          []string
}

// GlobalResult aggregates a whole scheduler run across all tenants.
type GlobalResult struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	TotalTenants  int
	Succeeded     int
	Failed        int
	Accounts      int
	WagersPlaced  int
	Won           int
	Lost          int
	StillPending  int
	TenantResults []TenantOutcome
}

// TenantOutcome pairs one tenant with whatever its callback produced,
// preserving order for audit.
type TenantOutcome struct {
	TenantID  string
	Err       error
	Placement *TenantResult
	Reconcile *ReconcileResult
	Import    *ImportResult
}
