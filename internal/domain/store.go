package domain

import (
	"context"
	"io"
	"time"
)

// TenantStore persists tenants. Eligibility filtering (billing state, valid
// credentials, at least one active account) is owned by the query, not the
// engine.
type TenantStore interface {
	GetByID(ctx context.Context, id string) (Tenant, error)
	// ListEligible returns enabled tenants that hold exchange credentials
	// and at least one active staking account.
	ListEligible(ctx context.Context) ([]Tenant, error)
	Upsert(ctx context.Context, t Tenant) error
}

// AccountStore persists staking accounts. Progression fields are mutated only
// through UpdateProgression and Reactivate; read-modify-write of those fields
// must be atomic per account.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (StakingAccount, error)
	ListActive(ctx context.Context, tenantID string) ([]StakingAccount, error)
	Create(ctx context.Context, a StakingAccount) error
	UpdateProgression(ctx context.Context, id string, u ProgressionUpdate) error
	// SetStatus pauses or reactivates an account. Reactivation resets
	// cumulative loss and progression step to zero.
	SetStatus(ctx context.Context, id string, status AccountStatus) error
}

// FixtureStore persists scheduled fixtures. Upsert deduplicates on
// (AccountID, EventID) so re-imports cannot produce duplicates.
type FixtureStore interface {
	Upsert(ctx context.Context, f ScheduledFixture) (created bool, err error)
	// NextUnconsumed returns the chronologically earliest unconsumed fixture
	// for the account, or ErrNotFound.
	NextUnconsumed(ctx context.Context, accountID string) (ScheduledFixture, error)
}

// WagerStore persists wagers. ConsumeAndCreate and ApplySettlement are the
// two transactional mutations of the authoritative store.
type WagerStore interface {
	GetByID(ctx context.Context, id string) (Wager, error)
	// CountUnresolved returns the number of non-terminal wagers for the
	// account. The idempotency guard queries this, never the mirror.
	CountUnresolved(ctx context.Context, accountID string) (int, error)
	ListPending(ctx context.Context, tenantID string) ([]Wager, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Wager, error)
	// ConsumeAndCreate marks the fixture consumed and inserts the wager in
	// one transaction, so a retried processor invocation cannot stake the
	// same fixture twice. Returns ErrAlreadyExists if the fixture was
	// already consumed.
	ConsumeAndCreate(ctx context.Context, fixtureID string, w Wager) error
	// UpdateSubmission records the exchange acknowledgement (order id,
	// pending state) or rejection (failed state with reason).
	UpdateSubmission(ctx context.Context, id string, state WagerState, orderID, failReason string) error
	// ApplySettlement transitions a pending wager to a terminal settled
	// state and applies the progression update to the owning account in one
	// transaction. Applying to an already-terminal wager is a no-op and
	// returns the stored wager unchanged.
	ApplySettlement(ctx context.Context, id string, state WagerState, result float64, u ProgressionUpdate) (Wager, error)
}

// ExchangeGateway is the narrow contract against the wagering venue. Session
// and credential lifecycle are owned by the implementation; a missing session
// surfaces as ErrExchangeUnavailable, which is retryable.
type ExchangeGateway interface {
	ListEvents(ctx context.Context, credentialRef, textQuery string) ([]ExchangeEvent, error)
	ListMarketCatalogue(ctx context.Context, credentialRef, eventID string) (MarketCatalogue, error)
	GetQuote(ctx context.Context, credentialRef, marketID string) ([]Selection, error)
	PlaceOrder(ctx context.Context, credentialRef string, o OrderRequest) (OrderAck, error)
	ListSettledOrders(ctx context.Context, credentialRef string, since time.Time) ([]SettledOrder, error)
}

// ExchangeEvent is a venue event as returned by an event search.
type ExchangeEvent struct {
	EventID         string
	Name            string
	CompetitionName string
	OpenDate        time.Time
}

// MarketCatalogue describes one match-odds market and its runners.
type MarketCatalogue struct {
	MarketID  string
	StartTime time.Time
	Runners   []Selection
}

// OrderRequest is a single back order at a fixed price.
type OrderRequest struct {
	MarketID    string
	SelectionID string
	Stake       float64
	Price       float64
	Reference   string // client order reference (wager id)
}

// OrderAck is the venue's acknowledgement of a placement attempt.
type OrderAck struct {
	OrderID       string
	Matched       bool
	RejectionCode string // non-empty when the venue refused the order
}

// MirrorStore is the best-effort human-readable view of accounts and wagers.
// It may lag the authoritative store and must never be consulted for
// correctness decisions.
type MirrorStore interface {
	UpsertAccountRow(ctx context.Context, docID string, a StakingAccount) error
	AppendOrUpdateWagerRow(ctx context.Context, docID string, w Wager) error
	ReadPendingRows(ctx context.Context, docID string) ([]MirrorWagerRow, error)
}

// MirrorWagerRow is a wager as the mirror document displays it, used for
// display-parity checks only.
type MirrorWagerRow struct {
	AccountID string
	WagerID   string
	OrderID   string
	EventName string
	Stake     float64
	Status    string
}

// LockManager provides advisory distributed locks. The idempotency guard is
// the correctness mechanism; locks only narrow the race window between
// overlapping scheduler runs.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles calls against the rate-limited venue.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// BlobWriter stores audit exports in object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
