package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvrosca/stakepilot/internal/domain"
	"github.com/mvrosca/stakepilot/internal/staking"
)

// accountLockTTL bounds how long a crashed processor can hold an account
// lock before it expires on its own.
const accountLockTTL = 2 * time.Minute

// Guard is the idempotency guard: it blocks issuing a new wager while the
// account has one unresolved. It always queries the authoritative wager
// store; the mirror may be stale and would permit double-staking.
type Guard struct {
	wagers domain.WagerStore
}

// NewGuard creates a Guard over the authoritative wager store.
func NewGuard(wagers domain.WagerStore) *Guard {
	return &Guard{wagers: wagers}
}

// HasUnresolvedWager reports whether the account holds any non-terminal
// wager. This is the sole mechanism keeping a slow-settling wager from being
// topped up by a second stake.
func (g *Guard) HasUnresolvedWager(ctx context.Context, accountID string) (bool, error) {
	n, err := g.wagers.CountUnresolved(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("guard: count unresolved for %s: %w", accountID, err)
	}
	return n > 0, nil
}

// Processor drives one staking account through a placement attempt: guard
// check, fixture selection, participant resolution, stake calculation and
// order submission. Every exit path is a structured Outcome; errors never
// propagate past the tenant runner.
type Processor struct {
	accounts domain.AccountStore
	fixtures domain.FixtureStore
	wagers   domain.WagerStore
	guard    *Guard
	machine  *Lifecycle
	exchange domain.ExchangeGateway
	mirror   domain.MirrorStore
	locks    domain.LockManager
	maxSteps int
	logger   *slog.Logger
}

// NewProcessor creates a Processor. The lock manager may be nil, in which
// case only the store-backed guard protects against concurrent runs.
func NewProcessor(
	accounts domain.AccountStore,
	fixtures domain.FixtureStore,
	wagers domain.WagerStore,
	machine *Lifecycle,
	exchange domain.ExchangeGateway,
	mirror domain.MirrorStore,
	locks domain.LockManager,
	maxSteps int,
	logger *slog.Logger,
) *Processor {
	if maxSteps <= 0 {
		maxSteps = staking.DefaultMaxSteps
	}
	return &Processor{
		accounts: accounts,
		fixtures: fixtures,
		wagers:   wagers,
		guard:    NewGuard(wagers),
		machine:  machine,
		exchange: exchange,
		mirror:   mirror,
		locks:    locks,
		maxSteps: maxSteps,
		logger:   logger.With(slog.String("component", "processor")),
	}
}

func skipped(accountID string, reason domain.SkipReason) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeSkipped, AccountID: accountID, Reason: reason}
}

func failed(accountID string, err error) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeFailed, AccountID: accountID, Err: err}
}

// Process runs one placement attempt for the account.
func (p *Processor) Process(ctx context.Context, tenant domain.Tenant, account domain.StakingAccount) domain.Outcome {
	log := p.logger.With(
		slog.String("tenant_id", tenant.ID),
		slog.String("account_id", account.ID),
		slog.String("entity", account.EntityName),
	)

	if account.Status != domain.AccountActive {
		return skipped(account.ID, domain.SkipAccountPaused)
	}

	// Advisory fence between overlapping scheduler runs. Correctness rests
	// on the guard and the transactional fixture consume below; when the
	// lock cannot be taken the account simply waits for the next cycle.
	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, "account:"+account.ID, accountLockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				log.WarnContext(ctx, "account lock unavailable", slog.String("error", err.Error()))
			}
			return skipped(account.ID, domain.SkipLockContended)
		}
		defer unlock()
	}

	unresolved, err := p.guard.HasUnresolvedWager(ctx, account.ID)
	if err != nil {
		return failed(account.ID, err)
	}
	if unresolved {
		return skipped(account.ID, domain.SkipHasPendingWager)
	}

	fixture, err := p.fixtures.NextUnconsumed(ctx, account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return skipped(account.ID, domain.SkipNoScheduledFixture)
		}
		return failed(account.ID, fmt.Errorf("processor: next fixture: %w", err))
	}

	selection, outcome, ok := p.resolveSelection(ctx, tenant, account, fixture)
	if !ok {
		return outcome
	}

	initialStake := account.InitialStake
	if initialStake <= 0 {
		initialStake = staking.DefaultInitialStake
	}
	stake, stopLoss, err := staking.Calculate(
		account.CumulativeLoss, selection.Price, account.ProgressionStep,
		initialStake, p.maxSteps,
	)
	if err != nil {
		return failed(account.ID, fmt.Errorf("processor: calculate stake: %w", err))
	}
	if stopLoss {
		if err := p.accounts.SetStatus(ctx, account.ID, domain.AccountPaused); err != nil {
			return failed(account.ID, fmt.Errorf("processor: pause account: %w", err))
		}
		log.WarnContext(ctx, "stop loss reached, account paused",
			slog.Int("progression_step", account.ProgressionStep),
		)
		return skipped(account.ID, domain.SkipStopLossReached)
	}

	payoff, err := staking.PotentialPayoff(stake, selection.Price)
	if err != nil {
		return failed(account.ID, fmt.Errorf("processor: potential payoff: %w", err))
	}

	wager := domain.Wager{
		ID:              uuid.New().String(),
		AccountID:       account.ID,
		TenantID:        tenant.ID,
		FixtureID:       fixture.ID,
		MarketID:        fixture.MarketID,
		EventName:       fixture.EventName,
		SelectionID:     selection.SelectionID,
		RunnerName:      selection.RunnerName,
		Price:           selection.Price,
		Stake:           stake,
		PotentialPayoff: payoff,
		State:           domain.WagerCreated,
		CreatedAt:       time.Now().UTC(),
	}

	// Consuming the fixture and creating the wager is one transaction: a
	// retried invocation that raced past the guard loses here instead of
	// double-staking the same fixture.
	if err := p.wagers.ConsumeAndCreate(ctx, fixture.ID, wager); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return skipped(account.ID, domain.SkipHasPendingWager)
		}
		return failed(account.ID, fmt.Errorf("processor: consume fixture: %w", err))
	}

	return p.submit(ctx, tenant, account, wager, log)
}

// resolveSelection finds the account's entity within the fixture's market and
// returns its priced selection. The match is exact (case-insensitive) by
// policy: a fuzzy fallback could silently wager on the wrong fixture.
func (p *Processor) resolveSelection(ctx context.Context, tenant domain.Tenant, account domain.StakingAccount, fixture domain.ScheduledFixture) (domain.Selection, domain.Outcome, bool) {
	selections, err := p.exchange.GetQuote(ctx, tenant.CredentialRef, fixture.MarketID)
	if err != nil {
		return domain.Selection{}, failed(account.ID, fmt.Errorf("processor: quote market %s: %w", fixture.MarketID, err)), false
	}

	var match *domain.Selection
	for i := range selections {
		if strings.EqualFold(selections[i].RunnerName, account.EntityName) {
			match = &selections[i]
			break
		}
	}
	if match == nil {
		return domain.Selection{}, skipped(account.ID, domain.SkipSideNotFound), false
	}

	sel := *match
	if sel.Price <= 0 {
		sel.Price = fixture.QuotedPrice
	}
	if sel.Price <= 1.0 {
		return domain.Selection{}, skipped(account.ID, domain.SkipMissingPrice), false
	}
	return sel, domain.Outcome{}, true
}

// submit sends the wager to the exchange and records the venue's verdict.
func (p *Processor) submit(ctx context.Context, tenant domain.Tenant, account domain.StakingAccount, wager domain.Wager, log *slog.Logger) domain.Outcome {
	ack, err := p.exchange.PlaceOrder(ctx, tenant.CredentialRef, domain.OrderRequest{
		MarketID:    wager.MarketID,
		SelectionID: wager.SelectionID,
		Stake:       wager.Stake,
		Price:       wager.Price,
		Reference:   wager.ID,
	})
	if err != nil {
		// Connectivity failure after the fixture was consumed: the wager
		// fails terminally and the error is surfaced; the fixture is not
		// re-stakeable, matching the consume-at-most-once contract.
		if recErr := p.machine.RecordRejected(ctx, wager, "EXCHANGE_UNAVAILABLE"); recErr != nil {
			log.ErrorContext(ctx, "record rejection failed", slog.String("error", recErr.Error()))
		}
		return failed(account.ID, fmt.Errorf("processor: place order: %w", err))
	}

	if ack.RejectionCode != "" {
		if recErr := p.machine.RecordRejected(ctx, wager, ack.RejectionCode); recErr != nil {
			log.ErrorContext(ctx, "record rejection failed", slog.String("error", recErr.Error()))
		}
		return failed(account.ID, fmt.Errorf("processor: %w: %s", domain.ErrWagerRejected, ack.RejectionCode))
	}

	if err := p.machine.RecordAcknowledged(ctx, wager, ack.OrderID); err != nil {
		return failed(account.ID, err)
	}
	wager.State = domain.WagerPending
	wager.OrderID = ack.OrderID

	// Mirror writes happen after the authoritative commit and are
	// best-effort: a failed mirror update is logged and repaired by the
	// next cycle's rewrite, never rolled back.
	p.mirrorPlacement(ctx, tenant, account, wager, log)

	log.InfoContext(ctx, "wager placed",
		slog.String("wager_id", wager.ID),
		slog.String("order_id", ack.OrderID),
		slog.Float64("stake", wager.Stake),
		slog.Float64("price", wager.Price),
	)
	return domain.Outcome{Kind: domain.OutcomePlaced, AccountID: account.ID, Wager: &wager}
}

func (p *Processor) mirrorPlacement(ctx context.Context, tenant domain.Tenant, account domain.StakingAccount, wager domain.Wager, log *slog.Logger) {
	if p.mirror == nil || tenant.MirrorDocID == "" {
		return
	}
	if err := p.mirror.AppendOrUpdateWagerRow(ctx, tenant.MirrorDocID, wager); err != nil {
		log.WarnContext(ctx, "mirror wager row update failed", slog.String("error", err.Error()))
	}
	account.LastStake = wager.Stake
	if err := p.mirror.UpsertAccountRow(ctx, tenant.MirrorDocID, account); err != nil {
		log.WarnContext(ctx, "mirror account row update failed", slog.String("error", err.Error()))
	}
}
