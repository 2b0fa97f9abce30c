package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrosca/stakepilot/internal/domain"
	"github.com/mvrosca/stakepilot/internal/staking"
)

type processorFixture struct {
	tenant    domain.Tenant
	account   domain.StakingAccount
	accounts  *fakeAccountStore
	fixtures  *fakeFixtureStore
	wagers    *fakeWagerStore
	exchange  *fakeExchange
	mirror    *fakeMirror
	processor *Processor
}

func newProcessorFixture() *processorFixture {
	tenant := domain.Tenant{ID: "t1", Enabled: true, CredentialRef: "cred-1", MirrorDocID: "doc-1"}
	account := domain.StakingAccount{
		ID: "acct-1", TenantID: "t1", EntityName: "Arsenal",
		InitialStake: 10, Status: domain.AccountActive,
	}
	fixture := domain.ScheduledFixture{
		ID: "fx-1", AccountID: "acct-1", EventID: "ev-1",
		EventName: "Arsenal v Chelsea", MarketID: "mk-1",
		Kickoff: time.Now().Add(2 * time.Hour), QuotedPrice: 1.8,
	}

	accounts := newFakeAccountStore(account)
	fixtures := newFakeFixtureStore(fixture)
	wagers := newFakeWagerStore(fixtures, accounts)
	exchange := newFakeExchange()
	exchange.quotes["mk-1"] = []domain.Selection{
		{SelectionID: "s1", RunnerName: "Arsenal", Price: 1.8},
		{SelectionID: "s2", RunnerName: "Chelsea", Price: 4.5},
		{SelectionID: "s3", RunnerName: "The Draw", Price: 3.9},
	}
	mirror := &fakeMirror{}
	machine := NewLifecycle(wagers, accounts, testLogger())
	processor := NewProcessor(accounts, fixtures, wagers, machine, exchange, mirror, nil, staking.DefaultMaxSteps, testLogger())

	return &processorFixture{
		tenant: tenant, account: account,
		accounts: accounts, fixtures: fixtures, wagers: wagers,
		exchange: exchange, mirror: mirror, processor: processor,
	}
}

func TestProcessor_PlacesWager(t *testing.T) {
	f := newProcessorFixture()

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	require.Equal(t, domain.OutcomePlaced, outcome.Kind)
	require.NotNil(t, outcome.Wager)
	assert.Equal(t, 10.0, outcome.Wager.Stake)
	assert.Equal(t, 1.8, outcome.Wager.Price)
	assert.Equal(t, 8.0, outcome.Wager.PotentialPayoff)
	assert.Equal(t, domain.WagerPending, outcome.Wager.State)
	assert.Equal(t, "order-1", outcome.Wager.OrderID)

	// Fixture consumed atomically with creation.
	_, err := f.fixtures.NextUnconsumed(context.Background(), "acct-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Mirror rows written best-effort after the authoritative commit.
	assert.Equal(t, 1, f.mirror.wagerUps)
	assert.Equal(t, 1, f.mirror.accountUps)
}

func TestProcessor_RecoveryStakeUsesQuotedPrice(t *testing.T) {
	f := newProcessorFixture()
	f.account.CumulativeLoss = 10
	f.account.ProgressionStep = 1
	f.accounts.accounts["acct-1"] = f.account
	f.exchange.quotes["mk-1"] = []domain.Selection{
		{SelectionID: "s1", RunnerName: "Arsenal", Price: 2.0},
	}

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	require.Equal(t, domain.OutcomePlaced, outcome.Kind)
	assert.Equal(t, 20.0, outcome.Wager.Stake) // 10/(2.0−1) + 10
}

func TestProcessor_SkipsPausedAccount(t *testing.T) {
	f := newProcessorFixture()
	f.account.Status = domain.AccountPaused

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Equal(t, domain.SkipAccountPaused, outcome.Reason)
	assert.Equal(t, 0, f.exchange.placedCount())
}

func TestProcessor_SkipsWhenWagerUnresolved(t *testing.T) {
	f := newProcessorFixture()
	require.NoError(t, f.wagers.ConsumeAndCreate(context.Background(), "fx-1", domain.Wager{
		ID: "w-open", AccountID: "acct-1", TenantID: "t1", State: domain.WagerPending,
	}))

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Equal(t, domain.SkipHasPendingWager, outcome.Reason)
	assert.Equal(t, 0, f.exchange.placedCount())
}

func TestProcessor_SkipsWithoutFixture(t *testing.T) {
	f := newProcessorFixture()
	delete(f.fixtures.fixtures, "fx-1")

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Equal(t, domain.SkipNoScheduledFixture, outcome.Reason)
}

func TestProcessor_SkipsWhenSideNotFound(t *testing.T) {
	f := newProcessorFixture()
	// No exact runner match: "Arsenal Wolves" must not be wagered on.
	f.exchange.quotes["mk-1"] = []domain.Selection{
		{SelectionID: "s1", RunnerName: "Arsenal Wolves", Price: 1.8},
		{SelectionID: "s2", RunnerName: "Chelsea", Price: 4.5},
	}

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Equal(t, domain.SkipSideNotFound, outcome.Reason)
	assert.Equal(t, 0, f.exchange.placedCount())
}

func TestProcessor_SkipsOnMissingPrice(t *testing.T) {
	f := newProcessorFixture()
	f.exchange.quotes["mk-1"] = []domain.Selection{
		{SelectionID: "s1", RunnerName: "Arsenal", Price: 0},
	}
	fx := f.fixtures.fixtures["fx-1"]
	fx.QuotedPrice = 0
	f.fixtures.fixtures["fx-1"] = fx

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Equal(t, domain.SkipMissingPrice, outcome.Reason)
}

func TestProcessor_StopLossPausesAccount(t *testing.T) {
	f := newProcessorFixture()
	f.account.CumulativeLoss = 500
	f.account.ProgressionStep = staking.DefaultMaxSteps
	f.accounts.accounts["acct-1"] = f.account

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Equal(t, domain.SkipStopLossReached, outcome.Reason)

	got, err := f.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountPaused, got.Status)
	assert.Equal(t, 0, f.exchange.placedCount())
}

func TestProcessor_RejectionFailsWagerNotAccount(t *testing.T) {
	f := newProcessorFixture()
	f.exchange.ack = domain.OrderAck{RejectionCode: "INSUFFICIENT_FUNDS"}

	outcome := f.processor.Process(context.Background(), f.tenant, f.account)

	require.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, domain.ErrWagerRejected)

	all := f.wagers.all()
	require.Len(t, all, 1)
	assert.Equal(t, domain.WagerFailed, all[0].State)
	assert.Equal(t, "INSUFFICIENT_FUNDS", all[0].FailReason)

	// Account progression untouched by a rejected placement.
	got, err := f.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.CumulativeLoss)
	assert.Equal(t, 0, got.ProgressionStep)
}

func TestProcessor_ConcurrentInvocations_CreateExactlyOneWager(t *testing.T) {
	f := newProcessorFixture()

	const attempts = 2
	outcomes := make([]domain.Outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.processor.Process(context.Background(), f.tenant, f.account)
		}(i)
	}
	wg.Wait()

	placed := 0
	for _, o := range outcomes {
		if o.Kind == domain.OutcomePlaced {
			placed++
		} else {
			assert.Equal(t, domain.OutcomeSkipped, o.Kind)
		}
	}
	assert.Equal(t, 1, placed)
	assert.Len(t, f.wagers.all(), 1)
	assert.Equal(t, 1, f.exchange.placedCount())
}
