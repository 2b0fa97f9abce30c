package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrosca/stakepilot/internal/domain"
)

type reconcilerFixture struct {
	tenant     domain.Tenant
	accounts   *fakeAccountStore
	wagers     *fakeWagerStore
	exchange   *fakeExchange
	mirror     *fakeMirror
	reconciler *Reconciler
}

func newReconcilerFixture(account domain.StakingAccount, wagers ...domain.Wager) *reconcilerFixture {
	tenant := domain.Tenant{ID: "t1", Enabled: true, CredentialRef: "cred-1", MirrorDocID: "doc-1"}
	accounts := newFakeAccountStore(account)
	fixtures := newFakeFixtureStore()
	wagerStore := newFakeWagerStore(fixtures, accounts, wagers...)
	exchange := newFakeExchange()
	mirror := &fakeMirror{}
	machine := NewLifecycle(wagerStore, accounts, testLogger())
	reconciler := NewReconciler(wagerStore, accounts, machine, exchange, mirror, 0, testLogger())
	return &reconcilerFixture{
		tenant: tenant, accounts: accounts, wagers: wagerStore,
		exchange: exchange, mirror: mirror, reconciler: reconciler,
	}
}

func pendingWager(id, orderID string, stake, price float64) domain.Wager {
	return domain.Wager{
		ID: id, AccountID: "acct-1", TenantID: "t1",
		Stake: stake, Price: price, State: domain.WagerPending,
		OrderID: orderID, CreatedAt: time.Now().UTC(),
	}
}

func TestReconciler_LossAdvancesProgression(t *testing.T) {
	account := domain.StakingAccount{
		ID: "acct-1", TenantID: "t1", InitialStake: 5,
		CumulativeLoss: 0, ProgressionStep: 0, Status: domain.AccountActive,
	}
	f := newReconcilerFixture(account, pendingWager("w1", "o1", 5, 1.8))
	f.exchange.settled = []domain.SettledOrder{
		{OrderID: "o1", Payoff: -5, SettledAt: time.Now().UTC()},
	}

	result, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Lost)
	assert.Equal(t, 0, result.Won)

	w, err := f.wagers.GetByID(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WagerSettledLost, w.State)
	assert.Equal(t, -5.0, w.Result)

	got, err := f.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.CumulativeLoss)
	assert.Equal(t, 1, got.ProgressionStep)
}

func TestReconciler_WinResetsProgression(t *testing.T) {
	account := domain.StakingAccount{
		ID: "acct-1", TenantID: "t1", InitialStake: 10,
		CumulativeLoss: 15, ProgressionStep: 2, Status: domain.AccountActive,
	}
	f := newReconcilerFixture(account, pendingWager("w1", "o1", 25, 1.6))
	f.exchange.settled = []domain.SettledOrder{
		{OrderID: "o1", Payoff: 15, SettledAt: time.Now().UTC()},
	}

	result, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Won)

	got, err := f.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.CumulativeLoss)
	assert.Equal(t, 0, got.ProgressionStep)

	// Mirror rows refreshed best-effort after settlement.
	assert.Equal(t, 1, f.mirror.wagerUps)
	assert.Equal(t, 1, f.mirror.accountUps)
}

func TestReconciler_UnmatchedOrderStaysPending(t *testing.T) {
	account := domain.StakingAccount{ID: "acct-1", TenantID: "t1", Status: domain.AccountActive}
	f := newReconcilerFixture(account, pendingWager("w1", "o1", 5, 1.8))
	f.exchange.settled = []domain.SettledOrder{
		{OrderID: "other-order", Payoff: 3, SettledAt: time.Now().UTC()},
	}

	result, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StillPending)
	assert.Zero(t, result.Won)
	assert.Zero(t, result.Lost)

	w, err := f.wagers.GetByID(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WagerPending, w.State)
}

func TestReconciler_DuplicateObservationIsNoOp(t *testing.T) {
	account := domain.StakingAccount{
		ID: "acct-1", TenantID: "t1", InitialStake: 5, Status: domain.AccountActive,
	}
	f := newReconcilerFixture(account, pendingWager("w1", "o1", 5, 1.8))
	f.exchange.settled = []domain.SettledOrder{
		{OrderID: "o1", Payoff: -5, SettledAt: time.Now().UTC()},
	}

	_, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.NoError(t, err)
	afterFirst, err := f.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)

	// The order is still inside the lookback window on the next cycle, but
	// the wager is terminal now and no longer listed as pending.
	result, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Zero(t, result.Checked)

	afterSecond, err := f.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
}

func TestReconciler_FeedErrorLeavesEverythingUntouched(t *testing.T) {
	account := domain.StakingAccount{ID: "acct-1", TenantID: "t1", Status: domain.AccountActive}
	f := newReconcilerFixture(account, pendingWager("w1", "o1", 5, 1.8))
	f.exchange.settledErr = errors.New("venue timeout")

	_, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.Error(t, err)

	w, err := f.wagers.GetByID(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WagerPending, w.State)
}

func TestReconciler_ZeroPayoffSettlesAsLoss(t *testing.T) {
	account := domain.StakingAccount{
		ID: "acct-1", TenantID: "t1", InitialStake: 5, Status: domain.AccountActive,
	}
	f := newReconcilerFixture(account, pendingWager("w1", "o1", 5, 1.8))
	f.exchange.settled = []domain.SettledOrder{
		{OrderID: "o1", Payoff: 0, SettledAt: time.Now().UTC()},
	}

	result, err := f.reconciler.CheckResults(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Lost)
}
