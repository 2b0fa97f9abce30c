package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrosca/stakepilot/internal/domain"
)

func newImporterFixture(t *testing.T) (*Importer, *fakeFixtureStore, *fakeExchange) {
	t.Helper()
	account := domain.StakingAccount{
		ID: "acct-1", TenantID: "t1", EntityName: "Arsenal",
		InitialStake: 10, Status: domain.AccountActive,
	}
	accounts := newFakeAccountStore(account)
	fixtures := newFakeFixtureStore()
	exchange := newFakeExchange()
	return NewImporter(accounts, fixtures, exchange, testLogger()), fixtures, exchange
}

func TestImporter_ImportsAndPricesFixture(t *testing.T) {
	imp, fixtures, exchange := newImporterFixture(t)
	kickoff := time.Now().Add(24 * time.Hour).UTC()
	exchange.events["Arsenal"] = []domain.ExchangeEvent{
		{EventID: "ev-1", Name: "Arsenal v Chelsea", CompetitionName: "Premier League"},
	}
	exchange.catalogues["ev-1"] = domain.MarketCatalogue{
		MarketID:  "mk-1",
		StartTime: kickoff,
		Runners: []domain.Selection{
			{SelectionID: "s1", RunnerName: "Arsenal", Price: 1.8},
			{SelectionID: "s2", RunnerName: "Chelsea", Price: 4.5},
		},
	}

	result, err := imp.ImportFixtures(context.Background(), domain.Tenant{ID: "t1", CredentialRef: "cred-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AccountsUpdated)
	assert.Equal(t, 1, result.FixturesAdded)

	f, err := fixtures.NextUnconsumed(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", f.EventID)
	assert.Equal(t, "mk-1", f.MarketID)
	assert.Equal(t, "Arsenal", f.HomeTeam)
	assert.Equal(t, "Chelsea", f.AwayTeam)
	assert.Equal(t, "Premier League", f.Competition)
	assert.Equal(t, 1.8, f.QuotedPrice)
	assert.Equal(t, kickoff, f.Kickoff)
}

func TestImporter_ReimportIsDeduplicated(t *testing.T) {
	imp, fixtures, exchange := newImporterFixture(t)
	exchange.events["Arsenal"] = []domain.ExchangeEvent{
		{EventID: "ev-1", Name: "Arsenal v Chelsea"},
	}
	exchange.catalogues["ev-1"] = domain.MarketCatalogue{MarketID: "mk-1"}

	tenant := domain.Tenant{ID: "t1", CredentialRef: "cred-1"}
	first, err := imp.ImportFixtures(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FixturesAdded)

	second, err := imp.ImportFixtures(context.Background(), tenant)
	require.NoError(t, err)
	assert.Zero(t, second.FixturesAdded)
	assert.Zero(t, second.AccountsUpdated)
	assert.Len(t, fixtures.fixtures, 1)
}

func TestImporter_SkipsReserveAndYouthSides(t *testing.T) {
	imp, fixtures, exchange := newImporterFixture(t)
	exchange.events["Arsenal"] = []domain.ExchangeEvent{
		{EventID: "ev-1", Name: "Arsenal (Res) v Chelsea (Res)"},
		{EventID: "ev-2", Name: "Arsenal U21 v Chelsea U21"},
		{EventID: "ev-3", Name: "Arsenal Women v Chelsea Women"},
		{EventID: "ev-4", Name: "Arsenal v Chelsea"},
	}
	exchange.catalogues["ev-4"] = domain.MarketCatalogue{MarketID: "mk-4"}

	result, err := imp.ImportFixtures(context.Background(), domain.Tenant{ID: "t1", CredentialRef: "cred-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FixturesAdded)

	f, err := fixtures.NextUnconsumed(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-4", f.EventID)
}

func TestImporter_EventWithoutMarketIsSkipped(t *testing.T) {
	imp, _, exchange := newImporterFixture(t)
	exchange.events["Arsenal"] = []domain.ExchangeEvent{
		{EventID: "ev-1", Name: "Arsenal v Chelsea"},
	}
	// No catalogue entry: the fake returns a zero MarketCatalogue.

	result, err := imp.ImportFixtures(context.Background(), domain.Tenant{ID: "t1", CredentialRef: "cred-1"})
	require.NoError(t, err)
	assert.Zero(t, result.FixturesAdded)
}

func TestSplitEventName(t *testing.T) {
	cases := []struct {
		name, home, away string
	}{
		{"Arsenal v Chelsea", "Arsenal", "Chelsea"},
		{"Leeds vs Derby", "Leeds", "Derby"},
		{"Boca vs. River", "Boca", "River"},
		{"Grand Final 2026", "", ""},
	}
	for _, tc := range cases {
		home, away := splitEventName(tc.name)
		assert.Equal(t, tc.home, home, tc.name)
		assert.Equal(t, tc.away, away, tc.name)
	}
}
