package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// maxEventsPerEntity caps how many venue events one entity search examines.
const maxEventsPerEntity = 20

// skipKeywords filters reserve, youth and women's sides out of event names
// when the tracked entity is the first team. An event containing any of
// these is never imported.
var skipKeywords = []string{"(Res)", "U19", "U21", "U23", "Women", "(W)", " II "}

// Importer discovers upcoming fixtures for each active staking account and
// stores them for later consumption by the account processor. Import never
// touches progression state; re-importing an already known event is a
// deduplicated no-op.
type Importer struct {
	accounts domain.AccountStore
	fixtures domain.FixtureStore
	exchange domain.ExchangeGateway
	logger   *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(accounts domain.AccountStore, fixtures domain.FixtureStore, exchange domain.ExchangeGateway, logger *slog.Logger) *Importer {
	return &Importer{
		accounts: accounts,
		fixtures: fixtures,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "importer")),
	}
}

// ImportFixtures runs one discovery cycle for the tenant.
func (i *Importer) ImportFixtures(ctx context.Context, tenant domain.Tenant) (domain.ImportResult, error) {
	result := domain.ImportResult{TenantID: tenant.ID}

	accounts, err := i.accounts.ListActive(ctx, tenant.ID)
	if err != nil {
		return result, fmt.Errorf("importer: list accounts for tenant %s: %w", tenant.ID, err)
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cycle abandoned: %v", ctx.Err()))
			break
		}

		added, err := i.importForAccount(ctx, tenant, account)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: %v", account.ID, err))
			continue
		}
		if added > 0 {
			result.AccountsUpdated++
			result.FixturesAdded += added
		}
	}

	i.logger.InfoContext(ctx, "fixture import complete",
		slog.String("tenant_id", tenant.ID),
		slog.Int("accounts_updated", result.AccountsUpdated),
		slog.Int("fixtures_added", result.FixturesAdded),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (i *Importer) importForAccount(ctx context.Context, tenant domain.Tenant, account domain.StakingAccount) (int, error) {
	events, err := i.exchange.ListEvents(ctx, tenant.CredentialRef, account.EntityName)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	if len(events) > maxEventsPerEntity {
		events = events[:maxEventsPerEntity]
	}

	added := 0
	for _, ev := range events {
		if skipEvent(ev.Name) {
			continue
		}

		catalogue, err := i.exchange.ListMarketCatalogue(ctx, tenant.CredentialRef, ev.EventID)
		if err != nil {
			i.logger.WarnContext(ctx, "market catalogue lookup failed",
				slog.String("event_id", ev.EventID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if catalogue.MarketID == "" {
			continue
		}

		// Quoted price for our entity: exact name match only, same policy
		// as placement. An unpriced fixture still imports; the price is
		// re-quoted at placement time anyway.
		price := 0.0
		for _, sel := range catalogue.Runners {
			if strings.EqualFold(sel.RunnerName, account.EntityName) {
				price = sel.Price
				break
			}
		}

		home, away := splitEventName(ev.Name)
		f := domain.ScheduledFixture{
			ID:          uuid.New().String(),
			AccountID:   account.ID,
			EventID:     ev.EventID,
			EventName:   ev.Name,
			HomeTeam:    home,
			AwayTeam:    away,
			MarketID:    catalogue.MarketID,
			Competition: ev.CompetitionName,
			Kickoff:     catalogue.StartTime,
			QuotedPrice: price,
			CreatedAt:   time.Now().UTC(),
		}

		created, err := i.fixtures.Upsert(ctx, f)
		if err != nil {
			i.logger.WarnContext(ctx, "fixture upsert failed",
				slog.String("event_id", ev.EventID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			added++
		}
	}
	return added, nil
}

func skipEvent(name string) bool {
	for _, kw := range skipKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// splitEventName parses "Home v Away" style event names. Unparseable names
// leave both sides empty; the fixture is still usable because participant
// resolution works off the market's runners, not the event title.
func splitEventName(name string) (home, away string) {
	for _, sep := range []string{" v ", " vs ", " vs. "} {
		if idx := strings.Index(name, sep); idx > 0 {
			return strings.TrimSpace(name[:idx]), strings.TrimSpace(name[idx+len(sep):])
		}
	}
	return "", ""
}
