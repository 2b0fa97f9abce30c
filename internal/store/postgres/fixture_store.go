package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// FixtureStore implements domain.FixtureStore using PostgreSQL.
type FixtureStore struct {
	pool *pgxpool.Pool
}

// NewFixtureStore creates a new FixtureStore backed by the given connection pool.
func NewFixtureStore(pool *pgxpool.Pool) *FixtureStore {
	return &FixtureStore{pool: pool}
}

var _ domain.FixtureStore = (*FixtureStore)(nil)

const fixtureSelectCols = `id, account_id, event_id, event_name, home_team, away_team,
	market_id, competition, kickoff, quoted_price, consumed, created_at`

func scanFixture(scanner interface{ Scan(dest ...any) error }) (domain.ScheduledFixture, error) {
	var f domain.ScheduledFixture
	err := scanner.Scan(
		&f.ID, &f.AccountID, &f.EventID, &f.EventName, &f.HomeTeam, &f.AwayTeam,
		&f.MarketID, &f.Competition, &f.Kickoff, &f.QuotedPrice, &f.Consumed,
		&f.CreatedAt,
	)
	return f, err
}

// Upsert inserts the fixture if the (account, event) pair is new. A conflict
// means a re-import saw an already known event; the stored row wins and
// created is false.
func (s *FixtureStore) Upsert(ctx context.Context, f domain.ScheduledFixture) (bool, error) {
	const query = `
		INSERT INTO scheduled_fixtures (
			id, account_id, event_id, event_name, home_team, away_team,
			market_id, competition, kickoff, quoted_price, consumed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NOW())
		ON CONFLICT (account_id, event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		f.ID, f.AccountID, f.EventID, f.EventName, f.HomeTeam, f.AwayTeam,
		f.MarketID, f.Competition, f.Kickoff, f.QuotedPrice,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert fixture %s/%s: %w", f.AccountID, f.EventID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// NextUnconsumed returns the chronologically earliest unconsumed fixture for
// the account, or domain.ErrNotFound.
func (s *FixtureStore) NextUnconsumed(ctx context.Context, accountID string) (domain.ScheduledFixture, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fixtureSelectCols+` FROM scheduled_fixtures
		 WHERE account_id = $1 AND NOT consumed
		 ORDER BY kickoff
		 LIMIT 1`, accountID)

	f, err := scanFixture(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScheduledFixture{}, domain.ErrNotFound
		}
		return domain.ScheduledFixture{}, fmt.Errorf("postgres: next fixture for %s: %w", accountID, err)
	}
	return f, nil
}
