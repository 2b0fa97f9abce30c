package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL. The two
// transactional mutations of the authoritative store live here: consuming a
// fixture while creating its wager, and settling a wager while updating the
// owning account's progression.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a new WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

var _ domain.WagerStore = (*WagerStore)(nil)

const wagerSelectCols = `id, account_id, tenant_id, fixture_id, market_id, event_name,
	selection_id, runner_name, price, stake, potential_payoff, order_id, state,
	fail_reason, result, created_at, placed_at, settled_at`

func scanWager(scanner interface{ Scan(dest ...any) error }) (domain.Wager, error) {
	var w domain.Wager
	var state string
	err := scanner.Scan(
		&w.ID, &w.AccountID, &w.TenantID, &w.FixtureID, &w.MarketID, &w.EventName,
		&w.SelectionID, &w.RunnerName, &w.Price, &w.Stake, &w.PotentialPayoff,
		&w.OrderID, &state, &w.FailReason, &w.Result,
		&w.CreatedAt, &w.PlacedAt, &w.SettledAt,
	)
	if err != nil {
		return domain.Wager{}, err
	}
	w.State = domain.WagerState(state)
	return w, nil
}

func scanWagerRows(rows pgx.Rows) ([]domain.Wager, error) {
	var wagers []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// GetByID retrieves a single wager by ID.
func (s *WagerStore) GetByID(ctx context.Context, id string) (domain.Wager, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE id = $1`, id)

	w, err := scanWager(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wager{}, domain.ErrNotFound
		}
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s: %w", id, err)
	}
	return w, nil
}

// CountUnresolved returns the number of non-terminal wagers for the account.
func (s *WagerStore) CountUnresolved(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wagers
		 WHERE account_id = $1 AND state IN ('created', 'submitted', 'pending')`,
		accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count unresolved for %s: %w", accountID, err)
	}
	return n, nil
}

// ListPending returns the tenant's pending wagers, oldest first.
func (s *WagerStore) ListPending(ctx context.Context, tenantID string) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers
		 WHERE tenant_id = $1 AND state = 'pending'
		 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending wagers: %w", err)
	}
	defer rows.Close()

	wagers, err := scanWagerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending wagers: %w", err)
	}
	return wagers, nil
}

// ListSettledBefore returns wagers settled before the cutoff, for archival.
func (s *WagerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers
		 WHERE settled_at IS NOT NULL AND settled_at < $1
		 ORDER BY settled_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled wagers: %w", err)
	}
	defer rows.Close()

	wagers, err := scanWagerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled wagers: %w", err)
	}
	return wagers, nil
}

// ConsumeAndCreate marks the fixture consumed and inserts the wager in one
// transaction. The conditional UPDATE is the linearization point: of two
// racing invocations exactly one flips consumed and commits its wager, the
// other gets ErrAlreadyExists.
func (s *WagerStore) ConsumeAndCreate(ctx context.Context, fixtureID string, w domain.Wager) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin consume tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE scheduled_fixtures SET consumed = TRUE
		 WHERE id = $1 AND NOT consumed`, fixtureID)
	if err != nil {
		return fmt.Errorf("postgres: consume fixture %s: %w", fixtureID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM scheduled_fixtures WHERE id = $1)`,
			fixtureID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check fixture %s: %w", fixtureID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyExists
	}

	const insert = `
		INSERT INTO wagers (
			id, account_id, tenant_id, fixture_id, market_id, event_name,
			selection_id, runner_name, price, stake, potential_payoff,
			order_id, state, fail_reason, result, created_at, placed_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18
		)`
	_, err = tx.Exec(ctx, insert,
		w.ID, w.AccountID, w.TenantID, w.FixtureID, w.MarketID, w.EventName,
		w.SelectionID, w.RunnerName, w.Price, w.Stake, w.PotentialPayoff,
		w.OrderID, string(w.State), w.FailReason, w.Result,
		w.CreatedAt, w.PlacedAt, w.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create wager %s: %w", w.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit consume tx: %w", err)
	}
	return nil
}

// UpdateSubmission records the exchange's verdict on a placement attempt.
func (s *WagerStore) UpdateSubmission(ctx context.Context, id string, state domain.WagerState, orderID, failReason string) error {
	var query string
	var args []any
	if orderID != "" {
		query = `UPDATE wagers SET state = $1, order_id = $2, fail_reason = $3, placed_at = NOW()
			WHERE id = $4`
		args = []any{string(state), orderID, failReason, id}
	} else {
		query = `UPDATE wagers SET state = $1, fail_reason = $2 WHERE id = $3`
		args = []any{string(state), failReason, id}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update wager submission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplySettlement transitions a pending wager to a terminal state and applies
// the progression update to the owning account in one transaction. The row is
// locked first: if another reconciliation pass already settled it, the stored
// wager comes back unchanged and the account is untouched.
func (s *WagerStore) ApplySettlement(ctx context.Context, id string, state domain.WagerState, result float64, u domain.ProgressionUpdate) (domain.Wager, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: begin settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE id = $1 FOR UPDATE`, id)
	w, err := scanWager(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wager{}, domain.ErrNotFound
		}
		return domain.Wager{}, fmt.Errorf("postgres: lock wager %s: %w", id, err)
	}
	if w.State.Terminal() {
		return w, nil
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE wagers SET state = $1, result = $2, settled_at = $3 WHERE id = $4`,
		string(state), result, now, id,
	)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: settle wager %s: %w", id, err)
	}

	if err := updateProgression(ctx, tx, w.AccountID, u); err != nil {
		return domain.Wager{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: commit settlement tx: %w", err)
	}

	w.State = state
	w.Result = result
	w.SettledAt = &now
	return w, nil
}
