package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

var _ domain.AccountStore = (*AccountStore)(nil)

const accountSelectCols = `id, tenant_id, entity_name, competition, initial_stake,
	cumulative_loss, progression_step, last_stake, status, created_at, updated_at`

func scanAccount(scanner interface{ Scan(dest ...any) error }) (domain.StakingAccount, error) {
	var a domain.StakingAccount
	var status string
	err := scanner.Scan(
		&a.ID, &a.TenantID, &a.EntityName, &a.Competition, &a.InitialStake,
		&a.CumulativeLoss, &a.ProgressionStep, &a.LastStake, &status,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.StakingAccount{}, err
	}
	a.Status = domain.AccountStatus(status)
	return a, nil
}

// GetByID retrieves a single staking account by ID.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.StakingAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM staking_accounts WHERE id = $1`, id)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StakingAccount{}, domain.ErrNotFound
		}
		return domain.StakingAccount{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// ListActive returns the tenant's active accounts ordered by entity name so
// placement cycles visit them in a stable order.
func (s *AccountStore) ListActive(ctx context.Context, tenantID string) ([]domain.StakingAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM staking_accounts
		 WHERE tenant_id = $1 AND status = 'active'
		 ORDER BY entity_name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.StakingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Create inserts a new staking account.
func (s *AccountStore) Create(ctx context.Context, a domain.StakingAccount) error {
	const query = `
		INSERT INTO staking_accounts (
			id, tenant_id, entity_name, competition, initial_stake,
			cumulative_loss, progression_step, last_stake, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.TenantID, a.EntityName, a.Competition, a.InitialStake,
		a.CumulativeLoss, a.ProgressionStep, a.LastStake, string(a.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// UpdateProgression writes the settlement-driven counters in one statement.
func (s *AccountStore) UpdateProgression(ctx context.Context, id string, u domain.ProgressionUpdate) error {
	return updateProgression(ctx, s.pool, id, u)
}

// queryExecer abstracts pool vs. transaction so the wager store can apply the
// same progression write inside its settlement transaction.
type queryExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// updateProgression is shared by AccountStore and the settlement transaction.
func updateProgression(ctx context.Context, q queryExecer, id string, u domain.ProgressionUpdate) error {
	const query = `
		UPDATE staking_accounts SET
			cumulative_loss = $1,
			progression_step = $2,
			last_stake = $3,
			status = $4,
			updated_at = NOW()
		WHERE id = $5`

	tag, err := q.Exec(ctx, query,
		u.CumulativeLoss, u.ProgressionStep, u.LastStake, string(u.Status), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: update progression %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStatus pauses or reactivates an account. Reactivation zeroes the
// cumulative loss and progression step so the account restarts its sequence.
func (s *AccountStore) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	var query string
	if status == domain.AccountActive {
		query = `UPDATE staking_accounts SET
			status = $1, cumulative_loss = 0, progression_step = 0, updated_at = NOW()
			WHERE id = $2`
	} else {
		query = `UPDATE staking_accounts SET status = $1, updated_at = NOW() WHERE id = $2`
	}

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: set account status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
