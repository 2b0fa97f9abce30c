package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// TenantStore implements domain.TenantStore using PostgreSQL.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a new TenantStore backed by the given connection pool.
func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

var _ domain.TenantStore = (*TenantStore)(nil)

const tenantSelectCols = `id, email, enabled, credential_ref, mirror_doc_id, created_at, updated_at`

func scanTenant(scanner interface{ Scan(dest ...any) error }) (domain.Tenant, error) {
	var t domain.Tenant
	err := scanner.Scan(
		&t.ID, &t.Email, &t.Enabled, &t.CredentialRef, &t.MirrorDocID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

// GetByID retrieves a single tenant by ID.
func (s *TenantStore) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantSelectCols+` FROM tenants WHERE id = $1`, id)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, domain.ErrNotFound
		}
		return domain.Tenant{}, fmt.Errorf("postgres: get tenant %s: %w", id, err)
	}
	return t, nil
}

// ListEligible returns enabled tenants that hold exchange credentials and at
// least one active staking account. Disabled or credential-less tenants never
// reach the scheduler.
func (s *TenantStore) ListEligible(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantSelectCols+` FROM tenants t
		 WHERE t.enabled
		   AND t.credential_ref <> ''
		   AND EXISTS (
		       SELECT 1 FROM staking_accounts a
		       WHERE a.tenant_id = t.id AND a.status = 'active'
		   )
		 ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Upsert inserts or updates a tenant.
func (s *TenantStore) Upsert(ctx context.Context, t domain.Tenant) error {
	const query = `
		INSERT INTO tenants (id, email, enabled, credential_ref, mirror_doc_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			enabled = EXCLUDED.enabled,
			credential_ref = EXCLUDED.credential_ref,
			mirror_doc_id = EXCLUDED.mirror_doc_id,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Email, t.Enabled, t.CredentialRef, t.MirrorDocID,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert tenant %s: %w", t.ID, err)
	}
	return nil
}
