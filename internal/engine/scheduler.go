package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvrosca/stakepilot/internal/domain"
)

const (
	// DefaultConcurrency is the hard upper bound on tenants in flight.
	DefaultConcurrency = 5
	// DefaultInterBatchDelay spaces batches out to respect venue rate limits.
	DefaultInterBatchDelay = 10 * time.Second
)

// TenantFunc is the per-tenant callback a scheduler run executes. Placement,
// reconciliation and fixture import all share the same batching shape and
// differ only in this callback.
type TenantFunc func(ctx context.Context, tenant domain.Tenant) domain.TenantOutcome

// BatchScheduler fans tenants out into consecutive bounded-size batches. All
// tenants within a batch run concurrently; the scheduler blocks until the
// whole batch finishes, then waits InterBatchDelay before the next one (never
// after the last). One tenant's failure never cancels its siblings.
type BatchScheduler struct {
	concurrency     int
	interBatchDelay time.Duration
	tenantTimeout   time.Duration
	logger          *slog.Logger
}

// NewBatchScheduler creates a BatchScheduler. Non-positive concurrency falls
// back to DefaultConcurrency; a zero tenantTimeout disables per-tenant
// deadlines.
func NewBatchScheduler(concurrency int, interBatchDelay, tenantTimeout time.Duration, logger *slog.Logger) *BatchScheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if interBatchDelay < 0 {
		interBatchDelay = DefaultInterBatchDelay
	}
	return &BatchScheduler{
		concurrency:     concurrency,
		interBatchDelay: interBatchDelay,
		tenantTimeout:   tenantTimeout,
		logger:          logger.With(slog.String("component", "scheduler")),
	}
}

// Run executes fn for every tenant and aggregates the results. Every tenant
// appears exactly once in the returned per-tenant list, in input order,
// regardless of individual failures.
func (s *BatchScheduler) Run(ctx context.Context, tenants []domain.Tenant, fn TenantFunc) domain.GlobalResult {
	result := domain.GlobalResult{
		StartedAt:     time.Now().UTC(),
		TotalTenants:  len(tenants),
		TenantResults: make([]domain.TenantOutcome, len(tenants)),
	}

	batches := (len(tenants) + s.concurrency - 1) / s.concurrency
	s.logger.InfoContext(ctx, "scheduler run starting",
		slog.Int("tenants", len(tenants)),
		slog.Int("batches", batches),
		slog.Int("concurrency", s.concurrency),
	)

	for start := 0; start < len(tenants); start += s.concurrency {
		end := start + s.concurrency
		if end > len(tenants) {
			end = len(tenants)
		}
		batch := tenants[start:end]

		var g errgroup.Group
		for i, tenant := range batch {
			idx := start + i
			tenant := tenant
			g.Go(func() error {
				result.TenantResults[idx] = s.runOne(ctx, tenant, fn)
				return nil
			})
		}
		_ = g.Wait()

		// Delay between batches, not after the last one.
		if end < len(tenants) && s.interBatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.interBatchDelay):
			}
		}
		if ctx.Err() != nil {
			// Mark tenants that never ran so the audit list stays complete.
			for idx := end; idx < len(tenants); idx++ {
				result.TenantResults[idx] = domain.TenantOutcome{
					TenantID: tenants[idx].ID,
					Err:      fmt.Errorf("scheduler: run cancelled: %w", ctx.Err()),
				}
			}
			break
		}
	}

	for _, to := range result.TenantResults {
		if to.Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
		if to.Placement != nil {
			result.Accounts += to.Placement.AccountsProcessed
			result.WagersPlaced += to.Placement.WagersPlaced
		}
		if to.Reconcile != nil {
			result.Won += to.Reconcile.Won
			result.Lost += to.Reconcile.Lost
			result.StillPending += to.Reconcile.StillPending
		}
	}
	result.FinishedAt = time.Now().UTC()

	s.logger.InfoContext(ctx, "scheduler run finished",
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("wagers_placed", result.WagersPlaced),
		slog.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result
}

// runOne executes the callback for a single tenant with panic containment
// and an optional per-tenant deadline. A tenant that exceeds its deadline is
// abandoned for this cycle and picked up again on the next scheduled run;
// it is never force-retried within the cycle.
func (s *BatchScheduler) runOne(ctx context.Context, tenant domain.Tenant, fn TenantFunc) (out domain.TenantOutcome) {
	if s.tenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tenantTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "tenant callback panicked",
				slog.String("tenant_id", tenant.ID),
				slog.Any("panic", r),
			)
			out = domain.TenantOutcome{
				TenantID: tenant.ID,
				Err:      fmt.Errorf("scheduler: tenant %s panicked: %v", tenant.ID, r),
			}
		}
	}()

	return fn(ctx, tenant)
}
