package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// TenantRunner processes all of one tenant's active staking accounts
// sequentially. Exchange sessions and mirror documents are per-tenant and not
// safe to share across parallel calls, so there is no intra-tenant fan-out.
// A failure in one account is recorded and does not abort the rest.
type TenantRunner struct {
	accounts  domain.AccountStore
	processor *Processor
	limiter   domain.RateLimiter
	logger    *slog.Logger
}

// NewTenantRunner creates a TenantRunner. The rate limiter may be nil.
func NewTenantRunner(accounts domain.AccountStore, processor *Processor, limiter domain.RateLimiter, logger *slog.Logger) *TenantRunner {
	return &TenantRunner{
		accounts:  accounts,
		processor: processor,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", "tenant_runner")),
	}
}

// RunTenant executes one placement cycle for the tenant. It returns an error
// only when the tenant's accounts cannot be listed at all; per-account
// failures land in the result.
func (r *TenantRunner) RunTenant(ctx context.Context, tenant domain.Tenant) (domain.TenantResult, error) {
	start := time.Now()
	result := domain.TenantResult{TenantID: tenant.ID}

	accounts, err := r.accounts.ListActive(ctx, tenant.ID)
	if err != nil {
		return result, fmt.Errorf("runner: list accounts for tenant %s: %w", tenant.ID, err)
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cycle abandoned: %v", ctx.Err()))
			break
		}

		// The venue rate-limits per session; throttle before every
		// account so a large tenant cannot trip the limit mid-cycle.
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, "exchange:"+tenant.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("rate limiter: %v", err))
				break
			}
		}

		outcome := r.processor.Process(ctx, tenant, account)
		result.AccountsProcessed++
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Kind {
		case domain.OutcomePlaced:
			result.WagersPlaced++
		case domain.OutcomeFailed:
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: %v", account.ID, outcome.Err))
		case domain.OutcomeSkipped:
			r.logger.DebugContext(ctx, "account skipped",
				slog.String("tenant_id", tenant.ID),
				slog.String("account_id", account.ID),
				slog.String("reason", string(outcome.Reason)),
			)
		}
	}

	r.logger.InfoContext(ctx, "tenant cycle complete",
		slog.String("tenant_id", tenant.ID),
		slog.Int("accounts_processed", result.AccountsProcessed),
		slog.Int("wagers_placed", result.WagersPlaced),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
