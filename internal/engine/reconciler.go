package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// DefaultLookback is the trailing window queried from the settled-order
// feed. Three days tolerates scheduler downtime over a weekend; orders
// settled earlier surface as stale-pending warnings instead.
const DefaultLookback = 72 * time.Hour

// Reconciler matches pending wagers against the exchange's settled-order
// feed and applies win/loss effects exactly once. It is the only component
// that settles wagers; placement and reconciliation run on independent
// schedules and meet only in the authoritative store.
type Reconciler struct {
	wagers   domain.WagerStore
	accounts domain.AccountStore
	machine  *Lifecycle
	exchange domain.ExchangeGateway
	mirror   domain.MirrorStore
	lookback time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. A non-positive lookback falls back to
// DefaultLookback.
func NewReconciler(
	wagers domain.WagerStore,
	accounts domain.AccountStore,
	machine *Lifecycle,
	exchange domain.ExchangeGateway,
	mirror domain.MirrorStore,
	lookback time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Reconciler{
		wagers:   wagers,
		accounts: accounts,
		machine:  machine,
		exchange: exchange,
		mirror:   mirror,
		lookback: lookback,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// CheckResults runs one settlement-check cycle for the tenant. Wagers whose
// orders are absent from the feed stay pending; a settlement observed twice
// (overlapping lookback windows) is a safe no-op on the second pass.
func (r *Reconciler) CheckResults(ctx context.Context, tenant domain.Tenant) (domain.ReconcileResult, error) {
	result := domain.ReconcileResult{TenantID: tenant.ID}

	pending, err := r.wagers.ListPending(ctx, tenant.ID)
	if err != nil {
		return result, fmt.Errorf("reconciler: list pending for tenant %s: %w", tenant.ID, err)
	}
	result.Checked = len(pending)
	if len(pending) == 0 {
		return result, nil
	}

	since := time.Now().UTC().Add(-r.lookback)
	settled, err := r.exchange.ListSettledOrders(ctx, tenant.CredentialRef, since)
	if err != nil {
		return result, fmt.Errorf("reconciler: settled orders for tenant %s: %w", tenant.ID, err)
	}

	byOrderID := make(map[string]domain.SettledOrder, len(settled))
	for _, o := range settled {
		if o.OrderID != "" {
			byOrderID[o.OrderID] = o
		}
	}

	for _, w := range pending {
		if w.OrderID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("wager %s pending without order id", w.ID))
			continue
		}

		order, found := byOrderID[w.OrderID]
		if !found {
			// Slow settlement or a window that has not yet covered the
			// order. Not an error; left pending for the next cycle.
			result.StillPending++
			if age := time.Since(w.CreatedAt); age > r.lookback {
				r.logger.WarnContext(ctx, "wager pending beyond lookback, manual reset may be needed",
					slog.String("wager_id", w.ID),
					slog.String("order_id", w.OrderID),
					slog.Duration("age", age),
				)
			}
			continue
		}

		var settledWager domain.Wager
		var settleErr error
		if order.Payoff > 0 {
			settledWager, settleErr = r.machine.SettleWon(ctx, w)
			if settleErr == nil {
				result.Won++
			}
		} else {
			settledWager, settleErr = r.machine.SettleLost(ctx, w)
			if settleErr == nil {
				result.Lost++
			}
		}
		if settleErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("wager %s: %v", w.ID, settleErr))
			continue
		}
		result.Settled = append(result.Settled, settledWager)

		// Authoritative write committed above; the mirror update is
		// advisory and its failure is logged, never rolled back.
		r.mirrorSettlement(ctx, tenant, settledWager)
	}

	r.logger.InfoContext(ctx, "reconciliation cycle complete",
		slog.String("tenant_id", tenant.ID),
		slog.Int("checked", result.Checked),
		slog.Int("won", result.Won),
		slog.Int("lost", result.Lost),
		slog.Int("still_pending", result.StillPending),
	)
	return result, nil
}

func (r *Reconciler) mirrorSettlement(ctx context.Context, tenant domain.Tenant, w domain.Wager) {
	if r.mirror == nil || tenant.MirrorDocID == "" {
		return
	}
	if err := r.mirror.AppendOrUpdateWagerRow(ctx, tenant.MirrorDocID, w); err != nil {
		r.logger.WarnContext(ctx, "mirror wager row update failed",
			slog.String("wager_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
	account, err := r.accounts.GetByID(ctx, w.AccountID)
	if err != nil {
		r.logger.WarnContext(ctx, "mirror account reload failed",
			slog.String("account_id", w.AccountID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.mirror.UpsertAccountRow(ctx, tenant.MirrorDocID, account); err != nil {
		r.logger.WarnContext(ctx, "mirror account row update failed",
			slog.String("account_id", w.AccountID),
			slog.String("error", err.Error()),
		)
	}
}
