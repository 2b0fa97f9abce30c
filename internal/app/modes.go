package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvrosca/stakepilot/internal/domain"
	"github.com/mvrosca/stakepilot/internal/engine"
	"github.com/mvrosca/stakepilot/internal/notify"
)

// keepAliveInterval spaces session keep-alive calls well inside the venue's
// four-hour session TTL.
const keepAliveInterval = 3 * time.Hour

// engines bundles the per-mode engine components built from Dependencies.
type engines struct {
	scheduler  *engine.BatchScheduler
	runner     *engine.TenantRunner
	reconciler *engine.Reconciler
	importer   *engine.Importer
}

// buildEngines constructs the engine layer on top of the wired dependencies.
func (a *App) buildEngines(deps *Dependencies) *engines {
	logger := a.logger
	machine := engine.NewLifecycle(deps.WagerStore, deps.AccountStore, logger)

	processor := engine.NewProcessor(
		deps.AccountStore,
		deps.FixtureStore,
		deps.WagerStore,
		machine,
		deps.Exchange,
		deps.Mirror,
		deps.LockManager,
		a.cfg.Staking.MaxSteps,
		logger,
	)

	return &engines{
		scheduler: engine.NewBatchScheduler(
			a.cfg.Scheduler.Concurrency,
			a.cfg.Scheduler.InterBatchDelay.Duration,
			a.cfg.Scheduler.TenantTimeout.Duration,
			logger,
		),
		runner: engine.NewTenantRunner(deps.AccountStore, processor, deps.RateLimiter, logger),
		reconciler: engine.NewReconciler(
			deps.WagerStore,
			deps.AccountStore,
			machine,
			deps.Exchange,
			deps.Mirror,
			a.cfg.Scheduler.SettleLookback.Duration,
			logger,
		),
		importer: engine.NewImporter(deps.AccountStore, deps.FixtureStore, deps.Exchange, logger),
	}
}

// PlaceMode runs placement cycles at the configured interval until cancelled.
func (a *App) PlaceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting place mode")
	eng := a.buildEngines(deps)
	return a.runLoop(ctx, a.cfg.Scheduler.PlaceInterval.Duration, func(ctx context.Context) {
		a.placementCycle(ctx, deps, eng)
	})
}

// ReconcileMode runs settlement-check cycles at the configured interval until
// cancelled.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")
	eng := a.buildEngines(deps)
	return a.runLoop(ctx, a.cfg.Scheduler.ReconcileInterval.Duration, func(ctx context.Context) {
		a.reconcileCycle(ctx, deps, eng)
	})
}

// ImportMode runs fixture-import cycles at the configured interval until
// cancelled.
func (a *App) ImportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting import mode")
	eng := a.buildEngines(deps)
	return a.runLoop(ctx, a.cfg.Scheduler.ImportInterval.Duration, func(ctx context.Context) {
		a.importCycle(ctx, deps, eng)
	})
}

// ArchiveMode exports settled wagers older than the retention window to object
// storage and exits. It is intended to be run from cron.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode requires s3.enabled")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
	count, err := deps.Archiver.ArchiveSettled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("wagers_archived", count),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// FullMode runs placement, reconciliation, fixture import, session keep-alive,
// and (when enabled) daily archival concurrently until cancelled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	eng := a.buildEngines(deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runLoop(ctx, a.cfg.Scheduler.PlaceInterval.Duration, func(ctx context.Context) {
			a.placementCycle(ctx, deps, eng)
		})
	})
	g.Go(func() error {
		return a.runLoop(ctx, a.cfg.Scheduler.ReconcileInterval.Duration, func(ctx context.Context) {
			a.reconcileCycle(ctx, deps, eng)
		})
	})
	g.Go(func() error {
		return a.runLoop(ctx, a.cfg.Scheduler.ImportInterval.Duration, func(ctx context.Context) {
			a.importCycle(ctx, deps, eng)
		})
	})
	g.Go(func() error {
		return a.keepAliveLoop(ctx, deps)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runLoop(ctx, 24*time.Hour, func(ctx context.Context) {
				cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
				if _, err := deps.Archiver.ArchiveSettled(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "scheduled archive failed",
						slog.String("error", err.Error()),
					)
				}
			})
		})
	}

	return g.Wait()
}

// runLoop executes fn immediately and then on every tick until the context is
// cancelled. Cancellation is a clean exit, not an error.
func (a *App) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		interval = time.Minute
	}

	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// placementCycle runs one scheduler pass of wager placement across all
// eligible tenants, then dispatches placement and stop-loss notifications.
func (a *App) placementCycle(ctx context.Context, deps *Dependencies, eng *engines) {
	tenants, err := deps.TenantStore.ListEligible(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "placement cycle: list tenants failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(tenants) == 0 {
		a.logger.InfoContext(ctx, "placement cycle: no eligible tenants")
		return
	}

	result := eng.scheduler.Run(ctx, tenants, func(ctx context.Context, tenant domain.Tenant) domain.TenantOutcome {
		res, err := eng.runner.RunTenant(ctx, tenant)
		return domain.TenantOutcome{TenantID: tenant.ID, Err: err, Placement: &res}
	})

	outages := 0
	for _, to := range result.TenantResults {
		if to.Placement == nil {
			continue
		}
		for _, outcome := range to.Placement.Outcomes {
			if outcome.Err != nil && errors.Is(outcome.Err, domain.ErrExchangeUnavailable) {
				outages++
			}
			a.notifyOutcome(ctx, deps, outcome)
		}
	}

	if outages > 0 {
		message := fmt.Sprintf("%d placement attempts failed with the exchange unreachable", outages)
		if err := deps.Notifier.Notify(ctx, notify.EventExchangeOutage, "Exchange unavailable", message); err != nil {
			a.logger.WarnContext(ctx, "outage notification failed",
				slog.String("error", err.Error()),
			)
		}
	}

	title, message := notify.FormatCycleSummary(result)
	if err := deps.Notifier.Notify(ctx, notify.EventCycleComplete, title, message); err != nil {
		a.logger.WarnContext(ctx, "cycle summary notification failed",
			slog.String("error", err.Error()),
		)
	}
}

// notifyOutcome emits the operator notifications a single account outcome
// warrants: a placement alert, or a stop-loss alert when the account was
// paused at its step cap.
func (a *App) notifyOutcome(ctx context.Context, deps *Dependencies, outcome domain.Outcome) {
	switch {
	case outcome.Kind == domain.OutcomePlaced && outcome.Wager != nil:
		title, message := notify.FormatWagerPlaced(*outcome.Wager)
		if err := deps.Notifier.Notify(ctx, notify.EventWagerPlaced, title, message); err != nil {
			a.logger.WarnContext(ctx, "placement notification failed",
				slog.String("wager_id", outcome.Wager.ID),
				slog.String("error", err.Error()),
			)
		}
	case outcome.Kind == domain.OutcomeSkipped && outcome.Reason == domain.SkipStopLossReached:
		account, err := deps.AccountStore.GetByID(ctx, outcome.AccountID)
		if err != nil {
			a.logger.WarnContext(ctx, "stop-loss notification: account reload failed",
				slog.String("account_id", outcome.AccountID),
				slog.String("error", err.Error()),
			)
			return
		}
		title, message := notify.FormatStopLoss(account)
		if err := deps.Notifier.Notify(ctx, notify.EventStopLoss, title, message); err != nil {
			a.logger.WarnContext(ctx, "stop-loss notification failed",
				slog.String("account_id", outcome.AccountID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reconcileCycle runs one scheduler pass of settlement checks across all
// eligible tenants and notifies each settled wager.
func (a *App) reconcileCycle(ctx context.Context, deps *Dependencies, eng *engines) {
	tenants, err := deps.TenantStore.ListEligible(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "reconcile cycle: list tenants failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(tenants) == 0 {
		return
	}

	result := eng.scheduler.Run(ctx, tenants, func(ctx context.Context, tenant domain.Tenant) domain.TenantOutcome {
		res, err := eng.reconciler.CheckResults(ctx, tenant)
		return domain.TenantOutcome{TenantID: tenant.ID, Err: err, Reconcile: &res}
	})

	for _, to := range result.TenantResults {
		if to.Reconcile == nil {
			continue
		}
		for _, w := range to.Reconcile.Settled {
			title, message := notify.FormatWagerSettled(w)
			if err := deps.Notifier.Notify(ctx, notify.EventWagerSettled, title, message); err != nil {
				a.logger.WarnContext(ctx, "settlement notification failed",
					slog.String("wager_id", w.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if deps.Mirror != nil {
		for _, tenant := range tenants {
			a.mirrorParityCheck(ctx, deps, tenant)
		}
	}
}

// mirrorParityCheck compares the mirror document's pending rows against the
// authoritative store. Divergence is expected to heal within one cycle since
// rows are rewritten from authoritative state; persistent divergence means
// the mirror proxy is dropping writes. Display parity only, never corrective.
func (a *App) mirrorParityCheck(ctx context.Context, deps *Dependencies, tenant domain.Tenant) {
	if tenant.MirrorDocID == "" {
		return
	}
	rows, err := deps.Mirror.ReadPendingRows(ctx, tenant.MirrorDocID)
	if err != nil {
		a.logger.WarnContext(ctx, "mirror parity check: read failed",
			slog.String("tenant_id", tenant.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	pending, err := deps.WagerStore.ListPending(ctx, tenant.ID)
	if err != nil {
		a.logger.WarnContext(ctx, "mirror parity check: authoritative read failed",
			slog.String("tenant_id", tenant.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(rows) != len(pending) {
		a.logger.WarnContext(ctx, "mirror diverges from authoritative store",
			slog.String("tenant_id", tenant.ID),
			slog.Int("mirror_pending", len(rows)),
			slog.Int("authoritative_pending", len(pending)),
		)
	}
}

// importCycle runs one scheduler pass of fixture import across all eligible
// tenants.
func (a *App) importCycle(ctx context.Context, deps *Dependencies, eng *engines) {
	tenants, err := deps.TenantStore.ListEligible(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "import cycle: list tenants failed",
			slog.String("error", err.Error()),
		)
		return
	}

	_ = eng.scheduler.Run(ctx, tenants, func(ctx context.Context, tenant domain.Tenant) domain.TenantOutcome {
		res, err := eng.importer.ImportFixtures(ctx, tenant)
		return domain.TenantOutcome{TenantID: tenant.ID, Err: err, Import: &res}
	})
}

// keepAliveLoop extends every eligible tenant's exchange session on a fixed
// interval so long-running deployments never pay a login round-trip mid-cycle.
func (a *App) keepAliveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tenants, err := deps.TenantStore.ListEligible(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "keep-alive: list tenants failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			seen := make(map[string]bool, len(tenants))
			for _, t := range tenants {
				if t.CredentialRef == "" || seen[t.CredentialRef] {
					continue
				}
				seen[t.CredentialRef] = true
				if err := deps.Exchange.KeepAlive(ctx, t.CredentialRef); err != nil {
					a.logger.WarnContext(ctx, "session keep-alive failed",
						slog.String("credential_ref", t.CredentialRef),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}
