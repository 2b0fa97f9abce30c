// Package engine contains the core wagering workflow: the wager lifecycle
// machine, the idempotency guard and account processor, the tenant runner,
// the bounded-concurrency batch scheduler, the settlement reconciler and the
// fixture importer. All venue and document access goes through the narrow
// domain interfaces; the authoritative store is the only source of truth.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mvrosca/stakepilot/internal/domain"
	"github.com/mvrosca/stakepilot/internal/staking"
)

// legalTransitions is the full transition table of the wager state machine.
// Terminal states have no outgoing edges.
var legalTransitions = map[domain.WagerState][]domain.WagerState{
	domain.WagerCreated:   {domain.WagerSubmitted, domain.WagerFailed},
	domain.WagerSubmitted: {domain.WagerPending, domain.WagerFailed},
	domain.WagerPending:   {domain.WagerSettledWon, domain.WagerSettledLost},
}

// CanTransition reports whether the state machine defines an edge from → to.
func CanTransition(from, to domain.WagerState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle drives wager state transitions and is the only component that
// mutates staking-account progression fields. Settlement effects are applied
// through the store's transactional ApplySettlement so account and wager
// always move together.
type Lifecycle struct {
	wagers   domain.WagerStore
	accounts domain.AccountStore
	logger   *slog.Logger
}

// NewLifecycle creates a Lifecycle over the authoritative stores.
func NewLifecycle(wagers domain.WagerStore, accounts domain.AccountStore, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		wagers:   wagers,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "lifecycle")),
	}
}

// RecordAcknowledged moves a freshly submitted wager to pending, storing the
// exchange order id. Partial or unmatched amounts are still pending; there is
// no partial-settlement modeling.
func (m *Lifecycle) RecordAcknowledged(ctx context.Context, w domain.Wager, orderID string) error {
	if !CanTransition(w.State, domain.WagerSubmitted) && w.State != domain.WagerSubmitted {
		return fmt.Errorf("lifecycle: wager %s in state %s: %w", w.ID, w.State, domain.ErrInvalidTransition)
	}
	if err := m.wagers.UpdateSubmission(ctx, w.ID, domain.WagerPending, orderID, ""); err != nil {
		return fmt.Errorf("lifecycle: record acknowledged %s: %w", w.ID, err)
	}
	m.logger.InfoContext(ctx, "wager pending",
		slog.String("wager_id", w.ID),
		slog.String("order_id", orderID),
		slog.Float64("stake", w.Stake),
		slog.Float64("price", w.Price),
	)
	return nil
}

// RecordRejected moves a created or submitted wager to the terminal failed
// state. Account progression is untouched: a rejected placement costs
// nothing.
func (m *Lifecycle) RecordRejected(ctx context.Context, w domain.Wager, code string) error {
	if w.State.Terminal() {
		return fmt.Errorf("lifecycle: wager %s already terminal (%s): %w", w.ID, w.State, domain.ErrInvalidTransition)
	}
	if err := m.wagers.UpdateSubmission(ctx, w.ID, domain.WagerFailed, "", code); err != nil {
		return fmt.Errorf("lifecycle: record rejected %s: %w", w.ID, err)
	}
	m.logger.WarnContext(ctx, "wager rejected",
		slog.String("wager_id", w.ID),
		slog.String("code", code),
	)
	return nil
}

// SettleWon applies a winning settlement: the wager becomes settled_won and
// the owning account's progression resets to zero. Re-settling a terminal
// wager is a no-op that returns the stored wager.
func (m *Lifecycle) SettleWon(ctx context.Context, w domain.Wager) (domain.Wager, error) {
	if w.State.Terminal() {
		return w, nil
	}
	if !CanTransition(w.State, domain.WagerSettledWon) {
		return w, fmt.Errorf("lifecycle: settle won %s from %s: %w", w.ID, w.State, domain.ErrInvalidTransition)
	}

	profit, newLoss, newStep, err := staking.WinEffect(w.Stake, w.Price)
	if err != nil {
		return w, fmt.Errorf("lifecycle: settle won %s: %w", w.ID, err)
	}

	settled, err := m.wagers.ApplySettlement(ctx, w.ID, domain.WagerSettledWon, profit, domain.ProgressionUpdate{
		CumulativeLoss:  newLoss,
		ProgressionStep: newStep,
		LastStake:       w.Stake,
		Status:          domain.AccountActive,
	})
	if err != nil {
		return w, fmt.Errorf("lifecycle: settle won %s: %w", w.ID, err)
	}

	m.logger.InfoContext(ctx, "wager won",
		slog.String("wager_id", w.ID),
		slog.String("account_id", w.AccountID),
		slog.Float64("profit", profit),
	)
	return settled, nil
}

// SettleLost applies a losing settlement: the wager becomes settled_lost, the
// stake is added to the account's cumulative loss and the progression step
// advances. Re-settling a terminal wager is a no-op.
func (m *Lifecycle) SettleLost(ctx context.Context, w domain.Wager) (domain.Wager, error) {
	if w.State.Terminal() {
		return w, nil
	}
	if !CanTransition(w.State, domain.WagerSettledLost) {
		return w, fmt.Errorf("lifecycle: settle lost %s from %s: %w", w.ID, w.State, domain.ErrInvalidTransition)
	}

	account, err := m.accounts.GetByID(ctx, w.AccountID)
	if err != nil {
		return w, fmt.Errorf("lifecycle: settle lost %s: load account: %w", w.ID, err)
	}

	loss, newLoss, newStep := staking.LossEffect(w.Stake, account.CumulativeLoss, account.ProgressionStep)

	settled, err := m.wagers.ApplySettlement(ctx, w.ID, domain.WagerSettledLost, loss, domain.ProgressionUpdate{
		CumulativeLoss:  newLoss,
		ProgressionStep: newStep,
		LastStake:       w.Stake,
		Status:          account.Status,
	})
	if err != nil {
		return w, fmt.Errorf("lifecycle: settle lost %s: %w", w.ID, err)
	}

	m.logger.InfoContext(ctx, "wager lost",
		slog.String("wager_id", w.ID),
		slog.String("account_id", w.AccountID),
		slog.Float64("cumulative_loss", newLoss),
		slog.Int("progression_step", newStep),
	)
	return settled, nil
}
