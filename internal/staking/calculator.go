// Package staking implements the loss-recovery progression arithmetic. Every
// function is pure: no I/O, no shared state, identical inputs always yield
// identical outputs. Money values are rounded to 2 decimal places using exact
// decimal arithmetic so repeated loss accumulation cannot drift.
package staking

import (
	"github.com/shopspring/decimal"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// DefaultMaxSteps is the stop-loss bound on consecutive losses.
const DefaultMaxSteps = 7

// DefaultInitialStake is the base stake used for accounts provisioned without
// an explicit one.
const DefaultInitialStake = 5.00

// Calculate returns the stake for the next wager of a progression.
//
//   - progressionStep >= maxSteps: (0, true) — stop-loss reached.
//   - cumulativeLoss <= 0: (initialStake, false) — fresh cycle.
//   - otherwise: cumulativeLoss/(price-1) + initialStake, sized so a win at
//     price recovers the full cumulative loss plus one initial-stake unit of
//     profit. Requires price > 1.0.
func Calculate(cumulativeLoss, price float64, progressionStep int, initialStake float64, maxSteps int) (stake float64, stopLoss bool, err error) {
	if progressionStep >= maxSteps {
		return 0, true, nil
	}
	if cumulativeLoss <= 0 {
		return round2(initialStake), false, nil
	}
	if price <= 1.0 {
		return 0, false, domain.ErrInvalidPrice
	}

	loss := decimal.NewFromFloat(cumulativeLoss)
	margin := decimal.NewFromFloat(price).Sub(decimal.NewFromInt(1))
	initial := decimal.NewFromFloat(initialStake)

	s := loss.DivRound(margin, 8).Add(initial).Round(2)
	f, _ := s.Float64()
	return f, false, nil
}

// PotentialPayoff returns stake × (price − 1), rounded to 2 decimals. This is
// the profit a winning wager yields on top of the returned stake.
func PotentialPayoff(stake, price float64) (float64, error) {
	if price <= 1.0 {
		return 0, domain.ErrInvalidPrice
	}
	p := decimal.NewFromFloat(stake).
		Mul(decimal.NewFromFloat(price).Sub(decimal.NewFromInt(1))).
		Round(2)
	f, _ := p.Float64()
	return f, nil
}

// WinEffect returns the settlement effect of a won wager: the realised profit
// and the reset progression counters.
func WinEffect(stake, price float64) (profit, newCumulativeLoss float64, newStep int, err error) {
	profit, err = PotentialPayoff(stake, price)
	if err != nil {
		return 0, 0, 0, err
	}
	return profit, 0, 0, nil
}

// LossEffect returns the settlement effect of a lost wager: the signed loss
// and the advanced progression counters.
func LossEffect(stake, cumulativeLoss float64, progressionStep int) (loss, newCumulativeLoss float64, newStep int) {
	newLoss := decimal.NewFromFloat(cumulativeLoss).Add(decimal.NewFromFloat(stake)).Round(2)
	f, _ := newLoss.Float64()
	return -stake, f, progressionStep + 1
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
