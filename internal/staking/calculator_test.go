package staking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrosca/stakepilot/internal/domain"
)

func TestCalculate_FreshCycle(t *testing.T) {
	// Scenario A: no accumulated loss, the next stake is the initial stake.
	stake, stopLoss, err := Calculate(0, 1.8, 0, 10, DefaultMaxSteps)
	require.NoError(t, err)
	assert.False(t, stopLoss)
	assert.Equal(t, 10.0, stake)

	payoff, err := PotentialPayoff(stake, 1.8)
	require.NoError(t, err)
	assert.Equal(t, 8.0, payoff)
}

func TestCalculate_RecoveryStake(t *testing.T) {
	// Scenario B: after losing 10, a win at 2.0 must recover the loss plus
	// one initial-stake unit: 10/(2.0-1) + 10 = 20.00.
	stake, stopLoss, err := Calculate(10, 2.0, 1, 10, DefaultMaxSteps)
	require.NoError(t, err)
	assert.False(t, stopLoss)
	assert.Equal(t, 20.0, stake)
}

func TestCalculate_RoundsToTwoDecimals(t *testing.T) {
	// 10/(1.3-1) + 5 = 38.333... → 38.33
	stake, stopLoss, err := Calculate(10, 1.3, 2, 5, DefaultMaxSteps)
	require.NoError(t, err)
	assert.False(t, stopLoss)
	assert.Equal(t, 38.33, stake)
}

func TestCalculate_StopLoss(t *testing.T) {
	// Scenario C: at maxSteps the calculator halts regardless of loss or price.
	stake, stopLoss, err := Calculate(150, 2.5, DefaultMaxSteps, 10, DefaultMaxSteps)
	require.NoError(t, err)
	assert.True(t, stopLoss)
	assert.Equal(t, 0.0, stake)

	stake, stopLoss, err = Calculate(150, 0.5, DefaultMaxSteps+3, 10, DefaultMaxSteps)
	require.NoError(t, err)
	assert.True(t, stopLoss)
	assert.Equal(t, 0.0, stake)
}

func TestCalculate_InvalidPrice(t *testing.T) {
	_, _, err := Calculate(10, 1.0, 1, 10, DefaultMaxSteps)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, _, err = Calculate(10, 0.9, 1, 10, DefaultMaxSteps)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	// The fresh-cycle branch never consults the price.
	stake, stopLoss, err := Calculate(0, 1.0, 0, 10, DefaultMaxSteps)
	require.NoError(t, err)
	assert.False(t, stopLoss)
	assert.Equal(t, 10.0, stake)
}

func TestCalculate_Deterministic(t *testing.T) {
	s1, b1, err1 := Calculate(123.45, 1.73, 3, 5, DefaultMaxSteps)
	s2, b2, err2 := Calculate(123.45, 1.73, 3, 5, DefaultMaxSteps)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, s1, s2)
	assert.Equal(t, b1, b2)
}

func TestPotentialPayoff_InvalidPrice(t *testing.T) {
	_, err := PotentialPayoff(10, 1.0)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestWinEffect_ResetsProgression(t *testing.T) {
	profit, loss, step, err := WinEffect(20, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, profit)
	assert.Equal(t, 0.0, loss)
	assert.Equal(t, 0, step)
}

func TestLossEffect_AdvancesProgression(t *testing.T) {
	loss, cumLoss, step := LossEffect(10, 0, 0)
	assert.Equal(t, -10.0, loss)
	assert.Equal(t, 10.0, cumLoss)
	assert.Equal(t, 1, step)

	loss, cumLoss, step = LossEffect(20, 10, 1)
	assert.Equal(t, -20.0, loss)
	assert.Equal(t, 30.0, cumLoss)
	assert.Equal(t, 2, step)
}

func TestLossEffect_NoFloatDrift(t *testing.T) {
	// Repeated accumulation of a 2-dp stake stays exact.
	cumLoss := 0.0
	step := 0
	for i := 0; i < 50; i++ {
		_, cumLoss, step = LossEffect(0.1, cumLoss, step)
	}
	assert.Equal(t, 5.0, cumLoss)
	assert.Equal(t, 50, step)
}
