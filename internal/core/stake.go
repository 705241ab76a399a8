package core

import (
	"fmt"

	fpmath "XspdLeaderboard/internal/math"
	"XspdLeaderboard/internal/state"
)

// DepositStake adds amount to the staked balance.
func DepositStake(stake *state.StakeInfo, amount uint64) error {
	staked, err := fpmath.AddU64(stake.StakedAmount, amount)
	if err != nil {
		return fmt.Errorf("staked_amount: %w", err)
	}
	stake.StakedAmount = staked
	return nil
}

// WithdrawStakeAmount removes amount from the staked balance.
func WithdrawStakeAmount(stake *state.StakeInfo, amount uint64) error {
	if amount > stake.StakedAmount {
		return fmt.Errorf("%w: requested %d, staked %d",
			ErrInsufficientStake, amount, stake.StakedAmount)
	}
	staked, err := fpmath.SubU64(stake.StakedAmount, amount)
	if err != nil {
		return fmt.Errorf("staked_amount: %w", err)
	}
	stake.StakedAmount = staked
	return nil
}
