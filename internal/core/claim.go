package core

import (
	"fmt"

	fpmath "XspdLeaderboard/internal/math"
	"XspdLeaderboard/internal/state"
)

// ClaimRewardPerTrade is 0.01 token at 9 decimals.
const ClaimRewardPerTrade uint64 = 10_000_000

// ClaimAmount sizes a claim and resets the counters it pays for.
func ClaimAmount(stats *state.TraderStats, now int64) (uint64, error) {
	if stats.TotalTrades == 0 {
		return 0, ErrNoEligibleRewards
	}
	amount, err := fpmath.MulU64(stats.TotalTrades, ClaimRewardPerTrade)
	if err != nil {
		return 0, fmt.Errorf("reward amount: %w", err)
	}

	stats.TotalTrades = 0
	stats.TotalExecutionTime = 0
	stats.FailedTrades = 0
	stats.LastRewardTime = now
	return amount, nil
}
