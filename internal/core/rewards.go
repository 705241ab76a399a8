package core

import (
	"fmt"

	"XspdLeaderboard/internal/ledger"
	fpmath "XspdLeaderboard/internal/math"
	"XspdLeaderboard/internal/state"

	"github.com/google/uuid"
)

const (
	// RewardIntervalSeconds gates DistributeRewards.
	RewardIntervalSeconds = 3600

	// BaseReward is 100 tokens at 9 decimals.
	BaseReward uint64 = 100 * 1_000_000_000

	// RewardStepTrades is the cumulative board trade count per reward multiple.
	RewardStepTrades = 500
)

// CheckRewardInterval rejects a distribution less than RewardIntervalSeconds
// after the previous one.
func CheckRewardInterval(lastDistribution, now int64) error {
	if elapsed := now - lastDistribution; elapsed < RewardIntervalSeconds {
		return fmt.Errorf("%w: %ds since last distribution, need %ds",
			ErrTooSoon, elapsed, RewardIntervalSeconds)
	}
	return nil
}

// RewardPerTrader sizes the bulk payout from the board's cumulative trades.
func RewardPerTrader(boardTrades uint64) (uint64, error) {
	if boardTrades < RewardStepTrades {
		return BaseReward, nil
	}
	return fpmath.MulU64(boardTrades/RewardStepTrades, BaseReward)
}

// MatchCandidate returns the first candidate account owned by trader.
func MatchCandidate(trader uuid.UUID, candidates []ledger.TokenAccount) (ledger.TokenAccount, bool) {
	for _, c := range candidates {
		if c.Owner == trader {
			return c, true
		}
	}
	return ledger.TokenAccount{}, false
}

// RewardPlan is the outcome of sizing one distribution.
type RewardPlan struct {
	BoardTrades     uint64
	RewardPerTrader uint64
	Paid            []ledger.TokenAccount
	Skipped         []uuid.UUID // ranked traders with no candidate account
}

// PlanDistribution sizes a distribution and queues one RewardPayout per
// ranked trader with a matching candidate account.
func PlanDistribution(
	board *state.Leaderboard,
	candidates []ledger.TokenAccount,
	admin uuid.UUID,
	gen *ledger.TransferGenerator,
) (*RewardPlan, error) {
	boardTrades, err := board.TotalTrades()
	if err != nil {
		return nil, fmt.Errorf("board total trades: %w", err)
	}
	perTrader, err := RewardPerTrader(boardTrades)
	if err != nil {
		return nil, fmt.Errorf("reward per trader: %w", err)
	}

	plan := &RewardPlan{BoardTrades: boardTrades, RewardPerTrader: perTrader}
	for _, entry := range board {
		if entry.IsEmpty() {
			continue
		}
		dest, ok := MatchCandidate(entry.Trader, candidates)
		if !ok {
			plan.Skipped = append(plan.Skipped, entry.Trader)
			continue
		}
		gen.RewardPayout(dest.Key, admin, perTrader)
		plan.Paid = append(plan.Paid, dest)
	}
	return plan, nil
}
