package core

import (
	"fmt"

	fpmath "XspdLeaderboard/internal/math"
	"XspdLeaderboard/internal/state"
)

const (
	// TradeCooldownSeconds is the minimum gap between two recorded trades of
	// one trader. A gap of exactly this value is allowed.
	TradeCooldownSeconds = 30

	// PriceBandDivisor sets the accepted deviation from the oracle price:
	// |trade - oracle| <= oracle / PriceBandDivisor (0.5%, floor division).
	PriceBandDivisor = 200

	// MaxFailedTrades is the failure count at which RecordFailedTrade rejects.
	MaxFailedTrades = 5
)

// CheckCooldown rejects a trade arriving less than TradeCooldownSeconds after
// the trader's previous update.
func CheckCooldown(stats state.TraderStats, now int64) error {
	if now-stats.LastUpdated < TradeCooldownSeconds {
		return fmt.Errorf("%w: %ds since last trade, need %ds",
			ErrCooldownPeriod, now-stats.LastUpdated, TradeCooldownSeconds)
	}
	return nil
}

// CheckPriceBand rejects a trade price outside the oracle tolerance band.
func CheckPriceBand(oraclePrice, tradePrice uint64) error {
	band := oraclePrice / PriceBandDivisor
	if diff := fpmath.AbsDiffU64(oraclePrice, tradePrice); diff > band {
		return fmt.Errorf("%w: price %d deviates %d from oracle %d (band %d)",
			ErrInvalidTrade, tradePrice, diff, oraclePrice, band)
	}
	return nil
}

// ApplyTrade adds one trade to stats. stats is left untouched on error.
func ApplyTrade(stats *state.TraderStats, executionTime uint64, now int64) error {
	trades, err := fpmath.AddU64(stats.TotalTrades, 1)
	if err != nil {
		return fmt.Errorf("total_trades: %w", err)
	}
	execTime, err := fpmath.AddU64(stats.TotalExecutionTime, executionTime)
	if err != nil {
		return fmt.Errorf("total_execution_time: %w", err)
	}

	stats.TotalTrades = trades
	stats.TotalExecutionTime = execTime
	stats.LastUpdated = now
	return nil
}

// ApplyFailedTrade increments the failure counter, then rejects once it has
// reached MaxFailedTrades. The caller discards stats on any error, so a
// rejected call leaves the stored counter unchanged.
func ApplyFailedTrade(stats *state.TraderStats) error {
	failed, err := fpmath.AddU64(stats.FailedTrades, 1)
	if err != nil {
		return fmt.Errorf("failed_trades: %w", err)
	}
	stats.FailedTrades = failed

	if failed >= MaxFailedTrades {
		return fmt.Errorf("%w: %d failed trades", ErrTooManyFailedTrades, failed)
	}
	return nil
}
