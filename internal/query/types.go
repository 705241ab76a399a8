package query

import "github.com/google/uuid"

// LeaderboardEntry is one ranked slot.
type LeaderboardEntry struct {
	Rank               int       `json:"rank"`
	TraderID           uuid.UUID `json:"trader_id"`
	TotalTrades        uint64    `json:"total_trades"`
	TotalExecutionTime uint64    `json:"total_execution_time"`
	// AverageExecutionTime is total_execution_time / total_trades, 6 decimals.
	AverageExecutionTime string `json:"average_execution_time"`
}

// LeaderboardResponse is the ranked table, best first.
type LeaderboardResponse struct {
	Entries      []LeaderboardEntry `json:"entries"`
	AsOfSequence int64              `json:"as_of_sequence"`
}

// GlobalStateResponse describes the ranking program.
type GlobalStateResponse struct {
	Admin                  uuid.UUID `json:"admin"`
	LastRewardDistribution int64     `json:"last_reward_distribution"`
	NextDistributionAt     int64     `json:"next_distribution_at"`
	AsOfSequence           int64     `json:"as_of_sequence"`
}

// TraderStatsResponse is a trader's counters plus the reward a claim would pay.
type TraderStatsResponse struct {
	TraderID           uuid.UUID `json:"trader_id"`
	TotalTrades        uint64    `json:"total_trades"`
	TotalExecutionTime uint64    `json:"total_execution_time"`
	FailedTrades       uint64    `json:"failed_trades"`
	LastUpdated        int64     `json:"last_updated"`
	LastRewardTime     int64     `json:"last_reward_time"`
	ClaimableReward    string    `json:"claimable_reward"` // token units
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// StakeResponse is a trader's staked balance.
type StakeResponse struct {
	TraderID     uuid.UUID `json:"trader_id"`
	StakedAmount uint64    `json:"staked_amount"`         // base units
	Staked       string    `json:"staked_amount_display"` // token units
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PayoutResponse is one reward or claim payout.
type PayoutResponse struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Sequence   int64     `json:"sequence"`
	PayoutType string    `json:"payout_type"`
	ToAccount  string    `json:"to_account"`
	Amount     uint64    `json:"amount"`
	Display    string    `json:"amount_display"`
	Timestamp  int64     `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// StakePoolDrift is staking pool balance minus the sum of recorded
	// stakes, when the token ledger lives in Postgres.
	StakePoolDrift string `json:"stake_pool_drift,omitempty"`
}
