package server

import (
	"XspdLeaderboard/internal/ingestion"
	"XspdLeaderboard/internal/query"

	"github.com/google/uuid"
)

// Request ids are optional on every command; an omitted id is generated.

type InitializeRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Admin     uuid.UUID `json:"admin"`
}

type RegisterTraderRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Trader    uuid.UUID `json:"trader"`
}

type RecordTradeRequest struct {
	RequestID     uuid.UUID `json:"request_id"`
	Trader        uuid.UUID `json:"trader"`
	ExecutionTime uint64    `json:"execution_time"`
	TradePrice    uint64    `json:"trade_price"`
	Instrument    string    `json:"instrument,omitempty"`
}

type RecordFailedTradeRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Trader    uuid.UUID `json:"trader"`
}

// Candidate is a token account offered to DistributeRewards.
type Candidate struct {
	Account string    `json:"account"` // account path, e.g. external:<uuid>
	Owner   uuid.UUID `json:"owner"`
}

type DistributeRewardsRequest struct {
	RequestID  uuid.UUID   `json:"request_id"`
	Admin      uuid.UUID   `json:"admin"`
	Candidates []Candidate `json:"candidates"`
}

type StakeTokensRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Trader    uuid.UUID `json:"trader"`
	Amount    uint64    `json:"amount"`
}

type WithdrawStakeRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Trader    uuid.UUID `json:"trader"`
	Admin     uuid.UUID `json:"admin"`
	Amount    uint64    `json:"amount"`
}

type ClaimRewardsRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Trader    uuid.UUID `json:"trader"`
	Admin     uuid.UUID `json:"admin"`
}

// CommandResponse reports an applied command. Duplicate is set, and Event
// left nil, when the request id had already been applied.
type CommandResponse struct {
	Duplicate bool                        `json:"duplicate"`
	Event     *ingestion.PublishableEvent `json:"event,omitempty"`
}

type Empty struct{}

type TraderRequest struct {
	Trader uuid.UUID `json:"trader"`
}

type RewardHistoryRequest struct {
	Trader         uuid.UUID `json:"trader"`
	Limit          int       `json:"limit,omitempty"`
	BeforeSequence *int64    `json:"before_sequence,omitempty"`
}

type RewardHistoryResponse struct {
	Payouts []query.PayoutResponse `json:"payouts"`
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
	Verified bool  `json:"verified"`
}

type RebuildResponse struct {
	Sequence int64 `json:"sequence"`
}

type EventLogInfoResponse struct {
	LastLoggedSequence  int64  `json:"last_logged_sequence"`
	LastAppliedSequence int64  `json:"last_applied_sequence"`
	StateHash           string `json:"state_hash"`
	Traders             int    `json:"traders"`
	Uptime              string `json:"uptime"`
}
