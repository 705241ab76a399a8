package event

import (
	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialize
	EventTypeRegisterTrader
	EventTypeRecordTrade
	EventTypeRecordFailedTrade
	EventTypeDistributeRewards
	EventTypeStakeTokens
	EventTypeWithdrawStake
	EventTypeClaimRewards
)

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Caller-supplied idempotency key
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Trader the command acted on (uuid.Nil for global commands)
	Trader uuid.UUID

	// Clock reading used while applying (unix seconds)
	Now int64

	// Oracle price used while applying (RecordTrade only)
	OraclePrice uint64

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Signer returns the identity that authorized the command
	Signer() uuid.UUID

	// TraderID returns the trader acted on (uuid.Nil for global commands)
	TraderID() uuid.UUID
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitialize:
		return "Initialize"
	case EventTypeRegisterTrader:
		return "RegisterTrader"
	case EventTypeRecordTrade:
		return "RecordTrade"
	case EventTypeRecordFailedTrade:
		return "RecordFailedTrade"
	case EventTypeDistributeRewards:
		return "DistributeRewards"
	case EventTypeStakeTokens:
		return "StakeTokens"
	case EventTypeWithdrawStake:
		return "WithdrawStake"
	case EventTypeClaimRewards:
		return "ClaimRewards"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypeInitialize; et <= EventTypeClaimRewards; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
