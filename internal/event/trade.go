package event

import (
	"github.com/google/uuid"
)

// RecordTrade reports one executed trade for a registered trader.
// Idempotency key: request_id.
type RecordTrade struct {
	RequestID     uuid.UUID // Idempotency key
	Trader        uuid.UUID
	ExecutionTime uint64 // Time the trade took to execute
	TradePrice    uint64 // Price the trade executed at, oracle units
	Instrument    string // Oracle instrument the price is checked against
}

func (t *RecordTrade) IdempotencyKey() string {
	return t.RequestID.String()
}

func (t *RecordTrade) EventType() EventType {
	return EventTypeRecordTrade
}

func (t *RecordTrade) Signer() uuid.UUID {
	return t.Trader
}

func (t *RecordTrade) TraderID() uuid.UUID {
	return t.Trader
}

// RecordFailedTrade reports a failed trade attempt.
type RecordFailedTrade struct {
	RequestID uuid.UUID
	Trader    uuid.UUID
}

func (t *RecordFailedTrade) IdempotencyKey() string {
	return t.RequestID.String()
}

func (t *RecordFailedTrade) EventType() EventType {
	return EventTypeRecordFailedTrade
}

func (t *RecordFailedTrade) Signer() uuid.UUID {
	return t.Trader
}

func (t *RecordFailedTrade) TraderID() uuid.UUID {
	return t.Trader
}
