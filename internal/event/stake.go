package event

import "github.com/google/uuid"

// StakeTokens moves Amount from the trader's token account into the pool.
type StakeTokens struct {
	RequestID uuid.UUID
	Trader    uuid.UUID
	Amount    uint64
}

func (s *StakeTokens) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *StakeTokens) EventType() EventType {
	return EventTypeStakeTokens
}

func (s *StakeTokens) Signer() uuid.UUID {
	return s.Trader
}

func (s *StakeTokens) TraderID() uuid.UUID {
	return s.Trader
}

// WithdrawStake returns Amount from the pool to the trader. The pool debit is
// co-signed by Admin.
type WithdrawStake struct {
	RequestID uuid.UUID
	Trader    uuid.UUID
	Admin     uuid.UUID
	Amount    uint64
}

func (w *WithdrawStake) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *WithdrawStake) EventType() EventType {
	return EventTypeWithdrawStake
}

func (w *WithdrawStake) Signer() uuid.UUID {
	return w.Trader
}

func (w *WithdrawStake) TraderID() uuid.UUID {
	return w.Trader
}
