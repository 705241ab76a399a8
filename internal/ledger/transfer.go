package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TransferType represents the purpose of a transfer
type TransferType int32

const (
	TransferTypeRewardPayout TransferType = iota
	TransferTypeStakeDeposit
	TransferTypeStakeWithdrawal
	TransferTypeClaimPayout
)

func (t TransferType) String() string {
	switch t {
	case TransferTypeRewardPayout:
		return "reward_payout"
	case TransferTypeStakeDeposit:
		return "stake_deposit"
	case TransferTypeStakeWithdrawal:
		return "stake_withdrawal"
	case TransferTypeClaimPayout:
		return "claim_payout"
	default:
		return "unknown"
	}
}

// Transfer moves Amount from From to To, authorized by Authority.
type Transfer struct {
	TransferID   uuid.UUID
	BatchID      uuid.UUID
	RequestID    string // Idempotency key of the source command
	Sequence     int64  // Global command sequence
	From         AccountKey
	To           AccountKey
	Authority    uuid.UUID
	Amount       uint64
	TransferType TransferType
	Timestamp    int64 // unix seconds, from the command's clock reading
}

// Batch is the set of transfers one command issues. It executes all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID
	RequestID string
	Sequence  int64
	Timestamp int64
	Transfers []Transfer
}

// TransferLedger executes a batch atomically. Any error means no transfer in
// the batch took effect.
type TransferLedger interface {
	Execute(ctx context.Context, batch *Batch) error
}

// IsEmpty reports whether the batch moves nothing.
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Transfers) == 0
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Transfers) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, t := range b.Transfers {
		if t.Amount == 0 {
			return fmt.Errorf("transfer %s has zero amount", t.TransferID)
		}
		if t.BatchID != b.BatchID {
			return fmt.Errorf("transfer %s has mismatched batch_id", t.TransferID)
		}
		if t.From == t.To {
			return fmt.Errorf("transfer %s has same source and destination", t.TransferID)
		}
		if t.Authority == uuid.Nil {
			return fmt.Errorf("transfer %s has no authority", t.TransferID)
		}
	}

	return nil
}

// SettledLedger accepts every batch without moving funds. Replay uses it:
// the transfers of a logged command were already executed the first time.
type SettledLedger struct{}

func (SettledLedger) Execute(_ context.Context, batch *Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	return batch.Validate()
}
