package ledger

import (
	"errors"
	"fmt"
)

var ErrSupplyMismatch = errors.New("total supply does not match minted")

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatch verifies the batch is well-formed before execution.
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	return batch.Validate()
}

// ValidateConservation verifies transfers only moved tokens: the total across
// all accounts must equal what was minted.
func (v *InvariantValidator) ValidateConservation(minted uint64) error {
	return v.ValidateStaged(nil, minted)
}

// ValidateStaged runs the conservation check against staged balances, before
// they are committed.
func (v *InvariantValidator) ValidateStaged(working map[AccountKey]uint64, minted uint64) error {
	total, err := v.tracker.TotalSupplyWith(working)
	if err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	if total != minted {
		return fmt.Errorf("%w: total %d, minted %d", ErrSupplyMismatch, total, minted)
	}
	return nil
}
