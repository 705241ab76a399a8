package ledger

import (
	"github.com/google/uuid"
)

// TransferGenerator builds the transfer batch for one command.
type TransferGenerator struct {
	batch *Batch
}

func NewTransferGenerator(requestID string, sequence, timestamp int64) *TransferGenerator {
	return &TransferGenerator{
		batch: &Batch{
			BatchID:   uuid.New(),
			RequestID: requestID,
			Sequence:  sequence,
			Timestamp: timestamp,
			Transfers: make([]Transfer, 0, 1),
		},
	}
}

func (g *TransferGenerator) add(from, to AccountKey, authority uuid.UUID, amount uint64, tt TransferType) {
	// Zero-amount legs move nothing and would fail batch validation.
	if amount == 0 {
		return
	}
	g.batch.Transfers = append(g.batch.Transfers, Transfer{
		TransferID:   uuid.New(),
		BatchID:      g.batch.BatchID,
		RequestID:    g.batch.RequestID,
		Sequence:     g.batch.Sequence,
		From:         from,
		To:           to,
		Authority:    authority,
		Amount:       amount,
		TransferType: tt,
		Timestamp:    g.batch.Timestamp,
	})
}

// RewardPayout moves a reward from the treasury to dest, signed by admin.
func (g *TransferGenerator) RewardPayout(dest AccountKey, admin uuid.UUID, amount uint64) {
	g.add(TreasuryAccount(), dest, admin, amount, TransferTypeRewardPayout)
}

// StakeDeposit moves tokens from the trader's account into the staking pool,
// signed by the trader.
func (g *TransferGenerator) StakeDeposit(trader uuid.UUID, amount uint64) {
	g.add(NewTraderAccountKey(trader), StakingPoolAccount(), trader, amount, TransferTypeStakeDeposit)
}

// StakeWithdrawal moves tokens from the staking pool back to the trader,
// co-signed by admin.
func (g *TransferGenerator) StakeWithdrawal(trader, admin uuid.UUID, amount uint64) {
	g.add(StakingPoolAccount(), NewTraderAccountKey(trader), admin, amount, TransferTypeStakeWithdrawal)
}

// ClaimPayout moves a claimed reward from the treasury to the trader, signed
// by admin.
func (g *TransferGenerator) ClaimPayout(trader, admin uuid.UUID, amount uint64) {
	g.add(TreasuryAccount(), NewTraderAccountKey(trader), admin, amount, TransferTypeClaimPayout)
}

// Batch returns the built batch.
func (g *TransferGenerator) Batch() *Batch {
	return g.batch
}
