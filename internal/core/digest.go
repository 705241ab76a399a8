package core

import (
	"encoding/binary"

	"XspdLeaderboard/internal/event"
)

// computeStateDigest serializes the state a command touched. Field order is
// fixed; identifiers that differ between runs (batch and transfer ids) are
// left out so replay reproduces the same hash.
func computeStateDigest(commandType event.EventType, now int64, out *CoreOutput) []byte {
	digest := make([]byte, 0, 512)

	digest = append(digest, byte(commandType))
	digest = appendInt64LE(digest, now)

	g := out.Global
	digest = append(digest, g.Admin[:]...)
	digest = appendInt64LE(digest, g.LastRewardDistribution)
	for _, entry := range g.Leaderboard {
		digest = append(digest, entry.Trader[:]...)
		digest = appendUint64LE(digest, entry.TotalTrades)
		digest = appendUint64LE(digest, entry.TotalExecutionTime)
	}

	if s := out.Stats; s != nil {
		digest = append(digest, 'T')
		digest = append(digest, s.Trader[:]...)
		digest = appendUint64LE(digest, s.TotalTrades)
		digest = appendUint64LE(digest, s.TotalExecutionTime)
		digest = appendInt64LE(digest, s.LastUpdated)
		digest = appendInt64LE(digest, s.LastRewardTime)
		digest = appendUint64LE(digest, s.FailedTrades)
	}

	if s := out.Stake; s != nil {
		digest = append(digest, 'S')
		digest = append(digest, s.Trader[:]...)
		digest = appendUint64LE(digest, s.StakedAmount)
	}

	if out.Batch != nil {
		for _, t := range out.Batch.Transfers {
			from, to := t.From.AccountPath(), t.To.AccountPath()
			digest = append(digest, byte(len(from)))
			digest = append(digest, from...)
			digest = append(digest, byte(len(to)))
			digest = append(digest, to...)
			digest = append(digest, t.Authority[:]...)
			digest = appendUint64LE(digest, t.Amount)
			digest = append(digest, byte(t.TransferType))
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}
