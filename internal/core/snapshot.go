package core

import (
	"fmt"

	"XspdLeaderboard/internal/state"
)

// SnapshotState is the serializable in-memory state of the engine.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"` // last applied sequence
	StateHash       [32]byte            `json:"state_hash"`
	Global          *state.GlobalState  `json:"global,omitempty"`
	Traders         []state.TraderStats `json:"traders"`
	Stakes          []state.StakeInfo   `json:"stakes"`
	IdempotencyKeys []string            `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		Traders:         e.book.AllStats(),
		Stakes:          e.book.AllStakes(),
		IdempotencyKeys: e.idempotency.Keys(),
	}
	if e.global != nil {
		g := *e.global
		snap.Global = &g
	}
	return snap
}

// RestoreFromSnapshot replaces the engine's state. Replay of later log
// entries continues from snap.Sequence+1.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	if snap.Global != nil {
		if err := snap.Global.Leaderboard.Validate(); err != nil {
			return fmt.Errorf("snapshot at sequence %d: %w", snap.Sequence, err)
		}
	}

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)

	e.global = nil
	if snap.Global != nil {
		g := *snap.Global
		e.global = &g
	}

	e.book.Reset()
	for _, s := range snap.Traders {
		e.book.PutStats(s)
	}
	for _, s := range snap.Stakes {
		e.book.PutStake(s)
	}

	e.idempotency.Warm(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recently applied request keys into the dedup cache.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.Warm(keys)
}
