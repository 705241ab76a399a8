package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// GlobalState is the singleton ranking state created by Initialize.
type GlobalState struct {
	Admin                  uuid.UUID
	LastRewardDistribution int64 // unix seconds
	Leaderboard            Leaderboard
}

// TraderStats holds one trader's counters.
type TraderStats struct {
	Trader             uuid.UUID
	TotalTrades        uint64
	TotalExecutionTime uint64
	LastUpdated        int64 // unix seconds
	LastRewardTime     int64 // unix seconds
	FailedTrades       uint64
}

// StakeInfo holds one trader's staked balance.
type StakeInfo struct {
	Trader       uuid.UUID
	StakedAmount uint64
}

// TraderBook stores per-trader records. Not thread-safe; owned by the engine.
type TraderBook struct {
	stats  map[uuid.UUID]*TraderStats
	stakes map[uuid.UUID]*StakeInfo
}

func NewTraderBook() *TraderBook {
	return &TraderBook{
		stats:  make(map[uuid.UUID]*TraderStats),
		stakes: make(map[uuid.UUID]*StakeInfo),
	}
}

// Stats returns a copy of the trader's stats.
func (b *TraderBook) Stats(trader uuid.UUID) (TraderStats, bool) {
	s, ok := b.stats[trader]
	if !ok {
		return TraderStats{}, false
	}
	return *s, true
}

// PutStats stores stats, replacing any existing record.
func (b *TraderBook) PutStats(s TraderStats) {
	cp := s
	b.stats[s.Trader] = &cp
}

// Stake returns a copy of the trader's stake, or a zero stake when none
// exists yet.
func (b *TraderBook) Stake(trader uuid.UUID) (StakeInfo, bool) {
	s, ok := b.stakes[trader]
	if !ok {
		return StakeInfo{Trader: trader}, false
	}
	return *s, true
}

// PutStake stores a stake record.
func (b *TraderBook) PutStake(s StakeInfo) {
	cp := s
	b.stakes[s.Trader] = &cp
}

// TraderCount returns the number of registered traders.
func (b *TraderBook) TraderCount() int {
	return len(b.stats)
}

// AllStats returns copies of every record ordered by trader id.
func (b *TraderBook) AllStats() []TraderStats {
	out := make([]TraderStats, 0, len(b.stats))
	for _, s := range b.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Trader[:], out[j].Trader[:]) < 0
	})
	return out
}

// AllStakes returns copies of every stake ordered by trader id.
func (b *TraderBook) AllStakes() []StakeInfo {
	out := make([]StakeInfo, 0, len(b.stakes))
	for _, s := range b.stakes {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Trader[:], out[j].Trader[:]) < 0
	})
	return out
}

// Reset drops every record. Used before restoring a snapshot.
func (b *TraderBook) Reset() {
	b.stats = make(map[uuid.UUID]*TraderStats)
	b.stakes = make(map[uuid.UUID]*StakeInfo)
}
