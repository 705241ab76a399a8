package state

import (
	"bytes"
	"fmt"

	fpmath "XspdLeaderboard/internal/math"

	"github.com/google/uuid"
)

// LeaderboardSize is the fixed number of ranking slots.
const LeaderboardSize = 10

// LeaderboardEntry is one ranking slot. The zero value is the empty sentinel.
type LeaderboardEntry struct {
	Trader             uuid.UUID
	TotalTrades        uint64
	TotalExecutionTime uint64
}

// IsEmpty reports whether the slot holds the sentinel.
func (e LeaderboardEntry) IsEmpty() bool {
	return e.Trader == uuid.Nil
}

// AverageTime returns total_execution_time / total_trades with floor division.
// Ranking never uses this value; it exists for display only.
func (e LeaderboardEntry) AverageTime() (uint64, bool) {
	if e.TotalTrades == 0 {
		return 0, false
	}
	return e.TotalExecutionTime / e.TotalTrades, true
}

// compareAverage orders two entries by exact average time. Empty slots and
// zero-trade entries rank as +infinity.
func compareAverage(a, b LeaderboardEntry) int {
	ad, bd := a.TotalTrades, b.TotalTrades
	if a.IsEmpty() {
		ad = 0
	}
	if b.IsEmpty() {
		bd = 0
	}
	return fpmath.CompareRatio(a.TotalExecutionTime, ad, b.TotalExecutionTime, bd)
}

// rankLess is the total order used for sorting: average ascending, empty
// slots last, equal averages broken by trader id ascending.
func rankLess(a, b LeaderboardEntry) bool {
	if a.IsEmpty() != b.IsEmpty() {
		return b.IsEmpty()
	}
	if a.IsEmpty() {
		return false
	}
	if c := compareAverage(a, b); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Trader[:], b.Trader[:]) < 0
}

// LeaderboardOutcome describes what an update did to the table.
type LeaderboardOutcome int32

const (
	LeaderboardSkipped LeaderboardOutcome = iota // zero trades, no-op
	LeaderboardUpdated                           // existing slot overwritten
	LeaderboardInserted                          // placed into an empty slot
	LeaderboardEvicted                           // replaced the worst performer
	LeaderboardRejected                          // not better than the worst
)

func (o LeaderboardOutcome) String() string {
	switch o {
	case LeaderboardSkipped:
		return "skipped"
	case LeaderboardUpdated:
		return "updated"
	case LeaderboardInserted:
		return "inserted"
	case LeaderboardEvicted:
		return "evicted"
	case LeaderboardRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// LeaderboardChange is the result of Leaderboard.Apply.
type LeaderboardChange struct {
	Outcome LeaderboardOutcome
	Evicted uuid.UUID // set only for LeaderboardEvicted
}

// Leaderboard is a fixed arena of ranking slots. It is a value type: copying
// it gives an independent working copy.
type Leaderboard [LeaderboardSize]LeaderboardEntry

// IndexOf returns the slot holding trader, or -1.
func (lb *Leaderboard) IndexOf(trader uuid.UUID) int {
	if trader == uuid.Nil {
		return -1
	}
	for i := range lb {
		if lb[i].Trader == trader {
			return i
		}
	}
	return -1
}

// Occupied returns the number of non-empty slots.
func (lb *Leaderboard) Occupied() int {
	n := 0
	for i := range lb {
		if !lb[i].IsEmpty() {
			n++
		}
	}
	return n
}

// TotalTrades sums total_trades across all slots.
func (lb *Leaderboard) TotalTrades() (uint64, error) {
	var total uint64
	for i := range lb {
		var err error
		total, err = fpmath.AddU64(total, lb[i].TotalTrades)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Apply feeds a trader's cumulative totals into the table and re-sorts it.
func (lb *Leaderboard) Apply(trader uuid.UUID, totalTrades, totalExecutionTime uint64) (LeaderboardChange, error) {
	if trader == uuid.Nil {
		return LeaderboardChange{}, fmt.Errorf("leaderboard: nil trader id")
	}
	if totalTrades == 0 {
		return LeaderboardChange{Outcome: LeaderboardSkipped}, nil
	}

	candidate := LeaderboardEntry{
		Trader:             trader,
		TotalTrades:        totalTrades,
		TotalExecutionTime: totalExecutionTime,
	}

	var change LeaderboardChange
	if idx := lb.IndexOf(trader); idx >= 0 {
		lb[idx] = candidate
		change.Outcome = LeaderboardUpdated
	} else if idx := lb.firstEmpty(); idx >= 0 {
		lb[idx] = candidate
		change.Outcome = LeaderboardInserted
	} else {
		worst := lb.worstIndex()
		if compareAverage(candidate, lb[worst]) >= 0 {
			return LeaderboardChange{Outcome: LeaderboardRejected}, nil
		}
		change.Evicted = lb[worst].Trader
		lb[worst] = candidate
		change.Outcome = LeaderboardEvicted
	}

	lb.sort()
	return change, nil
}

func (lb *Leaderboard) firstEmpty() int {
	for i := range lb {
		if lb[i].IsEmpty() {
			return i
		}
	}
	return -1
}

// worstIndex returns the slot with the maximum average; the first one wins ties.
func (lb *Leaderboard) worstIndex() int {
	worst := 0
	for i := 1; i < len(lb); i++ {
		if compareAverage(lb[i], lb[worst]) > 0 {
			worst = i
		}
	}
	return worst
}

// sort is a stable insertion sort.
func (lb *Leaderboard) sort() {
	for i := 1; i < len(lb); i++ {
		for j := i; j > 0 && rankLess(lb[j], lb[j-1]); j-- {
			lb[j], lb[j-1] = lb[j-1], lb[j]
		}
	}
}

// Validate checks the structural invariants: no duplicate trader, sorted
// order, empty slots last.
func (lb *Leaderboard) Validate() error {
	seen := make(map[uuid.UUID]struct{}, LeaderboardSize)
	for i := range lb {
		e := lb[i]
		if e.IsEmpty() {
			if e.TotalTrades != 0 || e.TotalExecutionTime != 0 {
				return fmt.Errorf("slot %d: empty slot carries counters", i)
			}
		} else {
			if _, dup := seen[e.Trader]; dup {
				return fmt.Errorf("slot %d: duplicate trader %s", i, e.Trader)
			}
			seen[e.Trader] = struct{}{}
		}
		if i > 0 && rankLess(e, lb[i-1]) {
			return fmt.Errorf("slot %d: out of order", i)
		}
	}
	return nil
}
