package projection

import (
	"context"
	"testing"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/state"
	"XspdLeaderboard/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayoutOwner(t *testing.T) {
	trader, owner, admin := uuid.New(), uuid.New(), uuid.New()
	wallet := ledger.NewExternalAccountKey(uuid.New())

	gen := ledger.NewTransferGenerator("r", 1, 1)
	gen.ClaimPayout(trader, admin, 10)
	gen.RewardPayout(wallet, admin, 20)
	gen.RewardPayout(ledger.NewExternalAccountKey(uuid.New()), admin, 30)
	batch := gen.Batch()

	out := &core.CoreOutput{
		Batch:   batch,
		Rewards: &core.RewardPlan{Paid: []ledger.TokenAccount{{Key: wallet, Owner: owner}}},
	}

	got := payoutOwner(out, batch.Transfers[0])
	assert.Equal(t, uuid.NullUUID{UUID: trader, Valid: true}, got)

	got = payoutOwner(out, batch.Transfers[1])
	assert.Equal(t, uuid.NullUUID{UUID: owner, Valid: true}, got)

	got = payoutOwner(out, batch.Transfers[2])
	assert.False(t, got.Valid)
}

func TestProjectionWorker_ApplyAndRebuild(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	admin, trader := uuid.New(), uuid.New()
	var board state.Leaderboard
	_, err := board.Apply(trader, 3, 90)
	require.NoError(t, err)

	stats := state.TraderStats{Trader: trader, TotalTrades: 3, TotalExecutionTime: 90, LastUpdated: 100}
	out := &core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 4, EventType: event.EventTypeRecordTrade, Trader: trader},
		Global:   state.GlobalState{Admin: admin, LastRewardDistribution: 50, Leaderboard: board},
		Stats:    &stats,
	}

	pw := NewProjectionWorker(db, nil, nil)
	require.NoError(t, pw.Apply(ctx, out))

	wm, err := Watermark(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), wm)

	var rank int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT rank FROM projections.leaderboard WHERE trader_id = $1`, trader).Scan(&rank))
	assert.Equal(t, 1, rank)

	// Rebuild from a snapshot with no traders clears the rows.
	require.NoError(t, Rebuild(ctx, db, &core.SnapshotState{
		Sequence: 7,
		Global:   &state.GlobalState{Admin: admin, LastRewardDistribution: 50},
	}))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.leaderboard`).Scan(&n))
	assert.Zero(t, n)
	wm, err = Watermark(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(7), wm)
}
