package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"XspdLeaderboard/internal/core"
)

// Watermark returns the last sequence the projections reflect, or -1.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = $1
	`, WatermarkName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// Rebuild replaces every projection table with the engine state in snap.
// Payout history is recomputed from the event log.
func Rebuild(ctx context.Context, db *sql.DB, snap *core.SnapshotState) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM projections.global_state`,
		`DELETE FROM projections.leaderboard`,
		`DELETE FROM projections.trader_stats`,
		`DELETE FROM projections.stakes`,
		`DELETE FROM projections.reward_payouts`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear projections: %w", err)
		}
	}

	if snap.Global != nil {
		if err := upsertGlobal(ctx, tx, *snap.Global, snap.Sequence); err != nil {
			return fmt.Errorf("rebuild global: %w", err)
		}
		if err := writeLeaderboard(ctx, tx, &snap.Global.Leaderboard, snap.Sequence); err != nil {
			return fmt.Errorf("rebuild leaderboard: %w", err)
		}
	}
	for _, s := range snap.Traders {
		if err := upsertStats(ctx, tx, s, snap.Sequence); err != nil {
			return fmt.Errorf("rebuild trader_stats: %w", err)
		}
	}
	for _, s := range snap.Stakes {
		if err := upsertStake(ctx, tx, s, snap.Sequence); err != nil {
			return fmt.Errorf("rebuild stakes: %w", err)
		}
	}

	// Trader accounts name their owner; external accounts are resolved
	// through the DistributeRewards candidates in the logged payload.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reward_payouts
			(transfer_id, sequence, payout_type, trader_id, to_account, amount, ts)
		SELECT t.transfer_id, t.sequence, t.transfer_type,
		       COALESCE(
		           CASE WHEN t.to_account LIKE 'trader:%' THEN split_part(t.to_account, ':', 2)::UUID END,
		           (SELECT (c->>'owner')::UUID
		              FROM jsonb_array_elements(e.payload->'candidates') c
		             WHERE c->>'account' = t.to_account
		             LIMIT 1)
		       ),
		       t.to_account, t.amount, t.ts
		FROM event_log.transfers t
		JOIN event_log.events e ON e.sequence = t.sequence
		WHERE t.transfer_type IN ('reward_payout', 'claim_payout')
		  AND t.sequence <= $1
	`, snap.Sequence); err != nil {
		return fmt.Errorf("rebuild reward_payouts: %w", err)
	}

	if err := setWatermark(ctx, tx, snap.Sequence); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}
	return tx.Commit()
}
