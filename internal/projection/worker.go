package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/observability"
	"XspdLeaderboard/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WatermarkName is this worker's row in projections.watermark.
const WatermarkName = "main"

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ProjectionWorker updates the read models from applied commands.
// The engine drops outputs when this worker falls behind; Rebuild restores
// the tables from a snapshot and the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := out.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if gap := seq - pw.lastSeq - 1; pw.lastSeq >= 0 && gap > 0 {
				// Dropped outputs: rows for untouched traders are stale
				// until the next Rebuild.
				pw.log.Warn().Int64("sequence", seq).Int64("missed", gap).Msg("projection gap")
			}

			if err := pw.Apply(ctx, &out); err != nil {
				// Eventually consistent: rebuilt from the log on restart.
				pw.log.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrorTotal.WithLabelValues("main").Inc()
				}
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output's changes in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out *core.CoreOutput) error {
	start := time.Now()
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertGlobal(ctx, tx, out.Global, seq); err != nil {
		return fmt.Errorf("global projection: %w", err)
	}
	if err := writeLeaderboard(ctx, tx, &out.Global.Leaderboard, seq); err != nil {
		return fmt.Errorf("leaderboard projection: %w", err)
	}
	if out.Stats != nil {
		if err := upsertStats(ctx, tx, *out.Stats, seq); err != nil {
			return fmt.Errorf("trader_stats projection: %w", err)
		}
	}
	if out.Stake != nil {
		if err := upsertStake(ctx, tx, *out.Stake, seq); err != nil {
			return fmt.Errorf("stakes projection: %w", err)
		}
	}
	if out.Batch != nil {
		for _, t := range out.Batch.Transfers {
			if err := insertPayout(ctx, tx, t, payoutOwner(out, t)); err != nil {
				return fmt.Errorf("reward_payouts projection: %w", err)
			}
		}
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
		pw.metrics.ProjectionLastSeq.Set(float64(seq))
	}
	return nil
}

// payoutOwner resolves the trader a payout belongs to.
func payoutOwner(out *core.CoreOutput, t ledger.Transfer) uuid.NullUUID {
	if owner, ok := t.To.OwnerOf(); ok {
		return uuid.NullUUID{UUID: owner, Valid: true}
	}
	if out.Rewards != nil {
		for _, acc := range out.Rewards.Paid {
			if acc.Key == t.To {
				return uuid.NullUUID{UUID: acc.Owner, Valid: true}
			}
		}
	}
	return uuid.NullUUID{}
}

func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func upsertGlobal(ctx context.Context, ex execer, g state.GlobalState, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.global_state (id, admin_id, last_reward_distribution, last_sequence, updated_at)
		VALUES (TRUE, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET admin_id = $1, last_reward_distribution = $2, last_sequence = $3, updated_at = NOW()
	`, g.Admin, g.LastRewardDistribution, seq)
	return err
}

// writeLeaderboard replaces the table with the occupied slots in rank order.
func writeLeaderboard(ctx context.Context, ex execer, lb *state.Leaderboard, seq int64) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM projections.leaderboard`); err != nil {
		return err
	}
	for i, e := range lb {
		if e.IsEmpty() {
			continue
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.leaderboard
				(rank, trader_id, total_trades, total_execution_time, last_sequence, updated_at)
			VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, NOW())
		`, i+1, e.Trader, numeric(e.TotalTrades), numeric(e.TotalExecutionTime), seq); err != nil {
			return err
		}
	}
	return nil
}

func upsertStats(ctx context.Context, ex execer, s state.TraderStats, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.trader_stats
			(trader_id, total_trades, total_execution_time, failed_trades,
			 last_updated, last_reward_time, last_sequence, updated_at)
		VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, NOW())
		ON CONFLICT (trader_id) DO UPDATE
		SET total_trades = EXCLUDED.total_trades,
		    total_execution_time = EXCLUDED.total_execution_time,
		    failed_trades = EXCLUDED.failed_trades,
		    last_updated = EXCLUDED.last_updated,
		    last_reward_time = EXCLUDED.last_reward_time,
		    last_sequence = EXCLUDED.last_sequence,
		    updated_at = NOW()
	`, s.Trader, numeric(s.TotalTrades), numeric(s.TotalExecutionTime), numeric(s.FailedTrades),
		s.LastUpdated, s.LastRewardTime, seq)
	return err
}

func upsertStake(ctx context.Context, ex execer, s state.StakeInfo, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.stakes (trader_id, staked_amount, last_sequence, updated_at)
		VALUES ($1, $2::NUMERIC, $3, NOW())
		ON CONFLICT (trader_id) DO UPDATE
		SET staked_amount = EXCLUDED.staked_amount, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, s.Trader, numeric(s.StakedAmount), seq)
	return err
}

// insertPayout records reward and claim payouts; other transfers are skipped.
func insertPayout(ctx context.Context, ex execer, t ledger.Transfer, owner uuid.NullUUID) error {
	switch t.TransferType {
	case ledger.TransferTypeRewardPayout, ledger.TransferTypeClaimPayout:
	default:
		return nil
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.reward_payouts
			(transfer_id, sequence, payout_type, trader_id, to_account, amount, ts)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
		ON CONFLICT (transfer_id) DO NOTHING
	`, t.TransferID, t.Sequence, t.TransferType.String(), owner, t.To.AccountPath(), numeric(t.Amount), t.Timestamp)
	return err
}

func setWatermark(ctx context.Context, ex execer, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WatermarkName, seq)
	return err
}
