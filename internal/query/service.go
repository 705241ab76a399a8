package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/ledger"
	fpmath "XspdLeaderboard/internal/math"
	"XspdLeaderboard/internal/observability"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the requested record has no projection row.
var ErrNotFound = errors.New("not found")

// MaxHistoryLimit caps GetRewardHistory page sizes.
const MaxHistoryLimit = 500

// QueryService provides read-only access to the projection tables. Every
// response carries as_of_sequence, the last command the projections reflect.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetLeaderboard returns the ranked table, best first.
func (qs *QueryService) GetLeaderboard(ctx context.Context) (resp *LeaderboardResponse, err error) {
	defer qs.observe("leaderboard", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT rank, trader_id, total_trades::TEXT, total_execution_time::TEXT
		FROM projections.leaderboard
		ORDER BY rank ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = &LeaderboardResponse{Entries: []LeaderboardEntry{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			e             LeaderboardEntry
			trades, execT string
		)
		if err := rows.Scan(&e.Rank, &e.TraderID, &trades, &execT); err != nil {
			return nil, err
		}
		if e.TotalTrades, err = parseNumeric(trades); err != nil {
			return nil, err
		}
		if e.TotalExecutionTime, err = parseNumeric(execT); err != nil {
			return nil, err
		}
		e.AverageExecutionTime = AverageExecutionTime(e.TotalExecutionTime, e.TotalTrades)
		resp.Entries = append(resp.Entries, e)
	}
	return resp, rows.Err()
}

// GetGlobalState returns the admin and reward schedule.
func (qs *QueryService) GetGlobalState(ctx context.Context) (resp *GlobalStateResponse, err error) {
	defer qs.observe("global", time.Now(), &err)

	resp = &GlobalStateResponse{}
	err = qs.db.QueryRowContext(ctx, `
		SELECT admin_id, last_reward_distribution, last_sequence FROM projections.global_state
	`).Scan(&resp.Admin, &resp.LastRewardDistribution, &resp.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("global state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	resp.NextDistributionAt = resp.LastRewardDistribution + core.RewardIntervalSeconds
	return resp, nil
}

// GetTraderStats returns one trader's counters.
func (qs *QueryService) GetTraderStats(ctx context.Context, trader uuid.UUID) (resp *TraderStatsResponse, err error) {
	defer qs.observe("trader_stats", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var trades, execT, failed string
	resp = &TraderStatsResponse{TraderID: trader, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_trades::TEXT, total_execution_time::TEXT, failed_trades::TEXT,
		       last_updated, last_reward_time
		FROM projections.trader_stats
		WHERE trader_id = $1
	`, trader).Scan(&trades, &execT, &failed, &resp.LastUpdated, &resp.LastRewardTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trader %s: %w", trader, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if resp.TotalTrades, err = parseNumeric(trades); err != nil {
		return nil, err
	}
	if resp.TotalExecutionTime, err = parseNumeric(execT); err != nil {
		return nil, err
	}
	if resp.FailedTrades, err = parseNumeric(failed); err != nil {
		return nil, err
	}
	resp.ClaimableReward = ClaimableReward(resp.TotalTrades)
	return resp, nil
}

// GetStake returns a trader's staked balance. A trader who never staked has
// a zero balance, not ErrNotFound.
func (qs *QueryService) GetStake(ctx context.Context, trader uuid.UUID) (resp *StakeResponse, err error) {
	defer qs.observe("stake", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var amount string
	err = qs.db.QueryRowContext(ctx, `
		SELECT staked_amount::TEXT FROM projections.stakes WHERE trader_id = $1
	`, trader).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		amount, err = "0", nil
	}
	if err != nil {
		return nil, err
	}

	staked, err := parseNumeric(amount)
	if err != nil {
		return nil, err
	}
	return &StakeResponse{
		TraderID:     trader,
		StakedAmount: staked,
		Staked:       fpmath.TokenConfig.FormatAmount(staked),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetRewardHistory returns a trader's payouts, newest first. Pass the last
// sequence of the previous page as beforeSequence to continue.
func (qs *QueryService) GetRewardHistory(
	ctx context.Context,
	trader uuid.UUID,
	limit int,
	beforeSequence *int64,
) (history []PayoutResponse, err error) {
	defer qs.observe("reward_history", time.Now(), &err)

	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
		SELECT transfer_id, sequence, payout_type, to_account, amount::TEXT, ts
		FROM projections.reward_payouts
		WHERE trader_id = $1
	`
	args := []interface{}{trader}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, transfer_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history = []PayoutResponse{}
	for rows.Next() {
		var (
			p      PayoutResponse
			amount string
		)
		if err := rows.Scan(&p.TransferID, &p.Sequence, &p.PayoutType, &p.ToAccount, &amount, &p.Timestamp); err != nil {
			return nil, err
		}
		if p.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		p.Display = fpmath.TokenConfig.FormatAmount(p.Amount)
		history = append(history, p)
	}
	return history, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and, when the
// token ledger is in Postgres, that the staking pool holds exactly the
// recorded stakes.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pool, staked sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT
			(SELECT balance::TEXT FROM ledger.token_accounts WHERE account_path = $1),
			(SELECT COALESCE(SUM(staked_amount), 0)::TEXT FROM projections.stakes)
	`, ledger.StakingPoolAccount().AccountPath()).Scan(&pool, &staked)
	if err != nil {
		return nil, err
	}
	if pool.Valid {
		drift := decimal.RequireFromString(pool.String).Sub(decimal.RequireFromString(staked.String))
		if !drift.IsZero() {
			report.StakePoolDrift = drift.String()
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.StakePoolDrift == ""
	return report, nil
}

// --- helpers ---

// AverageExecutionTime formats total/trades with 6 decimals.
func AverageExecutionTime(totalExecutionTime, totalTrades uint64) string {
	if totalTrades == 0 {
		return "0"
	}
	return decimal.NewFromUint64(totalExecutionTime).DivRound(decimal.NewFromUint64(totalTrades), 6).StringFixed(6)
}

// ClaimableReward is what ClaimRewards would pay now, in token units.
func ClaimableReward(totalTrades uint64) string {
	return fpmath.TokenConfig.ToDecimal(totalTrades).
		Mul(decimal.NewFromUint64(core.ClaimRewardPerTrade)).
		String()
}

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
