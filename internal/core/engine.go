package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/observability"
	"XspdLeaderboard/internal/state"

	"github.com/google/uuid"
)

// ErrHashMismatch means a replayed command produced a different state hash
// than the one recorded in the log.
var ErrHashMismatch = errors.New("replayed state hash does not match log")

// Engine is the single-threaded command processor. It owns the global ranking
// state, every TraderStats and every StakeInfo. Callers must serialize access;
// the ingestion Dispatcher does this in production.
type Engine struct {
	sequence    int64
	hasher      *StateHasher
	global      *state.GlobalState // nil until Initialize
	book        *state.TraderBook
	clock       ClockSource
	oracle      OracleFeed
	ledger      ledger.TransferLedger
	idempotency *IdempotencyChecker
	instrument  string
	metrics     *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// EngineConfig holds the engine's static settings.
type EngineConfig struct {
	StartSequence       int64
	DefaultInstrument   string // used when RecordTrade names no instrument
	IdempotencyCapacity int
}

// Dependencies are the engine's injected collaborators.
type Dependencies struct {
	Clock          ClockSource
	Oracle         OracleFeed
	Ledger         ledger.TransferLedger
	DBChecker      DBIdempotencyChecker  // optional
	Metrics        *observability.Metrics // optional
	PersistChan    chan<- CoreOutput      // optional; blocking send
	ProjectionChan chan<- CoreOutput      // optional; dropped when full
}

// CoreOutput describes one applied command.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Command  event.Event
	Batch    *ledger.Batch

	// State after the command. Stats and Stake are set only when touched.
	Global state.GlobalState
	Stats  *state.TraderStats
	Stake  *state.StakeInfo

	Change      state.LeaderboardChange
	Rewards     *RewardPlan // DistributeRewards only
	ClaimAmount uint64      // ClaimRewards only
	StateDigest []byte
}

func NewEngine(cfg EngineConfig, deps Dependencies) *Engine {
	return &Engine{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		book:           state.NewTraderBook(),
		clock:          deps.Clock,
		oracle:         deps.Oracle,
		ledger:         deps.Ledger,
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyCapacity, deps.DBChecker, deps.Metrics),
		instrument:     cfg.DefaultInstrument,
		metrics:        deps.Metrics,
		persistChan:    deps.PersistChan,
		projectionChan: deps.ProjectionChan,
	}
}

// txn stages one command's mutations. Nothing reaches the engine's state
// until the transfer batch has executed.
type txn struct {
	now         int64
	global      *state.GlobalState
	stats       *state.TraderStats
	stake       *state.StakeInfo
	gen         *ledger.TransferGenerator
	oraclePrice uint64
	change      state.LeaderboardChange
	rewards     *RewardPlan
	claimed     uint64
}

// ProcessCommand applies cmd atomically. A nil output with a nil error means
// the request id was already applied and the command was skipped.
func (e *Engine) ProcessCommand(ctx context.Context, cmd event.Event) (*CoreOutput, error) {
	start := time.Now()
	commandType := cmd.EventType().String()
	requestID := cmd.IdempotencyKey()

	if e.idempotency.IsDuplicate(ctx, commandType, requestID) {
		e.recordReject(commandType, "duplicate")
		return nil, nil
	}

	out, err := e.apply(ctx, cmd, e.clock.Now(), e.oracle, e.ledger)
	if err != nil {
		e.recordReject(commandType, RejectReason(err))
		return nil, err
	}

	// Persistence: blocking send, the engine stalls until the writer drains.
	if e.persistChan != nil {
		e.persistChan <- *out
	}
	// Projections: non-blocking, rebuilt from the log when they fall behind.
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- *out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDropped.Inc()
			}
		}
	}

	e.idempotency.MarkProcessed(commandType, requestID)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.LeaderboardOccupancy.Set(float64(out.Global.Leaderboard.Occupied()))
		for _, t := range out.Batch.Transfers {
			e.metrics.TransfersExecuted.WithLabelValues(t.TransferType.String()).Inc()
			e.metrics.TokensTransferred.WithLabelValues(t.TransferType.String()).Add(float64(t.Amount))
		}
	}

	return out, nil
}

// Replay re-applies a logged command with the clock and oracle readings the
// envelope recorded. Transfers are not executed again. The recomputed state
// hash must match the log.
func (e *Engine) Replay(ctx context.Context, env *event.EventEnvelope, cmd event.Event) error {
	if env.Sequence != e.sequence {
		return fmt.Errorf("replay: expected sequence %d, got %d", e.sequence, env.Sequence)
	}

	out, err := e.apply(ctx, cmd, env.Now, recordedPrice(env.OraclePrice), ledger.SettledLedger{})
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}
	if out.Envelope.StateHash != env.StateHash {
		return fmt.Errorf("%w at sequence %d: got %x, want %x",
			ErrHashMismatch, env.Sequence, out.Envelope.StateHash, env.StateHash)
	}

	e.idempotency.MarkProcessed(cmd.EventType().String(), cmd.IdempotencyKey())
	return nil
}

func (e *Engine) apply(
	ctx context.Context,
	cmd event.Event,
	now int64,
	oracle OracleFeed,
	tl ledger.TransferLedger,
) (*CoreOutput, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	tx := &txn{
		now: now,
		gen: ledger.NewTransferGenerator(cmd.IdempotencyKey(), e.sequence, now),
	}
	if e.global != nil {
		g := *e.global
		tx.global = &g
	}

	var err error
	switch c := cmd.(type) {
	case *event.Initialize:
		err = e.applyInitialize(tx, c)
	case *event.RegisterTrader:
		err = e.applyRegisterTrader(tx, c)
	case *event.RecordTrade:
		err = e.applyRecordTrade(ctx, tx, c, oracle)
	case *event.RecordFailedTrade:
		err = e.applyRecordFailedTrade(tx, c)
	case *event.DistributeRewards:
		err = e.applyDistributeRewards(tx, c)
	case *event.StakeTokens:
		err = e.applyStakeTokens(tx, c)
	case *event.WithdrawStake:
		err = e.applyWithdrawStake(tx, c)
	case *event.ClaimRewards:
		err = e.applyClaimRewards(tx, c)
	default:
		err = fmt.Errorf("%w: unknown command type %T", ErrInvalidCommand, cmd)
	}
	if err != nil {
		return nil, err
	}

	batch := tx.gen.Batch()
	if !batch.IsEmpty() {
		if err := tl.Execute(ctx, batch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	// Commit
	e.global = tx.global
	if tx.stats != nil {
		e.book.PutStats(*tx.stats)
	}
	if tx.stake != nil {
		e.book.PutStake(*tx.stake)
	}

	if err := e.global.Leaderboard.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: leaderboard invariant violated at sequence %d: %v", e.sequence, err))
	}

	out := &CoreOutput{
		Command:     cmd,
		Batch:       batch,
		Global:      *e.global,
		Stats:       tx.stats,
		Stake:       tx.stake,
		Change:      tx.change,
		Rewards:     tx.rewards,
		ClaimAmount: tx.claimed,
	}
	out.StateDigest = computeStateDigest(cmd.EventType(), now, out)

	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, out.StateDigest)

	out.Envelope = &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: cmd.IdempotencyKey(),
		EventType:      cmd.EventType(),
		Trader:         cmd.TraderID(),
		Now:            now,
		OraclePrice:    tx.oraclePrice,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	return out, nil
}

func validateCommand(cmd event.Event) error {
	if cmd.Signer() == uuid.Nil {
		return fmt.Errorf("%w: %s has no signer", ErrInvalidCommand, cmd.EventType())
	}
	switch cmd.EventType() {
	case event.EventTypeInitialize, event.EventTypeDistributeRewards:
	default:
		if cmd.TraderID() == uuid.Nil {
			return fmt.Errorf("%w: %s has no trader", ErrInvalidCommand, cmd.EventType())
		}
	}
	switch c := cmd.(type) {
	case *event.WithdrawStake:
		if c.Admin == uuid.Nil {
			return fmt.Errorf("%w: withdrawal needs admin co-signature", ErrInvalidCommand)
		}
	case *event.ClaimRewards:
		if c.Admin == uuid.Nil {
			return fmt.Errorf("%w: claim needs admin co-signature", ErrInvalidCommand)
		}
	}
	return nil
}

// --- Handlers ---

func (e *Engine) requireInitialized(tx *txn) error {
	if tx.global == nil {
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) requireAdmin(tx *txn, admin uuid.UUID) error {
	if admin != tx.global.Admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, admin)
	}
	return nil
}

func (e *Engine) loadStats(trader uuid.UUID) (state.TraderStats, error) {
	stats, ok := e.book.Stats(trader)
	if !ok {
		return state.TraderStats{}, fmt.Errorf("%w: %s", ErrTraderNotRegistered, trader)
	}
	return stats, nil
}

func (e *Engine) applyInitialize(tx *txn, c *event.Initialize) error {
	if tx.global != nil {
		return ErrAlreadyInitialized
	}
	tx.global = &state.GlobalState{
		Admin:                  c.Admin,
		LastRewardDistribution: tx.now,
	}
	return nil
}

func (e *Engine) applyRegisterTrader(tx *txn, c *event.RegisterTrader) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	if _, ok := e.book.Stats(c.Trader); ok {
		return fmt.Errorf("%w: %s", ErrTraderAlreadyRegistered, c.Trader)
	}
	tx.stats = &state.TraderStats{
		Trader:      c.Trader,
		LastUpdated: tx.now,
	}
	return nil
}

func (e *Engine) applyRecordTrade(ctx context.Context, tx *txn, c *event.RecordTrade, oracle OracleFeed) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	stats, err := e.loadStats(c.Trader)
	if err != nil {
		return err
	}
	if err := CheckCooldown(stats, tx.now); err != nil {
		return err
	}

	instrument := c.Instrument
	if instrument == "" {
		instrument = e.instrument
	}
	price, err := oracle.LatestPrice(ctx, instrument)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, instrument, err)
	}
	tx.oraclePrice = price

	if err := CheckPriceBand(price, c.TradePrice); err != nil {
		return err
	}
	if err := ApplyTrade(&stats, c.ExecutionTime, tx.now); err != nil {
		return err
	}

	change, err := tx.global.Leaderboard.Apply(c.Trader, stats.TotalTrades, stats.TotalExecutionTime)
	if err != nil {
		return err
	}
	tx.stats = &stats
	tx.change = change
	return nil
}

func (e *Engine) applyRecordFailedTrade(tx *txn, c *event.RecordFailedTrade) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	stats, err := e.loadStats(c.Trader)
	if err != nil {
		return err
	}
	if err := ApplyFailedTrade(&stats); err != nil {
		return err
	}
	tx.stats = &stats
	return nil
}

func (e *Engine) applyDistributeRewards(tx *txn, c *event.DistributeRewards) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	if err := e.requireAdmin(tx, c.Admin); err != nil {
		return err
	}
	if err := CheckRewardInterval(tx.global.LastRewardDistribution, tx.now); err != nil {
		return err
	}

	plan, err := PlanDistribution(&tx.global.Leaderboard, c.Candidates, c.Admin, tx.gen)
	if err != nil {
		return err
	}
	tx.global.LastRewardDistribution = tx.now
	tx.rewards = plan
	return nil
}

func (e *Engine) applyStakeTokens(tx *txn, c *event.StakeTokens) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	stake, _ := e.book.Stake(c.Trader)
	if err := DepositStake(&stake, c.Amount); err != nil {
		return err
	}
	tx.gen.StakeDeposit(c.Trader, c.Amount)
	tx.stake = &stake
	return nil
}

func (e *Engine) applyWithdrawStake(tx *txn, c *event.WithdrawStake) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	if err := e.requireAdmin(tx, c.Admin); err != nil {
		return err
	}
	stake, ok := e.book.Stake(c.Trader)
	if err := WithdrawStakeAmount(&stake, c.Amount); err != nil {
		return err
	}
	tx.gen.StakeWithdrawal(c.Trader, c.Admin, c.Amount)
	// A stake record only comes into being through StakeTokens.
	if ok {
		tx.stake = &stake
	}
	return nil
}

func (e *Engine) applyClaimRewards(tx *txn, c *event.ClaimRewards) error {
	if err := e.requireInitialized(tx); err != nil {
		return err
	}
	if err := e.requireAdmin(tx, c.Admin); err != nil {
		return err
	}
	stats, err := e.loadStats(c.Trader)
	if err != nil {
		return err
	}
	amount, err := ClaimAmount(&stats, tx.now)
	if err != nil {
		return err
	}
	tx.gen.ClaimPayout(c.Trader, c.Admin, amount)
	tx.stats = &stats
	tx.claimed = amount
	return nil
}

func (e *Engine) recordReject(commandType, reason string) {
	if e.metrics != nil {
		e.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

// --- Accessors ---

// GetSequence returns the next sequence to assign.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Global returns a copy of the global state.
func (e *Engine) Global() (state.GlobalState, bool) {
	if e.global == nil {
		return state.GlobalState{}, false
	}
	return *e.global, true
}

// TraderStats returns a copy of a trader's stats.
func (e *Engine) TraderStats(trader uuid.UUID) (state.TraderStats, bool) {
	return e.book.Stats(trader)
}

// Stake returns a copy of a trader's stake record.
func (e *Engine) Stake(trader uuid.UUID) (state.StakeInfo, bool) {
	return e.book.Stake(trader)
}

// TraderCount returns the number of registered traders.
func (e *Engine) TraderCount() int {
	return e.book.TraderCount()
}
