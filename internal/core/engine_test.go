package core_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/state"
	"XspdLeaderboard/internal/testutil"

	"github.com/google/uuid"
)

const (
	testStart       int64  = 1_700_000_000
	testInstrument         = "XSPD-USD"
	testOraclePrice uint64 = 100_000 // band = 500
	testTreasury    uint64 = 1_000_000 * 1_000_000_000
)

// --- Test helpers ---

type harness struct {
	engine  *core.Engine
	clock   *testutil.FakeClock
	oracle  *testutil.FakeOracle
	ledger  *ledger.MemoryLedger
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	admin   uuid.UUID
}

// newHarness builds an initialized engine over a funded MemoryLedger.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newUninitializedHarness(t, nil)
	h.mustProcess(t, &event.Initialize{RequestID: uuid.New(), Admin: h.admin})
	return h
}

func newUninitializedHarness(t *testing.T, tl ledger.TransferLedger) *harness {
	t.Helper()

	h := &harness{
		clock:   testutil.NewFakeClock(testStart),
		oracle:  testutil.NewFakeOracle(testInstrument, testOraclePrice),
		ledger:  ledger.NewMemoryLedger(),
		persist: make(chan core.CoreOutput, 1024),
		proj:    make(chan core.CoreOutput, 1024),
		admin:   uuid.New(),
	}
	h.ledger.SetAuthority(ledger.TreasuryAccount(), h.admin)
	h.ledger.SetAuthority(ledger.StakingPoolAccount(), h.admin)
	if err := h.ledger.Fund(ledger.TreasuryAccount(), testTreasury); err != nil {
		t.Fatalf("fund treasury: %v", err)
	}
	if tl == nil {
		tl = h.ledger
	}

	h.engine = core.NewEngine(core.EngineConfig{
		DefaultInstrument:   testInstrument,
		IdempotencyCapacity: 1024,
	}, core.Dependencies{
		Clock:          h.clock,
		Oracle:         h.oracle,
		Ledger:         tl,
		PersistChan:    h.persist,
		ProjectionChan: h.proj,
	})
	return h
}

func (h *harness) process(cmd event.Event) (*core.CoreOutput, error) {
	return h.engine.ProcessCommand(context.Background(), cmd)
}

func (h *harness) mustProcess(t *testing.T, cmd event.Event) *core.CoreOutput {
	t.Helper()
	out, err := h.process(cmd)
	if err != nil {
		t.Fatalf("%s failed: %v", cmd.EventType(), err)
	}
	if out == nil {
		t.Fatalf("%s was treated as a duplicate", cmd.EventType())
	}
	return out
}

func (h *harness) register(t *testing.T, trader uuid.UUID) {
	t.Helper()
	h.mustProcess(t, &event.RegisterTrader{RequestID: uuid.New(), Trader: trader})
}

func tradeCmd(trader uuid.UUID, executionTime, price uint64) *event.RecordTrade {
	return &event.RecordTrade{
		RequestID:     uuid.New(),
		Trader:        trader,
		ExecutionTime: executionTime,
		TradePrice:    price,
	}
}

// trade advances past the cooldown and records one trade at the oracle price.
func (h *harness) trade(t *testing.T, trader uuid.UUID, executionTime uint64) *core.CoreOutput {
	t.Helper()
	h.clock.Advance(core.TradeCooldownSeconds)
	return h.mustProcess(t, tradeCmd(trader, executionTime, testOraclePrice))
}

func (h *harness) stats(t *testing.T, trader uuid.UUID) state.TraderStats {
	t.Helper()
	s, ok := h.engine.TraderStats(trader)
	if !ok {
		t.Fatalf("trader %s not registered", trader)
	}
	return s
}

func (h *harness) board(t *testing.T) state.Leaderboard {
	t.Helper()
	g, ok := h.engine.Global()
	if !ok {
		t.Fatal("engine not initialized")
	}
	return g.Leaderboard
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// ============================================================================
// Test: Initialize / RegisterTrader
// ============================================================================

func TestInitialize_SetsAdminAndDistributionTime(t *testing.T) {
	h := newHarness(t)

	g, ok := h.engine.Global()
	if !ok {
		t.Fatal("expected initialized engine")
	}
	if g.Admin != h.admin {
		t.Errorf("admin: got %s, want %s", g.Admin, h.admin)
	}
	if g.LastRewardDistribution != testStart {
		t.Errorf("last_reward_distribution: got %d, want %d", g.LastRewardDistribution, testStart)
	}
	if g.Leaderboard.Occupied() != 0 {
		t.Errorf("expected empty leaderboard, got %d entries", g.Leaderboard.Occupied())
	}

	_, err := h.process(&event.Initialize{RequestID: uuid.New(), Admin: uuid.New()})
	expectErr(t, err, core.ErrAlreadyInitialized)
}

func TestCommandsBeforeInitialize_Rejected(t *testing.T) {
	h := newUninitializedHarness(t, nil)
	trader := uuid.New()

	cmds := []event.Event{
		&event.RegisterTrader{RequestID: uuid.New(), Trader: trader},
		tradeCmd(trader, 10, testOraclePrice),
		&event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader},
		&event.DistributeRewards{RequestID: uuid.New(), Admin: h.admin},
		&event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: 1},
		&event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: h.admin, Amount: 1},
		&event.ClaimRewards{RequestID: uuid.New(), Trader: trader, Admin: h.admin},
	}
	for _, cmd := range cmds {
		_, err := h.process(cmd)
		if !errors.Is(err, core.ErrNotInitialized) {
			t.Errorf("%s: expected ErrNotInitialized, got %v", cmd.EventType(), err)
		}
	}
	if h.engine.GetSequence() != 0 {
		t.Errorf("sequence advanced to %d on rejected commands", h.engine.GetSequence())
	}
}

func TestRegisterTrader_ZeroCounters(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.clock.Advance(5)
	h.register(t, trader)

	s := h.stats(t, trader)
	if s.TotalTrades != 0 || s.TotalExecutionTime != 0 || s.FailedTrades != 0 || s.LastRewardTime != 0 {
		t.Errorf("expected zero counters, got %+v", s)
	}
	if s.LastUpdated != testStart+5 {
		t.Errorf("last_updated: got %d, want %d", s.LastUpdated, testStart+5)
	}

	_, err := h.process(&event.RegisterTrader{RequestID: uuid.New(), Trader: trader})
	expectErr(t, err, core.ErrTraderAlreadyRegistered)
}

// ============================================================================
// Test: RecordTrade
// ============================================================================

func TestRecordTrade_UpdatesStatsAndLeaderboard(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)

	out := h.trade(t, trader, 120)
	if out.Change.Outcome != state.LeaderboardInserted {
		t.Errorf("expected Inserted, got %s", out.Change.Outcome)
	}
	if out.Envelope.OraclePrice != testOraclePrice {
		t.Errorf("envelope oracle price: got %d, want %d", out.Envelope.OraclePrice, testOraclePrice)
	}

	h.trade(t, trader, 80)

	s := h.stats(t, trader)
	if s.TotalTrades != 2 || s.TotalExecutionTime != 200 {
		t.Errorf("stats: got trades=%d exec=%d, want 2/200", s.TotalTrades, s.TotalExecutionTime)
	}
	if s.LastUpdated != h.clock.Now() {
		t.Errorf("last_updated: got %d, want %d", s.LastUpdated, h.clock.Now())
	}

	board := h.board(t)
	if board[0].Trader != trader || board[0].TotalTrades != 2 || board[0].TotalExecutionTime != 200 {
		t.Errorf("unexpected top entry %+v", board[0])
	}
	if board.Occupied() != 1 {
		t.Errorf("expected 1 ranked trader, got %d", board.Occupied())
	}
}

func TestRecordTrade_CooldownBoundary(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)

	h.clock.Advance(core.TradeCooldownSeconds - 1)
	_, err := h.process(tradeCmd(trader, 10, testOraclePrice))
	expectErr(t, err, core.ErrCooldownPeriod)

	// Exactly 30s after registration is allowed
	h.clock.Advance(1)
	h.mustProcess(t, tradeCmd(trader, 10, testOraclePrice))

	h.clock.Advance(core.TradeCooldownSeconds - 1)
	_, err = h.process(tradeCmd(trader, 10, testOraclePrice))
	expectErr(t, err, core.ErrCooldownPeriod)

	h.clock.Advance(1)
	h.mustProcess(t, tradeCmd(trader, 10, testOraclePrice))
}

func TestRecordTrade_CooldownCheckedBeforeOracle(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)

	_, err := h.process(tradeCmd(trader, 10, testOraclePrice))
	expectErr(t, err, core.ErrCooldownPeriod)
	if h.oracle.Calls() != 0 {
		t.Errorf("oracle queried %d times during cooldown rejection", h.oracle.Calls())
	}
}

func TestRecordTrade_PriceBandBoundary(t *testing.T) {
	tests := []struct {
		name   string
		oracle uint64
		price  uint64
		ok     bool
	}{
		{"exact", 100_000, 100_000, true},
		{"upper boundary", 100_000, 100_500, true},
		{"lower boundary", 100_000, 99_500, true},
		{"above band", 100_000, 100_501, false},
		{"below band", 100_000, 99_499, false},
		{"floored band", 399, 400, true},  // 399/200 = 1
		{"floored band exceeded", 399, 401, false},
		{"stub oracle zero band", 100, 100, true},
		{"stub oracle off by one", 100, 101, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			trader := uuid.New()
			h.register(t, trader)
			h.oracle.SetPrice(testInstrument, tt.oracle)
			h.clock.Advance(core.TradeCooldownSeconds)

			_, err := h.process(tradeCmd(trader, 10, tt.price))
			if tt.ok && err != nil {
				t.Fatalf("expected accepted, got %v", err)
			}
			if !tt.ok {
				expectErr(t, err, core.ErrInvalidTrade)
			}
		})
	}
}

func TestRecordTrade_RejectedLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	h.trade(t, trader, 50)
	drainOutputs(h.persist)

	before := h.stats(t, trader)
	boardBefore := h.board(t)
	seqBefore := h.engine.GetSequence()
	hashBefore := h.engine.GetStateHash()

	h.clock.Advance(core.TradeCooldownSeconds)
	_, err := h.process(tradeCmd(trader, 10, testOraclePrice*2))
	expectErr(t, err, core.ErrInvalidTrade)

	if after := h.stats(t, trader); after != before {
		t.Errorf("stats changed on rejection: %+v -> %+v", before, after)
	}
	if h.board(t) != boardBefore {
		t.Error("leaderboard changed on rejection")
	}
	if h.engine.GetSequence() != seqBefore {
		t.Errorf("sequence advanced: %d -> %d", seqBefore, h.engine.GetSequence())
	}
	if h.engine.GetStateHash() != hashBefore {
		t.Error("state hash changed on rejection")
	}
	if outs := drainOutputs(h.persist); len(outs) != 0 {
		t.Errorf("expected no output for rejected command, got %d", len(outs))
	}
}

func TestRecordTrade_UnregisteredTrader(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(core.TradeCooldownSeconds)

	_, err := h.process(tradeCmd(uuid.New(), 10, testOraclePrice))
	expectErr(t, err, core.ErrTraderNotRegistered)
}

func TestRecordTrade_OracleUnavailable(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	h.clock.Advance(core.TradeCooldownSeconds)

	cmd := tradeCmd(trader, 10, testOraclePrice)
	cmd.Instrument = "UNLISTED"
	_, err := h.process(cmd)
	expectErr(t, err, core.ErrPriceUnavailable)
}

func TestRecordTrade_ExecutionTimeOverflow(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	h.trade(t, trader, math.MaxUint64)

	h.clock.Advance(core.TradeCooldownSeconds)
	_, err := h.process(tradeCmd(trader, 1, testOraclePrice))
	expectErr(t, err, core.ErrOverflow)

	s := h.stats(t, trader)
	if s.TotalTrades != 1 || s.TotalExecutionTime != math.MaxUint64 {
		t.Errorf("stats changed on overflow: %+v", s)
	}
}

func TestRecordTrade_FullBoardEviction(t *testing.T) {
	h := newHarness(t)

	traders := make([]uuid.UUID, state.LeaderboardSize)
	for i := range traders {
		traders[i] = uuid.New()
		h.register(t, traders[i])
	}
	for i, tr := range traders {
		h.trade(t, tr, uint64(10*(i+1))) // averages 10..100
	}

	// Equal to the worst average: rejected from the board, stats still recorded
	challenger := uuid.New()
	h.register(t, challenger)
	out := h.trade(t, challenger, 100)
	if out.Change.Outcome != state.LeaderboardRejected {
		t.Fatalf("expected Rejected, got %s", out.Change.Outcome)
	}
	board := h.board(t)
	if board.IndexOf(challenger) != -1 {
		t.Fatal("equal-average challenger entered the board")
	}
	if s := h.stats(t, challenger); s.TotalTrades != 1 {
		t.Errorf("challenger stats not recorded: %+v", s)
	}

	// Strictly better than the worst: evicts it
	better := uuid.New()
	h.register(t, better)
	out = h.trade(t, better, 55)
	if out.Change.Outcome != state.LeaderboardEvicted || out.Change.Evicted != traders[9] {
		t.Fatalf("expected eviction of %s, got %+v", traders[9], out.Change)
	}

	board = h.board(t)
	if err := board.Validate(); err != nil {
		t.Fatalf("invalid board: %v", err)
	}
	if board.IndexOf(better) != 5 {
		t.Errorf("expected new trader at rank 5, got %d", board.IndexOf(better))
	}
}

// ============================================================================
// Test: RecordFailedTrade
// ============================================================================

func TestRecordFailedTrade_LockoutAtFive(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)

	for i := 1; i < core.MaxFailedTrades; i++ {
		h.mustProcess(t, &event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader})
		if got := h.stats(t, trader).FailedTrades; got != uint64(i) {
			t.Fatalf("after %d failures: got %d", i, got)
		}
	}

	_, err := h.process(&event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader})
	expectErr(t, err, core.ErrTooManyFailedTrades)

	// The rejected call is rolled back
	if got := h.stats(t, trader).FailedTrades; got != core.MaxFailedTrades-1 {
		t.Errorf("failed_trades after lockout: got %d, want %d", got, core.MaxFailedTrades-1)
	}

	_, err = h.process(&event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader})
	expectErr(t, err, core.ErrTooManyFailedTrades)

	// Lockout does not block successful trades
	h.trade(t, trader, 10)

	// Claiming resets the counter
	h.mustProcess(t, &event.ClaimRewards{RequestID: uuid.New(), Trader: trader, Admin: h.admin})
	h.mustProcess(t, &event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader})
	if got := h.stats(t, trader).FailedTrades; got != 1 {
		t.Errorf("failed_trades after claim: got %d, want 1", got)
	}
}

// ============================================================================
// Test: DistributeRewards
// ============================================================================

func TestDistributeRewards_TooSoonBoundary(t *testing.T) {
	h := newHarness(t)

	h.clock.Set(testStart + core.RewardIntervalSeconds - 1)
	_, err := h.process(&event.DistributeRewards{RequestID: uuid.New(), Admin: h.admin})
	expectErr(t, err, core.ErrTooSoon)

	h.clock.Set(testStart + core.RewardIntervalSeconds)
	h.mustProcess(t, &event.DistributeRewards{RequestID: uuid.New(), Admin: h.admin})

	g, _ := h.engine.Global()
	if g.LastRewardDistribution != testStart+core.RewardIntervalSeconds {
		t.Errorf("last_reward_distribution: got %d", g.LastRewardDistribution)
	}

	_, err = h.process(&event.DistributeRewards{RequestID: uuid.New(), Admin: h.admin})
	expectErr(t, err, core.ErrTooSoon)
}

func TestDistributeRewards_PaysMatchedTradersOnly(t *testing.T) {
	h := newHarness(t)

	traders := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, tr := range traders {
		h.register(t, tr)
	}
	for i, tr := range traders {
		h.trade(t, tr, uint64(10+i))
	}

	accounts := []ledger.TokenAccount{
		{Key: ledger.NewExternalAccountKey(uuid.New()), Owner: traders[0]},
		{Key: ledger.NewExternalAccountKey(uuid.New()), Owner: traders[2]},
		{Key: ledger.NewExternalAccountKey(uuid.New()), Owner: uuid.New()}, // not ranked
	}

	h.clock.Set(testStart + core.RewardIntervalSeconds)
	out := h.mustProcess(t, &event.DistributeRewards{
		RequestID:  uuid.New(),
		Admin:      h.admin,
		Candidates: accounts,
	})

	if out.Rewards.BoardTrades != 3 {
		t.Errorf("board trades: got %d, want 3", out.Rewards.BoardTrades)
	}
	if out.Rewards.RewardPerTrader != core.BaseReward {
		t.Errorf("reward per trader: got %d, want %d", out.Rewards.RewardPerTrader, core.BaseReward)
	}
	if len(out.Rewards.Paid) != 2 || len(out.Rewards.Skipped) != 1 || out.Rewards.Skipped[0] != traders[1] {
		t.Errorf("unexpected plan: paid=%d skipped=%v", len(out.Rewards.Paid), out.Rewards.Skipped)
	}
	if len(out.Batch.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(out.Batch.Transfers))
	}

	for _, acc := range accounts[:2] {
		if got := h.ledger.Balance(acc.Key); got != core.BaseReward {
			t.Errorf("%s: got %d, want %d", acc.Key.AccountPath(), got, core.BaseReward)
		}
	}
	if got := h.ledger.Balance(accounts[2].Key); got != 0 {
		t.Errorf("unranked account paid %d", got)
	}
	if got := h.ledger.Balance(ledger.TreasuryAccount()); got != testTreasury-2*core.BaseReward {
		t.Errorf("treasury: got %d", got)
	}
}

func TestDistributeRewards_NonAdminRejected(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(testStart + core.RewardIntervalSeconds)

	_, err := h.process(&event.DistributeRewards{RequestID: uuid.New(), Admin: uuid.New()})
	expectErr(t, err, core.ErrUnauthorized)
}

func TestDistributeRewards_TransferFailureRollsBack(t *testing.T) {
	h := newUninitializedHarness(t, testutil.FailingLedger{})
	h.mustProcess(t, &event.Initialize{RequestID: uuid.New(), Admin: h.admin})

	trader := uuid.New()
	h.register(t, trader)
	h.trade(t, trader, 10)

	h.clock.Set(testStart + core.RewardIntervalSeconds)
	_, err := h.process(&event.DistributeRewards{
		RequestID:  uuid.New(),
		Admin:      h.admin,
		Candidates: []ledger.TokenAccount{{Key: ledger.NewTraderAccountKey(trader), Owner: trader}},
	})
	expectErr(t, err, core.ErrTransferFailed)
	expectErr(t, err, testutil.ErrLedgerDown)

	g, _ := h.engine.Global()
	if g.LastRewardDistribution != testStart {
		t.Errorf("last_reward_distribution moved to %d after failed transfer", g.LastRewardDistribution)
	}
}

// ============================================================================
// Test: Stake
// ============================================================================

func TestStake_DepositAndWithdraw(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	if err := h.ledger.Fund(ledger.NewTraderAccountKey(trader), 100); err != nil {
		t.Fatal(err)
	}

	h.mustProcess(t, &event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: 50})
	if s, _ := h.engine.Stake(trader); s.StakedAmount != 50 {
		t.Fatalf("staked: got %d, want 50", s.StakedAmount)
	}
	if got := h.ledger.Balance(ledger.StakingPoolAccount()); got != 50 {
		t.Errorf("pool: got %d, want 50", got)
	}

	_, err := h.process(&event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: h.admin, Amount: 51})
	expectErr(t, err, core.ErrInsufficientStake)

	h.mustProcess(t, &event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: h.admin, Amount: 50})
	if s, _ := h.engine.Stake(trader); s.StakedAmount != 0 {
		t.Errorf("staked after withdraw: got %d, want 0", s.StakedAmount)
	}
	if got := h.ledger.Balance(ledger.NewTraderAccountKey(trader)); got != 100 {
		t.Errorf("trader balance: got %d, want 100", got)
	}
}

func TestStake_ZeroWithdrawWithoutStakeRecordsNothing(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()

	out := h.mustProcess(t, &event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: h.admin, Amount: 0})
	if out.Stake != nil {
		t.Errorf("output carries a stake record: %+v", *out.Stake)
	}
	if _, ok := h.engine.Stake(trader); ok {
		t.Error("zero withdrawal created a stake record")
	}

	_, err := h.process(&event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: h.admin, Amount: 1})
	expectErr(t, err, core.ErrInsufficientStake)
}

func TestStake_WithdrawRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.ledger.Fund(ledger.NewTraderAccountKey(trader), 10)
	h.mustProcess(t, &event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: 10})

	_, err := h.process(&event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: trader, Amount: 10})
	expectErr(t, err, core.ErrUnauthorized)
}

func TestStake_InsufficientTokensRollsBack(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.ledger.Fund(ledger.NewTraderAccountKey(trader), 10)

	_, err := h.process(&event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: 11})
	expectErr(t, err, ledger.ErrInsufficientFunds)

	if s, _ := h.engine.Stake(trader); s.StakedAmount != 0 {
		t.Errorf("stake recorded despite failed transfer: %d", s.StakedAmount)
	}
}

func TestStake_Overflow(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.ledger.Fund(ledger.NewTraderAccountKey(trader), math.MaxUint64-testTreasury)

	h.mustProcess(t, &event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: math.MaxUint64 - testTreasury})
	_, err := h.process(&event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: testTreasury + 1})
	expectErr(t, err, core.ErrOverflow)
}

// ============================================================================
// Test: ClaimRewards
// ============================================================================

func TestClaimRewards_NoTrades(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)

	_, err := h.process(&event.ClaimRewards{RequestID: uuid.New(), Trader: trader, Admin: h.admin})
	expectErr(t, err, core.ErrNoEligibleRewards)
}

func TestClaimRewards_PaysAndResets(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	for i := 0; i < 7; i++ {
		h.trade(t, trader, 20)
	}
	h.mustProcess(t, &event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader})

	out := h.mustProcess(t, &event.ClaimRewards{RequestID: uuid.New(), Trader: trader, Admin: h.admin})
	if out.ClaimAmount != 70_000_000 {
		t.Errorf("claim amount: got %d, want 70_000_000", out.ClaimAmount)
	}
	if got := h.ledger.Balance(ledger.NewTraderAccountKey(trader)); got != 70_000_000 {
		t.Errorf("trader balance: got %d", got)
	}

	s := h.stats(t, trader)
	if s.TotalTrades != 0 || s.TotalExecutionTime != 0 || s.FailedTrades != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
	if s.LastRewardTime != h.clock.Now() {
		t.Errorf("last_reward_time: got %d, want %d", s.LastRewardTime, h.clock.Now())
	}

	// The ranking keeps its last totals
	board := h.board(t)
	if idx := board.IndexOf(trader); idx != 0 {
		t.Errorf("expected trader to stay ranked, got index %d", idx)
	}
}

func TestClaimRewards_TransferFailureKeepsCounters(t *testing.T) {
	h := newUninitializedHarness(t, testutil.FailingLedger{})
	h.mustProcess(t, &event.Initialize{RequestID: uuid.New(), Admin: h.admin})
	trader := uuid.New()
	h.register(t, trader)
	h.trade(t, trader, 20)

	_, err := h.process(&event.ClaimRewards{RequestID: uuid.New(), Trader: trader, Admin: h.admin})
	expectErr(t, err, core.ErrTransferFailed)

	if s := h.stats(t, trader); s.TotalTrades != 1 {
		t.Errorf("counters reset despite failed transfer: %+v", s)
	}
}

// ============================================================================
// Test: Pipeline
// ============================================================================

func TestIdempotency_DuplicateRequestSkipped(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	drainOutputs(h.persist)

	cmd := &event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader}
	h.mustProcess(t, cmd)

	out, err := h.process(cmd)
	if err != nil || out != nil {
		t.Fatalf("duplicate should be skipped silently, got out=%v err=%v", out, err)
	}
	if got := h.stats(t, trader).FailedTrades; got != 1 {
		t.Errorf("failed_trades: got %d, want 1", got)
	}
	if outs := drainOutputs(h.persist); len(outs) != 1 {
		t.Errorf("expected 1 persisted output, got %d", len(outs))
	}
}

func TestRejectedRequest_CanBeRetried(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)

	cmd := tradeCmd(trader, 10, testOraclePrice)
	_, err := h.process(cmd)
	expectErr(t, err, core.ErrCooldownPeriod)

	h.clock.Advance(core.TradeCooldownSeconds)
	h.mustProcess(t, cmd)
}

func TestEnvelope_HashChain(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	h.trade(t, trader, 42)

	outs := drainOutputs(h.persist)
	if len(outs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outs))
	}
	for i, o := range outs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: sequence %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outs[i-1].Envelope.StateHash {
			t.Errorf("output %d: prev hash does not chain", i)
		}
	}
	last := outs[2].Envelope
	if last.EventType != event.EventTypeRecordTrade || last.Trader != trader || last.Now != h.clock.Now() {
		t.Errorf("unexpected envelope %+v", last)
	}
	if h.engine.GetStateHash() != last.StateHash {
		t.Error("engine chain tip differs from last envelope")
	}
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	proj := make(chan core.CoreOutput) // unbuffered, never read
	e := core.NewEngine(core.EngineConfig{DefaultInstrument: testInstrument}, core.Dependencies{
		Clock:          testutil.NewFakeClock(testStart),
		Oracle:         testutil.NewFakeOracle(testInstrument, testOraclePrice),
		Ledger:         ledger.NewMemoryLedger(),
		PersistChan:    persist,
		ProjectionChan: proj,
	})

	if _, err := e.ProcessCommand(context.Background(), &event.Initialize{RequestID: uuid.New(), Admin: uuid.New()}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(persist) != 1 {
		t.Errorf("expected persisted output, got %d", len(persist))
	}
}

// ============================================================================
// Test: Replay & Snapshot
// ============================================================================

type logged struct {
	env event.EventEnvelope
	cmd event.Event
}

func runScenario(t *testing.T, h *harness) []logged {
	t.Helper()
	traders := []uuid.UUID{uuid.New(), uuid.New()}
	for _, tr := range traders {
		h.register(t, tr)
		h.ledger.Fund(ledger.NewTraderAccountKey(tr), 1_000)
	}
	h.trade(t, traders[0], 30)
	h.trade(t, traders[1], 20)
	h.mustProcess(t, &event.StakeTokens{RequestID: uuid.New(), Trader: traders[0], Amount: 400})
	h.mustProcess(t, &event.RecordFailedTrade{RequestID: uuid.New(), Trader: traders[1]})
	h.clock.Set(testStart + core.RewardIntervalSeconds)
	h.mustProcess(t, &event.DistributeRewards{
		RequestID:  uuid.New(),
		Admin:      h.admin,
		Candidates: []ledger.TokenAccount{{Key: ledger.NewTraderAccountKey(traders[1]), Owner: traders[1]}},
	})
	h.mustProcess(t, &event.ClaimRewards{RequestID: uuid.New(), Trader: traders[0], Admin: h.admin})
	h.mustProcess(t, &event.WithdrawStake{RequestID: uuid.New(), Trader: traders[0], Admin: h.admin, Amount: 100})

	var log []logged
	for _, o := range drainOutputs(h.persist) {
		log = append(log, logged{env: *o.Envelope, cmd: o.Command})
	}
	return log
}

func TestReplay_ReproducesStateHash(t *testing.T) {
	h := newHarness(t)
	log := runScenario(t, h)

	replica := core.NewEngine(core.EngineConfig{DefaultInstrument: testInstrument}, core.Dependencies{
		Clock:  testutil.NewFakeClock(0), // unused by replay
		Oracle: testutil.NewFakeOracle(testInstrument, 1),
		Ledger: testutil.FailingLedger{}, // replay must not execute transfers
	})
	for _, l := range log {
		if err := replica.Replay(context.Background(), &l.env, l.cmd); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if replica.GetStateHash() != h.engine.GetStateHash() {
		t.Error("replayed chain tip differs")
	}
	if replica.GetSequence() != h.engine.GetSequence() {
		t.Errorf("sequence: got %d, want %d", replica.GetSequence(), h.engine.GetSequence())
	}
	g1, _ := replica.Global()
	g2, _ := h.engine.Global()
	if g1 != g2 {
		t.Error("replayed global state differs")
	}

	// Replayed request ids are deduplicated
	if out, err := replica.ProcessCommand(context.Background(), log[1].cmd); out != nil || err != nil {
		t.Errorf("expected replayed command to be a duplicate, got out=%v err=%v", out, err)
	}
}

func TestReplay_DetectsTamperedLog(t *testing.T) {
	h := newHarness(t)
	log := runScenario(t, h)

	replica := core.NewEngine(core.EngineConfig{DefaultInstrument: testInstrument}, core.Dependencies{
		Clock:  testutil.NewFakeClock(0),
		Oracle: testutil.NewFakeOracle(testInstrument, 1),
		Ledger: ledger.SettledLedger{},
	})

	log[2].env.Now++ // shifts last_updated of the second registration
	var err error
	for _, l := range log {
		if err = replica.Replay(context.Background(), &l.env, l.cmd); err != nil {
			break
		}
	}
	expectErr(t, err, core.ErrHashMismatch)
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	runScenario(t, h)

	snap := h.engine.CreateSnapshotState()
	if snap.Sequence != h.engine.GetSequence()-1 {
		t.Errorf("snapshot sequence: got %d, want %d", snap.Sequence, h.engine.GetSequence()-1)
	}

	restored := core.NewEngine(core.EngineConfig{DefaultInstrument: testInstrument}, core.Dependencies{
		Clock:  h.clock,
		Oracle: h.oracle,
		Ledger: h.ledger,
	})
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.GetSequence() != h.engine.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), h.engine.GetSequence())
	}
	if restored.GetStateHash() != h.engine.GetStateHash() {
		t.Error("state hash differs after restore")
	}
	if restored.TraderCount() != h.engine.TraderCount() {
		t.Errorf("trader count: got %d, want %d", restored.TraderCount(), h.engine.TraderCount())
	}

	// Both engines continue identically
	trader := snap.Traders[0].Trader
	h.clock.Advance(core.TradeCooldownSeconds)
	cmd := tradeCmd(trader, 5, testOraclePrice)
	a, err := h.engine.ProcessCommand(context.Background(), cmd)
	if err != nil {
		t.Fatal(err)
	}
	b, err := restored.ProcessCommand(context.Background(), &event.RecordTrade{
		RequestID: uuid.New(), Trader: trader, ExecutionTime: 5, TradePrice: testOraclePrice,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Envelope.StateHash != b.Envelope.StateHash {
		t.Error("engines diverged after restore")
	}
}

func TestSnapshot_RejectsCorruptLeaderboard(t *testing.T) {
	h := newHarness(t)
	trader := uuid.New()
	h.register(t, trader)
	h.trade(t, trader, 10)

	snap := h.engine.CreateSnapshotState()
	snap.Global.Leaderboard[1] = snap.Global.Leaderboard[0] // duplicate trader

	fresh := core.NewEngine(core.EngineConfig{}, core.Dependencies{Ledger: ledger.SettledLedger{}})
	if err := fresh.RestoreFromSnapshot(snap); err == nil {
		t.Fatal("expected restore to reject duplicate leaderboard entry")
	}
}
