package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ingestion"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInstrument = "XSPD-USD"

type fixture struct {
	dispatcher *ingestion.Dispatcher
	clock      *testutil.FakeClock
	admin      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	admin := uuid.New()
	tl := ledger.NewMemoryLedger()
	tl.SetAuthority(ledger.TreasuryAccount(), admin)
	tl.SetAuthority(ledger.StakingPoolAccount(), admin)
	require.NoError(t, tl.Fund(ledger.TreasuryAccount(), 1_000_000_000_000))

	clock := testutil.NewFakeClock(1_700_000_000)
	engine := core.NewEngine(core.EngineConfig{
		DefaultInstrument:   testInstrument,
		IdempotencyCapacity: 128,
	}, core.Dependencies{
		Clock:  clock,
		Oracle: testutil.NewFakeOracle(testInstrument, 100_000),
		Ledger: tl,
	})

	d := ingestion.NewDispatcher(engine, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{dispatcher: d, clock: clock, admin: admin}
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	out, err := f.dispatcher.Submit(context.Background(), &event.Initialize{RequestID: uuid.New(), Admin: f.admin})
	require.NoError(t, err)
	require.NotNil(t, out)
}

func TestDispatcher_SubmitAppliesInOrder(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	trader := uuid.New()
	out, err := f.dispatcher.Submit(context.Background(), &event.RegisterTrader{RequestID: uuid.New(), Trader: trader})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Envelope.Sequence)

	f.clock.Advance(core.TradeCooldownSeconds)
	out, err = f.dispatcher.Submit(context.Background(), &event.RecordTrade{
		RequestID: uuid.New(), Trader: trader, ExecutionTime: 10, TradePrice: 100_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Envelope.Sequence)
	assert.Equal(t, uint64(1), out.Stats.TotalTrades)
}

func TestDispatcher_DuplicateReturnsNil(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	cmd := &event.RegisterTrader{RequestID: uuid.New(), Trader: uuid.New()}
	_, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)

	out, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDispatcher_DoRunsOnEngine(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	var seq int64
	require.NoError(t, f.dispatcher.Do(context.Background(), func(e *core.Engine) {
		seq = e.GetSequence()
	}))
	assert.Equal(t, int64(1), seq)
}

func TestDispatcher_StoppedRejectsSubmit(t *testing.T) {
	engine := core.NewEngine(core.EngineConfig{IdempotencyCapacity: 8}, core.Dependencies{
		Clock:  testutil.NewFakeClock(1),
		Oracle: testutil.NewFakeOracle(testInstrument, 1),
		Ledger: ledger.NewMemoryLedger(),
	})
	d := ingestion.NewDispatcher(engine, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Run(ctx), context.Canceled)

	_, err := d.Submit(context.Background(), &event.Initialize{RequestID: uuid.New(), Admin: uuid.New()})
	assert.ErrorIs(t, err, ingestion.ErrDispatcherStopped)
}

// --- Loop ---

type settled struct {
	acks, naks, terms int
}

func (s *settled) raw(subject string, data []byte) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() { s.acks++ },
		NakFunc:   func() { s.naks++ },
		TermFunc:  func() { s.terms++ },
	}
}

type priceRecorder struct {
	ticks []event.PriceTick
}

func (p *priceRecorder) Update(tick event.PriceTick) bool {
	p.ticks = append(p.ticks, tick)
	return true
}

func TestLoop_AcksAppliedAndRejected(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	loop := ingestion.NewLoop(f.dispatcher, nil, ingestion.DefaultSubjects(), nil)

	trader := uuid.New()
	var s settled
	data, err := json.Marshal(map[string]string{"request_id": uuid.New().String(), "trader": trader.String()})
	require.NoError(t, err)
	loop.Handle(context.Background(), s.raw("xspd.traders.register."+trader.String(), data))
	assert.Equal(t, settled{acks: 1}, s)

	// Second registration of the same trader is a business rejection: acked, not redelivered.
	data, err = json.Marshal(map[string]string{"request_id": uuid.New().String(), "trader": trader.String()})
	require.NoError(t, err)
	loop.Handle(context.Background(), s.raw("xspd.traders.register."+trader.String(), data))
	assert.Equal(t, settled{acks: 2}, s)
}

func TestLoop_TerminatesMalformedAndUnrouted(t *testing.T) {
	f := newFixture(t)
	loop := ingestion.NewLoop(f.dispatcher, nil, ingestion.DefaultSubjects(), nil)

	var s settled
	loop.Handle(context.Background(), s.raw("xspd.trades.recorded.x", []byte(`{bad`)))
	loop.Handle(context.Background(), s.raw("other.subject", []byte(`{}`)))
	assert.Equal(t, settled{terms: 2}, s)
}

func TestLoop_NaksTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	loop := ingestion.NewLoop(f.dispatcher, nil, ingestion.DefaultSubjects(), nil)

	trader := uuid.New()
	_, err := f.dispatcher.Submit(context.Background(), &event.RegisterTrader{RequestID: uuid.New(), Trader: trader})
	require.NoError(t, err)
	f.clock.Advance(core.TradeCooldownSeconds)

	// No oracle price for this instrument.
	data, err := json.Marshal(map[string]interface{}{
		"request_id":     uuid.New().String(),
		"trader":         trader.String(),
		"execution_time": 5,
		"trade_price":    100,
		"instrument":     "UNKNOWN",
	})
	require.NoError(t, err)

	var s settled
	loop.Handle(context.Background(), s.raw("xspd.trades.recorded.x", data))
	assert.Equal(t, settled{naks: 1}, s)
}

func TestLoop_RoutesPriceTicks(t *testing.T) {
	f := newFixture(t)
	prices := &priceRecorder{}
	loop := ingestion.NewLoop(f.dispatcher, prices, ingestion.DefaultSubjects(), nil)

	var s settled
	loop.Handle(context.Background(), s.raw("xspd.prices.XSPD-USD",
		[]byte(`{"instrument":"XSPD-USD","price":101000,"sequence":1,"timestamp":1700000000}`)))

	assert.Equal(t, settled{acks: 1}, s)
	require.Len(t, prices.ticks, 1)
	assert.Equal(t, uint64(101_000), prices.ticks[0].Price)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, ingestion.IsTransient(core.ErrPriceUnavailable))
	assert.True(t, ingestion.IsTransient(context.DeadlineExceeded))
	assert.False(t, ingestion.IsTransient(core.ErrCooldownPeriod))
}
