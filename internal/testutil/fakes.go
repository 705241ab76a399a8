package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"XspdLeaderboard/internal/ledger"
)

// FakeClock is a settable ClockSource.
type FakeClock struct {
	now atomic.Int64
}

func NewFakeClock(start int64) *FakeClock {
	c := &FakeClock{}
	c.now.Store(start)
	return c
}

func (c *FakeClock) Now() int64 { return c.now.Load() }

// Advance moves the clock forward by seconds and returns the new time.
func (c *FakeClock) Advance(seconds int64) int64 { return c.now.Add(seconds) }

func (c *FakeClock) Set(now int64) { c.now.Store(now) }

// ErrNoPrice is returned by FakeOracle for unknown instruments.
var ErrNoPrice = errors.New("no price for instrument")

// FakeOracle serves prices set by the test.
type FakeOracle struct {
	mu     sync.Mutex
	prices map[string]uint64
	calls  int
}

func NewFakeOracle(instrument string, price uint64) *FakeOracle {
	return &FakeOracle{prices: map[string]uint64{instrument: price}}
}

func (o *FakeOracle) LatestPrice(_ context.Context, instrument string) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	p, ok := o.prices[instrument]
	if !ok {
		return 0, ErrNoPrice
	}
	return p, nil
}

func (o *FakeOracle) SetPrice(instrument string, price uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[instrument] = price
}

// Calls returns how many times LatestPrice was queried.
func (o *FakeOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// ErrLedgerDown is the default FailingLedger error.
var ErrLedgerDown = errors.New("ledger unavailable")

// FailingLedger rejects every non-empty batch.
type FailingLedger struct {
	Err error
}

func (f FailingLedger) Execute(_ context.Context, batch *ledger.Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	if f.Err != nil {
		return f.Err
	}
	return ErrLedgerDown
}
