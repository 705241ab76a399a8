package core

import "context"

// ClockSource supplies the current time in unix seconds. The engine reads it
// once per command and records the value in the envelope.
type ClockSource interface {
	Now() int64
}

// OracleFeed supplies the latest reference price for an instrument.
type OracleFeed interface {
	LatestPrice(ctx context.Context, instrument string) (uint64, error)
}

// recordedPrice replays the oracle reading captured in an envelope.
type recordedPrice uint64

func (p recordedPrice) LatestPrice(context.Context, string) (uint64, error) {
	return uint64(p), nil
}
