package event

// PriceTick is a reference price published by the oracle service. It is not
// a command: ticks only refresh the oracle cache the engine reads from.
type PriceTick struct {
	Instrument string
	Price      uint64
	Sequence   int64 // Monotonic per instrument
	Timestamp  int64 // unix seconds at the source
}
