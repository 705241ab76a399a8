// Package oracle serves reference prices to the engine's trade validation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/observability"

	lru "github.com/hashicorp/golang-lru"
)

var (
	ErrNoPrice    = errors.New("no price for instrument")
	ErrStalePrice = errors.New("price is stale")
)

// StaticFeed returns the same price for every instrument.
type StaticFeed struct {
	Price uint64
}

func (f StaticFeed) LatestPrice(context.Context, string) (uint64, error) {
	return f.Price, nil
}

const defaultCacheSize = 256

type cachedPrice struct {
	price     uint64
	sequence  int64
	timestamp int64
}

// PriceCache holds the latest tick per instrument, fed by the price
// subscriber. Ticks older than MaxAge seconds are refused.
type PriceCache struct {
	mu      sync.Mutex
	cache   *lru.Cache
	maxAge  int64
	now     func() int64
	metrics *observability.Metrics
}

// NewPriceCache creates a cache. maxAge <= 0 disables the staleness check.
func NewPriceCache(size int, maxAge int64, now func() int64, metrics *observability.Metrics) *PriceCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New(size)
	return &PriceCache{
		cache:   cache,
		maxAge:  maxAge,
		now:     now,
		metrics: metrics,
	}
}

// Update stores tick unless an equal or newer sequence is already cached.
// Reports whether the tick was accepted.
func (c *PriceCache) Update(tick event.PriceTick) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cache.Get(tick.Instrument); ok {
		if cur := v.(cachedPrice); tick.Sequence <= cur.sequence {
			return false
		}
	}
	c.cache.Add(tick.Instrument, cachedPrice{
		price:     tick.Price,
		sequence:  tick.Sequence,
		timestamp: tick.Timestamp,
	})
	if c.metrics != nil {
		c.metrics.OraclePrice.WithLabelValues(tick.Instrument).Set(float64(tick.Price))
	}
	return true
}

// LatestPrice implements the engine's oracle interface.
func (c *PriceCache) LatestPrice(_ context.Context, instrument string) (uint64, error) {
	c.mu.Lock()
	v, ok := c.cache.Get(instrument)
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, instrument)
	}

	p := v.(cachedPrice)
	if c.maxAge > 0 && c.now != nil {
		if age := c.now() - p.timestamp; age > c.maxAge {
			return 0, fmt.Errorf("%w: %s is %ds old", ErrStalePrice, instrument, age)
		}
	}
	return p.price, nil
}
