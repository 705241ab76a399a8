package core

import (
	"context"
	"fmt"
	"time"

	"XspdLeaderboard/internal/observability"

	lru "github.com/hashicorp/golang-lru"
)

const DefaultIdempotencyCapacity = 100_000

// DBIdempotencyChecker is the durable dedup tier, backed by the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, commandType string, requestID string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU of
// recently applied request ids in front of the event log.
type IdempotencyChecker struct {
	cache     *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		// lru.New only fails on a non-positive size
		panic(fmt.Sprintf("idempotency cache: %v", err))
	}
	return &IdempotencyChecker{
		cache:     cache,
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func compositeKey(commandType, requestID string) string {
	return commandType + ":" + requestID
}

// IsDuplicate reports whether the command was already applied.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, commandType, requestID string) bool {
	key := compositeKey(commandType, requestID)

	if ic.cache.Contains(key) {
		ic.recordDuplicate(commandType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	isDup, err := ic.dbChecker.IsDuplicate(ctx, commandType, requestID)
	if err != nil {
		// Treat as new; the event log's unique key still rejects a real duplicate.
		if ic.metrics != nil {
			ic.metrics.IdempotencyTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(commandType, "postgres")
		ic.cache.Add(key, struct{}{})
	}
	return isDup
}

// MarkProcessed records an applied command.
func (ic *IdempotencyChecker) MarkProcessed(commandType, requestID string) {
	ic.cache.Add(compositeKey(commandType, requestID), struct{}{})
}

// Warm loads composite keys (oldest first) into the cache.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.cache.Add(key, struct{}{})
	}
}

// Keys returns cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

// Len returns the number of cached keys.
func (ic *IdempotencyChecker) Len() int {
	return ic.cache.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}
