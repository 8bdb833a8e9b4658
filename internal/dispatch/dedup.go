package dispatch

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	seenShardCount    = 32
	seenSweepInterval = 256
)

// seenCache is the time-windowed deduplication store behind at-most-once
// delivery. It is sharded by envelope id so concurrent deliveries of
// unrelated events never contend on one lock; duplicate deliveries of the
// same id race on a single shard and exactly one wins the reservation.
type seenCache struct {
	shards [seenShardCount]seenShard
	now    func() time.Time
}

type seenShard struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	sweepIn int
}

func newSeenCache() *seenCache {
	c := &seenCache{now: time.Now}
	for i := range c.shards {
		c.shards[i].expiry = make(map[string]time.Time)
	}
	return c
}

func (c *seenCache) shardFor(id string) *seenShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &c.shards[h.Sum32()%seenShardCount]
}

// reserve records id for window and reports whether the caller won the
// reservation and should invoke the handler. A second reservation of the same
// id within the window loses; after the window expires the id can be won
// again.
func (c *seenCache) reserve(id string, window time.Duration) bool {
	now := c.now()
	shard := c.shardFor(id)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if expiry, ok := shard.expiry[id]; ok && now.Before(expiry) {
		return false
	}
	shard.expiry[id] = now.Add(window)

	shard.sweepIn--
	if shard.sweepIn <= 0 {
		shard.sweepIn = seenSweepInterval
		for key, expiry := range shard.expiry {
			if !now.Before(expiry) {
				delete(shard.expiry, key)
			}
		}
	}
	return true
}
