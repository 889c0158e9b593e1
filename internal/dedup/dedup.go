// Package dedup suppresses the protocol's echo of self-sent messages.
// Every send registers its {session, message id} pair here; inbound events
// flagged as self-originated are dropped while the pair is still within the
// TTL window.
package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a sent message id is remembered. The protocol
// guarantees per-message-id uniqueness within any realistic timeframe, so a
// short window is enough.
const DefaultTTL = 5 * time.Minute

type key struct {
	sessionID string
	messageID string
}

// Cache is a TTL cache of recently sent message ids. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[key]time.Time
	now     func() time.Time // replaced in tests
}

// New creates a cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[key]time.Time),
		now:     time.Now,
	}
}

// Register records that messageID was just sent by sessionID.
func (c *Cache) Register(sessionID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{sessionID, messageID}] = c.now()
}

// Seen reports whether {sessionID, messageID} was registered within the TTL
// window. An expired entry is evicted and reported as not seen.
func (c *Cache) Seen(sessionID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{sessionID, messageID}
	at, ok := c.entries[k]
	if !ok {
		return false
	}
	if c.now().Sub(at) > c.ttl {
		delete(c.entries, k)
		return false
	}
	return true
}

// Len returns the number of entries currently held, including any that
// expired but were not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run sweeps expired entries periodically until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	for k, at := range c.entries {
		if at.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}
