// Package profilecache rate-limits contact avatar fetches. A fetch for a
// given phone is attempted at most once per TTL window, regardless of
// outcome, and payloads over the configured size cap are discarded rather
// than cached or forwarded.
package profilecache

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is the re-fetch window per phone.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxBytes caps avatar payloads at roughly 300KB.
	DefaultMaxBytes = 300 * 1024
)

// Cache tracks per-phone fetch attempts. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxBytes int
	attempts map[string]time.Time
	now      func() time.Time // replaced in tests
}

// New creates a cache. Non-positive arguments fall back to the defaults.
func New(ttl time.Duration, maxBytes int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cache{
		ttl:      ttl,
		maxBytes: maxBytes,
		attempts: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Begin reports whether an avatar fetch should be attempted for phone.
// When it returns true the attempt is recorded immediately, so no further
// fetch happens within the TTL window whatever the outcome — success,
// failure, and oversized-discard all count as the one attempt.
func (c *Cache) Begin(phone string) bool {
	if phone == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.attempts[phone]; ok && c.now().Sub(at) <= c.ttl {
		return false
	}
	c.attempts[phone] = c.now()
	return true
}

// Fits reports whether a payload of n bytes is within the size cap.
// Oversized payloads must never be cached or attached to notifications.
func (c *Cache) Fits(n int) bool {
	return n > 0 && n <= c.maxBytes
}

// MaxBytes returns the configured size cap.
func (c *Cache) MaxBytes() int {
	return c.maxBytes
}

// Forget drops the attempt marker for phone, forcing the next Begin to
// allow a fetch.
func (c *Cache) Forget(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, phone)
}
