// Package idempotency absorbs repeated deliveries of the same upstream event.
//
// The in-process Guard is best-effort: entries live only in this process, so a
// restart or a second replica re-admits keys. Deployments that need dedup across
// instances use RedisStore.
package idempotency

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10_000
)

// Store claims keys for first-time processing.
type Store interface {
	// Claim records key and reports true when it was not already present.
	Claim(ctx context.Context, key string, now time.Time) (bool, error)
}

type entry struct {
	key       string
	expiresAt time.Time
}

// Guard is a bounded, TTL-expiring key set. Oldest-inserted keys are evicted
// first at capacity. Safe for concurrent use.
type Guard struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	expires map[string]time.Time
	order   []entry
}

// NewGuard builds a Guard. Non-positive values fall back to the defaults.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Guard{
		ttl:     ttl,
		maxSize: maxSize,
		expires: make(map[string]time.Time),
	}
}

// Has prunes expired entries and reports whether key is live.
func (g *Guard) Has(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prune(now)
	return g.liveLocked(key, now)
}

// Add records key until now+TTL, evicting the oldest entry when full.
func (g *Guard) Add(key string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addLocked(key, now)
}

// Claim is Has followed by Add under one lock.
func (g *Guard) Claim(_ context.Context, key string, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prune(now)
	if g.liveLocked(key, now) {
		return false, nil
	}
	g.addLocked(key, now)
	return true, nil
}

// Len returns the number of tracked keys, including not-yet-pruned ones.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.expires)
}

// liveLocked reports whether key is unexpired at now. An expired key is
// dropped even when it sits behind a live queue head, which happens when
// callers pass non-monotonic times.
func (g *Guard) liveLocked(key string, now time.Time) bool {
	expiresAt, ok := g.expires[key]
	if !ok {
		return false
	}
	if !expiresAt.After(now) {
		delete(g.expires, key)
		return false
	}
	return true
}

func (g *Guard) addLocked(key string, now time.Time) {
	g.prune(now)

	if _, exists := g.expires[key]; !exists {
		for len(g.expires) >= g.maxSize && len(g.order) > 0 {
			g.popOldest()
		}
	}

	expiresAt := now.Add(g.ttl)
	g.expires[key] = expiresAt
	g.order = append(g.order, entry{key: key, expiresAt: expiresAt})
}

// prune drops entries from the head of the insertion queue while expired.
func (g *Guard) prune(now time.Time) {
	for len(g.order) > 0 && !g.order[0].expiresAt.After(now) {
		g.popOldest()
	}
}

// popOldest removes the queue head. A queue entry whose key has since been
// re-added carries a stale expiry and leaves the map untouched.
func (g *Guard) popOldest() {
	head := g.order[0]
	g.order[0] = entry{}
	g.order = g.order[1:]

	if current, ok := g.expires[head.key]; ok && current.Equal(head.expiresAt) {
		delete(g.expires, head.key)
	}
}
