package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// verifiedCache is a short-TTL in-memory cache of already-verified
// credentials. It amortizes the argon2 cost: a hot key pays for one
// verification per TTL window instead of one per request.
//
// Keys are SHA-256 digests of the presented token so plaintext
// credentials never sit in memory beyond the request.
type verifiedCache struct {
	mu      sync.RWMutex
	entries map[string]verifiedEntry
	ttl     time.Duration
	done    chan struct{}
}

type verifiedEntry struct {
	identity  Identity
	expiresAt time.Time
}

// newVerifiedCache creates a cache with the given TTL. Call Close to stop
// the background eviction goroutine.
func newVerifiedCache(ttl time.Duration) *verifiedCache {
	c := &verifiedCache{
		entries: make(map[string]verifiedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *verifiedCache) Get(token string) (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(token)]
	if !ok || time.Now().After(entry.expiresAt) {
		return Identity{}, false
	}
	return entry.identity, true
}

func (c *verifiedCache) Set(token string, id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(token)] = verifiedEntry{
		identity:  id,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Close stops the background eviction goroutine.
func (c *verifiedCache) Close() {
	close(c.done)
}

func (c *verifiedCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *verifiedCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
