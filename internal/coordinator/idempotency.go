package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IdempotencyResponse is the cached result of a previously-applied
// write, replayed verbatim when the same idempotency key is seen again.
type IdempotencyResponse struct {
	Version  int64
	StoredAt time.Time
}

// IdempotencyCache is an in-memory TTL-bounded cache of idempotency
// keys to their cached write responses, so a retried write with the
// same key replays the original result instead of applying twice.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]cachedEntry
	ttl     time.Duration
}

type cachedEntry struct {
	response  IdempotencyResponse
	expiresAt time.Time
}

// NewIdempotencyCache constructs a cache with the given per-entry TTL.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IdempotencyCache{entries: make(map[string]cachedEntry), ttl: ttl}
}

// Generate produces a fresh server-side idempotency key when the caller
// did not supply one.
func Generate(tenantID, key string) string {
	data := fmt.Sprintf("%s:%s:%d:%s", tenantID, key, time.Now().UnixNano(), uuid.New().String())
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func storeKey(tenantID, key, idempotencyKey string) string {
	return tenantID + ":" + key + ":" + idempotencyKey
}

// Get returns a previously cached response, if present and unexpired.
func (c *IdempotencyCache) Get(tenantID, key, idempotencyKey string) (IdempotencyResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sk := storeKey(tenantID, key, idempotencyKey)
	entry, ok := c.entries[sk]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, sk)
		return IdempotencyResponse{}, false
	}
	return entry.response, true
}

// Store caches resp under idempotencyKey for the cache's configured
// TTL.
func (c *IdempotencyCache) Store(tenantID, key, idempotencyKey string, resp IdempotencyResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp.StoredAt = time.Now()
	c.entries[storeKey(tenantID, key, idempotencyKey)] = cachedEntry{
		response:  resp,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Sweep removes all expired entries, returning the number removed. A
// caller runs this periodically to bound memory use.
func (c *IdempotencyCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
