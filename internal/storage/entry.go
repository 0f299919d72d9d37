// Package storage implements the per-node sharded storage engine: a
// lock-striped hash table with LRU eviction, TTL expiry, and atomic
// compare-and-swap.
package storage

import (
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/vectorclock"
)

// MaxKeySize is the maximum key length in bytes.
const MaxKeySize = 256

// Entry is the unit the engine stores.
type Entry struct {
	Key          string
	Value        []byte
	TTLSeconds   int32 // 0 = no TTL
	ExpiresAtMs  int64 // 0 = no TTL
	Version      int64
	CreatedAtMs  int64
	ModifiedAtMs int64
	AccessedAtMs int64
	VectorClock  vectorclock.Clock
}

// Size approximates the entry's contribution to the engine's memory cap:
// key + value bytes + fixed metadata overhead.
func (e *Entry) Size() int64 {
	const fixedOverhead = 96
	return int64(len(e.Key)) + int64(len(e.Value)) + fixedOverhead
}

// Expired reports whether e has an expiry in the past relative to nowMs.
func (e *Entry) Expired(nowMs int64) bool {
	return e.ExpiresAtMs != 0 && nowMs >= e.ExpiresAtMs
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func expiryFromTTL(ttlSeconds int32, nowMs int64) int64 {
	if ttlSeconds <= 0 {
		return 0
	}
	return nowMs + int64(ttlSeconds)*1000
}
