package storage

import (
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// shard is a single lock-striped partition of the engine's key space.
// Each shard owns its own lock, its own map (via the LRU cache's
// internal index), and its own intrusive LRU order — contention on
// unrelated keys in other shards is fully parallel.
//
// GET moves the touched key to the front of the LRU order, so even a
// read mutates shard state; the lock is a plain Mutex rather than a
// RWMutex for that reason (a RWMutex read lock would not be safe for
// concurrent LRU reordering).
type shard struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, *Entry]
	memTotal  int64 // bytes held by this shard, protected by mu
	evictions uint64
}

func newShard() *shard {
	s := &shard{}
	// Unbounded by count; eviction is driven by the engine's memory cap,
	// not the LRU cache's own capacity, so size is effectively infinite
	// and the engine evicts explicitly by looking up the oldest key and
	// removing it.
	c, err := lru.NewWithEvict[string, *Entry](math.MaxInt32, func(key string, value *Entry) {
		// No-op; the engine adjusts memTotal and the eviction count itself
		// when it removes an entry, keeping the accounting atomic with the
		// eviction decision.
	})
	if err != nil {
		panic("storage: failed to construct shard LRU: " + err.Error())
	}
	s.cache = c
	return s
}

// touch moves key to the front of the LRU order without mutating value,
// used by GET.
func (s *shard) touch(key string) (*Entry, bool) {
	return s.cache.Get(key)
}

// oldestKey reports the least-recently-used key, if any.
func (s *shard) oldestKey() (string, *Entry, bool) {
	k, v, ok := s.cache.GetOldest()
	return k, v, ok
}

func (s *shard) memory() int64 {
	return atomic.LoadInt64(&s.memTotal)
}

func (s *shard) addMemory(delta int64) {
	atomic.AddInt64(&s.memTotal, delta)
}

func (s *shard) evictionCount() uint64 {
	return atomic.LoadUint64(&s.evictions)
}

func (s *shard) incEvictions() {
	atomic.AddUint64(&s.evictions, 1)
}
