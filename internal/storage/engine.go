package storage

import (
	"hash/fnv"
	"sync/atomic"

	"github.com/dSpringOnion/clidistcachelayer/internal/errs"
	"github.com/dSpringOnion/clidistcachelayer/internal/vectorclock"
	"go.uber.org/zap"
)

// DefaultShardCount is the default static partition count.
const DefaultShardCount = 256

// CASOutcome classifies the result of a compare-and-swap.
type CASOutcome int

const (
	CASSuccess CASOutcome = iota
	CASKeyMissing
	CASKeyExpired
	CASVersionMismatch
)

// Engine is the per-node sharded storage engine. All operations are
// thread-safe; whole-engine operations lock shards one at a time so
// concurrent single-key operations on untouched shards proceed.
type Engine struct {
	nodeID      string
	shards      []*shard
	memoryCap   int64
	totalMemory int64 // atomic
	logger      *zap.Logger
}

// NewEngine constructs an engine with numShards static partitions and a
// total memory cap in bytes.
func NewEngine(nodeID string, numShards int, memoryCap int64, logger *zap.Logger) *Engine {
	if numShards <= 0 {
		numShards = DefaultShardCount
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = newShard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		nodeID:    nodeID,
		shards:    shards,
		memoryCap: memoryCap,
		logger:    logger,
	}
}

func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(e.shards)
	if idx < 0 {
		idx += len(e.shards)
	}
	return e.shards[idx]
}

// MemoryUsed returns the engine's current total memory usage.
func (e *Engine) MemoryUsed() int64 {
	return atomic.LoadInt64(&e.totalMemory)
}

// MemoryCap returns the configured memory cap.
func (e *Engine) MemoryCap() int64 {
	return e.memoryCap
}

// EvictionCount sums evictions across all shards.
func (e *Engine) EvictionCount() uint64 {
	var total uint64
	for _, s := range e.shards {
		total += s.evictionCount()
	}
	return total
}

func validateKey(key string) error {
	if len(key) == 0 {
		return errs.Invalidf("key must not be empty")
	}
	if len(key) > MaxKeySize {
		return errs.Invalidf("key length %d exceeds maximum %d", len(key), MaxKeySize)
	}
	return nil
}

// Get returns the entry if present and unexpired; touches LRU and
// last-access. found=false covers both "never set" and "expired".
func (e *Engine) Get(key string) (*Entry, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.touch(key)
	if !ok {
		return nil, false, nil
	}
	now := nowMillis()
	if entry.Expired(now) {
		e.removeLocked(s, key, entry)
		return nil, false, nil
	}
	entry.AccessedAtMs = now
	return cloneEntry(entry), true, nil
}

// Exists reports presence without mutating value, still applying LRU
// touch and expiry semantics.
func (e *Engine) Exists(key string) (bool, error) {
	_, found, err := e.Get(key)
	return found, err
}

// Set inserts or replaces an entry. New version is prior+1 on replace,
// or 1 on insert. May trigger eviction on the owning shard only.
func (e *Engine) Set(key string, value []byte, ttlSeconds int32) (*Entry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	existing, ok := s.cache.Peek(key)
	var version int64 = 1
	createdAt := now
	vc := vectorclock.New()
	if ok && !existing.Expired(now) {
		version = existing.Version + 1
		createdAt = existing.CreatedAtMs
		vc = existing.VectorClock.Clone()
	}
	vc = vc.Increment(e.nodeID)

	entry := &Entry{
		Key:          key,
		Value:        append([]byte(nil), value...),
		TTLSeconds:   ttlSeconds,
		ExpiresAtMs:  expiryFromTTL(ttlSeconds, now),
		Version:      version,
		CreatedAtMs:  createdAt,
		ModifiedAtMs: now,
		AccessedAtMs: now,
		VectorClock:  vc,
	}

	if err := e.insertLocked(s, key, existing, ok, entry); err != nil {
		return nil, err
	}
	return cloneEntry(entry), nil
}

// insertLocked installs entry into shard s under the caller's held lock,
// updating memory accounting and running eviction if the new total
// would exceed the engine's memory cap.
func (e *Engine) insertLocked(s *shard, key string, existing *Entry, existed bool, entry *Entry) error {
	var delta int64
	if existed {
		delta = entry.Size() - existing.Size()
	} else {
		delta = entry.Size()
	}

	// Eviction is triggered on insert when current_total + new_entry_size
	// would exceed memory_cap; it removes LRU keys from this shard only.
	if e.memoryCap > 0 {
		for atomic.LoadInt64(&e.totalMemory)+delta > e.memoryCap {
			evictKey, evictEntry, ok := s.oldestKey()
			if !ok || evictKey == key {
				// Nothing left to evict on this shard, or the only
				// remaining key is the one being inserted.
				break
			}
			s.cache.Remove(evictKey)
			s.addMemory(-evictEntry.Size())
			atomic.AddInt64(&e.totalMemory, -evictEntry.Size())
			s.incEvictions()
		}
		if atomic.LoadInt64(&e.totalMemory)+delta > e.memoryCap {
			return errs.ResourceExhaustedf("memory cap exceeded: entry of %d bytes does not fit under cap %d", entry.Size(), e.memoryCap)
		}
	}

	s.cache.Add(key, entry)
	s.addMemory(delta)
	atomic.AddInt64(&e.totalMemory, delta)
	return nil
}

// removeLocked removes key from shard s under the caller's held lock.
func (e *Engine) removeLocked(s *shard, key string, entry *Entry) {
	s.cache.Remove(key)
	s.addMemory(-entry.Size())
	atomic.AddInt64(&e.totalMemory, -entry.Size())
}

// Delete removes key, returning whether a live (unexpired) entry
// existed.
func (e *Engine) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Peek(key)
	if !ok {
		return false, nil
	}
	existed := !entry.Expired(nowMillis())
	e.removeLocked(s, key, entry)
	return existed, nil
}

// CAS atomically checks the current version against expectedVersion and,
// on match, replaces the value. The shard write lock is held across
// read-of-current-version, comparison, and write, so no interleaving is
// observable.
func (e *Engine) CAS(key string, expectedVersion int64, newValue []byte, ttlSeconds int32) (*Entry, CASOutcome, int64, error) {
	if err := validateKey(key); err != nil {
		return nil, CASKeyMissing, 0, err
	}
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	existing, ok := s.cache.Peek(key)
	if !ok {
		return nil, CASKeyMissing, 0, nil
	}
	if existing.Expired(now) {
		e.removeLocked(s, key, existing)
		return nil, CASKeyExpired, 0, nil
	}
	if existing.Version != expectedVersion {
		return nil, CASVersionMismatch, existing.Version, nil
	}

	entry := &Entry{
		Key:          key,
		Value:        append([]byte(nil), newValue...),
		TTLSeconds:   ttlSeconds,
		ExpiresAtMs:  expiryFromTTL(ttlSeconds, now),
		Version:      existing.Version + 1,
		CreatedAtMs:  existing.CreatedAtMs,
		ModifiedAtMs: now,
		AccessedAtMs: now,
		VectorClock:  existing.VectorClock.Increment(e.nodeID),
	}

	if err := e.insertLocked(s, key, existing, true, entry); err != nil {
		return nil, CASKeyMissing, 0, err
	}
	return cloneEntry(entry), CASSuccess, entry.Version, nil
}

// ApplyReplicated installs an entry received from replication, preserving
// the sender's version field, honoring the version-regression guard: an
// entry with a version not strictly greater than what's stored is
// rejected.
func (e *Engine) ApplyReplicated(entry *Entry) (bool, error) {
	if err := validateKey(entry.Key); err != nil {
		return false, err
	}
	s := e.shardFor(entry.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cache.Peek(entry.Key)
	if ok && !existing.Expired(nowMillis()) && existing.Version >= entry.Version {
		return false, nil
	}

	replica := cloneEntry(entry)
	if err := e.insertLocked(s, entry.Key, existing, ok, replica); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyTombstone removes key as a result of a replicated delete.
func (e *Engine) ApplyTombstone(key string) error {
	_, err := e.Delete(key)
	return err
}

// ForEach visits every non-expired entry under each shard's lock in
// turn (never holding two shard locks at once), used by snapshotting and
// rebalancing. fn returning false stops iteration.
func (e *Engine) ForEach(fn func(*Entry) bool) {
	now := nowMillis()
	for _, s := range e.shards {
		if !e.forEachShard(s, now, fn) {
			return
		}
	}
}

func (e *Engine) forEachShard(s *shard, now int64, fn func(*Entry) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cont := true
	for _, key := range s.cache.Keys() {
		entry, ok := s.cache.Peek(key)
		if !ok || entry.Expired(now) {
			continue
		}
		if !fn(cloneEntry(entry)) {
			cont = false
			break
		}
	}
	return cont
}

// Clear removes every entry from every shard, one shard at a time.
func (e *Engine) Clear() {
	for _, s := range e.shards {
		s.mu.Lock()
		for _, key := range s.cache.Keys() {
			s.cache.Remove(key)
		}
		atomic.StoreInt64(&s.memTotal, 0)
		s.mu.Unlock()
	}
	atomic.StoreInt64(&e.totalMemory, 0)
}

// Len returns the total number of live (unexpired) entries.
func (e *Engine) Len() int {
	count := 0
	e.ForEach(func(*Entry) bool {
		count++
		return true
	})
	return count
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	cp.Value = append([]byte(nil), e.Value...)
	cp.VectorClock = e.VectorClock.Clone()
	return &cp
}
