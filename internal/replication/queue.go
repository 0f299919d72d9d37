// Package replication implements the replication pipeline: a
// per-primary bounded queue, a batching worker that ships entries to
// followers, follower-side apply with the version-regression guard, and
// hinted handoff for followers that are temporarily unreachable.
package replication

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Op identifies the kind of mutation a replication Entry carries.
type Op int

const (
	OpSet Op = iota
	OpDelete
)

// Entry is one queued replication event.
type Entry struct {
	Op          Op
	TenantID    string
	Key         string
	Value       []byte
	TTLSeconds  int32
	Version     int64
	EnqueuedMs  int64
	Destination []string // node IDs of the followers this entry must reach
}

// Queue is a bounded per-primary FIFO of replication entries. Overflow
// drops the oldest entry with a warning: backpressure here is via
// dropped replication, not blocked clients.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	dropped  uint64
	logger   *zap.Logger
	notify   chan struct{}
}

// NewQueue constructs a Queue with the given capacity.
func NewQueue(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		capacity: capacity,
		logger:   logger,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends an entry, dropping the oldest queued entry if the queue
// is at capacity.
func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	if len(q.entries) >= q.capacity {
		dropped := q.entries[0]
		q.entries = q.entries[1:]
		q.dropped++
		q.logger.Warn("replication queue full, dropping oldest entry",
			zap.String("dropped_key", dropped.Key),
			zap.Int64("dropped_version", dropped.Version),
			zap.Int("capacity", q.capacity))
	}
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DrainUpTo removes and returns up to n queued entries in FIFO order.
func (q *Queue) DrainUpTo(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	if n == 0 {
		return nil
	}
	out := make([]Entry, n)
	copy(out, q.entries[:n])
	q.entries = q.entries[n:]
	return out
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns the total number of entries dropped due to overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Wait blocks until an entry is pushed, timeout elapses, or the queue
// already has entries waiting. Used by the batching worker to avoid
// busy-polling an empty queue while still respecting the batch time cap.
func (q *Queue) Wait(timeout time.Duration) {
	if q.Len() > 0 {
		return
	}
	select {
	case <-q.notify:
	case <-time.After(timeout):
	}
}
