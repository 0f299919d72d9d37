package replication

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxHintRetries bounds how many replay attempts a single hint gets
// before it is dropped.
const maxHintRetries = 10

type hint struct {
	entry    Entry
	storedAt time.Time
	retries  int
}

// HintStore holds writes destined for followers that were unreachable
// at send time, and periodically replays them once the follower comes
// back, implementing classic hinted handoff.
type HintStore struct {
	mu       sync.Mutex
	byNode   map[string][]*hint
	maxHints int
	ttl      time.Duration
	dialer   Dialer
	logger   *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHintStore constructs a HintStore. maxHints caps hints retained per
// destination node; ttl bounds how long an un-replayed hint is kept.
func NewHintStore(maxHints int, ttl time.Duration, dialer Dialer, logger *zap.Logger) *HintStore {
	if maxHints <= 0 {
		maxHints = 10000
	}
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HintStore{
		byNode:   make(map[string][]*hint),
		maxHints: maxHints,
		ttl:      ttl,
		dialer:   dialer,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Store records a hint for nodeID, dropping the oldest hint for that
// node if it is already at capacity.
func (h *HintStore) Store(nodeID string, e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hints := h.byNode[nodeID]
	if len(hints) >= h.maxHints {
		h.logger.Warn("max hints reached for node, dropping oldest",
			zap.String("node_id", nodeID), zap.Int("max_hints", h.maxHints))
		hints = hints[1:]
	}
	h.byNode[nodeID] = append(hints, &hint{entry: e, storedAt: time.Now()})
}

// Count returns the number of hints currently queued for nodeID.
func (h *HintStore) Count(nodeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byNode[nodeID])
}

// Total returns the number of hints queued across all nodes.
func (h *HintStore) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, hints := range h.byNode {
		total += len(hints)
	}
	return total
}

// Clear drops all hints for nodeID, e.g. when it is permanently removed
// from the cluster.
func (h *HintStore) Clear(nodeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.byNode[nodeID])
	delete(h.byNode, nodeID)
	return n
}

// Run periodically replays hints for every node that has any queued,
// until Stop is called or ctx is canceled.
func (h *HintStore) Run(ctx context.Context, interval time.Duration) {
	defer close(h.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.replayAll()
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *HintStore) replayAll() {
	h.mu.Lock()
	nodeIDs := make([]string, 0, len(h.byNode))
	for nodeID := range h.byNode {
		nodeIDs = append(nodeIDs, nodeID)
	}
	h.mu.Unlock()

	for _, nodeID := range nodeIDs {
		h.replayNode(nodeID)
	}
}

func (h *HintStore) replayNode(nodeID string) {
	follower, ok := h.dialer.Follower(nodeID)
	if !ok {
		return
	}

	h.mu.Lock()
	pending := h.byNode[nodeID]
	h.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	var toDrop []*hint
	for _, hnt := range pending {
		if time.Since(hnt.storedAt) > h.ttl {
			toDrop = append(toDrop, hnt)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := follower.ApplyBatch(ctx, []Entry{hnt.entry})
		cancel()
		if err != nil {
			hnt.retries++
			if hnt.retries >= maxHintRetries {
				h.logger.Warn("hint max retries exceeded, dropping",
					zap.String("node_id", nodeID), zap.String("key", hnt.entry.Key))
				toDrop = append(toDrop, hnt)
			}
			continue
		}
		toDrop = append(toDrop, hnt)
	}

	if len(toDrop) == 0 {
		return
	}
	h.remove(nodeID, toDrop)
}

func (h *HintStore) remove(nodeID string, drop []*hint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropSet := make(map[*hint]struct{}, len(drop))
	for _, d := range drop {
		dropSet[d] = struct{}{}
	}
	remaining := h.byNode[nodeID][:0:0]
	for _, hnt := range h.byNode[nodeID] {
		if _, drop := dropSet[hnt]; !drop {
			remaining = append(remaining, hnt)
		}
	}
	if len(remaining) == 0 {
		delete(h.byNode, nodeID)
	} else {
		h.byNode[nodeID] = remaining
	}
}

// Stop signals the replay loop to exit and waits for it to finish.
func (h *HintStore) Stop() {
	close(h.stopCh)
	<-h.doneCh
}
