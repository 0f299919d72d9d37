package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"go.uber.org/zap"
)

// RingCache is a storage node's read-through view of the coordinator's
// authoritative placement ring. It satisfies rpc.RingProvider (so the
// cache handler can resolve a key's replicas without a round trip to
// the coordinator on every request) and rpc.AddressBook (so the shared
// Dialer can resolve a peer node id to a dial address), and additionally
// implements failover.RingMutator's RemoveNode by forwarding to the
// coordinator, since a storage node has no authority to remove a peer
// from the ring locally.
type RingCache struct {
	coord rpcpb.CoordinatorClient

	mu           sync.RWMutex
	ring         *ring.Ring
	addresses    map[string]string
	knownVersion uint64

	onChange func(nodeIDs []string)

	logger *zap.Logger
}

// OnChange registers fn to be called with the full set of node ids
// every time Refresh observes a ring version change, so node wiring can
// keep the membership detector's peer set in sync with the coordinator's
// view of the cluster without polling the ring separately.
func (c *RingCache) OnChange(fn func(nodeIDs []string)) {
	c.onChange = fn
}

// NodeIDs returns the ids of every node currently known to this cache.
func (c *RingCache) NodeIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.addresses))
	for id := range c.addresses {
		ids = append(ids, id)
	}
	return ids
}

// NewRingCache constructs an empty RingCache; call Refresh (or Run) to
// populate it before serving traffic.
func NewRingCache(coord rpcpb.CoordinatorClient, virtualNodes int, logger *zap.Logger) *RingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RingCache{
		coord:     coord,
		ring:      ring.New(virtualNodes),
		addresses: make(map[string]string),
		logger:    logger,
	}
}

// GetReplicas implements rpc.RingProvider and failover.RingMutator.
func (c *RingCache) GetReplicas(key string, count int) []ring.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ring.GetReplicas(key, count)
}

// Address implements rpc.AddressBook.
func (c *RingCache) Address(nodeID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.addresses[nodeID]
	return addr, ok
}

// Snapshot returns the underlying ring for callers (the admin handler's
// rebalance diff) that need a stable *ring.Ring rather than the
// RingProvider interface.
func (c *RingCache) Snapshot() *ring.Ring {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ring
}

// Refresh asks the coordinator for the ring, conditional on the last
// version this cache observed, and rebuilds the local ring only when it
// changed, avoiding a full ring rebuild on every poll when nothing
// moved.
func (c *RingCache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	known := c.knownVersion
	c.mu.RUnlock()

	resp, err := c.coord.GetRing(ctx, &rpcpb.GetRingRequest{KnownVersion: known})
	if err != nil {
		return fmt.Errorf("node: refresh ring: %w", err)
	}
	if !resp.Changed {
		return nil
	}

	next := ring.New(0)
	addresses := make(map[string]string, len(resp.Nodes))
	for _, n := range resp.Nodes {
		if err := next.AddNode(ring.Node{ID: n.ID, Address: n.Address}); err != nil {
			return fmt.Errorf("node: rebuild ring: %w", err)
		}
		addresses[n.ID] = n.Address
	}

	c.mu.Lock()
	c.ring = next
	c.addresses = addresses
	c.knownVersion = resp.RingVersion
	onChange := c.onChange
	c.mu.Unlock()

	c.logger.Info("ring cache refreshed", zap.Uint64("version", resp.RingVersion), zap.Int("nodes", len(resp.Nodes)))
	if onChange != nil {
		ids := make([]string, 0, len(addresses))
		for id := range addresses {
			ids = append(ids, id)
		}
		onChange(ids)
	}
	return nil
}

// RemoveNode implements failover.RingMutator by asking the coordinator
// to remove nodeID from the authoritative ring, then pulling the result
// down into this cache immediately rather than waiting for the next
// poll interval.
func (c *RingCache) RemoveNode(nodeID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.coord.RemoveNode(ctx, &rpcpb.RemoveNodeRequest{NodeID: nodeID}); err != nil {
		return fmt.Errorf("node: remove %q from coordinator ring: %w", nodeID, err)
	}
	return c.Refresh(ctx)
}

// Run polls Refresh at interval until ctx is canceled.
func (c *RingCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("ring cache refresh failed", zap.Error(err))
			}
		}
	}
}
