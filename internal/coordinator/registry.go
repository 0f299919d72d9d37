package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"go.uber.org/zap"
)

// Config controls the registry's liveness thresholds and persistence
// location.
type Config struct {
	StatePath        string
	VirtualNodes     int
	HeartbeatTimeout time.Duration
}

// Registry is the coordinator's authoritative view of cluster
// membership and the current placement ring.
type Registry struct {
	mu     sync.RWMutex
	ring   *ring.Ring
	nodes  map[string]*NodeRecord
	cfg    Config
	logger *zap.Logger
}

// NewRegistry constructs a Registry, restoring state from cfg.StatePath
// if it exists. Absence of a state file starts an empty cluster.
func NewRegistry(cfg Config, logger *zap.Logger) (*Registry, error) {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		ring:   ring.New(cfg.VirtualNodes),
		nodes:  make(map[string]*NodeRecord),
		cfg:    cfg,
		logger: logger,
	}

	if cfg.StatePath == "" {
		return r, nil
	}
	state, found, err := loadState(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load state: %w", err)
	}
	if !found {
		return r, nil
	}
	for _, n := range state.RingNodes {
		if err := r.ring.AddNode(n); err != nil {
			return nil, fmt.Errorf("coordinator: restore ring: %w", err)
		}
	}
	for id, rec := range state.Nodes {
		rec := rec
		r.nodes[id] = &rec
	}
	logger.Info("coordinator: restored state", zap.Int("nodes", len(r.nodes)), zap.Uint64("ring_version", r.ring.Version()))
	return r, nil
}

// RegisterNode adds a node to the ring, idempotent by id: registering
// an already-known id refreshes its address and heartbeat without
// bumping the ring version.
func (r *Registry) RegisterNode(nodeID, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.nodes[nodeID]; ok {
		existing.Address = address
		existing.LastHeartbeat = time.Now()
		existing.State = NodeHealthy
		return r.persistLocked()
	}

	if err := r.ring.AddNode(ring.Node{ID: nodeID, Address: address}); err != nil {
		return err
	}
	r.nodes[nodeID] = &NodeRecord{
		NodeID:        nodeID,
		Address:       address,
		State:         NodeHealthy,
		LastHeartbeat: time.Now(),
	}
	r.logger.Info("node registered", zap.String("node_id", nodeID), zap.Uint64("ring_version", r.ring.Version()))
	return r.persistLocked()
}

// RemoveNode is an explicit operator removal.
func (r *Registry) RemoveNode(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[nodeID]; !ok {
		return fmt.Errorf("coordinator: node %q not registered", nodeID)
	}
	r.ring.RemoveNode(nodeID)
	delete(r.nodes, nodeID)
	r.logger.Info("node removed", zap.String("node_id", nodeID), zap.Uint64("ring_version", r.ring.Version()))
	return r.persistLocked()
}

// Heartbeat refreshes nodeID's last-seen timestamp and reports the
// current ring version plus whether it changed since knownVersion.
func (r *Registry) Heartbeat(nodeID string, knownVersion uint64) (ringVersion uint64, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return 0, false, fmt.Errorf("coordinator: node %q not registered", nodeID)
	}
	rec.LastHeartbeat = time.Now()
	rec.State = NodeHealthy
	v := r.ring.Version()
	return v, v != knownVersion, nil
}

// IncrementRequestCount bumps a per-node request counter, surfaced in
// cluster status.
func (r *Registry) IncrementRequestCount(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.RequestCount++
	}
}

// GetNodes returns a snapshot of all registered nodes.
func (r *Registry) GetNodes() []NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeRecord, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, *rec)
	}
	return out
}

// GetRing returns the ring's node list and version, optionally
// conditional on the caller's known version: changed reports whether
// the ring differs from knownVersion.
func (r *Registry) GetRing(knownVersion uint64) (nodes []ring.Node, version uint64, changed bool) {
	version = r.ring.Version()
	if version == knownVersion {
		return nil, version, false
	}
	return r.ring.Nodes(), version, true
}

// GetReplicas returns the ordered replica set for key.
func (r *Registry) GetReplicas(key string, count int) []ring.Node {
	return r.ring.GetReplicas(key, count)
}

// applyLivenessLocked reclassifies nodes whose heartbeat has gone
// stale: UNHEALTHY past the timeout, DEAD past 2x the timeout. Must be
// called with r.mu held.
func (r *Registry) applyLivenessLocked() {
	now := time.Now()
	for _, rec := range r.nodes {
		age := now.Sub(rec.LastHeartbeat)
		switch {
		case age > 2*r.cfg.HeartbeatTimeout:
			rec.State = NodeDead
		case age > r.cfg.HeartbeatTimeout:
			rec.State = NodeUnhealthy
		default:
			rec.State = NodeHealthy
		}
	}
}

// GetClusterStatus reclassifies liveness and returns a full status
// snapshot.
func (r *Registry) GetClusterStatus() ClusterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applyLivenessLocked()
	status := ClusterStatus{
		RingVersion: r.ring.Version(),
		TotalNodes:  len(r.nodes),
	}
	for _, rec := range r.nodes {
		status.Nodes = append(status.Nodes, *rec)
		switch rec.State {
		case NodeHealthy:
			status.Healthy++
		case NodeUnhealthy:
			status.Unhealthy++
		case NodeDead:
			status.Dead++
		}
	}
	return status
}

func (r *Registry) persistLocked() error {
	if r.cfg.StatePath == "" {
		return nil
	}
	if err := ensureDir(r.cfg.StatePath); err != nil {
		return err
	}
	nodesCopy := make(map[string]NodeRecord, len(r.nodes))
	for id, rec := range r.nodes {
		nodesCopy[id] = *rec
	}
	state := persistedState{
		RingVersion:  r.ring.Version(),
		VirtualNodes: r.cfg.VirtualNodes,
		Nodes:        nodesCopy,
		RingNodes:    r.ring.Nodes(),
	}
	return saveState(r.cfg.StatePath, state)
}
