// Package membership implements an explicit heartbeat/failure-detection
// state machine. A hashicorp/memberlist gossip pool sits underneath it
// (see gossip.go) only to discover peers joining and leaving; the
// heartbeat loop here is the source of truth for the
// HEALTHY/UNHEALTHY/DEAD transitions that failover and the ring cache
// react to.
package membership

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a peer's failure-detector state.
type State int

const (
	Healthy State = iota
	Unhealthy
	Dead
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Unhealthy:
		return "UNHEALTHY"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Checker performs a single bounded-timeout health check against a peer.
type Checker interface {
	Check(ctx context.Context, nodeID string) error
}

// Config controls the heartbeat interval, RPC timeout, and the two
// failure thresholds: the failure threshold must be strictly less than
// the dead threshold.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	DeadThreshold    int
}

// TransitionFunc is invoked on every state transition for a peer.
type TransitionFunc func(nodeID string, from, to State)

type peerRecord struct {
	state              State
	consecutiveFailures int
}

// Detector runs the heartbeat loop and owns per-peer state. The local
// node is never health-checked and is always reported HEALTHY (spec
// §4.7 "Invariants").
type Detector struct {
	selfID  string
	checker Checker
	cfg     Config
	logger  *zap.Logger

	mu          sync.RWMutex
	peers       map[string]*peerRecord
	transitions []TransitionFunc

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDetector constructs a Detector for selfID using checker to probe
// peers.
func NewDetector(selfID string, checker Checker, cfg Config, logger *zap.Logger) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.DeadThreshold <= cfg.FailureThreshold {
		cfg.DeadThreshold = cfg.FailureThreshold * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		selfID:  selfID,
		checker: checker,
		cfg:     cfg,
		logger:  logger,
		peers:   make(map[string]*peerRecord),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// OnTransition registers a callback invoked synchronously on every
// state transition, used by failover to trigger on DEAD and by the
// ring cache to drop routes to non-HEALTHY peers.
func (d *Detector) OnTransition(fn TransitionFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitions = append(d.transitions, fn)
}

// AddPeer registers a peer as HEALTHY if it is not already tracked.
func (d *Detector) AddPeer(nodeID string) {
	if nodeID == d.selfID {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[nodeID]; !ok {
		d.peers[nodeID] = &peerRecord{state: Healthy}
	}
}

// RemovePeer stops tracking a peer entirely, e.g. after it is
// permanently decommissioned.
func (d *Detector) RemovePeer(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, nodeID)
}

// State reports a node's current state. Self always reports HEALTHY.
func (d *Detector) State(nodeID string) State {
	if nodeID == d.selfID {
		return Healthy
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.peers[nodeID]
	if !ok {
		return Healthy
	}
	return rec.state
}

// Peers returns the IDs of every peer currently tracked, regardless of
// state, so callers can reconcile the tracked set against an external
// membership source (the ring cache's node list).
func (d *Detector) Peers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.peers))
	for nodeID := range d.peers {
		out = append(out, nodeID)
	}
	return out
}

// HealthyPeers returns the IDs of all peers currently HEALTHY.
func (d *Detector) HealthyPeers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for nodeID, rec := range d.peers {
		if rec.state == Healthy {
			out = append(out, nodeID)
		}
	}
	return out
}

// Run starts the heartbeat loop until Stop is called or ctx is
// canceled.
func (d *Detector) Run(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick(ctx)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick snapshots the peer set before scanning it, so a concurrent
// AddPeer/RemovePeer during the scan cannot invalidate the loop (spec
// §4.7 "Invariants").
func (d *Detector) tick(ctx context.Context) {
	d.mu.RLock()
	nodeIDs := make([]string, 0, len(d.peers))
	for nodeID := range d.peers {
		nodeIDs = append(nodeIDs, nodeID)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, nodeID := range nodeIDs {
		nodeID := nodeID
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.checkOne(ctx, nodeID)
		}()
	}
	wg.Wait()
}

func (d *Detector) checkOne(ctx context.Context, nodeID string) {
	checkCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	err := d.checker.Check(checkCtx, nodeID)

	d.mu.Lock()
	rec, ok := d.peers[nodeID]
	if !ok {
		d.mu.Unlock()
		return
	}
	from := rec.state
	if err == nil {
		rec.consecutiveFailures = 0
		rec.state = Healthy
	} else {
		rec.consecutiveFailures++
		switch {
		case rec.consecutiveFailures >= d.cfg.DeadThreshold:
			rec.state = Dead
		case rec.consecutiveFailures >= d.cfg.FailureThreshold:
			rec.state = Unhealthy
		}
	}
	to := rec.state
	callbacks := append([]TransitionFunc(nil), d.transitions...)
	d.mu.Unlock()

	if from != to {
		d.logger.Info("peer state transition",
			zap.String("node_id", nodeID), zap.String("from", from.String()), zap.String("to", to.String()))
		for _, cb := range callbacks {
			cb(nodeID, from, to)
		}
	}
}

// Stop signals the heartbeat loop to exit and waits for it to finish.
func (d *Detector) Stop() {
	close(d.stopCh)
	<-d.doneCh
}
