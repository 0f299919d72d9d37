// Package failover implements the failover manager: reacts to a
// membership callback reporting a node crossing into DEAD, selects a
// new primary, updates the ring, and notifies the cluster.
package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/membership"
	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is a failover's lifecycle status.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Failover records one failover's outcome.
type Failover struct {
	ID          string
	DeadNode    string
	NewPrimary  string
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

// RingMutator is the subset of the topology registry the failover
// manager needs: a way to read the dead node's replica set and a way to
// remove it from the ring.
type RingMutator interface {
	GetReplicas(key string, count int) []ring.Node
	RemoveNode(nodeID string) error
}

// HealthChecker reports whether a node is currently healthy, used to
// pick the new primary from the dead node's replica list.
type HealthChecker interface {
	IsHealthy(nodeID string) bool
}

// CompletionFunc is invoked once per failover, on completion,
// cancellation, or failure.
type CompletionFunc func(Failover)

// Config controls the failover manager's behavior.
type Config struct {
	AutoFailoverEnabled bool
	ReplicationFactor   int
}

// Manager drives the failover sequence and tracks in-flight and
// completed failovers.
type Manager struct {
	cfg     Config
	ring    RingMutator
	health  HealthChecker
	logger  *zap.Logger
	onEvent CompletionFunc

	mu         sync.Mutex
	byDeadNode map[string]*record
	byID       map[string]*record
}

type record struct {
	failover Failover
	cancel   context.CancelFunc
}

// NewManager constructs a Manager.
func NewManager(cfg Config, ringMutator RingMutator, health HealthChecker, onEvent CompletionFunc, logger *zap.Logger) *Manager {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		ring:       ringMutator,
		health:     health,
		logger:     logger,
		onEvent:    onEvent,
		byDeadNode: make(map[string]*record),
		byID:       make(map[string]*record),
	}
}

// OnPeerTransition is registered as a membership.Detector callback via
// Detector.OnTransition. It triggers failover when a peer crosses into
// DEAD; other transitions are ignored here (a return to HEALTHY or a
// drop to UNHEALTHY does not initiate failover).
func (m *Manager) OnPeerTransition(nodeID string, from, to membership.State) {
	if to != membership.Dead {
		return
	}
	m.TriggerFailover(nodeID)
}

// TriggerFailover starts (or observes an already-active) failover for
// deadNode. Two calls for the same dead node produce at most one active
// failover; the second observes the first and returns its id.
func (m *Manager) TriggerFailover(deadNode string) Failover {
	m.mu.Lock()
	if existing, ok := m.byDeadNode[deadNode]; ok && existing.failover.Status == StatusInProgress {
		f := existing.failover
		m.mu.Unlock()
		return f
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &record{
		failover: Failover{
			ID:        uuid.New().String(),
			DeadNode:  deadNode,
			Status:    StatusInProgress,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	m.byDeadNode[deadNode] = rec
	m.byID[rec.failover.ID] = rec
	m.mu.Unlock()

	if m.cfg.AutoFailoverEnabled {
		go m.run(ctx, rec)
	}
	return rec.failover
}

// run executes the failover sequence: select new primary, update the
// ring, notify, complete.
func (m *Manager) run(ctx context.Context, rec *record) {
	newPrimary, err := m.selectNewPrimary(ctx, rec.failover.DeadNode)
	if err != nil {
		m.finish(rec, StatusFailed, "", err)
		return
	}

	if ctx.Err() != nil {
		m.finish(rec, StatusCancelled, "", nil)
		return
	}

	if err := m.ring.RemoveNode(rec.failover.DeadNode); err != nil {
		m.finish(rec, StatusFailed, "", fmt.Errorf("remove dead node from ring: %w", err))
		return
	}

	m.logger.Info("failover: ring updated, cluster notified",
		zap.String("failover_id", rec.failover.ID), zap.String("dead_node", rec.failover.DeadNode), zap.String("new_primary", newPrimary))

	m.finish(rec, StatusCompleted, newPrimary, nil)
}

// selectNewPrimary picks the first healthy node in the dead node's
// replica list other than itself. The replica list is derived the same
// way any key's is: hashing the node's own id through the ring, since
// the ring has no separate concept of "the range a node owns" beyond
// its vnode positions.
func (m *Manager) selectNewPrimary(ctx context.Context, deadNode string) (string, error) {
	candidates := m.ring.GetReplicas(deadNode, m.cfg.ReplicationFactor+1)
	for _, c := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if c.ID == deadNode {
			continue
		}
		if m.health == nil || m.health.IsHealthy(c.ID) {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("failover: no healthy replica found for dead node %q", deadNode)
}

func (m *Manager) finish(rec *record, status Status, newPrimary string, err error) {
	m.mu.Lock()
	if rec.failover.Status != StatusInProgress {
		// Already cancelled; Cancel has recorded the outcome and fired
		// the callback.
		m.mu.Unlock()
		return
	}
	rec.failover.Status = status
	rec.failover.NewPrimary = newPrimary
	rec.failover.CompletedAt = time.Now()
	if err != nil {
		rec.failover.Error = err.Error()
	}
	f := rec.failover
	m.mu.Unlock()

	if m.onEvent != nil {
		m.onEvent(f)
	}
}

// Cancel moves an in-flight failover to cancelled. Already-applied ring
// changes are not rolled back.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	rec, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("failover: unknown id %q", id)
	}
	if rec.failover.Status != StatusInProgress {
		m.mu.Unlock()
		return fmt.Errorf("failover: %q is not in progress", id)
	}
	rec.cancel()
	rec.failover.Status = StatusCancelled
	rec.failover.CompletedAt = time.Now()
	f := rec.failover
	m.mu.Unlock()

	if m.onEvent != nil {
		m.onEvent(f)
	}
	return nil
}

// Get returns a failover by id.
func (m *Manager) Get(id string) (Failover, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return Failover{}, false
	}
	return rec.failover, true
}

// List returns all tracked failovers.
func (m *Manager) List() []Failover {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Failover, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, rec.failover)
	}
	return out
}
