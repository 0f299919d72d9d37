package rpc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/rebalance"
	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
)

// NodeStatusFunc reports this node's own status line, sourced from
// whatever the node wiring uses to track liveness and request counts
// (membership.Detector plus a request counter, typically).
type NodeStatusFunc func() rpcpb.NodeStatus

// AdminHandler implements rpcpb.AdminServer: kicking off a rebalance
// after a ring change, draining a node before it leaves, and exposing
// lightweight self-status and metric samples.
type AdminHandler struct {
	rpcpb.UnimplementedAdminServer

	nodeID     string
	eng        *storage.Engine
	orch       *rebalance.Orchestrator
	drainTO    time.Duration
	statusFunc NodeStatusFunc

	mu      sync.Mutex
	oldRing *ring.Ring
	newRing *ring.Ring
}

// AdminHandlerConfig collects an AdminHandler's collaborators.
type AdminHandlerConfig struct {
	NodeID        string
	Engine        *storage.Engine
	PreviousRing  *ring.Ring // ring snapshot as of the last rebalance
	CurrentRing   *ring.Ring
	Orchestrator  *rebalance.Orchestrator
	DrainTimeout  time.Duration
	NodeStatus    NodeStatusFunc
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Minute
	}
	return &AdminHandler{
		nodeID:     cfg.NodeID,
		eng:        cfg.Engine,
		oldRing:    cfg.PreviousRing,
		newRing:    cfg.CurrentRing,
		orch:       cfg.Orchestrator,
		drainTO:    cfg.DrainTimeout,
		statusFunc: cfg.NodeStatus,
	}
}

// UpdateRing records the coordinator's latest ring so the next Rebalance
// or Drain diffs against it. Called whenever the node's ring cache
// observes a version change, since the ring snapshots this handler was
// constructed with would otherwise go stale the moment the topology
// moves.
func (h *AdminHandler) UpdateRing(current *ring.Ring) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newRing = current
}

// Rebalance diffs the node's last-known ring against its current one
// over every locally-held key and submits the resulting migration
// jobs.
func (h *AdminHandler) Rebalance(_ context.Context, _ *rpcpb.RebalanceRequest) (*rpcpb.RebalanceResponse, error) {
	h.mu.Lock()
	oldRing, newRing := h.oldRing, h.newRing
	h.mu.Unlock()

	keys := rebalance.KeysFromEngine(h.eng)
	jobs := rebalance.Plan(oldRing, newRing, keys)
	if len(jobs) == 0 {
		return &rpcpb.RebalanceResponse{Started: false}, nil
	}
	ids := h.orch.Submit(jobs)

	h.mu.Lock()
	h.oldRing = h.newRing
	h.mu.Unlock()
	return &rpcpb.RebalanceResponse{Started: true, JobID: strings.Join(ids, ",")}, nil
}

// Drain migrates every key this node holds to its replacement owners
// under the current ring and waits up to the request's timeout (or the
// configured default) for completion.
func (h *AdminHandler) Drain(ctx context.Context, req *rpcpb.DrainRequest) (*rpcpb.DrainResponse, error) {
	h.mu.Lock()
	newRing := h.newRing
	h.mu.Unlock()

	keys := rebalance.KeysFromEngine(h.eng)
	jobs := rebalance.PlanDrain(newRing, h.nodeID, keys)
	if len(jobs) == 0 {
		return &rpcpb.DrainResponse{Success: true}, nil
	}
	ids := h.orch.Submit(jobs)

	timeout := h.drainTO
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	var migrated int64
	for time.Now().Before(deadline) {
		done := true
		migrated = 0
		for _, id := range ids {
			job, ok := h.orch.Status(id)
			if !ok {
				continue
			}
			migrated += int64(job.KeysMigrated)
			if job.Status == rebalance.JobPending || job.Status == rebalance.JobRunning {
				done = false
			}
		}
		if done {
			return &rpcpb.DrainResponse{Success: true, KeysMigrated: migrated}, nil
		}
		select {
		case <-ctx.Done():
			return &rpcpb.DrainResponse{Success: false, KeysMigrated: migrated}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return &rpcpb.DrainResponse{Success: false, KeysMigrated: migrated}, nil
}

func (h *AdminHandler) Status(_ context.Context, req *rpcpb.StatusRequest) (*rpcpb.StatusResponse, error) {
	if h.statusFunc == nil {
		return &rpcpb.StatusResponse{}, nil
	}
	self := h.statusFunc()
	if req.Node != "" && req.Node != self.NodeID {
		return &rpcpb.StatusResponse{}, nil
	}
	return &rpcpb.StatusResponse{Nodes: []rpcpb.NodeStatus{self}}, nil
}

// Metrics returns a lightweight targeted sample of engine-level gauges,
// distinct from the bulk Prometheus scrape endpoint, exposed here as a
// scoped RPC rather than /metrics.
func (h *AdminHandler) Metrics(context.Context, *rpcpb.MetricsRequest) (*rpcpb.MetricsResponse, error) {
	return &rpcpb.MetricsResponse{Samples: []rpcpb.MetricSample{
		{Name: "cache_entries_total", Value: float64(h.eng.Len())},
		{Name: "cache_memory_used_bytes", Value: float64(h.eng.MemoryUsed())},
		{Name: "cache_memory_cap_bytes", Value: float64(h.eng.MemoryCap())},
		{Name: "cache_evictions_total", Value: float64(h.eng.EvictionCount())},
	}}, nil
}
