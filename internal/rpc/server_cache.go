package rpc

import (
	"context"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/coordinator"
	"github.com/dSpringOnion/clidistcachelayer/internal/metrics"
	"github.com/dSpringOnion/clidistcachelayer/internal/quorum"
	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/wal"
	"go.uber.org/zap"
)

// RingProvider is the subset of the placement ring the cache handler
// needs to find a key's replica set. Both *ring.Ring and
// *coordinator.Registry satisfy it; a storage node holds a locally
// cached *ring.Ring kept current via periodic GetRing calls rather than
// asking the coordinator per request.
type RingProvider interface {
	GetReplicas(key string, count int) []ring.Node
}

// CacheHandler implements rpcpb.CacheServer, the data-plane surface,
// backed by the local storage engine and the quorum coordinator's
// replica fan-out.
type CacheHandler struct {
	rpcpb.UnimplementedCacheServer

	nodeID            string
	eng               *storage.Engine
	ring              RingProvider
	quorumCoord       *quorum.Coordinator
	replicationFactor int
	dialer            *Dialer
	idempotency       *coordinator.IdempotencyCache
	metrics           *metrics.Metrics
	logger            *zap.Logger
	wal               *wal.Log
}

// CacheHandlerConfig collects a CacheHandler's collaborators.
type CacheHandlerConfig struct {
	NodeID            string
	Engine            *storage.Engine
	Ring              RingProvider
	Quorum            *quorum.Coordinator
	ReplicationFactor int
	Dialer            *Dialer
	Idempotency       *coordinator.IdempotencyCache
	Metrics           *metrics.Metrics
	Logger            *zap.Logger
	WAL               *wal.Log
}

// NewCacheHandler constructs a CacheHandler.
func NewCacheHandler(cfg CacheHandlerConfig) *CacheHandler {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{
		nodeID:            cfg.NodeID,
		eng:               cfg.Engine,
		ring:              cfg.Ring,
		quorumCoord:       cfg.Quorum,
		replicationFactor: cfg.ReplicationFactor,
		dialer:            cfg.Dialer,
		idempotency:       cfg.Idempotency,
		metrics:           cfg.Metrics,
		logger:            logger,
		wal:               cfg.WAL,
	}
}

// replicasFor resolves key's replica set into tenant-scoped
// quorum.Replica handles, with the local node itself represented by
// LocalReplica so quorum fan-out never leaves the process for a replica
// that happens to be self.
func (h *CacheHandler) replicasFor(tenantID, key string) []quorum.Replica {
	nodes := h.ring.GetReplicas(key, h.replicationFactor)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	self := NewLocalReplica(h.nodeID, tenantID, h.eng, h.wal)
	resolver := NewReplicaDialer(h.nodeID, self, tenantID, h.dialer)
	return resolver.Resolve(ids)
}

func (h *CacheHandler) Get(ctx context.Context, req *rpcpb.GetRequest) (*rpcpb.GetResponse, error) {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = TenantFromContext(ctx)
	}
	replicas := h.replicasFor(tenantID, req.Key)
	reply, err := h.quorumCoord.Read(ctx, replicas, req.Key)
	if err != nil {
		return nil, err
	}
	if h.metrics != nil {
		if reply.Found {
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	}
	return &rpcpb.GetResponse{
		Found:       reply.Found,
		Value:       reply.Value,
		Version:     reply.Version,
		TimestampMs: reply.TimestampMs,
	}, nil
}

func (h *CacheHandler) Set(ctx context.Context, req *rpcpb.SetRequest) (*rpcpb.SetResponse, error) {
	if req.Raw {
		// A rebalance migration landing an already-composite key on its
		// new owner: write straight to the local engine, skipping quorum
		// fan-out and tenant compositing since the key already carries
		// both.
		if h.wal != nil {
			if _, err := h.wal.Append(wal.Record{Kind: wal.KindSet, TimestampMs: time.Now().UnixMilli(), Key: req.Key, Value: req.Value, TTLSeconds: req.TTLSeconds}); err != nil {
				return &rpcpb.SetResponse{Success: false}, err
			}
		}
		entry, err := h.eng.Set(req.Key, req.Value, req.TTLSeconds)
		if err != nil {
			return &rpcpb.SetResponse{Success: false}, err
		}
		return &rpcpb.SetResponse{Success: true, Version: entry.Version}, nil
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = TenantFromContext(ctx)
	}

	if req.IdempotencyKey != "" && h.idempotency != nil {
		if cached, ok := h.idempotency.Get(tenantID, req.Key, req.IdempotencyKey); ok {
			return &rpcpb.SetResponse{Success: true, Version: cached.Version}, nil
		}
	}

	replicas := h.replicasFor(tenantID, req.Key)
	version, err := h.quorumCoord.Write(ctx, replicas, req.Key, req.Value, req.TTLSeconds)
	if err != nil {
		return &rpcpb.SetResponse{Success: false}, err
	}

	if req.IdempotencyKey != "" && h.idempotency != nil {
		h.idempotency.Store(tenantID, req.Key, req.IdempotencyKey, coordinator.IdempotencyResponse{Version: version})
	}
	if h.metrics != nil {
		h.metrics.UpdateCacheStats(h.eng.MemoryUsed(), int64(h.eng.Len()))
	}
	return &rpcpb.SetResponse{Success: true, Version: version}, nil
}

func (h *CacheHandler) Delete(ctx context.Context, req *rpcpb.DeleteRequest) (*rpcpb.DeleteResponse, error) {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = TenantFromContext(ctx)
	}
	nodes := h.ring.GetReplicas(req.Key, h.replicationFactor)
	self := NewLocalReplica(h.nodeID, tenantID, h.eng, h.wal)
	resolver := NewReplicaDialer(h.nodeID, self, tenantID, h.dialer)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	var existed bool
	for _, r := range resolver.Resolve(ids) {
		if r.NodeID() == h.nodeID {
			skey := storageKey(tenantID, req.Key)
			if h.wal != nil {
				if _, err := h.wal.Append(wal.Record{Kind: wal.KindDelete, TimestampMs: time.Now().UnixMilli(), Key: skey}); err != nil {
					return nil, err
				}
			}
			ok, err := h.eng.Delete(skey)
			if err != nil {
				return nil, err
			}
			existed = existed || ok
			continue
		}
		if client, err := h.dialer.CacheClient(r.NodeID()); err == nil {
			resp, err := client.Delete(ctx, &rpcpb.DeleteRequest{TenantID: tenantID, Key: req.Key})
			if err == nil && resp.Success {
				existed = true
			}
		}
	}
	return &rpcpb.DeleteResponse{Success: existed}, nil
}

func (h *CacheHandler) CAS(ctx context.Context, req *rpcpb.CASRequest) (*rpcpb.CASResponse, error) {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = TenantFromContext(ctx)
	}
	replicas := h.replicasFor(tenantID, req.Key)
	newVersion, mismatch, err := h.quorumCoord.CAS(ctx, replicas, req.Key, req.ExpectedVersion, req.NewValue, req.TTLSeconds)
	if h.metrics != nil && (err == nil || mismatch) {
		h.metrics.RecordCAS(mismatch)
	}
	if mismatch {
		return &rpcpb.CASResponse{Success: false, Error: casOutcomeVersionMismatch}, nil
	}
	if err != nil {
		return &rpcpb.CASResponse{Success: false, Error: err.Error()}, nil
	}
	return &rpcpb.CASResponse{Success: true, NewVersion: newVersion}, nil
}

func (h *CacheHandler) HealthCheck(context.Context, *rpcpb.HealthCheckRequest) (*rpcpb.HealthCheckResponse, error) {
	return &rpcpb.HealthCheckResponse{Status: rpcpb.Serving}, nil
}
