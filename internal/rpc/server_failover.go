package rpc

import (
	"context"

	"github.com/dSpringOnion/clidistcachelayer/internal/failover"
	"github.com/dSpringOnion/clidistcachelayer/internal/replication"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
)

// FailoverHandler implements rpcpb.FailoverServer, driving the failover
// manager and streaming a new primary's catchup backfill.
type FailoverHandler struct {
	rpcpb.UnimplementedFailoverServer

	manager  *failover.Manager
	eng      *storage.Engine
	tenantID func(context.Context) string
}

// NewFailoverHandler constructs a FailoverHandler.
func NewFailoverHandler(manager *failover.Manager, eng *storage.Engine) *FailoverHandler {
	return &FailoverHandler{manager: manager, eng: eng, tenantID: TenantFromContext}
}

func (h *FailoverHandler) InitiateFailover(_ context.Context, req *rpcpb.InitiateFailoverRequest) (*rpcpb.InitiateFailoverResponse, error) {
	f := h.manager.TriggerFailover(req.FailedNode)
	return &rpcpb.InitiateFailoverResponse{ID: f.ID}, nil
}

func (h *FailoverHandler) GetFailoverStatus(_ context.Context, req *rpcpb.FailoverStatusRequest) (*rpcpb.FailoverStatusResponse, error) {
	var records []failover.Failover
	if req.ID != "" {
		f, ok := h.manager.Get(req.ID)
		if !ok {
			return &rpcpb.FailoverStatusResponse{}, nil
		}
		records = []failover.Failover{f}
	} else {
		records = h.manager.List()
	}

	resp := &rpcpb.FailoverStatusResponse{Failovers: make([]rpcpb.FailoverRecord, 0, len(records))}
	for _, f := range records {
		resp.Failovers = append(resp.Failovers, rpcpb.FailoverRecord{
			ID:          f.ID,
			DeadNode:    f.DeadNode,
			NewPrimary:  f.NewPrimary,
			Status:      string(f.Status),
			StartedAtMs: f.StartedAt.UnixMilli(),
			Error:       f.Error,
		})
	}
	return resp, nil
}

func (h *FailoverHandler) Catchup(req *rpcpb.CatchupRequest, stream rpcpb.Failover_CatchupServer) error {
	tenantID := h.tenantID(stream.Context())
	wanted := make(map[string]bool, len(req.KeysOwned))
	for _, k := range req.KeysOwned {
		wanted[storageKey(tenantID, k)] = true
	}
	owns := func(key string) bool { return wanted[key] }
	sink := catchupStreamSink{stream: stream}
	_, err := replication.StreamCatchup(h.eng, owns, sink)
	return err
}

// catchupStreamSink adapts a Failover_CatchupServer to replication.Sink.
type catchupStreamSink struct {
	stream rpcpb.Failover_CatchupServer
}

func (s catchupStreamSink) Send(entry *storage.Entry) error {
	return s.stream.Send(&rpcpb.SyncEntry{
		Key:         entry.Key,
		Value:       entry.Value,
		TTLSeconds:  entry.TTLSeconds,
		Version:     entry.Version,
		CreatedAtMs: entry.CreatedAtMs,
	})
}
