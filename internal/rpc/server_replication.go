package rpc

import (
	"context"

	"github.com/dSpringOnion/clidistcachelayer/internal/replication"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
)

// ReplicationHandler implements rpcpb.ReplicationServer, applying
// incoming batches to the local engine and streaming catchup entries
// back to a rejoining follower.
type ReplicationHandler struct {
	rpcpb.UnimplementedReplicationServer

	applier  *replication.Applier
	eng      *storage.Engine
	tenantID func(context.Context) string
}

// NewReplicationHandler constructs a ReplicationHandler.
func NewReplicationHandler(applier *replication.Applier, eng *storage.Engine) *ReplicationHandler {
	return &ReplicationHandler{applier: applier, eng: eng, tenantID: TenantFromContext}
}

func (h *ReplicationHandler) Replicate(ctx context.Context, req *rpcpb.ReplicateRequest) (*rpcpb.ReplicateResponse, error) {
	tenantID := h.tenantID(ctx)
	entries := make([]replication.Entry, 0, len(req.Entries))
	var lastTs int64
	for _, e := range req.Entries {
		op := replication.OpSet
		if e.Op == "DELETE" {
			op = replication.OpDelete
		}
		key := e.Key
		if e.TenantID != "" {
			tenantID = e.TenantID
		}
		entries = append(entries, replication.Entry{
			Op:         op,
			Key:        storageKey(tenantID, key),
			Value:      e.Value,
			TTLSeconds: e.TTLSeconds,
			Version:    e.Version,
			EnqueuedMs: e.EnqueuedMs,
		})
		if e.EnqueuedMs > lastTs {
			lastTs = e.EnqueuedMs
		}
	}

	result, err := h.applier.ApplyBatch(ctx, entries)
	if err != nil {
		return &rpcpb.ReplicateResponse{Success: false, Error: err.Error()}, nil
	}
	return &rpcpb.ReplicateResponse{
		Success:              result.Failed == 0,
		LastAppliedTimestamp: lastTs,
	}, nil
}

func (h *ReplicationHandler) Sync(req *rpcpb.SyncRequest, stream rpcpb.Replication_SyncServer) error {
	tenantID := h.tenantID(stream.Context())
	wanted := make(map[string]bool, len(req.KeysToSync))
	for _, k := range req.KeysToSync {
		wanted[storageKey(tenantID, k)] = true
	}
	owns := func(key string) bool { return wanted[key] }
	sink := streamSink{stream: stream}
	_, err := replication.StreamCatchup(h.eng, owns, sink)
	return err
}

// streamSink adapts a Replication_SyncServer to replication.Sink.
type streamSink struct {
	stream rpcpb.Replication_SyncServer
}

func (s streamSink) Send(entry *storage.Entry) error {
	return s.stream.Send(&rpcpb.SyncEntry{
		Key:         entry.Key,
		Value:       entry.Value,
		TTLSeconds:  entry.TTLSeconds,
		Version:     entry.Version,
		CreatedAtMs: entry.CreatedAtMs,
	})
}
