package rpc

import (
	"context"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/quorum"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/wal"
)

// casOutcome* mirror storage.CASOutcome on the wire, carried in
// CASResponse.Error since the hand-authored CASResponse has no separate
// outcome enum field.
const (
	casOutcomeKeyMissing      = "KEY_MISSING"
	casOutcomeKeyExpired      = "KEY_EXPIRED"
	casOutcomeVersionMismatch = "VERSION_MISMATCH"
)

// LocalReplica implements quorum.Replica directly over this node's own
// storage engine, so the quorum coordinator can address the local node
// the same way it addresses any peer when fanning a write or read out
// to N replicas, including the node serving the request.
type LocalReplica struct {
	nodeID   string
	tenantID string
	eng      *storage.Engine
	log      *wal.Log // nil disables durability logging (tests, ephemeral nodes)
}

// NewLocalReplica constructs a tenant-scoped local replica. A fresh
// instance is built per request since the tenant is only known once the
// interceptor chain has authenticated the caller.
func NewLocalReplica(nodeID, tenantID string, eng *storage.Engine, log *wal.Log) *LocalReplica {
	return &LocalReplica{nodeID: nodeID, tenantID: tenantID, eng: eng, log: log}
}

// appendWAL durably records a mutation ahead of applying it to the
// engine: a crash between the two leaves a record recovery can replay,
// never a value with no record of it.
func (r *LocalReplica) appendWAL(kind wal.RecordKind, key string, value []byte, ttlSeconds int32, expectedVersion int64) error {
	if r.log == nil {
		return nil
	}
	_, err := r.log.Append(wal.Record{
		Kind:            kind,
		TimestampMs:     time.Now().UnixMilli(),
		Key:             key,
		Value:           value,
		TTLSeconds:      ttlSeconds,
		ExpectedVersion: expectedVersion,
	})
	return err
}

func (r *LocalReplica) NodeID() string { return r.nodeID }

func (r *LocalReplica) storageKey(key string) string {
	return storageKey(r.tenantID, key)
}

func (r *LocalReplica) Get(_ context.Context, key string) (quorum.GetReply, error) {
	entry, found, err := r.eng.Get(r.storageKey(key))
	if err != nil || !found {
		return quorum.GetReply{}, err
	}
	return quorum.GetReply{
		Found:       true,
		Value:       entry.Value,
		Version:     entry.Version,
		TimestampMs: entry.ModifiedAtMs,
	}, nil
}

func (r *LocalReplica) Set(_ context.Context, key string, value []byte, ttlSeconds int32) (quorum.SetReply, error) {
	skey := r.storageKey(key)
	if err := r.appendWAL(wal.KindSet, skey, value, ttlSeconds, 0); err != nil {
		return quorum.SetReply{}, err
	}
	entry, err := r.eng.Set(skey, value, ttlSeconds)
	if err != nil {
		return quorum.SetReply{}, err
	}
	return quorum.SetReply{Success: true, Version: entry.Version}, nil
}

func (r *LocalReplica) CAS(_ context.Context, key string, expectedVersion int64, newValue []byte, ttlSeconds int32) (quorum.CASReply, error) {
	skey := r.storageKey(key)
	if err := r.appendWAL(wal.KindCAS, skey, newValue, ttlSeconds, expectedVersion); err != nil {
		return quorum.CASReply{}, err
	}
	entry, outcome, actual, err := r.eng.CAS(skey, expectedVersion, newValue, ttlSeconds)
	if err != nil {
		return quorum.CASReply{}, err
	}
	if outcome != storage.CASSuccess {
		return quorum.CASReply{VersionMismatch: outcome == storage.CASVersionMismatch, ActualVersion: actual}, nil
	}
	return quorum.CASReply{Success: true, NewVersion: entry.Version}, nil
}

// storageKey composes the engine's composite key: tenant plus business
// key, defaulting to the "default" tenant for callers that omit one
// (spec's supplemented multi-tenancy feature).
func storageKey(tenantID, key string) string {
	if tenantID == "" {
		tenantID = "default"
	}
	return tenantID + ":" + key
}
