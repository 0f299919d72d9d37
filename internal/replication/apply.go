package replication

import (
	"context"
	"fmt"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"go.uber.org/zap"
)

// Applier applies received replication entries to a local storage
// engine in order, preserving the sender's version and honoring the
// version-regression guard. It implements Follower so it can be driven
// directly by tests or wired behind an RPC handler in internal/rpc.
type Applier struct {
	nodeID string
	eng    *storage.Engine
	logger *zap.Logger
}

// NewApplier constructs an Applier bound to a local engine.
func NewApplier(nodeID string, eng *storage.Engine, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{nodeID: nodeID, eng: eng, logger: logger}
}

func (a *Applier) NodeID() string { return a.nodeID }

// ApplyBatch applies each entry in order. Per-entry failures (including
// version-regression rejections) are counted but do not abort the
// batch.
func (a *Applier) ApplyBatch(ctx context.Context, entries []Entry) (BatchResult, error) {
	var res BatchResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := a.applyOne(e); err != nil {
			res.Failed++
			a.logger.Debug("replication entry apply failed", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		res.Applied++
	}
	return res, nil
}

func (a *Applier) applyOne(e Entry) error {
	switch e.Op {
	case OpDelete:
		return a.eng.ApplyTombstone(e.Key)
	default:
		entry := &storage.Entry{
			Key:        e.Key,
			Value:      e.Value,
			TTLSeconds: e.TTLSeconds,
			Version:    e.Version,
		}
		applied, err := a.eng.ApplyReplicated(entry)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("replication: stale version %d for key %q", e.Version, e.Key)
		}
		return nil
	}
}
