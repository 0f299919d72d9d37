package snapshot

import (
	"context"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/wal"
	"go.uber.org/zap"
)

// Store runs the periodic background snapshotting task and retention
// pass.
type Store struct {
	dir         string
	nodeID      string
	interval    time.Duration
	retainCount int
	eng         *storage.Engine
	log         *wal.Log
	logger      *zap.Logger
	stopChan    chan struct{}
	doneChan    chan struct{}
}

// NewStore constructs a snapshot store. log may be nil if the caller
// does not want the WAL truncated after each snapshot.
func NewStore(dir, nodeID string, interval time.Duration, retainCount int, eng *storage.Engine, log *wal.Log, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:         dir,
		nodeID:      nodeID,
		interval:    interval,
		retainCount: retainCount,
		eng:         eng,
		log:         log,
		logger:      logger,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Run starts the periodic snapshot loop. It polls the stop flag at
// least once per outer loop and returns when Stop is called or ctx is
// canceled.
func (s *Store) Run(ctx context.Context) {
	defer close(s.doneChan)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshotOnce(coveredSequence(s.log))
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func coveredSequence(log *wal.Log) uint64 {
	if log == nil {
		return 0
	}
	return log.CurrentSequence()
}

func (s *Store) snapshotOnce(walSeqCovered uint64) {
	meta, err := Write(s.dir, s.nodeID, s.eng)
	if err != nil {
		s.logger.Error("snapshot failed", zap.Error(err))
		return
	}
	s.logger.Info("snapshot written", zap.String("snapshot_id", meta.ID), zap.Int64("keys", meta.KeyCount))

	if err := Prune(s.dir, s.retainCount); err != nil {
		s.logger.Warn("snapshot retention prune failed", zap.Error(err))
	}
	if s.log != nil {
		s.log.Truncate(walSeqCovered)
	}
}

// SnapshotNow forces an immediate snapshot outside the periodic
// schedule.
func (s *Store) SnapshotNow() (Meta, error) {
	return Write(s.dir, s.nodeID, s.eng)
}

// Stop signals the run loop to exit and waits for it to finish.
func (s *Store) Stop() {
	close(s.stopChan)
	<-s.doneChan
}
