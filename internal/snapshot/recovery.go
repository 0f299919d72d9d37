package snapshot

import (
	"fmt"
	"sort"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/wal"
	"go.uber.org/zap"
)

// Recover runs exactly once at node start, before serving requests: it
// loads the newest validating snapshot, then replays every WAL record
// over it, into eng. Snapshots do not record which WAL sequence they
// cover, so records already reflected in the snapshot are replayed
// again rather than skipped. It is idempotent — running it
// twice against the same on-disk state yields the same engine state,
// since Set/Delete/CAS-as-SET replay is itself idempotent per key given
// the same sequence of records.
func Recover(snapshotDir, walDir string, eng *storage.Engine, logger *zap.Logger) (uint64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	coveredSeq, err := loadNewestValidSnapshot(snapshotDir, eng, logger)
	if err != nil {
		return 0, err
	}

	replayed, maxSeq, err := replayWAL(walDir, coveredSeq, eng, logger)
	if err != nil {
		return 0, err
	}

	logger.Info("recovery complete",
		zap.Uint64("snapshot_covered_seq", coveredSeq),
		zap.Int("wal_records_replayed", replayed),
		zap.Uint64("max_sequence_seen", maxSeq))

	if maxSeq > coveredSeq {
		return maxSeq, nil
	}
	return coveredSeq, nil
}

// loadNewestValidSnapshot restores the newest snapshot whose checksum
// validates. Falls back to the next-newest on a checksum failure; if
// none validate, starts empty and logs a warning.
func loadNewestValidSnapshot(dir string, eng *storage.Engine, logger *zap.Logger) (uint64, error) {
	metas, err := ListMeta(dir)
	if err != nil {
		return 0, fmt.Errorf("list snapshot metadata: %w", err)
	}

	for _, m := range metas {
		tuples, err := ReadBody(dir, m)
		if err != nil {
			logger.Warn("snapshot failed validation, trying next-newest", zap.String("snapshot_id", m.ID), zap.Error(err))
			continue
		}
		for _, t := range tuples {
			if _, err := eng.Set(t.Key, t.Value, t.TTLSeconds); err != nil {
				logger.Warn("failed to restore snapshot entry", zap.String("key", t.Key), zap.Error(err))
				continue
			}
		}
		logger.Info("restored snapshot", zap.String("snapshot_id", m.ID), zap.Int64("keys", m.KeyCount))
		return snapshotCoveredSequence(m), nil
	}

	logger.Warn("no valid snapshot found, starting empty")
	return 0, nil
}

// snapshotCoveredSequence maps a snapshot's metadata to the WAL sequence
// number it covers. Meta carries no such sequence, so it always returns
// 0 and replayWAL applies every record, in sequence order, with plain
// Set/Delete over the restored snapshot.
func snapshotCoveredSequence(Meta) uint64 {
	return 0
}

// replayWAL parses every WAL file, drops records covered by the
// snapshot, sorts survivors by sequence, and applies them in order.
func replayWAL(dir string, coveredSeq uint64, eng *storage.Engine, logger *zap.Logger) (int, uint64, error) {
	files, err := wal.SegmentFiles(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("list wal segments: %w", err)
	}

	var all []wal.Record
	for _, f := range files {
		records, err := wal.ReadAll(f, logger)
		if err != nil {
			logger.Warn("failed to read wal segment during recovery", zap.String("file", f), zap.Error(err))
			continue
		}
		all = append(all, records...)
	}

	survivors := make([]wal.Record, 0, len(all))
	for _, r := range all {
		if r.Sequence > coveredSeq {
			survivors = append(survivors, r)
		}
	}
	sortRecordsBySequence(survivors)

	var maxSeq uint64
	for _, r := range survivors {
		if r.Sequence > maxSeq {
			maxSeq = r.Sequence
		}
		switch r.Kind {
		case wal.KindSet:
			if _, err := eng.Set(r.Key, r.Value, r.TTLSeconds); err != nil {
				logger.Warn("failed to replay SET", zap.String("key", r.Key), zap.Error(err))
			}
		case wal.KindDelete:
			if _, err := eng.Delete(r.Key); err != nil {
				logger.Warn("failed to replay DELETE", zap.String("key", r.Key), zap.Error(err))
			}
		case wal.KindCAS:
			// A logged CAS record is, by definition, one that already
			// succeeded; replay it as a plain SET rather than
			// re-evaluating the expected-version check.
			if _, err := eng.Set(r.Key, r.Value, r.TTLSeconds); err != nil {
				logger.Warn("failed to replay CAS-as-SET", zap.String("key", r.Key), zap.Error(err))
			}
		}
	}
	return len(survivors), maxSeq, nil
}

func sortRecordsBySequence(records []wal.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
}
