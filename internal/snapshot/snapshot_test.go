package snapshot

import (
	"fmt"
	"testing"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/wal"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadBodyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	eng := storage.NewEngine("n1", 8, 1<<30, nil)
	for i := 0; i < 50; i++ {
		_, err := eng.Set(keyFor(i), []byte("value"), 0)
		require.NoError(t, err)
	}

	meta, err := Write(dir, "n1", eng)
	require.NoError(t, err)
	require.EqualValues(t, 50, meta.KeyCount)

	tuples, err := ReadBody(dir, meta)
	require.NoError(t, err)
	require.Len(t, tuples, 50)
}

func TestSnapshotChecksumMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	eng := storage.NewEngine("n1", 8, 1<<30, nil)
	_, err := eng.Set("k", []byte("v"), 0)
	require.NoError(t, err)

	meta, err := Write(dir, "n1", eng)
	require.NoError(t, err)

	meta.Checksum ^= 0xFFFFFFFF
	_, err = ReadBody(dir, meta)
	require.Error(t, err)
}

func TestRetentionPrunesOldestSnapshots(t *testing.T) {
	dir := t.TempDir()
	eng := storage.NewEngine("n1", 8, 1<<30, nil)
	_, err := eng.Set("k", []byte("v"), 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := Write(dir, "n1", eng)
		require.NoError(t, err)
	}

	require.NoError(t, Prune(dir, 2))

	metas, err := ListMeta(dir)
	require.NoError(t, err)
	require.Len(t, metas, 2)
}

func TestRecoverRoundTripsThroughSnapshotAndWAL(t *testing.T) {
	snapDir := t.TempDir()
	walDir := t.TempDir()

	eng := storage.NewEngine("n1", 8, 1<<30, nil)
	log, err := wal.Open(wal.Config{Dir: walDir, SegmentSize: 1 << 20, SyncEveryRecord: true}, "n1", nil)
	require.NoError(t, err)

	for i := 0; i < 10000; i++ {
		key := keyFor(i)
		_, err := eng.Set(key, []byte("v"), 0)
		require.NoError(t, err)
		_, err = log.Append(wal.Record{Kind: wal.KindSet, Key: key, Value: []byte("v"), Version: 1})
		require.NoError(t, err)
	}

	_, err = Write(snapDir, "n1", eng)
	require.NoError(t, err)

	for i := 10000; i < 10100; i++ {
		key := keyFor(i)
		_, err := log.Append(wal.Record{Kind: wal.KindSet, Key: key, Value: []byte("v"), Version: 1})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	restored := storage.NewEngine("n1", 8, 1<<30, nil)
	_, err = Recover(snapDir, walDir, restored, nil)
	require.NoError(t, err)
	require.Equal(t, 10100, restored.Len())
}

func keyFor(i int) string {
	return fmt.Sprintf("key-%d", i)
}
