package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(Config{Dir: dir, SegmentSize: 1 << 20, SyncEveryRecord: true}, "n1", nil)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 5; i++ {
		rec := Record{
			Kind:        KindSet,
			TimestampMs: int64(i),
			Key:         "k",
			Value:       []byte("v"),
			Version:     int64(i + 1),
		}
		_, err := log.Append(rec)
		require.NoError(t, err)
	}

	files, err := SegmentFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	records, err := ReadAll(files[0], nil)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		require.Equal(t, uint64(i+1), r.Sequence)
		require.Equal(t, int64(i+1), r.Version)
	}
}

func TestSequenceNumbersUniqueAndIncreasing(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(Config{Dir: dir, SegmentSize: 1 << 20}, "n1", nil)
	require.NoError(t, err)
	defer log.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		seq, err := log.Append(Record{Kind: KindSet, Key: "k", Value: []byte("v")})
		require.NoError(t, err)
		require.Greater(t, seq, last)
		last = seq
	}
	require.Equal(t, last, log.CurrentSequence())
}

func TestSequenceDoesNotAdvanceOnFailedAppend(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(Config{Dir: dir, SegmentSize: 1 << 20}, "n1", nil)
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append(Record{Kind: KindSet, Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	before := log.CurrentSequence()

	require.NoError(t, log.writer.Flush())
	require.NoError(t, log.file.Close())

	_, err = log.Append(Record{Kind: KindSet, Key: "k2", Value: []byte("v2")})
	require.Error(t, err)
	require.Equal(t, before, log.CurrentSequence())
}

func TestRotationCreatesNewSegmentOnSizeCap(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(Config{Dir: dir, SegmentSize: 64, SyncEveryRecord: false}, "n1", nil)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 20; i++ {
		rec := Record{Kind: KindSet, Key: "k", Value: []byte("some-value-bytes")}
		_, err := log.Append(rec)
		require.NoError(t, err)
	}

	files, err := SegmentFiles(dir)
	require.NoError(t, err)
	require.Greater(t, len(files), 1)
}

func TestRetentionPrunesOldestBeyondMaxFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(Config{Dir: dir, SegmentSize: 32, MaxFiles: 2}, "n1", nil)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 50; i++ {
		rec := Record{Kind: KindSet, Key: "k", Value: []byte("0123456789abcdef")}
		_, err := log.Append(rec)
		require.NoError(t, err)
	}

	files, err := SegmentFiles(dir)
	require.NoError(t, err)
	require.LessOrEqual(t, len(files), 2)
}

func TestTornTailStopsReplayWithoutError(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(Config{Dir: dir, SegmentSize: 1 << 20, SyncEveryRecord: true}, "n1", nil)
	require.NoError(t, err)

	rec := Record{Kind: KindSet, Key: "k", Value: []byte("v"), Version: 1}
	_, err = log.Append(rec)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	files, err := SegmentFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	path := files[0]

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	records, err := ReadAll(path, nil)
	require.NoError(t, err)
	require.Len(t, records, 0)
}
