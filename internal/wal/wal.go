// Package wal implements the write-ahead log: an append-only durable
// record of every mutation, with segment rotation, retention, and
// sequence-numbered replay for recovery. Records are framed as
// `[u32 len][header bytes]` then repeated `[u32 len][record bytes]`,
// ordered by a per-node monotone sequence counter rather than
// wall-clock time.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RecordKind tags the WAL record union.
type RecordKind uint8

const (
	KindSet RecordKind = iota + 1
	KindDelete
	KindCAS
)

const schemaVersion = 1

// Header is written once at the start of every WAL file.
type Header struct {
	LogID    int64
	CreateAt int64
	NodeID   string
	Schema   uint32
}

// Record is one WAL entry.
type Record struct {
	Kind            RecordKind
	Sequence        uint64
	TimestampMs     int64
	Key             string
	Value           []byte
	Version         int64
	TTLSeconds      int32
	ExpectedVersion int64 // CAS only
}

// Config controls WAL behavior.
type Config struct {
	Dir             string
	SegmentSize     int64
	SyncEveryRecord bool
	SyncBatchCount  int
	MaxFiles        int
}

// Log is the write-ahead log for a single node. Append is serialized by
// a mutex; concurrent writers contend here and batching amortizes cost.
type Log struct {
	cfg        Config
	nodeID     string
	logger     *zap.Logger
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	logID      int64
	sequence   uint64 // atomic, per-node monotone counter
	sinceSync  int
	truncateSeq uint64 // atomic, sequences <= this are covered by a snapshot
	files      []string // known segment paths, oldest first
}

// Open opens (or creates) the WAL directory and starts a fresh segment.
func Open(cfg Config, nodeID string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SyncBatchCount <= 0 {
		cfg.SyncBatchCount = 1
	}

	l := &Log{cfg: cfg, nodeID: nodeID, logger: logger}
	if err := l.rotateLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func segmentPath(dir string, logID int64) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%020d.log", logID))
}

// rotateLocked closes the current segment (if any) and opens a new one
// with a fresh id. Caller must hold l.mu.
func (l *Log) rotateLocked() error {
	if l.writer != nil {
		if err := l.writer.Flush(); err != nil {
			return fmt.Errorf("flush wal segment before rotation: %w", err)
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("close wal segment before rotation: %w", err)
		}
	}

	logID := time.Now().UnixNano()
	path := segmentPath(l.cfg.Dir, logID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open wal segment: %w", err)
	}

	hdr := Header{LogID: logID, CreateAt: time.Now().UnixMilli(), NodeID: l.nodeID, Schema: schemaVersion}
	buf := encodeHeader(hdr)
	if err := writeFramed(f, buf); err != nil {
		f.Close()
		return fmt.Errorf("write wal header: %w", err)
	}

	l.file = f
	l.writer = bufio.NewWriter(f)
	l.logID = logID
	l.sinceSync = 0
	l.files = append(l.files, path)
	l.pruneLocked()

	l.logger.Info("opened new wal segment", zap.String("path", path), zap.Int64("log_id", logID))
	return nil
}

// pruneLocked deletes the oldest segments beyond MaxFiles; the point
// recorded by Truncate is not consulted. Caller must hold l.mu.
func (l *Log) pruneLocked() {
	if l.cfg.MaxFiles > 0 {
		for len(l.files) > l.cfg.MaxFiles {
			victim := l.files[0]
			if victim == l.currentPath() {
				break
			}
			if err := os.Remove(victim); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("failed to remove old wal segment", zap.String("path", victim), zap.Error(err))
			}
			l.files = l.files[1:]
		}
	}
}

func (l *Log) currentPath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// CurrentSequence returns the last sequence number successfully
// recorded so far.
func (l *Log) CurrentSequence() uint64 {
	return atomic.LoadUint64(&l.sequence)
}

// Append assigns rec the next sequence number and writes it durably,
// returning the assigned sequence. Once Sync (implicit or explicit)
// returns, all preceding appends survive a crash. On I/O error the
// sequence counter is left untouched: the mutation fails visibly to the
// caller and no ghost record or skipped sequence number exists.
func (l *Log) Append(rec Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.sequence + 1
	rec.Sequence = seq

	data := encodeRecord(rec)
	if err := writeFramed(l.writer, data); err != nil {
		return 0, fmt.Errorf("append wal record: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("flush wal record: %w", err)
	}

	l.sinceSync++
	if l.cfg.SyncEveryRecord || l.sinceSync >= l.cfg.SyncBatchCount {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("sync wal segment: %w", err)
		}
		l.sinceSync = 0
	}

	atomic.StoreUint64(&l.sequence, seq)

	if fi, err := l.file.Stat(); err == nil && fi.Size() >= l.cfg.SegmentSize && l.cfg.SegmentSize > 0 {
		if err := l.rotateLocked(); err != nil {
			l.logger.Error("failed to rotate wal segment", zap.Error(err))
		}
	}
	return seq, nil
}

// Sync forces the current segment to durable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	l.sinceSync = 0
	return l.file.Sync()
}

// Truncate records that sequences <= seq are covered by a snapshot. It
// deletes nothing, and pruning does not read the recorded point:
// segments are removed only when they exceed MaxFiles.
func (l *Log) Truncate(seq uint64) {
	atomic.StoreUint64(&l.truncateSeq, seq)
}

// Close flushes and closes the active segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// ---- framing ----

func writeFramed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeHeader(h Header) []byte {
	nodeIDBytes := []byte(h.NodeID)
	buf := make([]byte, 0, 8+8+4+4+len(nodeIDBytes))
	buf = appendInt64(buf, h.LogID)
	buf = appendInt64(buf, h.CreateAt)
	buf = appendUint32(buf, h.Schema)
	buf = appendUint32(buf, uint32(len(nodeIDBytes)))
	buf = append(buf, nodeIDBytes...)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < 24 {
		return Header{}, fmt.Errorf("wal header too short")
	}
	var h Header
	h.LogID = int64(binary.BigEndian.Uint64(buf[0:8]))
	h.CreateAt = int64(binary.BigEndian.Uint64(buf[8:16]))
	h.Schema = binary.BigEndian.Uint32(buf[16:20])
	nodeLen := binary.BigEndian.Uint32(buf[20:24])
	if len(buf) < int(24+nodeLen) {
		return Header{}, fmt.Errorf("wal header truncated")
	}
	h.NodeID = string(buf[24 : 24+nodeLen])
	return h, nil
}

func encodeRecord(r Record) []byte {
	keyBytes := []byte(r.Key)
	buf := make([]byte, 0, 64+len(keyBytes)+len(r.Value))
	buf = append(buf, byte(r.Kind))
	buf = appendUint64(buf, r.Sequence)
	buf = appendInt64(buf, r.TimestampMs)
	buf = appendUint32(buf, uint32(len(keyBytes)))
	buf = append(buf, keyBytes...)
	buf = appendUint32(buf, uint32(len(r.Value)))
	buf = append(buf, r.Value...)
	buf = appendInt64(buf, r.Version)
	buf = appendInt32(buf, r.TTLSeconds)
	buf = appendInt64(buf, r.ExpectedVersion)
	return buf
}

func decodeRecord(buf []byte) (Record, error) {
	var r Record
	if len(buf) < 1+8+8+4 {
		return r, fmt.Errorf("wal record too short")
	}
	off := 0
	r.Kind = RecordKind(buf[off])
	off++
	r.Sequence = binary.BigEndian.Uint64(buf[off:])
	off += 8
	r.TimestampMs = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	keyLen := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if len(buf) < off+int(keyLen) {
		return r, fmt.Errorf("wal record key truncated")
	}
	r.Key = string(buf[off : off+int(keyLen)])
	off += int(keyLen)

	if len(buf) < off+4 {
		return r, fmt.Errorf("wal record missing value length")
	}
	valLen := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if len(buf) < off+int(valLen) {
		return r, fmt.Errorf("wal record value truncated")
	}
	r.Value = append([]byte(nil), buf[off:off+int(valLen)]...)
	off += int(valLen)

	if len(buf) < off+8+4+8 {
		return r, fmt.Errorf("wal record trailer truncated")
	}
	r.Version = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	r.TTLSeconds = int32(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	r.ExpectedVersion = int64(binary.BigEndian.Uint64(buf[off:]))
	return r, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}

// ---- replay ----

// SegmentFiles enumerates known WAL segment files in dir, sorted by
// filename (which sorts by creation order given the zero-padded id).
func SegmentFiles(dir string) ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

// ReadAll parses every record in a single WAL file. A torn last record
// (partial tail) stops replay at the last fully-parseable record; it is
// not an error.
func ReadAll(path string, logger *zap.Logger) ([]Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	if _, err := readFramed(r); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read wal header from %s: %w", path, err)
	}

	var records []Record
	for {
		raw, err := readFramed(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if err == io.ErrUnexpectedEOF {
					logger.Warn("torn wal record at tail, stopping replay", zap.String("file", path))
				}
				break
			}
			return records, fmt.Errorf("read wal record from %s: %w", path, err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			logger.Warn("torn wal record could not be decoded, stopping replay", zap.String("file", path), zap.Error(err))
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// MaxSequence returns the highest sequence number found in records.
func MaxSequence(records []Record) uint64 {
	var max uint64
	for _, r := range records {
		if r.Sequence > max {
			max = r.Sequence
		}
	}
	return max
}
