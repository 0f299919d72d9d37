// Package snapshot implements the point-in-time dump of engine contents
// and the two-step recovery procedure (snapshot load + WAL tail
// replay), using length-prefixed binary framing with one CRC32 checksum
// over the whole body, kept in the snapshot's .meta.json file.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
)

const magicLine = "DISTCACHE_SNAPSHOT_V1"

// Meta describes one snapshot.
type Meta struct {
	ID         string `json:"id"`
	NodeID     string `json:"node_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	KeyCount   int64  `json:"key_count"`
	TotalBytes int64  `json:"total_bytes"`
	Checksum   uint32 `json:"checksum"`
}

func dataPath(dir, id string) string { return filepath.Join(dir, id+".snapshot") }
func metaPath(dir, id string) string { return filepath.Join(dir, id+".meta.json") }
func tempPath(p string) string       { return p + ".tmp" }

// Write dumps every non-expired entry in eng to a new snapshot under
// dir, atomically. It returns the resulting metadata.
func Write(dir, nodeID string, eng *storage.Engine) (Meta, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("create snapshot directory: %w", err)
	}

	id := fmt.Sprintf("snap-%020d", time.Now().UnixNano())
	dp := dataPath(dir, id)
	mp := metaPath(dir, id)
	dpTmp := tempPath(dp)

	f, err := os.OpenFile(dpTmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Meta{}, fmt.Errorf("create snapshot temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(bw, crc)

	// Collect entries first so the text-line entry count header (spec
	// §6) can be written before the tuples.
	var entries []*storage.Entry
	eng.ForEach(func(e *storage.Entry) bool {
		entries = append(entries, e)
		return true
	})

	var writeErr error
	if _, err := fmt.Fprintf(mw, "%s\n", magicLine); err != nil {
		writeErr = err
	}
	if writeErr == nil {
		if _, err := fmt.Fprintf(mw, "%s\n", id); err != nil {
			writeErr = err
		}
	}
	if writeErr == nil {
		if _, err := fmt.Fprintf(mw, "%d\n", len(entries)); err != nil {
			writeErr = err
		}
	}

	keyCount := int64(0)
	if writeErr == nil {
		for _, e := range entries {
			if err := writeTuple(mw, e); err != nil {
				writeErr = err
				break
			}
			keyCount++
		}
	}

	if writeErr == nil {
		writeErr = bw.Flush()
	}
	if writeErr == nil {
		writeErr = f.Sync()
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(dpTmp)
		return Meta{}, fmt.Errorf("write snapshot body: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(dpTmp)
		return Meta{}, fmt.Errorf("close snapshot temp file: %w", closeErr)
	}

	info, err := os.Stat(dpTmp)
	if err != nil {
		os.Remove(dpTmp)
		return Meta{}, fmt.Errorf("stat snapshot temp file: %w", err)
	}

	meta := Meta{
		ID:          id,
		NodeID:      nodeID,
		TimestampMs: time.Now().UnixMilli(),
		KeyCount:    keyCount,
		TotalBytes:  info.Size(),
		Checksum:    crc.Sum32(),
	}

	// Rename the body into place first, then write metadata: readers
	// only ever see files under their final name, so no torn file is
	// ever visible.
	if err := os.Rename(dpTmp, dp); err != nil {
		os.Remove(dpTmp)
		return Meta{}, fmt.Errorf("rename snapshot body into place: %w", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("marshal snapshot metadata: %w", err)
	}
	mpTmp := tempPath(mp)
	if err := os.WriteFile(mpTmp, metaBytes, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write snapshot metadata temp file: %w", err)
	}
	if err := os.Rename(mpTmp, mp); err != nil {
		return Meta{}, fmt.Errorf("rename snapshot metadata into place: %w", err)
	}

	return meta, nil
}

func writeTuple(w io.Writer, e *storage.Entry) error {
	if err := writeLenPrefixed(w, []byte(e.Key)); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, e.Value); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, e.TTLSeconds); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, e.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, e.CreatedAtMs); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, e.ExpiresAtMs); err != nil {
		return err
	}
	return nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Tuple is one restored (key, value, ttl, version, created_at, expires_at).
type Tuple struct {
	Key         string
	Value       []byte
	TTLSeconds  int32
	Version     int64
	CreatedAtMs int64
	ExpiresAtMs int64
}

// ReadBody parses the length-prefixed tuples in a snapshot data file,
// verifying the checksum against meta.Checksum.
func ReadBody(dir string, meta Meta) ([]Tuple, error) {
	dp := dataPath(dir, meta.ID)
	f, err := os.Open(dp)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	crc := crc32.NewIEEE()
	buffered := bufio.NewReader(f)
	r := io.TeeReader(buffered, crc)

	magic, err := readTextLine(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot magic line: %w", err)
	}
	if magic != magicLine {
		return nil, fmt.Errorf("snapshot %s has unexpected magic line %q", meta.ID, magic)
	}
	if _, err := readTextLine(r); err != nil { // snapshot id line
		return nil, fmt.Errorf("read snapshot id line: %w", err)
	}
	countLine, err := readTextLine(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot count line: %w", err)
	}
	var entryCount int64
	if _, err := fmt.Sscanf(countLine, "%d", &entryCount); err != nil {
		return nil, fmt.Errorf("parse snapshot entry count %q: %w", countLine, err)
	}

	tuples := make([]Tuple, 0, entryCount)
	for i := int64(0); i < entryCount; i++ {
		t, err := readTuple(r)
		if err != nil {
			return nil, fmt.Errorf("read snapshot tuple %d: %w", i, err)
		}
		tuples = append(tuples, t)
	}

	if crc.Sum32() != meta.Checksum {
		return nil, fmt.Errorf("snapshot %s checksum mismatch: expected %d, got %d", meta.ID, meta.Checksum, crc.Sum32())
	}
	return tuples, nil
}

func readTuple(r io.Reader) (Tuple, error) {
	var t Tuple
	key, err := readLenPrefixed(r)
	if err != nil {
		return t, err
	}
	t.Key = string(key)

	val, err := readLenPrefixed(r)
	if err != nil {
		return t, err
	}
	t.Value = val

	if err := binary.Read(r, binary.BigEndian, &t.TTLSeconds); err != nil {
		return t, err
	}
	if err := binary.Read(r, binary.BigEndian, &t.Version); err != nil {
		return t, err
	}
	if err := binary.Read(r, binary.BigEndian, &t.CreatedAtMs); err != nil {
		return t, err
	}
	if err := binary.Read(r, binary.BigEndian, &t.ExpiresAtMs); err != nil {
		return t, err
	}
	return t, nil
}

// readTextLine reads bytes one at a time up to and including '\n' so
// that the running checksum reader stays byte-aligned with the writer
// (a buffered ReadString would over-read past the text header into the
// binary tuple section).
func readTextLine(r io.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ListMeta returns all snapshot metadata in dir, sorted by timestamp
// descending (newest first).
func ListMeta(dir string) ([]Meta, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.meta.json"))
	if err != nil {
		return nil, err
	}
	metas := make([]Meta, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var m Meta
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].TimestampMs > metas[j].TimestampMs })
	return metas, nil
}

// Prune deletes snapshots beyond the newest retainCount.
func Prune(dir string, retainCount int) error {
	metas, err := ListMeta(dir)
	if err != nil {
		return err
	}
	if len(metas) <= retainCount {
		return nil
	}
	for _, m := range metas[retainCount:] {
		os.Remove(dataPath(dir, m.ID))
		os.Remove(metaPath(dir, m.ID))
	}
	return nil
}
