package replication

import (
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
)

// Sink receives entries streamed during catchup.
type Sink interface {
	Send(entry *storage.Entry) error
}

// StreamCatchup enumerates eng for every key owns reports true for and
// writes it to sink, in engine iteration order. A rejoining follower
// calls this against a peer that already owns the range to backfill
// itself before resuming normal replication.
func StreamCatchup(eng *storage.Engine, owns func(key string) bool, sink Sink) (int, error) {
	var sent int
	var streamErr error
	eng.ForEach(func(e *storage.Entry) bool {
		if !owns(e.Key) {
			return true
		}
		if err := sink.Send(e); err != nil {
			streamErr = err
			return false
		}
		sent++
		return true
	})
	return sent, streamErr
}
