package replication

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchResult reports per-entry outcomes of a follower ApplyBatch call.
type BatchResult struct {
	Applied int
	Failed  int
}

// Follower is the RPC contract the pipeline ships batches over. Concrete
// implementations live in internal/rpc; tests use a local in-memory
// stand-in.
type Follower interface {
	NodeID() string
	ApplyBatch(ctx context.Context, entries []Entry) (BatchResult, error)
}

// Dialer resolves a follower node ID to a live Follower connection.
type Dialer interface {
	Follower(nodeID string) (Follower, bool)
}

// Config controls the batching worker's size and time caps.
type Config struct {
	BatchSize     int
	BatchInterval time.Duration
	SendTimeout   time.Duration
}

// Pipeline drains a Queue in batches, groups by destination replica set,
// and ships each batch to its followers over a persistent connection.
type Pipeline struct {
	cfg    Config
	queue  *Queue
	dialer Dialer
	hints  *HintStore
	logger *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPipeline constructs a Pipeline. hints may be nil to disable hinted
// handoff for unreachable followers.
func NewPipeline(cfg Config, queue *Queue, dialer Dialer, hints *HintStore, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 50 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		queue:  queue,
		dialer: dialer,
		hints:  hints,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run drains the queue until Stop is called or ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		p.queue.Wait(p.cfg.BatchInterval)
		batch := p.drainBatch()
		if len(batch) == 0 {
			continue
		}
		p.sendBatch(ctx, batch)
	}
}

// drainBatch collects up to cfg.BatchSize entries, waiting no longer
// than cfg.BatchInterval for the queue to fill: whichever cap is hit
// first ends the batch.
func (p *Pipeline) drainBatch() []Entry {
	deadline := time.Now().Add(p.cfg.BatchInterval)
	var batch []Entry
	for len(batch) < p.cfg.BatchSize {
		remaining := p.cfg.BatchSize - len(batch)
		got := p.queue.DrainUpTo(remaining)
		if len(got) == 0 {
			if time.Now().After(deadline) {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}
		batch = append(batch, got...)
	}
	return batch
}

// destinationKey canonicalizes a replica set into a stable grouping key.
func destinationKey(nodeIDs []string) string {
	sorted := append([]string(nil), nodeIDs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// sendBatch groups entries by destination replica set and ships each
// group's followers a batch in parallel. A batch is acknowledged
// atomically per follower; partial per-entry failure inside a batch is
// counted as failure for the batch.
func (p *Pipeline) sendBatch(ctx context.Context, batch []Entry) {
	groups := make(map[string][]Entry)
	dests := make(map[string][]string)
	for _, e := range batch {
		k := destinationKey(e.Destination)
		groups[k] = append(groups[k], e)
		dests[k] = e.Destination
	}

	var wg sync.WaitGroup
	for k, entries := range groups {
		nodeIDs := dests[k]
		for _, nodeID := range nodeIDs {
			nodeID := nodeID
			entries := entries
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.sendToFollower(ctx, nodeID, entries)
			}()
		}
	}
	wg.Wait()
}

func (p *Pipeline) sendToFollower(ctx context.Context, nodeID string, entries []Entry) {
	follower, ok := p.dialer.Follower(nodeID)
	if !ok {
		p.hintAll(nodeID, entries)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	result, err := follower.ApplyBatch(sendCtx, entries)
	if err != nil {
		p.logger.Warn("replication batch send failed",
			zap.String("follower", nodeID), zap.Int("entries", len(entries)), zap.Error(err))
		p.hintAll(nodeID, entries)
		return
	}
	if result.Failed > 0 {
		p.logger.Warn("replication batch partially applied",
			zap.String("follower", nodeID), zap.Int("applied", result.Applied), zap.Int("failed", result.Failed))
	}
}

func (p *Pipeline) hintAll(nodeID string, entries []Entry) {
	if p.hints == nil {
		return
	}
	for _, e := range entries {
		p.hints.Store(nodeID, e)
	}
}

// Stop signals the run loop to exit and waits for it to finish.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	<-p.doneCh
}
