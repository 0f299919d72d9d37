// Package quorum implements a quorum coordinator overlay: explicit W/R
// strong-read/write thresholds layered over a key's N replicas, with
// read-repair.
package quorum

import (
	"context"
	"fmt"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/errs"
	"go.uber.org/zap"
)

// GetReply is one replica's response to a quorum read.
type GetReply struct {
	Found       bool
	Value       []byte
	Version     int64
	TimestampMs int64
}

// SetReply is one replica's response to a quorum write.
type SetReply struct {
	Success bool
	Version int64
}

// CASReply is one replica's response to a quorum CAS.
type CASReply struct {
	Success         bool
	NewVersion      int64
	VersionMismatch bool
	ActualVersion   int64
}

// Replica is the per-replica RPC contract the quorum coordinator fans
// requests out over. Concrete implementations live in internal/rpc.
type Replica interface {
	NodeID() string
	Get(ctx context.Context, key string) (GetReply, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int32) (SetReply, error)
	CAS(ctx context.Context, key string, expectedVersion int64, newValue []byte, ttlSeconds int32) (CASReply, error)
}

// Config controls quorum thresholds and the read-repair fan-out cap.
type Config struct {
	W                    int
	R                    int
	Deadline             time.Duration
	ReadRepairConcurrency int

	// OnWriteFailure, if set, is invoked once per replica whose Set call
	// erred or reported failure, after the write's overall outcome is
	// otherwise unaffected by it. Node wiring uses this to feed hinted
	// handoff (spec's supplemented feature) for replicas that missed a
	// write W already tolerated. ctx is the call's original context, so
	// the hook can recover request-scoped values like tenant id.
	OnWriteFailure func(ctx context.Context, replica Replica, key string, value []byte, ttlSeconds int32)
}

// Coordinator overlays W/R semantics on top of a caller-supplied set of
// replicas per key.
type Coordinator struct {
	cfg          Config
	logger       *zap.Logger
	repairTokens chan struct{}
}

// New constructs a Coordinator. When W+R > N (N being the number of
// replicas passed to each call), any read quorum overlaps any write
// quorum on at least one replica, giving linearizable single-key reads
// after a successful write.
func New(cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.ReadRepairConcurrency <= 0 {
		cfg.ReadRepairConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, logger: logger, repairTokens: make(chan struct{}, cfg.ReadRepairConcurrency)}
}

// QuorumFailure carries per-replica errors when W or R was not achieved
// by the deadline.
type QuorumFailure struct {
	Required int
	Achieved int
	Errors   []error
}

func (f *QuorumFailure) Error() string {
	return fmt.Sprintf("quorum not achieved: required %d, achieved %d (%d errors)", f.Required, f.Achieved, len(f.Errors))
}

// Write sends the write in parallel to all replicas, waits up to
// cfg.Deadline, and succeeds iff at least W acknowledged. It returns the
// highest version observed across acks.
func (c *Coordinator) Write(ctx context.Context, replicas []Replica, key string, value []byte, ttlSeconds int32) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	type result struct {
		replica Replica
		reply   SetReply
		err     error
	}
	results := make(chan result, len(replicas))
	for _, r := range replicas {
		r := r
		go func() {
			reply, err := r.Set(ctx, key, value, ttlSeconds)
			results <- result{r, reply, err}
		}()
	}

	var successes int
	var highest int64
	var errsList []error
	for i := 0; i < len(replicas); i++ {
		select {
		case res := <-results:
			if res.err != nil {
				errsList = append(errsList, res.err)
				if c.cfg.OnWriteFailure != nil {
					c.cfg.OnWriteFailure(ctx, res.replica, key, value, ttlSeconds)
				}
				continue
			}
			if res.reply.Success {
				successes++
				if res.reply.Version > highest {
					highest = res.reply.Version
				}
			} else if c.cfg.OnWriteFailure != nil {
				c.cfg.OnWriteFailure(ctx, res.replica, key, value, ttlSeconds)
			}
		case <-ctx.Done():
			errsList = append(errsList, ctx.Err())
		}
	}

	if successes < c.cfg.W {
		return 0, &QuorumFailure{Required: c.cfg.W, Achieved: successes, Errors: errsList}
	}
	return highest, nil
}

// Read sends the read in parallel to all replicas, waits up to
// cfg.Deadline, and once at least R have responded selects the reply
// with the highest (version, timestamp) as canonical. Stale replicas are
// repaired asynchronously, best-effort, uncounted against the deadline.
func (c *Coordinator) Read(ctx context.Context, replicas []Replica, key string) (GetReply, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	results := make(chan readResult, len(replicas))
	for _, r := range replicas {
		r := r
		go func() {
			reply, err := r.Get(deadlineCtx, key)
			results <- readResult{r, reply, err}
		}()
	}

	var responses []readResult
	var errsList []error
	for i := 0; i < len(replicas); i++ {
		select {
		case res := <-results:
			if res.err != nil {
				errsList = append(errsList, res.err)
				continue
			}
			responses = append(responses, res)
		case <-deadlineCtx.Done():
			errsList = append(errsList, deadlineCtx.Err())
		}
	}

	if len(responses) < c.cfg.R {
		return GetReply{}, &QuorumFailure{Required: c.cfg.R, Achieved: len(responses), Errors: errsList}
	}

	best := selectCanonical(responses)
	c.readRepair(key, responses, best)
	return best.reply, nil
}

// readResult is one replica's response to a quorum read, paired with the
// replica it came from so read-repair knows where to send fixes.
type readResult struct {
	replica Replica
	reply   GetReply
	err     error
}

func selectCanonical(responses []readResult) readResult {
	best := responses[0]
	for _, r := range responses[1:] {
		if !r.reply.Found {
			continue
		}
		if !best.reply.Found ||
			r.reply.Version > best.reply.Version ||
			(r.reply.Version == best.reply.Version && r.reply.TimestampMs > best.reply.TimestampMs) {
			best = r
		}
	}
	return best
}

// readRepair issues best-effort SETs to any replica whose returned
// version is lower than the canonical one. It is fire-and-forget: it
// must not extend the caller's deadline and must not block shutdown
// indefinitely, so it uses a bounded token pool and a fresh
// background-derived context rather than the caller's.
func (c *Coordinator) readRepair(key string, responses []readResult, canonical readResult) {
	if !canonical.reply.Found {
		return
	}
	for _, r := range responses {
		if r.reply.Version >= canonical.reply.Version {
			continue
		}
		r := r
		select {
		case c.repairTokens <- struct{}{}:
		default:
			c.logger.Debug("read-repair concurrency cap reached, skipping", zap.String("key", key), zap.String("node", r.replica.NodeID()))
			continue
		}
		go func() {
			defer func() { <-c.repairTokens }()
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Deadline)
			defer cancel()
			if _, err := r.replica.Set(ctx, key, canonical.reply.Value, 0); err != nil {
				c.logger.Warn("read-repair failed", zap.String("key", key), zap.String("node", r.replica.NodeID()), zap.Error(err))
			}
		}()
	}
}

// CAS runs a parallel CAS at each replica with the same expected
// version. Success requires W successes and no replica reporting a
// version mismatch; any mismatch fails the whole operation regardless
// of how many succeeded.
func (c *Coordinator) CAS(ctx context.Context, replicas []Replica, key string, expectedVersion int64, newValue []byte, ttlSeconds int32) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	type result struct {
		reply CASReply
		err   error
	}
	results := make(chan result, len(replicas))
	for _, r := range replicas {
		r := r
		go func() {
			reply, err := r.CAS(ctx, key, expectedVersion, newValue, ttlSeconds)
			results <- result{reply, err}
		}()
	}

	var successes int
	var mismatch bool
	var highest int64
	var errsList []error
	for i := 0; i < len(replicas); i++ {
		select {
		case res := <-results:
			if res.err != nil {
				errsList = append(errsList, res.err)
				continue
			}
			if res.reply.VersionMismatch {
				mismatch = true
			}
			if res.reply.Success {
				successes++
				if res.reply.NewVersion > highest {
					highest = res.reply.NewVersion
				}
			}
		case <-ctx.Done():
			errsList = append(errsList, ctx.Err())
		}
	}

	if mismatch {
		return 0, true, errs.Abortedf("cas version mismatch on at least one replica for key %q", key)
	}
	if successes < c.cfg.W {
		return 0, false, &QuorumFailure{Required: c.cfg.W, Achieved: successes, Errors: errsList}
	}
	return highest, false, nil
}
