package rebalance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/util/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

// Target is the subset of a remote node the orchestrator needs to push a
// migrated key onto its new owner.
type Target interface {
	NodeID() string
	Set(ctx context.Context, entry *storage.Entry) error
}

// Dialer resolves a node id to a Target.
type Dialer interface {
	Target(nodeID string) (Target, bool)
}

// LocalStore is the subset of the storage engine the orchestrator reads
// and deletes from during migration.
type LocalStore interface {
	Get(key string) (*storage.Entry, bool, error)
	Delete(key string) (bool, error)
	ForEach(fn func(*storage.Entry) bool)
}

// Config controls batching and concurrency.
type Config struct {
	BatchSize     int
	MaxConcurrent int
	RetentionAge  time.Duration
}

// Orchestrator plans and executes key migrations driven by ring
// changes.
type Orchestrator struct {
	cfg    Config
	local  LocalStore
	dialer Dialer
	logger *zap.Logger
	pool   *workerpool.Pool

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	job       Job
	startedAt time.Time
	cancel    context.CancelFunc
}

// New constructs an Orchestrator backed by a bounded worker pool sized
// to cfg.MaxConcurrent.
func New(cfg Config, local LocalStore, dialer Dialer, logger *zap.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		local:  local,
		dialer: dialer,
		logger: logger,
		pool: workerpool.New(workerpool.Config{
			Name:       "rebalance",
			MaxWorkers: cfg.MaxConcurrent,
			QueueSize:  256,
			Logger:     logger,
		}),
		jobs: make(map[string]*jobState),
	}
}

// Submit registers jobs and schedules each on the worker pool. Each
// (source, target) path runs as its own job so paths proceed
// independently.
func (o *Orchestrator) Submit(jobs []Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		id := uuid.New().String()
		j.ID = id
		j.Status = JobPending

		ctx, cancel := context.WithCancel(context.Background())
		o.mu.Lock()
		o.jobs[id] = &jobState{job: j, cancel: cancel}
		o.mu.Unlock()
		ids = append(ids, id)

		jobCopy := j
		err := o.pool.Submit(workerpool.Task{
			ID: id,
			Fn: func(taskCtx context.Context) error {
				return o.run(ctx, jobCopy)
			},
		})
		if err != nil {
			o.markFailed(id, err)
		}
	}
	return ids
}

// run executes one migration job: for each key, read locally, send to
// the target without holding any lock, delete locally on success (spec
// §4.10 "Safety": never hold a shard lock across a network call).
func (o *Orchestrator) run(ctx context.Context, job Job) error {
	o.setStatus(job.ID, JobRunning)
	target, ok := o.dialer.Target(job.Target)
	if !ok {
		err := fmt.Errorf("rebalance: no route to target node %q", job.Target)
		o.markFailed(job.ID, err)
		return err
	}

	for i := 0; i < len(job.Keys); i += o.cfg.BatchSize {
		if ctx.Err() != nil {
			o.setStatus(job.ID, JobCancelled)
			return ctx.Err()
		}
		end := i + o.cfg.BatchSize
		if end > len(job.Keys) {
			end = len(job.Keys)
		}
		if err := o.migrateBatch(ctx, job.ID, target, job.Keys[i:end]); err != nil {
			o.markFailed(job.ID, err)
			return err
		}
	}

	o.completeJob(job.ID)
	return nil
}

func (o *Orchestrator) migrateBatch(ctx context.Context, jobID string, target Target, keys []string) error {
	for _, key := range keys {
		entry, found, err := o.local.Get(key)
		if err != nil {
			return fmt.Errorf("rebalance: read %q: %w", key, err)
		}
		if !found {
			o.incMigrated(jobID)
			continue
		}

		if err := target.Set(ctx, entry); err != nil {
			return fmt.Errorf("rebalance: send %q to %s: %w", key, target.NodeID(), err)
		}
		if _, err := o.local.Delete(key); err != nil {
			return fmt.Errorf("rebalance: delete %q after migration: %w", key, err)
		}
		o.incMigrated(jobID)
	}
	return nil
}

func (o *Orchestrator) setStatus(id string, status JobStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[id]
	if !ok {
		return
	}
	st.job.Status = status
	if status == JobRunning && st.job.StartedAt.IsZero() {
		st.job.StartedAt = time.Now()
		st.startedAt = st.job.StartedAt
	}
	if status == JobCancelled {
		st.job.CompletedAt = time.Now()
	}
}

func (o *Orchestrator) incMigrated(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.jobs[id]; ok {
		st.job.KeysMigrated++
	}
}

func (o *Orchestrator) completeJob(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.jobs[id]; ok {
		st.job.Status = JobCompleted
		st.job.CompletedAt = time.Now()
	}
}

func (o *Orchestrator) markFailed(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.jobs[id]; ok {
		st.job.Status = JobFailed
		st.job.Error = err.Error()
		st.job.CompletedAt = time.Now()
	}
	o.logger.Error("rebalance job failed", zap.String("job_id", id), zap.Error(err))
}

// Cancel stops a pending or running job. Keys already migrated are not
// rolled back.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[id]
	if !ok {
		return fmt.Errorf("rebalance: unknown job %q", id)
	}
	if st.job.Status != JobPending && st.job.Status != JobRunning {
		return fmt.Errorf("rebalance: job %q is not active", id)
	}
	st.cancel()
	return nil
}

// Status returns a job's current progress snapshot.
func (o *Orchestrator) Status(id string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[id]
	if !ok {
		return Job{}, false
	}
	return st.job, true
}

// List returns all tracked jobs.
func (o *Orchestrator) List() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Job, 0, len(o.jobs))
	for _, st := range o.jobs {
		out = append(out, st.job)
	}
	return out
}

// Progress reports a job's completion fraction, instantaneous rate, and
// projected time remaining.
type Progress struct {
	PercentComplete float64
	KeysPerSecond   float64
	ETA             time.Duration
}

// Progress computes a job's live progress. Returns ok=false for unknown
// jobs.
func (o *Orchestrator) Progress(id string) (Progress, bool) {
	o.mu.Lock()
	st, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return Progress{}, false
	}
	job := st.job
	started := st.startedAt
	o.mu.Unlock()

	if job.KeysTotal == 0 {
		return Progress{PercentComplete: 100}, true
	}
	pct := 100 * float64(job.KeysMigrated) / float64(job.KeysTotal)
	if started.IsZero() {
		return Progress{PercentComplete: pct}, true
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 || job.KeysMigrated == 0 {
		return Progress{PercentComplete: pct}, true
	}
	rate := float64(job.KeysMigrated) / elapsed
	remaining := job.KeysTotal - job.KeysMigrated
	eta := time.Duration(float64(remaining)/rate) * time.Second
	return Progress{PercentComplete: pct, KeysPerSecond: rate, ETA: eta}, true
}

// Janitor discards completed, failed, or cancelled job records older
// than cfg.RetentionAge.
func (o *Orchestrator) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep()
		}
	}
}

func (o *Orchestrator) sweep() {
	cutoff := time.Now().Add(-o.cfg.RetentionAge)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, st := range o.jobs {
		if st.job.CompletedAt.IsZero() {
			continue
		}
		if st.job.CompletedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
}

// Stop shuts down the orchestrator's worker pool.
func (o *Orchestrator) Stop(timeout time.Duration) error {
	return o.pool.Stop(timeout)
}

// KeysFromEngine collects every key currently held locally, used to
// seed Plan/PlanDrain with the job set derived from actual engine
// contents rather than a ring diff.
func KeysFromEngine(store LocalStore) []string {
	var keys []string
	store.ForEach(func(e *storage.Entry) bool {
		keys = append(keys, e.Key)
		return true
	})
	return keys
}
