package rebalance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, nodeIDs ...string) *ring.Ring {
	t.Helper()
	r := ring.New(16)
	for _, id := range nodeIDs {
		require.NoError(t, r.AddNode(ring.Node{ID: id, Address: id + ":9000"}))
	}
	return r
}

func TestPlanExcludesUnchangedOwners(t *testing.T) {
	oldRing := newTestRing(t, "a", "b")
	newRing := newTestRing(t, "a", "b", "c")

	keys := []string{"key-1", "key-2", "key-3", "key-4", "key-5"}
	jobs := Plan(oldRing, newRing, keys)

	total := 0
	for _, j := range jobs {
		require.NotEqual(t, j.Source, j.Target)
		total += j.KeysTotal
	}
	require.LessOrEqual(t, total, len(keys))
}

func TestPlanGroupsByPath(t *testing.T) {
	oldRing := newTestRing(t, "a")
	newRing := newTestRing(t, "a", "b")

	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6"}
	jobs := Plan(oldRing, newRing, keys)

	// Every moved key's only possible destination is "b" since "a" was
	// the sole prior owner.
	for _, j := range jobs {
		require.Equal(t, "a", j.Source)
		require.Equal(t, "b", j.Target)
	}
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]*storage.Entry
}

func newFakeStore(entries map[string]*storage.Entry) *fakeStore {
	return &fakeStore{data: entries}
}

func (f *fakeStore) Get(key string) (*storage.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	return e, ok, nil
}

func (f *fakeStore) Delete(key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	delete(f.data, key)
	return ok, nil
}

func (f *fakeStore) ForEach(fn func(*storage.Entry) bool) {
	f.mu.Lock()
	entries := make([]*storage.Entry, 0, len(f.data))
	for _, e := range f.data {
		entries = append(entries, e)
	}
	f.mu.Unlock()
	for _, e := range entries {
		if !fn(e) {
			return
		}
	}
}

func (f *fakeStore) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

type fakeTarget struct {
	nodeID string
	mu     sync.Mutex
	sent   []string
	fail   bool
}

func (t *fakeTarget) NodeID() string { return t.nodeID }

func (t *fakeTarget) Set(ctx context.Context, entry *storage.Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("target unreachable")
	}
	t.sent = append(t.sent, entry.Key)
	return nil
}

type fakeDialer struct {
	targets map[string]*fakeTarget
}

func (d *fakeDialer) Target(nodeID string) (Target, bool) {
	tg, ok := d.targets[nodeID]
	return tg, ok
}

func TestOrchestratorMigratesKeysThenDeletesLocally(t *testing.T) {
	store := newFakeStore(map[string]*storage.Entry{
		"k1": {Key: "k1", Value: []byte("v1")},
		"k2": {Key: "k2", Value: []byte("v2")},
	})
	target := &fakeTarget{nodeID: "b"}
	dialer := &fakeDialer{targets: map[string]*fakeTarget{"b": target}}

	orch := New(Config{BatchSize: 1, MaxConcurrent: 2}, store, dialer, nil)
	defer orch.Stop(time.Second)

	ids := orch.Submit([]Job{{Source: "a", Target: "b", Keys: []string{"k1", "k2"}, KeysTotal: 2}})
	require.Len(t, ids, 1)

	require.Eventually(t, func() bool {
		job, ok := orch.Status(ids[0])
		return ok && job.Status == JobCompleted
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 0, store.remaining())
	target.mu.Lock()
	require.ElementsMatch(t, []string{"k1", "k2"}, target.sent)
	target.mu.Unlock()
}

func TestOrchestratorFailsJobWhenTargetUnreachable(t *testing.T) {
	store := newFakeStore(map[string]*storage.Entry{"k1": {Key: "k1"}})
	dialer := &fakeDialer{targets: map[string]*fakeTarget{}}

	orch := New(Config{}, store, dialer, nil)
	defer orch.Stop(time.Second)

	ids := orch.Submit([]Job{{Source: "a", Target: "missing", Keys: []string{"k1"}, KeysTotal: 1}})

	require.Eventually(t, func() bool {
		job, ok := orch.Status(ids[0])
		return ok && job.Status == JobFailed
	}, time.Second, 5*time.Millisecond)
}

func TestProgressReportsCompletionFraction(t *testing.T) {
	store := newFakeStore(map[string]*storage.Entry{
		"k1": {Key: "k1"}, "k2": {Key: "k2"},
	})
	target := &fakeTarget{nodeID: "b"}
	dialer := &fakeDialer{targets: map[string]*fakeTarget{"b": target}}

	orch := New(Config{}, store, dialer, nil)
	defer orch.Stop(time.Second)

	ids := orch.Submit([]Job{{Source: "a", Target: "b", Keys: []string{"k1", "k2"}, KeysTotal: 2}})

	require.Eventually(t, func() bool {
		p, ok := orch.Progress(ids[0])
		return ok && p.PercentComplete == 100
	}, time.Second, 5*time.Millisecond)
}

func TestJanitorDiscardsOldCompletedJobs(t *testing.T) {
	store := newFakeStore(map[string]*storage.Entry{})
	dialer := &fakeDialer{targets: map[string]*fakeTarget{"b": {nodeID: "b"}}}
	orch := New(Config{RetentionAge: time.Millisecond}, store, dialer, nil)
	defer orch.Stop(time.Second)

	ids := orch.Submit([]Job{{Source: "a", Target: "b", Keys: nil, KeysTotal: 0}})
	require.Eventually(t, func() bool {
		job, ok := orch.Status(ids[0])
		return ok && job.Status == JobCompleted
	}, time.Second, 5*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	orch.sweep()
	_, ok := orch.Status(ids[0])
	require.False(t, ok)
}

func TestPlanDrainDerivesJobsFromEngineContents(t *testing.T) {
	newRing := newTestRing(t, "a", "b", "c")
	keys := []string{"k1", "k2", "k3", "k4"}

	jobs := PlanDrain(newRing, "a", keys)
	for _, j := range jobs {
		require.Equal(t, "a", j.Source)
		require.NotEqual(t, "a", j.Target)
	}
}
