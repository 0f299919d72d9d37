package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2, nil)
	q.Push(Entry{Key: "a"})
	q.Push(Entry{Key: "b"})
	q.Push(Entry{Key: "c"})

	require.Equal(t, uint64(1), q.Dropped())
	drained := q.DrainUpTo(10)
	require.Len(t, drained, 2)
	require.Equal(t, "b", drained[0].Key)
	require.Equal(t, "c", drained[1].Key)
}

func TestApplierRejectsVersionRegression(t *testing.T) {
	eng := storage.NewEngine("n1", 4, 1<<20, nil)
	applier := NewApplier("n1", eng, nil)

	res, err := applier.ApplyBatch(context.Background(), []Entry{
		{Op: OpSet, Key: "k", Value: []byte("v2"), Version: 5},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)

	res, err = applier.ApplyBatch(context.Background(), []Entry{
		{Op: OpSet, Key: "k", Value: []byte("stale"), Version: 3},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Applied)
	require.Equal(t, 1, res.Failed)

	entry, found, err := eng.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), entry.Value)
}

func TestApplierAppliesTombstone(t *testing.T) {
	eng := storage.NewEngine("n1", 4, 1<<20, nil)
	_, err := eng.Set("k", []byte("v"), 0)
	require.NoError(t, err)

	applier := NewApplier("n1", eng, nil)
	res, err := applier.ApplyBatch(context.Background(), []Entry{{Op: OpDelete, Key: "k"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)

	_, found, err := eng.Get("k")
	require.NoError(t, err)
	require.False(t, found)
}

type memDialer struct {
	mu        sync.Mutex
	followers map[string]Follower
}

func (d *memDialer) Follower(nodeID string) (Follower, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.followers[nodeID]
	return f, ok
}

func TestPipelineDeliversBatchToFollower(t *testing.T) {
	eng := storage.NewEngine("n2", 4, 1<<20, nil)
	applier := NewApplier("n2", eng, nil)
	dialer := &memDialer{followers: map[string]Follower{"n2": applier}}

	queue := NewQueue(100, nil)
	pipeline := NewPipeline(Config{BatchSize: 10, BatchInterval: 10 * time.Millisecond}, queue, dialer, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go pipeline.Run(ctx)
	defer func() {
		cancel()
		pipeline.Stop()
	}()

	queue.Push(Entry{Op: OpSet, Key: "a", Value: []byte("1"), Version: 1, Destination: []string{"n2"}})

	require.Eventually(t, func() bool {
		_, found, _ := eng.Get("a")
		return found
	}, time.Second, 10*time.Millisecond)
}

func TestPipelineHintsUnreachableFollower(t *testing.T) {
	dialer := &memDialer{followers: map[string]Follower{}}
	hints := NewHintStore(10, time.Hour, dialer, nil)
	queue := NewQueue(100, nil)
	pipeline := NewPipeline(Config{BatchSize: 10, BatchInterval: 10 * time.Millisecond}, queue, dialer, hints, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go pipeline.Run(ctx)
	defer func() {
		cancel()
		pipeline.Stop()
	}()

	queue.Push(Entry{Op: OpSet, Key: "a", Value: []byte("1"), Version: 1, Destination: []string{"missing"}})

	require.Eventually(t, func() bool {
		return hints.Count("missing") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamCatchupSendsOnlyOwnedKeys(t *testing.T) {
	eng := storage.NewEngine("n1", 4, 1<<20, nil)
	_, err := eng.Set("owned-1", []byte("v"), 0)
	require.NoError(t, err)
	_, err = eng.Set("other-1", []byte("v"), 0)
	require.NoError(t, err)

	var sent []string
	sink := sinkFunc(func(e *storage.Entry) error {
		sent = append(sent, e.Key)
		return nil
	})

	count, err := StreamCatchup(eng, func(k string) bool { return k == "owned-1" }, sink)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, []string{"owned-1"}, sent)
}

type sinkFunc func(*storage.Entry) error

func (f sinkFunc) Send(e *storage.Entry) error { return f(e) }
