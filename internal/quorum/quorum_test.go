package quorum

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeReplica struct {
	id string

	mu      sync.Mutex
	value   []byte
	version int64
	ts      int64
	fail    bool
	delay   time.Duration
}

func (f *fakeReplica) NodeID() string { return f.id }

func (f *fakeReplica) Get(ctx context.Context, key string) (GetReply, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return GetReply{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return GetReply{}, context.DeadlineExceeded
	}
	if f.version == 0 {
		return GetReply{Found: false}, nil
	}
	return GetReply{Found: true, Value: f.value, Version: f.version, TimestampMs: f.ts}, nil
}

func (f *fakeReplica) Set(ctx context.Context, key string, value []byte, ttl int32) (SetReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return SetReply{}, context.DeadlineExceeded
	}
	f.version++
	f.value = value
	f.ts++
	return SetReply{Success: true, Version: f.version}, nil
}

func (f *fakeReplica) CAS(ctx context.Context, key string, expected int64, newValue []byte, ttl int32) (CASReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return CASReply{}, context.DeadlineExceeded
	}
	if f.version != expected {
		return CASReply{VersionMismatch: true, ActualVersion: f.version}, nil
	}
	f.version++
	f.value = newValue
	return CASReply{Success: true, NewVersion: f.version}, nil
}

func newReplicaSet(n int) []Replica {
	out := make([]Replica, n)
	for i := 0; i < n; i++ {
		out[i] = &fakeReplica{id: string(rune('a' + i))}
	}
	return out
}

func TestQuorumWriteThenReadObservesWrite(t *testing.T) {
	// W + R > N: linearizable read-after-write.
	c := New(Config{W: 2, R: 2, Deadline: time.Second}, nil)
	replicas := newReplicaSet(3)

	_, err := c.Write(context.Background(), replicas, "k", []byte("v1"), 0)
	require.NoError(t, err)

	reply, err := c.Read(context.Background(), replicas, "k")
	require.NoError(t, err)
	require.True(t, reply.Found)
	require.Equal(t, []byte("v1"), reply.Value)
}

func TestQuorumWriteFailsBelowW(t *testing.T) {
	c := New(Config{W: 3, R: 2, Deadline: 200 * time.Millisecond}, nil)
	replicas := newReplicaSet(3)
	replicas[0].(*fakeReplica).fail = true

	_, err := c.Write(context.Background(), replicas, "k", []byte("v"), 0)
	require.Error(t, err)
}

func TestQuorumCASMismatchFailsRegardlessOfSuccesses(t *testing.T) {
	c := New(Config{W: 2, R: 2, Deadline: time.Second}, nil)
	replicas := newReplicaSet(3)
	// Pre-bump one replica's version so it will report a mismatch.
	replicas[2].(*fakeReplica).version = 5

	_, mismatch, err := c.CAS(context.Background(), replicas, "k", 0, []byte("v"), 0)
	require.Error(t, err)
	require.True(t, mismatch)
}

func TestQuorumReadRepairsStaleReplica(t *testing.T) {
	c := New(Config{W: 2, R: 2, Deadline: time.Second}, nil)
	replicas := newReplicaSet(3)
	replicas[0].(*fakeReplica).version = 5
	replicas[0].(*fakeReplica).value = []byte("fresh")
	replicas[1].(*fakeReplica).version = 3
	replicas[1].(*fakeReplica).value = []byte("stale")
	replicas[2].(*fakeReplica).version = 5
	replicas[2].(*fakeReplica).value = []byte("fresh")

	reply, err := c.Read(context.Background(), replicas, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), reply.Value)

	require.Eventually(t, func() bool {
		replicas[1].(*fakeReplica).mu.Lock()
		defer replicas[1].(*fakeReplica).mu.Unlock()
		return replicas[1].(*fakeReplica).version > 3
	}, time.Second, 10*time.Millisecond)
}

func TestQuorumReadFailsBelowR(t *testing.T) {
	c := New(Config{W: 2, R: 3, Deadline: 200 * time.Millisecond}, nil)
	replicas := newReplicaSet(3)
	replicas[0].(*fakeReplica).fail = true

	_, err := c.Read(context.Background(), replicas, "k")
	require.Error(t, err)
}
