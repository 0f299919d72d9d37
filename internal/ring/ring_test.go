package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyRingReturnsNoNode(t *testing.T) {
	r := New(150)
	_, ok := r.GetNode("k")
	require.False(t, ok)
}

func TestSingleNodeOwnsEveryKey(t *testing.T) {
	r := New(150)
	require.NoError(t, r.AddNode(Node{ID: "n1", Address: "10.0.0.1:1"}))

	for i := 0; i < 100; i++ {
		n, ok := r.GetNode(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		require.Equal(t, "n1", n.ID)
	}
}

func TestAddDuplicateNodeRejected(t *testing.T) {
	r := New(150)
	require.NoError(t, r.AddNode(Node{ID: "n1"}))
	require.Error(t, r.AddNode(Node{ID: "n1"}))
}

func TestRemoveUnknownNodeIsNoop(t *testing.T) {
	r := New(150)
	require.NoError(t, r.AddNode(Node{ID: "n1"}))
	r.RemoveNode("does-not-exist")
	require.Equal(t, 1, r.NodeCount())
}

func TestGetReplicasDeterministic(t *testing.T) {
	r := New(150)
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		require.NoError(t, r.AddNode(Node{ID: id}))
	}

	a := r.GetReplicas("user:1", 3)
	b := r.GetReplicas("user:1", 3)
	require.Equal(t, a, b)
	require.Len(t, a, 3)

	seen := make(map[string]bool)
	for _, n := range a {
		require.False(t, seen[n.ID], "replica list must contain distinct nodes")
		seen[n.ID] = true
	}
}

func TestReplicasCappedAtPhysicalNodeCount(t *testing.T) {
	r := New(150)
	require.NoError(t, r.AddNode(Node{ID: "n1"}))
	require.NoError(t, r.AddNode(Node{ID: "n2"}))

	reps := r.GetReplicas("k", 5)
	require.Len(t, reps, 2)
}

func TestDistributionWithinTolerance(t *testing.T) {
	r := New(150)
	for _, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, r.AddNode(Node{ID: id}))
	}

	counts := make(map[string]int)
	const total = 10000
	for i := 0; i < total; i++ {
		n, ok := r.GetNode(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		counts[n.ID]++
	}

	mean := float64(total) / 3
	for id, c := range counts {
		deviation := (float64(c) - mean) / mean
		require.InDeltaf(t, 0, deviation, 0.15, "node %s share %d deviates too far from mean %.0f", id, c, mean)
	}
}

func TestAddingNodeChurnsBoundedFractionOfKeys(t *testing.T) {
	r := New(150)
	for _, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, r.AddNode(Node{ID: id}))
	}

	const total = 10000
	before := make(map[string]string, total)
	for i := 0; i < total; i++ {
		k := fmt.Sprintf("key-%d", i)
		n, _ := r.GetNode(k)
		before[k] = n.ID
	}

	require.NoError(t, r.AddNode(Node{ID: "n4"}))

	moved := 0
	for k, oldOwner := range before {
		n, _ := r.GetNode(k)
		if n.ID != oldOwner {
			moved++
		}
	}

	frac := float64(moved) / float64(total)
	require.Greater(t, frac, 0.10)
	require.Less(t, frac, 0.45)
}

func TestRingVersionIncrementsOnMutation(t *testing.T) {
	r := New(150)
	v0 := r.Version()
	require.NoError(t, r.AddNode(Node{ID: "n1"}))
	require.Greater(t, r.Version(), v0)
	v1 := r.Version()
	r.RemoveNode("n1")
	require.Greater(t, r.Version(), v1)
}
