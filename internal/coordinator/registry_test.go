package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterNodeIsIdempotent(t *testing.T) {
	reg, err := NewRegistry(Config{VirtualNodes: 4}, nil)
	require.NoError(t, err)

	require.NoError(t, reg.RegisterNode("n1", "10.0.0.1:9000"))
	v1 := reg.GetClusterStatus().RingVersion

	require.NoError(t, reg.RegisterNode("n1", "10.0.0.2:9000"))
	v2 := reg.GetClusterStatus().RingVersion

	require.Equal(t, v1, v2)
	nodes := reg.GetNodes()
	require.Len(t, nodes, 1)
	require.Equal(t, "10.0.0.2:9000", nodes[0].Address)
}

func TestHeartbeatReportsRingVersionChange(t *testing.T) {
	reg, err := NewRegistry(Config{VirtualNodes: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterNode("n1", "addr1"))

	_, changed, err := reg.Heartbeat("n1", 0)
	require.NoError(t, err)
	require.True(t, changed)

	v, _, _ := reg.GetRing(0)
	_ = v
	current := reg.GetClusterStatus().RingVersion
	_, changed, err = reg.Heartbeat("n1", current)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestLivenessInferenceEscalatesToDead(t *testing.T) {
	reg, err := NewRegistry(Config{VirtualNodes: 4, HeartbeatTimeout: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterNode("n1", "addr1"))

	require.Eventually(t, func() bool {
		status := reg.GetClusterStatus()
		return status.Unhealthy == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		status := reg.GetClusterStatus()
		return status.Dead == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	reg, err := NewRegistry(Config{StatePath: path, VirtualNodes: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterNode("n1", "addr1"))
	require.NoError(t, reg.RegisterNode("n2", "addr2"))

	reg2, err := NewRegistry(Config{StatePath: path, VirtualNodes: 4}, nil)
	require.NoError(t, err)
	require.Len(t, reg2.GetNodes(), 2)
	require.Equal(t, reg.GetClusterStatus().RingVersion, reg2.GetClusterStatus().RingVersion)
}

func TestMissingStateFileStartsEmptyCluster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.json")

	reg, err := NewRegistry(Config{StatePath: path, VirtualNodes: 4}, nil)
	require.NoError(t, err)
	require.Empty(t, reg.GetNodes())
}

func TestGetReplicasReflectsRegisteredNodes(t *testing.T) {
	reg, err := NewRegistry(Config{VirtualNodes: 32}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterNode("n1", "a1"))
	require.NoError(t, reg.RegisterNode("n2", "a2"))
	require.NoError(t, reg.RegisterNode("n3", "a3"))

	replicas := reg.GetReplicas("some-key", 2)
	require.Len(t, replicas, 2)
	require.NotEqual(t, replicas[0].ID, replicas[1].ID)
}
