package failover

import (
	"sync"
	"testing"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/membership"
	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/stretchr/testify/require"
)

type fakeRing struct {
	mu       sync.Mutex
	replicas []ring.Node
	removed  []string
}

func (f *fakeRing) GetReplicas(key string, count int) []ring.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ring.Node(nil), f.replicas...)
}

func (f *fakeRing) RemoveNode(nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, nodeID)
	return nil
}

type fakeHealth struct {
	unhealthy map[string]bool
}

func (h *fakeHealth) IsHealthy(nodeID string) bool { return !h.unhealthy[nodeID] }

func TestTriggerFailoverSelectsFirstHealthyReplica(t *testing.T) {
	r := &fakeRing{replicas: []ring.Node{{ID: "dead"}, {ID: "down"}, {ID: "good"}}}
	health := &fakeHealth{unhealthy: map[string]bool{"down": true}}

	var events []Failover
	var mu sync.Mutex
	onEvent := func(f Failover) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, f)
	}

	m := NewManager(Config{AutoFailoverEnabled: true, ReplicationFactor: 3}, r, health, onEvent, nil)
	f := m.TriggerFailover("dead")
	require.Equal(t, StatusInProgress, f.Status)

	require.Eventually(t, func() bool {
		got, ok := m.Get(f.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	final, _ := m.Get(f.ID)
	require.Equal(t, "good", final.NewPrimary)
	require.Contains(t, r.removed, "dead")
}

func TestTriggerFailoverIsIdempotentPerDeadNode(t *testing.T) {
	r := &fakeRing{replicas: []ring.Node{{ID: "dead"}, {ID: "good"}}}
	m := NewManager(Config{AutoFailoverEnabled: false}, r, nil, nil, nil)

	f1 := m.TriggerFailover("dead")
	f2 := m.TriggerFailover("dead")
	require.Equal(t, f1.ID, f2.ID)
}

func TestCancelStopsInFlightFailover(t *testing.T) {
	r := &fakeRing{replicas: []ring.Node{{ID: "dead"}, {ID: "good"}}}
	m := NewManager(Config{AutoFailoverEnabled: true}, r, nil, nil, nil)

	f := m.TriggerFailover("dead")
	require.NoError(t, m.Cancel(f.ID))
	require.Error(t, m.Cancel(f.ID))
}

func TestOnPeerTransitionIgnoresNonDeadStates(t *testing.T) {
	r := &fakeRing{}
	m := NewManager(Config{}, r, nil, nil, nil)
	m.OnPeerTransition("n1", membership.Healthy, membership.Unhealthy)
	require.Empty(t, m.List())
}
