package rpc

import (
	"testing"

	"github.com/dSpringOnion/clidistcachelayer/internal/rebalance"
	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/stretchr/testify/require"
)

type noopRebalanceDialer struct{}

func (noopRebalanceDialer) Target(string) (rebalance.Target, bool) { return nil, false }

func newTestAdminHandler(t *testing.T) (*AdminHandler, *ring.Ring) {
	t.Helper()
	eng := storage.NewEngine("n1", 4, 1<<20, nil)
	orch := rebalance.New(rebalance.Config{}, eng, noopRebalanceDialer{}, nil)

	r := ring.New(10)
	require.NoError(t, r.AddNode(ring.Node{ID: "n1", Address: "10.0.0.1:7100"}))

	h := NewAdminHandler(AdminHandlerConfig{
		NodeID:       "n1",
		Engine:       eng,
		PreviousRing: r,
		CurrentRing:  r,
		Orchestrator: orch,
	})
	return h, r
}

func TestRebalanceNoopWhenRingUnchanged(t *testing.T) {
	h, _ := newTestAdminHandler(t)
	resp, err := h.Rebalance(nil, &rpcpb.RebalanceRequest{})
	require.NoError(t, err)
	require.False(t, resp.Started)
}

func TestUpdateRingKeepsPreviousRingForNextRebalance(t *testing.T) {
	h, oldRing := newTestAdminHandler(t)

	next := ring.New(10)
	require.NoError(t, next.AddNode(ring.Node{ID: "n1", Address: "10.0.0.1:7100"}))
	require.NoError(t, next.AddNode(ring.Node{ID: "n2", Address: "10.0.0.2:7100"}))
	h.UpdateRing(next)

	require.Equal(t, oldRing, h.oldRing)
	require.Equal(t, next, h.newRing)
}
