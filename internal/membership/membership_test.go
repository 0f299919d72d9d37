package membership

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedChecker struct {
	mu    sync.Mutex
	fails map[string]bool
}

func (c *scriptedChecker) Check(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails[nodeID] {
		return errors.New("unreachable")
	}
	return nil
}

func (c *scriptedChecker) setFail(nodeID string, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fails[nodeID] = fail
}

func TestSelfIsAlwaysHealthy(t *testing.T) {
	checker := &scriptedChecker{fails: map[string]bool{}}
	d := NewDetector("self", checker, Config{}, nil)
	require.Equal(t, Healthy, d.State("self"))
}

func TestPeerTransitionsThroughThresholds(t *testing.T) {
	checker := &scriptedChecker{fails: map[string]bool{"peer1": true}}
	d := NewDetector("self", checker, Config{
		Interval:         5 * time.Millisecond,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		DeadThreshold:    6,
	}, nil)
	d.AddPeer("peer1")

	var unhealthyCount, deadCount int32
	d.OnTransition(func(nodeID string, from, to State) {
		if to == Unhealthy {
			atomic.AddInt32(&unhealthyCount, 1)
		}
		if to == Dead {
			atomic.AddInt32(&deadCount, 1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer func() {
		cancel()
		d.Stop()
	}()

	require.Eventually(t, func() bool { return d.State("peer1") == Unhealthy }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return d.State("peer1") == Dead }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&unhealthyCount))
	require.EqualValues(t, 1, atomic.LoadInt32(&deadCount))
}

func TestPeerRecoversToHealthyOnSingleSuccess(t *testing.T) {
	checker := &scriptedChecker{fails: map[string]bool{"peer1": true}}
	d := NewDetector("self", checker, Config{
		Interval:         5 * time.Millisecond,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 2,
		DeadThreshold:    4,
	}, nil)
	d.AddPeer("peer1")

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer func() {
		cancel()
		d.Stop()
	}()

	require.Eventually(t, func() bool { return d.State("peer1") == Unhealthy }, time.Second, 5*time.Millisecond)

	checker.setFail("peer1", false)
	require.Eventually(t, func() bool { return d.State("peer1") == Healthy }, time.Second, 5*time.Millisecond)
}

func TestHealthyPeersExcludesUnhealthyAndDead(t *testing.T) {
	checker := &scriptedChecker{fails: map[string]bool{"bad": true}}
	d := NewDetector("self", checker, Config{
		Interval:         5 * time.Millisecond,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 1,
		DeadThreshold:    2,
	}, nil)
	d.AddPeer("bad")
	d.AddPeer("good")

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer func() {
		cancel()
		d.Stop()
	}()

	require.Eventually(t, func() bool {
		healthy := d.HealthyPeers()
		return len(healthy) == 1 && healthy[0] == "good"
	}, time.Second, 5*time.Millisecond)
}
