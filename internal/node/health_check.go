package node

import (
	"context"
	"fmt"

	"github.com/dSpringOnion/clidistcachelayer/internal/membership"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpc"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
)

// rpcHealthChecker implements membership.Checker by calling a peer's
// HealthCheck RPC over the same Dialer the rest of the node uses,
// rather than opening a separate probe connection per peer.
type rpcHealthChecker struct {
	dialer *rpc.Dialer
}

func newRPCHealthChecker(dialer *rpc.Dialer) *rpcHealthChecker {
	return &rpcHealthChecker{dialer: dialer}
}

func (c *rpcHealthChecker) Check(ctx context.Context, nodeID string) error {
	client, err := c.dialer.CacheClient(nodeID)
	if err != nil {
		return err
	}
	resp, err := client.HealthCheck(ctx, &rpcpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.Status != rpcpb.Serving {
		return fmt.Errorf("node: peer %q reported status %s", nodeID, resp.Status)
	}
	return nil
}

// detectorHealthChecker adapts membership.Detector to failover.HealthChecker.
type detectorHealthChecker struct {
	detector *membership.Detector
}

func (h detectorHealthChecker) IsHealthy(nodeID string) bool {
	return h.detector.State(nodeID) == membership.Healthy
}
