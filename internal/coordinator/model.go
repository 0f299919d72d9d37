// Package coordinator implements the topology registry: the
// authoritative record of cluster membership and the current ring
// version, with liveness inference over node heartbeats and atomic
// on-disk persistence.
package coordinator

import "time"

// NodeState is a registered node's lifecycle state as seen by the
// coordinator's own liveness inference, independent of any individual
// node's membership.Detector view.
type NodeState string

const (
	NodeHealthy   NodeState = "HEALTHY"
	NodeUnhealthy NodeState = "UNHEALTHY"
	NodeDead      NodeState = "DEAD"
)

// NodeRecord is everything the registry tracks about one storage node.
type NodeRecord struct {
	NodeID        string    `json:"node_id"`
	Address       string    `json:"address"`
	State         NodeState `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RequestCount  uint64    `json:"request_count"`
}

// ClusterStatus is the response to a get-cluster-status call.
type ClusterStatus struct {
	RingVersion uint64       `json:"ring_version"`
	TotalNodes  int          `json:"total_nodes"`
	Healthy     int          `json:"healthy"`
	Unhealthy   int          `json:"unhealthy"`
	Dead        int          `json:"dead"`
	Nodes       []NodeRecord `json:"nodes"`
}
