package rpc

import (
	"context"

	"github.com/dSpringOnion/clidistcachelayer/internal/coordinator"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
)

// CoordinatorHandler implements rpcpb.CoordinatorServer, the
// topology-registry surface exposed by the coordinator process.
type CoordinatorHandler struct {
	rpcpb.UnimplementedCoordinatorServer

	registry *coordinator.Registry
}

// NewCoordinatorHandler constructs a CoordinatorHandler.
func NewCoordinatorHandler(registry *coordinator.Registry) *CoordinatorHandler {
	return &CoordinatorHandler{registry: registry}
}

func (h *CoordinatorHandler) RegisterNode(_ context.Context, req *rpcpb.RegisterNodeRequest) (*rpcpb.RegisterNodeResponse, error) {
	if err := h.registry.RegisterNode(req.NodeID, req.Address); err != nil {
		return nil, err
	}
	_, version, _ := h.registry.GetRing(0)
	return &rpcpb.RegisterNodeResponse{RingVersion: version}, nil
}

func (h *CoordinatorHandler) Heartbeat(_ context.Context, req *rpcpb.HeartbeatRequest) (*rpcpb.HeartbeatResponse, error) {
	version, changed, err := h.registry.Heartbeat(req.NodeID, req.KnownVersion)
	if err != nil {
		return nil, err
	}
	h.registry.IncrementRequestCount(req.NodeID)
	return &rpcpb.HeartbeatResponse{RingVersion: version, Changed: changed}, nil
}

func (h *CoordinatorHandler) GetRing(_ context.Context, req *rpcpb.GetRingRequest) (*rpcpb.GetRingResponse, error) {
	nodes, version, changed := h.registry.GetRing(req.KnownVersion)
	resp := &rpcpb.GetRingResponse{RingVersion: version, Changed: changed}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, rpcpb.RingNode{ID: n.ID, Address: n.Address})
	}
	return resp, nil
}

func (h *CoordinatorHandler) GetNodes(context.Context, *rpcpb.GetNodesRequest) (*rpcpb.GetNodesResponse, error) {
	records := h.registry.GetNodes()
	resp := &rpcpb.GetNodesResponse{Nodes: make([]rpcpb.NodeStatus, 0, len(records))}
	for _, rec := range records {
		resp.Nodes = append(resp.Nodes, toWireNodeStatus(rec))
	}
	return resp, nil
}

func (h *CoordinatorHandler) AddNode(_ context.Context, req *rpcpb.AddNodeRequest) (*rpcpb.AddNodeResponse, error) {
	if err := h.registry.RegisterNode(req.NodeID, req.Address); err != nil {
		return nil, err
	}
	_, version, _ := h.registry.GetRing(0)
	return &rpcpb.AddNodeResponse{RingVersion: version}, nil
}

func (h *CoordinatorHandler) RemoveNode(_ context.Context, req *rpcpb.RemoveNodeRequest) (*rpcpb.RemoveNodeResponse, error) {
	if err := h.registry.RemoveNode(req.NodeID); err != nil {
		return nil, err
	}
	_, version, _ := h.registry.GetRing(0)
	return &rpcpb.RemoveNodeResponse{RingVersion: version}, nil
}

func (h *CoordinatorHandler) GetClusterStatus(context.Context, *rpcpb.GetClusterStatusRequest) (*rpcpb.GetClusterStatusResponse, error) {
	status := h.registry.GetClusterStatus()
	resp := &rpcpb.GetClusterStatusResponse{
		RingVersion: status.RingVersion,
		TotalNodes:  status.TotalNodes,
		Healthy:     status.Healthy,
		Unhealthy:   status.Unhealthy,
		Dead:        status.Dead,
	}
	for _, rec := range status.Nodes {
		resp.Nodes = append(resp.Nodes, toWireNodeStatus(rec))
	}
	return resp, nil
}

func toWireNodeStatus(rec coordinator.NodeRecord) rpcpb.NodeStatus {
	return rpcpb.NodeStatus{
		NodeID:        rec.NodeID,
		Address:       rec.Address,
		State:         string(rec.State),
		LastHeartbeat: rec.LastHeartbeat.UnixMilli(),
		RequestCount:  rec.RequestCount,
	}
}
