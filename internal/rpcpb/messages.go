package rpcpb

// VersionVector is the wire form of a vector clock: node id to counter.
type VersionVector map[string]uint64

// GetRequest is the cache data-plane GET request.
type GetRequest struct {
	TenantID string `json:"tenant_id"`
	Key      string `json:"key"`
}

// GetResponse answers a GetRequest.
type GetResponse struct {
	Found         bool          `json:"found"`
	Value         []byte        `json:"value"`
	Version       int64         `json:"version"`
	TimestampMs   int64         `json:"timestamp_ms"`
	VersionVector VersionVector `json:"version_vector"`
}

// SetRequest is the cache data-plane SET request. Raw marks a key that
// already carries its tenant prefix, used by the rebalance orchestrator
// when migrating an engine entry to its new owner verbatim rather than
// composing a fresh tenant:key from a client-supplied business key.
type SetRequest struct {
	TenantID       string `json:"tenant_id"`
	Key            string `json:"key"`
	Value          []byte `json:"value"`
	TTLSeconds     int32  `json:"ttl_seconds"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Raw            bool   `json:"raw,omitempty"`
}

// SetResponse answers a SetRequest.
type SetResponse struct {
	Success         bool  `json:"success"`
	Version         int64 `json:"version"`
	VersionMismatch bool  `json:"version_mismatch"`
}

// DeleteRequest is the cache data-plane DELETE request.
type DeleteRequest struct {
	TenantID string `json:"tenant_id"`
	Key      string `json:"key"`
}

// DeleteResponse answers a DeleteRequest.
type DeleteResponse struct {
	Success bool `json:"success"`
}

// CASRequest is the cache data-plane CAS request.
type CASRequest struct {
	TenantID        string `json:"tenant_id"`
	Key             string `json:"key"`
	ExpectedVersion int64  `json:"expected_version"`
	NewValue        []byte `json:"new_value"`
	TTLSeconds      int32  `json:"ttl_seconds"`
}

// CASResponse answers a CASRequest.
type CASResponse struct {
	Success       bool   `json:"success"`
	NewVersion    int64  `json:"new_version"`
	ActualVersion int64  `json:"actual_version"`
	Error         string `json:"error,omitempty"`
}

// HealthCheckRequest is empty; health checks carry no parameters.
type HealthCheckRequest struct{}

// ServingStatus is HealthCheckResponse's status enum.
type ServingStatus string

const (
	Serving    ServingStatus = "SERVING"
	NotServing ServingStatus = "NOT_SERVING"
)

// HealthCheckResponse reports node serving status.
type HealthCheckResponse struct {
	Status ServingStatus `json:"status"`
}

// ReplicatedEntry is one entry inside a replication batch.
type ReplicatedEntry struct {
	Op          string `json:"op"`
	TenantID    string `json:"tenant_id"`
	Key         string `json:"key"`
	Value       []byte `json:"value"`
	TTLSeconds  int32  `json:"ttl_seconds"`
	Version     int64  `json:"version"`
	EnqueuedMs  int64  `json:"enqueued_ms"`
}

// ReplicateRequest carries a batch of replicated writes.
type ReplicateRequest struct {
	Source      string            `json:"source"`
	TimestampMs int64             `json:"timestamp_ms"`
	Entries     []ReplicatedEntry `json:"entries"`
}

// ReplicateResponse answers a ReplicateRequest.
type ReplicateResponse struct {
	Success             bool   `json:"success"`
	Error               string `json:"error,omitempty"`
	LastAppliedTimestamp int64  `json:"last_applied_timestamp"`
}

// SyncRequest asks for a stream of entries for keys_to_sync.
type SyncRequest struct {
	RequestingNode string   `json:"requesting_node"`
	KeysToSync     []string `json:"keys_to_sync"`
}

// SyncEntry is one item in a SYNC/CATCHUP stream response.
type SyncEntry struct {
	Key         string `json:"key"`
	Value       []byte `json:"value"`
	TTLSeconds  int32  `json:"ttl_seconds"`
	Version     int64  `json:"version"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// InitiateFailoverRequest requests a failover for a dead node.
type InitiateFailoverRequest struct {
	FailedNode string `json:"failed_node"`
}

// InitiateFailoverResponse answers InitiateFailoverRequest.
type InitiateFailoverResponse struct {
	ID string `json:"id"`
}

// CatchupRequest asks the receiving node to stream entries it should
// now own.
type CatchupRequest struct {
	Node      string   `json:"node"`
	KeysOwned []string `json:"keys_owned"`
}

// FailoverStatusRequest optionally scopes to one failover id.
type FailoverStatusRequest struct {
	ID string `json:"id,omitempty"`
}

// FailoverRecord is one failover's wire representation.
type FailoverRecord struct {
	ID          string `json:"id"`
	DeadNode    string `json:"dead_node"`
	NewPrimary  string `json:"new_primary"`
	Status      string `json:"status"`
	StartedAtMs int64  `json:"started_at_ms"`
	Error       string `json:"error,omitempty"`
}

// FailoverStatusResponse lists matching failovers.
type FailoverStatusResponse struct {
	Failovers []FailoverRecord `json:"failovers"`
}

// RebalanceRequest kicks off a rebalance, naming the node that joined or
// left.
type RebalanceRequest struct {
	NewNode     string `json:"new_node,omitempty"`
	RemovedNode string `json:"removed_node,omitempty"`
}

// RebalanceResponse answers RebalanceRequest.
type RebalanceResponse struct {
	Started bool   `json:"started"`
	JobID   string `json:"job_id"`
	Error   string `json:"error,omitempty"`
}

// DrainRequest asks a node to migrate away everything it owns.
type DrainRequest struct {
	Node          string `json:"node"`
	TimeoutMillis int64  `json:"timeout_millis"`
}

// DrainResponse answers DrainRequest.
type DrainResponse struct {
	Success      bool  `json:"success"`
	KeysMigrated int64 `json:"keys_migrated"`
}

// StatusRequest optionally scopes STATUS to one node.
type StatusRequest struct {
	Node string `json:"node,omitempty"`
}

// NodeStatus is one node's entry in a STATUS response.
type NodeStatus struct {
	NodeID        string `json:"node_id"`
	Address       string `json:"address"`
	State         string `json:"state"`
	LastHeartbeat int64  `json:"last_heartbeat_ms"`
	RequestCount  uint64 `json:"request_count"`
}

// StatusResponse lists matching node statuses.
type StatusResponse struct {
	Nodes []NodeStatus `json:"nodes"`
}

// MetricsRequest is empty.
type MetricsRequest struct{}

// MetricSample is one name/value pair.
type MetricSample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// MetricsResponse lists metric samples.
type MetricsResponse struct {
	Samples []MetricSample `json:"samples"`
}

// RegisterNodeRequest registers a storage node with the coordinator.
type RegisterNodeRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// RegisterNodeResponse acknowledges registration.
type RegisterNodeResponse struct {
	RingVersion uint64 `json:"ring_version"`
}

// HeartbeatRequest reports a node's known ring version.
type HeartbeatRequest struct {
	NodeID       string `json:"node_id"`
	KnownVersion uint64 `json:"known_version"`
}

// HeartbeatResponse reports whether the ring changed.
type HeartbeatResponse struct {
	RingVersion uint64 `json:"ring_version"`
	Changed     bool   `json:"changed"`
}

// GetRingRequest asks for the ring, conditional on a known version.
type GetRingRequest struct {
	KnownVersion uint64 `json:"known_version"`
}

// RingNode is one physical node's wire representation in a ring
// snapshot.
type RingNode struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// GetRingResponse answers GetRingRequest.
type GetRingResponse struct {
	Nodes       []RingNode `json:"nodes"`
	RingVersion uint64     `json:"ring_version"`
	Changed     bool       `json:"changed"`
}

// GetNodesRequest is empty.
type GetNodesRequest struct{}

// GetNodesResponse lists all registered nodes.
type GetNodesResponse struct {
	Nodes []NodeStatus `json:"nodes"`
}

// AddNodeRequest explicitly adds a node (operator action).
type AddNodeRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// AddNodeResponse acknowledges the add.
type AddNodeResponse struct {
	RingVersion uint64 `json:"ring_version"`
}

// RemoveNodeRequest explicitly removes a node (operator action).
type RemoveNodeRequest struct {
	NodeID string `json:"node_id"`
}

// RemoveNodeResponse acknowledges the removal.
type RemoveNodeResponse struct {
	RingVersion uint64 `json:"ring_version"`
}

// GetClusterStatusRequest is empty.
type GetClusterStatusRequest struct{}

// GetClusterStatusResponse mirrors coordinator.ClusterStatus on the wire.
type GetClusterStatusResponse struct {
	RingVersion uint64       `json:"ring_version"`
	TotalNodes  int          `json:"total_nodes"`
	Healthy     int          `json:"healthy"`
	Unhealthy   int          `json:"unhealthy"`
	Dead        int          `json:"dead"`
	Nodes       []NodeStatus `json:"nodes"`
}
