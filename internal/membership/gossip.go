package membership

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipConfig controls the memberlist transport used for peer
// discovery. The explicit Detector above remains the source of truth
// for HEALTHY/UNHEALTHY/DEAD; gossip only tells the node who exists.
type GossipConfig struct {
	BindAddr  string
	BindPort  int
	SeedNodes []string
}

// nodeMetadata is broadcast as each memberlist node's metadata blob.
type nodeMetadata struct {
	NodeID string `json:"node_id"`
}

// Gossip wraps a hashicorp/memberlist pool and feeds join/leave events
// into a Detector's peer set.
type Gossip struct {
	nodeID   string
	ml       *memberlist.Memberlist
	detector *Detector
	logger   *zap.Logger
}

// NewGossip creates and starts a memberlist pool for nodeID, wiring its
// join/leave events into detector's peer set.
func NewGossip(nodeID string, cfg GossipConfig, detector *Detector, logger *zap.Logger) (*Gossip, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gossip{nodeID: nodeID, detector: detector, logger: logger}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlConfig.BindPort = cfg.BindPort
		mlConfig.AdvertisePort = cfg.BindPort
	}
	mlConfig.Delegate = g
	mlConfig.Events = g

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("membership: create memberlist: %w", err)
	}
	g.ml = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("failed to join some seed nodes", zap.Error(err))
		}
	}
	return g, nil
}

// Members returns the node IDs memberlist currently believes are part
// of the cluster, including self.
func (g *Gossip) Members() []string {
	nodes := g.ml.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// Shutdown leaves the gossip pool gracefully.
func (g *Gossip) Shutdown() error {
	if err := g.ml.Leave(5 * time.Second); err != nil {
		g.logger.Warn("gossip leave failed", zap.Error(err))
	}
	return g.ml.Shutdown()
}

// memberlist.Delegate implementation. GetBroadcasts/LocalState/
// MergeRemoteState are no-ops: this pool exists purely for
// discovery, not for gossiping arbitrary application state.

func (g *Gossip) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(nodeMetadata{NodeID: g.nodeID})
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

func (g *Gossip) NotifyMsg(data []byte) {}

func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (g *Gossip) LocalState(join bool) []byte { return nil }

func (g *Gossip) MergeRemoteState(buf []byte, join bool) {}

// memberlist.EventDelegate implementation, feeding discovered peers
// into the Detector so the heartbeat loop starts probing them.

func (g *Gossip) NotifyJoin(node *memberlist.Node) {
	if node.Name == g.nodeID {
		return
	}
	g.logger.Info("gossip: peer joined", zap.String("node_id", node.Name), zap.String("addr", node.Addr.String()))
	g.detector.AddPeer(node.Name)
}

func (g *Gossip) NotifyLeave(node *memberlist.Node) {
	g.logger.Info("gossip: peer left", zap.String("node_id", node.Name))
	g.detector.RemovePeer(node.Name)
}

func (g *Gossip) NotifyUpdate(node *memberlist.Node) {}
