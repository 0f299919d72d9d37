// Package ring implements a consistent-hash placement ring: mapping a
// key to an ordered list of the physical nodes that should hold it,
// minimizing churn when membership changes. Virtual node positions are
// kept in a github.com/google/btree sorted tree rather than a bare
// sorted slice.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/btree"
)

// DefaultVirtualNodes is the default number of ring positions each
// physical node contributes.
const DefaultVirtualNodes = 150

// Node is a physical node's placement identity.
type Node struct {
	ID      string
	Address string
}

type position struct {
	hash   uint64
	vnode  string
	nodeID string
}

func (p position) Less(other btree.Item) bool {
	o := other.(position)
	if p.hash != o.hash {
		return p.hash < o.hash
	}
	// Tie-break on equal hash by lexicographic node id.
	return p.nodeID < o.nodeID
}

// Ring is the consistent-hash placement ring. Exclusive on mutation,
// shared on lookup.
type Ring struct {
	mu               sync.RWMutex
	tree             *btree.BTree
	nodes            map[string]Node
	nodeVNodes       map[string][]position
	virtualNodes     int
	version          uint64
}

// New creates an empty ring using virtualNodesPerNode virtual nodes per
// physical node (DefaultVirtualNodes if zero or negative).
func New(virtualNodesPerNode int) *Ring {
	if virtualNodesPerNode <= 0 {
		virtualNodesPerNode = DefaultVirtualNodes
	}
	return &Ring{
		tree:         btree.New(32),
		nodes:        make(map[string]Node),
		nodeVNodes:   make(map[string][]position),
		virtualNodes: virtualNodesPerNode,
	}
}

// hashKey computes a 64-bit hash with good avalanche behavior.
func hashKey(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// Version returns the ring's mutation counter.
func (r *Ring) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// AddNode adds a physical node and its virtual nodes. Adding a node
// whose id already exists is rejected.
func (r *Ring) AddNode(n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[n.ID]; exists {
		return fmt.Errorf("node %q already exists in ring", n.ID)
	}

	positions := make([]position, 0, r.virtualNodes)
	for i := 0; i < r.virtualNodes; i++ {
		vnodeID := fmt.Sprintf("%s-vnode-%d", n.ID, i)
		p := position{hash: hashKey(vnodeID), vnode: vnodeID, nodeID: n.ID}
		r.tree.ReplaceOrInsert(p)
		positions = append(positions, p)
	}

	r.nodes[n.ID] = n
	r.nodeVNodes[n.ID] = positions
	r.version++
	return nil
}

// RemoveNode removes a physical node and its virtual nodes. Removing an
// unknown id is a no-op.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	positions, exists := r.nodeVNodes[nodeID]
	if !exists {
		return
	}
	for _, p := range positions {
		r.tree.Delete(p)
	}
	delete(r.nodeVNodes, nodeID)
	delete(r.nodes, nodeID)
	r.version++
}

// HasNode reports whether nodeID is currently a ring member.
func (r *Ring) HasNode(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[nodeID]
	return ok
}

// NodeCount returns the number of physical nodes.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Nodes returns a snapshot of all physical nodes.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Clear removes every node from the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = btree.New(32)
	r.nodes = make(map[string]Node)
	r.nodeVNodes = make(map[string][]position)
	r.version++
}

// GetNode returns the primary owner of key, or ok=false if the ring is
// empty.
func (r *Ring) GetNode(key string) (Node, bool) {
	nodes := r.GetReplicas(key, 1)
	if len(nodes) == 0 {
		return Node{}, false
	}
	return nodes[0], true
}

// GetReplicas returns the first `count` distinct physical nodes
// encountered clockwise from key's hash position. A ring with k
// physical nodes returns at most k replicas regardless of count.
func (r *Ring) GetReplicas(key string, count int) []Node {
	if count <= 0 {
		return nil
	}
	h := hashKey(key)
	return r.replicasForHash(h, count)
}

func (r *Ring) replicasForHash(h uint64, count int) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.tree.Len() == 0 {
		return nil
	}

	out := make([]Node, 0, count)
	seen := make(map[string]struct{}, count)

	// Walk clockwise starting from the first position >= h, wrapping to
	// the minimum position when none is greater.
	visit := func(item btree.Item) bool {
		p := item.(position)
		if _, ok := seen[p.nodeID]; !ok {
			seen[p.nodeID] = struct{}{}
			out = append(out, r.nodes[p.nodeID])
		}
		return len(out) < count
	}

	r.tree.AscendGreaterOrEqual(position{hash: h, nodeID: ""}, visit)
	if len(out) < count {
		r.tree.Ascend(func(item btree.Item) bool {
			p := item.(position)
			if p.hash >= h {
				// Already covered by the AscendGreaterOrEqual pass above
				// for positions with hash == h and nodeID >= "" (all of
				// them); stop wrapping once we would re-cover that span.
				return false
			}
			return visit(item)
		})
	}
	return out
}

// Hash exposes the ring's hash function for callers (e.g. replication)
// that need to reason about a key's ring position directly.
func Hash(key string) uint64 {
	return hashKey(key)
}
