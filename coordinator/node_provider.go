package coordinator

import (
	"sort"

	"github.com/maxpert/lwt/cfg"
	"github.com/puzpuzpuz/xsync/v3"
)

// NodeProvider provides access to the replicas of the cluster. Every node
// replicates every partition.
type NodeProvider interface {
	// GetAliveNodes returns all ALIVE nodes, sorted by id
	GetAliveNodes() ([]uint64, error)

	// GetClusterSize returns the number of alive nodes
	GetClusterSize() int

	// GetTotalMembershipSize returns the total configured membership. Quorum
	// is a majority of this, not of the reachable nodes.
	GetTotalMembershipSize() int
}

// StaticNodeProvider is a fixed membership read from configuration. Nodes
// start alive; transports and operators flip them with SetAlive.
type StaticNodeProvider struct {
	alive *xsync.MapOf[uint64, bool]
}

var _ NodeProvider = (*StaticNodeProvider)(nil)

// NewStaticNodeProvider creates a provider for the given node ids
func NewStaticNodeProvider(nodeIDs ...uint64) *StaticNodeProvider {
	p := &StaticNodeProvider{alive: xsync.NewMapOf[uint64, bool]()}
	for _, id := range nodeIDs {
		p.alive.Store(id, true)
	}
	return p
}

// NodeProviderFromConfig builds the membership of self plus configured peers
func NodeProviderFromConfig(c *cfg.Configuration) *StaticNodeProvider {
	ids := []uint64{c.NodeID}
	for _, peer := range c.Cluster.Peers {
		ids = append(ids, peer.NodeID)
	}
	return NewStaticNodeProvider(ids...)
}

// SetAlive marks a member up or down; unknown ids are ignored
func (p *StaticNodeProvider) SetAlive(nodeID uint64, alive bool) {
	p.alive.Compute(nodeID, func(old bool, loaded bool) (bool, bool) {
		return alive, !loaded
	})
}

func (p *StaticNodeProvider) GetAliveNodes() ([]uint64, error) {
	nodes := make([]uint64, 0, p.alive.Size())
	p.alive.Range(func(id uint64, alive bool) bool {
		if alive {
			nodes = append(nodes, id)
		}
		return true
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes, nil
}

func (p *StaticNodeProvider) GetClusterSize() int {
	nodes, _ := p.GetAliveNodes()
	return len(nodes)
}

func (p *StaticNodeProvider) GetTotalMembershipSize() int {
	return p.alive.Size()
}

// Members returns every configured node id with its liveness
func (p *StaticNodeProvider) Members() map[uint64]bool {
	out := make(map[uint64]bool, p.alive.Size())
	p.alive.Range(func(id uint64, alive bool) bool {
		out[id] = alive
		return true
	})
	return out
}

// QuorumAvailable reports whether a majority of the membership is alive
func (p *StaticNodeProvider) QuorumAvailable() bool {
	return IsQuorumAchieved(p.GetClusterSize(), p.GetTotalMembershipSize())
}
