package coordinator

import (
	"fmt"

	"github.com/maxpert/lwt/telemetry"
)

// ClusterState represents the current state of the cluster for one Paxos round
type ClusterState struct {
	// AliveNodes contains all currently alive node IDs in the cluster
	AliveNodes []uint64

	// TotalMembership is the total configured membership, alive or not
	TotalMembership int

	// RequiredQuorum is the number of replicas each phase needs
	RequiredQuorum int
}

// GetClusterState retrieves the replicas of a round and its quorum size.
//
// Quorum is computed over TOTAL membership, not alive nodes: in a 6-node
// cluster split 3x3 neither side can reach quorum=4. A round is refused
// outright when fewer nodes are alive than the quorum needs.
func GetClusterState(nodeProvider NodeProvider) (*ClusterState, error) {
	aliveNodes, err := nodeProvider.GetAliveNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to get alive nodes: %w", err)
	}

	totalMembership := nodeProvider.GetTotalMembershipSize()
	requiredQuorum := QuorumSize(totalMembership)

	if len(aliveNodes) == 0 || len(aliveNodes) < requiredQuorum {
		telemetry.ClusterQuorumAvailable.Set(0)
		return nil, &QuorumNotAchievedError{
			Phase:           "membership",
			AcksReceived:    len(aliveNodes),
			QuorumRequired:  requiredQuorum,
			TotalMembership: totalMembership,
			AliveNodes:      len(aliveNodes),
		}
	}
	telemetry.ClusterQuorumAvailable.Set(1)

	return &ClusterState{
		AliveNodes:      aliveNodes,
		TotalMembership: totalMembership,
		RequiredQuorum:  requiredQuorum,
	}, nil
}
