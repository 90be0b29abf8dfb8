package admin

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/paxos"
)

type replicaStateJSON struct {
	NodeID           uint64        `json:"node_id"`
	Promised         ballotJSON    `json:"promised"`
	Accepted         *proposalJSON `json:"accepted,omitempty"`
	MostRecentCommit *proposalJSON `json:"most_recent_commit,omitempty"`
	InProgress       bool          `json:"in_progress"`
}

// parsePartitionKey reads the hex msgpack form of partition key values, the
// suffix of a paxos.Key rendered with String
func parsePartitionKey(keyspace, table, key string) (paxos.Key, error) {
	b, err := hex.DecodeString(key)
	if err != nil {
		return paxos.Key{}, fmt.Errorf("partition key must be hex: %w", err)
	}
	var values []*cql.Value
	if err := encoding.Unmarshal(b, &values); err != nil {
		return paxos.Key{}, fmt.Errorf("invalid partition key: %w", err)
	}
	if len(values) == 0 {
		return paxos.Key{}, fmt.Errorf("partition key has no values")
	}
	return paxos.Key{Table: keyspace + "." + table, Partition: values}, nil
}

// handlePaxosState handles GET /admin/paxos/{keyspace}/{table}/{key}
func (h *AdminHandlers) handlePaxosState(w http.ResponseWriter, r *http.Request) {
	key, err := parsePartitionKey(chi.URLParam(r, "keyspace"), chi.URLParam(r, "table"), chi.URLParam(r, "key"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	states, err := h.coordinator.Inspect(r.Context(), key)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	out := make([]replicaStateJSON, 0, len(states))
	for nodeID, s := range states {
		rs := replicaStateJSON{NodeID: nodeID}
		if s != nil {
			rs.Promised = renderBallot(s.Promised)
			rs.Accepted = renderProposal(s.Accepted)
			rs.MostRecentCommit = renderProposal(s.MostRecentCommit)
			rs.InProgress = s.InProgress() != nil
		}
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })

	writeJSONResponse(w, map[string]interface{}{
		"partition": key.String(),
		"replicas":  out,
	})
}
