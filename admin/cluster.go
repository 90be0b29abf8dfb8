package admin

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/lwt/coordinator"
	"github.com/rs/zerolog/log"
)

type memberJSON struct {
	NodeID uint64 `json:"node_id"`
	Alive  bool   `json:"alive"`
	Self   bool   `json:"self"`
}

type clusterJSON struct {
	Members         []memberJSON `json:"members"`
	TotalMembership int          `json:"total_membership"`
	Alive           int          `json:"alive"`
	RequiredQuorum  int          `json:"required_quorum"`
	QuorumAvailable bool         `json:"quorum_available"`
}

func (h *AdminHandlers) cluster() clusterJSON {
	members := h.members.Members()
	out := clusterJSON{
		Members:         make([]memberJSON, 0, len(members)),
		TotalMembership: len(members),
		RequiredQuorum:  coordinator.QuorumSize(len(members)),
	}
	for id, alive := range members {
		out.Members = append(out.Members, memberJSON{NodeID: id, Alive: alive, Self: id == h.nodeID})
		if alive {
			out.Alive++
		}
	}
	sort.Slice(out.Members, func(i, j int) bool { return out.Members[i].NodeID < out.Members[j].NodeID })
	out.QuorumAvailable = out.Alive >= out.RequiredQuorum
	return out
}

// handleHealth handles GET /health. It answers 503 while too few members are
// alive for any round to reach quorum.
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	c := h.cluster()
	if !c.QuorumAvailable {
		writeErrorResponse(w, http.StatusServiceUnavailable, "quorum unavailable")
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"status":  "ok",
		"node_id": h.nodeID,
		"alive":   c.Alive,
	})
}

// handleClusterMembers handles GET /admin/cluster
func (h *AdminHandlers) handleClusterMembers(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.cluster())
}

// handleMemberStatus handles POST /admin/cluster/{nodeID}/down and /up.
// Members marked down are left out of rounds coordinated by this node.
func (h *AdminHandlers) handleMemberStatus(alive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID, err := parseNodeID(chi.URLParam(r, "nodeID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, known := h.members.Members()[nodeID]; !known {
			writeErrorResponse(w, http.StatusNotFound, "unknown node")
			return
		}
		h.members.SetAlive(nodeID, alive)
		log.Info().Uint64("node_id", nodeID).Bool("alive", alive).Msg("Member status changed by operator")
		writeJSONResponse(w, map[string]interface{}{"node_id": nodeID, "alive": alive})
	}
}
