package admin

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/paxos"
	"github.com/rs/zerolog/log"
)

// AdminHandlers serves cluster and Paxos state of one node
type AdminHandlers struct {
	nodeID      uint64
	coordinator *coordinator.CASCoordinator
	members     *coordinator.StaticNodeProvider
	secret      string
}

// NewAdminHandlers creates handlers reading through c. secret protects the
// /admin routes; empty disables auth.
func NewAdminHandlers(nodeID uint64, c *coordinator.CASCoordinator, members *coordinator.StaticNodeProvider, secret string) *AdminHandlers {
	return &AdminHandlers{
		nodeID:      nodeID,
		coordinator: c,
		members:     members,
		secret:      secret,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// formatTimestamp converts microseconds to ISO 8601 string
func formatTimestamp(micros int64) string {
	if micros == 0 {
		return ""
	}
	return time.UnixMicro(micros).UTC().Format(time.RFC3339Nano)
}

func parseNodeID(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("node ID is required")
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node ID: %w", err)
	}
	return id, nil
}

type ballotJSON struct {
	WallTime int64  `json:"wall_time"`
	Logical  int32  `json:"logical"`
	NodeID   uint64 `json:"node_id"`
	Time     string `json:"time,omitempty"`
}

func renderBallot(b paxos.Ballot) ballotJSON {
	return ballotJSON{
		WallTime: b.WallTime,
		Logical:  b.Logical,
		NodeID:   b.NodeID,
		Time:     formatTimestamp(b.Micros()),
	}
}

type proposalJSON struct {
	Ballot ballotJSON `json:"ballot"`
	Empty  bool       `json:"empty"`
	Rows   int        `json:"rows"`
	Update string     `json:"update,omitempty"` // base64 msgpack partition
}

func renderProposal(p *paxos.Proposal) *proposalJSON {
	if p == nil {
		return nil
	}
	out := &proposalJSON{Ballot: renderBallot(p.Ballot), Empty: p.IsEmpty()}
	if p.Update != nil {
		out.Rows = len(p.Update.Rows)
		if b, err := encoding.Marshal(p.Update); err == nil {
			out.Update = base64.StdEncoding.EncodeToString(b)
		}
	}
	return out
}
