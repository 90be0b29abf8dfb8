package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/lwt/db"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

// Sharded locks serialize acceptor updates per partition
const lockShards = 256

// Handler is the Paxos acceptor of one node. Every request for a partition
// runs under that partition's lock so that read-modify-write of the acceptor
// record and the committed data is atomic.
type Handler struct {
	nodeID uint64
	store  db.Store
	locks  [lockShards]sync.Mutex
}

// NewHandler creates an acceptor backed by store
func NewHandler(nodeID uint64, store db.Store) *Handler {
	return &Handler{nodeID: nodeID, store: store}
}

// NodeID returns the node this acceptor runs on
func (h *Handler) NodeID() uint64 {
	return h.nodeID
}

func (h *Handler) lockFor(key []byte) *sync.Mutex {
	return &h.locks[xxhash.Sum64(key)%lockShards]
}

func (h *Handler) withState(ctx context.Context, phase string, k paxos.Key, fn func(key []byte, state *paxos.State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := k.Bytes()
	if err != nil {
		return err
	}

	mu := h.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	state, err := h.store.ReadState(key)
	if err != nil {
		telemetry.ReplicaRequestsTotal.With(phase, "error").Inc()
		return fmt.Errorf("read paxos state for %s: %w", k, err)
	}
	if err := fn(key, state); err != nil {
		telemetry.ReplicaRequestsTotal.With(phase, "error").Inc()
		return err
	}
	return nil
}

// Prepare promises the ballot if it is the highest seen for the partition
func (h *Handler) Prepare(ctx context.Context, req *paxos.PrepareRequest) (*paxos.PrepareResponse, error) {
	var resp paxos.PrepareResponse
	err := h.withState(ctx, "prepare", req.Key, func(key []byte, state *paxos.State) error {
		resp = state.Prepare(req.Ballot)
		if !resp.Promise {
			telemetry.ReplicaRequestsTotal.With("prepare", "rejected").Inc()
			log.Debug().
				Uint64("node_id", h.nodeID).
				Stringer("partition", req.Key).
				Stringer("ballot", req.Ballot).
				Stringer("promised", state.Promised).
				Msg("Prepare rejected")
			return nil
		}
		if err := h.store.Write(key, db.Write{State: state}); err != nil {
			return fmt.Errorf("persist promise for %s: %w", req.Key, err)
		}
		telemetry.ReplicaRequestsTotal.With("prepare", "promised").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Propose accepts the proposal unless a higher ballot was promised
func (h *Handler) Propose(ctx context.Context, req *paxos.ProposeRequest) (*paxos.ProposeResponse, error) {
	if req.Proposal == nil {
		return nil, fmt.Errorf("propose for %s without a proposal", req.Key)
	}
	var resp paxos.ProposeResponse
	err := h.withState(ctx, "propose", req.Key, func(key []byte, state *paxos.State) error {
		resp = state.Propose(req.Proposal)
		if !resp.Accepted {
			telemetry.ReplicaRequestsTotal.With("propose", "rejected").Inc()
			log.Debug().
				Uint64("node_id", h.nodeID).
				Stringer("partition", req.Key).
				Stringer("ballot", req.Proposal.Ballot).
				Stringer("promised", state.Promised).
				Msg("Proposal rejected")
			return nil
		}
		if err := h.store.Write(key, db.Write{State: state}); err != nil {
			return fmt.Errorf("persist accepted proposal for %s: %w", req.Key, err)
		}
		telemetry.ReplicaRequestsTotal.With("propose", "accepted").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Commit merges the decided update into the partition and records it
func (h *Handler) Commit(ctx context.Context, req *paxos.CommitRequest) (*paxos.CommitResponse, error) {
	if req.Proposal == nil {
		return nil, fmt.Errorf("commit for %s without a proposal", req.Key)
	}
	var resp paxos.CommitResponse
	err := h.withState(ctx, "commit", req.Key, func(key []byte, state *paxos.State) error {
		resp.Applied = state.Commit(req.Proposal)

		w := db.Write{State: state}
		if !req.Proposal.IsEmpty() {
			current, err := h.store.ReadPartition(key)
			if err != nil {
				return fmt.Errorf("read partition %s: %w", req.Key, err)
			}
			w.Data = row.Merge(current, req.Proposal.Update)
		}
		if err := h.store.Write(key, w); err != nil {
			return fmt.Errorf("persist commit for %s: %w", req.Key, err)
		}
		telemetry.ReplicaRequestsTotal.With("commit", "committed").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Read returns the committed partition, nil when it was never written
func (h *Handler) Read(ctx context.Context, req *paxos.ReadRequest) (*paxos.ReadResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := req.Key.Bytes()
	if err != nil {
		return nil, err
	}
	p, err := h.store.ReadPartition(key)
	if err != nil {
		telemetry.ReplicaRequestsTotal.With("read", "error").Inc()
		return nil, fmt.Errorf("read partition %s: %w", req.Key, err)
	}
	telemetry.ReplicaRequestsTotal.With("read", "ok").Inc()
	return &paxos.ReadResponse{Partition: p}, nil
}

// State returns the acceptor record of a partition
func (h *Handler) State(ctx context.Context, req *paxos.StateRequest) (*paxos.StateResponse, error) {
	var resp paxos.StateResponse
	err := h.withState(ctx, "state", req.Key, func(_ []byte, state *paxos.State) error {
		resp.State = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
