package coordinator

import (
	"context"
	"fmt"

	"github.com/maxpert/lwt/paxos"
	"github.com/puzpuzpuz/xsync/v3"
)

// FaultFunc decides whether a message of phase to nodeID fails. A non-nil
// error is returned to the caller instead of delivering the message.
type FaultFunc func(nodeID uint64, phase string) error

// LocalTransport delivers messages to in-process acceptors. The local node
// always uses it for itself; single-process clusters use it for every node.
type LocalTransport struct {
	acceptors *xsync.MapOf[uint64, Acceptor]
	down      *xsync.MapOf[uint64, bool]
	fault     FaultFunc
}

var _ Transport = (*LocalTransport)(nil)

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		acceptors: xsync.NewMapOf[uint64, Acceptor](),
		down:      xsync.NewMapOf[uint64, bool](),
	}
}

// Register adds the acceptor of a node
func (t *LocalTransport) Register(nodeID uint64, a Acceptor) {
	t.acceptors.Store(nodeID, a)
}

// Isolate makes every message to nodeID fail with ErrNodeUnavailable
func (t *LocalTransport) Isolate(nodeID uint64) {
	t.down.Store(nodeID, true)
}

// Heal reverts Isolate
func (t *LocalTransport) Heal(nodeID uint64) {
	t.down.Delete(nodeID)
}

// SetFault installs a fault injector. It must be set before messages flow.
func (t *LocalTransport) SetFault(fn FaultFunc) {
	t.fault = fn
}

func (t *LocalTransport) acceptor(ctx context.Context, nodeID uint64, phase string) (Acceptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if down, _ := t.down.Load(nodeID); down {
		return nil, fmt.Errorf("%s to node %d: %w", phase, nodeID, ErrNodeUnavailable)
	}
	if t.fault != nil {
		if err := t.fault(nodeID, phase); err != nil {
			return nil, err
		}
	}
	a, ok := t.acceptors.Load(nodeID)
	if !ok {
		return nil, fmt.Errorf("%s to unknown node %d: %w", phase, nodeID, ErrNodeUnavailable)
	}
	return a, nil
}

func (t *LocalTransport) Prepare(ctx context.Context, nodeID uint64, req *paxos.PrepareRequest) (*paxos.PrepareResponse, error) {
	a, err := t.acceptor(ctx, nodeID, PhasePrepare)
	if err != nil {
		return nil, err
	}
	return a.Prepare(ctx, req)
}

func (t *LocalTransport) Propose(ctx context.Context, nodeID uint64, req *paxos.ProposeRequest) (*paxos.ProposeResponse, error) {
	a, err := t.acceptor(ctx, nodeID, PhasePropose)
	if err != nil {
		return nil, err
	}
	return a.Propose(ctx, req)
}

func (t *LocalTransport) Commit(ctx context.Context, nodeID uint64, req *paxos.CommitRequest) (*paxos.CommitResponse, error) {
	a, err := t.acceptor(ctx, nodeID, PhaseCommit)
	if err != nil {
		return nil, err
	}
	return a.Commit(ctx, req)
}

func (t *LocalTransport) Read(ctx context.Context, nodeID uint64, req *paxos.ReadRequest) (*paxos.ReadResponse, error) {
	a, err := t.acceptor(ctx, nodeID, PhaseRead)
	if err != nil {
		return nil, err
	}
	return a.Read(ctx, req)
}

func (t *LocalTransport) State(ctx context.Context, nodeID uint64, req *paxos.StateRequest) (*paxos.StateResponse, error) {
	a, err := t.acceptor(ctx, nodeID, "state")
	if err != nil {
		return nil, err
	}
	return a.State(ctx, req)
}
