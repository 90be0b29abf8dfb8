package coordinator

//go:generate mockgen -destination=transport_mock.go -package=coordinator -source=transport.go

import (
	"context"

	"github.com/maxpert/lwt/paxos"
)

// Acceptor is the replica side of the protocol, implemented by replica.Handler
type Acceptor interface {
	Prepare(ctx context.Context, req *paxos.PrepareRequest) (*paxos.PrepareResponse, error)
	Propose(ctx context.Context, req *paxos.ProposeRequest) (*paxos.ProposeResponse, error)
	Commit(ctx context.Context, req *paxos.CommitRequest) (*paxos.CommitResponse, error)
	Read(ctx context.Context, req *paxos.ReadRequest) (*paxos.ReadResponse, error)
	State(ctx context.Context, req *paxos.StateRequest) (*paxos.StateResponse, error)
}

// Transport delivers protocol messages to the acceptor of a node
type Transport interface {
	Prepare(ctx context.Context, nodeID uint64, req *paxos.PrepareRequest) (*paxos.PrepareResponse, error)
	Propose(ctx context.Context, nodeID uint64, req *paxos.ProposeRequest) (*paxos.ProposeResponse, error)
	Commit(ctx context.Context, nodeID uint64, req *paxos.CommitRequest) (*paxos.CommitResponse, error)
	Read(ctx context.Context, nodeID uint64, req *paxos.ReadRequest) (*paxos.ReadResponse, error)
	State(ctx context.Context, nodeID uint64, req *paxos.StateRequest) (*paxos.StateResponse, error)
}
