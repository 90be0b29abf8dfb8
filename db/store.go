package db

import (
	"errors"

	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
)

// ErrClosed is returned by stores after Close
var ErrClosed = errors.New("store is closed")

// Write is one atomic update of a partition's records. Nil fields are left
// untouched.
type Write struct {
	State *paxos.State
	Data  *row.Partition
}

// Store persists, per partition, the committed data and the Paxos acceptor
// state. Keys are paxos.Key.Bytes(). Callers serialize writes per key; the
// store only guarantees that each Write lands atomically.
type Store interface {
	ReadState(key []byte) (*paxos.State, error)
	ReadPartition(key []byte) (*row.Partition, error)
	Write(key []byte, w Write) error
	// RangeStates visits every stored acceptor record until fn returns false
	RangeStates(fn func(key []byte, state *paxos.State) bool) error
	Close() error
}
