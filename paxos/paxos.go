// Package paxos holds the single-decree Paxos data model used for conditional
// writes: ballots, proposals, the per-partition acceptor state and the
// messages exchanged between a coordinator and its replicas.
package paxos

import (
	"encoding/hex"
	"fmt"

	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/hlc"
	"github.com/maxpert/lwt/row"
)

// Ballot identifies a Paxos round. Ballots are totally ordered by wall time,
// logical counter and node id.
type Ballot hlc.Timestamp

// Compare returns -1, 0 or 1
func (b Ballot) Compare(o Ballot) int {
	return hlc.Compare(hlc.Timestamp(b), hlc.Timestamp(o))
}

func (b Ballot) Less(o Ballot) bool {
	return b.Compare(o) < 0
}

func (b Ballot) IsZero() bool {
	return hlc.Timestamp(b).IsZero()
}

// Micros is the cell timestamp a proposal at this ballot writes with
func (b Ballot) Micros() int64 {
	return hlc.Timestamp(b).Micros()
}

func (b Ballot) String() string {
	return hlc.Timestamp(b).String()
}

// Key addresses one partition of one table
type Key struct {
	Table     string       `msgpack:"t"` // keyspace.table
	Partition []*cql.Value `msgpack:"p"`
}

// Bytes is the storage form of the key: table name, a zero byte, then the
// msgpack encoded partition key values.
func (k Key) Bytes() ([]byte, error) {
	enc, err := encoding.Marshal(k.Partition)
	if err != nil {
		return nil, fmt.Errorf("encode partition key: %w", err)
	}
	out := make([]byte, 0, len(k.Table)+1+len(enc))
	out = append(out, k.Table...)
	out = append(out, 0)
	return append(out, enc...), nil
}

// ParseKey reverses Bytes
func ParseKey(b []byte) (Key, error) {
	for i, c := range b {
		if c != 0 {
			continue
		}
		var values []*cql.Value
		if err := encoding.Unmarshal(b[i+1:], &values); err != nil {
			return Key{}, fmt.Errorf("decode partition key: %w", err)
		}
		return Key{Table: string(b[:i]), Partition: values}, nil
	}
	return Key{}, fmt.Errorf("malformed partition key %x", b)
}

func (k Key) String() string {
	b, err := encoding.Marshal(k.Partition)
	if err != nil {
		return k.Table + "/?"
	}
	return k.Table + "/" + hex.EncodeToString(b)
}

// Proposal is a ballot paired with the partition update it would commit. An
// empty update still advances the most recent commit.
type Proposal struct {
	Ballot Ballot         `msgpack:"b"`
	Update *row.Partition `msgpack:"u,omitempty"`
}

// NewProposal returns a proposal; a nil update is replaced by an empty one
func NewProposal(ballot Ballot, key []*cql.Value, update *row.Partition) *Proposal {
	if update == nil {
		update = row.NewPartition(key)
	}
	return &Proposal{Ballot: ballot, Update: update}
}

// IsEmpty reports whether committing the proposal changes no data
func (p *Proposal) IsEmpty() bool {
	return p == nil || p.Update.IsEmpty()
}

// NewerThan reports whether p was proposed at a higher ballot than q. Any
// proposal is newer than nil.
func (p *Proposal) NewerThan(q *Proposal) bool {
	if p == nil {
		return false
	}
	return q == nil || q.Ballot.Less(p.Ballot)
}

// State is the durable acceptor record of one partition on one replica
type State struct {
	Promised         Ballot    `msgpack:"pr"`
	Accepted         *Proposal `msgpack:"ac,omitempty"`
	MostRecentCommit *Proposal `msgpack:"mrc,omitempty"`
}

// Prepare promises ballot when it is higher than every ballot promised so far.
// The reply carries what a coordinator needs to finish earlier rounds.
func (s *State) Prepare(ballot Ballot) PrepareResponse {
	resp := PrepareResponse{
		Promised:         s.Promised,
		Accepted:         s.Accepted,
		MostRecentCommit: s.MostRecentCommit,
	}
	if s.Promised.Less(ballot) {
		s.Promised = ballot
		resp.Promise = true
		resp.Promised = ballot
	}
	return resp
}

// Propose accepts p unless a higher ballot has been promised
func (s *State) Propose(p *Proposal) ProposeResponse {
	if p.Ballot.Less(s.Promised) {
		return ProposeResponse{Promised: s.Promised}
	}
	s.Promised = p.Ballot
	s.Accepted = p
	return ProposeResponse{Accepted: true, Promised: s.Promised}
}

// Commit records p as decided. It reports whether p is newer than the current
// most recent commit; the caller applies the update to partition data
// regardless, since merging by timestamp is idempotent.
func (s *State) Commit(p *Proposal) bool {
	if s.Accepted != nil && !p.Ballot.Less(s.Accepted.Ballot) {
		s.Accepted = nil
	}
	if !p.NewerThan(s.MostRecentCommit) {
		return false
	}
	s.MostRecentCommit = &Proposal{Ballot: p.Ballot, Update: p.Update}
	return true
}

// InProgress returns the accepted proposal when it has not been committed yet
func (s *State) InProgress() *Proposal {
	if s.Accepted.NewerThan(s.MostRecentCommit) {
		return s.Accepted
	}
	return nil
}
