package paxos

import "github.com/maxpert/lwt/row"

type PrepareRequest struct {
	Key    Key    `msgpack:"k"`
	Ballot Ballot `msgpack:"b"`
}

// PrepareResponse is a replica's answer to a prepare. Promised is the highest
// ballot the replica has promised after handling the request.
type PrepareResponse struct {
	Promise          bool      `msgpack:"ok"`
	Promised         Ballot    `msgpack:"pr"`
	Accepted         *Proposal `msgpack:"ac,omitempty"`
	MostRecentCommit *Proposal `msgpack:"mrc,omitempty"`
}

// InProgress returns the accepted proposal newer than the most recent commit
func (r *PrepareResponse) InProgress() *Proposal {
	if r.Accepted.NewerThan(r.MostRecentCommit) {
		return r.Accepted
	}
	return nil
}

type ProposeRequest struct {
	Key      Key       `msgpack:"k"`
	Proposal *Proposal `msgpack:"p"`
}

type ProposeResponse struct {
	Accepted bool   `msgpack:"ok"`
	Promised Ballot `msgpack:"pr"`
}

type CommitRequest struct {
	Key      Key       `msgpack:"k"`
	Proposal *Proposal `msgpack:"p"`
}

type CommitResponse struct {
	Applied bool `msgpack:"ok"` // the proposal became the most recent commit
}

type ReadRequest struct {
	Key Key `msgpack:"k"`
}

type ReadResponse struct {
	Partition *row.Partition `msgpack:"p,omitempty"`
}

// StateRequest asks a replica for its acceptor record of a partition
type StateRequest struct {
	Key Key `msgpack:"k"`
}

type StateResponse struct {
	State *State `msgpack:"s"`
}
