package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/lwt/paxos"
)

// Paxos phases, as reported in errors and metrics
const (
	PhasePrepare = "prepare"
	PhaseRead    = "read"
	PhasePropose = "propose"
	PhaseCommit  = "commit"
)

// ErrNodeUnavailable is returned by transports for nodes they cannot reach
var ErrNodeUnavailable = errors.New("node unavailable")

// ContentionError is returned when a replica has promised a higher ballot than
// the one of the round. During prepare nothing was proposed and the attempt
// can be retried with a fresh ballot.
type ContentionError struct {
	Phase    string
	NodeID   uint64
	Ballot   paxos.Ballot
	Promised paxos.Ballot
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("%s contention on node %d: ballot %s superseded by %s",
		e.Phase, e.NodeID, e.Ballot, e.Promised)
}

// QuorumNotAchievedError represents a phase that every reachable replica
// answered without a quorum of acks
type QuorumNotAchievedError struct {
	Phase           string
	AcksReceived    int
	QuorumRequired  int
	TotalMembership int
	AliveNodes      int
}

func (e *QuorumNotAchievedError) Error() string {
	return fmt.Sprintf("%s quorum not achieved: got %d acks, need %d (majority of %d total members, %d alive)",
		e.Phase, e.AcksReceived, e.QuorumRequired, e.TotalMembership, e.AliveNodes)
}

// TimeoutError is returned when a phase deadline passes, or the caller's
// context ends, before a quorum answered
type TimeoutError struct {
	Phase          string
	Timeout        time.Duration
	AcksReceived   int
	QuorumRequired int
	Cause          error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s with %d of %d acks: %v",
		e.Phase, e.Timeout, e.AcksReceived, e.QuorumRequired, e.Cause)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// IsContention reports whether err is a ContentionError in any phase
func IsContention(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce)
}

// IsPrepareContention reports contention detected before anything was
// proposed, the only failure after which retrying is always safe
func IsPrepareContention(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce) && ce.Phase == PhasePrepare
}

// IsQuorumError reports whether err is caused by missing replicas
func IsQuorumError(err error) bool {
	var qe *QuorumNotAchievedError
	if errors.As(err, &qe) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}
