package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/hlc"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

// Outcome is the result of one conditional write round
type Outcome uint8

const (
	// Applied means the conditions held and the update is committed
	Applied Outcome = iota
	// Rejected means the conditions did not hold; nothing was written
	Rejected
	// Indeterminate means the round failed after it may have proposed. The
	// update may or may not become visible.
	Indeterminate
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	default:
		return "indeterminate"
	}
}

// DecideFunc runs once per round between READ and PROPOSE. It gets the
// reconciled snapshot of the partition (nil if it was never written) and the
// write timestamp of the round, and returns the update to commit and whether
// the conditions held. The update is ignored when they did not.
type DecideFunc func(snapshot *row.Partition, ts int64) (update *row.Partition, applies bool, err error)

// CommitListener observes every non-empty proposal committed by the coordinator
type CommitListener func(key paxos.Key, proposal *paxos.Proposal)

// Config holds the phase deadlines of a round
type Config struct {
	PrepareTimeout time.Duration
	ReadTimeout    time.Duration
	ProposeTimeout time.Duration
	CommitTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PrepareTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		ProposeTimeout: 2 * time.Second,
		CommitTimeout:  2 * time.Second,
	}
}

// ConfigFrom converts the [paxos] configuration section
func ConfigFrom(c cfg.PaxosConfiguration) Config {
	return Config{
		PrepareTimeout: cfg.Timeout(c.PrepareTimeoutMS),
		ReadTimeout:    cfg.Timeout(c.ReadTimeoutMS),
		ProposeTimeout: cfg.Timeout(c.ProposeTimeoutMS),
		CommitTimeout:  cfg.Timeout(c.CommitTimeoutMS),
	}
}

// CASCoordinator runs single-decree Paxos rounds on behalf of conditional
// writes. Rounds on different partitions share nothing; rounds on the same
// partition are ordered by their ballots. The coordinator never retries.
type CASCoordinator struct {
	nodeID       uint64
	clock        *hlc.Clock
	nodeProvider NodeProvider
	transport    Transport
	config       Config
	listener     CommitListener
}

func NewCASCoordinator(nodeID uint64, clock *hlc.Clock, nodeProvider NodeProvider, transport Transport, config Config) *CASCoordinator {
	return &CASCoordinator{
		nodeID:       nodeID,
		clock:        clock,
		nodeProvider: nodeProvider,
		transport:    transport,
		config:       config,
	}
}

// SetCommitListener installs the commit feed hook. Call before serving.
func (c *CASCoordinator) SetCommitListener(fn CommitListener) {
	c.listener = fn
}

// NodeProvider returns the membership the coordinator runs rounds over
func (c *CASCoordinator) NodeProvider() NodeProvider {
	return c.nodeProvider
}

type reply[T any] struct {
	nodeID uint64
	resp   T
	err    error
}

// broadcast calls every node concurrently. The channel is buffered for all
// replies so senders never block on a caller that stopped listening.
func broadcast[T any](ctx context.Context, nodes []uint64, call func(context.Context, uint64) (T, error)) <-chan reply[T] {
	ch := make(chan reply[T], len(nodes))
	for _, id := range nodes {
		go func(nodeID uint64) {
			resp, err := call(ctx, nodeID)
			ch <- reply[T]{nodeID: nodeID, resp: resp, err: err}
		}(id)
	}
	return ch
}

// awaitQuorum reads replies until need of them were acked by visit, visit
// fails, every node answered or ctx ends.
func awaitQuorum[T any](ctx context.Context, replies <-chan reply[T], total, need int, visit func(reply[T]) (bool, error)) (acks, answered int, err error) {
	for answered < total {
		select {
		case r := <-replies:
			answered++
			ok, err := visit(r)
			if err != nil {
				return acks, answered, err
			}
			if ok {
				acks++
				if acks >= need {
					return acks, answered, nil
				}
			}
		case <-ctx.Done():
			return acks, answered, ctx.Err()
		}
	}
	return acks, answered, nil
}

// round is the state shared by the phases of one attempt
type round struct {
	key     paxos.Key
	ballot  paxos.Ballot
	cluster *ClusterState
	metrics *CASMetrics
}

func (r *round) failure(phase string, timeout time.Duration, acks int, err error) error {
	if err == nil {
		if acks >= r.cluster.RequiredQuorum {
			return nil
		}
		return &QuorumNotAchievedError{
			Phase:           phase,
			AcksReceived:    acks,
			QuorumRequired:  r.cluster.RequiredQuorum,
			TotalMembership: r.cluster.TotalMembership,
			AliveNodes:      len(r.cluster.AliveNodes),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TimeoutError{
			Phase:          phase,
			Timeout:        timeout,
			AcksReceived:   acks,
			QuorumRequired: r.cluster.RequiredQuorum,
			Cause:          err,
		}
	}
	return err
}

// Attempt runs one round: PREPARE, READ, decide, PROPOSE, COMMIT.
//
// Applied and Rejected are returned only once the proposal is committed by a
// quorum. Every other failure returns Indeterminate with the cause; after a
// prepare-phase ContentionError nothing was proposed. Errors from decide are
// returned unchanged, also before anything was proposed.
func (c *CASCoordinator) Attempt(ctx context.Context, key paxos.Key, decide DecideFunc) (Outcome, error) {
	metrics := NewCASMetrics()

	cluster, err := GetClusterState(c.nodeProvider)
	if err != nil {
		return metrics.RecordOutcome(Indeterminate, err)
	}
	r := &round{
		key:     key,
		ballot:  paxos.Ballot(c.clock.Now()),
		cluster: cluster,
		metrics: metrics,
	}

	log.Trace().
		Uint64("coordinator", c.nodeID).
		Stringer("partition", key).
		Stringer("ballot", r.ballot).
		Int("quorum", cluster.RequiredQuorum).
		Int("alive", len(cluster.AliveNodes)).
		Msg("CAS: starting round")

	promises, err := c.prepare(ctx, r)
	if err != nil {
		return metrics.RecordOutcome(Indeterminate, err)
	}

	mostRecent, inProgress := summarize(promises)
	c.repair(ctx, r, promises, mostRecent)

	snapshot, err := c.read(ctx, r)
	if err != nil {
		return metrics.RecordOutcome(Indeterminate, err)
	}
	if mostRecent != nil {
		snapshot = row.Merge(snapshot, mostRecent.Update)
	}
	var carried *row.Partition
	if inProgress != nil {
		telemetry.PaxosRepairsTotal.With("in_progress").Inc()
		log.Debug().
			Stringer("partition", key).
			Stringer("ballot", r.ballot).
			Stringer("in_progress", inProgress.Ballot).
			Msg("CAS: carrying in-progress proposal")
		carried = inProgress.Update
		snapshot = row.Merge(snapshot, carried)
	}

	ts := r.ballot.Micros()
	if snapshot != nil {
		if last := snapshot.MaxTimestamp(); last >= ts {
			ts = last + 1
		}
	}

	update, applies, err := decide(snapshot, ts)
	if err != nil {
		return metrics.RecordOutcome(Indeterminate, err)
	}
	if !applies {
		update = nil
	}
	proposal := paxos.NewProposal(r.ballot, key.Partition, row.Merge(carried, update))

	if err := c.propose(ctx, r, proposal); err != nil {
		return metrics.RecordOutcome(Indeterminate, err)
	}
	if err := c.commit(ctx, r, proposal); err != nil {
		return metrics.RecordOutcome(Indeterminate, err)
	}

	if c.listener != nil && !proposal.IsEmpty() {
		c.listener(key, proposal)
	}

	outcome := Rejected
	if applies {
		outcome = Applied
	}
	log.Debug().
		Uint64("coordinator", c.nodeID).
		Stringer("partition", key).
		Stringer("ballot", r.ballot).
		Stringer("outcome", outcome).
		Msg("CAS: round committed")
	return metrics.RecordOutcome(outcome, nil)
}

// observe moves the clock past a ballot seen on a replica so the next round
// of this coordinator starts higher
func (c *CASCoordinator) observe(b paxos.Ballot) {
	if !b.IsZero() {
		c.clock.Update(hlc.Timestamp(b))
	}
}

func (c *CASCoordinator) prepare(ctx context.Context, r *round) (map[uint64]*paxos.PrepareResponse, error) {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, c.config.PrepareTimeout)
	defer cancel()

	req := &paxos.PrepareRequest{Key: r.key, Ballot: r.ballot}
	nodes := r.cluster.AliveNodes
	replies := broadcast(pctx, nodes, func(ctx context.Context, nodeID uint64) (*paxos.PrepareResponse, error) {
		return c.transport.Prepare(ctx, nodeID, req)
	})

	promises := make(map[uint64]*paxos.PrepareResponse, len(nodes))
	acks, _, err := awaitQuorum(pctx, replies, len(nodes), r.cluster.RequiredQuorum, func(rep reply[*paxos.PrepareResponse]) (bool, error) {
		if rep.err != nil {
			log.Debug().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", r.key).Msg("CAS: prepare failed")
			return false, nil
		}
		c.observe(rep.resp.Promised)
		if !rep.resp.Promise {
			return false, &ContentionError{Phase: PhasePrepare, NodeID: rep.nodeID, Ballot: r.ballot, Promised: rep.resp.Promised}
		}
		promises[rep.nodeID] = rep.resp
		return true, nil
	})
	r.metrics.RecordPhase(PhasePrepare, time.Since(start), acks)
	if err := r.failure(PhasePrepare, c.config.PrepareTimeout, acks, err); err != nil {
		return nil, err
	}
	return promises, nil
}

// summarize picks the newest commit and the newest accepted proposal that no
// commit has superseded
func summarize(promises map[uint64]*paxos.PrepareResponse) (mostRecent, inProgress *paxos.Proposal) {
	for _, p := range promises {
		if p.MostRecentCommit.NewerThan(mostRecent) {
			mostRecent = p.MostRecentCommit
		}
	}
	for _, p := range promises {
		ip := p.InProgress()
		if ip.NewerThan(inProgress) && ip.NewerThan(mostRecent) {
			inProgress = ip
		}
	}
	return mostRecent, inProgress
}

// repair sends the newest commit to promisers that have not seen it. It is
// best effort; the read that follows layers the commit on top regardless.
func (c *CASCoordinator) repair(ctx context.Context, r *round, promises map[uint64]*paxos.PrepareResponse, mostRecent *paxos.Proposal) {
	if mostRecent == nil {
		return
	}
	var lagging []uint64
	for nodeID, p := range promises {
		if mostRecent.NewerThan(p.MostRecentCommit) {
			lagging = append(lagging, nodeID)
		}
	}
	if len(lagging) == 0 {
		return
	}
	telemetry.PaxosRepairsTotal.With("commit").Add(float64(len(lagging)))

	rctx, cancel := context.WithTimeout(ctx, c.config.CommitTimeout)
	defer cancel()

	req := &paxos.CommitRequest{Key: r.key, Proposal: mostRecent}
	replies := broadcast(rctx, lagging, func(ctx context.Context, nodeID uint64) (*paxos.CommitResponse, error) {
		return c.transport.Commit(ctx, nodeID, req)
	})
	for range lagging {
		select {
		case rep := <-replies:
			if rep.err != nil {
				log.Warn().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", r.key).Msg("CAS: commit repair failed")
			}
		case <-rctx.Done():
			log.Warn().Err(rctx.Err()).Stringer("partition", r.key).Msg("CAS: commit repair timed out")
			return
		}
	}
}

func (c *CASCoordinator) read(ctx context.Context, r *round) (*row.Partition, error) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	defer cancel()

	req := &paxos.ReadRequest{Key: r.key}
	nodes := r.cluster.AliveNodes
	replies := broadcast(rctx, nodes, func(ctx context.Context, nodeID uint64) (*paxos.ReadResponse, error) {
		return c.transport.Read(ctx, nodeID, req)
	})

	var snapshot *row.Partition
	acks, _, err := awaitQuorum(rctx, replies, len(nodes), r.cluster.RequiredQuorum, func(rep reply[*paxos.ReadResponse]) (bool, error) {
		if rep.err != nil {
			log.Debug().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", r.key).Msg("CAS: read failed")
			return false, nil
		}
		snapshot = row.Merge(snapshot, rep.resp.Partition)
		return true, nil
	})
	r.metrics.RecordPhase(PhaseRead, time.Since(start), acks)
	if err := r.failure(PhaseRead, c.config.ReadTimeout, acks, err); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (c *CASCoordinator) propose(ctx context.Context, r *round, proposal *paxos.Proposal) error {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, c.config.ProposeTimeout)
	defer cancel()

	req := &paxos.ProposeRequest{Key: r.key, Proposal: proposal}
	nodes := r.cluster.AliveNodes
	replies := broadcast(pctx, nodes, func(ctx context.Context, nodeID uint64) (*paxos.ProposeResponse, error) {
		return c.transport.Propose(ctx, nodeID, req)
	})

	acks, _, err := awaitQuorum(pctx, replies, len(nodes), r.cluster.RequiredQuorum, func(rep reply[*paxos.ProposeResponse]) (bool, error) {
		if rep.err != nil {
			log.Debug().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", r.key).Msg("CAS: propose failed")
			return false, nil
		}
		if !rep.resp.Accepted {
			c.observe(rep.resp.Promised)
			return false, &ContentionError{Phase: PhasePropose, NodeID: rep.nodeID, Ballot: r.ballot, Promised: rep.resp.Promised}
		}
		return true, nil
	})
	r.metrics.RecordPhase(PhasePropose, time.Since(start), acks)
	return r.failure(PhasePropose, c.config.ProposeTimeout, acks, err)
}

// commit waits for a quorum of commits. Commits to the remaining replicas
// keep going in the background until they answer or the commit deadline.
func (c *CASCoordinator) commit(ctx context.Context, r *round, proposal *paxos.Proposal) error {
	start := time.Now()
	sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), c.config.CommitTimeout)
	waitCtx, cancelWait := context.WithTimeout(ctx, c.config.CommitTimeout)
	defer cancelWait()

	req := &paxos.CommitRequest{Key: r.key, Proposal: proposal}
	nodes := r.cluster.AliveNodes
	replies := broadcast(sendCtx, nodes, func(ctx context.Context, nodeID uint64) (*paxos.CommitResponse, error) {
		return c.transport.Commit(ctx, nodeID, req)
	})

	acks, answered, err := awaitQuorum(waitCtx, replies, len(nodes), r.cluster.RequiredQuorum, func(rep reply[*paxos.CommitResponse]) (bool, error) {
		if rep.err != nil {
			log.Debug().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", r.key).Msg("CAS: commit failed")
			return false, nil
		}
		return true, nil
	})
	r.metrics.RecordPhase(PhaseCommit, time.Since(start), acks)

	go func(pending int) {
		defer cancelSend()
		for ; pending > 0; pending-- {
			if rep := <-replies; rep.err != nil {
				log.Debug().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", r.key).Msg("CAS: background commit failed")
			}
		}
	}(len(nodes) - answered)

	return r.failure(PhaseCommit, c.config.CommitTimeout, acks, err)
}

// Inspect returns the acceptor record of key on every alive node that answers
func (c *CASCoordinator) Inspect(ctx context.Context, key paxos.Key) (map[uint64]*paxos.State, error) {
	nodes, err := c.nodeProvider.GetAliveNodes()
	if err != nil {
		return nil, err
	}
	ictx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	defer cancel()

	req := &paxos.StateRequest{Key: key}
	replies := broadcast(ictx, nodes, func(ctx context.Context, nodeID uint64) (*paxos.StateResponse, error) {
		return c.transport.State(ctx, nodeID, req)
	})
	states := make(map[uint64]*paxos.State, len(nodes))
	_, _, err = awaitQuorum(ictx, replies, len(nodes), len(nodes), func(rep reply[*paxos.StateResponse]) (bool, error) {
		if rep.err != nil {
			log.Debug().Err(rep.err).Uint64("node_id", rep.nodeID).Stringer("partition", key).Msg("Paxos state unavailable")
			return false, nil
		}
		states[rep.nodeID] = rep.resp.State
		return true, nil
	})
	if err != nil && len(states) == 0 {
		return nil, err
	}
	return states, nil
}
