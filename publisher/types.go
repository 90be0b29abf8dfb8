package publisher

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
)

// CommitEvent is one committed partition update. Events of one partition
// appear in ballot order.
type CommitEvent struct {
	SeqNum      uint64         `msgpack:"seq"`  // Position in the publish log
	Keyspace    string         `msgpack:"ks"`   // Keyspace name
	Table       string         `msgpack:"tbl"`  // Table name
	Key         string         `msgpack:"key"`  // Hex msgpack partition key values
	Ballot      paxos.Ballot   `msgpack:"bal"`  // Ballot the update committed under
	CommitTS    int64          `msgpack:"ts"`   // Cell timestamp, unix micros
	Coordinator uint64         `msgpack:"node"` // Node that ran the round
	Update      *row.Partition `msgpack:"upd"`
}

// NewCommitEvent describes proposal committed on key by coordinator
func NewCommitEvent(key paxos.Key, proposal *paxos.Proposal, coordinator uint64) (CommitEvent, error) {
	keyspace, table, ok := strings.Cut(key.Table, ".")
	if !ok {
		return CommitEvent{}, fmt.Errorf("table %q is not keyspace qualified", key.Table)
	}
	pk, err := encoding.Marshal(key.Partition)
	if err != nil {
		return CommitEvent{}, fmt.Errorf("encode partition key: %w", err)
	}
	return CommitEvent{
		Keyspace:    keyspace,
		Table:       table,
		Key:         hex.EncodeToString(pk),
		Ballot:      proposal.Ballot,
		CommitTS:    proposal.Ballot.Micros(),
		Coordinator: coordinator,
		Update:      proposal.Update,
	}, nil
}

// DeletesPartition reports whether the update removes the whole partition
func (e *CommitEvent) DeletesPartition() bool {
	return e.Update != nil && e.Update.Deletion != 0
}

// Sink represents a destination for commit events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink; a nil value is a tombstone
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter determines whether a commit event should be published
type Filter interface {
	Match(keyspace, table string) bool
}
