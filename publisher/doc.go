// Package publisher is the commit feed: every non-empty partition update a
// node commits as Paxos coordinator is appended to a local durable log and
// delivered to external sinks (Kafka, NATS JetStream).
//
// # PublishLog
//
// PublishLog stores CommitEvents in a Pebble database under monotonically
// increasing sequence numbers. Each sink has a persisted cursor, so a
// restarted node resumes delivery where it stopped. Entries every sink has
// consumed are removed in the background.
//
// Key layout:
//
//	/publog/{seq:016x}       -> msgpack(CommitEvent)
//	/pubcursor/{sinkName}    -> uint64 (cursor)
//	/pubseq                  -> uint64 (last sequence)
//
// # Delivery
//
// A Worker per sink reads the log in order, filters events by keyspace and
// table globs and publishes them to the topic {prefix}.{keyspace}.{table},
// keyed by the hex encoded partition key. Delivery is at least once. A
// partition deletion is followed by a tombstone (nil value).
//
// Sinks register themselves by type with RegisterSink; importing
// publisher/sink registers "kafka", "nats" and "mock".
package publisher
