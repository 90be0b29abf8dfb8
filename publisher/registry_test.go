package publisher

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	registrySinks   = map[string]*mockSink{}
	registrySinksMu sync.Mutex
)

func init() {
	RegisterSink("registry-test", func(config cfg.SinkConfiguration) (Sink, error) {
		registrySinksMu.Lock()
		defer registrySinksMu.Unlock()
		s := &mockSink{}
		registrySinks[config.Name] = s
		return s, nil
	})
}

func registrySink(name string) *mockSink {
	registrySinksMu.Lock()
	defer registrySinksMu.Unlock()
	return registrySinks[name]
}

func balanceUpdate(id, balance int64, ts int64) *row.Partition {
	p := row.NewPartition([]*cql.Value{cql.IntValue(id)})
	p.Writable(nil).SetCell("balance", row.NewCell(cql.IntValue(balance), ts, 0, time.Now()))
	return p
}

func TestNewRegistry(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.EqualError(t, err, "data directory is required")

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	assert.ErrorContains(t, err, "unknown sink type: carrier-pigeon")

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "bad-filter", Type: "registry-test", FilterTables: []string{"[z-a]"}}},
	})
	assert.ErrorContains(t, err, "invalid table pattern")
}

func TestRegistryLifecycle(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		NodeID:      1,
		SinkConfigs: []cfg.SinkConfiguration{{Name: "life", Type: "registry-test", PollIntervalMS: 10}},
	})
	require.NoError(t, err)

	require.NoError(t, reg.Start())
	assert.EqualError(t, reg.Start(), "registry already running")

	reg.Stop()
	reg.Stop()
	assert.True(t, registrySink("life").closed.Load())
}

func TestRegistryRecordDelivers(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{
		DataDir: t.TempDir(),
		NodeID:  2,
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "all", Type: "registry-test", TopicPrefix: "cdc", PollIntervalMS: 10},
			{Name: "ledger-only", Type: "registry-test", FilterTables: []string{"ledger"}, PollIntervalMS: 10},
		},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Start())
	defer reg.Stop()

	key := paxos.Key{Table: "bank.accounts", Partition: []*cql.Value{cql.IntValue(5)}}
	ballot := paxos.Ballot{WallTime: time.Now().UnixNano(), NodeID: 2}
	reg.Record(key, &paxos.Proposal{Ballot: ballot, Update: balanceUpdate(5, 100, ballot.Micros())})
	reg.Record(paxos.Key{Table: "unqualified"}, &paxos.Proposal{Ballot: ballot})

	all := registrySink("all")
	calls := waitForCalls(t, all, 1)
	assert.Equal(t, "cdc.bank.accounts", calls[0].topic)

	pk, err := encoding.Marshal(key.Partition)
	require.NoError(t, err)
	var event CommitEvent
	require.NoError(t, encoding.Unmarshal(calls[0].value, &event))
	assert.Equal(t, "bank", event.Keyspace)
	assert.Equal(t, uint64(2), event.Coordinator)
	assert.Equal(t, ballot.Micros(), event.CommitTS)
	assert.Equal(t, calls[0].key, event.Key)
	assert.Equal(t, hex.EncodeToString(pk), event.Key)
	assert.Equal(t, int64(100), event.Update.Rows[0].Cells["balance"].Value.Int)

	require.Eventually(t, func() bool {
		lag := reg.SinkLag()
		return lag["all"] == 0 && lag["ledger-only"] == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, registrySink("ledger-only").getCalls())
}

func TestRegistryAddSinkWhileRunning(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{DataDir: t.TempDir(), NodeID: 1})
	require.NoError(t, err)
	require.NoError(t, reg.Start())
	defer reg.Stop()

	key := paxos.Key{Table: "bank.accounts", Partition: []*cql.Value{cql.IntValue(1)}}
	ballot := paxos.Ballot{WallTime: time.Now().UnixNano(), NodeID: 1}
	reg.Record(key, &paxos.Proposal{Ballot: ballot, Update: balanceUpdate(1, 1, ballot.Micros())})

	require.NoError(t, reg.AddSink(cfg.SinkConfiguration{Name: "late", Type: "registry-test", PollIntervalMS: 10}))
	waitForCalls(t, registrySink("late"), 1)
}
