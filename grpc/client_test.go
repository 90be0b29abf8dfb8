package grpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/db"
	"github.com/maxpert/lwt/engine"
	"github.com/maxpert/lwt/hlc"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/replica"
	"github.com/maxpert/lwt/schema"
	"github.com/maxpert/lwt/statement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var counters = schema.NewTable("ks", "counters").
	PartitionKey("k", cql.Int).
	Column("v", cql.Int).
	MustBuild()

type testNode struct {
	id      uint64
	server  *Server
	client  *Client
	handler *replica.Handler
}

// startCluster runs one replica server per node id on loopback ports and
// gives every node a client that knows all of them
func startCluster(t *testing.T, secret string, ids ...uint64) map[uint64]*testNode {
	t.Helper()
	nodes := make(map[uint64]*testNode, len(ids))
	for _, id := range ids {
		h := replica.NewHandler(id, db.NewMemoryStore())
		s := NewServer(ServerConfig{NodeID: id, Address: "127.0.0.1", ClusterSecret: secret, CompressionLevel: 1}, h)
		s.SetHTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "node %d", id)
		}))
		require.NoError(t, s.Start())
		t.Cleanup(s.Stop)
		nodes[id] = &testNode{id: id, server: s, handler: h}
	}
	for _, n := range nodes {
		local := coordinator.NewLocalTransport()
		local.Register(n.id, n.handler)
		n.client = NewClient(n.id, local, ClientConfig{CompressionLevel: 1, ClusterSecret: secret})
		for _, peer := range nodes {
			n.client.AddPeer(peer.id, peer.server.Addr().String())
		}
		t.Cleanup(func() { _ = n.client.Close() })
	}
	return nodes
}

func testEngine(t *testing.T, n *testNode, ids ...uint64) *engine.Engine {
	t.Helper()
	config := coordinator.Config{
		PrepareTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		ProposeTimeout: 2 * time.Second,
		CommitTimeout:  2 * time.Second,
	}
	c := coordinator.NewCASCoordinator(n.id, hlc.NewClock(n.id), coordinator.NewStaticNodeProvider(ids...), n.client, config)
	e, err := engine.NewEngine(c, 16)
	require.NoError(t, err)
	return e
}

func TestClient_ConditionalWritesAcrossProcesses(t *testing.T) {
	nodes := startCluster(t, "", 1, 2, 3)
	e1 := testEngine(t, nodes[1], 1, 2, 3)
	e2 := testEngine(t, nodes[2], 1, 2, 3)
	ctx := context.Background()

	res, err := e1.Execute(ctx, statement.NewInsert(counters).Value("k", "1").Value("v", "10").IfNotExists())
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, res.Strings())

	res, err = e2.Execute(ctx, statement.NewUpdate(counters).Where("k", "1").Set("v", "11").If("v = 9"))
	require.NoError(t, err)
	assert.Equal(t, []string{"false, 10"}, res.Strings())

	res, err = e2.Execute(ctx, statement.NewUpdate(counters).Where("k", "1").Set("v", "11").If("v = 10"))
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, res.Strings())

	rows, err := e1.SelectSerial(ctx, counters, cql.IntValue(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"1, 11"}, rows.Strings())

	// Every replica holds the commit
	key := paxos.Key{Table: counters.String(), Partition: []*cql.Value{cql.IntValue(1)}}
	for id, n := range nodes {
		read, err := n.client.Read(ctx, 3, &paxos.ReadRequest{Key: key})
		require.NoError(t, err, "node %d", id)
		require.NotNil(t, read.Partition)

		state, err := nodes[1].client.State(ctx, id, &paxos.StateRequest{Key: key})
		require.NoError(t, err)
		require.NotNil(t, state.State.MostRecentCommit, "node %d", id)
	}
}

func TestClient_ToleratesStoppedReplica(t *testing.T) {
	nodes := startCluster(t, "", 1, 2, 3)
	nodes[3].server.Stop()

	e := testEngine(t, nodes[1], 1, 2, 3)
	res, err := e.Execute(context.Background(), statement.NewInsert(counters).Value("k", "2").Value("v", "1").IfNotExists())
	require.NoError(t, err)
	assert.True(t, res.Applied())
}

func TestClient_UnreachablePeer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewClient(1, coordinator.NewLocalTransport(), ClientConfig{})
	defer c.Close()
	c.AddPeer(2, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Prepare(ctx, 2, &paxos.PrepareRequest{Key: paxos.Key{Table: "ks.t"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coordinator.ErrNodeUnavailable), err.Error())

	_, err = c.Prepare(ctx, 9, &paxos.PrepareRequest{Key: paxos.Key{Table: "ks.t"}})
	assert.True(t, errors.Is(err, coordinator.ErrNodeUnavailable))
}

func TestServer_ClusterSecret(t *testing.T) {
	nodes := startCluster(t, "s3cret", 1, 2)
	key := paxos.Key{Table: "ks.t", Partition: []*cql.Value{cql.IntValue(1)}}
	ctx := context.Background()

	_, err := nodes[1].client.State(ctx, 2, &paxos.StateRequest{Key: key})
	require.NoError(t, err)

	intruder := NewClient(9, coordinator.NewLocalTransport(), ClientConfig{ClusterSecret: "guess"})
	defer intruder.Close()
	intruder.AddPeer(2, nodes[2].server.Addr().String())
	_, err = intruder.State(ctx, 2, &paxos.StateRequest{Key: key})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cluster secret")
	assert.False(t, errors.Is(err, coordinator.ErrNodeUnavailable))
}

func TestServer_SharesPortWithHTTP(t *testing.T) {
	nodes := startCluster(t, "", 1)
	resp, err := http.Get("http://" + nodes[1].server.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "node 1", string(body))
}

func TestCompressor_RoundTrip(t *testing.T) {
	c := &zstdCompressor{level: configLevelToZstd(2)}
	payload := []byte("prepare prepare prepare prepare prepare")

	var buf bytes.Buffer
	w, err := c.Compress(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := c.Decompress(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestServer_StopRightAfterStart(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := NewServer(ServerConfig{NodeID: 1, Address: "127.0.0.1"}, replica.NewHandler(1, db.NewMemoryStore()))
		require.NoError(t, s.Start())
		s.Stop()
		s.Stop()
	}
	// Serve goroutines of stopped servers must exit without crashing
	time.Sleep(50 * time.Millisecond)
}
