// Package node assembles a cluster member: replica store, replica RPC
// server, Paxos coordinator, statement engine, commit feed and the HTTP
// admin surface.
package node

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/maxpert/lwt/admin"
	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/db"
	"github.com/maxpert/lwt/engine"
	lwtgrpc "github.com/maxpert/lwt/grpc"
	"github.com/maxpert/lwt/hlc"
	"github.com/maxpert/lwt/publisher"
	_ "github.com/maxpert/lwt/publisher/sink"
	"github.com/maxpert/lwt/replica"
	"github.com/maxpert/lwt/telemetry"
	"github.com/rs/zerolog/log"
)

const metricsInterval = 10 * time.Second

// Node is a running cluster member
type Node struct {
	config    *cfg.Configuration
	store     db.Store
	server    *lwtgrpc.Server
	client    *lwtgrpc.Client
	members   *coordinator.StaticNodeProvider
	engine    *engine.Engine
	feed      *publisher.Registry
	collector *telemetry.MetricsCollector
}

// Start opens storage and starts serving. Stop must be called on success.
func Start(c *cfg.Configuration) (_ *Node, err error) {
	n := &Node{config: c}
	defer func() {
		if err != nil {
			n.Stop()
		}
	}()

	if n.store, err = openStore(c); err != nil {
		return nil, err
	}
	handler := replica.NewHandler(c.NodeID, n.store)

	local := coordinator.NewLocalTransport()
	local.Register(c.NodeID, handler)
	n.client = lwtgrpc.NewClient(c.NodeID, local, lwtgrpc.ClientConfigFrom(c))
	for _, peer := range c.Cluster.Peers {
		n.client.AddPeer(peer.NodeID, peer.Address)
	}
	n.members = coordinator.NodeProviderFromConfig(c)

	cas := coordinator.NewCASCoordinator(c.NodeID, hlc.NewClock(c.NodeID), n.members, n.client, coordinator.ConfigFrom(c.Paxos))
	if n.engine, err = engine.NewEngine(cas, c.Paxos.ConditionCache); err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	var lag telemetry.LagProvider
	if c.Publisher.Enabled {
		n.feed, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:     c.DataDir,
			NodeID:      c.NodeID,
			SinkConfigs: c.Publisher.Sinks,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create commit feed: %w", err)
		}
		if err = n.feed.Start(); err != nil {
			return nil, err
		}
		cas.SetCommitListener(n.feed.Record)
		lag = n.feed
	}

	n.server = lwtgrpc.NewServer(lwtgrpc.ServerConfig{
		NodeID:           c.NodeID,
		Address:          c.Cluster.GRPCBindAddress,
		Port:             c.Cluster.GRPCPort,
		ClusterSecret:    cfg.ClusterSecret(),
		CompressionLevel: c.GRPCClient.CompressionLevel,
	}, handler)
	adminHandlers := admin.NewAdminHandlers(c.NodeID, cas, n.members, cfg.ClusterSecret())
	n.server.SetHTTPHandler(admin.NewRouter(adminHandlers, telemetry.GetMetricsHandler()))
	if err = n.server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	n.collector = telemetry.NewMetricsCollector(lag, n.members, metricsInterval)
	n.collector.Start()

	log.Info().
		Uint64("node_id", c.NodeID).
		Stringer("addr", n.server.Addr()).
		Int("peers", len(c.Cluster.Peers)).
		Bool("commit_feed", n.feed != nil).
		Msg("Node is operational")
	return n, nil
}

func openStore(c *cfg.Configuration) (db.Store, error) {
	switch c.Storage.Engine {
	case cfg.StorageMemory:
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return db.NewMemoryStore(), nil
	default:
		store, err := db.NewPebbleStore(filepath.Join(c.DataDir, "replica"), db.PebbleStoreOptions{
			CacheSizeMB:        c.Storage.CacheSizeMB,
			MemTableSizeMB:     c.Storage.MemTableSizeMB,
			Sync:               c.Storage.Sync,
			BatchMaxSize:       c.Storage.BatchMaxSize,
			BatchMaxWait:       cfg.Timeout(c.Storage.BatchMaxWaitMS),
			WALMinSyncInterval: cfg.Timeout(c.Storage.WALSyncIntervalMS),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open replica store: %w", err)
		}
		return store, nil
	}
}

// Engine executes conditional statements with this node as coordinator
func (n *Node) Engine() *engine.Engine {
	return n.engine
}

// Members is the static membership, flipped by the admin endpoints
func (n *Node) Members() *coordinator.StaticNodeProvider {
	return n.members
}

// Addr is the address serving replica RPCs and HTTP
func (n *Node) Addr() net.Addr {
	return n.server.Addr()
}

// Stop shuts down in reverse start order. It is safe on a partially started
// node.
func (n *Node) Stop() {
	if n.collector != nil {
		n.collector.Stop()
	}
	if n.server != nil {
		n.server.Stop()
	}
	if n.client != nil {
		if err := n.client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close peer connections")
		}
	}
	if n.feed != nil {
		n.feed.Stop()
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close replica store")
		}
	}
}
