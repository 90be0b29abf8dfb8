package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/lwt/cfg"
	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/paxos"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ClientConfig controls connections to peer replicas
type ClientConfig struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	CompressionLevel int // 0 sends uncompressed
	ClusterSecret    string
}

// ClientConfigFrom reads the [grpc_client] and cluster secret settings
func ClientConfigFrom(c *cfg.Configuration) ClientConfig {
	return ClientConfig{
		KeepaliveTime:    time.Duration(c.GRPCClient.KeepaliveTimeSeconds) * time.Second,
		KeepaliveTimeout: time.Duration(c.GRPCClient.KeepaliveTimeoutSeconds) * time.Second,
		CompressionLevel: c.GRPCClient.CompressionLevel,
		ClusterSecret:    cfg.ClusterSecret(),
	}
}

// Client is the coordinator.Transport of a multi-process cluster. Messages to
// the local node skip the network and go through local; every other node is
// reached over one lazily dialed connection.
type Client struct {
	nodeID   uint64
	local    coordinator.Transport
	config   ClientConfig
	addrs    *xsync.MapOf[uint64, string]
	conns    *xsync.MapOf[uint64, *grpc.ClientConn]
	callOpts []grpc.CallOption
}

var _ coordinator.Transport = (*Client)(nil)

// NewClient creates a transport for nodeID
func NewClient(nodeID uint64, local coordinator.Transport, config ClientConfig) *Client {
	registerZstdCompressor(config.CompressionLevel)
	callOpts := []grpc.CallOption{grpc.CallContentSubtype(codecName)}
	if config.CompressionLevel > 0 {
		callOpts = append(callOpts, grpc.UseCompressor(zstdName))
	}
	return &Client{
		nodeID:   nodeID,
		local:    local,
		config:   config,
		addrs:    xsync.NewMapOf[uint64, string](),
		conns:    xsync.NewMapOf[uint64, *grpc.ClientConn](),
		callOpts: callOpts,
	}
}

// AddPeer records the address of a node. Changing the address of a known
// node drops its connection.
func (c *Client) AddPeer(nodeID uint64, address string) {
	if old, loaded := c.addrs.LoadAndStore(nodeID, address); loaded && old != address {
		c.disconnect(nodeID)
	}
}

func (c *Client) dialOptions() []grpc.DialOption {
	keepaliveTime := c.config.KeepaliveTime
	if keepaliveTime <= 0 {
		keepaliveTime = 10 * time.Second
	}
	keepaliveTimeout := c.config.KeepaliveTimeout
	if keepaliveTimeout <= 0 {
		keepaliveTimeout = 3 * time.Second
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(unaryClientAuth(c.config.ClusterSecret)),
	}
}

func (c *Client) conn(nodeID uint64) (*grpc.ClientConn, error) {
	if conn, ok := c.conns.Load(nodeID); ok {
		return conn, nil
	}
	addr, ok := c.addrs.Load(nodeID)
	if !ok {
		return nil, fmt.Errorf("no address for node %d: %w", nodeID, coordinator.ErrNodeUnavailable)
	}

	conn, err := grpc.NewClient(addr, c.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("dial node %d at %s: %w", nodeID, addr, err)
	}
	if existing, loaded := c.conns.LoadOrStore(nodeID, conn); loaded {
		_ = conn.Close()
		return existing, nil
	}
	log.Debug().Uint64("node_id", nodeID).Str("address", addr).Msg("Connected to replica")
	return conn, nil
}

func (c *Client) disconnect(nodeID uint64) {
	if conn, ok := c.conns.LoadAndDelete(nodeID); ok {
		_ = conn.Close()
	}
}

// Close drops every connection
func (c *Client) Close() error {
	c.conns.Range(func(nodeID uint64, _ *grpc.ClientConn) bool {
		c.disconnect(nodeID)
		return true
	})
	return nil
}

// call sends one message to a remote node and maps transport failures onto
// the coordinator's error vocabulary
func call[Resp any](ctx context.Context, c *Client, nodeID uint64, phase, method string, req any) (*Resp, error) {
	conn, err := c.conn(nodeID)
	if err != nil {
		return nil, err
	}
	resp, err := invoke[Resp](ctx, conn, method, req, c.callOpts...)
	if err == nil {
		return resp, nil
	}

	switch status.Code(err) {
	case codes.Unavailable:
		return nil, fmt.Errorf("%s to node %d: %w", phase, nodeID, errors.Join(coordinator.ErrNodeUnavailable, err))
	case codes.DeadlineExceeded:
		return nil, fmt.Errorf("%s to node %d: %w", phase, nodeID, context.DeadlineExceeded)
	case codes.Canceled:
		return nil, fmt.Errorf("%s to node %d: %w", phase, nodeID, context.Canceled)
	}
	return nil, fmt.Errorf("%s to node %d: %w", phase, nodeID, err)
}

func (c *Client) Prepare(ctx context.Context, nodeID uint64, req *paxos.PrepareRequest) (*paxos.PrepareResponse, error) {
	if nodeID == c.nodeID {
		return c.local.Prepare(ctx, nodeID, req)
	}
	return call[paxos.PrepareResponse](ctx, c, nodeID, coordinator.PhasePrepare, methodPrepare, req)
}

func (c *Client) Propose(ctx context.Context, nodeID uint64, req *paxos.ProposeRequest) (*paxos.ProposeResponse, error) {
	if nodeID == c.nodeID {
		return c.local.Propose(ctx, nodeID, req)
	}
	return call[paxos.ProposeResponse](ctx, c, nodeID, coordinator.PhasePropose, methodPropose, req)
}

func (c *Client) Commit(ctx context.Context, nodeID uint64, req *paxos.CommitRequest) (*paxos.CommitResponse, error) {
	if nodeID == c.nodeID {
		return c.local.Commit(ctx, nodeID, req)
	}
	return call[paxos.CommitResponse](ctx, c, nodeID, coordinator.PhaseCommit, methodCommit, req)
}

func (c *Client) Read(ctx context.Context, nodeID uint64, req *paxos.ReadRequest) (*paxos.ReadResponse, error) {
	if nodeID == c.nodeID {
		return c.local.Read(ctx, nodeID, req)
	}
	return call[paxos.ReadResponse](ctx, c, nodeID, coordinator.PhaseRead, methodRead, req)
}

func (c *Client) State(ctx context.Context, nodeID uint64, req *paxos.StateRequest) (*paxos.StateResponse, error) {
	if nodeID == c.nodeID {
		return c.local.State(ctx, nodeID, req)
	}
	return call[paxos.StateResponse](ctx, c, nodeID, "state", methodState, req)
}
