package grpc

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/maxpert/lwt/coordinator"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Server exposes the local replica to the coordinators of other nodes. HTTP
// requests on the same port go to the handler set with SetHTTPHandler.
type Server struct {
	nodeID   uint64
	address  string
	port     int
	secret   string
	acceptor coordinator.Acceptor

	server      *grpc.Server
	httpServer  *http.Server
	httpHandler http.Handler
	listener    net.Listener
	mux         cmux.CMux

	mu sync.Mutex
}

// ServerConfig holds configuration for the gRPC server
type ServerConfig struct {
	NodeID           uint64
	Address          string
	Port             int // 0 picks a free port
	ClusterSecret    string
	CompressionLevel int
}

// NewServer creates a server answering replica RPCs with acceptor
func NewServer(config ServerConfig, acceptor coordinator.Acceptor) *Server {
	registerZstdCompressor(config.CompressionLevel)
	return &Server{
		nodeID:   config.NodeID,
		address:  config.Address,
		port:     config.Port,
		secret:   config.ClusterSecret,
		acceptor: acceptor,
	}
}

// SetHTTPHandler installs the handler for admin and metrics requests. It
// must be called before Start.
func (s *Server) SetHTTPHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.httpHandler = h
}

// Start listens and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := net.JoinHostPort(s.address, fmt.Sprint(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.server = grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(unaryServerAuth(s.secret)),
	)
	s.server.RegisterService(&replicaServiceDesc, s.acceptor)

	s.mux = cmux.New(listener)
	httpListener := s.mux.Match(cmux.HTTP1Fast())
	grpcListener := s.mux.Match(cmux.Any())

	handler := s.httpHandler
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	s.httpServer = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	// Stop may run before these goroutines are scheduled
	srv, hs, mux := s.server, s.httpServer, s.mux
	go func() {
		if err := hs.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	go func() {
		if err := srv.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()
	go func() {
		if err := mux.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug().Err(err).Msg("cmux stopped")
		}
	}()

	log.Info().
		Str("address", listener.Addr().String()).
		Uint64("node_id", s.nodeID).
		Msg("Replica server listening")
	return nil
}

// Addr is the bound address; nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and drops open connections
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return
	}
	log.Info().Uint64("node_id", s.nodeID).Msg("Stopping replica server")
	s.server.Stop()
	_ = s.httpServer.Close()
	_ = s.listener.Close()
	s.server = nil
}
