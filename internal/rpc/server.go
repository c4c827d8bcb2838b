package rpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"

	"github.com/noahj-LANL/halo/pkg/log"
)

// Server wraps a grpc.Server bound to a single listener, the shape both
// cmd/halo-manager (Control service) and cmd/halo-agent (RemoteAgent
// service) start, following pkg/api/server.go's NewServer/Serve/Stop split.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	addr       string
}

// NewServer listens on addr and constructs a grpc.Server secured with creds.
// Callers register their service (RegisterAgentServer or
// RegisterControlServer) before calling Serve.
func NewServer(addr string, creds grpc.ServerOption) (*Server, *grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	gs := grpc.NewServer(creds)
	return &Server{grpcServer: gs, listener: lis, addr: addr}, gs, nil
}

// Serve blocks accepting connections until Stop is called.
func (s *Server) Serve() error {
	log.WithComponent("rpc").Info().Str("addr", s.addr).Msg("rpc server listening")
	if err := s.grpcServer.Serve(s.listener); err != nil {
		return fmt.Errorf("serve %s: %w", s.addr, err)
	}
	return nil
}

// Stop gracefully drains in-flight RPCs before returning, never severing a
// connection mid-operation.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
