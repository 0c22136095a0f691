package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported on the health endpoint.
// The empty name reports the server as a whole.
const HealthService = "docsweep.Index"

// Config holds the listener configuration of the daemon server.
type Config struct {
	SocketPath string
	DataDir    string
}

// Server exposes daemon liveness over gRPC on a Unix socket. Clients
// check it with the standard grpc.health.v1 protocol; the index itself is
// consumed in-process through Service.
type Server struct {
	cfg      Config
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewServer creates the server and binds its socket, replacing a stale one.
// It reports NOT_SERVING until SetServing(true).
func NewServer(cfg Config) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// A socket left behind by a crashed daemon blocks Listen.
	if err := os.RemoveAll(cfg.SocketPath); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}

	srv := &Server{
		cfg:      cfg,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		listener: listener,
	}
	healthpb.RegisterHealthServer(srv.grpc, srv.health)
	srv.SetServing(false)

	return srv, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// SetServing flips the reported health of the server and of HealthService.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// Serve accepts connections until Close. Blocks.
func (s *Server) Serve() error {
	return s.grpc.Serve(s.listener)
}

// Close tells watchers the server is going away, stops it and removes
// the socket.
func (s *Server) Close() error {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := os.RemoveAll(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}
