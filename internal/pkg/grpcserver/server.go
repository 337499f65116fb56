package grpcserver

import (
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fintrack/internal/log"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "fintrack"

// Server is a gRPC server that only exposes grpc.health.v1.Health.
type Server struct {
	addr   string
	health *health.Server
	logger *log.Logger
	Server *grpc.Server

	mu  sync.Mutex
	lis net.Listener
}

// New creates a server reporting NOT_SERVING until SetServing is called.
func New(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	srv := &Server{
		addr:   addr,
		health: hs,
		logger: logger.WithComponent(log.ComponentHealth),
		Server: s,
	}
	srv.SetNotServing()
	return srv
}

func (s *Server) SetServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) SetNotServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener. It returns nil after Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := s.Server.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop marks the service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.SetNotServing()
	s.health.Shutdown()
	s.Server.GracefulStop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
