package healthcheck

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported to gRPC health checkers.
const Service = "relay.Gateway"

// Server exposes the standard gRPC health protocol. The gateway is SERVING
// while its live registry holds at least one adapter.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func New() *Server {
	s := &Server{grpc: grpc.NewServer(), health: health.NewServer()}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Update sets the serving status from the number of registered adapters.
func (s *Server) Update(adapters int) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if adapters > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.set(status)
	slog.Debug("health status updated", "service", Service, "status", status.String(), "adapters", adapters)
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
