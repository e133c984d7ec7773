package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"relief.org/internal/obs"
)

// readinessChecker is satisfied by ReadyProbe.
type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer exposes readiness over the standard gRPC health protocol.
type HealthServer struct {
	*health.Server

	readiness readinessChecker
	timeout   time.Duration
}

// NewHealthServer creates the gRPC health service. Call Refresh to update it.
func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{
		Server:    health.NewServer(),
		readiness: r,
		timeout:   2 * time.Second,
	}
}

// Refresh evaluates readiness once and publishes the result for the
// overall server and the named service.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	ready := true
	if err := s.readiness.Check(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		ready = false
		obs.Logger().Warn("readiness_failed", "error", err.Error())
	}
	obs.SetReady(ready)
	s.SetServingStatus("", st)
	s.SetServingStatus(serviceName, st)
	return ready
}

// Poll refreshes readiness every interval until ctx ends.
func (s *HealthServer) Poll(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
