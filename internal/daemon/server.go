package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/cache"
)

// Server exposes the daemon's readiness over gRPC on a unix socket via
// the standard health service: NOT_SERVING until the cache finished
// open(), so supervisors and clients see the same not-ready signal the
// query API reports.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	sub        *bus.Subscription
}

// NewServer creates the health server bound to socketPath.
func NewServer(socketPath string, c *cache.Cache, logger *zap.Logger) (*Server, error) {
	// Clean a stale socket from a previous run; the data-dir lock
	// already guarantees we are the only live daemon.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	s := &Server{
		grpcServer: grpcSrv,
		health:     healthSrv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}

	// Flip to SERVING when the cache announces readiness.
	s.sub = c.Bus().Subscribe(bus.KindCacheReady, 1)
	go func() {
		for range s.sub.C() {
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		}
	}()
	if c.IsReady() {
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	return s, nil
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop shuts the server down gracefully and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("health server stopping")
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.sub.Cancel()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-time.After(5 * time.Second):
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}
